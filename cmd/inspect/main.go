// inspect dumps ledger contents for a quick look: session list by default,
// full per-session detail with --session.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/consciousness-ledger/internal/ledger"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to consciousness.db")
	sessionStr := flag.String("session", "", "show one session in detail")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/consciousness.db [--session id] [--json]")
		os.Exit(2)
	}

	db, err := ledger.OpenDB(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	led, err := ledger.New(db, "inspect")
	if err != nil {
		fmt.Fprintf(os.Stderr, "open ledger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if *sessionStr != "" {
		err = runDetailMode(ctx, led, *sessionStr, *jsonOut)
	} else {
		err = runListMode(ctx, led, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

func runListMode(ctx context.Context, led *ledger.Ledger, jsonOut bool) error {
	infos, err := led.Sessions(ctx)
	if err != nil {
		return err
	}
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}

	fmt.Printf("%-38s| %-7s| %-26s| %s\n", "Session", "Active", "Started", "Snapshots")
	for _, info := range infos {
		active := "no"
		if info.Active {
			active = "yes"
		}
		fmt.Printf("%-38s| %-7s| %-26s| %d\n",
			info.SessionID, active, info.StartedAt.Format("2006-01-02 15:04:05"), info.SnapshotCount)
	}

	metrics, err := led.ResearchMetrics(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\ntotals: %d states, %d meta-paradoxes, %d zone transitions, %d emergency resets\n",
		metrics.TotalStates, metrics.TotalMetaParadoxes,
		metrics.TotalZoneTransitions, metrics.TotalEmergencyResets)
	return nil
}

// #endregion list-mode

// #region detail-mode

type sessionDetail struct {
	Snapshots     []ledger.Snapshot         `json:"snapshots"`
	MetaParadoxes []ledger.MetaParadoxEvent `json:"metaParadoxes"`
	Transitions   []ledger.ZoneTransition   `json:"zoneTransitions"`
	Resets        []ledger.EmergencyReset   `json:"emergencyResets"`
}

func runDetailMode(ctx context.Context, led *ledger.Ledger, sessionStr string, jsonOut bool) error {
	id, err := ledger.ParseSessionID(sessionStr)
	if err != nil {
		return fmt.Errorf("parse session id: %w", err)
	}

	var d sessionDetail
	if d.Snapshots, err = led.History(ctx, id); err != nil {
		return err
	}
	if d.MetaParadoxes, err = led.MetaParadoxHistory(ctx, id); err != nil {
		return err
	}
	if d.Transitions, err = led.ZoneTransitions(ctx, id); err != nil {
		return err
	}
	if d.Resets, err = led.EmergencyResets(ctx, id); err != nil {
		return err
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}

	fmt.Printf("%-26s| %-10s| %-10s| %-7s| %s\n", "Timestamp", "Confusion", "Coherence", "Zone", "Paradoxes")
	for _, s := range d.Snapshots {
		fmt.Printf("%-26s| %-10d| %-10d| %-7s| %d\n",
			s.Timestamp.Format("2006-01-02 15:04:05"), s.Confusion, s.Coherence, s.Zone, s.ParadoxCount)
	}
	fmt.Printf("\n%d snapshots, %d meta-paradoxes, %d transitions, %d resets\n",
		len(d.Snapshots), len(d.MetaParadoxes), len(d.Transitions), len(d.Resets))
	return nil
}

// #endregion detail-mode
