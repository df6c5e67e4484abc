// verify reconstructs a session through both read paths and compares the
// results field by field. Exit 0 on convergence, 1 on divergence, 2 on
// operational error.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/consciousness-ledger/internal/ledger"
	"github.com/danielpatrickdp/consciousness-ledger/internal/reconstruct"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to consciousness.db")
	sessionStr := flag.String("session", "", "session id to verify")
	flag.Parse()

	if *dbPath == "" || *sessionStr == "" {
		fmt.Fprintln(os.Stderr, "usage: verify --db path/to/consciousness.db --session <uuid>")
		os.Exit(2)
	}
	os.Exit(run(*dbPath, *sessionStr))
}

func run(dbPath, sessionStr string) int {
	id, err := ledger.ParseSessionID(sessionStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse session id: %v\n", err)
		return 2
	}

	db, err := ledger.OpenDB(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		return 2
	}
	defer db.Close()

	led, err := ledger.New(db, "verify")
	if err != nil {
		fmt.Fprintf(os.Stderr, "open ledger: %v\n", err)
		return 2
	}

	rec := reconstruct.New(led, led, reconstruct.DefaultConfig())
	ctx := context.Background()

	mat, err := rec.Materialized(ctx, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "materialized path: %v\n", err)
		return 2
	}
	rep, err := rec.Replayed(ctx, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay path: %v\n", err)
		return 2
	}

	return printComparison(mat, rep)
}

// #endregion main

// #region comparison

// printComparison outputs a per-sequence comparison table and returns the
// exit code.
func printComparison(mat, rep reconstruct.History) int {
	fmt.Printf("%-20s| %-14s| %-14s| %s\n", "Sequence", "Materialized", "Replayed", "Match")
	fmt.Printf("%-20s+%-15s+%-15s+%s\n",
		"--------------------", "---------------", "---------------", "------")

	rows := []struct {
		name     string
		mat, rep int
	}{
		{"states", len(mat.States), len(rep.States)},
		{"meta-paradoxes", len(mat.MetaParadoxes), len(rep.MetaParadoxes)},
		{"zone-transitions", len(mat.Transitions), len(rep.Transitions)},
		{"emergency-resets", len(mat.Resets), len(rep.Resets)},
	}

	converged := reconstruct.Equal(mat, rep)
	for _, row := range rows {
		match := "yes"
		if row.mat != row.rep {
			match = "NO"
		}
		fmt.Printf("%-20s| %-14d| %-14d| %s\n", row.name, row.mat, row.rep, match)
	}

	if !converged {
		fmt.Println("\nDIVERGED: paths disagree on field contents")
		return 1
	}
	fmt.Printf("\nConverged: %d states, %d events\n",
		len(mat.States),
		len(mat.MetaParadoxes)+len(mat.Transitions)+len(mat.Resets))
	return 0
}

// #endregion comparison
