// export writes the full research document for one session: reconstructed
// history plus analysis, as indented JSON on stdout or to a file.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/danielpatrickdp/consciousness-ledger/internal/analysis"
	"github.com/danielpatrickdp/consciousness-ledger/internal/ledger"
	"github.com/danielpatrickdp/consciousness-ledger/internal/reconstruct"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to consciousness.db")
	sessionStr := flag.String("session", "", "session id to export")
	outPath := flag.String("out", "", "output file (default stdout)")
	replayed := flag.Bool("replay", false, "force the event-replay read path")
	flag.Parse()

	if *dbPath == "" || *sessionStr == "" {
		fmt.Fprintln(os.Stderr, "usage: export --db path/to/consciousness.db --session <uuid> [--out file] [--replay]")
		os.Exit(2)
	}
	os.Exit(run(*dbPath, *sessionStr, *outPath, *replayed))
}

func run(dbPath, sessionStr, outPath string, replayed bool) int {
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

	led, err := ledger.New(db, "export")
	if err != nil {
		fmt.Fprintf(os.Stderr, "open ledger: %v\n", err)
		return 2
	}

	rec := reconstruct.New(led, led, reconstruct.DefaultConfig())
	ctx := context.Background()

	var h reconstruct.History
	if replayed {
		h, err = rec.Replayed(ctx, id)
	} else {
		h, err = rec.Reconstruct(ctx, id)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconstruct: %v\n", err)
		return 1
	}

	doc, err := analysis.Export(h, time.Now().UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "export: %v\n", err)
		return 1
	}

	out := os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "create output: %v\n", err)
			return 1
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		fmt.Fprintf(os.Stderr, "write document: %v\n", err)
		return 1
	}
	return 0
}

// #endregion main
