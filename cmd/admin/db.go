package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"opwar.ai/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	scenarioID := fs.String("scenario", "", "scenario id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	runID := fs.String("run", "", "run id filter (combats, units)")
	limit := fs.Int("limit", 20, "result limit (0 = all)")
	_ = fs.Parse(args)

	q := "runs"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*scenarioID) == "" {
			fmt.Fprintln(os.Stderr, "missing -scenario or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, *scenarioID, "index", "runs.sqlite")
	}

	rd, err := indexdb.OpenReader(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer rd.Close()
	ctx := context.Background()

	var rows any
	switch q {
	case "runs":
		r, err := rd.Runs(ctx)
		exitOn(err)
		rows = head(r, *limit)
	case "combats":
		r, err := rd.Combats(ctx, *runID)
		exitOn(err)
		rows = head(r, *limit)
	case "units":
		r, err := rd.UnitTotals(ctx, *runID)
		exitOn(err)
		rows = head(r, *limit)
	case "snapshots":
		r, err := rd.Snapshots(ctx)
		exitOn(err)
		rows = head(r, *limit)
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(runs|combats|units|snapshots)")
		os.Exit(2)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(rows)
}

func head[T any](xs []T, n int) []T {
	if n > 0 && len(xs) > n {
		return xs[:n]
	}
	return xs
}

func exitOn(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
}
