package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	persistlog "opwar.ai/internal/persistence/log"
	"opwar.ai/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "events":
			eventsCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the scenarios under the data dir, or the runs of one.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	scenarioID := fs.String("scenario", "", "scenario id (optional)")
	_ = fs.Parse(args)

	base := *dataDir
	if *scenarioID != "" {
		base = filepath.Join(base, *scenarioID)
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "index" {
			continue
		}
		if *scenarioID == "" {
			fmt.Println(e.Name())
			continue
		}
		run := filepath.Join(base, e.Name())
		fmt.Printf("%s\tlatest_snapshot=%s\n", e.Name(), filepath.Base(latestSnapshot(run)))
	}
}

// snapshotCmd summarises a snapshot file, or the latest one of a run.
func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	run := fs.String("run", "", "run directory (uses its latest snapshot)")
	path := fs.String("path", "", "snapshot path")
	full := fs.Bool("full", false, "print the whole snapshot as JSON")
	_ = fs.Parse(args)

	p := strings.TrimSpace(*path)
	if p == "" && *run != "" {
		p = latestSnapshot(*run)
	}
	if p == "" {
		fmt.Fprintln(os.Stderr, "missing -path or -run (or the run has no snapshots)")
		os.Exit(2)
	}
	if !*full {
		h, err := snapshot.ReadHeader(p)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read header:", err)
			os.Exit(1)
		}
		if h.Version != snapshot.Version {
			fmt.Printf("snapshot v%d (this build reads v%d)\n", h.Version, snapshot.Version)
			os.Exit(1)
		}
	}
	snap, err := snapshot.ReadSnapshot(p)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	if *full {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
		return
	}
	fmt.Printf("snapshot v%d scenario=%s time=%d seed=%d units=%d detachments=%d combats=%d events=%d victory=%v\n",
		snap.Header.Version, snap.Header.ScenarioID, snap.Header.Time, snap.Seed,
		len(snap.Units), len(snap.Detachments), len(snap.Combats), len(snap.Clock.Events), snap.Victory)
}

// eventsCmd dumps the notification log of a run as JSON lines.
func eventsCmd(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	run := fs.String("run", "", "run directory")
	kind := fs.String("kind", "", "only this notification kind (optional)")
	_ = fs.Parse(args)

	if *run == "" {
		fmt.Fprintln(os.Stderr, "missing -run")
		os.Exit(2)
	}
	want := strings.ToUpper(strings.TrimSpace(*kind))
	err := persistlog.ReadJSONL(filepath.Join(*run, "events"), "events", func(line []byte) error {
		if want != "" {
			var n struct {
				Kind string `json:"kind"`
			}
			if err := json.Unmarshal(line, &n); err != nil {
				return err
			}
			if n.Kind != want {
				return nil
			}
		}
		_, err := os.Stdout.Write(line)
		return err
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "read events:", err)
		os.Exit(1)
	}
}

func latestSnapshot(runDir string) string {
	dir := filepath.Join(runDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	type cand struct {
		t    int64
		name string
	}
	var cs []cand
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		t, err := strconv.ParseInt(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		cs = append(cs, cand{t: t, name: name})
	}
	if len(cs) == 0 {
		return ""
	}
	sort.Slice(cs, func(i, j int) bool { return cs[i].t > cs[j].t })
	return filepath.Join(dir, cs[0].name)
}
