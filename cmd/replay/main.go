package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	persistlog "opwar.ai/internal/persistence/log"
	"opwar.ai/internal/persistence/snapshot"
	"opwar.ai/internal/sim/game"
	"opwar.ai/internal/sim/scenario"
	"opwar.ai/internal/sim/tuning"
)

func main() {
	var (
		runPath      = flag.String("run", "", "run directory containing journal/commands-*.jsonl.zst")
		scenarioPath = flag.String("scenario", "", "scenario yaml the run started from")
		tuningPath   = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		seed         = flag.Int64("seed", 0, "seed of the run (default: scenario seed)")
		snapPath     = flag.String("snapshot", "", "start from this snapshot instead of the scenario (optional)")
		toSeq        = flag.Uint64("to_seq", 0, "stop after this journal entry (inclusive, optional)")
	)
	flag.Parse()

	if *runPath == "" {
		fmt.Fprintln(os.Stderr, "missing -run")
		os.Exit(2)
	}
	if *scenarioPath == "" && *snapPath == "" {
		fmt.Fprintln(os.Stderr, "need -scenario or -snapshot")
		os.Exit(2)
	}

	var (
		g   *game.Game
		err error
	)
	if *snapPath != "" {
		snap, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot v%d scenario=%s time=%d seed=%d units=%d detachments=%d combats=%d events=%d\n",
			snap.Header.Version, snap.Header.ScenarioID, snap.Header.Time, snap.Seed,
			len(snap.Units), len(snap.Detachments), len(snap.Combats), len(snap.Clock.Events))
		g, err = game.Import(snap, game.Options{})
		if err != nil {
			fmt.Fprintln(os.Stderr, "import snapshot:", err)
			os.Exit(1)
		}
	} else {
		sc, err := scenario.Load(*scenarioPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load scenario:", err)
			os.Exit(1)
		}
		tune, err := tuning.Load(*tuningPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		if *seed != 0 {
			sc.Seed = *seed
		}
		g, err = sc.NewGame(tune, game.Options{})
		if err != nil {
			fmt.Fprintln(os.Stderr, "new game:", err)
			os.Exit(1)
		}
	}

	entries, err := persistlog.ReadJournal(*runPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read journal:", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "no journal entries found in", filepath.Join(*runPath, "journal"))
		os.Exit(1)
	}

	checked, err := replay(g, entries, *toSeq)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d commands time=%s digest=%s\n", checked, g.Time(), g.Digest())
}

// replay re-applies the journal to g and checks every digest. Entries the
// game has already applied (a snapshot start) are skipped.
func replay(g *game.Game, entries []game.CommandLogEntry, toSeq uint64) (int, error) {
	done := g.Export().Counters.Command
	checked := 0
	for _, e := range entries {
		if e.Seq <= done {
			continue
		}
		if toSeq != 0 && e.Seq > toSeq {
			break
		}
		if e.Seq != done+1 {
			return checked, fmt.Errorf("journal gap: want seq %d got %d", done+1, e.Seq)
		}
		if err := g.Apply(e.Command); err != nil && e.Command.Kind != game.CmdExecute {
			return checked, fmt.Errorf("seq %d (%s): %w", e.Seq, e.Command.Kind, err)
		}
		done = e.Seq
		checked++
		if got := g.Digest(); got != e.Digest {
			return checked, fmt.Errorf("digest mismatch at seq %d (%s, time %s): got=%s want=%s", e.Seq, e.Command.Kind, g.Time(), got, e.Digest)
		}
	}
	return checked, nil
}
