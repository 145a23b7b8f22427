package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"opwar.ai/internal/persistence/indexdb"
	persistlog "opwar.ai/internal/persistence/log"
	"opwar.ai/internal/persistence/snapshot"
	"opwar.ai/internal/sim/clock"
	"opwar.ai/internal/sim/game"
	"opwar.ai/internal/sim/scenario"
	"opwar.ai/internal/sim/tally"
	"opwar.ai/internal/sim/tuning"
	"opwar.ai/internal/transport/observer"
)

func main() {
	var (
		configDir    = flag.String("configs", "./configs", "config directory")
		scenarioPath = flag.String("scenario", "", "scenario yaml (default: <configs>/scenarios/meeting.yaml)")
		tuningPath   = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		disableDB    = flag.Bool("disable_db", false, "disable the sqlite index")

		snapPath   = flag.String("snapshot", "", "snapshot to resume from (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", false, "resume from the latest snapshot of the run if present (when -snapshot is empty)")

		until         = flag.Int64("until", 7*24*60, "simulated minutes to run to")
		stepMinutes   = flag.Int("step", 0, "minutes per Execute call (default: tuning step_minutes)")
		snapshotEvery = flag.Int("snapshot_every", 24*60, "simulated minutes between snapshots (0 disables)")
		runs          = flag.Int("runs", 1, "repeat the scenario with seeds seed..seed+runs-1 and tally the results")
		pace          = flag.Duration("pace", 0, "wall-clock pause between steps")

		observerAddr = flag.String("observer", "", "loopback listen address for the observer stream (empty disables)")
		linger       = flag.Bool("linger", false, "keep serving observers after the run until interrupted")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[wargame] ", log.LstdFlags|log.Lmicroseconds)

	sp := strings.TrimSpace(*scenarioPath)
	if sp == "" {
		sp = filepath.Join(*configDir, "scenarios", "meeting.yaml")
	}
	sc, err := scenario.Load(sp)
	if err != nil {
		logger.Fatalf("load scenario: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	step := *stepMinutes
	if step <= 0 {
		step = tune.StepMinutes
	}
	if *runs < 1 {
		*runs = 1
	}

	scenarioDir := filepath.Join(*dataDir, sc.ID)
	if err := os.MkdirAll(scenarioDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(scenarioDir, "index", "runs.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer func() {
			if err := idx.Close(); err != nil {
				logger.Printf("close index: %v", err)
			}
		}()
	}

	var obs *observer.Server
	if addr := strings.TrimSpace(*observerAddr); addr != "" {
		if err := observer.CheckLoopbackAddr(addr); err != nil {
			logger.Fatalf("observer: %v", err)
		}
		obs = observer.NewServer(logger)
		srv := serveObserver(addr, obs, logger)
		defer func() {
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel2()
			_ = srv.Shutdown(ctx2)
		}()
	}

	ctx, cancel := signalContext()
	defer cancel()

	tl := tally.New()
	r := runner{
		sc:            sc,
		tune:          tune,
		until:         clock.SimTime(*until),
		step:          clock.Duration(step),
		snapshotEvery: clock.Duration(*snapshotEvery),
		pace:          *pace,
		logger:        logger,
		idx:           idx,
		obs:           obs,
		tally:         tl,
	}
	for i := 0; i < *runs; i++ {
		if ctx.Err() != nil {
			break
		}
		seed := sc.Seed + int64(i)
		resume := ""
		if i == 0 {
			resume = strings.TrimSpace(*snapPath)
			if resume == "" && *loadLatest {
				resume = latestSnapshot(runDir(scenarioDir, seed))
			}
		}
		if err := r.run(ctx, runDir(scenarioDir, seed), seed, resume); err != nil {
			logger.Fatalf("run seed=%d: %v", seed, err)
		}
	}

	summary := map[string]any{"runs": tl.Runs()}
	units := map[string]tally.Totals{}
	for _, id := range tl.Units() {
		units[id] = tl.Totals(id)
	}
	summary["units"] = units
	b, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(b))

	if obs != nil && *linger {
		logger.Printf("run complete; serving observers until interrupted")
		<-ctx.Done()
	}
}

func runDir(scenarioDir string, seed int64) string {
	return filepath.Join(scenarioDir, fmt.Sprintf("seed-%d", seed))
}

type runner struct {
	sc            scenario.Scenario
	tune          tuning.Tuning
	until         clock.SimTime
	step          clock.Duration
	snapshotEvery clock.Duration
	pace          time.Duration

	logger *log.Logger
	idx    *indexdb.SQLiteIndex
	obs    *observer.Server
	tally  *tally.Tally
}

func (r *runner) run(ctx context.Context, dir string, seed int64, resume string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	journal := persistlog.NewJournalLogger(dir)
	defer journal.Close()
	events := persistlog.NewNotificationLogger(dir)
	defer events.Close()

	opts := game.Options{
		Logger:   log.New(r.logger.Writer(), fmt.Sprintf("[wargame seed=%d] ", seed), log.LstdFlags|log.Lmicroseconds),
		Tally:    []game.TallySink{r.tally},
		Commands: journal,
	}
	if r.idx != nil {
		opts.Tally = append(opts.Tally, r.idx)
	}

	r.tally.BeginRun(seed)
	if r.idx != nil {
		r.idx.BeginRun(fmt.Sprintf("%s/%d/%d", r.sc.ID, seed, time.Now().UnixNano()), r.sc.ID, seed, r.tune)
	}

	var g *game.Game
	if resume != "" {
		var err error
		g, err = game.LoadGame(resume, opts)
		if err != nil {
			return err
		}
		if g.Config().ID != r.sc.ID {
			return fmt.Errorf("snapshot scenario %q does not match %q", g.Config().ID, r.sc.ID)
		}
		r.logger.Printf("resumed from snapshot=%s time=%s", filepath.Base(resume), g.Time())
	} else {
		sc := r.sc
		sc.Seed = seed
		var err error
		g, err = sc.Build(r.tune, opts)
		if err != nil {
			return err
		}
		r.logger.Printf("scenario %s seed=%d start=%s detachments=%d", sc.ID, seed, g.Time(), len(g.Detachments()))
	}
	g.Subscribe(events.Observe)
	if r.obs != nil {
		r.obs.Attach(g)
	}

	nextSnap := clock.SimTime(0)
	if r.snapshotEvery > 0 {
		nextSnap = g.Time().Add(r.snapshotEvery)
	}
	for g.Time() < r.until {
		if ctx.Err() != nil {
			r.logger.Printf("interrupted at %s", g.Time())
			break
		}
		target := g.Time().Add(r.step)
		if target > r.until {
			target = r.until
		}
		if err := g.Apply(game.Command{Kind: game.CmdExecute, Until: target}); err != nil {
			r.snapshot(g, dir)
			return fmt.Errorf("execute to %s: %w", target, err)
		}
		if r.obs != nil {
			r.obs.Update(g)
		}
		if r.snapshotEvery > 0 && g.Time() >= nextSnap {
			r.snapshot(g, dir)
			nextSnap = g.Time().Add(r.snapshotEvery)
		}
		if r.pace > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(r.pace):
			}
		}
	}
	r.snapshot(g, dir)
	if err := events.Err(); err != nil {
		r.logger.Printf("notification log: %v", err)
	}
	r.logger.Printf("seed=%d finished at %s victory=%v digest=%s", seed, g.Time(), g.Victory(), g.Digest())
	return nil
}

func (r *runner) snapshot(g *game.Game, dir string) {
	snap := g.Export()
	path := filepath.Join(dir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Time))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		r.logger.Printf("snapshot write: %v", err)
		return
	}
	if r.idx != nil {
		r.idx.RecordSnapshot(path, snap)
	}
}

func serveObserver(addr string, obs *observer.Server, logger *log.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/observer/bootstrap", obs.BootstrapHandler())
	mux.HandleFunc("/observer/ws", obs.WSHandler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Printf("observer listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("observer: %v", err)
		}
	}()
	return srv
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func latestSnapshot(dir string) string {
	dir = filepath.Join(dir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTime int64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		t, err := strconv.ParseInt(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || t > bestTime {
			bestTime = t
			best = filepath.Join(dir, name)
		}
	}
	return best
}
