package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"opwar.ai/internal/observerproto"
	"opwar.ai/internal/sim/clock"
)

// stateCmd fetches the observer bootstrap view of a running wargame and
// prints the situation: clock, victory points, detachments and combats.
func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8090", "observer base url")
	asJSON := fs.Bool("json", false, "print the bootstrap response as indented json")
	_ = fs.Parse(args)

	st, err := fetchState(&http.Client{Timeout: 5 * time.Second}, *baseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "state:", err)
		os.Exit(1)
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(st)
		return
	}
	printState(os.Stdout, st)
}

func fetchState(cl *http.Client, baseURL string) (observerproto.BootstrapResponse, error) {
	var st observerproto.BootstrapResponse
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/observer/bootstrap"
	resp, err := cl.Get(u)
	if err != nil {
		return st, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return st, fmt.Errorf("%s: %s %s", u, resp.Status, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("decode bootstrap: %w", err)
	}
	if st.ProtocolVersion != observerproto.Version {
		return st, fmt.Errorf("observer protocol %q, want %q", st.ProtocolVersion, observerproto.Version)
	}
	return st, nil
}

func printState(w io.Writer, st observerproto.BootstrapResponse) {
	fmt.Fprintf(w, "scenario %s seed %d at %s, %d events pending\n",
		st.ScenarioID, st.Seed, clock.SimTime(st.Time), st.Pending)
	if ev := st.ActiveEvent; ev != nil {
		fmt.Fprintf(w, "dispatching %s #%d for %s\n", ev.Kind, ev.Seq, ev.Target)
	}
	if len(st.Victory) > 0 {
		sides := make([]string, 0, len(st.Victory))
		for s := range st.Victory {
			sides = append(sides, s)
		}
		sort.Strings(sides)
		parts := make([]string, 0, len(sides))
		for _, s := range sides {
			parts = append(parts, fmt.Sprintf("%s=%d", s, st.Victory[s]))
		}
		fmt.Fprintf(w, "victory %s\n", strings.Join(parts, " "))
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nDETACHMENT\tUNIT\tSIDE\tHEX\tMODE\tFATIGUE\tORDER\tQUEUED\tCOMBAT")
	for _, d := range st.Detachments {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d,%d\t%s\t%d\t%s\t%d\t%s\n",
			d.ID, d.UnitID, d.Side, d.Hex[0], d.Hex[1], d.Mode, d.Fatigue, dash(d.Order), d.Queued, dash(d.Combat))
	}
	if len(st.Combats) > 0 {
		fmt.Fprintln(tw, "\nCOMBAT\tHEX\tSTATE\tCHECKS\tATTACKERS\tDEFENDERS")
		for _, c := range st.Combats {
			fmt.Fprintf(tw, "%s\t%d,%d\t%s\t%d\t%s\t%s\n",
				c.ID, c.Hex[0], c.Hex[1], c.State, c.Checks, dash(strings.Join(c.Attackers, ",")), dash(strings.Join(c.Defenders, ",")))
		}
	}
	_ = tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
