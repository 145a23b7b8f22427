package hexgrid

import (
	"fmt"
	"strconv"
	"strings"
)

// Coord is an axial hex coordinate.
type Coord struct {
	Q int `json:"q" yaml:"q"`
	R int `json:"r" yaml:"r"`
}

func (c Coord) S() int { return -c.Q - c.R }

// Key is the stable string form used for map keys and snapshots.
func (c Coord) Key() string { return strconv.Itoa(c.Q) + "," + strconv.Itoa(c.R) }

func (c Coord) String() string { return "(" + c.Key() + ")" }

func ParseKey(s string) (Coord, error) {
	q, r, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return Coord{}, fmt.Errorf("bad hex key %q", s)
	}
	qi, err := strconv.Atoi(strings.TrimSpace(q))
	if err != nil {
		return Coord{}, fmt.Errorf("bad hex key %q: %w", s, err)
	}
	ri, err := strconv.Atoi(strings.TrimSpace(r))
	if err != nil {
		return Coord{}, fmt.Errorf("bad hex key %q: %w", s, err)
	}
	return Coord{Q: qi, R: ri}, nil
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func Distance(a, b Coord) int {
	dq := abs(a.Q - b.Q)
	dr := abs(a.R - b.R)
	ds := abs(a.S() - b.S())
	if dq >= dr && dq >= ds {
		return dq
	}
	if dr >= ds {
		return dr
	}
	return ds
}

var neighbors = [6]Coord{{1, 0}, {1, -1}, {0, -1}, {-1, 0}, {-1, 1}, {0, 1}}

// Neighbors returns the six adjacent hexes in a fixed order.
func Neighbors(c Coord) [6]Coord {
	var out [6]Coord
	for i, d := range neighbors {
		out[i] = Coord{Q: c.Q + d.Q, R: c.R + d.R}
	}
	return out
}

// StepToward returns the adjacent hex that brings from closest to to.
// Ties resolve by neighbor order so the result is deterministic.
// If from == to, from is returned.
func StepToward(from, to Coord) Coord {
	if from == to {
		return from
	}
	best := from
	bestD := Distance(from, to)
	for _, n := range Neighbors(from) {
		if d := Distance(n, to); d < bestD {
			best, bestD = n, d
		}
	}
	return best
}

// EdgeType is the kind of hex side a detachment engages across.
type EdgeType string

const (
	EdgePlain  EdgeType = "PLAIN"
	EdgeRiver  EdgeType = "RIVER"
	EdgeCoast  EdgeType = "COAST"
	EdgeBorder EdgeType = "BORDER"
)

func (e EdgeType) Valid() bool {
	switch e {
	case EdgePlain, EdgeRiver, EdgeCoast, EdgeBorder:
		return true
	}
	return false
}

func ParseEdge(s string) (EdgeType, error) {
	e := EdgeType(strings.ToUpper(strings.TrimSpace(s)))
	if e == "" {
		return EdgePlain, nil
	}
	if !e.Valid() {
		return "", fmt.Errorf("unknown edge type %q", s)
	}
	return e, nil
}
