package hexgrid

import "testing"

func TestDistance(t *testing.T) {
	cases := []struct {
		a, b Coord
		want int
	}{
		{Coord{0, 0}, Coord{0, 0}, 0},
		{Coord{0, 0}, Coord{1, 0}, 1},
		{Coord{0, 0}, Coord{2, -1}, 2},
		{Coord{-2, 3}, Coord{2, -1}, 4},
	}
	for _, tc := range cases {
		if got := Distance(tc.a, tc.b); got != tc.want {
			t.Fatalf("Distance(%v,%v)=%d want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestStepToward_ReachesTarget(t *testing.T) {
	from, to := Coord{-3, 1}, Coord{4, -2}
	cur := from
	steps := 0
	for cur != to {
		next := StepToward(cur, to)
		if Distance(cur, next) != 1 {
			t.Fatalf("step %v->%v is not adjacent", cur, next)
		}
		cur = next
		steps++
		if steps > 50 {
			t.Fatalf("did not converge")
		}
	}
	if steps != Distance(from, to) {
		t.Fatalf("took %d steps, distance %d", steps, Distance(from, to))
	}
}

func TestParseKeyRoundTrip(t *testing.T) {
	c := Coord{Q: -7, R: 12}
	got, err := ParseKey(c.Key())
	if err != nil || got != c {
		t.Fatalf("ParseKey(%q)=%v,%v", c.Key(), got, err)
	}
	if _, err := ParseKey("nope"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseEdge(t *testing.T) {
	if e, err := ParseEdge("river"); err != nil || e != EdgeRiver {
		t.Fatalf("ParseEdge(river)=%v,%v", e, err)
	}
	if e, _ := ParseEdge(""); e != EdgePlain {
		t.Fatalf("empty edge should default to PLAIN, got %v", e)
	}
	if _, err := ParseEdge("lava"); err == nil {
		t.Fatalf("expected error")
	}
}
