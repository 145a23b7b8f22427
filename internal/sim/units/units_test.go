package units

import (
	"errors"
	"testing"
)

func TestUnit_IsEmptyAndLosses(t *testing.T) {
	u := &Unit{ID: "U1", Personnel: 100, Ammo: 10, Combatant: true}
	if u.IsEmpty() || !u.IsCombatant() {
		t.Fatalf("fresh unit: empty=%v combatant=%v", u.IsEmpty(), u.IsCombatant())
	}
	u.ApplyLosses(150, 25)
	if u.Personnel != 0 || u.Ammo != 0 {
		t.Fatalf("losses did not clamp: %+v", u)
	}
	if !u.IsEmpty() || u.IsCombatant() {
		t.Fatalf("exhausted unit: empty=%v combatant=%v", u.IsEmpty(), u.IsCombatant())
	}
}

func TestUnit_Absorb(t *testing.T) {
	a := &Unit{ID: "A", Personnel: 50, Equipment: 2, Ammo: 5, Placed: true}
	b := &Unit{ID: "B", Personnel: 30, Equipment: 1, Ammo: 3, Placed: true}
	a.Absorb(b)
	if a.Personnel != 80 || a.Equipment != 3 || a.Ammo != 8 {
		t.Fatalf("absorbed totals: %+v", a)
	}
	if !b.IsEmpty() || b.Placed {
		t.Fatalf("absorbed unit not emptied: %+v", b)
	}
}

func TestParseModeAndRate(t *testing.T) {
	if m, err := ParseMode("attack"); err != nil || m != ModeAttack {
		t.Fatalf("ParseMode=%v,%v", m, err)
	}
	if _, err := ParseMode("dance"); err == nil {
		t.Fatalf("expected error")
	}
	if ModeUnplaced.Placeable() || !ModeDefend.Placeable() {
		t.Fatalf("placeable flags wrong")
	}
	if r, err := ParseRate(""); err != nil || r != RateNormal {
		t.Fatalf("ParseRate(\"\")=%v,%v", r, err)
	}
	if _, err := ParseRate("warp"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRoster(t *testing.T) {
	r := NewRoster()
	for _, id := range []string{"b", "a", "c"} {
		if err := r.Add(&Unit{ID: id}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := r.Add(&Unit{ID: "a"}); err == nil {
		t.Fatalf("duplicate add succeeded")
	}
	ids := r.IDs()
	if len(ids) != 3 || ids[0] != "b" || ids[2] != "c" {
		t.Fatalf("ids not in insertion order: %v", ids)
	}
	if _, err := r.Get("zz"); !errors.Is(err, ErrUnknownUnit) {
		t.Fatalf("get unknown: %v", err)
	}
	c := r.Clone()
	u, _ := c.Get("a")
	u.Personnel = 9
	orig, _ := r.Get("a")
	if orig.Personnel != 0 {
		t.Fatalf("clone shares units")
	}
}
