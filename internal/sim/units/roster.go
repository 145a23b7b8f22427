package units

import (
	"errors"
	"fmt"
)

var ErrUnknownUnit = errors.New("unknown unit")

// Roster is the set of units in a scenario, kept in insertion order so that
// iteration is deterministic.
type Roster struct {
	order []string
	byID  map[string]*Unit
}

func NewRoster() *Roster {
	return &Roster{byID: map[string]*Unit{}}
}

func (r *Roster) Add(u *Unit) error {
	if u == nil || u.ID == "" {
		return fmt.Errorf("roster: unit without id")
	}
	if _, ok := r.byID[u.ID]; ok {
		return fmt.Errorf("roster: duplicate unit %s", u.ID)
	}
	r.byID[u.ID] = u
	r.order = append(r.order, u.ID)
	return nil
}

func (r *Roster) Get(id string) (*Unit, error) {
	u, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUnit, id)
	}
	return u, nil
}

func (r *Roster) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Roster) Len() int { return len(r.order) }

// Units returns the units in insertion order.
func (r *Roster) Units() []*Unit {
	out := make([]*Unit, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Clone deep-copies the roster.
func (r *Roster) Clone() *Roster {
	c := NewRoster()
	for _, u := range r.Units() {
		_ = c.Add(u.Clone())
	}
	return c
}
