package orders

import (
	"fmt"

	"opwar.ai/internal/sim/clock"
	"opwar.ai/internal/sim/hexgrid"
	"opwar.ai/internal/sim/units"
)

type Kind string

const (
	KindMove     Kind = "MOVE"
	KindSetMode  Kind = "SET_MODE"
	KindJoin     Kind = "JOIN"
	KindConverge Kind = "CONVERGE"
)

type State string

const (
	StatePending   State = "PENDING"
	StateActive    State = "ACTIVE"
	StateCompleted State = "COMPLETED"
	StateCancelled State = "CANCELLED"
	StateAborted   State = "ABORTED"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateAborted
}

// Order is a standing order queued on a detachment.
type Order struct {
	ID   string
	Kind Kind

	// MOVE
	Dest       hexgrid.Coord
	ResultMode units.Mode
	// MOVE/JOIN/CONVERGE
	Rate units.Rate
	// SET_MODE
	Mode units.Mode
	// JOIN/CONVERGE
	Unit   string
	Target string

	State      State
	Cancelling bool
	Aborting   bool

	Event     clock.Handle // next check-point while ACTIVE
	StartedAt clock.SimTime
	PrevMode  units.Mode // mode held before activation; restored on abort
}

func NewMove(id string, dest hexgrid.Coord, rate units.Rate, result units.Mode) *Order {
	return &Order{ID: id, Kind: KindMove, Dest: dest, Rate: rate, ResultMode: result, State: StatePending}
}

func NewSetMode(id string, mode units.Mode) *Order {
	return &Order{ID: id, Kind: KindSetMode, Mode: mode, State: StatePending}
}

func NewJoin(id, target string, rate units.Rate) *Order {
	return &Order{ID: id, Kind: KindJoin, Target: target, Rate: rate, State: StatePending}
}

func NewConverge(id, unit, target string, rate units.Rate) *Order {
	return &Order{ID: id, Kind: KindConverge, Unit: unit, Target: target, Rate: rate, State: StatePending}
}

// Validate checks the order's parameters, not its lifecycle.
func (o *Order) Validate() error {
	if o == nil {
		return fmt.Errorf("nil order")
	}
	if o.ID == "" {
		return fmt.Errorf("order without id")
	}
	switch o.Kind {
	case KindMove:
		if o.ResultMode != "" && !o.ResultMode.Placeable() {
			return fmt.Errorf("order %s: bad result mode %q", o.ID, o.ResultMode)
		}
	case KindSetMode:
		if !o.Mode.Placeable() {
			return fmt.Errorf("order %s: bad mode %q", o.ID, o.Mode)
		}
	case KindJoin:
		if o.Target == "" {
			return fmt.Errorf("order %s: join without target", o.ID)
		}
	case KindConverge:
		if o.Target == "" || o.Unit == "" {
			return fmt.Errorf("order %s: converge needs unit and target", o.ID)
		}
		if o.Unit == o.Target {
			return fmt.Errorf("order %s: converge on itself", o.ID)
		}
	default:
		return fmt.Errorf("order %s: unknown kind %q", o.ID, o.Kind)
	}
	switch o.Kind {
	case KindMove, KindJoin, KindConverge:
		if _, err := units.ParseRate(string(o.Rate)); err != nil {
			return fmt.Errorf("order %s: %w", o.ID, err)
		}
	}
	return nil
}

// Moving reports whether the order changes the detachment's location.
func (o *Order) Moving() bool {
	return o.Kind == KindMove || o.Kind == KindJoin || o.Kind == KindConverge
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}
