package game

import (
	"fmt"

	"opwar.ai/internal/sim/clock"
	"opwar.ai/internal/sim/hexgrid"
	"opwar.ai/internal/sim/orders"
	"opwar.ai/internal/sim/units"
)

type CommandKind string

const (
	CmdPlace      CommandKind = "PLACE"
	CmdRemove     CommandKind = "REMOVE"
	CmdPost       CommandKind = "POST"
	CmdUnpost     CommandKind = "UNPOST"
	CmdCancel     CommandKind = "CANCEL"
	CmdUndoCancel CommandKind = "UNDO_CANCEL"
	CmdInvolve    CommandKind = "INVOLVE"
	CmdEngage     CommandKind = "ENGAGE"
	CmdExecute    CommandKind = "EXECUTE"
)

// Command is an externally issued intent. Applying the same command
// sequence to the same starting state always yields the same game.
type Command struct {
	Kind CommandKind `json:"kind"`

	Unit       string `json:"unit,omitempty"`
	Detachment string `json:"detachment,omitempty"`

	Hex     *hexgrid.Coord `json:"hex,omitempty"`
	Mode    units.Mode     `json:"mode,omitempty"`
	Visible bool           `json:"visible,omitempty"`

	Order   *OrderSpec `json:"order,omitempty"`
	OrderID string     `json:"order_id,omitempty"`
	Abort   bool       `json:"abort,omitempty"`

	Preparation int              `json:"preparation,omitempty"`
	Edge        hexgrid.EdgeType `json:"edge,omitempty"`
	Combat      string           `json:"combat,omitempty"`

	Until clock.SimTime `json:"until,omitempty"`
}

// OrderSpec is the serializable form of an order to post.
type OrderSpec struct {
	ID         string         `json:"id,omitempty" yaml:"id"`
	Kind       orders.Kind    `json:"kind" yaml:"kind"`
	Dest       *hexgrid.Coord `json:"dest,omitempty" yaml:"dest"`
	ResultMode units.Mode     `json:"result_mode,omitempty" yaml:"result_mode"`
	Rate       units.Rate     `json:"rate,omitempty" yaml:"rate"`
	Mode       units.Mode     `json:"mode,omitempty" yaml:"mode"`
	Target     string         `json:"target,omitempty" yaml:"target"`
}

// Build turns the spec into a PENDING order. unitID is the unit the order
// will be posted for; CONVERGE needs it.
func (s OrderSpec) Build(unitID string) (*orders.Order, error) {
	rate := s.Rate
	if rate == "" {
		rate = units.RateNormal
	}
	var o *orders.Order
	switch s.Kind {
	case orders.KindMove:
		if s.Dest == nil {
			return nil, fmt.Errorf("%w: move without dest", ErrInvalidCommand)
		}
		o = orders.NewMove(s.ID, *s.Dest, rate, s.ResultMode)
	case orders.KindSetMode:
		o = orders.NewSetMode(s.ID, s.Mode)
	case orders.KindJoin:
		o = orders.NewJoin(s.ID, s.Target, rate)
	case orders.KindConverge:
		o = orders.NewConverge(s.ID, unitID, s.Target, rate)
	default:
		return nil, fmt.Errorf("%w: order kind %q", ErrInvalidCommand, s.Kind)
	}
	return o, nil
}

// CommandLogEntry is one journaled command with the digest of the state it
// produced.
type CommandLogEntry struct {
	Seq     uint64        `json:"seq"`
	Time    clock.SimTime `json:"time"`
	Command Command       `json:"command"`
	Digest  string        `json:"digest"`
}

// CommandSink journals applied commands.
type CommandSink interface {
	WriteCommand(e CommandLogEntry) error
}

// Apply executes cmd. Only commands that succeed are journaled.
//
// EXECUTE is journaled even when an event body halts it, since the clock
// has already moved and a replay must reproduce the same failure.
func (g *Game) Apply(cmd Command) error {
	err := g.apply(&cmd)
	if err != nil && cmd.Kind != CmdExecute {
		return err
	}
	g.nextCommand++
	if g.commands != nil {
		e := CommandLogEntry{Seq: g.nextCommand, Time: g.clock.Now(), Command: cmd, Digest: g.Digest()}
		if werr := g.commands.WriteCommand(e); werr != nil {
			g.logf("journal command %d: %v", e.Seq, werr)
		}
	}
	return err
}

func (g *Game) apply(cmd *Command) error {
	switch cmd.Kind {
	case CmdPlace:
		if cmd.Hex == nil {
			return fmt.Errorf("%w: place without hex", ErrInvalidCommand)
		}
		mode := cmd.Mode
		if mode == "" {
			mode = units.ModeDefend
		}
		d, err := g.PlaceUnit(cmd.Unit, *cmd.Hex, mode, cmd.Visible)
		if err != nil {
			return err
		}
		cmd.Detachment = d.ID
		return nil
	case CmdRemove:
		return g.RemoveUnit(cmd.Unit)
	case CmdExecute:
		return g.Execute(cmd.Until)
	case CmdEngage:
		c, err := g.Combat(cmd.Combat)
		if err != nil {
			return err
		}
		return c.ScheduleNextEvent()
	}

	switch cmd.Kind {
	case CmdPost, CmdUnpost, CmdCancel, CmdUndoCancel, CmdInvolve:
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidCommand, cmd.Kind)
	}
	d, err := g.commandDetachment(cmd)
	if err != nil {
		return err
	}
	switch cmd.Kind {
	case CmdPost:
		if cmd.Order == nil {
			return fmt.Errorf("%w: post without order", ErrInvalidCommand)
		}
		o, err := cmd.Order.Build(d.UnitID)
		if err != nil {
			return err
		}
		if err := g.PostOrder(d.ID, o); err != nil {
			return err
		}
		spec := *cmd.Order
		spec.ID = o.ID
		cmd.Order = &spec
		return nil
	case CmdUnpost:
		return g.UnpostOrder(d.ID, cmd.OrderID)
	case CmdCancel:
		return g.RequestCancel(d.ID, cmd.OrderID, cmd.Abort)
	case CmdUndoCancel:
		return g.UndoCancel(d.ID, cmd.OrderID)
	case CmdInvolve:
		hex := d.Hex
		if cmd.Hex != nil {
			hex = *cmd.Hex
		}
		if _, err := g.Involve(d.ID, hex, cmd.Preparation, cmd.Edge); err != nil {
			return err
		}
		cmd.Combat = d.combatID
		return nil
	}
	return fmt.Errorf("%w: kind %q", ErrInvalidCommand, cmd.Kind)
}

func (g *Game) commandDetachment(cmd *Command) (*Detachment, error) {
	if cmd.Detachment != "" {
		return g.Detachment(cmd.Detachment)
	}
	if cmd.Unit != "" {
		d, err := g.DetachmentByUnit(cmd.Unit)
		if err != nil {
			return nil, err
		}
		cmd.Detachment = d.ID
		return d, nil
	}
	return nil, fmt.Errorf("%w: %s names no detachment", ErrInvalidCommand, cmd.Kind)
}
