package game

import (
	"fmt"

	"opwar.ai/internal/sim/clock"
	"opwar.ai/internal/sim/hexgrid"
	"opwar.ai/internal/sim/orders"
	"opwar.ai/internal/sim/units"
)

type cancelEntry struct {
	detachment string
	rec        orders.CancelRecord
}

// PostOrder queues o on the detachment. An order posted to an idle
// detachment becomes ACTIVE immediately and its first check-point is
// scheduled. An empty o.ID is filled in. Every posted order consumes one
// number from the id sequence, whether or not it came with an id.
func (g *Game) PostOrder(detID string, o *orders.Order) error {
	d, err := g.Detachment(detID)
	if err != nil {
		return err
	}
	if o == nil {
		return fmt.Errorf("%w: nil order", orders.ErrInvalidTransition)
	}
	switch o.Kind {
	case orders.KindConverge:
		if o.Unit == "" {
			o.Unit = d.UnitID
		}
		if o.Unit != d.UnitID {
			return fmt.Errorf("%w: converge for %s posted on %s", orders.ErrInvalidTransition, o.Unit, d.UnitID)
		}
	case orders.KindJoin:
		if o.Target == d.UnitID {
			return fmt.Errorf("%w: %s cannot join itself", orders.ErrInvalidTransition, d.UnitID)
		}
	}
	assigned := false
	if o.ID == "" {
		o.ID = g.nextOrderID()
		assigned = true
	}
	d.reconcile(g.clock.Now())
	activated, err := d.Orders.Post(o)
	if err != nil {
		if assigned {
			o.ID = ""
		}
		return err
	}
	g.nextOrder++
	g.logf("%s posted %s %s", d.ID, o.Kind, o.ID)
	if activated {
		return g.activateOrder(d, o)
	}
	return nil
}

// UnpostOrder withdraws a PENDING order. It is the inverse of PostOrder for
// an order that has not started.
func (g *Game) UnpostOrder(detID, orderID string) error {
	d, err := g.Detachment(detID)
	if err != nil {
		return err
	}
	rec, err := d.Orders.Unpost(orderID)
	if err != nil {
		return err
	}
	g.cancels[orderID] = append(g.cancels[orderID], cancelEntry{detachment: d.ID, rec: rec})
	return nil
}

// RequestCancel records the intent to stop an order. An ACTIVE order keeps
// its scheduled check-point and stops there; abort selects the immediate
// variant.
func (g *Game) RequestCancel(detID, orderID string, abort bool) error {
	d, err := g.Detachment(detID)
	if err != nil {
		return err
	}
	rec, err := d.Orders.RequestCancel(orderID, abort)
	if err != nil {
		return err
	}
	g.cancels[orderID] = append(g.cancels[orderID], cancelEntry{detachment: d.ID, rec: rec})
	return nil
}

// UndoCancel reverts the latest RequestCancel or UnpostOrder on orderID.
func (g *Game) UndoCancel(detID, orderID string) error {
	stack := g.cancels[orderID]
	if len(stack) == 0 {
		return fmt.Errorf("%w: nothing to undo for %s", orders.ErrStaleUndo, orderID)
	}
	top := stack[len(stack)-1]
	if top.detachment != detID {
		return fmt.Errorf("%w: %s belongs to %s", orders.ErrStaleUndo, orderID, top.detachment)
	}
	d, err := g.Detachment(detID)
	if err != nil {
		return err
	}
	activated, err := d.Orders.Undo(top.rec)
	if err != nil {
		delete(g.cancels, orderID)
		return err
	}
	if len(stack) == 1 {
		delete(g.cancels, orderID)
	} else {
		g.cancels[orderID] = stack[:len(stack)-1]
	}
	if activated {
		d.reconcile(g.clock.Now())
		o, _ := d.Orders.Find(orderID)
		return g.activateOrder(d, o)
	}
	return nil
}

func (g *Game) activateOrder(d *Detachment, o *orders.Order) error {
	d.reconcile(g.clock.Now())
	o.StartedAt = g.clock.Now()
	o.PrevMode = d.Mode
	if o.Moving() && d.Mode != units.ModeMove {
		d.Mode = units.ModeMove
		g.notifyChanged(d)
	}
	return g.scheduleOrderStep(d, o)
}

func (g *Game) scheduleOrderStep(d *Detachment, o *orders.Order) error {
	delay := g.stepDelay(d, o)
	h, err := g.clock.Schedule(g.clock.Now().Add(delay), d.ref(), clock.KindOrderTick)
	if err != nil {
		return err
	}
	o.Event = h
	return nil
}

func (g *Game) stepDelay(d *Detachment, o *orders.Order) clock.Duration {
	t := g.cfg.Tuning
	if o.Kind == orders.KindSetMode {
		if m, ok := t.ModeChangeMinutes[string(o.Mode)]; ok && m >= 0 {
			return clock.Duration(m)
		}
		return clock.Duration(t.DefaultModeChangeMinutes)
	}
	if dest, _, ok := g.orderDestination(d, o); ok && dest == d.Hex {
		return 0
	}
	switch o.Rate {
	case units.RateSlow:
		return clock.Duration(t.MinutesPerHex.Slow)
	case units.RateFast:
		return clock.Duration(t.MinutesPerHex.Fast)
	}
	return clock.Duration(t.MinutesPerHex.Normal)
}

// orderDestination resolves where a moving order is headed right now. JOIN
// and CONVERGE follow the target unit's detachment.
func (g *Game) orderDestination(d *Detachment, o *orders.Order) (hexgrid.Coord, *Detachment, bool) {
	switch o.Kind {
	case orders.KindMove:
		return o.Dest, nil, true
	case orders.KindJoin, orders.KindConverge:
		t, err := g.DetachmentByUnit(o.Target)
		if err != nil {
			return hexgrid.Coord{}, nil, false
		}
		return t.Hex, t, true
	}
	return hexgrid.Coord{}, nil, false
}

// orderTick is the body of an ORDER_TICK event: one check-point of the
// detachment's active order.
func (g *Game) orderTick(d *Detachment, ev clock.Event) error {
	o := d.Orders.Active()
	if o == nil || o.Event != ev.Seq {
		return fmt.Errorf("%w: stale order tick %d for %s", ErrUnknownTarget, ev.Seq, d.ID)
	}
	o.Event = 0
	d.reconcile(g.clock.Now())

	if o.Aborting {
		g.setMode(d, restingMode(o.PrevMode))
		return g.finishOrder(d, orders.StateAborted)
	}

	if o.Kind == orders.KindSetMode {
		if o.Cancelling {
			return g.finishOrder(d, orders.StateCancelled)
		}
		g.setMode(d, o.Mode)
		return g.finishOrder(d, orders.StateCompleted)
	}

	dest, target, ok := g.orderDestination(d, o)
	if !ok {
		g.logf("%s: %s target %s is gone", d.ID, o.ID, o.Target)
		g.setMode(d, restingMode(o.PrevMode))
		return g.finishOrder(d, orders.StateAborted)
	}
	if d.Hex != dest {
		if err := g.stepDetachment(d, hexgrid.StepToward(d.Hex, dest)); err != nil {
			return err
		}
	}
	if d.Hex == dest {
		if o.Kind == orders.KindJoin {
			return g.completeJoin(d, target)
		}
		g.setMode(d, resultMode(o))
		g.queueArrival(d)
		return g.finishOrder(d, orders.StateCompleted)
	}
	if o.Cancelling {
		g.setMode(d, resultMode(o))
		return g.finishOrder(d, orders.StateCancelled)
	}
	return g.scheduleOrderStep(d, o)
}

func (g *Game) finishOrder(d *Detachment, state orders.State) error {
	fin, next, err := d.Orders.Finish(state)
	if err != nil {
		return err
	}
	delete(g.cancels, fin.ID)
	g.logf("%s: order %s %s", d.ID, fin.ID, state)
	g.notify(Notification{Kind: NotifyOrderFinished, Detachment: d.ID, Unit: d.UnitID, Order: fin.ID, OrderState: state})
	if next != nil {
		return g.activateOrder(d, next)
	}
	return nil
}

// stepDetachment moves d one hex. Leaving the hex ends any combat involvement.
func (g *Game) stepDetachment(d *Detachment, next hexgrid.Coord) error {
	if d.combatID != "" {
		if err := g.retract(d); err != nil {
			return err
		}
	}
	last := d.Hex
	d.Hex = next
	d.PositionSince = g.clock.Now()
	d.TimeInPosition = 0
	g.notifyMoved(d, last)
	return nil
}

// completeJoin merges d into target. d leaves the map.
func (g *Game) completeJoin(d, target *Detachment) error {
	target.reconcile(g.clock.Now())
	tu, du := target.Unit(), d.Unit()
	if tu == nil || du == nil {
		return fmt.Errorf("%w: join %s into %s", ErrUnknownTarget, d.UnitID, target.UnitID)
	}
	fin, _, err := d.Orders.Finish(orders.StateCompleted)
	if err != nil {
		return err
	}
	delete(g.cancels, fin.ID)
	g.notify(Notification{Kind: NotifyOrderFinished, Detachment: d.ID, Unit: d.UnitID, Order: fin.ID, OrderState: orders.StateCompleted})
	if err := g.destroyDetachment(d); err != nil {
		return err
	}
	tu.Absorb(du)
	g.logf("%s absorbed into %s", d.UnitID, target.UnitID)
	g.notifyChanged(target)
	return nil
}

func (g *Game) setMode(d *Detachment, m units.Mode) {
	if d.Mode == m {
		return
	}
	d.Mode = m
	g.notifyChanged(d)
}

func (g *Game) queueArrival(d *Detachment) {
	cur := d.Hex
	g.arrivals = append(g.arrivals, Notification{
		Kind:       NotifyArrived,
		Time:       g.clock.Now(),
		Detachment: d.ID,
		Unit:       d.UnitID,
		Mode:       d.Mode,
		Current:    &cur,
	})
}

func resultMode(o *orders.Order) units.Mode {
	if o.ResultMode != "" {
		return o.ResultMode
	}
	return units.ModeDefend
}

func restingMode(prev units.Mode) units.Mode {
	if prev == "" || prev == units.ModeMove {
		return units.ModeDefend
	}
	return prev
}
