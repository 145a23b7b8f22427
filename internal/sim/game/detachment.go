package game

import (
	"opwar.ai/internal/sim/clock"
	"opwar.ai/internal/sim/hexgrid"
	"opwar.ai/internal/sim/orders"
	"opwar.ai/internal/sim/units"
)

// fatigueAcc holds permille x 60 so per-minute accrual stays exact.
const fatigueScale = 60

// Detachment is a unit's deployed instance on the map.
//
// Derived fields (TimeInPosition, Fatigue) are only valid after MakeCurrent.
type Detachment struct {
	ID      string
	UnitID  string
	Side    units.Side
	Hex     hexgrid.Coord
	Mode    units.Mode
	Visible bool

	Orders orders.Queue

	LastChecked    clock.SimTime
	PositionSince  clock.SimTime
	TimeInPosition clock.Duration
	Intensity      int

	fatigueAcc int64
	combatID   string

	g *Game
}

// Fatigue in permille.
func (d *Detachment) Fatigue() int { return int(d.fatigueAcc / fatigueScale) }

// CombatID is the live combat the detachment is involved in, or "".
func (d *Detachment) CombatID() string { return d.combatID }

func (d *Detachment) Unit() *units.Unit {
	u, err := d.g.roster.Get(d.UnitID)
	if err != nil {
		return nil
	}
	return u
}

// MakeCurrent brings the detachment's derived state up to the game time.
// With ScheduleNext it also makes sure the active order has a pending
// check-point.
func (d *Detachment) MakeCurrent(mode ReconcileMode) error {
	d.reconcile(d.g.clock.Now())
	if mode == ScheduleNext {
		if o := d.Orders.Active(); o != nil && !d.g.clock.Scheduled(o.Event) {
			return d.g.scheduleOrderStep(d, o)
		}
	}
	return nil
}

// reconcile is a function of (LastChecked, now) only; calling it again at the
// same time changes nothing.
func (d *Detachment) reconcile(now clock.SimTime) {
	elapsed := now.Sub(d.LastChecked)
	if elapsed <= 0 {
		return
	}
	f := d.g.cfg.Tuning.Fatigue
	rate := 0
	switch {
	case d.combatID != "" && d.g.combatEngaged(d.combatID):
		rate = f.CombatPerHourPermille
	case d.Mode == units.ModeMove:
		rate = f.MovePerHourPermille
	case d.Mode == units.ModeRest:
		rate = -f.RestPerHourPermille
	}
	d.fatigueAcc += int64(rate) * int64(elapsed)
	if d.fatigueAcc < 0 {
		d.fatigueAcc = 0
	}
	if limit := int64(1000 * fatigueScale); d.fatigueAcc > limit {
		d.fatigueAcc = limit
	}
	d.TimeInPosition = now.Sub(d.PositionSince)
	d.LastChecked = now
}

func (d *Detachment) ref() clock.EntityRef {
	return clock.EntityRef{Kind: clock.EntityDetachment, ID: d.ID}
}
