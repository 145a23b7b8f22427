package game

import (
	"opwar.ai/internal/sim/clock"
	"opwar.ai/internal/sim/hexgrid"
	"opwar.ai/internal/sim/orders"
	"opwar.ai/internal/sim/units"
)

type NotificationKind string

const (
	NotifyChanged        NotificationKind = "CHANGED"
	NotifyMoved          NotificationKind = "MOVED"
	NotifyArrived        NotificationKind = "ARRIVED"
	NotifyOrderFinished  NotificationKind = "ORDER_FINISHED"
	NotifyCombatEngaged  NotificationKind = "COMBAT_ENGAGED"
	NotifyCombatResolved NotificationKind = "COMBAT_RESOLVED"
	NotifyVictory        NotificationKind = "VICTORY"
)

// Notification is what the UI and victory layers observe. Fields that do not
// apply to a kind are left zero.
type Notification struct {
	Kind       NotificationKind   `json:"kind"`
	Time       clock.SimTime      `json:"time"`
	Detachment string             `json:"detachment,omitempty"`
	Unit       string             `json:"unit,omitempty"`
	Mode       units.Mode         `json:"mode,omitempty"`
	Last       *hexgrid.Coord     `json:"last,omitempty"`
	Current    *hexgrid.Coord     `json:"current,omitempty"`
	Order      string             `json:"order,omitempty"`
	OrderState orders.State       `json:"order_state,omitempty"`
	Combat     string             `json:"combat,omitempty"`
	Winner     units.Side         `json:"winner,omitempty"`
	Victory    map[units.Side]int `json:"victory,omitempty"`
	Removed    bool               `json:"removed,omitempty"`
}

// Subscribe registers fn for every notification. Subscribers run synchronously
// inside dispatch and must not call back into the game.
func (g *Game) Subscribe(fn func(Notification)) {
	g.subs = append(g.subs, fn)
}

func (g *Game) notify(n Notification) {
	n.Time = g.clock.Now()
	for _, fn := range g.subs {
		fn(n)
	}
}

func (g *Game) notifyChanged(d *Detachment) {
	cur := d.Hex
	g.notify(Notification{Kind: NotifyChanged, Detachment: d.ID, Unit: d.UnitID, Mode: d.Mode, Current: &cur})
}

func (g *Game) notifyMoved(d *Detachment, last hexgrid.Coord) {
	cur := d.Hex
	g.notify(Notification{Kind: NotifyMoved, Detachment: d.ID, Unit: d.UnitID, Mode: d.Mode, Last: &last, Current: &cur})
}
