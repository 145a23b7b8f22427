package game

import (
	"fmt"
	"log"
	"sort"

	"opwar.ai/internal/sim/clock"
	"opwar.ai/internal/sim/hexgrid"
	"opwar.ai/internal/sim/units"
)

// Game owns the clock, the deployed detachments and the combats. It is
// single-threaded: every mutation happens inside an API call or inside event
// dispatch from Execute.
type Game struct {
	cfg      Config
	log      *log.Logger
	clock    *clock.Clock
	roster   *units.Roster
	resolver Resolver
	tally    []TallySink
	commands CommandSink

	detachments map[string]*Detachment
	byUnit      map[string]string // unit id -> detachment id
	combats     map[string]*Combat
	liveByHex   map[string]string // hex key -> live combat id

	cancels map[string][]cancelEntry // order id -> undo tokens, latest last

	nextDetachment uint64
	nextCombat     uint64
	nextOrder      uint64
	nextCommand    uint64

	victory  map[units.Side]int
	arrivals []Notification
	subs     []func(Notification)
}

func New(cfg Config, roster *units.Roster, opts Options) (*Game, error) {
	cfg.applyDefaults()
	opts.applyDefaults(cfg)
	if roster == nil {
		roster = units.NewRoster()
	}
	for key := range cfg.Objectives {
		if _, err := hexgrid.ParseKey(key); err != nil {
			return nil, fmt.Errorf("objective: %w", err)
		}
	}
	return &Game{
		cfg:         cfg,
		log:         opts.Logger,
		clock:       clock.New(cfg.Start),
		roster:      roster,
		resolver:    opts.Resolver,
		tally:       opts.Tally,
		commands:    opts.Commands,
		detachments: map[string]*Detachment{},
		byUnit:      map[string]string{},
		combats:     map[string]*Combat{},
		liveByHex:   map[string]string{},
		cancels:     map[string][]cancelEntry{},
	}, nil
}

func (g *Game) Config() Config        { return g.cfg }
func (g *Game) Roster() *units.Roster { return g.roster }
func (g *Game) Time() clock.SimTime   { return g.clock.Now() }

// ActiveEvent is the event being dispatched right now, if any.
func (g *Game) ActiveEvent() (clock.Event, bool) { return g.clock.Active() }

// PendingEvents lists the scheduled events in dispatch order.
func (g *Game) PendingEvents() []clock.Event { return g.clock.Pending() }

// PurgeAllEvents drops every scheduled event. It exists for test teardown
// after a combat has been resolved out of band.
func (g *Game) PurgeAllEvents() int {
	n := g.clock.PurgeAll()
	for _, d := range g.detachments {
		if o := d.Orders.Active(); o != nil {
			o.Event = 0
		}
	}
	for _, c := range g.combats {
		c.Event = 0
	}
	return n
}

func (g *Game) logf(format string, args ...any) {
	g.log.Printf("[%s t=%s] %s", g.cfg.ID, g.clock.Now(), fmt.Sprintf(format, args...))
}

func (g *Game) Detachment(id string) (*Detachment, error) {
	d, ok := g.detachments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDetachment, id)
	}
	return d, nil
}

func (g *Game) DetachmentByUnit(unitID string) (*Detachment, error) {
	id, ok := g.byUnit[unitID]
	if !ok {
		return nil, fmt.Errorf("%w: unit %s is not placed", ErrUnknownDetachment, unitID)
	}
	return g.Detachment(id)
}

// Detachments returns every deployed detachment ordered by id.
func (g *Game) Detachments() []*Detachment {
	out := make([]*Detachment, 0, len(g.detachments))
	for _, id := range sortedKeys(g.detachments) {
		out = append(out, g.detachments[id])
	}
	return out
}

func (g *Game) Combat(id string) (*Combat, error) {
	c, ok := g.combats[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCombat, id)
	}
	return c, nil
}

// CombatAt returns the live combat at hex, if any.
func (g *Game) CombatAt(hex hexgrid.Coord) (*Combat, bool) {
	id, ok := g.liveByHex[hex.Key()]
	if !ok {
		return nil, false
	}
	return g.combats[id], true
}

// Combats returns every combat, live and resolved, ordered by id.
func (g *Game) Combats() []*Combat {
	out := make([]*Combat, 0, len(g.combats))
	for _, id := range sortedKeys(g.combats) {
		out = append(out, g.combats[id])
	}
	return out
}

func (g *Game) combatEngaged(id string) bool {
	c := g.combats[id]
	return c != nil && c.State == CombatEngaged
}

// PlaceUnit creates the unit's detachment on the map.
func (g *Game) PlaceUnit(unitID string, hex hexgrid.Coord, mode units.Mode, visible bool) (*Detachment, error) {
	u, err := g.roster.Get(unitID)
	if err != nil {
		return nil, err
	}
	if u.Placed {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyPlaced, unitID)
	}
	if u.IsEmpty() {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDetachment, unitID)
	}
	if !mode.Placeable() {
		return nil, fmt.Errorf("place %s: mode %q cannot be placed", unitID, mode)
	}
	g.nextDetachment++
	now := g.clock.Now()
	d := &Detachment{
		ID:            fmt.Sprintf("D%06d", g.nextDetachment),
		UnitID:        u.ID,
		Side:          u.Side,
		Hex:           hex,
		Mode:          mode,
		Visible:       visible,
		LastChecked:   now,
		PositionSince: now,
		Intensity:     g.cfg.DefaultIntensity,
		g:             g,
	}
	u.Placed = true
	g.detachments[d.ID] = d
	g.byUnit[u.ID] = d.ID
	g.logf("placed %s (%s) at %s mode=%s", d.ID, u.ID, hex, mode)
	g.notifyChanged(d)
	return d, nil
}

// RemoveUnit takes the unit's detachment off the map: it leaves any combat,
// its order events are unscheduled and its orders are dropped.
func (g *Game) RemoveUnit(unitID string) error {
	d, err := g.DetachmentByUnit(unitID)
	if err != nil {
		return err
	}
	if err := g.destroyDetachment(d); err != nil {
		return err
	}
	if u := d.Unit(); u != nil {
		u.Placed = false
	}
	return nil
}

func (g *Game) destroyDetachment(d *Detachment) error {
	d.reconcile(g.clock.Now())
	if d.combatID != "" {
		if err := g.retract(d); err != nil {
			return err
		}
	}
	if o := d.Orders.Active(); o != nil {
		g.clock.Unschedule(o.Event)
	}
	for _, o := range d.Orders.Drain() {
		delete(g.cancels, o.ID)
		g.notify(Notification{Kind: NotifyOrderFinished, Detachment: d.ID, Unit: d.UnitID, Order: o.ID, OrderState: o.State})
	}
	delete(g.detachments, d.ID)
	delete(g.byUnit, d.UnitID)
	g.logf("removed %s (%s)", d.ID, d.UnitID)
	cur := d.Hex
	g.notify(Notification{Kind: NotifyChanged, Detachment: d.ID, Unit: d.UnitID, Current: &cur, Removed: true})
	return nil
}

// Execute runs the simulation forward to end. It is the only way simulated
// time moves. An error from an event body halts the run and is returned.
func (g *Game) Execute(end clock.SimTime) error {
	err := g.clock.AdvanceTo(end, clock.HandlerFunc(g.dispatch))
	g.flushArrivals()
	if err != nil {
		g.logf("execute halted: %v", err)
		return err
	}
	g.updateVictory()
	return nil
}

func (g *Game) dispatch(ev clock.Event) error {
	switch ev.Target.Kind {
	case clock.EntityDetachment:
		d, ok := g.detachments[ev.Target.ID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownTarget, ev.Target)
		}
		return g.orderTick(d, ev)
	case clock.EntityCombat:
		c, ok := g.combats[ev.Target.ID]
		if !ok || c.State == CombatResolved {
			return fmt.Errorf("%w: %s", ErrUnknownTarget, ev.Target)
		}
		if c.Event == ev.Seq {
			c.Event = 0
		}
		return c.MakeCurrent(ScheduleNext)
	}
	return fmt.Errorf("%w: %s", ErrUnknownTarget, ev.Target)
}

func (g *Game) flushArrivals() {
	pending := g.arrivals
	g.arrivals = nil
	for _, n := range pending {
		for _, fn := range g.subs {
			fn(n)
		}
	}
}

// Victory returns the points each side currently holds.
func (g *Game) Victory() map[units.Side]int {
	out := make(map[units.Side]int, len(g.victory))
	for k, v := range g.victory {
		out[k] = v
	}
	return out
}

// updateVictory credits each objective hex to the single side occupying it,
// unless the hex is contested by a live combat.
func (g *Game) updateVictory() {
	if len(g.cfg.Objectives) == 0 {
		return
	}
	holders := map[string]map[units.Side]bool{}
	for _, d := range g.detachments {
		k := d.Hex.Key()
		if _, ok := g.cfg.Objectives[k]; !ok {
			continue
		}
		if holders[k] == nil {
			holders[k] = map[units.Side]bool{}
		}
		holders[k][d.Side] = true
	}
	next := map[units.Side]int{}
	for k, pts := range g.cfg.Objectives {
		if _, contested := g.liveByHex[k]; contested {
			continue
		}
		if len(holders[k]) != 1 {
			continue
		}
		for side := range holders[k] {
			next[side] += pts
		}
	}
	if len(next) == 0 {
		next = nil
	}
	if victoryEqual(g.victory, next) {
		return
	}
	g.victory = next
	g.notify(Notification{Kind: NotifyVictory, Victory: g.Victory()})
}

func victoryEqual(a, b map[units.Side]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func (g *Game) nextOrderID() string {
	return fmt.Sprintf("O%06d", g.nextOrder+1)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
