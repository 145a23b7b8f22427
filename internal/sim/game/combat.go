package game

import (
	"fmt"
	"math"

	"opwar.ai/internal/sim/clock"
	"opwar.ai/internal/sim/hexgrid"
	"opwar.ai/internal/sim/units"
)

type CombatState string

const (
	CombatForming  CombatState = "FORMING"
	CombatEngaged  CombatState = "ENGAGED"
	CombatResolved CombatState = "RESOLVED"
)

type Role string

const (
	RoleAttacker Role = "ATTACKER"
	RoleDefender Role = "DEFENDER"
)

// Involved is one detachment's participation in a combat. Losses and
// AmmoUsed accumulate over every check. DrawLoss and DrawAmmo are what the
// running check will cost by its end; the Applied fields are how much of it
// has been taken so far.
type Involved struct {
	DetachmentID  string
	UnitID        string
	Side          units.Side
	Role          Role
	Preparation   int
	Edge          hexgrid.EdgeType
	StartStrength int
	Losses        int
	AmmoUsed      int

	DrawLoss    int
	DrawAmmo    int
	AppliedLoss int
	AppliedAmmo int
}

// Combat is the engagement bound to one hex.
type Combat struct {
	ID        string
	Hex       hexgrid.Coord
	Attackers []*Involved
	Defenders []*Involved
	State     CombatState

	StartedAt   clock.SimTime
	LastChecked clock.SimTime
	EndedAt     clock.SimTime
	Checks      int
	Event       clock.Handle
	NextDelay   clock.Duration
	Winner      units.Side

	// The running check covers [WindowStart, WindowEnd). Continues is the
	// model's verdict for when it completes.
	WindowStart clock.SimTime
	WindowEnd   clock.SimTime
	Continues   bool

	g         *Game
	onDone    []func(*Combat)
	doneFired bool
}

// Involve adds the detachment to the live combat at hex, creating one in
// FORMING if there is none. A detachment in ATTACK mode attacks from hex or
// an adjacent hex; any other mode defends and must stand in hex. When both
// sides are present the combat is engaged.
func (g *Game) Involve(detID string, hex hexgrid.Coord, preparation int, edge hexgrid.EdgeType) (*Involved, error) {
	d, err := g.Detachment(detID)
	if err != nil {
		return nil, err
	}
	if edge == "" {
		edge = hexgrid.EdgePlain
	}
	if !edge.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEdge, edge)
	}
	u := d.Unit()
	if u.IsEmpty() {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDetachment, d.UnitID)
	}
	if d.combatID != "" {
		return nil, fmt.Errorf("%w: %s is in %s", ErrAlreadyInvolved, d.ID, d.combatID)
	}
	role := RoleDefender
	if d.Mode == units.ModeAttack {
		role = RoleAttacker
		if hexgrid.Distance(d.Hex, hex) > 1 {
			return nil, fmt.Errorf("%w: %s at %s attacking %s", ErrNotAdjacent, d.ID, d.Hex, hex)
		}
	} else if d.Hex != hex {
		return nil, fmt.Errorf("%w: %s at %s defending %s", ErrNotAdjacent, d.ID, d.Hex, hex)
	}

	c, live := g.CombatAt(hex)
	if live {
		if err := c.checkSide(d.Side, role); err != nil {
			return nil, err
		}
	}
	var end clock.SimTime
	if live && c.State == CombatEngaged {
		if end, err = c.settle(); err != nil {
			return nil, err
		}
		c, live = g.CombatAt(hex)
	}
	if !live {
		g.nextCombat++
		c = &Combat{
			ID:          fmt.Sprintf("C%06d", g.nextCombat),
			Hex:         hex,
			State:       CombatForming,
			LastChecked: g.clock.Now(),
			g:           g,
		}
	}

	d.reconcile(g.clock.Now())
	inv := &Involved{
		DetachmentID:  d.ID,
		UnitID:        d.UnitID,
		Side:          d.Side,
		Role:          role,
		Preparation:   clampPermille(preparation),
		Edge:          edge,
		StartStrength: u.Strength(),
	}
	if role == RoleAttacker {
		c.Attackers = append(c.Attackers, inv)
	} else {
		c.Defenders = append(c.Defenders, inv)
	}
	d.combatID = c.ID
	if !live {
		g.combats[c.ID] = c
		g.liveByHex[hex.Key()] = c.ID
	}

	if c.State == CombatEngaged && end > g.clock.Now() {
		if err := c.draw(end); err != nil {
			c.remove(d.ID)
			d.combatID = ""
			return nil, err
		}
	}
	if c.State == CombatForming && len(c.Attackers) > 0 && len(c.Defenders) > 0 {
		if err := c.ScheduleNextEvent(); err != nil {
			c.remove(d.ID)
			d.combatID = ""
			if !live {
				delete(g.combats, c.ID)
				delete(g.liveByHex, hex.Key())
				g.nextCombat--
			}
			return nil, err
		}
	}
	g.logf("%s involved in %s at %s as %s", d.ID, c.ID, hex, role)
	return inv, nil
}

func (c *Combat) checkSide(side units.Side, role Role) error {
	same, other := c.Attackers, c.Defenders
	if role == RoleDefender {
		same, other = c.Defenders, c.Attackers
	}
	for _, inv := range same {
		if inv.Side != side {
			return fmt.Errorf("%w: %s is held by %s", ErrSideConflict, role, inv.Side)
		}
	}
	for _, inv := range other {
		if inv.Side == side {
			return fmt.Errorf("%w: %s already fights on the other side", ErrSideConflict, side)
		}
	}
	return nil
}

// EventScheduled reports whether a re-evaluation event is outstanding.
func (c *Combat) EventScheduled() bool {
	return c.Event != 0 && c.g.clock.Scheduled(c.Event)
}

// ScheduleNextEvent engages a FORMING combat by scheduling its first check.
// On an ENGAGED combat with a pending check it does nothing.
func (c *Combat) ScheduleNextEvent() error {
	if c.State == CombatResolved {
		return fmt.Errorf("%w: %s", ErrCombatResolved, c.ID)
	}
	if len(c.Attackers) == 0 || len(c.Defenders) == 0 {
		return fmt.Errorf("%w: %s", ErrNotEngageable, c.ID)
	}
	if c.State == CombatEngaged {
		return c.ensureScheduled()
	}
	g := c.g
	now := g.clock.Now()
	delay, err := g.resolver.FirstCheck(c.input(c.Checks, 0))
	if err != nil {
		return fmt.Errorf("%w: %s first check: %w", ErrResolution, c.ID, err)
	}
	if delay < 1 {
		delay = 1
	}
	if err := c.draw(now.Add(delay)); err != nil {
		return err
	}
	h, err := g.clock.Schedule(c.WindowEnd, c.ref(), clock.KindCombatCheck)
	if err != nil {
		c.clearDraw()
		return err
	}
	c.Event = h
	c.NextDelay = delay
	c.State = CombatEngaged
	c.StartedAt = now
	c.LastChecked = now
	g.logf("%s engaged at %s, first check in %dm", c.ID, c.Hex, delay)
	hex := c.Hex
	g.notify(Notification{Kind: NotifyCombatEngaged, Combat: c.ID, Current: &hex})
	return nil
}

// MakeCurrent applies the share of the running check that has elapsed since
// it was drawn. The share depends only on the time, so reconciling often
// costs exactly what reconciling once does. When the check is due it is
// completed, and a combat whose sides can no longer fight is resolved. With
// ScheduleNext the next check is drawn and scheduled.
func (c *Combat) MakeCurrent(mode ReconcileMode) error {
	now := c.g.clock.Now()
	switch c.State {
	case CombatResolved:
		return nil
	case CombatForming:
		c.LastChecked = now
		return nil
	}
	c.reconcileMembers()
	c.progress(now)
	c.LastChecked = now
	if c.drawn() && now >= c.WindowEnd {
		c.Checks++
		c.clearDraw()
		if !c.Continues || !c.sideAble(c.Attackers) || !c.sideAble(c.Defenders) {
			c.resolve()
			return nil
		}
	}
	if mode != ScheduleNext {
		return nil
	}
	return c.ensureScheduled()
}

// ensureScheduled draws the next check if none is running and makes sure an
// event fires when it ends.
func (c *Combat) ensureScheduled() error {
	g := c.g
	now := g.clock.Now()
	if !c.drawn() {
		delay := c.NextDelay
		if delay <= 0 {
			d, err := g.resolver.FirstCheck(c.input(c.Checks, 0))
			if err != nil {
				return fmt.Errorf("%w: %s first check: %w", ErrResolution, c.ID, err)
			}
			delay = d
		}
		if delay < 1 {
			delay = 1
		}
		if err := c.draw(now.Add(delay)); err != nil {
			return err
		}
	}
	if c.EventScheduled() {
		if at, _ := g.clock.FireTime(c.Event); at == c.WindowEnd {
			return nil
		}
		return g.clock.Reschedule(c.Event, c.WindowEnd)
	}
	h, err := g.clock.Schedule(c.WindowEnd, c.ref(), clock.KindCombatCheck)
	if err != nil {
		return err
	}
	c.Event = h
	return nil
}

// draw asks the model for the check running from now until end. Nothing is
// applied yet; on failure the combat is left as it was.
func (c *Combat) draw(end clock.SimTime) error {
	g := c.g
	now := g.clock.Now()
	c.reconcileMembers()
	out, err := g.resolver.Resolve(c.input(c.Checks, end.Sub(now)))
	if err != nil {
		g.logf("%s check %d failed: %v", c.ID, c.Checks, err)
		return fmt.Errorf("%w: %s check %d: %w", ErrResolution, c.ID, c.Checks, err)
	}
	for _, inv := range c.members() {
		inv.DrawLoss = out.Losses[inv.DetachmentID]
		inv.DrawAmmo = out.Ammo[inv.DetachmentID]
		inv.AppliedLoss, inv.AppliedAmmo = 0, 0
	}
	c.WindowStart, c.WindowEnd = now, end
	c.Continues = out.StillEngaged
	if out.NextCheck > 0 {
		c.NextDelay = out.NextCheck
	}
	return nil
}

func (c *Combat) drawn() bool { return c.WindowEnd > c.WindowStart }

func (c *Combat) clearDraw() {
	for _, inv := range c.members() {
		inv.DrawLoss, inv.DrawAmmo = 0, 0
		inv.AppliedLoss, inv.AppliedAmmo = 0, 0
	}
	c.WindowStart = c.WindowEnd
}

// progress brings the applied share of the running check up to now.
func (c *Combat) progress(now clock.SimTime) {
	if !c.drawn() {
		return
	}
	if now > c.WindowEnd {
		now = c.WindowEnd
	}
	elapsed := int64(now.Sub(c.WindowStart))
	if elapsed <= 0 {
		return
	}
	span := int64(c.WindowEnd.Sub(c.WindowStart))
	for _, inv := range c.members() {
		loss := int(int64(inv.DrawLoss) * elapsed / span)
		ammo := int(int64(inv.DrawAmmo) * elapsed / span)
		if u, err := c.g.roster.Get(inv.UnitID); err == nil {
			beforeP, beforeA := u.Personnel, u.Ammo
			u.ApplyLosses(loss-inv.AppliedLoss, ammo-inv.AppliedAmmo)
			inv.Losses += beforeP - u.Personnel
			inv.AmmoUsed += beforeA - u.Ammo
		}
		inv.AppliedLoss, inv.AppliedAmmo = loss, ammo
	}
}

// settle brings the combat up to now and closes the running check ahead of
// a change of sides. It returns when the closed check was due to end, so the
// caller can draw the remainder for the new sides.
func (c *Combat) settle() (clock.SimTime, error) {
	if err := c.MakeCurrent(DontScheduleNext); err != nil {
		return 0, err
	}
	end := c.WindowEnd
	if c.State == CombatEngaged && c.drawn() {
		if c.g.clock.Now() > c.WindowStart {
			c.Checks++
		}
		c.clearDraw()
	}
	return end, nil
}

// ForceResolve ends the combat out of band. The winner is decided from the
// strength each side has left.
func (c *Combat) ForceResolve() error {
	if c.State == CombatResolved {
		return fmt.Errorf("%w: %s", ErrCombatResolved, c.ID)
	}
	now := c.g.clock.Now()
	if c.State == CombatEngaged {
		c.reconcileMembers()
		c.progress(now)
		c.clearDraw()
	}
	c.LastChecked = now
	c.resolve()
	return nil
}

func (c *Combat) resolve() {
	g := c.g
	if c.Event != 0 {
		g.clock.Unschedule(c.Event)
		c.Event = 0
	}
	c.reconcileMembers()
	c.Winner = c.decideWinner()
	c.State = CombatResolved
	c.EndedAt = g.clock.Now()
	for _, inv := range c.members() {
		if d, ok := g.detachments[inv.DetachmentID]; ok && d.combatID == c.ID {
			d.combatID = ""
		}
	}
	if g.liveByHex[c.Hex.Key()] == c.ID {
		delete(g.liveByHex, c.Hex.Key())
	}
	g.logf("%s resolved after %d checks, winner %q", c.ID, c.Checks, c.Winner)
	rep := c.report()
	for _, s := range g.tally {
		s.RecordCombat(rep)
	}
	hex := c.Hex
	g.notify(Notification{Kind: NotifyCombatResolved, Combat: c.ID, Current: &hex, Winner: c.Winner})
	c.fireDone()
}

func (c *Combat) fireDone() {
	if c.doneFired {
		return
	}
	c.doneFired = true
	for _, fn := range c.onDone {
		fn(c)
	}
	c.onDone = nil
}

// OnDone registers fn to run when the combat is resolved. On a combat that
// is already resolved fn runs immediately.
func (c *Combat) OnDone(fn func(*Combat)) {
	if c.doneFired {
		fn(c)
		return
	}
	c.onDone = append(c.onDone, fn)
}

// decideWinner picks the side that kept the larger share of its starting
// strength. Ties go to the defender.
func (c *Combat) decideWinner() units.Side {
	atkAble, defAble := c.sideAble(c.Attackers), c.sideAble(c.Defenders)
	switch {
	case len(c.Defenders) == 0 && len(c.Attackers) == 0:
		return ""
	case len(c.Defenders) == 0 || (atkAble && !defAble):
		return sideOf(c.Attackers)
	case len(c.Attackers) == 0 || (defAble && !atkAble):
		return sideOf(c.Defenders)
	}
	aNow, aStart := c.strength(c.Attackers)
	dNow, dStart := c.strength(c.Defenders)
	if aStart > 0 && dStart > 0 && int64(aNow)*int64(dStart) > int64(dNow)*int64(aStart) {
		return sideOf(c.Attackers)
	}
	return sideOf(c.Defenders)
}

func sideOf(side []*Involved) units.Side {
	if len(side) == 0 {
		return ""
	}
	return side[0].Side
}

func (c *Combat) strength(side []*Involved) (now, start int) {
	for _, inv := range side {
		start += inv.StartStrength
		if u, err := c.g.roster.Get(inv.UnitID); err == nil {
			now += u.Strength()
		}
	}
	return now, start
}

// sideAble reports whether any member still has personnel on the map.
func (c *Combat) sideAble(side []*Involved) bool {
	for _, inv := range side {
		if _, ok := c.g.detachments[inv.DetachmentID]; !ok {
			continue
		}
		if u, err := c.g.roster.Get(inv.UnitID); err == nil && u.Personnel > 0 {
			return true
		}
	}
	return false
}

// Ratio is attacker strength over defender strength. It is +Inf once the
// defenders have nothing left.
func (c *Combat) Ratio() (float64, error) {
	if err := c.current(); err != nil {
		return 0, err
	}
	a, _ := c.strength(c.Attackers)
	d, _ := c.strength(c.Defenders)
	if d == 0 {
		if a == 0 {
			return 0, nil
		}
		return math.Inf(1), nil
	}
	return float64(a) / float64(d), nil
}

// Density is the number of detachments fighting in the hex.
func (c *Combat) Density() (int, error) {
	if err := c.current(); err != nil {
		return 0, err
	}
	return len(c.Attackers) + len(c.Defenders), nil
}

func (c *Combat) current() error {
	if c.State != CombatResolved && c.LastChecked != c.g.clock.Now() {
		return fmt.Errorf("%w: %s last checked %s, now %s", ErrNotCurrent, c.ID, c.LastChecked, c.g.clock.Now())
	}
	return nil
}

// Retract takes the detachment out of this combat.
func (c *Combat) Retract(detID string) error {
	d, err := c.g.Detachment(detID)
	if err != nil {
		return err
	}
	if d.combatID != c.ID {
		return fmt.Errorf("%w: %s is not in %s", ErrUnknownDetachment, detID, c.ID)
	}
	return c.g.retract(d)
}

// retract removes d from its combat, reconciling the combat first. A combat
// left without one of its sides is resolved; a FORMING combat left empty is
// dropped.
func (g *Game) retract(d *Detachment) error {
	c, ok := g.combats[d.combatID]
	if !ok {
		d.combatID = ""
		return nil
	}
	var end clock.SimTime
	if c.State == CombatEngaged {
		var err error
		if end, err = c.settle(); err != nil {
			return err
		}
	}
	d.reconcile(g.clock.Now())
	if d.combatID == "" {
		return nil
	}
	c.remove(d.ID)
	d.combatID = ""
	g.logf("%s retracted from %s", d.ID, c.ID)
	switch c.State {
	case CombatForming:
		if len(c.Attackers) == 0 && len(c.Defenders) == 0 {
			delete(g.combats, c.ID)
			delete(g.liveByHex, c.Hex.Key())
		}
	case CombatEngaged:
		if len(c.Attackers) == 0 || len(c.Defenders) == 0 {
			c.resolve()
		} else if end > g.clock.Now() {
			if err := c.draw(end); err != nil {
				// the pending event starts a fresh check when it fires
				g.logf("%s redraw after retract: %v", c.ID, err)
			}
		}
	}
	return nil
}

func (c *Combat) remove(detID string) {
	drop := func(side []*Involved) []*Involved {
		out := side[:0]
		for _, inv := range side {
			if inv.DetachmentID != detID {
				out = append(out, inv)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	c.Attackers = drop(c.Attackers)
	c.Defenders = drop(c.Defenders)
}

func (c *Combat) members() []*Involved {
	out := make([]*Involved, 0, len(c.Attackers)+len(c.Defenders))
	out = append(out, c.Attackers...)
	return append(out, c.Defenders...)
}

func (c *Combat) reconcileMembers() {
	now := c.g.clock.Now()
	for _, inv := range c.members() {
		if d, ok := c.g.detachments[inv.DetachmentID]; ok {
			d.reconcile(now)
		}
	}
}

func (c *Combat) input(check int, slice clock.Duration) ResolveInput {
	return ResolveInput{
		CombatID:  c.ID,
		Hex:       c.Hex,
		Seed:      c.g.cfg.Seed,
		Check:     check,
		Slice:     slice,
		Attackers: c.combatants(c.Attackers),
		Defenders: c.combatants(c.Defenders),
	}
}

func (c *Combat) combatants(side []*Involved) []Combatant {
	out := make([]Combatant, 0, len(side))
	for _, inv := range side {
		d, ok := c.g.detachments[inv.DetachmentID]
		if !ok {
			continue
		}
		u := d.Unit()
		if u == nil {
			continue
		}
		out = append(out, Combatant{
			DetachmentID:  d.ID,
			UnitID:        u.ID,
			Side:          inv.Side,
			Personnel:     u.Personnel,
			Strength:      u.Strength(),
			StartStrength: inv.StartStrength,
			Ammo:          u.Ammo,
			Preparation:   inv.Preparation,
			Fatigue:       d.Fatigue(),
			Intensity:     d.Intensity,
			Edge:          inv.Edge,
		})
	}
	return out
}

func (c *Combat) ref() clock.EntityRef {
	return clock.EntityRef{Kind: clock.EntityCombat, ID: c.ID}
}
