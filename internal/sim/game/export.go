package game

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"

	"opwar.ai/internal/persistence/snapshot"
	"opwar.ai/internal/sim/clock"
	"opwar.ai/internal/sim/hexgrid"
	"opwar.ai/internal/sim/orders"
	"opwar.ai/internal/sim/units"
)

// Export captures the whole game state. Collections are ordered (units by
// roster order, detachments and combats by id, events by dispatch order) so
// that two games in the same state export identical values.
//
// Pending undo tokens and OnDone callbacks are not part of the state.
func (g *Game) Export() snapshot.SnapshotV1 {
	now, nextSeq, events := g.clock.State()
	s := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version:    snapshot.Version,
			ScenarioID: g.cfg.ID,
			Time:       int64(now),
		},
		Seed:             g.cfg.Seed,
		Start:            int64(g.cfg.Start),
		Tuning:           g.cfg.Tuning,
		Objectives:       copyIntMap(g.cfg.Objectives),
		DefaultIntensity: g.cfg.DefaultIntensity,
		Clock: snapshot.ClockV1{
			Now:     int64(now),
			NextSeq: uint64(nextSeq),
		},
		Counters: snapshot.CountersV1{
			Detachment: g.nextDetachment,
			Combat:     g.nextCombat,
			Order:      g.nextOrder,
			Command:    g.nextCommand,
		},
	}
	for _, ev := range events {
		s.Clock.Events = append(s.Clock.Events, snapshot.EventV1{
			Seq:        uint64(ev.Seq),
			FireTime:   int64(ev.FireTime),
			Kind:       string(ev.Kind),
			TargetKind: string(ev.Target.Kind),
			TargetID:   ev.Target.ID,
		})
	}
	for _, u := range g.roster.Units() {
		s.Units = append(s.Units, snapshot.UnitV1{
			ID:        u.ID,
			Name:      u.Name,
			Side:      string(u.Side),
			Personnel: u.Personnel,
			Equipment: u.Equipment,
			Ammo:      u.Ammo,
			Combatant: u.Combatant,
			Placed:    u.Placed,
		})
	}
	for _, d := range g.Detachments() {
		dv := snapshot.DetachmentV1{
			ID:             d.ID,
			UnitID:         d.UnitID,
			Side:           string(d.Side),
			Hex:            [2]int{d.Hex.Q, d.Hex.R},
			Mode:           string(d.Mode),
			Visible:        d.Visible,
			LastChecked:    int64(d.LastChecked),
			PositionSince:  int64(d.PositionSince),
			TimeInPosition: int64(d.TimeInPosition),
			Intensity:      d.Intensity,
			FatigueAcc:     d.fatigueAcc,
			CombatID:       d.combatID,
		}
		for _, o := range d.Orders.Orders() {
			dv.Orders = append(dv.Orders, exportOrder(o))
		}
		s.Detachments = append(s.Detachments, dv)
	}
	for _, c := range g.Combats() {
		cv := snapshot.CombatV1{
			ID:          c.ID,
			Hex:         [2]int{c.Hex.Q, c.Hex.R},
			State:       string(c.State),
			StartedAt:   int64(c.StartedAt),
			LastChecked: int64(c.LastChecked),
			EndedAt:     int64(c.EndedAt),
			Checks:      c.Checks,
			Event:       uint64(c.Event),
			NextDelay:   int64(c.NextDelay),
			WindowStart: int64(c.WindowStart),
			WindowEnd:   int64(c.WindowEnd),
			Continues:   c.Continues,
			Winner:      string(c.Winner),
		}
		for _, inv := range c.Attackers {
			cv.Attackers = append(cv.Attackers, exportInvolved(inv))
		}
		for _, inv := range c.Defenders {
			cv.Defenders = append(cv.Defenders, exportInvolved(inv))
		}
		s.Combats = append(s.Combats, cv)
	}
	if len(g.victory) > 0 {
		s.Victory = map[string]int{}
		for side, pts := range g.victory {
			s.Victory[string(side)] = pts
		}
	}
	return s
}

func exportOrder(o *orders.Order) snapshot.OrderV1 {
	return snapshot.OrderV1{
		ID:         o.ID,
		Kind:       string(o.Kind),
		Dest:       [2]int{o.Dest.Q, o.Dest.R},
		ResultMode: string(o.ResultMode),
		Rate:       string(o.Rate),
		Mode:       string(o.Mode),
		Unit:       o.Unit,
		Target:     o.Target,
		State:      string(o.State),
		Cancelling: o.Cancelling,
		Aborting:   o.Aborting,
		Event:      uint64(o.Event),
		StartedAt:  int64(o.StartedAt),
		PrevMode:   string(o.PrevMode),
	}
}

func exportInvolved(inv *Involved) snapshot.InvolvedV1 {
	return snapshot.InvolvedV1{
		DetachmentID:  inv.DetachmentID,
		UnitID:        inv.UnitID,
		Side:          string(inv.Side),
		Role:          string(inv.Role),
		Preparation:   inv.Preparation,
		Edge:          string(inv.Edge),
		StartStrength: inv.StartStrength,
		Losses:        inv.Losses,
		AmmoUsed:      inv.AmmoUsed,
		DrawLoss:      inv.DrawLoss,
		DrawAmmo:      inv.DrawAmmo,
		AppliedLoss:   inv.AppliedLoss,
		AppliedAmmo:   inv.AppliedAmmo,
	}
}

// Import rebuilds a game from a snapshot. Every cross reference is checked;
// on failure no game is returned.
func Import(s snapshot.SnapshotV1, opts Options) (*Game, error) {
	if s.Header.Version != snapshot.Version {
		return nil, fmt.Errorf("%w: %w: %d", ErrSnapshot, snapshot.ErrVersion, s.Header.Version)
	}
	roster := units.NewRoster()
	for _, uv := range s.Units {
		u := &units.Unit{
			ID:        uv.ID,
			Name:      uv.Name,
			Side:      units.Side(uv.Side),
			Personnel: uv.Personnel,
			Equipment: uv.Equipment,
			Ammo:      uv.Ammo,
			Combatant: uv.Combatant,
			Placed:    uv.Placed,
		}
		if err := roster.Add(u); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSnapshot, err)
		}
	}
	cfg := Config{
		ID:               s.Header.ScenarioID,
		Seed:             s.Seed,
		Start:            clock.SimTime(s.Start),
		Tuning:           s.Tuning,
		Objectives:       copyIntMap(s.Objectives),
		DefaultIntensity: s.DefaultIntensity,
	}
	g, err := New(cfg, roster, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshot, err)
	}
	if err := g.importState(s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshot, err)
	}
	return g, nil
}

func (g *Game) importState(s snapshot.SnapshotV1) error {
	events := make([]clock.Event, 0, len(s.Clock.Events))
	for _, ev := range s.Clock.Events {
		events = append(events, clock.Event{
			Seq:      clock.Handle(ev.Seq),
			FireTime: clock.SimTime(ev.FireTime),
			Kind:     clock.EventKind(ev.Kind),
			Target:   clock.EntityRef{Kind: clock.EntityKind(ev.TargetKind), ID: ev.TargetID},
		})
	}
	if err := g.clock.Restore(clock.SimTime(s.Clock.Now), clock.Handle(s.Clock.NextSeq), events); err != nil {
		return err
	}
	if s.Header.Time != s.Clock.Now {
		return fmt.Errorf("header time %d differs from clock %d", s.Header.Time, s.Clock.Now)
	}
	pending := map[clock.Handle]clock.Event{}
	for _, ev := range events {
		pending[ev.Seq] = ev
	}

	for _, dv := range s.Detachments {
		if _, dup := g.detachments[dv.ID]; dup {
			return fmt.Errorf("duplicate detachment %s", dv.ID)
		}
		u, err := g.roster.Get(dv.UnitID)
		if err != nil {
			return fmt.Errorf("detachment %s: %w", dv.ID, err)
		}
		if !u.Placed {
			return fmt.Errorf("detachment %s: unit %s is not marked placed", dv.ID, u.ID)
		}
		if _, dup := g.byUnit[u.ID]; dup {
			return fmt.Errorf("unit %s has two detachments", u.ID)
		}
		mode, err := units.ParseMode(dv.Mode)
		if err != nil {
			return fmt.Errorf("detachment %s: %w", dv.ID, err)
		}
		d := &Detachment{
			ID:             dv.ID,
			UnitID:         dv.UnitID,
			Side:           units.Side(dv.Side),
			Hex:            hexgrid.Coord{Q: dv.Hex[0], R: dv.Hex[1]},
			Mode:           mode,
			Visible:        dv.Visible,
			LastChecked:    clock.SimTime(dv.LastChecked),
			PositionSince:  clock.SimTime(dv.PositionSince),
			TimeInPosition: clock.Duration(dv.TimeInPosition),
			Intensity:      dv.Intensity,
			fatigueAcc:     dv.FatigueAcc,
			combatID:       dv.CombatID,
			g:              g,
		}
		list := make([]*orders.Order, 0, len(dv.Orders))
		for _, ov := range dv.Orders {
			o := importOrder(ov)
			if o.Event != 0 {
				ev, ok := pending[o.Event]
				if !ok || ev.Target != d.ref() || ev.Kind != clock.KindOrderTick {
					return fmt.Errorf("order %s: event %d is not pending for %s", o.ID, o.Event, d.ID)
				}
			}
			list = append(list, o)
		}
		if len(list) == 0 {
			list = nil
		}
		if err := d.Orders.Restore(list); err != nil {
			return fmt.Errorf("detachment %s: %w", dv.ID, err)
		}
		g.detachments[d.ID] = d
		g.byUnit[d.UnitID] = d.ID
	}

	for _, cv := range s.Combats {
		if _, dup := g.combats[cv.ID]; dup {
			return fmt.Errorf("duplicate combat %s", cv.ID)
		}
		c := &Combat{
			ID:          cv.ID,
			Hex:         hexgrid.Coord{Q: cv.Hex[0], R: cv.Hex[1]},
			State:       CombatState(cv.State),
			StartedAt:   clock.SimTime(cv.StartedAt),
			LastChecked: clock.SimTime(cv.LastChecked),
			EndedAt:     clock.SimTime(cv.EndedAt),
			Checks:      cv.Checks,
			Event:       clock.Handle(cv.Event),
			NextDelay:   clock.Duration(cv.NextDelay),
			WindowStart: clock.SimTime(cv.WindowStart),
			WindowEnd:   clock.SimTime(cv.WindowEnd),
			Continues:   cv.Continues,
			Winner:      units.Side(cv.Winner),
			g:           g,
		}
		switch c.State {
		case CombatForming, CombatEngaged:
			key := c.Hex.Key()
			if other, busy := g.liveByHex[key]; busy {
				return fmt.Errorf("combats %s and %s both live at %s", other, c.ID, c.Hex)
			}
			g.liveByHex[key] = c.ID
		case CombatResolved:
			c.doneFired = true
		default:
			return fmt.Errorf("combat %s: unknown state %q", c.ID, cv.State)
		}
		if c.Event != 0 {
			ev, ok := pending[c.Event]
			if !ok || ev.Target != c.ref() || ev.Kind != clock.KindCombatCheck {
				return fmt.Errorf("combat %s: event %d is not pending", c.ID, c.Event)
			}
		}
		if c.WindowEnd < c.WindowStart {
			return fmt.Errorf("combat %s: check window ends at %d before it starts at %d", c.ID, cv.WindowEnd, cv.WindowStart)
		}
		for _, iv := range cv.Attackers {
			c.Attackers = append(c.Attackers, importInvolved(iv))
		}
		for _, iv := range cv.Defenders {
			c.Defenders = append(c.Defenders, importInvolved(iv))
		}
		if c.State != CombatResolved {
			for _, inv := range c.members() {
				d, ok := g.detachments[inv.DetachmentID]
				if !ok || d.combatID != c.ID {
					return fmt.Errorf("combat %s: %s is not involved", c.ID, inv.DetachmentID)
				}
			}
		}
		g.combats[c.ID] = c
	}
	for _, d := range g.detachments {
		if d.combatID == "" {
			continue
		}
		if _, ok := g.liveByHex[g.combatHexKey(d.combatID)]; !ok {
			return fmt.Errorf("detachment %s names combat %s which is not live", d.ID, d.combatID)
		}
	}
	for _, ev := range events {
		switch ev.Target.Kind {
		case clock.EntityDetachment:
			d, ok := g.detachments[ev.Target.ID]
			if !ok {
				return fmt.Errorf("event %d targets missing %s", ev.Seq, ev.Target)
			}
			if o := d.Orders.Active(); o == nil || o.Event != ev.Seq {
				return fmt.Errorf("event %d is not the active order tick of %s", ev.Seq, d.ID)
			}
		case clock.EntityCombat:
			c, ok := g.combats[ev.Target.ID]
			if !ok || c.Event != ev.Seq {
				return fmt.Errorf("event %d is not the pending check of %s", ev.Seq, ev.Target.ID)
			}
		default:
			return fmt.Errorf("event %d: unknown target kind %q", ev.Seq, ev.Target.Kind)
		}
	}

	if len(s.Victory) > 0 {
		g.victory = map[units.Side]int{}
		for side, pts := range s.Victory {
			g.victory[units.Side(side)] = pts
		}
	}
	g.nextDetachment = s.Counters.Detachment
	g.nextCombat = s.Counters.Combat
	g.nextOrder = s.Counters.Order
	g.nextCommand = s.Counters.Command
	return nil
}

func (g *Game) combatHexKey(id string) string {
	c, ok := g.combats[id]
	if !ok || g.liveByHex[c.Hex.Key()] != id {
		return ""
	}
	return c.Hex.Key()
}

func importOrder(ov snapshot.OrderV1) *orders.Order {
	return &orders.Order{
		ID:         ov.ID,
		Kind:       orders.Kind(ov.Kind),
		Dest:       hexgrid.Coord{Q: ov.Dest[0], R: ov.Dest[1]},
		ResultMode: units.Mode(ov.ResultMode),
		Rate:       units.Rate(ov.Rate),
		Mode:       units.Mode(ov.Mode),
		Unit:       ov.Unit,
		Target:     ov.Target,
		State:      orders.State(ov.State),
		Cancelling: ov.Cancelling,
		Aborting:   ov.Aborting,
		Event:      clock.Handle(ov.Event),
		StartedAt:  clock.SimTime(ov.StartedAt),
		PrevMode:   units.Mode(ov.PrevMode),
	}
}

func importInvolved(iv snapshot.InvolvedV1) *Involved {
	return &Involved{
		DetachmentID:  iv.DetachmentID,
		UnitID:        iv.UnitID,
		Side:          units.Side(iv.Side),
		Role:          Role(iv.Role),
		Preparation:   iv.Preparation,
		Edge:          hexgrid.EdgeType(iv.Edge),
		StartStrength: iv.StartStrength,
		Losses:        iv.Losses,
		AmmoUsed:      iv.AmmoUsed,
		DrawLoss:      iv.DrawLoss,
		DrawAmmo:      iv.DrawAmmo,
		AppliedLoss:   iv.AppliedLoss,
		AppliedAmmo:   iv.AppliedAmmo,
	}
}

// Save writes the game to path.
func (g *Game) Save(path string) error {
	if err := snapshot.WriteSnapshot(path, g.Export()); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	g.logf("saved to %s", path)
	return nil
}

// LoadGame reads a game written by Save.
func LoadGame(path string, opts Options) (*Game, error) {
	s, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %w", ErrSnapshot, path, err)
	}
	return Import(s, opts)
}

// Equal compares the full exported state of two games.
func Equal(a, b *Game) bool {
	if a == nil || b == nil {
		return a == b
	}
	return reflect.DeepEqual(a.Export(), b.Export())
}

// Equal reports whether g and other are in the same state.
func (g *Game) Equal(other *Game) bool { return Equal(g, other) }

// Digest is a sha256 over the canonical JSON encoding of the exported state.
func (g *Game) Digest() string {
	b, err := json.Marshal(g.Export())
	if err != nil {
		// Export holds only plain data; this cannot happen.
		panic(err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func copyIntMap(m map[string]int) map[string]int {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
