package game

import (
	"encoding/binary"
	"hash/fnv"
	"math/rand"

	"opwar.ai/internal/sim/clock"
	"opwar.ai/internal/sim/hexgrid"
	"opwar.ai/internal/sim/tuning"
	"opwar.ai/internal/sim/units"
)

// Combatant is the resolver's read-only view of one involved detachment.
type Combatant struct {
	DetachmentID  string
	UnitID        string
	Side          units.Side
	Personnel     int
	Strength      int
	StartStrength int
	Ammo          int
	Preparation   int
	Fatigue       int
	Intensity     int
	Edge          hexgrid.EdgeType
}

type ResolveInput struct {
	CombatID  string
	Hex       hexgrid.Coord
	Seed      int64
	Check     int            // index of the check being drawn, from 0
	Slice     clock.Duration // minutes the check covers
	Attackers []Combatant
	Defenders []Combatant
}

// Outcome of one check. Losses and Ammo are keyed by detachment id and are
// spread evenly over the check's slice as it runs.
type Outcome struct {
	Losses       map[string]int
	Ammo         map[string]int
	NextCheck    clock.Duration
	StillEngaged bool
}

// Resolver is the numeric combat model. The kernel only decides when it runs
// and applies what it reports. Resolve must not keep state between calls.
type Resolver interface {
	FirstCheck(in ResolveInput) (clock.Duration, error)
	Resolve(in ResolveInput) (Outcome, error)
}

// AttritionModel is a small deterministic stand-in model: each side inflicts
// losses proportional to its fighting power, and a side that drops below the
// break threshold disengages. Randomness is derived from the seed, combat id
// and check index, so a check always draws the same way.
type AttritionModel struct {
	cfg tuning.Combat
}

func NewAttritionModel(t tuning.Tuning) *AttritionModel {
	t.ApplyDefaults()
	return &AttritionModel{cfg: t.Combat}
}

func (m *AttritionModel) FirstCheck(in ResolveInput) (clock.Duration, error) {
	prep := 0
	for _, a := range in.Attackers {
		prep += a.Preparation
	}
	if n := len(in.Attackers); n > 0 {
		prep /= n
	}
	d := int64(m.cfg.CheckMinutes) * int64(1000-clampPermille(prep)/2) / 1000
	return m.clampDelay(d), nil
}

func (m *AttritionModel) Resolve(in ResolveInput) (Outcome, error) {
	rng := rand.New(rand.NewSource(sliceSeed(in.Seed, in.CombatID, in.Check)))
	out := Outcome{Losses: map[string]int{}, Ammo: map[string]int{}}

	atk := power(in.Attackers)
	def := power(in.Defenders) * m.edgeBonus(in.Attackers) / 1000

	minutes := int64(in.Slice)
	// noise in [750, 1250] permille
	atkNoise := int64(750 + rng.Intn(501))
	defNoise := int64(750 + rng.Intn(501))
	toDefenders := atk * int64(m.cfg.LossRatePermille) * minutes * atkNoise / (1000 * 60 * 1000 * 1000)
	toAttackers := def * int64(m.cfg.LossRatePermille) * minutes * defNoise / (1000 * 60 * 1000 * 1000)
	spread(out.Losses, in.Defenders, toDefenders)
	spread(out.Losses, in.Attackers, toAttackers)

	ammo := int64(m.cfg.AmmoPerCheck) * minutes / int64(m.cfg.CheckMinutes)
	for _, c := range append(append([]Combatant(nil), in.Attackers...), in.Defenders...) {
		if c.Ammo > 0 {
			use := int(ammo)
			if use > c.Ammo {
				use = c.Ammo
			}
			out.Ammo[c.DetachmentID] = use
		}
	}

	out.StillEngaged = !m.broken(in.Attackers, out.Losses) && !m.broken(in.Defenders, out.Losses)

	intensity := 0
	n := 0
	for _, c := range in.Attackers {
		intensity += c.Intensity
		n++
	}
	for _, c := range in.Defenders {
		intensity += c.Intensity
		n++
	}
	if n > 0 {
		intensity /= n
	}
	out.NextCheck = m.clampDelay(int64(m.cfg.CheckMinutes) * 1000 / int64(500+clampPermille(intensity)))
	return out, nil
}

func (m *AttritionModel) clampDelay(d int64) clock.Duration {
	if d < int64(m.cfg.MinCheckMinutes) {
		d = int64(m.cfg.MinCheckMinutes)
	}
	return clock.Duration(d)
}

func (m *AttritionModel) edgeBonus(attackers []Combatant) int64 {
	bonus := int64(1000)
	for _, a := range attackers {
		switch a.Edge {
		case hexgrid.EdgeCoast:
			if int64(m.cfg.CoastDefensePermille) > bonus {
				bonus = int64(m.cfg.CoastDefensePermille)
			}
		case hexgrid.EdgeRiver:
			if int64(m.cfg.RiverDefensePermille) > bonus {
				bonus = int64(m.cfg.RiverDefensePermille)
			}
		}
	}
	return bonus
}

func (m *AttritionModel) broken(side []Combatant, losses map[string]int) bool {
	start, left := 0, 0
	for _, c := range side {
		start += c.StartStrength
		p := c.Personnel - losses[c.DetachmentID]
		if p < 0 {
			p = 0
		}
		left += c.Strength - (c.Personnel - p)
	}
	if start <= 0 {
		return true
	}
	return int64(left)*1000 < int64(start)*int64(m.cfg.BreakPermille)
}

// power is the side's fighting weight in thousandths of a strength point.
func power(side []Combatant) int64 {
	var total int64
	for _, c := range side {
		p := int64(c.Strength) * 1000
		if c.Ammo <= 0 {
			p = p * 300 / 1000
		}
		p = p * int64(1000+clampPermille(c.Preparation)) / 1000
		p = p * int64(1000-clampPermille(c.Fatigue)/2) / 1000
		total += p
	}
	return total
}

// spread divides total losses across side by personnel share. The remainder
// goes to the largest detachments first, ties by order.
func spread(dst map[string]int, side []Combatant, total int64) {
	if total <= 0 {
		return
	}
	var personnel int64
	for _, c := range side {
		personnel += int64(c.Personnel)
	}
	if personnel <= 0 {
		return
	}
	if total > personnel {
		total = personnel
	}
	var assigned int64
	for _, c := range side {
		l := total * int64(c.Personnel) / personnel
		dst[c.DetachmentID] += int(l)
		assigned += l
	}
	for assigned < total {
		best := -1
		for i, c := range side {
			if int64(dst[c.DetachmentID]) >= int64(c.Personnel) {
				continue
			}
			if best < 0 || c.Personnel > side[best].Personnel {
				best = i
			}
		}
		if best < 0 {
			return
		}
		dst[side[best].DetachmentID]++
		assigned++
	}
}

func clampPermille(v int) int {
	if v < 0 {
		return 0
	}
	if v > 1000 {
		return 1000
	}
	return v
}

func sliceSeed(seed int64, combatID string, check int) int64 {
	h := fnv.New64a()
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(seed))
	h.Write(tmp[:])
	h.Write([]byte(combatID))
	binary.LittleEndian.PutUint64(tmp[:], uint64(check))
	h.Write(tmp[:])
	return int64(h.Sum64() >> 1)
}
