package game

import (
	"opwar.ai/internal/sim/clock"
	"opwar.ai/internal/sim/hexgrid"
	"opwar.ai/internal/sim/units"
)

// TallySink receives one report per resolved combat. Sinks run inside
// dispatch and must not call back into the game.
type TallySink interface {
	RecordCombat(r CombatReport)
}

type CombatReport struct {
	ScenarioID   string              `json:"scenario_id"`
	CombatID     string              `json:"combat_id"`
	Hex          hexgrid.Coord       `json:"hex"`
	Start        clock.SimTime       `json:"start"`
	End          clock.SimTime       `json:"end"`
	Checks       int                 `json:"checks"`
	Seed         int64               `json:"seed"`
	Winner       units.Side          `json:"winner,omitempty"`
	Participants []ParticipantReport `json:"participants"`
}

type ParticipantReport struct {
	UnitID       string     `json:"unit_id"`
	DetachmentID string     `json:"detachment_id"`
	Side         units.Side `json:"side"`
	Role         Role       `json:"role"`
	Losses       int        `json:"losses"`
	AmmoUsed     int        `json:"ammo_used"`
}

func (c *Combat) report() CombatReport {
	r := CombatReport{
		ScenarioID: c.g.cfg.ID,
		CombatID:   c.ID,
		Hex:        c.Hex,
		Start:      c.StartedAt,
		End:        c.EndedAt,
		Checks:     c.Checks,
		Seed:       c.g.cfg.Seed,
		Winner:     c.Winner,
	}
	for _, inv := range c.members() {
		r.Participants = append(r.Participants, ParticipantReport{
			UnitID:       inv.UnitID,
			DetachmentID: inv.DetachmentID,
			Side:         inv.Side,
			Role:         inv.Role,
			Losses:       inv.Losses,
			AmmoUsed:     inv.AmmoUsed,
		})
	}
	return r
}
