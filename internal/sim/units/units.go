// Package units is the order-of-battle side of the kernel: units, their
// sides and the modes a deployed detachment can adopt.
package units

import (
	"fmt"
	"strings"
)

type Mode string

const (
	ModeAttack    Mode = "ATTACK"
	ModeDefend    Mode = "DEFEND"
	ModeCommand   Mode = "COMMAND"
	ModeMove      Mode = "MOVE"
	ModeRest      Mode = "REST"
	ModeSecurity  Mode = "SECURITY"
	ModeTraining  Mode = "TRAINING"
	ModeEntrained Mode = "ENTRAINED"
	ModeUnplaced  Mode = "UNPLACED"
	ModeError     Mode = "ERROR"
)

var allModes = []Mode{
	ModeAttack, ModeDefend, ModeCommand, ModeMove, ModeRest,
	ModeSecurity, ModeTraining, ModeEntrained, ModeUnplaced, ModeError,
}

func (m Mode) Valid() bool {
	for _, v := range allModes {
		if v == m {
			return true
		}
	}
	return false
}

// Placeable reports whether a detachment may be created in mode m.
func (m Mode) Placeable() bool {
	return m.Valid() && m != ModeUnplaced && m != ModeError
}

func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown mode %q", s)
	}
	return m, nil
}

// Rate is the march rate of a movement order.
type Rate string

const (
	RateSlow   Rate = "SLOW"
	RateNormal Rate = "NORMAL"
	RateFast   Rate = "FAST"
)

func ParseRate(s string) (Rate, error) {
	r := Rate(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case "":
		return RateNormal, nil
	case RateSlow, RateNormal, RateFast:
		return r, nil
	}
	return "", fmt.Errorf("unknown rate %q", s)
}

type Side string

// Unit is an order-of-battle entry. Its Detachment (if any) lives in the game.
type Unit struct {
	ID        string
	Name      string
	Side      Side
	Personnel int
	Equipment int
	Ammo      int
	Combatant bool
	Placed    bool
}

// IsEmpty reports whether nothing is left to deploy or fight with.
func (u *Unit) IsEmpty() bool {
	return u == nil || (u.Personnel <= 0 && u.Equipment <= 0)
}

func (u *Unit) IsCombatant() bool { return u != nil && u.Combatant && !u.IsEmpty() }

// Strength is the fighting weight used by force ratios.
func (u *Unit) Strength() int {
	if u == nil {
		return 0
	}
	return u.Personnel + 10*u.Equipment
}

// ApplyLosses removes personnel and ammunition, clamping at zero.
func (u *Unit) ApplyLosses(personnel, ammo int) {
	if personnel > 0 {
		u.Personnel -= personnel
		if u.Personnel < 0 {
			u.Personnel = 0
		}
	}
	if ammo > 0 {
		u.Ammo -= ammo
		if u.Ammo < 0 {
			u.Ammo = 0
		}
	}
}

// Absorb folds other into u. other is left empty.
func (u *Unit) Absorb(other *Unit) {
	u.Personnel += other.Personnel
	u.Equipment += other.Equipment
	u.Ammo += other.Ammo
	other.Personnel, other.Equipment, other.Ammo = 0, 0, 0
	other.Placed = false
}

func (u *Unit) Clone() *Unit {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
