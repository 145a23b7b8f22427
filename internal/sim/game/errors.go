package game

import "errors"

// Recoverable failures. The operation that returns one of these leaves the
// game state unchanged.
var (
	ErrUnknownDetachment = errors.New("unknown detachment")
	ErrUnknownCombat     = errors.New("unknown combat")
	ErrAlreadyPlaced     = errors.New("unit already placed")
	ErrEmptyDetachment   = errors.New("detachment has nothing left to fight with")
	ErrAlreadyInvolved   = errors.New("detachment already involved in a combat")
	ErrNotAdjacent       = errors.New("detachment not at or next to the combat hex")
	ErrCombatResolved    = errors.New("combat already resolved")
	ErrNotEngageable     = errors.New("combat needs an attacker and a defender")
	ErrNotCurrent        = errors.New("combat not reconciled to the current time")
	ErrInvalidCommand    = errors.New("invalid command")
	ErrSideConflict      = errors.New("detachment is on the wrong side for that role")
	ErrInvalidEdge       = errors.New("invalid edge type")
)

// ErrResolution wraps failures reported by the Resolver.
var ErrResolution = errors.New("combat resolution failed")

// ErrUnknownTarget is returned from dispatch when an event names an entity
// that no longer exists. It halts Execute.
var ErrUnknownTarget = errors.New("event target does not exist")

// ErrSnapshot is returned when a snapshot cannot be turned back into a game.
var ErrSnapshot = errors.New("bad snapshot")
