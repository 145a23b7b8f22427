// Package clock holds the authoritative simulation time and the queue of
// pending events.
//
// Time only moves through AdvanceTo. Events are ordered by fire time; events
// sharing a fire time dispatch in the order they were scheduled, so two runs
// fed the same commands dispatch the same sequence.
//
// A Clock is not goroutine-safe. The simulation has a single thread of control.
package clock

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
)

// SimTime is a count of elapsed minutes since the scenario epoch.
type SimTime int64

// Duration is a span of simulated minutes.
type Duration int64

// Add returns t+d. Overflow is a logic error and panics.
func (t SimTime) Add(d Duration) SimTime {
	if d > 0 && int64(t) > math.MaxInt64-int64(d) {
		panic(fmt.Sprintf("clock: SimTime overflow: %d + %d", t, d))
	}
	if d < 0 && int64(t) < math.MinInt64-int64(d) {
		panic(fmt.Sprintf("clock: SimTime underflow: %d + %d", t, d))
	}
	return t + SimTime(d)
}

// Sub returns t-u.
func (t SimTime) Sub(u SimTime) Duration { return Duration(t - u) }

func (t SimTime) String() string {
	m := int64(t)
	sign := ""
	if m < 0 {
		sign = "-"
		m = -m
	}
	return fmt.Sprintf("%sD%d+%02d:%02d", sign, m/(24*60), (m/60)%24, m%60)
}

var (
	// ErrInvalidTime is returned when an event would fire before the current time.
	ErrInvalidTime = errors.New("clock: fire time before now")
	// ErrTimeBackward is returned when AdvanceTo is asked to move time backward.
	ErrTimeBackward = errors.New("clock: advance target before now")
	// ErrReentrant is returned when AdvanceTo is called from inside a dispatch.
	ErrReentrant = errors.New("clock: advance called during dispatch")
)

type EntityKind string

const (
	EntityDetachment EntityKind = "detachment"
	EntityCombat     EntityKind = "combat"
)

// EntityRef names the entity an event reconciles. It is a lookup key, never
// an owning reference.
type EntityRef struct {
	Kind EntityKind
	ID   string
}

func (r EntityRef) String() string { return string(r.Kind) + ":" + r.ID }

type EventKind string

const (
	KindOrderTick   EventKind = "ORDER_TICK"
	KindCombatCheck EventKind = "COMBAT_CHECK"
)

// Handle identifies a scheduled event. The zero Handle refers to nothing.
type Handle uint64

// Event is a scheduled unit of work.
type Event struct {
	Seq      Handle
	FireTime SimTime
	Target   EntityRef
	Kind     EventKind
}

// Handler runs the body of a dispatched event.
type Handler interface {
	Dispatch(ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ev Event) error

func (f HandlerFunc) Dispatch(ev Event) error { return f(ev) }

type Clock struct {
	now     SimTime
	nextSeq Handle
	q       eventHeap
	bySeq   map[Handle]*item

	active      Event
	dispatching bool
}

func New(start SimTime) *Clock {
	return &Clock{
		now:   start,
		bySeq: map[Handle]*item{},
	}
}

func (c *Clock) Now() SimTime { return c.now }

// Len reports the number of pending events.
func (c *Clock) Len() int { return len(c.q) }

// Active returns the event currently being dispatched, if any.
func (c *Clock) Active() (Event, bool) {
	if !c.dispatching {
		return Event{}, false
	}
	return c.active, true
}

// Scheduled reports whether h is still pending.
func (c *Clock) Scheduled(h Handle) bool {
	_, ok := c.bySeq[h]
	return ok
}

// FireTime returns the fire time of a pending event.
func (c *Clock) FireTime(h Handle) (SimTime, bool) {
	it, ok := c.bySeq[h]
	if !ok {
		return 0, false
	}
	return it.ev.FireTime, true
}

func (c *Clock) Schedule(fire SimTime, target EntityRef, kind EventKind) (Handle, error) {
	if fire < c.now {
		return 0, fmt.Errorf("%w: schedule %s %s at %d (now %d)", ErrInvalidTime, kind, target, fire, c.now)
	}
	c.nextSeq++
	it := &item{ev: Event{Seq: c.nextSeq, FireTime: fire, Target: target, Kind: kind}}
	heap.Push(&c.q, it)
	c.bySeq[it.ev.Seq] = it
	return it.ev.Seq, nil
}

// Reschedule moves a pending event to a new fire time. The event keeps its
// sequence number, so it still wins ties against events scheduled after it.
// Handles that already fired are ignored.
func (c *Clock) Reschedule(h Handle, fire SimTime) error {
	it, ok := c.bySeq[h]
	if !ok {
		return nil
	}
	if fire < c.now {
		return fmt.Errorf("%w: reschedule %d to %d (now %d)", ErrInvalidTime, h, fire, c.now)
	}
	it.ev.FireTime = fire
	heap.Fix(&c.q, it.index)
	return nil
}

// Unschedule removes a pending event. It reports whether anything was removed.
func (c *Clock) Unschedule(h Handle) bool {
	it, ok := c.bySeq[h]
	if !ok {
		return false
	}
	heap.Remove(&c.q, it.index)
	delete(c.bySeq, h)
	return true
}

// AdvanceTo dispatches every event with FireTime <= target in order, then
// sets the current time to target. Each event leaves the queue before its
// handler runs. A handler error halts the advance with the clock left at the
// failing event's fire time.
func (c *Clock) AdvanceTo(target SimTime, h Handler) error {
	if c.dispatching {
		return ErrReentrant
	}
	if target < c.now {
		return fmt.Errorf("%w: %d < %d", ErrTimeBackward, target, c.now)
	}
	for len(c.q) > 0 && c.q[0].ev.FireTime <= target {
		it := heap.Pop(&c.q).(*item)
		delete(c.bySeq, it.ev.Seq)
		c.now = it.ev.FireTime

		c.active = it.ev
		c.dispatching = true
		err := h.Dispatch(it.ev)
		c.dispatching = false
		c.active = Event{}
		if err != nil {
			return fmt.Errorf("dispatch %s %s at %d: %w", it.ev.Kind, it.ev.Target, it.ev.FireTime, err)
		}
	}
	c.now = target
	return nil
}

// PurgeAll drops every pending event without running it. Time is unchanged.
func (c *Clock) PurgeAll() int {
	n := len(c.q)
	c.q = c.q[:0]
	c.bySeq = map[Handle]*item{}
	return n
}

// Pending returns the queued events in dispatch order.
func (c *Clock) Pending() []Event {
	out := make([]Event, 0, len(c.q))
	for _, it := range c.q {
		out = append(out, it.ev)
	}
	sortEvents(out)
	return out
}

// State exposes what a snapshot needs to rebuild the clock.
func (c *Clock) State() (now SimTime, nextSeq Handle, events []Event) {
	return c.now, c.nextSeq, c.Pending()
}

// Restore replaces the clock contents. It is all-or-nothing: on error the
// clock is unchanged.
func (c *Clock) Restore(now SimTime, nextSeq Handle, events []Event) error {
	if c.dispatching {
		return ErrReentrant
	}
	bySeq := make(map[Handle]*item, len(events))
	q := make(eventHeap, 0, len(events))
	for _, ev := range events {
		if ev.Seq == 0 || ev.Seq > nextSeq {
			return fmt.Errorf("clock restore: bad sequence %d (next %d)", ev.Seq, nextSeq)
		}
		if ev.FireTime < now {
			return fmt.Errorf("%w: restore event %d at %d (now %d)", ErrInvalidTime, ev.Seq, ev.FireTime, now)
		}
		if _, dup := bySeq[ev.Seq]; dup {
			return fmt.Errorf("clock restore: duplicate sequence %d", ev.Seq)
		}
		it := &item{ev: ev, index: len(q)}
		q = append(q, it)
		bySeq[ev.Seq] = it
	}
	heap.Init(&q)
	c.now = now
	c.nextSeq = nextSeq
	c.q = q
	c.bySeq = bySeq
	return nil
}
