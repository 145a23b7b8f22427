package orders

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid order transition")
	ErrUnknownOrder      = errors.New("unknown order")
	// ErrStaleUndo means the intent being undone was already observed by a tick.
	ErrStaleUndo = errors.New("undo no longer applicable")
)

// Queue is a detachment's ordered list of standing orders. When non-empty,
// the head is the single ACTIVE order and every other entry is PENDING.
type Queue struct {
	orders []*Order
}

// CancelRecord is the undo token for Unpost and RequestCancel.
type CancelRecord struct {
	OrderID string

	unposted bool
	order    *Order
	index    int

	prevCancelling bool
	prevAborting   bool
}

func (q *Queue) Len() int { return len(q.orders) }

// Orders returns the queue contents, head first.
func (q *Queue) Orders() []*Order {
	out := make([]*Order, len(q.orders))
	copy(out, q.orders)
	return out
}

func (q *Queue) Active() *Order {
	if len(q.orders) == 0 || q.orders[0].State != StateActive {
		return nil
	}
	return q.orders[0]
}

func (q *Queue) ActiveCount() int {
	n := 0
	for _, o := range q.orders {
		if o.State == StateActive {
			n++
		}
	}
	return n
}

func (q *Queue) Find(id string) (*Order, int) {
	for i, o := range q.orders {
		if o.ID == id {
			return o, i
		}
	}
	return nil, -1
}

// Post appends o. If the queue was empty o becomes ACTIVE at once and Post
// reports activated=true; the caller schedules its first check-point.
func (q *Queue) Post(o *Order) (activated bool, err error) {
	if err := o.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	if o.State != StatePending || o.Cancelling || o.Aborting {
		return false, fmt.Errorf("%w: post %s in state %s", ErrInvalidTransition, o.ID, o.State)
	}
	if existing, _ := q.Find(o.ID); existing != nil {
		return false, fmt.Errorf("%w: duplicate order id %s", ErrInvalidTransition, o.ID)
	}
	if len(q.orders) > 0 {
		if q.orders[0].State != StateActive {
			return false, fmt.Errorf("%w: queue head %s is %s", ErrInvalidTransition, q.orders[0].ID, q.orders[0].State)
		}
		q.orders = append(q.orders, o)
		return false, nil
	}
	o.State = StateActive
	q.orders = append(q.orders, o)
	return true, nil
}

// Unpost removes a PENDING order without touching any event.
func (q *Queue) Unpost(id string) (CancelRecord, error) {
	o, i := q.Find(id)
	if o == nil {
		return CancelRecord{}, fmt.Errorf("%w: %s", ErrUnknownOrder, id)
	}
	if o.State != StatePending {
		return CancelRecord{}, fmt.Errorf("%w: unpost %s in state %s", ErrInvalidTransition, id, o.State)
	}
	q.orders = append(q.orders[:i], q.orders[i+1:]...)
	o.State = StateCancelled
	return CancelRecord{OrderID: id, unposted: true, order: o, index: i}, nil
}

// RequestCancel records the intent to stop an order. PENDING orders are
// unposted; ACTIVE orders are flagged and stop at their next check-point.
func (q *Queue) RequestCancel(id string, abort bool) (CancelRecord, error) {
	o, _ := q.Find(id)
	if o == nil {
		return CancelRecord{}, fmt.Errorf("%w: %s", ErrUnknownOrder, id)
	}
	switch o.State {
	case StatePending:
		return q.Unpost(id)
	case StateActive:
		rec := CancelRecord{OrderID: id, order: o, prevCancelling: o.Cancelling, prevAborting: o.Aborting}
		o.Cancelling = true
		if abort {
			o.Aborting = true
		}
		return rec, nil
	}
	return CancelRecord{}, fmt.Errorf("%w: cancel %s in state %s", ErrInvalidTransition, id, o.State)
}

// Undo reverts an Unpost or RequestCancel. A re-inserted order that lands at
// the head of an empty queue becomes ACTIVE and Undo reports activated=true.
func (q *Queue) Undo(rec CancelRecord) (activated bool, err error) {
	o := rec.order
	if o == nil {
		return false, fmt.Errorf("%w: empty record", ErrStaleUndo)
	}
	if rec.unposted {
		if o.State != StateCancelled {
			return false, fmt.Errorf("%w: %s is %s", ErrStaleUndo, o.ID, o.State)
		}
		if existing, _ := q.Find(o.ID); existing != nil {
			return false, fmt.Errorf("%w: %s already queued", ErrStaleUndo, o.ID)
		}
		idx := rec.index
		if idx > len(q.orders) {
			idx = len(q.orders)
		}
		if len(q.orders) == 0 {
			o.State = StateActive
			q.orders = append(q.orders, o)
			return true, nil
		}
		if idx == 0 {
			idx = 1
		}
		o.State = StatePending
		q.orders = append(q.orders, nil)
		copy(q.orders[idx+1:], q.orders[idx:])
		q.orders[idx] = o
		return false, nil
	}
	if cur, _ := q.Find(o.ID); cur != o || o.State != StateActive {
		return false, fmt.Errorf("%w: %s is %s", ErrStaleUndo, o.ID, o.State)
	}
	o.Cancelling = rec.prevCancelling
	o.Aborting = rec.prevAborting
	return false, nil
}

// Finish moves the ACTIVE head to a terminal state and promotes the next
// order, if any, to ACTIVE.
func (q *Queue) Finish(state State) (finished, next *Order, err error) {
	if !state.Terminal() {
		return nil, nil, fmt.Errorf("%w: finish into %s", ErrInvalidTransition, state)
	}
	head := q.Active()
	if head == nil {
		return nil, nil, fmt.Errorf("%w: no active order", ErrInvalidTransition)
	}
	head.State = state
	head.Event = 0
	q.orders[0] = nil
	q.orders = q.orders[1:]
	if len(q.orders) > 0 {
		next = q.orders[0]
		next.State = StateActive
	}
	return head, next, nil
}

// Drain empties the queue: the active order is aborted, pending ones are
// cancelled. Used when the owning detachment leaves the map.
func (q *Queue) Drain() []*Order {
	out := q.orders
	for _, o := range out {
		switch o.State {
		case StateActive:
			o.State = StateAborted
		case StatePending:
			o.State = StateCancelled
		}
		o.Event = 0
	}
	q.orders = nil
	return out
}

// Restore replaces the queue contents after checking the queue invariants.
func (q *Queue) Restore(list []*Order) error {
	seen := map[string]bool{}
	for i, o := range list {
		if err := o.Validate(); err != nil {
			return err
		}
		if seen[o.ID] {
			return fmt.Errorf("restore: duplicate order %s", o.ID)
		}
		seen[o.ID] = true
		want := StatePending
		if i == 0 {
			want = StateActive
		}
		if o.State != want {
			return fmt.Errorf("restore: order %s at %d is %s, want %s", o.ID, i, o.State, want)
		}
		if i > 0 && (o.Cancelling || o.Aborting) {
			return fmt.Errorf("restore: pending order %s carries cancel flags", o.ID)
		}
	}
	q.orders = append([]*Order(nil), list...)
	return nil
}
