package orders

import (
	"errors"
	"testing"

	"opwar.ai/internal/sim/hexgrid"
	"opwar.ai/internal/sim/units"
)

func move(id string) *Order {
	return NewMove(id, hexgrid.Coord{Q: 1}, units.RateFast, units.ModeDefend)
}

func assertSingleActive(t *testing.T, q *Queue) {
	t.Helper()
	if n := q.ActiveCount(); n > 1 {
		t.Fatalf("%d active orders", n)
	}
	for i, o := range q.Orders() {
		if i == 0 && o.State != StateActive {
			t.Fatalf("head %s is %s", o.ID, o.State)
		}
		if i > 0 && o.State != StatePending {
			t.Fatalf("order %s at %d is %s", o.ID, i, o.State)
		}
	}
}

func TestPost_FirstActivatesRestQueue(t *testing.T) {
	var q Queue
	act, err := q.Post(move("O1"))
	if err != nil || !act {
		t.Fatalf("first post: activated=%v err=%v", act, err)
	}
	act, err = q.Post(NewSetMode("O2", units.ModeRest))
	if err != nil || act {
		t.Fatalf("second post: activated=%v err=%v", act, err)
	}
	if q.Active().ID != "O1" {
		t.Fatalf("active=%s", q.Active().ID)
	}
	assertSingleActive(t, &q)
}

func TestPost_RejectsWithoutMutation(t *testing.T) {
	var q Queue
	q.Post(move("O1"))
	if _, err := q.Post(move("O1")); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("duplicate id: %v", err)
	}
	done := move("O2")
	done.State = StateCompleted
	if _, err := q.Post(done); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("terminal order: %v", err)
	}
	if _, err := q.Post(NewSetMode("O3", units.ModeUnplaced)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("unplaced mode: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("len=%d after rejected posts", q.Len())
	}
}

func TestUnpost_OnlyPending(t *testing.T) {
	var q Queue
	q.Post(move("O1"))
	q.Post(move("O2"))
	if _, err := q.Unpost("O1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("unpost active: %v", err)
	}
	rec, err := q.Unpost("O2")
	if err != nil {
		t.Fatalf("unpost pending: %v", err)
	}
	if q.Len() != 1 || rec.order.State != StateCancelled {
		t.Fatalf("after unpost len=%d state=%s", q.Len(), rec.order.State)
	}
	if _, err := q.Unpost("nope"); !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("unpost unknown: %v", err)
	}
}

func TestRequestCancel_ActiveSetsFlagsAndUndoRestores(t *testing.T) {
	var q Queue
	q.Post(move("O1"))
	a := q.Active()
	a.Event = 42

	rec, err := q.RequestCancel("O1", false)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !a.Cancelling || a.Aborting || a.State != StateActive || a.Event != 42 {
		t.Fatalf("after cancel: %+v", a)
	}
	abortRec, err := q.RequestCancel("O1", true)
	if err != nil || !a.Aborting {
		t.Fatalf("abort: %v %+v", err, a)
	}
	if _, err := q.Undo(abortRec); err != nil {
		t.Fatalf("undo abort: %v", err)
	}
	if !a.Cancelling || a.Aborting {
		t.Fatalf("undo abort should leave the earlier cancel: %+v", a)
	}
	if _, err := q.Undo(rec); err != nil {
		t.Fatalf("undo cancel: %v", err)
	}
	if a.Cancelling || a.Aborting || a.State != StateActive || a.Event != 42 {
		t.Fatalf("after undo: %+v", a)
	}
}

func TestRequestCancel_PendingUndoReinsertsAtIndex(t *testing.T) {
	var q Queue
	q.Post(move("O1"))
	q.Post(move("O2"))
	q.Post(move("O3"))
	rec, err := q.RequestCancel("O2", false)
	if err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	if q.Len() != 2 {
		t.Fatalf("len=%d", q.Len())
	}
	if _, err := q.Undo(rec); err != nil {
		t.Fatalf("undo: %v", err)
	}
	got := q.Orders()
	if len(got) != 3 || got[1].ID != "O2" || got[1].State != StatePending {
		t.Fatalf("after undo: %v", ids(got))
	}
	assertSingleActive(t, &q)
	if _, err := q.Undo(rec); !errors.Is(err, ErrStaleUndo) {
		t.Fatalf("double undo: %v", err)
	}
}

func TestUndo_StaleAfterTick(t *testing.T) {
	var q Queue
	q.Post(move("O1"))
	rec, _ := q.RequestCancel("O1", false)
	q.Finish(StateCancelled)
	if _, err := q.Undo(rec); !errors.Is(err, ErrStaleUndo) {
		t.Fatalf("undo after tick: %v", err)
	}
}

func TestUndo_UnpostIntoEmptyQueueActivates(t *testing.T) {
	var q Queue
	q.Post(move("O1"))
	q.Post(move("O2"))
	rec, _ := q.Unpost("O2")
	q.Finish(StateCompleted)
	act, err := q.Undo(rec)
	if err != nil || !act {
		t.Fatalf("undo into empty queue: act=%v err=%v", act, err)
	}
	if q.Active() == nil || q.Active().ID != "O2" {
		t.Fatalf("restored order not active")
	}
}

func TestFinish_PromotesNext(t *testing.T) {
	var q Queue
	q.Post(move("O1"))
	q.Post(move("O2"))
	fin, next, err := q.Finish(StateCompleted)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if fin.ID != "O1" || fin.State != StateCompleted {
		t.Fatalf("finished %+v", fin)
	}
	if next == nil || next.ID != "O2" || next.State != StateActive {
		t.Fatalf("next %+v", next)
	}
	if _, _, err := q.Finish(StateActive); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("finish into non-terminal: %v", err)
	}
	q.Finish(StateAborted)
	if _, _, err := q.Finish(StateCompleted); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("finish on empty: %v", err)
	}
}

func TestDrain(t *testing.T) {
	var q Queue
	q.Post(move("O1"))
	q.Post(move("O2"))
	out := q.Drain()
	if q.Len() != 0 || out[0].State != StateAborted || out[1].State != StateCancelled {
		t.Fatalf("drain: %v", out)
	}
}

func TestRestore_ValidatesInvariants(t *testing.T) {
	var q Queue
	a, b := move("O1"), move("O2")
	a.State = StateActive
	if err := q.Restore([]*Order{a, b}); err != nil {
		t.Fatalf("restore: %v", err)
	}
	c, d := move("X1"), move("X2")
	c.State, d.State = StateActive, StateActive
	if err := q.Restore([]*Order{c, d}); err == nil {
		t.Fatalf("two active orders restored")
	}
	if q.Len() != 2 || q.Active().ID != "O1" {
		t.Fatalf("failed restore mutated queue")
	}
}

func TestValidate(t *testing.T) {
	if err := NewConverge("C1", "U1", "U1", units.RateSlow).Validate(); err == nil {
		t.Fatalf("converge on itself validated")
	}
	if err := NewJoin("J1", "", units.RateSlow).Validate(); err == nil {
		t.Fatalf("join without target validated")
	}
	if err := NewMove("M1", hexgrid.Coord{}, "WARP", "").Validate(); err == nil {
		t.Fatalf("bad rate validated")
	}
}

func ids(list []*Order) []string {
	out := make([]string, 0, len(list))
	for _, o := range list {
		out = append(out, o.ID)
	}
	return out
}
