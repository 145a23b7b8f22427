package clock

import "sort"

type item struct {
	ev    Event
	index int
}

// eventHeap orders by fire time, then sequence number.
type eventHeap []*item

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool { return eventLess(h[i].ev, h[j].ev) }

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *eventHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

func eventLess(a, b Event) bool {
	if a.FireTime != b.FireTime {
		return a.FireTime < b.FireTime
	}
	return a.Seq < b.Seq
}

func sortEvents(evs []Event) {
	sort.Slice(evs, func(i, j int) bool { return eventLess(evs[i], evs[j]) })
}
