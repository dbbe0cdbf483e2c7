// Package bus carries route events between VPN instances and the BGP
// exporter. Subscriptions are keyed by route target: a published event is
// delivered once to every subscriber interested in at least one of the
// route's targets, except the subscriber that originated it.
package bus

import (
	"sync"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/netgrove/vpnd/internal/routing"
	"github.com/netgrove/vpnd/internal/utils"
)

type EventType int

const (
	Advertise EventType = iota
	Withdraw
)

func (t EventType) String() string {
	if t == Advertise {
		return "advertise"
	}
	return "withdraw"
}

// Event is a route advertisement or withdrawal flowing through the bus.
// Source identifies the publishing worker so it never hears its own routes.
type Event struct {
	Type   EventType
	Entry  routing.Entry
	Source uuid.UUID
}

// Handler receives matched events. Implementations must not block: workers
// enqueue onto their own loop and return.
type Handler func(Event)

type Bus struct {
	handlers *xsync.Map[uuid.UUID, Handler]
	byRT     *utils.MapSet[string, uuid.UUID]

	tapMu sync.RWMutex
	taps  []Handler
}

func New() *Bus {
	return &Bus{
		handlers: xsync.NewMap[uuid.UUID, Handler](),
		byRT:     utils.NewMapSet[string, uuid.UUID](),
	}
}

// Tap registers a handler that sees every published event, regardless of
// route targets and source. The BGP exporter hangs off a tap.
func (b *Bus) Tap(h Handler) {
	b.tapMu.Lock()
	defer b.tapMu.Unlock()
	b.taps = append(b.taps, h)
}

// Subscribe registers the handler for the given route targets. Calling it
// again with the same id replaces the target set, which is how instances
// apply import-target changes.
func (b *Bus) Subscribe(id uuid.UUID, h Handler, rts ...string) {
	b.handlers.Store(id, h)
	b.retarget(id, rts)
}

// Retarget changes the route targets an existing subscriber listens on.
func (b *Bus) Retarget(id uuid.UUID, rts ...string) {
	b.retarget(id, rts)
}

func (b *Bus) retarget(id uuid.UUID, rts []string) {
	for _, rt := range b.byRT.Keys() {
		b.byRT.DeleteVal(rt, id)
	}
	for _, rt := range rts {
		b.byRT.Store(rt, id)
	}
}

func (b *Bus) Unsubscribe(id uuid.UUID) {
	b.retarget(id, nil)
	b.handlers.Delete(id)
}

// Publish delivers the event to every subscriber matching one of the entry's
// route targets. Delivery happens in the caller's goroutine, so events from a
// single publisher reach each subscriber in publication order.
func (b *Bus) Publish(ev Event) {
	b.tapMu.RLock()
	taps := b.taps
	b.tapMu.RUnlock()
	for _, tap := range taps {
		tap(ev)
	}

	delivered := make(map[uuid.UUID]bool)
	for rt := range ev.Entry.Targets.Iter() {
		ids, ok := b.byRT.Load(rt)
		if !ok {
			continue
		}
		for id := range ids.Iter() {
			if id == ev.Source || delivered[id] {
				continue
			}
			delivered[id] = true
			if h, ok := b.handlers.Load(id); ok {
				h(ev)
			}
		}
	}
}
