package vpn

import (
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/netgrove/vpnd/internal/bus"
	"github.com/netgrove/vpnd/internal/dataplane"
	"github.com/netgrove/vpnd/internal/routing"
)

type mockDriver struct {
	mock.Mock
}

func (m *mockDriver) Encap() string        { return m.Called().String(0) }
func (m *mockDriver) LocalAddress() string { return m.Called().String(0) }

func (m *mockDriver) Initialize(instanceID string) (dataplane.Handle, error) {
	args := m.Called(instanceID)
	if h := args.Get(0); h != nil {
		return h.(dataplane.Handle), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDriver) Cleanup() error { return m.Called().Error(0) }

type mockHandle struct {
	mock.Mock
}

func (m *mockHandle) Plug(mac, ip, port string, label uint32) error {
	return m.Called(mac, ip, port, label).Error(0)
}

func (m *mockHandle) Unplug(mac, ip, port string, label uint32, lastOnPort bool) error {
	return m.Called(mac, ip, port, label, lastOnPort).Error(0)
}

func (m *mockHandle) SetupRemoteEndpoint(prefix, nextHop string, label uint32, encap string) error {
	return m.Called(prefix, nextHop, label, encap).Error(0)
}

func (m *mockHandle) RemoveRemoteEndpoint(prefix, nextHop string, label uint32) error {
	return m.Called(prefix, nextHop, label).Error(0)
}

func (m *mockHandle) Release() error { return m.Called().Error(0) }

type mockRedirect struct {
	mock.Mock
}

func (m *mockRedirect) StartRedirect(rt string) error { return m.Called(rt).Error(0) }
func (m *mockRedirect) StopRedirect(rt string) error  { return m.Called(rt).Error(0) }

// eventRecorder keeps bus events in publish order. The fixture taps it
// behind a source filter, so only engine-emitted events are recorded.
type eventRecorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *eventRecorder) record(ev bus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) all() []bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bus.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) count(typ bus.EventType) int {
	n := 0
	for _, ev := range r.all() {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (r *eventRecorder) byPrefix(typ bus.EventType, prefix string) []routing.Entry {
	var out []routing.Entry
	for _, ev := range r.all() {
		if ev.Type == typ && !ev.Entry.IsFlow() && ev.Entry.NLRI.Prefix == prefix {
			out = append(out, ev.Entry)
		}
	}
	return out
}

func (r *eventRecorder) flows(typ bus.EventType) []routing.Entry {
	var out []routing.Entry
	for _, ev := range r.all() {
		if ev.Type == typ && ev.Entry.IsFlow() {
			out = append(out, ev.Entry)
		}
	}
	return out
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
