package vpn

import (
	"github.com/google/uuid"

	"github.com/netgrove/vpnd/internal/bus"
)

type eventBus interface {
	Publish(bus.Event)
	Subscribe(id uuid.UUID, h bus.Handler, rts ...string)
	Retarget(id uuid.UUID, rts ...string)
	Unsubscribe(id uuid.UUID)
}

type labelAllocator interface {
	Allocate(description string) (uint32, error)
	Release(label uint32)
}

type rdAllocator interface {
	Allocate(description string) (string, error)
	Release(rd string)
}

// redirectClient is told when traffic redirection toward a route target
// starts and stops. The callbacks fire on the empty/non-empty transitions of
// the classifier set, never in between.
type redirectClient interface {
	StartRedirect(rt string) error
	StopRedirect(rt string) error
}
