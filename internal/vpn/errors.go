package vpn

import (
	"errors"
	"fmt"
)

var (
	// ErrStopped is returned by calls made after an instance shut down.
	ErrStopped = errors.New("instance stopped")

	// ErrDataplane wraps forwarding-plane failures. The triggering
	// operation is rolled back; the instance stays usable.
	ErrDataplane = errors.New("dataplane failure")
)

// EndpointConflict reports a plug or unplug call that would violate the
// endpoint index invariants. It is pure validation: the call had no side
// effects.
type EndpointConflict struct {
	Reason string
	MAC    string
	IP     string
}

func (e *EndpointConflict) Error() string {
	return fmt.Sprintf("endpoint conflict for %s/%s: %s", e.MAC, e.IP, e.Reason)
}

// IsConflict reports whether err is an EndpointConflict.
func IsConflict(err error) bool {
	var conflict *EndpointConflict
	return errors.As(err, &conflict)
}
