// Package dataplane abstracts the forwarding-plane programming done when
// endpoints attach locally or remote routes are imported. The daemon ships
// with a logging driver; real drivers plug in behind the same interfaces.
package dataplane

import "github.com/hashicorp/go-multierror"

// Driver is instantiated once per daemon and hands out one Handle per VPN
// instance.
type Driver interface {
	// Encap names the encapsulation the driver programs, e.g. "mpls" or
	// "vxlan". Routes advertised for its instances carry it.
	Encap() string
	// LocalAddress is the next hop advertised for locally attached
	// endpoints.
	LocalAddress() string
	Initialize(instanceID string) (Handle, error)
	Cleanup() error
}

// Handle programs the forwarding state of a single VPN instance. Calls are
// serialized by the instance worker, so implementations need no locking of
// their own.
type Handle interface {
	Plug(mac, ip, port string, label uint32) error
	// Unplug removes a local endpoint. lastOnPort is set when no other
	// endpoint remains attached through the same port.
	Unplug(mac, ip, port string, label uint32, lastOnPort bool) error
	// SetupRemoteEndpoint programs reachability for an imported route.
	SetupRemoteEndpoint(prefix, nextHop string, label uint32, encap string) error
	RemoveRemoteEndpoint(prefix, nextHop string, label uint32) error
	Release() error
}

// CleanupAll releases a set of handles and the driver, keeping every error.
func CleanupAll(d Driver, handles ...Handle) error {
	var result *multierror.Error
	for _, h := range handles {
		result = multierror.Append(result, h.Release())
	}
	result = multierror.Append(result, d.Cleanup())
	return result.ErrorOrNil()
}
