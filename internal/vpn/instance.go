// Package vpn implements the VPN instance and VRF engines: the stateful
// mapping between locally plugged endpoints, the routes advertised on their
// behalf, and the handling of remote route events. Each instance is driven
// by a single worker goroutine; instances share only the bus, the
// allocators and the dataplane driver.
package vpn

import (
	"fmt"
	"net"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/netgrove/vpnd/internal/bus"
	"github.com/netgrove/vpnd/internal/dataplane"
	"github.com/netgrove/vpnd/internal/routing"
)

const eventBufsize = 128

// hooks are the extension points the VRF engine plugs into. They run on the
// instance worker goroutine.
type hooks interface {
	endpointAdded(ep Endpoint, route routing.Entry)
	endpointRemoved(ep Endpoint, route routing.Entry)
	remoteEvent(ev bus.Event)
}

// Instance is the base VPN instance engine. It owns the endpoint index and
// the set of routes advertised for local endpoints.
type Instance struct {
	name   string
	log    logrus.FieldLogger
	worker *worker
	bus    eventBus
	driver dataplane.Driver
	labels labelAllocator
	rds    rdAllocator

	rd    string
	label uint32

	dp dataplane.Handle

	importRTs []string
	exportRTs []string
	// extraRTs widens the bus subscription beyond the import set. The VRF
	// engine puts its readvertise-from targets here.
	extraRTs []string

	index      *endpointIndex
	advertised map[Endpoint]routing.Entry
	remote     map[string]routing.Entry

	hooks hooks
}

func newInstance(
	name string,
	log logrus.FieldLogger,
	b eventBus,
	driver dataplane.Driver,
	labels labelAllocator,
	rds rdAllocator,
	importRTs, exportRTs []string,
) (*Instance, error) {
	rd, err := rds.Allocate(name)
	if err != nil {
		return nil, fmt.Errorf("instance %s: %w", name, err)
	}
	label, err := labels.Allocate(name)
	if err != nil {
		rds.Release(rd)
		return nil, fmt.Errorf("instance %s: %w", name, err)
	}
	i := &Instance{
		name:       name,
		log:        log.WithField("instance", name),
		worker:     newWorker(eventBufsize),
		bus:        b,
		driver:     driver,
		labels:     labels,
		rds:        rds,
		rd:         rd,
		label:      label,
		importRTs:  importRTs,
		exportRTs:  exportRTs,
		index:      newEndpointIndex(),
		advertised: make(map[Endpoint]routing.Entry),
		remote:     make(map[string]routing.Entry),
	}
	return i, nil
}

// start subscribes the instance on the bus. Separate from construction so
// the VRF engine can install its hooks first.
func (i *Instance) start() {
	i.bus.Subscribe(i.worker.id, i.enqueueEvent, i.subscriptionRTs()...)
}

func (i *Instance) Name() string { return i.name }

func (i *Instance) subscriptionRTs() []string {
	rts := make([]string, 0, len(i.importRTs)+len(i.extraRTs))
	rts = append(rts, i.importRTs...)
	rts = append(rts, i.extraRTs...)
	return rts
}

func (i *Instance) enqueueEvent(ev bus.Event) {
	i.worker.submit(func() { i.handleEvent(ev) })
}

func (i *Instance) handleEvent(ev bus.Event) {
	if i.hooks != nil {
		i.hooks.remoteEvent(ev)
	}
	if ev.Entry.IsFlow() || !ev.Entry.HasAnyTarget(i.importRTs...) {
		return
	}
	switch ev.Type {
	case bus.Advertise:
		i.remote[ev.Entry.Key()] = ev.Entry
		if i.dp != nil {
			n := ev.Entry.NLRI
			if err := i.dp.SetupRemoteEndpoint(n.Prefix, n.NextHop, n.Label, ev.Entry.Encap); err != nil {
				i.log.WithError(err).WithField("prefix", n.Prefix).Error("remote endpoint setup failed")
			}
		}
	case bus.Withdraw:
		prev, ok := i.remote[ev.Entry.Key()]
		if !ok {
			return
		}
		delete(i.remote, ev.Entry.Key())
		if i.dp != nil {
			n := prev.NLRI
			if err := i.dp.RemoveRemoteEndpoint(n.Prefix, n.NextHop, n.Label); err != nil {
				i.log.WithError(err).WithField("prefix", n.Prefix).Error("remote endpoint removal failed")
			}
		}
	}
}

func (i *Instance) advertiseEntry(e routing.Entry) {
	i.log.WithField("route", e.String()).Debug("advertise")
	i.bus.Publish(bus.Event{Type: bus.Advertise, Entry: e, Source: i.worker.id})
}

func (i *Instance) withdrawEntry(e routing.Entry) {
	i.log.WithField("route", e.String()).Debug("withdraw")
	i.bus.Publish(bus.Event{Type: bus.Withdraw, Entry: e, Source: i.worker.id})
}

// endpointPrefix splits an ip argument, plain address or CIDR, into the host
// address used for dataplane calls and the prefix to advertise. Without
// advertiseSubnet a CIDR is advertised as the /32 of its host.
func endpointPrefix(ip string, advertiseSubnet bool) (host, prefix string, err error) {
	if addr := net.ParseIP(ip); addr != nil {
		if addr.To4() == nil {
			return "", "", fmt.Errorf("invalid endpoint ip %q: only IPv4 supported", ip)
		}
		return ip, ip + "/32", nil
	}
	addr, ipnet, err := net.ParseCIDR(ip)
	if err != nil || addr.To4() == nil {
		return "", "", fmt.Errorf("invalid endpoint ip %q", ip)
	}
	if advertiseSubnet {
		return addr.String(), ipnet.String(), nil
	}
	return addr.String(), addr.String() + "/32", nil
}

// Plug attaches a local endpoint, programs the dataplane and advertises a
// route for it. Plugging the identical (mac, ip, port) again is a no-op;
// conflicting bindings fail with EndpointConflict and change nothing.
func (i *Instance) Plug(mac, ip, port string, advertiseSubnet bool) error {
	return i.worker.call(func() error { return i.plug(mac, ip, port, advertiseSubnet) })
}

func (i *Instance) plug(mac, ip, port string, advertiseSubnet bool) error {
	host, prefix, err := endpointPrefix(ip, advertiseSubnet)
	if err != nil {
		return err
	}
	ep := Endpoint{MAC: mac, IP: host}

	if boundMAC, ok := i.index.macFor(host); ok && boundMAC != mac {
		return &EndpointConflict{Reason: "IP already owned by another MAC", MAC: mac, IP: host}
	}
	pd, macKnown := i.index.dataFor(mac)
	if macKnown && pd.port != port {
		return &EndpointConflict{Reason: "MAC cannot migrate port", MAC: mac, IP: host}
	}
	if i.index.contains(ep) {
		return nil
	}

	label := pd.label
	if !macKnown {
		label, err = i.labels.Allocate(i.name + "/" + mac)
		if err != nil {
			return err
		}
	}
	rd, err := i.rds.Allocate(i.name + "/" + mac + "/" + host)
	if err != nil {
		if !macKnown {
			i.labels.Release(label)
		}
		return err
	}

	if i.dp == nil {
		if err := i.initDataplane(); err != nil {
			i.rds.Release(rd)
			if !macKnown {
				i.labels.Release(label)
			}
			return err
		}
	}
	if err := i.dp.Plug(mac, host, port, label); err != nil {
		i.rds.Release(rd)
		if !macKnown {
			i.labels.Release(label)
		}
		return fmt.Errorf("%w: plug %s/%s: %v", ErrDataplane, mac, host, err)
	}

	i.index.bind(ep, port, label, rd)

	entry := routing.NewEntry(routing.NLRI{
		Prefix:  prefix,
		RD:      i.rd,
		Label:   label,
		NextHop: i.driver.LocalAddress(),
	}, i.exportRTs...)
	entry.Encap = i.driver.Encap()
	i.advertised[ep] = entry
	i.advertiseEntry(entry)

	if i.hooks != nil {
		i.hooks.endpointAdded(ep, entry)
	}
	return nil
}

func (i *Instance) initDataplane() error {
	dp, err := i.driver.Initialize(i.name)
	if err != nil {
		return fmt.Errorf("%w: initialize: %v", ErrDataplane, err)
	}
	i.dp = dp
	// Remote routes imported before the first plug are programmed now.
	for _, key := range sortedKeys(i.remote) {
		n := i.remote[key].NLRI
		if err := i.dp.SetupRemoteEndpoint(n.Prefix, n.NextHop, n.Label, i.remote[key].Encap); err != nil {
			i.log.WithError(err).WithField("prefix", n.Prefix).Error("remote endpoint setup failed")
		}
	}
	return nil
}

// Unplug detaches a local endpoint, withdrawing its route and tearing down
// its dataplane state. The (mac, ip) pair must match exactly as plugged.
func (i *Instance) Unplug(mac, ip string) error {
	return i.worker.call(func() error { return i.unplug(mac, ip) })
}

func (i *Instance) unplug(mac, ip string) error {
	host, _, err := endpointPrefix(ip, false)
	if err != nil {
		return err
	}
	ep := Endpoint{MAC: mac, IP: host}

	boundMAC, ok := i.index.macFor(host)
	if !ok {
		return &EndpointConflict{Reason: "unknown endpoint", MAC: mac, IP: host}
	}
	if boundMAC != mac {
		return &EndpointConflict{Reason: "IP owned by another MAC", MAC: mac, IP: host}
	}
	if !i.index.contains(ep) {
		return &EndpointConflict{Reason: "MAC not plugged with this IP", MAC: mac, IP: host}
	}

	pd, _ := i.index.dataFor(mac)
	last := i.index.lastOnPort(ep)
	macStillUsed := i.index.macInUse(mac, ep)
	rd, _ := i.index.rdFor(ep)

	entry := i.advertised[ep]
	i.withdrawEntry(entry)

	if err := i.dp.Unplug(mac, host, pd.port, pd.label, last); err != nil {
		i.advertiseEntry(entry)
		return fmt.Errorf("%w: unplug %s/%s: %v", ErrDataplane, mac, host, err)
	}

	i.index.remove(ep)
	delete(i.advertised, ep)
	i.rds.Release(rd)
	if !macStillUsed {
		i.labels.Release(pd.label)
	}

	if i.hooks != nil {
		i.hooks.endpointRemoved(ep, entry)
	}
	return nil
}

// UpdateRouteTargets replaces the import and export route-target sets.
// Import changes only retune the bus subscription; export changes
// re-advertise every local route under the new target set. Nothing is
// emitted when the sets are unchanged.
func (i *Instance) UpdateRouteTargets(importRTs, exportRTs []string) error {
	imp, err := routing.ParseRTs(importRTs)
	if err != nil {
		return err
	}
	exp, err := routing.ParseRTs(exportRTs)
	if err != nil {
		return err
	}
	return i.worker.call(func() error {
		if !sameRTs(i.importRTs, imp) {
			i.importRTs = imp
			i.bus.Retarget(i.worker.id, i.subscriptionRTs()...)
		}
		if sameRTs(i.exportRTs, exp) {
			return nil
		}
		i.exportRTs = exp
		for _, ep := range i.index.endpoints() {
			old := i.advertised[ep]
			entry := routing.NewEntry(old.NLRI, exp...)
			entry.Encap = old.Encap
			if entry.Equal(old) {
				continue
			}
			i.advertised[ep] = entry
			i.advertiseEntry(entry)
		}
		return nil
	})
}

// Empty reports whether the instance has no plugged endpoint.
func (i *Instance) Empty() bool {
	var empty bool
	if err := i.worker.call(func() error {
		empty = i.index.empty()
		return nil
	}); err != nil {
		return false
	}
	return empty
}

// Snapshot is a read-only diagnostic view of an instance.
type Snapshot struct {
	Name           string
	ImportRTs      []string
	ExportRTs      []string
	Endpoints      []EndpointInfo
	RemotePrefixes []string
	Readvertise    *ReadvertiseSnapshot
	AttractedFlows []string
	PendingLeaks   []string
	LeakedPrefixes []string
}

// ReadvertiseSnapshot mirrors a VRF's leak configuration.
type ReadvertiseSnapshot struct {
	FromRTs []string
	ToRTs   []string
}

func (i *Instance) Snapshot() Snapshot {
	var snap Snapshot
	i.worker.call(func() error {
		snap = i.snapshotLocked()
		return nil
	})
	return snap
}

func (i *Instance) snapshotLocked() Snapshot {
	snap := Snapshot{
		Name:      i.name,
		ImportRTs: sortedCopy(i.importRTs),
		ExportRTs: sortedCopy(i.exportRTs),
		Endpoints: i.index.snapshot(),
	}
	for _, key := range sortedKeys(i.remote) {
		snap.RemotePrefixes = append(snap.RemotePrefixes, i.remote[key].NLRI.Prefix)
	}
	return snap
}

// Stop refuses further input, drains in-flight work and releases the
// dataplane handle. No route withdrawal is implied.
func (i *Instance) Stop() error {
	i.bus.Unsubscribe(i.worker.id)
	i.worker.stop()
	var err error
	if i.dp != nil {
		err = i.dp.Release()
		i.dp = nil
	}
	i.rds.Release(i.rd)
	i.labels.Release(i.label)
	return err
}

func sameRTs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, rt := range a {
		seen[rt] = true
	}
	for _, rt := range b {
		if !seen[rt] {
			return false
		}
	}
	return true
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
