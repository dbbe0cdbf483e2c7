package vpn

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// Endpoint identifies a locally attached interface. At most one endpoint may
// exist per (MAC, IP) pair at any time.
type Endpoint struct {
	MAC string
	IP  string
}

// portData is the per-MAC binding: the port a MAC lives on for its whole
// lifetime and the label allocated for it.
type portData struct {
	port  string
	label uint32
}

// endpointIndex keeps the three coupled endpoint maps consistent: an
// endpoint is present in all of them or in none. It is owned by a single
// instance worker and is not safe for concurrent use.
type endpointIndex struct {
	ipToMAC       map[string]string
	macData       map[string]portData
	portEndpoints map[string]mapset.Set[Endpoint]
	rdByEndpoint  map[Endpoint]string
	order         []Endpoint
}

func newEndpointIndex() *endpointIndex {
	return &endpointIndex{
		ipToMAC:       make(map[string]string),
		macData:       make(map[string]portData),
		portEndpoints: make(map[string]mapset.Set[Endpoint]),
		rdByEndpoint:  make(map[Endpoint]string),
	}
}

func (x *endpointIndex) contains(ep Endpoint) bool {
	_, ok := x.rdByEndpoint[ep]
	return ok
}

func (x *endpointIndex) macFor(ip string) (string, bool) {
	mac, ok := x.ipToMAC[ip]
	return mac, ok
}

func (x *endpointIndex) dataFor(mac string) (portData, bool) {
	pd, ok := x.macData[mac]
	return pd, ok
}

func (x *endpointIndex) rdFor(ep Endpoint) (string, bool) {
	rd, ok := x.rdByEndpoint[ep]
	return rd, ok
}

// macInUse reports whether any endpoint besides ep still uses the MAC.
func (x *endpointIndex) macInUse(mac string, except Endpoint) bool {
	for ep := range x.rdByEndpoint {
		if ep.MAC == mac && ep != except {
			return true
		}
	}
	return false
}

// lastOnPort reports whether ep is the only endpoint on its port. It must be
// consulted before remove.
func (x *endpointIndex) lastOnPort(ep Endpoint) bool {
	pd, ok := x.macData[ep.MAC]
	if !ok {
		return false
	}
	set, ok := x.portEndpoints[pd.port]
	return ok && set.Cardinality() == 1 && set.Contains(ep)
}

// bind inserts ep into all three maps. Validation is the caller's job.
func (x *endpointIndex) bind(ep Endpoint, port string, label uint32, rd string) {
	x.ipToMAC[ep.IP] = ep.MAC
	x.macData[ep.MAC] = portData{port: port, label: label}
	set, ok := x.portEndpoints[port]
	if !ok {
		set = mapset.NewThreadUnsafeSet[Endpoint]()
		x.portEndpoints[port] = set
	}
	set.Add(ep)
	x.rdByEndpoint[ep] = rd
	x.order = append(x.order, ep)
}

// remove deletes ep from all three maps, dropping the port entry when its
// set empties and the MAC binding when no endpoint uses the MAC anymore.
func (x *endpointIndex) remove(ep Endpoint) {
	pd := x.macData[ep.MAC]
	delete(x.ipToMAC, ep.IP)
	delete(x.rdByEndpoint, ep)
	if set, ok := x.portEndpoints[pd.port]; ok {
		set.Remove(ep)
		if set.IsEmpty() {
			delete(x.portEndpoints, pd.port)
		}
	}
	if !x.macInUse(ep.MAC, ep) {
		delete(x.macData, ep.MAC)
	}
	for i, e := range x.order {
		if e == ep {
			x.order = append(x.order[:i], x.order[i+1:]...)
			break
		}
	}
}

// earliest returns the earliest-plugged endpoint still present.
func (x *endpointIndex) earliest() (Endpoint, bool) {
	if len(x.order) == 0 {
		return Endpoint{}, false
	}
	return x.order[0], true
}

// endpoints lists live endpoints in plug order.
func (x *endpointIndex) endpoints() []Endpoint {
	out := make([]Endpoint, len(x.order))
	copy(out, x.order)
	return out
}

func (x *endpointIndex) empty() bool {
	return len(x.order) == 0
}

// EndpointInfo is one entry of a diagnostic snapshot.
type EndpointInfo struct {
	MAC   string
	IP    string
	Port  string
	Label uint32
	RD    string
}

func (x *endpointIndex) snapshot() []EndpointInfo {
	out := make([]EndpointInfo, 0, len(x.order))
	for _, ep := range x.order {
		pd := x.macData[ep.MAC]
		out = append(out, EndpointInfo{
			MAC:   ep.MAC,
			IP:    ep.IP,
			Port:  pd.port,
			Label: pd.label,
			RD:    x.rdByEndpoint[ep],
		})
	}
	return out
}
