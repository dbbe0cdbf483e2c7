package vpn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkConsistent asserts the three maps agree: every endpoint is present in
// all of them or in none.
func checkConsistent(t *testing.T, x *endpointIndex) {
	t.Helper()
	for ip, mac := range x.ipToMAC {
		ep := Endpoint{MAC: mac, IP: ip}
		require.True(t, x.contains(ep), "ip %s indexed without endpoint", ip)
		pd, ok := x.macData[mac]
		require.True(t, ok, "mac %s has no port data", mac)
		set, ok := x.portEndpoints[pd.port]
		require.True(t, ok, "port %s missing", pd.port)
		require.True(t, set.Contains(ep))
	}
	for port, set := range x.portEndpoints {
		require.False(t, set.IsEmpty(), "port %s kept with empty set", port)
		for ep := range set.Iter() {
			require.Equal(t, ep.MAC, x.ipToMAC[ep.IP])
		}
	}
	require.Len(t, x.order, len(x.rdByEndpoint))
}

func TestIndexBindRemoveConsistency(t *testing.T) {
	x := newEndpointIndex()
	a := Endpoint{MAC: mac1, IP: "10.0.0.1"}
	b := Endpoint{MAC: mac2, IP: "10.0.0.2"}

	x.bind(a, "tap1", 16, "rd-a")
	checkConsistent(t, x)
	x.bind(b, "tap1", 17, "rd-b")
	checkConsistent(t, x)

	assert.True(t, x.macInUse(mac1, b))
	assert.False(t, x.lastOnPort(a))

	x.remove(a)
	checkConsistent(t, x)
	assert.True(t, x.lastOnPort(b))

	x.remove(b)
	checkConsistent(t, x)
	assert.True(t, x.empty())
	assert.Empty(t, x.portEndpoints)
}

func TestIndexEarliestFollowsPlugOrder(t *testing.T) {
	x := newEndpointIndex()
	a := Endpoint{MAC: mac1, IP: "10.0.0.1"}
	b := Endpoint{MAC: mac2, IP: "10.0.0.2"}
	x.bind(a, "tap1", 16, "rd-a")
	x.bind(b, "tap2", 17, "rd-b")

	ep, ok := x.earliest()
	require.True(t, ok)
	assert.Equal(t, a, ep)

	x.remove(a)
	ep, ok = x.earliest()
	require.True(t, ok)
	assert.Equal(t, b, ep)

	x.remove(b)
	_, ok = x.earliest()
	assert.False(t, ok)
}

func TestIndexSameMACSeveralIPs(t *testing.T) {
	x := newEndpointIndex()
	a := Endpoint{MAC: mac1, IP: "10.0.0.1"}
	b := Endpoint{MAC: mac1, IP: "10.0.0.2"}
	x.bind(a, "tap1", 16, "rd-a")
	x.bind(b, "tap1", 16, "rd-b")
	checkConsistent(t, x)

	x.remove(a)
	checkConsistent(t, x)
	// The MAC binding survives while another endpoint still uses it.
	_, ok := x.dataFor(mac1)
	assert.True(t, ok)

	x.remove(b)
	_, ok = x.dataFor(mac1)
	assert.False(t, ok)
}

func TestIndexSnapshot(t *testing.T) {
	x := newEndpointIndex()
	x.bind(Endpoint{MAC: mac1, IP: "10.0.0.1"}, "tap1", 16, "rd-a")
	x.bind(Endpoint{MAC: mac2, IP: "10.0.0.2"}, "tap2", 17, "rd-b")

	snap := x.snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, EndpointInfo{MAC: mac1, IP: "10.0.0.1", Port: "tap1", Label: 16, RD: "rd-a"}, snap[0])
	assert.Equal(t, EndpointInfo{MAC: mac2, IP: "10.0.0.2", Port: "tap2", Label: 17, RD: "rd-b"}, snap[1])
}
