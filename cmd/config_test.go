package main

import (
	"strings"
	"testing"

	"github.com/osrg/gobgp/v3/pkg/config/oc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[global.config]
  as = 64512
  router-id = "192.0.2.1"

[dataplane]
  encap = "vxlan"
  local-address = "192.0.2.10"

[[vpn-instances]]
  name = "red"
  import-rts = ["64512:10"]
  export-rts = ["64512:10"]

  [vpn-instances.readvertise]
    from-rts = ["64512:90"]
    to-rts = ["64512:10"]

  [vpn-instances.attract]
    rts = ["64512:666"]
    protocol = "tcp"
    destination-port = "443"

  [[vpn-instances.endpoints]]
    mac = "52:54:00:00:00:01"
    ip = "10.0.0.1"
    port = "tap1"

[[vpn-instances]]
  name = "mirror"
  type = "ipvpn"
  import-rts = ["64512:666"]
  stop-if-empty = true
`

func TestReadDaemonConfig(t *testing.T) {
	daemon, err := readDaemonConfig(strings.NewReader(sampleConfig))

	require.NoError(t, err)
	assert.Equal(t, "vxlan", daemon.Dataplane.Encap)
	assert.Equal(t, "192.0.2.10", daemon.Dataplane.LocalAddress)
	require.Len(t, daemon.Instances, 2)

	red := daemon.Instances[0]
	assert.Equal(t, []string{"64512:10"}, red.ImportRTs)
	require.NotNil(t, red.Readvertise)
	assert.Equal(t, []string{"64512:90"}, red.Readvertise.FromRTs)
	require.NotNil(t, red.Attract)
	assert.Equal(t, "443", red.Attract.DestinationPort)
	require.Len(t, red.Endpoints, 1)
	assert.Equal(t, "tap1", red.Endpoints[0].Port)

	mirror := daemon.Instances[1]
	assert.True(t, mirror.StopIfEmpty)
	assert.Nil(t, mirror.Readvertise)
}

func TestReadDaemonConfigRejectsBadDeclarations(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{
			name: "instance without a name",
			config: `
[[vpn-instances]]
  import-rts = ["64512:10"]
`,
		},
		{
			name: "duplicate instance names",
			config: `
[[vpn-instances]]
  name = "red"
[[vpn-instances]]
  name = "red"
`,
		},
		{
			name:   "malformed toml",
			config: `[[vpn-instances]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readDaemonConfig(strings.NewReader(tt.config))
			assert.Error(t, err)
		})
	}
}

func TestLocalAddressFallsBackToRouterID(t *testing.T) {
	cfg := Config{GobgpConfig: &oc.BgpConfigSet{}}
	cfg.GobgpConfig.Global.Config.RouterId = "192.0.2.1"

	assert.Equal(t, "192.0.2.1", cfg.localAddress())
	assert.Equal(t, "mpls", cfg.encap())

	cfg.Daemon.Dataplane = DataplaneDecl{Encap: "gre", LocalAddress: "192.0.2.10"}
	assert.Equal(t, "192.0.2.10", cfg.localAddress())
	assert.Equal(t, "gre", cfg.encap())
}
