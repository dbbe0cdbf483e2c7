package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netgrove/vpnd/internal/routing"
)

func TestEntryFromPathRoundTripVPN(t *testing.T) {
	orig := vpnEntry("10.1.0.0/24")
	path, err := buildPath(orig)
	require.NoError(t, err)

	got, err := EntryFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, orig.NLRI, got.NLRI)
	assert.True(t, orig.Targets.Equal(got.Targets))
	assert.Equal(t, orig.Encap, got.Encap)
	assert.False(t, got.IsFlow())
}

func TestEntryFromPathRoundTripFlowSpec(t *testing.T) {
	classifier := routing.Classifier{
		SourcePrefix:    "192.0.2.0/24",
		Protocol:        "udp",
		DestinationPort: routing.PortRange{Min: 5000, Max: 5100},
	}
	rules, err := classifier.FlowRules()
	require.NoError(t, err)
	orig := routing.NewFlowEntry(rules, "64512:666")
	orig.RedirectRT = "64512:10"

	path, err := buildPath(orig)
	require.NoError(t, err)
	got, err := EntryFromPath(path)
	require.NoError(t, err)

	require.True(t, got.IsFlow())
	assert.Equal(t, "64512:10", got.RedirectRT)
	assert.True(t, orig.Targets.Equal(got.Targets))

	gotClassifier, err := routing.ClassifierFromRules(got.FlowRules)
	require.NoError(t, err)
	assert.Equal(t, classifier, gotClassifier)
}

func TestEntryFromPathRejectsUnknownFamily(t *testing.T) {
	orig := vpnEntry("10.1.0.0/24")
	path, err := buildPath(orig)
	require.NoError(t, err)
	path.Family.Afi = 0

	_, err = EntryFromPath(path)
	require.Error(t, err)
}
