package routing

import (
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/osrg/gobgp/v3/pkg/packet/bgp"
)

// NLRI is a labeled VPN unicast destination. Wire encoding belongs to the
// BGP layer; the engine only works with these semantic fields.
type NLRI struct {
	Prefix  string // CIDR form
	RD      string
	Label   uint32
	NextHop string
}

func (n NLRI) String() string {
	return fmt.Sprintf("%s:%s via %s label %d", n.RD, n.Prefix, n.NextHop, n.Label)
}

// Entry is one advertisable route: either a labeled unicast prefix or a
// FlowSpec rule set, plus the route targets and the extended-community
// markers the engine cares about. Entries are treated as immutable once
// built; a new advertisement for the same key supersedes the previous one.
type Entry struct {
	NLRI      NLRI
	FlowRules []bgp.FlowSpecComponentInterface

	Targets   mapset.Set[string]
	RTRecords mapset.Set[string]

	// RedirectRT carries the TrafficRedirect marker of a FlowSpec route,
	// empty when absent.
	RedirectRT string

	// Encap is the encapsulation community advertised with the route.
	Encap string
}

func NewEntry(nlri NLRI, targets ...string) Entry {
	return Entry{
		NLRI:      nlri,
		Targets:   mapset.NewThreadUnsafeSet(targets...),
		RTRecords: mapset.NewThreadUnsafeSet[string](),
	}
}

func NewFlowEntry(rules []bgp.FlowSpecComponentInterface, targets ...string) Entry {
	return Entry{
		FlowRules: rules,
		Targets:   mapset.NewThreadUnsafeSet(targets...),
		RTRecords: mapset.NewThreadUnsafeSet[string](),
	}
}

func (e Entry) IsFlow() bool {
	return len(e.FlowRules) > 0
}

// Key identifies the route for supersede/withdraw matching: the prefix for
// unicast entries, the canonical rule string for FlowSpec entries.
func (e Entry) Key() string {
	if e.IsFlow() {
		return "flow:" + FlowKey(e.FlowRules)
	}
	return e.NLRI.Prefix
}

func (e Entry) HasAnyTarget(targets ...string) bool {
	return e.Targets.ContainsAny(targets...)
}

// HasAllRecords reports whether every given route target already appears in
// the entry's RTRecord trail.
func (e Entry) HasAllRecords(targets []string) bool {
	for _, rt := range targets {
		if !e.RTRecords.Contains(rt) {
			return false
		}
	}
	return len(targets) > 0
}

func (e Entry) Equal(other Entry) bool {
	return e.Key() == other.Key() &&
		e.NLRI == other.NLRI &&
		e.Targets.Equal(other.Targets) &&
		e.RTRecords.Equal(other.RTRecords) &&
		e.RedirectRT == other.RedirectRT &&
		e.Encap == other.Encap
}

func (e Entry) String() string {
	if e.IsFlow() {
		return fmt.Sprintf("flow{%s} rt %v", FlowKey(e.FlowRules), e.Targets.ToSlice())
	}
	return fmt.Sprintf("%s rt %v", e.NLRI, e.Targets.ToSlice())
}

// FlowKey builds a deterministic identity string for a FlowSpec rule list.
func FlowKey(rules []bgp.FlowSpecComponentInterface) string {
	parts := make([]string, 0, len(rules))
	for _, rule := range rules {
		parts = append(parts, rule.String())
	}
	return strings.Join(parts, ",")
}
