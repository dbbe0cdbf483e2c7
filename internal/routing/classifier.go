package routing

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/osrg/gobgp/v3/pkg/packet/bgp"
)

var ErrMalformedClassifier = errors.New("malformed classifier")

// protocolValues maps protocol names back to their numbers; gobgp only ships
// the number-to-name direction.
var protocolValues = func() map[string]bgp.Protocol {
	values := make(map[string]bgp.Protocol, len(bgp.ProtocolNameMap))
	for proto, name := range bgp.ProtocolNameMap {
		values[name] = proto
	}
	return values
}()

// PortRange matches a single port (Min == Max) or an inclusive range. The
// zero value means "any port".
type PortRange struct {
	Min uint16
	Max uint16
}

func SinglePort(p uint16) PortRange {
	return PortRange{Min: p, Max: p}
}

func (r PortRange) IsZero() bool {
	return r.Min == 0 && r.Max == 0
}

func (r PortRange) String() string {
	if r.Min == r.Max {
		return strconv.Itoa(int(r.Min))
	}
	return fmt.Sprintf("%d:%d", r.Min, r.Max)
}

// ParsePortRange parses "80" or "8000:8080".
func ParsePortRange(s string) (PortRange, error) {
	if s == "" {
		return PortRange{}, nil
	}
	lo, hi, found := strings.Cut(s, ":")
	min, err := strconv.ParseUint(lo, 10, 16)
	if err != nil {
		return PortRange{}, fmt.Errorf("bad port %q: %v", lo, err)
	}
	if !found {
		return SinglePort(uint16(min)), nil
	}
	max, err := strconv.ParseUint(hi, 10, 16)
	if err != nil {
		return PortRange{}, fmt.Errorf("bad port %q: %v", hi, err)
	}
	return PortRange{Min: uint16(min), Max: uint16(max)}, nil
}

// Classifier is a 5-tuple-style traffic match specification. All fields are
// optional except Protocol; empty fields match anything. Classifiers are
// comparable and safe to use as set members.
type Classifier struct {
	SourcePrefix      string
	DestinationPrefix string
	SourcePort        PortRange
	DestinationPort   PortRange
	Protocol          string
}

func (c Classifier) String() string {
	orAny := func(s string) string {
		if s == "" {
			return "*"
		}
		return s
	}
	orAnyPort := func(r PortRange) string {
		if r.IsZero() {
			return "*"
		}
		return r.String()
	}
	return fmt.Sprintf("%s-%s,%s-%s,%s",
		orAny(c.SourcePrefix), orAnyPort(c.SourcePort),
		orAny(c.DestinationPrefix), orAnyPort(c.DestinationPort),
		c.Protocol)
}

// WithDestination returns a copy of the classifier narrowed to the given
// destination prefix.
func (c Classifier) WithDestination(prefix string) Classifier {
	c.DestinationPrefix = prefix
	return c
}

// Validate rejects a classifier that cannot be converted to FlowSpec rules.
// The error wraps ErrMalformedClassifier and lists every offending field;
// a failing classifier is never partially applied.
func (c Classifier) Validate() error {
	var merr error
	for _, p := range []struct{ name, prefix string }{
		{"source prefix", c.SourcePrefix},
		{"destination prefix", c.DestinationPrefix},
	} {
		if p.prefix == "" {
			continue
		}
		if _, _, err := net.ParseCIDR(p.prefix); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("bad %s %q: %v", p.name, p.prefix, err))
		}
	}
	for _, r := range []struct {
		name  string
		ports PortRange
	}{
		{"source port", c.SourcePort},
		{"destination port", c.DestinationPort},
	} {
		if r.ports.Min > r.ports.Max {
			merr = multierror.Append(merr,
				fmt.Errorf("inverted %s range %s", r.name, r.ports))
		}
	}
	if c.Protocol != "" {
		if _, ok := protocolValues[c.Protocol]; !ok {
			merr = multierror.Append(merr, fmt.Errorf("unknown protocol %q", c.Protocol))
		}
	}
	if merr != nil {
		return fmt.Errorf("%w: %v", ErrMalformedClassifier, merr)
	}
	return nil
}

// FlowRules converts the classifier to FlowSpec match rules in canonical
// order: source prefix, destination prefix, source port, destination port,
// protocol.
func (c Classifier) FlowRules() ([]bgp.FlowSpecComponentInterface, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	rules := make([]bgp.FlowSpecComponentInterface, 0, 5)

	if c.SourcePrefix != "" {
		p, err := addrPrefix(c.SourcePrefix)
		if err != nil {
			return nil, err
		}
		rules = append(rules, bgp.NewFlowSpecSourcePrefix(p))
	}
	if c.DestinationPrefix != "" {
		p, err := addrPrefix(c.DestinationPrefix)
		if err != nil {
			return nil, err
		}
		rules = append(rules, bgp.NewFlowSpecDestinationPrefix(p))
	}
	if !c.SourcePort.IsZero() {
		rules = append(rules, bgp.NewFlowSpecComponent(
			bgp.FLOW_SPEC_TYPE_SRC_PORT, portItems(c.SourcePort)))
	}
	if !c.DestinationPort.IsZero() {
		rules = append(rules, bgp.NewFlowSpecComponent(
			bgp.FLOW_SPEC_TYPE_DST_PORT, portItems(c.DestinationPort)))
	}
	if c.Protocol != "" {
		proto := protocolValues[c.Protocol]
		rules = append(rules, bgp.NewFlowSpecComponent(
			bgp.FLOW_SPEC_TYPE_IP_PROTO, []*bgp.FlowSpecComponentItem{
				bgp.NewFlowSpecComponentItem(uint8(bgp.DEC_NUM_OP_EQ), uint64(proto)),
			}))
	}
	return rules, nil
}

// ClassifierFromRules rebuilds a classifier from FlowSpec match rules, the
// inverse of FlowRules.
func ClassifierFromRules(rules []bgp.FlowSpecComponentInterface) (Classifier, error) {
	var c Classifier
	for _, rule := range rules {
		switch r := rule.(type) {
		case *bgp.FlowSpecSourcePrefix:
			c.SourcePrefix = r.Prefix.String()
		case *bgp.FlowSpecDestinationPrefix:
			c.DestinationPrefix = r.Prefix.String()
		case *bgp.FlowSpecComponent:
			switch r.Type() {
			case bgp.FLOW_SPEC_TYPE_SRC_PORT:
				ports, err := portRangeFromItems(r.Items)
				if err != nil {
					return Classifier{}, err
				}
				c.SourcePort = ports
			case bgp.FLOW_SPEC_TYPE_DST_PORT:
				ports, err := portRangeFromItems(r.Items)
				if err != nil {
					return Classifier{}, err
				}
				c.DestinationPort = ports
			case bgp.FLOW_SPEC_TYPE_PORT:
				ports, err := portRangeFromItems(r.Items)
				if err != nil {
					return Classifier{}, err
				}
				c.SourcePort = ports
				c.DestinationPort = ports
			case bgp.FLOW_SPEC_TYPE_IP_PROTO:
				if len(r.Items) != 1 {
					return Classifier{}, fmt.Errorf("%w: multi-valued protocol rule", ErrMalformedClassifier)
				}
				c.Protocol = bgp.Protocol(r.Items[0].Value).String()
			default:
				return Classifier{}, fmt.Errorf("%w: unsupported rule type %s", ErrMalformedClassifier, r.Type())
			}
		default:
			return Classifier{}, fmt.Errorf("%w: unsupported rule %T", ErrMalformedClassifier, rule)
		}
	}
	return c, nil
}

func addrPrefix(cidr string) (*bgp.IPAddrPrefix, error) {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("%w: bad prefix %q: %v", ErrMalformedClassifier, cidr, err)
	}
	if ip.To4() == nil {
		return nil, fmt.Errorf("%w: only IPv4 prefixes are supported, got %q", ErrMalformedClassifier, cidr)
	}
	ones, _ := ipnet.Mask.Size()
	return bgp.NewIPAddrPrefix(uint8(ones), ipnet.IP.String()), nil
}

func portItems(r PortRange) []*bgp.FlowSpecComponentItem {
	if r.Min == r.Max {
		return []*bgp.FlowSpecComponentItem{
			bgp.NewFlowSpecComponentItem(uint8(bgp.DEC_NUM_OP_EQ), uint64(r.Min)),
		}
	}
	if r.Min == 0 {
		return []*bgp.FlowSpecComponentItem{
			bgp.NewFlowSpecComponentItem(uint8(bgp.DEC_NUM_OP_LT_EQ), uint64(r.Max)),
		}
	}
	if r.Max == 65535 {
		return []*bgp.FlowSpecComponentItem{
			bgp.NewFlowSpecComponentItem(uint8(bgp.DEC_NUM_OP_GT_EQ), uint64(r.Min)),
		}
	}
	return []*bgp.FlowSpecComponentItem{
		bgp.NewFlowSpecComponentItem(uint8(bgp.DEC_NUM_OP_GT_EQ), uint64(r.Min)),
		bgp.NewFlowSpecComponentItem(uint8(bgp.DEC_NUM_OP_AND|bgp.DEC_NUM_OP_LT_EQ), uint64(r.Max)),
	}
}

func portRangeFromItems(items []*bgp.FlowSpecComponentItem) (PortRange, error) {
	switch len(items) {
	case 1:
		op := bgp.DECNumOp(items[0].Op & 0x07)
		v := uint16(items[0].Value)
		switch op {
		case bgp.DEC_NUM_OP_EQ:
			return SinglePort(v), nil
		case bgp.DEC_NUM_OP_GT_EQ:
			return PortRange{Min: v, Max: 65535}, nil
		case bgp.DEC_NUM_OP_LT_EQ:
			return PortRange{Min: 0, Max: v}, nil
		case bgp.DEC_NUM_OP_GT:
			return PortRange{Min: v + 1, Max: 65535}, nil
		case bgp.DEC_NUM_OP_LT:
			return PortRange{Min: 0, Max: v - 1}, nil
		}
		return PortRange{}, fmt.Errorf("%w: unsupported port operator %#x", ErrMalformedClassifier, items[0].Op)
	case 2:
		min := bgp.DECNumOp(items[0].Op & 0x07)
		max := bgp.DECNumOp(items[1].Op & 0x07)
		if min != bgp.DEC_NUM_OP_GT_EQ || max != bgp.DEC_NUM_OP_LT_EQ {
			return PortRange{}, fmt.Errorf("%w: unsupported port range operators", ErrMalformedClassifier)
		}
		return PortRange{Min: uint16(items[0].Value), Max: uint16(items[1].Value)}, nil
	}
	return PortRange{}, fmt.Errorf("%w: unsupported port rule with %d items", ErrMalformedClassifier, len(items))
}
