package export

import (
	"fmt"
	"net"

	api "github.com/osrg/gobgp/v3/api"
	"github.com/osrg/gobgp/v3/pkg/packet/bgp"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

func rdToAPI(rdStr string) (*anypb.Any, error) {
	rd, err := bgp.ParseRouteDistinguisher(rdStr)
	if err != nil {
		return nil, err
	}
	switch v := rd.(type) {
	case *bgp.RouteDistinguisherTwoOctetAS:
		return anypb.New(&api.RouteDistinguisherTwoOctetASN{
			Admin:    uint32(v.Admin),
			Assigned: v.Assigned,
		})
	case *bgp.RouteDistinguisherIPAddressAS:
		return anypb.New(&api.RouteDistinguisherIPAddress{
			Admin:    v.Admin.String(),
			Assigned: uint32(v.Assigned),
		})
	case *bgp.RouteDistinguisherFourOctetAS:
		return anypb.New(&api.RouteDistinguisherFourOctetASN{
			Admin:    v.Admin,
			Assigned: uint32(v.Assigned),
		})
	default:
		return nil, fmt.Errorf("unsupported RD type %T", v)
	}
}

func rtToAPI(rtStr string) (*anypb.Any, error) {
	raw, err := bgp.ParseRouteTarget(rtStr)
	if err != nil {
		return nil, fmt.Errorf("invalid route-target %q: %w", rtStr, err)
	}
	var msg proto.Message
	switch v := raw.(type) {
	case *bgp.TwoOctetAsSpecificExtended:
		msg = &api.TwoOctetAsSpecificExtended{
			IsTransitive: true,
			SubType:      uint32(v.SubType),
			Asn:          uint32(v.AS),
			LocalAdmin:   v.LocalAdmin,
		}
	case *bgp.IPv4AddressSpecificExtended:
		msg = &api.IPv4AddressSpecificExtended{
			IsTransitive: true,
			SubType:      uint32(v.SubType),
			Address:      v.IPv4.String(),
			LocalAdmin:   uint32(v.LocalAdmin),
		}
	case *bgp.FourOctetAsSpecificExtended:
		msg = &api.FourOctetAsSpecificExtended{
			IsTransitive: true,
			SubType:      uint32(v.SubType),
			Asn:          v.AS,
			LocalAdmin:   uint32(v.LocalAdmin),
		}
	default:
		return nil, fmt.Errorf("unsupported RT type %T", v)
	}
	return anypb.New(msg)
}

// redirectToAPI builds the FlowSpec traffic-redirect community for a route
// target in textual form.
func redirectToAPI(rtStr string) (*anypb.Any, error) {
	raw, err := bgp.ParseRouteTarget(rtStr)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect target %q: %w", rtStr, err)
	}
	var msg proto.Message
	switch v := raw.(type) {
	case *bgp.TwoOctetAsSpecificExtended:
		msg = &api.RedirectTwoOctetAsSpecificExtended{
			Asn:        uint32(v.AS),
			LocalAdmin: v.LocalAdmin,
		}
	case *bgp.IPv4AddressSpecificExtended:
		msg = &api.RedirectIPv4AddressSpecificExtended{
			Address:    v.IPv4.String(),
			LocalAdmin: uint32(v.LocalAdmin),
		}
	case *bgp.FourOctetAsSpecificExtended:
		msg = &api.RedirectFourOctetAsSpecificExtended{
			Asn:        v.AS,
			LocalAdmin: uint32(v.LocalAdmin),
		}
	default:
		return nil, fmt.Errorf("unsupported redirect target type %T", v)
	}
	return anypb.New(msg)
}

var tunnelTypes = map[string]uint32{
	"gre":         uint32(bgp.TUNNEL_TYPE_GRE),
	"vxlan":       uint32(bgp.TUNNEL_TYPE_VXLAN),
	"mpls":        uint32(bgp.TUNNEL_TYPE_MPLS),
	"mpls-in-gre": uint32(bgp.TUNNEL_TYPE_MPLS_IN_GRE),
	"mpls-in-udp": uint32(bgp.TUNNEL_TYPE_MPLS_IN_UDP),
}

func encapToAPI(encap string) (*anypb.Any, bool) {
	tt, ok := tunnelTypes[encap]
	if !ok {
		return nil, false
	}
	a, err := anypb.New(&api.EncapExtended{TunnelType: tt})
	if err != nil {
		return nil, false
	}
	return a, true
}

// prefixParts splits a CIDR into the address and length the gobgp API wants.
func prefixParts(cidr string) (string, uint32, error) {
	addr, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return "", 0, fmt.Errorf("bad prefix %q: %w", cidr, err)
	}
	ones, _ := ipnet.Mask.Size()
	return addr.String(), uint32(ones), nil
}

// flowRulesToAPI converts packet-level FlowSpec rules into their gobgp API
// counterparts.
func flowRulesToAPI(rules []bgp.FlowSpecComponentInterface) ([]*anypb.Any, error) {
	out := make([]*anypb.Any, 0, len(rules))
	for _, rule := range rules {
		var msg proto.Message
		switch r := rule.(type) {
		case *bgp.FlowSpecDestinationPrefix:
			p, ok := r.Prefix.(*bgp.IPAddrPrefix)
			if !ok {
				return nil, fmt.Errorf("unsupported flowspec prefix %T", r.Prefix)
			}
			msg = &api.FlowSpecIPPrefix{
				Type:      uint32(r.Type()),
				PrefixLen: uint32(p.Length),
				Prefix:    p.Prefix.String(),
			}
		case *bgp.FlowSpecSourcePrefix:
			p, ok := r.Prefix.(*bgp.IPAddrPrefix)
			if !ok {
				return nil, fmt.Errorf("unsupported flowspec prefix %T", r.Prefix)
			}
			msg = &api.FlowSpecIPPrefix{
				Type:      uint32(r.Type()),
				PrefixLen: uint32(p.Length),
				Prefix:    p.Prefix.String(),
			}
		case *bgp.FlowSpecComponent:
			items := make([]*api.FlowSpecComponentItem, 0, len(r.Items))
			for _, item := range r.Items {
				items = append(items, &api.FlowSpecComponentItem{
					Op:    uint32(item.Op),
					Value: item.Value,
				})
			}
			msg = &api.FlowSpecComponent{Type: uint32(r.Type()), Items: items}
		default:
			return nil, fmt.Errorf("unsupported flowspec rule %T", rule)
		}
		a, err := anypb.New(msg)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
