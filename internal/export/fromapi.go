package export

import (
	"fmt"

	api "github.com/osrg/gobgp/v3/api"
	"github.com/osrg/gobgp/v3/pkg/packet/bgp"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/netgrove/vpnd/internal/routing"
)

// EntryFromPath rebuilds a route entry from a gobgp path received on the
// watch-event stream. Labeled VPN unicast and IPv4 FlowSpec paths are
// supported; anything else is an error the caller skips.
func EntryFromPath(path *api.Path) (routing.Entry, error) {
	family := path.GetFamily()
	if family.GetAfi() != api.Family_AFI_IP {
		return routing.Entry{}, fmt.Errorf("unsupported afi %v", family.GetAfi())
	}

	var entry routing.Entry
	switch family.GetSafi() {
	case api.Family_SAFI_MPLS_VPN:
		nlri := &api.LabeledVPNIPAddressPrefix{}
		if err := path.GetNlri().UnmarshalTo(nlri); err != nil {
			return routing.Entry{}, fmt.Errorf("bad vpn nlri: %w", err)
		}
		rd, err := rdFromAPI(nlri.Rd)
		if err != nil {
			return routing.Entry{}, err
		}
		var label uint32
		if len(nlri.Labels) > 0 {
			label = nlri.Labels[0]
		}
		entry = routing.NewEntry(routing.NLRI{
			Prefix: fmt.Sprintf("%s/%d", nlri.Prefix, nlri.PrefixLen),
			RD:     rd,
			Label:  label,
		})
	case api.Family_SAFI_FLOW_SPEC_UNICAST:
		nlri := &api.FlowSpecNLRI{}
		if err := path.GetNlri().UnmarshalTo(nlri); err != nil {
			return routing.Entry{}, fmt.Errorf("bad flowspec nlri: %w", err)
		}
		rules, err := flowRulesFromAPI(nlri.Rules)
		if err != nil {
			return routing.Entry{}, err
		}
		entry = routing.NewFlowEntry(rules)
	default:
		return routing.Entry{}, fmt.Errorf("unsupported safi %v", family.GetSafi())
	}

	if err := applyAttrs(&entry, path.GetPattrs()); err != nil {
		return routing.Entry{}, err
	}
	return entry, nil
}

func applyAttrs(entry *routing.Entry, pattrs []*anypb.Any) error {
	for _, attr := range pattrs {
		m, err := attr.UnmarshalNew()
		if err != nil {
			return fmt.Errorf("bad path attribute: %w", err)
		}
		switch v := m.(type) {
		case *api.NextHopAttribute:
			entry.NLRI.NextHop = v.NextHop
		case *api.MpReachNLRIAttribute:
			if len(v.NextHops) > 0 {
				entry.NLRI.NextHop = v.NextHops[0]
			}
		case *api.ExtendedCommunitiesAttribute:
			if err := applyCommunities(entry, v.Communities); err != nil {
				return err
			}
		}
	}
	return nil
}

func applyCommunities(entry *routing.Entry, comms []*anypb.Any) error {
	for _, comm := range comms {
		m, err := comm.UnmarshalNew()
		if err != nil {
			return fmt.Errorf("bad extended community: %w", err)
		}
		switch v := m.(type) {
		case *api.TwoOctetAsSpecificExtended:
			if v.SubType == uint32(bgp.EC_SUBTYPE_ROUTE_TARGET) {
				entry.Targets.Add(fmt.Sprintf("%d:%d", v.Asn, v.LocalAdmin))
			}
		case *api.IPv4AddressSpecificExtended:
			if v.SubType == uint32(bgp.EC_SUBTYPE_ROUTE_TARGET) {
				entry.Targets.Add(fmt.Sprintf("%s:%d", v.Address, v.LocalAdmin))
			}
		case *api.FourOctetAsSpecificExtended:
			if v.SubType == uint32(bgp.EC_SUBTYPE_ROUTE_TARGET) {
				rt, err := routing.ParseRT(fmt.Sprintf("%d:%d", v.Asn, v.LocalAdmin))
				if err != nil {
					return err
				}
				entry.Targets.Add(rt)
			}
		case *api.RedirectTwoOctetAsSpecificExtended:
			entry.RedirectRT = fmt.Sprintf("%d:%d", v.Asn, v.LocalAdmin)
		case *api.RedirectIPv4AddressSpecificExtended:
			entry.RedirectRT = fmt.Sprintf("%s:%d", v.Address, v.LocalAdmin)
		case *api.RedirectFourOctetAsSpecificExtended:
			rt, err := routing.ParseRT(fmt.Sprintf("%d:%d", v.Asn, v.LocalAdmin))
			if err != nil {
				return err
			}
			entry.RedirectRT = rt
		case *api.EncapExtended:
			for name, tt := range tunnelTypes {
				if tt == v.TunnelType {
					entry.Encap = name
				}
			}
		}
	}
	return nil
}

func rdFromAPI(a *anypb.Any) (string, error) {
	m, err := a.UnmarshalNew()
	if err != nil {
		return "", fmt.Errorf("bad route distinguisher: %w", err)
	}
	switch v := m.(type) {
	case *api.RouteDistinguisherTwoOctetASN:
		return fmt.Sprintf("%d:%d", v.Admin, v.Assigned), nil
	case *api.RouteDistinguisherIPAddress:
		return fmt.Sprintf("%s:%d", v.Admin, v.Assigned), nil
	case *api.RouteDistinguisherFourOctetASN:
		return routing.ParseRD(fmt.Sprintf("%d:%d", v.Admin, v.Assigned))
	default:
		return "", fmt.Errorf("unsupported RD type %T", v)
	}
}

func flowRulesFromAPI(rules []*anypb.Any) ([]bgp.FlowSpecComponentInterface, error) {
	out := make([]bgp.FlowSpecComponentInterface, 0, len(rules))
	for _, rule := range rules {
		m, err := rule.UnmarshalNew()
		if err != nil {
			return nil, fmt.Errorf("bad flowspec rule: %w", err)
		}
		switch v := m.(type) {
		case *api.FlowSpecIPPrefix:
			prefix := bgp.NewIPAddrPrefix(uint8(v.PrefixLen), v.Prefix)
			switch bgp.BGPFlowSpecType(v.Type) {
			case bgp.FLOW_SPEC_TYPE_DST_PREFIX:
				out = append(out, bgp.NewFlowSpecDestinationPrefix(prefix))
			case bgp.FLOW_SPEC_TYPE_SRC_PREFIX:
				out = append(out, bgp.NewFlowSpecSourcePrefix(prefix))
			default:
				return nil, fmt.Errorf("unsupported flowspec prefix type %d", v.Type)
			}
		case *api.FlowSpecComponent:
			items := make([]*bgp.FlowSpecComponentItem, 0, len(v.Items))
			for _, item := range v.Items {
				items = append(items, bgp.NewFlowSpecComponentItem(uint8(item.Op), item.Value))
			}
			out = append(out, bgp.NewFlowSpecComponent(bgp.BGPFlowSpecType(v.Type), items))
		default:
			return nil, fmt.Errorf("unsupported flowspec rule %T", v)
		}
	}
	return out, nil
}
