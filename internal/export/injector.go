// Package export turns advertised route entries into paths of an embedded
// gobgp server. It is the only place the engine's route model meets the
// gobgp API surface.
package export

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	api "github.com/osrg/gobgp/v3/api"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/netgrove/vpnd/internal/bus"
	"github.com/netgrove/vpnd/internal/routing"
)

// Injector pushes route entries into a gobgp server and remembers the path
// UUID per route key so withdrawals and supersessions delete the right path.
type Injector struct {
	s     bgpServer
	log   logrus.FieldLogger
	paths *xsync.Map[string, uuid.UUID]
}

func NewInjector(s bgpServer, log logrus.FieldLogger) *Injector {
	return &Injector{
		s:     s,
		log:   log.WithField("component", "export"),
		paths: xsync.NewMap[string, uuid.UUID](),
	}
}

// HandleEvent is the bus tap: every advertisement and withdrawal published
// by any instance ends up here.
func (j *Injector) HandleEvent(ev bus.Event) {
	var err error
	switch ev.Type {
	case bus.Advertise:
		err = j.Advertise(ev.Entry)
	case bus.Withdraw:
		err = j.Withdraw(ev.Entry)
	}
	if err != nil {
		j.log.WithError(err).WithField("route", ev.Entry.String()).Error("bgp export failed")
	}
}

func (j *Injector) Advertise(entry routing.Entry) error {
	path, err := buildPath(entry)
	if err != nil {
		return err
	}
	resp, err := j.s.AddPath(context.TODO(), &api.AddPathRequest{Path: path})
	if err != nil {
		return err
	}
	pathID, err := uuid.FromBytes(resp.Uuid)
	if err != nil {
		return err
	}
	// A prior path for the same key may carry a different RD or next hop,
	// so it is deleted explicitly rather than relying on implicit replace.
	prev, had := j.paths.Load(entry.Key())
	j.paths.Store(entry.Key(), pathID)
	if had && prev != pathID {
		return j.delPath(prev, entry)
	}
	return nil
}

func (j *Injector) Withdraw(entry routing.Entry) error {
	pathID, ok := j.paths.LoadAndDelete(entry.Key())
	if !ok {
		return nil
	}
	return j.delPath(pathID, entry)
}

func (j *Injector) delPath(pathID uuid.UUID, entry routing.Entry) error {
	family := familyOf(entry)
	var nlri *anypb.Any
	if entry.IsFlow() {
		nlri, _ = anypb.New(&api.FlowSpecNLRI{})
	} else {
		rd, _ := anypb.New(&api.RouteDistinguisherTwoOctetASN{})
		nlri, _ = anypb.New(&api.LabeledVPNIPAddressPrefix{Rd: rd})
	}
	nh, _ := anypb.New(&api.NextHopAttribute{NextHop: "0.0.0.0"})
	binID, _ := pathID.MarshalBinary()
	return j.s.DeletePath(context.TODO(), &api.DeletePathRequest{
		Uuid:   binID,
		Family: family,
		Path: &api.Path{
			Uuid:   binID,
			Family: family,
			Nlri:   nlri,
			Pattrs: []*anypb.Any{nh},
		},
	})
}

func familyOf(entry routing.Entry) *api.Family {
	if entry.IsFlow() {
		return &api.Family{Afi: api.Family_AFI_IP, Safi: api.Family_SAFI_FLOW_SPEC_UNICAST}
	}
	return &api.Family{Afi: api.Family_AFI_IP, Safi: api.Family_SAFI_MPLS_VPN}
}

func buildPath(entry routing.Entry) (*api.Path, error) {
	extcomms, err := communities(entry)
	if err != nil {
		return nil, err
	}
	extcommAttr, err := anypb.New(&api.ExtendedCommunitiesAttribute{Communities: extcomms})
	if err != nil {
		return nil, err
	}

	var nlri *anypb.Any
	if entry.IsFlow() {
		rules, err := flowRulesToAPI(entry.FlowRules)
		if err != nil {
			return nil, err
		}
		nlri, err = anypb.New(&api.FlowSpecNLRI{Rules: rules})
		if err != nil {
			return nil, err
		}
	} else {
		rd, err := rdToAPI(entry.NLRI.RD)
		if err != nil {
			return nil, err
		}
		addr, length, err := prefixParts(entry.NLRI.Prefix)
		if err != nil {
			return nil, err
		}
		nlri, err = anypb.New(&api.LabeledVPNIPAddressPrefix{
			Rd:        rd,
			Prefix:    addr,
			PrefixLen: length,
			Labels:    []uint32{entry.NLRI.Label},
		})
		if err != nil {
			return nil, err
		}
	}

	pattrs := []*anypb.Any{extcommAttr}
	if !entry.IsFlow() {
		nh, err := anypb.New(&api.NextHopAttribute{NextHop: entry.NLRI.NextHop})
		if err != nil {
			return nil, err
		}
		pattrs = append(pattrs, nh)
	}

	return &api.Path{
		Family: familyOf(entry),
		Nlri:   nlri,
		Pattrs: pattrs,
	}, nil
}

func communities(entry routing.Entry) ([]*anypb.Any, error) {
	targets := entry.Targets.ToSlice()
	sort.Strings(targets)
	extcomms := make([]*anypb.Any, 0, len(targets)+2)
	var merr error
	for _, rtString := range targets {
		rt, err := rtToAPI(rtString)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		extcomms = append(extcomms, rt)
	}
	if merr != nil {
		return nil, fmt.Errorf("route %s: %w", entry.Key(), merr)
	}
	if entry.RedirectRT != "" {
		redirect, err := redirectToAPI(entry.RedirectRT)
		if err != nil {
			return nil, err
		}
		extcomms = append(extcomms, redirect)
	}
	if enc, ok := encapToAPI(entry.Encap); ok {
		extcomms = append(extcomms, enc)
	}
	return extcomms, nil
}
