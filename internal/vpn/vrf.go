package vpn

import (
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/netgrove/vpnd/internal/bus"
	"github.com/netgrove/vpnd/internal/routing"
)

const defaultPrefix = "0.0.0.0/0"

var errAttractNeedsSingleTarget = errors.New("traffic attraction requires exactly one readvertise-to route target")

// ReadvertiseConfig enables route leaking: routes learned under FromRTs are
// re-originated under ToRTs with a local endpoint as next hop.
type ReadvertiseConfig struct {
	FromRTs []string
	ToRTs   []string
}

// AttractConfig makes the VRF pull matching traffic toward itself: for every
// prefix it advertises, a FlowSpec route built from the classifier template
// is advertised toward RTs, redirecting into the readvertise-to target.
type AttractConfig struct {
	RTs        []string
	Classifier routing.Classifier
}

// leak is the binding the VRF keeps per externally learned NLRI matching its
// readvertise-from targets. bound is nil while no local endpoint candidate
// exists; the leak then waits for a plug.
type leak struct {
	orig       routing.Entry
	bound      *Endpoint
	derived    routing.Entry
	hasDerived bool
}

// VRF specializes Instance with re-advertisement across route targets, loop
// prevention, and traffic attraction/redirection.
type VRF struct {
	*Instance

	readv   *ReadvertiseConfig
	attract *AttractConfig

	leaks     map[string]*leak
	attracted mapset.Set[string]
	flows     map[string]routing.Entry

	defaultEntry routing.Entry
	defaultOn    bool

	redirects *redirectWatcher
}

func newVRF(inst *Instance, readv *ReadvertiseConfig, attract *AttractConfig, rc redirectClient) (*VRF, error) {
	if attract != nil {
		if readv == nil || len(readv.ToRTs) != 1 {
			return nil, errAttractNeedsSingleTarget
		}
		if err := attract.Classifier.Validate(); err != nil {
			return nil, fmt.Errorf("attract classifier: %w", err)
		}
	}
	v := &VRF{
		Instance:  inst,
		readv:     readv,
		attract:   attract,
		leaks:     make(map[string]*leak),
		attracted: mapset.NewThreadUnsafeSet[string](),
		flows:     make(map[string]routing.Entry),
		redirects: newRedirectWatcher(inst.log, rc),
	}
	if readv != nil {
		inst.extraRTs = readv.FromRTs
	}
	inst.hooks = v
	return v, nil
}

// remoteEvent runs on the worker for every bus event the VRF subscription
// matched, before the base import handling.
func (v *VRF) remoteEvent(ev bus.Event) {
	if ev.Entry.IsFlow() {
		v.handleFlow(ev)
		return
	}
	if v.readv == nil || !ev.Entry.HasAnyTarget(v.readv.FromRTs...) {
		return
	}
	switch ev.Type {
	case bus.Advertise:
		v.leakAdvertise(ev.Entry)
	case bus.Withdraw:
		v.leakWithdraw(ev.Entry)
	}
}

func (v *VRF) handleFlow(ev bus.Event) {
	if ev.Entry.RedirectRT == "" {
		return
	}
	classifier, err := routing.ClassifierFromRules(ev.Entry.FlowRules)
	if err != nil {
		v.log.WithError(err).Error("unusable flowspec route")
		return
	}
	switch ev.Type {
	case bus.Advertise:
		v.redirects.advertise(ev.Entry.RedirectRT, classifier)
	case bus.Withdraw:
		v.redirects.withdraw(ev.Entry.RedirectRT, classifier)
	}
}

func (v *VRF) leakAdvertise(entry routing.Entry) {
	prefix := entry.NLRI.Prefix
	if entry.HasAllRecords(v.readv.ToRTs) {
		v.log.WithField("prefix", prefix).Debug("leak suppressed, target already in rtrecord trail")
		return
	}
	l, ok := v.leaks[prefix]
	if !ok {
		l = &leak{}
		v.leaks[prefix] = l
	}
	l.orig = entry
	if l.bound == nil || !v.index.contains(*l.bound) {
		if ep, ok := v.index.earliest(); ok {
			l.bound = &ep
		} else {
			l.bound = nil
			return
		}
	}
	v.advertiseLeak(prefix, l)
}

func (v *VRF) advertiseLeak(prefix string, l *leak) {
	pd, _ := v.index.dataFor(l.bound.MAC)
	rd, _ := v.index.rdFor(*l.bound)
	derived := routing.NewEntry(routing.NLRI{
		Prefix:  prefix,
		RD:      rd,
		Label:   pd.label,
		NextHop: v.driver.LocalAddress(),
	}, v.readv.ToRTs...)
	derived.RTRecords = l.orig.RTRecords.Clone()
	derived.RTRecords.Append(v.readv.ToRTs...)
	derived.Encap = v.driver.Encap()
	if l.hasDerived && derived.Equal(l.derived) {
		return
	}
	l.derived = derived
	l.hasDerived = true
	v.advertiseEntry(derived)
	v.attractPrefix(prefix)
}

func (v *VRF) leakWithdraw(entry routing.Entry) {
	prefix := entry.NLRI.Prefix
	l, ok := v.leaks[prefix]
	if !ok {
		return
	}
	if l.hasDerived {
		v.withdrawEntry(l.derived)
	}
	delete(v.leaks, prefix)
	v.unattractPrefix(prefix)
}

func (v *VRF) endpointAdded(ep Endpoint, route routing.Entry) {
	for _, prefix := range sortedKeys(v.leaks) {
		l := v.leaks[prefix]
		if l.bound != nil {
			continue
		}
		l.bound = &ep
		v.advertiseLeak(prefix, l)
	}
	v.attractPrefix(route.NLRI.Prefix)
}

func (v *VRF) endpointRemoved(ep Endpoint, route routing.Entry) {
	v.unattractPrefix(route.NLRI.Prefix)
	for _, prefix := range sortedKeys(v.leaks) {
		l := v.leaks[prefix]
		if l.bound == nil || *l.bound != ep {
			continue
		}
		if next, ok := v.index.earliest(); ok {
			l.bound = &next
			v.advertiseLeak(prefix, l)
			continue
		}
		l.bound = nil
		if l.hasDerived {
			v.withdrawEntry(l.derived)
			l.hasDerived = false
		}
		v.unattractPrefix(prefix)
	}
}

// attractPrefix runs the traffic-attraction side effects for a prefix this
// VRF just advertised: the default route toward the readvertise-to target on
// the first attracted prefix, plus one redirecting FlowSpec route per
// prefix.
func (v *VRF) attractPrefix(prefix string) {
	if v.attract == nil || v.attracted.Contains(prefix) {
		return
	}
	if v.attracted.IsEmpty() {
		def := routing.NewEntry(routing.NLRI{
			Prefix:  defaultPrefix,
			RD:      v.rd,
			Label:   v.label,
			NextHop: v.driver.LocalAddress(),
		}, v.readv.ToRTs...)
		def.Encap = v.driver.Encap()
		v.defaultEntry = def
		v.defaultOn = true
		v.advertiseEntry(def)
	}
	v.attracted.Add(prefix)

	classifier := v.attract.Classifier.WithDestination(prefix)
	rules, err := classifier.FlowRules()
	if err != nil {
		v.log.WithError(err).WithField("prefix", prefix).Error("classifier conversion failed")
		return
	}
	flow := routing.NewFlowEntry(rules, v.attract.RTs...)
	flow.RedirectRT = v.readv.ToRTs[0]
	v.flows[prefix] = flow
	v.advertiseEntry(flow)
}

func (v *VRF) unattractPrefix(prefix string) {
	if v.attract == nil || !v.attracted.Contains(prefix) {
		return
	}
	if flow, ok := v.flows[prefix]; ok {
		v.withdrawEntry(flow)
		delete(v.flows, prefix)
	}
	v.attracted.Remove(prefix)
	if v.attracted.IsEmpty() && v.defaultOn {
		v.withdrawEntry(v.defaultEntry)
		v.defaultOn = false
	}
}

func (v *VRF) Snapshot() Snapshot {
	var snap Snapshot
	v.worker.call(func() error {
		snap = v.snapshotLocked()
		if v.readv != nil {
			snap.Readvertise = &ReadvertiseSnapshot{
				FromRTs: sortedCopy(v.readv.FromRTs),
				ToRTs:   sortedCopy(v.readv.ToRTs),
			}
		}
		for _, prefix := range sortedKeys(v.leaks) {
			if v.leaks[prefix].hasDerived {
				snap.LeakedPrefixes = append(snap.LeakedPrefixes, prefix)
			} else {
				snap.PendingLeaks = append(snap.PendingLeaks, prefix)
			}
		}
		for _, prefix := range sortedKeys(v.flows) {
			snap.AttractedFlows = append(snap.AttractedFlows, prefix)
		}
		return nil
	})
	return snap
}
