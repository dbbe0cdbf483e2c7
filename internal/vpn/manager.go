package vpn

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/sirupsen/logrus"

	"github.com/netgrove/vpnd/internal/dataplane"
	"github.com/netgrove/vpnd/internal/routing"
)

// Instance types. VRF instances carry IP unicast traffic and support route
// leaking and attraction; EVPN instances only run the base engine.
const (
	TypeIPVPN = "ipvpn"
	TypeEVPN  = "evpn"
)

// Engine is the management surface common to all instance kinds.
type Engine interface {
	Name() string
	Plug(mac, ip, port string, advertiseSubnet bool) error
	Unplug(mac, ip string) error
	UpdateRouteTargets(importRTs, exportRTs []string) error
	Snapshot() Snapshot
	Empty() bool
	Stop() error
}

// InstanceConfig declares one VPN instance. Route targets are given in their
// textual form and canonicalized on creation.
type InstanceConfig struct {
	Name        string
	Type        string
	ImportRTs   []string
	ExportRTs   []string
	Readvertise *ReadvertiseConfig
	Attract     *AttractConfig
	// StopIfEmpty tears the instance down when its last endpoint is
	// unplugged through the manager.
	StopIfEmpty bool
}

type managed struct {
	engine      Engine
	stopIfEmpty bool
}

// Manager owns the set of running instances and the services they share.
type Manager struct {
	log       logrus.FieldLogger
	bus       eventBus
	driver    dataplane.Driver
	labels    labelAllocator
	rds       rdAllocator
	redirect  redirectClient
	instances *xsync.Map[string, *managed]
}

func NewManager(
	log logrus.FieldLogger,
	b eventBus,
	driver dataplane.Driver,
	labels labelAllocator,
	rds rdAllocator,
	redirect redirectClient,
) *Manager {
	return &Manager{
		log:       log,
		bus:       b,
		driver:    driver,
		labels:    labels,
		rds:       rds,
		redirect:  redirect,
		instances: xsync.NewMap[string, *managed](),
	}
}

// CreateInstance builds, wires and starts an instance from its declaration.
func (m *Manager) CreateInstance(cfg InstanceConfig) (Engine, error) {
	importRTs, err := routing.ParseRTs(cfg.ImportRTs)
	if err != nil {
		return nil, fmt.Errorf("instance %s: import targets: %w", cfg.Name, err)
	}
	exportRTs, err := routing.ParseRTs(cfg.ExportRTs)
	if err != nil {
		return nil, fmt.Errorf("instance %s: export targets: %w", cfg.Name, err)
	}

	inst, err := newInstance(cfg.Name, m.log, m.bus, m.driver, m.labels, m.rds, importRTs, exportRTs)
	if err != nil {
		return nil, err
	}

	var engine Engine
	switch cfg.Type {
	case TypeEVPN:
		engine = inst
	case TypeIPVPN, "":
		readv, attract, err := m.vrfConfig(cfg)
		if err != nil {
			inst.Stop()
			return nil, fmt.Errorf("instance %s: %w", cfg.Name, err)
		}
		vrf, err := newVRF(inst, readv, attract, m.redirect)
		if err != nil {
			inst.Stop()
			return nil, fmt.Errorf("instance %s: %w", cfg.Name, err)
		}
		engine = vrf
	default:
		inst.Stop()
		return nil, fmt.Errorf("instance %s: unknown type %q", cfg.Name, cfg.Type)
	}

	if _, loaded := m.instances.LoadOrStore(cfg.Name, &managed{engine: engine, stopIfEmpty: cfg.StopIfEmpty}); loaded {
		engine.Stop()
		return nil, fmt.Errorf("instance %s already exists", cfg.Name)
	}
	inst.start()
	m.log.WithFields(logrus.Fields{"instance": cfg.Name, "type": cfg.Type}).Info("instance started")
	return engine, nil
}

func (m *Manager) vrfConfig(cfg InstanceConfig) (*ReadvertiseConfig, *AttractConfig, error) {
	var readv *ReadvertiseConfig
	if cfg.Readvertise != nil {
		from, err := routing.ParseRTs(cfg.Readvertise.FromRTs)
		if err != nil {
			return nil, nil, fmt.Errorf("readvertise-from targets: %w", err)
		}
		to, err := routing.ParseRTs(cfg.Readvertise.ToRTs)
		if err != nil {
			return nil, nil, fmt.Errorf("readvertise-to targets: %w", err)
		}
		readv = &ReadvertiseConfig{FromRTs: from, ToRTs: to}
	}
	var attract *AttractConfig
	if cfg.Attract != nil {
		rts, err := routing.ParseRTs(cfg.Attract.RTs)
		if err != nil {
			return nil, nil, fmt.Errorf("attract targets: %w", err)
		}
		attract = &AttractConfig{RTs: rts, Classifier: cfg.Attract.Classifier}
	}
	return readv, attract, nil
}

func (m *Manager) Get(name string) (Engine, bool) {
	mi, ok := m.instances.Load(name)
	if !ok {
		return nil, false
	}
	return mi.engine, true
}

func (m *Manager) Plug(instance, mac, ip, port string, advertiseSubnet bool) error {
	mi, ok := m.instances.Load(instance)
	if !ok {
		return fmt.Errorf("no such instance %q", instance)
	}
	return mi.engine.Plug(mac, ip, port, advertiseSubnet)
}

// Unplug detaches an endpoint and, for stop-if-empty instances, stops the
// instance when its last endpoint is gone.
func (m *Manager) Unplug(instance, mac, ip string) error {
	mi, ok := m.instances.Load(instance)
	if !ok {
		return fmt.Errorf("no such instance %q", instance)
	}
	if err := mi.engine.Unplug(mac, ip); err != nil {
		return err
	}
	if mi.stopIfEmpty && mi.engine.Empty() {
		return m.StopInstance(instance)
	}
	return nil
}

func (m *Manager) UpdateRouteTargets(instance string, importRTs, exportRTs []string) error {
	mi, ok := m.instances.Load(instance)
	if !ok {
		return fmt.Errorf("no such instance %q", instance)
	}
	return mi.engine.UpdateRouteTargets(importRTs, exportRTs)
}

func (m *Manager) StopInstance(name string) error {
	mi, ok := m.instances.LoadAndDelete(name)
	if !ok {
		return fmt.Errorf("no such instance %q", name)
	}
	m.log.WithField("instance", name).Info("instance stopped")
	return mi.engine.Stop()
}

// Snapshots returns the looking-glass view of every instance, sorted by
// name.
func (m *Manager) Snapshots() []Snapshot {
	var snaps []Snapshot
	m.instances.Range(func(_ string, mi *managed) bool {
		snaps = append(snaps, mi.engine.Snapshot())
		return true
	})
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps
}

func (m *Manager) StopAll() error {
	var result *multierror.Error
	var names []string
	m.instances.Range(func(name string, _ *managed) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	for _, name := range names {
		if mi, ok := m.instances.LoadAndDelete(name); ok {
			result = multierror.Append(result, mi.engine.Stop())
		}
	}
	return result.ErrorOrNil()
}
