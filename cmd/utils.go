package main

import (
	"fmt"

	"github.com/netgrove/vpnd/internal/routing"
	"github.com/netgrove/vpnd/internal/vpn"
)

type InstanceManager interface {
	CreateInstance(cfg vpn.InstanceConfig) (vpn.Engine, error)
	StopInstance(name string) error
	UpdateRouteTargets(instance string, importRTs, exportRTs []string) error
	Plug(instance, mac, ip, port string, advertiseSubnet bool) error
}

func instanceConfig(decl InstanceDecl) (vpn.InstanceConfig, error) {
	cfg := vpn.InstanceConfig{
		Name:        decl.Name,
		Type:        decl.Type,
		ImportRTs:   decl.ImportRTs,
		ExportRTs:   decl.ExportRTs,
		StopIfEmpty: decl.StopIfEmpty,
	}
	if decl.Readvertise != nil {
		cfg.Readvertise = &vpn.ReadvertiseConfig{
			FromRTs: decl.Readvertise.FromRTs,
			ToRTs:   decl.Readvertise.ToRTs,
		}
	}
	if decl.Attract != nil {
		classifier, err := classifierFromDecl(*decl.Attract)
		if err != nil {
			return vpn.InstanceConfig{}, fmt.Errorf("instance %s: %w", decl.Name, err)
		}
		cfg.Attract = &vpn.AttractConfig{
			RTs:        decl.Attract.RTs,
			Classifier: classifier,
		}
	}
	return cfg, nil
}

func classifierFromDecl(decl AttractDecl) (routing.Classifier, error) {
	srcPort, err := routing.ParsePortRange(decl.SourcePort)
	if err != nil {
		return routing.Classifier{}, fmt.Errorf("attract source port: %w", err)
	}
	dstPort, err := routing.ParsePortRange(decl.DestinationPort)
	if err != nil {
		return routing.Classifier{}, fmt.Errorf("attract destination port: %w", err)
	}
	return routing.Classifier{
		SourcePrefix:    decl.SourcePrefix,
		SourcePort:      srcPort,
		DestinationPort: dstPort,
		Protocol:        decl.Protocol,
	}, nil
}

type instanceDiff struct {
	created []InstanceDecl
	deleted []string
	updated []InstanceDecl
}

// diffInstances compares two instance declaration sets by name. An instance
// present in both with different route targets lands in updated; other
// in-place changes need a delete and re-add of the declaration.
func diffInstances(old, new []InstanceDecl) instanceDiff {
	byName := func(decls []InstanceDecl) map[string]InstanceDecl {
		m := make(map[string]InstanceDecl, len(decls))
		for _, decl := range decls {
			m[decl.Name] = decl
		}
		return m
	}
	oldByName := byName(old)
	newByName := byName(new)

	var diff instanceDiff
	for _, decl := range new {
		prev, ok := oldByName[decl.Name]
		if !ok {
			diff.created = append(diff.created, decl)
			continue
		}
		if !sameStrings(prev.ImportRTs, decl.ImportRTs) || !sameStrings(prev.ExportRTs, decl.ExportRTs) {
			diff.updated = append(diff.updated, decl)
		}
	}
	for _, decl := range old {
		if _, ok := newByName[decl.Name]; !ok {
			diff.deleted = append(diff.deleted, decl.Name)
		}
	}
	return diff
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// applyInstanceChanges drives the manager toward a declaration set. Creation
// includes plugging the statically declared endpoints.
func applyInstanceChanges(mgr InstanceManager, diff instanceDiff) error {
	for _, name := range diff.deleted {
		if err := mgr.StopInstance(name); err != nil {
			return err
		}
	}
	for _, decl := range diff.updated {
		if err := mgr.UpdateRouteTargets(decl.Name, decl.ImportRTs, decl.ExportRTs); err != nil {
			return err
		}
	}
	for _, decl := range diff.created {
		cfg, err := instanceConfig(decl)
		if err != nil {
			return err
		}
		if _, err := mgr.CreateInstance(cfg); err != nil {
			return err
		}
		for _, ep := range decl.Endpoints {
			if err := mgr.Plug(decl.Name, ep.MAC, ep.IP, ep.Port, ep.AdvertiseSubnet); err != nil {
				return fmt.Errorf("instance %s: endpoint %s: %w", decl.Name, ep.IP, err)
			}
		}
	}
	return nil
}
