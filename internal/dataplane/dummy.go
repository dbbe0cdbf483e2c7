package dataplane

import "github.com/sirupsen/logrus"

// DummyDriver logs every forwarding-plane call without touching the host. It
// is the default driver and the one integration tests run against.
type DummyDriver struct {
	log          logrus.FieldLogger
	encap        string
	localAddress string
}

func NewDummyDriver(log logrus.FieldLogger, encap, localAddress string) *DummyDriver {
	return &DummyDriver{
		log:          log.WithField("driver", "dummy"),
		encap:        encap,
		localAddress: localAddress,
	}
}

func (d *DummyDriver) Encap() string        { return d.encap }
func (d *DummyDriver) LocalAddress() string { return d.localAddress }

func (d *DummyDriver) Initialize(instanceID string) (Handle, error) {
	d.log.WithField("instance", instanceID).Info("initialized dataplane")
	return &dummyHandle{log: d.log.WithField("instance", instanceID)}, nil
}

func (d *DummyDriver) Cleanup() error {
	d.log.Info("dataplane cleanup")
	return nil
}

type dummyHandle struct {
	log logrus.FieldLogger
}

func (h *dummyHandle) Plug(mac, ip, port string, label uint32) error {
	h.log.WithFields(logrus.Fields{
		"mac": mac, "ip": ip, "port": port, "label": label,
	}).Info("plug endpoint")
	return nil
}

func (h *dummyHandle) Unplug(mac, ip, port string, label uint32, lastOnPort bool) error {
	h.log.WithFields(logrus.Fields{
		"mac": mac, "ip": ip, "port": port, "label": label, "lastOnPort": lastOnPort,
	}).Info("unplug endpoint")
	return nil
}

func (h *dummyHandle) SetupRemoteEndpoint(prefix, nextHop string, label uint32, encap string) error {
	h.log.WithFields(logrus.Fields{
		"prefix": prefix, "nextHop": nextHop, "label": label, "encap": encap,
	}).Info("setup remote endpoint")
	return nil
}

func (h *dummyHandle) RemoveRemoteEndpoint(prefix, nextHop string, label uint32) error {
	h.log.WithFields(logrus.Fields{
		"prefix": prefix, "nextHop": nextHop, "label": label,
	}).Info("remove remote endpoint")
	return nil
}

func (h *dummyHandle) Release() error {
	h.log.Info("released dataplane")
	return nil
}
