// Package app glues the route-event bus to an embedded gobgp server: BGP
// paths learned from neighbors are published onto the bus, and routes the
// VPN instances advertise are exported back out as BGP paths.
package app

import (
	"context"

	"github.com/google/uuid"
	api "github.com/osrg/gobgp/v3/api"
	"github.com/sirupsen/logrus"

	"github.com/netgrove/vpnd/internal/bus"
	"github.com/netgrove/vpnd/internal/export"
)

type App struct {
	log       logrus.FieldLogger
	bus       *bus.Bus
	injector  *export.Injector
	bgpServer bgpServer
	eventChan chan *api.WatchEventResponse
	done      chan struct{}

	// id marks events this bridge publishes so it never re-exports a
	// route it just learned from BGP.
	id uuid.UUID
}

func NewApp(log logrus.FieldLogger, b *bus.Bus, server bgpServer, bufsize uint64) *App {
	a := &App{
		log:       log.WithField("component", "app"),
		bus:       b,
		injector:  export.NewInjector(server, log),
		bgpServer: server,
		eventChan: make(chan *api.WatchEventResponse, bufsize),
		done:      make(chan struct{}),
		id:        uuid.New(),
	}
	b.Tap(a.export)
	return a
}

func (a *App) export(ev bus.Event) {
	if ev.Source == a.id {
		return
	}
	a.injector.HandleEvent(ev)
}

// sender runs on gobgp's watch goroutine and may still fire after Serve
// returned, so it must never touch a closed channel.
func (a *App) sender(resp *api.WatchEventResponse) {
	select {
	case a.eventChan <- resp:
	case <-a.done:
	}
}

func (a *App) receiver(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case resp := <-a.eventChan:
			for _, path := range resp.GetTable().GetPaths() {
				if path.NeighborIp == "" { // locally originated path
					continue
				}
				family := path.GetFamily()
				if family.GetAfi() != api.Family_AFI_IP {
					continue
				}
				switch family.GetSafi() {
				case api.Family_SAFI_MPLS_VPN, api.Family_SAFI_FLOW_SPEC_UNICAST:
					a.handlePath(path)
				}
			}
		}
	}
}

func (a *App) handlePath(path *api.Path) {
	entry, err := export.EntryFromPath(path)
	if err != nil {
		a.log.WithError(err).Debug("skipping unusable path")
		return
	}
	typ := bus.Advertise
	if path.IsWithdraw {
		typ = bus.Withdraw
	}
	a.bus.Publish(bus.Event{Type: typ, Entry: entry, Source: a.id})
}

func (a *App) Serve(ctx context.Context) {
	watchReq := &api.WatchEventRequest{
		Table: &api.WatchEventRequest_Table{
			Filters: []*api.WatchEventRequest_Table_Filter{
				{
					Type: api.WatchEventRequest_Table_Filter_POST_POLICY,
					Init: true,
				},
			},
		},
	}
	a.bgpServer.WatchEvent(ctx, watchReq, a.sender)
	go a.receiver(ctx)
	<-ctx.Done()
	close(a.done)
}
