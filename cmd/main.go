package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/osrg/gobgp/v3/pkg/config"
	"github.com/osrg/gobgp/v3/pkg/log"
	"github.com/osrg/gobgp/v3/pkg/server"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"

	"github.com/netgrove/vpnd/internal/alloc"
	"github.com/netgrove/vpnd/internal/app"
	"github.com/netgrove/vpnd/internal/bus"
	"github.com/netgrove/vpnd/internal/dataplane"
	"github.com/netgrove/vpnd/internal/vpn"
)

// redirectLogger stands in for an external redirection registry. Real
// deployments would notify the controller owning the redirected-to VRFs.
type redirectLogger struct {
	logger *logrus.Logger
}

func (r redirectLogger) StartRedirect(rt string) error {
	r.logger.WithField("rt", rt).Info("traffic redirection started")
	return nil
}

func (r redirectLogger) StopRedirect(rt string) error {
	r.logger.WithField("rt", rt).Info("traffic redirection stopped")
	return nil
}

func main() {
	var logger = logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.JSONFormatter{})
	opts := NewConfig(logger)
	switch opts.LogLevel {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
	maxSize := 256 << 20
	grpcOpts := []grpc.ServerOption{grpc.MaxRecvMsgSize(maxSize), grpc.MaxSendMsgSize(maxSize)}
	logger.Info("vpnd started")
	bgpLogger := log.NewDefaultLogger()
	bgpServer := server.NewBgpServer(
		server.GrpcListenAddress(opts.GrpcHosts),
		server.GrpcOption(grpcOpts),
		server.LoggerOption(bgpLogger))
	go bgpServer.Serve()
	_, err := config.InitialConfig(context.Background(), bgpServer, opts.GobgpConfig, false)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"Topic": "Config",
			"Error": err,
		}).Fatalf("Failed to apply initial configuration %s", opts.ConfigFile)
	}

	routeBus := bus.New()
	driver := dataplane.NewDummyDriver(logger, opts.encap(), opts.localAddress())
	manager := vpn.NewManager(logger, routeBus, driver, alloc.NewLabels(),
		alloc.NewRDs(opts.localAddress()), redirectLogger{logger})
	instances := opts.Daemon.Instances
	if err := applyInstanceChanges(manager, diffInstances(nil, instances)); err != nil {
		logger.WithFields(logrus.Fields{
			"Topic": "Config",
			"Error": err,
		}).Fatal("Failed to create the configured VPN instances")
	}

	bufSize := 100000
	vpnd := app.NewApp(logger, routeBus, bgpServer, uint64(bufSize))
	ctx, stopApp := context.WithCancel(context.Background())
	go vpnd.Serve(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	rateLimiter := rate.Sometimes{Interval: 1 * time.Second}
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			rateLimiter.Do(func() {
				instances = reloadInstances(logger, manager, opts, instances)
			})
			continue
		}
		logger.Infof("Received %s, shutting down.", sig)
		break
	}
	stopApp()
	if err := manager.StopAll(); err != nil {
		logger.WithField("Error", err).Warn("errors while stopping VPN instances")
	}
	if err := driver.Cleanup(); err != nil {
		logger.WithField("Error", err).Warn("dataplane cleanup failed")
	}
	bgpServer.Stop()
}

// reloadInstances re-reads the vpnd sections of the config file and applies
// the instance diff. Changes to the gobgp sections need a restart.
func reloadInstances(logger *logrus.Logger, manager InstanceManager, opts Config, current []InstanceDecl) []InstanceDecl {
	logger.Info("Reloading VPN instance configuration")
	file, err := os.Open(opts.ConfigFile)
	if err != nil {
		logger.WithField("Error", err).Error("config reload failed, keeping the running configuration")
		return current
	}
	defer file.Close()
	daemon, err := readDaemonConfig(file)
	if err != nil {
		logger.WithField("Error", err).Error("config reload failed, keeping the running configuration")
		return current
	}
	if err := applyInstanceChanges(manager, diffInstances(current, daemon.Instances)); err != nil {
		logger.WithField("Error", err).Error("config reload applied partially")
	}
	return daemon.Instances
}
