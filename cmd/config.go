package main

import (
	"fmt"
	"io"
	"os"

	"github.com/osrg/gobgp/v3/pkg/config"
	"github.com/osrg/gobgp/v3/pkg/config/oc"
	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

// Config bundles everything main needs to start: the gobgp section of the
// TOML file, the daemon's own sections, and the command-line flags.
type Config struct {
	GobgpConfig *oc.BgpConfigSet
	Daemon      DaemonConfig
	ConfigFile  string
	GrpcHosts   string
	LogLevel    string

	logger *logrus.Logger
}

// DaemonConfig is the vpnd-specific part of the config file. It lives in the
// same TOML file as the gobgp configuration; both decoders ignore the keys
// belonging to the other.
type DaemonConfig struct {
	Dataplane DataplaneDecl  `toml:"dataplane"`
	Instances []InstanceDecl `toml:"vpn-instances"`
}

type DataplaneDecl struct {
	Encap string `toml:"encap"`
	// LocalAddress is the next hop advertised for local endpoints.
	// Defaults to the gobgp router ID.
	LocalAddress string `toml:"local-address"`
}

type InstanceDecl struct {
	Name        string           `toml:"name"`
	Type        string           `toml:"type"`
	ImportRTs   []string         `toml:"import-rts"`
	ExportRTs   []string         `toml:"export-rts"`
	StopIfEmpty bool             `toml:"stop-if-empty"`
	Readvertise *ReadvertiseDecl `toml:"readvertise"`
	Attract     *AttractDecl     `toml:"attract"`
	Endpoints   []EndpointDecl   `toml:"endpoints"`
}

type ReadvertiseDecl struct {
	FromRTs []string `toml:"from-rts"`
	ToRTs   []string `toml:"to-rts"`
}

// AttractDecl declares FlowSpec traffic attraction. Ports are given as "443"
// or "8000:8080".
type AttractDecl struct {
	RTs             []string `toml:"rts"`
	Protocol        string   `toml:"protocol"`
	SourcePrefix    string   `toml:"source-prefix"`
	SourcePort      string   `toml:"source-port"`
	DestinationPort string   `toml:"destination-port"`
}

// EndpointDecl is an endpoint plugged at startup.
type EndpointDecl struct {
	MAC             string `toml:"mac"`
	IP              string `toml:"ip"`
	Port            string `toml:"port"`
	AdvertiseSubnet bool   `toml:"advertise-subnet"`
}

func NewConfig(logger *logrus.Logger) (cfg Config) {
	configFile := flag.StringP("config", "f", "", "Path to TOML config file")
	grpcHosts := flag.StringP("api-host", "a", ":50051", "gRPC API address:port to listen to.")
	logLevel := flag.StringP("log-level", "l", "info", "Log Level")

	flag.Parse()
	if *configFile == "" {
		panic("config file must be defined")
	}
	cfg.ConfigFile = *configFile
	cfg.LogLevel = *logLevel
	cfg.GrpcHosts = *grpcHosts
	cfg.logger = logger
	cfg.GobgpConfig, cfg.Daemon = cfg.mustReadConfig()
	return
}

func (c *Config) mustReadConfig() (*oc.BgpConfigSet, DaemonConfig) {
	gobgpConfig, err := config.ReadConfigFile(c.ConfigFile, "toml")
	if err != nil {
		c.logger.Fatalf("error reading config file: %v", err)
	}
	file, err := os.Open(c.ConfigFile)
	if err != nil {
		c.logger.Fatalf("error reading config file: %v", err)
	}
	defer file.Close()
	daemon, err := readDaemonConfig(file)
	if err != nil {
		c.logger.Fatalf("error reading config file: %v", err)
	}
	return gobgpConfig, daemon
}

func readDaemonConfig(r io.Reader) (DaemonConfig, error) {
	var daemon DaemonConfig
	if err := toml.NewDecoder(r).Decode(&daemon); err != nil {
		return DaemonConfig{}, err
	}
	if err := validateInstances(daemon.Instances); err != nil {
		return DaemonConfig{}, err
	}
	return daemon, nil
}

func validateInstances(decls []InstanceDecl) error {
	seen := map[string]bool{}
	unnamed := 0
	for _, decl := range decls {
		if decl.Name == "" {
			unnamed++
			continue
		}
		if seen[decl.Name] {
			return fmt.Errorf("duplicate vpn instance %q", decl.Name)
		}
		seen[decl.Name] = true
	}
	if unnamed > 0 {
		return fmt.Errorf("name is mandatory for a vpn instance, %d declared without one", unnamed)
	}
	return nil
}

// localAddress picks the next hop for local routes: the explicit dataplane
// setting when present, the gobgp router ID otherwise.
func (c *Config) localAddress() string {
	if c.Daemon.Dataplane.LocalAddress != "" {
		return c.Daemon.Dataplane.LocalAddress
	}
	return c.GobgpConfig.Global.Config.RouterId
}

func (c *Config) encap() string {
	if c.Daemon.Dataplane.Encap != "" {
		return c.Daemon.Dataplane.Encap
	}
	return "mpls"
}
