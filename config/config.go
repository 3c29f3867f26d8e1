// Package config is the bootstrap document spec.md §6 Inputs describes:
// seed, worker count, simulation end time, the topology file, per-host
// application launches, and logging/tracing sinks, decoded from TOML
// (github.com/BurntSushi/toml, a teacher dependency) the same way the
// teacher's config_parser.go/evoepi_config_loader.go/loader.go decode
// SingleHostConfig/EvoEpiConfig, validated the same way
// (SingleHostConfig.Validate's "check keywords, set a validated flag"
// shape), then turned into a scheduler.BootstrapGraph by Build — the
// external-collaborator boundary spec.md draws: nothing downstream of
// Build ever re-parses a config file.
package config

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/shadow/shadow-sub012/host"
	"github.com/shadow/shadow-sub012/scheduler"
	"github.com/shadow/shadow-sub012/shim"
	"github.com/shadow/shadow-sub012/topology"
	"github.com/shadow/shadow-sub012/trace"
	"github.com/shadow/shadow-sub012/vtime"
)

// LaunchConfig names one managed process a host starts at simulation
// start, the bootstrap-time equivalent of spec.md §3 ManagedProcess.
type LaunchConfig struct {
	Argv []string `toml:"argv"`
}

// HostConfig names one simulated host and the processes it launches. Its
// network attributes (bandwidth, links) live in the GraphML topology
// document instead, matching spec.md's split between "bootstrap graph"
// and "topology" external collaborators.
type HostConfig struct {
	Name    string         `toml:"name"`
	Launch  []LaunchConfig `toml:"launch"`
}

// TraceConfig selects the trace.Recorder backend and its destination,
// generalizing the teacher's `--logger csv|sqlite` CLI choice
// (csv_logger.go/sqlite_logger.go) into a config field.
type TraceConfig struct {
	Backend string `toml:"backend"` // "none", "csv", "sqlite"
	Path    string `toml:"path"`
}

// Config is the full bootstrap document.
type Config struct {
	Seed         uint64       `toml:"seed"`
	Workers      int          `toml:"workers"`
	EndTimeSec   float64      `toml:"end_time_seconds"`
	LogLevel     string       `toml:"log_level"`
	TopologyPath string       `toml:"topology_path"`
	ShmemDir     string       `toml:"shmem_dir"`
	Trace        TraceConfig  `toml:"trace"`
	Hosts        []HostConfig `toml:"hosts"`

	validated bool
}

// Load parses the TOML document at path into a Config, mirroring
// LoadSingleHostConfig/loader.go's toml.DecodeFile call exactly.
func Load(path string) (*Config, error) {
	cfg := new(Config)
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "config: decoding %s", path)
	}
	return cfg, nil
}

// Validate checks the document's invariants, the generalization of
// SingleHostConfig.Validate's "check keywords, default and bound the
// numeric fields, set a validated flag" shape.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.EndTimeSec <= 0 {
		return errors.New("config: end_time_seconds must be positive")
	}
	if strings.TrimSpace(c.TopologyPath) == "" {
		return errors.New("config: topology_path is required")
	}
	switch strings.ToLower(c.Trace.Backend) {
	case "", "none", "csv", "sqlite":
	default:
		return errors.Errorf("config: unrecognized trace backend %q", c.Trace.Backend)
	}
	if strings.ToLower(c.Trace.Backend) != "none" && c.Trace.Backend != "" && strings.TrimSpace(c.Trace.Path) == "" {
		return errors.New("config: trace.path is required when trace.backend is set")
	}
	for _, h := range c.Hosts {
		if strings.TrimSpace(h.Name) == "" {
			return errors.New("config: every host needs a name")
		}
	}
	c.validated = true
	return nil
}

// BuildRecorder constructs the trace.Recorder the Trace field names, or
// nil for "none"/unset.
func (c *Config) BuildRecorder() (trace.Recorder, error) {
	switch strings.ToLower(c.Trace.Backend) {
	case "", "none":
		return nil, nil
	case "csv":
		return trace.NewCSV(c.Trace.Path)
	case "sqlite":
		return trace.NewSQLite(c.Trace.Path)
	default:
		return nil, errors.Errorf("config: unrecognized trace backend %q", c.Trace.Backend)
	}
}

// Build turns a validated Config into a scheduler.BootstrapGraph: it loads
// the named GraphML topology, assigns every configured host an
// event.HostId matching a topology node of the same name, constructs a
// host.Host per topology node (every node gets a Host even if unconfigured,
// so a topology may describe hosts config.Hosts never launches a process
// on), wires AddInterface from the topology's bandwidth attributes, and
// launches every configured LaunchConfig as a shim.Process bound to
// host.DefaultEmulatedHandler.
func (c *Config) Build() (*scheduler.BootstrapGraph, error) {
	if !c.validated {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}

	topo, err := topology.Load(c.TopologyPath)
	if err != nil {
		return nil, err
	}
	fabric, ids := topo.Build()
	minLink := fabric.MinLatency()

	hostsByName := make(map[string]*host.Host, len(topo.Hosts))
	var hosts []*host.Host
	for _, node := range topo.Hosts {
		id, ok := ids[node.ID]
		if !ok {
			continue
		}
		h := host.New(id, c.Seed, minLink)
		h.AddInterface(&host.Interface{Name: node.ID, UpKbps: node.UpKbps, DownKbps: node.DownKbps})
		hosts = append(hosts, h)
		hostsByName[node.ID] = h
	}

	var pid int32
	for _, hc := range c.Hosts {
		h, ok := hostsByName[hc.Name]
		if !ok {
			return nil, errors.Errorf("config: host %q is not a node in %s", hc.Name, c.TopologyPath)
		}
		for range hc.Launch {
			pid++
			p := shim.NewProcess(pid, h.ID(), host.DefaultEmulatedHandler(h))
			h.AddProcess(p)
		}
	}

	endTime := vtime.FromDuration(time.Duration(c.EndTimeSec * float64(time.Second)))
	return &scheduler.BootstrapGraph{
		Hosts:      hosts,
		Fabric:     fabric,
		NumWorkers: c.Workers,
		EndTime:    vtime.SimulationTime(endTime),
	}, nil
}
