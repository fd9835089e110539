// Package config loads and validates the Matrix cluster configuration
// from YAML, following the same Load/defaulting/validation shape as the
// orchestration framework this module descends from.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tenzoki/matrix/internal/matrixerr"
	"gopkg.in/yaml.v3"
)

// Config is the top-level cluster configuration, shared verbatim by
// every controller node and the event logger.
type Config struct {
	SimNodes []string `yaml:"sim_nodes"`

	NumAgentProcs  map[string]int    `yaml:"num_agentprocs"`
	NumStoreProcs  map[string]int    `yaml:"num_storeprocs"`
	ControllerPort map[string]int    `yaml:"controller_port"`
	StateDSN       map[string]string `yaml:"state_dsn"`

	NumRounds int    `yaml:"num_rounds"`
	StartTime string `yaml:"start_time"`
	RoundTime string `yaml:"round_time"`
	RootSeed  int64  `yaml:"root_seed"`

	StateStoreModule string `yaml:"state_store_module"`

	RabbitMQHost     string `yaml:"rabbitmq_host"`
	RabbitMQPort     int    `yaml:"rabbitmq_port"`
	RabbitMQUsername string `yaml:"rabbitmq_username"`
	RabbitMQPassword string `yaml:"rabbitmq_password"`
	EventExchange    string `yaml:"event_exchange"`

	ChunkSize int `yaml:"chunk_size"`

	// StrictDedup controls whether a duplicate controller_finished from
	// the same node within one round is rejected. Defaults to true; see
	// DESIGN.md's open-question decision.
	StrictDedup *bool `yaml:"strict_dedup"`

	Debug bool `yaml:"debug"`

	// resolved fields, computed by resolve, not present in YAML.
	startUnix  int64
	roundSecs  int64
}

const (
	defaultChunkSize         = 1000
	defaultBrokerPort        = 5672
	defaultBrokerConnectWait = 60 * time.Second
)

// BrokerConnectTimeout is the bounded startup window the broker channel
// retries connecting within, per the specification's §4.2.
const BrokerConnectTimeout = defaultBrokerConnectWait

// Load reads, parses, expands, defaults, and validates a YAML
// configuration file. Path-typed values (StateDSN entries) have shell
// variables expanded once, per the specification's "Environment" clause.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &matrixerr.ConfigError{Field: "path", Cause: err}
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &matrixerr.ConfigError{Field: "yaml", Cause: err}
	}

	cfg.applyDefaults()

	for node, dsn := range cfg.StateDSN {
		cfg.StateDSN[node] = os.ExpandEnv(dsn)
	}

	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = defaultChunkSize
	}
	if c.RabbitMQPort == 0 {
		c.RabbitMQPort = defaultBrokerPort
	}
	if c.EventExchange == "" {
		c.EventExchange = "matrix_events"
	}
	if c.StrictDedup == nil {
		v := true
		c.StrictDedup = &v
	}
}

func (c *Config) resolve() error {
	if c.StartTime != "" {
		t, err := time.Parse("2006-01-02", c.StartTime)
		if err != nil {
			return &matrixerr.ConfigError{Field: "start_time", Cause: err}
		}
		c.startUnix = t.UTC().Unix()
	}
	if c.RoundTime != "" {
		secs, err := ParseDuration(c.RoundTime)
		if err != nil {
			return &matrixerr.ConfigError{Field: "round_time", Cause: err}
		}
		c.roundSecs = secs
	}
	return nil
}

func (c *Config) validate() error {
	if len(c.SimNodes) == 0 {
		return &matrixerr.ConfigError{Field: "sim_nodes", Cause: fmt.Errorf("must be non-empty")}
	}
	seen := make(map[string]bool, len(c.SimNodes))
	for _, node := range c.SimNodes {
		if seen[node] {
			return &matrixerr.ConfigError{Field: "sim_nodes", Cause: fmt.Errorf("duplicate node %q", node)}
		}
		seen[node] = true
	}
	if c.NumRounds <= 0 {
		return &matrixerr.ConfigError{Field: "num_rounds", Cause: fmt.Errorf("must be positive, got %d", c.NumRounds)}
	}
	for _, node := range c.SimNodes {
		if _, ok := c.NumAgentProcs[node]; !ok {
			return &matrixerr.ConfigError{Field: "num_agentprocs", Cause: fmt.Errorf("missing entry for node %q", node)}
		}
		n, ok := c.NumStoreProcs[node]
		if !ok {
			return &matrixerr.ConfigError{Field: "num_storeprocs", Cause: fmt.Errorf("missing entry for node %q", node)}
		}
		if n <= 0 {
			return &matrixerr.ConfigError{Field: "num_storeprocs", Cause: fmt.Errorf("node %q: num_storeprocs=0 is not supported, see spec open question", node)}
		}
		if _, ok := c.ControllerPort[node]; !ok {
			return &matrixerr.ConfigError{Field: "controller_port", Cause: fmt.Errorf("missing entry for node %q", node)}
		}
	}
	return nil
}

// NodeIndex returns this node's position in SimNodes, which is also its
// controller-seed index.
func (c *Config) NodeIndex(node string) (int, error) {
	for i, n := range c.SimNodes {
		if n == node {
			return i, nil
		}
	}
	return -1, fmt.Errorf("node %q is not in sim_nodes", node)
}

// StartUnix returns start_time converted to a Unix timestamp at UTC
// midnight.
func (c *Config) StartUnix() int64 { return c.startUnix }

// RoundSeconds returns round_time summed to seconds.
func (c *Config) RoundSeconds() int64 { return c.roundSecs }

// ParseDuration sums an interval string composed of "<int>{s|m|h|d}"
// parts, e.g. "1h 30m" -> 5400. time.ParseDuration is not reused here
// because it rejects the day ("d") unit this grammar requires.
func ParseDuration(s string) (int64, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty duration string")
	}
	var total int64
	for _, f := range fields {
		if len(f) < 2 {
			return 0, fmt.Errorf("invalid duration part %q", f)
		}
		unit := f[len(f)-1]
		numStr := f[:len(f)-1]
		num, err := strconv.ParseInt(numStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration part %q: %w", f, err)
		}
		var mult int64
		switch unit {
		case 's':
			mult = 1
		case 'm':
			mult = 60
		case 'h':
			mult = 3600
		case 'd':
			mult = 86400
		default:
			return 0, fmt.Errorf("unknown duration unit %q in part %q", string(unit), f)
		}
		total += num * mult
	}
	return total, nil
}

// SortedNodes returns SimNodes sorted lexically, useful for deterministic
// iteration in tests independent of YAML ordering quirks.
func (c *Config) SortedNodes() []string {
	out := append([]string(nil), c.SimNodes...)
	sort.Strings(out)
	return out
}
