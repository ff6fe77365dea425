// Package config loads jrpchub's configuration from YAML with environment
// variable overrides, following the same Load/defaultConfig/applyEnvOverrides
// shape used across the example services this project is patterned on.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration shared by every jrpchub binary; each
// binary reads only the sections it needs.
type Config struct {
	Registry  RegistryConfig  `yaml:"registry"`
	RPC       RPCConfig       `yaml:"rpc"`
	Broker    BrokerConfig    `yaml:"broker"`
	Frame     FrameConfig     `yaml:"frame"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

// RegistryConfig controls the registry role's listen address.
type RegistryConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// RPCConfig controls an RPC provider/caller's addresses and pool behavior.
type RPCConfig struct {
	ListenAddr     string        `yaml:"listenAddr"`
	RegistryAddr   string        `yaml:"registryAddr"`
	EnableDiscover bool          `yaml:"enableDiscover"`
	ConnPoolSize   int           `yaml:"connPoolSize"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// BrokerConfig controls the pub/sub broker's listen address.
type BrokerConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// FrameConfig controls the wire framing limit. REDESIGN FLAG #5: this was
// hard-coded to 65536 in the source; here it is configurable.
type FrameConfig struct {
	MaxSize uint32 `yaml:"maxSize"`
}

// RateLimitConfig controls the router's token-bucket middleware.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

// MetricsConfig controls the Prometheus metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listenAddr"`
}

// BootstrapConfig controls etcd-based registry address discovery.
type BootstrapConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Endpoints []string `yaml:"endpoints"`
	LeaseTTL  int64    `yaml:"leaseTtl"`
}

// Load reads a YAML config file (if path is non-empty) over a set of
// defaults, then applies JRPC_*-prefixed environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Registry: RegistryConfig{ListenAddr: "0.0.0.0:7777"},
		RPC: RPCConfig{
			ListenAddr:     "0.0.0.0:6666",
			RegistryAddr:   "127.0.0.1:7777",
			EnableDiscover: true,
			ConnPoolSize:   4,
			RequestTimeout: 5 * time.Second,
		},
		Broker: BrokerConfig{ListenAddr: "0.0.0.0:6666"},
		Frame:  FrameConfig{MaxSize: 65536},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 500,
			Burst:             1000,
		},
		Metrics: MetricsConfig{Enabled: true, ListenAddr: "0.0.0.0:9090"},
		Bootstrap: BootstrapConfig{
			Enabled:   false,
			Endpoints: []string{"127.0.0.1:2379"},
			LeaseTTL:  10,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("JRPC_REGISTRY_LISTEN_ADDR"); v != "" {
		cfg.Registry.ListenAddr = v
	}
	if v := os.Getenv("JRPC_RPC_LISTEN_ADDR"); v != "" {
		cfg.RPC.ListenAddr = v
	}
	if v := os.Getenv("JRPC_RPC_REGISTRY_ADDR"); v != "" {
		cfg.RPC.RegistryAddr = v
	}
	if v := os.Getenv("JRPC_BROKER_LISTEN_ADDR"); v != "" {
		cfg.Broker.ListenAddr = v
	}
	if v := os.Getenv("JRPC_FRAME_MAX_SIZE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Frame.MaxSize = uint32(n)
		}
	}
	if v := os.Getenv("JRPC_METRICS_LISTEN_ADDR"); v != "" {
		cfg.Metrics.ListenAddr = v
	}
	if v := os.Getenv("JRPC_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("JRPC_BOOTSTRAP_ENABLED"); v != "" {
		cfg.Bootstrap.Enabled = v == "true" || v == "1"
	}
}
