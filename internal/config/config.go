// Package config loads relay settings from the environment (optionally seeded
// from a .env file) and lets command-line flags override them.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Config holds every relay setting.
type Config struct {
	NodeName   string   `env:"MESH_NODE_NAME"`
	ListenAddr string   `env:"MESH_LISTEN_ADDR" envDefault:":7946"`
	Peers      []string `env:"MESH_PEERS" envSeparator:","`

	APIAddr   string `env:"MESH_API_ADDR" envDefault:"127.0.0.1:8080"`
	APISecret string `env:"MESH_API_SECRET"`

	DiscoveryInterval time.Duration `env:"MESH_DISCOVERY_INTERVAL" envDefault:"30s"`
	DefaultTTL        int           `env:"MESH_DEFAULT_TTL" envDefault:"7"`
	CacheSize         int           `env:"MESH_CACHE_SIZE" envDefault:"4096"`
	CacheWindow       time.Duration `env:"MESH_CACHE_WINDOW" envDefault:"10m"`
	HistorySize       int           `env:"MESH_HISTORY_SIZE" envDefault:"50"`
	SendQueue         int           `env:"MESH_SEND_QUEUE" envDefault:"64"`

	KeyPath      string `env:"MESH_KEY_PATH"`
	StorePath    string `env:"MESH_STORE_PATH"`
	DatabaseURL  string `env:"DATABASE_URL"`
	RedisURL     string `env:"REDIS_URL"`
	RedisChannel string `env:"MESH_REDIS_CHANNEL" envDefault:"meshrelay:events"`

	// ChannelPasswords maps channel name to join password, e.g.
	// "#staff:family-meal,#management:ledger".
	ChannelPasswords map[string]string `env:"MESH_CHANNEL_PASSWORDS" envSeparator:"," envKeyValSeparator:":"`

	LogLevel  string `env:"MESH_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"MESH_LOG_FORMAT" envDefault:"console"`
	TUI       bool   `env:"MESH_TUI"`
}

// Load reads .env files if present (missing files are ignored) and parses
// the environment into a Config.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		_ = godotenv.Load()
	} else {
		for _, f := range files {
			if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("load %s: %w", f, err)
			}
		}
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.NodeName == "" {
		cfg.NodeName = defaultNodeName()
	}
	return cfg, nil
}

// BindFlags registers flags whose defaults are the values already in cfg, so
// flags given on the command line override the environment.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.NodeName, "node", cfg.NodeName, "node name announced in peer discovery")
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "address for the /mesh websocket listener")
	fs.StringSliceVar(&cfg.Peers, "peer", cfg.Peers, "websocket url of a peer to keep connected (repeatable)")
	fs.StringVar(&cfg.APIAddr, "api", cfg.APIAddr, "control API address (empty disables it)")
	fs.DurationVar(&cfg.DiscoveryInterval, "discovery-interval", cfg.DiscoveryInterval, "peer discovery broadcast interval")
	fs.IntVar(&cfg.DefaultTTL, "ttl", cfg.DefaultTTL, "hop limit for messages sent through the control API and monitor")
	fs.IntVar(&cfg.CacheSize, "cache-size", cfg.CacheSize, "dedup cache capacity")
	fs.DurationVar(&cfg.CacheWindow, "cache-window", cfg.CacheWindow, "dedup cache retention window")
	fs.IntVar(&cfg.HistorySize, "history", cfg.HistorySize, "retained messages per channel")
	fs.StringVar(&cfg.KeyPath, "key", cfg.KeyPath, "file holding the node identity key (empty for an ephemeral key)")
	fs.StringVar(&cfg.StorePath, "store", cfg.StorePath, "bbolt file for provisioned channels")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (console or json)")
	fs.BoolVar(&cfg.TUI, "tui", cfg.TUI, "run the terminal monitor")
}

// Validate rejects settings the relay cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.NodeName) == "" {
		errs = append(errs, errors.New("node name is empty"))
	}
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen address is empty"))
	}
	if c.DiscoveryInterval <= 0 {
		errs = append(errs, fmt.Errorf("discovery interval must be positive, got %s", c.DiscoveryInterval))
	}
	if c.CacheWindow <= 0 {
		errs = append(errs, fmt.Errorf("cache window must be positive, got %s", c.CacheWindow))
	}
	for name, v := range map[string]int{
		"ttl":          c.DefaultTTL,
		"cache size":   c.CacheSize,
		"history size": c.HistorySize,
		"send queue":   c.SendQueue,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

func defaultNodeName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "meshrelay"
	}
	return host
}
