package main

import (
	"fmt"
	"net/netip"
	"os"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"gopkg.in/yaml.v3"

	"github.com/ppopth/lt-fountain/broadcast"
	"github.com/ppopth/lt-fountain/host"
)

type Config struct {
	ListenPort int      `yaml:"listen_port"`
	Peers      []string `yaml:"peers"`
	Transport  string   `yaml:"transport"` // "datagram" or "stream"
	LossRate   float64  `yaml:"loss_rate"`

	ChunkSize         int     `yaml:"chunk_size"`
	C                 float64 `yaml:"c"`
	Delta             float64 `yaml:"delta"`
	Seeded            bool    `yaml:"seeded"`
	PublishMultiplier float64 `yaml:"publish_multiplier"`
	ForwardMultiplier int     `yaml:"forward_multiplier"`
	RepairBatch       int     `yaml:"repair_batch"`
	RepairIntervalMs  int     `yaml:"repair_interval_ms"`
	MaxRepairRounds   int     `yaml:"max_repair_rounds"`
	MaxMessageSize    int     `yaml:"max_message_size"`
	SessionTTLMs      int     `yaml:"session_ttl_ms"`
	MaxSessions       int     `yaml:"max_sessions"`

	LogLevel string `yaml:"log_level"`
}

// DefaultConfig mirrors broadcast.DefaultParams
func DefaultConfig() *Config {
	params := broadcast.DefaultParams()
	return &Config{
		ListenPort: host.DefaultPort,
		Transport:  "datagram",

		ChunkSize:         params.ChunkSize,
		C:                 params.C,
		Delta:             params.Delta,
		Seeded:            params.Seeded,
		PublishMultiplier: params.PublishMultiplier,
		ForwardMultiplier: params.ForwardMultiplier,
		RepairBatch:       params.RepairBatch,
		RepairIntervalMs:  int(params.RepairInterval / time.Millisecond),
		MaxRepairRounds:   params.MaxRepairRounds,
		MaxMessageSize:    params.MaxMessageSize,
		SessionTTLMs:      int(params.SessionTTL / time.Millisecond),
		MaxSessions:       params.MaxSessions,

		LogLevel: "info",
	}
}

// Load reads a yaml config file on top of the defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		return fmt.Errorf("listen_port %d out of range", c.ListenPort)
	}
	if _, err := c.transportMode(); err != nil {
		return err
	}
	if !(c.LossRate >= 0 && c.LossRate < 1) {
		return fmt.Errorf("loss_rate must be in [0, 1), got %v", c.LossRate)
	}
	if !(c.C > 0) {
		return fmt.Errorf("c must be positive, got %v", c.C)
	}
	if !(c.Delta > 0 && c.Delta < 1) {
		return fmt.Errorf("delta must be in (0, 1), got %v", c.Delta)
	}
	if _, err := logging.LevelFromString(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if err := c.Params().Validate(); err != nil {
		return err
	}
	return nil
}

func (c *Config) transportMode() (host.TransportMode, error) {
	switch c.Transport {
	case "", "datagram":
		return host.TransportDatagram, nil
	case "stream":
		return host.TransportStream, nil
	default:
		return 0, fmt.Errorf("unknown transport %q", c.Transport)
	}
}

// Params returns the broadcast parameters described by the config
func (c *Config) Params() broadcast.Params {
	params := broadcast.DefaultParams()
	params.ChunkSize = c.ChunkSize
	params.C = c.C
	params.Delta = c.Delta
	params.Seeded = c.Seeded
	params.PublishMultiplier = c.PublishMultiplier
	params.ForwardMultiplier = c.ForwardMultiplier
	params.RepairBatch = c.RepairBatch
	params.RepairInterval = time.Duration(c.RepairIntervalMs) * time.Millisecond
	params.MaxRepairRounds = c.MaxRepairRounds
	params.MaxMessageSize = c.MaxMessageSize
	params.SessionTTL = time.Duration(c.SessionTTLMs) * time.Millisecond
	params.MaxSessions = c.MaxSessions
	return params
}

// HostOptions returns the host options described by the config
func (c *Config) HostOptions() ([]host.HostOption, error) {
	mode, err := c.transportMode()
	if err != nil {
		return nil, err
	}
	return []host.HostOption{
		host.WithAddrPort(netip.AddrPortFrom(netip.IPv4Unspecified(), uint16(c.ListenPort))),
		host.WithTransportMode(mode),
		host.WithLossRate(c.LossRate),
	}, nil
}
