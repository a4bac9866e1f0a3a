package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tutu-network/swim/internal/swim"
)

// fileConfig mirrors the subset of swim.Config an operator may
// override via TOML, plus the node-level settings (bind address,
// seeds, debug listener) the protocol package itself has no opinion
// on.
type fileConfig struct {
	Node struct {
		ID        string   `toml:"id"`
		BindAddr  string   `toml:"bind_addr"`
		DebugAddr string   `toml:"debug_addr"`
		Seeds     []string `toml:"seeds"`
	} `toml:"node"`

	Protocol struct {
		ProtocolPeriodMS   int     `toml:"protocol_period_ms"`
		PingTimeoutMS      int     `toml:"ping_timeout_ms"`
		IndirectProbeCount int     `toml:"indirect_probe_count"`
		SuspicionMultiplier float64 `toml:"suspicion_multiplier"`
		MaxPayloadSize     int     `toml:"max_payload_size"`
		BaseDisseminationLimit float64 `toml:"base_dissemination_limit"`
		DeadRetentionSec   int     `toml:"dead_retention_seconds"`
		EventBuffer        int     `toml:"event_buffer"`
	} `toml:"protocol"`
}

// defaultFileConfig returns the node-level defaults layered over
// swim.DefaultConfig().
func defaultFileConfig() fileConfig {
	var fc fileConfig
	fc.Node.BindAddr = ":7946"
	fc.Node.DebugAddr = ":7947"
	return fc
}

// loadConfig decodes path (if non-empty) over the defaults. A missing
// path is not an error — swimnode runs with defaults plus flags.
func loadConfig(path string) (fileConfig, error) {
	fc := defaultFileConfig()
	if path == "" {
		return fc, nil
	}
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("swimnode: decode config %s: %w", path, err)
	}
	return fc, nil
}

// protocolConfig overlays the TOML [protocol] section on top of
// swim.DefaultConfig(), leaving any zero-valued field at its default.
func (fc fileConfig) protocolConfig() swim.Config {
	cfg := swim.DefaultConfig()
	p := fc.Protocol
	if p.ProtocolPeriodMS > 0 {
		cfg.ProtocolPeriod = time.Duration(p.ProtocolPeriodMS) * time.Millisecond
	}
	if p.PingTimeoutMS > 0 {
		cfg.PingTimeout = time.Duration(p.PingTimeoutMS) * time.Millisecond
	}
	if p.IndirectProbeCount > 0 {
		cfg.IndirectProbeCount = p.IndirectProbeCount
	}
	if p.SuspicionMultiplier > 0 {
		cfg.SuspicionMultiplier = p.SuspicionMultiplier
	}
	if p.MaxPayloadSize > 0 {
		cfg.MaxPayloadSize = p.MaxPayloadSize
	}
	if p.BaseDisseminationLimit > 0 {
		cfg.BaseDisseminationLimit = p.BaseDisseminationLimit
	}
	if p.DeadRetentionSec > 0 {
		cfg.DeadRetention = time.Duration(p.DeadRetentionSec) * time.Second
	}
	if p.EventBuffer > 0 {
		cfg.EventBufferSize = p.EventBuffer
	}
	return cfg
}
