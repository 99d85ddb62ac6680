// Package config loads and persists the runtime configuration consumed by
// the ZRP core (spec.md §6's enumerated field list), following the
// teacher's config.go pattern of a flat JSON-persisted struct under
// os.UserConfigDir().
package config

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	appDirName  = "zrp"
	fileName    = "config.json"
	DefaultListenAddress = "127.0.0.1:7070"
)

// Config mirrors spec.md §6's runtime configuration field list exactly.
type Config struct {
	ListenAddress            string   `json:"listen_address"`
	BearerTokenSecret        string   `json:"bearer_token_secret"`
	ResumeTokenKeyBytes      [32]byte `json:"resume_token_key_bytes"`
	ResumeTokenTTLMs         uint64   `json:"resume_token_ttl_ms"`
	MaxClockSkewMs           uint64   `json:"max_clock_skew_ms"`
	MaxClientsPerSession     int      `json:"max_clients_per_session"`
	RenderWindowSize         int      `json:"render_window_size"`
	ControllerLeaseDurationMs uint32  `json:"controller_lease_duration_ms"`
	SnapshotIntervalMs       uint32   `json:"snapshot_interval_ms"`
	MaxFrameSizeBytes        int      `json:"max_frame_size_bytes"`
	ClientSendQueueDepth     int      `json:"client_send_queue_depth"`
	InputGapTimeoutMs        uint64   `json:"input_gap_timeout_ms"`
	HandshakeTimeoutMs       uint64   `json:"handshake_timeout_ms"`
	MaxInflightInputs        int      `json:"max_inflight_inputs"`
	StyleReserveSlots        uint16   `json:"style_reserve_slots"`
	DatagramConservativeLimit uint32  `json:"datagram_conservative_limit"`
}

// Default returns spec.md's stated defaults (render window 4, snapshot
// interval 5000ms, max_frame_size 1MiB, send queue depth 32, reorder
// buffer 256) plus a freshly generated resume-token key so a first run
// never ships with an all-zero AEAD key.
func Default() Config {
	var key [32]byte
	_, _ = rand.Read(key[:])
	return Config{
		ListenAddress:             DefaultListenAddress,
		ResumeTokenKeyBytes:       key,
		ResumeTokenTTLMs:          24 * 60 * 60 * 1000,
		MaxClockSkewMs:            30_000,
		MaxClientsPerSession:      8,
		RenderWindowSize:          4,
		ControllerLeaseDurationMs: 0,
		SnapshotIntervalMs:        5000,
		MaxFrameSizeBytes:         1 << 20,
		ClientSendQueueDepth:      32,
		InputGapTimeoutMs:         2000,
		HandshakeTimeoutMs:        10_000,
		MaxInflightInputs:         256,
		StyleReserveSlots:         1000,
		DatagramConservativeLimit: 1200,
	}
}

func path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve user config dir: %w", err)
	}
	return filepath.Join(dir, appDirName, fileName), nil
}

// Load reads the persisted config, or returns Default() if none exists
// yet (first run).
func Load() (Config, error) {
	p, err := path()
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", p, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", p, err)
	}
	return cfg, nil
}

// Save persists cfg, creating the config directory if needed.
func Save(cfg Config) error {
	p, err := path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("config: create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", p, err)
	}
	return nil
}
