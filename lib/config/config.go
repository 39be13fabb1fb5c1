// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Chunk size band enforced by Validate.
const (
	MinChunkSize = 8 << 20
	MaxChunkSize = 16 << 20
)

// Config is the complete configuration of a Lucid host.
type Config struct {
	Environment Environment `yaml:"environment"`

	Paths   PathsConfig   `yaml:"paths"`
	Listen  ListenConfig  `yaml:"listen"`
	Session SessionConfig `yaml:"session"`
	Audit   AuditConfig   `yaml:"audit"`
	Log     LogConfig     `yaml:"log"`

	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths   *PathsConfig   `yaml:"paths,omitempty"`
	Listen  *ListenConfig  `yaml:"listen,omitempty"`
	Session *SessionConfig `yaml:"session,omitempty"`
	Audit   *AuditConfig   `yaml:"audit,omitempty"`
	Log     *LogConfig     `yaml:"log,omitempty"`
}

// PathsConfig configures file locations.
type PathsConfig struct {
	// Root is the base directory for Lucid data.
	Root string `yaml:"root"`

	// Chunks is the Badger directory holding sealed chunks.
	Chunks string `yaml:"chunks"`

	// AuditDB is the SQLite database of audit events.
	AuditDB string `yaml:"audit_db"`

	// Outbox is where signed manifests wait for the ledger writer.
	Outbox string `yaml:"outbox"`

	// Control is the operator's Unix socket for approvals and status.
	Control string `yaml:"control"`

	// Policy is the JSONC rule set applied to every session. Empty
	// denies every session.
	Policy string `yaml:"policy"`
}

// ListenConfig configures the session listener.
type ListenConfig struct {
	// Address is the loopback address the onion service forwards to.
	Address string `yaml:"address"`
}

// SessionConfig configures per-session limits.
type SessionConfig struct {
	// ChunkSize is the chunk target size in bytes.
	ChunkSize int `yaml:"chunk_size"`

	// Compression is "auto", "none", "lz4", or "zstd".
	Compression string `yaml:"compression"`

	Workers          int `yaml:"workers"`
	FailureThreshold int `yaml:"failure_threshold"`
	DenyThreshold    int `yaml:"deny_threshold"`

	HandshakeTimeout string `yaml:"handshake_timeout"`
	ApprovalTimeout  string `yaml:"approval_timeout"`
	DrainTimeout     string `yaml:"drain_timeout"`
	MaxDuration      string `yaml:"max_duration"`

	// Granularity is "full" (chunk hash list in the manifest) or
	// "root".
	Granularity string `yaml:"granularity"`

	// ExpectedPeer, when set, is the hex Ed25519 key every peer must
	// present.
	ExpectedPeer string `yaml:"expected_peer"`
}

// AuditConfig configures the audit recorder.
type AuditConfig struct {
	// Buffer is the number of events queued before new ones are
	// dropped.
	Buffer int `yaml:"buffer"`

	// Recipients are the age recipients audit exports are sealed to.
	Recipients []string `yaml:"recipients"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`
}

// Durations are the parsed SessionConfig timeouts.
type Durations struct {
	Handshake time.Duration
	Approval  time.Duration
	Drain     time.Duration
	Max       time.Duration
}

// Default returns the default configuration, the base the config file
// is loaded over.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "lucid")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:    defaultRoot,
			Chunks:  "${LUCID_ROOT}/chunks",
			AuditDB: "${LUCID_ROOT}/audit.db",
			Outbox:  "${LUCID_ROOT}/outbox",
			Control: "${LUCID_ROOT}/control.sock",
		},
		Listen: ListenConfig{
			Address: "127.0.0.1:7400",
		},
		Session: SessionConfig{
			ChunkSize:        MinChunkSize,
			Compression:      "auto",
			Workers:          2,
			FailureThreshold: 5,
			DenyThreshold:    5,
			HandshakeTimeout: "30s",
			ApprovalTimeout:  "5m",
			DrainTimeout:     "30s",
			MaxDuration:      "8h",
			Granularity:      "full",
		},
		Audit: AuditConfig{
			Buffer: 1024,
		},
		Log: LogConfig{
			Level: "debug",
		},
	}
}

// Load loads configuration from the file named by LUCID_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv("LUCID_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("LUCID_CONFIG environment variable not set; " +
			"set it to the path of your lucid.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path over Default.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

// applyEnvironmentOverrides applies the section matching Environment.
// Production without a section logs at info rather than debug.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &ConfigOverrides{Log: &LogConfig{Level: "info"}}
		}
	}
	if overrides == nil {
		return
	}

	if paths := overrides.Paths; paths != nil {
		override(&c.Paths.Root, paths.Root)
		override(&c.Paths.Chunks, paths.Chunks)
		override(&c.Paths.AuditDB, paths.AuditDB)
		override(&c.Paths.Outbox, paths.Outbox)
		override(&c.Paths.Control, paths.Control)
		override(&c.Paths.Policy, paths.Policy)
	}
	if overrides.Listen != nil {
		override(&c.Listen.Address, overrides.Listen.Address)
	}
	if session := overrides.Session; session != nil {
		override(&c.Session.ChunkSize, session.ChunkSize)
		override(&c.Session.Compression, session.Compression)
		override(&c.Session.Workers, session.Workers)
		override(&c.Session.FailureThreshold, session.FailureThreshold)
		override(&c.Session.DenyThreshold, session.DenyThreshold)
		override(&c.Session.HandshakeTimeout, session.HandshakeTimeout)
		override(&c.Session.ApprovalTimeout, session.ApprovalTimeout)
		override(&c.Session.DrainTimeout, session.DrainTimeout)
		override(&c.Session.MaxDuration, session.MaxDuration)
		override(&c.Session.Granularity, session.Granularity)
		override(&c.Session.ExpectedPeer, session.ExpectedPeer)
	}
	if audit := overrides.Audit; audit != nil {
		override(&c.Audit.Buffer, audit.Buffer)
		if len(audit.Recipients) > 0 {
			c.Audit.Recipients = audit.Recipients
		}
	}
	if overrides.Log != nil {
		override(&c.Log.Level, overrides.Log.Level)
	}
}

// override replaces *field with value unless value is zero.
func override[T comparable](field *T, value T) {
	var zero T
	if value != zero {
		*field = value
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"LUCID_ROOT": c.Paths.Root,
		"HOME":       os.Getenv("HOME"),
	}
	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["LUCID_ROOT"] = c.Paths.Root

	c.Paths.Chunks = expandVars(c.Paths.Chunks, vars)
	c.Paths.AuditDB = expandVars(c.Paths.AuditDB, vars)
	c.Paths.Outbox = expandVars(c.Paths.Outbox, vars)
	c.Paths.Control = expandVars(c.Paths.Control, vars)
	c.Paths.Policy = expandVars(c.Paths.Policy, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns, preferring
// vars over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Durations parses the session timeouts.
func (s SessionConfig) Durations() (Durations, error) {
	var durations Durations
	var errs []error
	for _, field := range []struct {
		name   string
		value  string
		target *time.Duration
	}{
		{"session.handshake_timeout", s.HandshakeTimeout, &durations.Handshake},
		{"session.approval_timeout", s.ApprovalTimeout, &durations.Approval},
		{"session.drain_timeout", s.DrainTimeout, &durations.Drain},
		{"session.max_duration", s.MaxDuration, &durations.Max},
	} {
		parsed, err := time.ParseDuration(field.value)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", field.name, err))
		case parsed <= 0:
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", field.name, field.value))
		default:
			*field.target = parsed
		}
	}
	return durations, errors.Join(errs...)
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	for name, value := range map[string]string{
		"paths.chunks":   c.Paths.Chunks,
		"paths.audit_db": c.Paths.AuditDB,
		"paths.outbox":   c.Paths.Outbox,
		"paths.control":  c.Paths.Control,
	} {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}

	if err := checkLoopback(c.Listen.Address); err != nil {
		errs = append(errs, fmt.Errorf("listen.address: %w", err))
	}

	if c.Session.ChunkSize < MinChunkSize || c.Session.ChunkSize > MaxChunkSize {
		errs = append(errs, fmt.Errorf("session.chunk_size must be between %d and %d bytes, got %d",
			MinChunkSize, MaxChunkSize, c.Session.ChunkSize))
	}
	compressions := []string{"auto", "none", "lz4", "zstd"}
	if !slices.Contains(compressions, c.Session.Compression) {
		errs = append(errs, fmt.Errorf("session.compression must be one of: %v", compressions))
	}
	if c.Session.Workers <= 0 {
		errs = append(errs, fmt.Errorf("session.workers must be positive"))
	}
	if c.Session.FailureThreshold <= 0 {
		errs = append(errs, fmt.Errorf("session.failure_threshold must be positive"))
	}
	if c.Session.DenyThreshold <= 0 {
		errs = append(errs, fmt.Errorf("session.deny_threshold must be positive"))
	}
	if _, err := c.Session.Durations(); err != nil {
		errs = append(errs, err)
	}
	granularities := []string{"full", "root"}
	if !slices.Contains(granularities, c.Session.Granularity) {
		errs = append(errs, fmt.Errorf("session.granularity must be one of: %v", granularities))
	}

	if c.Audit.Buffer <= 0 {
		errs = append(errs, fmt.Errorf("audit.buffer must be positive"))
	}
	levels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(levels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of: %v", levels))
	}

	return errors.Join(errs...)
}

// checkLoopback requires a host:port on a loopback address. Sessions
// reach the host through its onion service only.
func checkLoopback(address string) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("%s is not a loopback address", host)
	}
	return nil
}

// EnsurePaths creates the configured directories with owner-only
// permissions.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{
		c.Paths.Root,
		c.Paths.Chunks,
		filepath.Dir(c.Paths.AuditDB),
		c.Paths.Outbox,
		filepath.Dir(c.Paths.Control),
	} {
		if path == "" || path == "." {
			continue
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
