// Package config loads Caracal's root YAML configuration, following the
// teacher's gateway/config nested-sections-plus-custom-UnmarshalYAML
// pattern generalized from one HTTP gateway's config to one section per
// core component (§10.3).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StoreConfig selects and configures the C1/C4 storage tagged variant.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`    // file path for sqlite, connection string for postgres
}

// IdentityConfig is C1's tunables.
type IdentityConfig struct {
	Store          StoreConfig `yaml:"store"`
	SigningKeyFile string      `yaml:"signingKeyFile"` // mandate-issuance FileKeySet path; empty selects an ephemeral in-memory key
}

// GatewayConfig is C2's tunables, mirroring validator.Config's defaults
// (§4.2, §9: "expose as configurable, do not bake in a value").
type GatewayConfig struct {
	ListenAddress  string        `yaml:"listen"`
	UpstreamURL    string        `yaml:"upstream"` // base URL the gateway proxies allowed requests to
	PipelineAddr   string        `yaml:"pipelineAddress"` // C3 gRPC address the gateway dials; empty defaults to ":9090"
	ClockSkew      time.Duration `yaml:"clockSkew"`
	ReplayWindow   time.Duration `yaml:"replayWindow"`
	ReplayBackend  string        `yaml:"replayBackend"` // "lru" or "redis"
	RedisAddr      string        `yaml:"redisAddr"`
	RateLimitRPS   float64       `yaml:"rateLimitRPS"`
	RateLimitBurst int           `yaml:"rateLimitBurst"`

	clockSkewSet    bool
	replayWindowSet bool
}

// UnmarshalYAML defaults ClockSkew/ReplayWindow to validator.DefaultConfig's
// values when the operator's YAML is silent on them, the same way the
// teacher's AuthConfig.UnmarshalYAML tracks an explicit "was this key set"
// bit instead of conflating zero-value with unset.
func (g *GatewayConfig) UnmarshalYAML(node *yaml.Node) error {
	type rawGatewayConfig struct {
		ListenAddress  string        `yaml:"listen"`
		UpstreamURL    string        `yaml:"upstream"`
		PipelineAddr   string         `yaml:"pipelineAddress"`
		ClockSkew      *time.Duration `yaml:"clockSkew"`
		ReplayWindow   *time.Duration `yaml:"replayWindow"`
		ReplayBackend  string         `yaml:"replayBackend"`
		RedisAddr      string         `yaml:"redisAddr"`
		RateLimitRPS   float64        `yaml:"rateLimitRPS"`
		RateLimitBurst int            `yaml:"rateLimitBurst"`
	}
	var raw rawGatewayConfig
	if err := node.Decode(&raw); err != nil {
		return err
	}

	g.ListenAddress = raw.ListenAddress
	g.UpstreamURL = raw.UpstreamURL
	g.PipelineAddr = raw.PipelineAddr
	g.clockSkewSet = raw.ClockSkew != nil
	if g.clockSkewSet {
		g.ClockSkew = *raw.ClockSkew
	}
	g.replayWindowSet = raw.ReplayWindow != nil
	if g.replayWindowSet {
		g.ReplayWindow = *raw.ReplayWindow
	}
	g.ReplayBackend = raw.ReplayBackend
	g.RedisAddr = raw.RedisAddr
	g.RateLimitRPS = raw.RateLimitRPS
	g.RateLimitBurst = raw.RateLimitBurst
	g.applyDefaults()
	return nil
}

func (g *GatewayConfig) applyDefaults() {
	if g.ListenAddress == "" {
		g.ListenAddress = ":8443"
	}
	if !g.clockSkewSet {
		g.ClockSkew = 30 * time.Second
	}
	if !g.replayWindowSet {
		g.ReplayWindow = 5 * time.Minute
	}
	if g.ReplayBackend == "" {
		g.ReplayBackend = "lru"
	}
	if g.PipelineAddr == "" {
		g.PipelineAddr = ":9090"
	}
	if g.RateLimitRPS == 0 {
		g.RateLimitRPS = 200
	}
	if g.RateLimitBurst == 0 {
		g.RateLimitBurst = 50
	}
}

// PipelineConfig is C3's tunables.
type PipelineConfig struct {
	Partitions int    `yaml:"partitions"`
	Address    string `yaml:"address"` // gRPC listen/dial address
}

// LedgerConfig is C4's tunables, defaulting the batcher's size/time
// thresholds to ledger.DefaultSizeThreshold/DefaultTimeThreshold when unset.
type LedgerConfig struct {
	Store              StoreConfig   `yaml:"store"`
	SealSizeThreshold  int           `yaml:"sealSizeThreshold"`
	SealTimeThreshold  time.Duration `yaml:"sealTimeThreshold"`
	SigningKeyID       string        `yaml:"signingKeyId"`
	SigningKeyFile     string        `yaml:"signingKeyFile"`
	Archival           ArchivalConfig `yaml:"archival"`

	sealSizeSet bool
	sealTimeSet bool
}

func (l *LedgerConfig) UnmarshalYAML(node *yaml.Node) error {
	type rawLedgerConfig struct {
		Store             StoreConfig    `yaml:"store"`
		SealSizeThreshold *int           `yaml:"sealSizeThreshold"`
		SealTimeThreshold *time.Duration `yaml:"sealTimeThreshold"`
		SigningKeyID      string         `yaml:"signingKeyId"`
		SigningKeyFile    string         `yaml:"signingKeyFile"`
		Archival          ArchivalConfig `yaml:"archival"`
	}
	var raw rawLedgerConfig
	if err := node.Decode(&raw); err != nil {
		return err
	}
	l.Store = raw.Store
	l.sealSizeSet = raw.SealSizeThreshold != nil
	if l.sealSizeSet {
		l.SealSizeThreshold = *raw.SealSizeThreshold
	}
	l.sealTimeSet = raw.SealTimeThreshold != nil
	if l.sealTimeSet {
		l.SealTimeThreshold = *raw.SealTimeThreshold
	}
	l.SigningKeyID = raw.SigningKeyID
	l.SigningKeyFile = raw.SigningKeyFile
	l.Archival = raw.Archival
	l.applyDefaults()
	return nil
}

func (l *LedgerConfig) applyDefaults() {
	if !l.sealSizeSet {
		l.SealSizeThreshold = 1000 // mirrors ledger.DefaultSizeThreshold
	}
	if !l.sealTimeSet {
		l.SealTimeThreshold = 5 * time.Minute // mirrors ledger.DefaultTimeThreshold
	}
}

// ArchivalConfig selects the cold-storage tagged variant (§9, §11).
type ArchivalConfig struct {
	Backend string `yaml:"backend"` // "gcs" or "s3"
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
	Region  string `yaml:"region"` // s3 only
}

// VerifierConfig is C5's tunables.
type VerifierConfig struct {
	Store            StoreConfig   `yaml:"store"`
	ListenAddress    string        `yaml:"listen"`
	ArchiveRetention time.Duration `yaml:"archiveRetention"`
	SigningKeyFile   string        `yaml:"signingKeyFile"` // same keystore C4 signs batches with; the verifier only ever calls Verify
}

// ObservabilityConfig mirrors the teacher's ObservabilityConfig shape
// (§10.1), generalized with an OTLP exporter endpoint for the metrics/trace
// wiring in internal/observability.
type ObservabilityConfig struct {
	ServiceName  string `yaml:"serviceName"`
	Metrics      bool   `yaml:"metrics"`
	Tracing      bool   `yaml:"tracing"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	LogLevel     string `yaml:"logLevel"`
}

// Config is the root document, one section per core component.
type Config struct {
	Identity      IdentityConfig      `yaml:"identity"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	Verifier      VerifierConfig      `yaml:"verifier"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// defaultConfig mirrors the teacher Load()'s pre-populated defaults so an
// empty/missing config file still produces a runnable single-node setup.
func defaultConfig() Config {
	cfg := Config{
		Identity: IdentityConfig{Store: StoreConfig{Driver: "sqlite", DSN: "caracal-identity.db"}},
		Ledger: LedgerConfig{
			Store: StoreConfig{Driver: "sqlite", DSN: "caracal-ledger.db"},
		},
		Verifier: VerifierConfig{
			Store:            StoreConfig{Driver: "sqlite", DSN: "caracal-ledger.db"},
			ListenAddress:    ":8444",
			ArchiveRetention: 30 * 24 * time.Hour,
		},
		Pipeline: PipelineConfig{Partitions: 1, Address: ":9090"},
		Observability: ObservabilityConfig{
			ServiceName: "caracal",
			Metrics:     true,
			Tracing:     true,
			LogLevel:    "INFO",
		},
	}
	cfg.Gateway.applyDefaults()
	cfg.Ledger.applyDefaults()
	return cfg
}

// Load reads path and decodes it over defaultConfig's baseline, following
// the teacher Load(path)'s "empty path returns defaults" shape — used by
// cmd/caracal-* when no -config flag is given.
func Load(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}
