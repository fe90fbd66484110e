// Package config loads and validates the trader's YAML configuration.
package config

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Structure identifies the spread shape a variant trades.
type Structure string

const (
	// StructureCondor is an iron condor: OTM short strikes on both sides.
	StructureCondor Structure = "condor"
	// StructureFly is an iron fly: short call and short put share the ATM strike.
	StructureFly Structure = "fly"
)

// Config is the root configuration.
type Config struct {
	Environment   EnvironmentConfig   `yaml:"environment"`
	Broker        BrokerConfig        `yaml:"broker"`
	Underlying    UnderlyingConfig    `yaml:"underlying"`
	Schedule      ScheduleConfig      `yaml:"schedule"`
	Variants      []VariantConfig     `yaml:"variants"`
	Storage       StorageConfig       `yaml:"storage"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Dashboard     DashboardConfig     `yaml:"dashboard"`
}

// EnvironmentConfig holds runtime environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // "paper" or "live"
	LogLevel string `yaml:"log_level"` // "debug", "info", "warn", "error"
}

// BrokerConfig holds tastytrade API credentials and endpoints. Secrets are
// given as ${VAR} references expanded from the environment at load time.
type BrokerConfig struct {
	Provider     string `yaml:"provider"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	APIEndpoint  string `yaml:"api_endpoint"`

	SnapshotWindow Duration `yaml:"snapshot_window"`
}

// UnderlyingConfig names the traded index and its option root.
type UnderlyingConfig struct {
	Symbol string `yaml:"symbol"` // quote symbol, e.g. SPX
	Root   string `yaml:"root"`   // option root, e.g. SPXW
}

// ScheduleConfig drives the market clock.
type ScheduleConfig struct {
	Timezone       string   `yaml:"timezone"`        // IANA name, e.g. Europe/London
	PollInterval   Duration `yaml:"poll_interval"`   // monitor cadence
	EntryTolerance Duration `yaml:"entry_tolerance"` // how late a checkpoint may fire
	SettlementTime string   `yaml:"settlement_time"` // "HH:MM", expiry settlement sweep
}

// VariantConfig describes one strategy variant: what to sell, when, and
// when to get out.
type VariantConfig struct {
	Name              string    `yaml:"name"`
	Prefix            string    `yaml:"prefix"` // strategy id prefix, e.g. IC-20D
	Structure         Structure `yaml:"structure"`
	TargetDelta       float64   `yaml:"target_delta"`        // condor short-strike delta, e.g. 0.20
	MaxDeltaDeviation float64   `yaml:"max_delta_deviation"` // reject if best match is further than this
	WingWidth         float64   `yaml:"wing_width"`          // points between short and long strikes
	ProfitTargetPct   float64   `yaml:"profit_target_pct"`   // fraction of credit, e.g. 0.25
	TimeExit          string    `yaml:"time_exit"`           // optional "HH:MM" hard exit
	Checkpoints       []string  `yaml:"checkpoints"`         // entry times, "HH:MM"
}

// StrategyID derives the identifier for an entry at the given checkpoint:
// {PREFIX}-{HHMM}.
func (v *VariantConfig) StrategyID(checkpoint string) string {
	return v.Prefix + "-" + strings.ReplaceAll(checkpoint, ":", "")
}

// StorageConfig locates the trade record.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// NotificationsConfig configures the Discord notifier. An empty webhook
// URL disables it.
type NotificationsConfig struct {
	DiscordWebhookURL string `yaml:"discord_webhook_url"`
}

// DashboardConfig configures the read-only HTTP status server.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Load reads, expands and validates a config file. Environment variable
// references (${VAR}) are expanded before parsing so secrets stay out of
// the file. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Environment.Mode == "" {
		c.Environment.Mode = "paper"
	}
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Broker.Provider == "" {
		c.Broker.Provider = "tastytrade"
	}
	if c.Broker.SnapshotWindow == 0 {
		c.Broker.SnapshotWindow = Duration(5 * time.Second)
	}
	if c.Underlying.Symbol == "" {
		c.Underlying.Symbol = "SPX"
	}
	if c.Underlying.Root == "" {
		c.Underlying.Root = "SPXW"
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "Europe/London"
	}
	if c.Schedule.PollInterval == 0 {
		c.Schedule.PollInterval = Duration(30 * time.Second)
	}
	if c.Schedule.EntryTolerance == 0 {
		c.Schedule.EntryTolerance = Duration(5 * time.Minute)
	}
	if c.Schedule.SettlementTime == "" {
		c.Schedule.SettlementTime = "21:00"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/trades.csv"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 9847
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Environment.Mode {
	case "paper", "live":
	default:
		return fmt.Errorf("environment.mode must be paper or live, got %q", c.Environment.Mode)
	}

	if c.Environment.Mode == "live" {
		if c.Broker.ClientSecret == "" || c.Broker.RefreshToken == "" {
			return fmt.Errorf("live mode requires broker.client_secret and broker.refresh_token")
		}
	}

	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	if err := validateClock(c.Schedule.SettlementTime); err != nil {
		return fmt.Errorf("schedule.settlement_time: %w", err)
	}
	if c.Schedule.PollInterval.Std() < time.Second {
		return fmt.Errorf("schedule.poll_interval must be at least 1s")
	}

	if len(c.Variants) == 0 {
		return fmt.Errorf("at least one variant is required")
	}
	seenIDs := make(map[string]string)
	for i := range c.Variants {
		v := &c.Variants[i]
		if err := v.validate(); err != nil {
			return fmt.Errorf("variants[%d] (%s): %w", i, v.Name, err)
		}
		for _, cp := range v.Checkpoints {
			id := v.StrategyID(cp)
			if prev, dup := seenIDs[id]; dup {
				return fmt.Errorf("variants[%d] (%s): strategy id %s collides with variant %s",
					i, v.Name, id, prev)
			}
			seenIDs[id] = v.Name
		}
	}

	if c.Dashboard.Enabled && (c.Dashboard.Port < 1 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port out of range: %d", c.Dashboard.Port)
	}
	return nil
}

func (v *VariantConfig) validate() error {
	if v.Name == "" {
		return fmt.Errorf("name is required")
	}
	if v.Prefix == "" {
		return fmt.Errorf("prefix is required")
	}
	switch v.Structure {
	case StructureCondor:
		if v.TargetDelta <= 0 || v.TargetDelta >= 0.5 {
			return fmt.Errorf("target_delta must be in (0, 0.5), got %v", v.TargetDelta)
		}
		if v.MaxDeltaDeviation <= 0 {
			return fmt.Errorf("max_delta_deviation must be positive")
		}
	case StructureFly:
		if v.TargetDelta != 0 {
			return fmt.Errorf("target_delta does not apply to flies")
		}
	default:
		return fmt.Errorf("structure must be condor or fly, got %q", v.Structure)
	}
	if v.WingWidth <= 0 {
		return fmt.Errorf("wing_width must be positive")
	}
	if v.ProfitTargetPct <= 0 || v.ProfitTargetPct >= 1 {
		return fmt.Errorf("profit_target_pct must be in (0, 1), got %v", v.ProfitTargetPct)
	}
	if v.TimeExit != "" {
		if err := validateClock(v.TimeExit); err != nil {
			return fmt.Errorf("time_exit: %w", err)
		}
	}
	if len(v.Checkpoints) == 0 {
		return fmt.Errorf("at least one checkpoint is required")
	}
	seen := make(map[string]bool)
	for _, cp := range v.Checkpoints {
		if err := validateClock(cp); err != nil {
			return fmt.Errorf("checkpoint %q: %w", cp, err)
		}
		if seen[cp] {
			return fmt.Errorf("duplicate checkpoint %q", cp)
		}
		seen[cp] = true
	}
	return nil
}

func validateClock(s string) error {
	if _, err := time.Parse("15:04", s); err != nil {
		return fmt.Errorf("want HH:MM, got %q", s)
	}
	return nil
}

// Location resolves the configured trading timezone. Validate has already
// confirmed it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AllCheckpoints returns the sorted union of every variant's entry times.
func (c *Config) AllCheckpoints() []string {
	set := make(map[string]bool)
	for i := range c.Variants {
		for _, cp := range c.Variants[i].Checkpoints {
			set[cp] = true
		}
	}
	out := make([]string, 0, len(set))
	for cp := range set {
		out = append(out, cp)
	}
	sort.Strings(out)
	return out
}

// VariantsAt returns the variants that enter at the given checkpoint.
func (c *Config) VariantsAt(checkpoint string) []*VariantConfig {
	var out []*VariantConfig
	for i := range c.Variants {
		for _, cp := range c.Variants[i].Checkpoints {
			if cp == checkpoint {
				out = append(out, &c.Variants[i])
				break
			}
		}
	}
	return out
}
