// Package config loads the settings of a metacohort member from a config
// file, METACOHORT_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"metacohort/pkg/federation"
	"metacohort/pkg/remote"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes every environment override, e.g. METACOHORT_MEMBER_LISTEN_ADDRESS.
const EnvPrefix = "METACOHORT"

type Config struct {
	Member     MemberConfig     `mapstructure:"member"`
	Peers      []string         `mapstructure:"peers"`
	Federation FederationConfig `mapstructure:"federation"`
	Remote     RemoteConfig     `mapstructure:"remote"`
	Membership MembershipConfig `mapstructure:"membership"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	TLS        remote.TLSConfig `mapstructure:"tls"`
	LogLevel   string           `mapstructure:"log_level"`
}

// MemberConfig identifies the local member and where it listens.
type MemberConfig struct {
	CollectionID  string `mapstructure:"collection_id"`
	Name          string `mapstructure:"name"`
	ListenAddress string `mapstructure:"listen_address"`
	// EnterpriseAddress serves the cohort-wide view to query clients. Empty
	// disables it.
	EnterpriseAddress string `mapstructure:"enterprise_address"`
	UserID            string `mapstructure:"user_id"`
}

// FederationConfig tunes the enterprise layer.
type FederationConfig struct {
	AsOfRetries int           `mapstructure:"asof_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

// RemoteConfig tunes calls to other members.
type RemoteConfig struct {
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	BaseDelay        time.Duration `mapstructure:"base_delay"`
	MaxDelay         time.Duration `mapstructure:"max_delay"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

// MembershipConfig tunes peer probing.
type MembershipConfig struct {
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
	SuspectAfter  int           `mapstructure:"suspect_after"`
	DeadAfter     int           `mapstructure:"dead_after"`
}

type MetricsConfig struct {
	// Address serves /metrics and /health/live. Empty disables the endpoint.
	Address string `mapstructure:"address"`
}

// SetDefaults registers every key with its default so that environment
// overrides apply to keys missing from the config file.
func SetDefaults(v *viper.Viper) {
	membership := federation.DefaultMembershipConfig()
	retry := remote.DefaultRetryConfig()
	pool := remote.DefaultPoolConfig()

	v.SetDefault("member.collection_id", "")
	v.SetDefault("member.name", "")
	v.SetDefault("member.listen_address", ":7070")
	v.SetDefault("member.enterprise_address", ":7071")
	v.SetDefault("member.user_id", membership.UserID)
	v.SetDefault("peers", []string{})

	v.SetDefault("federation.asof_retries", federation.DefaultAsOfRetries)
	v.SetDefault("federation.retry_delay", time.Duration(0))

	v.SetDefault("remote.call_timeout", remote.DefaultCallTimeout)
	v.SetDefault("remote.max_retries", retry.MaxRetries)
	v.SetDefault("remote.base_delay", retry.BaseDelay)
	v.SetDefault("remote.max_delay", retry.MaxDelay)
	v.SetDefault("remote.failure_threshold", pool.FailureThreshold)
	v.SetDefault("remote.cooldown", pool.Cooldown)

	v.SetDefault("membership.probe_interval", membership.ProbeInterval)
	v.SetDefault("membership.call_timeout", membership.CallTimeout)
	v.SetDefault("membership.suspect_after", membership.SuspectAfter)
	v.SetDefault("membership.dead_after", membership.DeadAfter)

	v.SetDefault("metrics.address", ":9090")

	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.ca_path", "")
	v.SetDefault("tls.cert_path", "")
	v.SetDefault("tls.key_path", "")
	v.SetDefault("tls.client_ca_path", "")
	v.SetDefault("tls.require_client_auth", false)
	v.SetDefault("tls.allowed_names", []string{})
	v.SetDefault("tls.min_version", "1.2")
	v.SetDefault("tls.server_name", "")

	v.SetDefault("log_level", "info")
}

// New returns a viper instance with defaults and environment overrides set up.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds flags to config keys. Keys map flag names to keys,
// e.g. "listen" to "member.listen_address".
func BindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for name, key := range keys {
		flag := flags.Lookup(name)
		if flag == nil {
			return fmt.Errorf("unknown flag %q", name)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %q: %w", name, err)
		}
	}
	return nil
}

// Load reads path, if given, and decodes the merged settings. A member without
// a collection id gets a fresh one.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Peers = splitPeers(cfg.Peers)
	if cfg.Member.CollectionID == "" {
		cfg.Member.CollectionID = uuid.NewString()
	}
	if cfg.Member.Name == "" {
		cfg.Member.Name = cfg.Member.CollectionID
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// splitPeers accepts both lists and comma separated entries.
func splitPeers(peers []string) []string {
	out := make([]string, 0, len(peers))
	seen := make(map[string]bool)
	for _, p := range peers {
		for _, addr := range strings.Split(p, ",") {
			addr = strings.TrimSpace(addr)
			if addr == "" || seen[addr] {
				continue
			}
			seen[addr] = true
			out = append(out, addr)
		}
	}
	return out
}

// Validate checks the settings for consistency.
func (c *Config) Validate() error {
	var errs []error
	if c.Member.ListenAddress == "" {
		errs = append(errs, errors.New("member.listen_address is required"))
	}
	if c.Member.UserID == "" {
		errs = append(errs, errors.New("member.user_id is required"))
	}
	if c.Federation.AsOfRetries < 0 {
		errs = append(errs, errors.New("federation.asof_retries must not be negative"))
	}
	if c.Federation.RetryDelay < 0 {
		errs = append(errs, errors.New("federation.retry_delay must not be negative"))
	}
	if c.Remote.MaxRetries < 0 {
		errs = append(errs, errors.New("remote.max_retries must not be negative"))
	}
	if c.Membership.SuspectAfter > c.Membership.DeadAfter {
		errs = append(errs, fmt.Errorf("membership.suspect_after (%d) exceeds membership.dead_after (%d)",
			c.Membership.SuspectAfter, c.Membership.DeadAfter))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if err := c.TLS.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tls: %w", err))
	}
	return errors.Join(errs...)
}

// Level returns the configured log level, info when it does not parse.
func (c *Config) Level() zapcore.Level {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// FederationOptions returns the enterprise collection options for c.
func (c *Config) FederationOptions() []federation.Option {
	return []federation.Option{
		federation.WithAsOfRetries(c.Federation.AsOfRetries),
		federation.WithRetryDelay(c.Federation.RetryDelay),
	}
}

// RetryConfig returns the retry settings for remote calls.
func (c *Config) RetryConfig() remote.RetryConfig {
	cfg := remote.DefaultRetryConfig()
	cfg.MaxRetries = c.Remote.MaxRetries
	cfg.BaseDelay = c.Remote.BaseDelay
	cfg.MaxDelay = c.Remote.MaxDelay
	return cfg
}

// PoolConfig returns the connection pool settings without credentials.
func (c *Config) PoolConfig() remote.PoolConfig {
	cfg := remote.DefaultPoolConfig()
	cfg.FailureThreshold = c.Remote.FailureThreshold
	cfg.Cooldown = c.Remote.Cooldown
	return cfg
}

// MembershipConfig returns the failure detector settings.
func (c *Config) MembershipConfig() federation.MembershipConfig {
	return federation.MembershipConfig{
		UserID:        c.Member.UserID,
		ProbeInterval: c.Membership.ProbeInterval,
		SuspectAfter:  c.Membership.SuspectAfter,
		DeadAfter:     c.Membership.DeadAfter,
		CallTimeout:   c.Membership.CallTimeout,
	}
}
