// Package daemonconfig is the one place flag, environment, and YAML-file
// values land before being handed to pkg/engine's construction-time
// container (Design Notes §9's replacement for a global-context lookup
// bag). The teacher has no equivalent (cuemby-warren parses cobra flags
// directly in cmd/warren/main.go); this follows the rest of the pack's
// idiomatic alternative instead, grounded on
// ipiton-alert-history-service/go-app/internal/config's viper.Unmarshal
// shape: set defaults, bind env, optionally read a YAML file, unmarshal
// into a typed struct, validate.
package daemonconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved daemon configuration, independent of how
// any individual field was supplied (flag, env, file).
type Config struct {
	// Root is the persisted-state directory laid out per spec.md §6.
	Root string `mapstructure:"root"`

	LogLevel string `mapstructure:"log-level"`
	LogJSON  bool   `mapstructure:"log-json"`

	// APIAddr serves the local management API (submit/status/metrics/health).
	APIAddr string `mapstructure:"api-addr"`

	// IPCSocket is the Unix domain socket path for the narrow in-process
	// component IPC surface (spec.md §4.7/§6).
	IPCSocket string `mapstructure:"ipc-socket"`

	// ContainerdSocket is left unreachable on devices with no containerd
	// installed; the engine degrades to subprocess-only launches.
	ContainerdSocket string `mapstructure:"containerd-socket"`

	// ShadowRateLimit/ShadowBurst bound SHADOW-source submission rate.
	// Zero ShadowRateLimit disables the limiter.
	ShadowRateLimit int `mapstructure:"shadow-rate-limit"`
	ShadowBurst     int `mapstructure:"shadow-burst"`

	GCInterval        time.Duration `mapstructure:"gc-interval"`
	ValidationTimeout time.Duration `mapstructure:"validation-timeout"`
}

// defaults mirrors the zero-value fallbacks cmd/deployengine's cobra flags
// carry, so a process started with no flags, no env, and no file still
// gets a sane configuration.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"root":               "./deployd-data",
		"log-level":          "info",
		"log-json":           false,
		"api-addr":           "127.0.0.1:7780",
		"ipc-socket":         "./deployd-data/ipc.sock",
		"containerd-socket":  "/run/containerd/containerd.sock",
		"shadow-rate-limit":  5,
		"shadow-burst":       10,
		"gc-interval":        "30m",
		"validation-timeout": "10s",
	}
}

// Load resolves a Config from, in ascending precedence order: built-in
// defaults, an optional YAML file at configPath, and DEPLOYD_-prefixed
// environment variables. v is the process's bound viper.Viper (cobra
// flags are bound into it by the caller before Load runs), so a `--flag`
// always wins over file and env.
func Load(v *viper.Viper, configPath string) (Config, error) {
	for key, val := range defaults() {
		v.SetDefault(key, val)
	}

	v.SetEnvPrefix("DEPLOYD")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("reading config file %s: %w", configPath, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling daemon config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validating daemon config: %w", err)
	}

	return cfg, nil
}

// Validate rejects configurations that would otherwise surface as a
// confusing failure deep inside pkg/engine's construction.
func (c Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("root directory must not be empty")
	}
	if c.APIAddr == "" {
		return fmt.Errorf("api-addr must not be empty")
	}
	if c.IPCSocket == "" {
		return fmt.Errorf("ipc-socket must not be empty")
	}
	if c.ShadowRateLimit < 0 {
		return fmt.Errorf("shadow-rate-limit must not be negative")
	}
	if c.GCInterval < 0 {
		return fmt.Errorf("gc-interval must not be negative")
	}
	if c.ValidationTimeout < 0 {
		return fmt.Errorf("validation-timeout must not be negative")
	}
	return nil
}
