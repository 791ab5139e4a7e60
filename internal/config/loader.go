package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envPrefix scopes environment overrides, e.g.
// CLUSTER_MEDIATOR_COORDINATION_BACKEND=etcd.
const envPrefix = "CLUSTER_MEDIATOR"

// Loader provides configuration loading capabilities. It abstracts the source
// of configuration to allow for different implementations like files, environment
// variables, or remote configuration services.
type Loader interface {
	// Load retrieves and parses the configuration from the underlying source.
	// It returns the parsed configuration or an error if loading fails.
	Load(ctx context.Context) (*Config, error)
}

// ViperLoader loads configuration from an optional YAML file with environment
// variable overrides. Environment variables take precedence over the file.
type ViperLoader struct {
	// path is the filesystem path to the configuration file.
	// Empty means environment variables and defaults only.
	path string
}

// NewViperLoader creates a loader for the given config file path.
func NewViperLoader(path string) *ViperLoader {
	return &ViperLoader{path: path}
}

// Load reads the configuration file (if any), applies environment overrides
// and defaults, and validates the result.
func (l *ViperLoader) Load(ctx context.Context) (*Config, error) {
	v := viper.New()

	v.SetDefault("mediator.check_interval", time.Second)
	v.SetDefault("mediator.proactive_check_interval", time.Hour)
	v.SetDefault("coordination.backend", string(BackendEtcd))
	v.SetDefault("coordination.etcd.dial_timeout", 5*time.Second)
	v.SetDefault("coordination.kubernetes.relist_rps", 1.0)
	v.SetDefault("coordination.kubernetes.relist_burst", 3)
	v.SetDefault("telemetry.sample_probability", 0.1)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows from a default or
	// the config file, so every key is bound explicitly to keep env-only
	// values visible to Unmarshal.
	for _, key := range []string{
		"mediator.check_interval",
		"mediator.proactive_check_interval",
		"coordination.backend",
		"coordination.etcd.endpoints",
		"coordination.etcd.namespace",
		"coordination.etcd.dial_timeout",
		"coordination.kubernetes.namespace",
		"coordination.kubernetes.relist_rps",
		"coordination.kubernetes.relist_burst",
		"telemetry.endpoint",
		"telemetry.sample_probability",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	if l.path != "" {
		v.SetConfigFile(l.path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
