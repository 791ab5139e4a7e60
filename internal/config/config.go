// Package config defines the mediator's runtime configuration and its
// loading and validation rules.
package config

import (
	"fmt"
	"time"
)

// Backend enumerates the supported coordination backends.
type Backend string

const (
	BackendEtcd       Backend = "etcd"
	BackendKubernetes Backend = "kubernetes"
)

// Config represents the top-level configuration.
type Config struct {
	Mediator     MediatorConfig     `mapstructure:"mediator"`
	Coordination CoordinationConfig `mapstructure:"coordination"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

// MediatorConfig tunes the change-processing loop.
type MediatorConfig struct {
	// CheckInterval is how long the loop sleeps between passes over the
	// registered change kinds.
	CheckInterval time.Duration `mapstructure:"check_interval"`

	// ProactiveCheckInterval is how long a change kind may go unprocessed
	// before the loop invokes its handler without a pending notification.
	ProactiveCheckInterval time.Duration `mapstructure:"proactive_check_interval"`
}

// CoordinationConfig selects and configures the cluster state source.
type CoordinationConfig struct {
	Backend    Backend          `mapstructure:"backend"`
	Etcd       EtcdConfig       `mapstructure:"etcd"`
	Kubernetes KubernetesConfig `mapstructure:"kubernetes"`
}

// EtcdConfig configures the etcd coordination watcher.
type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	Namespace   string        `mapstructure:"namespace"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// KubernetesConfig configures the Kubernetes coordination watcher.
type KubernetesConfig struct {
	Namespace   string  `mapstructure:"namespace"`
	RelistRPS   float64 `mapstructure:"relist_rps"`
	RelistBurst int     `mapstructure:"relist_burst"`
}

// TelemetryConfig configures trace and metric export.
type TelemetryConfig struct {
	// Endpoint is the OTLP collector address. Empty disables export.
	Endpoint string `mapstructure:"endpoint"`

	// SampleProbability is the fraction of non-excluded traces to sample.
	SampleProbability float64 `mapstructure:"sample_probability"`
}

// ValidationError indicates a configuration field that fails validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

// Validate checks the configuration for internally inconsistent or
// unusable values.
func (c *Config) Validate() error {
	if c.Mediator.CheckInterval < 0 {
		return &ValidationError{Field: "mediator.check_interval", Reason: "must not be negative"}
	}
	if c.Mediator.ProactiveCheckInterval < 0 {
		return &ValidationError{Field: "mediator.proactive_check_interval", Reason: "must not be negative"}
	}

	switch c.Coordination.Backend {
	case BackendEtcd:
		if len(c.Coordination.Etcd.Endpoints) == 0 {
			return &ValidationError{Field: "coordination.etcd.endpoints", Reason: "at least one endpoint is required"}
		}
		if c.Coordination.Etcd.Namespace == "" {
			return &ValidationError{Field: "coordination.etcd.namespace", Reason: "namespace is required"}
		}
	case BackendKubernetes:
		if c.Coordination.Kubernetes.Namespace == "" {
			return &ValidationError{Field: "coordination.kubernetes.namespace", Reason: "namespace is required"}
		}
	default:
		return &ValidationError{
			Field:  "coordination.backend",
			Reason: fmt.Sprintf("unknown backend %q (expected %q or %q)", c.Coordination.Backend, BackendEtcd, BackendKubernetes),
		}
	}

	if p := c.Telemetry.SampleProbability; p < 0 || p > 1 {
		return &ValidationError{Field: "telemetry.sample_probability", Reason: "must be between 0 and 1"}
	}

	return nil
}
