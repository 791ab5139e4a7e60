package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
mediator:
  check_interval: 500ms
  proactive_check_interval: 30m
coordination:
  backend: etcd
  etcd:
    endpoints:
      - etcd-0:2379
      - etcd-1:2379
    namespace: /clusters/prod
telemetry:
  endpoint: otel-collector:4317
  sample_probability: 0.25
`)

	cfg, err := NewViperLoader(path).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, cfg.Mediator.CheckInterval)
	assert.Equal(t, 30*time.Minute, cfg.Mediator.ProactiveCheckInterval)
	assert.Equal(t, BackendEtcd, cfg.Coordination.Backend)
	assert.Equal(t, []string{"etcd-0:2379", "etcd-1:2379"}, cfg.Coordination.Etcd.Endpoints)
	assert.Equal(t, "/clusters/prod", cfg.Coordination.Etcd.Namespace)
	assert.Equal(t, 5*time.Second, cfg.Coordination.Etcd.DialTimeout, "default should apply when unset")
	assert.Equal(t, "otel-collector:4317", cfg.Telemetry.Endpoint)
	assert.Equal(t, 0.25, cfg.Telemetry.SampleProbability)
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfigFile(t, `
coordination:
  etcd:
    endpoints: [localhost:2379]
    namespace: /clusters/dev
`)

	cfg, err := NewViperLoader(path).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.Mediator.CheckInterval)
	assert.Equal(t, time.Hour, cfg.Mediator.ProactiveCheckInterval)
	assert.Equal(t, BackendEtcd, cfg.Coordination.Backend)
	assert.Equal(t, 0.1, cfg.Telemetry.SampleProbability)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
coordination:
  backend: etcd
  etcd:
    endpoints: [localhost:2379]
    namespace: /clusters/dev
`)

	t.Setenv("CLUSTER_MEDIATOR_COORDINATION_BACKEND", "kubernetes")
	t.Setenv("CLUSTER_MEDIATOR_COORDINATION_KUBERNETES_NAMESPACE", "pinot")

	cfg, err := NewViperLoader(path).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, BackendKubernetes, cfg.Coordination.Backend)
	assert.Equal(t, "pinot", cfg.Coordination.Kubernetes.Namespace)
}

func TestLoadFromEnvWithoutFile(t *testing.T) {
	t.Setenv("CLUSTER_MEDIATOR_COORDINATION_BACKEND", "kubernetes")
	t.Setenv("CLUSTER_MEDIATOR_COORDINATION_KUBERNETES_NAMESPACE", "pinot")
	t.Setenv("CLUSTER_MEDIATOR_TELEMETRY_ENDPOINT", "otel-collector:4317")

	cfg, err := NewViperLoader("").Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, BackendKubernetes, cfg.Coordination.Backend)
	assert.Equal(t, "pinot", cfg.Coordination.Kubernetes.Namespace)
	assert.Equal(t, "otel-collector:4317", cfg.Telemetry.Endpoint)
	assert.Equal(t, time.Second, cfg.Mediator.CheckInterval, "defaults still apply alongside env values")
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := NewViperLoader(filepath.Join(t.TempDir(), "missing.yaml")).Load(context.Background())
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Mediator: MediatorConfig{CheckInterval: time.Second, ProactiveCheckInterval: time.Hour},
			Coordination: CoordinationConfig{
				Backend: BackendEtcd,
				Etcd:    EtcdConfig{Endpoints: []string{"localhost:2379"}, Namespace: "/clusters/dev"},
			},
			Telemetry: TelemetryConfig{SampleProbability: 0.1},
		}
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:   "valid etcd config",
			mutate: func(*Config) {},
		},
		{
			name: "valid kubernetes config",
			mutate: func(c *Config) {
				c.Coordination.Backend = BackendKubernetes
				c.Coordination.Kubernetes.Namespace = "pinot"
			},
		},
		{
			name:      "negative check interval",
			mutate:    func(c *Config) { c.Mediator.CheckInterval = -time.Second },
			wantField: "mediator.check_interval",
		},
		{
			name:      "unknown backend",
			mutate:    func(c *Config) { c.Coordination.Backend = "zookeeper" },
			wantField: "coordination.backend",
		},
		{
			name:      "etcd without endpoints",
			mutate:    func(c *Config) { c.Coordination.Etcd.Endpoints = nil },
			wantField: "coordination.etcd.endpoints",
		},
		{
			name: "kubernetes without namespace",
			mutate: func(c *Config) {
				c.Coordination.Backend = BackendKubernetes
			},
			wantField: "coordination.kubernetes.namespace",
		},
		{
			name:      "sample probability out of range",
			mutate:    func(c *Config) { c.Telemetry.SampleProbability = 1.5 },
			wantField: "telemetry.sample_probability",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}
