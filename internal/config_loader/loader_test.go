package config_loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "github.com/cloudoperators/greenhouse-mirror/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

const validConfig = `
apiVersion: greenhouse.sap/v1alpha1
kind: MirrorConfig
metadata:
  name: org-admin
spec:
  namespace: my-org
  kubernetes:
    kubeConfigPath: /tmp/kubeconfig
    qps: 50
    burst: 100
  watch:
    initialBackoff: 500ms
    maxBackoff: 20s
  resources:
    - name: clusters
      apiVersion: greenhouse.sap/v1alpha1
      kind: Cluster
      resource: clusters
    - name: plugins
      apiVersion: greenhouse.sap/v1alpha1
      kind: Plugin
      resource: plugins
    - name: secrets
      apiVersion: v1
      kind: Secret
      resource: secrets
      labelSelector: "greenhouse.sap/cluster"
`

func TestParseValidConfig(t *testing.T) {
	cfg, err := Parse([]byte(validConfig))
	require.NoError(t, err)

	assert.Equal(t, "org-admin", cfg.Metadata.Name)
	assert.Equal(t, "my-org", cfg.Spec.Namespace)
	assert.Equal(t, float32(50), cfg.Spec.Kubernetes.QPS)
	assert.Equal(t, 100, cfg.Spec.Kubernetes.Burst)
	assert.Equal(t, []string{"clusters", "plugins", "secrets"}, cfg.ResourceNames())

	// defaults
	assert.Equal(t, DefaultServerPort, cfg.Spec.Server.Port)
	assert.Equal(t, DefaultHealthPort, cfg.Spec.Server.HealthPort)
	assert.Equal(t, DefaultMetricsPort, cfg.Spec.Server.MetricsPort)
	assert.Equal(t, "greenhouse.sap/cluster", cfg.Spec.Selection.LabelKey)
	assert.Equal(t, "plugins", cfg.Spec.Selection.Resource)
	assert.True(t, cfg.SelectionEnabled())

	secrets, ok := cfg.FindResource("secrets")
	require.True(t, ok)
	gvk, err := secrets.GVK()
	require.NoError(t, err)
	assert.Equal(t, schema.GroupVersionKind{Version: "v1", Kind: "Secret"}, gvk)
	gvr, err := secrets.GVR()
	require.NoError(t, err)
	assert.Equal(t, schema.GroupVersionResource{Version: "v1", Resource: "secrets"}, gvr)
}

func TestParseWithoutDefaults(t *testing.T) {
	cfg, err := Parse([]byte(validConfig), WithoutDefaults())
	require.NoError(t, err)
	assert.Empty(t, cfg.Spec.Server.Port)
	assert.False(t, cfg.SelectionEnabled())
}

func TestParseStructErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "wrong apiVersion",
			yaml:    strings.Replace(validConfig, "apiVersion: greenhouse.sap/v1alpha1\nkind", "apiVersion: greenhouse.sap/v2\nkind", 1),
			wantErr: `invalid apiVersion "greenhouse.sap/v2"`,
		},
		{
			name:    "wrong kind",
			yaml:    strings.Replace(validConfig, "kind: MirrorConfig", "kind: AdapterConfig", 1),
			wantErr: `invalid kind "AdapterConfig"`,
		},
		{
			name:    "missing metadata name",
			yaml:    strings.Replace(validConfig, "name: org-admin", "name: \"\"", 1),
			wantErr: "metadata.name is required",
		},
		{
			name: "no resources",
			yaml: `
apiVersion: greenhouse.sap/v1alpha1
kind: MirrorConfig
metadata: {name: x}
spec: {}
`,
			wantErr: "spec.resources is required",
		},
		{
			name:    "duplicate resource names",
			yaml:    strings.Replace(validConfig, "- name: plugins", "- name: clusters", 1),
			wantErr: "spec.resources: contains duplicate name values",
		},
		{
			name:    "bad resource name",
			yaml:    strings.Replace(validConfig, "- name: plugins", "- name: Plugins_1", 1),
			wantErr: `spec.resources[1].name "Plugins_1"`,
		},
		{
			name:    "missing kind",
			yaml:    strings.Replace(validConfig, "      kind: Secret\n", "", 1),
			wantErr: "spec.resources[2].kind is required",
		},
		{
			name:    "negative qps",
			yaml:    strings.Replace(validConfig, "qps: 50", "qps: -1", 1),
			wantErr: "spec.kubernetes.qps: must be >= 0",
		},
		{
			name:    "port out of range",
			yaml:    strings.Replace(validConfig, "  watch:\n", "  server: {port: \"70000\"}\n  watch:\n", 1),
			wantErr: `spec.server.port "70000": must be a port number`,
		},
		{
			name:    "port not a number",
			yaml:    strings.Replace(validConfig, "  watch:\n", "  server: {metricsPort: metrics}\n  watch:\n", 1),
			wantErr: `spec.server.metricsPort "metrics"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseSemanticErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "bad duration",
			yaml:    strings.Replace(validConfig, "initialBackoff: 500ms", "initialBackoff: soon", 1),
			wantErr: `spec.watch.initialBackoff: invalid duration "soon"`,
		},
		{
			name:    "max shorter than initial",
			yaml:    strings.Replace(validConfig, "maxBackoff: 20s", "maxBackoff: 100ms", 1),
			wantErr: "maxBackoff 100ms is shorter than initialBackoff 500ms",
		},
		{
			name:    "uppercase resource",
			yaml:    strings.Replace(validConfig, "resource: plugins", "resource: Plugins", 1),
			wantErr: "spec.resources[1].resource",
		},
		{
			name:    "bad selector",
			yaml:    strings.Replace(validConfig, `labelSelector: "greenhouse.sap/cluster"`, `labelSelector: "a in ("`, 1),
			wantErr: "spec.resources[2].labelSelector",
		},
		{
			name:    "selection refers to unknown resource",
			yaml:    validConfig + "  selection:\n    resource: teams\n",
			wantErr: `spec.selection.resource: "teams" does not name an entry`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "semantic validation failed")
			assert.Contains(t, err.Error(), tt.wantErr)

			_, err = Parse([]byte(tt.yaml), WithSkipSemanticValidation())
			assert.NoError(t, err)
		})
	}
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("spec: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "YAML parse error")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mirror.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validConfig), 0o600))

	t.Run("explicit path", func(t *testing.T) {
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "org-admin", cfg.Metadata.Name)
	})

	t.Run("env path", func(t *testing.T) {
		t.Setenv(EnvConfigPath, path)
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "org-admin", cfg.Metadata.Name)
	})

	t.Run("no path", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "")
		_, err := Load("")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrorConfigNotFound))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "nope.yaml"))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrorConfigNotFound))
	})
}

func TestDurationAccessors(t *testing.T) {
	cfg, err := Parse([]byte(validConfig))
	require.NoError(t, err)

	initial, err := cfg.Spec.Watch.ParseInitialBackoff()
	require.NoError(t, err)
	assert.Equal(t, "500ms", initial.String())

	maxBackoff, err := cfg.Spec.Watch.ParseMaxBackoff()
	require.NoError(t, err)
	assert.Equal(t, "20s", maxBackoff.String())

	timeout, err := cfg.Spec.Selection.ParseTimeout()
	require.NoError(t, err)
	assert.Equal(t, "10s", timeout.String())

	zero, err := WatchConfig{}.ParseInitialBackoff()
	require.NoError(t, err)
	assert.Zero(t, zero)

	var nilCfg *MirrorConfig
	_, ok := nilCfg.FindResource("clusters")
	assert.False(t, ok)
	assert.Nil(t, nilCfg.ResourceNames())
}
