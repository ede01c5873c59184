package config_loader

import (
	"fmt"
	"os"

	"github.com/cloudoperators/greenhouse-mirror/pkg/constants"
	apperrors "github.com/cloudoperators/greenhouse-mirror/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoaderOption configures the loader behavior
type LoaderOption func(*loaderConfig)

type loaderConfig struct {
	skipSemanticValidation bool
	skipDefaults           bool
}

// WithSkipSemanticValidation skips cross-field checks (durations, references)
func WithSkipSemanticValidation() LoaderOption {
	return func(c *loaderConfig) {
		c.skipSemanticValidation = true
	}
}

// WithoutDefaults leaves omitted fields empty
func WithoutDefaults() LoaderOption {
	return func(c *loaderConfig) {
		c.skipDefaults = true
	}
}

// ConfigPathFromEnv returns the config file path from MIRROR_CONFIG_PATH
func ConfigPathFromEnv() string {
	return os.Getenv(EnvConfigPath)
}

// Load reads a MirrorConfig from a YAML file. An empty filePath falls back to
// MIRROR_CONFIG_PATH.
func Load(filePath string, opts ...LoaderOption) (*MirrorConfig, error) {
	if filePath == "" {
		filePath = ConfigPathFromEnv()
	}
	if filePath == "" {
		return nil, apperrors.ConfigNotFound("config file path is required (pass as parameter or set %s environment variable)", EnvConfigPath)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.ConfigNotFound("config file %q does not exist", filePath)
		}
		return nil, fmt.Errorf("failed to read config file %q: %w", filePath, err)
	}
	return Parse(data, opts...)
}

// Parse parses a MirrorConfig from YAML bytes
func Parse(data []byte, opts ...LoaderOption) (*MirrorConfig, error) {
	cfg := &loaderConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	var config MirrorConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("YAML parse error: %w", err)
	}

	if err := runValidationPipeline(&config, cfg); err != nil {
		return nil, err
	}
	return &config, nil
}

func runValidationPipeline(config *MirrorConfig, cfg *loaderConfig) error {
	if errs := ValidateStruct(config); errs != nil && errs.HasErrors() {
		return fmt.Errorf("validation failed: %w", errs)
	}

	if !cfg.skipDefaults {
		ApplyDefaults(config)
	}

	if !cfg.skipSemanticValidation {
		if err := Validate(config); err != nil {
			return fmt.Errorf("semantic validation failed: %w", err)
		}
	}
	return nil
}

// ApplyDefaults fills omitted optional fields
func ApplyDefaults(c *MirrorConfig) {
	spec := &c.Spec
	if spec.Watch.InitialBackoff == "" {
		spec.Watch.InitialBackoff = DefaultInitialBackoff
	}
	if spec.Watch.MaxBackoff == "" {
		spec.Watch.MaxBackoff = DefaultMaxBackoff
	}
	if spec.Server.Port == "" {
		spec.Server.Port = DefaultServerPort
	}
	if spec.Server.HealthPort == "" {
		spec.Server.HealthPort = DefaultHealthPort
	}
	if spec.Server.MetricsPort == "" {
		spec.Server.MetricsPort = DefaultMetricsPort
	}
	if spec.Selection.LabelKey == "" {
		spec.Selection.LabelKey = DefaultSelectionLabel
	}
	if spec.Selection.Timeout == "" {
		spec.Selection.Timeout = DefaultSelectionTimeout
	}
	if spec.Selection.Resource == "" {
		for _, r := range spec.Resources {
			if r.Kind == constants.KindPlugin {
				spec.Selection.Resource = r.Name
				break
			}
		}
	}
}
