package config_loader

import "github.com/cloudoperators/greenhouse-mirror/pkg/constants"

const (
	APIVersionV1Alpha1 = constants.GreenhouseAPIVersion
	ExpectedKind       = "MirrorConfig"
)

// EnvConfigPath is read when no config path is passed
const EnvConfigPath = "MIRROR_CONFIG_PATH"

// Defaults applied to omitted fields
const (
	DefaultInitialBackoff   = "1s"
	DefaultMaxBackoff       = "30s"
	DefaultServerPort       = "8000"
	DefaultHealthPort       = "8080"
	DefaultMetricsPort      = "9090"
	DefaultSelectionTimeout = "10s"
	DefaultSelectionLabel   = constants.LabelKeyCluster
)

// Field path constants used in validation messages
const (
	FieldSpec      = "spec"
	FieldWatch     = "watch"
	FieldSelection = "selection"
	FieldResources = "resources"
)
