package config_loader

// MirrorConfig is the complete configuration of one mirror session
type MirrorConfig struct {
	APIVersion string           `yaml:"apiVersion" validate:"required,eq=greenhouse.sap/v1alpha1"`
	Kind       string           `yaml:"kind" validate:"required,eq=MirrorConfig"`
	Metadata   Metadata         `yaml:"metadata"`
	Spec       MirrorConfigSpec `yaml:"spec"`
}

// Metadata names the session; the name becomes the logger component
type Metadata struct {
	Name   string            `yaml:"name" validate:"required"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

// MirrorConfigSpec contains the session specification
type MirrorConfigSpec struct {
	// Namespace is the Greenhouse organization namespace. Empty watches all namespaces.
	Namespace  string           `yaml:"namespace,omitempty"`
	Kubernetes KubernetesConfig `yaml:"kubernetes"`
	Watch      WatchConfig      `yaml:"watch"`
	Server     ServerConfig     `yaml:"server"`
	Selection  SelectionConfig  `yaml:"selection"`
	Resources  []ResourceConfig `yaml:"resources" validate:"required,min=1,unique=Name,dive"`
}

// KubernetesConfig holds API server connection settings
type KubernetesConfig struct {
	// KubeConfigPath empty means in-cluster ServiceAccount authentication
	KubeConfigPath string  `yaml:"kubeConfigPath,omitempty"`
	QPS            float32 `yaml:"qps,omitempty" validate:"gte=0"`
	Burst          int     `yaml:"burst,omitempty" validate:"gte=0"`
}

// WatchConfig holds the reconnect backoff of every watch feed, as duration strings
type WatchConfig struct {
	InitialBackoff string `yaml:"initialBackoff,omitempty"`
	MaxBackoff     string `yaml:"maxBackoff,omitempty"`
}

// ServerConfig holds listen ports
type ServerConfig struct {
	Port        string `yaml:"port,omitempty" validate:"omitempty,port"`
	HealthPort  string `yaml:"healthPort,omitempty" validate:"omitempty,port"`
	MetricsPort string `yaml:"metricsPort,omitempty" validate:"omitempty,port"`
}

// SelectionConfig configures the side-fetch run when a cluster is selected
type SelectionConfig struct {
	// Resource names the resources entry to fetch; empty picks the Plugin entry
	Resource string `yaml:"resource,omitempty"`
	// LabelKey is matched against the selected cluster name
	LabelKey string `yaml:"labelKey,omitempty"`
	Timeout  string `yaml:"timeout,omitempty"`
}

// ResourceConfig is one mirrored resource kind
type ResourceConfig struct {
	// Name identifies the mirror in URLs, logs and metrics, e.g. "clusters"
	Name       string `yaml:"name" validate:"required,mirrorname"`
	APIVersion string `yaml:"apiVersion" validate:"required"`
	Kind       string `yaml:"kind" validate:"required"`
	// Resource is the lowercase plural used by the watch, e.g. "clusters"
	Resource      string `yaml:"resource" validate:"required"`
	LabelSelector string `yaml:"labelSelector,omitempty"`
}
