package config_loader

import (
	"time"

	"k8s.io/apimachinery/pkg/runtime/schema"
)

// FindResource returns the resources entry with the given name
func (c *MirrorConfig) FindResource(name string) (ResourceConfig, bool) {
	if c == nil {
		return ResourceConfig{}, false
	}
	for _, r := range c.Spec.Resources {
		if r.Name == name {
			return r, true
		}
	}
	return ResourceConfig{}, false
}

// ResourceNames returns the configured mirror names in order
func (c *MirrorConfig) ResourceNames() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Spec.Resources))
	for _, r := range c.Spec.Resources {
		names = append(names, r.Name)
	}
	return names
}

// SelectionEnabled reports whether a resource is configured for the cluster selection fetch
func (c *MirrorConfig) SelectionEnabled() bool {
	return c != nil && c.Spec.Selection.Resource != ""
}

// GVK parses apiVersion and kind
func (r ResourceConfig) GVK() (schema.GroupVersionKind, error) {
	gv, err := schema.ParseGroupVersion(r.APIVersion)
	if err != nil {
		return schema.GroupVersionKind{}, err
	}
	return gv.WithKind(r.Kind), nil
}

// GVR parses apiVersion and resource
func (r ResourceConfig) GVR() (schema.GroupVersionResource, error) {
	gv, err := schema.ParseGroupVersion(r.APIVersion)
	if err != nil {
		return schema.GroupVersionResource{}, err
	}
	return gv.WithResource(r.Resource), nil
}

// ParseInitialBackoff returns spec.watch.initialBackoff; empty is 0
func (w WatchConfig) ParseInitialBackoff() (time.Duration, error) {
	return parseOptionalDuration(w.InitialBackoff)
}

// ParseMaxBackoff returns spec.watch.maxBackoff; empty is 0
func (w WatchConfig) ParseMaxBackoff() (time.Duration, error) {
	return parseOptionalDuration(w.MaxBackoff)
}

// ParseTimeout returns spec.selection.timeout; empty is 0
func (s SelectionConfig) ParseTimeout() (time.Duration, error) {
	return parseOptionalDuration(s.Timeout)
}

func parseOptionalDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	return time.ParseDuration(value)
}
