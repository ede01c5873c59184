package k8s_client

import (
	"sort"
	"strings"
)

// BuildLabelSelector converts a map of labels to a selector string.
// Keys are sorted alphabetically for deterministic output.
// Example: {"greenhouse.sap/cluster": "c1", "app": "x"} -> "app=x,greenhouse.sap/cluster=c1"
func BuildLabelSelector(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(labels))
	for _, k := range keys {
		pairs = append(pairs, k+"="+labels[k])
	}
	return strings.Join(pairs, ",")
}
