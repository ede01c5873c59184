package constants

// Greenhouse API group and versions
const (
	// GreenhouseGroup is the API group of all Greenhouse custom resources
	GreenhouseGroup = "greenhouse.sap"

	// GreenhouseVersion is the served version mirrored by default
	GreenhouseVersion = "v1alpha1"

	// GreenhouseAPIVersion is GreenhouseGroup/GreenhouseVersion
	GreenhouseAPIVersion = GreenhouseGroup + "/" + GreenhouseVersion
)

// Kinds mirrored by the dashboards
const (
	KindCluster          = "Cluster"
	KindPlugin           = "Plugin"
	KindPluginDefinition = "PluginDefinition"
	KindPluginPreset     = "PluginPreset"
	KindSecret           = "Secret"
)

// Greenhouse labels
const (
	// LabelKeyCluster identifies the Cluster a resource (e.g. a Plugin) belongs to.
	// Format: "greenhouse.sap/cluster"
	LabelKeyCluster = "greenhouse.sap/cluster"

	// LabelKeyPlugin identifies the Plugin a resource belongs to.
	// Format: "greenhouse.sap/plugin"
	LabelKeyPlugin = "greenhouse.sap/plugin"

	// LabelKeyPluginPreset identifies the PluginPreset that generated a Plugin.
	LabelKeyPluginPreset = "greenhouse.sap/pluginpreset"
)

// SecretTypeKubeConfig is the type of Secrets holding a cluster kubeconfig
const SecretTypeKubeConfig = "greenhouse.sap/kubeconfig"
