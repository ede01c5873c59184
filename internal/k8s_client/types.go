package k8s_client

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// GVKFromKindAndApiVersion creates a GroupVersionKind from kind and apiVersion strings.
//
//	gvk, err := GVKFromKindAndApiVersion("Cluster", "greenhouse.sap/v1alpha1")
func GVKFromKindAndApiVersion(kind, apiVersion string) (schema.GroupVersionKind, error) {
	gv, err := schema.ParseGroupVersion(apiVersion)
	if err != nil {
		return schema.GroupVersionKind{}, err
	}
	return gv.WithKind(kind), nil
}

// GVRFromApiVersion creates the GroupVersionResource a watch feed needs.
// resource is the lowercase plural, e.g. "clusters".
func GVRFromApiVersion(apiVersion, resource string) (schema.GroupVersionResource, error) {
	gv, err := schema.ParseGroupVersion(apiVersion)
	if err != nil {
		return schema.GroupVersionResource{}, err
	}
	return gv.WithResource(resource), nil
}

// GVKFromUnstructured extracts GroupVersionKind from an unstructured object.
func GVKFromUnstructured(obj *unstructured.Unstructured) schema.GroupVersionKind {
	return obj.GroupVersionKind()
}
