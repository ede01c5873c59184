// Package manifest decodes and checks the manifests users submit for writes.
//
// A manifest may be JSON or YAML. Fields the route already determines
// (apiVersion, kind, namespace and, for updates, the name) may be omitted;
// when present they must agree with the route.
package manifest

import (
	"encoding/json"

	apperrors "github.com/cloudoperators/greenhouse-mirror/pkg/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/yaml"
)

// Target is what the route says the manifest describes.
type Target struct {
	GVK schema.GroupVersionKind
	// Name is set for routes addressing one object
	Name string
	// Namespace fills a manifest without one; empty leaves it unset
	Namespace string
}

// Decode parses a JSON or YAML object. It returns a BadRequest error for
// anything that is not a single object.
func Decode(body []byte) (*unstructured.Unstructured, error) {
	data, err := yaml.YAMLToJSON(body)
	if err != nil {
		return nil, apperrors.BadRequest("body is neither JSON nor YAML: %v", err)
	}
	var content map[string]interface{}
	if err := json.Unmarshal(data, &content); err != nil || content == nil {
		return nil, apperrors.BadRequest("body must be an object")
	}
	return &unstructured.Unstructured{Object: content}, nil
}

// Complete fills the fields of obj that t determines and checks the rest
// against it. Mismatches are Validation errors.
func Complete(obj *unstructured.Unstructured, t Target) error {
	gvk := obj.GroupVersionKind()
	switch {
	case gvk.Empty():
		obj.SetGroupVersionKind(t.GVK)
	case gvk != t.GVK:
		return apperrors.Validation("object is %s, route expects %s", gvk.String(), t.GVK.String())
	}

	if t.Name != "" {
		switch obj.GetName() {
		case "":
			obj.SetName(t.Name)
		case t.Name:
		default:
			return apperrors.Validation("metadata.name %q does not match %q", obj.GetName(), t.Name)
		}
	}
	if obj.GetName() == "" {
		return apperrors.Validation("metadata.name is required")
	}

	if obj.GetNamespace() == "" && t.Namespace != "" {
		obj.SetNamespace(t.Namespace)
	}
	return nil
}

// Parse is Decode followed by Complete.
func Parse(body []byte, t Target) (*unstructured.Unstructured, error) {
	obj, err := Decode(body)
	if err != nil {
		return nil, err
	}
	if err := Complete(obj, t); err != nil {
		return nil, err
	}
	return obj, nil
}
