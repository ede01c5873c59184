package mirror

import (
	"fmt"

	apperrors "github.com/cloudoperators/greenhouse-mirror/pkg/errors"
	"github.com/mitchellh/copystructure"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Resource is one mirrored object: its metadata.name and the full body as
// received from the API server. The body is passed through untouched.
type Resource struct {
	Name   string
	Object map[string]interface{}
}

// Collection is an ordered list of resources with at most one entry per name.
type Collection []Resource

// NewResource builds a Resource from a decoded object. A missing or empty
// metadata.name is a MalformedEvent.
func NewResource(obj map[string]interface{}) (Resource, error) {
	if obj == nil {
		return Resource{}, apperrors.MalformedEvent("resource body is empty")
	}
	name, found, err := unstructured.NestedString(obj, "metadata", "name")
	if err != nil {
		return Resource{}, apperrors.MalformedEvent("metadata.name is not a string: %v", err)
	}
	if !found || name == "" {
		kind, _, _ := unstructured.NestedString(obj, "kind")
		return Resource{}, apperrors.MalformedEvent("%s without metadata.name", kindOrUnknown(kind))
	}
	return Resource{Name: name, Object: obj}, nil
}

// FromUnstructured is NewResource for client-go objects.
func FromUnstructured(u *unstructured.Unstructured) (Resource, error) {
	if u == nil {
		return Resource{}, apperrors.MalformedEvent("nil object")
	}
	return NewResource(u.Object)
}

// Unstructured wraps the body for client-go/controller-runtime callers.
func (r Resource) Unstructured() *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: r.Object}
}

// Names returns the names of c in order.
func (c Collection) Names() []string {
	names := make([]string, len(c))
	for i := range c {
		names[i] = c[i].Name
	}
	return names
}

// Objects returns the bodies of c in order.
func (c Collection) Objects() []map[string]interface{} {
	objects := make([]map[string]interface{}, len(c))
	for i := range c {
		objects[i] = c[i].Object
	}
	return objects
}

// DeepCopy returns a copy that shares no maps or slices with c.
func (c Collection) DeepCopy() Collection {
	if c == nil {
		return nil
	}
	return copystructure.Must(copystructure.Copy(c)).(Collection)
}

func kindOrUnknown(kind string) string {
	if kind == "" {
		return "object"
	}
	return kind
}

// ApplyUpserts returns existing with every incoming item merged in, in order:
// an item whose name is already present replaces that entry in place, any
// other item is appended. existing is not modified. Later items win when the
// batch repeats a name.
//
// Panics if an incoming item has no name.
func ApplyUpserts(existing Collection, incoming []Resource) Collection {
	result := make(Collection, len(existing), len(existing)+len(incoming))
	copy(result, existing)

	index := make(map[string]int, len(result))
	for i := range result {
		index[result[i].Name] = i
	}

	for i, item := range incoming {
		mustHaveName(item, i)
		if pos, ok := index[item.Name]; ok {
			result[pos] = item
			continue
		}
		index[item.Name] = len(result)
		result = append(result, item)
	}
	return result
}

// ApplyDeletes returns existing without any entry whose name appears in
// incoming. Names that are not present are ignored; the order of the
// remaining entries is kept. existing is not modified.
//
// Panics if an incoming item has no name.
func ApplyDeletes(existing Collection, incoming []Resource) Collection {
	drop := make(map[string]struct{}, len(incoming))
	for i, item := range incoming {
		mustHaveName(item, i)
		drop[item.Name] = struct{}{}
	}

	result := make(Collection, 0, len(existing))
	for _, entry := range existing {
		if _, ok := drop[entry.Name]; ok {
			continue
		}
		result = append(result, entry)
	}
	return result
}

func mustHaveName(item Resource, i int) {
	if item.Name == "" {
		panic(fmt.Sprintf("mirror: batch item %d has no name", i))
	}
}
