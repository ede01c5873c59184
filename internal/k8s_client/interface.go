package k8s_client

import (
	"context"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// K8sClient is the REST collaborator: reads and writes of unstructured
// resources. Mirrors are never updated through it; changes come back via
// the watch feeds.
type K8sClient interface {
	// GetResource returns an unwrapped NotFound error for a missing resource.
	GetResource(ctx context.Context, gvk schema.GroupVersionKind, namespace, name string) (*unstructured.Unstructured, error)

	ListResources(ctx context.Context, gvk schema.GroupVersionKind, namespace, labelSelector string) (*unstructured.UnstructuredList, error)

	// CreateResource returns the created resource with server-generated fields populated.
	CreateResource(ctx context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error)

	// UpdateResource needs resourceVersion set for optimistic concurrency.
	UpdateResource(ctx context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error)

	PatchResource(ctx context.Context, gvk schema.GroupVersionKind, namespace, name string, patchData []byte) (*unstructured.Unstructured, error)

	DeleteResource(ctx context.Context, gvk schema.GroupVersionKind, namespace, name string) error
}

var _ K8sClient = (*Client)(nil)
