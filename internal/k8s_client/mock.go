package k8s_client

import (
	"context"
	"sync"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// MockK8sClient implements K8sClient in memory for tests. Error and result
// overrides take precedence over the stored resources.
type MockK8sClient struct {
	mu sync.Mutex

	// Resources stores created/updated resources by "Kind/namespace/name"
	Resources map[string]*unstructured.Unstructured

	GetResourceError     error
	ListResourcesError   error
	CreateResourceResult *unstructured.Unstructured
	CreateResourceError  error
	UpdateResourceResult *unstructured.Unstructured
	UpdateResourceError  error
	PatchResourceError   error
	DeleteResourceError  error

	// ListHook runs before every ListResources call
	ListHook func(ctx context.Context, labelSelector string)

	Calls []string
}

// NewMockK8sClient creates a new mock K8s client for testing
func NewMockK8sClient() *MockK8sClient {
	return &MockK8sClient{
		Resources: make(map[string]*unstructured.Unstructured),
	}
}

func mockKey(kind, namespace, name string) string {
	return kind + "/" + namespace + "/" + name
}

func (m *MockK8sClient) record(call string) {
	m.Calls = append(m.Calls, call)
}

// Put stores obj as if it existed on the server.
func (m *MockK8sClient) Put(obj *unstructured.Unstructured) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Resources[mockKey(obj.GetKind(), obj.GetNamespace(), obj.GetName())] = obj.DeepCopy()
}

// GetResource returns a NotFound error when the resource doesn't exist, like the real client.
func (m *MockK8sClient) GetResource(ctx context.Context, gvk schema.GroupVersionKind, namespace, name string) (*unstructured.Unstructured, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("get")
	if m.GetResourceError != nil {
		return nil, m.GetResourceError
	}
	if res, ok := m.Resources[mockKey(gvk.Kind, namespace, name)]; ok {
		return res.DeepCopy(), nil
	}
	return nil, apierrors.NewNotFound(schema.GroupResource{Group: gvk.Group, Resource: gvk.Kind}, name)
}

// ListResources filters the stored resources by kind, namespace and selector.
func (m *MockK8sClient) ListResources(ctx context.Context, gvk schema.GroupVersionKind, namespace, labelSelector string) (*unstructured.UnstructuredList, error) {
	if m.ListHook != nil {
		m.ListHook(ctx, labelSelector)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("list")
	if m.ListResourcesError != nil {
		return nil, m.ListResourcesError
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	selector, err := labels.Parse(labelSelector)
	if err != nil {
		return nil, err
	}
	list := &unstructured.UnstructuredList{}
	for _, res := range m.Resources {
		if res.GetKind() != gvk.Kind {
			continue
		}
		if namespace != "" && res.GetNamespace() != namespace {
			continue
		}
		if !selector.Matches(labels.Set(res.GetLabels())) {
			continue
		}
		list.Items = append(list.Items, *res.DeepCopy())
	}
	return list, nil
}

func (m *MockK8sClient) CreateResource(ctx context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("create")
	if m.CreateResourceError != nil {
		return nil, m.CreateResourceError
	}
	if m.CreateResourceResult != nil {
		return m.CreateResourceResult, nil
	}
	key := mockKey(obj.GetKind(), obj.GetNamespace(), obj.GetName())
	if _, exists := m.Resources[key]; exists {
		return nil, apierrors.NewAlreadyExists(schema.GroupResource{Resource: obj.GetKind()}, obj.GetName())
	}
	m.Resources[key] = obj.DeepCopy()
	return obj, nil
}

func (m *MockK8sClient) UpdateResource(ctx context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("update")
	if m.UpdateResourceError != nil {
		return nil, m.UpdateResourceError
	}
	if m.UpdateResourceResult != nil {
		return m.UpdateResourceResult, nil
	}
	m.Resources[mockKey(obj.GetKind(), obj.GetNamespace(), obj.GetName())] = obj.DeepCopy()
	return obj, nil
}

// PatchResource records the call and returns the stored resource unchanged.
func (m *MockK8sClient) PatchResource(ctx context.Context, gvk schema.GroupVersionKind, namespace, name string, patchData []byte) (*unstructured.Unstructured, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("patch")
	if m.PatchResourceError != nil {
		return nil, m.PatchResourceError
	}
	if res, ok := m.Resources[mockKey(gvk.Kind, namespace, name)]; ok {
		return res.DeepCopy(), nil
	}
	return nil, apierrors.NewNotFound(schema.GroupResource{Group: gvk.Group, Resource: gvk.Kind}, name)
}

func (m *MockK8sClient) DeleteResource(ctx context.Context, gvk schema.GroupVersionKind, namespace, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("delete")
	if m.DeleteResourceError != nil {
		return m.DeleteResourceError
	}
	delete(m.Resources, mockKey(gvk.Kind, namespace, name))
	return nil
}

var _ K8sClient = (*MockK8sClient)(nil)
