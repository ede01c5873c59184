package k8s_client

import (
	"context"
	"encoding/json"

	"github.com/cloudoperators/greenhouse-mirror/pkg/errors"
	"github.com/cloudoperators/greenhouse-mirror/pkg/logger"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

const (
	DefaultQPS   float32 = 100.0
	DefaultBurst         = 200
)

// Client performs unstructured CRUD against the API server through controller-runtime.
type Client struct {
	client client.Client
	log    logger.Logger
}

// ClientConfig holds configuration for creating a Kubernetes client
type ClientConfig struct {
	// KubeConfigPath is the path to a kubeconfig file.
	// Leave empty to use in-cluster ServiceAccount authentication.
	KubeConfigPath string
	// QPS is the queries per second rate limiter
	QPS float32
	// Burst is the burst rate limiter
	Burst int
}

// RestConfig resolves the connection settings shared by the CRUD client and
// the dynamic watch client.
//
// An empty KubeConfigPath selects the in-cluster ServiceAccount token and CA;
// otherwise the kubeconfig file is loaded. Zero QPS/Burst take the defaults.
func RestConfig(ctx context.Context, config ClientConfig, log logger.Logger) (*rest.Config, error) {
	var restConfig *rest.Config
	var err error

	if config.KubeConfigPath == "" {
		restConfig, err = rest.InClusterConfig()
		if err != nil {
			return nil, errors.KubernetesError("failed to create in-cluster config: %v", err)
		}
		log.Info(ctx, "Using in-cluster Kubernetes configuration (ServiceAccount)")
	} else {
		restConfig, err = clientcmd.BuildConfigFromFlags("", config.KubeConfigPath)
		if err != nil {
			return nil, errors.KubernetesError("failed to load kubeconfig from %s: %v", config.KubeConfigPath, err)
		}
		log.Infof(ctx, "Using kubeconfig from: %s", config.KubeConfigPath)
	}

	restConfig.QPS = config.QPS
	if restConfig.QPS == 0 {
		restConfig.QPS = DefaultQPS
	}
	restConfig.Burst = config.Burst
	if restConfig.Burst == 0 {
		restConfig.Burst = DefaultBurst
	}
	return restConfig, nil
}

// NewClient creates a client from ClientConfig.
func NewClient(ctx context.Context, config ClientConfig, log logger.Logger) (*Client, error) {
	restConfig, err := RestConfig(ctx, config, log)
	if err != nil {
		return nil, err
	}
	return NewClientFromConfig(restConfig, log)
}

// NewClientFromConfig creates a client from an existing rest.Config
func NewClientFromConfig(restConfig *rest.Config, log logger.Logger) (*Client, error) {
	k8sClient, err := client.New(restConfig, client.Options{})
	if err != nil {
		return nil, errors.KubernetesError("failed to create kubernetes client: %v", err)
	}
	return NewClientWith(k8sClient, log), nil
}

// NewClientWith wraps an existing controller-runtime client, e.g. a fake one.
func NewClientWith(c client.Client, log logger.Logger) *Client {
	return &Client{
		client: c,
		log:    log,
	}
}

// NewDynamicClient creates the client-go dynamic client used by watch feeds.
func NewDynamicClient(restConfig *rest.Config) (dynamic.Interface, error) {
	dc, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, errors.KubernetesError("failed to create dynamic client: %v", err)
	}
	return dc, nil
}

func resourceCtx(ctx context.Context, kind, namespace, name string) context.Context {
	ctx = logger.WithResourceKind(ctx, kind)
	if namespace != "" {
		ctx = logger.WithNamespace(ctx, namespace)
	}
	if name != "" {
		ctx = logger.WithResourceName(ctx, name)
	}
	return ctx
}

// CreateResource creates a Kubernetes resource from an unstructured object.
// AlreadyExists errors are returned unwrapped.
func (c *Client) CreateResource(ctx context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	gvk := obj.GroupVersionKind()
	namespace := obj.GetNamespace()
	name := obj.GetName()
	ctx = resourceCtx(ctx, gvk.Kind, namespace, name)

	c.log.Info(ctx, "Creating resource")

	if err := c.client.Create(ctx, obj); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return nil, err
		}
		return nil, errors.KubernetesError("failed to create resource %s/%s (namespace: %s): %v", gvk.Kind, name, namespace, err)
	}

	c.log.Info(ctx, "Successfully created resource")
	return obj, nil
}

// GetResource retrieves a resource by GVK, namespace, and name.
// NotFound errors are returned unwrapped so callers can check for them.
func (c *Client) GetResource(ctx context.Context, gvk schema.GroupVersionKind, namespace, name string) (*unstructured.Unstructured, error) {
	ctx = resourceCtx(ctx, gvk.Kind, namespace, name)
	c.log.Debug(ctx, "Getting resource")

	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(gvk)

	key := types.NamespacedName{
		Name:      name,
		Namespace: namespace,
	}
	if err := c.client.Get(ctx, key, obj); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, err
		}
		return nil, errors.KubernetesError("failed to get resource %s/%s (namespace: %s): %v", gvk.Kind, name, namespace, err)
	}
	return obj, nil
}

// ListResources lists resources by GVK, namespace, and label selector
func (c *Client) ListResources(ctx context.Context, gvk schema.GroupVersionKind, namespace string, labelSelector string) (*unstructured.UnstructuredList, error) {
	ctx = resourceCtx(ctx, gvk.Kind, namespace, "")
	c.log.Debugf(ctx, "Listing resources (selector: %q)", labelSelector)

	list := &unstructured.UnstructuredList{}
	list.SetGroupVersionKind(gvk)

	opts := []client.ListOption{}
	if namespace != "" {
		opts = append(opts, client.InNamespace(namespace))
	}
	if labelSelector != "" {
		selector, err := metav1.ParseToLabelSelector(labelSelector)
		if err != nil {
			return nil, errors.Validation("invalid label selector %s: %v", labelSelector, err)
		}
		labelMap, err := metav1.LabelSelectorAsSelector(selector)
		if err != nil {
			return nil, errors.Validation("failed to convert label selector: %v", err)
		}
		opts = append(opts, client.MatchingLabelsSelector{Selector: labelMap})
	}

	if err := c.client.List(ctx, list, opts...); err != nil {
		return nil, errors.KubernetesError("failed to list resources %s (namespace: %s, selector: %s): %v", gvk.Kind, namespace, labelSelector, err)
	}

	c.log.Debugf(ctx, "Listed %d items", len(list.Items))
	return list, nil
}

// UpdateResource replaces an existing resource entirely. The object needs a
// current resourceVersion; a stale one yields a Conflict error.
func (c *Client) UpdateResource(ctx context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	gvk := obj.GroupVersionKind()
	namespace := obj.GetNamespace()
	name := obj.GetName()
	ctx = resourceCtx(ctx, gvk.Kind, namespace, name)

	c.log.Info(ctx, "Updating resource")

	if err := c.client.Update(ctx, obj); err != nil {
		if apierrors.IsConflict(err) {
			return nil, errors.Conflict("update conflict for %s/%s (namespace: %s): resource version mismatch", gvk.Kind, name, namespace)
		}
		if apierrors.IsNotFound(err) {
			return nil, err
		}
		return nil, errors.KubernetesError("failed to update resource %s/%s (namespace: %s): %v", gvk.Kind, name, namespace, err)
	}

	c.log.Info(ctx, "Successfully updated resource")
	return obj, nil
}

// DeleteResource deletes a resource. Deleting a missing resource succeeds.
func (c *Client) DeleteResource(ctx context.Context, gvk schema.GroupVersionKind, namespace, name string) error {
	ctx = resourceCtx(ctx, gvk.Kind, namespace, name)
	c.log.Info(ctx, "Deleting resource")

	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(gvk)
	obj.SetNamespace(namespace)
	obj.SetName(name)

	if err := c.client.Delete(ctx, obj); err != nil {
		if apierrors.IsNotFound(err) {
			c.log.Info(ctx, "Resource already deleted")
			return nil
		}
		return errors.KubernetesError("failed to delete resource %s/%s (namespace: %s): %v", gvk.Kind, name, namespace, err)
	}

	c.log.Info(ctx, "Successfully deleted resource")
	return nil
}

// PatchResource applies a JSON merge patch and returns the patched resource.
//
//	patched, err := client.PatchResource(ctx, gvk, "org", "c1", []byte(`{"metadata":{"labels":{"team":"a"}}}`))
func (c *Client) PatchResource(ctx context.Context, gvk schema.GroupVersionKind, namespace, name string, patchData []byte) (*unstructured.Unstructured, error) {
	ctx = resourceCtx(ctx, gvk.Kind, namespace, name)
	c.log.Info(ctx, "Patching resource")

	var patchObj map[string]interface{}
	if err := json.Unmarshal(patchData, &patchObj); err != nil {
		return nil, errors.Validation("invalid patch data: %v", err)
	}

	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(gvk)
	obj.SetNamespace(namespace)
	obj.SetName(name)

	patch := client.RawPatch(types.MergePatchType, patchData)
	if err := c.client.Patch(ctx, obj, patch); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, err
		}
		return nil, errors.KubernetesError("failed to patch resource %s/%s (namespace: %s): %v", gvk.Kind, name, namespace, err)
	}

	c.log.Info(ctx, "Successfully patched resource")
	return obj, nil
}
