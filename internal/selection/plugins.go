package selection

import (
	"context"

	"github.com/cloudoperators/greenhouse-mirror/internal/k8s_client"
	"github.com/cloudoperators/greenhouse-mirror/internal/mirror"
	"github.com/cloudoperators/greenhouse-mirror/pkg/logger"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// ByLabel returns a FetchFunc listing resources of gvk whose labelKey label
// equals the selected key, e.g. Plugins with greenhouse.sap/cluster=<cluster>.
// Items without a name are skipped.
func ByLabel(client k8s_client.K8sClient, gvk schema.GroupVersionKind, namespace, labelKey string, log logger.Logger) FetchFunc {
	return func(ctx context.Context, key string) (mirror.Collection, error) {
		selector := k8s_client.BuildLabelSelector(map[string]string{labelKey: key})
		list, err := client.ListResources(ctx, gvk, namespace, selector)
		if err != nil {
			return nil, err
		}

		items := make(mirror.Collection, 0, len(list.Items))
		for i := range list.Items {
			r, err := mirror.FromUnstructured(&list.Items[i])
			if err != nil {
				log.Warn(logger.WithErrorField(ctx, err), "Skipping unnamed item in selection result")
				continue
			}
			items = append(items, r)
		}
		return items, nil
	}
}
