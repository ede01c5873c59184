package client_factory

import (
	"context"

	"github.com/cloudoperators/greenhouse-mirror/internal/config_loader"
	"github.com/cloudoperators/greenhouse-mirror/internal/k8s_client"
	"github.com/cloudoperators/greenhouse-mirror/pkg/logger"
	"github.com/cloudoperators/greenhouse-mirror/pkg/version"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
)

// Clients are the Kubernetes clients of one session. Both share RestConfig.
type Clients struct {
	RestConfig *rest.Config
	// CRUD serves writes and the selection fetch
	CRUD *k8s_client.Client
	// Dynamic runs the watch feeds
	Dynamic dynamic.Interface
}

// CreateK8sClients creates the CRUD and watch clients from the config
func CreateK8sClients(ctx context.Context, k8sConfig config_loader.KubernetesConfig, log logger.Logger) (*Clients, error) {
	restConfig, err := k8s_client.RestConfig(ctx, k8s_client.ClientConfig{
		KubeConfigPath: k8sConfig.KubeConfigPath,
		QPS:            k8sConfig.QPS,
		Burst:          k8sConfig.Burst,
	}, log)
	if err != nil {
		return nil, err
	}
	restConfig.UserAgent = version.UserAgent()

	crud, err := k8s_client.NewClientFromConfig(restConfig, log)
	if err != nil {
		return nil, err
	}
	dc, err := k8s_client.NewDynamicClient(restConfig)
	if err != nil {
		return nil, err
	}
	return &Clients{RestConfig: restConfig, CRUD: crud, Dynamic: dc}, nil
}
