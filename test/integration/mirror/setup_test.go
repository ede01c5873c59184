package mirror_integration

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cloudoperators/greenhouse-mirror/internal/k8s_client"
	"github.com/cloudoperators/greenhouse-mirror/pkg/constants"
	"github.com/cloudoperators/greenhouse-mirror/pkg/logger"
	"github.com/cloudoperators/greenhouse-mirror/test/integration/testutil"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
)

const (
	// EnvtestAPIServerPort is the port the kube-apiserver listens on
	EnvtestAPIServerPort = "6443/tcp"
	// EnvtestReadyLog is logged by the envtest image once the API server runs
	EnvtestReadyLog = "Envtest is running"
	// EnvtestBearerToken authenticates against the envtest API server
	EnvtestBearerToken = "test-token"
	// EnvEnvtestImage names the envtest image to run
	EnvEnvtestImage = "INTEGRATION_ENVTEST_IMAGE"

	testNamespace = "default"
)

var crdGVK = schema.GroupVersionKind{Group: "apiextensions.k8s.io", Version: "v1", Kind: "CustomResourceDefinition"}

// TestEnv is the API server shared by the package's tests.
type TestEnv struct {
	api     *testutil.APIServer
	Config  *rest.Config
	Client  *k8s_client.Client
	Dynamic dynamic.Interface
	Log     logger.Logger
}

// Cleanup terminates the container. Safe on a nil env.
func (e *TestEnv) Cleanup() {
	if e == nil {
		return
	}
	e.api.Terminate()
}

func setupSharedTestEnv() (*TestEnv, error) {
	ctx := context.Background()
	log := logger.NewTestLogger()

	image := os.Getenv(EnvEnvtestImage)
	if image == "" {
		return nil, fmt.Errorf("%s environment variable is not set", EnvEnvtestImage)
	}

	api, err := testutil.StartAPIServer(testutil.APIServerConfig{
		Image:    image,
		Port:     EnvtestAPIServerPort,
		ReadyLog: EnvtestReadyLog,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to start envtest container: %w", err)
	}

	host := api.URL()
	if err := waitForAPIServerReady(host, 30*time.Second); err != nil {
		api.Terminate()
		return nil, err
	}

	restConfig := &rest.Config{
		Host:            host,
		BearerToken:     EnvtestBearerToken,
		TLSClientConfig: rest.TLSClientConfig{Insecure: true},
	}
	client, err := k8s_client.NewClientFromConfig(restConfig, log)
	if err != nil {
		api.Terminate()
		return nil, err
	}
	dc, err := k8s_client.NewDynamicClient(restConfig)
	if err != nil {
		api.Terminate()
		return nil, err
	}

	env := &TestEnv{api: api, Config: restConfig, Client: client, Dynamic: dc, Log: log}
	for _, crd := range []struct{ kind, plural string }{
		{constants.KindCluster, "clusters"},
		{constants.KindPlugin, "plugins"},
	} {
		if err := env.installCRD(ctx, crd.kind, crd.plural); err != nil {
			api.Terminate()
			return nil, err
		}
	}
	return env, nil
}

// installCRD registers a schemaless namespaced Greenhouse kind and waits
// until it is served.
func (e *TestEnv) installCRD(ctx context.Context, kind, plural string) error {
	crd := &unstructured.Unstructured{Object: map[string]interface{}{
		"metadata": map[string]interface{}{"name": plural + "." + constants.GreenhouseGroup},
		"spec": map[string]interface{}{
			"group": constants.GreenhouseGroup,
			"scope": "Namespaced",
			"names": map[string]interface{}{
				"kind":     kind,
				"listKind": kind + "List",
				"plural":   plural,
				"singular": strings.ToLower(kind),
			},
			"versions": []interface{}{
				map[string]interface{}{
					"name":    constants.GreenhouseVersion,
					"served":  true,
					"storage": true,
					"schema": map[string]interface{}{
						"openAPIV3Schema": map[string]interface{}{
							"type":                                 "object",
							"x-kubernetes-preserve-unknown-fields": true,
						},
					},
				},
			},
		},
	}}
	crd.SetGroupVersionKind(crdGVK)
	if _, err := e.Client.CreateResource(ctx, crd); err != nil {
		return fmt.Errorf("failed to create CRD for %s: %w", kind, err)
	}

	gvr := schema.GroupVersionResource{Group: constants.GreenhouseGroup, Version: constants.GreenhouseVersion, Resource: plural}
	deadline := time.Now().Add(30 * time.Second)
	for {
		_, err := e.Dynamic.Resource(gvr).Namespace(testNamespace).List(ctx, metav1.ListOptions{})
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("CRD for %s not served: %w", kind, err)
		}
		time.Sleep(250 * time.Millisecond)
	}
}

func waitForAPIServerReady(host string, timeout time.Duration) error {
	client := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true, //nolint:gosec // envtest serves a self-signed certificate
			},
		},
	}

	deadline := time.Now().Add(timeout)
	for {
		req, err := http.NewRequest(http.MethodGet, host+"/healthz", nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+EnvtestBearerToken)
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			err = fmt.Errorf("status %d", resp.StatusCode)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("API server not ready after %v: %w", timeout, err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}
