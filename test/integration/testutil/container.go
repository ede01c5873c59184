// Package testutil runs the API server container shared by integration tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/cloudoperators/greenhouse-mirror/pkg/logger"
	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// APIServerConfig describes an envtest-style image serving a kube-apiserver.
type APIServerConfig struct {
	Image string
	// Port is the secure API port inside the container, e.g. "6443/tcp"
	Port nat.Port
	// ReadyLog is printed by the image once etcd and the API server are up
	ReadyLog string

	// StartTimeout bounds one start attempt (default 3m)
	StartTimeout time.Duration
	// Attempts is the number of start attempts (default 3)
	Attempts int
}

// APIServer is a running API server container. It is started once per
// package in TestMain and terminated after m.Run.
type APIServer struct {
	container testcontainers.Container
	endpoint  string
	log       logger.Logger
}

// URL returns the https address of the API server on the host.
func (a *APIServer) URL() string {
	return "https://" + a.endpoint
}

// Terminate removes the container, falling back to the docker/podman CLI
// when the provider cannot. Safe on nil.
func (a *APIServer) Terminate() {
	if a == nil || a.container == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := a.container.Terminate(ctx); err != nil {
		a.log.Warnf(logger.WithErrorField(ctx, err), "Failed to terminate API server container %s", a.container.GetContainerID())
		forceRemove(ctx, a.log, a.container.GetContainerID())
		return
	}
	a.log.Info(ctx, "API server container removed")
}

// StartAPIServer starts the container and waits for the ready log and the
// mapped port. Failed attempts are removed before the next one.
func StartAPIServer(cfg APIServerConfig, log logger.Logger) (*APIServer, error) {
	if cfg.StartTimeout == 0 {
		cfg.StartTimeout = 3 * time.Minute
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        cfg.Image,
		ExposedPorts: []string{string(cfg.Port)},
		Env: map[string]string{
			"HTTP_PROXY":  os.Getenv("HTTP_PROXY"),
			"HTTPS_PROXY": os.Getenv("HTTPS_PROXY"),
			"NO_PROXY":    os.Getenv("NO_PROXY"),
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort(cfg.Port).WithPollInterval(500*time.Millisecond),
			wait.ForLog(cfg.ReadyLog).WithPollInterval(500*time.Millisecond),
		).WithDeadline(cfg.StartTimeout),
	}

	var container testcontainers.Container
	var err error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		log.Infof(ctx, "Starting API server container %s (attempt %d/%d)", cfg.Image, attempt, cfg.Attempts)

		attemptCtx, cancel := context.WithTimeout(ctx, cfg.StartTimeout)
		container, err = testcontainers.GenericContainer(attemptCtx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
		cancel()
		if err == nil {
			break
		}
		log.Warnf(logger.WithErrorField(ctx, err), "API server container attempt %d failed", attempt)
		if container != nil {
			_ = container.Terminate(ctx)
		}
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("API server container did not start after %d attempts: %w", cfg.Attempts, err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get API server container host: %w", err)
	}
	mapped, err := container.MappedPort(ctx, cfg.Port)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get mapped port %s: %w", cfg.Port, err)
	}

	api := &APIServer{container: container, endpoint: host + ":" + mapped.Port(), log: log}
	log.Infof(ctx, "API server container listening on %s", api.URL())
	return api, nil
}

func forceRemove(ctx context.Context, log logger.Logger, containerID string) {
	if containerID == "" {
		return
	}
	for _, runtime := range []string{"docker", "podman"} {
		if err := exec.CommandContext(ctx, runtime, "rm", "-f", containerID).Run(); err == nil {
			log.Infof(ctx, "Removed container %s with %s", containerID, runtime)
			return
		}
	}
	log.Errorf(ctx, "Could not remove container %s, remove it manually", containerID)
}
