package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"
)

const chromeImage = "browserless/chrome:latest"

// DockerLauncher provisions Chrome runtimes as one-shot containers. Each
// session gets its own container bound to a random host port; the driver
// connects to it over the CDP websocket.
type DockerLauncher struct {
	client *client.Client
	logger *zap.Logger
}

func NewDockerLauncher(logger *zap.Logger) (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerLauncher{client: cli, logger: logger.Named("docker")}, nil
}

func (l *DockerLauncher) Launch(ctx context.Context, sessionID string) (*Runtime, error) {
	userDataDir := filepath.Join(os.TempDir(), "chrome-profile-"+sessionID)
	if err := os.MkdirAll(userDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	containerConfig := &container.Config{
		Image: chromeImage,
		Labels: map[string]string{
			"session-id": sessionID,
			"managed-by": "wellness-tokend",
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",
			"MAX_CONCURRENT_SESSIONS=1",
			"PREBOOT_CHROME=true",
			"KEEP_ALIVE=true",
		},
		ExposedPorts: nat.PortSet{
			"3000/tcp": struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			"3000/tcp": []nat.PortBinding{
				{HostIP: "0.0.0.0", HostPort: "0"},
			},
		},
		AutoRemove: false,
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: userDataDir, Target: "/data"},
		},
	}

	resp, err := l.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil,
		fmt.Sprintf("session-%s", sessionID[:8]))
	if err != nil {
		os.RemoveAll(userDataDir)
		return nil, fmt.Errorf("create container: %w", err)
	}

	if err := l.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		l.cleanup(resp.ID, userDataDir)
		return nil, fmt.Errorf("start container: %w", err)
	}

	inspect, err := l.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		l.cleanup(resp.ID, userDataDir)
		return nil, fmt.Errorf("inspect container: %w", err)
	}
	bindings := inspect.NetworkSettings.Ports["3000/tcp"]
	if len(bindings) == 0 {
		l.cleanup(resp.ID, userDataDir)
		return nil, fmt.Errorf("container %s has no published CDP port", resp.ID[:12])
	}
	port := bindings[0].HostPort

	if err := waitForCDP(ctx, port); err != nil {
		l.cleanup(resp.ID, userDataDir)
		return nil, fmt.Errorf("browser not ready: %w", err)
	}

	l.logger.Debug("chrome container started",
		zap.String("sessionId", sessionID),
		zap.String("containerId", resp.ID[:12]),
		zap.String("port", port))

	var stopOnce sync.Once
	return &Runtime{
		ConnectURL:  fmt.Sprintf("ws://localhost:%s", port),
		UserDataDir: userDataDir,
		stop: func(ctx context.Context) error {
			var err error
			stopOnce.Do(func() {
				timeout := 10
				if stopErr := l.client.ContainerStop(ctx, resp.ID,
					container.StopOptions{Timeout: &timeout}); stopErr != nil {
					err = fmt.Errorf("stop container: %w", stopErr)
				}
				if rmErr := l.client.ContainerRemove(ctx, resp.ID,
					container.RemoveOptions{Force: true}); rmErr != nil && err == nil {
					err = fmt.Errorf("remove container: %w", rmErr)
				}
				os.RemoveAll(userDataDir)
			})
			return err
		},
	}, nil
}

// EnsureImage pulls the Chrome image if it is not present locally. Called
// once at startup so the first request does not pay the pull.
func (l *DockerLauncher) EnsureImage(ctx context.Context) error {
	images, err := l.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == chromeImage {
				return nil
			}
		}
	}

	l.logger.Info("pulling chrome image", zap.String("image", chromeImage))
	reader, err := l.client.ImagePull(ctx, chromeImage, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (l *DockerLauncher) Close() error {
	return l.client.Close()
}

// cleanup tears down a half-launched runtime: the container and the profile
// directory created for it.
func (l *DockerLauncher) cleanup(containerID, userDataDir string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := l.client.ContainerRemove(ctx, containerID,
		container.RemoveOptions{Force: true}); err != nil {
		l.logger.Warn("failed to remove container",
			zap.String("containerId", containerID[:12]), zap.Error(err))
	}
	os.RemoveAll(userDataDir)
}

// waitForCDP polls the container's /json/version endpoint until the CDP
// websocket is accepting connections.
func waitForCDP(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://localhost:%s/json/version", port)
	deadline := time.Now().Add(10 * time.Second)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return nil
		}
	}
	return fmt.Errorf("CDP endpoint on port %s did not come up", port)
}
