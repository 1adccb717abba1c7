package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// DockerRuntime runs the server with the Docker Engine API.
type DockerRuntime struct {
	cli *client.Client
}

// NewDockerRuntime connects using the DOCKER_HOST environment, negotiating
// the API version with the daemon.
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &DockerRuntime{cli: cli}, nil
}

// Close releases Docker client resources.
func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}

// Ping verifies the Docker daemon is accessible.
func (r *DockerRuntime) Ping(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon not accessible: %w", err)
	}
	return nil
}

// DaemonVersion returns the engine's server version.
func (r *DockerRuntime) DaemonVersion(ctx context.Context) (string, error) {
	v, err := r.cli.ServerVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("docker version: %w", err)
	}
	return v.Version, nil
}

func (r *DockerRuntime) EnsureImage(ctx context.Context, ref string, progress io.Writer) error {
	_, err := r.cli.ImageInspect(ctx, ref)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("inspecting image %s: %w", ref, err)
	}

	reader, err := r.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", ref, err)
	}
	defer reader.Close()

	if progress == nil {
		progress = io.Discard
	}
	if _, err := io.Copy(progress, reader); err != nil {
		return fmt.Errorf("pulling image %s: %w", ref, err)
	}
	return nil
}

func (r *DockerRuntime) Create(ctx context.Context, spec Spec) (string, error) {
	port, err := nat.NewPort("tcp", strconv.Itoa(spec.Port))
	if err != nil {
		return "", fmt.Errorf("server port: %w", err)
	}
	resp, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        spec.Image,
			Env:          spec.Env,
			Labels:       spec.Labels,
			ExposedPorts: nat.PortSet{port: struct{}{}},
		},
		&container.HostConfig{
			NetworkMode: "bridge",
			PortBindings: nat.PortMap{
				port: []nat.PortBinding{{HostIP: spec.HostIP, HostPort: ""}},
			},
		},
		nil,
		nil,
		spec.Name,
	)
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}
	return resp.ID, nil
}

func (r *DockerRuntime) Start(ctx context.Context, id string) error {
	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("starting container: %w", err)
	}
	return nil
}

func (r *DockerRuntime) HostPort(ctx context.Context, id string, containerPort int) (int, error) {
	inspect, err := r.cli.ContainerInspect(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("inspecting container: %w", err)
	}
	if inspect.NetworkSettings == nil {
		return 0, fmt.Errorf("container %s has no network settings", shortID(id))
	}
	port, err := nat.NewPort("tcp", strconv.Itoa(containerPort))
	if err != nil {
		return 0, err
	}
	for _, b := range inspect.NetworkSettings.Ports[port] {
		if p, err := strconv.Atoi(b.HostPort); err == nil && p > 0 {
			return p, nil
		}
	}
	return 0, fmt.Errorf("port %s of container %s is not published", port, shortID(id))
}

func (r *DockerRuntime) Running(ctx context.Context, id string) (bool, error) {
	inspect, err := r.cli.ContainerInspect(ctx, id)
	if err != nil {
		return false, fmt.Errorf("inspecting container: %w", err)
	}
	return inspect.State != nil && inspect.State.Running, nil
}

func (r *DockerRuntime) Logs(ctx context.Context, id string) ([]byte, error) {
	reader, err := r.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, fmt.Errorf("getting container logs: %w", err)
	}
	defer reader.Close()

	// Created without a TTY, so the stream is multiplexed.
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil {
		return nil, fmt.Errorf("demuxing logs: %w", err)
	}
	return append(stdout.Bytes(), stderr.Bytes()...), nil
}

func (r *DockerRuntime) Remove(ctx context.Context, id string) error {
	if err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("removing container: %w", err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
