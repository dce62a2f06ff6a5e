package runtime

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/opengantry/gantry/pkg/compose"
	"github.com/opengantry/gantry/pkg/engine"
	"github.com/opengantry/gantry/pkg/telemetry"
)

// containerPrefix prefixes every managed container name.
const containerPrefix = "gantry_"

// DockerRuntime implements engine.Runtime against the local Docker daemon.
type DockerRuntime struct {
	docker *dockerclient.Client
	logger *telemetry.Logger
}

// NewDockerRuntime creates a runtime client for the local daemon, honoring
// the standard DOCKER_* environment.
func NewDockerRuntime(logger *telemetry.Logger) (*DockerRuntime, error) {
	client, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return NewDockerRuntimeWithClient(client, logger), nil
}

// NewDockerRuntimeWithClient wraps an existing client.
func NewDockerRuntimeWithClient(client *dockerclient.Client, logger *telemetry.Logger) *DockerRuntime {
	return &DockerRuntime{
		docker: client,
		logger: logger.NewComponentLogger("runtime"),
	}
}

// Close releases the underlying client.
func (r *DockerRuntime) Close() error {
	return r.docker.Close()
}

// ListManaged returns every managed container with its service name, running
// state, and the content hash it was created with.
func (r *DockerRuntime) ListManaged(ctx context.Context) ([]engine.RunningService, error) {
	containers, err := r.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", compose.LabelManaged+"=true")),
	})
	if err != nil {
		return nil, engine.NewTransientError("container runtime query failed", err).
			WithCode(engine.ErrCodeDriftQueryFailed)
	}

	services := make([]engine.RunningService, 0, len(containers))
	for _, c := range containers {
		name := c.Labels[compose.LabelService]
		if name == "" {
			// Managed label without a service label is a foreign container.
			continue
		}
		services = append(services, engine.RunningService{
			Name:    name,
			Running: c.State == container.StateRunning,
			Hash:    c.Labels[compose.LabelHash],
		})
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
	return services, nil
}

// CreateService creates and starts a container from the descriptor. A
// container that starts failing is removed again so a retry begins clean.
func (r *DockerRuntime) CreateService(ctx context.Context, svc engine.ServiceDescriptor, hash string) error {
	config, hostConfig, err := descriptorToConfig(svc, hash)
	if err != nil {
		return err
	}

	resp, err := r.docker.ContainerCreate(ctx, config, hostConfig, nil, nil, containerPrefix+svc.Name)
	if err != nil {
		return fmt.Errorf("failed to create container for %s: %w", svc.Name, err)
	}
	if err := r.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = r.docker.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return fmt.Errorf("failed to start container for %s: %w", svc.Name, err)
	}
	r.logger.WithField("service", svc.Name).WithField("hash", hash).Info("Service created")
	return nil
}

// RestartService restarts the stopped container of a service.
func (r *DockerRuntime) RestartService(ctx context.Context, name string) error {
	id, err := r.findContainer(ctx, name)
	if err != nil {
		return err
	}
	if err := r.docker.ContainerRestart(ctx, id, container.StopOptions{}); err != nil {
		return fmt.Errorf("failed to restart %s: %w", name, err)
	}
	r.logger.WithField("service", name).Info("Service restarted")
	return nil
}

// RecreateService removes a hash-drifted container and creates it again from
// the current descriptor.
func (r *DockerRuntime) RecreateService(ctx context.Context, svc engine.ServiceDescriptor, hash string) error {
	if err := r.RemoveService(ctx, svc.Name); err != nil {
		return err
	}
	return r.CreateService(ctx, svc, hash)
}

// RemoveService force-removes the container of a service.
func (r *DockerRuntime) RemoveService(ctx context.Context, name string) error {
	id, err := r.findContainer(ctx, name)
	if err != nil {
		return err
	}
	if err := r.docker.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}
	r.logger.WithField("service", name).Info("Service removed")
	return nil
}

// findContainer resolves a service name to its container id via the
// management labels.
func (r *DockerRuntime) findContainer(ctx context.Context, name string) (string, error) {
	containers, err := r.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", compose.LabelService+"="+name)),
	})
	if err != nil {
		return "", engine.NewTransientError("container runtime query failed", err).
			WithCode(engine.ErrCodeDriftQueryFailed)
	}
	if len(containers) == 0 {
		return "", fmt.Errorf("no managed container for service %s", name)
	}
	return containers[0].ID, nil
}

// descriptorToConfig converts a descriptor into Docker create options.
func descriptorToConfig(svc engine.ServiceDescriptor, hash string) (*container.Config, *container.HostConfig, error) {
	exposed, bindings, err := nat.ParsePortSpecs(svc.Ports)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid port spec for %s: %w", svc.Name, err)
	}

	config := &container.Config{
		Image:        svc.Image,
		Env:          envList(svc.Environment),
		ExposedPorts: exposed,
		Labels: map[string]string{
			compose.LabelManaged: "true",
			compose.LabelService: svc.Name,
			compose.LabelHash:    hash,
		},
	}
	hostConfig := &container.HostConfig{
		PortBindings:  bindings,
		Binds:         svc.Volumes,
		RestartPolicy: restartPolicy(svc.Restart),
	}
	return config, hostConfig, nil
}

// envList flattens the environment map into sorted KEY=VALUE form.
func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func restartPolicy(policy string) container.RestartPolicy {
	switch strings.ToLower(policy) {
	case "always":
		return container.RestartPolicy{Name: container.RestartPolicyAlways}
	case "unless-stopped":
		return container.RestartPolicy{Name: container.RestartPolicyUnlessStopped}
	case "on-failure":
		return container.RestartPolicy{Name: container.RestartPolicyOnFailure, MaximumRetryCount: 3}
	default:
		return container.RestartPolicy{Name: container.RestartPolicyDisabled}
	}
}
