package runtime

import (
	"testing"

	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/opengantry/gantry/pkg/compose"
	"github.com/opengantry/gantry/pkg/engine"
	"github.com/opengantry/gantry/pkg/telemetry"
)

func TestDescriptorToConfig(t *testing.T) {
	svc := engine.ServiceDescriptor{
		Name:  "qdrant",
		Tier:  engine.TierCore,
		Image: "qdrant/qdrant:v1.9.0",
		Ports: []string{"6333:6333"},
		Environment: map[string]string{
			"B_KEY": "2",
			"A_KEY": "1",
		},
		Volumes: []string{"qdrant_data:/qdrant/storage"},
		Restart: "unless-stopped",
	}

	config, hostConfig, err := descriptorToConfig(svc, "hash-abc")
	if err != nil {
		t.Fatal(err)
	}

	if config.Image != svc.Image {
		t.Errorf("image: %s", config.Image)
	}
	if config.Labels[compose.LabelManaged] != "true" ||
		config.Labels[compose.LabelService] != "qdrant" ||
		config.Labels[compose.LabelHash] != "hash-abc" {
		t.Errorf("management labels wrong: %v", config.Labels)
	}
	// Environment flattened in sorted key order.
	if len(config.Env) != 2 || config.Env[0] != "A_KEY=1" || config.Env[1] != "B_KEY=2" {
		t.Errorf("env: %v", config.Env)
	}

	port := nat.Port("6333/tcp")
	if _, ok := config.ExposedPorts[port]; !ok {
		t.Errorf("exposed ports: %v", config.ExposedPorts)
	}
	bindings := hostConfig.PortBindings[port]
	if len(bindings) != 1 || bindings[0].HostPort != "6333" {
		t.Errorf("port bindings: %v", hostConfig.PortBindings)
	}
	if len(hostConfig.Binds) != 1 || hostConfig.Binds[0] != "qdrant_data:/qdrant/storage" {
		t.Errorf("binds: %v", hostConfig.Binds)
	}
	if hostConfig.RestartPolicy.Name != container.RestartPolicyUnlessStopped {
		t.Errorf("restart policy: %v", hostConfig.RestartPolicy)
	}
}

// Close releases the client without ever having dialed the daemon, so a
// detection pass that fails before any call still cleans up.
func TestDockerRuntimeClose(t *testing.T) {
	client, err := dockerclient.NewClientWithOpts(dockerclient.WithHost("unix:///var/run/docker.sock"))
	if err != nil {
		t.Fatal(err)
	}
	logger, err := telemetry.NewLogger(telemetry.DefaultConfig().Logging)
	if err != nil {
		t.Fatal(err)
	}

	rt := NewDockerRuntimeWithClient(client, logger)
	if err := rt.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
}

func TestDescriptorToConfigBadPort(t *testing.T) {
	svc := engine.ServiceDescriptor{Name: "x", Image: "i", Ports: []string{"not-a-port"}}
	if _, _, err := descriptorToConfig(svc, "h"); err == nil {
		t.Error("expected port parse failure")
	}
}

func TestRestartPolicy(t *testing.T) {
	cases := map[string]container.RestartPolicyMode{
		"always":         container.RestartPolicyAlways,
		"unless-stopped": container.RestartPolicyUnlessStopped,
		"on-failure":     container.RestartPolicyOnFailure,
		"":               container.RestartPolicyDisabled,
		"no":             container.RestartPolicyDisabled,
	}
	for in, want := range cases {
		if got := restartPolicy(in); got.Name != want {
			t.Errorf("restartPolicy(%q) = %v, want %v", in, got.Name, want)
		}
	}
}
