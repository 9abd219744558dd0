package runtime

import (
	"context"
	"strings"
	"testing"

	"github.com/ikido/fleetctl/internal/fleetconfig"
)

func TestDockerRunCommand_MountsWorkspaceAndImage(t *testing.T) {
	agent := fleetconfig.Agent{
		Name:        "coder",
		UseDocker:   true,
		DockerImage: "fleetctl/agent-runtime:latest",
	}
	opts := ExecuteOptions{WorkingDirectory: "/repos/coder-job-1"}

	cmd := dockerRunCommand(context.Background(), agent, opts)

	if cmd.Path == "" || !strings.HasSuffix(cmd.Path, "docker") {
		t.Fatalf("expected a docker binary, got %q", cmd.Path)
	}
	joined := strings.Join(cmd.Args, " ")
	if !strings.Contains(joined, "-v /repos/coder-job-1:/workspace") {
		t.Fatalf("expected workspace bind mount, got args %v", cmd.Args)
	}
	if !strings.Contains(joined, "-w /workspace") {
		t.Fatalf("expected workdir flag, got args %v", cmd.Args)
	}
	if !strings.HasSuffix(joined, "fleetctl/agent-runtime:latest agent-runtime --acp") {
		t.Fatalf("expected image and runtime command as trailing args, got %v", cmd.Args)
	}
}

func TestDockerRunCommand_AppliesNetworkFromAgentEnv(t *testing.T) {
	agent := fleetconfig.Agent{
		Name:        "coder",
		UseDocker:   true,
		DockerImage: "fleetctl/agent-runtime:latest",
		Env:         map[string]string{"FLEETD_DOCKER_NETWORK": "fleet-net"},
	}
	opts := ExecuteOptions{WorkingDirectory: "/repos/coder-job-1"}

	cmd := dockerRunCommand(context.Background(), agent, opts)

	joined := strings.Join(cmd.Args, " ")
	if !strings.Contains(joined, "--network fleet-net") {
		t.Fatalf("expected --network fleet-net, got args %v", cmd.Args)
	}
}

func TestDockerRunCommand_OmitsNetworkWhenUnset(t *testing.T) {
	agent := fleetconfig.Agent{Name: "coder", UseDocker: true, DockerImage: "fleetctl/agent-runtime:latest"}
	opts := ExecuteOptions{WorkingDirectory: "/repos/coder-job-1"}

	cmd := dockerRunCommand(context.Background(), agent, opts)

	if strings.Contains(strings.Join(cmd.Args, " "), "--network") {
		t.Fatalf("expected no --network flag, got args %v", cmd.Args)
	}
}

func TestSubprocessAdapter_Discriminator(t *testing.T) {
	plain := &subprocessAdapter{agent: fleetconfig.Agent{Model: "sonnet"}}
	if got := plain.Discriminator(); got != "acp-subprocess:sonnet" {
		t.Fatalf("expected acp-subprocess:sonnet, got %q", got)
	}

	dockerised := &subprocessAdapter{agent: fleetconfig.Agent{Model: "sonnet", UseDocker: true}}
	if got := dockerised.Discriminator(); got != "acp-subprocess-docker:sonnet" {
		t.Fatalf("expected acp-subprocess-docker:sonnet, got %q", got)
	}
	if !dockerised.RunsInDocker() {
		t.Fatal("expected RunsInDocker true when agent.UseDocker is set")
	}
	if plain.RunsInDocker() {
		t.Fatal("expected RunsInDocker false by default")
	}
}

func TestRuntimeCommandName_DefaultsAndOverrides(t *testing.T) {
	if got := runtimeCommandName(fleetconfig.Agent{}); got != "agent-runtime" {
		t.Fatalf("expected default agent-runtime, got %q", got)
	}
	overridden := fleetconfig.Agent{Env: map[string]string{"FLEETD_RUNTIME_COMMAND": "custom-cli"}}
	if got := runtimeCommandName(overridden); got != "custom-cli" {
		t.Fatalf("expected custom-cli override, got %q", got)
	}
}
