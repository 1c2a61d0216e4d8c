package sandbox

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vulnzero/remediation-engine/pkg/domain"
	"github.com/vulnzero/remediation-engine/pkg/domain/errors"
	"github.com/vulnzero/remediation-engine/pkg/logger"
	"github.com/vulnzero/remediation-engine/pkg/runner"
)

// DockerRuntime drives sandbox containers through the docker CLI.
type DockerRuntime struct {
	runner runner.CommandRunner
	logger zerolog.Logger
}

var _ ContainerRuntime = (*DockerRuntime)(nil)

// NewDockerRuntime creates a docker-CLI-backed runtime.
func NewDockerRuntime(r runner.CommandRunner) *DockerRuntime {
	if r == nil {
		r = &runner.DefaultCommandRunner{}
	}
	return &DockerRuntime{
		runner: r,
		logger: logger.Component("docker_runtime"),
	}
}

// CheckDockerInstalled reports whether the docker CLI is available.
func CheckDockerInstalled() error {
	if !runner.LookPath("docker") {
		return errors.Newf(errors.CodeContainerRuntime, "sandbox",
			"docker executable not found in PATH")
	}
	return nil
}

func (d *DockerRuntime) StartContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	args := []string{"docker", "run", "-d"}
	if spec.Name != "" {
		args = append(args, "--name", spec.Name)
	}
	for k, v := range spec.Labels {
		args = append(args, "--label", k+"="+v)
	}
	if spec.CPULimit > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(spec.CPULimit, 'f', -1, 64))
	}
	if spec.MemoryLimitMB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", spec.MemoryLimitMB))
	}
	if spec.Network != "" {
		args = append(args, "--network", spec.Network)
	}
	args = append(args, spec.Image, "sh", "-c", "while true; do sleep 3600; done")

	stdout, stderr, exitCode, err := d.runner.RunDemuxed(ctx, "", args...)
	if err != nil {
		return "", errors.New(errors.CodeContainerRuntime, "sandbox", "docker run failed to execute", err)
	}
	if exitCode != 0 {
		return "", errors.Newf(errors.CodeContainerRuntime, "sandbox",
			"docker run failed: %s", strings.TrimSpace(stderr))
	}

	id := strings.TrimSpace(stdout)
	d.logger.Info().Str("container_id", shortID(id)).Str("image", spec.Image).Msg("sandbox container started")
	return id, nil
}

func (d *DockerRuntime) Exec(ctx context.Context, containerID, command string) (domain.ExecResult, error) {
	stdout, stderr, exitCode, err := d.runner.RunDemuxed(ctx, "",
		"docker", "exec", containerID, "sh", "-c", command)
	if err != nil {
		return domain.ExecResult{}, errors.New(errors.CodeContainerRuntime, "sandbox", "docker exec failed to execute", err)
	}
	return domain.ExecResult{
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
	}, nil
}

func (d *DockerRuntime) CopyContent(ctx context.Context, containerID, path, content string) error {
	cmd := fmt.Sprintf("cat > %s && chmod 755 %s", path, path)
	_, stderr, exitCode, err := d.runner.RunDemuxed(ctx, content,
		"docker", "exec", "-i", containerID, "sh", "-c", cmd)
	if err != nil {
		return errors.New(errors.CodeContainerRuntime, "sandbox", "docker exec (copy) failed to execute", err)
	}
	if exitCode != 0 {
		return errors.Newf(errors.CodeContainerRuntime, "sandbox",
			"failed to copy content into container: %s", strings.TrimSpace(stderr))
	}
	return nil
}

func (d *DockerRuntime) Logs(ctx context.Context, containerID string, tail int) (string, error) {
	out, err := d.runner.RunCommand(ctx, "docker", "logs", "--tail", strconv.Itoa(tail), "--timestamps", containerID)
	if err != nil {
		return "", errors.New(errors.CodeContainerRuntime, "sandbox", "docker logs failed", err)
	}
	return out, nil
}

func (d *DockerRuntime) StopContainer(ctx context.Context, containerID string) error {
	if _, err := d.runner.RunCommand(ctx, "docker", "stop", "-t", "5", containerID); err != nil {
		return errors.New(errors.CodeContainerRuntime, "sandbox", "docker stop failed", err)
	}
	return nil
}

func (d *DockerRuntime) RemoveContainer(ctx context.Context, containerID string) error {
	if _, err := d.runner.RunCommand(ctx, "docker", "rm", "-f", "-v", containerID); err != nil {
		return errors.New(errors.CodeContainerRuntime, "sandbox", "docker rm failed", err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
