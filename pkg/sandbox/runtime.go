// Package sandbox provisions isolated OS-image containers that mirror a
// target asset, rehearses candidate patches inside them and reports what
// changed.
package sandbox

import (
	"context"

	"github.com/vulnzero/remediation-engine/pkg/domain"
)

// ManagedLabel marks containers owned by the harness.
const ManagedLabel = "platform=digital-twin"

// ContainerSpec describes the sandbox container to start.
type ContainerSpec struct {
	Image  string
	Name   string
	Labels map[string]string
	// CPULimit in cores, MemoryLimitMB in megabytes.
	CPULimit      float64
	MemoryLimitMB int
	// Network is the container network mode; "none" isolates the sandbox.
	Network string
}

// ContainerRuntime is the generic container capability the harness depends
// on. Operations against different containers are safe concurrently; the
// harness serializes operations against the same container.
type ContainerRuntime interface {
	// StartContainer creates and starts a long-lived container, returning its id.
	StartContainer(ctx context.Context, spec ContainerSpec) (string, error)
	// Exec runs a shell command inside the container, demuxed.
	Exec(ctx context.Context, containerID string, command string) (domain.ExecResult, error)
	// CopyContent writes content to a path inside the container and makes it
	// executable.
	CopyContent(ctx context.Context, containerID, path, content string) error
	// Logs returns up to tail lines of container output.
	Logs(ctx context.Context, containerID string, tail int) (string, error)
	// StopContainer stops the container.
	StopContainer(ctx context.Context, containerID string) error
	// RemoveContainer force-removes the container and its volumes.
	RemoveContainer(ctx context.Context, containerID string) error
}
