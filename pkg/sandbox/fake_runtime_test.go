package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/vulnzero/remediation-engine/pkg/domain"
	"github.com/vulnzero/remediation-engine/pkg/domain/errors"
)

// fakeRuntime simulates a container runtime in memory. Command handling is
// table-driven: the first handler whose substring matches the command answers.
type fakeRuntime struct {
	mu sync.Mutex

	started []string
	removed []string
	running map[string]bool
	copied  map[string]string

	startErr error
	execErr  error

	// handlers answer exec commands; checked in order.
	handlers []fakeHandler
	// patchExitCode is returned for patch script invocations.
	patchExitCode int
	patchStderr   string
	// packageAnswers lets tests vary the dpkg answer per capture phase.
	packageAnswers []string
	packageCalls   int
}

type fakeHandler struct {
	substr string
	result domain.ExecResult
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		running: make(map[string]bool),
		copied:  make(map[string]string),
	}
}

func (f *fakeRuntime) StartContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	id := fmt.Sprintf("container-%d", len(f.started)+1)
	f.started = append(f.started, id)
	f.running[id] = true
	return id, nil
}

func (f *fakeRuntime) Exec(ctx context.Context, containerID, command string) (domain.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return domain.ExecResult{}, err
	}
	if !f.running[containerID] {
		return domain.ExecResult{}, errors.Newf(errors.CodeContainerRuntime, "sandbox", "container %s not running", containerID)
	}

	// Patch / rollback invocation.
	if strings.Contains(command, "/tmp/patch_script.sh") || strings.Contains(command, "/tmp/rollback_script.sh") {
		if f.execErr != nil {
			return domain.ExecResult{}, f.execErr
		}
		return domain.ExecResult{ExitCode: f.patchExitCode, Stdout: "patched", Stderr: f.patchStderr}, nil
	}

	// Phased package answers.
	if strings.Contains(command, "dpkg-query") {
		answer := ""
		if len(f.packageAnswers) > 0 {
			idx := f.packageCalls
			if idx >= len(f.packageAnswers) {
				idx = len(f.packageAnswers) - 1
			}
			answer = f.packageAnswers[idx]
			f.packageCalls++
		}
		return domain.ExecResult{ExitCode: 0, Stdout: answer}, nil
	}

	for _, h := range f.handlers {
		if strings.Contains(command, h.substr) {
			return h.result, nil
		}
	}
	// Default: command exists and succeeds quietly.
	return domain.ExecResult{ExitCode: 0, Stdout: "ok"}, nil
}

func (f *fakeRuntime) CopyContent(ctx context.Context, containerID, path, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running[containerID] {
		return errors.Newf(errors.CodeContainerRuntime, "sandbox", "container %s not running", containerID)
	}
	f.copied[path] = content
	return nil
}

func (f *fakeRuntime) Logs(ctx context.Context, containerID string, tail int) (string, error) {
	return "container log line\n", nil
}

func (f *fakeRuntime) StopContainer(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[containerID] = false
	return nil
}

func (f *fakeRuntime) RemoveContainer(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, containerID)
	f.removed = append(f.removed, containerID)
	return nil
}

// leaked reports containers started but never removed.
func (f *fakeRuntime) leaked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	removed := make(map[string]bool, len(f.removed))
	for _, id := range f.removed {
		removed[id] = true
	}
	var out []string
	for _, id := range f.started {
		if !removed[id] {
			out = append(out, id)
		}
	}
	return out
}
