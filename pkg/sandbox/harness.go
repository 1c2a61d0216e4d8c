package sandbox

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vulnzero/remediation-engine/pkg/domain"
	"github.com/vulnzero/remediation-engine/pkg/domain/errors"
	"github.com/vulnzero/remediation-engine/pkg/logger"
	"github.com/vulnzero/remediation-engine/pkg/metrics"
)

const (
	patchPath    = "/tmp/patch_script.sh"
	rollbackPath = "/tmp/rollback_script.sh"
	logTailLines = 100
)

// Config tunes the harness.
type Config struct {
	CPULimit      float64
	MemoryLimitMB int
	// ProvisionTimeout bounds container start, ExecTimeout a single patch run,
	// TestTimeout the whole test.
	ProvisionTimeout time.Duration
	ExecTimeout      time.Duration
	TestTimeout      time.Duration
	// ProbeIdempotency reruns the patch and requires a clean second run.
	ProbeIdempotency bool
	// ProbeRollback applies the rollback and requires the target package version
	// to return to its pre-patch value.
	ProbeRollback bool
	// AllowNetwork keeps the container on the default bridge; otherwise the
	// sandbox gets no network.
	AllowNetwork bool
}

// DefaultConfig returns the standard sandbox constraints.
func DefaultConfig() Config {
	return Config{
		CPULimit:         2,
		MemoryLimitMB:    4096,
		ProvisionTimeout: 60 * time.Second,
		ExecTimeout:      10 * time.Minute,
		TestTimeout:      30 * time.Minute,
	}
}

// Harness provisions a sandbox matching an asset, rehearses a patch in it and
// emits a SandboxTest. The container is destroyed on every exit path.
type Harness struct {
	runtime  ContainerRuntime
	config   Config
	analyzer *Analyzer
	logger   zerolog.Logger

	// Operations against the same container are serialized.
	containerMu sync.Map // containerID -> *sync.Mutex
}

// NewHarness creates a harness over a container runtime.
func NewHarness(rt ContainerRuntime, config Config) *Harness {
	if config.ProvisionTimeout == 0 {
		config = DefaultConfig()
	}
	return &Harness{
		runtime:  rt,
		config:   config,
		analyzer: NewAnalyzer(),
		logger:   logger.Component("sandbox_harness"),
	}
}

// RunTest executes the full sandbox lifecycle for one patch on one asset.
// Harness errors are reported in the returned SandboxTest with status errored;
// the error return carries the cause for the caller's log.
func (h *Harness) RunTest(ctx context.Context, artifact *domain.PatchArtifact, asset *domain.Asset) (*domain.SandboxTest, error) {
	started := time.Now().UTC()
	image, imageKey := SelectImage(asset.OSFamily, asset.OSVersion)

	test := &domain.SandboxTest{
		ID:        "test_" + uuid.New().String()[:8],
		PatchID:   artifact.ID,
		AssetID:   asset.ID,
		ImageKey:  imageKey,
		Status:    domain.TestErrored,
		StartedAt: started,
	}

	ctx, cancel := context.WithTimeout(ctx, h.config.TestTimeout)
	defer cancel()

	err := h.runLifecycle(ctx, test, artifact, asset, image)

	test.CompletedAt = time.Now().UTC()
	metrics.SandboxTests.WithLabelValues(string(test.Status)).Inc()
	metrics.SandboxTestDuration.Observe(test.CompletedAt.Sub(started).Seconds())

	if err != nil {
		h.logger.Error().Err(err).Str("test_id", test.ID).Msg("sandbox test errored")
		return test, err
	}
	h.logger.Info().
		Str("test_id", test.ID).
		Str("status", string(test.Status)).
		Float64("confidence", test.Confidence).
		Msg("sandbox test complete")
	return test, nil
}

func (h *Harness) runLifecycle(ctx context.Context, test *domain.SandboxTest, artifact *domain.PatchArtifact, asset *domain.Asset, image string) (err error) {
	// Provision.
	containerID, err := h.provision(ctx, test, image)
	if err != nil {
		test.Issues = append(test.Issues, "provisioning failed: "+err.Error())
		return err
	}

	// Cleanup is unconditional: panics, timeouts and cancellation all pass
	// through here before RunTest returns.
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.CodeInternalError, "sandbox", "panic during sandbox test: %v", r)
			test.Status = domain.TestErrored
			test.Issues = append(test.Issues, err.Error())
		}
		h.cleanup(containerID)
	}()

	lock := h.lockContainer(containerID)
	defer lock.Unlock()

	// State before.
	test.StateBefore, err = CaptureState(ctx, h.runtime, containerID)
	if err != nil {
		test.Issues = append(test.Issues, "state capture failed: "+err.Error())
		return err
	}

	// Patch execution.
	execResult, err := h.executeScript(ctx, containerID, artifact.Script, patchPath)
	if err != nil {
		test.Issues = append(test.Issues, "patch execution failed: "+err.Error())
		return err
	}
	test.Execution = execResult

	if err := ctx.Err(); err != nil {
		return h.timeoutError(test, err)
	}

	// State after, diff.
	test.StateAfter, err = CaptureState(ctx, h.runtime, containerID)
	if err != nil {
		test.Issues = append(test.Issues, "post-patch state capture failed: "+err.Error())
		return err
	}
	test.Diff = DiffStates(test.StateBefore, test.StateAfter)

	// Health checks.
	test.Health = RunHealthChecks(ctx, h.runtime, containerID, asset.Role)

	if err := ctx.Err(); err != nil {
		return h.timeoutError(test, err)
	}

	// Optional probes run only after a clean patch execution.
	if execResult.Success() {
		if h.config.ProbeIdempotency {
			h.probeIdempotency(ctx, test, containerID, artifact.Script)
		}
		if h.config.ProbeRollback && artifact.RollbackScript != "" {
			h.probeRollback(ctx, test, containerID, artifact)
		}
	}

	// Logs, then analysis.
	if logs, logErr := h.runtime.Logs(ctx, containerID, logTailLines); logErr == nil {
		test.ContainerLogs = logs
	}

	h.analyzer.Analyze(test)
	return nil
}

func (h *Harness) provision(ctx context.Context, test *domain.SandboxTest, image string) (string, error) {
	pctx, cancel := context.WithTimeout(ctx, h.config.ProvisionTimeout)
	defer cancel()

	network := "none"
	if h.config.AllowNetwork {
		network = "bridge"
	}

	containerID, err := h.runtime.StartContainer(pctx, ContainerSpec{
		Image: image,
		Name:  fmt.Sprintf("sandbox-%s", test.ID),
		Labels: map[string]string{
			"platform":   "digital-twin",
			"created_at": strconv.FormatInt(time.Now().Unix(), 10),
			"test_id":    test.ID,
		},
		CPULimit:      h.config.CPULimit,
		MemoryLimitMB: h.config.MemoryLimitMB,
		Network:       network,
	})
	if err != nil {
		return "", errors.New(errors.CodeSandboxProvision, "sandbox", "failed to provision sandbox container", err)
	}
	return containerID, nil
}

// executeScript copies the script into the container and runs it through the
// shell under the exec timeout, capturing demuxed output.
func (h *Harness) executeScript(ctx context.Context, containerID, script, path string) (*domain.ExecResult, error) {
	if err := h.runtime.CopyContent(ctx, containerID, path, script); err != nil {
		return nil, err
	}

	ectx, cancel := context.WithTimeout(ctx, h.config.ExecTimeout)
	defer cancel()

	start := time.Now()
	result, err := h.runtime.Exec(ectx, containerID, "bash "+path+" || sh "+path)
	if err != nil {
		if ectx.Err() == context.DeadlineExceeded {
			return nil, errors.Newf(errors.CodeSandboxTimeout, "sandbox",
				"patch execution exceeded %s", h.config.ExecTimeout)
		}
		return nil, err
	}
	result.Duration = time.Since(start)
	return &result, nil
}

func (h *Harness) probeIdempotency(ctx context.Context, test *domain.SandboxTest, containerID, script string) {
	second, err := h.executeScript(ctx, containerID, script, patchPath)
	if err != nil {
		idempotent := false
		test.Idempotent = &idempotent
		test.Warnings = append(test.Warnings, "idempotency probe errored: "+err.Error())
		return
	}

	after, err := CaptureState(ctx, h.runtime, containerID)
	idempotent := second.Success()
	if err == nil && test.StateAfter != nil {
		rerunDiff := DiffStates(test.StateAfter, after)
		if rerunDiff.HasChanges {
			test.Warnings = append(test.Warnings, "patch made further changes on second run")
		}
		idempotent = idempotent && !rerunDiff.HasChanges
		test.StateAfter = after
	}
	test.Idempotent = &idempotent
	if !idempotent {
		test.Warnings = append(test.Warnings, "patch is not idempotent")
	}
}

// probeRollback applies the rollback and compares the target package version
// against the pre-patch snapshot.
func (h *Harness) probeRollback(ctx context.Context, test *domain.SandboxTest, containerID string, artifact *domain.PatchArtifact) {
	rolledBack := false
	defer func() { test.RolledBack = &rolledBack }()

	result, err := h.executeScript(ctx, containerID, artifact.RollbackScript, rollbackPath)
	if err != nil || !result.Success() {
		test.Warnings = append(test.Warnings, "rollback script failed")
		return
	}

	restored, err := CaptureState(ctx, h.runtime, containerID)
	if err != nil {
		test.Warnings = append(test.Warnings, "post-rollback state capture failed")
		return
	}

	pkg := targetPackage(test)
	if pkg == "" {
		rolledBack = true
		return
	}
	if restored.Packages[pkg] == test.StateBefore.Packages[pkg] {
		rolledBack = true
	} else {
		test.Warnings = append(test.Warnings, fmt.Sprintf(
			"rollback version mismatch for %s: %q != %q",
			pkg, restored.Packages[pkg], test.StateBefore.Packages[pkg]))
	}
}

// targetPackage picks the package the patch touched, preferring an update.
func targetPackage(test *domain.SandboxTest) string {
	if test.Diff == nil {
		return ""
	}
	if len(test.Diff.UpdatedPackages) > 0 {
		return test.Diff.UpdatedPackages[0].Name
	}
	if len(test.Diff.AddedPackages) > 0 {
		return test.Diff.AddedPackages[0]
	}
	return ""
}

func (h *Harness) timeoutError(test *domain.SandboxTest, cause error) error {
	err := errors.New(errors.CodeSandboxTimeout, "sandbox", "sandbox test cancelled or timed out", cause)
	test.Issues = append(test.Issues, err.Error())
	return err
}

// cleanup tears the container down with a fresh context so it runs even after
// cancellation or timeout of the test context.
func (h *Harness) cleanup(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := h.runtime.StopContainer(ctx, containerID); err != nil {
		h.logger.Warn().Err(err).Str("container_id", containerID).Msg("sandbox stop failed, forcing removal")
	}
	if err := h.runtime.RemoveContainer(ctx, containerID); err != nil {
		h.logger.Error().Err(err).Str("container_id", containerID).Msg("sandbox removal failed")
		return
	}
	h.containerMu.Delete(containerID)
	h.logger.Debug().Str("container_id", containerID).Msg("sandbox cleaned up")
}

func (h *Harness) lockContainer(containerID string) *sync.Mutex {
	mu, _ := h.containerMu.LoadOrStore(containerID, &sync.Mutex{})
	lock := mu.(*sync.Mutex)
	lock.Lock()
	return lock
}
