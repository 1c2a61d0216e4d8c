package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnzero/remediation-engine/pkg/domain"
	"github.com/vulnzero/remediation-engine/pkg/domain/errors"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ProvisionTimeout = 5 * time.Second
	cfg.ExecTimeout = 5 * time.Second
	cfg.TestTimeout = 10 * time.Second
	return cfg
}

func testArtifact() *domain.PatchArtifact {
	return &domain.PatchArtifact{
		ID:             "patch_abc",
		FindingCVE:     "CVE-2024-0001",
		Script:         "#!/bin/bash\nset -e\napt-get install -y --only-upgrade nginx\n",
		RollbackScript: "#!/bin/bash\nset -e\necho rollback\n",
		Status:         domain.PatchValidated,
	}
}

func testAsset() *domain.Asset {
	return &domain.Asset{ID: "asset-1", OSFamily: "ubuntu", OSVersion: "22.04", Role: domain.RoleGeneric}
}

func TestRunTest_HappyPath(t *testing.T) {
	rt := newFakeRuntime()
	rt.packageAnswers = []string{
		"nginx=1.18.0-0\nopenssl=1.1.1\n",
		"nginx=1.18.0-1\nopenssl=1.1.1\n",
	}
	h := NewHarness(rt, testConfig())

	test, err := h.RunTest(context.Background(), testArtifact(), testAsset())
	require.NoError(t, err)

	assert.Equal(t, domain.TestPassed, test.Status)
	assert.NotNil(t, test.StateBefore)
	assert.NotNil(t, test.StateAfter)
	require.NotNil(t, test.Diff)
	require.Len(t, test.Diff.UpdatedPackages, 1)
	assert.Equal(t, "nginx", test.Diff.UpdatedPackages[0].Name)
	assert.True(t, test.Diff.HasChanges)
	assert.NotNil(t, test.Health)
	assert.Greater(t, test.Confidence, 50.0)
	assert.Equal(t, "container log line\n", test.ContainerLogs)
	assert.Contains(t, rt.copied, "/tmp/patch_script.sh")

	assert.Empty(t, rt.leaked(), "no managed containers may remain")
}

func TestRunTest_PatchFailure(t *testing.T) {
	rt := newFakeRuntime()
	rt.patchExitCode = 1
	rt.patchStderr = "apt-get: package not found"
	h := NewHarness(rt, testConfig())

	test, err := h.RunTest(context.Background(), testArtifact(), testAsset())
	require.NoError(t, err)

	assert.Equal(t, domain.TestFailed, test.Status)
	assert.NotEmpty(t, test.Issues)
	assert.Empty(t, rt.leaked())
}

func TestRunTest_ProvisionFailureIsErrored(t *testing.T) {
	rt := newFakeRuntime()
	rt.startErr = errors.Newf(errors.CodeContainerRuntime, "sandbox", "image pull failed")
	h := NewHarness(rt, testConfig())

	test, err := h.RunTest(context.Background(), testArtifact(), testAsset())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeSandboxProvision))
	assert.Equal(t, domain.TestErrored, test.Status)
	assert.NotEmpty(t, test.Issues)
	assert.Empty(t, rt.leaked())
}

func TestRunTest_ExecErrorCleansUp(t *testing.T) {
	rt := newFakeRuntime()
	rt.execErr = errors.Newf(errors.CodeContainerRuntime, "sandbox", "exec transport broke")
	h := NewHarness(rt, testConfig())

	test, err := h.RunTest(context.Background(), testArtifact(), testAsset())
	require.Error(t, err)
	assert.Equal(t, domain.TestErrored, test.Status)
	assert.Empty(t, rt.leaked(), "cleanup must run on the error path")
}

func TestRunTest_CancellationCleansUp(t *testing.T) {
	rt := newFakeRuntime()
	h := NewHarness(rt, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	test, err := h.RunTest(ctx, testArtifact(), testAsset())
	require.Error(t, err)
	assert.Equal(t, domain.TestErrored, test.Status)
	assert.Empty(t, rt.leaked(), "cleanup must run on cancellation")
}

// panicRuntime panics during exec to exercise the recover path.
type panicRuntime struct{ *fakeRuntime }

func (p panicRuntime) Exec(ctx context.Context, containerID, command string) (domain.ExecResult, error) {
	panic("runtime exploded")
}

func TestRunTest_PanicCleansUp(t *testing.T) {
	rt := newFakeRuntime()
	h := NewHarness(panicRuntime{rt}, testConfig())

	test, err := h.RunTest(context.Background(), testArtifact(), testAsset())
	require.Error(t, err)
	assert.Equal(t, domain.TestErrored, test.Status)
	assert.Empty(t, rt.leaked(), "cleanup must run after a panic")
}

func TestRunTest_IdempotencyProbe(t *testing.T) {
	rt := newFakeRuntime()
	rt.packageAnswers = []string{
		"nginx=1.18.0-0\n",
		"nginx=1.18.0-1\n",
		"nginx=1.18.0-1\n", // unchanged on rerun
	}
	cfg := testConfig()
	cfg.ProbeIdempotency = true
	h := NewHarness(rt, cfg)

	test, err := h.RunTest(context.Background(), testArtifact(), testAsset())
	require.NoError(t, err)
	require.NotNil(t, test.Idempotent)
	assert.True(t, *test.Idempotent)
	assert.Empty(t, rt.leaked())
}

func TestRunTest_RollbackProbe(t *testing.T) {
	rt := newFakeRuntime()
	rt.packageAnswers = []string{
		"nginx=1.18.0-0\n", // before
		"nginx=1.18.0-1\n", // after patch
		"nginx=1.18.0-0\n", // after rollback
	}
	cfg := testConfig()
	cfg.ProbeRollback = true
	h := NewHarness(rt, cfg)

	test, err := h.RunTest(context.Background(), testArtifact(), testAsset())
	require.NoError(t, err)
	require.NotNil(t, test.RolledBack)
	assert.True(t, *test.RolledBack)
	assert.Contains(t, rt.copied, "/tmp/rollback_script.sh")
	assert.Empty(t, rt.leaked())
}

func TestRunTest_RollbackMismatchFails(t *testing.T) {
	rt := newFakeRuntime()
	rt.packageAnswers = []string{
		"nginx=1.18.0-0\n",
		"nginx=1.18.0-1\n",
		"nginx=1.18.0-1\n", // rollback did not restore the version
	}
	cfg := testConfig()
	cfg.ProbeRollback = true
	h := NewHarness(rt, cfg)

	test, err := h.RunTest(context.Background(), testArtifact(), testAsset())
	require.NoError(t, err)
	require.NotNil(t, test.RolledBack)
	assert.False(t, *test.RolledBack)
	assert.NotEmpty(t, test.Warnings)
}

func TestRunTest_ContainerLabels(t *testing.T) {
	rt := newFakeRuntime()
	var capturedSpec ContainerSpec
	captured := &specCapturingRuntime{fakeRuntime: rt, spec: &capturedSpec}
	h := NewHarness(captured, testConfig())

	_, err := h.RunTest(context.Background(), testArtifact(), testAsset())
	require.NoError(t, err)

	assert.Equal(t, "digital-twin", capturedSpec.Labels["platform"])
	assert.NotEmpty(t, capturedSpec.Labels["created_at"])
	assert.Equal(t, 2.0, capturedSpec.CPULimit)
	assert.Equal(t, 4096, capturedSpec.MemoryLimitMB)
	assert.Equal(t, "none", capturedSpec.Network)
}

type specCapturingRuntime struct {
	*fakeRuntime
	spec *ContainerSpec
}

func (s *specCapturingRuntime) StartContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	*s.spec = spec
	return s.fakeRuntime.StartContainer(ctx, spec)
}
