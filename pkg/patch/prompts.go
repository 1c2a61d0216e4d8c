package patch

import (
	"fmt"

	"github.com/vulnzero/remediation-engine/pkg/domain"
)

// promptContext is the sanitized field set interpolated into prompt templates.
type promptContext struct {
	CVEID             string
	Description       string
	PackageName       string
	VulnerableVersion string
	FixedVersion      string
	OSFamily          string
	OSVersion         string
	PackageManager    string
}

const systemPrompt = `You are a senior Linux system administrator who writes production-grade remediation scripts. You respond with a single bash script and nothing else.`

// buildPrompt renders the generation prompt for the requested strategy.
func buildPrompt(strategy domain.PatchStrategy, c promptContext) string {
	switch strategy {
	case domain.StrategyConfigChange:
		return configChangePrompt(c)
	case domain.StrategyWorkaround:
		return workaroundPrompt(c)
	default:
		return packageUpdatePrompt(c)
	}
}

func packageUpdatePrompt(c promptContext) string {
	return fmt.Sprintf(`Create a remediation script for a security vulnerability.

VULNERABILITY DETAILS:
- CVE ID: %s
- Description: %s
- Affected Package: %s version %s
- Fixed Version: %s

TARGET SYSTEM:
- Operating System: %s %s
- Package Manager: %s

REQUIREMENTS:
1. Create a production-ready bash script that safely updates the vulnerable package
2. Include pre-flight checks: verify the current package version, check whether the update is needed, verify the package manager is available
3. Back up package state before making changes
4. Update the package to the fixed version using the appropriate package manager
5. Handle service restarts gracefully if required
6. Include post-update verification of the installed version
7. Comprehensive error handling with clear error messages
8. Log all actions to /var/log/remediation/remediation.log
9. Make the script idempotent (safe to run multiple times)
10. Use exit codes: 0 (success), 1 (failure), 2 (already patched)

SAFETY CONSTRAINTS:
- DO NOT use destructive commands
- DO NOT disable security features
- DO NOT make system-wide changes beyond the package update
- Add safety checks before critical operations

OUTPUT FORMAT:
Provide ONLY the bash script, with clear comments explaining each step.
Start with a shebang (#!/bin/bash) and end with an appropriate exit code.
Do not include any explanation before or after the script.`,
		orUnknown(c.CVEID), orDefault(c.Description, "No description available"),
		orUnknown(c.PackageName), orUnknown(c.VulnerableVersion), orDefault(c.FixedVersion, "latest"),
		c.OSFamily, c.OSVersion, c.PackageManager)
}

func configChangePrompt(c promptContext) string {
	return fmt.Sprintf(`Create a configuration remediation script.

VULNERABILITY DETAILS:
- CVE ID: %s
- Description: %s
- Affected Component: %s

TARGET SYSTEM:
- Operating System: %s %s

REQUIREMENTS:
1. Create a bash script that safely modifies the configuration to mitigate the vulnerability
2. Back up the original configuration file before making changes
3. Validate the new configuration before applying it
4. Restart the affected service gracefully if needed and verify it starts
5. Include rollback instructions in comments
6. Make the script idempotent and log all actions

SAFETY CONSTRAINTS:
- Create a backup of the original configuration before changes
- Validate configuration syntax before applying
- DO NOT make irreversible changes

OUTPUT FORMAT:
Provide ONLY the bash script with clear comments.
Start with #!/bin/bash and use appropriate exit codes.`,
		orUnknown(c.CVEID), orDefault(c.Description, "No description available"),
		orUnknown(c.PackageName), c.OSFamily, c.OSVersion)
}

func workaroundPrompt(c promptContext) string {
	return fmt.Sprintf(`Create a workaround script for a vulnerability with no available fix.

VULNERABILITY DETAILS:
- CVE ID: %s
- Description: %s
- Affected Component: %s

TARGET SYSTEM:
- Operating System: %s %s

REQUIREMENTS:
1. Implement a workaround that reduces risk without breaking functionality
2. Document the limitations of the workaround in comments
3. Make all changes reversible
4. Log all actions

SAFETY CONSTRAINTS:
- Minimize impact on system functionality
- Document side effects

OUTPUT FORMAT:
Provide ONLY the bash script with detailed comments explaining the workaround.`,
		orUnknown(c.CVEID), orDefault(c.Description, "No description available"),
		orUnknown(c.PackageName), c.OSFamily, c.OSVersion)
}

// rollbackPrompt asks for a script reversing the given patch.
func rollbackPrompt(patchScript string) string {
	return fmt.Sprintf(`Create a rollback script.

ORIGINAL PATCH:
`+"```bash\n%s\n```"+`

TASK:
Create a rollback script that safely reverses the changes made by the above patch.

REQUIREMENTS:
1. Restore the system to its pre-patch state
2. Use backups created by the original patch
3. Verify the rollback succeeded
4. Handle cases where rollback is not possible with clear error messages

OUTPUT FORMAT:
Provide ONLY the rollback bash script with clear comments.`, patchScript)
}

func orUnknown(s string) string {
	return orDefault(s, "unknown")
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
