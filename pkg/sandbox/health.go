package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/vulnzero/remediation-engine/pkg/domain"
)

// HealthPassThreshold is the aggregate success rate required for an overall pass.
const HealthPassThreshold = 70.0

// healthChecker runs the role-tagged health suite after a patch.
type healthChecker struct {
	runtime     ContainerRuntime
	containerID string
}

// RunHealthChecks executes the suite for the asset's role: baseline checks
// always run, web servers add HTTP checks, databases add DB checks.
func RunHealthChecks(ctx context.Context, rt ContainerRuntime, containerID string, role domain.AssetRole) *domain.HealthReport {
	h := healthChecker{runtime: rt, containerID: containerID}

	results := h.baselineChecks(ctx)
	switch role {
	case domain.RoleWebServer:
		results = append(results, h.webServerChecks(ctx)...)
	case domain.RoleDatabase:
		results = append(results, h.databaseChecks(ctx)...)
	}

	report := &domain.HealthReport{
		Results: results,
		Total:   len(results),
	}
	for _, r := range results {
		if r.Passed {
			report.Passed++
		}
	}
	if report.Total > 0 {
		report.SuccessRate = float64(report.Passed) / float64(report.Total) * 100
	}
	report.OverallPass = report.SuccessRate >= HealthPassThreshold
	return report
}

func (h healthChecker) exec(ctx context.Context, command string) (domain.ExecResult, bool) {
	result, err := h.runtime.Exec(ctx, h.containerID, command)
	if err != nil {
		return domain.ExecResult{}, false
	}
	return result, true
}

func (h healthChecker) baselineChecks(ctx context.Context) []domain.HealthCheckResult {
	return []domain.HealthCheckResult{
		h.checkInitRunning(ctx),
		h.checkSchedulerService(ctx),
		h.checkPackageManager(ctx),
		h.checkDiskSpace(ctx),
	}
}

// checkInitRunning accepts either systemd or a classic pid-1 init.
func (h healthChecker) checkInitRunning(ctx context.Context) domain.HealthCheckResult {
	result, ok := h.exec(ctx, "pgrep -x systemd || test -d /proc/1")
	passed := ok && result.Success()
	return domain.HealthCheckResult{
		Name:    "init_running",
		Passed:  passed,
		Message: message(passed, "init process is running", "init process not found"),
	}
}

func (h healthChecker) checkSchedulerService(ctx context.Context) domain.HealthCheckResult {
	result, ok := h.exec(ctx, "pgrep -x cron || pgrep -x crond || command -v crontab")
	passed := ok && result.Success()
	return domain.HealthCheckResult{
		Name:    "cron_available",
		Passed:  passed,
		Message: message(passed, "cron or equivalent is available", "no cron equivalent found"),
	}
}

func (h healthChecker) checkPackageManager(ctx context.Context) domain.HealthCheckResult {
	result, ok := h.exec(ctx,
		"apt-get --version 2>/dev/null || dnf --version 2>/dev/null || yum --version 2>/dev/null || zypper --version 2>/dev/null || apk --version 2>/dev/null")
	passed := ok && result.Success()
	return domain.HealthCheckResult{
		Name:    "package_manager_healthy",
		Passed:  passed,
		Message: message(passed, "package manager responds", "no working package manager"),
	}
}

func (h healthChecker) checkDiskSpace(ctx context.Context) domain.HealthCheckResult {
	result, ok := h.exec(ctx, "df / | tail -n 1 | awk '{print $5}' | tr -d '%'")
	check := domain.HealthCheckResult{Name: "disk_space"}
	if !ok || !result.Success() {
		check.Message = "could not determine disk usage"
		return check
	}
	usage := strings.TrimSpace(result.Stdout)
	check.Details = map[string]string{"usage_percent": usage}
	check.Passed = diskUsageOK(usage)
	check.Message = fmt.Sprintf("root filesystem usage %s%%", usage)
	return check
}

func diskUsageOK(usage string) bool {
	var pct int
	if _, err := fmt.Sscanf(usage, "%d", &pct); err != nil {
		return false
	}
	return pct < 90
}

func (h healthChecker) webServerChecks(ctx context.Context) []domain.HealthCheckResult {
	var results []domain.HealthCheckResult

	result, ok := h.exec(ctx, "ss -tuln 2>/dev/null | grep -E ':(80|443)\\s' || netstat -tuln 2>/dev/null | grep -E ':(80|443)\\s'")
	passed := ok && result.Success() && strings.TrimSpace(result.Stdout) != ""
	results = append(results, domain.HealthCheckResult{
		Name:    "http_port_listening",
		Passed:  passed,
		Message: message(passed, "HTTP port is listening", "no HTTP port listening"),
	})

	result, ok = h.exec(ctx, "curl -f -s -o /dev/null -w '%{http_code}' http://localhost/ 2>/dev/null")
	code := strings.TrimSpace(result.Stdout)
	passed = ok && result.Success() && strings.HasPrefix(code, "2")
	results = append(results, domain.HealthCheckResult{
		Name:    "http_endpoint_responds",
		Passed:  passed,
		Message: fmt.Sprintf("HTTP localhost returned %q", code),
		Details: map[string]string{"http_code": code},
	})
	return results
}

func (h healthChecker) databaseChecks(ctx context.Context) []domain.HealthCheckResult {
	var results []domain.HealthCheckResult

	result, ok := h.exec(ctx, "pgrep -x postgres || pgrep -x mysqld || pgrep -x mariadbd || pgrep -x mongod")
	passed := ok && result.Success()
	results = append(results, domain.HealthCheckResult{
		Name:    "database_process_alive",
		Passed:  passed,
		Message: message(passed, "database process is running", "no database process found"),
	})

	result, ok = h.exec(ctx, "ss -tuln 2>/dev/null | grep -E ':(5432|3306|27017)\\s'")
	passed = ok && result.Success() && strings.TrimSpace(result.Stdout) != ""
	results = append(results, domain.HealthCheckResult{
		Name:    "database_port_listening",
		Passed:  passed,
		Message: message(passed, "database port is listening", "no database port listening"),
	})
	return results
}

func message(passed bool, ok, fail string) string {
	if passed {
		return ok
	}
	return fail
}
