package sandbox

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vulnzero/remediation-engine/pkg/domain"
)

// Sentinel files whose (size, mtime) signature is tracked across the patch.
var sentinelFiles = []string{
	"/etc/passwd",
	"/etc/group",
	"/etc/hosts",
	"/etc/resolv.conf",
}

const processListLimit = 50

// stateCapture reads a SystemState out of a running container. Every probe
// tolerates the absence of its tool and leaves the corresponding field empty.
type stateCapture struct {
	runtime     ContainerRuntime
	containerID string
}

// CaptureState snapshots the container. Package-manager detection runs first
// so the package query matches the platform.
func CaptureState(ctx context.Context, rt ContainerRuntime, containerID string) (*domain.SystemState, error) {
	c := stateCapture{runtime: rt, containerID: containerID}

	state := &domain.SystemState{
		CapturedAt: time.Now().UTC(),
	}
	state.PackageManager = c.detectPackageManager(ctx)
	state.Packages = c.capturePackages(ctx, state.PackageManager)
	state.Services = c.captureServices(ctx)
	state.Files = c.captureFiles(ctx)
	c.captureNetwork(ctx, state)
	state.Processes = c.captureProcesses(ctx)
	c.captureSystemInfo(ctx, state)
	return state, nil
}

func (c stateCapture) run(ctx context.Context, command string) (string, bool) {
	result, err := c.runtime.Exec(ctx, c.containerID, command)
	if err != nil || result.ExitCode != 0 {
		return "", false
	}
	return result.Stdout, true
}

// detectPackageManager probes for apt, dnf, yum and zypper in that order.
func (c stateCapture) detectPackageManager(ctx context.Context) string {
	for _, pm := range []struct{ name, probe string }{
		{"apt", "command -v apt-get"},
		{"dnf", "command -v dnf"},
		{"yum", "command -v yum"},
		{"zypper", "command -v zypper"},
	} {
		if out, ok := c.run(ctx, pm.probe); ok && strings.TrimSpace(out) != "" {
			return pm.name
		}
	}
	return "unknown"
}

func (c stateCapture) capturePackages(ctx context.Context, pkgManager string) map[string]string {
	packages := make(map[string]string)

	var query string
	switch pkgManager {
	case "apt":
		query = `dpkg-query -W -f='${Package}=${Version}\n'`
	case "dnf", "yum", "zypper":
		query = `rpm -qa --queryformat '%{NAME}=%{VERSION}-%{RELEASE}\n'`
	default:
		// Alpine and friends.
		if out, ok := c.run(ctx, "apk info -v 2>/dev/null"); ok {
			for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
				if idx := strings.LastIndex(line, "-"); idx > 0 {
					packages[line[:idx]] = line[idx+1:]
				}
			}
		}
		return packages
	}

	out, ok := c.run(ctx, query)
	if !ok {
		return packages
	}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if name, version, found := strings.Cut(line, "="); found && name != "" {
			packages[name] = version
		}
	}
	return packages
}

// captureServices prefers a systemd query and falls back to sysv service listing.
func (c stateCapture) captureServices(ctx context.Context) map[string]string {
	services := make(map[string]string)

	out, ok := c.run(ctx, "systemctl list-units --type=service --state=running --no-pager --no-legend 2>/dev/null")
	if ok && strings.TrimSpace(out) != "" {
		for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
			fields := strings.Fields(line)
			if len(fields) > 0 {
				services[strings.TrimSuffix(fields[0], ".service")] = "running"
			}
		}
		return services
	}

	out, ok = c.run(ctx, "service --status-all 2>/dev/null")
	if ok {
		for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
			if strings.Contains(line, "[+]") || strings.Contains(line, "[ + ]") {
				fields := strings.Fields(line)
				if len(fields) > 0 {
					services[fields[len(fields)-1]] = "running"
				}
			}
		}
	}
	return services
}

func (c stateCapture) captureFiles(ctx context.Context) map[string]domain.FileMeta {
	files := make(map[string]domain.FileMeta)
	for _, path := range sentinelFiles {
		out, ok := c.run(ctx, "stat -c '%s %Y' "+path+" 2>/dev/null")
		if !ok {
			continue
		}
		fields := strings.Fields(strings.TrimSpace(out))
		if len(fields) != 2 {
			continue
		}
		size, err1 := strconv.ParseInt(fields[0], 10, 64)
		mtime, err2 := strconv.ParseInt(fields[1], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		files[path] = domain.FileMeta{Size: size, Mtime: mtime}
	}
	return files
}

func (c stateCapture) captureNetwork(ctx context.Context, state *domain.SystemState) {
	if out, ok := c.run(ctx, "ip -o addr show 2>/dev/null"); ok && strings.TrimSpace(out) != "" {
		interfaces := make(map[string][]string)
		for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
			fields := strings.Fields(line)
			if len(fields) >= 4 {
				interfaces[fields[1]] = append(interfaces[fields[1]], fields[3])
			}
		}
		state.Interfaces = interfaces
	}

	out, ok := c.run(ctx, "ss -tuln 2>/dev/null | grep LISTEN || netstat -tuln 2>/dev/null | grep LISTEN")
	if ok && strings.TrimSpace(out) != "" {
		var ports []string
		for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
			if strings.Contains(line, "LISTEN") {
				ports = append(ports, strings.TrimSpace(line))
			}
		}
		state.ListeningPorts = ports
	}
}

func (c stateCapture) captureProcesses(ctx context.Context) []string {
	out, ok := c.run(ctx, "ps aux 2>/dev/null")
	if !ok || strings.TrimSpace(out) == "" {
		return nil
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) > processListLimit {
		lines = lines[:processListLimit]
	}
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return lines
}

func (c stateCapture) captureSystemInfo(ctx context.Context, state *domain.SystemState) {
	state.OSRelease = make(map[string]string)
	if out, ok := c.run(ctx, "cat /etc/os-release 2>/dev/null"); ok {
		for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
			if key, value, found := strings.Cut(line, "="); found {
				state.OSRelease[key] = strings.Trim(value, `"`)
			}
		}
	}
	if out, ok := c.run(ctx, "uname -r 2>/dev/null"); ok {
		state.Kernel = strings.TrimSpace(out)
	}
	if out, ok := c.run(ctx, "free -m 2>/dev/null | grep Mem"); ok {
		fields := strings.Fields(strings.TrimSpace(out))
		if len(fields) >= 2 {
			if total, err := strconv.Atoi(fields[1]); err == nil {
				state.MemoryTotalMB = total
			}
		}
	}
}

// DiffStates compares two snapshots. The HasChanges flag is the disjunction
// of package, service and file changes.
func DiffStates(before, after *domain.SystemState) *domain.StateDiff {
	diff := &domain.StateDiff{}

	for name, afterVersion := range after.Packages {
		beforeVersion, existed := before.Packages[name]
		switch {
		case !existed:
			diff.AddedPackages = append(diff.AddedPackages, name)
		case beforeVersion != afterVersion:
			diff.UpdatedPackages = append(diff.UpdatedPackages, domain.PackageChange{
				Name: name, From: beforeVersion, To: afterVersion,
			})
		}
	}
	for name := range before.Packages {
		if _, still := after.Packages[name]; !still {
			diff.RemovedPackages = append(diff.RemovedPackages, name)
		}
	}

	for name := range after.Services {
		if _, was := before.Services[name]; !was {
			diff.StartedServices = append(diff.StartedServices, name)
		}
	}
	for name := range before.Services {
		if _, still := after.Services[name]; !still {
			diff.StoppedServices = append(diff.StoppedServices, name)
		}
	}

	for path, afterMeta := range after.Files {
		if beforeMeta, existed := before.Files[path]; existed && beforeMeta != afterMeta {
			diff.ModifiedFiles = append(diff.ModifiedFiles, path)
		}
	}

	diff.InterfacesChanged = !interfacesEqual(before.Interfaces, after.Interfaces)
	diff.PortsChanged = !stringSlicesEqual(before.ListeningPorts, after.ListeningPorts)

	sort.Strings(diff.AddedPackages)
	sort.Strings(diff.RemovedPackages)
	sort.Strings(diff.StartedServices)
	sort.Strings(diff.StoppedServices)
	sort.Strings(diff.ModifiedFiles)
	sort.Slice(diff.UpdatedPackages, func(i, j int) bool {
		return diff.UpdatedPackages[i].Name < diff.UpdatedPackages[j].Name
	})

	diff.HasChanges = len(diff.AddedPackages) > 0 ||
		len(diff.RemovedPackages) > 0 ||
		len(diff.UpdatedPackages) > 0 ||
		len(diff.StartedServices) > 0 ||
		len(diff.StoppedServices) > 0 ||
		len(diff.ModifiedFiles) > 0

	return diff
}

func interfacesEqual(a, b map[string][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for name, addrsA := range a {
		addrsB, ok := b[name]
		if !ok || !stringSlicesEqual(addrsA, addrsB) {
			return false
		}
	}
	return true
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
