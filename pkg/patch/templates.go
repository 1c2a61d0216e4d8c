package patch

import (
	"strings"

	"github.com/vulnzero/remediation-engine/pkg/domain"
)

// Template is a pre-written package-update script for a package-manager
// family, used as an LLM-free fallback for routine updates.
type Template struct {
	Name        string
	Description string
	Body        string
}

// Render fills the template placeholders from the request.
func (t Template) Render(req domain.PatchRequest) string {
	r := strings.NewReplacer(
		"{cve_id}", req.Finding.CVEID,
		"{package_name}", req.Finding.AffectedPackage,
		"{fixed_version}", req.Finding.FixedVersion,
	)
	return r.Replace(t.Body)
}

var aptPackageUpdateTemplate = Template{
	Name:        "apt_package_update",
	Description: "Update a package using apt (Debian/Ubuntu)",
	Body: `#!/bin/bash
#
# Remediation script
# CVE: {cve_id}
# Package: {package_name}
#

set -euo pipefail

PACKAGE_NAME="{package_name}"
TARGET_VERSION="{fixed_version}"
LOG_FILE="/var/log/remediation/remediation_{cve_id}.log"
BACKUP_DIR="/var/backups/remediation"

log() {
    echo "[$(date '+%Y-%m-%d %H:%M:%S')] $1" | tee -a "$LOG_FILE"
}

mkdir -p "$BACKUP_DIR"
mkdir -p "$(dirname "$LOG_FILE")"

log "Starting remediation for CVE {cve_id}"

if [ "$EUID" -ne 0 ]; then
    log "ERROR: This script must be run as root"
    exit 1
fi

if ! dpkg -l | grep -q "^ii  $PACKAGE_NAME "; then
    log "Package $PACKAGE_NAME is not installed, nothing to do"
    exit 2
fi

CURRENT_VERSION=$(dpkg-query -W -f='${Version}' "$PACKAGE_NAME" 2>/dev/null || echo "unknown")
log "Current version: $CURRENT_VERSION"

log "Backing up package selections"
dpkg --get-selections > "$BACKUP_DIR/package-selections-$(date +%Y%m%d-%H%M%S).txt"

log "Updating package lists"
apt-get update -qq || {
    log "ERROR: Failed to update package lists"
    exit 1
}

log "Updating $PACKAGE_NAME to $TARGET_VERSION"
DEBIAN_FRONTEND=noninteractive apt-get install -y -qq --only-upgrade "$PACKAGE_NAME" >> "$LOG_FILE" 2>&1 || {
    log "ERROR: Failed to update package"
    exit 1
}

NEW_VERSION=$(dpkg-query -W -f='${Version}' "$PACKAGE_NAME" 2>/dev/null || echo "unknown")
log "New version: $NEW_VERSION"

if [ "$NEW_VERSION" = "$CURRENT_VERSION" ]; then
    log "WARNING: Version did not change"
fi

apt-get clean
log "Remediation completed successfully"
exit 0
`,
}

var dnfPackageUpdateTemplate = Template{
	Name:        "dnf_package_update",
	Description: "Update a package using dnf/yum (RHEL family)",
	Body: `#!/bin/bash
#
# Remediation script
# CVE: {cve_id}
# Package: {package_name}
#

set -euo pipefail

PACKAGE_NAME="{package_name}"
LOG_FILE="/var/log/remediation/remediation_{cve_id}.log"

log() {
    echo "[$(date '+%Y-%m-%d %H:%M:%S')] $1" | tee -a "$LOG_FILE"
}

mkdir -p "$(dirname "$LOG_FILE")"

log "Starting remediation for CVE {cve_id}"

if [ "$EUID" -ne 0 ]; then
    log "ERROR: This script must be run as root"
    exit 1
fi

if ! rpm -q "$PACKAGE_NAME" &>/dev/null; then
    log "Package $PACKAGE_NAME is not installed, nothing to do"
    exit 2
fi

CURRENT_VERSION=$(rpm -q "$PACKAGE_NAME" || echo "unknown")
log "Current version: $CURRENT_VERSION"

PKG_TOOL=$(command -v dnf || command -v yum)
log "Updating $PACKAGE_NAME"
"$PKG_TOOL" update -y "$PACKAGE_NAME" >> "$LOG_FILE" 2>&1 || {
    log "ERROR: Failed to update package"
    exit 1
}

NEW_VERSION=$(rpm -q "$PACKAGE_NAME" || echo "unknown")
log "New version: $NEW_VERSION"

log "Remediation completed successfully"
exit 0
`,
}

// TemplateFor returns the package-update template for an OS family, or false
// when no template covers it.
func TemplateFor(osFamily string) (Template, bool) {
	switch strings.ToLower(osFamily) {
	case "ubuntu", "debian":
		return aptPackageUpdateTemplate, true
	case "rhel", "centos", "rocky", "almalinux", "amazon":
		return dnfPackageUpdateTemplate, true
	}
	return Template{}, false
}
