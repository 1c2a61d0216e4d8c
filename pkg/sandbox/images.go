package sandbox

import (
	"fmt"
	"strings"
)

// DefaultImage is used only when the asset's OS family cannot be determined.
const DefaultImage = "ubuntu:22.04"

var knownImages = map[string]string{
	"ubuntu:20.04": "ubuntu:20.04",
	"ubuntu:22.04": "ubuntu:22.04",
	"ubuntu:24.04": "ubuntu:24.04",
	"debian:11":    "debian:11",
	"debian:12":    "debian:12",
	"rhel:8":       "redhat/ubi8",
	"rhel:9":       "redhat/ubi9",
	"rocky:8":      "rockylinux:8",
	"rocky:9":      "rockylinux:9",
	"amazon:2":     "amazonlinux:2",
	"amazon:2023":  "amazonlinux:2023",
	"alpine:3.18":  "alpine:3.18",
	"alpine:3.19":  "alpine:3.19",
	"alpine:3.20":  "alpine:3.20",
}

// Unknown versions of a known family fall back to the nearest supported one.
var familyFallbacks = map[string]string{
	"ubuntu": "ubuntu:22.04",
	"debian": "debian:12",
	"rhel":   "redhat/ubi9",
	"rocky":  "rockylinux:9",
	"amazon": "amazonlinux:2023",
	"alpine": "alpine:3.20",
}

// SelectImage maps an asset's OS family and version to a sandbox image.
// It returns the image reference and the family:version key it resolved.
func SelectImage(osFamily, osVersion string) (image string, key string) {
	family := strings.ToLower(strings.TrimSpace(osFamily))
	version := strings.TrimSpace(osVersion)

	if family == "" {
		return DefaultImage, "default"
	}

	key = fmt.Sprintf("%s:%s", family, version)
	if image, ok := knownImages[key]; ok {
		return image, key
	}
	if fallback, ok := familyFallbacks[family]; ok {
		return fallback, key
	}
	// Unknown family with a version string: try it verbatim before giving up.
	if version != "" {
		return key, key
	}
	return DefaultImage, key
}
