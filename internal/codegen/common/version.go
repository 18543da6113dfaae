package common

import (
	"fmt"
	"strings"
)

// Version is set via ldflags at build time. It is part of the binding
// cache fingerprint: -ldflags "-X github.com/Alia5/rtebind/internal/codegen/common.Version=x.y.z"
var Version = ""

// GetVersion returns the version string that was set at build time via ldflags.
// Returns "0.0.1-dev" if Version is empty (development builds only).
// For production releases, Version MUST be set via: go build -ldflags "-X github.com/Alia5/rtebind/internal/codegen/common.Version=x.y.z"
func GetVersion() (string, error) {
	if Version == "" {
		return "0.0.1-dev", nil
	}

	version := strings.TrimPrefix(Version, "v")
	baseVersion := strings.SplitN(version, "-", 2)[0]
	if !strings.Contains(baseVersion, ".") {
		return "", fmt.Errorf("invalid version format: %s (expected x.y.z)", Version)
	}

	return version, nil
}
