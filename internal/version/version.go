// Package appversion provides build version information injected via
// ldflags, plus the runtime/platform identity operators need when a
// fleet of field-deployed sensors hits driver or monitor-mode quirks tied
// to a particular kernel/Go-toolchain combination.
//
// All variables are set at build time:
//
//	-ldflags="-X github.com/wifiology/sensor/internal/version.Version=v1.0.0
//	          -X github.com/wifiology/sensor/internal/version.GitCommit=abc1234
//	          -X github.com/wifiology/sensor/internal/version.BuildDate=2026-02-22T12:00:00Z"
package appversion

import (
	"fmt"
	"runtime"
)

// Version is the semantic version (e.g., "v0.1.0" or "dev").
var Version = "dev"

// GitCommit is the short git commit hash at build time.
var GitCommit = "unknown"

// BuildDate is the RFC 3339 build timestamp.
var BuildDate = "unknown"

// Full returns a human-readable multi-line version string, including the
// Go toolchain and target platform a captured frame was decoded under,
// for triaging a monitor-mode/driver report from a specific node.
func Full(binary string) string {
	return fmt.Sprintf(
		"%s %s\n  commit:   %s\n  built:    %s\n  go:       %s\n  platform: %s/%s",
		binary, Version, GitCommit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH,
	)
}
