// Package buildinfo holds application metadata set at build time.
//
//	go build -ldflags "\
//	  -X github.com/dotside-studios/davi-attendance/buildinfo.Version=1.0.0 \
//	  -X github.com/dotside-studios/davi-attendance/buildinfo.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/dotside-studios/davi-attendance/buildinfo.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package buildinfo

import (
	"fmt"
	"runtime"
	"strings"
)

var (
	// Name is the binary and directory name.
	Name = "davi-attendance"

	// DisplayName is used for the tray title and mDNS.
	DisplayName = "Davi Attendance"

	Description = "NFC attendance kiosk: check in and out with an ID card"

	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

// FullVersion returns "1.0.0" or "1.0.0 (abc1234)".
func FullVersion() string {
	if Commit != "" {
		return fmt.Sprintf("%s (%s)", Version, Commit)
	}
	return Version
}

// UserAgent is sent on attendance API requests, e.g. "davi-attendance/1.0.0".
func UserAgent() string {
	return fmt.Sprintf("%s/%s", Name, Version)
}

// BuildInfo returns a multi-line summary for the version command.
func BuildInfo() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n", Name, FullVersion())
	fmt.Fprintf(&sb, "  %s\n", Description)
	fmt.Fprintf(&sb, "  Go: %s\n", runtime.Version())
	fmt.Fprintf(&sb, "  OS/Arch: %s/%s", runtime.GOOS, runtime.GOARCH)
	if BuildTime != "" {
		fmt.Fprintf(&sb, "\n  Built: %s", BuildTime)
	}
	return sb.String()
}

// IsDev reports whether this is a development build.
func IsDev() bool {
	return Version == "dev"
}
