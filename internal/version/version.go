package version

import (
	"os"
	"strings"
)

// Version is the current daemon version. Overridden at build time via
// -ldflags -X, or at process start by AGENT_TUI_VERSION for dev builds
// that skip ldflags entirely.
var Version = "0.2.0"

// GitRef is injected at build time for dev builds (e.g. via -ldflags -X),
// or read from AGENT_TUI_GIT_SHA at process start if ldflags weren't used.
var GitRef = "unknown"

// ReleaseBuild is injected at build time. When true, DisplayVersion omits git ref.
var ReleaseBuild = "false"

func init() {
	if v := os.Getenv("AGENT_TUI_VERSION"); v != "" {
		Version = v
	}
	if ref := os.Getenv("AGENT_TUI_GIT_SHA"); ref != "" {
		GitRef = ref
	}
}

// DisplayVersion returns the user-facing build version:
// - release: v<semver>
// - dev:     v<semver>-<gitref>
func DisplayVersion() string {
	if isReleaseBuild() {
		return "v" + Version
	}
	return "v" + Version + "-" + normalizeRef(GitRef)
}

func isReleaseBuild() bool {
	switch strings.ToLower(strings.TrimSpace(ReleaseBuild)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func normalizeRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "unknown"
	}
	return ref
}
