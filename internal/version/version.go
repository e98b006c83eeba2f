package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

const AppName = "marksync"

// Set via ldflags by release builds; dev builds fall back to VCS metadata
// embedded by the Go toolchain.
var (
	Version  = "0.1.0-dev"
	Revision = "HEAD"
)

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if v := info.Main.Version; v != "" && v != "(devel)" && strings.HasSuffix(Version, "-dev") {
		Version = strings.TrimPrefix(v, "v")
	}
	if Revision == "HEAD" {
		var rev, dirty string
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				rev = s.Value
			case "vcs.modified":
				if s.Value == "true" {
					dirty = "-dirty"
				}
			}
		}
		if rev != "" {
			Revision = rev + dirty
		}
	}
}

// Short returns "0.1.0 (5e23a4f)".
func Short() string {
	return fmt.Sprintf("%s (%s)", Version, Revision)
}

// Detailed adds toolchain and platform, for --version output.
func Detailed() string {
	return fmt.Sprintf("%s (%s; %s; %s/%s)", Version, Revision, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
