package version

import (
	"runtime"
	"runtime/debug"
)

// Swappable for testing
var readBuildInfo = debug.ReadBuildInfo

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Revision  string `json:"revision,omitempty"`
	GoVersion string `json:"go_version"`
}

// BuildVersion returns the module version, or "dev" if unavailable.
func BuildVersion() string {
	info, ok := readBuildInfo()
	if !ok {
		return "dev"
	}
	if info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "dev"
	}
	return info.Main.Version
}

// Get collects version, VCS revision and toolchain.
func Get() Info {
	out := Info{
		Version:   BuildVersion(),
		GoVersion: runtime.Version(),
	}
	info, ok := readBuildInfo()
	if !ok {
		return out
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			out.Revision = s.Value
			if len(out.Revision) > 12 {
				out.Revision = out.Revision[:12]
			}
		}
	}
	return out
}
