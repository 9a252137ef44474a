package version

import (
	"runtime/debug"
	"testing"
)

func TestBuildVersion(t *testing.T) {
	tests := []struct {
		name string
		info *debug.BuildInfo
		ok   bool
		want string
	}{
		{"release tag", &debug.BuildInfo{Main: debug.Module{Version: "v0.3.0"}}, true, "v0.3.0"},
		{"devel build", &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}, true, "dev"},
		{"no build info", nil, false, "dev"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := readBuildInfo
			defer func() { readBuildInfo = original }()
			readBuildInfo = func() (*debug.BuildInfo, bool) { return tt.info, tt.ok }

			if got := BuildVersion(); got != tt.want {
				t.Errorf("BuildVersion() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGet_TruncatesRevision(t *testing.T) {
	original := readBuildInfo
	defer func() { readBuildInfo = original }()
	readBuildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{
			Main:     debug.Module{Version: "v1.0.0"},
			Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "0123456789abcdef0123"}},
		}, true
	}

	info := Get()
	if info.Revision != "0123456789ab" {
		t.Errorf("Revision = %q, want 12-char prefix", info.Revision)
	}
	if info.GoVersion == "" {
		t.Error("GoVersion should be populated")
	}
}
