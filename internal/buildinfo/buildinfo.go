// Package buildinfo carries version metadata set with -ldflags "-X".
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

// commit falls back to the VCS revision the toolchain stamped into the binary.
func commit() string {
	if Commit != "" {
		return Commit
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" {
				return s.Value
			}
		}
	}
	return ""
}

func Info() map[string]string {
	return map[string]string{
		"version":   Version,
		"commit":    commit(),
		"builtAt":   BuiltAt,
		"goVersion": runtime.Version(),
	}
}

// String is the one-line form printed by -version.
func String() string {
	c := commit()
	if len(c) > 12 {
		c = c[:12]
	}
	if c == "" {
		c = "unknown"
	}
	return fmt.Sprintf("%s (%s, %s)", Version, c, runtime.Version())
}
