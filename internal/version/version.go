// Package version carries build metadata injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders the version line printed by `aeris version`.
func String() string {
	commit := Commit
	if commit == "none" {
		if revision, ok := vcsRevision(); ok {
			commit = revision
		}
	}
	return fmt.Sprintf("aeris %s (commit=%s, date=%s, go=%s)", Version, commit, Date, runtime.Version())
}

// vcsRevision falls back to the revision stamped by `go build` in a checkout.
func vcsRevision() (string, bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && setting.Value != "" {
			if len(setting.Value) > 12 {
				return setting.Value[:12], true
			}
			return setting.Value, true
		}
	}
	return "", false
}
