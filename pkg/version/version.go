// Package version reports what build of netra is running. Release builds
// stamp the values with -ldflags:
//
//	-X github.com/netra-ai/netra/pkg/version.release=v1.4.0
//	-X github.com/netra-ai/netra/pkg/version.commit=<sha>
//
// Builds from a git checkout fall back to the VCS metadata the Go toolchain
// embeds; anything else reports "dev".
package version

import "runtime/debug"

// release and commit are stamped via -ldflags. Empty means unstamped.
var (
	release string
	commit  string
)

// Commit is the short commit hash identifying this build, with a "-dirty"
// suffix when the working tree had local changes.
var Commit = resolveCommit(commit, vcsSettings())

// Release is the release tag for this build, or "dev" when unstamped.
var Release = resolveRelease(release)

func vcsSettings() map[string]string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	settings := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	return settings
}

func resolveCommit(override string, settings map[string]string) string {
	sha := override
	if sha == "" {
		sha = settings["vcs.revision"]
	}
	if sha == "" {
		return "dev"
	}
	if len(sha) > 8 {
		sha = sha[:8]
	}
	if override == "" && settings["vcs.modified"] == "true" {
		sha += "-dirty"
	}
	return sha
}

func resolveRelease(override string) string {
	if override != "" {
		return override
	}
	return "dev"
}

// Full returns "netra/<release>+<commit>", the form used in startup logs and
// health responses.
func Full() string {
	return "netra/" + Release + "+" + Commit
}
