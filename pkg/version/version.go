package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Build information, set at build time via ldflags. When a binary is built
// without them (plain go build), commit and date fall back to the VCS
// metadata the toolchain embeds.
var (
	// Version is the semantic version (e.g. "1.2.3")
	Version = "dev"

	// GitCommit is the git commit hash
	GitCommit = "unknown"

	// GitBranch is the git branch name
	GitBranch = "unknown"

	// BuildDate is the build timestamp
	BuildDate = "unknown"

	// BuildUser is who built the binary
	BuildUser = "unknown"
)

// Info contains all version information
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	GitBranch string `json:"git_branch"`
	BuildDate string `json:"build_date"`
	BuildUser string `json:"build_user"`
	GoVersion string `json:"go_version"`
	Compiler  string `json:"compiler"`
	Platform  string `json:"platform"`
}

// Get returns the version information
func Get() Info {
	commit, date := GitCommit, BuildDate
	if commit == "unknown" {
		if vcsCommit, vcsDate, ok := vcsInfo(); ok {
			commit, date = vcsCommit, vcsDate
		}
	}

	return Info{
		Version:   Version,
		GitCommit: commit,
		GitBranch: GitBranch,
		BuildDate: date,
		BuildUser: BuildUser,
		GoVersion: runtime.Version(),
		Compiler:  runtime.Compiler,
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// GetVersionString returns a formatted version string
func GetVersionString() string {
	info := Get()
	if info.GitCommit != "unknown" {
		if len(info.GitCommit) > 7 {
			return fmt.Sprintf("%s (%s)", info.Version, info.GitCommit[:7])
		}
		return fmt.Sprintf("%s (%s)", info.Version, info.GitCommit)
	}
	return info.Version
}

// GetBuildInfo returns detailed build information
func GetBuildInfo() string {
	info := Get()
	return fmt.Sprintf("Version: %s\nCommit: %s\nBranch: %s\nBuilt: %s by %s\nGo: %s (%s)\nPlatform: %s",
		info.Version,
		info.GitCommit,
		info.GitBranch,
		info.BuildDate,
		info.BuildUser,
		info.GoVersion,
		info.Compiler,
		info.Platform,
	)
}

// vcsInfo reads the commit and commit time the Go toolchain embedded
func vcsInfo() (commit, date string, ok bool) {
	buildInfo, readOK := debug.ReadBuildInfo()
	if !readOK {
		return "", "", false
	}

	for _, setting := range buildInfo.Settings {
		switch setting.Key {
		case "vcs.revision":
			commit = setting.Value
		case "vcs.time":
			date = setting.Value
		}
	}

	if commit == "" {
		return "", "", false
	}
	if date == "" {
		date = "unknown"
	}
	return commit, date, true
}
