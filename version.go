package main

import (
	"runtime/debug"
	"strings"
)

// buildVersion is set at build time:
//
//	go build -ldflags "-X main.buildVersion=$(git rev-parse HEAD)"
var buildVersion = ""

const serviceName = "primarysources-status"

// resolveBuildVersion prefers the linker-injected value, then the VCS
// revision recorded by the Go toolchain.
func resolveBuildVersion() string {
	if v := strings.TrimSpace(buildVersion); v != "" {
		return v
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	var revision string
	modified := false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}
	if revision == "" {
		return "dev"
	}
	if modified {
		revision += "-dirty"
	}
	return revision
}
