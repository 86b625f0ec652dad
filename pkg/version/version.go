// Package version holds the version of the kernel monitor.
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Version represents the current version of kmon.
type Version struct {
	Major    string
	Minor    string
	Patch    string
	Metadata string
	Build    string
}

// KmonVersion is the current version of kmon.
var KmonVersion = Version{
	Major: "0", Minor: "3", Patch: "0", Metadata: "",
	Build: "$Id$",
}

func (v Version) String() string {
	if strings.HasPrefix(v.Build, "$Id$") {
		fixBuild(&v)
	}
	ver := fmt.Sprintf("Version: %s.%s.%s", v.Major, v.Minor, v.Patch)
	if v.Metadata != "" {
		ver += "-" + v.Metadata
	}
	return fmt.Sprintf("%s\nBuild: %s", ver, v.Build)
}

var buildInfo = func() string {
	return ""
}

// fixBuild replaces an unexpanded Build identifier with the VCS revision
// recorded by the toolchain, when it knows about it.
var fixBuild = func(v *Version) {}

// BuildInfo returns the Go version and the module dependencies kmon was
// built with.
func BuildInfo() string {
	return fmt.Sprintf("%s\n%s", runtime.Version(), buildInfo())
}
