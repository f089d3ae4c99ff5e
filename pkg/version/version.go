package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Version represents the current version of frinspect.
type Version struct {
	Major    string
	Minor    string
	Patch    string
	Metadata string
	Build    string
}

// FrinspectVersion is the current version of frinspect.
var FrinspectVersion = Version{
	Major: "0", Minor: "3", Patch: "1", Metadata: "",
	Build: "$Id$",
}

func (v Version) String() string {
	if strings.HasPrefix(v.Build, "$Id$") {
		v.Build = vcsRevision(v.Build)
	}
	ver := fmt.Sprintf("Version: %s.%s.%s", v.Major, v.Minor, v.Patch)
	if v.Metadata != "" {
		ver += "-" + v.Metadata
	}
	return fmt.Sprintf("%s\nBuild: %s", ver, v.Build)
}

// vcsRevision returns the revision stamped by the go tool, or def when the
// binary carries none.
func vcsRevision(def string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return def
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			return setting.Value
		}
	}
	return def
}

// BuildInfo returns the go version and the module versions frinspect was
// built with, one module per line.
func BuildInfo() string {
	var sb strings.Builder
	sb.WriteString(runtime.Version())
	sb.WriteByte('\n')
	info, ok := debug.ReadBuildInfo()
	if !ok {
		sb.WriteString("not built in module mode\n")
		return sb.String()
	}
	writeModule(&sb, "mod", &info.Main)
	for _, dep := range info.Deps {
		writeModule(&sb, "dep", dep)
	}
	return sb.String()
}

func writeModule(sb *strings.Builder, kind string, m *debug.Module) {
	fmt.Fprintf(sb, " %s\t%s\t%s\t%s", kind, m.Path, m.Version, m.Sum)
	if r := m.Replace; r != nil {
		fmt.Fprintf(sb, "\t=> %s\t%s\t%s", r.Path, r.Version, r.Sum)
	}
	sb.WriteByte('\n')
}
