package main

import (
	"os"

	"github.com/framepac/frinspect/cmd/frinspect/cmds"
	"github.com/framepac/frinspect/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.FrinspectVersion.Build = Build
	}
	if err := cmds.New(false).Execute(); err != nil {
		os.Exit(1)
	}
}
