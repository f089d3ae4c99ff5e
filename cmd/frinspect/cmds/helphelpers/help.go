package helphelpers

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// hiddenFlags lists, for each subcommand, the root flags that have no
// effect on it. A nil list hides every flag.
var hiddenFlags = map[string][]string{
	"frinspect": nil,
	"help":      nil,
	"version":   nil,
	"log":       nil,
	"doc":       nil,
	"attach":    {"listen"},
	"core":      {"listen"},
	"snapshot":  {"listen"},
	"dap":       {"init"},
}

// Prepare hides the flags cmd parses but ignores before cobra prints its
// usage. Flags stay on the root command so that
//
//	frinspect --listen :4000 core ./core
//
// still parses, even though only 'dap' listens.
//
// Prepare is destructive, cmd can not be reused after it has been called.
func Prepare(cmd *cobra.Command) {
	names, ok := hiddenFlags[cmd.Name()]
	if !ok {
		return
	}
	if names == nil {
		hide := func(flag *pflag.Flag) { flag.Hidden = true }
		cmd.PersistentFlags().VisitAll(hide)
		cmd.Flags().VisitAll(hide)
		return
	}
	for _, name := range names {
		hideFlag(cmd, name)
	}
}

// hideFlag hides the flag name of cmd or, if cmd inherits it, of the
// ancestor defining it.
func hideFlag(cmd *cobra.Command, name string) {
	for ; cmd != nil; cmd = cmd.Parent() {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			flag = cmd.PersistentFlags().Lookup(name)
		}
		if flag != nil {
			flag.Hidden = true
			return
		}
	}
}
