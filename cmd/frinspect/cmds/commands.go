package cmds

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/framepac/frinspect/cmd/frinspect/cmds/helphelpers"
	"github.com/framepac/frinspect/pkg/config"
	"github.com/framepac/frinspect/pkg/inspect"
	"github.com/framepac/frinspect/pkg/layout"
	"github.com/framepac/frinspect/pkg/logflags"
	"github.com/framepac/frinspect/pkg/proc"
	"github.com/framepac/frinspect/pkg/terminal"
	"github.com/framepac/frinspect/pkg/version"
	"github.com/framepac/frinspect/service"
	"github.com/framepac/frinspect/service/dap"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// addr is the dap server listen address.
	addr string
	// initFile is the path to initialization file.
	initFile string
	// configFile replaces $HOME/.frinspect/config.yml.
	configFile string

	// dapPid, dapCore and dapSnapshot select the memory image served by
	// the dap command.
	dapPid      int
	dapCore     string
	dapSnapshot string

	// usageDir is where the doc command writes the command line usage.
	usageDir string

	// verbose makes the version command print build information.
	verbose bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const frinspectCommandLongDesc = `frinspect is a pretty printer for the objects of FramepaC programs.

It reads the memory of a live process, a core file or a memory snapshot and
renders the runtime objects it finds there (strings, symbols, arrays, lists,
hash tables, vectors and more) in a readable form, either in an interactive
terminal or through the Debug Adaptor Protocol.`

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	// Main frinspect root command.
	rootCommand = &cobra.Command{
		Use:   "frinspect",
		Short: "frinspect is a pretty printer for FramepaC objects.",
		Long:  frinspectCommandLongDesc,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig()
		},
		SilenceUsage: true,
	}

	rootCommand.PersistentFlags().StringVarP(&addr, "listen", "l", "127.0.0.1:0", "DAP server listen address.")

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'frinspect help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'frinspect help log').")
	rootCommand.PersistentFlags().StringVar(&initFile, "init", "", "Init file, executed by the terminal client.")
	rootCommand.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file to use instead of $HOME/.frinspect/config.yml.")

	// 'attach' subcommand.
	attachCommand := &cobra.Command{
		Use:   "attach pid",
		Short: "Attach to a running process and begin inspecting it.",
		Long: `Attach to an already running process and begin inspecting its memory.

The process is never stopped or modified, objects are read while it runs.
Only supported on linux.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("you must provide a PID")
			}
			return nil
		},
		Run: attachCmd,
	}
	rootCommand.AddCommand(attachCommand)

	// 'core' subcommand.
	coreCommand := &cobra.Command{
		Use:   "core <core>",
		Short: "Inspect a core dump.",
		Long: `Inspect the memory contained in an ELF core dump.

Only 64bit little endian core files are supported.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("you must provide a core file")
			}
			return nil
		},
		Run: coreCmd,
	}
	rootCommand.AddCommand(coreCommand)

	// 'snapshot' subcommand.
	snapshotCommand := &cobra.Command{
		Use:   "snapshot <file.yml>",
		Short: "Inspect a memory snapshot.",
		Long: `Inspect the memory described by a YAML snapshot file.

A snapshot lists memory regions, each with a start address and either inline
hex data or the path of a file holding the raw bytes:

	regions:
	  - addr: 0x10000
	    name: heap
	    data: "80000100 00000000"
	  - addr: 0x7f0000000000
	    file: stack.bin
`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("you must provide a snapshot file")
			}
			return nil
		},
		Run: snapshotCmd,
	}
	rootCommand.AddCommand(snapshotCommand)

	// 'dap' subcommand.
	dapCommand := &cobra.Command{
		Use:   "dap",
		Short: "Starts a TCP server communicating via Debug Adaptor Protocol (DAP).",
		Long: `Starts a TCP server communicating via Debug Adaptor Protocol (DAP).

The memory image is selected on the command line with exactly one of --pid,
--core or --snapshot, launch and attach requests only acknowledge it.
Evaluate requests take an expression of the form "<address> [type]".
The server does not accept multiple client connections.`,
		Run: dapCmd,
	}
	dapCommand.Flags().IntVar(&dapPid, "pid", 0, "Process to inspect.")
	dapCommand.Flags().StringVar(&dapCore, "core", "", "Core file to inspect.")
	dapCommand.Flags().StringVar(&dapSnapshot, "snapshot", "", "Snapshot file to inspect.")
	rootCommand.AddCommand(dapCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("frinspect\n%s\n", version.FrinspectVersion)
			if verbose {
				fmt.Printf("%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	inspect		Log type resolution and malformed objects
	terminal	Log failed terminal commands
	dap		Log all DAP messages
	proc		Log memory sources
	starlark	Log starlark decoder failures

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
This option will also redirect the "server listening at" message in dap mode.

`,
	})

	// 'doc' subcommand, writes the terminal command reference or, with
	// --usage-dir, one markdown file per command line subcommand.
	docCommand := &cobra.Command{
		Use:    "doc",
		Short:  "Prints the terminal command reference in markdown.",
		Hidden: !docCall,
		RunE: func(cmd *cobra.Command, args []string) error {
			if usageDir != "" {
				return doc.GenMarkdownTree(rootCommand, usageDir)
			}
			terminal.InspectCommands().WriteMarkdown(os.Stdout)
			return nil
		},
	}
	docCommand.Flags().StringVar(&usageDir, "usage-dir", "", "Write the command line usage documentation to this directory.")
	rootCommand.AddCommand(docCommand)

	defaultHelp := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		helphelpers.Prepare(cmd)
		defaultHelp(cmd, args)
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func loadConfig() error {
	if configFile == "" {
		conf = config.LoadConfig()
		return nil
	}
	var err error
	conf, err = config.LoadConfigFrom(configFile)
	return err
}

// newDispatcher builds the dispatcher reading src with the type resolver,
// layouts, aliases and bounds of conf.
func newDispatcher(src proc.MemoryReader, conf *config.Config) (*inspect.Dispatcher, error) {
	resolver, err := inspect.NewTypeResolver(conf.TypeResolver, config.IntOr(conf.VtableMaskBits, inspect.DefaultMaskBits))
	if err != nil {
		return nil, err
	}
	layouts := layout.Default()
	layouts.Merge(conf.Layouts)
	load := inspect.DefaultLoadConfig
	load.MaxVariableRecurse = config.IntOr(conf.MaxVariableRecurse, load.MaxVariableRecurse)
	load.MaxArrayValues = config.IntOr(conf.MaxArrayValues, load.MaxArrayValues)
	load.MaxListItems = config.IntOr(conf.MaxListItems, load.MaxListItems)
	return inspect.NewDispatcher(src, inspect.Config{
		Resolver: resolver,
		Layouts:  layouts,
		Load:     load,
		Aliases:  conf.TypeAliases,
	}), nil
}

func attachCmd(cmd *cobra.Command, args []string) {
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid pid: %s\n", args[0])
		os.Exit(1)
	}
	os.Exit(execute(func() (proc.Source, error) { return proc.AttachProcess(pid) }))
}

func coreCmd(cmd *cobra.Command, args []string) {
	os.Exit(execute(func() (proc.Source, error) { return proc.OpenCore(args[0]) }))
}

func snapshotCmd(cmd *cobra.Command, args []string) {
	os.Exit(execute(func() (proc.Source, error) { return proc.LoadSnapshot(args[0]) }))
}

// sourceFromFlags opens the memory image selected by the flags of the dap
// command.
func sourceFromFlags() (func() (proc.Source, error), error) {
	n := 0
	var open func() (proc.Source, error)
	if dapPid != 0 {
		n++
		open = func() (proc.Source, error) { return proc.AttachProcess(dapPid) }
	}
	if dapCore != "" {
		n++
		open = func() (proc.Source, error) { return proc.OpenCore(dapCore) }
	}
	if dapSnapshot != "" {
		n++
		open = func() (proc.Source, error) { return proc.LoadSnapshot(dapSnapshot) }
	}
	if n != 1 {
		return nil, errors.New("exactly one of --pid, --core or --snapshot must be specified")
	}
	return open, nil
}

func dapCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		if err := logflags.Setup(log, logOutput, logDest); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer logflags.Close()

		if initFile != "" {
			fmt.Fprint(os.Stderr, "Warning: init file ignored with dap\n")
		}
		if len(args) > 0 {
			fmt.Fprintf(os.Stderr, "Warning: arguments ignored with dap\n")
		}

		open, err := sourceFromFlags()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		src, err := open()
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not open memory image: %v\n", err)
			return 1
		}
		disp, err := newDispatcher(src, conf)
		if err != nil {
			src.Close()
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}

		listener, err := net.Listen("tcp", addr)
		if err != nil {
			src.Close()
			fmt.Printf("couldn't start listener: %s\n", err)
			return 1
		}
		disconnectChan := make(chan struct{})
		server := dap.NewServer(&service.Config{
			Listener:       listener,
			Dispatcher:     disp,
			Source:         src,
			DisconnectChan: disconnectChan,
		})
		defer server.Stop()

		server.Run()
		waitForDisconnectSignal(disconnectChan)
		return 0
	}()
	os.Exit(status)
}

// waitForDisconnectSignal is a blocking function that waits for either
// a SIGINT (Ctrl-C) signal from the OS or for disconnectChan to be closed
// by the server when the client disconnects.
func waitForDisconnectSignal(disconnectChan chan struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	if runtime.GOOS == "windows" {
		// On windows Ctrl-C is also delivered to the terminal that started
		// the frontend, only stop on disconnect.
		<-disconnectChan
		return
	}
	select {
	case <-ch:
	case <-disconnectChan:
	}
}

// execute opens the memory image and runs the terminal on it.
func execute(open func() (proc.Source, error)) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	src, err := open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not open memory image: %v\n", err)
		return 1
	}
	defer src.Close()

	if logflags.Proc() {
		logflags.ProcLogger().Debugf("opened memory image with %d regions", len(src.Regions()))
	}

	disp, err := newDispatcher(src, conf)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	term := terminal.New(disp, src, conf)
	term.InitFile = initFile
	status, err := term.Run()
	if err != nil {
		fmt.Println(err)
	}
	return status
}
