// Package terminal implements functions for responding to user
// input and dispatching to the object decoders.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"

	"github.com/framepac/frinspect/pkg/config"
	"github.com/framepac/frinspect/pkg/inspect"
)

// maxExamineBytes is the largest range examine reads at once.
const maxExamineBytes = 1000

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	// typeArg is set for commands whose last argument is a type name.
	typeArg bool
	helpMsg string
	cmdFn   cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands of the frinspect terminal.
type Commands struct {
	cmds []command
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// InspectCommands returns a Commands struct with default commands defined.
func InspectCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"print", "p"}, group: dataCmds, typeArg: true, cmdFn: printObject, helpMsg: `Decode and print the object at an address.

	print [-depth <n>] <address> [type]

The type of the object is read from its vtable unless a type name is given.
Children are loaded up to the configured max-variable-recurse depth, -depth
overrides it for one command. Type names containing spaces do not need to
be quoted as long as their angle brackets are balanced:

	print 0x7f3a2c001040 Fr::HashTable<Fr::Object*, Fr::Object*>`},
		{aliases: []string{"expand", "e"}, group: dataCmds, typeArg: true, cmdFn: expandObject, helpMsg: `Print the children of the object at an address, one per line.

	expand <address> [type]

Children that have children of their own are followed by their address, which
can be passed to expand again.`},
		{aliases: []string{"whatis"}, group: dataCmds, cmdFn: whatisCommand, helpMsg: `Prints the type of the object at an address.

	whatis <address>

Prints the type tag read from the object and, if it differs, the name of the
type it is decoded as.`},
		{aliases: []string{"examine", "x"}, group: memoryCmds, cmdFn: examineMemoryCmd, helpMsg: `Examine raw memory at the given address.

Examine memory:

	examine [-fmt <format>] [-count|-len <count>] [-size <size>] <address>

Format represents the data format and the value is one of this list (default hex): oct(octal), hex(hexadecimal), dec(decimal), bin(binary).
Length is the number of bytes (default 1) and must be less than or equal to 1000.
Size represents the size of each value in bytes (default 1).

For example:

    x -fmt hex -count 20 -size 1 0xc00008af38`},
		{aliases: []string{"regions"}, group: memoryCmds, cmdFn: regionsCommand, helpMsg: `Print the memory regions of the target.

	regions`},
		{aliases: []string{"layout"}, group: typeCmds, typeArg: true, cmdFn: layoutCommand, helpMsg: `Print field layouts.

	layout [type]

Without arguments prints the names of all known layouts, otherwise prints the
field offsets of the given type.`},
		{aliases: []string{"decoders"}, group: typeCmds, cmdFn: decodersCommand, helpMsg: `Print the registered decoder patterns.

	decoders [prefix]

Patterns ending in '<' or '*' match every type name they are a prefix of.`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of frinspect commands.

	source <path>

If path ends with the .star extension it will be interpreted as a starlark script.

If path is a single '-' character an interactive starlark interpreter will start instead. Type 'exit' to exit.`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter. Changing type-resolver or
vtable-mask-bits takes effect immediately.

	config layout <type> <field> <offset>

Sets the offset of a field in the layout of <type>.

	config type-alias <tag> <type>
	config type-alias <tag>

Adds or removes a type alias, objects tagged <tag> are decoded as <type>.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
		{aliases: []string{"transcript"}, cmdFn: transcript, helpMsg: `Appends command output to a file.

	transcript [-t] [-x] <output file>
	transcript -off

Output of frinspect's command is appended to the specified output file. If '-t' is specified and the output file exists it is truncated. If '-x' is specified output to stdout is suppressed instead.

Using the -off option disables the transcript.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit the inspector.

	exit`},
	}

	sort.Sort(byFirstAlias(c.cmds))
	return c
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			c.cmds[i].helpMsg = helpMsg
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
// An empty command string does nothing.
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

func (c *Commands) takesType(cmdstr string) bool {
	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.typeArg
		}
	}
	return false
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return errNoCmd
}

func nullCommand(t *Term, args string) error {
	return nil
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return errNoCmd
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

func parseAddress(s string) (uint64, error) {
	addr, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return addr, nil
}

// parseObjectArgs parses "<address> [type]". Spaces inside angle brackets
// do not split the type name.
func parseObjectArgs(args []string) (addr uint64, typ string, err error) {
	if len(args) == 0 {
		return 0, "", errors.New("not enough arguments")
	}
	addr, err = parseAddress(args[0])
	if err != nil {
		return 0, "", err
	}
	return addr, strings.Join(args[1:], " "), nil
}

func printObject(t *Term, args string) error {
	v := config.SplitQuotedFields(args, '"')
	cfg := t.disp.LoadConfig()
	if len(v) > 0 && v[0] == "-depth" {
		if len(v) < 2 {
			return errors.New("expected argument after -depth")
		}
		depth, err := strconv.Atoi(v[1])
		if err != nil || depth < 0 {
			return errors.New("depth must be a non-negative integer")
		}
		// A request with depth 0 still loads the children of the top
		// level object.
		cfg.MaxVariableRecurse = depth + 1
		v = v[2:]
	}
	addr, typ, err := parseObjectArgs(v)
	if err != nil {
		return err
	}
	val := t.disp.DecodeWith(cfg, addr, typ)
	if t.colorMarkers() {
		paintMarkers(&val)
	}
	t.stdout.pw.PageMaybe(nil)
	fmt.Fprintln(t.stdout, val.MultilineString(""))
	return nil
}

func expandObject(t *Term, args string) error {
	addr, typ, err := parseObjectArgs(config.SplitQuotedFields(args, '"'))
	if err != nil {
		return err
	}
	children := t.disp.Enumerate(addr, typ)
	if len(children) == 0 {
		fmt.Fprintln(t.stdout, "no children")
		return nil
	}
	t.stdout.pw.PageMaybe(nil)
	for i := range children {
		c := &children[i]
		if t.colorMarkers() {
			paintMarkers(&c.Value)
		}
		name := c.Label
		if c.Key != nil {
			name = c.Key.SinglelineString()
		}
		if c.IsEllipsis() {
			fmt.Fprintln(t.stdout, c.Value.Summary)
			continue
		}
		fmt.Fprintf(t.stdout, "%s: %s", name, c.Value.SinglelineString())
		if c.Value.Kind.Container() && c.Value.Marker == inspect.MarkerNone && c.Value.Addr != 0 {
			fmt.Fprintf(t.stdout, " (%#x)", c.Value.Addr)
		}
		fmt.Fprintln(t.stdout)
	}
	return nil
}

func whatisCommand(t *Term, args string) error {
	if len(args) == 0 {
		return errors.New("not enough arguments")
	}
	addr, err := parseAddress(args)
	if err != nil {
		return err
	}
	tag, err := t.disp.TypeTag(addr)
	if err != nil {
		return err
	}
	fmt.Fprintln(t.stdout, tag)
	name, ok := t.disp.DecoderFor(tag)
	if name != tag {
		fmt.Fprintf(t.stdout, "Decoded as: %s\n", name)
	}
	if !ok {
		fmt.Fprintln(t.stdout, "No decoder registered")
	}
	return nil
}

func examineMemoryCmd(t *Term, args string) error {
	vv, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return err
	}
	if len(vv) != 1 {
		return fmt.Errorf("illegal arguments '%s'", args)
	}
	v := vv[0]

	var (
		address uint64
		ok      bool
	)

	// Default value
	priFmt := byte('x')
	count := 1
	size := 1

	for i := 0; i < len(v); i++ {
		switch v[i] {
		case "-fmt":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -fmt")
			}
			fmtMapToPriFmt := map[string]byte{
				"oct":         'o',
				"octal":       'o',
				"hex":         'x',
				"hexadecimal": 'x',
				"dec":         'd',
				"decimal":     'd',
				"bin":         'b',
				"binary":      'b',
			}
			priFmt, ok = fmtMapToPriFmt[v[i]]
			if !ok {
				return fmt.Errorf("%q is not a valid format", v[i])
			}
		case "-count", "-len":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -count/-len")
			}
			var err error
			count, err = strconv.Atoi(v[i])
			if err != nil || count <= 0 {
				return fmt.Errorf("count/len must be a positive integer")
			}
		case "-size":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -size")
			}
			var err error
			size, err = strconv.Atoi(v[i])
			if err != nil || size <= 0 || size > 8 {
				return fmt.Errorf("size must be a positive integer (<=8)")
			}
		default:
			if i != len(v)-1 {
				return fmt.Errorf("unknown option %q", v[i])
			}
			address, err = parseAddress(v[i])
			if err != nil {
				return err
			}
		}
	}

	if count*size > maxExamineBytes {
		return fmt.Errorf("read memory range (count*size) must be less than or equal to %d bytes", maxExamineBytes)
	}

	if address == 0 {
		return fmt.Errorf("no address specified")
	}

	memArea := make([]byte, count*size)
	n, err := t.disp.Memory().ReadMemory(memArea, address)
	if n == 0 && err != nil {
		return err
	}
	fmt.Fprint(t.stdout, prettyExamineMemory(address, memArea[:n], priFmt, size))
	if err != nil {
		fmt.Fprintf(t.stdout, "(read stopped after %d bytes: %v)\n", n, err)
	}
	return nil
}

func regionsCommand(t *Term, args string) error {
	if t.src == nil {
		return errors.New("no memory source")
	}
	regions := t.src.Regions()
	if len(regions) == 0 {
		fmt.Fprintln(t.stdout, "no regions")
		return nil
	}
	w := tabwriter.NewWriter(t.stdout, 0, 8, 2, ' ', 0)
	for _, r := range regions {
		fmt.Fprintf(w, "%#x\t%#x\t%s\n", r.Addr, r.Addr+r.Len, r.Name)
	}
	return w.Flush()
}

func layoutCommand(t *Term, args string) error {
	if args == "" {
		for _, name := range t.disp.Layouts().Names() {
			fmt.Fprintln(t.stdout, name)
		}
		return nil
	}
	l, ok := t.disp.Layouts().Lookup(args)
	if !ok {
		return fmt.Errorf("no layout for %q", args)
	}
	fmt.Fprintln(t.stdout, l.String())
	return nil
}

func decodersCommand(t *Term, args string) error {
	for _, pattern := range t.disp.Decoders() {
		if strings.HasPrefix(pattern, args) {
			fmt.Fprintln(t.stdout, pattern)
		}
	}
	return nil
}

func (c *Commands) sourceCommand(t *Term, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}

	if filepath.Ext(args) == ".star" {
		_, err := t.starlarkEnv.Execute(args, nil, "main", nil)
		return err
	}

	if args == "-" {
		return t.starlarkEnv.REPL()
	}

	return c.executeFile(t, args)
}

func transcript(t *Term, args string) error {
	truncate := false
	fileOnly := false
	disable := false
	path := ""
	for _, arg := range strings.Fields(args) {
		switch arg {
		case "-x":
			fileOnly = true
		case "-t":
			truncate = true
		case "-off":
			disable = true
		default:
			if path != "" || strings.HasPrefix(arg, "-") {
				return fmt.Errorf("unrecognized option %q", arg)
			}
			path = arg
		}
	}

	if disable {
		if path != "" {
			return errors.New("output file specified with -off")
		}
		return t.stdout.CloseTranscript()
	}

	if path == "" {
		return errors.New("no output file specified")
	}

	flags := os.O_APPEND | os.O_WRONLY | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	}
	fh, err := os.OpenFile(path, flags, 0660)
	if err != nil {
		return err
	}

	if err := t.stdout.CloseTranscript(); err != nil {
		return err
	}

	t.stdout.TranscribeTo(fh, fileOnly)
	return nil
}

// ExitRequestError is returned when the user
// exits frinspect.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}
