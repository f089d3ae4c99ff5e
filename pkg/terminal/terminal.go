package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-delve/liner"

	"github.com/framepac/frinspect/pkg/config"
	"github.com/framepac/frinspect/pkg/inspect"
	"github.com/framepac/frinspect/pkg/logflags"
	"github.com/framepac/frinspect/pkg/proc"
	"github.com/framepac/frinspect/pkg/terminal/starbind"
)

// Term represents the terminal running frinspect.
type Term struct {
	disp     *inspect.Dispatcher
	src      proc.Source
	conf     *config.Config
	prompt   string
	line     *liner.State
	cmds     *Commands
	dumb     bool
	// colorTTY is set when the output is a terminal that can show colours.
	colorTTY bool
	stdout   *transcriptWriter
	InitFile string

	starlarkEnv *starbind.Env
}

// New returns a new Term reading objects through disp. The memory source
// src is used by the commands that list or read raw memory, it may be nil.
func New(disp *inspect.Dispatcher, src proc.Source, conf *config.Config) *Term {
	cmds := InspectCommands()
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = &config.Config{}
	}

	var w io.Writer

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb"
	if dumb {
		w = os.Stdout
	} else {
		w = getColorableWriter()
	}

	t := &Term{
		disp:     disp,
		src:      src,
		conf:     conf,
		prompt:   "(frinspect) ",
		line:     liner.NewLiner(),
		cmds:     cmds,
		dumb:     dumb,
		colorTTY: !dumb && isTerminal(os.Stdout),
		stdout:   newTranscriptWriter(w),
	}
	t.starlarkEnv = starbind.New(starlarkContext{t}, t.stdout)
	return t
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	t.line.Close()
	if err := t.stdout.CloseTranscript(); err != nil {
		fmt.Fprintf(os.Stderr, "error closing transcript file: %v\n", err)
	}
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.starlarkEnv.Cancel()
		fmt.Fprintf(os.Stderr, "received SIGINT, cancelling running script\n")
	}
}

// Run begins running frinspect in the terminal.
func (t *Term) Run() (int, error) {
	defer t.Close()

	// Cancel running starlark scripts on SIGINT.
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	go t.sigintGuard(ch)

	t.line.SetCtrlCAborts(true)
	t.line.SetCompleter(t.complete)

	fullHistoryFile, err := config.GetHistoryFilePath()
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}

	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Println("Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				continue
			}
			if err == io.EOF {
				fmt.Println("exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("Prompt for input failed.\n")
		}

		err = t.cmds.Call(cmdstr, t)
		t.stdout.pw.Reset()
		t.stdout.Flush()
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			if logflags.Terminal() {
				logflags.TerminalLogger().WithError(err).Debugf("command %q failed", cmdstr)
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

// complete returns the completions of line: command names for the first
// word, type names for the last argument of commands that take one.
func (t *Term) complete(line string) (c []string) {
	cmd, rest, found := strings.Cut(line, " ")
	if !found {
		for _, cmd := range t.cmds.cmds {
			for _, alias := range cmd.aliases {
				if strings.HasPrefix(alias, strings.ToLower(line)) {
					c = append(c, alias)
				}
			}
		}
		return
	}
	if !t.cmds.takesType(cmd) {
		return
	}
	i := strings.LastIndex(rest, " ")
	head, word := line[:len(cmd)+1+i+1], rest[i+1:]
	seen := make(map[string]bool)
	for _, name := range t.disp.Complete(word) {
		seen[name] = true
		c = append(c, head+name)
	}
	for _, name := range t.disp.Layouts().Names() {
		if strings.HasPrefix(name, word) && !seen[name] {
			c = append(c, head+name)
		}
	}
	return
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetHistoryFilePath()
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}
	return 0, nil
}

func (t *Term) colorMarkers() bool {
	return t.colorTTY && t.conf.ColorEnabled()
}

// loadConfig returns the bounds specified in the configuration file.
func (t *Term) loadConfig() inspect.LoadConfig {
	r := inspect.DefaultLoadConfig
	r.MaxVariableRecurse = config.IntOr(t.conf.MaxVariableRecurse, r.MaxVariableRecurse)
	r.MaxArrayValues = config.IntOr(t.conf.MaxArrayValues, r.MaxArrayValues)
	r.MaxListItems = config.IntOr(t.conf.MaxListItems, r.MaxListItems)
	return r
}
