package terminal

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/framepac/frinspect/pkg/config"
	"github.com/framepac/frinspect/pkg/inspect"
	"github.com/framepac/frinspect/pkg/proc"
)

// WriteMarkdown writes the documentation of the terminal commands, the
// configuration parameters and the built-in decoders to w.
func (commands *Commands) WriteMarkdown(w io.Writer) {
	fmt.Fprint(w, "# Configuration and Command History\n\n")
	fmt.Fprint(w, "Configuration and command history files are located in `$HOME/.frinspect`. ")
	fmt.Fprint(w, "The command history is stored in `.frinspect_history`. ")
	fmt.Fprint(w, "The configuration file `config.yml` accepts the following parameters, ")
	fmt.Fprint(w, "all of which can also be changed with the `config` command:\n\n")
	it := iterateConfiguration(&config.Config{})
	for it.Next() {
		if name, _ := it.Field(); name != "" {
			fmt.Fprintf(w, "- `%s`\n", name)
		}
	}

	fmt.Fprint(w, "\n# Commands\n")
	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(w, "\n## %s\n\n", cgd.description)
		fmt.Fprint(w, "Command | Description\n")
		fmt.Fprint(w, "--------|------------\n")
		for _, cmd := range commands.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			fmt.Fprintf(w, "[%s](#%s) | %s\n", cmd.aliases[0], cmd.aliases[0], h)
		}
	}
	fmt.Fprint(w, "\n")

	for _, cmd := range commands.cmds {
		fmt.Fprintf(w, "## %s\n%s\n\n", cmd.aliases[0], cmd.helpMsg)
		if len(cmd.aliases) > 1 {
			fmt.Fprintf(w, "Aliases: %s\n\n", strings.Join(cmd.aliases[1:], " "))
		}
		if cmd.typeArg {
			fmt.Fprint(w, "The type argument is completed from the registered decoders.\n\n")
		}
	}

	writeDecodersMarkdown(w)
}

func writeDecodersMarkdown(w io.Writer) {
	disp := inspect.NewDispatcher(proc.NewBytesMemory(0, nil), inspect.Config{})
	fmt.Fprint(w, "# Built-in decoders\n\n")
	fmt.Fprint(w, "Patterns ending in `<` or `*` match every type name starting with them.\n\n")
	for _, pattern := range disp.Decoders() {
		fmt.Fprintf(w, "- `%s`\n", pattern)
	}

	tags := make([]string, 0, len(inspect.DefaultAliases))
	for tag := range inspect.DefaultAliases {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	fmt.Fprint(w, "\n# Type aliases\n\n")
	fmt.Fprint(w, "Type tag | Decoded as\n")
	fmt.Fprint(w, "---------|-----------\n")
	for _, tag := range tags {
		fmt.Fprintf(w, "%s | `%s`\n", tag, inspect.DefaultAliases[tag])
	}
}
