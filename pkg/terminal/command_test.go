package terminal

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCommandDefault(t *testing.T) {
	var (
		cmds = Commands{}
		cmd  = cmds.Find("non-existant-command")
	)

	err := cmd(nil, "")
	if err == nil {
		t.Fatal("cmd() did not default")
	}

	if err.Error() != "command not available" {
		t.Fatal("wrong command output")
	}
}

func TestCommandEmptyLine(t *testing.T) {
	var (
		cmds = InspectCommands()
		cmd  = cmds.Find("")
		err  = cmd(nil, "")
	)

	if err != nil {
		t.Error("Null command not returned", err)
	}
}

func TestExitCommand(t *testing.T) {
	var (
		cmds = InspectCommands()
		cmd  = cmds.Find("exit")
	)

	err := cmd(nil, "")
	if _, ok := err.(ExitRequestError); !ok {
		t.Fatalf("expected ExitRequestError, got %v", err)
	}
}

func TestPrint(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.AssertExec("print 0x12000", "42\n")
		term.AssertExec("p 0x12100", "Array(3/4) [42, -7, NULL]\n")
		term.AssertExec("print 0x12180", "Array(1/1) [\n\tArray(3/4) [42, -7, NULL],\n]\n")
		term.AssertExec("print -depth 0 0x12180", "Array(1/1) [\n\tArray(3/4) [...],\n]\n")
		// An explicit type overrides the vtable.
		term.AssertExec("print 0x12100 Fr::Integer", "74240\n")
		term.AssertExec("print 0x12200", "(unknown) @ 0x12200\n")
		term.AssertExecError("print", "not enough arguments")
		term.AssertExecError("print zzz", `invalid address "zzz"`)
		term.AssertExecError("print -depth", "expected argument after -depth")
	})
}

func TestExpand(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.AssertExec("expand 0x12100", "0: 42\n1: -7\n2: NULL\n")
		term.AssertExec("e 0x12180", "0: Array(3/4) [42, -7, NULL] (0x12100)\n")
		term.AssertExec("expand 0x12000", "no children\n")
	})
}

func TestWhatis(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.AssertExec("whatis 0x12100", "Fr::Array\n")
		if _, err := term.Exec("whatis 0x12200"); err == nil {
			t.Fatal("expected error for an object without a type")
		}
		term.MustExec("config type-alias Fr::Array Fr::Integer")
		term.AssertExec("whatis 0x12100", "Fr::Array\nDecoded as: Fr::Integer\n")
	})
}

func TestExamineMemoryCommand(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out := term.MustExec("x -fmt dec -count 2 -size 1 0x12008")
		if !strings.HasPrefix(out, "0x12008:   042   000") {
			t.Fatalf("unexpected output %q", out)
		}
		term.AssertExecError("x -count 2000 0x12008", "read memory range (count*size) must be less than or equal to 1000 bytes")
		term.AssertExecError("x -fmt wrong 0x12008", `"wrong" is not a valid format`)
		term.AssertExecError("x -size 9 0x12008", "size must be a positive integer (<=8)")
		term.AssertExecError("x -count 1", "no address specified")
		if _, err := term.Exec("x 0x8"); err == nil {
			t.Fatal("expected error reading unmapped memory")
		}
	})
}

func TestRegions(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.AssertExec("regions", "0x10000  0x14000  fixture\n")
	})
}

func TestLayoutAndDecoders(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.AssertExec("layout Fr::Integer", "Fr::Integer { value@8 }\n")
		term.AssertExec("layout Integer", "Fr::Integer { value@8 }\n")
		term.AssertExecError("layout Fr::Missing", `no layout for "Fr::Missing"`)
		if out := term.MustExec("layout"); !strings.Contains(out, "Fr::HashTable.Entry\n") {
			t.Fatalf("layout names missing: %q", out)
		}
		term.AssertExec("decoders Fr::HashTable", "Fr::HashTable\nFr::HashTable<\n")
	})
}

func TestConfigureCommand(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.MustExec("config max-array-values 1")
		if *term.conf.MaxArrayValues != 1 {
			t.Fatalf("max-array-values not set")
		}
		term.AssertExec("print 0x12100", "Array(3/4) [42, ...]\n")

		term.MustExec("config alias print pp")
		term.AssertExec("pp 0x12000", "42\n")
		term.MustExec("config alias pp")
		term.AssertExecError("pp 0x12000", "command not available")

		term.MustExec("config type-alias Fr::Array Fr::Integer")
		term.AssertExec("print 0x12100", "74240\n")
		term.MustExec("config type-alias Fr::Array")
		term.AssertExec("print 0x12100", "Array(3/4) [42, ...]\n")

		term.AssertExecError("config nonexistent 1", `"nonexistent" is not a configuration parameter`)
		term.AssertExecError("config max-list-items abc", `argument to "max-list-items" must be a number`)

		out := term.MustExec("config -list")
		if !strings.Contains(out, "max-array-values     1\n") {
			t.Fatalf("unexpected config -list output %q", out)
		}

		term.MustExec("config layout Integer value 0x18")
		if term.conf.Layouts["Fr::Integer"]["value"] != 0x18 {
			t.Fatalf("layout override not saved: %v", term.conf.Layouts)
		}
		term.AssertExec("print 0x12000", "-7\n")
		term.AssertExecError("config layout Integer value", `wrong number of arguments to "config layout"`)
		term.AssertExecError("config layout Integer value far", `invalid offset "far"`)

		term.AssertExecError("config type-resolver dwarf", `unknown type resolver "dwarf"`)
		if term.conf.TypeResolver != "" {
			t.Fatalf("rejected resolver kept: %q", term.conf.TypeResolver)
		}
		term.MustExec("config type-resolver vtable")
		term.MustExec("config vtable-mask-bits 12")
		term.AssertExec("whatis 0x12010", "Fr::Integer\n")
	})
}

func TestColorMarkers(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.colorTTY = true
		out := term.MustExec("print 0x12100")
		if !strings.Contains(out, "\x1b[90mNULL\x1b[0m") {
			t.Fatalf("NULL marker not coloured: %q", out)
		}
		term.MustExec("config color-markers false")
		term.AssertExec("print 0x12100", "Array(3/4) [42, -7, NULL]\n")
	})
}

func TestHelp(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out := term.MustExec("help")
		for _, s := range []string{"Viewing objects:", "print (alias: p)", "Reading raw memory:", "examine (alias: x)"} {
			if !strings.Contains(out, s) {
				t.Errorf("help output does not contain %q", s)
			}
		}
		if out := term.MustExec("help print"); !strings.Contains(out, "print [-depth <n>] <address> [type]") {
			t.Errorf("unexpected help for print: %q", out)
		}
		term.AssertExecError("help nonexistent", "command not available")
	})
}

func TestExecuteFile(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		path := filepath.Join(t.TempDir(), "commands.txt")
		if err := os.WriteFile(path, []byte("# comment\nprint 0x12000\n\nbogus\n"), 0600); err != nil {
			t.Fatal(err)
		}
		term.AssertExec("source "+path, "42\n"+path+":4: command not available\n")
	})
}

func TestStarlarkCommands(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		path := filepath.Join(t.TempDir(), "commands.star")
		const script = `
def command_twice(args):
	"prints an object twice"
	frinspect_command("print", args)
	frinspect_command("print", args)

def main():
	print(type_tag(0x12100))
`
		if err := os.WriteFile(path, []byte(script), 0600); err != nil {
			t.Fatal(err)
		}
		term.AssertExec("source "+path, "Fr::Array\n")
		term.AssertExec("twice 0x12000", "42\n42\n")
		if out := term.MustExec("help twice"); out != "prints an object twice\n" {
			t.Fatalf("unexpected help %q", out)
		}
	})
}

func TestTranscript(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		path := filepath.Join(t.TempDir(), "transcript.txt")
		term.MustExec("transcript -t " + path)
		term.AssertExec("print 0x12000", "42\n")
		term.MustExec("transcript -off")
		term.MustExec("print 0x12010")
		buf, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if string(buf) != "42\n" {
			t.Fatalf("unexpected transcript %q", buf)
		}
		term.AssertExecError("transcript", "no output file specified")
	})
}

func TestComplete(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		if c := term.complete("whati"); len(c) != 1 || c[0] != "whatis" {
			t.Errorf("unexpected command completion %q", c)
		}
		c := term.complete("print 0x12100 Fr::ListB")
		if len(c) != 1 || c[0] != "print 0x12100 Fr::ListBuilder" {
			t.Errorf("unexpected type completion %q", c)
		}
		if c := term.complete("x 0x12"); len(c) != 0 {
			t.Errorf("unexpected completion for examine %q", c)
		}
	})
}

func TestWriteMarkdown(t *testing.T) {
	var buf bytes.Buffer
	cmds := InspectCommands()
	cmds.WriteMarkdown(&buf)
	out := buf.String()
	for _, cmd := range cmds.cmds {
		if !strings.Contains(out, "## "+cmd.aliases[0]+"\n") {
			t.Errorf("documentation for %s missing", cmd.aliases[0])
		}
	}
	for _, want := range []string{"- `max-array-values`\n", "- `Fr::Array`\n", "ObjHashTable | `Fr::HashTable<Fr::Object*, Fr::Object*>`\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("documentation does not contain %q", want)
		}
	}
}
