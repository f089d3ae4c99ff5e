package terminal

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/framepac/frinspect/pkg/config"
	"github.com/framepac/frinspect/pkg/inspect"
	"github.com/framepac/frinspect/pkg/proc"
)

const (
	fixtureBase = 0x10000
	fixtureSize = 0x4000

	intVmt   = fixtureBase + 0x80
	arrayVmt = fixtureBase + 0x1080

	int42      = 0x12000
	intMinus7  = 0x12010
	innerArray = 0x12100
	outerArray = 0x12180
)

// newFixtureMemory returns a target holding two Fr::Integer objects, an
// Fr::Array of both plus a NULL slot, and an Fr::Array containing that
// array.
func newFixtureMemory() *proc.SplicedMemory {
	data := make([]byte, fixtureSize)
	put := func(addr, v uint64) {
		binary.LittleEndian.PutUint64(data[addr-fixtureBase:], v)
	}
	typeTable := func(page uint64, name string) {
		put(page, page+0x10)
		copy(data[page+0x10-fixtureBase:], name+"\x00")
	}
	typeTable(fixtureBase, "Fr::Integer")
	typeTable(fixtureBase+0x1000, "Fr::Array")

	put(int42, intVmt)
	put(int42+8, 42)
	put(intMinus7, intVmt)
	put(intMinus7+8, ^uint64(6))

	array := func(addr, slots uint64, alloc uint64, items ...uint64) {
		put(addr, arrayVmt)
		put(addr+8, slots)
		put(addr+16, uint64(len(items)))
		put(addr+24, alloc)
		for i, item := range items {
			put(slots+uint64(i)*8, item)
		}
	}
	array(innerArray, 0x12200, 4, int42, intMinus7, 0)
	array(outerArray, 0x12280, 1, innerArray)

	mem := &proc.SplicedMemory{}
	mem.Add(proc.NewBytesMemory(fixtureBase, data), fixtureBase, fixtureSize, "fixture")
	return mem
}

type FakeTerminal struct {
	*Term
	t   testing.TB
	out *bytes.Buffer
}

func (ft *FakeTerminal) Exec(cmdstr string) (outstr string, err error) {
	ft.out.Reset()
	err = ft.cmds.Call(cmdstr, ft.Term)
	ft.stdout.Flush()
	return ft.out.String(), err
}

func (ft *FakeTerminal) MustExec(cmdstr string) string {
	outstr, err := ft.Exec(cmdstr)
	if err != nil {
		ft.t.Errorf("output of %q: %q", cmdstr, outstr)
		ft.t.Fatalf("Error executing <%s>: %v", cmdstr, err)
	}
	return outstr
}

func (ft *FakeTerminal) AssertExec(cmdstr, tgt string) {
	ft.t.Helper()
	out := ft.MustExec(cmdstr)
	if out != tgt {
		ft.t.Fatalf("Error executing %q, expected %q got %q", cmdstr, tgt, out)
	}
}

func (ft *FakeTerminal) AssertExecError(cmdstr, tgterr string) {
	ft.t.Helper()
	_, err := ft.Exec(cmdstr)
	if err == nil {
		ft.t.Fatalf("Expected error executing %q", cmdstr)
	}
	if err.Error() != tgterr {
		ft.t.Fatalf("Expected error %q executing %q, got error %q", tgterr, cmdstr, err.Error())
	}
}

func withTestTerminal(t testing.TB, fn func(*FakeTerminal)) {
	mem := newFixtureMemory()
	disp := inspect.NewDispatcher(mem, inspect.Config{})
	term := New(disp, mem, &config.Config{})
	defer term.Close()

	out := new(bytes.Buffer)
	term.stdout = newTranscriptWriter(out)
	term.colorTTY = false
	term.starlarkEnv.Redirect(term.stdout)
	fn(&FakeTerminal{Term: term, t: t, out: out})
}
