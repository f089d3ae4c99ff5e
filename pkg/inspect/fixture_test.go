package inspect

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/framepac/frinspect/pkg/proc"
)

const (
	fixtureBase uint64 = 0x10000
	fixtureSize uint64 = 0x40000
	pageSize    uint64 = 0x1000
)

// fixture is a fake target address space. Type tables are allocated on
// their own pages so that the vtable resolver can find them, objects are
// bump allocated after them.
type fixture struct {
	t      testing.TB
	data   []byte
	next   uint64
	tables map[string]uint64
}

func newFixture(t testing.TB) *fixture {
	return &fixture{
		t:      t,
		data:   make([]byte, fixtureSize),
		next:   fixtureBase + 16*pageSize,
		tables: make(map[string]uint64),
	}
}

func (f *fixture) check(addr uint64, n int) {
	f.t.Helper()
	if addr < fixtureBase || addr+uint64(n) > fixtureBase+fixtureSize {
		f.t.Fatalf("fixture write out of range at %#x", addr)
	}
}

func (f *fixture) alloc(n int) uint64 {
	f.t.Helper()
	addr := f.next
	f.next = alignUp(f.next+uint64(n), 16)
	f.check(addr, n)
	return addr
}

func (f *fixture) putWord(addr, v uint64) {
	f.t.Helper()
	f.check(addr, 8)
	binary.LittleEndian.PutUint64(f.data[addr-fixtureBase:], v)
}

func (f *fixture) putU32(addr uint64, v uint32) {
	f.t.Helper()
	f.check(addr, 4)
	binary.LittleEndian.PutUint32(f.data[addr-fixtureBase:], v)
}

func (f *fixture) putU16(addr uint64, v uint16) {
	f.t.Helper()
	f.check(addr, 2)
	binary.LittleEndian.PutUint16(f.data[addr-fixtureBase:], v)
}

func (f *fixture) putBytes(addr uint64, b []byte) {
	f.t.Helper()
	f.check(addr, len(b))
	copy(f.data[addr-fixtureBase:], b)
}

// vmt returns a vtable pointer whose table names the type name.
func (f *fixture) vmt(name string) uint64 {
	if vmt, ok := f.tables[name]; ok {
		return vmt
	}
	page := fixtureBase + uint64(len(f.tables))*pageSize
	if len(f.tables) >= 16 {
		f.t.Fatalf("too many types in fixture")
	}
	f.putWord(page, page+16)
	f.putBytes(page+16, append([]byte(name), 0))
	vmt := page + 0x80
	f.tables[name] = vmt
	return vmt
}

// object allocates size bytes and stores the vtable pointer for name in the
// first word.
func (f *fixture) object(name string, size int) uint64 {
	addr := f.alloc(size)
	f.putWord(addr, f.vmt(name))
	return addr
}

// text stores s and returns the packed text word pointing to it.
func (f *fixture) text(s string) uint64 {
	if len(s) == 0 {
		return 0
	}
	addr := f.alloc(len(s))
	f.putBytes(addr, []byte(s))
	return uint64(len(s))<<48 | addr
}

func (f *fixture) integer(v int64) uint64 {
	addr := f.object("Integer", 16)
	f.putWord(addr+8, uint64(v))
	return addr
}

func (f *fixture) str(s string) uint64 {
	addr := f.object("String", 16)
	f.putWord(addr+8, f.text(s))
	return addr
}

func (f *fixture) symbol(s string, props uint64) uint64 {
	addr := f.object("Symbol", 24)
	f.putWord(addr+8, f.text(s))
	f.putWord(addr+16, props)
	return addr
}

// list builds a list of items terminated by a sentinel node and returns
// its head.
func (f *fixture) list(items ...uint64) uint64 {
	sentinel := f.object("List", 24)
	f.putWord(sentinel+8, sentinel)
	next := sentinel
	for i := len(items) - 1; i >= 0; i-- {
		node := f.object("List", 24)
		f.putWord(node+8, next)
		f.putWord(node+16, items[i])
		next = node
	}
	return next
}

func (f *fixture) array(name string, alloc int, items ...uint64) uint64 {
	slots := f.alloc(8 * alloc)
	for i, it := range items {
		f.putWord(slots+uint64(8*i), it)
	}
	addr := f.object(name, 32)
	f.putWord(addr+8, slots)
	f.putWord(addr+16, uint64(len(items)))
	f.putWord(addr+24, uint64(alloc))
	return addr
}

func (f *fixture) memory() proc.MemoryReader {
	return proc.NewBytesMemory(fixtureBase, f.data)
}

func (f *fixture) dispatcher() *Dispatcher {
	return NewDispatcher(f.memory(), Config{})
}

// countingMemory records every read.
type countingMemory struct {
	mem   proc.MemoryReader
	mu    sync.Mutex
	reads []uint64
}

func (m *countingMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	m.mu.Lock()
	m.reads = append(m.reads, addr)
	m.mu.Unlock()
	return m.mem.ReadMemory(buf, addr)
}

func childSummaries(children []Child) []string {
	r := make([]string, len(children))
	for i := range children {
		r[i] = children[i].Value.Summary
	}
	return r
}

func assertSummaries(t *testing.T, children []Child, expected ...string) {
	t.Helper()
	got := childSummaries(children)
	if len(got) != len(expected) {
		t.Fatalf("expected %d children %q, got %d %q", len(expected), expected, len(got), got)
	}
	for i := range got {
		if got[i] != expected[i] {
			t.Fatalf("child %d: expected %q got %q (all: %q)", i, expected[i], got[i], got)
		}
	}
}
