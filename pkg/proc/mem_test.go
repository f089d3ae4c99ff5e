package proc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func assertNoError(err error, t testing.TB, s string) {
	t.Helper()
	if err != nil {
		t.Fatalf("failed assertion %s: %s\n", s, err)
	}
}

func newTestMemory(base uint64, contents ...interface{}) MemoryReader {
	var buf bytes.Buffer
	for _, x := range contents {
		binary.Write(&buf, binary.LittleEndian, x)
	}
	return NewBytesMemory(base, buf.Bytes())
}

func TestReadUint(t *testing.T) {
	mem := newTestMemory(0x1000, uint64(0x1122334455667788), uint32(0xdeadbeef), uint16(0xcafe), uint8(0x7f))
	v, err := ReadUint64(mem, 0x1000)
	assertNoError(err, t, "ReadUint64")
	if v != 0x1122334455667788 {
		t.Errorf("ReadUint64: got %#x", v)
	}
	v32, err := ReadUint32(mem, 0x1008)
	assertNoError(err, t, "ReadUint32")
	if v32 != 0xdeadbeef {
		t.Errorf("ReadUint32: got %#x", v32)
	}
	v16, err := ReadUint(mem, 0x100c, 2)
	assertNoError(err, t, "ReadUint(2)")
	if v16 != 0xcafe {
		t.Errorf("ReadUint(2): got %#x", v16)
	}
	v8, err := ReadUint(mem, 0x100e, 1)
	assertNoError(err, t, "ReadUint(1)")
	if v8 != 0x7f {
		t.Errorf("ReadUint(1): got %#x", v8)
	}
	if _, err := ReadUint(mem, 0x1000, 3); err == nil {
		t.Errorf("ReadUint(3) should fail")
	}
}

func TestReadUnreadable(t *testing.T) {
	mem := newTestMemory(0x1000, uint64(1))
	for _, addr := range []uint64{0, 0xfff, 0x1001, 0x2000, ^uint64(0)} {
		_, err := ReadUint64(mem, addr)
		if err == nil {
			t.Errorf("read at %#x should fail", addr)
			continue
		}
		if !errors.Is(err, ErrUnreadable) {
			t.Errorf("read at %#x: error %v is not ErrUnreadable", addr, err)
		}
		var uerr *UnreadableError
		if !errors.As(err, &uerr) || uerr.Addr != addr {
			t.Errorf("read at %#x: wrong error %#v", addr, err)
		}
	}
	if _, err := ReadBytes(nil, 0x1000, 4); !errors.Is(err, ErrUnreadable) {
		t.Errorf("read from nil memory: %v", err)
	}
}

func TestReadCString(t *testing.T) {
	mem := newTestMemory(0x1000, []byte("Fr::Array\x00garbage"))
	s, err := ReadCString(mem, 0x1000, 256)
	assertNoError(err, t, "ReadCString")
	if s != "Fr::Array" {
		t.Errorf("got %q", s)
	}

	// terminator right at the end of the mapping
	mem = newTestMemory(0x1000, []byte("List\x00"))
	s, err = ReadCString(mem, 0x1000, 256)
	assertNoError(err, t, "ReadCString at end of mapping")
	if s != "List" {
		t.Errorf("got %q", s)
	}

	// no terminator before the end of the mapping
	mem = newTestMemory(0x1000, []byte("unterminated"))
	if _, err := ReadCString(mem, 0x1000, 256); err == nil {
		t.Errorf("unterminated string should fail")
	}

	mem = newTestMemory(0x1000, bytes.Repeat([]byte{'A'}, 300))
	if _, err := ReadCString(mem, 0x1000, 16); err == nil {
		t.Errorf("overlong string should fail")
	}
}

type countingMemory struct {
	MemoryReader
	reads int
}

func (m *countingMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	m.reads++
	return m.MemoryReader.ReadMemory(buf, addr)
}

func TestCacheMemory(t *testing.T) {
	mem := &countingMemory{MemoryReader: newTestMemory(0x1000, uint64(1), uint64(2), uint64(3), uint64(4))}
	cached := CacheMemory(mem, 0x1000, 24)
	if mem.reads != 1 {
		t.Fatalf("expected one read to fill the cache, got %d", mem.reads)
	}
	for i := uint64(0); i < 3; i++ {
		v, err := ReadUint64(cached, 0x1000+i*8)
		assertNoError(err, t, "ReadUint64")
		if v != i+1 {
			t.Errorf("word %d: got %d", i, v)
		}
	}
	if mem.reads != 1 {
		t.Errorf("cached reads went to memory: %d", mem.reads)
	}
	// outside of the cached window
	v, err := ReadUint64(cached, 0x1018)
	assertNoError(err, t, "ReadUint64 outside cache")
	if v != 4 || mem.reads != 2 {
		t.Errorf("got %d after %d reads", v, mem.reads)
	}
	// unreadable windows are not cached
	if CacheMemory(mem, 0x5000, 8) != MemoryReader(mem) {
		t.Errorf("unreadable window should return the original memory")
	}
}
