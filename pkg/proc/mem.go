package proc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MemoryReader is like io.ReaderAt, but the offset is a uint64 so that it
// can address all of 64-bit memory.
// A short read must be reported through a non-nil error.
type MemoryReader interface {
	// ReadMemory is just like io.ReaderAt.ReadAt.
	ReadMemory(buf []byte, addr uint64) (n int, err error)
}

// ErrUnreadable is matched by every error returned by the helpers in this
// package when target memory can not be read.
var ErrUnreadable = errors.New("unreadable memory")

// UnreadableError describes a failed read of target memory.
type UnreadableError struct {
	Addr uint64
	Len  int
	Err  error
}

func (err *UnreadableError) Error() string {
	if err.Err != nil {
		return fmt.Sprintf("could not read %d bytes at %#x: %v", err.Len, err.Addr, err.Err)
	}
	return fmt.Sprintf("could not read %d bytes at %#x", err.Len, err.Addr)
}

func (err *UnreadableError) Is(target error) bool {
	return target == ErrUnreadable
}

func (err *UnreadableError) Unwrap() error {
	return err.Err
}

// PtrSize is the size of a pointer in the target, which is always a 64bit
// little endian process.
const PtrSize = 8

// ReadBytes reads exactly n bytes at addr.
func ReadBytes(mem MemoryReader, addr uint64, n int) ([]byte, error) {
	if n < 0 {
		return nil, &UnreadableError{Addr: addr, Len: n, Err: errors.New("negative length")}
	}
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if mem == nil {
		return nil, &UnreadableError{Addr: addr, Len: n, Err: errors.New("no memory")}
	}
	read, err := mem.ReadMemory(buf, addr)
	if err != nil {
		return nil, &UnreadableError{Addr: addr, Len: n, Err: err}
	}
	if read != n {
		return nil, &UnreadableError{Addr: addr, Len: n, Err: fmt.Errorf("short read (%d bytes)", read)}
	}
	return buf, nil
}

// ReadUint reads an unsigned little endian integer of the given width (1, 2,
// 4 or 8 bytes) at addr.
func ReadUint(mem MemoryReader, addr uint64, width int) (uint64, error) {
	switch width {
	case 1, 2, 4, 8:
	default:
		return 0, &UnreadableError{Addr: addr, Len: width, Err: fmt.Errorf("unsupported width %d", width)}
	}
	buf, err := ReadBytes(mem, addr, width)
	if err != nil {
		return 0, err
	}
	return DecodeUint(buf), nil
}

// ReadUint64 reads a machine word at addr.
func ReadUint64(mem MemoryReader, addr uint64) (uint64, error) {
	return ReadUint(mem, addr, 8)
}

// ReadUint32 reads a 32bit word at addr.
func ReadUint32(mem MemoryReader, addr uint64) (uint32, error) {
	v, err := ReadUint(mem, addr, 4)
	return uint32(v), err
}

// DecodeUint decodes a little endian unsigned integer of len(buf) bytes.
func DecodeUint(buf []byte) uint64 {
	switch len(buf) {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf))
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf))
	case 8:
		return binary.LittleEndian.Uint64(buf)
	}
	var r uint64
	for i := len(buf) - 1; i >= 0; i-- {
		r = r<<8 | uint64(buf[i])
	}
	return r
}

// ReadCString reads a NUL terminated string at addr, reading at most max
// bytes. It is an error if the terminator is not found within max bytes.
func ReadCString(mem MemoryReader, addr uint64, max int) (string, error) {
	const chunk = 64
	out := make([]byte, 0, chunk)
	for len(out) < max {
		n := chunk
		if max-len(out) < n {
			n = max - len(out)
		}
		buf, err := ReadBytes(mem, addr+uint64(len(out)), n)
		if err != nil {
			// the string could end right before an unmapped page, retry
			// one byte at a time.
			buf, err = readUntilFault(mem, addr+uint64(len(out)), n)
			if len(buf) == 0 {
				return "", err
			}
		}
		for i, b := range buf {
			if b == 0 {
				return string(append(out, buf[:i]...)), nil
			}
		}
		out = append(out, buf...)
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("string at %#x longer than %d bytes", addr, max)
}

func readUntilFault(mem MemoryReader, addr uint64, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		b, err := ReadBytes(mem, addr+uint64(i), 1)
		if err != nil {
			return out, err
		}
		out = append(out, b[0])
		if b[0] == 0 {
			break
		}
	}
	return out, nil
}

type memCache struct {
	cacheAddr uint64
	cache     []byte
	mem       MemoryReader
}

func (m *memCache) contains(addr uint64, size int) bool {
	end := addr + uint64(size)
	return addr >= m.cacheAddr && end >= addr && end <= m.cacheAddr+uint64(len(m.cache))
}

func (m *memCache) ReadMemory(data []byte, addr uint64) (n int, err error) {
	if m.contains(addr, len(data)) {
		copy(data, m.cache[addr-m.cacheAddr:])
		return len(data), nil
	}
	return m.mem.ReadMemory(data, addr)
}

// CacheMemory returns a MemoryReader that serves reads inside
// [addr, addr+size) from a single read of mem. The cache is meant to live
// only as long as the decoding of one object; if the region can not be read
// mem is returned unchanged.
func CacheMemory(mem MemoryReader, addr uint64, size int) MemoryReader {
	if size <= 0 || mem == nil {
		return mem
	}
	if cacheMem, isCache := mem.(*memCache); isCache {
		if cacheMem.contains(addr, size) {
			return mem
		}
		mem = cacheMem.mem
	}
	cache, err := ReadBytes(mem, addr, size)
	if err != nil {
		return mem
	}
	return &memCache{addr, cache, mem}
}

// Source is a memory image opened for inspection: a live process, a core
// file or a snapshot.
type Source interface {
	MemoryReader
	// Regions returns the mapped regions of the image in address order.
	Regions() []Region
	Close() error
}
