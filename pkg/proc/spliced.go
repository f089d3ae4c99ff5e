package proc

import (
	"fmt"
	"io"
	"sort"
)

// A SplicedMemory represents a memory space formed from multiple regions,
// each of which may override previously added regions. For example a core
// file can map the program text read only and later overwrite part of it
// with a RW segment whose data is stored in the core itself.
type SplicedMemory struct {
	readers []readerEntry
}

type readerEntry struct {
	offset uint64
	length uint64
	reader MemoryReader
	name   string
}

// Region describes one mapped region of a SplicedMemory.
type Region struct {
	Addr uint64
	Len  uint64
	Name string
}

// Add adds a new region to the SplicedMemory, which may override existing regions.
func (r *SplicedMemory) Add(reader MemoryReader, off, length uint64, name string) {
	if length == 0 {
		return
	}
	end := off + length - 1
	newReaders := make([]readerEntry, 0, len(r.readers))
	add := func(e readerEntry) {
		if e.length == 0 {
			return
		}
		newReaders = append(newReaders, e)
	}
	inserted := false
	// Walk through the list of regions, fixing up any that overlap and inserting the new one.
	for _, entry := range r.readers {
		entryEnd := entry.offset + entry.length - 1
		switch {
		case entryEnd < off:
			// Entry is completely before the new region.
			add(entry)
		case end < entry.offset:
			// Entry is completely after the new region.
			if !inserted {
				add(readerEntry{off, length, reader, name})
				inserted = true
			}
			add(entry)
		case off <= entry.offset && entryEnd <= end:
			// Entry is completely overwritten by the new region. Drop.
		case entry.offset < off && entryEnd <= end:
			// New region overwrites the end of the entry.
			entry.length = off - entry.offset
			add(entry)
		case off <= entry.offset && end < entryEnd:
			// New reader overwrites the beginning of the entry.
			if !inserted {
				add(readerEntry{off, length, reader, name})
				inserted = true
			}
			overlap := end + 1 - entry.offset
			entry.offset += overlap
			entry.length -= overlap
			add(entry)
		case entry.offset < off && end < entryEnd:
			// New region punches a hole in the entry. Split it in two and put the new region in the middle.
			add(readerEntry{entry.offset, off - entry.offset, entry.reader, entry.name})
			add(readerEntry{off, length, reader, name})
			add(readerEntry{end + 1, entryEnd - end, entry.reader, entry.name})
			inserted = true
		default:
			panic(fmt.Sprintf("Unhandled case: existing entry is %v len %v, new is %v len %v", entry.offset, entry.length, off, length))
		}
	}
	if !inserted {
		newReaders = append(newReaders, readerEntry{off, length, reader, name})
	}
	sort.SliceStable(newReaders, func(i, j int) bool { return newReaders[i].offset < newReaders[j].offset })
	r.readers = newReaders
}

// ReadMemory implements MemoryReader.ReadMemory.
// Reads that start or continue into an unmapped hole fail.
func (r *SplicedMemory) ReadMemory(buf []byte, addr uint64) (n int, err error) {
	started := false
	for _, entry := range r.readers {
		if entry.offset+entry.length <= addr {
			continue
		}
		if entry.offset > addr {
			if !started {
				return 0, fmt.Errorf("offset %#x did not match any regions", addr)
			}
			return n, fmt.Errorf("hit unmapped area at %#x after %d bytes", addr, n)
		}
		started = true

		// Don't go past the region.
		pb := buf
		if addr+uint64(len(buf)) > entry.offset+entry.length {
			pb = pb[:entry.offset+entry.length-addr]
		}
		pn, err := entry.reader.ReadMemory(pb, addr)
		n += pn
		if err != nil {
			return n, fmt.Errorf("error while reading spliced memory at %#x: %v", addr, err)
		}
		if pn != len(pb) {
			return n, fmt.Errorf("short read at %#x", addr)
		}
		buf = buf[pn:]
		addr += uint64(pn)
		if len(buf) == 0 {
			// Done, don't bother scanning the rest.
			return n, nil
		}
	}
	if n == 0 {
		return 0, fmt.Errorf("offset %#x did not match any regions", addr)
	}
	return n, fmt.Errorf("hit unmapped area at %#x after %d bytes", addr, n)
}

// Close implements Source. A SplicedMemory holds no resources of its own.
func (r *SplicedMemory) Close() error {
	return nil
}

// Regions returns the mapped regions in address order.
func (r *SplicedMemory) Regions() []Region {
	out := make([]Region, len(r.readers))
	for i, entry := range r.readers {
		out[i] = Region{Addr: entry.offset, Len: entry.length, Name: entry.name}
	}
	return out
}

// offsetReaderAt wraps a ReaderAt into a MemoryReader, subtracting a fixed
// offset from the address. This is useful to represent a mapping in an address
// space. For example, if a segment of a core file is mapped at 0x400000, an
// offsetReaderAt with offset 0x400000 can be wrapped around the segment
// reader to return the results of a read in that part of the address space.
type offsetReaderAt struct {
	reader io.ReaderAt
	offset uint64
}

// ReadMemory will read the memory at addr-offset.
func (r *offsetReaderAt) ReadMemory(buf []byte, addr uint64) (n int, err error) {
	n, err = r.reader.ReadAt(buf, int64(addr-r.offset))
	if err == io.EOF && n == len(buf) {
		err = nil
	}
	return n, err
}

// bytesMemory is a MemoryReader over a byte slice mapped at base.
type bytesMemory struct {
	base uint64
	data []byte
}

func (m *bytesMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	if addr < m.base || addr-m.base >= uint64(len(m.data)) {
		return 0, fmt.Errorf("read out of bounds %d %#x", len(buf), addr)
	}
	n := copy(buf, m.data[addr-m.base:])
	if n != len(buf) {
		return n, fmt.Errorf("read out of bounds %d %#x", len(buf), addr)
	}
	return n, nil
}

// NewBytesMemory returns a MemoryReader where byte 0 of data lives at base.
func NewBytesMemory(base uint64, data []byte) MemoryReader {
	return &bytesMemory{base: base, data: data}
}
