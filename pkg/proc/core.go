package proc

import (
	"debug/elf"
	"errors"
	"fmt"
)

// ErrUnrecognizedFormat is returned when the core file is not recognized as
// an ELF core dump.
var ErrUnrecognizedFormat = errors.New("unrecognized core format")

// CoreMemory is the memory image contained in an ELF core file.
type CoreMemory struct {
	SplicedMemory
	file *elf.File
}

// OpenCore opens the core file at path and maps every PT_LOAD segment that
// carries file data.
func OpenCore(path string) (*CoreMemory, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedFormat, err)
	}
	if f.Type != elf.ET_CORE {
		f.Close()
		return nil, fmt.Errorf("%w: %s is not a core file (%v)", ErrUnrecognizedFormat, path, f.Type)
	}
	if f.Class != elf.ELFCLASS64 || f.Data != elf.ELFDATA2LSB {
		f.Close()
		return nil, fmt.Errorf("%w: only 64bit little endian cores are supported", ErrUnrecognizedFormat)
	}
	core := &CoreMemory{file: f}
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Filesz == 0 {
			continue
		}
		r := &offsetReaderAt{
			reader: prog.ReaderAt,
			offset: prog.Vaddr,
		}
		core.Add(r, prog.Vaddr, prog.Filesz, fmt.Sprintf("load %v", prog.Flags))
	}
	return core, nil
}

// Close closes the underlying core file.
func (core *CoreMemory) Close() error {
	return core.file.Close()
}
