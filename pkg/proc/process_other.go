//go:build !linux

package proc

import (
	"errors"
	"runtime"
)

// ProcessMemory reads the memory of a live process.
type ProcessMemory struct {
	pid int
}

// AttachProcess is only supported on linux.
func AttachProcess(pid int) (*ProcessMemory, error) {
	return nil, errors.New("attaching to a live process is not supported on " + runtime.GOOS)
}

// Pid returns the process id.
func (p *ProcessMemory) Pid() int {
	return p.pid
}

// ReadMemory implements MemoryReader.ReadMemory.
func (p *ProcessMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	return 0, errors.New("not supported")
}

// Regions is not supported outside of linux.
func (p *ProcessMemory) Regions() []Region {
	return nil
}

// Close implements Source.
func (p *ProcessMemory) Close() error {
	return nil
}
