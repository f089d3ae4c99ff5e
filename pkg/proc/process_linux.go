package proc

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	sys "golang.org/x/sys/unix"
)

// ProcessMemory reads the memory of a live process without stopping it.
type ProcessMemory struct {
	pid int
}

// AttachProcess returns a MemoryReader for the address space of pid. The
// process is not stopped and reads observe whatever state it is in.
func AttachProcess(pid int) (*ProcessMemory, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d", pid)
	}
	if err := sys.Kill(pid, 0); err != nil && err != sys.EPERM {
		return nil, fmt.Errorf("could not attach to pid %d: %v", pid, err)
	}
	return &ProcessMemory{pid: pid}, nil
}

// Pid returns the process id.
func (p *ProcessMemory) Pid() int {
	return p.pid
}

// ReadMemory implements MemoryReader.ReadMemory.
func (p *ProcessMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	local := []sys.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []sys.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}
	n, err := sys.ProcessVMReadv(p.pid, local, remote, 0)
	if err != nil {
		return n, err
	}
	if n != len(buf) {
		return n, fmt.Errorf("short read at %#x: %d of %d bytes", addr, n, len(buf))
	}
	return n, nil
}

// Close implements Source. Nothing is held open between reads.
func (p *ProcessMemory) Close() error {
	return nil
}

// Regions returns the mappings listed in /proc/<pid>/maps, or nil if they
// can not be read.
func (p *ProcessMemory) Regions() []Region {
	fh, err := os.Open(fmt.Sprintf("/proc/%d/maps", p.pid))
	if err != nil {
		return nil
	}
	defer fh.Close()
	return parseMaps(bufio.NewScanner(fh))
}

// parseMaps parses lines in the format of /proc/<pid>/maps:
//
//	00400000-0040b000 r-xp 00000000 08:02 173521      /usr/bin/dbus-daemon
func parseMaps(scan *bufio.Scanner) []Region {
	var r []Region
	for scan.Scan() {
		fields := strings.Fields(scan.Text())
		if len(fields) < 2 {
			continue
		}
		dash := strings.IndexByte(fields[0], '-')
		if dash < 0 {
			continue
		}
		start, err1 := strconv.ParseUint(fields[0][:dash], 16, 64)
		end, err2 := strconv.ParseUint(fields[0][dash+1:], 16, 64)
		if err1 != nil || err2 != nil || end <= start {
			continue
		}
		name := fields[1]
		if len(fields) >= 6 {
			name += " " + fields[5]
		}
		r = append(r, Region{Addr: start, Len: end - start, Name: name})
	}
	return r
}
