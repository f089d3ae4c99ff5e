package inspect

import (
	"github.com/framepac/frinspect/pkg/proc"
)

// DerefState is the outcome of following a pointer.
type DerefState uint8

const (
	// Resolved means the target was readable and was decoded.
	Resolved DerefState = iota
	// Null means the pointer was zero, no memory was read.
	Null
	// Unreadable means the target could not be read.
	Unreadable
)

// Deref is the result of following a pointer stored in target memory.
type Deref struct {
	State DerefState
	Addr  uint64
	// Value is the decoded target, only meaningful when State is Resolved.
	Value Value
}

// Display returns the value to show in place of the pointer.
func (d Deref) Display() Value {
	switch d.State {
	case Null:
		return nullValue()
	case Unreadable:
		return unreadableValue(d.Addr)
	}
	return d.Value
}

// Summary returns the one line form of the pointer target.
func (d Deref) Summary() string {
	return d.Display().Summary
}

// deref follows ptr and decodes its target with hint one level deeper than
// ctx.
func (d *Dispatcher) deref(ctx Context, ptr uint64, hint string) Deref {
	if ptr == 0 {
		return Deref{State: Null}
	}
	if _, err := proc.ReadUint64(d.mem, ptr); err != nil {
		return Deref{State: Unreadable, Addr: ptr}
	}
	return Deref{State: Resolved, Addr: ptr, Value: d.decode(ctx.Nested(), ptr, hint)}
}

// derefField reads the pointer stored at addr and follows it.
func (d *Dispatcher) derefField(ctx Context, mem proc.MemoryReader, addr uint64, hint string) Deref {
	ptr, err := proc.ReadUint64(mem, addr)
	if err != nil {
		return Deref{State: Unreadable, Addr: addr}
	}
	return d.deref(ctx, ptr, hint)
}

// derefFieldTag is like derefField but only names the target instead of
// decoding it.
func (d *Dispatcher) derefFieldTag(ctx Context, mem proc.MemoryReader, addr uint64) Deref {
	ptr, err := proc.ReadUint64(mem, addr)
	if err != nil {
		return Deref{State: Unreadable, Addr: addr}
	}
	if ptr == 0 {
		return Deref{State: Null}
	}
	if _, err := proc.ReadUint64(d.mem, ptr); err != nil {
		return Deref{State: Unreadable, Addr: ptr}
	}
	return Deref{State: Resolved, Addr: ptr, Value: d.shallow(ctx, ptr, "")}
}
