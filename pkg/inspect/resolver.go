package inspect

import (
	"fmt"

	"github.com/framepac/frinspect/pkg/proc"
)

// TypeResolver finds the name of the runtime type of the object at addr.
type TypeResolver interface {
	ResolveTypeTag(mem proc.MemoryReader, addr uint64) (string, error)
}

// DefaultMaskBits is the alignment of the runtime's type tables.
const DefaultMaskBits = 12

const maxTypeNameLen = 256

// VtableResolver reads the first word of the object, clears its low
// MaskBits bits to find the base of the type table and follows the pointer
// stored there to the NUL terminated type name.
type VtableResolver struct {
	MaskBits int
}

func (r VtableResolver) ResolveTypeTag(mem proc.MemoryReader, addr uint64) (string, error) {
	vmt, err := proc.ReadUint64(mem, addr)
	if err != nil {
		return "", &UnresolvableError{Addr: addr, Step: "vtable word", Err: err}
	}
	base := vmt &^ mask(r.MaskBits)
	return readTypeName(mem, addr, base, 1)
}

// SlabResolver clears the low MaskBits bits of the object address itself
// to find the slab the object was allocated from. The slab header starts
// with a pointer to the type table, whose first word points at the type
// name.
type SlabResolver struct {
	MaskBits int
}

func (r SlabResolver) ResolveTypeTag(mem proc.MemoryReader, addr uint64) (string, error) {
	base := addr &^ mask(r.MaskBits)
	return readTypeName(mem, addr, base, 2)
}

// NewTypeResolver returns the resolver called name ("vtable" or "slab").
func NewTypeResolver(name string, maskBits int) (TypeResolver, error) {
	if maskBits <= 0 {
		maskBits = DefaultMaskBits
	}
	if maskBits >= 48 {
		return nil, fmt.Errorf("mask bits %d out of range", maskBits)
	}
	switch name {
	case "", "vtable":
		return VtableResolver{MaskBits: maskBits}, nil
	case "slab":
		return SlabResolver{MaskBits: maskBits}, nil
	}
	return nil, fmt.Errorf("unknown type resolver %q", name)
}

func mask(bits int) uint64 {
	if bits <= 0 {
		bits = DefaultMaskBits
	}
	return 1<<uint(bits) - 1
}

// readTypeName follows hops pointers starting at base and reads the type
// name at the last one.
func readTypeName(mem proc.MemoryReader, obj, base uint64, hops int) (string, error) {
	p := base
	for i := 0; i < hops; i++ {
		if p == 0 {
			return "", &UnresolvableError{Addr: obj, Step: fmt.Sprintf("null link %d", i)}
		}
		next, err := proc.ReadUint64(mem, p)
		if err != nil {
			return "", &UnresolvableError{Addr: obj, Step: fmt.Sprintf("link %d at %#x", i, p), Err: err}
		}
		p = next
	}
	if p == 0 {
		return "", &UnresolvableError{Addr: obj, Step: "null name pointer"}
	}
	name, err := proc.ReadCString(mem, p, maxTypeNameLen)
	if err != nil {
		return "", &UnresolvableError{Addr: obj, Step: fmt.Sprintf("name at %#x", p), Err: err}
	}
	if !validTypeName(name) {
		return "", &UnresolvableError{Addr: obj, Step: fmt.Sprintf("name at %#x is not printable", p)}
	}
	return name, nil
}

func validTypeName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] < 0x20 || name[i] >= 0x7f {
			return false
		}
	}
	return true
}
