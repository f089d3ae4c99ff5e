package inspect

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/framepac/frinspect/pkg/proc"
)

// ParamKind classifies a template argument by how values of that type are
// stored.
type ParamKind uint8

const (
	ParamOpaque ParamKind = iota
	ParamPointer
	ParamUnsigned
	ParamSigned
	ParamFloat
)

// Param is one template argument of a type name.
type Param struct {
	Name  string
	Kind  ParamKind
	Width int
	// Pointee is the pointed-to type of a ParamPointer.
	Pointee string
}

var scalarParams = map[string]Param{
	"unsigned char":      {Kind: ParamUnsigned, Width: 1},
	"uint8_t":            {Kind: ParamUnsigned, Width: 1},
	"unsigned short":     {Kind: ParamUnsigned, Width: 2},
	"uint16_t":           {Kind: ParamUnsigned, Width: 2},
	"unsigned int":       {Kind: ParamUnsigned, Width: 4},
	"unsigned":           {Kind: ParamUnsigned, Width: 4},
	"uint32_t":           {Kind: ParamUnsigned, Width: 4},
	"unsigned long":      {Kind: ParamUnsigned, Width: 8},
	"unsigned long int":  {Kind: ParamUnsigned, Width: 8},
	"unsigned long long": {Kind: ParamUnsigned, Width: 8},
	"size_t":             {Kind: ParamUnsigned, Width: 8},
	"uint64_t":           {Kind: ParamUnsigned, Width: 8},
	"bool":               {Kind: ParamUnsigned, Width: 1},
	"char":               {Kind: ParamSigned, Width: 1},
	"short":              {Kind: ParamSigned, Width: 2},
	"int":                {Kind: ParamSigned, Width: 4},
	"int32_t":            {Kind: ParamSigned, Width: 4},
	"long":               {Kind: ParamSigned, Width: 8},
	"long int":           {Kind: ParamSigned, Width: 8},
	"long long":          {Kind: ParamSigned, Width: 8},
	"int64_t":            {Kind: ParamSigned, Width: 8},
	"ssize_t":            {Kind: ParamSigned, Width: 8},
	"float":              {Kind: ParamFloat, Width: 4},
	"double":             {Kind: ParamFloat, Width: 8},
}

// parseParam classifies a single template argument.
func parseParam(s string) Param {
	s = strings.Join(strings.Fields(s), " ")
	if strings.HasSuffix(s, "*") {
		return Param{Name: s, Kind: ParamPointer, Width: proc.PtrSize, Pointee: strings.TrimSpace(strings.TrimSuffix(s, "*"))}
	}
	if p, ok := scalarParams[strings.TrimPrefix(s, "const ")]; ok {
		p.Name = s
		return p
	}
	return Param{Name: s, Kind: ParamOpaque, Width: proc.PtrSize}
}

// splitTemplate returns the family name of a type and its template
// arguments, "Fr::HashTable<Fr::Object*, unsigned long>" returns
// "Fr::HashTable" and two arguments. Nested template arguments are kept
// whole.
func splitTemplate(name string) (string, []Param, error) {
	open := strings.IndexByte(name, '<')
	if open < 0 {
		return strings.TrimSpace(name), nil, nil
	}
	if !strings.HasSuffix(strings.TrimSpace(name), ">") {
		return "", nil, fmt.Errorf("unterminated template arguments in %q", name)
	}
	base := strings.TrimSpace(name[:open])
	inner := strings.TrimSpace(name)
	inner = inner[open+1 : len(inner)-1]

	var params []Param
	depth, start := 0, 0
	for i := 0; i < len(inner); i++ {
		switch inner[i] {
		case '<':
			depth++
		case '>':
			depth--
			if depth < 0 {
				return "", nil, fmt.Errorf("unbalanced template arguments in %q", name)
			}
		case ',':
			if depth == 0 {
				params = append(params, parseParam(inner[start:i]))
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return "", nil, fmt.Errorf("unbalanced template arguments in %q", name)
	}
	if last := strings.TrimSpace(inner[start:]); last != "" || len(params) > 0 {
		params = append(params, parseParam(inner[start:]))
	}
	return base, params, nil
}

// pointeeHint is the decoder hint used to follow a pointer to p. Pointers
// to the Object base class are resolved through the type tag.
func (p Param) pointeeHint() string {
	switch p.Pointee {
	case "Fr::Object", "Object", "void", "const Fr::Object":
		return ""
	}
	return p.Pointee
}

// scalarString formats the raw bits of a non-pointer value of type p.
func (p Param) scalarString(raw uint64) string {
	switch p.Kind {
	case ParamSigned:
		shift := uint(64 - 8*p.Width)
		return strconv.FormatInt(int64(raw<<shift)>>shift, 10)
	case ParamFloat:
		if p.Width == 4 {
			return strconv.FormatFloat(float64(math.Float32frombits(uint32(raw))), 'g', -1, 32)
		}
		return strconv.FormatFloat(math.Float64frombits(raw), 'g', -1, 64)
	case ParamOpaque:
		return fmt.Sprintf("%#x", raw)
	}
	return strconv.FormatUint(raw, 10)
}

// allOnes returns the empty slot sentinel for a key of type p.
func (p Param) allOnes() uint64 {
	if p.Width >= 8 {
		return ^uint64(0)
	}
	return 1<<uint(8*p.Width) - 1
}

// element decodes a value of type p stored at addr.
func (d *Dispatcher) element(ctx Context, mem proc.MemoryReader, addr uint64, p Param) Value {
	raw, err := proc.ReadUint(mem, addr, p.Width)
	if err != nil {
		return unreadableValue(addr)
	}
	return d.elementValue(ctx, raw, p)
}

// elementValue decodes a value of type p whose raw bits were already read.
func (d *Dispatcher) elementValue(ctx Context, raw uint64, p Param) Value {
	if p.Kind != ParamPointer {
		v := NewScalar(p.scalarString(raw))
		v.Type = p.Name
		return v
	}
	if p.Pointee == "char" || p.Pointee == "const char" {
		return d.cstringValue(raw)
	}
	return d.deref(ctx, raw, p.pointeeHint()).Display()
}

func (d *Dispatcher) cstringValue(ptr uint64) Value {
	if ptr == 0 {
		return nullValue()
	}
	s, err := proc.ReadCString(d.mem, ptr, MaxStringLen+1)
	if err != nil {
		if !errors.Is(err, proc.ErrUnreadable) {
			// no terminator within the limit
			data, rerr := proc.ReadBytes(d.mem, ptr, MaxStringLen+1)
			if rerr == nil {
				return Value{Kind: Text, Summary: escapeText(data[:MaxStringLen-3], ellipsis, true), Addr: ptr, Len: len(data), Truncated: true}
			}
		}
		return unreadableValue(ptr)
	}
	return Value{Kind: Text, Summary: escapeText([]byte(s), "", true), Addr: ptr, Len: len(s)}
}
