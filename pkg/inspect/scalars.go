package inspect

import (
	"fmt"
	"math"
	"strconv"
)

// leaf is embedded by decoders of values without children.
type leaf struct{}

func (leaf) Enumerate(ctx Context) []Child { return nil }

type integerDecoder struct {
	objectView
	leaf
}

func (i integerDecoder) Summary(ctx Context) Value {
	w, err := i.word("value")
	if err != nil {
		return i.brokenValue(err)
	}
	return Value{Kind: Scalar, Summary: strconv.FormatInt(int64(w), 10), Addr: i.obj.Addr}
}

type floatDecoder struct {
	objectView
	leaf
}

func (f floatDecoder) Summary(ctx Context) Value {
	w, err := f.word("value")
	if err != nil {
		return f.brokenValue(err)
	}
	return Value{Kind: Scalar, Summary: strconv.FormatFloat(math.Float64frombits(w), 'g', -1, 64), Addr: f.obj.Addr}
}

type atomicDecoder struct {
	objectView
	leaf
}

func (a atomicDecoder) Summary(ctx Context) Value {
	p := parseParam("long")
	if len(a.obj.Params) > 0 {
		p = a.obj.Params[0]
	}
	raw, err := a.uint("v", p.Width)
	if err != nil {
		return a.brokenValue(err)
	}
	s := p.scalarString(raw)
	if p.Kind == ParamPointer {
		s = fmt.Sprintf("%#x", raw)
	}
	return Value{Kind: Scalar, Summary: "atm(" + s + ")", Addr: a.obj.Addr}
}

// mutexDecoder shows the state of a glibc std::mutex.
type mutexDecoder struct {
	objectView
	leaf
}

func (m mutexDecoder) Summary(ctx Context) Value {
	var f [4]uint64
	for i, field := range []struct {
		name  string
		width int
	}{{"owner", 4}, {"count", 4}, {"nusers", 4}, {"spins", 2}} {
		v, err := m.uint(field.name, field.width)
		if err != nil {
			return m.brokenValue(err)
		}
		f[i] = v
	}
	return Value{
		Kind:    Scalar,
		Summary: fmt.Sprintf("mutex(own=%d,cnt=%d,users=%d,spins=%d)", int32(f[0]), uint32(f[1]), uint32(f[2]), int16(f[3])),
		Addr:    m.obj.Addr,
	}
}

type stringDecoder struct {
	objectView
	leaf
}

func (s stringDecoder) Summary(ctx Context) Value {
	w, err := s.word("buffer")
	if err != nil {
		return s.brokenValue(err)
	}
	v := textValue(s.d.mem, w, true)
	v.Addr = s.obj.Addr
	if ctx.TopLevel() {
		v.Summary = fmt.Sprintf("String(%d,%s)", v.Len, v.Summary)
	}
	return v
}

// Symbol property word: the low 48 bits point to the property list, bits
// 48-51 hold flags and bits 52-63 the id of the owning symbol table.
const (
	symbolFlagsShift  = 48
	symbolFlagsMask   = 0xF
	symbolSymtabShift = 52
	symbolSymtabMask  = 0xFFF
)

type symbolDecoder struct {
	objectView
	leaf
}

func (s symbolDecoder) Summary(ctx Context) Value {
	w, err := s.words("buffer", "properties")
	if err != nil {
		return s.brokenValue(err)
	}
	if !ctx.TopLevel() {
		v := textValue(s.d.mem, w[0], false)
		v.Addr = s.obj.Addr
		return v
	}
	v := textValue(s.d.mem, w[0], true)
	v.Addr = s.obj.Addr
	flags := w[1] >> symbolFlagsShift & symbolFlagsMask
	symtab := w[1] >> symbolSymtabShift & symbolSymtabMask
	v.Summary = fmt.Sprintf("Symbol(%s,%d,%d)", v.Summary, symtab, flags)
	return v
}
