package inspect

import (
	"fmt"
	"strconv"

	"github.com/framepac/frinspect/pkg/proc"
)

type arrayDecoder struct {
	objectView
	label string

	loaded bool
	err    error
	array  uint64
	size   uint64
	alloc  uint64
	count  uint64
	suffix string
}

func newArrayDecoder(label string) Factory {
	return func(d *Dispatcher, obj Object) Decoder {
		return &arrayDecoder{objectView: d.view(obj), label: label}
	}
}

func (a *arrayDecoder) load() error {
	if a.loaded {
		return a.err
	}
	a.loaded = true
	w, err := a.words("array", "size", "alloc")
	if err != nil {
		a.err = err
		return err
	}
	a.array, a.size, a.alloc = w[0], w[1], w[2]
	a.count, a.suffix = a.checkCount("size", a.size, a.alloc)
	return nil
}

func (a *arrayDecoder) Summary(ctx Context) Value {
	if err := a.load(); err != nil {
		return a.brokenValue(err)
	}
	return Value{
		Kind:    Sequence,
		Summary: fmt.Sprintf("%s(%d/%d)%s", a.label, a.size, a.alloc, a.suffix),
		Addr:    a.obj.Addr,
	}
}

func (a *arrayDecoder) Enumerate(ctx Context) []Child {
	if err := a.load(); err != nil || a.count == 0 {
		return nil
	}
	n, clamped := clamp(a.count, ctx.Config.MaxArrayValues)
	mem := proc.CacheMemory(a.d.mem, a.array, n*proc.PtrSize)
	children := make([]Child, 0, n+1)
	for i := 0; i < n; i++ {
		slot := a.array + uint64(i)*proc.PtrSize
		children = append(children, Child{
			Label: strconv.Itoa(i),
			Value: a.d.derefField(ctx, mem, slot, "").Display(),
		})
	}
	if clamped {
		children = append(children, ellipsisChild(strconv.Itoa(n)))
	}
	return children
}

type vectorDecoder struct {
	objectView
	sparse bool
	index  Param
	value  Param

	loaded bool
	err    error
	values uint64
	size   uint64
	cap    uint64
	count  uint64
	suffix string
}

func newVectorDecoder(sparse bool) Factory {
	return func(d *Dispatcher, obj Object) Decoder {
		v := &vectorDecoder{objectView: d.view(obj), sparse: sparse}
		params := obj.Params
		if sparse {
			v.index = parseParam("unsigned int")
			if len(params) > 0 {
				v.index = params[0]
				params = params[1:]
			}
		}
		v.value = parseParam("float")
		if len(params) > 0 {
			v.value = params[0]
		}
		return v
	}
}

func (v *vectorDecoder) load() error {
	if v.loaded {
		return v.err
	}
	v.loaded = true
	w, err := v.words("values", "size", "capacity")
	if err != nil {
		v.err = err
		return err
	}
	v.values, v.size, v.cap = w[0], w[1], w[2]
	v.count, v.suffix = v.checkCount("size", v.size, v.cap)
	return nil
}

func (v *vectorDecoder) Summary(ctx Context) Value {
	if err := v.load(); err != nil {
		return v.brokenValue(err)
	}
	key := v.backReference(ctx, "key")
	label := v.backReference(ctx, "label")
	kind := ""
	if v.sparse {
		kind = "Sparse"
	}
	s := fmt.Sprintf("%sVector(%d/%d key=%s label=%s)", kind, v.size, v.cap, key, label)
	if !ctx.TopLevel() {
		s += v.at()
	}
	return Value{Kind: Sequence, Summary: s + v.suffix, Addr: v.obj.Addr}
}

func (v *vectorDecoder) backReference(ctx Context, field string) string {
	addr, err := v.fieldAddr(field)
	if err != nil {
		return "NULL"
	}
	if ctx.summaryOnly {
		// v is itself shown inside a summary, its key or label may point
		// back at the vector being summarized.
		return v.d.derefFieldTag(ctx, v.mem, addr).Summary()
	}
	return v.d.derefField(ctx.SummaryOnly(), v.mem, addr, "").Summary()
}

func (v *vectorDecoder) Enumerate(ctx Context) []Child {
	if err := v.load(); err != nil || v.count == 0 {
		return nil
	}
	if v.values == 0 {
		return []Child{{Label: "values", Value: nullValue()}}
	}
	n, clamped := clamp(v.count, ctx.Config.MaxArrayValues)
	values := proc.CacheMemory(v.d.mem, v.values, n*v.value.Width)
	var indices proc.MemoryReader
	var indicesAddr uint64
	if v.sparse {
		w, err := v.word("indices")
		if err != nil {
			return []Child{{Label: "indices", Value: unreadableValue(v.obj.Addr)}}
		}
		indicesAddr = w
		indices = proc.CacheMemory(v.d.mem, indicesAddr, n*v.index.Width)
	}
	var children []Child
	for i := 0; i < n; i++ {
		label := strconv.Itoa(i)
		if v.sparse {
			children = append(children, Child{
				Label: label,
				Value: v.d.element(ctx, indices, indicesAddr+uint64(i*v.index.Width), v.index),
			})
		}
		children = append(children, Child{
			Label: label,
			Value: v.d.element(ctx, values, v.values+uint64(i*v.value.Width), v.value),
		})
	}
	if clamped {
		children = append(children, ellipsisChild(strconv.Itoa(n)))
	}
	return children
}

type bitVectorDecoder struct {
	objectView
}

func (b bitVectorDecoder) Summary(ctx Context) Value {
	w, err := b.words("bits", "size", "capacity")
	if err != nil {
		return b.brokenValue(err)
	}
	bits, size, capacity := w[0], w[1], w[2]
	_, suffix := b.checkCount("size", size, capacity)
	s := fmt.Sprintf("BitVector(%d/%d)", size, capacity)
	if size > 0 {
		s = fmt.Sprintf("BitVector(%d/%d:%s)", size, capacity, firstBits(b.d.mem, bits))
	}
	return Value{Kind: Scalar, Summary: s + suffix, Addr: b.obj.Addr}
}

func (b bitVectorDecoder) Enumerate(ctx Context) []Child {
	return nil
}

// firstBits renders the first word of a bit vector in binary, least
// significant bit first.
func firstBits(mem proc.MemoryReader, bits uint64) string {
	if bits == 0 {
		return "NULL"
	}
	w, err := proc.ReadUint64(mem, bits)
	if err != nil {
		return fmt.Sprintf("@%#x", bits)
	}
	s := []byte(strconv.FormatUint(w, 2))
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
	return string(s)
}
