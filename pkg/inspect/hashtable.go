package inspect

import (
	"fmt"
	"strconv"

	"github.com/framepac/frinspect/pkg/proc"
)

const (
	tableLayout = "Fr::HashTable.Table"
	entryLayout = "Fr::HashTable.Entry"

	// number of slots read from the target at once
	slotBatch = 256
)

// entryShape is the layout of one hash table slot, derived from the key
// and value types.
type entryShape struct {
	key, value       Param
	keyOff, valueOff uint64
	stride           uint64
	// hasValue is false for sets, whose entries only store a key.
	hasValue bool
}

func alignUp(off uint64, align int) uint64 {
	if align <= 1 {
		return off
	}
	a := uint64(align)
	return (off + a - 1) / a * a
}

func newEntryShape(params []Param, header uint64) entryShape {
	s := entryShape{key: parseParam("Fr::Object*"), value: parseParam("Fr::Object*"), hasValue: true}
	if len(params) > 0 {
		s.key = params[0]
	}
	if len(params) > 1 {
		s.value = params[1]
	}
	// values narrower than two bytes are not stored
	if len(params) == 1 || s.value.Width < 2 {
		s.hasValue = false
	}
	s.keyOff = alignUp(header, s.key.Width)
	end := s.keyOff + uint64(s.key.Width)
	align := s.key.Width
	if s.hasValue {
		s.valueOff = alignUp(end, s.value.Width)
		end = s.valueOff + uint64(s.value.Width)
		if s.value.Width > align {
			align = s.value.Width
		}
	}
	s.stride = alignUp(end, align)
	return s
}

type hashTableDecoder struct {
	objectView
	shape entryShape

	loaded   bool
	err      error
	table    uint64
	entries  uint64
	capacity uint64
	slots    int
	suffix   string
}

func newHashTableDecoder(d *Dispatcher, obj Object) Decoder {
	var header uint64
	if l, ok := d.layouts.Lookup(entryLayout); ok {
		header = l.Fields["header"]
	}
	return &hashTableDecoder{objectView: d.view(obj), shape: newEntryShape(obj.Params, header)}
}

func (h *hashTableDecoder) load(ctx Context) error {
	if h.loaded {
		return h.err
	}
	h.loaded = true
	h.table, h.err = h.word("table")
	if h.err != nil || h.table == 0 {
		return h.err
	}
	l, ok := h.d.layouts.Lookup(tableLayout)
	if !ok {
		h.err = fmt.Errorf("%s: %w", tableLayout, errNoLayout)
		return h.err
	}
	offs, err := l.Offsets("entries", "size")
	if err != nil {
		h.err = err
		return err
	}
	h.entries, h.err = proc.ReadUint64(h.d.mem, h.table+offs[0])
	if h.err != nil {
		return h.err
	}
	h.capacity, h.err = proc.ReadUint64(h.d.mem, h.table+offs[1])
	if h.err != nil {
		return h.err
	}
	if limit := uint64(ctx.Config.MaxTableSlots); h.capacity > limit {
		h.suffix = h.d.malformed(&MalformedError{Type: h.obj.Type, Addr: h.obj.Addr, Field: "size", Value: h.capacity, Limit: limit})
		h.slots = int(limit)
	} else {
		h.slots = int(h.capacity)
	}
	return nil
}

func (h *hashTableDecoder) Summary(ctx Context) Value {
	if err := h.load(ctx); err != nil {
		return h.brokenValue(err)
	}
	kind := Mapping
	if !h.shape.hasValue {
		kind = Sequence
	}
	return Value{
		Kind:    kind,
		Summary: fmt.Sprintf("HashTable(%d)%s%s", h.capacity, h.at(), h.suffix),
		Addr:    h.obj.Addr,
	}
}

// Enumerate walks the slots in storage order, skipping the empty ones.
func (h *hashTableDecoder) Enumerate(ctx Context) []Child {
	if err := h.load(ctx); err != nil || h.slots == 0 || h.entries == 0 {
		return nil
	}
	var children []Child
	empty := h.shape.key.allOnes()
	found := 0
	for start := 0; start < h.slots; start += slotBatch {
		n := h.slots - start
		if n > slotBatch {
			n = slotBatch
		}
		base := h.entries + uint64(start)*h.shape.stride
		mem := proc.CacheMemory(h.d.mem, base, n*int(h.shape.stride))
		for i := start; i < start+n; i++ {
			slot := h.entries + uint64(i)*h.shape.stride
			raw, err := proc.ReadUint(mem, slot+h.shape.keyOff, h.shape.key.Width)
			if err != nil {
				return append(children, Child{Label: strconv.Itoa(i), Value: unreadableValue(slot)})
			}
			if raw == empty {
				continue
			}
			if found >= ctx.Config.MaxArrayValues {
				return append(children, ellipsisChild(strconv.Itoa(i)))
			}
			found++
			key := h.d.elementValue(ctx, raw, h.shape.key)
			if !h.shape.hasValue {
				children = append(children, Child{Label: strconv.Itoa(i), Value: key})
				continue
			}
			children = append(children, Child{
				Label: strconv.Itoa(i),
				Key:   &key,
				Value: h.d.element(ctx, mem, slot+h.shape.valueOff, h.shape.value),
			})
		}
	}
	return children
}
