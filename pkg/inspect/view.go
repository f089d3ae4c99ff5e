package inspect

import (
	"errors"
	"fmt"

	"github.com/framepac/frinspect/pkg/logflags"
	"github.com/framepac/frinspect/pkg/proc"
)

var errNoLayout = errors.New("no layout")

// objectView reads the fields of one object through a cache of its bytes.
type objectView struct {
	d   *Dispatcher
	obj Object
	mem proc.MemoryReader
}

func (d *Dispatcher) view(obj Object) objectView {
	mem := d.mem
	if obj.Layout != nil {
		mem = proc.CacheMemory(d.mem, obj.Addr, int(obj.Layout.Extent()))
	}
	return objectView{d: d, obj: obj, mem: mem}
}

func (v objectView) fieldAddr(field string) (uint64, error) {
	if v.obj.Layout == nil {
		return 0, fmt.Errorf("%s: %w", v.obj.Type, errNoLayout)
	}
	off, err := v.obj.Layout.Offset(field)
	if err != nil {
		return 0, err
	}
	return v.obj.Addr + off, nil
}

func (v objectView) uint(field string, width int) (uint64, error) {
	addr, err := v.fieldAddr(field)
	if err != nil {
		return 0, err
	}
	return proc.ReadUint(v.mem, addr, width)
}

func (v objectView) word(field string) (uint64, error) {
	return v.uint(field, proc.PtrSize)
}

// words reads several word sized fields at once.
func (v objectView) words(fields ...string) ([]uint64, error) {
	r := make([]uint64, len(fields))
	for i, f := range fields {
		w, err := v.word(f)
		if err != nil {
			return nil, err
		}
		r[i] = w
	}
	return r, nil
}

// brokenValue is the summary of an object whose own fields could not be
// read.
func (v objectView) brokenValue(err error) Value {
	if logflags.Inspect() {
		v.d.log.WithError(err).Debugf("reading %s at %#x", v.obj.Type, v.obj.Addr)
	}
	r := Value{Kind: Opaque, Type: v.obj.Type, Addr: v.obj.Addr}
	if errors.Is(err, proc.ErrUnreadable) {
		r.Summary = fmt.Sprintf("%s @ %#x %s", v.obj.Family, v.obj.Addr, unreadableText)
		r.Marker = MarkerUnreadable
	} else {
		r.Summary = fmt.Sprintf("%s @ %#x (%v)", v.obj.Family, v.obj.Addr, err)
	}
	return r
}

// at returns the " @ 0x..." suffix used by terse forms.
func (v objectView) at() string {
	return fmt.Sprintf(" @ %#x", v.obj.Addr)
}

// checkCount validates a size field against its capacity and the sanity
// limit. It returns the count to use and the suffix to add to the summary.
func (v objectView) checkCount(field string, size, capacity uint64) (uint64, string) {
	switch {
	case size > maxSaneSize:
		return 0, v.d.malformed(&MalformedError{Type: v.obj.Type, Addr: v.obj.Addr, Field: field, Value: size, Limit: maxSaneSize})
	case size > capacity:
		return capacity, v.d.malformed(&MalformedError{Type: v.obj.Type, Addr: v.obj.Addr, Field: field, Value: size, Limit: capacity})
	}
	return size, ""
}

// clamp limits n to max, reporting whether it was cut.
func clamp(n uint64, max int) (int, bool) {
	if max >= 0 && n > uint64(max) {
		return max, true
	}
	return int(n), false
}
