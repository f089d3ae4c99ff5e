package inspect

import (
	"strconv"

	"github.com/framepac/frinspect/pkg/proc"
)

// listWalk is the state of a bounded list traversal.
type listWalk uint8

const (
	walkScanning listWalk = iota
	// walkSentinel: reached a node whose next field points to itself.
	walkSentinel
	// walkBounded: visited the maximum number of nodes.
	walkBounded
	// walkUnreadable: a next field could not be read or was NULL.
	walkUnreadable
)

func (s listWalk) String() string {
	switch s {
	case walkScanning:
		return "scanning"
	case walkSentinel:
		return "sentinel"
	case walkBounded:
		return "bounded"
	case walkUnreadable:
		return "unreadable"
	}
	return "?"
}

type listDecoder struct {
	objectView
}

func newListDecoder(d *Dispatcher, obj Object) Decoder {
	return listDecoder{d.view(obj)}
}

// A list is empty when the next field of its head points at the head
// itself.
func (l listDecoder) Summary(ctx Context) Value {
	next, err := l.word("next")
	if err != nil {
		return l.brokenValue(err)
	}
	if next == l.obj.Addr {
		s := "()"
		if ctx.TopLevel() {
			s = "empty List"
		}
		return Value{Kind: Scalar, Summary: s, Addr: l.obj.Addr}
	}
	return Value{Kind: Sequence, Summary: "List", Addr: l.obj.Addr}
}

func (l listDecoder) Enumerate(ctx Context) []Child {
	if l.obj.Layout == nil {
		return nil
	}
	offs, err := l.obj.Layout.Offsets("next", "item")
	if err != nil {
		return nil
	}
	children, state := l.walk(ctx, offs[0], offs[1])
	if state == walkBounded {
		children = append(children, ellipsisChild(strconv.Itoa(len(children))))
	}
	return children
}

func (l listDecoder) walk(ctx Context, nextOff, itemOff uint64) ([]Child, listWalk) {
	var children []Child
	cur := l.obj.Addr
	for {
		next, err := proc.ReadUint64(l.d.mem, cur+nextOff)
		if err != nil {
			return append(children, Child{Label: strconv.Itoa(len(children)), Value: unreadableValue(cur)}), walkUnreadable
		}
		if next == cur {
			return children, walkSentinel
		}
		if len(children) >= ctx.Config.MaxListItems {
			return children, walkBounded
		}
		item := l.d.derefField(ctx, l.d.mem, cur+itemOff, "")
		children = append(children, Child{Label: strconv.Itoa(len(children)), Value: item.Display()})
		if next == 0 {
			return append(children, Child{Label: strconv.Itoa(len(children)), Value: nullValue()}), walkUnreadable
		}
		cur = next
	}
}

type listBuilderDecoder struct {
	objectView
}

func (b listBuilderDecoder) Summary(ctx Context) Value {
	if _, err := b.word("list"); err != nil {
		return b.brokenValue(err)
	}
	return Value{Kind: Reference, Summary: "ListBuilder" + b.at(), Addr: b.obj.Addr}
}

func (b listBuilderDecoder) Enumerate(ctx Context) []Child {
	addr, err := b.fieldAddr("list")
	if err != nil {
		return nil
	}
	return []Child{{Label: "l", Value: b.d.derefField(ctx, b.mem, addr, "Fr::List").Display()}}
}
