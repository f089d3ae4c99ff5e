package inspect

import (
	"fmt"
	"strings"
)

// refDecoder decodes the smart pointer wrappers, which hold a single
// target field.
type refDecoder struct {
	objectView
	label string
	child string
	hint  string
	cstr  bool
}

func newRefDecoder(label, child, hint string) Factory {
	return func(d *Dispatcher, obj Object) Decoder {
		return refDecoder{objectView: d.view(obj), label: label, child: child, hint: hint}
	}
}

// newTemplateRefDecoder decodes Fr::Ptr<T> and Fr::ScopedObject<T>, the
// pointee type is the template argument.
func newTemplateRefDecoder(label string) Factory {
	return func(d *Dispatcher, obj Object) Decoder {
		r := refDecoder{objectView: d.view(obj), label: label, child: "obj"}
		if len(obj.Params) > 0 {
			p := obj.Params[0]
			pointee := strings.TrimSuffix(p.Name, "*")
			pointee = strings.TrimSpace(pointee)
			switch {
			case pointee == "char":
				r.label, r.child, r.cstr = "CharPtr", "str", true
			case label == "":
				r.label = "->" + strings.TrimPrefix(pointee, "Fr::")
			}
			if !r.cstr && !isObjectBase(pointee) {
				r.hint = pointee
			}
		}
		if r.label == "" {
			r.label = "->Object"
		}
		return r
	}
}

func (r refDecoder) Summary(ctx Context) Value {
	target, err := r.word("target")
	if err != nil {
		return r.brokenValue(err)
	}
	s := r.label
	if !r.cstr {
		s = fmt.Sprintf("%s @ %#x", r.label, target)
	}
	return Value{Kind: Reference, Summary: s, Addr: r.obj.Addr}
}

func (r refDecoder) Enumerate(ctx Context) []Child {
	target, err := r.word("target")
	if err != nil {
		return nil
	}
	if r.cstr {
		return []Child{{Label: r.child, Value: r.d.cstringValue(target)}}
	}
	return []Child{{Label: r.child, Value: r.d.deref(ctx, target, r.hint).Display()}}
}
