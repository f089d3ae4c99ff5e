package inspect

import (
	"bytes"
	"fmt"
	"io"
)

// string used for one indentation level (when printing on multiple lines)
const indentString = "\t"

// SinglelineString returns a representation of v on a single line.
func (v Value) SinglelineString() string {
	var buf bytes.Buffer
	v.writeTo(&buf, false, "")
	return buf.String()
}

// MultilineString returns a representation of v on multiple lines.
func (v Value) MultilineString(indent string) string {
	var buf bytes.Buffer
	v.writeTo(&buf, true, indent)
	return buf.String()
}

func (v *Value) writeTo(buf io.Writer, newlines bool, indent string) {
	fmt.Fprint(buf, v.Summary)
	if !v.Kind.Container() || v.Marker != MarkerNone {
		return
	}
	open, close := " [", "]"
	if v.Kind != Sequence {
		open, close = " {", "}"
	}
	if v.Unloaded {
		fmt.Fprint(buf, open, ellipsis, close)
		return
	}
	if len(v.Children) == 0 {
		return
	}
	nl := v.shouldNewline(newlines)

	fmt.Fprint(buf, open)
	for i := range v.Children {
		c := &v.Children[i]
		if nl {
			fmt.Fprintf(buf, "\n%s%s", indent, indentString)
		}
		switch {
		case c.IsEllipsis():
		case c.Key != nil:
			c.Key.writeTo(buf, false, indent+indentString)
			fmt.Fprint(buf, ": ")
		case v.Kind != Sequence:
			fmt.Fprintf(buf, "%s: ", c.Label)
		}
		c.Value.writeTo(buf, nl, indent+indentString)
		if i != len(v.Children)-1 || nl {
			fmt.Fprint(buf, ",")
			if !nl {
				fmt.Fprint(buf, " ")
			}
		}
	}
	if nl {
		fmt.Fprintf(buf, "\n%s", indent)
	}
	fmt.Fprint(buf, close)
}

// shouldNewline returns true if the children of v should be printed one per
// line, which is the case when any of them has children of its own.
func (v *Value) shouldNewline(newlines bool) bool {
	if !newlines {
		return false
	}
	for i := range v.Children {
		c := &v.Children[i]
		if len(c.Value.Children) > 0 || c.Value.Unloaded {
			return true
		}
	}
	return false
}
