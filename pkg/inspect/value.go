package inspect

import "fmt"

// Kind describes the shape of a Value.
type Kind uint8

const (
	// Opaque values are objects whose type is unknown or has no decoder.
	Opaque Kind = iota
	// Scalar values are numbers and other single-line leaves.
	Scalar
	// Text values are decoded strings.
	Text
	// Sequence values have children labelled by position.
	Sequence
	// Mapping values have children that carry a key.
	Mapping
	// Reference values point at another value, which is their only child,
	// or carry a Null or Unreadable marker.
	Reference
)

func (k Kind) String() string {
	switch k {
	case Opaque:
		return "opaque"
	case Scalar:
		return "scalar"
	case Text:
		return "text"
	case Sequence:
		return "sequence"
	case Mapping:
		return "mapping"
	case Reference:
		return "reference"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Container returns true for kinds that can have children.
func (k Kind) Container() bool {
	return k == Sequence || k == Mapping || k == Reference
}

// Marker tags leaves produced by a pointer that could not be followed.
type Marker uint8

const (
	MarkerNone Marker = iota
	MarkerNull
	MarkerUnreadable
)

// Value is the decoded representation of one object in target memory.
// Every decode request produces exactly one Value, possibly made only of
// marker leaves.
type Value struct {
	Kind Kind
	// Summary is the one line header of the value, for example
	// "Array(3/4)" or "\"hello\"".
	Summary string
	// Type is the type name the value was decoded as, empty for markers.
	Type string
	Addr uint64

	// Len is the stored length of a Text value, Truncated is set when only
	// a prefix of it was rendered.
	Len       int
	Truncated bool

	Marker   Marker
	Children []Child

	// Unloaded is set when the value has children that were not loaded
	// because the depth limit was reached.
	Unloaded bool
}

// Child is one element of a Sequence, Mapping or Reference value.
type Child struct {
	Label string
	// Key is only set for Mapping children.
	Key   *Value
	Value Value
}

// NewScalar returns a Scalar value with the given summary.
func NewScalar(summary string) Value {
	return Value{Kind: Scalar, Summary: summary}
}

func nullValue() Value {
	return Value{Kind: Reference, Summary: "NULL", Marker: MarkerNull}
}

func unreadableValue(addr uint64) Value {
	return Value{Kind: Reference, Summary: fmt.Sprintf("@%#x", addr), Addr: addr, Marker: MarkerUnreadable}
}

func opaqueValue(tag string, addr uint64) Value {
	if tag == "" {
		tag = "(unknown)"
	}
	return Value{Kind: Opaque, Summary: fmt.Sprintf("%s @ %#x", tag, addr), Type: tag, Addr: addr}
}

// ellipsisChild marks a container whose enumeration was cut short.
func ellipsisChild(label string) Child {
	return Child{Label: label, Value: NewScalar(ellipsis)}
}

const ellipsis = "..."

// IsEllipsis returns true if c is the marker appended to a truncated
// enumeration.
func (c Child) IsEllipsis() bool {
	return c.Key == nil && c.Value.Kind == Scalar && c.Value.Summary == ellipsis
}
