// Package layout holds the field offset tables used to read runtime
// objects out of foreign memory.
package layout

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"

	"github.com/framepac/frinspect/pkg/config"
)

//go:embed defaults.yml
var defaultsYAML []byte

// Layout describes the fields of one runtime type.
type Layout struct {
	Name   string
	Fields map[string]uint64
}

// MissingFieldError is returned when a layout does not define a field a
// decoder needs.
type MissingFieldError struct {
	Type  string
	Field string
}

func (err *MissingFieldError) Error() string {
	return fmt.Sprintf("layout %s has no field %q", err.Type, err.Field)
}

// Offset returns the offset of field.
func (l *Layout) Offset(field string) (uint64, error) {
	off, ok := l.Fields[field]
	if !ok {
		return 0, &MissingFieldError{Type: l.Name, Field: field}
	}
	return off, nil
}

// Offsets returns the offsets of all the named fields, in order.
func (l *Layout) Offsets(fields ...string) ([]uint64, error) {
	r := make([]uint64, len(fields))
	for i, f := range fields {
		off, err := l.Offset(f)
		if err != nil {
			return nil, err
		}
		r[i] = off
	}
	return r, nil
}

// Extent returns the number of bytes from the start of the object to the
// end of its last word-sized field.
func (l *Layout) Extent() uint64 {
	var max uint64
	for _, off := range l.Fields {
		if off+8 > max {
			max = off + 8
		}
	}
	return max
}

// String returns the fields of l ordered by offset.
func (l *Layout) String() string {
	names := make([]string, 0, len(l.Fields))
	for name := range l.Fields {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		oi, oj := l.Fields[names[i]], l.Fields[names[j]]
		if oi != oj {
			return oi < oj
		}
		return names[i] < names[j]
	})
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s {", l.Name)
	for i, name := range names {
		if i > 0 {
			buf.WriteString(",")
		}
		fmt.Fprintf(&buf, " %s@%d", name, l.Fields[name])
	}
	buf.WriteString(" }")
	return buf.String()
}

// Table maps type names to layouts. A Layout returned by Lookup is never
// modified, Merge replaces it.
type Table struct {
	mu      sync.RWMutex
	layouts map[string]*Layout
}

// Default returns a table loaded with the built-in layouts.
func Default() *Table {
	t, err := Parse(defaultsYAML)
	if err != nil {
		panic(fmt.Errorf("built-in layouts: %w", err))
	}
	return t
}

// Parse reads a table from YAML, a mapping of type name to a mapping of
// field name to offset.
func Parse(data []byte) (*Table, error) {
	var raw map[string]config.FieldOffsets
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	t := &Table{layouts: make(map[string]*Layout)}
	t.Merge(raw)
	return t, nil
}

// Merge adds the layouts in overrides to the table. Fields of a type that
// already exists are replaced one by one, so an override may change a single
// offset and keep the rest.
func (t *Table) Merge(overrides map[string]config.FieldOffsets) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, fields := range overrides {
		l := &Layout{Name: name, Fields: make(map[string]uint64)}
		if old := t.layouts[name]; old != nil {
			for field, off := range old.Fields {
				l.Fields[field] = off
			}
		}
		for field, off := range fields {
			l.Fields[field] = off
		}
		t.layouts[name] = l
	}
}

// Lookup returns the layout for name. Template arguments are ignored, so
// that "Fr::HashTable<unsigned int, unsigned int>" finds "Fr::HashTable",
// and a bare name is also tried in the Fr namespace.
func (t *Table) Lookup(name string) (*Layout, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lookup(name)
}

func (t *Table) lookup(name string) (*Layout, bool) {
	name = strings.TrimSpace(name)
	if l, ok := t.layouts[name]; ok {
		return l, true
	}
	if i := strings.Index(name, "<"); i > 0 {
		if l, ok := t.layouts[strings.TrimSpace(name[:i])]; ok {
			return l, true
		}
	}
	if !strings.Contains(name, "::") {
		return t.lookup("Fr::" + name)
	}
	return nil, false
}

// Names returns the sorted list of type names in the table.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r := make([]string, 0, len(t.layouts))
	for name := range t.layouts {
		r = append(r, name)
	}
	sort.Strings(r)
	return r
}
