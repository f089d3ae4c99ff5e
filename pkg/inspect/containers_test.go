package inspect

import (
	"fmt"
	"math"
	"strconv"
	"testing"
)

func TestListDecode(t *testing.T) {
	f := newFixture(t)
	head := f.list(f.integer(1), f.integer(2), f.integer(3))
	d := f.dispatcher()

	v := d.Decode(head, "")
	if v.Kind != Sequence || v.Summary != "List" {
		t.Fatalf("unexpected value %#v", v)
	}
	assertSummaries(t, v.Children, "1", "2", "3")
	for i, c := range v.Children {
		if c.Label != strconv.Itoa(i) {
			t.Errorf("child %d has label %q", i, c.Label)
		}
	}
	if s := v.SinglelineString(); s != "List [1, 2, 3]" {
		t.Errorf("unexpected string %q", s)
	}
}

func TestEmptyList(t *testing.T) {
	f := newFixture(t)
	empty := f.list()
	d := f.dispatcher()
	v := d.Decode(empty, "")
	if v.Kind != Scalar || v.Summary != "empty List" || len(v.Children) != 0 {
		t.Fatalf("unexpected value %#v", v)
	}

	arr := f.array("Array", 2, empty, f.list(f.list()))
	v = d.Decode(arr, "")
	assertSummaries(t, v.Children, "()", "List")
	assertSummaries(t, v.Children[1].Value.Children, "()")
}

func TestListBounded(t *testing.T) {
	f := newFixture(t)
	a := f.object("List", 24)
	b := f.object("List", 24)
	f.putWord(a+8, b)
	f.putWord(a+16, f.integer(1))
	f.putWord(b+8, a)
	f.putWord(b+16, f.integer(2))

	d := f.dispatcher()
	v := d.Decode(a, "")
	if len(v.Children) != DefaultLoadConfig.MaxListItems+1 {
		t.Fatalf("expected %d children got %d", DefaultLoadConfig.MaxListItems+1, len(v.Children))
	}
	last := v.Children[len(v.Children)-1]
	if !last.IsEllipsis() || last.Label != strconv.Itoa(DefaultLoadConfig.MaxListItems) {
		t.Fatalf("expected trailing ellipsis, got %#v", last)
	}
	for i, c := range v.Children[:len(v.Children)-1] {
		if c.Value.Summary != strconv.Itoa(i%2+1) {
			t.Fatalf("child %d: %q", i, c.Value.Summary)
		}
	}

	d = NewDispatcher(f.memory(), Config{Load: LoadConfig{MaxListItems: 3}})
	v = d.Decode(a, "")
	assertSummaries(t, v.Children, "1", "2", "1", ellipsis)
}

func TestListBroken(t *testing.T) {
	f := newFixture(t)
	node := f.object("List", 24)
	f.putWord(node+8, 0x40)
	f.putWord(node+16, f.integer(9))
	d := f.dispatcher()
	assertSummaries(t, d.Decode(node, "").Children, "9", "@0x40")

	f.putWord(node+8, 0)
	v := d.Decode(node, "")
	assertSummaries(t, v.Children, "9", "NULL")
	if v.Children[1].Value.Marker != MarkerNull {
		t.Errorf("expected NULL marker")
	}

	// item pointers are followed like any other pointer
	f.putWord(node+16, 0)
	assertSummaries(t, d.Decode(node, "").Children, "NULL", "NULL")
}

func TestListBuilder(t *testing.T) {
	f := newFixture(t)
	head := f.list(f.str("a"), f.str("b"))
	builder := f.alloc(8)
	f.putWord(builder, head)
	d := f.dispatcher()

	v := d.Decode(builder, "Fr::ListBuilder")
	if v.Kind != Reference || v.Summary != fmt.Sprintf("ListBuilder @ %#x", builder) {
		t.Fatalf("unexpected value %#v", v)
	}
	if len(v.Children) != 1 || v.Children[0].Label != "l" {
		t.Fatalf("unexpected children %#v", v.Children)
	}
	assertSummaries(t, v.Children[0].Value.Children, `"a"`, `"b"`)
}

func TestArray(t *testing.T) {
	f := newFixture(t)
	arr := f.array("Array", 4, f.integer(1), f.integer(2), f.integer(3))
	d := f.dispatcher()
	v := d.Decode(arr, "")
	if v.Summary != "Array(3/4)" || v.Kind != Sequence {
		t.Fatalf("unexpected value %#v", v)
	}
	if s := v.SinglelineString(); s != "Array(3/4) [1, 2, 3]" {
		t.Fatalf("unexpected string %q", s)
	}

	ref := f.array("RefArray", 2, 0, f.integer(-4))
	v = d.Decode(ref, "")
	if v.Summary != "RefArray(2/2)" {
		t.Fatalf("unexpected summary %q", v.Summary)
	}
	assertSummaries(t, v.Children, "NULL", "-4")

	if v := d.Decode(f.array("Array", 0), ""); v.Summary != "Array(0/0)" || len(v.Children) != 0 {
		t.Fatalf("unexpected value %#v", v)
	}
}

func TestArrayClamped(t *testing.T) {
	f := newFixture(t)
	var items []uint64
	for i := 0; i < 10; i++ {
		items = append(items, f.integer(int64(i)))
	}
	arr := f.array("Array", 10, items...)
	d := NewDispatcher(f.memory(), Config{Load: LoadConfig{MaxArrayValues: 4}})
	v := d.Decode(arr, "")
	assertSummaries(t, v.Children, "0", "1", "2", "3", ellipsis)
	if !v.Children[4].IsEllipsis() {
		t.Fatalf("expected ellipsis")
	}
	if s := v.SinglelineString(); s != "Array(10/10) [0, 1, 2, 3, ...]" {
		t.Fatalf("unexpected string %q", s)
	}
}

func TestArrayMalformed(t *testing.T) {
	f := newFixture(t)
	arr := f.array("Array", 2, f.integer(1), f.integer(2))
	f.putWord(arr+16, 10)
	d := f.dispatcher()
	v := d.Decode(arr, "")
	if v.Summary != "Array(10/2) (malformed)" {
		t.Fatalf("unexpected summary %q", v.Summary)
	}
	assertSummaries(t, v.Children, "1", "2")

	f.putWord(arr+16, 1<<40)
	f.putWord(arr+24, 1<<41)
	v = d.Decode(arr, "")
	if v.Summary != fmt.Sprintf("Array(%d/%d) (malformed)", uint64(1<<40), uint64(1<<41)) || len(v.Children) != 0 {
		t.Fatalf("unexpected value %#v", v)
	}
}

func TestDepthLimit(t *testing.T) {
	f := newFixture(t)
	inner := f.integer(1)
	for i := 0; i < 4; i++ {
		inner = f.array("Array", 1, inner)
	}
	d := NewDispatcher(f.memory(), Config{Load: LoadConfig{MaxVariableRecurse: 2}})
	v := d.Decode(inner, "")
	if len(v.Children) != 1 {
		t.Fatalf("depth 0 not loaded")
	}
	l1 := v.Children[0].Value
	if len(l1.Children) != 1 {
		t.Fatalf("depth 1 not loaded")
	}
	l2 := l1.Children[0].Value
	if len(l2.Children) != 0 || !l2.Unloaded {
		t.Fatalf("depth 2 should not be loaded: %#v", l2)
	}
	if s := v.SinglelineString(); s != "Array(1/1) [Array(1/1) [Array(1/1) [...]]]" {
		t.Fatalf("unexpected string %q", s)
	}

	children := d.Enumerate(l2.Addr, "")
	if len(children) != 1 || children[0].Value.Summary != "Array(1/1)" {
		t.Fatalf("lazy expansion failed: %#v", children)
	}
}

// hashTable builds a table with the given capacity. Keys equal to empty
// are left unoccupied.
func (f *fixture) hashTable(tag string, stride, keyOff, valueOff uint64, keyWidth int, keys, values []uint64) uint64 {
	entries := f.alloc(int(stride) * len(keys))
	for i, k := range keys {
		slot := entries + uint64(i)*stride
		switch keyWidth {
		case 4:
			f.putU32(slot+keyOff, uint32(k))
		default:
			f.putWord(slot+keyOff, k)
		}
		if values == nil {
			continue
		}
		switch keyWidth {
		case 4:
			f.putU32(slot+valueOff, uint32(values[i]))
		default:
			f.putWord(slot+valueOff, values[i])
		}
	}
	table := f.alloc(64)
	f.putWord(table, entries)
	f.putWord(table+40, uint64(len(keys)))
	var obj uint64
	if tag != "" {
		obj = f.object(tag, 16)
	} else {
		obj = f.alloc(16)
	}
	f.putWord(obj+8, table)
	return obj
}

func TestHashTableU32(t *testing.T) {
	f := newFixture(t)
	const e = math.MaxUint32
	keys := []uint64{e, 10, e, e, 40, e, 60, e}
	values := []uint64{0, 100, 0, 0, 400, 0, 600, 0}
	ht := f.hashTable("HashTable_u32u32", 12, 4, 8, 4, keys, values)
	d := f.dispatcher()

	v := d.Decode(ht, "")
	if v.Kind != Mapping || v.Summary != fmt.Sprintf("HashTable(8) @ %#x", ht) {
		t.Fatalf("unexpected value %#v", v)
	}
	assertSummaries(t, v.Children, "100", "400", "600")
	for i, entry := range []struct{ label, key string }{{"1", "10"}, {"4", "40"}, {"6", "60"}} {
		c := v.Children[i]
		if c.Label != entry.label || c.Key == nil || c.Key.Summary != entry.key {
			t.Errorf("child %d: %#v", i, c)
		}
	}
	if s := v.SinglelineString(); s != fmt.Sprintf("HashTable(8) @ %#x {10: 100, 40: 400, 60: 600}", ht) {
		t.Errorf("unexpected string %q", s)
	}

	d = NewDispatcher(f.memory(), Config{Load: LoadConfig{MaxArrayValues: 2}})
	v = d.Decode(ht, "")
	if len(v.Children) != 3 || !v.Children[2].IsEllipsis() {
		t.Fatalf("expected two entries and an ellipsis, got %#v", v.Children)
	}
}

func TestHashTableEmpty(t *testing.T) {
	f := newFixture(t)
	const e = math.MaxUint32
	ht := f.hashTable("HashTable_u32u32", 12, 4, 8, 4, []uint64{e, e, e, e}, []uint64{1, 2, 3, 4})
	d := f.dispatcher()
	v := d.Decode(ht, "")
	if v.Summary != fmt.Sprintf("HashTable(4) @ %#x", ht) || len(v.Children) != 0 {
		t.Fatalf("unexpected value %#v", v)
	}

	noTable := f.object("HashTable_u32u32", 16)
	v = d.Decode(noTable, "")
	if v.Summary != fmt.Sprintf("HashTable(0) @ %#x", noTable) || len(v.Children) != 0 {
		t.Fatalf("unexpected value %#v", v)
	}
}

func TestHashTableObjects(t *testing.T) {
	f := newFixture(t)
	e := ^uint64(0)
	keys := []uint64{f.symbol("FOO", 0), e, f.symbol("bar", 0)}
	values := []uint64{f.integer(5), 0, 0}
	ht := f.hashTable("ObjHashTable", 24, 8, 16, 8, keys, values)
	d := f.dispatcher()
	v := d.Decode(ht, "")
	if len(v.Children) != 2 {
		t.Fatalf("unexpected children %#v", v.Children)
	}
	if v.Children[0].Key.Summary != "FOO" || v.Children[0].Value.Summary != "5" {
		t.Errorf("unexpected entry %#v", v.Children[0])
	}
	if v.Children[1].Key.Summary != "|bar|" || v.Children[1].Value.Marker != MarkerNull {
		t.Errorf("unexpected entry %#v", v.Children[1])
	}
}

func TestHashSet(t *testing.T) {
	f := newFixture(t)
	const e = math.MaxUint32
	ht := f.hashTable("", 8, 4, 0, 4, []uint64{7, e, 9}, nil)
	d := f.dispatcher()
	v := d.Decode(ht, "Fr::HashTable<unsigned int>")
	if v.Kind != Sequence {
		t.Fatalf("expected a sequence, got %v", v.Kind)
	}
	assertSummaries(t, v.Children, "7", "9")
	if s := v.SinglelineString(); s != fmt.Sprintf("HashTable(3) @ %#x [7, 9]", ht) {
		t.Errorf("unexpected string %q", s)
	}
}

func TestHashTableTooLarge(t *testing.T) {
	f := newFixture(t)
	const e = math.MaxUint32
	keys := make([]uint64, 32)
	for i := range keys {
		keys[i] = e
	}
	keys[3] = 1
	keys[20] = 2
	ht := f.hashTable("HashTable_u32u32", 12, 4, 8, 4, keys, make([]uint64, 32))
	d := NewDispatcher(f.memory(), Config{Load: LoadConfig{MaxTableSlots: 16}})
	v := d.Decode(ht, "")
	if v.Summary != fmt.Sprintf("HashTable(32) @ %#x (malformed)", ht) {
		t.Fatalf("unexpected summary %q", v.Summary)
	}
	if len(v.Children) != 1 || v.Children[0].Key.Summary != "1" {
		t.Fatalf("unexpected children %#v", v.Children)
	}
}

func TestEntryShape(t *testing.T) {
	tests := []struct {
		params                   []Param
		keyOff, valueOff, stride uint64
		hasValue                 bool
	}{
		{nil, 8, 16, 24, true},
		{[]Param{parseParam("unsigned int"), parseParam("unsigned int")}, 4, 8, 12, true},
		{[]Param{parseParam("unsigned int"), parseParam("Fr::Object*")}, 4, 8, 16, true},
		{[]Param{parseParam("Fr::Symbol*"), parseParam("unsigned long")}, 8, 16, 24, true},
		{[]Param{parseParam("unsigned int"), parseParam("bool")}, 4, 0, 8, false},
		{[]Param{parseParam("unsigned int")}, 4, 0, 8, false},
	}
	for i, tc := range tests {
		s := newEntryShape(tc.params, 4)
		if s.keyOff != tc.keyOff || s.stride != tc.stride || s.hasValue != tc.hasValue || (s.hasValue && s.valueOff != tc.valueOff) {
			t.Errorf("%d: unexpected shape %#v", i, s)
		}
	}
}

func putFloats(f *fixture, vals ...float32) uint64 {
	addr := f.alloc(4 * len(vals))
	for i, v := range vals {
		f.putU32(addr+uint64(4*i), math.Float32bits(v))
	}
	return addr
}

func TestVector(t *testing.T) {
	f := newFixture(t)
	vec := f.object("Fr::Vector<float>", 56)
	f.putWord(vec+8, putFloats(f, 1.5, 2, -3))
	f.putWord(vec+24, 3)
	f.putWord(vec+32, 4)
	f.putWord(vec+40, f.symbol("KEY", 0))
	d := f.dispatcher()

	v := d.Decode(vec, "")
	if v.Summary != "Vector(3/4 key=KEY label=NULL)" {
		t.Fatalf("unexpected summary %q", v.Summary)
	}
	assertSummaries(t, v.Children, "1.5", "2", "-3")

	arr := f.array("Array", 1, vec)
	v = d.Decode(arr, "")
	if s := v.Children[0].Value.Summary; s != fmt.Sprintf("Vector(3/4 key=KEY label=NULL) @ %#x", vec) {
		t.Fatalf("unexpected nested summary %q", s)
	}

	empty := f.object("Fr::Vector<float>", 56)
	f.putWord(empty+32, 8)
	v = d.Decode(empty, "")
	if v.Summary != "Vector(0/8 key=NULL label=NULL)" || len(v.Children) != 0 {
		t.Fatalf("unexpected value %#v", v)
	}
}

func TestVectorBackReferenceCycle(t *testing.T) {
	f := newFixture(t)
	self := f.object("Fr::Vector<float>", 56)
	f.putWord(self+40, self)
	f.putWord(self+48, self)
	a := f.object("Fr::Vector<float>", 56)
	b := f.object("Fr::Vector<float>", 56)
	f.putWord(a+40, b)
	f.putWord(b+40, a)
	d := f.dispatcher()

	inner := fmt.Sprintf("Vector(0/0 key=Fr::Vector<float> @ %#x label=Fr::Vector<float> @ %#x) @ %#x", self, self, self)
	if v := d.Decode(self, ""); v.Summary != fmt.Sprintf("Vector(0/0 key=%s label=%s)", inner, inner) {
		t.Fatalf("unexpected summary %q", v.Summary)
	}

	want := fmt.Sprintf("Vector(0/0 key=Vector(0/0 key=Fr::Vector<float> @ %#x label=NULL) @ %#x label=NULL)", a, b)
	if v := d.Decode(a, ""); v.Summary != want {
		t.Fatalf("unexpected summary %q", v.Summary)
	}

	// shown as an element the vectors are one level down already
	arr := f.array("Array", 1, a)
	v := d.Decode(arr, "")
	want = fmt.Sprintf("Vector(0/0 key=Vector(0/0 key=Fr::Vector<float> @ %#x label=NULL) @ %#x label=NULL) @ %#x", a, b, a)
	if s := v.Children[0].Value.Summary; s != want {
		t.Fatalf("unexpected nested summary %q", s)
	}
}

func TestSparseVector(t *testing.T) {
	f := newFixture(t)
	vec := f.object("SparseVector_u32flt", 64)
	idx := f.alloc(8)
	f.putU32(idx, 3)
	f.putU32(idx+4, 7)
	f.putWord(vec+8, putFloats(f, 0.5, 1))
	f.putWord(vec+24, 2)
	f.putWord(vec+32, 2)
	f.putWord(vec+48, f.str("label"))
	f.putWord(vec+56, idx)
	d := f.dispatcher()

	v := d.Decode(vec, "")
	if v.Summary != `SparseVector(2/2 key=NULL label="label")` {
		t.Fatalf("unexpected summary %q", v.Summary)
	}
	assertSummaries(t, v.Children, "3", "0.5", "7", "1")
	if v.Children[2].Label != "1" || v.Children[3].Label != "1" {
		t.Errorf("unexpected labels %#v", v.Children)
	}
}

func TestBitVector(t *testing.T) {
	f := newFixture(t)
	bits := f.alloc(8)
	f.putWord(bits, 0xB)
	bv := f.object("BitVector", 32)
	f.putWord(bv+8, bits)
	f.putWord(bv+16, 4)
	f.putWord(bv+24, 64)
	d := f.dispatcher()
	v := d.Decode(bv, "")
	if v.Kind != Scalar || v.Summary != "BitVector(4/64:1101)" {
		t.Fatalf("unexpected value %#v", v)
	}

	f.putWord(bv+16, 0)
	if v := d.Decode(bv, ""); v.Summary != "BitVector(0/64)" {
		t.Fatalf("unexpected summary %q", v.Summary)
	}
}
