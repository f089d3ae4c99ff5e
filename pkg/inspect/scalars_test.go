package inspect

import (
	"fmt"
	"math"
	"testing"
)

func TestScalars(t *testing.T) {
	f := newFixture(t)
	neg := f.integer(-5)
	big := f.integer(4096)
	ten := f.integer(10)
	flt := f.object("Float", 16)
	f.putWord(flt+8, math.Float64bits(0.25))
	str := f.str("hello")
	sym := f.symbol("FOO", 3<<52|2<<48|0x1234)
	lower := f.symbol("foo bar", 0)
	emptyStr := f.str("")

	atm := f.alloc(8)
	f.putU32(atm, 0xFFFFFFFF)
	mtx := f.alloc(24)
	f.putU32(mtx+4, 1)
	f.putU32(mtx+8, 1234)
	f.putU32(mtx+12, 2)
	f.putU16(mtx+20, 3)

	d := f.dispatcher()
	tests := []struct {
		addr uint64
		hint string
		kind Kind
		out  string
	}{
		{neg, "", Scalar, "-5"},
		// the stored word is a long int, it is printed in decimal
		{big, "", Scalar, "4096"},
		{ten, "", Scalar, "10"},
		{flt, "", Scalar, "0.25"},
		{str, "", Text, `String(5,"hello")`},
		{emptyStr, "", Text, `String(0,"")`},
		{sym, "", Text, `Symbol("FOO",3,2)`},
		{lower, "", Text, `Symbol("foo bar",0,0)`},
		{atm, "Fr::Atomic<int>", Scalar, "atm(-1)"},
		{atm, "Fr::Atomic<unsigned int>", Scalar, "atm(4294967295)"},
		{mtx, "std::mutex", Scalar, "mutex(own=1234,cnt=1,users=2,spins=3)"},
	}
	for _, tc := range tests {
		v := d.Decode(tc.addr, tc.hint)
		if v.Kind != tc.kind || v.Summary != tc.out {
			t.Errorf("%#x %q: expected %v %q got %v %q", tc.addr, tc.hint, tc.kind, tc.out, v.Kind, v.Summary)
		}
	}
}

func TestNestedTextForms(t *testing.T) {
	f := newFixture(t)
	arr := f.array("Array", 3, f.str("hello"), f.symbol("FOO", 1<<52), f.symbol("foo bar", 0))
	d := f.dispatcher()
	v := d.Decode(arr, "")
	assertSummaries(t, v.Children, `"hello"`, "FOO", "|foo bar|")
	if v.Children[0].Value.Len != 5 {
		t.Errorf("unexpected length %d", v.Children[0].Value.Len)
	}
}

func TestRefs(t *testing.T) {
	f := newFixture(t)
	num := f.integer(5)
	ptr := f.alloc(8)
	f.putWord(ptr, num)
	null := f.alloc(8)
	cstr := f.alloc(16)
	f.putBytes(cstr, []byte("text\x00"))
	cptr := f.alloc(8)
	f.putWord(cptr, cstr)
	str := f.str("abc")
	sptr := f.alloc(8)
	f.putWord(sptr, str)
	bad := f.alloc(8)
	f.putWord(bad, 0x30)

	d := f.dispatcher()
	tests := []struct {
		addr  uint64
		hint  string
		out   string
		child string
		value string
	}{
		{ptr, "Fr::ObjectPtr", fmt.Sprintf("->Object @ %#x", num), "obj", "5"},
		{ptr, "Fr::Ptr<Object>", fmt.Sprintf("->Object @ %#x", num), "obj", "5"},
		{null, "Fr::ObjectPtr", "->Object @ 0x0", "obj", "NULL"},
		{bad, "Fr::ObjectPtr", "->Object @ 0x30", "obj", "@0x30"},
		{sptr, "Fr::StringPtr", fmt.Sprintf("->String @ %#x", str), "s", `"abc"`},
		{sptr, "Fr::Ptr<Fr::String>", fmt.Sprintf("->String @ %#x", str), "obj", `"abc"`},
		{ptr, "Fr::ScopedObject<Fr::Integer>", fmt.Sprintf("ScopedObject @ %#x", num), "obj", "5"},
		{ptr, "Fr::NewPtr<Fr::Object>", fmt.Sprintf("->Object @ %#x", num), "obj", "5"},
		{cptr, "Fr::Ptr<char>", "CharPtr", "str", `"text"`},
		{null, "Fr::Ptr<char>", "CharPtr", "str", "NULL"},
	}
	for _, tc := range tests {
		v := d.Decode(tc.addr, tc.hint)
		if v.Kind != Reference || v.Summary != tc.out {
			t.Errorf("%s: expected %q got %v %q", tc.hint, tc.out, v.Kind, v.Summary)
			continue
		}
		if len(v.Children) != 1 || v.Children[0].Label != tc.child || v.Children[0].Value.Summary != tc.value {
			t.Errorf("%s: unexpected children %#v", tc.hint, v.Children)
		}
	}
}

func TestPrettyPrint(t *testing.T) {
	f := newFixture(t)
	num := f.integer(5)
	ptr := f.alloc(8)
	f.putWord(ptr, num)
	arr := f.array("Array", 2, f.list(f.integer(1), f.integer(2)), f.integer(3))
	d := f.dispatcher()

	v := d.Decode(ptr, "Fr::ObjectPtr")
	if s := v.SinglelineString(); s != fmt.Sprintf("->Object @ %#x {obj: 5}", num) {
		t.Errorf("unexpected string %q", s)
	}

	v = d.Decode(arr, "")
	if s := v.SinglelineString(); s != "Array(2/2) [List [1, 2], 3]" {
		t.Errorf("unexpected string %q", s)
	}
	if s := v.MultilineString(""); s != "Array(2/2) [\n\tList [1, 2],\n\t3,\n]" {
		t.Errorf("unexpected string %q", s)
	}

	if s := nullValue().SinglelineString(); s != "NULL" {
		t.Errorf("unexpected string %q", s)
	}
	unloaded := Value{Kind: Mapping, Summary: "HashTable(4) @ 0x10", Unloaded: true}
	if s := unloaded.SinglelineString(); s != "HashTable(4) @ 0x10 {...}" {
		t.Errorf("unexpected string %q", s)
	}
}
