package inspect

import (
	"strings"

	"github.com/framepac/frinspect/pkg/proc"
)

const unreadableText = "(unreadable memory)"

// DecodePackedText splits a packed text word into its length, stored in
// the top 16 bits, and its pointer, stored in the low 48 bits.
func DecodePackedText(w uint64) (length int, ptr uint64) {
	return int(w >> 48 & 0xFFFF), w & 0x0000FFFFFFFFFFFF
}

// RenderText reads length bytes at ptr and returns them escaped. Text
// longer than MaxStringLen is cut to its first MaxStringLen-3 bytes followed
// by an ellipsis.
// Quoted text is wrapped in double quotes. Unquoted text is used for
// identifiers and is wrapped in |...| if it contains any character other
// than upper case letters, digits and ._-.
// If the memory can not be read the result is "(unreadable memory)".
func RenderText(mem proc.MemoryReader, ptr uint64, length int, quoted bool) string {
	s, _ := renderText(mem, ptr, length, quoted)
	return s
}

func renderText(mem proc.MemoryReader, ptr uint64, length int, quoted bool) (string, bool) {
	tail := ""
	if length > MaxStringLen {
		length = MaxStringLen - 3
		tail = ellipsis
	}
	var data []byte
	if length > 0 {
		var err error
		data, err = proc.ReadBytes(mem, ptr, length)
		if err != nil {
			return unreadableText, false
		}
	}
	return escapeText(data, tail, quoted), true
}

func escapeText(data []byte, tail string, quoted bool) string {
	var buf strings.Builder
	for _, b := range data {
		escapeByte(&buf, b)
	}
	buf.WriteString(tail)
	s := buf.String()
	switch {
	case quoted:
		return `"` + s + `"`
	case !identifierSafe(s):
		return "|" + s + "|"
	}
	return s
}

func escapeByte(buf *strings.Builder, b byte) {
	switch {
	case b == '\\':
		buf.WriteString(`\\`)
	case b == '\t' || b >= 32:
		buf.WriteByte(b)
	case b == 0:
		buf.WriteString(`\0`)
	case b == '\n':
		buf.WriteString(`\n`)
	case b == '\r':
		buf.WriteString(`\r`)
	case b == 27:
		buf.WriteString(`\e`)
	default:
		buf.WriteByte('^')
		buf.WriteByte(b + 64)
	}
}

func identifierSafe(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}

// textValue decodes the packed text word w into a Text value.
func textValue(mem proc.MemoryReader, w uint64, quoted bool) Value {
	length, ptr := DecodePackedText(w)
	s, ok := renderText(mem, ptr, length, quoted)
	v := Value{Kind: Text, Summary: s, Addr: ptr, Len: length, Truncated: length > MaxStringLen}
	if !ok {
		v.Marker = MarkerUnreadable
	}
	return v
}
