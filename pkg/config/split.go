package config

import (
	"bytes"
	"unicode"
)

// SplitQuotedFields is like strings.Fields but ignores spaces inside areas
// surrounded by the specified quote character and inside angle brackets, so
// that template type names such as "Fr::HashTable<Fr::Object*, Fr::Object*>"
// stay in one field.
// To specify a quote character inside a quoted area escape it with a
// backslash: '\''
func SplitQuotedFields(in string, quote rune) []string {
	type stateEnum int
	const (
		inSpace stateEnum = iota
		inField
		inQuote
		inQuoteEscaped
	)
	state := inSpace
	r := []string{}
	var buf bytes.Buffer
	angle := 0

	for _, ch := range in {
		switch state {
		case inSpace:
			if ch == quote {
				state = inQuote
			} else if !unicode.IsSpace(ch) {
				buf.WriteRune(ch)
				if ch == '<' {
					angle++
				}
				state = inField
			}

		case inField:
			switch {
			case ch == quote:
				state = inQuote
			case ch == '<':
				angle++
				buf.WriteRune(ch)
			case ch == '>' && angle > 0:
				angle--
				buf.WriteRune(ch)
			case unicode.IsSpace(ch) && angle == 0:
				r = append(r, buf.String())
				buf.Reset()
				state = inSpace
			default:
				buf.WriteRune(ch)
			}

		case inQuote:
			if ch == quote {
				state = inField
			} else if ch == '\\' {
				state = inQuoteEscaped
			} else {
				buf.WriteRune(ch)
			}

		case inQuoteEscaped:
			buf.WriteRune(ch)
			state = inQuote
		}
	}

	if buf.Len() != 0 || state == inField {
		r = append(r, buf.String())
	}

	return r
}
