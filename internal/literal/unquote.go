package literal

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Unquote decodes a single- or double-quoted JavaScript string literal, quotes included
func Unquote(s string) (string, error) {
	if len(s) < 2 || (s[0] != '"' && s[0] != '\'') || s[len(s)-1] != s[0] {
		return "", fmt.Errorf("malformed string literal %s", s)
	}
	body := s[1 : len(s)-1]
	if strings.IndexByte(body, '\\') < 0 {
		return body, nil
	}

	var b strings.Builder
	b.Grow(len(body))
	for i := 0; i < len(body); {
		c := body[i]
		if c != '\\' {
			b.WriteByte(c)
			i++
			continue
		}
		i++
		if i >= len(body) {
			return "", fmt.Errorf("unterminated escape in %s", s)
		}
		c = body[i]
		i++

		switch c {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		case '0', '1', '2', '3', '4', '5', '6', '7':
			// octal escape, at most \377
			limit := 3
			if c > '3' {
				limit = 2
			}
			j := i - 1
			for i < len(body) && i-j < limit && body[i] >= '0' && body[i] <= '7' {
				i++
			}
			n, _ := strconv.ParseUint(body[j:i], 8, 32)
			b.WriteRune(rune(n))
		case 'x':
			if i+2 > len(body) {
				return "", fmt.Errorf("invalid hex escape in %s", s)
			}
			n, err := strconv.ParseUint(body[i:i+2], 16, 32)
			if err != nil {
				return "", fmt.Errorf("invalid hex escape in %s", s)
			}
			b.WriteRune(rune(n))
			i += 2
		case 'u':
			r, next, err := unicodeEscape(body, i)
			if err != nil {
				return "", fmt.Errorf("%v in %s", err, s)
			}
			i = next
			if utf16.IsSurrogate(r) && strings.HasPrefix(body[i:], `\u`) {
				if low, after, err := unicodeEscape(body, i+2); err == nil {
					if pair := utf16.DecodeRune(r, low); pair != utf8.RuneError {
						r = pair
						i = after
					}
				}
			}
			b.WriteRune(r)
		case '\r':
			// line continuation
			if i < len(body) && body[i] == '\n' {
				i++
			}
		case '\n':
		default:
			if c >= utf8.RuneSelf {
				// \ followed by U+2028 or U+2029 is a line continuation, anything else is an identity escape
				r, size := utf8.DecodeRuneInString(body[i-1:])
				if r == '\u2028' || r == '\u2029' {
					i += size - 1
					continue
				}
			}
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

// unicodeEscape decodes the part after \u starting at i, either XXXX or {X...}
func unicodeEscape(body string, i int) (rune, int, error) {
	if i < len(body) && body[i] == '{' {
		end := strings.IndexByte(body[i:], '}')
		if end < 2 {
			return 0, i, fmt.Errorf("invalid unicode escape")
		}
		n, err := strconv.ParseUint(body[i+1:i+end], 16, 32)
		if err != nil || n > utf8.MaxRune {
			return 0, i, fmt.Errorf("invalid unicode escape")
		}
		return rune(n), i + end + 1, nil
	}
	if i+4 > len(body) {
		return 0, i, fmt.Errorf("invalid unicode escape")
	}
	n, err := strconv.ParseUint(body[i:i+4], 16, 32)
	if err != nil {
		return 0, i, fmt.Errorf("invalid unicode escape")
	}
	return rune(n), i + 4, nil
}
