package sanitize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/c360studio/tripleforge/statement"
)

// Level records how much work was needed to turn a buffer into a statement.
type Level int

// Repair levels, in the order they are attempted.
const (
	LevelNone Level = iota
	LevelClean
	LevelSanitized
	LevelAggressive
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelClean:
		return "clean"
	case LevelSanitized:
		return "sanitized"
	case LevelAggressive:
		return "aggressive"
	default:
		return "none"
	}
}

var (
	hexEscape   = regexp.MustCompile(`\\x[0-9A-Fa-f]{2}`)
	wrapperOpen = regexp.MustCompile(`\bb(['"])`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// Repair turns a single line or merged multi-line buffer into a statement.
//
// The buffer must start with a subject marker. It is first parsed as-is, then
// its literal span is sanitized, and finally an aggressive cleanup is tried.
// Every candidate is re-validated with a trial parse of its formatted line.
func Repair(text string) (statement.Statement, Level, bool) {
	if !statement.HasSubjectMarker(text) {
		return statement.Statement{}, LevelNone, false
	}
	if !strings.ContainsAny(text, "\n\r") {
		if st, ok := statement.Parse(text); ok {
			return st, LevelClean, true
		}
	}
	if st, ok := rebuild(text, sanitizeSpan); ok {
		return st, LevelSanitized, true
	}
	if st, ok := rebuild(text, aggressiveSpan); ok {
		return st, LevelAggressive, true
	}
	return statement.Statement{}, LevelNone, false
}

// rebuild splits text into subject, predicate and object spans, cleans the
// literal text with clean, and trial-parses the result.
func rebuild(text string, clean func(string) string) (statement.Statement, bool) {
	body := strings.TrimSpace(text)
	body, ok := strings.CutSuffix(body, ".")
	if !ok {
		return statement.Statement{}, false
	}
	subjTok, rest := cutWhitespace(body)
	predTok, rest := cutWhitespace(rest)
	objSpan := strings.TrimSpace(rest)
	if subjTok == "" || predTok == "" || objSpan == "" {
		return statement.Statement{}, false
	}

	subj, ok := statement.ParseIdentifier(subjTok)
	if !ok {
		return statement.Statement{}, false
	}
	pred, ok := statement.ParseIdentifier(predTok)
	if !ok || pred.Kind != statement.KindIRI {
		return statement.Statement{}, false
	}

	var obj statement.Term
	if strings.HasPrefix(objSpan, `"`) {
		inner, suffix, found := literalSpan(objSpan)
		if !found {
			return statement.Statement{}, false
		}
		obj, ok = statement.LiteralWithSuffix(clean(inner), suffix)
	} else {
		obj, ok = statement.ParseIdentifier(whitespace.ReplaceAllString(objSpan, ""))
	}
	if !ok {
		return statement.Statement{}, false
	}

	st := statement.Statement{Subject: subj, Predicate: pred, Object: obj}
	reparsed, ok := statement.Parse(statement.Format(st))
	if !ok {
		return statement.Statement{}, false
	}
	return reparsed, true
}

// literalSpan finds the literal text and its suffix in an object span that
// starts with a quote. The closing quote is the last one followed by a valid
// suffix, so unescaped quotes inside the text are kept as text.
func literalSpan(obj string) (inner, suffix string, ok bool) {
	open, closeLen := 1, 1
	if strings.HasPrefix(obj, `"""`) {
		open, closeLen = 3, 3
	}
	for q := len(obj) - closeLen; q >= open; q-- {
		if obj[q:q+closeLen] != strings.Repeat(`"`, closeLen) {
			continue
		}
		if statement.ValidLiteralSuffix(obj[q+closeLen:]) {
			return obj[open:q], obj[q+closeLen:], true
		}
	}
	return "", "", false
}

// sanitizeSpan decodes recognised escapes, decodes valid \u and \U
// sequences, removes \xNN sequences and invalid numeric escapes, and drops
// the backslash of any other escape.
func sanitizeSpan(raw string) string {
	raw = hexEscape.ReplaceAllString(raw, "")
	if !strings.Contains(raw, `\`) {
		return raw
	}
	var sb strings.Builder
	sb.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '\\' {
			sb.WriteByte(c)
			continue
		}
		if i+1 >= len(raw) {
			break
		}
		i++
		switch e := raw[i]; e {
		case 't', 'b', 'n', 'r', 'f', '"', '\'', '\\':
			decoded, _ := statement.UnescapeLiteral(`\` + string(e))
			sb.WriteString(decoded)
		case 'u', 'U':
			width := 4
			if e == 'U' {
				width = 8
			}
			digits := raw[i+1 : min(i+1+width, len(raw))]
			if len(digits) == width {
				if decoded, ok := statement.UnescapeLiteral(`\` + string(e) + digits); ok {
					sb.WriteString(decoded)
					i += width
					continue
				}
			}
			// Invalid numeric escape: drop it together with its hex digits.
			n := 0
			for n < len(digits) && isHex(digits[n]) {
				n++
			}
			i += n
		default:
			sb.WriteByte(e)
		}
	}
	return sb.String()
}

// aggressiveSpan removes byte-string wrappers and every backslash, and
// collapses whitespace runs to a single space.
func aggressiveSpan(raw string) string {
	raw = hexEscape.ReplaceAllString(raw, "")
	raw = statement.StripByteWrappers(raw)
	raw = wrapperOpen.ReplaceAllString(raw, "")
	raw = strings.ReplaceAll(raw, `\`, "")
	raw = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, raw)
	return strings.TrimSpace(whitespace.ReplaceAllString(raw, " "))
}

func cutWhitespace(s string) (string, string) {
	s = strings.TrimLeft(s, " \t\r\n")
	i := strings.IndexAny(s, " \t\r\n")
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i+1:]
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

// literalOpen reports whether text has an unterminated literal: an odd number
// of unescaped quotes after the predicate.
func literalOpen(text string) bool {
	_, rest := cutWhitespace(strings.TrimSpace(text))
	_, rest = cutWhitespace(rest)
	quotes := 0
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case '\\':
			i++
		case '"':
			quotes++
		}
	}
	return quotes%2 == 1
}

// Check runs the structural check alone, without any repair. It is used when
// sanitization is disabled.
func Check(line string) (statement.Statement, error) {
	if !statement.HasSubjectMarker(line) {
		return statement.Statement{}, fmt.Errorf("%w: %s", ErrMalformed, ReasonNoSubject)
	}
	st, ok := statement.Parse(line)
	if !ok {
		return statement.Statement{}, fmt.Errorf("%w: %s", ErrMalformed, ReasonStructuralErr)
	}
	return st, nil
}
