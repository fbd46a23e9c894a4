package statement

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	langTagPattern = regexp.MustCompile(`^[A-Za-z]+(-[A-Za-z0-9]+)*$`)

	// Byte-string representations leaked into literal text by upstream
	// producers, e.g. b'caf\xc3\xa9' or b"quoted".
	byteWrapperSingle = regexp.MustCompile(`\bb'((?:[^'\\]|\\.)*)'`)
	byteWrapperDouble = regexp.MustCompile(`\bb"((?:[^"\\]|\\.)*)"`)
)

// Parse decodes a single statement line.
//
// The subject is the token up to the first space, the predicate is the next
// token and the remainder, minus the trailing terminator, is the object. This
// assumes one well-formed statement per line; the second return value is false
// for anything else.
func Parse(line string) (Statement, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasSuffix(line, ".") {
		return Statement{}, false
	}
	body := strings.TrimSpace(line[:len(line)-1])

	subjTok, rest := cutToken(body)
	predTok, rest := cutToken(rest)
	objTok := strings.TrimSpace(rest)
	if subjTok == "" || predTok == "" || objTok == "" {
		return Statement{}, false
	}

	subj, ok := parseIdentifier(subjTok)
	if !ok {
		return Statement{}, false
	}
	pred, ok := parseIdentifier(predTok)
	if !ok || pred.Kind != KindIRI {
		return Statement{}, false
	}
	obj, ok := parseObject(objTok)
	if !ok {
		return Statement{}, false
	}

	return Statement{Subject: subj, Predicate: pred, Object: obj}, true
}

// Format encodes a statement as one line terminated by " .". The returned
// string does not include a trailing newline.
func Format(s Statement) string {
	var sb strings.Builder
	sb.WriteString(formatTerm(s.Subject))
	sb.WriteByte(' ')
	sb.WriteString(formatTerm(s.Predicate))
	sb.WriteByte(' ')
	sb.WriteString(formatTerm(s.Object))
	sb.WriteString(" .")
	return sb.String()
}

// EscapeLiteral escapes literal text for the line encoding. Byte-string
// wrappers are removed first; control bytes other than newline, carriage
// return and tab are replaced with a space.
func EscapeLiteral(s string) string {
	s = StripByteWrappers(s)
	s = strings.ToValidUTF8(s, "\uFFFD")

	var sb strings.Builder
	sb.Grow(len(s) + 8)
	for _, r := range s {
		switch {
		case r == '\\':
			sb.WriteString(`\\`)
		case r == '"':
			sb.WriteString(`\"`)
		case r == '\n':
			sb.WriteString(`\n`)
		case r == '\r':
			sb.WriteString(`\r`)
		case r == '\t':
			sb.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			sb.WriteByte(' ')
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// StripByteWrappers removes b'...' and b"..." wrappers, keeping their content.
func StripByteWrappers(s string) string {
	if !strings.Contains(s, "b'") && !strings.Contains(s, `b"`) {
		return s
	}
	// Repeat until stable so that stripping never exposes a new wrapper.
	for i := 0; i < 4; i++ {
		next := byteWrapperSingle.ReplaceAllString(s, "$1")
		next = byteWrapperDouble.ReplaceAllString(next, "$1")
		if next == s {
			break
		}
		s = next
	}
	return s
}

// UnescapeLiteral decodes the escapes allowed inside a quoted literal.
// It reports false on an unknown or truncated escape sequence.
func UnescapeLiteral(raw string) (string, bool) {
	if !strings.Contains(raw, `\`) {
		return raw, true
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
			return "", false
		}
		i++
		switch raw[i] {
		case 't':
			sb.WriteByte('\t')
		case 'b':
			sb.WriteByte('\b')
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 'f':
			sb.WriteByte('\f')
		case '"':
			sb.WriteByte('"')
		case '\'':
			sb.WriteByte('\'')
		case '\\':
			sb.WriteByte('\\')
		case 'u', 'U':
			width := 4
			if raw[i] == 'U' {
				width = 8
			}
			r, ok := decodeCodepoint(raw[i+1:], width)
			if !ok {
				return "", false
			}
			sb.WriteRune(r)
			i += width
		default:
			return "", false
		}
	}
	return sb.String(), true
}

// decodeCodepoint reads width hex digits from the start of s.
func decodeCodepoint(s string, width int) (rune, bool) {
	if len(s) < width {
		return 0, false
	}
	n, err := strconv.ParseUint(s[:width], 16, 32)
	if err != nil {
		return 0, false
	}
	r := rune(n)
	if !utf8.ValidRune(r) {
		return 0, false
	}
	return r, true
}

func formatTerm(t Term) string {
	switch t.Kind {
	case KindIRI:
		return "<" + t.Value + ">"
	case KindBlank:
		return "_:" + t.Value
	case KindLiteral:
		out := `"` + EscapeLiteral(t.Value) + `"`
		if t.Lang != "" {
			return out + "@" + t.Lang
		}
		if t.Datatype != "" {
			return out + "^^<" + t.Datatype + ">"
		}
		return out
	default:
		return ""
	}
}

// cutToken splits s at the first space or tab.
func cutToken(s string) (string, string) {
	s = strings.TrimLeft(s, " \t")
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i+1:]
}

func parseIdentifier(tok string) (Term, bool) {
	switch {
	case strings.HasPrefix(tok, "<"):
		if len(tok) < 3 || !strings.HasSuffix(tok, ">") {
			return Term{}, false
		}
		inner := tok[1 : len(tok)-1]
		if strings.ContainsAny(inner, "<>\" \t\n\r{}|^`\\") {
			return Term{}, false
		}
		return IRI(inner), true
	case strings.HasPrefix(tok, "_:"):
		label := tok[2:]
		if label == "" || strings.HasSuffix(label, ".") || strings.ContainsAny(label, " \t\n\r<>\"\\") {
			return Term{}, false
		}
		return Blank(label), true
	default:
		return Term{}, false
	}
}

func parseObject(tok string) (Term, bool) {
	if strings.HasPrefix(tok, `"`) {
		return parseLiteral(tok)
	}
	return parseIdentifier(tok)
}

func parseLiteral(tok string) (Term, bool) {
	end := closingQuote(tok)
	if end < 0 {
		return Term{}, false
	}
	value, ok := UnescapeLiteral(tok[1:end])
	if !ok {
		return Term{}, false
	}
	lang, datatype, ok := parseLiteralSuffix(tok[end+1:])
	if !ok {
		return Term{}, false
	}
	return Term{Kind: KindLiteral, Value: value, Lang: lang, Datatype: datatype}, true
}

// parseLiteralSuffix validates what follows the closing quote of a literal.
func parseLiteralSuffix(suffix string) (lang, datatype string, ok bool) {
	switch {
	case suffix == "":
		return "", "", true
	case strings.HasPrefix(suffix, "@"):
		if !langTagPattern.MatchString(suffix[1:]) {
			return "", "", false
		}
		return suffix[1:], "", true
	case strings.HasPrefix(suffix, "^^"):
		dt, ok := parseIdentifier(suffix[2:])
		if !ok || dt.Kind != KindIRI {
			return "", "", false
		}
		// xsd:string is the implicit datatype of a plain literal.
		if dt.Value == XSDString {
			return "", "", true
		}
		return "", dt.Value, true
	default:
		return "", "", false
	}
}

// closingQuote returns the index of the first unescaped quote after the
// opening quote at tok[0], or -1.
func closingQuote(tok string) int {
	for i := 1; i < len(tok); i++ {
		switch tok[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

// ValidLiteralSuffix reports whether suffix is empty, a language tag or a
// datatype reference.
func ValidLiteralSuffix(suffix string) bool {
	_, _, ok := parseLiteralSuffix(suffix)
	return ok
}

// ParseIdentifier decodes an <iri> or _:label token.
func ParseIdentifier(tok string) (Term, bool) {
	return parseIdentifier(tok)
}

// LiteralWithSuffix builds a literal term from already-decoded text and the
// raw suffix that followed the closing quote.
func LiteralWithSuffix(value, suffix string) (Term, bool) {
	lang, datatype, ok := parseLiteralSuffix(suffix)
	if !ok {
		return Term{}, false
	}
	return Term{Kind: KindLiteral, Value: value, Lang: lang, Datatype: datatype}, true
}
