package partition

import (
	"bytes"
	"regexp"
	"strings"
)

// The Turtle decoder names the nodes it creates for [ ] and ( ) b1, b2, ...
// in the same namespace as labels written in the document.
var generatedLabel = regexp.MustCompile(`^b[0-9]+$`)

// blankLabels maps decoded blank node labels back to distinct output labels
// for one fragment.
type blankLabels struct {
	// escape prefixes explicit labels that look generated before decoding.
	escape string
	// anon prefixes labels the decoder generated.
	anon string
}

// resolve returns the output label for a decoded label. A nil receiver
// returns label unchanged.
func (b *blankLabels) resolve(label string) string {
	if b == nil {
		return label
	}
	if explicit, ok := strings.CutPrefix(label, b.escape); ok {
		return explicit
	}
	if generatedLabel.MatchString(label) {
		return b.anon + label
	}
	return label
}

// relabelSource rewrites explicit labels of the generated form in src so
// they decode to something the decoder never produces. When no explicit
// label collides, src is returned as is with a nil mapping.
func relabelSource(src []byte) ([]byte, *blankLabels) {
	refs := scanBlankLabels(src)
	explicit := make([]string, 0, len(refs))
	colliding := false
	for _, r := range refs {
		label := string(src[r.start:r.end])
		explicit = append(explicit, label)
		if generatedLabel.MatchString(label) {
			colliding = true
		}
	}
	if !colliding {
		return src, nil
	}

	prefix := "anon"
	for hasPrefix(explicit, prefix) {
		prefix += "x"
	}
	labels := &blankLabels{escape: prefix + "_e", anon: prefix + "_"}

	var buf bytes.Buffer
	buf.Grow(len(src) + len(refs)*len(labels.escape))
	last := 0
	for _, r := range refs {
		if !generatedLabel.Match(src[r.start:r.end]) {
			continue
		}
		buf.Write(src[last:r.start])
		buf.WriteString(labels.escape)
		last = r.start
	}
	buf.Write(src[last:])
	return buf.Bytes(), labels
}

func hasPrefix(labels []string, prefix string) bool {
	for _, l := range labels {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}

// labelRef is the byte range of a label following "_:".
type labelRef struct {
	start, end int
}

// scanBlankLabels finds the blank node labels of a Turtle document, skipping
// IRIs, string literals and comments.
func scanBlankLabels(src []byte) []labelRef {
	var refs []labelRef
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '<':
			end := bytes.IndexByte(src[i+1:], '>')
			if end < 0 {
				return refs
			}
			i += end + 2
		case c == '"' || c == '\'':
			i = skipString(src, i)
		case c == '_' && i+1 < len(src) && src[i+1] == ':' && (i == 0 || !(isLabelByte(src[i-1]) || src[i-1] == ':')):
			start := i + 2
			end := start
			for end < len(src) && (isLabelByte(src[end]) || src[end] == '.') {
				end++
			}
			for end > start && src[end-1] == '.' {
				end--
			}
			if end > start {
				refs = append(refs, labelRef{start: start, end: end})
			}
			i = end
			if i == start {
				i++
			}
		default:
			i++
		}
	}
	return refs
}

// skipString returns the index just past the string literal opening at i.
func skipString(src []byte, i int) int {
	q := src[i]
	if i+2 < len(src) && src[i+1] == q && src[i+2] == q {
		for j := i + 3; j < len(src); j++ {
			if src[j] == '\\' {
				j++
				continue
			}
			if j+2 < len(src) && src[j] == q && src[j+1] == q && src[j+2] == q {
				return j + 3
			}
		}
		return len(src)
	}
	for j := i + 1; j < len(src); j++ {
		switch src[j] {
		case '\\':
			j++
		case q, '\n':
			return j + 1
		}
	}
	return len(src)
}

func isLabelByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '_' || c == '-' || c >= 0x80
}
