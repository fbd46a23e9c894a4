package stage

import (
	"math"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

var (
	entityMarkers       = []string{"nodes", "entities", "entity"}
	relationshipMarkers = []string{"rels", "relationships", "edges"}

	stageNumber = regexp.MustCompile(`\d+`)
)

// nameTokens splits a file name, without its extension, into lower-case
// alphanumeric words. "stage3_Nodes.nt" yields ["stage3", "nodes"].
func nameTokens(name string) []string {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func hasToken(tokens []string, markers []string) bool {
	for _, tok := range tokens {
		for _, m := range markers {
			if tok == m {
				return true
			}
		}
	}
	return false
}

// DetectRole derives a fragment's role from its file name.
func DetectRole(name string) Role {
	tokens := nameTokens(name)
	switch {
	case hasToken(tokens, entityMarkers):
		return RoleEntity
	case hasToken(tokens, relationshipMarkers):
		return RoleRelationship
	default:
		return RoleFull
	}
}

// StageNumber returns the first number embedded in name, or -1.
func StageNumber(name string) int {
	m := stageNumber.FindString(name)
	if m == "" {
		return -1
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return -1
	}
	return n
}

// priorityRank returns the index of the first priority entry that is one of
// the name's words, or len(priority).
func priorityRank(name string, priority []string) int {
	tokens := nameTokens(name)
	for i, p := range priority {
		if hasToken(tokens, []string{strings.ToLower(p)}) {
			return i
		}
	}
	return len(priority)
}

func roleRank(r Role) int {
	switch r {
	case RoleEntity:
		return 0
	case RoleRelationship:
		return 1
	default:
		return 2
	}
}

// Order sorts fragments in place: entity-only, then relationship-only, each
// by priority table rank and then name; then full fragments by stage number
// and then name. Fragments without a stage number sort after numbered ones.
func Order(frags []Fragment, priority []string) {
	rank := func(f Fragment) int {
		if f.Role == RoleFull {
			if f.Stage < 0 {
				return math.MaxInt
			}
			return f.Stage
		}
		return priorityRank(f.Name, priority)
	}
	sort.SliceStable(frags, func(i, j int) bool {
		a, b := frags[i], frags[j]
		if ra, rb := roleRank(a.Role), roleRank(b.Role); ra != rb {
			return ra < rb
		}
		if ka, kb := rank(a), rank(b); ka != kb {
			return ka < kb
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Path < b.Path
	})
}
