package statement

import (
	"sort"
	"strings"
)

// Partition names the output file a statement belongs to.
type Partition int

// Partitions.
const (
	PartitionEntity Partition = iota + 1
	PartitionRelationship
)

// String returns the partition name.
func (p Partition) String() string {
	switch p {
	case PartitionEntity:
		return "entity"
	case PartitionRelationship:
		return "relationship"
	default:
		return "unknown"
	}
}

// Classifier splits statements into entity and relationship partitions.
//
// A statement is an entity statement when it is a type assertion, when its
// object is a literal, or when its predicate is in the allow-list. Everything
// else links two identifiers and is a relationship statement.
type Classifier struct {
	predicates map[string]struct{}
}

// NewClassifier creates a classifier with extra entity predicates. Entries may
// be given with or without angle brackets.
func NewClassifier(entityPredicates []string) *Classifier {
	preds := make(map[string]struct{}, len(entityPredicates))
	for _, p := range entityPredicates {
		p = strings.TrimSpace(p)
		p = strings.TrimPrefix(p, "<")
		p = strings.TrimSuffix(p, ">")
		if p != "" {
			preds[p] = struct{}{}
		}
	}
	return &Classifier{predicates: preds}
}

// Classify returns the partition for s.
func (c *Classifier) Classify(s Statement) Partition {
	if c.IsEntity(s) {
		return PartitionEntity
	}
	return PartitionRelationship
}

// IsEntity reports whether s belongs to the entity partition.
func (c *Classifier) IsEntity(s Statement) bool {
	if s.IsKind() || s.Object.IsLiteral() {
		return true
	}
	if c == nil {
		return false
	}
	_, ok := c.predicates[s.Predicate.Value]
	return ok
}

// EntityPredicates returns the configured allow-list, sorted.
func (c *Classifier) EntityPredicates() []string {
	out := make([]string, 0, len(c.predicates))
	for p := range c.predicates {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
