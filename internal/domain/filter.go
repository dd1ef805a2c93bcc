package domain

import "fmt"

// Filter is a boolean payload filter. Every Must clause has to hold, no
// MustNot clause may hold, and at least one Should clause has to hold when
// any are given.
type Filter struct {
	Must    []Clause
	Should  []Clause
	MustNot []Clause
}

// Clause tests one payload key with either an equality match or a numeric range.
type Clause struct {
	Key   string
	Match *Match
	Range *Range
}

// Match is an equality test against a string, number or bool.
type Match struct {
	Value any
}

// Range is a numeric interval test. Nil bounds are open.
type Range struct {
	GT  *float64
	GTE *float64
	LT  *float64
	LTE *float64
}

// MatchValue builds an equality clause.
func MatchValue(key string, value any) Clause {
	return Clause{Key: key, Match: &Match{Value: value}}
}

// DocumentFilter selects every point of one document.
func DocumentFilter(documentID string) Filter {
	return Filter{Must: []Clause{MatchValue(PayloadDocumentID, documentID)}}
}

// IsEmpty reports whether the filter has no clauses.
func (f Filter) IsEmpty() bool {
	return len(f.Must) == 0 && len(f.Should) == 0 && len(f.MustNot) == 0
}

// Validate rejects clauses that have neither a match nor a range.
func (f Filter) Validate() error {
	for _, group := range [][]Clause{f.Must, f.Should, f.MustNot} {
		for _, c := range group {
			if c.Key == "" {
				return fmt.Errorf("%w: filter clause without key", ErrInvalidConfig)
			}
			if c.Match == nil && c.Range == nil {
				return fmt.Errorf("%w: filter clause %q has no condition", ErrInvalidConfig, c.Key)
			}
		}
	}
	return nil
}

// Matches evaluates the filter against a payload.
func (f Filter) Matches(payload map[string]any) bool {
	for _, c := range f.Must {
		if !c.Matches(payload) {
			return false
		}
	}
	for _, c := range f.MustNot {
		if c.Matches(payload) {
			return false
		}
	}
	if len(f.Should) == 0 {
		return true
	}
	for _, c := range f.Should {
		if c.Matches(payload) {
			return true
		}
	}
	return false
}

// Matches evaluates the clause against a payload.
func (c Clause) Matches(payload map[string]any) bool {
	v, ok := payload[c.Key]
	if !ok {
		return false
	}
	switch {
	case c.Match != nil:
		return equalValues(v, c.Match.Value)
	case c.Range != nil:
		n, ok := toFloat(v)
		if !ok {
			return false
		}
		return c.Range.contains(n)
	}
	return false
}

func (r Range) contains(n float64) bool {
	if r.GT != nil && !(n > *r.GT) {
		return false
	}
	if r.GTE != nil && !(n >= *r.GTE) {
		return false
	}
	if r.LT != nil && !(n < *r.LT) {
		return false
	}
	if r.LTE != nil && !(n <= *r.LTE) {
		return false
	}
	return true
}

func equalValues(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
