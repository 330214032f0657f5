// Package similarity provides interchangeable text similarity backends. Every
// Provider is symmetric and returns a value in [0,1]; two empty inputs score 0.
package similarity

import (
	"context"
	"strings"
	"unicode"
)

// Provider scores two text spans.
type Provider interface {
	Similarity(ctx context.Context, a, b string) float64
	Name() string
}

// Tokenize lowercases s and splits it on commas and whitespace into a set.
func Tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Jaccard returns |a∩b| / |a∪b|, or 0 when the union is empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) > len(b) {
		a, b = b, a
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// TokenSet is the dependency-free Jaccard-over-tokens provider.
type TokenSet struct{}

// NewTokenSet returns the token-set provider.
func NewTokenSet() TokenSet { return TokenSet{} }

func (TokenSet) Similarity(_ context.Context, a, b string) float64 {
	return Jaccard(Tokenize(a), Tokenize(b))
}

func (TokenSet) Name() string { return "token" }
