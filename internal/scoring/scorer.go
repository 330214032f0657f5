// Package scoring combines per-attribute similarities into a single weighted
// compatibility score for a pair of profiles.
package scoring

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/titi/matcher/internal/profile"
	"github.com/titi/matcher/internal/similarity"
)

// Feature names one scored attribute.
type Feature string

const (
	FeatureBio       Feature = "bio"
	FeatureInterests Feature = "interests"
	FeatureSkills    Feature = "skills"
	FeatureGoals     Feature = "goals"
	FeatureCity      Feature = "city"
	FeatureAge       Feature = "age"
)

// Features lists every feature in scoring order.
var Features = []Feature{FeatureInterests, FeatureSkills, FeatureGoals, FeatureBio, FeatureCity, FeatureAge}

// Weights assigns each feature its share of the total. They must sum to 1.
type Weights map[Feature]float64

// DefaultWeights favours tag overlap over bio, city and age.
func DefaultWeights() Weights {
	return Weights{
		FeatureInterests: 0.25,
		FeatureSkills:    0.25,
		FeatureGoals:     0.20,
		FeatureBio:       0.15,
		FeatureCity:      0.10,
		FeatureAge:       0.05,
	}
}

const weightTolerance = 1e-9

// Validate checks that every feature has a non-negative weight and that the
// weights sum to 1.
func (w Weights) Validate() error {
	sum := 0.0
	for _, f := range Features {
		v, ok := w[f]
		if !ok {
			return fmt.Errorf("scoring: missing weight for %s", f)
		}
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("scoring: weight for %s must be non-negative, got %v", f, v)
		}
		sum += v
	}
	if len(w) != len(Features) {
		return fmt.Errorf("scoring: unknown feature in weights")
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("scoring: weights sum to %v, want 1", sum)
	}
	return nil
}

// Result is the score of one profile pair.
type Result struct {
	Total      float64             `json:"total"`
	PerFeature map[Feature]float64 `json:"per_feature"`
}

// Scorer computes compatibility scores. It holds no mutable state and is safe
// for concurrent use.
type Scorer struct {
	provider similarity.Provider
	weights  Weights
}

// New creates a Scorer using provider for the text features. A nil weights
// map selects DefaultWeights.
func New(provider similarity.Provider, weights Weights) (*Scorer, error) {
	if provider == nil {
		return nil, fmt.Errorf("scoring: nil similarity provider")
	}
	if weights == nil {
		weights = DefaultWeights()
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	w := make(Weights, len(weights))
	for f, v := range weights {
		w[f] = v
	}
	return &Scorer{provider: provider, weights: w}, nil
}

// Score rates a against b. The result is symmetric in its arguments and the
// total lies in [0,1]. Self-pairs are not special-cased; callers exclude them.
func (s *Scorer) Score(ctx context.Context, a, b *profile.Profile) Result {
	per := make(map[Feature]float64, len(Features))

	per[FeatureBio] = s.text(ctx, a.Bio, b.Bio)
	per[FeatureInterests] = s.tags(ctx, a.Interests, b.Interests)
	per[FeatureSkills] = s.tags(ctx, a.Skills, b.Skills)
	per[FeatureGoals] = s.tags(ctx, a.Goals, b.Goals)
	per[FeatureCity] = CitySimilarity(a.City, b.City)
	per[FeatureAge] = AgeSimilarity(a.Age, b.Age)

	total := 0.0
	for _, f := range Features {
		total += s.weights[f] * per[f]
	}
	return Result{Total: clamp01(total), PerFeature: per}
}

func (s *Scorer) text(ctx context.Context, a, b string) float64 {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return 0
	}
	return clamp01(s.provider.Similarity(ctx, a, b))
}

// tags feeds the provider comma-joined tags so multi-word tags stay intact
// for embedding backends while token backends see the same set.
func (s *Scorer) tags(ctx context.Context, a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	return s.text(ctx, strings.Join(a, ", "), strings.Join(b, ", "))
}

// CitySimilarity is 1 when both cities are set and equal ignoring case.
func CitySimilarity(a, b string) float64 {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return 0
	}
	if strings.EqualFold(a, b) {
		return 1
	}
	return 0
}

// AgeSimilarity decays with the age gap: 1 / (1 + |a-b|). Missing or
// negative ages score 0.
func AgeSimilarity(a, b *int) float64 {
	if a == nil || b == nil || *a < 0 || *b < 0 {
		return 0
	}
	diff := *a - *b
	if diff < 0 {
		diff = -diff
	}
	return 1 / (1 + float64(diff))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
