package scoring

import (
	"context"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/titi/matcher/internal/profile"
	"github.com/titi/matcher/internal/similarity"
)

func intPtr(v int) *int { return &v }

func newScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := New(similarity.NewTokenSet(), nil)
	require.NoError(t, err)
	return s
}

func TestDefaultWeights_SumToOne(t *testing.T) {
	require.NoError(t, DefaultWeights().Validate())
}

func TestWeights_Validate(t *testing.T) {
	w := DefaultWeights()
	w[FeatureAge] = 0.5
	assert.Error(t, w.Validate(), "sum above 1")

	w = DefaultWeights()
	delete(w, FeatureBio)
	assert.Error(t, w.Validate(), "missing feature")

	w = DefaultWeights()
	w[FeatureCity], w[FeatureAge] = -0.05, 0.2
	assert.Error(t, w.Validate(), "negative weight")

	w = DefaultWeights()
	w["height"] = 0
	assert.Error(t, w.Validate(), "unknown feature")
}

func TestNew_RejectsBadInput(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)

	_, err = New(similarity.NewTokenSet(), Weights{FeatureBio: 1})
	assert.Error(t, err)
}

func TestCitySimilarity(t *testing.T) {
	assert.Equal(t, 1.0, CitySimilarity("Moscow", "moscow"))
	assert.Equal(t, 0.0, CitySimilarity("Moscow", "Oslo"))
	assert.Equal(t, 0.0, CitySimilarity("", ""))
	assert.Equal(t, 0.0, CitySimilarity("Oslo", ""))
}

func TestAgeSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, AgeSimilarity(intPtr(30), intPtr(30)))
	assert.InDelta(t, 1.0/11.0, AgeSimilarity(intPtr(20), intPtr(30)), 1e-12)
	assert.InDelta(t, 1.0/11.0, AgeSimilarity(intPtr(30), intPtr(20)), 1e-12)
	assert.Equal(t, 0.0, AgeSimilarity(nil, intPtr(30)))
	assert.Equal(t, 0.0, AgeSimilarity(intPtr(-1), intPtr(30)))
}

func TestScore_InterestsOnly(t *testing.T) {
	s := newScorer(t)
	a := &profile.Profile{UserID: 1, Interests: []string{"python", "ml"}}
	b := &profile.Profile{UserID: 2, Interests: []string{"ml", "sql"}}

	got := s.Score(context.Background(), a, b)
	assert.InDelta(t, 0.25/3.0, got.Total, 1e-12)
	assert.InDelta(t, 1.0/3.0, got.PerFeature[FeatureInterests], 1e-12)
	for _, f := range []Feature{FeatureBio, FeatureSkills, FeatureGoals, FeatureCity, FeatureAge} {
		assert.Zero(t, got.PerFeature[f], f)
	}
}

func TestScore_AllFeatures(t *testing.T) {
	s := newScorer(t)
	a := &profile.Profile{
		UserID: 1, Bio: "love hiking and chess", City: "Oslo", Age: intPtr(30),
		Interests: []string{"chess"}, Skills: []string{"go"}, Goals: []string{"friendship"},
	}
	b := &profile.Profile{
		UserID: 2, Bio: "love hiking and chess", City: "oslo", Age: intPtr(30),
		Interests: []string{"chess"}, Skills: []string{"go"}, Goals: []string{"friendship"},
	}
	got := s.Score(context.Background(), a, b)
	assert.InDelta(t, 1.0, got.Total, 1e-12)
	assert.Len(t, got.PerFeature, 6)
}

func TestScore_EmptyProfilesScoreZero(t *testing.T) {
	s := newScorer(t)
	got := s.Score(context.Background(), profile.Empty(1), profile.Empty(2))
	assert.Zero(t, got.Total)
}

func TestScore_MultiWordTagsKeepTokenSemantics(t *testing.T) {
	s := newScorer(t)
	a := &profile.Profile{UserID: 1, Goals: []string{"project collaboration"}}
	b := &profile.Profile{UserID: 2, Goals: []string{"collaboration"}}
	got := s.Score(context.Background(), a, b)
	assert.InDelta(t, 0.5, got.PerFeature[FeatureGoals], 1e-12)
}

type negativeProvider struct{}

func (negativeProvider) Similarity(context.Context, string, string) float64 { return -0.4 }
func (negativeProvider) Name() string                                       { return "negative" }

func TestScore_ClampsProviderOutput(t *testing.T) {
	s, err := New(negativeProvider{}, nil)
	require.NoError(t, err)
	a := &profile.Profile{UserID: 1, Bio: "x", Interests: []string{"a"}}
	b := &profile.Profile{UserID: 2, Bio: "y", Interests: []string{"b"}}
	got := s.Score(context.Background(), a, b)
	assert.Zero(t, got.Total)
}

var tagPool = []string{"python", "ml", "sql", "go", "chess", "hiking", "music", "art", "travel"}

func randomProfile(r *rand.Rand, id int64) *profile.Profile {
	pick := func() []string {
		var out []string
		for _, t := range tagPool {
			if r.Intn(3) == 0 {
				out = append(out, t)
			}
		}
		return out
	}
	p := &profile.Profile{
		UserID:    id,
		Interests: pick(),
		Skills:    pick(),
		Goals:     pick(),
		Bio:       strings.Join(pick(), " "),
	}
	if r.Intn(2) == 0 {
		p.City = []string{"Oslo", "oslo", "Moscow", ""}[r.Intn(4)]
	}
	if r.Intn(2) == 0 {
		p.Age = intPtr(18 + r.Intn(40))
	}
	return p
}

func TestScore_SymmetricAndBounded(t *testing.T) {
	s := newScorer(t)
	ctx := context.Background()
	r := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		a, b := randomProfile(r, 1), randomProfile(r, 2)
		ab, ba := s.Score(ctx, a, b), s.Score(ctx, b, a)

		require.Equal(t, ab.Total, ba.Total)
		require.Equal(t, ab.PerFeature, ba.PerFeature)
		require.GreaterOrEqual(t, ab.Total, 0.0)
		require.LessOrEqual(t, ab.Total, 1.0)
	}
}

func TestSharedAttributes(t *testing.T) {
	a := &profile.Profile{Interests: []string{"ml", "python"}, Skills: []string{"sql"}, City: "Oslo"}
	b := &profile.Profile{Interests: []string{"sql", "ml"}, Skills: []string{"go"}, City: "OSLO"}

	got := SharedAttributes(a, b)
	assert.Equal(t, []string{"ml"}, got.Interests)
	assert.Nil(t, got.Skills)
	assert.Nil(t, got.Goals)
	assert.True(t, got.SameCity)
}
