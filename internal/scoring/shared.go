package scoring

import (
	"sort"
	"strings"

	"github.com/titi/matcher/internal/profile"
)

// Shared lists the attributes two profiles have in common.
type Shared struct {
	Interests []string `json:"interests,omitempty"`
	Skills    []string `json:"skills,omitempty"`
	Goals     []string `json:"goals,omitempty"`
	SameCity  bool     `json:"same_city,omitempty"`
}

// SharedAttributes returns the tags both profiles carry, sorted, and whether
// they live in the same city.
func SharedAttributes(a, b *profile.Profile) Shared {
	return Shared{
		Interests: intersect(a.Interests, b.Interests),
		Skills:    intersect(a.Skills, b.Skills),
		Goals:     intersect(a.Goals, b.Goals),
		SameCity:  CitySimilarity(a.City, b.City) == 1,
	}
}

func intersect(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[strings.ToLower(t)] = struct{}{}
	}
	var out []string
	seen := make(map[string]struct{})
	for _, t := range b {
		t = strings.ToLower(t)
		if _, ok := set[t]; !ok {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
