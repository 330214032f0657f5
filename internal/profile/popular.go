package profile

import (
	"sort"
	"strings"
)

// Field names a tag collection on Profile.
type Field string

const (
	FieldInterests Field = "interests"
	FieldSkills    Field = "skills"
	FieldGoals     Field = "goals"
)

// TagCount is one entry of a popularity ranking.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Tags returns the tag collection named by f, or nil for an unknown field.
func (p *Profile) Tags(f Field) []string {
	switch f {
	case FieldInterests:
		return p.Interests
	case FieldSkills:
		return p.Skills
	case FieldGoals:
		return p.Goals
	}
	return nil
}

// TopTags counts how many profiles carry each tag of field f and returns the
// n most popular, count descending then tag ascending. n <= 0 returns all.
func TopTags(profiles []*Profile, f Field, n int) []TagCount {
	counts := make(map[string]int)
	for _, p := range profiles {
		for _, t := range NormalizeTags(p.Tags(f)) {
			counts[t]++
		}
	}

	out := make([]TagCount, 0, len(counts))
	for tag, c := range counts {
		out = append(out, TagCount{Tag: tag, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// CityTags is the tag popularity within one city.
type CityTags struct {
	City string     `json:"city"`
	Tags []TagCount `json:"tags"`
}

// SocialField groups profiles by city, ignoring case, and returns the n most
// popular tags of field f in each. Profiles without a city or without tags
// in f are skipped. Cities are ordered by the summed counts of their listed
// tags, then by name. A city is reported under its first spelling seen.
func SocialField(profiles []*Profile, f Field, n int) []CityTags {
	var (
		order  []string
		names  = make(map[string]string)
		groups = make(map[string][]*Profile)
	)
	for _, p := range profiles {
		city := strings.TrimSpace(p.City)
		if city == "" || len(p.Tags(f)) == 0 {
			continue
		}
		key := strings.ToLower(city)
		if _, seen := names[key]; !seen {
			names[key] = city
			order = append(order, key)
		}
		groups[key] = append(groups[key], p)
	}

	out := make([]CityTags, 0, len(order))
	weight := make(map[string]int, len(order))
	for _, key := range order {
		tags := TopTags(groups[key], f, n)
		if len(tags) == 0 {
			continue
		}
		for _, tc := range tags {
			weight[names[key]] += tc.Count
		}
		out = append(out, CityTags{City: names[key], Tags: tags})
	}
	sort.Slice(out, func(i, j int) bool {
		wi, wj := weight[out[i].City], weight[out[j].City]
		if wi != wj {
			return wi > wj
		}
		return out[i].City < out[j].City
	})
	return out
}

// PersonalTags lists the tags of field f on p with a count of one each, in
// the same shape as TopTags. A nil profile has none.
func PersonalTags(p *Profile, f Field) []TagCount {
	if p == nil {
		return []TagCount{}
	}
	tags := NormalizeTags(p.Tags(f))
	out := make([]TagCount, 0, len(tags))
	for _, t := range tags {
		out = append(out, TagCount{Tag: t, Count: 1})
	}
	return out
}
