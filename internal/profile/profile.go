// Package profile holds the user attributes used for matching and the
// stores that persist them.
package profile

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/titi/matcher/internal/apperr"
)

// Profile is a user's self-reported matching attributes. Tag slices are kept
// normalized: lowercase, trimmed, unique and sorted.
type Profile struct {
	UserID      int64     `json:"user_id" validate:"gt=0"`
	DisplayName string    `json:"display_name" validate:"max=120"`
	Age         *int      `json:"age,omitempty" validate:"omitnil,gte=0,lte=150"`
	City        string    `json:"city,omitempty" validate:"max=120"`
	Bio         string    `json:"bio,omitempty" validate:"max=4000"`
	Interests   []string  `json:"interests"`
	Skills      []string  `json:"skills"`
	Goals       []string  `json:"goals"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Empty returns a profile with no attributes set.
func Empty(userID int64) *Profile {
	return &Profile{UserID: userID, Interests: []string{}, Skills: []string{}, Goals: []string{}}
}

// Store persists profiles. GetProfile returns (nil, nil) for an unknown user.
type Store interface {
	GetProfile(ctx context.Context, userID int64) (*Profile, error)
	// ScanProfiles returns every profile except excludeUserID, ordered by user id.
	ScanProfiles(ctx context.Context, excludeUserID int64) ([]*Profile, error)
	UpsertProfile(ctx context.Context, p *Profile) error
}

// NormalizeTags lowercases and trims tags, drops empties and duplicates and
// returns them sorted.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
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

// Normalize canonicalizes tag collections and trims free-text fields.
func (p *Profile) Normalize() {
	p.DisplayName = strings.TrimSpace(p.DisplayName)
	p.City = strings.TrimSpace(p.City)
	p.Bio = strings.TrimSpace(p.Bio)
	p.Interests = NormalizeTags(p.Interests)
	p.Skills = NormalizeTags(p.Skills)
	p.Goals = NormalizeTags(p.Goals)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate rejects out-of-range attributes with apperr.ErrInvalidArgument.
func (p *Profile) Validate() error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return apperr.InvalidArgument("profile %d: %v", p.UserID, err)
	}
	msgs := make([]string, 0, len(fields))
	for _, fe := range fields {
		msgs = append(msgs, fe.Field()+" failed "+fe.Tag())
	}
	return apperr.InvalidArgument("profile %d: %s", p.UserID, strings.Join(msgs, "; "))
}

// Clone returns a deep copy so callers can't mutate stored state.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	if p.Age != nil {
		age := *p.Age
		c.Age = &age
	}
	c.Interests = append([]string{}, p.Interests...)
	c.Skills = append([]string{}, p.Skills...)
	c.Goals = append([]string{}, p.Goals...)
	return &c
}

// GetOrCreate returns the stored profile, creating an empty one on first access.
func GetOrCreate(ctx context.Context, store Store, userID int64) (*Profile, error) {
	p, err := store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}
	p = Empty(userID)
	p.UpdatedAt = time.Now().UTC()
	if err := store.UpsertProfile(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Update normalizes, validates and stores p.
func Update(ctx context.Context, store Store, p *Profile) error {
	p.Normalize()
	if err := p.Validate(); err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UTC()
	return store.UpsertProfile(ctx, p)
}
