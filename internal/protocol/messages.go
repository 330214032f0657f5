// Package protocol defines the request and reply messages exchanged with the
// matcher over NATS. All messages are JSON objects carrying a "type"
// discriminator alongside their fields.
package protocol

import (
	"fmt"

	"github.com/goccy/go-json"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Request types.
const (
	TypeSwipe         = "swipe"
	TypeRecommend     = "recommend"
	TypeListMatches   = "list_matches"
	TypeUpdateProfile = "update_profile"
	TypePopularTags   = "popular_tags"
	TypePairState     = "pair_state"
	TypeSocialField   = "social_field"
	TypePersonalTags  = "personal_tags"
)

// Reply types.
const (
	TypeSwipeResult     = "swipe_result"
	TypeRecommendations = "recommendations"
	TypeMatches         = "matches"
	TypeProfileUpdated  = "profile_updated"
	TypePopularTagsList = "popular_tags"
	TypePairStateResult = "pair_state_result"
	TypeSocialFieldList = "social_field"
	TypePersonalTagList = "personal_tags"
	TypeRateLimited     = "rate_limited"
	TypeError           = "error"
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the raw bytes and extracts only the "type" field.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// SwipeRequest records a like or dislike from one user toward another.
type SwipeRequest struct {
	Type       string `json:"type"`
	FromUserID int64  `json:"from_user_id"`
	ToUserID   int64  `json:"to_user_id"`
	IsLike     bool   `json:"is_like"`
}

// RecommendRequest asks for the ranked candidates of a user.
type RecommendRequest struct {
	Type         string  `json:"type"`
	UserID       int64   `json:"user_id"`
	TopN         int     `json:"top_n,omitempty"`
	MinScore     float64 `json:"min_score,omitempty"`
	ForceRefresh bool    `json:"force_refresh,omitempty"`
}

// ListMatchesRequest asks for the partners a user is matched with.
type ListMatchesRequest struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
}

// PairStateRequest asks for the relationship between two users.
type PairStateRequest struct {
	Type    string `json:"type"`
	UserID  int64  `json:"user_id"`
	OtherID int64  `json:"other_id"`
}

// UpdateProfileRequest replaces the matchable attributes of a profile.
type UpdateProfileRequest struct {
	Type        string   `json:"type"`
	UserID      int64    `json:"user_id"`
	DisplayName string   `json:"display_name"`
	Age         *int     `json:"age"`
	City        string   `json:"city"`
	Bio         string   `json:"bio"`
	Interests   []string `json:"interests"`
	Skills      []string `json:"skills"`
	Goals       []string `json:"goals"`
}

// PopularTagsRequest asks for the most common tags of one field.
type PopularTagsRequest struct {
	Type  string `json:"type"`
	Field string `json:"field"`
	Limit int    `json:"limit,omitempty"`
}

// SocialFieldRequest asks for the leading tags of one field in every city.
type SocialFieldRequest struct {
	Type  string `json:"type"`
	Field string `json:"field,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// PersonalTagsRequest asks for the tags one user lists in a field.
type PersonalTagsRequest struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
	Field  string `json:"field,omitempty"`
}

// ---------------------------------------------------------------------------
// Replies
// ---------------------------------------------------------------------------

// SwipeResultMsg reports the pair outcome after a swipe.
type SwipeResultMsg struct {
	Type    string `json:"type"`
	Matched bool   `json:"matched"`
	Created bool   `json:"created"`
	MatchID string `json:"match_id,omitempty"`
	// Remaining is the number of swipes left in the current window. It is
	// omitted when the caller is not throttled.
	Remaining *int `json:"remaining,omitempty"`
}

// RecommendationItem is one ranked candidate.
type RecommendationItem struct {
	CandidateID     int64              `json:"candidate_id"`
	Score           float64            `json:"score"`
	PerFeature      map[string]float64 `json:"per_feature,omitempty"`
	SharedInterests []string           `json:"shared_interests,omitempty"`
	SharedSkills    []string           `json:"shared_skills,omitempty"`
	SharedGoals     []string           `json:"shared_goals,omitempty"`
	SameCity        bool               `json:"same_city,omitempty"`
}

// RecommendationsMsg carries a ranking, best first.
type RecommendationsMsg struct {
	Type   string               `json:"type"`
	UserID int64                `json:"user_id"`
	Items  []RecommendationItem `json:"items"`
	// Remaining is the number of recommend calls left in the current window.
	Remaining *int `json:"remaining,omitempty"`
}

// MatchesMsg lists a user's match partners in ascending id order.
type MatchesMsg struct {
	Type     string  `json:"type"`
	UserID   int64   `json:"user_id"`
	Partners []int64 `json:"partners"`
}

// PairStateMsg reports one of no_interaction, one_sided_like or matched.
type PairStateMsg struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

// ProfileUpdatedMsg confirms a profile write.
type ProfileUpdatedMsg struct {
	Type      string `json:"type"`
	UserID    int64  `json:"user_id"`
	UpdatedAt int64  `json:"updated_at"`
}

// TagCount is a tag and the number of profiles carrying it.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// PopularTagsMsg lists tags by popularity.
type PopularTagsMsg struct {
	Type  string     `json:"type"`
	Field string     `json:"field"`
	Tags  []TagCount `json:"tags"`
}

// CityTags is the tag summary of one city.
type CityTags struct {
	City string     `json:"city"`
	Tags []TagCount `json:"tags"`
}

// SocialFieldMsg lists cities by activity with their leading tags.
type SocialFieldMsg struct {
	Type   string     `json:"type"`
	Field  string     `json:"field"`
	Cities []CityTags `json:"cities"`
}

// PersonalTagsMsg lists a user's own tags.
type PersonalTagsMsg struct {
	Type   string     `json:"type"`
	UserID int64      `json:"user_id"`
	Field  string     `json:"field"`
	Tags   []TagCount `json:"tags"`
}

// RateLimitedMsg is sent when the caller has been rate-limited.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg communicates an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseRequest decodes raw bytes into a typed request. It returns the
// message type, the decoded struct and any error. Unknown types are errors.
func ParseRequest(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeSwipe:
		var m SwipeRequest
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeRecommend:
		var m RecommendRequest
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeListMatches:
		var m ListMatchesRequest
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePairState:
		var m PairStateRequest
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUpdateProfile:
		var m UpdateProfileRequest
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePopularTags:
		var m PopularTagsRequest
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSocialField:
		var m SocialFieldRequest
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePersonalTags:
		var m PersonalTagsRequest
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown request type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewReply encodes payload with msgType injected under the "type" key.
func NewReply(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal reply: %w", err)
	}
	return out, nil
}

// NewError encodes an error reply. It never fails.
func NewError(code, message string) []byte {
	out, err := json.Marshal(ErrorMsg{Type: TypeError, Code: code, Message: message})
	if err != nil {
		return []byte(`{"type":"error","code":"internal","message":"encode failure"}`)
	}
	return out
}
