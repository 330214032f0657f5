package matching

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/titi/matcher/internal/apperr"
	"github.com/titi/matcher/internal/messaging"
	"github.com/titi/matcher/internal/metrics"
	"github.com/titi/matcher/internal/profile"
	"github.com/titi/matcher/internal/protocol"
	"github.com/titi/matcher/internal/ratelimit"
	"github.com/titi/matcher/internal/recommend"
	"github.com/titi/matcher/internal/swipe"
)

const (
	requestTimeout     = 5 * time.Second
	defaultTagLimit    = 10
	defaultSocialLimit = 5
)

// Ranker produces ranked recommendations for a user.
type Ranker interface {
	Rank(ctx context.Context, userID int64, opts recommend.Options) ([]recommend.Recommendation, error)
}

// RateLimiter throttles per-user actions.
type RateLimiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
	Remaining(ctx context.Context, identifier string, rule ratelimit.Rule) (int, error)
	RetryAfter(ctx context.Context, identifier string, rule ratelimit.Rule) int
}

// Deps are the collaborators a Service dispatches to. Limiter and NATS may
// be nil: requests are then unthrottled and Start is unavailable. Zero rules
// take the ratelimit defaults and a rule with a negative Limit is not applied.
type Deps struct {
	Engine        *Engine
	Ranker        Ranker
	Profiles      profile.Store
	Limiter       RateLimiter
	SwipeRule     ratelimit.Rule
	RecommendRule ratelimit.Rule
	NATS          *messaging.NATSClient
}

// Service answers matcher requests arriving on matcher.request.
type Service struct {
	deps   Deps
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewService creates a new matcher service.
func NewService(deps Deps, log zerolog.Logger) *Service {
	if deps.SwipeRule.Limit == 0 {
		deps.SwipeRule = ratelimit.RuleSwipe
	}
	if deps.RecommendRule.Limit == 0 {
		deps.RecommendRule = ratelimit.RuleRecommend
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{deps: deps, log: log, ctx: ctx, cancel: cancel}
}

// Start subscribes to the request subject.
func (s *Service) Start() error {
	if s.deps.NATS == nil {
		return errors.New("matching: service has no NATS client")
	}
	if err := s.deps.NATS.ServeRequests(s.serve); err != nil {
		return err
	}
	s.log.Info().Str("subject", messaging.SubjectRequest).Msg("service started")
	return nil
}

// Stop cancels in-flight requests.
func (s *Service) Stop() {
	s.cancel()
	s.log.Info().Msg("service stopped")
}

func (s *Service) serve(data []byte) []byte {
	ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
	defer cancel()
	return s.Handle(ctx, data)
}

// Handle decodes one request, executes it and returns the encoded reply.
// It always returns a reply; failures become error messages.
func (s *Service) Handle(ctx context.Context, data []byte) []byte {
	msgType, msg, err := protocol.ParseRequest(data)
	if err != nil {
		if msgType == "" {
			msgType = "unknown"
		}
		metrics.RequestsTotal.WithLabelValues(msgType, "invalid_argument").Inc()
		return protocol.NewError("invalid_argument", err.Error())
	}

	reply, err := s.dispatch(ctx, msg)
	code := "ok"
	if err != nil {
		code = apperr.Code(err)
	}
	metrics.RequestsTotal.WithLabelValues(msgType, code).Inc()

	if err != nil {
		if code == "invalid_argument" {
			return protocol.NewError(code, err.Error())
		}
		s.log.Error().Err(err).Str("type", msgType).Msg("request failed")
		return protocol.NewError("internal", "internal error")
	}
	return reply
}

func (s *Service) dispatch(ctx context.Context, msg interface{}) ([]byte, error) {
	switch m := msg.(type) {
	case protocol.SwipeRequest:
		return s.handleSwipe(ctx, m)
	case protocol.RecommendRequest:
		return s.handleRecommend(ctx, m)
	case protocol.ListMatchesRequest:
		return s.handleListMatches(ctx, m)
	case protocol.PairStateRequest:
		return s.handlePairState(ctx, m)
	case protocol.UpdateProfileRequest:
		return s.handleUpdateProfile(ctx, m)
	case protocol.PopularTagsRequest:
		return s.handlePopularTags(ctx, m)
	case protocol.SocialFieldRequest:
		return s.handleSocialField(ctx, m)
	case protocol.PersonalTagsRequest:
		return s.handlePersonalTags(ctx, m)
	}
	return nil, apperr.InvalidArgument("matching: unsupported request %T", msg)
}

func (s *Service) handleSwipe(ctx context.Context, req protocol.SwipeRequest) ([]byte, error) {
	if err := swipe.CheckPair(req.FromUserID, req.ToUserID); err != nil {
		return nil, err
	}

	limited, remaining := s.throttle(ctx, "swipe", req.FromUserID, s.deps.SwipeRule)
	if limited != nil {
		return limited, nil
	}
	if _, err := profile.GetOrCreate(ctx, s.deps.Profiles, req.FromUserID); err != nil {
		return nil, err
	}

	res, err := s.deps.Engine.Swipe(ctx, req.FromUserID, req.ToUserID, req.IsLike)
	if err != nil {
		return nil, err
	}
	out := protocol.SwipeResultMsg{Matched: res.Matched, Created: res.Created, Remaining: remaining}
	if res.Match != nil {
		out.MatchID = res.Match.ID.String()
	}
	return protocol.NewReply(protocol.TypeSwipeResult, out)
}

func (s *Service) handleRecommend(ctx context.Context, req protocol.RecommendRequest) ([]byte, error) {
	if req.UserID <= 0 {
		return nil, apperr.InvalidArgument("matching: user id must be positive, got %d", req.UserID)
	}
	if req.TopN < 0 {
		return nil, apperr.InvalidArgument("matching: top_n must not be negative, got %d", req.TopN)
	}
	if req.MinScore < 0 || req.MinScore > 1 {
		return nil, apperr.InvalidArgument("matching: min_score must be within [0, 1], got %g", req.MinScore)
	}

	limited, remaining := s.throttle(ctx, "recommend", req.UserID, s.deps.RecommendRule)
	if limited != nil {
		return limited, nil
	}
	if _, err := profile.GetOrCreate(ctx, s.deps.Profiles, req.UserID); err != nil {
		return nil, err
	}

	recs, err := s.deps.Ranker.Rank(ctx, req.UserID, recommend.Options{
		TopN:         req.TopN,
		MinScore:     req.MinScore,
		ForceRefresh: req.ForceRefresh,
	})
	if err != nil {
		return nil, err
	}

	items := make([]protocol.RecommendationItem, 0, len(recs))
	for _, r := range recs {
		pf := make(map[string]float64, len(r.PerFeature))
		for f, v := range r.PerFeature {
			pf[string(f)] = v
		}
		items = append(items, protocol.RecommendationItem{
			CandidateID:     r.CandidateID,
			Score:           r.Score,
			PerFeature:      pf,
			SharedInterests: r.Shared.Interests,
			SharedSkills:    r.Shared.Skills,
			SharedGoals:     r.Shared.Goals,
			SameCity:        r.Shared.SameCity,
		})
	}
	return protocol.NewReply(protocol.TypeRecommendations, protocol.RecommendationsMsg{
		UserID:    req.UserID,
		Items:     items,
		Remaining: remaining,
	})
}

// throttle charges one request of action against rule. It returns an encoded
// rate_limited reply when userID is over the limit. Otherwise it returns the
// requests left in the window, or nil when no limiter is configured.
func (s *Service) throttle(ctx context.Context, action string, userID int64, rule ratelimit.Rule) ([]byte, *int) {
	if s.deps.Limiter == nil || rule.Limit < 0 {
		return nil, nil
	}
	id := strconv.FormatInt(userID, 10)
	allowed, err := s.deps.Limiter.Allow(ctx, id, rule)
	if err != nil {
		s.log.Warn().Err(err).Str("action", action).Int64("user_id", userID).Msg("rate limiter unavailable")
		return nil, nil
	}
	if !allowed {
		metrics.RateLimited.WithLabelValues(action).Inc()
		reply, err := protocol.NewReply(protocol.TypeRateLimited, protocol.RateLimitedMsg{
			RetryAfter: s.deps.Limiter.RetryAfter(ctx, id, rule),
		})
		if err != nil {
			return protocol.NewError("internal", "internal error"), nil
		}
		return reply, nil
	}

	left, err := s.deps.Limiter.Remaining(ctx, id, rule)
	if err != nil {
		return nil, nil
	}
	return nil, &left
}

func (s *Service) handleListMatches(ctx context.Context, req protocol.ListMatchesRequest) ([]byte, error) {
	if req.UserID <= 0 {
		return nil, apperr.InvalidArgument("matching: user id must be positive, got %d", req.UserID)
	}
	partners, err := s.deps.Engine.Partners(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	return protocol.NewReply(protocol.TypeMatches, protocol.MatchesMsg{UserID: req.UserID, Partners: partners})
}

func (s *Service) handlePairState(ctx context.Context, req protocol.PairStateRequest) ([]byte, error) {
	state, err := s.deps.Engine.State(ctx, req.UserID, req.OtherID)
	if err != nil {
		return nil, err
	}
	return protocol.NewReply(protocol.TypePairStateResult, protocol.PairStateMsg{State: state.String()})
}

func (s *Service) handleUpdateProfile(ctx context.Context, req protocol.UpdateProfileRequest) ([]byte, error) {
	p := &profile.Profile{
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		Age:         req.Age,
		City:        req.City,
		Bio:         req.Bio,
		Interests:   req.Interests,
		Skills:      req.Skills,
		Goals:       req.Goals,
	}
	if err := profile.Update(ctx, s.deps.Profiles, p); err != nil {
		return nil, err
	}
	return protocol.NewReply(protocol.TypeProfileUpdated, protocol.ProfileUpdatedMsg{
		UserID:    p.UserID,
		UpdatedAt: p.UpdatedAt.Unix(),
	})
}

func tagField(name string) (profile.Field, error) {
	field := profile.Field(name)
	switch field {
	case profile.FieldInterests, profile.FieldSkills, profile.FieldGoals:
		return field, nil
	}
	return "", apperr.InvalidArgument("matching: unknown tag field %q", name)
}

func toTagCounts(in []profile.TagCount) []protocol.TagCount {
	out := make([]protocol.TagCount, 0, len(in))
	for _, tc := range in {
		out = append(out, protocol.TagCount{Tag: tc.Tag, Count: tc.Count})
	}
	return out
}

func (s *Service) handlePopularTags(ctx context.Context, req protocol.PopularTagsRequest) ([]byte, error) {
	field, err := tagField(req.Field)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultTagLimit
	}

	all, err := s.deps.Profiles.ScanProfiles(ctx, 0)
	if err != nil {
		return nil, err
	}
	return protocol.NewReply(protocol.TypePopularTagsList, protocol.PopularTagsMsg{
		Field: req.Field,
		Tags:  toTagCounts(profile.TopTags(all, field, limit)),
	})
}

func (s *Service) handleSocialField(ctx context.Context, req protocol.SocialFieldRequest) ([]byte, error) {
	if req.Field == "" {
		req.Field = string(profile.FieldSkills)
	}
	field, err := tagField(req.Field)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSocialLimit
	}

	all, err := s.deps.Profiles.ScanProfiles(ctx, 0)
	if err != nil {
		return nil, err
	}
	cities := profile.SocialField(all, field, limit)
	out := protocol.SocialFieldMsg{Field: req.Field, Cities: make([]protocol.CityTags, 0, len(cities))}
	for _, c := range cities {
		out.Cities = append(out.Cities, protocol.CityTags{City: c.City, Tags: toTagCounts(c.Tags)})
	}
	return protocol.NewReply(protocol.TypeSocialFieldList, out)
}

func (s *Service) handlePersonalTags(ctx context.Context, req protocol.PersonalTagsRequest) ([]byte, error) {
	if req.UserID <= 0 {
		return nil, apperr.InvalidArgument("matching: user id must be positive, got %d", req.UserID)
	}
	if req.Field == "" {
		req.Field = string(profile.FieldSkills)
	}
	field, err := tagField(req.Field)
	if err != nil {
		return nil, err
	}

	p, err := s.deps.Profiles.GetProfile(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	return protocol.NewReply(protocol.TypePersonalTagList, protocol.PersonalTagsMsg{
		UserID: req.UserID,
		Field:  req.Field,
		Tags:   toTagCounts(profile.PersonalTags(p, field)),
	})
}
