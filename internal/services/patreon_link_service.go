package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/mylifebyai/mlbai/internal/cache"
	"github.com/mylifebyai/mlbai/internal/membership"
	"github.com/mylifebyai/mlbai/internal/models"
	"github.com/mylifebyai/mlbai/internal/patreon"
	pgrepo "github.com/mylifebyai/mlbai/internal/repositories/postgres"
	"github.com/mylifebyai/mlbai/internal/utils"
	"github.com/sirupsen/logrus"
)

// Callback outcomes carried in the ?patreon= query parameter.
const (
	OutcomeLinked   = "linked"
	OutcomeInactive = "inactive"
	OutcomeError    = "error"
)

// Reasons attached to error outcomes.
const (
	ReasonStateMismatch    = "state_mismatch"
	ReasonMissingCode      = "missing_code"
	ReasonCampaignMismatch = "Patreon membership belongs to a different campaign"
	ReasonNoTier           = "No entitled Patreon tier found"
	ReasonLinkFailed       = "Unable to link Patreon right now"
)

const stateClaimPrefix = "patreon:state:"

// MembershipClient is the part of *patreon.Client the orchestrators need.
type MembershipClient interface {
	AuthCodeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*patreon.Tokens, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*patreon.Tokens, error)
	FetchMembership(ctx context.Context, accessToken, campaignID string) (*patreon.Snapshot, error)
}

type PatreonLinkService interface {
	// Start returns the provider authorize URL for userID.
	Start(ctx context.Context, userID, redirectTo string) (string, error)
	// Callback never fails: every problem becomes an error outcome.
	Callback(ctx context.Context, in CallbackInput) CallbackOutcome
	// Unlink clears every Patreon field and returns the recomputed role.
	Unlink(ctx context.Context, userID, email string) (models.Role, error)
}

type CallbackInput struct {
	Code          string
	State         string
	ProviderError string
}

type CallbackOutcome struct {
	Status     string
	Role       models.Role
	Reason     string
	RedirectTo string
}

// RedirectURL renders the outcome onto base + RedirectTo.
func (o CallbackOutcome) RedirectURL(base string) string {
	path := o.RedirectTo
	if path == "" {
		path = patreon.DefaultRedirectPath
	}
	path, fragment, hasFragment := strings.Cut(path, "#")

	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "/"))
	b.WriteString(path)
	if strings.Contains(path, "?") {
		b.WriteByte('&')
	} else {
		b.WriteByte('?')
	}
	b.WriteString("patreon=")
	b.WriteString(url.QueryEscape(o.Status))
	switch {
	case o.Status == OutcomeError && o.Reason != "":
		b.WriteString("&reason=")
		b.WriteString(url.QueryEscape(o.Reason))
	case o.Status != OutcomeError && o.Role != "":
		b.WriteString("&role=")
		b.WriteString(url.QueryEscape(string(o.Role)))
	}
	if hasFragment {
		b.WriteByte('#')
		b.WriteString(fragment)
	}
	return b.String()
}

type LinkDeps struct {
	Config   patreon.Config
	Client   MembershipClient
	Codec    *patreon.StateCodec
	Policy   membership.Policy
	Profiles pgrepo.ProfileRepository
	Audit    pgrepo.RoleChangeRepository // optional
	Cache    cache.Cache                 // optional
	Claims   cache.Claimer               // optional; enables single-use state
	Logger   *logrus.Logger
	Now      func() time.Time
}

type patreonLinkService struct {
	cfg      patreon.Config
	client   MembershipClient
	codec    *patreon.StateCodec
	policy   membership.Policy
	profiles pgrepo.ProfileRepository
	claims   cache.Claimer
	roles    roleEvents
	log      *logrus.Logger
	now      func() time.Time
}

func NewPatreonLinkService(d LinkDeps) PatreonLinkService {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	return &patreonLinkService{
		cfg:      d.Config,
		client:   d.Client,
		codec:    d.Codec,
		policy:   d.Policy,
		profiles: d.Profiles,
		claims:   d.Claims,
		roles:    roleEvents{audit: d.Audit, cache: d.Cache, log: d.Logger},
		log:      d.Logger,
		now:      d.Now,
	}
}

func (s *patreonLinkService) Start(ctx context.Context, userID, redirectTo string) (string, error) {
	const op = "PatreonLinkService.Start"

	if userID == "" {
		return "", utils.E(utils.CodeUnauthorized, op, "unauthorized", nil)
	}
	state, err := s.codec.Encode(patreon.StatePayload{
		UserID:     userID,
		RedirectTo: patreon.SanitizeRedirectPath(redirectTo),
		IssuedAt:   s.now().Unix(),
	})
	if err != nil {
		return "", utils.E(utils.CodeInternal, op, "failed to start Patreon link", err)
	}
	return s.client.AuthCodeURL(state), nil
}

func (s *patreonLinkService) Callback(ctx context.Context, in CallbackInput) CallbackOutcome {
	payload, ok := s.codec.Decode(in.State)
	if !ok {
		s.log.Info("patreon callback: invalid state")
		return CallbackOutcome{Status: OutcomeError, Reason: ReasonStateMismatch, RedirectTo: patreon.DefaultRedirectPath}
	}
	// payload.RedirectTo is only as trusted as the signing secret
	out := CallbackOutcome{RedirectTo: patreon.SanitizeRedirectPath(payload.RedirectTo)}
	fail := func(reason string) CallbackOutcome {
		out.Status, out.Reason = OutcomeError, reason
		return out
	}
	log := s.log.WithField("user_id", payload.UserID)

	if !s.fresh(payload) {
		log.Info("patreon callback: expired state")
		return fail(ReasonStateMismatch)
	}
	if !s.claimState(ctx, in.State, log) {
		log.Info("patreon callback: state replayed")
		return fail(ReasonStateMismatch)
	}
	if in.ProviderError != "" {
		code := providerErrorCode(in.ProviderError)
		log.WithField("provider_error", code).Info("patreon callback: authorization declined")
		return fail(code)
	}
	if strings.TrimSpace(in.Code) == "" {
		log.Info("patreon callback: missing code")
		return fail(ReasonMissingCode)
	}

	tokens, err := s.client.ExchangeCode(ctx, in.Code)
	if err != nil {
		log.WithError(err).Error("patreon callback: code exchange failed")
		return fail(patreon.SafeReason(err, ReasonLinkFailed))
	}
	snap, err := s.client.FetchMembership(ctx, tokens.AccessToken, s.cfg.CampaignID)
	if err != nil {
		log.WithError(err).Error("patreon callback: membership fetch failed")
		return fail(patreon.SafeReason(err, ReasonLinkFailed))
	}

	log = log.WithFields(logrus.Fields{
		"patreon_user_id": deref(snap.PatreonUserID),
		"campaign_id":     deref(snap.CampaignID),
		"tier_id":         deref(snap.TierID),
	})
	if s.cfg.CampaignID != "" && (snap.CampaignID == nil || *snap.CampaignID != s.cfg.CampaignID) {
		log.WithField("expected_campaign_id", s.cfg.CampaignID).Warn("patreon callback: campaign mismatch")
		return fail(ReasonCampaignMismatch)
	}
	if snap.TierID == nil {
		log.Warn("patreon callback: no entitled tier")
		return fail(ReasonNoTier)
	}

	profile, err := s.profiles.GetByUserID(ctx, payload.UserID)
	switch {
	case errors.Is(err, utils.ErrNotFound):
		profile = &models.MemberProfile{UserID: payload.UserID, Role: models.RoleRegular}
	case err != nil:
		log.WithError(err).Error("patreon callback: profile load failed")
		return fail(ReasonLinkFailed)
	}
	// only the stored identity-provider email feeds the admin pin, never snap.Email

	before := profile.Role
	role := s.policy.Derive(snap.TierID, profile.Role, profile.EmailValue())
	now := s.now().UTC()
	status := models.StatusNoMembership
	if snap.Status != nil {
		status = *snap.Status
	}
	refresh := tokens.RefreshToken

	profile.Role = role
	profile.PatreonUserID = snap.PatreonUserID
	profile.PatreonTierID = snap.TierID
	profile.PatreonStatus = &status
	profile.PatreonLastSyncAt = &now
	profile.PatreonLastSuccessAt = &now
	profile.PatreonRefreshToken = &refresh

	if err := s.profiles.Upsert(ctx, profile); err != nil {
		log.WithError(err).Error("patreon callback: profile upsert failed")
		return fail(ReasonLinkFailed)
	}
	s.roles.changed(ctx, payload.UserID, before, role, models.RoleSourceLink, map[string]any{
		"patreon_user_id": deref(snap.PatreonUserID),
		"tier_id":         deref(snap.TierID),
		"patreon_status":  status,
	})

	out.Role = role
	out.Status = OutcomeInactive
	if status == models.StatusActivePatron {
		out.Status = OutcomeLinked
	}
	log.WithFields(logrus.Fields{"role": role, "patreon_status": status}).Info("patreon linked")
	return out
}

func (s *patreonLinkService) Unlink(ctx context.Context, userID, email string) (models.Role, error) {
	const op = "PatreonLinkService.Unlink"

	if userID == "" {
		return "", utils.E(utils.CodeUnauthorized, op, "unauthorized", nil)
	}
	profile, err := s.profiles.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return "", utils.E(utils.CodeNotFound, op, "profile not found", err)
		}
		return "", utils.E(utils.CodeInternal, op, "failed to load profile", err)
	}
	if profile.EmailValue() != "" {
		email = profile.EmailValue()
	}

	before := profile.Role
	role := s.policy.Derive(nil, profile.Role, email)
	profile.ClearPatreon()
	profile.Role = role

	if err := s.profiles.Upsert(ctx, profile); err != nil {
		return "", utils.E(utils.CodeInternal, op, "failed to unlink Patreon", err)
	}
	s.roles.changed(ctx, userID, before, role, models.RoleSourceUnlink, nil)
	s.log.WithFields(logrus.Fields{"user_id": userID, "role": role}).Info("patreon unlinked")
	return role, nil
}

// fresh rejects tokens older than the configured TTL, tokens without an
// issue time, and tokens issued noticeably in the future.
func (s *patreonLinkService) fresh(p patreon.StatePayload) bool {
	if s.cfg.StateTTL <= 0 {
		return true
	}
	if p.IssuedAt == 0 {
		return false
	}
	age := p.Age(s.now())
	return age <= s.cfg.StateTTL && age >= -time.Minute
}

// claimState marks the state as used. Claim errors fail open.
func (s *patreonLinkService) claimState(ctx context.Context, state string, log *logrus.Entry) bool {
	if s.claims == nil {
		return true
	}
	ttl := s.cfg.StateTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	sum := sha256.Sum256([]byte(state))
	ok, err := s.claims.Claim(ctx, stateClaimPrefix+hex.EncodeToString(sum[:]), ttl)
	if err != nil {
		log.WithError(err).Warn("patreon callback: state claim unavailable")
		return true
	}
	return ok
}

// providerErrorCode keeps OAuth error codes readable and drops anything else.
func providerErrorCode(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		if b.Len() >= 64 {
			break
		}
		if r == '_' || r == '-' || r == '.' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "authorization_declined"
	}
	return b.String()
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
