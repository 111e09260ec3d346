package services

import (
	"context"
	"errors"
	"time"

	"github.com/mylifebyai/mlbai/internal/cache"
	"github.com/mylifebyai/mlbai/internal/membership"
	"github.com/mylifebyai/mlbai/internal/models"
	pgrepo "github.com/mylifebyai/mlbai/internal/repositories/postgres"
	"github.com/mylifebyai/mlbai/internal/utils"
	"github.com/sirupsen/logrus"
)

const roleCacheTTL = 5 * time.Minute

type ProfileService interface {
	// GetOrCreate returns the caller's profile, creating it on first access.
	GetOrCreate(ctx context.Context, userID, email string) (*models.MemberProfile, error)
	// Role is GetOrCreate(...).Role, cached.
	Role(ctx context.Context, userID, email string) (models.Role, error)
	// SetRole is the admin override, the only path that can demote an admin.
	SetRole(ctx context.Context, actorID, userID string, role models.Role) (*models.MemberProfile, error)
	List(ctx context.Context, limit, offset int) ([]models.MemberProfile, int64, error)
	RoleChanges(ctx context.Context, userID string, limit int) ([]models.RoleChange, error)
}

type profileService struct {
	profiles pgrepo.ProfileRepository
	audit    pgrepo.RoleChangeRepository
	cache    cache.Cache
	policy   membership.Policy
	roles    roleEvents
}

func NewProfileService(profiles pgrepo.ProfileRepository, audit pgrepo.RoleChangeRepository, c cache.Cache, policy membership.Policy, log *logrus.Logger) ProfileService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &profileService{
		profiles: profiles,
		audit:    audit,
		cache:    c,
		policy:   policy,
		roles:    roleEvents{audit: audit, cache: c, log: log},
	}
}

func (s *profileService) GetOrCreate(ctx context.Context, userID, email string) (*models.MemberProfile, error) {
	const op = "ProfileService.GetOrCreate"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	p, err := s.profiles.GetByUserID(ctx, userID)
	if err == nil {
		return s.fillEmail(ctx, p, email)
	}
	if !errors.Is(err, utils.ErrNotFound) {
		return nil, utils.E(utils.CodeInternal, op, "failed to get profile", err)
	}

	p = &models.MemberProfile{
		UserID: userID,
		Role:   s.policy.Derive(nil, models.RoleRegular, email),
	}
	if email != "" {
		p.Email = &email
	}
	if err := s.profiles.Create(ctx, p); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to create profile", err)
	}
	// A concurrent request may have won the insert; return what is stored.
	stored, err := s.profiles.GetByUserID(ctx, userID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to get profile", err)
	}
	if stored.Role != models.RoleRegular {
		s.roles.changed(ctx, userID, models.RoleRegular, stored.Role, models.RoleSourceProfile, nil)
	}
	return stored, nil
}

// fillEmail stores the identity-provider email on a profile that has none and
// re-applies the policy, so a late email can still pin the primary admin.
func (s *profileService) fillEmail(ctx context.Context, p *models.MemberProfile, email string) (*models.MemberProfile, error) {
	const op = "ProfileService.GetOrCreate"

	if p.Email != nil || email == "" {
		return p, nil
	}
	filled, err := s.profiles.FillEmail(ctx, p.UserID, email)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to update profile", err)
	}
	if !filled {
		return p, nil
	}
	p.Email = &email

	role := s.policy.Derive(p.PatreonTierID, p.Role, email)
	if role == p.Role {
		return p, nil
	}
	if err := s.profiles.UpdateRole(ctx, p.UserID, role); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to update role", err)
	}
	before := p.Role
	p.Role = role
	s.roles.changed(ctx, p.UserID, before, role, models.RoleSourceProfile, map[string]any{"reason": "email_filled"})
	return p, nil
}

func (s *profileService) Role(ctx context.Context, userID, email string) (models.Role, error) {
	var cached models.Role
	if s.cache != nil {
		if hit, err := s.cache.GetJSON(ctx, roleCacheKey(userID), &cached); err == nil && hit && cached.Valid() {
			return cached, nil
		}
	}
	p, err := s.GetOrCreate(ctx, userID, email)
	if err != nil {
		return "", err
	}
	role, _ := models.ParseRole(string(p.Role))
	if s.cache != nil {
		_ = s.cache.SetJSON(ctx, roleCacheKey(userID), role, roleCacheTTL)
	}
	return role, nil
}

func (s *profileService) SetRole(ctx context.Context, actorID, userID string, role models.Role) (*models.MemberProfile, error) {
	const op = "ProfileService.SetRole"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	if !role.Valid() {
		return nil, utils.E(utils.CodeInvalidArgument, op, "role must be admin, tester or regular", nil)
	}

	p, err := s.profiles.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "profile not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get profile", err)
	}
	if role != models.RoleAdmin && s.policy.IsPrimaryAdmin(p.EmailValue()) {
		return nil, utils.E(utils.CodeInvalidArgument, op, "the primary admin cannot be demoted", nil)
	}
	if p.Role == role {
		return p, nil
	}

	before := p.Role
	if err := s.profiles.UpdateRole(ctx, userID, role); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to update role", err)
	}
	p.Role = role
	s.roles.changed(ctx, userID, before, role, models.RoleSourceAdmin, map[string]any{"actor_id": actorID})
	return p, nil
}

func (s *profileService) List(ctx context.Context, limit, offset int) ([]models.MemberProfile, int64, error) {
	const op = "ProfileService.List"

	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	out, total, err := s.profiles.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, utils.E(utils.CodeInternal, op, "failed to list profiles", err)
	}
	return out, total, nil
}

func (s *profileService) RoleChanges(ctx context.Context, userID string, limit int) ([]models.RoleChange, error) {
	const op = "ProfileService.RoleChanges"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	if s.audit == nil {
		return []models.RoleChange{}, nil
	}
	out, err := s.audit.ListByUserID(ctx, userID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list role changes", err)
	}
	return out, nil
}
