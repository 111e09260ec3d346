package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mylifebyai/mlbai/internal/models"
	"github.com/mylifebyai/mlbai/internal/security"
	"github.com/mylifebyai/mlbai/internal/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProfileRepository interface {
	GetByUserID(ctx context.Context, userID string) (*models.MemberProfile, error)
	// Create inserts p unless a row for the user already exists.
	Create(ctx context.Context, p *models.MemberProfile) error
	// Upsert writes role, email and every Patreon field of p (last write wins).
	Upsert(ctx context.Context, p *models.MemberProfile) error
	// TouchSync stamps an attempt and, when refreshToken is non-nil, replaces the stored token.
	TouchSync(ctx context.Context, userID string, at time.Time, refreshToken *string) error
	UpdateRole(ctx context.Context, userID string, role models.Role) error
	// FillEmail sets email only when the stored value is NULL. It reports whether a row changed.
	FillEmail(ctx context.Context, userID, email string) (bool, error)
	ListLinked(ctx context.Context) ([]models.MemberProfile, error)
	ListByUserIDs(ctx context.Context, userIDs []string) ([]models.MemberProfile, error)
	List(ctx context.Context, limit, offset int) ([]models.MemberProfile, int64, error)
}

type profileRepo struct {
	db     *gorm.DB
	sealer security.Sealer
}

// NewProfileRepo stores refresh tokens through sealer. A nil sealer stores plaintext.
func NewProfileRepo(db *gorm.DB, sealer security.Sealer) ProfileRepository {
	if sealer == nil {
		sealer = security.Plaintext{}
	}
	return &profileRepo{db: db, sealer: sealer}
}

var upsertColumns = []string{
	"email", "role",
	"patreon_user_id", "patreon_tier_id", "patreon_status",
	"patreon_last_sync_at", "patreon_last_success_at", "patreon_refresh_token",
	"updated_at",
}

func (r *profileRepo) GetByUserID(ctx context.Context, userID string) (*models.MemberProfile, error) {
	var p models.MemberProfile
	err := r.db.WithContext(ctx).
		Where("id = ?", userID).
		Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.open(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *profileRepo) Create(ctx context.Context, p *models.MemberProfile) error {
	row, err := r.sealed(p)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(row).Error
}

func (r *profileRepo) Upsert(ctx context.Context, p *models.MemberProfile) error {
	row, err := r.sealed(p)
	if err != nil {
		return err
	}
	row.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).
		Create(row).Error
}

func (r *profileRepo) TouchSync(ctx context.Context, userID string, at time.Time, refreshToken *string) error {
	updates := map[string]any{
		"patreon_last_sync_at": at.UTC(),
		"updated_at":           time.Now().UTC(),
	}
	if refreshToken != nil {
		sealed, err := r.sealer.Seal(*refreshToken)
		if err != nil {
			return fmt.Errorf("seal refresh token: %w", err)
		}
		updates["patreon_refresh_token"] = sealed
	}
	res := r.db.WithContext(ctx).
		Model(&models.MemberProfile{}).
		Where("id = ?", userID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *profileRepo) UpdateRole(ctx context.Context, userID string, role models.Role) error {
	res := r.db.WithContext(ctx).
		Model(&models.MemberProfile{}).
		Where("id = ?", userID).
		Updates(map[string]any{"role": role, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *profileRepo) FillEmail(ctx context.Context, userID, email string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.MemberProfile{}).
		Where("id = ? AND email IS NULL", userID).
		Updates(map[string]any{"email": email, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *profileRepo) ListLinked(ctx context.Context) ([]models.MemberProfile, error) {
	var out []models.MemberProfile
	err := r.db.WithContext(ctx).
		Where("patreon_refresh_token IS NOT NULL AND patreon_refresh_token <> ''").
		Order("id").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, r.openAll(out)
}

func (r *profileRepo) ListByUserIDs(ctx context.Context, userIDs []string) ([]models.MemberProfile, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var out []models.MemberProfile
	err := r.db.WithContext(ctx).
		Where("id = ANY(?)", pq.Array(userIDs)).
		Order("id").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, r.openAll(out)
}

func (r *profileRepo) List(ctx context.Context, limit, offset int) ([]models.MemberProfile, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.MemberProfile{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []models.MemberProfile
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error
	if err != nil {
		return nil, 0, err
	}
	// tokens are not needed for listings
	for i := range out {
		out[i].PatreonRefreshToken = nil
	}
	return out, total, nil
}

func (r *profileRepo) sealed(p *models.MemberProfile) (*models.MemberProfile, error) {
	row := *p
	if row.PatreonRefreshToken != nil && *row.PatreonRefreshToken != "" {
		s, err := r.sealer.Seal(*row.PatreonRefreshToken)
		if err != nil {
			return nil, fmt.Errorf("seal refresh token: %w", err)
		}
		row.PatreonRefreshToken = &s
	}
	return &row, nil
}

func (r *profileRepo) open(p *models.MemberProfile) error {
	if p.PatreonRefreshToken == nil || *p.PatreonRefreshToken == "" {
		return nil
	}
	plain, err := r.sealer.Open(*p.PatreonRefreshToken)
	if err != nil {
		return fmt.Errorf("open refresh token for %s: %w", p.UserID, err)
	}
	p.PatreonRefreshToken = &plain
	return nil
}

// openAll fails the whole listing: an unreadable token means a key problem
// that affects every row, not just one.
func (r *profileRepo) openAll(ps []models.MemberProfile) error {
	for i := range ps {
		if err := r.open(&ps[i]); err != nil {
			return err
		}
	}
	return nil
}
