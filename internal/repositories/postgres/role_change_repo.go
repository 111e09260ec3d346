package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mylifebyai/mlbai/internal/models"
	"gorm.io/gorm"
)

type RoleChangeRepository interface {
	Create(ctx context.Context, rc *models.RoleChange) error
	ListByUserID(ctx context.Context, userID string, limit int) ([]models.RoleChange, error)
}

type roleChangeRepo struct {
	db *gorm.DB
}

func NewRoleChangeRepo(db *gorm.DB) RoleChangeRepository {
	return &roleChangeRepo{db: db}
}

func (r *roleChangeRepo) Create(ctx context.Context, rc *models.RoleChange) error {
	if rc.ID == "" {
		rc.ID = uuid.NewString()
	}
	if rc.CreatedAt.IsZero() {
		rc.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(rc).Error
}

func (r *roleChangeRepo) ListByUserID(ctx context.Context, userID string, limit int) ([]models.RoleChange, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []models.RoleChange
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
