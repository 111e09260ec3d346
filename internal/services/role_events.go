package services

import (
	"context"
	"encoding/json"

	"github.com/mylifebyai/mlbai/internal/cache"
	"github.com/mylifebyai/mlbai/internal/models"
	pgrepo "github.com/mylifebyai/mlbai/internal/repositories/postgres"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

func roleCacheKey(userID string) string { return "role:" + userID }

// roleEvents records role transitions and drops the cached role. Both are
// best effort: failures are logged and never change the caller's outcome.
type roleEvents struct {
	audit pgrepo.RoleChangeRepository
	cache cache.Cache
	log   *logrus.Logger
}

func (r roleEvents) changed(ctx context.Context, userID string, from, to models.Role, source string, meta map[string]any) {
	if from == to {
		return
	}
	log := r.log.WithFields(logrus.Fields{"user_id": userID, "from_role": from, "to_role": to, "source": source})
	log.Info("role changed")

	if r.cache != nil {
		if err := r.cache.Del(ctx, roleCacheKey(userID)); err != nil {
			log.WithError(err).Warn("role cache invalidation failed")
		}
	}
	if r.audit == nil {
		return
	}
	var md datatypes.JSON
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			md = datatypes.JSON(b)
		}
	}
	rc := &models.RoleChange{UserID: userID, FromRole: from, ToRole: to, Source: source, Metadata: md}
	if err := r.audit.Create(ctx, rc); err != nil {
		log.WithError(err).Warn("role change audit failed")
	}
}
