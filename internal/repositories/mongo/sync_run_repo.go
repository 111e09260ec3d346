package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/mylifebyai/mlbai/internal/models"
	"github.com/mylifebyai/mlbai/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SyncRunRetention is how long run documents live before the TTL index drops them.
const SyncRunRetention = 90 * 24 * time.Hour

type SyncRunRepository interface {
	Insert(ctx context.Context, run *models.SyncRun) error
	GetByRunID(ctx context.Context, runID string) (*models.SyncRun, error)
	ListRecent(ctx context.Context, limit int64) ([]models.SyncRun, error)
}

type syncRunRepo struct {
	col *mongo.Collection
}

func NewSyncRunRepo(db *mongo.Database) SyncRunRepository {
	return &syncRunRepo{col: db.Collection("sync_runs")}
}

func (r *syncRunRepo) Insert(ctx context.Context, run *models.SyncRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.ExpiresAt.IsZero() {
		run.ExpiresAt = run.StartedAt.Add(SyncRunRetention)
	}
	_, err := r.col.InsertOne(ctx, run)
	return err
}

func (r *syncRunRepo) GetByRunID(ctx context.Context, runID string) (*models.SyncRun, error) {
	var run models.SyncRun
	err := r.col.FindOne(ctx, bson.M{"run_id": runID}).Decode(&run)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *syncRunRepo) ListRecent(ctx context.Context, limit int64) ([]models.SyncRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(limit)
	cur, err := r.col.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.SyncRun
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
