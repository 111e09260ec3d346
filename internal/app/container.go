package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/mylifebyai/mlbai/config"
	"github.com/mylifebyai/mlbai/internal/cache"
	"github.com/mylifebyai/mlbai/internal/membership"
	"github.com/mylifebyai/mlbai/internal/patreon"
	mongorepo "github.com/mylifebyai/mlbai/internal/repositories/mongo"
	pgrepo "github.com/mylifebyai/mlbai/internal/repositories/postgres"
	"github.com/mylifebyai/mlbai/internal/security"
	"github.com/mylifebyai/mlbai/internal/services"
	"github.com/sirupsen/logrus"
)

// Container holds the wired services. Redis and Mongo are optional: when
// absent, Cache/Claims/Locks and sync-run history are nil.
type Container struct {
	Log     *logrus.Logger
	Patreon patreon.Config
	Runtime config.PatreonRuntime

	Codec  *patreon.StateCodec
	Policy membership.Policy

	Cache  cache.Cache
	Claims cache.Claimer
	Locks  cache.Locker

	Link     services.PatreonLinkService
	Sync     services.PatreonSyncService
	Profiles services.ProfileService
}

// Build loads configuration, connects the stores and wires every service.
func Build(log *logrus.Logger) (*Container, error) {
	pcfg, rt, err := config.LoadPatreon()
	if err != nil {
		return nil, err
	}

	codec, err := patreon.NewStateCodec(pcfg.StateSecret)
	if err != nil {
		return nil, err
	}
	sealer, err := newSealer(rt.TokenKey, log)
	if err != nil {
		return nil, err
	}

	if err := config.InitPostgres(); err != nil {
		return nil, fmt.Errorf("postgres init: %w", err)
	}
	if err := config.MigratePostgres(); err != nil {
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Info("PostgreSQL connected")

	c := &Container{
		Log:     log,
		Patreon: pcfg,
		Runtime: rt,
		Codec:   codec,
		Policy:  membership.NewPolicy(pcfg.TesterTierIDs, pcfg.PrimaryAdminEmail),
	}

	switch err := config.InitRedis(); {
	case err == nil:
		rc := cache.NewRedisCache(config.RedisClient)
		c.Cache, c.Claims, c.Locks = rc, rc, rc
		log.Info("Redis connected")
	case errors.Is(err, config.ErrRedisNotConfigured):
		log.Warn("Redis not configured; role cache, single-use state and scheduler lock disabled")
	default:
		log.WithError(err).Warn("Redis unavailable; continuing without it")
	}

	var runs mongorepo.SyncRunRepository
	switch err := config.InitMongo(); {
	case err == nil:
		if err := config.EnsureMongoIndexes(); err != nil {
			log.WithError(err).Warn("mongo index setup failed")
		}
		db, err := config.MongoDatabase()
		if err != nil {
			return nil, err
		}
		runs = mongorepo.NewSyncRunRepo(db)
		log.Info("MongoDB connected")
	case errors.Is(err, config.ErrMongoNotConfigured):
		log.Warn("MongoDB not configured; sync-run history disabled")
	default:
		log.WithError(err).Warn("MongoDB unavailable; sync-run history disabled")
	}

	profiles := pgrepo.NewProfileRepo(config.PostgresDB, sealer)
	audit := pgrepo.NewRoleChangeRepo(config.PostgresDB)
	client := patreon.NewClient(pcfg, nil)

	c.Link = services.NewPatreonLinkService(services.LinkDeps{
		Config:   pcfg,
		Client:   client,
		Codec:    codec,
		Policy:   c.Policy,
		Profiles: profiles,
		Audit:    audit,
		Cache:    c.Cache,
		Claims:   c.Claims,
		Logger:   log,
	})
	c.Sync = services.NewPatreonSyncService(services.SyncDeps{
		Config:   pcfg,
		Client:   client,
		Policy:   c.Policy,
		Profiles: profiles,
		Audit:    audit,
		Cache:    c.Cache,
		Runs:     runs,
		Logger:   log,
	})
	c.Profiles = services.NewProfileService(profiles, audit, c.Cache, c.Policy, log)
	return c, nil
}

func newSealer(rawKey string, log *logrus.Logger) (security.Sealer, error) {
	if rawKey == "" {
		log.Warn("PATREON_TOKEN_KEY not set; refresh tokens stored unsealed")
		return security.Plaintext{}, nil
	}
	key, err := security.ParseKey(rawKey)
	if err != nil {
		return nil, fmt.Errorf("PATREON_TOKEN_KEY: %w", err)
	}
	sealer, err := security.NewXChaCha(key)
	if err != nil {
		return nil, err
	}
	return sealer, nil
}

// Close disconnects the optional stores.
func (c *Container) Close(ctx context.Context) {
	if config.RedisClient != nil {
		_ = config.RedisClient.Close()
	}
	if config.MongoClient != nil {
		_ = config.MongoClient.Disconnect(ctx)
	}
	if config.PostgresDB != nil {
		if sqlDB, err := config.PostgresDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
