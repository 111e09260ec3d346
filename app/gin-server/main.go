package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mylifebyai/mlbai/config"
	"github.com/mylifebyai/mlbai/internal/api/handlers"
	"github.com/mylifebyai/mlbai/internal/api/middleware"
	"github.com/mylifebyai/mlbai/internal/api/routes"
	"github.com/mylifebyai/mlbai/internal/app"
	"github.com/mylifebyai/mlbai/internal/logger"
	"github.com/mylifebyai/mlbai/internal/workers"
)

func main() {
	log := logger.New()
	config.LoadEnv(log, ".env")

	c, err := app.Build(log)
	if err != nil {
		log.WithError(err).Fatal("bootstrap failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.Runtime.ResyncInterval > 0 {
		sched := &workers.ResyncScheduler{
			Sync:     c.Sync,
			Locks:    c.Locks,
			Interval: c.Runtime.ResyncInterval,
			Logger:   log,
		}
		if err := sched.Start(ctx); err != nil {
			log.WithError(err).Fatal("resync scheduler")
		}
	}

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))

	routes.RegisterRoutes(r, routes.Deps{
		Patreon:    handlers.NewPatreonHandler(c.Link, c.Sync, c.Runtime.AppBaseURL),
		Profile:    handlers.NewProfileHandler(c.Profiles),
		Admin:      handlers.NewAdminHandler(c.Profiles, c.Sync),
		WS:         handlers.NewWSHandler(c.Sync, c.Runtime.AppBaseURL, log),
		Roles:      c.Profiles,
		JWT:        middleware.JWTConfigFromEnv(),
		CronSecret: c.Runtime.SyncSecret,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
	c.Close(shutdownCtx)
}
