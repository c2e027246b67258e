package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/mediagen-relay/internal/catalog"
	"github.com/suPer8Hu/mediagen-relay/internal/config"
	"github.com/suPer8Hu/mediagen-relay/internal/db"
	"github.com/suPer8Hu/mediagen-relay/internal/httpapi"
	"github.com/suPer8Hu/mediagen-relay/internal/httpapi/handlers"
	"github.com/suPer8Hu/mediagen-relay/internal/logging"
	"github.com/suPer8Hu/mediagen-relay/internal/store/rabbitmq"
	"github.com/suPer8Hu/mediagen-relay/internal/store/sqlstore"
	"github.com/suPer8Hu/mediagen-relay/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.Server.AppEnv, cfg.Server.LogLevel)
	if cfg.Server.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	gdb, err := db.Open(cfg.Database.DSN, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	repo := sqlstore.NewRepo(gdb)

	if err := bootstrapAdmin(context.Background(), repo, cfg.Admin, log); err != nil {
		log.Fatal().Err(err).Msg("bootstrap admin")
	}

	cat, err := catalog.Load(cfg.Catalog.StylesFile)
	if err != nil {
		log.Fatal().Err(err).Msg("load catalog")
	}

	var notifier tasks.Notifier
	if cfg.Rabbit.URL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.Rabbit.URL, cfg.Rabbit.Queue)
		if err != nil {
			log.Fatal().Err(err).Msg("connect rabbit")
		}
		defer pub.Close()
		notifier = pub
	}

	svc := tasks.NewService(repo, notifier, logging.Component(log, "tasks"))
	h := handlers.NewHandler(repo, svc, cat, cfg.Storage.ImageDir, logging.Component(log, "http"))
	r := httpapi.NewRouter(h, logging.Component(log, "http"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", srv.Addr).Int("styles", len(cat.Styles())).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("serve")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	log.Info().Msg("api stopped")
}

// bootstrapAdmin creates the configured admin client once. An existing
// client with that name is left untouched.
func bootstrapAdmin(ctx context.Context, repo *sqlstore.Repo, admin config.AdminConfig, log zerolog.Logger) error {
	if admin.Username == "" || admin.Password == "" {
		return nil
	}
	_, err := repo.GetClientByUsername(ctx, admin.Username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sqlstore.ErrNotFound) {
		return err
	}
	c, err := handlers.NewClient(admin.Username, admin.Password, true)
	if err != nil {
		return err
	}
	if err := repo.CreateClient(ctx, c); err != nil {
		return err
	}
	log.Info().Str("username", c.Username).Msg("admin client created")
	return nil
}
