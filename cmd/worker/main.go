package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/mediagen-relay/internal/accounts"
	"github.com/suPer8Hu/mediagen-relay/internal/catalog"
	"github.com/suPer8Hu/mediagen-relay/internal/config"
	"github.com/suPer8Hu/mediagen-relay/internal/db"
	"github.com/suPer8Hu/mediagen-relay/internal/gateway"
	"github.com/suPer8Hu/mediagen-relay/internal/generation"
	"github.com/suPer8Hu/mediagen-relay/internal/logging"
	"github.com/suPer8Hu/mediagen-relay/internal/scheduler"
	"github.com/suPer8Hu/mediagen-relay/internal/session"
	"github.com/suPer8Hu/mediagen-relay/internal/store/rabbitmq"
	"github.com/suPer8Hu/mediagen-relay/internal/store/redisstore"
	"github.com/suPer8Hu/mediagen-relay/internal/store/sqlstore"
	"github.com/suPer8Hu/mediagen-relay/internal/webhook"
)

const dispatchJob = "dispatch"

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.Server.AppEnv, cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Open(cfg.Database.DSN, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	repo := sqlstore.NewRepo(gdb)

	var cache session.Cache
	if cfg.Redis.Addr != "" {
		rdb, err := redisstore.Open(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("connect redis")
		}
		defer rdb.Close()
		cache = redisstore.NewTokenCache(rdb, cfg.Redis.TokenTTL)
	}

	broker := session.NewBroker(session.Options{
		AuthBaseURL:  cfg.Vendor.AuthBaseURL,
		AppOrigin:    cfg.Vendor.AppOrigin,
		CookieDomain: cfg.Vendor.CookieDomain,
		APIVersion:   cfg.Vendor.ClerkAPIVersion,
		JSVersion:    cfg.Vendor.ClerkJSVersion,
		UserAgent:    cfg.Vendor.UserAgent,
		Timeout:      cfg.Vendor.AuthTimeout,
	}, logging.Component(log, "session"), cache)
	vendor := gateway.New(cfg.Vendor.APIBaseURL, cfg.Vendor.RequestTimeout, broker, logging.Component(log, "gateway"))

	cat, err := catalog.Load(cfg.Catalog.StylesFile)
	if err != nil {
		log.Fatal().Err(err).Msg("load catalog")
	}
	registry := generation.NewDefaultRegistry(vendor, cat, logging.Component(log, "generation"))

	rotator := accounts.NewRotator(repo, logging.Component(log, "accounts"))
	if err := rotator.EnsureAvailable(ctx); err != nil {
		log.Fatal().Err(err).Msg("no vendor accounts to work with")
	}
	refresher := accounts.NewRefresher(repo, vendor, logging.Component(log, "balance"))

	if err := scheduler.Recover(ctx, repo, log); err != nil {
		log.Fatal().Err(err).Msg("recover")
	}

	sched := cfg.Scheduler
	dispatchPool := scheduler.NewPool(sched.DispatchConcurrency, logging.Component(log, "dispatch"))
	deliveryPool := scheduler.NewPool(sched.DeliveryConcurrency, logging.Component(log, "delivery"))

	dispatcher := scheduler.NewDispatcher(repo, rotator, repo, registry, dispatchPool, logging.Component(log, "dispatch"))
	poller := scheduler.NewPoller(repo, repo, vendor, scheduler.PollerOptions{
		RequestDelay:     sched.PollRequestDelay,
		MaxProcessingAge: sched.MaxProcessingAge,
	}, logging.Component(log, "poller"))
	delivery := scheduler.NewDelivery(repo, repo, webhook.NewSender(cfg.Delivery.Timeout), deliveryPool, scheduler.DeliveryOptions{
		MaxRetries: cfg.Delivery.MaxRetries,
		BaseDelay:  cfg.Delivery.BaseDelay,
	}, logging.Component(log, "delivery"))

	runner := scheduler.NewRunner(logging.Component(log, "runner"))
	runner.Add(scheduler.Job{Name: dispatchJob, Interval: sched.DispatchInterval, Run: dispatcher.Tick})
	runner.Add(scheduler.Job{Name: "poll", Interval: sched.PollInterval, MaxInstances: sched.PollMaxInstances, Run: poller.Tick})
	runner.Add(scheduler.Job{Name: "delivery", Interval: sched.DeliveryInterval, Run: delivery.Tick})
	runner.Add(scheduler.Job{Name: "balance", Interval: sched.BalanceInterval, Run: func(ctx context.Context) error {
		_, err := refresher.Tick(ctx)
		return err
	}})
	runner.Start(ctx)

	if cfg.Rabbit.URL != "" {
		consumer := rabbitmq.NewConsumer(cfg.Rabbit.URL, cfg.Rabbit.Queue, 0, logging.Component(log, "rabbit"))
		go consumeWakeups(ctx, consumer.Run, func() { runner.Trigger(dispatchJob) }, log)
	}

	log.Info().
		Int("dispatch_concurrency", sched.DispatchConcurrency).
		Int("delivery_concurrency", sched.DeliveryConcurrency).
		Bool("redis", cache != nil).
		Bool("rabbit", cfg.Rabbit.URL != "").
		Msg("worker started")

	<-ctx.Done()
	log.Info().Msg("worker shutting down")
	runner.Wait()
	dispatchPool.Wait()
	deliveryPool.Wait()
	log.Info().Msg("worker stopped")
}

// consumeWakeups turns queue messages into dispatch nudges until ctx ends. A
// wake-up only shortens the wait for the next dispatch tick, so a consumer
// that stops is logged and the interval takes over.
func consumeWakeups(ctx context.Context, run func(context.Context, func(string)) error, nudge func(), log zerolog.Logger) {
	err := run(ctx, func(string) { nudge() })
	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("rabbit consumer stopped, relying on dispatch interval")
	}
}
