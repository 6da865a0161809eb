package main // seat reservation API server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/seat-reservation-core/internal/config"
	"github.com/iliyamo/seat-reservation-core/internal/database"
	"github.com/iliyamo/seat-reservation-core/internal/handler"
	"github.com/iliyamo/seat-reservation-core/internal/logger"
	"github.com/iliyamo/seat-reservation-core/internal/middleware"
	"github.com/iliyamo/seat-reservation-core/internal/payment"
	"github.com/iliyamo/seat-reservation-core/internal/queue"
	"github.com/iliyamo/seat-reservation-core/internal/repository"
	"github.com/iliyamo/seat-reservation-core/internal/router"
	"github.com/iliyamo/seat-reservation-core/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(database.Options{
		User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
	})
	if err != nil {
		log.Fatal("connect mysql", zap.Error(err))
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		log.Fatal("migrate schema", zap.Error(err))
	}

	rdb := config.NewRedisClient(log)
	if rdb != nil {
		defer rdb.Close()
	}
	cacheCfg, err := config.LoadCacheConfig()
	if err != nil {
		log.Fatal("load cache config", zap.Error(err))
	}
	rateCfg, err := config.LoadRateLimitConfig()
	if err != nil {
		log.Fatal("load rate limit config", zap.Error(err))
	}

	var notify queue.Notifier = queue.LogNotifier{Log: log.Named("events")}
	var publisher *queue.Publisher
	if cfg.RabbitURL != "" {
		publisher = queue.NewPublisher(cfg.RabbitURL, 0, log)
		notify = publisher
	}

	pay, webhook := newPayment(cfg.Payment, log)

	store := repository.NewStore(db)

	locks := service.NewLockManager(store, store.Seats, store.Shows, cfg.LockTTL, log.Named("locks"), notify,
		service.WithMaxBatch(cfg.LockMaxBatch),
		service.WithLockStoreTimeout(cfg.StoreTimeout),
	)
	coordOpts := []service.CoordinatorOption{
		service.WithCoordinatorBatch(cfg.LockMaxBatch),
		service.WithStoreTimeout(cfg.StoreTimeout),
	}
	if pay != nil {
		coordOpts = append(coordOpts, service.WithPayment(pay))
	}
	coord := service.NewCoordinator(store, store.Seats, store.Shows, store.Bookings, cfg.LockTTL, log.Named("coordinator"), notify, coordOpts...)
	charts := service.NewSeatService(store, store.Seats, store.Shows, cfg.StoreTimeout, log.Named("seats"))
	stats := service.NewStatsService(store.Bookings, store.Seats, cfg.StoreTimeout)

	reaperOpts := []service.ReaperOption{
		service.WithInterval(cfg.SweepInterval()),
		service.WithSweepTimeout(cfg.StoreTimeout),
	}
	if rdb != nil && cfg.ReaperDistributed {
		rs := redsync.New(goredis.NewPool(rdb))
		reaperOpts = append(reaperOpts, service.WithMutex(rs.NewMutex("seatlock:reaper",
			redsync.WithExpiry(cfg.SweepInterval()),
			redsync.WithTries(1),
		)))
	}
	reaper := service.NewReaper(store.Seats, cfg.LockTTL, log.Named("reaper"), notify, reaperOpts...)
	if err := reaper.Start(ctx); err != nil {
		log.Fatal("start reaper", zap.Error(err))
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewRequestValidator()
	e.Use(middleware.RequestLogger(log.Named("http")))

	deps := router.Deps{
		JWTSecret:    cfg.JWTSecret,
		Redis:        rdb,
		Cache:        cacheCfg,
		RateLimit:    rateCfg,
		Log:          log,
		Health:       &handler.HealthHandler{Reaper: reaper.Stats},
		Seats:        handler.NewSeatHandler(charts),
		Reservations: handler.NewReservationHandler(locks, coord),
		Stats:        handler.NewStatsHandler(stats),
	}
	if webhook != nil {
		deps.Webhook = &handler.WebhookHandler{
			Parser:   webhook,
			Bookings: coord,
			Log:      log.Named("webhook"),
			Header:   "Stripe-Signature",
		}
	}
	router.RegisterRoutes(e, deps)

	go func() {
		addr := ":" + cfg.Port
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env),
			zap.Duration("lock_ttl", cfg.LockTTL), zap.Bool("payments", coord.PaymentEnabled()))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	reaper.Stop()
	if publisher != nil {
		if err := publisher.Close(shutdownCtx); err != nil {
			log.Warn("event publisher close", zap.Error(err))
		}
	}
}

// newPayment builds the configured provider wrapped in a circuit breaker.
// The webhook parser is only returned for Stripe.
func newPayment(pc config.PaymentConfig, log *zap.Logger) (payment.Capability, payment.WebhookParser) {
	switch pc.Provider {
	case "stripe":
		gw, err := payment.NewStripeGateway(payment.StripeConfig{
			SecretKey:     pc.StripeKey,
			WebhookSecret: pc.WebhookSecret,
			Currency:      pc.Currency,
			Timeout:       pc.Timeout,
		})
		if err != nil {
			log.Fatal("stripe gateway", zap.Error(err))
		}
		var parser payment.WebhookParser
		if pc.WebhookSecret != "" {
			parser = gw
		}
		return payment.WithBreaker(gw, "stripe", pc.Timeout, log.Named("payment")), parser
	case "offline":
		log.Warn("offline payment gateway in use; charges are simulated")
		gw := payment.NewOfflineGateway(pc.Currency, pc.OfflineCeiling)
		return payment.WithBreaker(gw, "offline", pc.Timeout, log.Named("payment")), nil
	default:
		return nil, nil
	}
}
