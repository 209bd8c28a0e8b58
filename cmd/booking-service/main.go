package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/liwei-chiu/slotbook/internal/catalog"
	"github.com/liwei-chiu/slotbook/internal/consumer"
	"github.com/liwei-chiu/slotbook/internal/engine"
	"github.com/liwei-chiu/slotbook/internal/feedback"
	"github.com/liwei-chiu/slotbook/internal/handlers"
	"github.com/liwei-chiu/slotbook/internal/history"
	"github.com/liwei-chiu/slotbook/internal/inbox"
	"github.com/liwei-chiu/slotbook/internal/notify"
	"github.com/liwei-chiu/slotbook/internal/outbox"
	"github.com/liwei-chiu/slotbook/internal/slotstore"
	"github.com/liwei-chiu/slotbook/internal/storage"
	"github.com/liwei-chiu/slotbook/internal/sweeper"
	"github.com/liwei-chiu/slotbook/libs/auth"
	"github.com/liwei-chiu/slotbook/libs/config"
	"github.com/liwei-chiu/slotbook/libs/db"
	"github.com/liwei-chiu/slotbook/libs/httpx"
	"github.com/liwei-chiu/slotbook/libs/kafkax"
	otelx "github.com/liwei-chiu/slotbook/libs/otel"
	"github.com/liwei-chiu/slotbook/libs/runtime"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}
	var jwksClient *auth.JWKSClient
	if jwksURL := config.String("JWKS_URL", ""); jwksURL != "" {
		jwksClient = auth.NewJWKSClient(jwksURL, 5*time.Minute)
	}

	slots := slotstore.NewPostgres(pool)
	historyRepo := history.NewRepository(pool)
	appts := storage.NewAppointmentRepository(pool, historyRepo)
	outboxRepo := outbox.NewRepository(pool)
	emitter := notify.NewOutboxEmitter(pool, outboxRepo)
	feedbackRepo := feedback.NewRepository(pool)

	var cat engine.Catalog = catalog.NewPostgres(pool)
	if remote, err := catalog.NewRemote(config.String("CATALOG_GRPC_ADDR", "")); err != nil {
		logger.Error("remote catalog init failed; using local catalog", "err", err)
	} else if remote != nil {
		cat = remote
	}

	eng := engine.New(slots, appts, historyRepo, cat, emitter, logger)

	brokers := config.String("KAFKA_BROKERS", "")
	relay := outbox.NewRelay(pool, outboxRepo, logger, outbox.RelayConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go relay.Run(ctx)

	inboxRepo := inbox.NewRepository(pool)
	feedHandler := catalog.FeedHandler(logger, slots)
	for _, topic := range []string{catalog.TopicSchedulePublished, catalog.TopicScheduleRevoked} {
		feedConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "booking-service"),
			Topic:   topic,
		}, feedHandler)
		go feedConsumer.Run(ctx)
	}

	sweep := sweeper.NewWorker(eng, logger, sweeper.Config{
		Interval:  time.Minute,
		BatchSize: 50,
	})
	go sweep.Run(ctx)

	bookingHandler := handlers.NewBookingHandler(eng, logger)
	feedbackHandler := handlers.NewFeedbackHandler(feedbackRepo, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("/api/v1/public/slots", bookingHandler.Slots)
	mux.HandleFunc("/api/v1/public/slots/remaining", bookingHandler.Remaining)

	authed := func(h http.HandlerFunc) http.Handler {
		return handlers.RequireAuth(h, jwtSecret, jwksClient)
	}
	mux.Handle("/api/v1/appointments", authed(bookingHandler.List))
	mux.Handle("/api/v1/appointments/get", authed(bookingHandler.Get))
	mux.Handle("/api/v1/appointments/history", authed(bookingHandler.History))
	mux.Handle("/api/v1/appointments/book", rateLimited(logger, authed(bookingHandler.Book)))
	mux.Handle("/api/v1/appointments/cancel", authed(bookingHandler.Cancel))
	mux.Handle("/api/v1/appointments/confirm", handlers.RequireAuth(
		handlers.RequireRole(http.HandlerFunc(bookingHandler.Confirm), "staff", "admin"), jwtSecret, jwksClient))
	mux.Handle("/api/v1/appointments/missed", handlers.RequireAuth(
		handlers.RequireRole(http.HandlerFunc(bookingHandler.MarkMissed), "staff", "admin"), jwtSecret, jwksClient))
	mux.Handle("/api/v1/feedback", authed(feedbackHandler.Create))
	mux.Handle("/api/v1/feedback/get", handlers.RequireAuth(
		handlers.RequireRole(http.HandlerFunc(feedbackHandler.Get), "staff", "admin"), jwtSecret, jwksClient))

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: strings.Split(config.String("CORS_ALLOWED_ORIGINS", ""), ","),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", httpx.RequestIDHeader},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(15*time.Second),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// rateLimited guards the booking route. With REDIS_ADDR set the window is
// shared across instances; otherwise a per-process limiter is used.
func rateLimited(logger *slog.Logger, next http.Handler) http.Handler {
	limit := 30
	window := time.Minute

	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		return httpx.NewRedisRateLimiter(rdb, limit, window, "book").Middleware(logger, true)(next)
	}
	return httpx.NewRateLimiter(limit, window).Middleware()(next)
}
