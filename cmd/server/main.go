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

	"github.com/robfig/cron/v3"
	"github.com/rs/cors"

	"github.com/HammerMeetNail/bingohall/internal/bingo"
	"github.com/HammerMeetNail/bingohall/internal/config"
	"github.com/HammerMeetNail/bingohall/internal/database"
	"github.com/HammerMeetNail/bingohall/internal/handlers"
	"github.com/HammerMeetNail/bingohall/internal/logging"
	"github.com/HammerMeetNail/bingohall/internal/middleware"
	"github.com/HammerMeetNail/bingohall/internal/realtime"
	"github.com/HammerMeetNail/bingohall/internal/services"
)

func main() {
	if err := run(); err != nil {
		logging.Error("Application error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

func run() error {
	logger := logging.New()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if cfg.Server.Debug {
		logger.SetLevel(logging.LevelDebug)
		logging.SetDefaultLevel(logging.LevelDebug)
		logger.Debug("Debug logging enabled", map[string]interface{}{"env": cfg.Server.Environment})
	}

	logger.Info("Starting bingo hall server...")

	logger.Info("Connecting to PostgreSQL", map[string]interface{}{
		"host": cfg.Database.Host,
		"port": cfg.Database.Port,
	})
	db, err := database.NewPostgresDB(cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	logger.Info("Running database migrations...")
	migrator, err := database.NewMigrator(cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		return fmt.Errorf("running migrations: %w", err)
	}
	_ = migrator.Close()
	logger.Info("Migrations completed")

	logger.Info("Connecting to Redis", map[string]interface{}{"addr": cfg.Redis.Addr()})
	redisDB, err := database.NewRedisDB(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() { _ = redisDB.Close() }()
	logger.Info("Connected to Redis")

	checks := map[string]handlers.HealthCheck{
		"postgres": db.Health,
		"redis":    redisDB.Health,
	}

	bus, closeBus, err := newBroadcaster(cfg, redisDB, checks, logger)
	if err != nil {
		return err
	}
	defer closeBus()

	store := services.NewStore(services.NewPoolAdapter(db.Pool), cfg.Game.RankMaxAttempts, logger)

	feedCtx, feedCancel := context.WithCancel(context.Background())
	defer feedCancel()
	feed := realtime.NewPostgresFeed(db.Pool, cfg.Game.FeedReconnectMax, logger)
	go func() {
		if err := feed.Run(feedCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Change feed stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	sweeper, err := newSweeper(cfg.Game.SweepSchedule, store, cfg.Game.StaleAfter, time.Now, logger)
	if err != nil {
		return err
	}
	sweeper.Start()

	joinLimiter := middleware.NewRateLimiter(redisDB.Client, cfg.Game.JoinRateLimit, cfg.Game.JoinRateWindow, "ratelimit:join:", nil, false).
		WithLogger(logger)
	relay := handlers.NewRelay(feed, bus, cfg.Server.AllowedOrigins, logger)

	handler := newRouter(routerDeps{
		games:        handlers.NewGameHandler(store, bus, bingo.NewGenerator(nil), cfg.Game.CardChoices, logger),
		participants: handlers.NewParticipantHandler(store, logger),
		health:       handlers.NewHealthHandler(checks),
		relay:        relay,
		joinLimiter:  joinLimiter,
		origins:      cfg.Server.AllowedOrigins,
		logger:       logger,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("Server is shutting down...")
		<-sweeper.Stop().Done()
		relay.CloseAll()
		feedCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		server.SetKeepAlivesEnabled(false)
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Could not gracefully shutdown the server", map[string]interface{}{
				"error": err.Error(),
			})
		}
		close(done)
	}()

	logger.Info("Server listening", map[string]interface{}{"addr": addr})
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	logger.Info("Server stopped")
	return nil
}

// newBroadcaster connects the advisory bus selected by BROADCAST_DRIVER and
// registers its health check.
func newBroadcaster(cfg *config.Config, redisDB *database.RedisDB, checks map[string]handlers.HealthCheck, logger *logging.Logger) (realtime.Broadcaster, func(), error) {
	switch cfg.Broadcast.Driver {
	case config.BroadcastDriverNATS:
		logger.Info("Connecting to NATS", map[string]interface{}{"url": cfg.Broadcast.NATSURL})
		nc, err := database.NewNATSConn(cfg.Broadcast.NATSURL, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to nats: %w", err)
		}
		checks["nats"] = func(context.Context) error { return nc.Health() }
		return realtime.NewNATSBroadcaster(nc.Conn, logger), nc.Close, nil
	case config.BroadcastDriverMemory:
		logger.Warn("Using in-process broadcaster; start_spin reaches only this instance")
		return realtime.NewMemoryBroadcaster(), func() {}, nil
	default:
		return realtime.NewRedisBroadcaster(redisDB.Client, logger), func() {}, nil
	}
}

type routerDeps struct {
	games        *handlers.GameHandler
	participants *handlers.ParticipantHandler
	health       *handlers.HealthHandler
	relay        *handlers.Relay
	joinLimiter  *middleware.RateLimiter
	origins      []string
	logger       *logging.Logger
}

func newRouter(d routerDeps) http.Handler {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("GET /health", d.health.Health)
	mux.HandleFunc("GET /ready", d.health.Ready)
	mux.HandleFunc("GET /live", d.health.Live)

	// Game endpoints
	mux.HandleFunc("POST /api/games", d.games.Create)
	mux.HandleFunc("GET /api/games/{code}", d.games.GetByCode)
	mux.HandleFunc("POST /api/games/{id}/start", d.games.Start)
	mux.HandleFunc("POST /api/games/{id}/finish", d.games.Finish)
	mux.HandleFunc("POST /api/games/{id}/reset", d.games.Reset)
	mux.HandleFunc("POST /api/games/{id}/spin", d.games.Spin)
	mux.HandleFunc("POST /api/games/{id}/draws", d.games.Draw)
	mux.HandleFunc("GET /api/games/{id}/remaining", d.games.Remaining)
	mux.HandleFunc("GET /api/games/{id}/cards", d.games.Cards)
	mux.HandleFunc("GET /api/games/{id}/participants", d.games.Participants)

	// Participant endpoints
	mux.Handle("POST /api/games/{code}/participants", d.joinLimiter.Middleware(http.HandlerFunc(d.participants.Join)))
	mux.HandleFunc("GET /api/participants/{id}", d.participants.Get)
	mux.HandleFunc("PUT /api/participants/{id}/card", d.participants.AssignCard)
	mux.HandleFunc("POST /api/participants/{id}/reach", d.participants.ClaimReach)
	mux.HandleFunc("POST /api/participants/{id}/bingo", d.participants.ClaimBingo)
	mux.HandleFunc("GET /api/participants/{id}/card.png", d.participants.CardImage)

	// Browser relay
	mux.HandleFunc("GET /ws/games/{id}", d.relay.Serve)

	c := cors.New(cors.Options{
		AllowedOrigins: d.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", handlers.OrganizerKeyHeader},
		MaxAge:         600,
	})

	// Build middleware chain (order matters: outermost first)
	var handler http.Handler = mux
	handler = c.Handler(handler)
	handler = middleware.NewRequestLogger(d.logger).Apply(handler)
	return handler
}

// staleGameFinisher is the slice of the store the sweeper needs.
type staleGameFinisher interface {
	FinishStaleGames(ctx context.Context, cutoff time.Time) (int64, error)
}

func newSweeper(schedule string, store staleGameFinisher, staleAfter time.Duration, now func() time.Time, logger *logging.Logger) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		sweepStaleGames(context.Background(), store, staleAfter, now, logger)
	})
	if err != nil {
		return nil, fmt.Errorf("scheduling stale game sweep %q: %w", schedule, err)
	}
	return c, nil
}

func sweepStaleGames(ctx context.Context, store staleGameFinisher, staleAfter time.Duration, now func() time.Time, logger *logging.Logger) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	n, err := store.FinishStaleGames(ctx, now().Add(-staleAfter))
	if err != nil {
		logger.Warn("Stale game sweep failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if n > 0 {
		logger.Info("Finished stale games", map[string]interface{}{"count": n})
	}
}
