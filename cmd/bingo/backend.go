package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/HammerMeetNail/bingohall/internal/config"
	"github.com/HammerMeetNail/bingohall/internal/database"
	"github.com/HammerMeetNail/bingohall/internal/logging"
	"github.com/HammerMeetNail/bingohall/internal/memstore"
	"github.com/HammerMeetNail/bingohall/internal/realtime"
	"github.com/HammerMeetNail/bingohall/internal/services"
	"github.com/HammerMeetNail/bingohall/internal/session"
)

// backend is the store, change feed and advisory bus a session runs on.
type backend struct {
	store   session.Store
	feed    realtime.ChangeFeed
	bus     realtime.Broadcaster
	closers []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

func newMemoryBackend(rankMaxAttempts int) *backend {
	feed := realtime.NewMemoryFeed()
	return &backend{
		store: memstore.New(feed, rankMaxAttempts),
		feed:  feed,
		bus:   realtime.NewMemoryBroadcaster(),
	}
}

// connectBackend opens the shared deployment: Postgres for state and the
// change feed, plus the broadcast driver from config.
func connectBackend(ctx context.Context, cfg *config.Config, logger *logging.Logger) (_ *backend, err error) {
	b := &backend{}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	db, err := database.NewPostgresDB(cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	b.closers = append(b.closers, db.Close)

	migrator, err := database.NewMigrator(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	err = migrator.Up()
	_ = migrator.Close()
	if err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	b.store = services.NewStore(services.NewPoolAdapter(db.Pool), cfg.Game.RankMaxAttempts, logger)

	feed := realtime.NewPostgresFeed(db.Pool, cfg.Game.FeedReconnectMax, logger)
	feedCtx, feedCancel := context.WithCancel(ctx)
	go func() {
		if err := feed.Run(feedCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Change feed stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
	b.closers = append(b.closers, feedCancel)
	b.feed = feed

	switch cfg.Broadcast.Driver {
	case config.BroadcastDriverNATS:
		nc, err := database.NewNATSConn(cfg.Broadcast.NATSURL, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to nats: %w", err)
		}
		b.closers = append(b.closers, nc.Close)
		b.bus = realtime.NewNATSBroadcaster(nc.Conn, logger)
	case config.BroadcastDriverMemory:
		b.bus = realtime.NewMemoryBroadcaster()
	default:
		redisDB, err := database.NewRedisDB(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		b.closers = append(b.closers, func() { _ = redisDB.Close() })
		b.bus = realtime.NewRedisBroadcaster(redisDB.Client, logger)
	}
	return b, nil
}
