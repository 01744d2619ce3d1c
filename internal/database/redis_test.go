package database

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/HammerMeetNail/bingohall/internal/config"
)

// stubRedis replaces the client constructor and ping for one test and
// records the options the client was built with.
func stubRedis(t *testing.T, pingErr error) *redis.Options {
	t.Helper()
	origNew, origPing := newRedisClient, redisPing
	t.Cleanup(func() {
		newRedisClient = origNew
		redisPing = origPing
	})

	got := &redis.Options{}
	newRedisClient = func(opts *redis.Options) *redis.Client {
		*got = *opts
		return redis.NewClient(&redis.Options{Addr: "localhost:0"})
	}
	redisPing = func(ctx context.Context, client *redis.Client) error {
		return pingErr
	}
	return got
}

func TestNewRedisDB_PingErrorNamesAddr(t *testing.T) {
	pingErr := errors.New("connection refused")
	stubRedis(t, pingErr)

	_, err := NewRedisDB(config.RedisConfig{Host: "cache", Port: 6380})
	if !errors.Is(err, pingErr) {
		t.Fatalf("expected wrapped ping error, got %v", err)
	}
	if !strings.Contains(err.Error(), "cache:6380") {
		t.Fatalf("expected address in error, got %q", err.Error())
	}
}

func TestRedisOptions(t *testing.T) {
	cases := []struct {
		name     string
		cfg      config.RedisConfig
		pool     int
		minIdle  int
		wantAddr string
	}{
		{"defaults pool size", config.RedisConfig{Host: "localhost", Port: 6379}, 10, 3, "localhost:6379"},
		{"explicit pool size", config.RedisConfig{Host: "r", Port: 1, PoolSize: 40, DB: 2, Password: "pw"}, 40, 3, "r:1"},
		{"tiny pool keeps idle within size", config.RedisConfig{Host: "r", Port: 1, PoolSize: 2}, 2, 2, "r:1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := stubRedis(t, nil)
			db, err := NewRedisDB(tc.cfg)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer db.Close()

			if got.Addr != tc.wantAddr || got.Password != tc.cfg.Password || got.DB != tc.cfg.DB {
				t.Fatalf("unexpected connection options: %+v", got)
			}
			if got.PoolSize != tc.pool || got.MinIdleConns != tc.minIdle {
				t.Fatalf("expected pool %d/%d, got %d/%d", tc.pool, tc.minIdle, got.PoolSize, got.MinIdleConns)
			}
			if got.ClientName != "bingohall" || !got.ContextTimeoutEnabled {
				t.Fatalf("expected named client with context timeouts, got %+v", got)
			}
			if got.DialTimeout != 5*time.Second || got.ReadTimeout != 3*time.Second {
				t.Fatalf("unexpected timeouts: dial %v read %v", got.DialTimeout, got.ReadTimeout)
			}
		})
	}
}

func TestRedisDB_Health(t *testing.T) {
	stubRedis(t, errors.New("down"))
	db := &RedisDB{Client: &redis.Client{}}
	if err := db.Health(context.Background()); err == nil {
		t.Fatal("expected health error")
	}

	stubRedis(t, nil)
	if err := db.Health(context.Background()); err != nil {
		t.Fatalf("unexpected health error: %v", err)
	}
}

func TestRedisDB_Close(t *testing.T) {
	if err := (&RedisDB{}).Close(); err != nil {
		t.Fatalf("nil client should close cleanly: %v", err)
	}
	db := &RedisDB{Client: redis.NewClient(&redis.Options{Addr: "localhost:0"})}
	if err := db.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
}
