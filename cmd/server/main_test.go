package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HammerMeetNail/bingohall/internal/config"
	"github.com/HammerMeetNail/bingohall/internal/handlers"
	"github.com/HammerMeetNail/bingohall/internal/logging"
	"github.com/HammerMeetNail/bingohall/internal/memstore"
	"github.com/HammerMeetNail/bingohall/internal/middleware"
	"github.com/HammerMeetNail/bingohall/internal/realtime"
)

func quietLogger() *logging.Logger {
	return logging.New().SetOutput(&bytes.Buffer{})
}

func testRouter(t *testing.T) (http.Handler, *memstore.Store) {
	t.Helper()
	logger := quietLogger()
	feed := realtime.NewMemoryFeed()
	store := memstore.New(feed, 0)
	bus := realtime.NewMemoryBroadcaster()
	return newRouter(routerDeps{
		games:        handlers.NewGameHandler(store, bus, nil, 3, logger),
		participants: handlers.NewParticipantHandler(store, logger),
		health:       handlers.NewHealthHandler(map[string]handlers.HealthCheck{}),
		relay:        handlers.NewRelay(feed, bus, nil, logger),
		joinLimiter:  middleware.NewRateLimiter(nil, 0, time.Minute, "ratelimit:join:", nil, false),
		origins:      []string{"https://bingo.example"},
		logger:       logger,
	}), store
}

func TestRouter_GameFlow(t *testing.T) {
	router, _ := testRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/games", nil))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", rr.Code)
	}
	var created handlers.CreateGameResponse
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/games/"+created.Game.ID.String()+"/start", nil)
	req.Header.Set(handlers.OrganizerKeyHeader, created.OrganizerKey)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost,
		"/api/games/"+created.Game.Code+"/participants", strings.NewReader(`{"user_name":"alice"}`)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("join: expected 201, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/games/"+created.Game.ID.String()+"/participants", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "alice") {
		t.Fatalf("leaderboard: unexpected response %d %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/live", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("live: expected 200, got %d", rr.Code)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	router, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/games", nil)
	req.Header.Set("Origin", "https://bingo.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", handlers.OrganizerKeyHeader)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://bingo.example" {
		t.Fatalf("expected allowed origin, got %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/games", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("foreign origin should not be allowed, got %q", got)
	}
}

type fakeFinisher struct {
	cutoff time.Time
	n      int64
	err    error
}

func (f *fakeFinisher) FinishStaleGames(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.n, f.err
}

func TestSweepStaleGames(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New().SetOutput(&buf)
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	f := &fakeFinisher{n: 2}

	sweepStaleGames(context.Background(), f, 12*time.Hour, func() time.Time { return now }, logger)
	if want := now.Add(-12 * time.Hour); !f.cutoff.Equal(want) {
		t.Fatalf("expected cutoff %v, got %v", want, f.cutoff)
	}
	if !strings.Contains(buf.String(), "Finished stale games") {
		t.Fatalf("expected sweep to be logged, got %q", buf.String())
	}

	buf.Reset()
	f.err = errors.New("db down")
	sweepStaleGames(context.Background(), f, time.Hour, func() time.Time { return now }, logger)
	if !strings.Contains(buf.String(), "Stale game sweep failed") {
		t.Fatalf("expected failure to be logged, got %q", buf.String())
	}
}

func TestNewSweeper_Schedule(t *testing.T) {
	if _, err := newSweeper("@every 10m", &fakeFinisher{}, time.Hour, time.Now, quietLogger()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := newSweeper("whenever", &fakeFinisher{}, time.Hour, time.Now, quietLogger()); err == nil {
		t.Fatal("expected invalid schedule to be rejected")
	}
}

func TestNewBroadcaster_Memory(t *testing.T) {
	cfg := &config.Config{Broadcast: config.BroadcastConfig{Driver: config.BroadcastDriverMemory}}
	checks := map[string]handlers.HealthCheck{}

	bus, closeBus, err := newBroadcaster(cfg, nil, checks, quietLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closeBus()
	if _, ok := bus.(*realtime.MemoryBroadcaster); !ok {
		t.Fatalf("expected memory broadcaster, got %T", bus)
	}
	if len(checks) != 0 {
		t.Fatal("memory driver registers no health check")
	}
}
