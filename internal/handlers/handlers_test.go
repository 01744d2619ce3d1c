package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/bingohall/internal/bingo"
	"github.com/HammerMeetNail/bingohall/internal/logging"
	"github.com/HammerMeetNail/bingohall/internal/memstore"
	"github.com/HammerMeetNail/bingohall/internal/models"
	"github.com/HammerMeetNail/bingohall/internal/realtime"
	"github.com/HammerMeetNail/bingohall/internal/testutil"
)

func quietLogger() *logging.Logger {
	return logging.New().SetOutput(&bytes.Buffer{})
}

type fixture struct {
	store   *memstore.Store
	bus     *realtime.MemoryBroadcaster
	feed    *realtime.MemoryFeed
	games   *GameHandler
	players *ParticipantHandler
}

func newFixture() *fixture {
	feed := realtime.NewMemoryFeed()
	store := memstore.New(feed, 0)
	bus := realtime.NewMemoryBroadcaster()
	return &fixture{
		store:   store,
		bus:     bus,
		feed:    feed,
		games:   NewGameHandler(store, bus, bingo.NewGenerator(rand.NewSource(3)), 3, quietLogger()),
		players: NewParticipantHandler(store, quietLogger()),
	}
}

func (f *fixture) activeGame(t *testing.T) (*models.Game, string) {
	t.Helper()
	ctx := context.Background()
	game, key, err := f.store.CreateGame(ctx)
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	if game, err = f.store.StartGame(ctx, game.ID, key); err != nil {
		t.Fatalf("start game: %v", err)
	}
	return game, key
}

func request(method, target string, body string, params map[string]string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	for k, v := range params {
		req.SetPathValue(k, v)
	}
	return req
}

func assertErrorResponse(t *testing.T, rr *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	testutil.AssertErrorResponse(t, rr, status, message)
}

func TestGameHandler_CreateAndGetByCode(t *testing.T) {
	f := newFixture()

	rr := httptest.NewRecorder()
	f.games.Create(rr, request(http.MethodPost, "/api/games", "", nil))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	var created CreateGameResponse
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.OrganizerKey == "" || created.Game.Status != models.GameStatusPending {
		t.Fatalf("unexpected create response: %+v", created)
	}

	rr = httptest.NewRecorder()
	code := strings.ToLower(created.Game.Code)
	f.games.GetByCode(rr, request(http.MethodGet, "/api/games/"+code, "", map[string]string{"code": code}))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var game models.Game
	if err := json.NewDecoder(rr.Body).Decode(&game); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if game.ID != created.Game.ID {
		t.Fatal("lookup by lowercased code should find the game")
	}

	rr = httptest.NewRecorder()
	f.games.GetByCode(rr, request(http.MethodGet, "/api/games/ZZZZZZ", "", map[string]string{"code": "ZZZZZZ"}))
	assertErrorResponse(t, rr, http.StatusNotFound, "Game not found")
}

func TestGameHandler_LifecycleRequiresOrganizerKey(t *testing.T) {
	f := newFixture()
	game, key, err := f.store.CreateGame(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	params := map[string]string{"id": game.ID.String()}

	rr := httptest.NewRecorder()
	f.games.Start(rr, request(http.MethodPost, "/start", "", params))
	assertErrorResponse(t, rr, http.StatusForbidden, "Organizer key required")

	req := request(http.MethodPost, "/start", "", params)
	req.Header.Set(OrganizerKeyHeader, key)
	rr = httptest.NewRecorder()
	f.games.Start(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	req = request(http.MethodPost, "/start", "", params)
	req.Header.Set(OrganizerKeyHeader, key)
	rr = httptest.NewRecorder()
	f.games.Start(rr, req)
	assertErrorResponse(t, rr, http.StatusConflict, "Game cannot move to that status")

	req = request(http.MethodPost, "/finish", "", params)
	req.Header.Set(OrganizerKeyHeader, key)
	rr = httptest.NewRecorder()
	f.games.Finish(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	f.games.Start(rr, request(http.MethodPost, "/start", "", map[string]string{"id": "nope"}))
	assertErrorResponse(t, rr, http.StatusBadRequest, "Invalid game ID")
}

func TestGameHandler_DrawCommits(t *testing.T) {
	f := newFixture()
	game, key := f.activeGame(t)
	params := map[string]string{"id": game.ID.String()}

	draw := func(body string) *httptest.ResponseRecorder {
		req := request(http.MethodPost, "/draws", body, params)
		req.Header.Set(OrganizerKeyHeader, key)
		rr := httptest.NewRecorder()
		f.games.Draw(rr, req)
		return rr
	}

	rr := draw(`{"number":41}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got models.Game
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.DrawnNumbers) != 1 || got.DrawnNumbers[0] != 41 {
		t.Fatalf("unexpected drawn numbers %v", got.DrawnNumbers)
	}

	assertErrorResponse(t, draw(`{"number":41}`), http.StatusConflict, "Number already drawn")
	assertErrorResponse(t, draw(`{"number":76}`), http.StatusBadRequest, "Number must be between 1 and 75")
	assertErrorResponse(t, draw(`{`), http.StatusBadRequest, "Invalid request body")
}

func spin(f *fixture, gameID uuid.UUID, key string) *httptest.ResponseRecorder {
	req := request(http.MethodPost, "/spin", "", map[string]string{"id": gameID.String()})
	if key != "" {
		req.Header.Set(OrganizerKeyHeader, key)
	}
	rr := httptest.NewRecorder()
	f.games.Spin(rr, req)
	return rr
}

func decodeSpin(t *testing.T, rr *httptest.ResponseRecorder) int {
	t.Helper()
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp SpinResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.Number
}

// drawAllBut commits every number except keep.
func drawAllBut(t *testing.T, f *fixture, game *models.Game, key string, keep int) {
	t.Helper()
	for n := models.MinNumber; n <= models.MaxNumber; n++ {
		if n == keep {
			continue
		}
		if _, err := f.store.AppendDrawnNumber(context.Background(), game.ID, key, n); err != nil {
			t.Fatalf("append %d: %v", n, err)
		}
	}
}

func TestGameHandler_SpinPublishesWithoutCommitting(t *testing.T) {
	f := newFixture()
	game, key := f.activeGame(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	spins, err := f.bus.Subscribe(ctx, game.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	number := decodeSpin(t, spin(f, game.ID, key))
	if !models.IsValidNumber(number) {
		t.Fatalf("spin returned %d", number)
	}
	msg := <-spins
	payload, err := msg.StartSpin()
	if err != nil || payload.Number != number {
		t.Fatalf("unexpected message %+v (%v), want number %d", msg, err, number)
	}
	stored, _ := f.store.GetGame(context.Background(), game.ID)
	if len(stored.DrawnNumbers) != 0 {
		t.Fatal("spin must not commit a number")
	}

	assertErrorResponse(t, spin(f, game.ID, ""), http.StatusForbidden, "Organizer key required")
}

func TestGameHandler_SpinPicksOnlyUndrawnNumbers(t *testing.T) {
	f := newFixture()
	game, key := f.activeGame(t)
	drawAllBut(t, f, game, key, 7)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	spins, err := f.bus.Subscribe(ctx, game.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for i := 0; i < 5; i++ {
		if got := decodeSpin(t, spin(f, game.ID, key)); got != 7 {
			t.Fatalf("spin %d returned %d, only 7 is undrawn", i, got)
		}
		payload, err := (<-spins).StartSpin()
		if err != nil || payload.Number != 7 {
			t.Fatalf("broadcast %+v (%v), want 7", payload, err)
		}
	}
}

func TestGameHandler_SpinNeverRepeatsCommittedNumbers(t *testing.T) {
	f := newFixture()
	f.games.WithAllocator(bingo.NewAllocator(rand.NewSource(11)))
	game, key := f.activeGame(t)
	ctx := context.Background()

	seen := map[int]bool{}
	for i := 0; i < models.MaxNumber; i++ {
		n := decodeSpin(t, spin(f, game.ID, key))
		if seen[n] {
			t.Fatalf("spin %d offered %d again", i, n)
		}
		seen[n] = true
		if _, err := f.store.AppendDrawnNumber(ctx, game.ID, key, n); err != nil {
			t.Fatalf("commit %d: %v", n, err)
		}
	}
	assertErrorResponse(t, spin(f, game.ID, key), http.StatusConflict, "All numbers have been drawn")
}

func TestGameHandler_SpinRequiresActiveGame(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	pending, pendingKey, err := f.store.CreateGame(ctx)
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	assertErrorResponse(t, spin(f, pending.ID, pendingKey), http.StatusConflict, "Game is not active")

	game, key := f.activeGame(t)
	if _, err := f.store.FinishGame(ctx, game.ID, key); err != nil {
		t.Fatalf("finish: %v", err)
	}
	assertErrorResponse(t, spin(f, game.ID, key), http.StatusConflict, "Game is not active")
	if f.bus.Published() != 0 {
		t.Fatalf("rejected spins must not broadcast, got %d", f.bus.Published())
	}
}

func TestGameHandler_SpinBusFailureIsNotFatal(t *testing.T) {
	f := newFixture()
	f.bus.FailWith(errors.New("bus down"))
	game, key := f.activeGame(t)

	if n := decodeSpin(t, spin(f, game.ID, key)); !models.IsValidNumber(n) {
		t.Fatalf("spin returned %d", n)
	}
}

func TestGameHandler_Reset(t *testing.T) {
	f := newFixture()
	game, key := f.activeGame(t)

	req := request(http.MethodPost, "/reset", "", map[string]string{"id": game.ID.String()})
	req.Header.Set(OrganizerKeyHeader, key)
	rr := httptest.NewRecorder()
	f.games.Reset(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	var resp CreateGameResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Game.ID == game.ID || resp.OrganizerKey == key {
		t.Fatal("reset should return a new game and key")
	}
	old, _ := f.store.GetGame(context.Background(), game.ID)
	if old.Status != models.GameStatusFinished {
		t.Fatalf("previous game should be finished, got %s", old.Status)
	}
}

func TestGameHandler_Cards(t *testing.T) {
	f := newFixture()
	game, _ := f.activeGame(t)
	params := map[string]string{"id": game.ID.String()}

	rr := httptest.NewRecorder()
	f.games.Cards(rr, request(http.MethodGet, "/cards?count=4", "", params))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		Cards []models.BingoCard `json:"cards"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Cards) != 4 {
		t.Fatalf("expected 4 cards, got %d", len(resp.Cards))
	}
	seen := map[string]bool{}
	for _, c := range resp.Cards {
		if err := c.Validate(); err != nil {
			t.Fatalf("invalid card: %v", err)
		}
		if seen[c.Key()] {
			t.Fatal("duplicate card layout")
		}
		seen[c.Key()] = true
	}

	rr = httptest.NewRecorder()
	f.games.Cards(rr, request(http.MethodGet, "/cards?count=11", "", params))
	assertErrorResponse(t, rr, http.StatusBadRequest, "count must be between 1 and 10")

	rr = httptest.NewRecorder()
	f.games.Cards(rr, request(http.MethodGet, "/cards", "", map[string]string{"id": uuid.NewString()}))
	assertErrorResponse(t, rr, http.StatusNotFound, "Game not found")
}

func TestGameHandler_Remaining(t *testing.T) {
	f := newFixture()
	game, key := f.activeGame(t)
	if _, err := f.store.AppendDrawnNumber(context.Background(), game.ID, key, 1); err != nil {
		t.Fatalf("append: %v", err)
	}

	rr := httptest.NewRecorder()
	f.games.Remaining(rr, request(http.MethodGet, "/remaining", "", map[string]string{"id": game.ID.String()}))
	var resp struct {
		Remaining []int `json:"remaining"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Remaining) != models.MaxNumber-1 || resp.Remaining[0] != 2 {
		t.Fatalf("unexpected remaining: %v", resp.Remaining)
	}
}

func TestGameHandler_RemainingWhenExhausted(t *testing.T) {
	f := newFixture()
	game, key := f.activeGame(t)
	drawAllBut(t, f, game, key, 0)

	rr := httptest.NewRecorder()
	f.games.Remaining(rr, request(http.MethodGet, "/remaining", "", map[string]string{"id": game.ID.String()}))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := strings.TrimSpace(rr.Body.String()); got != `{"remaining":[]}` {
		t.Fatalf("unexpected body %s", got)
	}
}

func join(t *testing.T, f *fixture, code, name string) (*httptest.ResponseRecorder, ParticipantResponse) {
	t.Helper()
	rr := httptest.NewRecorder()
	f.players.Join(rr, request(http.MethodPost, "/participants", `{"user_name":"`+name+`"}`, map[string]string{"code": code}))
	var resp ParticipantResponse
	if rr.Code < 300 {
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return rr, resp
}

func TestParticipantHandler_JoinNewAndResume(t *testing.T) {
	f := newFixture()
	game, _ := f.activeGame(t)

	rr, first := join(t, f, game.Code, "alice")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	rr, again := join(t, f, game.Code, "alice")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on resume, got %d", rr.Code)
	}
	if again.Participant.ID != first.Participant.ID {
		t.Fatal("resume should return the same participant")
	}

	rr, _ = join(t, f, game.Code, "   ")
	assertErrorResponse(t, rr, http.StatusBadRequest, "Invalid user name")

	rr, _ = join(t, f, "ZZZZZZ", "bob")
	assertErrorResponse(t, rr, http.StatusNotFound, "Game not found")
}

func cardBody(t *testing.T, card models.BingoCard) string {
	t.Helper()
	data, err := json.Marshal(card)
	if err != nil {
		t.Fatalf("marshal card: %v", err)
	}
	return string(data)
}

func TestParticipantHandler_CardAndClaims(t *testing.T) {
	f := newFixture()
	game, key := f.activeGame(t)
	_, joined := join(t, f, game.Code, "carol")
	params := map[string]string{"id": joined.Participant.ID.String()}
	card := bingo.NewGenerator(rand.NewSource(9)).Card()

	rr := httptest.NewRecorder()
	f.players.AssignCard(rr, request(http.MethodPut, "/card", cardBody(t, card), params))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	f.players.AssignCard(rr, request(http.MethodPut, "/card", cardBody(t, card), params))
	assertErrorResponse(t, rr, http.StatusConflict, "Card already assigned")

	rr = httptest.NewRecorder()
	f.players.ClaimBingo(rr, request(http.MethodPost, "/bingo", "", params))
	assertErrorResponse(t, rr, http.StatusBadRequest, "Claim does not match the drawn numbers")

	for col := 0; col < models.GridSize; col++ {
		if _, err := f.store.AppendDrawnNumber(context.Background(), game.ID, key, card.Squares[0][col].Value); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	rr = httptest.NewRecorder()
	f.players.ClaimBingo(rr, request(http.MethodPost, "/bingo", "", params))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var rank BingoResponse
	if err := json.NewDecoder(rr.Body).Decode(&rank); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rank.Rank != 1 {
		t.Fatalf("expected rank 1, got %d", rank.Rank)
	}

	rr = httptest.NewRecorder()
	f.players.Get(rr, request(http.MethodGet, "/participants/x", "", params))
	var got ParticipantResponse
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Evaluation == nil || !got.Evaluation.Bingo {
		t.Fatalf("expected evaluated bingo, got %+v", got.Evaluation)
	}

	rr = httptest.NewRecorder()
	f.games.Participants(rr, request(http.MethodGet, "/participants", "", map[string]string{"id": game.ID.String()}))
	var board struct {
		Participants []models.Participant `json:"participants"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&board); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(board.Participants) != 1 || board.Participants[0].BingoRank == nil {
		t.Fatalf("unexpected leaderboard: %+v", board.Participants)
	}
}

func TestParticipantHandler_ClaimReachWithoutCard(t *testing.T) {
	f := newFixture()
	game, _ := f.activeGame(t)
	_, joined := join(t, f, game.Code, "dan")

	rr := httptest.NewRecorder()
	f.players.ClaimReach(rr, request(http.MethodPost, "/reach", "", map[string]string{"id": joined.Participant.ID.String()}))
	assertErrorResponse(t, rr, http.StatusBadRequest, "Participant has no card")

	rr = httptest.NewRecorder()
	f.players.ClaimReach(rr, request(http.MethodPost, "/reach", "", map[string]string{"id": uuid.NewString()}))
	assertErrorResponse(t, rr, http.StatusNotFound, "Participant not found")
}

func TestParticipantHandler_CardImage(t *testing.T) {
	f := newFixture()
	game, key := f.activeGame(t)
	_, joined := join(t, f, game.Code, "erin")
	params := map[string]string{"id": joined.Participant.ID.String()}

	rr := httptest.NewRecorder()
	f.players.CardImage(rr, request(http.MethodGet, "/card.png", "", params))
	assertErrorResponse(t, rr, http.StatusBadRequest, "Participant has no card")

	card := bingo.NewGenerator(rand.NewSource(5)).Card()
	if _, err := f.store.AssignCard(context.Background(), joined.Participant.ID, card); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := f.store.AppendDrawnNumber(context.Background(), game.ID, key, card.Squares[0][0].Value); err != nil {
		t.Fatalf("append: %v", err)
	}

	rr = httptest.NewRecorder()
	f.players.CardImage(rr, request(http.MethodGet, "/card.png", "", params))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("expected image/png, got %q", ct)
	}
	if _, err := png.Decode(bytes.NewReader(rr.Body.Bytes())); err != nil {
		t.Fatalf("expected a valid PNG: %v", err)
	}
}

type failingStore struct {
	Store
}

func (failingStore) CreateGame(ctx context.Context) (*models.Game, string, error) {
	return nil, "", errors.New("db down")
}

func TestWriteStoreError_UnknownIsInternal(t *testing.T) {
	var buf bytes.Buffer
	h := NewGameHandler(failingStore{}, nil, nil, 3, logging.New().SetOutput(&buf))

	rr := httptest.NewRecorder()
	h.Create(rr, request(http.MethodPost, "/api/games", "", nil))
	assertErrorResponse(t, rr, http.StatusInternalServerError, "Internal server error")
	if !strings.Contains(buf.String(), "db down") {
		t.Fatalf("expected the cause to be logged, got %q", buf.String())
	}
}

func TestHealthHandler(t *testing.T) {
	ok := func(ctx context.Context) error { return nil }
	bad := func(ctx context.Context) error { return errors.New("unreachable") }

	h := NewHealthHandler(map[string]HealthCheck{"postgres": ok, "redis": ok})
	rr := httptest.NewRecorder()
	h.Health(rr, request(http.MethodGet, "/health", "", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	h = NewHealthHandler(map[string]HealthCheck{"postgres": ok, "redis": bad})
	rr = httptest.NewRecorder()
	h.Health(rr, request(http.MethodGet, "/health", "", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(resp.Checks["redis"], "unreachable") || resp.Checks["postgres"] != "healthy" {
		t.Fatalf("unexpected checks: %+v", resp.Checks)
	}

	rr = httptest.NewRecorder()
	h.Ready(rr, request(http.MethodGet, "/ready", "", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from ready, got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	h.Live(rr, request(http.MethodGet, "/live", "", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("live should always be 200, got %d", rr.Code)
	}
}
