package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/HammerMeetNail/bingohall/internal/bingo"
	"github.com/HammerMeetNail/bingohall/internal/logging"
	"github.com/HammerMeetNail/bingohall/internal/models"
	"github.com/HammerMeetNail/bingohall/internal/realtime"
	"github.com/HammerMeetNail/bingohall/internal/services"
)

const maxCardChoices = 10

type GameHandler struct {
	store       Store
	bus         realtime.Broadcaster
	generator   *bingo.Generator
	allocator   *bingo.Allocator
	cardChoices int
	logger      *logging.Logger
}

// NewGameHandler builds the organizer-facing endpoints. cardChoices is the
// default candidate count for GET /cards.
func NewGameHandler(store Store, bus realtime.Broadcaster, generator *bingo.Generator, cardChoices int, logger *logging.Logger) *GameHandler {
	if generator == nil {
		generator = bingo.NewGenerator(nil)
	}
	if logger == nil {
		logger = logging.Default
	}
	if cardChoices < 1 {
		cardChoices = 3
	}
	return &GameHandler{
		store:       store,
		bus:         bus,
		generator:   generator,
		allocator:   bingo.NewAllocator(nil),
		cardChoices: min(cardChoices, maxCardChoices),
		logger:      logger,
	}
}

// WithAllocator replaces the allocator Spin picks numbers from.
func (h *GameHandler) WithAllocator(a *bingo.Allocator) *GameHandler {
	h.allocator = a
	return h
}

type CreateGameResponse struct {
	Game         *models.Game `json:"game"`
	OrganizerKey string       `json:"organizer_key"`
}

type NumberRequest struct {
	Number int `json:"number"`
}

func organizerKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(OrganizerKeyHeader))
}

func (h *GameHandler) Create(w http.ResponseWriter, r *http.Request) {
	game, key, err := h.store.CreateGame(r.Context())
	if err != nil {
		writeStoreError(w, h.logger, "creating game", err)
		return
	}
	h.logger.Info("Game created", map[string]interface{}{"game_id": game.ID.String(), "code": game.Code})
	writeJSON(w, http.StatusCreated, CreateGameResponse{Game: game, OrganizerKey: key})
}

func (h *GameHandler) GetByCode(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(strings.TrimSpace(r.PathValue("code")))
	game, err := h.store.GetGameByCode(r.Context(), code)
	if err != nil {
		writeStoreError(w, h.logger, "loading game", err)
		return
	}
	writeJSON(w, http.StatusOK, game)
}

func (h *GameHandler) Start(w http.ResponseWriter, r *http.Request) {
	gameID, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid game ID")
		return
	}
	game, err := h.store.StartGame(r.Context(), gameID, organizerKey(r))
	if err != nil {
		writeStoreError(w, h.logger, "starting game", err)
		return
	}
	writeJSON(w, http.StatusOK, game)
}

func (h *GameHandler) Finish(w http.ResponseWriter, r *http.Request) {
	gameID, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid game ID")
		return
	}
	game, err := h.store.FinishGame(r.Context(), gameID, organizerKey(r))
	if err != nil {
		writeStoreError(w, h.logger, "finishing game", err)
		return
	}
	writeJSON(w, http.StatusOK, game)
}

// Reset finishes the game and opens a replacement with a new code and key.
func (h *GameHandler) Reset(w http.ResponseWriter, r *http.Request) {
	gameID, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid game ID")
		return
	}
	if _, err := h.store.FinishGame(r.Context(), gameID, organizerKey(r)); err != nil {
		writeStoreError(w, h.logger, "finishing game for reset", err)
		return
	}
	game, key, err := h.store.CreateGame(r.Context())
	if err != nil {
		writeStoreError(w, h.logger, "creating replacement game", err)
		return
	}
	h.logger.Info("Game reset", map[string]interface{}{
		"previous_game_id": gameID.String(),
		"game_id":          game.ID.String(),
	})
	writeJSON(w, http.StatusCreated, CreateGameResponse{Game: game, OrganizerKey: key})
}

func decodeNumber(w http.ResponseWriter, r *http.Request) (int, bool) {
	var req NumberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return 0, false
	}
	if !models.IsValidNumber(req.Number) {
		writeError(w, http.StatusBadRequest, "Number must be between 1 and 75")
		return 0, false
	}
	return req.Number, true
}

type SpinResponse struct {
	Number int `json:"number"`
}

// Spin picks an undrawn number and announces it on the advisory bus. Nothing
// is stored; the caller commits the returned number through Draw.
func (h *GameHandler) Spin(w http.ResponseWriter, r *http.Request) {
	gameID, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid game ID")
		return
	}
	if err := h.store.VerifyOrganizer(r.Context(), gameID, organizerKey(r)); err != nil {
		writeStoreError(w, h.logger, "verifying organizer", err)
		return
	}
	game, err := h.store.GetGame(r.Context(), gameID)
	if err != nil {
		writeStoreError(w, h.logger, "loading game", err)
		return
	}
	if game.Status != models.GameStatusActive {
		writeStoreError(w, h.logger, "spinning", services.ErrGameNotActive)
		return
	}
	number, err := h.allocator.Draw(game.DrawnNumbers)
	if err != nil {
		writeStoreError(w, h.logger, "picking number", err)
		return
	}
	if h.bus != nil {
		if err := h.bus.Publish(r.Context(), gameID, realtime.NewStartSpin(number)); err != nil {
			h.logger.Warn("start_spin broadcast failed", map[string]interface{}{
				"game_id": gameID.String(),
				"error":   err.Error(),
			})
		}
	}
	writeJSON(w, http.StatusAccepted, SpinResponse{Number: number})
}

// Draw commits a number the organizer has revealed.
func (h *GameHandler) Draw(w http.ResponseWriter, r *http.Request) {
	gameID, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid game ID")
		return
	}
	number, ok := decodeNumber(w, r)
	if !ok {
		return
	}
	game, err := h.store.AppendDrawnNumber(r.Context(), gameID, organizerKey(r), number)
	if err != nil {
		writeStoreError(w, h.logger, "committing draw", err)
		return
	}
	writeJSON(w, http.StatusOK, game)
}

// Remaining lists the numbers an organizer can still draw.
func (h *GameHandler) Remaining(w http.ResponseWriter, r *http.Request) {
	gameID, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid game ID")
		return
	}
	game, err := h.store.GetGame(r.Context(), gameID)
	if err != nil {
		writeStoreError(w, h.logger, "loading game", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"remaining": bingo.Remaining(game.DrawnNumbers)})
}

func (h *GameHandler) Cards(w http.ResponseWriter, r *http.Request) {
	gameID, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid game ID")
		return
	}
	count := h.cardChoices
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxCardChoices {
			writeError(w, http.StatusBadRequest, "count must be between 1 and 10")
			return
		}
		count = n
	}
	if _, err := h.store.GetGame(r.Context(), gameID); err != nil {
		writeStoreError(w, h.logger, "loading game", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cards": h.generator.UniqueCards(count)})
}

func (h *GameHandler) Participants(w http.ResponseWriter, r *http.Request) {
	gameID, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid game ID")
		return
	}
	list, err := h.store.ListParticipants(r.Context(), gameID)
	if err != nil {
		writeStoreError(w, h.logger, "listing participants", err)
		return
	}
	if list == nil {
		list = []models.Participant{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"participants": list})
}
