package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/HammerMeetNail/bingohall/internal/bingo"
	"github.com/HammerMeetNail/bingohall/internal/logging"
	"github.com/HammerMeetNail/bingohall/internal/models"
	"github.com/HammerMeetNail/bingohall/internal/services"
)

type ParticipantHandler struct {
	store  Store
	logger *logging.Logger
}

func NewParticipantHandler(store Store, logger *logging.Logger) *ParticipantHandler {
	if logger == nil {
		logger = logging.Default
	}
	return &ParticipantHandler{store: store, logger: logger}
}

type JoinRequest struct {
	UserName string `json:"user_name"`
}

type ParticipantResponse struct {
	Participant *models.Participant `json:"participant"`
	Evaluation  *bingo.Evaluation   `json:"evaluation,omitempty"`
}

type BingoResponse struct {
	Rank int `json:"rank"`
}

// Join adds a participant to the game with the given code. Joining again with
// the same name returns the existing participant with 200 instead of 201.
func (h *ParticipantHandler) Join(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(strings.TrimSpace(r.PathValue("code")))

	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !models.IsValidUserName(req.UserName) {
		writeStoreError(w, h.logger, "joining game", services.ErrInvalidUserName)
		return
	}

	game, err := h.store.GetGameByCode(r.Context(), code)
	if err != nil {
		writeStoreError(w, h.logger, "loading game", err)
		return
	}
	p, created, err := h.store.Join(r.Context(), game.ID, req.UserName)
	if err != nil {
		writeStoreError(w, h.logger, "joining game", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, ParticipantResponse{Participant: p})
}

// Get returns the participant with its card evaluated against the current
// drawn numbers.
func (h *ParticipantHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid participant ID")
		return
	}
	p, err := h.store.GetParticipant(r.Context(), id)
	if err != nil {
		writeStoreError(w, h.logger, "loading participant", err)
		return
	}
	resp := ParticipantResponse{Participant: p}
	if p.Card != nil {
		game, err := h.store.GetGame(r.Context(), p.GameID)
		if err != nil {
			writeStoreError(w, h.logger, "loading game", err)
			return
		}
		eval := bingo.Evaluate(*p.Card, game.DrawnNumbers)
		resp.Evaluation = &eval
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ParticipantHandler) AssignCard(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid participant ID")
		return
	}
	var card models.BingoCard
	if err := json.NewDecoder(r.Body).Decode(&card); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	p, err := h.store.AssignCard(r.Context(), id, card)
	if err != nil {
		writeStoreError(w, h.logger, "assigning card", err)
		return
	}
	writeJSON(w, http.StatusOK, ParticipantResponse{Participant: p})
}

func (h *ParticipantHandler) ClaimReach(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid participant ID")
		return
	}
	p, err := h.store.ClaimReach(r.Context(), id)
	if err != nil {
		writeStoreError(w, h.logger, "claiming reach", err)
		return
	}
	writeJSON(w, http.StatusOK, ParticipantResponse{Participant: p})
}

func (h *ParticipantHandler) ClaimBingo(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid participant ID")
		return
	}
	rank, err := h.store.ClaimBingo(r.Context(), id)
	if err != nil {
		writeStoreError(w, h.logger, "claiming bingo", err)
		return
	}
	writeJSON(w, http.StatusOK, BingoResponse{Rank: rank})
}

func (h *ParticipantHandler) CardImage(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid participant ID")
		return
	}
	p, err := h.store.GetParticipant(r.Context(), id)
	if err != nil {
		writeStoreError(w, h.logger, "loading participant", err)
		return
	}
	if p.Card == nil {
		writeStoreError(w, h.logger, "rendering card", services.ErrNoCard)
		return
	}
	game, err := h.store.GetGame(r.Context(), p.GameID)
	if err != nil {
		writeStoreError(w, h.logger, "loading game", err)
		return
	}

	highlight := r.URL.Query().Get("reach") != "0"
	png, err := services.RenderCardPNG(*p, game.DrawnNumbers, services.RenderOptions{HighlightReach: highlight})
	if err != nil {
		h.logger.Error("Error rendering card", map[string]interface{}{"error": err.Error()})
		http.Error(w, "Failed to render image", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
