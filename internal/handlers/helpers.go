package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/bingohall/internal/bingo"
	"github.com/HammerMeetNail/bingohall/internal/logging"
	"github.com/HammerMeetNail/bingohall/internal/models"
	"github.com/HammerMeetNail/bingohall/internal/services"
)

// OrganizerKeyHeader carries the secret returned by game creation.
const OrganizerKeyHeader = "X-Organizer-Key"

// Store is the authoritative game store behind the API. services.Store and
// memstore.Store both satisfy it.
type Store interface {
	CreateGame(ctx context.Context) (*models.Game, string, error)
	GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error)
	GetGameByCode(ctx context.Context, code string) (*models.Game, error)
	VerifyOrganizer(ctx context.Context, id uuid.UUID, key string) error
	StartGame(ctx context.Context, id uuid.UUID, key string) (*models.Game, error)
	FinishGame(ctx context.Context, id uuid.UUID, key string) (*models.Game, error)
	AppendDrawnNumber(ctx context.Context, id uuid.UUID, key string, number int) (*models.Game, error)

	Join(ctx context.Context, gameID uuid.UUID, userName string) (*models.Participant, bool, error)
	GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error)
	AssignCard(ctx context.Context, id uuid.UUID, card models.BingoCard) (*models.Participant, error)
	ClaimReach(ctx context.Context, id uuid.UUID) (*models.Participant, error)
	ClaimBingo(ctx context.Context, id uuid.UUID) (int, error)
	ListParticipants(ctx context.Context, gameID uuid.UUID) ([]models.Participant, error)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func parseIDParam(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue(name))
}

var errorStatuses = []struct {
	err     error
	status  int
	message string
}{
	{services.ErrGameNotFound, http.StatusNotFound, "Game not found"},
	{services.ErrParticipantNotFound, http.StatusNotFound, "Participant not found"},
	{services.ErrNotOrganizer, http.StatusForbidden, "Organizer key required"},
	{services.ErrGameNotActive, http.StatusConflict, "Game is not active"},
	{services.ErrInvalidTransition, http.StatusConflict, "Game cannot move to that status"},
	{services.ErrAlreadyDrawn, http.StatusConflict, "Number already drawn"},
	{services.ErrCardAlreadyAssigned, http.StatusConflict, "Card already assigned"},
	{services.ErrRankConflict, http.StatusConflict, "Rank contention, try again"},
	{bingo.ErrExhausted, http.StatusConflict, "All numbers have been drawn"},
	{services.ErrInvalidNumber, http.StatusBadRequest, "Number must be between 1 and 75"},
	{services.ErrInvalidCard, http.StatusBadRequest, "Invalid card"},
	{services.ErrNoCard, http.StatusBadRequest, "Participant has no card"},
	{services.ErrInvalidClaim, http.StatusBadRequest, "Claim does not match the drawn numbers"},
	{services.ErrInvalidUserName, http.StatusBadRequest, "Invalid user name"},
}

// writeStoreError maps store sentinels to responses and logs anything else as
// a server error.
func writeStoreError(w http.ResponseWriter, logger *logging.Logger, action string, err error) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			writeError(w, e.status, e.message)
			return
		}
	}
	logger.Error("Error "+action, map[string]interface{}{"error": err.Error()})
	writeError(w, http.StatusInternalServerError, "Internal server error")
}
