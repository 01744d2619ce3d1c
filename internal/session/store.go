// Package session implements the per-client side of a game: the organizer's
// draw protocol, the participant's card and claims, and the resync loop that
// keeps both in step with the store.
package session

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/bingohall/internal/models"
)

var (
	ErrDrawInProgress  = errors.New("a draw is already in progress")
	ErrDrawingDisabled = errors.New("drawing is disabled for this game")
	ErrCommitFailed    = errors.New("draw commit failed")
	ErrNotJoined       = errors.New("player has not joined a game")
)

// GameStore is the authoritative game state as seen by sessions.
type GameStore interface {
	CreateGame(ctx context.Context) (*models.Game, string, error)
	GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error)
	GetGameByCode(ctx context.Context, code string) (*models.Game, error)
	StartGame(ctx context.Context, id uuid.UUID, key string) (*models.Game, error)
	FinishGame(ctx context.Context, id uuid.UUID, key string) (*models.Game, error)
	AppendDrawnNumber(ctx context.Context, id uuid.UUID, key string, number int) (*models.Game, error)
}

type ParticipantStore interface {
	Join(ctx context.Context, gameID uuid.UUID, userName string) (*models.Participant, bool, error)
	GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error)
	AssignCard(ctx context.Context, id uuid.UUID, card models.BingoCard) (*models.Participant, error)
	ClaimReach(ctx context.Context, id uuid.UUID) (*models.Participant, error)
	ClaimBingo(ctx context.Context, id uuid.UUID) (int, error)
	ListParticipants(ctx context.Context, gameID uuid.UUID) ([]models.Participant, error)
}

// Store is satisfied by services.Store and memstore.Store.
type Store interface {
	GameStore
	ParticipantStore
}

var statusOrder = map[models.GameStatus]int{
	models.GameStatusPending:  0,
	models.GameStatusActive:   1,
	models.GameStatusFinished: 2,
}

// isStale reports whether next is older than cur. Both drawn numbers and
// status only move forward, so a read that went backwards lost a race with a
// newer one.
func isStale(cur, next *models.Game) bool {
	if cur == nil {
		return false
	}
	if len(next.DrawnNumbers) < len(cur.DrawnNumbers) {
		return true
	}
	return statusOrder[next.Status] < statusOrder[cur.Status]
}
