package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/HammerMeetNail/bingohall/internal/models"
)

// lockedGame is the state of a game row held FOR UPDATE for the rest of the
// transaction.
type lockedGame struct {
	status  models.GameStatus
	drawn   []int32
	keyHash string
}

func lockGameForUpdate(ctx context.Context, q DBConn, gameID uuid.UUID) (*lockedGame, error) {
	g := &lockedGame{}
	var status string
	err := q.QueryRow(ctx, `
		SELECT status, drawn_numbers, organizer_key_hash
		FROM games
		WHERE id = $1
		FOR UPDATE
	`, gameID).Scan(&status, &g.drawn, &g.keyHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock game: %w", err)
	}
	g.status = models.GameStatus(status)
	return g, nil
}

// lockOrganizedGame locks the game and checks the organizer key.
func lockOrganizedGame(ctx context.Context, q DBConn, gameID uuid.UUID, organizerKey string) (*lockedGame, error) {
	g, err := lockGameForUpdate(ctx, q, gameID)
	if err != nil {
		return nil, err
	}
	if !checkOrganizerKey(g.keyHash, organizerKey) {
		return nil, ErrNotOrganizer
	}
	return g, nil
}
