package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/HammerMeetNail/bingohall/internal/logging"
)

const DefaultRankMaxAttempts = 10

// rankBackoff is the pause before retry attempt n (1-based).
var rankBackoff = func(attempt int) time.Duration {
	base := time.Duration(attempt) * 5 * time.Millisecond
	return base + time.Duration(rand.Int63n(int64(5*time.Millisecond)))
}

// RankService hands out finishing positions. Ranks in a game are exactly
// 1..k: each attempt proposes count+1 and the unique (game_id, bingo_rank)
// index rejects it if another finisher took that position first.
type RankService struct {
	db          DB
	maxAttempts int
	logger      *logging.Logger
}

func NewRankService(db DB, maxAttempts int, logger *logging.Logger) *RankService {
	if maxAttempts < 1 {
		maxAttempts = DefaultRankMaxAttempts
	}
	if logger == nil {
		logger = logging.Default
	}
	return &RankService{db: db, maxAttempts: maxAttempts, logger: logger}
}

// ClaimBingo assigns the participant's finishing rank, or returns the one it
// already holds.
func (s *RankService) ClaimBingo(ctx context.Context, participantID uuid.UUID) (int, error) {
	c, err := loadClaim(ctx, s.db, participantID)
	if err != nil {
		return 0, err
	}
	if c.rank != nil {
		return *c.rank, nil
	}
	if !c.eval.Bingo {
		return 0, ErrInvalidClaim
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		rank, done, err := s.tryRank(ctx, c.gameID, participantID)
		if err != nil {
			return 0, err
		}
		if done {
			return rank, nil
		}
		s.logger.Debug("Rank conflict, retrying", map[string]interface{}{
			"participant_id": participantID.String(),
			"attempt":        attempt,
		})
		if attempt == s.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(rankBackoff(attempt)):
		}
	}
	return 0, ErrRankConflict
}

// tryRank makes one attempt. done is false on a conflict worth retrying.
func (s *RankService) tryRank(ctx context.Context, gameID, participantID uuid.UUID) (rank int, done bool, err error) {
	var count int
	if err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM participants
		WHERE game_id = $1 AND bingo_rank IS NOT NULL
	`, gameID).Scan(&count); err != nil {
		return 0, false, fmt.Errorf("counting ranks: %w", err)
	}

	proposed := count + 1
	tag, err := s.db.Exec(ctx, `
		UPDATE participants SET bingo_rank = $2
		WHERE id = $1 AND bingo_rank IS NULL
	`, participantID, proposed)
	if isUniqueViolation(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("assigning rank: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return proposed, true, nil
	}

	// Zero rows: a concurrent claim for this participant won.
	var existing *int32
	err = s.db.QueryRow(ctx, `SELECT bingo_rank FROM participants WHERE id = $1`, participantID).Scan(&existing)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, ErrParticipantNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("reloading rank: %w", err)
	}
	if existing == nil {
		return 0, false, nil
	}
	return int(*existing), true, nil
}
