package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/HammerMeetNail/bingohall/internal/bingo"
	"github.com/HammerMeetNail/bingohall/internal/models"
)

type ParticipantService struct {
	db DB
}

func NewParticipantService(db DB) *ParticipantService {
	return &ParticipantService{db: db}
}

const participantColumns = `id, game_id, user_name, card, is_reach, bingo_rank, created_at`

func scanParticipant(row Row) (*models.Participant, error) {
	p := &models.Participant{}
	var card []byte
	var rank *int32
	if err := row.Scan(&p.ID, &p.GameID, &p.UserName, &card, &p.IsReach, &rank, &p.CreatedAt); err != nil {
		return nil, err
	}
	if len(card) > 0 {
		p.Card = &models.BingoCard{}
		if err := json.Unmarshal(card, p.Card); err != nil {
			return nil, fmt.Errorf("decoding card: %w", err)
		}
	}
	if rank != nil {
		r := int(*rank)
		p.BingoRank = &r
	}
	return p, nil
}

// Join adds userName to the game, or returns the participant already holding
// that name. created reports which of the two happened.
func (s *ParticipantService) Join(ctx context.Context, gameID uuid.UUID, userName string) (p *models.Participant, created bool, err error) {
	userName = models.NormalizeUserName(userName)
	if !models.IsValidUserName(userName) {
		return nil, false, ErrInvalidUserName
	}

	p, err = scanParticipant(s.db.QueryRow(ctx, `
		INSERT INTO participants (id, game_id, user_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (game_id, user_name) DO NOTHING
		RETURNING `+participantColumns, uuid.New(), gameID, userName))
	switch {
	case err == nil:
		return p, true, nil
	case isForeignKeyViolation(err):
		return nil, false, ErrGameNotFound
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, false, fmt.Errorf("joining game: %w", err)
	}

	p, err = scanParticipant(s.db.QueryRow(ctx, `
		SELECT `+participantColumns+`
		FROM participants
		WHERE game_id = $1 AND user_name = $2
	`, gameID, userName))
	if err != nil {
		return nil, false, fmt.Errorf("resuming participant: %w", err)
	}
	return p, false, nil
}

func (s *ParticipantService) GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	p, err := scanParticipant(s.db.QueryRow(ctx, `SELECT `+participantColumns+` FROM participants WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading participant: %w", err)
	}
	return p, nil
}

// AssignCard stores the participant's card. A card is assigned once; marks are
// not persisted since they derive from the game's drawn numbers.
func (s *ParticipantService) AssignCard(ctx context.Context, id uuid.UUID, card models.BingoCard) (*models.Participant, error) {
	if err := card.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCard, err)
	}
	data, err := json.Marshal(bingo.ApplyDrawn(card, nil))
	if err != nil {
		return nil, fmt.Errorf("encoding card: %w", err)
	}

	p, err := scanParticipant(s.db.QueryRow(ctx, `
		UPDATE participants SET card = $2
		WHERE id = $1 AND card IS NULL
		RETURNING `+participantColumns, id, data))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetParticipant(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrCardAlreadyAssigned
	}
	if err != nil {
		return nil, fmt.Errorf("assigning card: %w", err)
	}
	return p, nil
}

// ClaimReach sets the reach flag once the participant's card has a line one
// square short of completion (or complete) under the drawn numbers.
func (s *ParticipantService) ClaimReach(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	claim, err := loadClaim(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if !claim.eval.Reach && !claim.eval.Bingo {
		return nil, ErrInvalidClaim
	}

	p, err := scanParticipant(s.db.QueryRow(ctx, `
		UPDATE participants SET is_reach = TRUE
		WHERE id = $1
		RETURNING `+participantColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("claiming reach: %w", err)
	}
	return p, nil
}

// ListParticipants returns the game's participants in leaderboard order.
func (s *ParticipantService) ListParticipants(ctx context.Context, gameID uuid.UUID) ([]models.Participant, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+participantColumns+`
		FROM participants
		WHERE game_id = $1
		ORDER BY bingo_rank ASC NULLS LAST, is_reach DESC, created_at ASC
	`, gameID)
	if err != nil {
		return nil, fmt.Errorf("listing participants: %w", err)
	}
	defer rows.Close()

	participants := []models.Participant{}
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning participant: %w", err)
		}
		participants = append(participants, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing participants: %w", err)
	}
	return participants, nil
}

// claim is what the server needs to check a reach or bingo claim.
type claim struct {
	gameID uuid.UUID
	rank   *int
	eval   bingo.Evaluation
}

func loadClaim(ctx context.Context, q DBConn, id uuid.UUID) (*claim, error) {
	c := &claim{}
	var card []byte
	var rank *int32
	var drawn []int32
	err := q.QueryRow(ctx, `
		SELECT p.game_id, p.card, p.bingo_rank, g.drawn_numbers
		FROM participants p
		JOIN games g ON g.id = p.game_id
		WHERE p.id = $1
	`, id).Scan(&c.gameID, &card, &rank, &drawn)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading claim: %w", err)
	}
	if rank != nil {
		r := int(*rank)
		c.rank = &r
	}
	if len(card) == 0 {
		return nil, ErrNoCard
	}
	var bc models.BingoCard
	if err := json.Unmarshal(card, &bc); err != nil {
		return nil, fmt.Errorf("decoding card: %w", err)
	}
	c.eval = bingo.Evaluate(bc, fromInt32s(drawn))
	return c, nil
}
