package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/HammerMeetNail/bingohall/internal/models"
)

const (
	organizerKeyBytes = 24
	codeAttempts      = 5
)

var (
	organizerKeyCost = bcrypt.DefaultCost
	newGameCode      = models.NewGameCode
)

type GameService struct {
	db DB
}

func NewGameService(db DB) *GameService {
	return &GameService{db: db}
}

const gameColumns = `id, code, status, drawn_numbers, created_at, updated_at`

func scanGame(row Row) (*models.Game, error) {
	g := &models.Game{}
	var status string
	var drawn []int32
	if err := row.Scan(&g.ID, &g.Code, &status, &drawn, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	g.Status = models.GameStatus(status)
	g.DrawnNumbers = fromInt32s(drawn)
	return g, nil
}

// CreateGame inserts a pending game and returns it with the organizer key. The
// key is shown once; only its bcrypt hash is stored.
func (s *GameService) CreateGame(ctx context.Context) (*models.Game, string, error) {
	key, err := generateOrganizerKey()
	if err != nil {
		return nil, "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), organizerKeyCost)
	if err != nil {
		return nil, "", fmt.Errorf("hashing organizer key: %w", err)
	}

	for attempt := 0; attempt < codeAttempts; attempt++ {
		code, err := newGameCode()
		if err != nil {
			return nil, "", err
		}
		game, err := scanGame(s.db.QueryRow(ctx, `
			INSERT INTO games (id, code, status, organizer_key_hash)
			VALUES ($1, $2, $3, $4)
			RETURNING `+gameColumns,
			uuid.New(), code, string(models.GameStatusPending), string(hash),
		))
		if isUniqueViolation(err) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("creating game: %w", err)
		}
		return game, key, nil
	}
	return nil, "", fmt.Errorf("creating game: no free code after %d attempts", codeAttempts)
}

func (s *GameService) GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	game, err := scanGame(s.db.QueryRow(ctx, `SELECT `+gameColumns+` FROM games WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading game: %w", err)
	}
	return game, nil
}

func (s *GameService) GetGameByCode(ctx context.Context, code string) (*models.Game, error) {
	if !models.IsValidGameCode(code) {
		return nil, ErrGameNotFound
	}
	game, err := scanGame(s.db.QueryRow(ctx, `SELECT `+gameColumns+` FROM games WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading game: %w", err)
	}
	return game, nil
}

// VerifyOrganizer reports ErrNotOrganizer unless key belongs to the game.
func (s *GameService) VerifyOrganizer(ctx context.Context, id uuid.UUID, key string) error {
	var hash string
	err := s.db.QueryRow(ctx, `SELECT organizer_key_hash FROM games WHERE id = $1`, id).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrGameNotFound
	}
	if err != nil {
		return fmt.Errorf("loading game: %w", err)
	}
	if !checkOrganizerKey(hash, key) {
		return ErrNotOrganizer
	}
	return nil
}

func (s *GameService) StartGame(ctx context.Context, id uuid.UUID, key string) (*models.Game, error) {
	return s.transition(ctx, id, key, models.GameStatusActive, models.GameStatusPending)
}

// FinishGame ends a pending or active game. Finishing twice is not an error.
func (s *GameService) FinishGame(ctx context.Context, id uuid.UUID, key string) (*models.Game, error) {
	return s.transition(ctx, id, key, models.GameStatusFinished,
		models.GameStatusPending, models.GameStatusActive, models.GameStatusFinished)
}

func (s *GameService) transition(ctx context.Context, id uuid.UUID, key string, to models.GameStatus, from ...models.GameStatus) (*models.Game, error) {
	var game *models.Game
	err := withTx(ctx, s.db, func(tx Tx) error {
		locked, err := lockOrganizedGame(ctx, tx, id, key)
		if err != nil {
			return err
		}
		if !slices.Contains(from, locked.status) {
			return ErrInvalidTransition
		}
		game, err = scanGame(tx.QueryRow(ctx, `
			UPDATE games SET status = $2, updated_at = NOW()
			WHERE id = $1
			RETURNING `+gameColumns, id, string(to)))
		if err != nil {
			return fmt.Errorf("updating game status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return game, nil
}

// AppendDrawnNumber commits one draw. The row lock serializes concurrent
// commits, so drawn_numbers keeps commit order and never holds duplicates.
func (s *GameService) AppendDrawnNumber(ctx context.Context, id uuid.UUID, key string, number int) (*models.Game, error) {
	if !models.IsValidNumber(number) {
		return nil, ErrInvalidNumber
	}
	var game *models.Game
	err := withTx(ctx, s.db, func(tx Tx) error {
		locked, err := lockOrganizedGame(ctx, tx, id, key)
		if err != nil {
			return err
		}
		if locked.status != models.GameStatusActive {
			return ErrGameNotActive
		}
		if slices.Contains(locked.drawn, int32(number)) {
			return ErrAlreadyDrawn
		}
		game, err = scanGame(tx.QueryRow(ctx, `
			UPDATE games
			SET drawn_numbers = array_append(drawn_numbers, $2::int), updated_at = NOW()
			WHERE id = $1
			RETURNING `+gameColumns, id, number))
		if err != nil {
			return fmt.Errorf("appending drawn number: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return game, nil
}

// FinishStaleGames finishes every unfinished game untouched since cutoff and
// returns how many it closed.
func (s *GameService) FinishStaleGames(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE games SET status = 'finished', updated_at = NOW()
		WHERE status <> 'finished' AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("finishing stale games: %w", err)
	}
	return tag.RowsAffected(), nil
}

func generateOrganizerKey() (string, error) {
	b := make([]byte, organizerKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating organizer key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func checkOrganizerKey(hash, key string) bool {
	if key == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}

func fromInt32s(in []int32) []int {
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = int(v)
	}
	return out
}
