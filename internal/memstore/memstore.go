// Package memstore is an in-process game store with the same semantics as the
// Postgres services, for the --memory CLI mode and for session tests.
package memstore

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/bingohall/internal/bingo"
	"github.com/HammerMeetNail/bingohall/internal/models"
	"github.com/HammerMeetNail/bingohall/internal/realtime"
	"github.com/HammerMeetNail/bingohall/internal/services"
)

type gameRecord struct {
	game models.Game
	key  string
}

// Store keeps games and participants in memory. Every committed write signals
// the attached feed, as the database triggers do.
type Store struct {
	mu           sync.RWMutex
	games        map[uuid.UUID]*gameRecord
	codes        map[string]uuid.UUID
	participants map[uuid.UUID]*models.Participant

	feed            *realtime.MemoryFeed
	rankMaxAttempts int
	now             func() time.Time

	faultMu     sync.Mutex
	appendFault error

	// rankHook runs between the count and the conditional write of a rank
	// attempt; tests use it to force interleavings.
	rankHook func()
}

func New(feed *realtime.MemoryFeed, rankMaxAttempts int) *Store {
	if rankMaxAttempts < 1 {
		rankMaxAttempts = services.DefaultRankMaxAttempts
	}
	return &Store{
		games:           make(map[uuid.UUID]*gameRecord),
		codes:           make(map[string]uuid.UUID),
		participants:    make(map[uuid.UUID]*models.Participant),
		feed:            feed,
		rankMaxAttempts: rankMaxAttempts,
		now:             time.Now,
	}
}

// FailAppends makes AppendDrawnNumber fail with err until cleared with nil.
func (s *Store) FailAppends(err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.appendFault = err
}

func (s *Store) notify(gameID uuid.UUID, table string) {
	if s.feed != nil {
		s.feed.Notify(realtime.Change{GameID: gameID, Table: table})
	}
}

func cloneGame(g models.Game) *models.Game {
	g.DrawnNumbers = slices.Clone(g.DrawnNumbers)
	return &g
}

func cloneParticipant(p *models.Participant) *models.Participant {
	c := *p
	if p.Card != nil {
		card := *p.Card
		c.Card = &card
	}
	if p.BingoRank != nil {
		r := *p.BingoRank
		c.BingoRank = &r
	}
	return &c
}

func (s *Store) CreateGame(ctx context.Context) (*models.Game, string, error) {
	keyBytes := make([]byte, 24)
	if _, err := rand.Read(keyBytes); err != nil {
		return nil, "", fmt.Errorf("generating organizer key: %w", err)
	}
	key := hex.EncodeToString(keyBytes)

	s.mu.Lock()
	var code string
	for {
		c, err := models.NewGameCode()
		if err != nil {
			s.mu.Unlock()
			return nil, "", err
		}
		if _, taken := s.codes[c]; !taken {
			code = c
			break
		}
	}
	now := s.now()
	rec := &gameRecord{
		game: models.Game{
			ID:           uuid.New(),
			Code:         code,
			Status:       models.GameStatusPending,
			DrawnNumbers: []int{},
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		key: key,
	}
	s.games[rec.game.ID] = rec
	s.codes[code] = rec.game.ID
	game := cloneGame(rec.game)
	s.mu.Unlock()

	s.notify(game.ID, "games")
	return game, key, nil
}

func (s *Store) GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.games[id]
	if !ok {
		return nil, services.ErrGameNotFound
	}
	return cloneGame(rec.game), nil
}

func (s *Store) GetGameByCode(ctx context.Context, code string) (*models.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.codes[code]
	if !ok {
		return nil, services.ErrGameNotFound
	}
	return cloneGame(s.games[id].game), nil
}

// organizedLocked must be called with s.mu held.
func (s *Store) organizedLocked(id uuid.UUID, key string) (*gameRecord, error) {
	rec, ok := s.games[id]
	if !ok {
		return nil, services.ErrGameNotFound
	}
	if key == "" || subtle.ConstantTimeCompare([]byte(rec.key), []byte(key)) != 1 {
		return nil, services.ErrNotOrganizer
	}
	return rec, nil
}

func (s *Store) VerifyOrganizer(ctx context.Context, id uuid.UUID, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := s.organizedLocked(id, key)
	return err
}

func (s *Store) StartGame(ctx context.Context, id uuid.UUID, key string) (*models.Game, error) {
	return s.transition(id, key, models.GameStatusActive, models.GameStatusPending)
}

func (s *Store) FinishGame(ctx context.Context, id uuid.UUID, key string) (*models.Game, error) {
	return s.transition(id, key, models.GameStatusFinished,
		models.GameStatusPending, models.GameStatusActive, models.GameStatusFinished)
}

func (s *Store) transition(id uuid.UUID, key string, to models.GameStatus, from ...models.GameStatus) (*models.Game, error) {
	s.mu.Lock()
	rec, err := s.organizedLocked(id, key)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if !slices.Contains(from, rec.game.Status) {
		s.mu.Unlock()
		return nil, services.ErrInvalidTransition
	}
	rec.game.Status = to
	rec.game.UpdatedAt = s.now()
	game := cloneGame(rec.game)
	s.mu.Unlock()

	s.notify(id, "games")
	return game, nil
}

func (s *Store) AppendDrawnNumber(ctx context.Context, id uuid.UUID, key string, number int) (*models.Game, error) {
	if !models.IsValidNumber(number) {
		return nil, services.ErrInvalidNumber
	}
	s.faultMu.Lock()
	fault := s.appendFault
	s.faultMu.Unlock()
	if fault != nil {
		return nil, fault
	}

	s.mu.Lock()
	rec, err := s.organizedLocked(id, key)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if rec.game.Status != models.GameStatusActive {
		s.mu.Unlock()
		return nil, services.ErrGameNotActive
	}
	if rec.game.HasDrawn(number) {
		s.mu.Unlock()
		return nil, services.ErrAlreadyDrawn
	}
	rec.game.DrawnNumbers = append(rec.game.DrawnNumbers, number)
	rec.game.UpdatedAt = s.now()
	game := cloneGame(rec.game)
	s.mu.Unlock()

	s.notify(id, "games")
	return game, nil
}

func (s *Store) Join(ctx context.Context, gameID uuid.UUID, userName string) (*models.Participant, bool, error) {
	userName = models.NormalizeUserName(userName)
	if !models.IsValidUserName(userName) {
		return nil, false, services.ErrInvalidUserName
	}

	s.mu.Lock()
	if _, ok := s.games[gameID]; !ok {
		s.mu.Unlock()
		return nil, false, services.ErrGameNotFound
	}
	for _, p := range s.participants {
		if p.GameID == gameID && p.UserName == userName {
			out := cloneParticipant(p)
			s.mu.Unlock()
			return out, false, nil
		}
	}
	p := &models.Participant{
		ID:        uuid.New(),
		GameID:    gameID,
		UserName:  userName,
		CreatedAt: s.now(),
	}
	s.participants[p.ID] = p
	out := cloneParticipant(p)
	s.mu.Unlock()

	s.notify(gameID, "participants")
	return out, true, nil
}

func (s *Store) GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[id]
	if !ok {
		return nil, services.ErrParticipantNotFound
	}
	return cloneParticipant(p), nil
}

func (s *Store) AssignCard(ctx context.Context, id uuid.UUID, card models.BingoCard) (*models.Participant, error) {
	if err := card.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrInvalidCard, err)
	}
	card = bingo.ApplyDrawn(card, nil)

	s.mu.Lock()
	p, ok := s.participants[id]
	if !ok {
		s.mu.Unlock()
		return nil, services.ErrParticipantNotFound
	}
	if p.Card != nil {
		s.mu.Unlock()
		return nil, services.ErrCardAlreadyAssigned
	}
	p.Card = &card
	out := cloneParticipant(p)
	s.mu.Unlock()

	s.notify(p.GameID, "participants")
	return out, nil
}

// evaluateLocked must be called with s.mu held.
func (s *Store) evaluateLocked(id uuid.UUID) (*models.Participant, bingo.Evaluation, error) {
	p, ok := s.participants[id]
	if !ok {
		return nil, bingo.Evaluation{}, services.ErrParticipantNotFound
	}
	if p.Card == nil {
		return nil, bingo.Evaluation{}, services.ErrNoCard
	}
	return p, bingo.Evaluate(*p.Card, s.games[p.GameID].game.DrawnNumbers), nil
}

func (s *Store) ClaimReach(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	s.mu.Lock()
	p, eval, err := s.evaluateLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if !eval.Reach && !eval.Bingo {
		s.mu.Unlock()
		return nil, services.ErrInvalidClaim
	}
	p.IsReach = true
	out := cloneParticipant(p)
	s.mu.Unlock()

	s.notify(p.GameID, "participants")
	return out, nil
}

// ClaimBingo follows the same optimistic protocol as the database: read the
// count, then conditionally write count+1, retrying when another finisher took
// that rank in between.
func (s *Store) ClaimBingo(ctx context.Context, id uuid.UUID) (int, error) {
	s.mu.RLock()
	p, eval, err := s.evaluateLocked(id)
	if err != nil {
		s.mu.RUnlock()
		return 0, err
	}
	if p.BingoRank != nil {
		rank := *p.BingoRank
		s.mu.RUnlock()
		return rank, nil
	}
	gameID := p.GameID
	s.mu.RUnlock()
	if !eval.Bingo {
		return 0, services.ErrInvalidClaim
	}

	for attempt := 0; attempt < s.rankMaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		proposed := s.rankCount(gameID) + 1
		if s.rankHook != nil {
			s.rankHook()
		}
		if rank, ok := s.compareAndSetRank(id, gameID, proposed); ok {
			if rank == proposed {
				s.notify(gameID, "participants")
			}
			return rank, nil
		}
	}
	return 0, services.ErrRankConflict
}

func (s *Store) rankCount(gameID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.participants {
		if p.GameID == gameID && p.BingoRank != nil {
			n++
		}
	}
	return n
}

// compareAndSetRank writes proposed unless the participant already holds a
// rank (returned with ok) or another participant holds proposed (conflict).
func (s *Store) compareAndSetRank(id, gameID uuid.UUID, proposed int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.participants[id]
	if p.BingoRank != nil {
		return *p.BingoRank, true
	}
	for _, other := range s.participants {
		if other.GameID == gameID && other.BingoRank != nil && *other.BingoRank == proposed {
			return 0, false
		}
	}
	p.BingoRank = &proposed
	return proposed, true
}

func (s *Store) ListParticipants(ctx context.Context, gameID uuid.UUID) ([]models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.games[gameID]; !ok {
		return nil, services.ErrGameNotFound
	}
	out := []models.Participant{}
	for _, p := range s.participants {
		if p.GameID == gameID {
			out = append(out, *cloneParticipant(p))
		}
	}
	slices.SortFunc(out, models.ByLeaderboard)
	return out, nil
}
