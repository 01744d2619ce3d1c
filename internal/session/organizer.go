package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/bingohall/internal/bingo"
	"github.com/HammerMeetNail/bingohall/internal/logging"
	"github.com/HammerMeetNail/bingohall/internal/models"
	"github.com/HammerMeetNail/bingohall/internal/realtime"
	"github.com/HammerMeetNail/bingohall/internal/reveal"
	"github.com/HammerMeetNail/bingohall/internal/services"
)

type OrganizerConfig struct {
	Store         Store
	Feed          realtime.ChangeFeed
	Bus           realtime.Broadcaster
	Allocator     *bingo.Allocator
	RevealOptions []reveal.Option
	Logger        *logging.Logger
	// OnChange is forwarded to the organizer's client.
	OnChange func(game *models.Game)
}

// Organizer runs the draw protocol for one game: pick a candidate, announce
// it, play the reveal, then commit. Only a committed number is part of the
// game.
type Organizer struct {
	cfg    OrganizerConfig
	logger *logging.Logger

	mu     sync.RWMutex
	key    string
	client *Client

	inFlight atomic.Bool
	disabled atomic.Bool
}

// NewOrganizer creates a fresh game and starts following it.
func NewOrganizer(ctx context.Context, cfg OrganizerConfig) (*Organizer, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default
	}
	if cfg.Allocator == nil {
		cfg.Allocator = bingo.NewAllocator(nil)
	}
	o := &Organizer{cfg: cfg, logger: cfg.Logger}
	if err := o.createGame(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

// ResumeOrganizer attaches to an existing game with its organizer key.
func ResumeOrganizer(ctx context.Context, cfg OrganizerConfig, gameID uuid.UUID, key string) (*Organizer, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default
	}
	if cfg.Allocator == nil {
		cfg.Allocator = bingo.NewAllocator(nil)
	}
	o := &Organizer{cfg: cfg, logger: cfg.Logger}
	if err := o.attach(ctx, gameID, key); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Organizer) createGame(ctx context.Context) error {
	game, key, err := o.cfg.Store.CreateGame(ctx)
	if err != nil {
		return fmt.Errorf("creating game: %w", err)
	}
	o.logger.Info("Game created", map[string]interface{}{"game_id": game.ID.String(), "code": game.Code})
	return o.attach(ctx, game.ID, key)
}

func (o *Organizer) attach(ctx context.Context, gameID uuid.UUID, key string) error {
	// The organizer announces spins; it never plays received ones.
	client := NewClient(ClientConfig{
		GameID:        gameID,
		Store:         o.cfg.Store,
		Feed:          o.cfg.Feed,
		RevealOptions: o.cfg.RevealOptions,
		Logger:        o.logger,
		OnChange:      o.onChange,
	})
	if err := client.Start(ctx); err != nil {
		client.Close()
		return err
	}
	o.mu.Lock()
	o.key = key
	o.client = client
	o.mu.Unlock()
	o.disabled.Store(len(bingo.Remaining(client.Drawn())) == 0)
	return nil
}

func (o *Organizer) onChange(game *models.Game) {
	if len(bingo.Remaining(game.DrawnNumbers)) == 0 {
		o.disabled.Store(true)
	}
	if o.cfg.OnChange != nil {
		o.cfg.OnChange(game)
	}
}

func (o *Organizer) current() (*Client, string) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.client, o.key
}

func (o *Organizer) Game() *models.Game {
	c, _ := o.current()
	return c.Game()
}

// Key is the organizer secret of the current game.
func (o *Organizer) Key() string {
	_, key := o.current()
	return key
}

func (o *Organizer) Client() *Client {
	c, _ := o.current()
	return c
}

func (o *Organizer) Start(ctx context.Context) error {
	c, key := o.current()
	game, err := o.cfg.Store.StartGame(ctx, c.GameID(), key)
	if err != nil {
		return err
	}
	c.apply(game)
	return nil
}

func (o *Organizer) Finish(ctx context.Context) error {
	c, key := o.current()
	game, err := o.cfg.Store.FinishGame(ctx, c.GameID(), key)
	if err != nil {
		return err
	}
	c.apply(game)
	return nil
}

// CanDraw reports whether a Draw call would be attempted right now.
func (o *Organizer) CanDraw() bool {
	if o.inFlight.Load() || o.disabled.Load() {
		return false
	}
	game := o.Game()
	return game != nil && game.Status == models.GameStatusActive
}

// Draw picks the next number, broadcasts start_spin, plays the reveal after
// the organizer delay, and then commits. Commit failures are returned wrapped
// in ErrCommitFailed and are not retried; the number stays undrawn.
func (o *Organizer) Draw(ctx context.Context) (int, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return 0, ErrDrawInProgress
	}
	defer o.inFlight.Store(false)

	if o.disabled.Load() {
		return 0, fmt.Errorf("%w: %w", ErrDrawingDisabled, bingo.ErrExhausted)
	}

	c, key := o.current()
	game := c.Game()
	if game == nil || game.Status != models.GameStatusActive {
		return 0, services.ErrGameNotActive
	}

	number, err := o.cfg.Allocator.Draw(game.DrawnNumbers)
	if errors.Is(err, bingo.ErrExhausted) {
		o.disabled.Store(true)
		return 0, fmt.Errorf("%w: %w", ErrDrawingDisabled, err)
	}
	if err != nil {
		return 0, err
	}

	logger := o.logger.WithFields(map[string]interface{}{
		"game_id": game.ID.String(),
		"number":  number,
	})

	if o.cfg.Bus != nil {
		if err := o.cfg.Bus.Publish(ctx, game.ID, realtime.NewStartSpin(number)); err != nil {
			logger.Warn("start_spin broadcast failed", map[string]interface{}{"error": err.Error()})
		}
	}

	results, err := c.syn.Run(ctx, number, c.RevealProfile().OrganizerDelay)
	if err != nil {
		return 0, fmt.Errorf("starting reveal: %w", err)
	}
	if res := <-results; res.Err != nil {
		logger.Info("Draw aborted before commit", map[string]interface{}{"error": res.Err.Error()})
		return 0, res.Err
	}

	committed, err := o.cfg.Store.AppendDrawnNumber(ctx, game.ID, key, number)
	if err != nil {
		logger.Error("Draw commit failed", map[string]interface{}{"error": err.Error()})
		return 0, fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}
	c.apply(committed)
	logger.Info("Number drawn", map[string]interface{}{"drawn": len(committed.DrawnNumbers)})
	return number, nil
}

// Reset finishes the current game and opens a new one with a new code.
// Committed history is never rewritten.
func (o *Organizer) Reset(ctx context.Context) error {
	if !o.inFlight.CompareAndSwap(false, true) {
		return ErrDrawInProgress
	}
	defer o.inFlight.Store(false)

	old, key := o.current()
	if _, err := o.cfg.Store.FinishGame(ctx, old.GameID(), key); err != nil {
		o.logger.Warn("Finishing previous game failed", map[string]interface{}{
			"game_id": old.GameID().String(),
			"error":   err.Error(),
		})
	}
	if err := o.createGame(ctx); err != nil {
		return err
	}
	old.Close()
	return nil
}

func (o *Organizer) Close() {
	c, _ := o.current()
	if c != nil {
		c.Close()
	}
}
