package session

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/bingohall/internal/logging"
	"github.com/HammerMeetNail/bingohall/internal/models"
	"github.com/HammerMeetNail/bingohall/internal/realtime"
	"github.com/HammerMeetNail/bingohall/internal/reveal"
)

// ClientConfig wires a client to its game.
type ClientConfig struct {
	GameID uuid.UUID
	Store  GameStore
	Feed   realtime.ChangeFeed
	// Bus is optional. When set, received start_spin messages play the reveal
	// immediately.
	Bus           realtime.Broadcaster
	RevealOptions []reveal.Option
	Logger        *logging.Logger
	// OnChange runs after every applied game state, serialized.
	OnChange func(game *models.Game)
}

// Client mirrors one game's authoritative state. It re-reads the game on every
// change signal, so a missed broadcast never leaves it behind.
type Client struct {
	cfg    ClientConfig
	rc     *reveal.Context
	syn    *reveal.Synchronizer
	logger *logging.Logger

	mu   sync.RWMutex
	game *models.Game

	hookMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default
	}
	rc := reveal.NewContext(cfg.RevealOptions...)
	return &Client{
		cfg:    cfg,
		rc:     rc,
		syn:    reveal.NewSynchronizer(rc),
		logger: cfg.Logger.WithField("game_id", cfg.GameID.String()),
	}
}

// Start subscribes to the feed and bus, loads the current state and runs the
// resync loop until Close.
func (c *Client) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)

	changes, err := c.cfg.Feed.Subscribe(loopCtx, c.cfg.GameID)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribing to changes: %w", err)
	}
	var spins <-chan realtime.Message
	if c.cfg.Bus != nil {
		spins, err = c.cfg.Bus.Subscribe(loopCtx, c.cfg.GameID)
		if err != nil {
			// The bus is advisory; run without animations.
			c.logger.Warn("Broadcast subscribe failed", map[string]interface{}{"error": err.Error()})
			spins = nil
		}
	}

	if err := c.Resync(loopCtx); err != nil {
		cancel()
		return err
	}

	c.cancel = cancel
	c.done = make(chan struct{})
	go c.loop(loopCtx, changes, spins)
	return nil
}

func (c *Client) loop(ctx context.Context, changes <-chan realtime.Change, spins <-chan realtime.Message) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			if err := c.Resync(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("Resync failed", map[string]interface{}{"error": err.Error()})
			}
		case msg, ok := <-spins:
			if !ok {
				spins = nil
				continue
			}
			c.playSpin(ctx, msg)
		}
	}
}

func (c *Client) playSpin(ctx context.Context, msg realtime.Message) {
	payload, err := msg.StartSpin()
	if err != nil {
		return
	}
	results, err := c.syn.Run(ctx, payload.Number, 0)
	if err != nil {
		c.logger.Debug("Skipping spin", map[string]interface{}{
			"number": payload.Number,
			"reason": err.Error(),
		})
		return
	}
	go func() { <-results }()
}

// Resync re-reads the game and applies it.
func (c *Client) Resync(ctx context.Context) error {
	game, err := c.cfg.Store.GetGame(ctx, c.cfg.GameID)
	if err != nil {
		return fmt.Errorf("reading game: %w", err)
	}
	c.apply(game)
	return nil
}

// apply replaces the local state unless game is older than what is held.
func (c *Client) apply(game *models.Game) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()

	c.mu.Lock()
	if isStale(c.game, game) {
		c.mu.Unlock()
		return
	}
	c.game = game
	c.mu.Unlock()

	if c.cfg.OnChange != nil {
		c.cfg.OnChange(cloneGame(game))
	}
}

func cloneGame(g *models.Game) *models.Game {
	out := *g
	out.DrawnNumbers = slices.Clone(g.DrawnNumbers)
	return &out
}

// Game is the latest applied state, nil before the first read.
func (c *Client) Game() *models.Game {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.game == nil {
		return nil
	}
	return cloneGame(c.game)
}

func (c *Client) Drawn() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.game == nil {
		return []int{}
	}
	return slices.Clone(c.game.DrawnNumbers)
}

func (c *Client) GameID() uuid.UUID {
	return c.cfg.GameID
}

func (c *Client) Synchronizer() *reveal.Synchronizer {
	return c.syn
}

func (c *Client) RevealProfile() reveal.Profile {
	return c.rc.Profile()
}

// Close stops the loop and releases the reveal context.
func (c *Client) Close() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	c.rc.Close()
}
