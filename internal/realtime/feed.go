package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/HammerMeetNail/bingohall/internal/logging"
)

// ChangeChannel is the NOTIFY channel the schema triggers publish on.
const ChangeChannel = "bingo_changes"

// ChangeFeed is the authoritative signal path: every committed write to a game
// or its participants yields at least one Change for that game.
type ChangeFeed interface {
	// Subscribe delivers changes until ctx is done, then closes the channel.
	// Bursts may coalesce into one signal.
	Subscribe(ctx context.Context, gameID uuid.UUID) (<-chan Change, error)
}

// changeHub fans signals out per game. Each subscriber channel holds one
// pending signal; further signals coalesce into it.
type changeHub struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[chan Change]struct{}
}

func newChangeHub() *changeHub {
	return &changeHub{subs: make(map[uuid.UUID]map[chan Change]struct{})}
}

func (h *changeHub) subscribe(ctx context.Context, gameID uuid.UUID) <-chan Change {
	ch := make(chan Change, 1)
	h.mu.Lock()
	if h.subs[gameID] == nil {
		h.subs[gameID] = make(map[chan Change]struct{})
	}
	h.subs[gameID][ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[gameID], ch)
		if len(h.subs[gameID]) == 0 {
			delete(h.subs, gameID)
		}
		close(ch)
		h.mu.Unlock()
	}()
	return ch
}

func (h *changeHub) publish(c Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[c.GameID] {
		select {
		case ch <- c:
		default:
		}
	}
}

// publishAll signals every subscribed game, used after a gap in the feed.
func (h *changeHub) publishAll(table string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for gameID, chans := range h.subs {
		for ch := range chans {
			select {
			case ch <- Change{GameID: gameID, Table: table}:
			default:
			}
		}
	}
}

// MemoryFeed is the in-process feed; stores call Notify after each commit.
type MemoryFeed struct {
	hub *changeHub
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{hub: newChangeHub()}
}

func (f *MemoryFeed) Notify(c Change) {
	f.hub.publish(c)
}

func (f *MemoryFeed) Subscribe(ctx context.Context, gameID uuid.UUID) (<-chan Change, error) {
	return f.hub.subscribe(ctx, gameID), nil
}

// ListenConn is a dedicated connection in LISTEN mode.
type ListenConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

const (
	feedBackoffMin = 250 * time.Millisecond
	resyncTable    = "resync"
)

// PostgresFeed holds one connection out of the pool for LISTEN and fans the
// notifications out by game id.
type PostgresFeed struct {
	connect    func(ctx context.Context) (ListenConn, error)
	hub        *changeHub
	clock      clockwork.Clock
	backoffMax time.Duration
	logger     *logging.Logger
}

// NewPostgresFeed hijacks a pooled connection for each LISTEN session so the
// listening state never leaks back into the pool.
func NewPostgresFeed(pool *pgxpool.Pool, backoffMax time.Duration, logger *logging.Logger) *PostgresFeed {
	return newPostgresFeed(func(ctx context.Context) (ListenConn, error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return conn.Hijack(), nil
	}, clockwork.NewRealClock(), backoffMax, logger)
}

func newPostgresFeed(connect func(ctx context.Context) (ListenConn, error), clock clockwork.Clock, backoffMax time.Duration, logger *logging.Logger) *PostgresFeed {
	if logger == nil {
		logger = logging.Default
	}
	if backoffMax < feedBackoffMin {
		backoffMax = feedBackoffMin
	}
	return &PostgresFeed{
		connect:    connect,
		hub:        newChangeHub(),
		clock:      clock,
		backoffMax: backoffMax,
		logger:     logger,
	}
}

func (f *PostgresFeed) Subscribe(ctx context.Context, gameID uuid.UUID) (<-chan Change, error) {
	return f.hub.subscribe(ctx, gameID), nil
}

// Run listens until ctx is done, reconnecting with exponential backoff. After
// every reconnect all subscribers get a resync signal, since notifications sent
// while disconnected are lost.
func (f *PostgresFeed) Run(ctx context.Context) error {
	backoff := feedBackoffMin
	first := true
	for {
		err := f.listen(ctx, func() {
			backoff = feedBackoffMin
			if !first {
				f.hub.publishAll(resyncTable)
			}
			first = false
		})
		if ctx.Err() != nil {
			return nil
		}
		f.logger.Warn("Change feed disconnected", map[string]interface{}{
			"error":   errString(err),
			"backoff": backoff.String(),
		})
		select {
		case <-ctx.Done():
			return nil
		case <-f.clock.After(backoff):
		}
		backoff = min(backoff*2, f.backoffMax)
	}
}

func (f *PostgresFeed) listen(ctx context.Context, onListening func()) error {
	conn, err := f.connect(ctx)
	if err != nil {
		return fmt.Errorf("acquiring listen connection: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ChangeChannel}.Sanitize()); err != nil {
		return fmt.Errorf("listening on %s: %w", ChangeChannel, err)
	}
	onListening()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		change, err := parseNotification(n)
		if err != nil {
			f.logger.Warn("Ignoring malformed change notification", map[string]interface{}{
				"payload": n.Payload,
				"error":   err.Error(),
			})
			continue
		}
		f.hub.publish(change)
	}
}

func parseNotification(n *pgconn.Notification) (Change, error) {
	var c Change
	if n == nil {
		return c, errors.New("nil notification")
	}
	if err := json.Unmarshal([]byte(n.Payload), &c); err != nil {
		return c, err
	}
	if c.GameID == uuid.Nil {
		return c, errors.New("missing game_id")
	}
	return c, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
