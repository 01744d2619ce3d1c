package handlers

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync"

	"github.com/HammerMeetNail/bingohall/internal/logging"
	"github.com/HammerMeetNail/bingohall/internal/realtime"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsReadLimit    = 512
)

// Relay forwards a game's signals to browser clients over a websocket: the
// advisory start_spin messages as they arrive, and a bare "changed" message
// whenever the store reports a change. Browsers re-read the game on "changed".
type Relay struct {
	feed     realtime.ChangeFeed
	bus      realtime.Broadcaster
	logger   *logging.Logger
	upgrader websocket.Upgrader

	conns *xsync.MapOf[string, context.CancelFunc]
}

// NewRelay accepts connections from allowedOrigins; an empty list accepts any
// origin.
func NewRelay(feed realtime.ChangeFeed, bus realtime.Broadcaster, allowedOrigins []string, logger *logging.Logger) *Relay {
	if logger == nil {
		logger = logging.Default
	}
	return &Relay{
		feed:   feed,
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, origin)
			},
		},
		conns: xsync.NewMapOf[context.CancelFunc](),
	}
}

// Connections is the number of open relay connections.
func (rl *Relay) Connections() int {
	return rl.conns.Size()
}

// CloseAll ends every open connection.
func (rl *Relay) CloseAll() {
	rl.conns.Range(func(_ string, cancel context.CancelFunc) bool {
		cancel()
		return true
	})
}

func (rl *Relay) Serve(w http.ResponseWriter, r *http.Request) {
	gameID, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid game ID")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	changes, err := rl.feed.Subscribe(ctx, gameID)
	if err != nil {
		cancel()
		rl.logger.Error("Relay feed subscribe failed", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusServiceUnavailable, "Change feed unavailable")
		return
	}
	var spins <-chan realtime.Message
	if rl.bus != nil {
		if spins, err = rl.bus.Subscribe(ctx, gameID); err != nil {
			rl.logger.Warn("Relay bus subscribe failed", map[string]interface{}{"error": err.Error()})
			spins = nil
		}
	}

	conn, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		// Upgrade has already written the error response.
		return
	}

	connID := uuid.NewString()
	rl.conns.Store(connID, cancel)
	logger := rl.logger.WithFields(map[string]interface{}{"game_id": gameID.String(), "conn_id": connID})
	logger.Debug("Relay connected")

	go rl.readLoop(conn, cancel)
	rl.writeLoop(ctx, conn, changes, spins, logger)

	rl.conns.Delete(connID)
	cancel()
	_ = conn.Close()
	logger.Debug("Relay disconnected")
}

// readLoop discards client frames; it exists to process control frames and
// notice the client going away.
func (rl *Relay) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(2 * wsPingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * wsPingInterval))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (rl *Relay) writeLoop(ctx context.Context, conn *websocket.Conn, changes <-chan realtime.Change, spins <-chan realtime.Message, logger *logging.Logger) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	changed := realtime.Message{Type: realtime.TypeChanged}
	for {
		var err error
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			err = rl.write(conn, changed)
		case msg, ok := <-spins:
			if !ok {
				spins = nil
				continue
			}
			err = rl.write(conn, msg)
		case <-ping.C:
			err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
		}
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("Relay write failed", map[string]interface{}{"error": err.Error()})
			}
			return
		}
	}
}

func (rl *Relay) write(conn *websocket.Conn, msg realtime.Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(msg)
}
