package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/HammerMeetNail/bingohall/internal/logging"
)

// Broadcaster is the at-most-once advisory channel. Nothing that depends on
// correctness may travel only on it.
type Broadcaster interface {
	Publish(ctx context.Context, gameID uuid.UUID, msg Message) error
	// Subscribe delivers messages until ctx is done, then closes the channel.
	Subscribe(ctx context.Context, gameID uuid.UUID) (<-chan Message, error)
}

const subscriberBuffer = 16

// RedisPubSub is the part of *redis.Client the broadcaster uses.
type RedisPubSub interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

type RedisBroadcaster struct {
	client RedisPubSub
	logger *logging.Logger
}

func NewRedisBroadcaster(client RedisPubSub, logger *logging.Logger) *RedisBroadcaster {
	if logger == nil {
		logger = logging.Default
	}
	return &RedisBroadcaster{client: client, logger: logger}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, gameID uuid.UUID, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	if err := b.client.Publish(ctx, redisChannel(gameID), data).Err(); err != nil {
		return fmt.Errorf("publishing to redis: %w", err)
	}
	return nil
}

func (b *RedisBroadcaster) Subscribe(ctx context.Context, gameID uuid.UUID) (<-chan Message, error) {
	ps := b.client.Subscribe(ctx, redisChannel(gameID))
	// Receive blocks until the subscription is confirmed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribing to redis: %w", err)
	}
	out := make(chan Message, subscriberBuffer)
	go func() {
		defer ps.Close()
		relayRedis(ctx, ps.Channel(), out, b.logger)
	}()
	return out, nil
}

func relayRedis(ctx context.Context, in <-chan *redis.Message, out chan<- Message, logger *logging.Logger) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-in:
			if !ok {
				return
			}
			msg, err := decodeMessage([]byte(raw.Payload))
			if err != nil {
				logger.Warn("Dropping malformed broadcast", map[string]interface{}{
					"channel": raw.Channel,
					"error":   err.Error(),
				})
				continue
			}
			deliver(ctx, out, msg)
		}
	}
}

// deliver drops the message when the subscriber is not keeping up.
func deliver(ctx context.Context, out chan<- Message, msg Message) {
	select {
	case out <- msg:
	case <-ctx.Done():
	default:
	}
}

// NATSConn is the part of *nats.Conn the broadcaster uses.
type NATSConn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

type NATSBroadcaster struct {
	conn   NATSConn
	logger *logging.Logger
}

func NewNATSBroadcaster(conn NATSConn, logger *logging.Logger) *NATSBroadcaster {
	if logger == nil {
		logger = logging.Default
	}
	return &NATSBroadcaster{conn: conn, logger: logger}
}

func (b *NATSBroadcaster) Publish(ctx context.Context, gameID uuid.UUID, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	if err := b.conn.Publish(natsSubject(gameID), data); err != nil {
		return fmt.Errorf("publishing to nats: %w", err)
	}
	return nil
}

func (b *NATSBroadcaster) Subscribe(ctx context.Context, gameID uuid.UUID) (<-chan Message, error) {
	out := make(chan Message, subscriberBuffer)
	var mu sync.Mutex
	closed := false

	sub, err := b.conn.Subscribe(natsSubject(gameID), func(m *nats.Msg) {
		msg, err := decodeMessage(m.Data)
		if err != nil {
			b.logger.Warn("Dropping malformed broadcast", map[string]interface{}{
				"subject": m.Subject,
				"error":   err.Error(),
			})
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			deliver(ctx, out, msg)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to nats: %w", err)
	}

	go func() {
		<-ctx.Done()
		if sub != nil {
			_ = sub.Unsubscribe()
		}
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()
	return out, nil
}

// MemoryBroadcaster is an in-process bus. SetDrop simulates a lossy network.
type MemoryBroadcaster struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]map[*memorySub]struct{}
	drop   atomic.Bool
	sent   atomic.Int64
	failed atomic.Pointer[error]
}

type memorySub struct {
	ctx context.Context
	ch  chan Message
}

func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{subs: make(map[uuid.UUID]map[*memorySub]struct{})}
}

// SetDrop makes every following Publish succeed without delivering anything.
func (b *MemoryBroadcaster) SetDrop(drop bool) {
	b.drop.Store(drop)
}

// FailWith makes Publish return err; nil clears it.
func (b *MemoryBroadcaster) FailWith(err error) {
	if err == nil {
		b.failed.Store(nil)
		return
	}
	b.failed.Store(&err)
}

// Published counts successful Publish calls, dropped ones included.
func (b *MemoryBroadcaster) Published() int64 {
	return b.sent.Load()
}

func (b *MemoryBroadcaster) Publish(ctx context.Context, gameID uuid.UUID, msg Message) error {
	if errp := b.failed.Load(); errp != nil {
		return *errp
	}
	b.sent.Add(1)
	if b.drop.Load() {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[gameID] {
		deliver(sub.ctx, sub.ch, msg)
	}
	return nil
}

func (b *MemoryBroadcaster) Subscribe(ctx context.Context, gameID uuid.UUID) (<-chan Message, error) {
	sub := &memorySub{ctx: ctx, ch: make(chan Message, subscriberBuffer)}
	b.mu.Lock()
	if b.subs[gameID] == nil {
		b.subs[gameID] = make(map[*memorySub]struct{})
	}
	b.subs[gameID][sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[gameID], sub)
		if len(b.subs[gameID]) == 0 {
			delete(b.subs, gameID)
		}
		close(sub.ch)
		b.mu.Unlock()
	}()
	return sub.ch, nil
}
