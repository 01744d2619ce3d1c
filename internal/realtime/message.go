// Package realtime carries the two signal paths between sessions: the advisory
// start_spin broadcast and the authoritative change feed from the store.
package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const (
	TypeStartSpin = "start_spin"
	TypeChanged   = "changed"
)

// Message is the advisory bus envelope.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type StartSpinPayload struct {
	Number int `json:"number"`
}

func NewStartSpin(number int) Message {
	payload, _ := json.Marshal(StartSpinPayload{Number: number})
	return Message{Type: TypeStartSpin, Payload: payload}
}

// StartSpin decodes the payload of a start_spin message.
func (m Message) StartSpin() (StartSpinPayload, error) {
	var p StartSpinPayload
	if m.Type != TypeStartSpin {
		return p, fmt.Errorf("message type %q is not %s", m.Type, TypeStartSpin)
	}
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return p, fmt.Errorf("decoding start_spin payload: %w", err)
	}
	return p, nil
}

func decodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decoding message: %w", err)
	}
	if m.Type == "" {
		return m, fmt.Errorf("decoding message: missing type")
	}
	return m, nil
}

func redisChannel(gameID uuid.UUID) string {
	return "bingo:game:" + gameID.String()
}

func natsSubject(gameID uuid.UUID) string {
	return "bingo.game." + gameID.String()
}

// Change is one row-level signal from the store. It carries no data; receivers
// re-read the game.
type Change struct {
	GameID uuid.UUID `json:"game_id"`
	Table  string    `json:"table"`
}
