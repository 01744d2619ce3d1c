package models

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

type GameStatus string

const (
	GameStatusPending  GameStatus = "pending"
	GameStatusActive   GameStatus = "active"
	GameStatusFinished GameStatus = "finished"
)

func (s GameStatus) IsValid() bool {
	switch s {
	case GameStatusPending, GameStatusActive, GameStatusFinished:
		return true
	}
	return false
}

const (
	GameCodeLength = 6
	// GameCodeAlphabet leaves out 0/O and 1/I/L so codes can be read aloud.
	GameCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
)

type Game struct {
	ID           uuid.UUID  `json:"id"`
	Code         string     `json:"code"`
	Status       GameStatus `json:"status"`
	DrawnNumbers []int      `json:"drawn_numbers"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// LastDrawn returns the most recently committed number.
func (g *Game) LastDrawn() (int, bool) {
	if len(g.DrawnNumbers) == 0 {
		return 0, false
	}
	return g.DrawnNumbers[len(g.DrawnNumbers)-1], true
}

func (g *Game) HasDrawn(n int) bool {
	for _, d := range g.DrawnNumbers {
		if d == n {
			return true
		}
	}
	return false
}

// NewGameCode returns a random code drawn from GameCodeAlphabet.
func NewGameCode() (string, error) {
	buf := make([]byte, GameCodeLength)
	max := big.NewInt(int64(len(GameCodeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generating game code: %w", err)
		}
		buf[i] = GameCodeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

func IsValidGameCode(code string) bool {
	if len(code) != GameCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		found := false
		for j := 0; j < len(GameCodeAlphabet); j++ {
			if code[i] == GameCodeAlphabet[j] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
