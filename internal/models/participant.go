package models

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const MaxUserNameLength = 32

type Participant struct {
	ID        uuid.UUID  `json:"id"`
	GameID    uuid.UUID  `json:"game_id"`
	UserName  string     `json:"user_name"`
	Card      *BingoCard `json:"card,omitempty"`
	IsReach   bool       `json:"is_reach"`
	BingoRank *int       `json:"bingo_rank,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (p *Participant) HasBingo() bool {
	return p.BingoRank != nil
}

func NormalizeUserName(s string) string {
	return strings.TrimSpace(s)
}

func IsValidUserName(s string) bool {
	s = NormalizeUserName(s)
	n := utf8.RuneCountInString(s)
	return n >= 1 && n <= MaxUserNameLength
}

// ByLeaderboard orders ranked participants first (by rank), then reach holders,
// then everyone else by join time.
func ByLeaderboard(a, b Participant) int {
	switch {
	case a.BingoRank != nil && b.BingoRank != nil:
		return *a.BingoRank - *b.BingoRank
	case a.BingoRank != nil:
		return -1
	case b.BingoRank != nil:
		return 1
	case a.IsReach != b.IsReach:
		if a.IsReach {
			return -1
		}
		return 1
	}
	return a.CreatedAt.Compare(b.CreatedAt)
}
