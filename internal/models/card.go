package models

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	GridSize  = 5
	MinNumber = 1
	MaxNumber = 75

	// BandSize is the width of each column's numeric range.
	BandSize = 15

	FreeRow = 2
	FreeCol = 2
)

// Free marks the center square. It is never a drawable number.
const Free = 0

// ColumnLetters maps column index to its header letter.
const ColumnLetters = "BINGO"

// ColumnBand returns the inclusive numeric range for a column.
func ColumnBand(col int) (lo, hi int) {
	lo = col*BandSize + 1
	return lo, lo + BandSize - 1
}

// ColumnForNumber returns the column a drawable number belongs to, or -1.
func ColumnForNumber(n int) int {
	if !IsValidNumber(n) {
		return -1
	}
	return (n - 1) / BandSize
}

func IsValidNumber(n int) bool {
	return n >= MinNumber && n <= MaxNumber
}

// Label formats a number the way callers announce it, e.g. "N-41".
func Label(n int) string {
	col := ColumnForNumber(n)
	if col < 0 {
		return strconv.Itoa(n)
	}
	return fmt.Sprintf("%c-%d", ColumnLetters[col], n)
}

type Square struct {
	Value  int  `json:"value"`
	Marked bool `json:"marked"`
}

func (s Square) IsFree() bool {
	return s.Value == Free
}

// BingoCard is indexed Squares[row][col].
type BingoCard struct {
	Squares [GridSize][GridSize]Square `json:"squares"`
}

// Key identifies a card by its number layout. Marks are ignored.
func (c BingoCard) Key() string {
	var b strings.Builder
	for row := 0; row < GridSize; row++ {
		for col := 0; col < GridSize; col++ {
			if row > 0 || col > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Itoa(c.Squares[row][col].Value))
		}
	}
	return b.String()
}

// SameLayout reports whether two cards carry the same numbers in the same cells.
func (c BingoCard) SameLayout(other BingoCard) bool {
	for row := 0; row < GridSize; row++ {
		for col := 0; col < GridSize; col++ {
			if c.Squares[row][col].Value != other.Squares[row][col].Value {
				return false
			}
		}
	}
	return true
}

// Column returns the values of one column, top to bottom.
func (c BingoCard) Column(col int) []int {
	out := make([]int, GridSize)
	for row := 0; row < GridSize; row++ {
		out[row] = c.Squares[row][col].Value
	}
	return out
}

// MarkedCount counts marked squares, FREE included.
func (c BingoCard) MarkedCount() int {
	n := 0
	for row := 0; row < GridSize; row++ {
		for col := 0; col < GridSize; col++ {
			if c.Squares[row][col].Marked {
				n++
			}
		}
	}
	return n
}

// Validate checks the structural invariants of a standard card: FREE only at
// the center and marked, every other value distinct and inside its column band.
func (c BingoCard) Validate() error {
	seen := make(map[int]bool, GridSize*GridSize)
	for row := 0; row < GridSize; row++ {
		for col := 0; col < GridSize; col++ {
			sq := c.Squares[row][col]
			if row == FreeRow && col == FreeCol {
				if !sq.IsFree() {
					return fmt.Errorf("center square must be FREE, got %d", sq.Value)
				}
				if !sq.Marked {
					return fmt.Errorf("FREE square must be marked")
				}
				continue
			}
			if sq.IsFree() {
				return fmt.Errorf("FREE square at row %d col %d", row, col)
			}
			lo, hi := ColumnBand(col)
			if sq.Value < lo || sq.Value > hi {
				return fmt.Errorf("value %d out of range %d-%d for column %c", sq.Value, lo, hi, ColumnLetters[col])
			}
			if seen[sq.Value] {
				return fmt.Errorf("duplicate value %d", sq.Value)
			}
			seen[sq.Value] = true
		}
	}
	return nil
}

// CardFromColumns builds an unmarked card from five columns of values. The
// center of the N column is replaced with FREE.
func CardFromColumns(cols [GridSize][GridSize]int) BingoCard {
	var card BingoCard
	for col := 0; col < GridSize; col++ {
		for row := 0; row < GridSize; row++ {
			card.Squares[row][col] = Square{Value: cols[col][row]}
		}
	}
	card.Squares[FreeRow][FreeCol] = Square{Value: Free, Marked: true}
	return card
}
