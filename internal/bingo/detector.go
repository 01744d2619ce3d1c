package bingo

import (
	"github.com/HammerMeetNail/bingohall/internal/models"
)

// Coord addresses one square on a card.
type Coord struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Line is one of the twelve winning lines on a 5x5 card.
type Line struct {
	Name   string
	Coords [models.GridSize]Coord
}

// Lines lists every row, column, and both diagonals.
var Lines = buildLines()

func buildLines() []Line {
	const n = models.GridSize
	lines := make([]Line, 0, 2*n+2)
	for row := 0; row < n; row++ {
		var l Line
		l.Name = "row " + string(rune('1'+row))
		for col := 0; col < n; col++ {
			l.Coords[col] = Coord{Row: row, Col: col}
		}
		lines = append(lines, l)
	}
	for col := 0; col < n; col++ {
		var l Line
		l.Name = "column " + string(models.ColumnLetters[col])
		for row := 0; row < n; row++ {
			l.Coords[row] = Coord{Row: row, Col: col}
		}
		lines = append(lines, l)
	}
	var diag, anti Line
	diag.Name = "diagonal"
	anti.Name = "anti-diagonal"
	for i := 0; i < n; i++ {
		diag.Coords[i] = Coord{Row: i, Col: i}
		anti.Coords[i] = Coord{Row: i, Col: n - 1 - i}
	}
	return append(lines, diag, anti)
}

func (l Line) markedCount(card models.BingoCard) int {
	n := 0
	for _, c := range l.Coords {
		if card.Squares[c.Row][c.Col].Marked {
			n++
		}
	}
	return n
}

// ApplyDrawn returns a copy of card with every mark recomputed from drawn. A
// square is marked iff it is FREE or its value was drawn.
func ApplyDrawn(card models.BingoCard, drawn []int) models.BingoCard {
	set := make(map[int]struct{}, len(drawn))
	for _, n := range drawn {
		set[n] = struct{}{}
	}
	out := card
	for row := 0; row < models.GridSize; row++ {
		for col := 0; col < models.GridSize; col++ {
			sq := &out.Squares[row][col]
			if sq.IsFree() {
				sq.Marked = true
				continue
			}
			_, ok := set[sq.Value]
			sq.Marked = ok
		}
	}
	return out
}

// CheckBingo reports whether any line is fully marked.
func CheckBingo(card models.BingoCard) bool {
	for _, l := range Lines {
		if l.markedCount(card) == models.GridSize {
			return true
		}
	}
	return false
}

// CheckReach reports whether some line is one square short of complete. It is
// always false once the card has a bingo.
func CheckReach(card models.BingoCard) bool {
	if CheckBingo(card) {
		return false
	}
	for _, l := range Lines {
		if l.markedCount(card) == models.GridSize-1 {
			return true
		}
	}
	return false
}

// ReachSquares returns every coordinate on lines with exactly one unmarked
// square, deduplicated, in row-major order. It exists for highlighting only.
func ReachSquares(card models.BingoCard) []Coord {
	var hit [models.GridSize][models.GridSize]bool
	for _, l := range Lines {
		if l.markedCount(card) != models.GridSize-1 {
			continue
		}
		for _, c := range l.Coords {
			hit[c.Row][c.Col] = true
		}
	}
	out := []Coord{}
	for row := 0; row < models.GridSize; row++ {
		for col := 0; col < models.GridSize; col++ {
			if hit[row][col] {
				out = append(out, Coord{Row: row, Col: col})
			}
		}
	}
	return out
}

// CompletedLines returns the fully marked lines.
func CompletedLines(card models.BingoCard) []Line {
	var out []Line
	for _, l := range Lines {
		if l.markedCount(card) == models.GridSize {
			out = append(out, l)
		}
	}
	return out
}

// Evaluation is the derived state of one card against one drawn set.
type Evaluation struct {
	Card         models.BingoCard `json:"card"`
	Bingo        bool             `json:"bingo"`
	Reach        bool             `json:"reach"`
	ReachSquares []Coord          `json:"reach_squares"`
}

// Evaluate marks card against drawn and derives bingo and reach. Reach is only
// evaluated when there is no bingo.
func Evaluate(card models.BingoCard, drawn []int) Evaluation {
	marked := ApplyDrawn(card, drawn)
	ev := Evaluation{Card: marked, ReachSquares: []Coord{}}
	if CheckBingo(marked) {
		ev.Bingo = true
		return ev
	}
	ev.Reach = CheckReach(marked)
	if ev.Reach {
		ev.ReachSquares = ReachSquares(marked)
	}
	return ev
}
