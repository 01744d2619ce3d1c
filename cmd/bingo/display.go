package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/HammerMeetNail/bingohall/internal/bingo"
	"github.com/HammerMeetNail/bingohall/internal/models"
	"github.com/HammerMeetNail/bingohall/internal/reveal"
)

// termDisplay redraws the reveal on a single terminal line.
type termDisplay struct {
	mu     sync.Mutex
	w      io.Writer
	prefix string
	last   int
}

func newTermDisplay(w io.Writer, prefix string) *termDisplay {
	return &termDisplay{w: w, prefix: prefix}
}

func (d *termDisplay) Show(value int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = value
	fmt.Fprintf(d.w, "\r%s %-6s", d.prefix, models.Label(value))
}

func (d *termDisplay) StateChanged(state reveal.State) {
	if state != reveal.StateSettled {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.w, "\r%s %-6s\n", d.prefix, models.Label(d.last))
}

// formatCard prints a card as a grid. Marked squares are bracketed and the
// free square is shown as "FREE".
func formatCard(card models.BingoCard) string {
	var b strings.Builder
	for _, letter := range models.ColumnLetters {
		fmt.Fprintf(&b, "%5c ", letter)
	}
	b.WriteString("\n")
	for row := 0; row < models.GridSize; row++ {
		for col := 0; col < models.GridSize; col++ {
			sq := card.Squares[row][col]
			switch {
			case sq.IsFree():
				b.WriteString(" FREE ")
			case sq.Marked:
				fmt.Fprintf(&b, " [%2d] ", sq.Value)
			default:
				fmt.Fprintf(&b, "  %2d  ", sq.Value)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// formatStatus is the one-line summary printed after each committed draw.
func formatStatus(name string, drawn []int, eval bingo.Evaluation, p *models.Participant) string {
	last := "-"
	if len(drawn) > 0 {
		last = models.Label(drawn[len(drawn)-1])
	}
	status := "playing"
	switch {
	case p != nil && p.BingoRank != nil:
		status = fmt.Sprintf("BINGO #%d", *p.BingoRank)
	case eval.Bingo:
		status = "BINGO"
	case eval.Reach:
		status = fmt.Sprintf("REACH (%d)", len(eval.ReachSquares))
	}
	return fmt.Sprintf("%s: %d drawn, last %s, %d marked, %s",
		name, len(drawn), last, eval.Card.MarkedCount(), status)
}
