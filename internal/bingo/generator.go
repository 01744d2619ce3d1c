// Package bingo holds the pure game rules: card generation, marking and win
// detection, and draw allocation. Nothing here performs I/O.
package bingo

import (
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/HammerMeetNail/bingohall/internal/models"
)

// Generator produces standard 75-ball cards. It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator returns a Generator reading from src. A nil src seeds from the
// current time.
func NewGenerator(src rand.Source) *Generator {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Generator{rng: rand.New(src)}
}

// Card returns a freshly generated card with only the FREE square marked.
func (g *Generator) Card() models.BingoCard {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cardLocked()
}

func (g *Generator) cardLocked() models.BingoCard {
	var cols [models.GridSize][models.GridSize]int
	for col := 0; col < models.GridSize; col++ {
		count := models.GridSize
		if col == models.FreeCol {
			count = models.GridSize - 1
		}
		picked := g.sample(col, count)
		if col == models.FreeCol {
			picked = slices.Insert(picked, models.FreeRow, models.Free)
		}
		copy(cols[col][:], picked)
	}
	return models.CardFromColumns(cols)
}

// sample draws count distinct numbers from the column's band.
func (g *Generator) sample(col, count int) []int {
	lo, _ := models.ColumnBand(col)
	perm := g.rng.Perm(models.BandSize)
	out := make([]int, count)
	for i := 0; i < count; i++ {
		out[i] = lo + perm[i]
	}
	return out
}

// UniqueCards returns n cards with pairwise distinct layouts. Duplicates are
// rejected and regenerated; with roughly 5.5e26 possible layouts the loop
// terminates quickly in practice, but no retry bound is imposed.
func (g *Generator) UniqueCards(n int) []models.BingoCard {
	if n <= 0 {
		return []models.BingoCard{}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	cards := make([]models.BingoCard, 0, n)
	seen := make(map[string]struct{}, n)
	for len(cards) < n {
		card := g.cardLocked()
		key := card.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		cards = append(cards, card)
	}
	return cards
}
