package bingo

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/HammerMeetNail/bingohall/internal/models"
)

var ErrExhausted = errors.New("all numbers have been drawn")

// Allocator picks the next number for a game. The result is a candidate only;
// it becomes part of the game once the organizer commits it.
type Allocator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewAllocator(src rand.Source) *Allocator {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Allocator{rng: rand.New(src)}
}

// Draw picks uniformly from the numbers not yet in drawn.
func (a *Allocator) Draw(drawn []int) (int, error) {
	pool := Remaining(drawn)
	if len(pool) == 0 {
		return 0, ErrExhausted
	}
	a.mu.Lock()
	i := a.rng.Intn(len(pool))
	a.mu.Unlock()
	return pool[i], nil
}

// Remaining lists the undrawn numbers in ascending order.
func Remaining(drawn []int) []int {
	var taken [models.MaxNumber + 1]bool
	for _, n := range drawn {
		if models.IsValidNumber(n) {
			taken[n] = true
		}
	}
	pool := make([]int, 0, models.MaxNumber)
	for n := models.MinNumber; n <= models.MaxNumber; n++ {
		if !taken[n] {
			pool = append(pool, n)
		}
	}
	return pool
}
