// Package queue reorders a caucus speaker queue, either by interlacing
// stances or by moving one entry.
package queue

import (
	"github.com/mcdev12/caucus/go/internal/models"
)

// interlaceOrder is the round-robin order of the stance sub-lists.
var interlaceOrder = []models.Stance{models.StanceFor, models.StanceAgainst, models.StanceNeutral}

// Interlace alternates stances: the first For, the first Against, the first
// Neutral, the second For and so on. Each stance keeps its relative order and
// an exhausted stance is skipped rather than padded. Entries with an unknown
// stance are appended at the end in their original order.
func Interlace[T any](items []T, stance func(T) models.Stance) []T {
	buckets := make(map[models.Stance][]T, len(interlaceOrder))
	var other []T
	longest := 0
	for _, it := range items {
		s := stance(it)
		if !s.Valid() {
			other = append(other, it)
			continue
		}
		buckets[s] = append(buckets[s], it)
		if n := len(buckets[s]); n > longest {
			longest = n
		}
	}

	out := make([]T, 0, len(items))
	for i := 0; i < longest; i++ {
		for _, s := range interlaceOrder {
			if b := buckets[s]; i < len(b) {
				out = append(out, b[i])
			}
		}
	}
	return append(out, other...)
}

// Move removes the entry at from and reinserts it at to, on a copy of items.
// It returns false and items unchanged when either index is out of range.
func Move[T any](items []T, from, to int) ([]T, bool) {
	if from < 0 || from >= len(items) || to < 0 || to >= len(items) {
		return items, false
	}

	out := make([]T, 0, len(items))
	out = append(out, items[:from]...)
	out = append(out, items[from+1:]...)

	moved := items[from]
	out = append(out[:to], append([]T{moved}, out[to:]...)...)
	return out, true
}
