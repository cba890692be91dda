package store

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// pushChars is ordered by ASCII value so keys sort lexically in creation order.
const pushChars = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

const (
	pushTimeChars   = 8
	pushRandomChars = 12
)

// KeyGenerator produces 20-character push keys: 8 characters of millisecond
// timestamp followed by 12 random characters. Keys generated in the same
// millisecond increment the random part, so they stay strictly ordered.
type KeyGenerator struct {
	clock clockwork.Clock

	mu       sync.Mutex
	lastTime int64
	lastRand [pushRandomChars]int
}

// NewKeyGenerator creates a generator driven by clock.
func NewKeyGenerator(clock clockwork.Clock) *KeyGenerator {
	return &KeyGenerator{clock: clock}
}

// Next returns a new key.
func (g *KeyGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now().UnixMilli()
	if now <= g.lastTime {
		// Same millisecond, or the clock stepped back: keep the old timestamp
		// and bump the random suffix.
		now = g.lastTime
		g.increment()
	} else {
		g.lastTime = now
		g.randomize()
	}

	var key [pushTimeChars + pushRandomChars]byte
	ts := now
	for i := pushTimeChars - 1; i >= 0; i-- {
		key[i] = pushChars[ts%64]
		ts /= 64
	}
	for i := 0; i < pushRandomChars; i++ {
		key[pushTimeChars+i] = pushChars[g.lastRand[i]]
	}
	return string(key[:])
}

func (g *KeyGenerator) randomize() {
	b := uuid.New()
	for i := 0; i < pushRandomChars; i++ {
		g.lastRand[i] = int(b[i] % 64)
	}
}

func (g *KeyGenerator) increment() {
	i := pushRandomChars - 1
	for ; i >= 0 && g.lastRand[i] == 63; i-- {
		g.lastRand[i] = 0
	}
	if i >= 0 {
		g.lastRand[i]++
	}
}
