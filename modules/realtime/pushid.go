package realtime

import (
	"fmt"
	"strings"
	"sync"
	"time"

	nanoid "github.com/jaevor/go-nanoid"
)

// pushChars is ordered by ASCII value so generated keys sort lexically in
// creation order.
const pushChars = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

const (
	pushTimeLen   = 8
	pushRandomLen = 12
)

// KeyGenerator produces append keys: 8 characters of millisecond time
// followed by 12 random characters. Keys generated within the same
// millisecond increment the random suffix, so ordering holds per generator.
type KeyGenerator struct {
	mu       sync.Mutex
	random   func() string
	now      func() time.Time
	lastTime int64
	lastRand [pushRandomLen]int
}

// NewKeyGenerator creates a KeyGenerator seeded from nanoid.
func NewKeyGenerator() (*KeyGenerator, error) {
	random, err := nanoid.CustomASCII(pushChars, pushRandomLen)
	if err != nil {
		return nil, fmt.Errorf("failed to create key generator: %w", err)
	}
	return &KeyGenerator{
		random: random,
		now:    time.Now,
	}, nil
}

// Next returns the next key.
func (g *KeyGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UnixMilli()
	if now == g.lastTime {
		g.increment()
	} else {
		suffix := g.random()
		for i := 0; i < pushRandomLen; i++ {
			g.lastRand[i] = strings.IndexByte(pushChars, suffix[i])
		}
		g.lastTime = now
	}

	var b strings.Builder
	b.Grow(pushTimeLen + pushRandomLen)

	var ts [pushTimeLen]byte
	t := now
	for i := pushTimeLen - 1; i >= 0; i-- {
		ts[i] = pushChars[t%64]
		t /= 64
	}
	b.Write(ts[:])
	for _, idx := range g.lastRand {
		b.WriteByte(pushChars[idx])
	}
	return b.String()
}

func (g *KeyGenerator) increment() {
	i := pushRandomLen - 1
	for ; i >= 0 && g.lastRand[i] == 63; i-- {
		g.lastRand[i] = 0
	}
	if i >= 0 {
		g.lastRand[i]++
	}
}
