package reconciler

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"sync"
)

// maxRed caps the red channel so generated colors stay readable on the
// dark background.
const maxRed = 200

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// RandomColor returns a #rrggbb color whose red byte is at most 200.
func RandomColor() string {
	return randomColor(rand.Uint32)
}

func randomColor(next func() uint32) string {
	for {
		v := next() & 0xFFFFFF
		if v>>16 <= maxRed {
			return fmt.Sprintf("#%06x", v)
		}
	}
}

// ValidColor reports whether c is a #rrggbb color.
func ValidColor(c string) bool {
	return colorPattern.MatchString(c)
}

// ColorBook assigns display colors per sender. Assignment is additive: a
// sender keeps its first color for the lifetime of the book.
type ColorBook struct {
	mu     sync.RWMutex
	colors map[string]string
	random func() string
}

// NewColorBook creates an empty ColorBook.
func NewColorBook() *ColorBook {
	return &ColorBook{
		colors: make(map[string]string),
		random: RandomColor,
	}
}

// Set pins sender to color unless sender already has one. Invalid colors
// are ignored. It returns the sender's color.
func (b *ColorBook) Set(sender, color string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.colors[sender]; ok {
		return existing
	}
	if !ValidColor(color) {
		color = b.random()
	}
	b.colors[sender] = color
	return color
}

// Assign gives every sender that has no color yet a fresh one. It returns
// true when any color was added.
func (b *ColorBook) Assign(senders ...string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	added := false
	for _, s := range senders {
		if s == "" {
			continue
		}
		if _, ok := b.colors[s]; !ok {
			b.colors[s] = b.random()
			added = true
		}
	}
	return added
}

// Color returns the sender's color, if assigned.
func (b *ColorBook) Color(sender string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.colors[sender]
	return c, ok
}

// Snapshot returns a copy of all assignments.
func (b *ColorBook) Snapshot() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]string, len(b.colors))
	for k, v := range b.colors {
		out[k] = v
	}
	return out
}
