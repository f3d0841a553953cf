// Package prefs keeps per-browser preferences: the chosen display name and
// the color remembered for each name.
package prefs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/example/ephemeral-chat/domain/chat"
	"github.com/example/ephemeral-chat/modules/reconciler"
)

// Preference keys, scoped per browser client.
const (
	KeyUserName        = "userName"
	KeyUserColorPrefix = "userColor_"
)

// Backend is the key-value storage behind preferences. It is satisfied by
// the gofiber storage drivers and MemoryBackend.
type Backend interface {
	GetWithContext(ctx context.Context, key string) ([]byte, error)
	SetWithContext(ctx context.Context, key string, val []byte, exp time.Duration) error
	DeleteWithContext(ctx context.Context, key string) error
	Close() error
}

// Store reads and writes preferences for any client.
type Store struct {
	mu      sync.RWMutex
	backend Backend
	prefix  string
	ttl     time.Duration
}

// NewStore creates a Store. backend may be bound later with Bind.
func NewStore(backend Backend, prefix string, ttl time.Duration) *Store {
	return &Store{backend: backend, prefix: prefix, ttl: ttl}
}

// Bind sets the backend.
func (s *Store) Bind(backend Backend) {
	s.mu.Lock()
	s.backend = backend
	s.mu.Unlock()
}

func (s *Store) get() (Backend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.backend == nil {
		return nil, ErrNotStarted
	}
	return s.backend, nil
}

// For returns the preferences of one browser client.
func (s *Store) For(clientID string) (*Prefs, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" || strings.ContainsAny(clientID, ": ") {
		return nil, ErrInvalidClientID
	}
	return &Prefs{store: s, clientID: clientID}, nil
}

func (s *Store) key(clientID, name string) string {
	return s.prefix + clientID + ":" + name
}

// Prefs are the preferences of one browser client.
type Prefs struct {
	store    *Store
	clientID string
}

func (p *Prefs) read(ctx context.Context, name string) (string, error) {
	b, err := p.store.get()
	if err != nil {
		return "", err
	}
	data, err := b.GetWithContext(ctx, p.store.key(p.clientID, name))
	if err != nil {
		return "", fmt.Errorf("prefs get error: %w", err)
	}
	return string(data), nil
}

func (p *Prefs) write(ctx context.Context, name, value string) error {
	b, err := p.store.get()
	if err != nil {
		return err
	}
	if err := b.SetWithContext(ctx, p.store.key(p.clientID, name), []byte(value), p.store.ttl); err != nil {
		return fmt.Errorf("prefs set error: %w", err)
	}
	return nil
}

// UserName returns the stored display name, or the default name when none
// was saved.
func (p *Prefs) UserName(ctx context.Context) (string, error) {
	name, err := p.read(ctx, KeyUserName)
	if err != nil {
		return domain.DefaultDisplayName, err
	}
	if name == "" {
		return domain.DefaultDisplayName, nil
	}
	return name, nil
}

// SetUserName validates and saves the display name.
func (p *Prefs) SetUserName(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if err := domain.ValidateDisplayName(name); err != nil {
		return err
	}
	return p.write(ctx, KeyUserName, name)
}

// UserColor returns the remembered color for name.
func (p *Prefs) UserColor(ctx context.Context, name string) (string, bool, error) {
	color, err := p.read(ctx, KeyUserColorPrefix+name)
	if err != nil {
		return "", false, err
	}
	if !reconciler.ValidColor(color) {
		return "", false, nil
	}
	return color, true, nil
}

// ColorFor returns the remembered color for name, generating and saving a
// new one on first use.
func (p *Prefs) ColorFor(ctx context.Context, name string) (string, error) {
	color, ok, err := p.UserColor(ctx, name)
	if err != nil {
		return reconciler.RandomColor(), err
	}
	if ok {
		return color, nil
	}
	color = reconciler.RandomColor()
	if err := p.write(ctx, KeyUserColorPrefix+name, color); err != nil {
		return color, err
	}
	return color, nil
}
