package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Persister is a durable key/document store the server writes through to.
// Keys are safe for NATS KV and Redis keyspaces.
type Persister interface {
	Name() string
	Load(ctx context.Context) (map[string][]byte, error)
	Save(ctx context.Context, key string, doc []byte) error
	Remove(ctx context.Context, key string) error
	Close() error
}

const (
	// unitDepth is the depth of persisted subtrees: rooms/{roomId}.
	unitDepth = 2

	unitKeyPrefix = "u."
	hooksKey      = "disconnect-hooks"
)

func unitKey(unit string) string {
	return unitKeyPrefix + base64.RawURLEncoding.EncodeToString([]byte(unit))
}

func unitFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, unitKeyPrefix) {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(key, unitKeyPrefix))
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// Flusher writes changed subtrees to a Persister in the background. Each
// subtree at unitDepth is stored as one JSON document; bursts of changes to
// the same subtree are coalesced into one write.
type Flusher struct {
	server    *Server
	persister Persister
	interval  time.Duration

	mu         sync.Mutex
	dirty      map[string]struct{}
	hooksDirty bool

	wake chan struct{}
	done chan struct{}
}

// NewFlusher attaches a Flusher to server. Call Load before Run.
func NewFlusher(server *Server, persister Persister, interval time.Duration) *Flusher {
	f := &Flusher{
		server:    server,
		persister: persister,
		interval:  interval,
		dirty:     make(map[string]struct{}),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	server.mu.Lock()
	server.onChange = f.markChanged
	server.onHooks = f.markHooks
	server.mu.Unlock()
	return f
}

// Load restores persisted subtrees into the server and runs disconnect hooks
// left over from a previous process: none of its connections survived.
func (f *Flusher) Load(ctx context.Context) (int, error) {
	docs, err := f.persister.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load from %s: %w", f.persister.Name(), err)
	}

	var orphaned map[string][]string
	restored := 0

	f.server.mu.Lock()
	for key, doc := range docs {
		if key == hooksKey {
			if err := json.Unmarshal(doc, &orphaned); err != nil {
				slog.Warn("Discarding unreadable disconnect hooks", "error", err)
			}
			continue
		}
		unit, ok := unitFromKey(key)
		if !ok {
			continue
		}
		segs, err := splitPath(unit)
		if err != nil || len(segs) != unitDepth {
			continue
		}
		var value any
		if err := json.Unmarshal(doc, &value); err != nil {
			slog.Warn("Discarding unreadable document", "unit", unit, "error", err)
			continue
		}
		if value = prune(value); value != nil {
			assign(f.server.root, segs, value)
			restored++
		}
	}
	f.server.mu.Unlock()

	for sessionID, paths := range orphaned {
		for _, p := range paths {
			if err := f.server.remove(p); err != nil {
				slog.Warn("Orphaned disconnect hook failed", "session", sessionID, "path", p, "error", err)
			}
		}
	}
	f.markHooks()
	return restored, nil
}

// Run flushes until ctx is cancelled, then performs a final flush.
func (f *Flusher) Run(ctx context.Context) {
	defer close(f.done)
	for {
		select {
		case <-ctx.Done():
			f.flush(context.Background())
			return
		case <-f.wake:
			f.flush(ctx)
			if f.interval > 0 {
				select {
				case <-time.After(f.interval):
				case <-ctx.Done():
				}
			}
		}
	}
}

// Wait blocks until Run has returned.
func (f *Flusher) Wait() {
	<-f.done
}

func (f *Flusher) markChanged(segs []string, before, after any) {
	units := affectedUnits(segs, before, after)
	if len(units) == 0 {
		return
	}
	f.mu.Lock()
	for _, u := range units {
		f.dirty[u] = struct{}{}
	}
	f.mu.Unlock()
	f.signal()
}

func (f *Flusher) markHooks() {
	f.mu.Lock()
	f.hooksDirty = true
	f.mu.Unlock()
	f.signal()
}

func (f *Flusher) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *Flusher) flush(ctx context.Context) {
	f.mu.Lock()
	units := make([]string, 0, len(f.dirty))
	for u := range f.dirty {
		units = append(units, u)
	}
	f.dirty = make(map[string]struct{})
	hooks := f.hooksDirty
	f.hooksDirty = false
	f.mu.Unlock()

	for _, unit := range units {
		value, err := f.server.Read(unit)
		if err != nil {
			continue
		}
		if value == nil {
			if err := f.persister.Remove(ctx, unitKey(unit)); err != nil {
				slog.Error("Failed to remove persisted subtree", "unit", unit, "backend", f.persister.Name(), "error", err)
			}
			continue
		}
		doc, err := json.Marshal(value)
		if err != nil {
			slog.Error("Failed to encode subtree", "unit", unit, "error", err)
			continue
		}
		if err := f.persister.Save(ctx, unitKey(unit), doc); err != nil {
			slog.Error("Failed to persist subtree", "unit", unit, "backend", f.persister.Name(), "error", err)
		}
	}

	if hooks {
		doc, err := json.Marshal(f.server.pendingHooks())
		if err == nil {
			err = f.persister.Save(ctx, hooksKey, doc)
		}
		if err != nil {
			slog.Error("Failed to persist disconnect hooks", "backend", f.persister.Name(), "error", err)
		}
	}
}

// affectedUnits lists the persisted subtrees touched by a change at segs.
func affectedUnits(segs []string, before, after any) []string {
	if len(segs) >= unitDepth {
		return []string{joinPath(segs[:unitDepth])}
	}
	seen := make(map[string]struct{})
	collectUnits(segs, before, seen)
	collectUnits(segs, after, seen)
	units := make([]string, 0, len(seen))
	for u := range seen {
		units = append(units, u)
	}
	return units
}

func collectUnits(segs []string, v any, seen map[string]struct{}) {
	if len(segs) == unitDepth {
		seen[joinPath(segs)] = struct{}{}
		return
	}
	m, ok := v.(map[string]any)
	if !ok {
		return
	}
	for k, child := range m {
		next := append(append([]string(nil), segs...), k)
		collectUnits(next, child, seen)
	}
}
