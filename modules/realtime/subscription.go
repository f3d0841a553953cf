package realtime

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Snapshot is the full value at a watched path at one point in time.
// Value is nil when nothing exists at the path.
type Snapshot struct {
	Path  string
	Value any
}

// Exists reports whether a value exists at the path.
func (s Snapshot) Exists() bool {
	return s.Value != nil
}

// Keys returns the sorted child keys when the value is an object.
func (s Snapshot) Keys() []string {
	m, ok := s.Value.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Children returns the object value as a map, or nil.
func (s Snapshot) Children() map[string]any {
	m, _ := s.Value.(map[string]any)
	return m
}

// Decode unmarshals the value into v.
func (s Snapshot) Decode(v any) error {
	data, err := json.Marshal(s.Value)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return nil
}

// Subscription is a handle on a watched path. Updates delivers the latest
// snapshot; a slow reader skips intermediate values but always observes the
// newest one. The channel is closed by Stop.
type Subscription struct {
	id      uint64
	path    string
	segs    []string
	updates chan Snapshot
	done    chan struct{}

	mu      sync.Mutex
	stopped bool
	onStop  func(*Subscription)
}

func newSubscription(id uint64, path string, segs []string, onStop func(*Subscription)) *Subscription {
	return &Subscription{
		id:      id,
		path:    path,
		segs:    segs,
		updates: make(chan Snapshot, 1),
		done:    make(chan struct{}),
		onStop:  onStop,
	}
}

// Path returns the watched path.
func (s *Subscription) Path() string {
	return s.path
}

// Updates returns the snapshot stream.
func (s *Subscription) Updates() <-chan Snapshot {
	return s.updates
}

// Done is closed when the subscription stops.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Stop ends the subscription. It is safe to call more than once.
func (s *Subscription) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.updates)
	close(s.done)
	s.mu.Unlock()

	if s.onStop != nil {
		s.onStop(s)
	}
}

// deliver replaces any undelivered snapshot with snap without blocking.
func (s *Subscription) deliver(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	select {
	case s.updates <- snap:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	s.updates <- snap
}
