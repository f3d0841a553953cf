package realtime

import (
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Server is the path-addressed realtime store. All mutations are serialized
// per server; watchers whose path is an ancestor or descendant of a changed
// path receive the full new value at their own path.
type Server struct {
	mu       sync.Mutex
	root     map[string]any
	watchers map[uint64]*Subscription
	nextSub  uint64
	sessions map[string]*Session
	hooks    map[string]map[string]struct{} // session id -> paths deleted on disconnect
	keys     *KeyGenerator
	onChange func(segs []string, before, after any)
	onHooks  func()
}

// NewServer creates an empty store.
func NewServer() (*Server, error) {
	keys, err := NewKeyGenerator()
	if err != nil {
		return nil, err
	}
	return &Server{
		root:     make(map[string]any),
		watchers: make(map[uint64]*Subscription),
		sessions: make(map[string]*Session),
		hooks:    make(map[string]map[string]struct{}),
		keys:     keys,
	}, nil
}

// Connect opens a new client session.
func (s *Server) Connect() *Session {
	sess := &Session{
		id:     uuid.New().String(),
		server: s,
		subs:   make(map[*Subscription]struct{}),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

// Read returns a copy of the value at path.
func (s *Server) Read(path string) (any, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(lookup(s.root, segs)), nil
}

// Stats reports the number of open sessions and active watchers.
func (s *Server) Stats() (sessions, watchers int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions), len(s.watchers)
}

// CloseAll closes every open session, running their disconnect hooks.
func (s *Server) CloseAll() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.Close()
	}
}

func (s *Server) watch(path string) (*Subscription, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSub++
	sub := newSubscription(s.nextSub, joinPath(segs), segs, s.unwatch)
	s.watchers[sub.id] = sub
	sub.deliver(Snapshot{Path: sub.path, Value: clone(lookup(s.root, segs))})
	return sub, nil
}

func (s *Server) unwatch(sub *Subscription) {
	s.mu.Lock()
	delete(s.watchers, sub.id)
	s.mu.Unlock()
}

// mutate runs fn against the current value at path and stores its result.
// fn returns false to leave the value untouched.
func (s *Server) mutate(path string, fn func(current any) (any, bool, error)) (bool, error) {
	segs, err := splitPath(path)
	if err != nil {
		return false, err
	}
	if len(segs) == 0 {
		return false, fmt.Errorf("%w: cannot write the root", ErrInvalidPath)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	before := lookup(s.root, segs)
	next, ok, err := fn(clone(before))
	if err != nil || !ok {
		return false, err
	}
	value, err := normalize(next)
	if err != nil {
		return false, err
	}
	if reflect.DeepEqual(before, value) {
		return true, nil
	}

	beforeCopy := clone(before)
	assign(s.root, segs, value)
	s.notifyLocked(segs)
	if s.onChange != nil {
		s.onChange(segs, beforeCopy, clone(value))
	}
	return true, nil
}

func (s *Server) notifyLocked(segs []string) {
	for _, sub := range s.watchers {
		if related(segs, sub.segs) {
			sub.deliver(Snapshot{Path: sub.path, Value: clone(lookup(s.root, sub.segs))})
		}
	}
}

func (s *Server) write(path string, value any) error {
	_, err := s.mutate(path, func(any) (any, bool, error) {
		return value, true, nil
	})
	return err
}

func (s *Server) writeIfAbsent(path string, value any) (bool, error) {
	return s.mutate(path, func(current any) (any, bool, error) {
		if current != nil {
			return nil, false, nil
		}
		return value, true, nil
	})
}

func (s *Server) remove(path string) error {
	_, err := s.mutate(path, func(any) (any, bool, error) {
		return nil, true, nil
	})
	return err
}

func (s *Server) nextKey() string {
	return s.keys.Next()
}

func (s *Server) addHook(sessionID, path string) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return fmt.Errorf("%w: cannot delete the root", ErrInvalidPath)
	}
	s.mu.Lock()
	set, ok := s.hooks[sessionID]
	if !ok {
		set = make(map[string]struct{})
		s.hooks[sessionID] = set
	}
	set[joinPath(segs)] = struct{}{}
	onHooks := s.onHooks
	s.mu.Unlock()

	if onHooks != nil {
		onHooks()
	}
	return nil
}

func (s *Server) cancelHook(sessionID, path string) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if set, ok := s.hooks[sessionID]; ok {
		delete(set, joinPath(segs))
		if len(set) == 0 {
			delete(s.hooks, sessionID)
		}
	}
	onHooks := s.onHooks
	s.mu.Unlock()

	if onHooks != nil {
		onHooks()
	}
	return nil
}

// disconnect executes and forgets the session's disconnect hooks.
func (s *Server) disconnect(sessionID string) {
	s.mu.Lock()
	paths := sortedPaths(s.hooks[sessionID])
	delete(s.hooks, sessionID)
	delete(s.sessions, sessionID)
	onHooks := s.onHooks
	s.mu.Unlock()

	for _, p := range paths {
		if err := s.remove(p); err != nil {
			slog.Warn("Disconnect hook failed", "session", sessionID, "path", p, "error", err)
		}
	}
	if onHooks != nil && len(paths) > 0 {
		onHooks()
	}
}

// pendingHooks returns a copy of the hook registry.
func (s *Server) pendingHooks() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]string, len(s.hooks))
	for id, set := range s.hooks {
		out[id] = sortedPaths(set)
	}
	return out
}

func sortedPaths(set map[string]struct{}) []string {
	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
