package realtime

import (
	"context"
	"strings"
	"sync"
)

// Client is one connection to the realtime store. Collaborators hold a
// Client explicitly; its lifetime is the lifetime of the connection.
type Client interface {
	// ID identifies the connection.
	ID() string
	// Watch subscribes to the full value at path. The subscription ends when
	// ctx is cancelled, Stop is called, or the client closes.
	Watch(ctx context.Context, path string) (*Subscription, error)
	// Get reads the current value at path once.
	Get(ctx context.Context, path string) (any, error)
	// Write replaces the value at path. A nil value deletes it.
	Write(ctx context.Context, path string, value any) error
	// Append stores value under a generated, creation-ordered child key.
	Append(ctx context.Context, path string, value any) (string, error)
	// WriteIfAbsent writes value only when nothing exists at path.
	WriteIfAbsent(ctx context.Context, path string, value any) (bool, error)
	// Update atomically replaces the value at path with fn's result. When fn
	// returns false the value is left untouched and Update reports false.
	Update(ctx context.Context, path string, fn func(current any) (any, bool)) (bool, error)
	// Delete removes the value at path. Deleting an absent path is a no-op.
	Delete(ctx context.Context, path string) error
	// OnDisconnect returns the disconnect hook for path.
	OnDisconnect(path string) *DisconnectOp
	// Close ends the connection and runs its disconnect hooks.
	Close() error
}

// Session is a Client connected to an in-process Server.
type Session struct {
	id     string
	server *Server

	mu     sync.Mutex
	closed bool
	subs   map[*Subscription]struct{}
}

var _ Client = (*Session)(nil)

// ID returns the session id.
func (c *Session) ID() string {
	return c.id
}

func (c *Session) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	return nil
}

// Watch subscribes to path.
func (c *Session) Watch(ctx context.Context, path string) (*Subscription, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	sub, err := c.server.watch(path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.Stop()
		return nil, ErrSessionClosed
	}
	c.subs[sub] = struct{}{}
	c.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Stop()
		case <-sub.Done():
		}
		c.mu.Lock()
		delete(c.subs, sub)
		c.mu.Unlock()
	}()
	return sub, nil
}

// Get reads path once.
func (c *Session) Get(ctx context.Context, path string) (any, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	return c.server.Read(path)
}

// Write replaces the value at path.
func (c *Session) Write(ctx context.Context, path string, value any) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	return c.server.write(path, value)
}

// Append stores value under a generated key and returns the key.
func (c *Session) Append(ctx context.Context, path string, value any) (string, error) {
	if err := c.check(ctx); err != nil {
		return "", err
	}
	key := c.server.nextKey()
	if err := c.server.write(strings.TrimSuffix(path, "/")+"/"+key, value); err != nil {
		return "", err
	}
	return key, nil
}

// WriteIfAbsent writes value when nothing exists at path.
func (c *Session) WriteIfAbsent(ctx context.Context, path string, value any) (bool, error) {
	if err := c.check(ctx); err != nil {
		return false, err
	}
	return c.server.writeIfAbsent(path, value)
}

// Update atomically transforms the value at path.
func (c *Session) Update(ctx context.Context, path string, fn func(current any) (any, bool)) (bool, error) {
	if err := c.check(ctx); err != nil {
		return false, err
	}
	return c.server.mutate(path, func(current any) (any, bool, error) {
		next, ok := fn(current)
		return next, ok, nil
	})
}

// Delete removes path.
func (c *Session) Delete(ctx context.Context, path string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	return c.server.remove(path)
}

// OnDisconnect returns the disconnect hook for path.
func (c *Session) OnDisconnect(path string) *DisconnectOp {
	return &DisconnectOp{session: c, path: path}
}

// Close stops every subscription and runs the disconnect hooks. Closing an
// already closed session is a no-op.
func (c *Session) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := make([]*Subscription, 0, len(c.subs))
	for sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Stop()
	}
	c.server.disconnect(c.id)
	return nil
}

// DisconnectOp is an action the store performs when the session closes.
type DisconnectOp struct {
	session *Session
	path    string
}

// Delete registers deletion of the path on disconnect.
func (op *DisconnectOp) Delete() error {
	if err := op.session.check(context.Background()); err != nil {
		return err
	}
	return op.session.server.addHook(op.session.id, op.path)
}

// Cancel removes a previously registered hook for the path.
func (op *DisconnectOp) Cancel() error {
	return op.session.server.cancelHook(op.session.id, op.path)
}
