// Package lifecycle derives a room's expiry from its presence set and the
// stored deletion timer, and deletes the room when the countdown ends.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	domain "github.com/example/ephemeral-chat/domain/chat"
	"github.com/example/ephemeral-chat/modules/realtime"
)

// State of a room as seen by one client.
type State string

// Room states.
const (
	Populated      State = "populated"
	TimerPending   State = "timer_pending"
	TimerCancelled State = "timer_cancelled"
	Deleted        State = "deleted"
)

// Config holds the controller timings.
type Config struct {
	// SettleDelay is waited after the room looks empty before arming the timer.
	SettleDelay time.Duration
	// Grace is added to the current time to form the deletion time.
	Grace time.Duration
	// TickInterval is the countdown refresh period.
	TickInterval time.Duration
	// Now returns the wall clock. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		SettleDelay:  1500 * time.Millisecond,
		Grace:        120 * time.Second,
		TickInterval: time.Second,
		Now:          time.Now,
	}
}

// Status is the controller's view of the room.
type Status struct {
	RoomID       string `json:"roomId"`
	State        State  `json:"state"`
	DeletionTime int64  `json:"deletionTime,omitempty"`
	Remaining    int    `json:"remaining"`
	Online       int    `json:"online"`
}

// Listener is notified of lifecycle transitions observed by this client.
type Listener interface {
	ExpiryScheduled(roomID string, deletionTime int64)
	ExpiryCancelled(roomID string)
	RoomDeleted(roomID string)
}

// Remaining returns the whole seconds left until deletionTime, rounded up
// and never negative. It depends only on the stored value and the clock.
func Remaining(deletionTime int64, now time.Time) int {
	diff := deletionTime - now.UnixMilli()
	if diff <= 0 {
		return 0
	}
	return int((diff + 999) / 1000)
}

// Controller runs the lifecycle state machine for one room and one client.
type Controller struct {
	client   realtime.Client
	roomID   string
	self     string
	cfg      Config
	listener Listener

	presence chan []string
	statuses chan Status
	deleted  chan struct{}
	stop     chan struct{}
	done     chan struct{}

	mu      sync.RWMutex
	status  Status
	started bool
	closed  bool
}

// New creates a controller. self is the current user's display name, or
// empty for a client that only observes. listener may be nil.
func New(client realtime.Client, roomID, self string, cfg Config, listener Listener) *Controller {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{
		client:   client,
		roomID:   roomID,
		self:     self,
		cfg:      cfg,
		listener: listener,
		presence: make(chan []string, 1),
		statuses: make(chan Status, 1),
		deleted:  make(chan struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		status:   Status{RoomID: roomID, State: Populated},
	}
}

// Start watches the room's deletion timer and runs the state machine until
// ctx is cancelled, Close is called, or the room is deleted.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("controller for room %s already started", c.roomID)
	}
	c.started = true
	c.mu.Unlock()

	sub, err := c.client.Watch(ctx, domain.DeletionTimerPath(c.roomID))
	if err != nil {
		close(c.done)
		return fmt.Errorf("failed to watch deletion timer: %w", err)
	}

	go c.run(ctx, sub)
	return nil
}

// ObservePresence feeds the latest online set into the state machine.
func (c *Controller) ObservePresence(users []string) {
	set := append([]string{}, users...)
	select {
	case c.presence <- set:
		return
	default:
	}
	select {
	case <-c.presence:
	default:
	}
	select {
	case c.presence <- set:
	default:
	}
}

// Statuses delivers the newest status after each change and each tick.
func (c *Controller) Statuses() <-chan Status {
	return c.statuses
}

// Deleted is closed once the room has been deleted.
func (c *Controller) Deleted() <-chan struct{} {
	return c.deleted
}

// Status returns the latest status.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// CancelTimer deletes the room's deletion timer. Every client observes the
// removal and collapses its countdown.
func (c *Controller) CancelTimer(ctx context.Context) error {
	if err := c.client.Delete(ctx, domain.DeletionTimerPath(c.roomID)); err != nil {
		return fmt.Errorf("failed to cancel deletion timer: %w", err)
	}
	return nil
}

// Close stops the state machine and all of its timers.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	started := c.started
	c.mu.Unlock()

	close(c.stop)
	if started {
		<-c.done
	}
}

// machine is the state owned by the run goroutine.
type machine struct {
	users      []string
	haveUsers  bool
	seenOthers bool
	armed      bool // settle already started for the current empty period
	timer      *int64
	state      State

	settle *time.Timer
	ticker *time.Ticker
}

func (m *machine) settleC() <-chan time.Time {
	if m.settle == nil {
		return nil
	}
	return m.settle.C
}

func (m *machine) tickC() <-chan time.Time {
	if m.ticker == nil {
		return nil
	}
	return m.ticker.C
}

func (m *machine) stopTimers() {
	if m.settle != nil {
		m.settle.Stop()
		m.settle = nil
	}
	if m.ticker != nil {
		m.ticker.Stop()
		m.ticker = nil
	}
}

func (c *Controller) run(ctx context.Context, sub *realtime.Subscription) {
	defer close(c.done)
	defer sub.Stop()

	m := &machine{state: Populated}
	defer m.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return

		case users := <-c.presence:
			m.users = users
			m.haveUsers = true
			for _, u := range users {
				if u != c.self {
					m.seenOthers = true
				}
			}
			c.evaluate(ctx, m)
			c.publish(m)

		case snap, ok := <-sub.Updates():
			if !ok {
				return
			}
			if c.onTimer(ctx, m, snap) {
				return
			}
			c.publish(m)

		case <-m.settleC():
			m.settle = nil
			c.arm(ctx, m)

		case <-m.tickC():
			if m.timer != nil && Remaining(*m.timer, c.cfg.Now()) == 0 {
				c.expire(ctx, m)
				return
			}
			c.publish(m)
		}
	}
}

// empty reports whether the room counts as empty: nobody online, or only
// this client before any other user has been seen since joining.
func (c *Controller) empty(m *machine) bool {
	if !m.haveUsers {
		return false
	}
	switch len(m.users) {
	case 0:
		return true
	case 1:
		return c.self != "" && m.users[0] == c.self && !m.seenOthers
	default:
		return false
	}
}

// hasOthers reports whether a user other than this client is online. Only
// then does this client revive a room by cancelling its timer.
func (c *Controller) hasOthers(m *machine) bool {
	if c.self == "" {
		return false
	}
	for _, u := range m.users {
		if u != c.self {
			return true
		}
	}
	return false
}

func (c *Controller) evaluate(ctx context.Context, m *machine) {
	if c.empty(m) {
		if m.timer == nil && !m.armed {
			m.armed = true
			m.settle = time.NewTimer(c.cfg.SettleDelay)
		}
		return
	}

	m.armed = false
	if m.settle != nil {
		m.settle.Stop()
		m.settle = nil
	}
	if m.state == TimerCancelled {
		m.state = Populated
	}
	if m.timer != nil && c.hasOthers(m) {
		if err := c.CancelTimer(ctx); err != nil {
			slog.Error("Failed to cancel deletion timer", "roomID", c.roomID, "error", err)
		}
	}
}

// arm writes the deletion timer after the settle delay if the room is still
// empty. An existing timer is never overwritten.
func (c *Controller) arm(ctx context.Context, m *machine) {
	if !c.empty(m) || m.timer != nil {
		return
	}
	deletionTime := c.cfg.Now().Add(c.cfg.Grace).UnixMilli()
	ok, err := c.client.WriteIfAbsent(ctx, domain.DeletionTimerPath(c.roomID), deletionTime)
	if err != nil {
		slog.Error("Failed to write deletion timer", "roomID", c.roomID, "error", err)
		return
	}
	if ok {
		slog.Info("Room deletion scheduled", "roomID", c.roomID, "deletionTime", deletionTime)
	}
}

// onTimer applies a deletion timer delivery. It returns true when the room
// turned out to be deleted.
func (c *Controller) onTimer(ctx context.Context, m *machine, snap realtime.Snapshot) bool {
	if deletionTime, ok := domain.TimestampFromValue(snap.Value); ok && snap.Exists() {
		changed := m.timer == nil || *m.timer != deletionTime
		m.timer = &deletionTime
		m.state = TimerPending
		if m.settle != nil {
			m.settle.Stop()
			m.settle = nil
		}
		if m.ticker == nil {
			m.ticker = time.NewTicker(c.cfg.TickInterval)
		}
		if changed && c.listener != nil {
			c.listener.ExpiryScheduled(c.roomID, deletionTime)
		}
		if Remaining(deletionTime, c.cfg.Now()) == 0 {
			c.expire(ctx, m)
			return true
		}
		if c.hasOthers(m) {
			c.evaluate(ctx, m)
		}
		return false
	}

	if snap.Exists() {
		slog.Warn("Ignoring malformed deletion timer", "roomID", c.roomID, "value", snap.Value)
	}

	wasPending := m.state == TimerPending
	m.timer = nil
	if m.ticker != nil {
		m.ticker.Stop()
		m.ticker = nil
	}
	if !wasPending {
		return false
	}

	// The timer vanishes both when cancelled and when a peer deleted the room.
	if room, err := c.client.Get(ctx, domain.RoomPath(c.roomID)); err == nil && room == nil {
		c.markDeleted(m)
		return true
	}

	if c.empty(m) {
		m.state = TimerCancelled
	} else {
		m.state = Populated
	}
	if c.listener != nil {
		c.listener.ExpiryCancelled(c.roomID)
	}
	return false
}

// expire deletes the room subtree. Failures are logged; the client still
// treats the room as gone.
func (c *Controller) expire(ctx context.Context, m *machine) {
	if err := c.client.Delete(ctx, domain.RoomPath(c.roomID)); err != nil {
		slog.Error("Failed to delete room", "roomID", c.roomID, "error", err)
	} else {
		slog.Info("Room deleted", "roomID", c.roomID)
	}
	if c.listener != nil {
		c.listener.RoomDeleted(c.roomID)
	}
	c.markDeleted(m)
}

func (c *Controller) markDeleted(m *machine) {
	m.stopTimers()
	m.state = Deleted
	m.timer = nil
	c.publish(m)
	close(c.deleted)
}

func (c *Controller) publish(m *machine) {
	st := Status{
		RoomID: c.roomID,
		State:  m.state,
		Online: len(m.users),
	}
	if m.timer != nil {
		st.DeletionTime = *m.timer
		st.Remaining = Remaining(*m.timer, c.cfg.Now())
	}

	c.mu.Lock()
	c.status = st
	c.mu.Unlock()

	select {
	case c.statuses <- st:
		return
	default:
	}
	select {
	case <-c.statuses:
	default:
	}
	select {
	case c.statuses <- st:
	default:
	}
}
