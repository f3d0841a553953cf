package rooms

import (
	"context"
	"log"
	"sync"
	"time"

	domain "github.com/example/ephemeral-chat/domain/chat"
	"github.com/example/ephemeral-chat/modules/lifecycle"
	"github.com/example/ephemeral-chat/modules/presence"
	"github.com/example/ephemeral-chat/modules/realtime"
)

const roomsRoot = "rooms"

// Janitor finds rooms that nobody is connected to, such as rooms restored
// after a restart, and attaches an observing client to each so their
// deletion timers are still armed and fired. An observer holds no presence
// and never cancels a timer; it detaches once a user is online.
type Janitor struct {
	server   *realtime.Server
	cfg      lifecycle.Config
	interval time.Duration
	listener lifecycle.Listener

	mu        sync.Mutex
	observers map[string]*observer
	stopped   bool

	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

type observer struct {
	roomID  string
	client  *realtime.Session
	tracker *presence.Tracker
	ctrl    *lifecycle.Controller
	stop    chan struct{}
	done    chan struct{}
}

// NewJanitor creates a Janitor sweeping every interval.
func NewJanitor(server *realtime.Server, cfg lifecycle.Config, interval time.Duration, listener lifecycle.Listener) *Janitor {
	return &Janitor{
		server:    server,
		cfg:       cfg,
		interval:  interval,
		listener:  listener,
		observers: make(map[string]*observer),
	}
}

// Start begins sweeping. A Janitor with no interval only observes rooms
// handed to it through ObserveIfUnattended.
func (j *Janitor) Start() {
	if j.interval <= 0 {
		return
	}
	j.stopChan = make(chan struct{})
	j.doneChan = make(chan struct{})
	go j.run()
}

func (j *Janitor) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	defer close(j.doneChan)

	j.Sweep()
	for {
		select {
		case <-j.stopChan:
			return
		case <-ticker.C:
			j.Sweep()
		}
	}
}

// Sweep attaches an observer to every room with nobody online. It returns
// the number of observers attached by this sweep.
func (j *Janitor) Sweep() int {
	v, err := j.server.Read(roomsRoot)
	if err != nil {
		log.Printf("[rooms] Janitor failed to read rooms: %v", err)
		return 0
	}
	all, _ := v.(map[string]any)

	attached := 0
	for roomID, node := range all {
		if j.observing(roomID) || hasPresence(node) {
			continue
		}
		if err := j.observe(roomID); err != nil {
			log.Printf("[rooms] Janitor failed to observe room %s: %v", roomID, err)
			continue
		}
		attached++
	}
	return attached
}

// ObserveIfUnattended attaches an observer to roomID when the room still
// holds data but nobody is online. It reports whether an observer was
// attached.
func (j *Janitor) ObserveIfUnattended(roomID string) bool {
	if j.observing(roomID) {
		return false
	}
	node, err := j.server.Read(domain.RoomPath(roomID))
	if err != nil {
		log.Printf("[rooms] Janitor failed to read room %s: %v", roomID, err)
		return false
	}
	if node == nil || hasPresence(node) {
		return false
	}
	if err := j.observe(roomID); err != nil {
		log.Printf("[rooms] Janitor failed to observe room %s: %v", roomID, err)
		return false
	}
	return true
}

// Observing returns the number of rooms currently observed.
func (j *Janitor) Observing() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.observers)
}

// observing reports whether roomID needs no new observer.
func (j *Janitor) observing(roomID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.observers[roomID]
	return ok || j.stopped
}

func hasPresence(node any) bool {
	room, ok := node.(map[string]any)
	if !ok {
		return false
	}
	online, ok := room["onlineUsers"].(map[string]any)
	return ok && len(online) > 0
}

func (j *Janitor) observe(roomID string) error {
	ctx := context.Background()
	client := j.server.Connect()
	o := &observer{
		roomID:  roomID,
		client:  client,
		tracker: presence.NewTracker(client),
		ctrl:    lifecycle.New(client, roomID, "", j.cfg, j.listener),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if err := o.ctrl.Start(ctx); err != nil {
		_ = client.Close()
		return err
	}
	if err := o.tracker.EnterRoom(ctx, roomID, ""); err != nil {
		o.ctrl.Close()
		_ = client.Close()
		return err
	}

	j.mu.Lock()
	if _, ok := j.observers[roomID]; ok || j.stopped {
		j.mu.Unlock()
		o.ctrl.Close()
		o.tracker.Close()
		_ = client.Close()
		return nil
	}
	j.observers[roomID] = o
	j.mu.Unlock()

	go j.watch(o)
	log.Printf("[rooms] Janitor observing unattended room %s", roomID)
	return nil
}

func (j *Janitor) watch(o *observer) {
	defer close(o.done)
	defer j.detach(o)

	for {
		select {
		case <-o.stop:
			return
		case <-o.ctrl.Deleted():
			return
		case users, ok := <-o.tracker.Updates():
			if !ok {
				return
			}
			if len(users) > 0 {
				return
			}
			o.ctrl.ObservePresence(users)
		}
	}
}

func (j *Janitor) detach(o *observer) {
	o.ctrl.Close()
	o.tracker.Close()
	_ = o.client.Close()

	j.mu.Lock()
	if j.observers[o.roomID] == o {
		delete(j.observers, o.roomID)
	}
	j.mu.Unlock()
}

// Stop ends sweeping and detaches every observer.
func (j *Janitor) Stop() {
	if j.stopChan != nil {
		j.stopOnce.Do(func() {
			close(j.stopChan)
		})
		<-j.doneChan
	}

	j.mu.Lock()
	j.stopped = true
	observers := make([]*observer, 0, len(j.observers))
	for _, o := range j.observers {
		observers = append(observers, o)
	}
	j.mu.Unlock()

	for _, o := range observers {
		close(o.stop)
		<-o.done
	}
}
