package rooms

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"strings"
	"sync"
	"time"

	domain "github.com/example/ephemeral-chat/domain/chat"
	"github.com/example/ephemeral-chat/events"
	"github.com/example/ephemeral-chat/modules/composer"
	"github.com/example/ephemeral-chat/modules/lifecycle"
	"github.com/example/ephemeral-chat/modules/prefs"
	"github.com/example/ephemeral-chat/modules/realtime"
	"github.com/example/ephemeral-chat/modules/reconciler"
	"github.com/go-monolith/mono"
)

// Service names.
const (
	ServiceCreateRoom = "create-room"
	ServiceRoomInfo   = "room-info"
)

// Config configures the rooms module.
type Config struct {
	Session         SessionConfig
	ImgBBAPIKey     string
	JanitorInterval time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Session:         DefaultSessionConfig(),
		JanitorInterval: 30 * time.Second,
	}
}

// JoinRequest describes a browser joining a room.
type JoinRequest struct {
	RoomID string
	// UserName is the name typed in the lobby. When empty the stored name
	// is used.
	UserName string
	// ClientID identifies the browser for stored preferences.
	ClientID string
}

// Module hosts the per-connection room sessions.
type Module struct {
	config   Config
	server   *realtime.Server
	prefs    *prefs.Store
	uploader *composer.Uploader
	newID    func() string
	janitor  *Janitor
	eventBus mono.EventBus

	mu        sync.RWMutex
	sessions  map[string]*Session
	scheduled map[string]int64
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.EventBusAwareModule   = (*Module)(nil)
	_ mono.EventEmitterModule    = (*Module)(nil)
	_ mono.ServiceProviderModule = (*Module)(nil)
	_ mono.UsePluginModule       = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
	_ Notifier                   = (*Module)(nil)
)

// NewModule creates the rooms module over the realtime store.
func NewModule(config Config, server *realtime.Server) (*Module, error) {
	newID, err := NewRoomIDGenerator()
	if err != nil {
		return nil, err
	}

	var host composer.Host
	if config.ImgBBAPIKey != "" {
		host = composer.NewImgBB(config.ImgBBAPIKey)
	}

	m := &Module{
		config:    config,
		server:    server,
		uploader:  composer.NewUploader(host),
		newID:     newID,
		sessions:  make(map[string]*Session),
		scheduled: make(map[string]int64),
	}
	m.janitor = NewJanitor(server, config.Session.Lifecycle, config.JanitorInterval, m)
	return m, nil
}

// ============================================================
// Module Interface Implementation
// ============================================================

// Name returns the module name.
func (m *Module) Name() string {
	return "rooms"
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// SetPlugin receives the prefs plugin.
func (m *Module) SetPlugin(alias string, plugin mono.PluginModule) {
	if alias != "prefs" {
		return
	}
	p, ok := plugin.(*prefs.PluginModule)
	if !ok {
		slog.Error("Invalid plugin type for prefs", "alias", alias)
		return
	}
	m.prefs = p.Port()
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.UserEnteredV1.ToBase(),
		events.UserLeftV1.ToBase(),
		events.RoomExpiryScheduledV1.ToBase(),
		events.RoomExpiryCancelledV1.ToBase(),
		events.RoomDeletedV1.ToBase(),
	}
}

// RegisterServices registers the room services.
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := container.RegisterRequestReplyService(ServiceCreateRoom, m.handleCreateRoom); err != nil {
		return fmt.Errorf("failed to register %s: %w", ServiceCreateRoom, err)
	}
	if err := container.RegisterRequestReplyService(ServiceRoomInfo, m.handleRoomInfo); err != nil {
		return fmt.Errorf("failed to register %s: %w", ServiceRoomInfo, err)
	}
	return nil
}

// Start starts the janitor.
func (m *Module) Start(_ context.Context) error {
	m.janitor.Start()
	log.Println("[rooms] Module started")
	return nil
}

// Stop closes every open session.
func (m *Module) Stop(_ context.Context) error {
	m.janitor.Stop()

	m.mu.RLock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.RUnlock()

	for _, s := range open {
		s.Close()
	}
	log.Printf("[rooms] Module stopped - %d sessions closed", len(open))
	return nil
}

// Health reports open sessions.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	observed := m.janitor.Observing()
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"sessions":       m.SessionCount(),
			"observed_rooms": observed,
		},
	}
}

// ============================================================
// Sessions
// ============================================================

// Join validates the request and opens a session in the room.
func (m *Module) Join(ctx context.Context, req JoinRequest) (*Session, error) {
	roomID := strings.TrimSpace(req.RoomID)
	if err := domain.ValidateRoomID(roomID); err != nil {
		return nil, err
	}

	p := m.prefsFor(req.ClientID)
	name, err := m.resolveName(ctx, p, req.UserName)
	if err != nil {
		return nil, err
	}

	colors := reconciler.NewColorBook()
	if p != nil {
		color, err := p.ColorFor(ctx, name)
		if err != nil {
			slog.Warn("Failed to load stored color", "user", name, "error", err)
		}
		colors.Set(name, color)
	}

	s := newSession(m.server.Connect(), roomID, name, m.config.Session, colors, m.uploader, m)
	if err := s.open(ctx); err != nil {
		s.Close()
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	s.release = func() {
		m.mu.Lock()
		delete(m.sessions, s.ID())
		attended := m.attendedLocked(roomID)
		m.mu.Unlock()
		if !attended {
			m.janitor.ObserveIfUnattended(roomID)
		}
	}

	slog.Info("Session joined room", "sessionID", s.ID(), "roomID", roomID, "user", name)
	return s, nil
}

// attendedLocked reports whether any open session is in roomID.
func (m *Module) attendedLocked(roomID string) bool {
	for _, s := range m.sessions {
		if s.roomID == roomID {
			return true
		}
	}
	return false
}

func (m *Module) prefsFor(clientID string) *prefs.Prefs {
	if m.prefs == nil || clientID == "" {
		return nil
	}
	p, err := m.prefs.For(clientID)
	if err != nil {
		slog.Warn("Ignoring invalid client id", "clientID", clientID, "error", err)
		return nil
	}
	return p
}

// resolveName validates and remembers a typed name, or falls back to the
// stored one.
func (m *Module) resolveName(ctx context.Context, p *prefs.Prefs, typed string) (string, error) {
	typed = strings.TrimSpace(typed)
	if typed != "" {
		if err := domain.ValidateDisplayName(typed); err != nil {
			return "", err
		}
		if p != nil {
			if err := p.SetUserName(ctx, typed); err != nil {
				slog.Warn("Failed to store user name", "error", err)
			}
		}
		return typed, nil
	}
	if p == nil {
		return domain.DefaultDisplayName, nil
	}
	name, err := p.UserName(ctx)
	if err != nil {
		slog.Warn("Failed to load stored user name", "error", err)
	}
	return name, nil
}

// SessionCount returns the number of open sessions.
func (m *Module) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ============================================================
// Notifier
// ============================================================

// UserEntered publishes UserEntered.
func (m *Module) UserEntered(roomID, clientID, userName string) {
	if m.eventBus == nil {
		return
	}
	event := events.UserEnteredEvent{
		RoomID:    roomID,
		ClientID:  clientID,
		UserName:  userName,
		Timestamp: time.Now(),
	}
	if err := events.UserEnteredV1.Publish(m.eventBus, event, nil); err != nil {
		slog.Warn("Failed to publish UserEntered event", "error", err)
	}
}

// UserLeft publishes UserLeft.
func (m *Module) UserLeft(roomID, clientID, userName string) {
	if m.eventBus == nil {
		return
	}
	event := events.UserLeftEvent{
		RoomID:    roomID,
		ClientID:  clientID,
		UserName:  userName,
		Timestamp: time.Now(),
	}
	if err := events.UserLeftV1.Publish(m.eventBus, event, nil); err != nil {
		slog.Warn("Failed to publish UserLeft event", "error", err)
	}
}

// ExpiryScheduled publishes RoomExpiryScheduled once per deletion time,
// however many sessions observe it.
func (m *Module) ExpiryScheduled(roomID string, deletionTime int64) {
	m.mu.Lock()
	seen := m.scheduled[roomID] == deletionTime
	m.scheduled[roomID] = deletionTime
	m.mu.Unlock()
	if seen || m.eventBus == nil {
		return
	}

	event := events.RoomExpiryScheduledEvent{
		RoomID:       roomID,
		DeletionTime: deletionTime,
		Timestamp:    time.Now(),
	}
	if err := events.RoomExpiryScheduledV1.Publish(m.eventBus, event, nil); err != nil {
		slog.Warn("Failed to publish RoomExpiryScheduled event", "error", err)
	}
}

// ExpiryCancelled publishes RoomExpiryCancelled once per cancellation.
func (m *Module) ExpiryCancelled(roomID string) {
	m.mu.Lock()
	_, pending := m.scheduled[roomID]
	delete(m.scheduled, roomID)
	m.mu.Unlock()
	if !pending || m.eventBus == nil {
		return
	}

	event := events.RoomExpiryCancelledEvent{
		RoomID:    roomID,
		Timestamp: time.Now(),
	}
	if err := events.RoomExpiryCancelledV1.Publish(m.eventBus, event, nil); err != nil {
		slog.Warn("Failed to publish RoomExpiryCancelled event", "error", err)
	}
}

// RoomDeleted publishes RoomDeleted.
func (m *Module) RoomDeleted(roomID string) {
	m.mu.Lock()
	delete(m.scheduled, roomID)
	m.mu.Unlock()
	if m.eventBus == nil {
		return
	}

	event := events.RoomDeletedEvent{
		RoomID:    roomID,
		Timestamp: time.Now(),
	}
	if err := events.RoomDeletedV1.Publish(m.eventBus, event, nil); err != nil {
		slog.Warn("Failed to publish RoomDeleted event", "error", err)
	}
}

// ============================================================
// Services
// ============================================================

// CreateRoomResponse is the reply of ServiceCreateRoom.
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
	Link   string `json:"link"`
}

// RoomInfoRequest is the request of ServiceRoomInfo.
type RoomInfoRequest struct {
	RoomID string `json:"roomId"`
}

// RoomInfoResponse is the reply of ServiceRoomInfo.
type RoomInfoResponse struct {
	RoomID       string   `json:"roomId"`
	Exists       bool     `json:"exists"`
	OnlineUsers  []string `json:"onlineUsers"`
	Messages     int      `json:"messages"`
	DeletionTime int64    `json:"deletionTime,omitempty"`
	Remaining    int      `json:"remaining,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// CreateRoom returns a fresh room id. Rooms come into existence on the
// first write, so nothing is stored.
func (m *Module) CreateRoom() (CreateRoomResponse, error) {
	id, err := unusedRoomID(m.newID, func(id string) bool {
		v, err := m.server.Read(domain.RoomPath(id))
		return err != nil || v != nil
	})
	if err != nil {
		return CreateRoomResponse{}, err
	}
	return CreateRoomResponse{RoomID: id, Link: "/" + id}, nil
}

// RoomInfo reads a room's current state from the store.
func (m *Module) RoomInfo(roomID string) (RoomInfoResponse, error) {
	resp := RoomInfoResponse{RoomID: roomID, OnlineUsers: []string{}}
	if err := domain.ValidateRoomID(roomID); err != nil {
		return resp, err
	}

	v, err := m.server.Read(domain.RoomPath(roomID))
	if err != nil {
		return resp, err
	}
	room, ok := v.(map[string]any)
	if !ok {
		return resp, nil
	}
	resp.Exists = true

	online := realtime.Snapshot{Value: room["onlineUsers"]}
	resp.OnlineUsers = online.Keys()
	if resp.OnlineUsers == nil {
		resp.OnlineUsers = []string{}
	}
	resp.Messages = len(reconciler.Reconcile(room["messages"]))
	if dt, ok := domain.TimestampFromValue(room["deletionTimer"]); ok {
		resp.DeletionTime = dt
		resp.Remaining = lifecycle.Remaining(dt, time.Now())
	}
	return resp, nil
}

func (m *Module) handleCreateRoom(_ context.Context, _ *mono.Msg) ([]byte, error) {
	resp, err := m.CreateRoom()
	if err != nil {
		return nil, err
	}
	return json.Marshal(resp)
}

func (m *Module) handleRoomInfo(_ context.Context, msg *mono.Msg) ([]byte, error) {
	var req RoomInfoRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	resp, err := m.RoomInfo(req.RoomID)
	if err != nil {
		resp.Error = err.Error()
	}
	return json.Marshal(resp)
}
