// Package broadcast forwards room activity events to websocket clients
// watching the lobby feed.
package broadcast

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/example/ephemeral-chat/events"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// Feed message types.
const (
	TypeUserEntered     = "user_entered"
	TypeUserLeft        = "user_left"
	TypeExpiryScheduled = "expiry_scheduled"
	TypeExpiryCancelled = "expiry_cancelled"
	TypeRoomDeleted     = "room_deleted"
)

// BroadcastModule is an EventConsumerModule that relays room events.
type BroadcastModule struct {
	hub       *Hub
	cancelHub context.CancelFunc
}

// Compile-time interface checks.
var _ mono.Module = (*BroadcastModule)(nil)
var _ mono.EventConsumerModule = (*BroadcastModule)(nil)
var _ mono.HealthCheckableModule = (*BroadcastModule)(nil)

// NewModule creates a new BroadcastModule.
func NewModule() *BroadcastModule {
	return &BroadcastModule{
		hub: NewHub(),
	}
}

// Name returns the module name.
func (m *BroadcastModule) Name() string {
	return "broadcast"
}

// Start starts the hub.
func (m *BroadcastModule) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelHub = cancel
	go m.hub.Run(ctx)
	log.Println("[broadcast] Module started - activity hub running")
	return nil
}

// Stop shuts down the hub.
func (m *BroadcastModule) Stop(_ context.Context) error {
	clientCount := m.hub.ClientCount()
	if m.cancelHub != nil {
		m.cancelHub()
		m.hub.Wait()
	}
	log.Printf("[broadcast] Module stopped - %d clients were connected", clientCount)
	return nil
}

// Health returns the health status.
func (m *BroadcastModule) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"connected_clients": m.hub.ClientCount(),
		},
	}
}

// RegisterEventConsumers registers event handlers.
func (m *BroadcastModule) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.UserEnteredV1, m.handleUserEntered, m,
	); err != nil {
		return fmt.Errorf("failed to register UserEntered consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.UserLeftV1, m.handleUserLeft, m,
	); err != nil {
		return fmt.Errorf("failed to register UserLeft consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.RoomExpiryScheduledV1, m.handleExpiryScheduled, m,
	); err != nil {
		return fmt.Errorf("failed to register RoomExpiryScheduled consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.RoomExpiryCancelledV1, m.handleExpiryCancelled, m,
	); err != nil {
		return fmt.Errorf("failed to register RoomExpiryCancelled consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.RoomDeletedV1, m.handleRoomDeleted, m,
	); err != nil {
		return fmt.Errorf("failed to register RoomDeleted consumer: %w", err)
	}

	log.Println("[broadcast] Registered event consumers: UserEntered, UserLeft, RoomExpiryScheduled, RoomExpiryCancelled, RoomDeleted")
	return nil
}

// Event handlers

func (m *BroadcastModule) handleUserEntered(_ context.Context, event events.UserEnteredEvent, _ *mono.Msg) error {
	m.hub.Broadcast(event.RoomID, TypeUserEntered, Activity{
		Type:      TypeUserEntered,
		RoomID:    event.RoomID,
		UserName:  event.UserName,
		Timestamp: event.Timestamp,
	})
	return nil
}

func (m *BroadcastModule) handleUserLeft(_ context.Context, event events.UserLeftEvent, _ *mono.Msg) error {
	m.hub.Broadcast(event.RoomID, TypeUserLeft, Activity{
		Type:      TypeUserLeft,
		RoomID:    event.RoomID,
		UserName:  event.UserName,
		Timestamp: event.Timestamp,
	})
	return nil
}

func (m *BroadcastModule) handleExpiryScheduled(_ context.Context, event events.RoomExpiryScheduledEvent, _ *mono.Msg) error {
	log.Printf("[broadcast] Room %s scheduled for deletion at %d", event.RoomID, event.DeletionTime)
	m.hub.Broadcast(event.RoomID, TypeExpiryScheduled, Activity{
		Type:         TypeExpiryScheduled,
		RoomID:       event.RoomID,
		DeletionTime: event.DeletionTime,
		Timestamp:    event.Timestamp,
	})
	return nil
}

func (m *BroadcastModule) handleExpiryCancelled(_ context.Context, event events.RoomExpiryCancelledEvent, _ *mono.Msg) error {
	m.hub.Broadcast(event.RoomID, TypeExpiryCancelled, Activity{
		Type:      TypeExpiryCancelled,
		RoomID:    event.RoomID,
		Timestamp: event.Timestamp,
	})
	return nil
}

func (m *BroadcastModule) handleRoomDeleted(_ context.Context, event events.RoomDeletedEvent, _ *mono.Msg) error {
	log.Printf("[broadcast] Room %s deleted", event.RoomID)
	m.hub.Broadcast(event.RoomID, TypeRoomDeleted, Activity{
		Type:      TypeRoomDeleted,
		RoomID:    event.RoomID,
		Timestamp: event.Timestamp,
	})
	return nil
}

// GetHub returns the hub for the API module to use.
func (m *BroadcastModule) GetHub() *Hub {
	return m.hub
}

// Activity is the payload sent to feed clients.
type Activity struct {
	Type         string    `json:"type"`
	RoomID       string    `json:"room_id"`
	UserName     string    `json:"user_name,omitempty"`
	DeletionTime int64     `json:"deletion_time,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
