package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// RoomsPort exposes room creation and lookup to other modules.
type RoomsPort interface {
	CreateRoom(ctx context.Context) (*CreateRoomResponse, error)
	RoomInfo(ctx context.Context, roomID string) (*RoomInfoResponse, error)
}

// RoomsAdapter implements RoomsPort using the service container.
type RoomsAdapter struct {
	container mono.ServiceContainer
}

// NewRoomsAdapter creates a new RoomsAdapter.
func NewRoomsAdapter(container mono.ServiceContainer) RoomsPort {
	if container == nil {
		panic("rooms: ServiceContainer is nil")
	}
	return &RoomsAdapter{container: container}
}

// CreateRoom calls the create-room service.
func (a *RoomsAdapter) CreateRoom(ctx context.Context) (*CreateRoomResponse, error) {
	req := struct{}{}
	var resp CreateRoomResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceCreateRoom,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	return &resp, nil
}

// RoomInfo calls the room-info service. Validation failures come back in
// the response's Error field.
func (a *RoomsAdapter) RoomInfo(ctx context.Context, roomID string) (*RoomInfoResponse, error) {
	req := RoomInfoRequest{RoomID: roomID}
	var resp RoomInfoResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceRoomInfo,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("failed to get room info: %w", err)
	}
	if resp.Error != "" {
		return &resp, errors.New(resp.Error)
	}
	return &resp, nil
}
