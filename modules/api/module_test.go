package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/ephemeral-chat/modules/broadcast"
	"github.com/example/ephemeral-chat/modules/identity"
	"github.com/example/ephemeral-chat/modules/realtime"
	"github.com/example/ephemeral-chat/modules/rooms"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRooms struct {
	created int
	infos   map[string]*rooms.RoomInfoResponse
	fail    bool
}

func (f *fakeRooms) CreateRoom(_ context.Context) (*rooms.CreateRoomResponse, error) {
	if f.fail {
		return nil, errors.New("bus down")
	}
	f.created++
	return &rooms.CreateRoomResponse{RoomID: "aB3dE", Link: "/aB3dE"}, nil
}

func (f *fakeRooms) RoomInfo(_ context.Context, roomID string) (*rooms.RoomInfoResponse, error) {
	if f.fail {
		return nil, errors.New("bus down")
	}
	if info, ok := f.infos[roomID]; ok {
		return info, nil
	}
	return &rooms.RoomInfoResponse{RoomID: roomID, OnlineUsers: []string{}}, nil
}

type fakeStats struct{}

func (fakeStats) Stats(_ context.Context) (*realtime.StatsResponse, error) {
	return &realtime.StatsResponse{Backend: "none", Sessions: 2, Rooms: 1}, nil
}

func newTestApp(t *testing.T, cfg Config, port rooms.RoomsPort) *fiber.App {
	t.Helper()
	m := NewModule(cfg, nil)
	m.roomsAdapter = port
	m.statsAdapter = fakeStats{}
	m.SetHub(broadcast.NewHub())
	return m.newApp()
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestCreateRoom(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantMsg    string
	}{
		{"valid", `{"name":"Alice"}`, http.StatusCreated, ""},
		{"missing name", `{}`, http.StatusBadRequest, "Please enter a name."},
		{"blank name", `{"name":"   "}`, http.StatusBadRequest, "Please enter a name."},
		{"short name", `{"name":"Al"}`, http.StatusBadRequest, "Name must be at least 3 characters long."},
		{"bad body", `{"name":`, http.StatusBadRequest, "Invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t, DefaultConfig(), &fakeRooms{})
			status, body := doJSON(t, app, http.MethodPost, "/api/v1/rooms", tt.body)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, body["message"])
				return
			}
			assert.Equal(t, "aB3dE", body["roomId"])
			assert.Equal(t, "/aB3dE", body["link"])
			assert.Equal(t, "/ws/aB3dE?name=Alice", body["websocket"])
		})
	}
}

func TestCreateRoom_Failure(t *testing.T) {
	app := newTestApp(t, DefaultConfig(), &fakeRooms{fail: true})
	status, body := doJSON(t, app, http.MethodPost, "/api/v1/rooms", `{"name":"Alice"}`)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "create_failed", body["error"])
}

func TestCreateRoom_RateLimited(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CreateRoomLimit = 2
	port := &fakeRooms{}
	app := newTestApp(t, cfg, port)

	for i := 0; i < 2; i++ {
		status, _ := doJSON(t, app, http.MethodPost, "/api/v1/rooms", `{"name":"Alice"}`)
		require.Equal(t, http.StatusCreated, status)
	}
	status, body := doJSON(t, app, http.MethodPost, "/api/v1/rooms", `{"name":"Alice"}`)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate_limited", body["error"])
	assert.Equal(t, 2, port.created)
}

func TestJoinRoom(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantMsg    string
	}{
		{"valid", `{"name":"Alice","roomId":" xY7zQ "}`, http.StatusOK, ""},
		{"missing name", `{"roomId":"xY7zQ"}`, http.StatusBadRequest, "Please enter a name."},
		{"missing room", `{"name":"Alice"}`, http.StatusBadRequest, "Please enter a room ID."},
		{"bad room", `{"name":"Alice","roomId":"a/b"}`, http.StatusBadRequest, "Room ID contains invalid characters."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t, DefaultConfig(), &fakeRooms{})
			status, body := doJSON(t, app, http.MethodPost, "/api/v1/rooms/join", tt.body)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, body["message"])
				return
			}
			assert.Equal(t, "xY7zQ", body["roomId"])
			assert.Equal(t, "/xY7zQ", body["link"])
		})
	}
}

func TestGetRoom(t *testing.T) {
	port := &fakeRooms{infos: map[string]*rooms.RoomInfoResponse{
		"aB3dE": {
			RoomID:       "aB3dE",
			Exists:       true,
			OnlineUsers:  []string{"Alice", "Bob"},
			Messages:     3,
			DeletionTime: 1700000000000,
			Remaining:    42,
		},
	}}
	app := newTestApp(t, DefaultConfig(), port)

	for _, path := range []string{"/api/v1/rooms/aB3dE", "/aB3dE"} {
		status, body := doJSON(t, app, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, status, path)
		assert.Equal(t, true, body["exists"])
		assert.Equal(t, float64(2), body["activeCount"])
		assert.Equal(t, float64(3), body["messages"])
		assert.Equal(t, float64(42), body["remaining"])
	}

	status, body := doJSON(t, app, http.MethodGet, "/fresh", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["exists"])
	assert.Equal(t, "/fresh", body["link"])
}

func TestGetRoom_Errors(t *testing.T) {
	app := newTestApp(t, DefaultConfig(), &fakeRooms{})
	status, body := doJSON(t, app, http.MethodGet, "/a.b", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Room ID contains invalid characters.", body["message"])

	app = newTestApp(t, DefaultConfig(), &fakeRooms{fail: true})
	status, body = doJSON(t, app, http.MethodGet, "/aB3dE", "")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "read_failed", body["error"])
}

func TestHealthAndUpgrade(t *testing.T) {
	app := newTestApp(t, DefaultConfig(), &fakeRooms{})

	status, body := doJSON(t, app, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
	details := body["details"].(map[string]any)
	store := details["store"].(map[string]any)
	assert.Equal(t, "none", store["backend"])

	status, body = doJSON(t, app, http.MethodGet, "/ws/aB3dE", "")
	assert.Equal(t, http.StatusUpgradeRequired, status)
	assert.Equal(t, "server_error", body["error"])
}

func TestCreateRoom_WithIdentity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Identity = identity.Config{SecretKey: "test-secret", Issuer: "ephemeral-chat"}
	app := newTestApp(t, cfg, &fakeRooms{})

	token, err := identity.NewObserver(cfg.Identity).Issue(identity.User{ID: "u1"}, time.Minute)
	require.NoError(t, err)

	for _, auth := range []string{"Bearer " + token, "Bearer garbage"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/rooms", strings.NewReader(`{"name":"Alice"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", auth)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusCreated, resp.StatusCode, "identity never blocks a request")
	}
}
