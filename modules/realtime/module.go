package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-monolith/mono"
	kvjetstream "github.com/go-monolith/mono/plugin/kv-jetstream"
	"github.com/go-monolith/mono/pkg/types"
)

// Persistence backends.
const (
	BackendKV    = "kv"
	BackendNATS  = "nats"
	BackendRedis = "redis"
	BackendNone  = "none"
)

// ServiceStats is the request-reply service reporting store statistics.
const ServiceStats = "store-stats"

// Config configures the realtime store module.
type Config struct {
	Backend       string
	KVBucket      string
	NATSURL       string
	NATSBucket    string
	RedisAddr     string
	RedisPrefix   string
	FlushInterval time.Duration
}

// DefaultConfig returns the default configuration: embedded kv-jetstream.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendKV,
		KVBucket:      "rooms",
		NATSURL:       "nats://localhost:4222",
		NATSBucket:    "ephemeral-chat-rooms",
		RedisAddr:     "localhost:6379",
		RedisPrefix:   "ephemeral-chat:",
		FlushInterval: 250 * time.Millisecond,
	}
}

// StatsResponse is the reply of ServiceStats.
type StatsResponse struct {
	Backend  string `json:"backend"`
	Sessions int    `json:"sessions"`
	Watchers int    `json:"watchers"`
	Rooms    int    `json:"rooms"`
}

// Module hosts the realtime store inside the mono application.
type Module struct {
	config    Config
	server    *Server
	kv        *kvjetstream.PluginModule
	persister Persister
	flusher   *Flusher
	cancel    context.CancelFunc
	logger    types.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.UsePluginModule       = (*Module)(nil)
	_ mono.ServiceProviderModule = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates the realtime module. The server exists immediately so
// dependents can be wired before Start.
func NewModule(config Config, logger types.Logger) (*Module, error) {
	server, err := NewServer()
	if err != nil {
		return nil, err
	}
	return &Module{
		config: config,
		server: server,
		logger: logger,
	}, nil
}

// Name returns the module name.
func (m *Module) Name() string {
	return "realtime"
}

// Server returns the store.
func (m *Module) Server() *Server {
	return m.server
}

// SetPlugin receives the kv-jetstream plugin.
func (m *Module) SetPlugin(alias string, plugin mono.PluginModule) {
	if alias != "kv" {
		return
	}
	kv, ok := plugin.(*kvjetstream.PluginModule)
	if !ok {
		m.logger.Error("Invalid plugin type for kv",
			"alias", alias,
			"expected", "*kvjetstream.PluginModule")
		return
	}
	m.kv = kv
}

// RegisterServices registers the store statistics service.
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := container.RegisterRequestReplyService(ServiceStats, m.handleStats); err != nil {
		return fmt.Errorf("failed to register %s: %w", ServiceStats, err)
	}
	return nil
}

// Start opens the persistence backend, restores state and starts flushing.
func (m *Module) Start(ctx context.Context) error {
	persister, err := m.openPersister(ctx)
	if err != nil {
		return err
	}
	m.persister = persister

	if persister != nil {
		m.flusher = NewFlusher(m.server, persister, m.config.FlushInterval)
		restored, err := m.flusher.Load(ctx)
		if err != nil {
			_ = persister.Close()
			return err
		}
		runCtx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		go m.flusher.Run(runCtx)
		m.logger.Info("Realtime store restored", "backend", persister.Name(), "rooms", restored)
	}

	m.logger.Info("Realtime store started", "backend", m.config.Backend)
	return nil
}

// Stop closes all sessions, flushes and closes the backend.
func (m *Module) Stop(_ context.Context) error {
	m.server.CloseAll()
	if m.cancel != nil {
		m.cancel()
		m.flusher.Wait()
	}
	if m.persister != nil {
		if err := m.persister.Close(); err != nil {
			return fmt.Errorf("failed to close %s backend: %w", m.persister.Name(), err)
		}
	}
	m.logger.Info("Realtime store stopped")
	return nil
}

// Health reports session and watcher counts.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	stats := m.stats()
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"backend":  stats.Backend,
			"sessions": stats.Sessions,
			"watchers": stats.Watchers,
			"rooms":    stats.Rooms,
		},
	}
}

func (m *Module) openPersister(ctx context.Context) (Persister, error) {
	switch m.config.Backend {
	case BackendKV:
		if m.kv == nil {
			return nil, fmt.Errorf("required plugin 'kv' not registered")
		}
		bucket := m.kv.Bucket(m.config.KVBucket)
		if bucket == nil {
			return nil, fmt.Errorf("bucket '%s' not found in KV plugin", m.config.KVBucket)
		}
		return NewKVPersister(bucket), nil
	case BackendNATS:
		return NewNATSPersister(ctx, m.config.NATSURL, m.config.NATSBucket)
	case BackendRedis:
		return NewRedisPersister(ctx, m.config.RedisAddr, m.config.RedisPrefix)
	case BackendNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, m.config.Backend)
	}
}

func (m *Module) stats() StatsResponse {
	sessions, watchers := m.server.Stats()
	rooms := 0
	if v, err := m.server.Read("rooms"); err == nil {
		if children, ok := v.(map[string]any); ok {
			rooms = len(children)
		}
	}
	return StatsResponse{
		Backend:  m.config.Backend,
		Sessions: sessions,
		Watchers: watchers,
		Rooms:    rooms,
	}
}

func (m *Module) handleStats(_ context.Context, _ *mono.Msg) ([]byte, error) {
	return json.Marshal(m.stats())
}
