package prefs

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/storage"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/storage/redis/v3"
)

// Backend kinds.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config configures the prefs plugin.
type Config struct {
	Backend   string
	RedisAddr string
	Prefix    string
	TTL       time.Duration
}

// DefaultConfig returns an in-memory configuration.
func DefaultConfig() Config {
	return Config{
		Backend:   BackendMemory,
		RedisAddr: "localhost:6379",
		Prefix:    "prefs:",
		TTL:       30 * 24 * time.Hour,
	}
}

// PluginModule provides browser preference storage as a mono plugin.
type PluginModule struct {
	container types.ServiceContainer
	config    Config
	backend   Backend
	store     *Store
}

// Compile-time interface checks.
var (
	_ mono.PluginModule          = (*PluginModule)(nil)
	_ mono.HealthCheckableModule = (*PluginModule)(nil)
)

// NewPluginModule creates the prefs plugin. The store is available from
// Port immediately and becomes usable once the plugin starts.
func NewPluginModule(config Config) *PluginModule {
	return &PluginModule{
		config: config,
		store:  NewStore(nil, config.Prefix, config.TTL),
	}
}

// ============================================================
// Module Interface Implementation
// ============================================================

// Name returns the module name.
func (m *PluginModule) Name() string {
	return "prefs"
}

// Start opens the configured backend.
func (m *PluginModule) Start(_ context.Context) error {
	switch m.config.Backend {
	case BackendRedis:
		host, port := parseRedisAddr(m.config.RedisAddr)
		var s storage.Storage = redis.New(redis.Config{
			Host:     host,
			Port:     port,
			PoolSize: 10,
		})
		m.backend = s
		log.Printf("[prefs] Connected to Redis at %s (prefix: %s)", m.config.RedisAddr, m.config.Prefix)
	case BackendMemory, "":
		m.backend = NewMemoryBackend()
		log.Println("[prefs] Using in-memory storage")
	default:
		return fmt.Errorf("unknown prefs backend %q", m.config.Backend)
	}

	m.store.Bind(m.backend)
	log.Println("[prefs] Plugin started")
	return nil
}

// Stop closes the backend.
func (m *PluginModule) Stop(_ context.Context) error {
	if m.backend != nil {
		m.store.Bind(nil)
		if err := m.backend.Close(); err != nil {
			log.Printf("[prefs] Error closing storage: %v", err)
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}
	log.Println("[prefs] Plugin stopped")
	return nil
}

// ============================================================
// PluginModule Interface Implementation
// ============================================================

// SetContainer sets the service container for this plugin.
func (m *PluginModule) SetContainer(container types.ServiceContainer) {
	m.container = container
}

// Container returns the service container for this plugin.
func (m *PluginModule) Container() types.ServiceContainer {
	return m.container
}

// Port returns the preference store.
func (m *PluginModule) Port() *Store {
	return m.store
}

// Health reports whether the backend answers a read.
func (m *PluginModule) Health(ctx context.Context) mono.HealthStatus {
	b, err := m.store.get()
	if err != nil {
		return mono.HealthStatus{Healthy: false, Message: err.Error()}
	}
	if _, err := b.GetWithContext(ctx, m.config.Prefix+"__health_check__"); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("health check failed: %v", err),
		}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"backend": m.config.Backend,
			"prefix":  m.config.Prefix,
		},
	}
}

// parseRedisAddr parses "host:port", falling back to 127.0.0.1:6379.
func parseRedisAddr(addr string) (string, int) {
	const defaultHost = "127.0.0.1"
	const defaultPort = 6379

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return defaultHost, defaultPort
	}
	if host == "" {
		host = defaultHost
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = defaultPort
	}
	return host, port
}
