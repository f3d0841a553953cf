package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/example/ephemeral-chat/modules/api"
	"github.com/example/ephemeral-chat/modules/broadcast"
	"github.com/example/ephemeral-chat/modules/identity"
	"github.com/example/ephemeral-chat/modules/prefs"
	"github.com/example/ephemeral-chat/modules/realtime"
	"github.com/example/ephemeral-chat/modules/rooms"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"
	kvjetstream "github.com/go-monolith/mono/plugin/kv-jetstream"
)

func main() {
	log.Println("=== Ephemeral Chat - Fiber + Realtime Store ===")

	shutdownTimeout := getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second)
	jsDir := getEnv("JETSTREAM_DIR", "/tmp/ephemeral-chat")

	// Create mono application with embedded NATS JetStream
	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(shutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
		mono.WithJetStreamStorageDir(jsDir),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	storeConfig := realtime.DefaultConfig()
	storeConfig.Backend = getEnv("PERSIST_BACKEND", realtime.BackendKV)
	storeConfig.NATSURL = getEnv("NATS_URL", storeConfig.NATSURL)
	storeConfig.RedisAddr = getEnv("REDIS_ADDR", storeConfig.RedisAddr)

	// The kv-jetstream plugin backs the store on the embedded server.
	// The framework calls SetPlugin("kv", ...) on the realtime module.
	if storeConfig.Backend == realtime.BackendKV {
		kvStore, err := kvjetstream.New(kvjetstream.Config{
			Buckets: []kvjetstream.BucketConfig{
				{
					Name:        storeConfig.KVBucket,
					Description: "Room snapshots",
					Storage:     kvjetstream.FileStorage,
				},
			},
		})
		if err != nil {
			log.Fatalf("Failed to create KV plugin: %v", err)
		}
		if err := app.RegisterPlugin(kvStore, "kv"); err != nil {
			log.Fatalf("Failed to register KV plugin: %v", err)
		}
	}

	prefsConfig := prefs.DefaultConfig()
	prefsConfig.Backend = getEnv("PREFS_BACKEND", prefs.BackendMemory)
	prefsConfig.RedisAddr = getEnv("REDIS_ADDR", prefsConfig.RedisAddr)
	if err := app.RegisterPlugin(prefs.NewPluginModule(prefsConfig), "prefs"); err != nil {
		log.Fatalf("Failed to register prefs plugin: %v", err)
	}

	// Create modules
	storeModule, err := realtime.NewModule(storeConfig, app.Logger())
	if err != nil {
		log.Fatalf("Failed to create realtime module: %v", err)
	}

	roomsConfig := rooms.DefaultConfig()
	roomsConfig.ImgBBAPIKey = os.Getenv("IMGBB_API_KEY")
	roomsConfig.JanitorInterval = getEnvDuration("JANITOR_INTERVAL", roomsConfig.JanitorInterval)
	roomsConfig.Session.Lifecycle.SettleDelay = getEnvDuration("SETTLE_DELAY", roomsConfig.Session.Lifecycle.SettleDelay)
	roomsConfig.Session.Lifecycle.Grace = getEnvDuration("DELETION_GRACE", roomsConfig.Session.Lifecycle.Grace)
	roomsConfig.Session.TypingTimeout = getEnvDuration("TYPING_TIMEOUT", roomsConfig.Session.TypingTimeout)
	roomsModule, err := rooms.NewModule(roomsConfig, storeModule.Server())
	if err != nil {
		log.Fatalf("Failed to create rooms module: %v", err)
	}

	broadcastModule := broadcast.NewModule()

	apiConfig := api.DefaultConfig()
	apiConfig.Port = getEnv("PORT", apiConfig.Port)
	apiConfig.AllowedOrigins = getEnv("CORS_ALLOWED_ORIGINS", apiConfig.AllowedOrigins)
	apiConfig.CreateRoomLimit = getEnvInt("CREATE_ROOM_LIMIT", apiConfig.CreateRoomLimit)
	apiConfig.Identity = identity.Config{
		SecretKey: os.Getenv("JWT_SECRET"),
		Issuer:    getEnv("JWT_ISSUER", "ephemeral-chat"),
	}
	apiModule := api.NewModule(apiConfig, roomsModule)

	// Inject broadcast hub into API module
	// (This is done manually because the hub is not exposed via ServiceContainer)
	apiModule.SetHub(broadcastModule.GetHub())

	// Register modules with the framework.
	// Order: independent modules first, then modules with dependencies
	// - realtime: Store (ServiceProviderModule + kv plugin user)
	// - rooms: Sessions and room lifecycle (EventEmitterModule + prefs plugin user)
	// - broadcast: Event consumer (EventConsumerModule for the lobby feed)
	// - api: Driving adapter (Fiber HTTP/WebSocket server, depends on rooms and realtime)
	app.Register(storeModule)
	app.Register(roomsModule)
	app.Register(broadcastModule)
	app.Register(apiModule)

	// Start application
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo(apiConfig, storeConfig, roomsConfig)

	// Graceful shutdown
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo(apiConfig api.Config, storeConfig realtime.Config, roomsConfig rooms.Config) {
	port := apiConfig.Port

	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Println("Architecture:")
	log.Println("  - HTTP Framework: Fiber with WebSocket support")
	log.Printf("  - Store persistence: %s", storeConfig.Backend)
	log.Printf("  - Deletion grace: %s (settle %s)", roomsConfig.Session.Lifecycle.Grace, roomsConfig.Session.Lifecycle.SettleDelay)
	log.Printf("  - Image host: %s", imageHost(roomsConfig.ImgBBAPIKey))
	log.Println("")
	log.Println("Event-Driven Lobby Feed:")
	log.Println("  - UserEntered / UserLeft events -> broadcast module -> WebSocket clients")
	log.Println("  - RoomExpiryScheduled / RoomExpiryCancelled events -> broadcast module -> WebSocket clients")
	log.Println("  - RoomDeleted events -> broadcast module -> WebSocket clients")
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", port)
	log.Println("  GET    /health                 - Health check")
	log.Println("  POST   /api/v1/rooms           - Create a room")
	log.Println("  POST   /api/v1/rooms/join      - Validate a join form")
	log.Println("  GET    /api/v1/rooms/:roomId   - Room status")
	log.Println("  GET    /:roomId                - Room route")
	log.Println("")
	log.Printf("WebSocket Endpoints (ws://localhost:%s):", port)
	log.Println("  /ws?room=ID                    - Lobby activity feed")
	log.Println("  /ws/:roomId?name=NAME&client=ID - Room session")
	log.Println("  Message types: send, edit, delete, react, typing, search, stay, view, leave")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}

func imageHost(apiKey string) string {
	if apiKey == "" {
		return "inline data URLs"
	}
	return "ImgBB"
}

// getEnv returns environment variable value or default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns environment variable as int or default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		log.Printf("Warning: invalid int value for %s: %s, using default: %d", key, value, defaultValue)
	}
	return defaultValue
}

// getEnvDuration returns environment variable as time.Duration or default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Warning: invalid duration value for %s: %s, using default: %s", key, value, defaultValue)
	}
	return defaultValue
}
