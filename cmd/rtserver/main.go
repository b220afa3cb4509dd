package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tavern/community-app/internal/chat"
	"github.com/tavern/community-app/internal/cinema"
	"github.com/tavern/community-app/internal/directory"
	"github.com/tavern/community-app/internal/dm"
	"github.com/tavern/community-app/internal/gateway"
	"github.com/tavern/community-app/internal/identity"
	"github.com/tavern/community-app/internal/messaging"
	"github.com/tavern/community-app/internal/metrics"
	"github.com/tavern/community-app/internal/moderation"
	"github.com/tavern/community-app/internal/ratelimit"
	"github.com/tavern/community-app/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	dbPath := "data/community.db"
	if v := os.Getenv("DB_PATH"); v != "" {
		dbPath = v
	}
	metricsAddr := ":9100"
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		metricsAddr = v
	}

	// --- User directory (SQLite) ---
	dir, err := directory.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open user directory: %v", err)
	}

	// --- NATS (optional): moderation audit stream ---
	var natsClient *messaging.NATSClient
	natsURL := os.Getenv("NATS_URL")
	if natsURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = natsURL
		natsConfig.Name = "community-rtserver"
		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
	}

	// --- Redis (optional): per-IP connect throttle ---
	var rdb *redis.Client
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			cancel()
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		cancel()
	}

	log.Printf("community realtime server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  db_path:         %s", dbPath)
	log.Printf("  metrics_addr:    %s", metricsAddr)
	log.Printf("  nats_url:        %s", orDisabled(natsURL))
	log.Printf("  redis_addr:      %s", orDisabled(redisAddr))

	// --- Application state ---
	var pub moderation.AuditPublisher
	if natsClient != nil {
		pub = natsClient
	}
	mods := moderation.NewRegistry(dir, pub)
	hist := chat.NewHistory()
	dms := dm.NewStore()
	rooms := cinema.NewRegistry()
	guests := identity.NewGuestIDs()

	server := ws.NewServer(config)

	global := gateway.NewGlobalHandler(server, dir, guests, hist, dms, mods)
	cinemaNS := gateway.NewCinemaHandler(server, dir, guests, rooms, mods)
	global.SetOnBan(cinemaNS.KickUser)

	server.Handle("/ws", global)
	server.Handle("/ws/cinema", cinemaNS)

	if rdb != nil {
		limiter := ratelimit.NewLimiter(rdb)
		server.SetConnectGate(func(ctx context.Context, ip string) bool {
			allowed, _ := limiter.Allow(ctx, ip, ratelimit.RuleConnect)
			return allowed
		})
	}

	// --- Prometheus metrics endpoint ---
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server error: %v", err)
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if natsClient != nil {
			natsClient.Close()
		}
		if rdb != nil {
			_ = rdb.Close()
		}
		if err := dir.Close(); err != nil {
			log.Printf("directory close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func orDisabled(v string) string {
	if v == "" {
		return "(disabled)"
	}
	return v
}
