package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tavern/community-app/internal/audit"
	"github.com/tavern/community-app/internal/messaging"
)

func main() {
	log.Println("starting community moderation auditor...")

	dbPath := "data/audit.db"
	if v := os.Getenv("AUDIT_DB_PATH"); v != "" {
		dbPath = v
	}

	store, err := audit.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open audit store: %v", err)
	}

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "community-auditor"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// Archive every moderation action from the audit stream.
	err = natsClient.SubscribeAudit(func(entry audit.Entry) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := store.Insert(ctx, entry); err != nil {
			log.Printf("[auditor] insert %s %d->%d: %v", entry.Action, entry.ActorID, entry.TargetID, err)
			return
		}
		log.Printf("[auditor] archived %s actor=%d target=%d", entry.Action, entry.ActorID, entry.TargetID)
	})
	if err != nil {
		log.Fatalf("failed to subscribe to audit stream: %v", err)
	}

	log.Printf("community moderation auditor running")
	log.Printf("  nats_url:      %s", natsConfig.URL)
	log.Printf("  audit_db_path: %s", dbPath)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	natsClient.Close()
	if err := store.Close(); err != nil {
		log.Printf("audit store close error: %v", err)
	}
}
