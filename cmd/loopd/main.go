package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/loophabits/loop-client/internal/adapters/api"
	"github.com/loophabits/loop-client/internal/adapters/localstore"
	"github.com/loophabits/loop-client/internal/adapters/push"
	"github.com/loophabits/loop-client/internal/core/domain"
	"github.com/loophabits/loop-client/internal/core/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading config from the environment")
	}

	backendURL := os.Getenv("BACKEND_URL")
	if backendURL == "" {
		backendURL = "http://localhost:8080"
	}

	wsURL := os.Getenv("WS_URL")
	if wsURL == "" {
		wsURL = "ws://localhost:8080/ws"
	}

	store, closeStore, err := buildStore()
	if err != nil {
		log.Fatalf("Critical: Failed to open local store: %v", err)
	}
	defer closeStore()

	client := api.NewClient(backendURL, nil)
	transport := push.NewWebsocketTransport(wsURL, func() string {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		token, err := store.LoadToken(ctx)
		if err != nil {
			log.Printf("[AUTH] Token load for dial failed: %v", err)
			return ""
		}
		return token
	})

	session := services.NewSessionService(store, client, client.SetToken)
	notifier := services.NewNotifierService(client, transport, terminalBell)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// One-shot login via environment, for kiosk-style deployments where
	// no interactive frontend drives the engine.
	if token := os.Getenv("LOOP_TOKEN"); token != "" {
		if err := session.Login(ctx, token, nil); err != nil {
			log.Fatalf("Critical: Login with LOOP_TOKEN failed: %v", err)
		}
	} else if err := session.Start(ctx); err != nil {
		log.Fatalf("Critical: Session boot failed: %v", err)
	}

	sess := session.Session()
	if !sess.IsAuthenticated {
		log.Fatal("Critical: No authenticated session. Set LOOP_TOKEN or persist a token first.")
	}
	log.Printf("Session ready for user %s", sess.UserID())

	completion := services.NewCompletionService(client, store, sess.UserID(), func() {
		log.Println("[HABIT] Perfect day! Every active habit is complete.")
		_ = terminalBell()
	})
	if err := completion.Start(ctx); err != nil {
		log.Fatalf("Critical: Completion engine failed to start: %v", err)
	}
	log.Printf("Tracking %d habits", len(completion.Habits()))

	if err := notifier.Start(ctx, sess.UserID()); err != nil {
		log.Fatalf("Critical: Notifier failed to start: %v", err)
	}
	log.Println("Loop client engine running. Press Ctrl+C to stop.")

	<-ctx.Done()

	log.Println("Stop signal received. Shutting down...")
	notifier.Stop()
	log.Println("Engine stopped gracefully.")
}

// engineStore is what the daemon needs from a storage backend: both
// the snapshot cache and the token slot, served by one instance.
type engineStore interface {
	domain.SnapshotStore
	domain.TokenStore
}

// buildStore selects the storage backend: Redis when REDIS_HOST is set
// (shared kiosk deployments), a local SQLite file otherwise.
func buildStore() (engineStore, func(), error) {
	if host := os.Getenv("REDIS_HOST"); host != "" {
		port := os.Getenv("REDIS_PORT")
		if port == "" {
			port = "6379"
		}
		dbIndex := 0
		if raw := os.Getenv("REDIS_DB"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid REDIS_DB %q: %w", raw, err)
			}
			dbIndex = parsed
		}

		rdb, err := localstore.NewRedisClient(host, port, os.Getenv("REDIS_PASSWORD"), dbIndex)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Using Redis store at %s:%s", host, port)
		return localstore.NewRedisStore(rdb), func() { _ = rdb.Close() }, nil
	}

	path := os.Getenv("LOOP_DB_PATH")
	if path == "" {
		path = "loop.db"
	}
	store, err := localstore.NewSQLiteStore(path)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("Using SQLite store at %s", path)
	return store, func() { _ = store.Close() }, nil
}

// terminalBell is the daemon's stand-in for the notification sound.
func terminalBell() error {
	_, err := fmt.Fprint(os.Stdout, "\a")
	return err
}
