package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/campushub/backend/internal/api"
	"github.com/campushub/backend/internal/dispatch"
	"github.com/campushub/backend/internal/event"
	"github.com/campushub/backend/internal/identity"
	"github.com/campushub/backend/internal/platform/auth"
	"github.com/campushub/backend/internal/platform/dbpool"
	"github.com/campushub/backend/internal/platform/env"
	"github.com/campushub/backend/internal/realtime"
	"github.com/campushub/backend/internal/store"
	"github.com/campushub/backend/internal/sweep"
	"github.com/campushub/backend/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := env.String("SERVER_ADDR", env.DefaultServerAddr)
	pgURL := env.String("DATABASE_URL", env.DefaultDatabaseURL)
	jwtSecret := env.String("JWT_SECRET", "dev-insecure-change-me")
	tokenTTL := env.Duration("TOKEN_TTL", 24*time.Hour)
	sweepInterval := env.Duration("SWEEP_INTERVAL", sweep.DefaultInterval)
	shutdownTimeout := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)

	pool, err := dbpool.New(runCtx, pgURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	st := store.New(pool)
	if err := waitForSchema(runCtx, st, 30*time.Second); err != nil {
		log.Fatal(err)
	}

	tokens := auth.NewManager(jwtSecret, tokenTTL)
	identitySvc := identity.NewService(st, tokens)

	registry := realtime.NewRegistry()
	bus := event.NewBus()
	dispatch.New(st, registry).Register(bus)

	worker := sweep.NewWorker(st, registry)
	worker.Interval = sweepInterval
	go worker.Run(runCtx)

	apiHandler := api.NewHandler(identitySvc, st, bus)
	apiHandler.Ready = func(ctx context.Context) error {
		return pingDatabase(ctx, pool)
	}
	wsHandler := ws.NewHandler(registry, st, bus, tokens)

	root := chi.NewRouter()
	root.Handle("/ws", wsHandler)
	root.Mount("/", apiHandler.Router())

	// No Read/WriteTimeout: /ws holds connections open for their lifetime.
	server := &http.Server{
		Addr:              addr,
		Handler:           root,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	fmt.Printf("Server listening on %s\n", addr)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Fatal(err)
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	registry.Close()
}

func waitForSchema(ctx context.Context, st *store.Store, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = st.EnsureSchema(attemptCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		log.Printf("waiting for schema readiness: %v", lastErr)
		time.Sleep(500 * time.Millisecond)
	}
	return lastErr
}

func pingDatabase(ctx context.Context, pool *pgxpool.Pool) error {
	checkCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
	defer cancel()
	if err := pool.Ping(checkCtx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}
