/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the reservation history server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Attach a broadcast session and wire it into the service
  4. Load existing state into the in-memory snapshot
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: history.db)
           Use ":memory:" for an in-memory database

BROADCAST WIRING:
  The server attaches one session to a local hub. Mutations publish change
  notices through it, and any notice arriving from another session triggers
  a wholesale Reload from the durable store. With a single server process
  the reload path is idle, but the wiring matches the multi-session model.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the broadcast session and database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/history.db"

  # Run with in-memory database
  ./server -db=":memory:"

SEE ALSO:
  - api/server.go: Router configuration
  - history/service.go: Operation sequencing
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/reservation-history/api"
	"github.com/warp/reservation-history/broadcast"
	"github.com/warp/reservation-history/history"
	"github.com/warp/reservation-history/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "history.db", "SQLite database path")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Broadcast session for change notices
	hub := broadcast.NewHub()
	session := hub.Attach()
	defer session.Close()

	// Service with the session as notifier; notices from other sessions
	// trigger a wholesale reload.
	svc := history.NewService(store, history.WithNotifier(session))
	session.On(broadcast.Wildcard, func(broadcast.Message) {
		if err := svc.Reload(context.Background()); err != nil {
			log.Printf("Warning: reload after change notice failed: %v", err)
		}
	})

	if err := svc.Load(context.Background()); err != nil {
		log.Fatalf("Failed to load state: %v", err)
	}

	// Create router
	handler := api.NewHandler(svc)
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
