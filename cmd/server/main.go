/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the entitlement engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Wire the policy engine and directory
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port        HTTP server port (default: 8080)
  -db          SQLite database path (default: entitlements.db)
               Use ":memory:" for an in-memory database
  -alert-days  Days before expiry at which summaries warn (default: 60)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/entitlement-engine/api"
	"github.com/warp/entitlement-engine/catalog"
	"github.com/warp/entitlement-engine/entitlement"
	"github.com/warp/entitlement-engine/store/sqlite"
)

func main() {
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "entitlements.db", "SQLite database path")
	alertDays := flag.Int("alert-days", entitlement.DefaultExpiryAlertDays,
		"days before expiry at which summaries carry a warning date")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	// The in-memory catalog stands in for the real catalog, enrollment,
	// certificate, and commerce services. Production wiring swaps in
	// clients for those systems behind the same interfaces.
	collaborators := catalog.NewMemory(entitlement.SystemClock{})

	directory := &entitlement.Directory{
		Store:           store,
		Engine:          entitlement.NewPolicyEngine(collaborators, collaborators, entitlement.SystemClock{}),
		Enrollments:     collaborators,
		Support:         store,
		Orders:          collaborators,
		ExpiryAlertDays: *alertDays,
		Log:             log,
	}

	handler := api.NewHandler(directory, store, store)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("port", *port).Info("entitlement engine starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("server forced to shutdown")
	}
	log.Info("server stopped")
}
