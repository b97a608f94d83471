/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the LCFS compliance engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize SQLite store
  3. Build the ledger and report engines over the shared store
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080, or PORT env var)
  -db      SQLite database path (default: lcfs.db, or DATABASE_PATH)
           Use ":memory:" for an in-memory database
  -seed    Create demo organizations on startup

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/lcfs.db"

  # Run in-memory with demo organizations
  ./server -db=":memory:" -seed

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
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
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bcfuels/lcfs-engine/api"
	"github.com/bcfuels/lcfs-engine/core"
	"github.com/bcfuels/lcfs-engine/ledger"
	"github.com/bcfuels/lcfs-engine/refdata"
	"github.com/bcfuels/lcfs-engine/report"
	"github.com/bcfuels/lcfs-engine/store/sqlite"
)

func envInt(key string, fallback int) int {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return fallback
}

func envStr(key, fallback string) string {
	if raw := os.Getenv(key); raw != "" {
		return raw
	}
	return fallback
}

func main() {
	// .env is optional; flags override environment.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DATABASE_PATH", "lcfs.db"), "SQLite database path")
	seed := flag.Bool("seed", false, "create demo organizations on startup")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Engines share the store; reference data is compiled in.
	oracle := refdata.New(refdata.Seed())
	units := ledger.NewEngine(store)
	reports := report.NewEngine(store, units, oracle, nil)

	if *seed {
		if err := seedDemoOrgs(context.Background(), store); err != nil {
			log.Fatalf("Failed to seed demo organizations: %v", err)
		}
		log.Println("Seeded demo organizations")
	}

	router := api.NewRouter(api.NewHandler(store, reports, units, oracle))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
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

// seedDemoOrgs creates a handful of organizations for local exploration.
// Existing rows with the same IDs are overwritten; balances are left to
// the ledger.
func seedDemoOrgs(ctx context.Context, store *sqlite.Store) error {
	demo := []core.Organization{
		{ID: "org-pacific", LegalName: "Pacific Fuels Ltd.", OperatingName: "Pacific Fuels",
			Status: core.OrgRegistered, Type: core.OrgFuelSupplier},
		{ID: "org-cascadia", LegalName: "Cascadia Energy Corp.", OperatingName: "Cascadia",
			Status: core.OrgRegistered, Type: core.OrgFuelSupplier},
		{ID: "org-westcharge", LegalName: "WestCharge Networks Inc.", OperatingName: "WestCharge",
			Status: core.OrgRegistered, Type: core.OrgElectricitySupplier},
	}
	for _, org := range demo {
		if err := store.SaveOrganization(ctx, org); err != nil {
			return err
		}
	}
	return nil
}
