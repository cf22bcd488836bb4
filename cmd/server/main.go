/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the loan engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Wire the engine (GL observer, event sink, COB runner)
  4. Load persisted products into the product store
  5. Start the COB scheduler and HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port      HTTP server port (default: 8080)
  -db        SQLite database path (default: loans.db)
             Use ":memory:" for an in-memory database
  -workers   COB worker pool size (default: 4)
  -cob-cron  Cron spec for the nightly COB run (default: "30 0 * * *")
  -no-cob    Disable the COB scheduler

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the COB scheduler
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/loans.db"

  # Run with in-memory database, scheduler off
  ./server -db=":memory:" -no-cob

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
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/loan-engine/api"
	"github.com/warp/loan-engine/cob"
	"github.com/warp/loan-engine/events"
	"github.com/warp/loan-engine/gl"
	"github.com/warp/loan-engine/loan"
	"github.com/warp/loan-engine/product"
	"github.com/warp/loan-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "loans.db", "SQLite database path")
	workers := flag.Int("workers", 4, "COB worker pool size")
	cobSpec := flag.String("cob-cron", api.DefaultCOBSpec, "cron spec for the nightly COB run")
	noCOB := flag.Bool("no-cob", false, "disable the COB scheduler")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	// Wire the engine: journal deltas land in the same database, domain
	// events go through the in-memory publisher.
	publisher := events.NewMemory()
	sink := events.NewSink(publisher, events.Suppression{})
	engine := loan.NewEngine(store,
		loan.WithLedgerObserver(gl.NewObserver(store)),
		loan.WithEventSink(sink),
	)

	clock := loan.SystemClock{}
	runner := cob.NewRunner(engine,
		cob.WithWorkers(*workers),
		cob.WithEventSink(sink),
		cob.WithLogger(log),
	)

	// Load persisted products
	products := product.NewStore()
	factory := product.NewFactory()
	configs, err := store.ListProducts(context.Background())
	if err != nil {
		log.WithError(err).Fatal("failed to load products")
	}
	for _, pj := range configs {
		p, err := factory.FromJSON(pj)
		if err != nil {
			log.WithField("product", pj.ID).WithError(err).Warn("skipping invalid product")
			continue
		}
		if err := products.Put(context.Background(), p); err != nil {
			log.WithField("product", pj.ID).WithError(err).Warn("skipping conflicting product")
		}
	}

	// COB scheduler
	scheduler := api.NewCOBScheduler(runner, clock, log)
	scheduler.Spec = *cobSpec
	if !*noCOB {
		if err := scheduler.Start(); err != nil {
			log.WithError(err).Fatal("failed to start COB scheduler")
		}
		defer scheduler.Stop()
	}

	// HTTP server
	handler := api.NewHandler(engine, products, runner, clock)
	router := api.NewRouter(handler)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("port", *port).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
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
