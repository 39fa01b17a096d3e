package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/trainspot/trainspot_core/internal/api"
	"github.com/trainspot/trainspot_core/internal/cache"
	"github.com/trainspot/trainspot_core/internal/config"
	"github.com/trainspot/trainspot_core/internal/db"
	"github.com/trainspot/trainspot_core/internal/estimator"
	"github.com/trainspot/trainspot_core/internal/index"
	"github.com/trainspot/trainspot_core/internal/metrics"
	"github.com/trainspot/trainspot_core/internal/realtime"
)

func main() {
	log.Println("Starting Trainspot API server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database connection
	pool, err := db.GetDB()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("✓ Database connection established")

	// Initialize Redis connection
	if cfg.ArrivalsCacheTTL > 0 {
		if _, err := cache.GetClient(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer cache.Close()
		log.Println("✓ Redis connection established")
	} else {
		log.Println("Arrivals cache disabled (ARRIVALS_CACHE_TTL_SEC=0)")
	}

	polylines := index.NewPolylineLog(pool)
	if err := polylines.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("Failed to prepare polyline log: %v", err)
	}

	collector := metrics.NewCollector()
	if cfg.MetricsAddr != "" {
		srv := collector.Serve(cfg.MetricsAddr)
		defer srv.Close()
		log.Printf("✓ Metrics exposed on %s/metrics", cfg.MetricsAddr)
	}

	state := &api.State{
		Source:           index.NewStore(pool),
		Fetcher:          realtime.NewClient(cfg.UpstreamBaseURL, cfg.FetchTimeout, cfg.ArrivalsLookback, collector),
		Estimator:        estimator.New(cfg.MaxDistanceKM),
		Metrics:          collector,
		Polylines:        polylines,
		FetchConcurrency: cfg.FetchConcurrency,
		ArrivalsCacheTTL: cfg.ArrivalsCacheTTL,
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Trainspot API",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorHandler: customErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	// Routes
	app.Get("/health", state.Health)
	app.Get("/search", state.Search)
	app.Get("/stats", state.Stats)

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(404).JSON(fiber.Map{
			"error": "endpoint not found",
		})
	})

	addr := fmt.Sprintf(":%s", cfg.Port)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down gracefully...")
		if err := app.Shutdown(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}()

	log.Printf("🚀 Server listening on http://localhost%s", addr)
	log.Printf("📍 Train search: http://localhost%s/search?lat=LAT&lon=LON", addr)
	log.Printf("❤️  Health check: http://localhost%s/health", addr)

	if err := app.Listen(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// customErrorHandler handles errors returned from handlers
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	log.Printf("Error: %v", err)

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
