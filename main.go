package main

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hkipo/hkex-ipo-backend/config"
	"github.com/hkipo/hkex-ipo-backend/database"
	"github.com/hkipo/hkex-ipo-backend/handlers"
	"github.com/hkipo/hkex-ipo-backend/jobs"
	"github.com/hkipo/hkex-ipo-backend/services"
	"github.com/hkipo/hkex-ipo-backend/shared"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load config
	cfg := config.LoadConfig()

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	// Connect to database when configured. The pipeline runs fully in-memory
	// without one.
	var snapshotStore *database.SnapshotStore
	if cfg.DatabaseURL != "" {
		if err := database.Connect(cfg.DatabaseURL); err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()

		if err := database.Migrate(); err != nil {
			log.Printf("Migration warning: %v", err)
		}
		snapshotStore = database.NewSnapshotStore(database.DB)
	} else {
		log.Println("DATABASE_URL not set, snapshot persistence disabled")
	}

	// Shared infrastructure
	clientFactory := shared.NewHTTPClientFactory(cfg.RequestTimeout)
	defer clientFactory.CleanupAllClients()
	rateLimiter := shared.NewHTTPRequestRateLimiter(2 * time.Second)

	// Core services
	utilityService := services.NewUtilityService()
	converter := services.NewCurrencyConverter(cfg.FXRateUSDHKD)

	calendarConfig := services.NewDefaultCalendarSourceConfiguration()
	calendarConfig.RequestTimeout = cfg.RequestTimeout
	calendarConfig.MaxDocumentBytes = cfg.MaxPDFBytes
	calendarConfig.EnableHeadlessFallback = cfg.EnableHeadless
	if cfg.CalendarURL != "" {
		calendarConfig.CalendarURLs = append([]string{cfg.CalendarURL}, calendarConfig.CalendarURLs...)
	}
	calendarService := services.NewCalendarService(calendarConfig, clientFactory, rateLimiter, utilityService)

	filingConfig := services.NewDefaultFilingSearchConfiguration()
	filingConfig.SearchWindow = cfg.FilingSearchWindow
	filingConfig.RequestTimeout = cfg.RequestTimeout
	filingService := services.NewFilingSearchService(filingConfig, rateLimiter, utilityService)

	termConfig := services.NewDefaultTermExtractorConfiguration()
	termConfig.RequestTimeout = cfg.RequestTimeout
	termConfig.MaxPDFBytes = cfg.MaxPDFBytes
	termService := services.NewTermExtractorService(termConfig, clientFactory, rateLimiter, utilityService, converter)

	overrideService := services.NewOverrideService(cfg.OverridesPath, utilityService)
	if err := overrideService.Load(); err != nil {
		log.Fatalf("Failed to load overrides: %v", err)
	}

	sampleService := services.NewSampleService(cfg.SampleCalendarPath, utilityService)

	reconcileConfig := &services.ReconcileConfiguration{
		WorkerCount: cfg.WorkerCount,
		MaxFilings:  6,
	}
	reconcileService := services.NewReconcileService(
		reconcileConfig,
		calendarService,
		filingService,
		termService,
		overrideService,
		sampleService,
		utilityService,
		converter,
	)

	// Serve the last persisted calendar until the first refresh lands.
	if snapshotStore != nil {
		seedCtx, cancelSeed := context.WithTimeout(context.Background(), 10*time.Second)
		records, savedAt, err := snapshotStore.LoadLatestSnapshot(seedCtx)
		cancelSeed()
		if err != nil {
			log.Printf("Snapshot seed warning: %v", err)
		} else if len(records) > 0 {
			reconcileService.SeedSnapshot(records, savedAt)
			log.Printf("Seeded %d records from snapshot saved at %v", len(records), savedAt)
		}
	}

	log.Println("IPO calendar services initialized:")
	log.Printf("  - Calendar source (timeout: %v, headless fallback: %v)", cfg.RequestTimeout, cfg.EnableHeadless)
	log.Printf("  - Filing search (window: %v)", cfg.FilingSearchWindow)
	log.Printf("  - Term extractor (max document: %d bytes)", cfg.MaxPDFBytes)
	log.Printf("  - Overrides (%d entries from %s)", overrideService.Count(), cfg.OverridesPath)
	log.Printf("  - Reconciler (%d workers)", cfg.WorkerCount)

	// Initialize jobs
	refreshJob := jobs.NewCalendarRefreshJob(reconcileService, snapshotStore)
	cleanupJob := jobs.NewSnapshotCleanupJob(snapshotStore, 30*24*time.Hour)

	// Initialize handlers
	calendarHandler := handlers.NewCalendarHandler(reconcileService)
	adminHandler := handlers.NewAdminHandler(reconcileService, overrideService, snapshotStore)

	// Start background jobs
	go func() {
		// Run immediately on startup
		go refreshJob.Run()

		refreshTicker := time.NewTicker(cfg.RefreshInterval)
		cleanupTicker := time.NewTicker(12 * time.Hour)

		for {
			select {
			case <-refreshTicker.C:
				refreshJob.Run()
			case <-cleanupTicker.C:
				cleanupJob.Run()
			}
		}
	}()

	// Setup Fiber
	app := fiber.New()

	// Middleware
	app.Use(logger.New())
	app.Use(cors.New())

	// Health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		response := fiber.Map{
			"status":       "ok",
			"timestamp":    time.Now().Unix(),
			"last_refresh": reconcileService.LastRefresh(),
		}
		if cfg.DatabaseURL != "" {
			if err := database.HealthCheck(); err != nil {
				response["database"] = err.Error()
			} else {
				response["database"] = "ok"
			}
		}
		return c.JSON(response)
	})

	// Routes
	api := app.Group("/api/v1")

	// Calendar Routes
	api.Get("/calendar", calendarHandler.GetCalendar)
	api.Get("/calendar/:date", calendarHandler.GetCalendarByDate)

	// Admin Routes
	admin := api.Group("/admin")
	// TODO: Add auth middleware
	admin.Post("/refresh", adminHandler.TriggerRefresh)
	admin.Post("/overrides/reload", adminHandler.ReloadOverrides)
	admin.Get("/metrics", adminHandler.GetMetrics)

	// Start server
	log.Printf("Server starting on port %s", cfg.ServerPort)
	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
