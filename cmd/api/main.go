/**
 * @description
 * Main entry point for the Juicy Vision custody API.
 * Initializes the Fiber web server, loads configuration, dials the chain
 * registry, and sets up routes.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2: Web framework
 * - backend/internal/config: Config loader
 * - backend/internal/db: Database connections
 * - backend/internal/chain: Per-chain RPC clients
 *
 * @notes
 * - Connects to Postgres, Redis, and every configured chain RPC on startup.
 * - Sets up basic middleware (CORS, Logger, Recover).
 */

package main

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/mejango/juicy-vision-sub002/internal/api"
	"github.com/mejango/juicy-vision-sub002/internal/chain"
	"github.com/mejango/juicy-vision-sub002/internal/config"
	"github.com/mejango/juicy-vision-sub002/internal/db"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Initialize Database Connections
	pgDB, err := db.ConnectPostgres(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}

	redisClient, err := db.ConnectRedis(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	// 3. Dial Chain RPCs
	chains, err := chain.NewRegistry(cfg)
	if err != nil {
		log.Fatalf("Failed to dial chain RPCs: %v", err)
	}
	defer chains.Close()

	// 4. Initialize Fiber App
	app := fiber.New(fiber.Config{
		AppName:       "Juicy Vision Custody",
		StrictRouting: true,
		CaseSensitive: true,
	})

	// 5. Global Middleware
	app.Use(recover.New()) // Panic recovery
	app.Use(logger.New())  // Request logging
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*", // TODO: Lock this down in production
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	// 6. Routes
	if err := api.SetupRoutes(app, pgDB, redisClient, chains, cfg); err != nil {
		log.Fatalf("Failed to set up routes: %v", err)
	}

	// 7. Start Server
	log.Printf("🚀 Starting custody API on port %s", cfg.Server.Port)
	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
