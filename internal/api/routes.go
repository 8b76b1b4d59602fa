/**
 * @description
 * API Route definitions.
 * Sets up the router groups and assigns handlers.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/api/handlers
 * - backend/internal/api/middleware
 * - backend/internal/services
 * - backend/internal/chain
 */

package api

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/mejango/juicy-vision-sub002/internal/api/handlers"
	"github.com/mejango/juicy-vision-sub002/internal/api/middleware"
	"github.com/mejango/juicy-vision-sub002/internal/chain"
	"github.com/mejango/juicy-vision-sub002/internal/config"
	"github.com/mejango/juicy-vision-sub002/internal/keystore"
	"github.com/mejango/juicy-vision-sub002/internal/relayer"
	"github.com/mejango/juicy-vision-sub002/internal/services"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// SetupRoutes configures all API routes.
// The chain registry is dialed by the caller so its lifecycle (and shutdown)
// lives in main.
func SetupRoutes(app *fiber.App, db *gorm.DB, rdb *redis.Client, chains *chain.Registry, cfg *config.Config) error {
	// 1. Initialize Middleware
	if err := middleware.InitAuthMiddleware(cfg); err != nil {
		log.Printf("Failed to init auth middleware: %v", err)
		// We don't panic here to allow app to start in dev modes without valid keys,
		// but protected routes will fail.
	}

	// 2. Initialize Services
	ks := keystore.NewClient(cfg)
	signer, err := services.NewSystemSigner(cfg, ks)
	if err != nil {
		return err
	}
	bundler := relayer.NewClient(cfg)
	lock := services.NewSubmissionLock(rdb)

	registry := services.NewAccountRegistry(db, chains, signer, cfg)
	deployment := services.NewDeploymentManager(db, chains, registry, signer, cfg)
	executor := services.NewExecutor(chains, deployment, signer)
	metaTx := services.NewMetaTransactionService(registry, chains, signer, bundler, lock, cfg)
	scheduler := services.NewTransferScheduler(db, chains, registry, executor)
	exports := services.NewExportService(db, chains, registry, deployment, signer)
	settlement := services.NewSettlementService(db, chains, signer, cfg)

	// 3. Initialize Handlers
	accountHandler := handlers.NewAccountHandler(registry, deployment)
	txHandler := handlers.NewTransactionHandler(metaTx)
	transferHandler := handlers.NewTransferHandler(scheduler)
	exportHandler := handlers.NewExportHandler(exports)
	paymentHandler := handlers.NewPaymentHandler(settlement)

	// 4. Define Routes
	api := app.Group("/api")
	v1 := api.Group("/v1")

	// Public Routes
	v1.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Account Routes (Protected)
	v1.Get("/accounts", middleware.Protected(), accountHandler.ListAccounts)
	accounts := v1.Group("/accounts", middleware.Protected())
	accounts.Get("/:chainID", accountHandler.GetAccount)
	accounts.Post("/:chainID/deploy", accountHandler.DeployAccount)

	// Meta-Transaction Routes (Protected)
	v1.Post("/transactions", middleware.Protected(), txHandler.SubmitTransactions)

	// Transfer Routes (Protected)
	v1.Post("/transfers", middleware.Protected(), transferHandler.CreateTransfer)
	transfers := v1.Group("/transfers", middleware.Protected())
	transfers.Get("/:id", transferHandler.GetTransfer)
	transfers.Delete("/:id", transferHandler.CancelTransfer)

	// Export Routes (Protected)
	v1.Post("/exports", middleware.Protected(), exportHandler.CreateExport)
	exportsGroup := v1.Group("/exports", middleware.Protected())
	exportsGroup.Get("/:id", exportHandler.GetExport)
	exportsGroup.Post("/:id/confirm", exportHandler.ConfirmExport)
	exportsGroup.Post("/:id/retry", exportHandler.RetryExport)
	exportsGroup.Delete("/:id", exportHandler.CancelExport)

	// Payment Routes (Protected)
	v1.Post("/payments", middleware.Protected(), paymentHandler.CreatePayment)
	payments := v1.Group("/payments", middleware.Protected())
	payments.Get("/:id", paymentHandler.GetPayment)

	// Processor webhooks. Signature verification happens at the edge proxy;
	// these routes carry no user JWT.
	webhooks := v1.Group("/webhooks/payments")
	webhooks.Post("/:id/dispute", paymentHandler.DisputePayment)
	webhooks.Post("/:id/refund", paymentHandler.RefundPayment)

	return nil
}
