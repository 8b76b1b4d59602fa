/**
 * @description
 * Worker Service Entry Point.
 * Responsible for background tasks:
 * 1. Executing delayed transfers whose security hold elapsed.
 * 2. Settling fiat payments whose chargeback-risk delay elapsed.
 *
 * @dependencies
 * - backend/internal/config
 * - backend/internal/db
 * - backend/internal/chain
 * - backend/internal/services
 *
 * @notes
 * - Both sweeps run on independent tickers so a slow settlement batch never
 *   starves transfer execution.
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mejango/juicy-vision-sub002/internal/chain"
	"github.com/mejango/juicy-vision-sub002/internal/config"
	"github.com/mejango/juicy-vision-sub002/internal/db"
	"github.com/mejango/juicy-vision-sub002/internal/keystore"
	"github.com/mejango/juicy-vision-sub002/internal/logger"
	"github.com/mejango/juicy-vision-sub002/internal/services"
)

const (
	transferSweepInterval   = 1 * time.Minute
	settlementSweepInterval = 5 * time.Minute
)

func main() {
	logger.Info("🔥 Starting Juicy Vision Worker...")

	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	// 2. Connect DBs
	pgDB, err := db.ConnectPostgres(cfg)
	if err != nil {
		logger.Fatal("Postgres connection failed: %v", err)
	}

	// 3. Dial Chain RPCs
	chains, err := chain.NewRegistry(cfg)
	if err != nil {
		logger.Fatal("Chain RPC dial failed: %v", err)
	}
	defer chains.Close()

	// 4. Initialize Services
	ks := keystore.NewClient(cfg)
	signer, err := services.NewSystemSigner(cfg, ks)
	if err != nil {
		logger.Fatal("Signer init failed: %v", err)
	}
	registry := services.NewAccountRegistry(pgDB, chains, signer, cfg)
	deployment := services.NewDeploymentManager(pgDB, chains, registry, signer, cfg)
	executor := services.NewExecutor(chains, deployment, signer)
	scheduler := services.NewTransferScheduler(pgDB, chains, registry, executor)
	settlement := services.NewSettlementService(pgDB, chains, signer, cfg)

	// 5. Context with Cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 6. Transfer Sweep Loop
	go func() {
		ticker := time.NewTicker(transferSweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := scheduler.ExecuteReadyTransfers(ctx); err != nil {
					logger.Error("Transfer sweep failed: %v", err)
				}
			}
		}
	}()

	// 7. Settlement Sweep Loop
	go func() {
		ticker := time.NewTicker(settlementSweepInterval)
		defer ticker.Stop()

		// Initial sweep so a restart doesn't delay due payments a full tick
		settlement.ProcessSettlements(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				settlement.ProcessSettlements(ctx)
			}
		}
	}()

	// 8. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	cancel()

	time.Sleep(1 * time.Second) // Give in-flight sweeps time to notice
	logger.Info("Worker exited.")
}
