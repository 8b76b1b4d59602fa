/**
 * @description
 * Deployment Manager service.
 * Lazily deploys a user's smart-account contract exactly once, tolerating
 * out-of-band deployment (the code check wins over the stored flag).
 *
 * @dependencies
 * - backend/internal/chain
 * - backend/internal/services (AccountRegistry, SystemSigner)
 *
 * @notes
 * - Safe to call redundantly: already-deployed accounts are a flag-only no-op.
 * - Waits for the deploy transaction's receipt before returning, so callers
 *   can immediately execute through the account.
 */

package services

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mejango/juicy-vision-sub002/internal/chain"
	"github.com/mejango/juicy-vision-sub002/internal/config"
	"github.com/mejango/juicy-vision-sub002/internal/logger"
	"github.com/mejango/juicy-vision-sub002/internal/models"
	"gorm.io/gorm"
)

type DeploymentManager struct {
	DB       *gorm.DB
	Chains   *chain.Registry
	Registry *AccountRegistry
	Signer   *SystemSigner
	Cfg      *config.Config
}

func NewDeploymentManager(db *gorm.DB, chains *chain.Registry, registry *AccountRegistry, signer *SystemSigner, cfg *config.Config) *DeploymentManager {
	return &DeploymentManager{
		DB:       db,
		Chains:   chains,
		Registry: registry,
		Signer:   signer,
		Cfg:      cfg,
	}
}

// EnsureDeployed returns the account's address, deploying the contract on
// first use.
func (s *DeploymentManager) EnsureDeployed(ctx context.Context, userID string, chainID uint64) (*models.SmartAccount, error) {
	account, err := s.Registry.GetOrCreate(ctx, userID, chainID)
	if err != nil {
		return nil, err
	}
	if account.Deployed {
		return account, nil
	}

	client, err := s.Chains.Get(chainID)
	if err != nil {
		return nil, err
	}

	address := common.HexToAddress(account.Address)

	// The account may have been deployed out-of-band (another instance, or a
	// direct factory call). Code presence is authoritative.
	hasCode, err := client.HasCode(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to check deployment state: %w", err)
	}
	if hasCode {
		if err := s.markDeployed(ctx, account); err != nil {
			return nil, err
		}
		return account, nil
	}

	salt := common.HexToHash(account.Salt)
	data, err := chain.PackCreateAccount(s.Signer.ReservesAddress(), salt)
	if err != nil {
		return nil, err
	}

	factory := common.HexToAddress(s.Cfg.Chains.AccountFactoryAddress)
	receipt, err := client.SubmitAndWait(ctx, s.Signer.ReservesKey(), factory, nil, data)
	if err != nil {
		return nil, fmt.Errorf("account deployment failed on chain %d: %w", chainID, err)
	}

	logger.Info("🚀 Deployed account %s on chain %d (tx %s)", account.Address, chainID, receipt.TxHash.Hex())

	if err := s.markDeployed(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

func (s *DeploymentManager) markDeployed(ctx context.Context, account *models.SmartAccount) error {
	if err := s.DB.WithContext(ctx).Model(account).
		Update("deployed", true).Error; err != nil {
		return fmt.Errorf("failed to record deployment: %w", err)
	}
	account.Deployed = true
	return nil
}
