/**
 * @description
 * Account Registry service.
 * Resolves a user's deterministic smart-account address per chain and owns the
 * smart_accounts table. Creation is lazy and idempotent: concurrent first-time
 * lookups race on the DB uniqueness constraint and losers adopt the winner's
 * row.
 *
 * @dependencies
 * - gorm.io/gorm
 * - github.com/jackc/pgconn: duplicate-key detection
 * - backend/internal/chain
 * - backend/internal/models
 *
 * @notes
 * - The on-chain owner of every managed account is the system signer, not the
 *   user. Salt = keccak256(namespace:userID), so the address is stable across
 *   chains and computable before deployment.
 * - After a duplicate-key conflict the existing row's user_id MUST match the
 *   caller; a mismatch is an ownership-integrity error, never silently
 *   returned.
 */

package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgconn"
	"github.com/mejango/juicy-vision-sub002/internal/chain"
	"github.com/mejango/juicy-vision-sub002/internal/config"
	"github.com/mejango/juicy-vision-sub002/internal/logger"
	"github.com/mejango/juicy-vision-sub002/internal/models"
	"gorm.io/gorm"
)

// pgUniqueViolation is Postgres error code 23505.
const pgUniqueViolation = "23505"

type AccountRegistry struct {
	DB     *gorm.DB
	Chains *chain.Registry
	Signer *SystemSigner
	Cfg    *config.Config
}

func NewAccountRegistry(db *gorm.DB, chains *chain.Registry, signer *SystemSigner, cfg *config.Config) *AccountRegistry {
	return &AccountRegistry{
		DB:     db,
		Chains: chains,
		Signer: signer,
		Cfg:    cfg,
	}
}

// GetOrCreate returns the user's account record for a chain, creating it on
// first lookup. Repeated and concurrent calls return the identical row.
func (s *AccountRegistry) GetOrCreate(ctx context.Context, userID string, chainID uint64) (*models.SmartAccount, error) {
	var account models.SmartAccount
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND chain_id = ?", userID, chainID).
		First(&account).Error
	if err == nil {
		return &account, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to fetch account: %w", err)
	}

	address, salt, err := s.counterfactualAddress(ctx, userID, chainID)
	if err != nil {
		return nil, err
	}

	account = models.SmartAccount{
		UserID:        userID,
		ChainID:       chainID,
		Address:       address.Hex(),
		Salt:          salt.Hex(),
		Deployed:      false,
		CustodyStatus: models.CustodyManaged,
	}

	if err := s.DB.WithContext(ctx).Create(&account).Error; err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			// Lost the creation race: adopt the winner's row, but only after
			// verifying it belongs to this user.
			return s.adoptExisting(ctx, userID, chainID, address.Hex())
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	logger.Info("🆕 Created smart account %s for user %s on chain %d", account.Address, userID, chainID)
	return &account, nil
}

// adoptExisting re-fetches the row that won a concurrent insert and verifies
// ownership before returning it.
func (s *AccountRegistry) adoptExisting(ctx context.Context, userID string, chainID uint64, address string) (*models.SmartAccount, error) {
	var existing models.SmartAccount
	if err := s.DB.WithContext(ctx).
		Where("chain_id = ? AND address = ?", chainID, address).
		First(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to re-fetch account after conflict: %w", err)
	}
	if existing.UserID != userID {
		logger.Error("Account %s on chain %d belongs to user %s, not %s", address, chainID, existing.UserID, userID)
		return nil, fmt.Errorf("%w: address %s on chain %d", ErrOwnershipMismatch, address, chainID)
	}
	return &existing, nil
}

// counterfactualAddress asks the chain's factory for the CREATE2 address,
// falling back to local derivation when the RPC read fails and the init code
// hash is configured.
func (s *AccountRegistry) counterfactualAddress(ctx context.Context, userID string, chainID uint64) (common.Address, common.Hash, error) {
	salt := chain.DeriveSalt(s.Cfg.Signing.SaltNamespace, userID)
	factory := common.HexToAddress(s.Cfg.Chains.AccountFactoryAddress)
	owner := s.Signer.ReservesAddress()

	client, err := s.Chains.Get(chainID)
	if err != nil {
		return common.Address{}, common.Hash{}, err
	}

	address, err := chain.FactoryGetAddress(ctx, client, factory, owner, salt)
	if err != nil {
		if s.Cfg.Chains.AccountInitCodeHash == "" {
			return common.Address{}, common.Hash{}, err
		}
		logger.Error("Factory getAddress failed on chain %d, deriving locally: %v", chainID, err)
		address, err = chain.DeriveAccountAddress(factory, salt, s.Cfg.Chains.AccountInitCodeHash)
		if err != nil {
			return common.Address{}, common.Hash{}, err
		}
	}
	return address, salt, nil
}

// GetByUser returns the stored account for (user, chain) without creating it.
func (s *AccountRegistry) GetByUser(ctx context.Context, userID string, chainID uint64) (*models.SmartAccount, error) {
	var account models.SmartAccount
	if err := s.DB.WithContext(ctx).
		Where("user_id = ? AND chain_id = ?", userID, chainID).
		First(&account).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch account: %w", err)
	}
	return &account, nil
}

// AccountsForUser returns every chain's account row for a user.
func (s *AccountRegistry) AccountsForUser(ctx context.Context, userID string) ([]models.SmartAccount, error) {
	var accounts []models.SmartAccount
	if err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("chain_id asc").
		Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}
