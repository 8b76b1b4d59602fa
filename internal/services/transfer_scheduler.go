/**
 * @description
 * Delayed Transfer Scheduler.
 * Withdrawals out of managed accounts: immediate ones execute inline, delayed
 * ones sit behind a cancellable hold window and are drained by the worker's
 * cron tick.
 *
 * @dependencies
 * - gorm.io/gorm
 * - backend/internal/chain
 * - backend/internal/services (Executor, AccountRegistry)
 *
 * @notes
 * - Cancellation is a single atomic UPDATE joined on the account's user_id:
 *   no read-then-write window for a racing executor to slip through.
 * - ExecuteReadyTransfers isolates failures per transfer; a failed row records
 *   its error and stays inspectable, it never aborts the sweep.
 */

package services

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/mejango/juicy-vision-sub002/internal/chain"
	"github.com/mejango/juicy-vision-sub002/internal/logger"
	"github.com/mejango/juicy-vision-sub002/internal/models"
	"gorm.io/gorm"
)

// DefaultTransferHold is the grace period before a delayed transfer executes.
const DefaultTransferHold = 7 * 24 * time.Hour

type TransferScheduler struct {
	DB       *gorm.DB
	Chains   *chain.Registry
	Registry *AccountRegistry
	Executor *Executor
	Hold     time.Duration
}

func NewTransferScheduler(db *gorm.DB, chains *chain.Registry, registry *AccountRegistry, executor *Executor) *TransferScheduler {
	return &TransferScheduler{
		DB:       db,
		Chains:   chains,
		Registry: registry,
		Executor: executor,
		Hold:     DefaultTransferHold,
	}
}

// RequestTransfer validates and persists a withdrawal. Delayed transfers get
// available_at = now + hold; immediate ones execute before returning.
func (s *TransferScheduler) RequestTransfer(ctx context.Context, userID string, chainID uint64, tokenAddress string, amount *big.Int, toAddress string, transferType models.TransferType) (*models.Transfer, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("transfer amount must be positive")
	}
	if !common.IsHexAddress(toAddress) {
		return nil, fmt.Errorf("invalid destination address: %s", toAddress)
	}

	account, err := s.Registry.GetOrCreate(ctx, userID, chainID)
	if err != nil {
		return nil, err
	}
	if account.CustodyStatus != models.CustodyManaged {
		return nil, fmt.Errorf("%w: account %s is %s", ErrAccountNotManaged, account.Address, account.CustodyStatus)
	}

	if err := s.verifyBalance(ctx, account, tokenAddress, amount); err != nil {
		return nil, err
	}

	transfer := models.Transfer{
		SmartAccountID: account.ID,
		TokenAddress:   tokenAddress,
		Amount:         amount.String(),
		ToAddress:      toAddress,
		Status:         models.TransferPending,
		TransferType:   transferType,
	}
	if transferType == models.TransferDelayed {
		availableAt := time.Now().Add(s.Hold)
		transfer.AvailableAt = &availableAt
	}

	if err := s.DB.WithContext(ctx).Create(&transfer).Error; err != nil {
		return nil, fmt.Errorf("failed to create transfer: %w", err)
	}

	if transferType == models.TransferImmediate {
		s.executeOne(ctx, &transfer, account)
	}
	return &transfer, nil
}

// CancelTransfer cancels a pending delayed transfer. Ownership is enforced in
// the same UPDATE via a join on the account's user_id.
func (s *TransferScheduler) CancelTransfer(ctx context.Context, transferID uuid.UUID, userID string) error {
	res := s.DB.WithContext(ctx).Model(&models.Transfer{}).
		Where("id = ? AND status = ?", transferID, models.TransferPending).
		Where("smart_account_id IN (?)",
			s.DB.Model(&models.SmartAccount{}).Select("id").Where("user_id = ?", userID)).
		Update("status", models.TransferCancelled)
	if res.Error != nil {
		return fmt.Errorf("failed to cancel transfer: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTransferNotCancellable
	}
	return nil
}

// GetTransfer fetches one transfer owned by the user.
func (s *TransferScheduler) GetTransfer(ctx context.Context, transferID uuid.UUID, userID string) (*models.Transfer, error) {
	var transfer models.Transfer
	err := s.DB.WithContext(ctx).
		Where("transfers.id = ?", transferID).
		Where("smart_account_id IN (?)",
			s.DB.Model(&models.SmartAccount{}).Select("id").Where("user_id = ?", userID)).
		First(&transfer).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transfer: %w", err)
	}
	return &transfer, nil
}

// ExecuteReadyTransfers drains delayed transfers past their hold window.
// Cron-invoked and safe to re-invoke: each item is claimed with a guarded
// UPDATE before execution.
func (s *TransferScheduler) ExecuteReadyTransfers(ctx context.Context) error {
	var due []models.Transfer
	err := s.DB.WithContext(ctx).
		Where("status = ? AND transfer_type = ? AND available_at <= ?",
			models.TransferPending, models.TransferDelayed, time.Now()).
		Where("smart_account_id IN (?)",
			s.DB.Model(&models.SmartAccount{}).Select("id").Where("custody_status = ?", models.CustodyManaged)).
		Find(&due).Error
	if err != nil {
		return fmt.Errorf("failed to query ready transfers: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	logger.Info("⏳ Executing %d ready delayed transfers", len(due))

	for i := range due {
		transfer := &due[i]

		var account models.SmartAccount
		if err := s.DB.WithContext(ctx).First(&account, "id = ?", transfer.SmartAccountID).Error; err != nil {
			logger.Error("Transfer %s: failed to load account: %v", transfer.ID, err)
			continue
		}

		// One transfer's failure must not abort the rest.
		s.executeOne(ctx, transfer, &account)
	}
	return nil
}

// executeOne claims, re-verifies, and executes a single transfer, recording
// the terminal outcome on the row.
func (s *TransferScheduler) executeOne(ctx context.Context, transfer *models.Transfer, account *models.SmartAccount) {
	// Claim: a concurrent worker tick loses this UPDATE and skips.
	res := s.DB.WithContext(ctx).Model(transfer).
		Where("status = ?", models.TransferPending).
		Update("status", models.TransferProcessing)
	if res.Error != nil || res.RowsAffected == 0 {
		return
	}

	amount, ok := new(big.Int).SetString(transfer.Amount, 10)
	if !ok {
		s.markFailed(ctx, transfer, fmt.Sprintf("unparseable amount %q", transfer.Amount))
		return
	}

	// Balances can change during the hold window; re-verify at execution time.
	if err := s.verifyBalance(ctx, account, transfer.TokenAddress, amount); err != nil {
		s.markFailed(ctx, transfer, err.Error())
		return
	}

	receipt, err := s.submit(ctx, transfer, account, amount)
	if err != nil {
		logger.Error("Transfer %s failed: %v", transfer.ID, err)
		s.markFailed(ctx, transfer, err.Error())
		return
	}

	if err := s.DB.WithContext(ctx).Model(transfer).Updates(map[string]interface{}{
		"status":  models.TransferCompleted,
		"tx_hash": receipt.TxHash.Hex(),
		"error":   "",
	}).Error; err != nil {
		logger.Error("Transfer %s executed (tx %s) but status update failed: %v", transfer.ID, receipt.TxHash.Hex(), err)
		return
	}
	logger.Info("✅ Transfer %s completed (tx %s)", transfer.ID, receipt.TxHash.Hex())
}

func (s *TransferScheduler) submit(ctx context.Context, transfer *models.Transfer, account *models.SmartAccount, amount *big.Int) (receipt *types.Receipt, err error) {
	to := common.HexToAddress(transfer.ToAddress)
	if transfer.TokenAddress == "" {
		// Native transfer: the account sends value with empty calldata.
		return s.Executor.Execute(ctx, account.UserID, account.ChainID, to, nil, amount)
	}
	token := common.HexToAddress(transfer.TokenAddress)
	data, err := chain.PackERC20Transfer(to, amount)
	if err != nil {
		return nil, err
	}
	return s.Executor.Execute(ctx, account.UserID, account.ChainID, token, data, nil)
}

func (s *TransferScheduler) verifyBalance(ctx context.Context, account *models.SmartAccount, tokenAddress string, amount *big.Int) error {
	client, err := s.Chains.Get(account.ChainID)
	if err != nil {
		return err
	}
	accountAddr := common.HexToAddress(account.Address)

	var balance *big.Int
	if tokenAddress == "" {
		balance, err = client.NativeBalance(ctx, accountAddr)
	} else {
		balance, err = chain.ERC20Balance(ctx, client, common.HexToAddress(tokenAddress), accountAddr)
	}
	if err != nil {
		return fmt.Errorf("failed to verify balance: %w", err)
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, balance, amount)
	}
	return nil
}

func (s *TransferScheduler) markFailed(ctx context.Context, transfer *models.Transfer, message string) {
	if err := s.DB.WithContext(ctx).Model(transfer).Updates(map[string]interface{}{
		"status": models.TransferFailed,
		"error":  message,
	}).Error; err != nil {
		logger.Error("Transfer %s: failed to record failure: %v", transfer.ID, err)
	}
}
