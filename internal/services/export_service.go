/**
 * @description
 * Custody Export state machine.
 * Hands the user's smart accounts over to their own key, chain by chain.
 * Per-chain outcomes are persisted after every chain so partial progress
 * survives a crash, and failed chains are retryable without touching the
 * completed ones.
 *
 * States: pending -> blocked (pending withdrawals exist) -> processing ->
 * {completed | partial | failed}; cancelled from pending/blocked; partial and
 * failed retryable.
 *
 * @dependencies
 * - gorm.io/gorm
 * - backend/internal/chain
 * - backend/internal/services (AccountRegistry, DeploymentManager, SystemSigner)
 */

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/mejango/juicy-vision-sub002/internal/chain"
	"github.com/mejango/juicy-vision-sub002/internal/logger"
	"github.com/mejango/juicy-vision-sub002/internal/models"
	"gorm.io/gorm"
)

type ExportService struct {
	DB         *gorm.DB
	Chains     *chain.Registry
	Registry   *AccountRegistry
	Deployment *DeploymentManager
	Signer     *SystemSigner
}

func NewExportService(db *gorm.DB, chains *chain.Registry, registry *AccountRegistry, deployment *DeploymentManager, signer *SystemSigner) *ExportService {
	return &ExportService{
		DB:         db,
		Chains:     chains,
		Registry:   registry,
		Deployment: deployment,
		Signer:     signer,
	}
}

// DeriveExportStatus folds per-chain outcomes into the request's final status:
// completed iff every chain completed, failed iff every chain failed,
// otherwise partial.
func DeriveExportStatus(chainIDs []uint64, outcomes models.ChainStatusMap) models.ExportStatus {
	completed, failed := 0, 0
	for _, id := range chainIDs {
		switch outcomes[id].Status {
		case models.ChainOutcomeCompleted:
			completed++
		case models.ChainOutcomeFailed:
			failed++
		}
	}
	switch {
	case completed == len(chainIDs):
		return models.ExportCompleted
	case failed == len(chainIDs):
		return models.ExportFailed
	default:
		return models.ExportPartial
	}
}

// ChainsToAttempt returns the chains whose recorded outcome is not completed.
func ChainsToAttempt(chainIDs []uint64, outcomes models.ChainStatusMap) []uint64 {
	var remaining []uint64
	for _, id := range chainIDs {
		if outcomes[id].Status != models.ChainOutcomeCompleted {
			remaining = append(remaining, id)
		}
	}
	return remaining
}

// RequestExport opens an export for every configured chain, snapshotting the
// user's accounts for confirmation. Pending withdrawals block the export.
func (s *ExportService) RequestExport(ctx context.Context, userID, newOwnerAddress string) (*models.ExportRequest, error) {
	if !common.IsHexAddress(newOwnerAddress) {
		return nil, fmt.Errorf("invalid new owner address: %s", newOwnerAddress)
	}

	chainIDs := s.Chains.ChainIDs()

	// Make sure every chain's account row exists so the export covers all of
	// them, even chains the user never touched.
	for _, chainID := range chainIDs {
		if _, err := s.Registry.GetOrCreate(ctx, userID, chainID); err != nil {
			return nil, err
		}
	}

	blockers, err := s.pendingWithdrawals(ctx, userID)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.buildSnapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	status := models.ExportPending
	if len(blockers) > 0 {
		status = models.ExportBlocked
	}

	chainStatus := make(models.ChainStatusMap, len(chainIDs))
	for _, id := range chainIDs {
		chainStatus[id] = models.ChainOutcome{Status: models.ChainOutcomePending}
	}

	export := models.ExportRequest{
		UserID:              userID,
		NewOwnerAddress:     newOwnerAddress,
		ChainIDs:            chainIDs,
		ChainStatus:         chainStatus,
		Status:              status,
		BlockedByPendingOps: len(blockers) > 0,
		PendingOpsDetails:   blockers,
		ExportSnapshot:      snapshot,
	}
	if err := s.DB.WithContext(ctx).Create(&export).Error; err != nil {
		return nil, fmt.Errorf("failed to create export request: %w", err)
	}

	logger.Info("📤 Export %s requested by user %s (status=%s, %d chains)", export.ID, userID, status, len(chainIDs))
	return &export, nil
}

// ConfirmExport runs the ownership transfer chain by chain. Requires the
// request to be pending; a blocked request is re-validated first and promoted
// only once its blockers resolved. Only the requesting user can confirm.
func (s *ExportService) ConfirmExport(ctx context.Context, exportID uuid.UUID, userID string) (*models.ExportRequest, error) {
	var export models.ExportRequest
	if err := s.DB.WithContext(ctx).First(&export, "id = ? AND user_id = ?", exportID, userID).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch export: %w", err)
	}

	if export.Status == models.ExportBlocked {
		blockers, err := s.pendingWithdrawals(ctx, export.UserID)
		if err != nil {
			return nil, err
		}
		if len(blockers) > 0 {
			return nil, fmt.Errorf("%w: %d withdrawals still pending", ErrExportBlocked, len(blockers))
		}
		export.Status = models.ExportPending
		export.BlockedByPendingOps = false
		export.PendingOpsDetails = nil
	}
	if export.Status != models.ExportPending {
		return nil, fmt.Errorf("%w: status is %s", ErrExportNotConfirmable, export.Status)
	}

	now := time.Now()
	export.UserConfirmedAt = &now
	export.Status = models.ExportProcessing
	if err := s.DB.WithContext(ctx).Save(&export).Error; err != nil {
		return nil, fmt.Errorf("failed to mark export processing: %w", err)
	}

	s.processChains(ctx, &export, export.ChainIDs)
	return s.finalize(ctx, &export)
}

// RetryExport re-attempts only the chains not yet completed.
func (s *ExportService) RetryExport(ctx context.Context, exportID uuid.UUID, userID string) (*models.ExportRequest, error) {
	var export models.ExportRequest
	if err := s.DB.WithContext(ctx).First(&export, "id = ? AND user_id = ?", exportID, userID).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch export: %w", err)
	}
	if export.Status != models.ExportPartial && export.Status != models.ExportFailed {
		return nil, fmt.Errorf("%w: status is %s", ErrExportNotRetryable, export.Status)
	}

	remaining := ChainsToAttempt(export.ChainIDs, export.ChainStatus)
	if len(remaining) == 0 {
		return s.finalize(ctx, &export)
	}

	export.Status = models.ExportProcessing
	export.RetryCount++
	if err := s.DB.WithContext(ctx).Save(&export).Error; err != nil {
		return nil, fmt.Errorf("failed to mark export processing: %w", err)
	}

	logger.Info("🔁 Export %s retry #%d over %d remaining chains", export.ID, export.RetryCount, len(remaining))
	s.processChains(ctx, &export, remaining)
	return s.finalize(ctx, &export)
}

// CancelExport cancels a request that hasn't started processing. Ownership is
// enforced in the same UPDATE, so a stranger's cancel affects zero rows.
func (s *ExportService) CancelExport(ctx context.Context, exportID uuid.UUID, userID string) error {
	res := s.DB.WithContext(ctx).Model(&models.ExportRequest{}).
		Where("id = ? AND user_id = ? AND status IN ?", exportID, userID,
			[]models.ExportStatus{models.ExportPending, models.ExportBlocked}).
		Update("status", models.ExportCancelled)
	if res.Error != nil {
		return fmt.Errorf("failed to cancel export: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrExportNotCancellable
	}
	return nil
}

// GetExport fetches one export request owned by the user.
func (s *ExportService) GetExport(ctx context.Context, exportID uuid.UUID, userID string) (*models.ExportRequest, error) {
	var export models.ExportRequest
	if err := s.DB.WithContext(ctx).First(&export, "id = ? AND user_id = ?", exportID, userID).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch export: %w", err)
	}
	return &export, nil
}

// processChains transfers ownership on each chain sequentially, persisting the
// outcome after every chain. One chain's failure never stops the rest.
func (s *ExportService) processChains(ctx context.Context, export *models.ExportRequest, chainIDs []uint64) {
	newOwner := common.HexToAddress(export.NewOwnerAddress)

	for _, chainID := range chainIDs {
		outcome := s.transferChainOwnership(ctx, export.UserID, chainID, newOwner)
		export.ChainStatus[chainID] = outcome

		// Persist after every chain, not just at the end: partial progress
		// must survive a crash mid-export.
		if err := s.DB.WithContext(ctx).Model(export).
			Update("chain_status", export.ChainStatus).Error; err != nil {
			logger.Error("Export %s: failed to persist chain %d outcome: %v", export.ID, chainID, err)
		}
	}
}

// transferChainOwnership moves one chain's account to the new owner and
// updates the account row accordingly.
func (s *ExportService) transferChainOwnership(ctx context.Context, userID string, chainID uint64, newOwner common.Address) models.ChainOutcome {
	fail := func(err error) models.ChainOutcome {
		logger.Error("Export: chain %d ownership transfer failed for user %s: %v", chainID, userID, err)
		s.setCustody(ctx, userID, chainID, models.CustodyManaged, "")
		return models.ChainOutcome{Status: models.ChainOutcomeFailed, Error: err.Error()}
	}

	if err := s.setCustody(ctx, userID, chainID, models.CustodyTransferring, ""); err != nil {
		return models.ChainOutcome{Status: models.ChainOutcomeFailed, Error: err.Error()}
	}

	// Ownership lives in the contract; it has to exist before it can change
	// hands.
	account, err := s.Deployment.EnsureDeployed(ctx, userID, chainID)
	if err != nil {
		return fail(err)
	}

	client, err := s.Chains.Get(chainID)
	if err != nil {
		return fail(err)
	}

	data, err := chain.PackTransferOwnership(newOwner)
	if err != nil {
		return fail(err)
	}

	receipt, err := client.SubmitAndWait(ctx, s.Signer.ReservesKey(), common.HexToAddress(account.Address), nil, data)
	if err != nil {
		return fail(err)
	}

	if err := s.setCustody(ctx, userID, chainID, models.CustodySelfCustody, newOwner.Hex()); err != nil {
		// The chain transfer succeeded; record it as such and let the account
		// row catch up on retry.
		logger.Error("Export: chain %d transferred but account update failed: %v", chainID, err)
	}

	logger.Info("✅ Export: chain %d ownership transferred to %s (tx %s)", chainID, newOwner.Hex(), receipt.TxHash.Hex())
	return models.ChainOutcome{Status: models.ChainOutcomeCompleted, TxHash: receipt.TxHash.Hex()}
}

func (s *ExportService) setCustody(ctx context.Context, userID string, chainID uint64, status models.CustodyStatus, ownerAddress string) error {
	updates := map[string]interface{}{"custody_status": status}
	if ownerAddress != "" {
		updates["owner_address"] = ownerAddress
	}
	return s.DB.WithContext(ctx).Model(&models.SmartAccount{}).
		Where("user_id = ? AND chain_id = ?", userID, chainID).
		Updates(updates).Error
}

// finalize derives and persists the request's final status.
func (s *ExportService) finalize(ctx context.Context, export *models.ExportRequest) (*models.ExportRequest, error) {
	export.Status = DeriveExportStatus(export.ChainIDs, export.ChainStatus)
	if err := s.DB.WithContext(ctx).Model(export).Updates(map[string]interface{}{
		"status":       export.Status,
		"chain_status": export.ChainStatus,
		"retry_count":  export.RetryCount,
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to finalize export: %w", err)
	}
	logger.Info("📤 Export %s finalized: %s", export.ID, export.Status)
	return export, nil
}

// pendingWithdrawals lists the user's in-flight transfers that block exports.
func (s *ExportService) pendingWithdrawals(ctx context.Context, userID string) ([]models.PendingOpDetail, error) {
	var transfers []models.Transfer
	err := s.DB.WithContext(ctx).
		Where("status IN ?", []models.TransferStatus{models.TransferPending, models.TransferProcessing}).
		Where("smart_account_id IN (?)",
			s.DB.Model(&models.SmartAccount{}).Select("id").Where("user_id = ?", userID)).
		Find(&transfers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query pending withdrawals: %w", err)
	}

	details := make([]models.PendingOpDetail, 0, len(transfers))
	for _, t := range transfers {
		details = append(details, models.PendingOpDetail{
			TransferID: t.ID,
			Status:     t.Status,
			Amount:     t.Amount,
		})
	}
	return details, nil
}

// buildSnapshot captures per-chain balances and state for user confirmation.
// Chain reads run through the isolated-failure combinator: one RPC outage
// shows up as that chain's balance_error, not a failed snapshot.
func (s *ExportService) buildSnapshot(ctx context.Context, userID string) (*models.ExportSnapshot, error) {
	accounts, err := s.Registry.AccountsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	results := RunAll(accounts, func(account models.SmartAccount) (models.AccountSnapshot, error) {
		snap := models.AccountSnapshot{
			ChainID:  account.ChainID,
			Address:  account.Address,
			Deployed: account.Deployed,
		}
		client, err := s.Chains.Get(account.ChainID)
		if err != nil {
			return snap, err
		}
		balance, err := client.NativeBalance(ctx, common.HexToAddress(account.Address))
		if err != nil {
			return snap, err
		}
		snap.NativeBalance = balance.String()
		return snap, nil
	})

	snapshots := make([]models.AccountSnapshot, 0, len(results))
	for _, r := range results {
		snap := r.Value
		if r.Err != nil {
			snap.BalanceError = r.Err.Error()
		}
		snapshots = append(snapshots, snap)
	}

	projectIDs, err := s.activeProjectIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &models.ExportSnapshot{
		Accounts:   snapshots,
		ProjectIDs: projectIDs,
		TakenAt:    time.Now(),
	}, nil
}

// activeProjectIDs lists the projects the user holds a position in.
func (s *ExportService) activeProjectIDs(ctx context.Context, userID string) ([]uint64, error) {
	var ids []uint64
	err := s.DB.WithContext(ctx).Model(&models.PendingFiatPayment{}).
		Distinct("project_id").
		Where("user_id = ?", userID).
		Order("project_id asc").
		Pluck("project_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list project ids: %w", err)
	}
	return ids, nil
}
