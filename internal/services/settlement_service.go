/**
 * @description
 * Fiat settlement engine.
 * Card payments credit the user instantly off-chain, but the crypto leg only
 * settles after a risk-scored delay long enough to outlast the chargeback
 * window. Settlement converts the USD amount at the Chainlink ETH/USD rate
 * observed at settlement time (not purchase time) and pays it into the
 * project's terminal from reserves.
 *
 * @dependencies
 * - gorm.io/gorm (row locking via clause.Locking)
 * - backend/internal/chain (oracle read, terminal call)
 *
 * @notes
 * - A disputed payment is never settled, full stop. A dispute arriving after
 *   settlement cannot claw funds back on-chain; it is flagged for manual
 *   handling.
 * - The ETH/USD rate is re-read on every attempt so retries use a fresh price.
 */

package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/mejango/juicy-vision-sub002/internal/chain"
	"github.com/mejango/juicy-vision-sub002/internal/config"
	"github.com/mejango/juicy-vision-sub002/internal/logger"
	"github.com/mejango/juicy-vision-sub002/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// MaxSettlementRetries bounds automatic re-attempts; beyond it the payment
	// waits for an operator.
	MaxSettlementRetries = 5

	usdCentsPerDollar = 100
)

// settlementDelayDays maps a chargeback risk score (0-100) to the hold period.
// Higher risk waits longer; the mapping is monotone.
func settlementDelayDays(riskScore int) int {
	switch {
	case riskScore <= 20:
		return 0
	case riskScore <= 40:
		return 14
	case riskScore <= 60:
		return 30
	case riskScore <= 80:
		return 60
	default:
		return 120
	}
}

// canSettle is the settlement gate. Disputed is terminal with respect to
// settlement: no path from disputed to settled exists.
func canSettle(status models.PaymentStatus, settlesAt, now time.Time) error {
	if status == models.PaymentDisputed {
		return ErrPaymentDisputed
	}
	if status != models.PaymentPendingSettlement {
		return fmt.Errorf("%w: status is %s", ErrPaymentNotSettleable, status)
	}
	if settlesAt.After(now) {
		return fmt.Errorf("%w: settles at %s", ErrPaymentNotSettleable, settlesAt.Format(time.RFC3339))
	}
	return nil
}

type SettlementService struct {
	DB     *gorm.DB
	Chains *chain.Registry
	Signer *SystemSigner
	Cfg    *config.Config
}

func NewSettlementService(db *gorm.DB, chains *chain.Registry, signer *SystemSigner, cfg *config.Config) *SettlementService {
	return &SettlementService{DB: db, Chains: chains, Signer: signer, Cfg: cfg}
}

// CreatePendingPayment records a confirmed card payment and schedules its
// crypto leg after the risk-derived delay.
func (s *SettlementService) CreatePendingPayment(ctx context.Context, userID string, amountUsd float64, projectID, chainID uint64, beneficiary string, riskScore int) (*models.PendingFiatPayment, error) {
	if amountUsd <= 0 {
		return nil, fmt.Errorf("payment amount must be positive, got %f", amountUsd)
	}
	if riskScore < 0 || riskScore > 100 {
		return nil, fmt.Errorf("risk score out of range: %d", riskScore)
	}
	if !common.IsHexAddress(beneficiary) {
		return nil, fmt.Errorf("invalid beneficiary address: %s", beneficiary)
	}
	if _, err := s.Chains.Get(chainID); err != nil {
		return nil, err
	}

	delayDays := settlementDelayDays(riskScore)
	payment := models.PendingFiatPayment{
		UserID:              userID,
		AmountUsd:           amountUsd,
		ProjectID:           projectID,
		ChainID:             chainID,
		BeneficiaryAddress:  beneficiary,
		Status:              models.PaymentPendingSettlement,
		RiskScore:           riskScore,
		SettlementDelayDays: delayDays,
		SettlesAt:           time.Now().Add(time.Duration(delayDays) * 24 * time.Hour),
	}
	if err := s.DB.WithContext(ctx).Create(&payment).Error; err != nil {
		return nil, fmt.Errorf("failed to create pending payment: %w", err)
	}

	logger.Info("💳 Payment %s: $%.2f for project %d, risk %d -> settles in %d days", payment.ID, amountUsd, projectID, riskScore, delayDays)
	return &payment, nil
}

// GetPayment fetches one pending fiat payment owned by the user.
func (s *SettlementService) GetPayment(ctx context.Context, paymentID uuid.UUID, userID string) (*models.PendingFiatPayment, error) {
	var payment models.PendingFiatPayment
	if err := s.DB.WithContext(ctx).First(&payment, "id = ? AND user_id = ?", paymentID, userID).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch payment: %w", err)
	}
	return &payment, nil
}

// reload refreshes the in-memory row after a guarded write found the status
// changed underneath it.
func (s *SettlementService) reload(ctx context.Context, payment *models.PendingFiatPayment) {
	if err := s.DB.WithContext(ctx).First(payment, "id = ?", payment.ID).Error; err != nil {
		logger.Error("Payment %s: failed to reload: %v", payment.ID, err)
	}
}

// PaymentsReadyForSettlement lists payments whose delay has elapsed and that
// haven't exhausted their retries.
func (s *SettlementService) PaymentsReadyForSettlement(ctx context.Context) ([]models.PendingFiatPayment, error) {
	var payments []models.PendingFiatPayment
	err := s.DB.WithContext(ctx).
		Where("status = ? AND settles_at <= ? AND retry_count < ?",
			models.PaymentPendingSettlement, time.Now(), MaxSettlementRetries).
		Order("settles_at asc").
		Find(&payments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query ready payments: %w", err)
	}
	return payments, nil
}

// SettlePayment executes one payment's crypto leg. The row is locked for the
// status transition so a concurrent worker or dispute can't race it.
func (s *SettlementService) SettlePayment(ctx context.Context, paymentID uuid.UUID) (*models.PendingFiatPayment, error) {
	var payment models.PendingFiatPayment

	// Claim the payment under a row lock. Disputed rows are skipped here and
	// never reach the chain.
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&payment, "id = ?", paymentID).Error; err != nil {
			return fmt.Errorf("failed to fetch payment: %w", err)
		}
		if err := canSettle(payment.Status, payment.SettlesAt, time.Now()); err != nil {
			return err
		}
		payment.Status = models.PaymentSettling
		return tx.Save(&payment).Error
	})
	if err != nil {
		return nil, err
	}

	if err := s.executeSettlement(ctx, &payment); err != nil {
		s.recordFailure(ctx, &payment, err)
		return nil, err
	}
	return &payment, nil
}

// executeSettlement converts the USD amount at the current oracle rate and
// pays the project terminal from reserves.
func (s *SettlementService) executeSettlement(ctx context.Context, payment *models.PendingFiatPayment) error {
	client, err := s.Chains.Get(payment.ChainID)
	if err != nil {
		return err
	}

	// Rate at settlement time, re-read on every attempt. The purchase-time
	// price is irrelevant by contract: the user bought $X of exposure, not a
	// token amount.
	feed := common.HexToAddress(s.Cfg.Chains.EthUsdFeedAddress)
	rate, err := chain.EthUsdPrice(ctx, client, feed)
	if err != nil {
		return fmt.Errorf("failed to read ETH/USD rate: %w", err)
	}

	weiAmount := usdToWei(payment.AmountUsd, rate)
	if weiAmount.Sign() <= 0 {
		return fmt.Errorf("settlement amount rounds to zero wei ($%.2f at rate %s)", payment.AmountUsd, rate.String())
	}

	terminal := common.HexToAddress(s.Cfg.Chains.TerminalAddress)
	data, err := chain.PackTerminalPay(payment.ProjectID, common.HexToAddress(payment.BeneficiaryAddress))
	if err != nil {
		return err
	}

	receipt, err := client.SubmitAndWait(ctx, s.Signer.ReservesKey(), terminal, weiAmount, data)
	if err != nil {
		return fmt.Errorf("terminal payment failed: %w", err)
	}

	rateFloat, _ := new(big.Float).Quo(
		new(big.Float).SetInt(rate),
		big.NewFloat(1e8),
	).Float64()

	return s.markSettled(ctx, payment, rateFloat, receipt.TxHash.Hex(), weiAmount.String())
}

// markSettled records the settlement result, but only if the row is still
// settling. A dispute webhook can land while the tx is in flight; its status
// write must win, so this is a compare-and-set, never a blind overwrite.
func (s *SettlementService) markSettled(ctx context.Context, payment *models.PendingFiatPayment, rateFloat float64, txHash, weiAmount string) error {
	res := s.DB.WithContext(ctx).Model(&models.PendingFiatPayment{}).
		Where("id = ? AND status = ?", payment.ID, models.PaymentSettling).
		Updates(map[string]interface{}{
			"status":                  models.PaymentSettled,
			"settlement_rate_eth_usd": rateFloat,
			"settlement_tx_hash":      txHash,
			"tokens_received":         weiAmount,
		})
	if res.Error != nil {
		return fmt.Errorf("settlement submitted (tx %s) but status update failed: %w", txHash, res.Error)
	}
	if res.RowsAffected == 0 {
		// The row left settling while the tx was in flight; the only such
		// transition is a dispute. Funds already moved on-chain, so the
		// disputed status stands and an operator takes over.
		s.reload(ctx, payment)
		logger.Error("🚨 Payment %s settled on-chain (tx %s) but is now %s, manual intervention required",
			payment.ID, txHash, payment.Status)
		return nil
	}
	payment.Status = models.PaymentSettled
	payment.SettlementRateEthUsd = rateFloat
	payment.SettlementTxHash = txHash
	payment.TokensReceived = weiAmount

	logger.Info("💰 Payment %s settled: $%.2f -> %s wei at $%.2f/ETH (tx %s)",
		payment.ID, payment.AmountUsd, payment.TokensReceived, rateFloat, payment.SettlementTxHash)
	return nil
}

// recordFailure puts the payment back in the queue with the attempt counted.
// Guarded the same way as markSettled: a payment disputed mid-attempt stays
// disputed and is never re-queued, or the next sweep would settle it.
func (s *SettlementService) recordFailure(ctx context.Context, payment *models.PendingFiatPayment, cause error) {
	res := s.DB.WithContext(ctx).Model(&models.PendingFiatPayment{}).
		Where("id = ? AND status = ?", payment.ID, models.PaymentSettling).
		Updates(map[string]interface{}{
			"status":      models.PaymentPendingSettlement,
			"retry_count": payment.RetryCount + 1,
			"last_error":  cause.Error(),
		})
	if res.Error != nil {
		logger.Error("Payment %s: failed to record settlement failure: %v", payment.ID, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		s.reload(ctx, payment)
		logger.Error("🚨 Payment %s left the settling state mid-attempt (now %s), not re-queued: %v",
			payment.ID, payment.Status, cause)
		return
	}
	payment.RetryCount++
	if payment.RetryCount >= MaxSettlementRetries {
		logger.Error("🚨 Payment %s exhausted %d settlement attempts, needs manual intervention: %v", payment.ID, payment.RetryCount, cause)
	} else {
		logger.Warn("Payment %s settlement attempt %d failed: %v", payment.ID, payment.RetryCount, cause)
	}
}

// MarkPaymentDisputed handles a chargeback notification. A payment still
// waiting never settles; one already settled can't be reversed on-chain and
// is escalated instead.
func (s *SettlementService) MarkPaymentDisputed(ctx context.Context, paymentID uuid.UUID) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment models.PendingFiatPayment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&payment, "id = ?", paymentID).Error; err != nil {
			return fmt.Errorf("failed to fetch payment: %w", err)
		}

		switch payment.Status {
		case models.PaymentSettled:
			// Funds already left reserves. Nothing to revert; flag it.
			logger.Error("🚨 Payment %s disputed AFTER settlement (tx %s), manual intervention required",
				payment.ID, payment.SettlementTxHash)
			return tx.Model(&payment).Update("status", models.PaymentDisputed).Error
		case models.PaymentDisputed:
			return nil
		case models.PaymentSettling:
			// The settlement tx may be in flight; mark disputed so a retry
			// after failure stops, and escalate.
			logger.Error("🚨 Payment %s disputed while settling, manual review required", payment.ID)
			return tx.Model(&payment).Update("status", models.PaymentDisputed).Error
		default:
			logger.Info("⛔ Payment %s disputed before settlement, crypto leg cancelled", payment.ID)
			return tx.Model(&payment).Update("status", models.PaymentDisputed).Error
		}
	})
}

// MarkPaymentRefunded closes out a disputed payment once the fiat refund is
// confirmed by the processor.
func (s *SettlementService) MarkPaymentRefunded(ctx context.Context, paymentID uuid.UUID) error {
	res := s.DB.WithContext(ctx).Model(&models.PendingFiatPayment{}).
		Where("id = ? AND status = ?", paymentID, models.PaymentDisputed).
		Update("status", models.PaymentRefunded)
	if res.Error != nil {
		return fmt.Errorf("failed to mark payment refunded: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: only disputed payments can be refunded", ErrPaymentNotSettleable)
	}
	return nil
}

// ProcessSettlements is the cron entrypoint: settle everything due, one
// payment's failure never stopping the rest.
func (s *SettlementService) ProcessSettlements(ctx context.Context) {
	payments, err := s.PaymentsReadyForSettlement(ctx)
	if err != nil {
		logger.Error("Settlement sweep: failed to list due payments: %v", err)
		return
	}
	if len(payments) == 0 {
		return
	}

	logger.Info("⏱️ Settlement sweep: %d payments due", len(payments))
	settled := 0
	for _, payment := range payments {
		if _, err := s.SettlePayment(ctx, payment.ID); err != nil {
			if errors.Is(err, ErrPaymentDisputed) || errors.Is(err, ErrPaymentNotSettleable) {
				continue // claimed or disputed since the query, nothing to do
			}
			continue // failure already recorded with retry accounting
		}
		settled++
	}
	logger.Info("⏱️ Settlement sweep finished: %d/%d settled", settled, len(payments))
}

// usdToWei converts a USD amount to wei at an 8-decimal ETH/USD rate.
// wei = usdCents * 1e18 * 1e8 / (rate * 100), all integer math.
func usdToWei(amountUsd float64, rate *big.Int) *big.Int {
	cents := big.NewInt(int64(amountUsd*usdCentsPerDollar + 0.5))
	numerator := new(big.Int).Mul(cents, new(big.Int).Exp(big.NewInt(10), big.NewInt(18+chain.EthUsdFeedDecimals), nil))
	denominator := new(big.Int).Mul(rate, big.NewInt(usdCentsPerDollar))
	return new(big.Int).Quo(numerator, denominator)
}
