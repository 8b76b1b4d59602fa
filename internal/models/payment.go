/**
 * @description
 * PendingFiatPayment database model.
 * A card payment held in fiat until its chargeback-risk window passes, then
 * settled on-chain as a protocol deposit for the user's beneficiary.
 *
 * @dependencies
 * - gorm.io/gorm
 * - github.com/google/uuid
 *
 * @notes
 * - Once disputed, a payment can never become settled. A dispute that arrives
 *   after settlement is a manual-intervention case, flagged but not reverted.
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PaymentStatus string

const (
	PaymentPendingSettlement PaymentStatus = "pending_settlement"
	PaymentSettling          PaymentStatus = "settling"
	PaymentSettled           PaymentStatus = "settled"
	PaymentDisputed          PaymentStatus = "disputed"
	PaymentRefunded          PaymentStatus = "refunded"
)

// PendingFiatPayment represents a fiat payment awaiting on-chain settlement
type PendingFiatPayment struct {
	ID                  uuid.UUID     `gorm:"type:uuid;primary_key;default:uuid_generate_v4()" json:"id"`
	UserID              string        `gorm:"not null;index" json:"user_id"`
	AmountUsd           float64       `gorm:"not null" json:"amount_usd"`
	ProjectID           uint64        `gorm:"not null" json:"project_id"`
	ChainID             uint64        `gorm:"not null" json:"chain_id"`
	BeneficiaryAddress  string        `gorm:"not null" json:"beneficiary_address"`
	Status              PaymentStatus `gorm:"not null;default:'pending_settlement';index" json:"status"`
	SettlesAt           time.Time     `gorm:"not null;index" json:"settles_at"`
	RiskScore           int           `gorm:"not null" json:"risk_score"`
	SettlementDelayDays int           `gorm:"not null" json:"settlement_delay_days"`
	RetryCount          int           `gorm:"not null;default:0" json:"retry_count"`
	LastError           string        `json:"last_error"`

	// Settlement result
	SettlementRateEthUsd float64 `json:"settlement_rate_eth_usd"`
	SettlementTxHash     string  `json:"settlement_tx_hash"`
	TokensReceived       string  `json:"tokens_received"` // wei, decimal string

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by PendingFiatPayment to `pending_fiat_payments`
func (PendingFiatPayment) TableName() string {
	return "pending_fiat_payments"
}

// BeforeCreate ensures UUID is generated if not present
func (p *PendingFiatPayment) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return
}
