/**
 * @description
 * Transfer database model.
 * A withdrawal out of a smart account: either immediate or delayed behind a
 * cancellable hold window.
 *
 * @dependencies
 * - gorm.io/gorm
 * - github.com/google/uuid
 *
 * @notes
 * - Amounts are stored as decimal strings in wei / token base units; Postgres
 *   NUMERIC would work too but strings keep GORM out of float territory.
 * - Balance sufficiency is checked at creation AND immediately before
 *   execution; both live in the service layer, not here.
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TransferStatus string

const (
	TransferPending    TransferStatus = "pending"
	TransferProcessing TransferStatus = "processing"
	TransferCompleted  TransferStatus = "completed"
	TransferFailed     TransferStatus = "failed"
	TransferCancelled  TransferStatus = "cancelled"
)

type TransferType string

const (
	TransferImmediate TransferType = "immediate"
	TransferDelayed   TransferType = "delayed"
)

// Transfer represents a withdrawal from a smart account
type Transfer struct {
	ID             uuid.UUID      `gorm:"type:uuid;primary_key;default:uuid_generate_v4()" json:"id"`
	SmartAccountID uuid.UUID      `gorm:"type:uuid;not null;index" json:"smart_account_id"`
	TokenAddress   string         `json:"token_address"` // empty for the native asset
	Amount         string         `gorm:"not null" json:"amount"`
	ToAddress      string         `gorm:"not null" json:"to_address"`
	Status         TransferStatus `gorm:"not null;default:'pending';index" json:"status"`
	TransferType   TransferType   `gorm:"not null" json:"transfer_type"`
	AvailableAt    *time.Time     `json:"available_at"` // only for delayed transfers
	TxHash         string         `json:"tx_hash"`
	Error          string         `json:"error"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by Transfer to `transfers`
func (Transfer) TableName() string {
	return "transfers"
}

// BeforeCreate ensures UUID is generated if not present
func (t *Transfer) BeforeCreate(tx *gorm.DB) (err error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return
}
