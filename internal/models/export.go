/**
 * @description
 * ExportRequest database model.
 * Tracks a user's request to take self-custody of their smart accounts across
 * every chain, chain by chain, so partial progress survives crashes.
 *
 * @dependencies
 * - gorm.io/gorm
 * - github.com/google/uuid
 *
 * @notes
 * - ChainStatus and ExportSnapshot are typed structs serialized to JSONB via
 *   GORM's json serializer, not loose maps: every consumer switches on the
 *   ChainOutcomeStatus enum.
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ExportStatus string

const (
	ExportPending    ExportStatus = "pending"
	ExportBlocked    ExportStatus = "blocked"
	ExportProcessing ExportStatus = "processing"
	ExportCompleted  ExportStatus = "completed"
	ExportPartial    ExportStatus = "partial"
	ExportFailed     ExportStatus = "failed"
	ExportCancelled  ExportStatus = "cancelled"
)

type ChainOutcomeStatus string

const (
	ChainOutcomePending   ChainOutcomeStatus = "pending"
	ChainOutcomeCompleted ChainOutcomeStatus = "completed"
	ChainOutcomeFailed    ChainOutcomeStatus = "failed"
)

// ChainOutcome records the result of one chain's ownership transfer
type ChainOutcome struct {
	Status ChainOutcomeStatus `json:"status"`
	TxHash string             `json:"tx_hash,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// ChainStatusMap maps chain ID -> per-chain outcome
type ChainStatusMap map[uint64]ChainOutcome

// AccountSnapshot is a point-in-time view of one chain's account,
// captured for user confirmation before the export runs.
type AccountSnapshot struct {
	ChainID       uint64 `json:"chain_id"`
	Address       string `json:"address"`
	Deployed      bool   `json:"deployed"`
	NativeBalance string `json:"native_balance"` // wei, decimal string; empty when the RPC read failed
	BalanceError  string `json:"balance_error,omitempty"`
}

// ExportSnapshot is the full confirmation snapshot shown to the user
type ExportSnapshot struct {
	Accounts   []AccountSnapshot `json:"accounts"`
	ProjectIDs []uint64          `json:"project_ids"` // projects the user holds a position in
	TakenAt    time.Time         `json:"taken_at"`
}

// PendingOpDetail describes one withdrawal blocking an export
type PendingOpDetail struct {
	TransferID uuid.UUID      `json:"transfer_id"`
	Status     TransferStatus `json:"status"`
	Amount     string         `json:"amount"`
}

// ExportRequest represents a multi-chain custody export
type ExportRequest struct {
	ID                  uuid.UUID         `gorm:"type:uuid;primary_key;default:uuid_generate_v4()" json:"id"`
	UserID              string            `gorm:"not null;index" json:"user_id"`
	NewOwnerAddress     string            `gorm:"not null" json:"new_owner_address"`
	ChainIDs            []uint64          `gorm:"serializer:json" json:"chain_ids"`
	ChainStatus         ChainStatusMap    `gorm:"serializer:json" json:"chain_status"`
	Status              ExportStatus      `gorm:"not null;default:'pending';index" json:"status"`
	BlockedByPendingOps bool              `gorm:"not null;default:false" json:"blocked_by_pending_ops"`
	PendingOpsDetails   []PendingOpDetail `gorm:"serializer:json" json:"pending_ops_details"`
	ExportSnapshot      *ExportSnapshot   `gorm:"serializer:json" json:"export_snapshot"`
	UserConfirmedAt     *time.Time        `json:"user_confirmed_at"`
	RetryCount          int               `gorm:"not null;default:0" json:"retry_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by ExportRequest to `export_requests`
func (ExportRequest) TableName() string {
	return "export_requests"
}

// BeforeCreate ensures UUID is generated if not present
func (e *ExportRequest) BeforeCreate(tx *gorm.DB) (err error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return
}
