/**
 * @description
 * SmartAccount database model.
 * One row per (user, chain): the counterfactual account address, its deployment
 * flag, and the custody lifecycle state.
 *
 * @dependencies
 * - gorm.io/gorm
 * - github.com/google/uuid
 *
 * @notes
 * - The address is computable before deployment (CREATE2), so rows are created
 *   on first lookup with deployed = false.
 * - (chain_id, address) is globally unique; (user_id, chain_id) is unique too.
 *   The double constraint is what makes concurrent first-time creation safe:
 *   losers of the insert race re-fetch the winner's row.
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CustodyStatus string

const (
	CustodyManaged      CustodyStatus = "managed"
	CustodyTransferring CustodyStatus = "transferring"
	CustodySelfCustody  CustodyStatus = "self_custody"
)

// SmartAccount represents a custodial smart account on a single chain
type SmartAccount struct {
	ID            uuid.UUID     `gorm:"type:uuid;primary_key;default:uuid_generate_v4()" json:"id"`
	UserID        string        `gorm:"not null;uniqueIndex:idx_accounts_user_chain" json:"user_id"`
	ChainID       uint64        `gorm:"not null;uniqueIndex:idx_accounts_user_chain;uniqueIndex:idx_accounts_chain_address" json:"chain_id"`
	Address       string        `gorm:"not null;uniqueIndex:idx_accounts_chain_address" json:"address"`
	Salt          string        `gorm:"not null" json:"salt"` // hex-encoded CREATE2 salt derived from UserID
	Deployed      bool          `gorm:"not null;default:false" json:"deployed"`
	CustodyStatus CustodyStatus `gorm:"not null;default:'managed'" json:"custody_status"`
	OwnerAddress  string        `json:"owner_address"` // set once custody is transferred to the user

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by SmartAccount to `smart_accounts`
func (SmartAccount) TableName() string {
	return "smart_accounts"
}

// BeforeCreate ensures UUID is generated if not present (though DB usually handles this)
func (a *SmartAccount) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return
}
