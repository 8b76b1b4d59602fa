package services

import (
	"context"
	"errors"
	"testing"

	"github.com/mejango/juicy-vision-sub002/internal/models"
)

// Losing the first-creation race means re-fetching the winner's row. The row
// must belong to the same user; anything else is an integrity violation, not
// an account to hand out.
func TestAdoptExistingAfterInsertRace(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	registry := &AccountRegistry{DB: db}

	winner := models.SmartAccount{
		UserID:        "user_winner",
		ChainID:       8453,
		Address:       "0x4444444444444444444444444444444444444444",
		Salt:          "0x01",
		CustodyStatus: models.CustodyManaged,
	}
	if err := db.Create(&winner).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}

	adopted, err := registry.adoptExisting(ctx, "user_winner", 8453, winner.Address)
	if err != nil {
		t.Fatalf("adoptExisting failed for the owner: %v", err)
	}
	if adopted.ID != winner.ID {
		t.Fatal("expected the winner's row back")
	}

	if _, err := registry.adoptExisting(ctx, "user_loser", 8453, winner.Address); !errors.Is(err, ErrOwnershipMismatch) {
		t.Fatalf("expected ownership mismatch for another user's row, got %v", err)
	}
}

// GetOrCreate is idempotent: the second lookup returns the stored row without
// touching the chain again.
func TestGetOrCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	rig := newExportRig(t, []uint64{8453})
	registry := rig.exports.Registry

	first, err := registry.GetOrCreate(ctx, "user_a", 8453)
	if err != nil {
		t.Fatalf("first GetOrCreate failed: %v", err)
	}
	if first.Deployed {
		t.Fatal("fresh account must start undeployed")
	}
	if first.CustodyStatus != models.CustodyManaged {
		t.Fatalf("fresh account must start managed, got %s", first.CustodyStatus)
	}

	second, err := registry.GetOrCreate(ctx, "user_a", 8453)
	if err != nil {
		t.Fatalf("second GetOrCreate failed: %v", err)
	}
	if second.ID != first.ID || second.Address != first.Address {
		t.Fatal("repeated lookup returned a different row")
	}
}
