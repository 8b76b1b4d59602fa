package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mejango/juicy-vision-sub002/internal/models"
)

func outcomes(m map[uint64]models.ChainOutcomeStatus) models.ChainStatusMap {
	out := make(models.ChainStatusMap, len(m))
	for id, s := range m {
		out[id] = models.ChainOutcome{Status: s}
	}
	return out
}

func TestDeriveExportStatus(t *testing.T) {
	chains := []uint64{1, 8453, 42161}

	cases := []struct {
		name     string
		statuses map[uint64]models.ChainOutcomeStatus
		want     models.ExportStatus
	}{
		{
			name: "all completed",
			statuses: map[uint64]models.ChainOutcomeStatus{
				1: models.ChainOutcomeCompleted, 8453: models.ChainOutcomeCompleted, 42161: models.ChainOutcomeCompleted,
			},
			want: models.ExportCompleted,
		},
		{
			name: "all failed",
			statuses: map[uint64]models.ChainOutcomeStatus{
				1: models.ChainOutcomeFailed, 8453: models.ChainOutcomeFailed, 42161: models.ChainOutcomeFailed,
			},
			want: models.ExportFailed,
		},
		{
			name: "mixed",
			statuses: map[uint64]models.ChainOutcomeStatus{
				1: models.ChainOutcomeCompleted, 8453: models.ChainOutcomeFailed, 42161: models.ChainOutcomeCompleted,
			},
			want: models.ExportPartial,
		},
		{
			name: "one still pending",
			statuses: map[uint64]models.ChainOutcomeStatus{
				1: models.ChainOutcomeCompleted, 8453: models.ChainOutcomeCompleted, 42161: models.ChainOutcomePending,
			},
			want: models.ExportPartial,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveExportStatus(chains, outcomes(tc.statuses)); got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestChainsToAttempt(t *testing.T) {
	chains := []uint64{1, 8453, 42161}
	m := outcomes(map[uint64]models.ChainOutcomeStatus{
		1:     models.ChainOutcomeCompleted,
		8453:  models.ChainOutcomeFailed,
		42161: models.ChainOutcomePending,
	})

	remaining := ChainsToAttempt(chains, m)
	if len(remaining) != 2 {
		t.Fatalf("expected 2 remaining chains, got %d", len(remaining))
	}
	if remaining[0] != 8453 || remaining[1] != 42161 {
		t.Fatalf("unexpected remaining set %v", remaining)
	}
}

func TestChainsToAttemptAllDone(t *testing.T) {
	chains := []uint64{1, 10}
	m := outcomes(map[uint64]models.ChainOutcomeStatus{
		1:  models.ChainOutcomeCompleted,
		10: models.ChainOutcomeCompleted,
	})
	if remaining := ChainsToAttempt(chains, m); remaining != nil {
		t.Fatalf("expected nothing to retry, got %v", remaining)
	}
}

func TestExportPartialFailureAndRetry(t *testing.T) {
	ctx := context.Background()
	rig := newExportRig(t, []uint64{1, 8453, 42161})
	rig.backends[8453].estimateErr = errors.New("execution reverted")

	const userID = "user_export"
	newOwner := "0x5555555555555555555555555555555555555555"

	export, err := rig.exports.RequestExport(ctx, userID, newOwner)
	if err != nil {
		t.Fatalf("RequestExport failed: %v", err)
	}
	if export.Status != models.ExportPending {
		t.Fatalf("expected pending export, got %s", export.Status)
	}
	if len(export.ChainIDs) != 3 {
		t.Fatalf("expected 3 chains, got %v", export.ChainIDs)
	}
	if export.ExportSnapshot == nil || len(export.ExportSnapshot.Accounts) != 3 {
		t.Fatal("expected a 3-account confirmation snapshot")
	}
	for _, snap := range export.ExportSnapshot.Accounts {
		if snap.NativeBalance == "" {
			t.Fatalf("chain %d snapshot is missing its balance", snap.ChainID)
		}
	}

	confirmed, err := rig.exports.ConfirmExport(ctx, export.ID, userID)
	if err != nil {
		t.Fatalf("ConfirmExport failed: %v", err)
	}
	if confirmed.Status != models.ExportPartial {
		t.Fatalf("expected partial after one chain failed, got %s", confirmed.Status)
	}

	failedOutcome := confirmed.ChainStatus[8453]
	if failedOutcome.Status != models.ChainOutcomeFailed {
		t.Fatalf("expected chain 8453 to fail, got %s", failedOutcome.Status)
	}
	if !strings.Contains(failedOutcome.Error, "gas estimation failed") {
		t.Fatalf("expected the revert cause on the outcome, got %q", failedOutcome.Error)
	}
	for _, id := range []uint64{1, 42161} {
		outcome := confirmed.ChainStatus[id]
		if outcome.Status != models.ChainOutcomeCompleted || outcome.TxHash == "" {
			t.Fatalf("chain %d: expected completed outcome with tx hash, got %+v", id, outcome)
		}
	}

	// Custody rolled back on the failed chain, transferred on the others.
	if got := accountCustody(t, rig, userID, 8453); got != models.CustodyManaged {
		t.Fatalf("expected chain 8453 custody rolled back to managed, got %s", got)
	}
	if got := accountCustody(t, rig, userID, 1); got != models.CustodySelfCustody {
		t.Fatalf("expected chain 1 in self custody, got %s", got)
	}

	// Retry touches only the failed chain.
	sentOnChain1 := rig.backends[1].sentCount()
	rig.backends[8453].estimateErr = nil

	retried, err := rig.exports.RetryExport(ctx, export.ID, userID)
	if err != nil {
		t.Fatalf("RetryExport failed: %v", err)
	}
	if retried.Status != models.ExportCompleted {
		t.Fatalf("expected completed after retry, got %s", retried.Status)
	}
	if retried.RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", retried.RetryCount)
	}
	if rig.backends[1].sentCount() != sentOnChain1 {
		t.Fatal("retry resubmitted on an already-completed chain")
	}
	if rig.backends[8453].sentCount() != 1 {
		t.Fatalf("expected exactly one submission on the retried chain, got %d", rig.backends[8453].sentCount())
	}
	if got := accountCustody(t, rig, userID, 8453); got != models.CustodySelfCustody {
		t.Fatalf("expected chain 8453 in self custody after retry, got %s", got)
	}
}

func TestExportOperationsAreUserScoped(t *testing.T) {
	ctx := context.Background()
	rig := newExportRig(t, []uint64{1})

	export, err := rig.exports.RequestExport(ctx, "user_owner", "0x5555555555555555555555555555555555555555")
	if err != nil {
		t.Fatalf("RequestExport failed: %v", err)
	}

	if _, err := rig.exports.GetExport(ctx, export.ID, "user_other"); err == nil {
		t.Fatal("expected a stranger's read to fail")
	}
	if _, err := rig.exports.ConfirmExport(ctx, export.ID, "user_other"); err == nil {
		t.Fatal("expected a stranger's confirm to fail")
	}
	if _, err := rig.exports.RetryExport(ctx, export.ID, "user_other"); err == nil {
		t.Fatal("expected a stranger's retry to fail")
	}
	if err := rig.exports.CancelExport(ctx, export.ID, "user_other"); !errors.Is(err, ErrExportNotCancellable) {
		t.Fatalf("expected a stranger's cancel to affect nothing, got %v", err)
	}

	// The stranger changed nothing: the owner can still cancel.
	if err := rig.exports.CancelExport(ctx, export.ID, "user_owner"); err != nil {
		t.Fatalf("owner cancel failed: %v", err)
	}
}

func accountCustody(t *testing.T, rig *exportRig, userID string, chainID uint64) models.CustodyStatus {
	t.Helper()
	var account models.SmartAccount
	if err := rig.db.Where("user_id = ? AND chain_id = ?", userID, chainID).First(&account).Error; err != nil {
		t.Fatalf("fetch account for chain %d: %v", chainID, err)
	}
	return account.CustodyStatus
}
