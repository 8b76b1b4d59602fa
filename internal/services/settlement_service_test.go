package services

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mejango/juicy-vision-sub002/internal/models"
	"gorm.io/gorm"
)

func TestSettlementDelayDays(t *testing.T) {
	cases := []struct {
		risk int
		days int
	}{
		{0, 0},
		{10, 0},
		{20, 0},
		{21, 14},
		{40, 14},
		{41, 30},
		{60, 30},
		{61, 60},
		{70, 60},
		{80, 60},
		{81, 120},
		{100, 120},
	}

	for _, tc := range cases {
		if got := settlementDelayDays(tc.risk); got != tc.days {
			t.Errorf("risk %d: got %d days, want %d", tc.risk, got, tc.days)
		}
	}
}

func TestSettlementDelayMonotone(t *testing.T) {
	prev := 0
	for risk := 0; risk <= 100; risk++ {
		days := settlementDelayDays(risk)
		if days < prev {
			t.Fatalf("delay decreased at risk %d: %d < %d", risk, days, prev)
		}
		prev = days
	}
}

func TestCanSettle(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	if err := canSettle(models.PaymentPendingSettlement, past, now); err != nil {
		t.Fatalf("due pending payment should be settleable: %v", err)
	}

	// A disputed payment never settles, regardless of its schedule.
	if err := canSettle(models.PaymentDisputed, past, now); !errors.Is(err, ErrPaymentDisputed) {
		t.Fatalf("expected ErrPaymentDisputed, got %v", err)
	}

	if err := canSettle(models.PaymentPendingSettlement, future, now); !errors.Is(err, ErrPaymentNotSettleable) {
		t.Fatalf("expected ErrPaymentNotSettleable before the delay elapses, got %v", err)
	}
	if err := canSettle(models.PaymentSettled, past, now); !errors.Is(err, ErrPaymentNotSettleable) {
		t.Fatalf("settled payments must not settle twice, got %v", err)
	}
	if err := canSettle(models.PaymentSettling, past, now); !errors.Is(err, ErrPaymentNotSettleable) {
		t.Fatalf("a claimed payment must not be double-claimed, got %v", err)
	}
	if err := canSettle(models.PaymentRefunded, past, now); !errors.Is(err, ErrPaymentNotSettleable) {
		t.Fatalf("refunded payments must not settle, got %v", err)
	}
}

func TestUsdToWei(t *testing.T) {
	// $3000 at $3000/ETH (rate scaled by 1e8) = exactly 1 ETH.
	rate := new(big.Int).Mul(big.NewInt(3000), big.NewInt(1e8))
	wei := usdToWei(3000, rate)

	oneEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	if wei.Cmp(oneEth) != 0 {
		t.Fatalf("expected 1 ETH in wei, got %s", wei)
	}

	// $150 at $3000/ETH = 0.05 ETH.
	wei = usdToWei(150, rate)
	want := new(big.Int).Div(oneEth, big.NewInt(20))
	if wei.Cmp(want) != 0 {
		t.Fatalf("expected 0.05 ETH in wei, got %s", wei)
	}

	// Cents survive the integer math: $0.01 at $3000/ETH.
	wei = usdToWei(0.01, rate)
	want = new(big.Int).Div(oneEth, big.NewInt(300000))
	if wei.Cmp(want) != 0 {
		t.Fatalf("expected %s wei for one cent, got %s", want, wei)
	}
}

func TestUsdToWeiRateSensitivity(t *testing.T) {
	amount := 500.0
	cheap := usdToWei(amount, new(big.Int).Mul(big.NewInt(2000), big.NewInt(1e8)))
	dear := usdToWei(amount, new(big.Int).Mul(big.NewInt(4000), big.NewInt(1e8)))

	// Same dollars buy half the ETH at double the price.
	if new(big.Int).Mul(dear, big.NewInt(2)).Cmp(cheap) != 0 {
		t.Fatalf("doubling the rate should halve the wei: %s vs %s", cheap, dear)
	}
}

func seedPayment(t *testing.T, db *gorm.DB, status models.PaymentStatus) *models.PendingFiatPayment {
	t.Helper()
	payment := &models.PendingFiatPayment{
		UserID:             "user_pay",
		AmountUsd:          250,
		ProjectID:          7,
		ChainID:            8453,
		BeneficiaryAddress: "0x5555555555555555555555555555555555555555",
		Status:             status,
		RiskScore:          10,
		SettlesAt:          time.Now().Add(-time.Hour),
	}
	if err := db.Create(payment).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return payment
}

func reloadPayment(t *testing.T, db *gorm.DB, id uuid.UUID) *models.PendingFiatPayment {
	t.Helper()
	var payment models.PendingFiatPayment
	if err := db.First(&payment, "id = ?", id).Error; err != nil {
		t.Fatalf("reload payment: %v", err)
	}
	return &payment
}

// A dispute webhook can land while a settlement attempt is in flight. The
// attempt's own status writes must lose that race: re-queueing or settling a
// disputed payment would break the no-settlement-after-dispute rule.
func TestDisputeDuringSettlementIsNotRequeued(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	svc := &SettlementService{DB: db}

	payment := seedPayment(t, db, models.PaymentSettling)
	if err := svc.MarkPaymentDisputed(ctx, payment.ID); err != nil {
		t.Fatalf("MarkPaymentDisputed failed: %v", err)
	}

	// The attempt fails afterwards and tries to put the row back in the queue.
	svc.recordFailure(ctx, payment, errors.New("rpc timeout"))

	got := reloadPayment(t, db, payment.ID)
	if got.Status != models.PaymentDisputed {
		t.Fatalf("dispute was overwritten: status is %s", got.Status)
	}
	if got.RetryCount != 0 {
		t.Fatalf("disputed payment accrued a retry: %d", got.RetryCount)
	}
	if err := canSettle(got.Status, got.SettlesAt, time.Now()); !errors.Is(err, ErrPaymentDisputed) {
		t.Fatalf("disputed payment became settleable again: %v", err)
	}
}

func TestDisputeDuringSettlementIsNotMarkedSettled(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	svc := &SettlementService{DB: db}

	payment := seedPayment(t, db, models.PaymentSettling)
	if err := svc.MarkPaymentDisputed(ctx, payment.ID); err != nil {
		t.Fatalf("MarkPaymentDisputed failed: %v", err)
	}

	// The settlement tx confirmed anyway; the result write must not override
	// the dispute.
	if err := svc.markSettled(ctx, payment, 3000, "0xdeadbeef", "1000"); err != nil {
		t.Fatalf("markSettled failed: %v", err)
	}
	if payment.Status != models.PaymentDisputed {
		t.Fatalf("in-memory row not refreshed, status is %s", payment.Status)
	}

	got := reloadPayment(t, db, payment.ID)
	if got.Status != models.PaymentDisputed {
		t.Fatalf("dispute was overwritten: status is %s", got.Status)
	}
	if got.SettlementTxHash != "" {
		t.Fatalf("settlement result recorded on a disputed payment: %s", got.SettlementTxHash)
	}
}

func TestSettlementTransitionsApplyWhileSettling(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	svc := &SettlementService{DB: db}

	failed := seedPayment(t, db, models.PaymentSettling)
	svc.recordFailure(ctx, failed, errors.New("nonce too low"))
	got := reloadPayment(t, db, failed.ID)
	if got.Status != models.PaymentPendingSettlement || got.RetryCount != 1 {
		t.Fatalf("expected re-queued payment with one retry, got %s/%d", got.Status, got.RetryCount)
	}
	if got.LastError == "" {
		t.Fatal("expected the failure cause on the row")
	}

	settled := seedPayment(t, db, models.PaymentSettling)
	if err := svc.markSettled(ctx, settled, 3000, "0xabc123", "1000"); err != nil {
		t.Fatalf("markSettled failed: %v", err)
	}
	got = reloadPayment(t, db, settled.ID)
	if got.Status != models.PaymentSettled || got.SettlementTxHash != "0xabc123" {
		t.Fatalf("expected settled row with tx hash, got %s/%s", got.Status, got.SettlementTxHash)
	}
}

func TestDisputeAfterSettlementEscalates(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	svc := &SettlementService{DB: db}

	payment := seedPayment(t, db, models.PaymentSettled)
	if err := svc.MarkPaymentDisputed(ctx, payment.ID); err != nil {
		t.Fatalf("MarkPaymentDisputed failed: %v", err)
	}

	got := reloadPayment(t, db, payment.ID)
	if got.Status != models.PaymentDisputed {
		t.Fatalf("expected disputed, got %s", got.Status)
	}

	// Refund closes it out; a second refund has nothing to do.
	if err := svc.MarkPaymentRefunded(ctx, payment.ID); err != nil {
		t.Fatalf("MarkPaymentRefunded failed: %v", err)
	}
	if err := svc.MarkPaymentRefunded(ctx, payment.ID); err == nil {
		t.Fatal("expected refund of a non-disputed payment to fail")
	}
}
