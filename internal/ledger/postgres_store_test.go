package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/fundlane/adwallet/internal/idgen"
	"github.com/fundlane/adwallet/internal/testutil"
)

func TestPostgresStore_WalletLifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	walletID := idgen.WithPrefix("org_")

	if err := store.CreateWallet(ctx, walletID); err != nil {
		t.Fatalf("CreateWallet failed: %v", err)
	}
	if err := store.CreateWallet(ctx, walletID); !errors.Is(err, ErrWalletExists) {
		t.Errorf("expected ErrWalletExists, got %v", err)
	}

	w, err := store.GetWallet(ctx, walletID)
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}
	if w.BalanceCents != 0 || w.ReservedCents != 0 {
		t.Errorf("new wallet not zeroed: %+v", w)
	}

	if _, err := store.GetWallet(ctx, "org_missing"); !errors.Is(err, ErrWalletNotFound) {
		t.Errorf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestPostgresStore_CreditCommit(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	led := New(store, nil)
	ctx := context.Background()
	walletID := idgen.WithPrefix("org_")

	if err := led.CreateWallet(ctx, walletID); err != nil {
		t.Fatalf("CreateWallet failed: %v", err)
	}

	tx, err := led.Begin(ctx, walletID, TxTopupFunding, 10_000, "cs_pg_1")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	w, err := led.Commit(ctx, tx.ID)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if w.BalanceCents != 10_000 {
		t.Errorf("expected balance 10000, got %d", w.BalanceCents)
	}

	// Replay the same commit: no double-apply.
	w, err = led.Commit(ctx, tx.ID)
	if err != nil {
		t.Fatalf("replayed Commit failed: %v", err)
	}
	if w.BalanceCents != 10_000 {
		t.Errorf("replayed commit changed balance: %d", w.BalanceCents)
	}

	found, err := store.FindByExternalRef(ctx, "cs_pg_1")
	if err != nil {
		t.Fatalf("FindByExternalRef failed: %v", err)
	}
	if found.ID != tx.ID {
		t.Errorf("expected transaction %s, got %s", tx.ID, found.ID)
	}
}

func TestPostgresStore_DebitReservation(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	led := New(store, nil)
	ctx := context.Background()
	walletID := idgen.WithPrefix("org_")

	_ = led.CreateWallet(ctx, walletID)
	ftx, _ := led.Begin(ctx, walletID, TxTopupFunding, 10_000, "")
	_, _ = led.Commit(ctx, ftx.ID)

	dtx, err := led.Begin(ctx, walletID, TxDistribution, -8_000, "")
	if err != nil {
		t.Fatalf("Begin debit failed: %v", err)
	}

	// Remaining available is 2000; a 3000 debit must be rejected.
	if _, err := led.Begin(ctx, walletID, TxDistribution, -3_000, ""); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}

	if err := led.Fail(ctx, dtx.ID, "batch rolled back"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	w, _ := led.Balance(ctx, walletID)
	if w.BalanceCents != 10_000 || w.ReservedCents != 0 {
		t.Errorf("expected balance 10000 reserved 0, got %d/%d", w.BalanceCents, w.ReservedCents)
	}
}

func TestPostgresStore_SumCompleted(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	led := New(store, nil)
	ctx := context.Background()
	walletID := idgen.WithPrefix("org_")

	_ = led.CreateWallet(ctx, walletID)
	for _, cents := range []int64{5_000, 2_500} {
		tx, _ := led.Begin(ctx, walletID, TxTopupFunding, cents, "")
		_, _ = led.Commit(ctx, tx.ID)
	}
	// Pending entries must not count.
	_, _ = led.Begin(ctx, walletID, TxTopupFunding, 9_999, "")

	result, err := led.Replay(ctx, walletID)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if !result.Match || result.ReplayedCents != 7_500 {
		t.Errorf("unexpected replay result: %+v", result)
	}
}
