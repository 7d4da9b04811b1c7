package consolidation

import (
	"context"
	"errors"
	"testing"

	"github.com/fundlane/adwallet/internal/adaccounts"
	"github.com/fundlane/adwallet/internal/ledger"
)

type env struct {
	ledger    *ledger.Ledger
	directory *adaccounts.Directory
	service   *Service
}

func newTestEnv(t *testing.T) *env {
	t.Helper()
	led := ledger.New(ledger.NewMemoryStore(), nil)
	if err := led.CreateWallet(context.Background(), "org_1"); err != nil {
		t.Fatalf("CreateWallet failed: %v", err)
	}
	directory := adaccounts.NewDirectory(adaccounts.NewMemoryStore())
	return &env{
		ledger:    led,
		directory: directory,
		service:   NewService(led, directory, nil, nil),
	}
}

// fund seeds the wallet and allocates to the given account.
func (e *env) fund(t *testing.T, acctID string, amountCents int64) {
	t.Helper()
	tx, err := e.ledger.Begin(context.Background(), "org_1", ledger.TxTopupFunding, amountCents, "")
	if err != nil {
		t.Fatalf("seed Begin failed: %v", err)
	}
	if _, err := e.ledger.Commit(context.Background(), tx.ID); err != nil {
		t.Fatalf("seed Commit failed: %v", err)
	}

	debit, err := e.ledger.Begin(context.Background(), "org_1", ledger.TxDistribution, -amountCents, "")
	if err != nil {
		t.Fatalf("allocate Begin failed: %v", err)
	}
	if _, err := e.directory.Apply(context.Background(), "org_1", debit.ID, []adaccounts.Movement{
		{AdAccountID: acctID, AmountCents: amountCents},
	}); err != nil {
		t.Fatalf("allocate Apply failed: %v", err)
	}
	if _, err := e.ledger.Commit(context.Background(), debit.ID); err != nil {
		t.Fatalf("allocate Commit failed: %v", err)
	}
}

func (e *env) account(t *testing.T) *adaccounts.AdAccount {
	t.Helper()
	acct, err := e.directory.Register(context.Background(), "org_1", "meta", "campaign", 0)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return acct
}

func outcomeFor(t *testing.T, cons *Consolidation, acctID string) Outcome {
	t.Helper()
	for _, out := range cons.Outcomes {
		if out.AdAccountID == acctID {
			return out
		}
	}
	t.Fatalf("no outcome for account %s: %+v", acctID, cons.Outcomes)
	return Outcome{}
}

func TestConsolidate_NamedAccounts(t *testing.T) {
	e := newTestEnv(t)
	a := e.account(t)
	b := e.account(t)
	e.fund(t, a.ID, 4_000)
	e.fund(t, b.ID, 2_000)

	cons, err := e.service.Consolidate(context.Background(), "org_1", []string{a.ID, b.ID})
	if err != nil {
		t.Fatalf("Consolidate failed: %v", err)
	}
	if cons.TotalCents != 6_000 || len(cons.Outcomes) != 2 {
		t.Errorf("unexpected consolidation: %+v", cons)
	}

	wallet, _ := e.ledger.Balance(context.Background(), "org_1")
	if wallet.BalanceCents != 6_000 {
		t.Errorf("expected wallet balance 6000, got %d", wallet.BalanceCents)
	}

	subA, _ := e.directory.SubBalance(context.Background(), "org_1", a.ID)
	subB, _ := e.directory.SubBalance(context.Background(), "org_1", b.ID)
	if subA.BalanceCents != 0 || subB.BalanceCents != 0 {
		t.Errorf("sub-balances must be drained: a=%d b=%d", subA.BalanceCents, subB.BalanceCents)
	}

	// Each pull books its own wallet credit.
	outA := outcomeFor(t, cons, a.ID)
	if outA.Status != StatusConsolidated || outA.AmountCents != 4_000 {
		t.Errorf("unexpected outcome for a: %+v", outA)
	}
	tx, _ := e.ledger.Transaction(context.Background(), outA.WalletTxID)
	if tx.Type != ledger.TxConsolidation || tx.AmountCents != 4_000 || tx.Status != ledger.StatusCompleted {
		t.Errorf("unexpected wallet entry: %+v", tx)
	}
}

func TestConsolidate_SweepAll(t *testing.T) {
	e := newTestEnv(t)
	a := e.account(t)
	b := e.account(t)
	e.fund(t, a.ID, 1_500)
	e.fund(t, b.ID, 500)

	cons, err := e.service.Consolidate(context.Background(), "org_1", nil)
	if err != nil {
		t.Fatalf("Consolidate failed: %v", err)
	}
	if cons.TotalCents != 2_000 || len(cons.Outcomes) != 2 {
		t.Errorf("unexpected sweep: %+v", cons)
	}
}

func TestConsolidate_SkipsEmptyAccounts(t *testing.T) {
	e := newTestEnv(t)
	funded := e.account(t)
	empty := e.account(t)
	e.fund(t, funded.ID, 1_000)

	cons, err := e.service.Consolidate(context.Background(), "org_1", []string{funded.ID, empty.ID})
	if err != nil {
		t.Fatalf("Consolidate failed: %v", err)
	}
	if cons.TotalCents != 1_000 {
		t.Errorf("expected 1000 consolidated, got %d", cons.TotalCents)
	}
	if out := outcomeFor(t, cons, empty.ID); out.Status != StatusSkipped {
		t.Errorf("empty account should be skipped: %+v", out)
	}
	if out := outcomeFor(t, cons, funded.ID); out.Status != StatusConsolidated {
		t.Errorf("funded account should be consolidated: %+v", out)
	}
}

func TestConsolidate_AllEmptyIsNotAnError(t *testing.T) {
	e := newTestEnv(t)
	empty := e.account(t)

	cons, err := e.service.Consolidate(context.Background(), "org_1", []string{empty.ID})
	if err != nil {
		t.Fatalf("Consolidate failed: %v", err)
	}
	if cons.TotalCents != 0 {
		t.Errorf("nothing should have moved, got %d", cons.TotalCents)
	}
	if out := outcomeFor(t, cons, empty.ID); out.Status != StatusSkipped {
		t.Errorf("expected skipped outcome: %+v", out)
	}
}

func TestConsolidate_UnknownAccountFailsPerAccount(t *testing.T) {
	e := newTestEnv(t)
	funded := e.account(t)
	empty := e.account(t)
	e.fund(t, funded.ID, 2_000)

	cons, err := e.service.Consolidate(context.Background(), "org_1", []string{funded.ID, empty.ID, "aa_missing"})
	if err != nil {
		t.Fatalf("Consolidate failed: %v", err)
	}

	if out := outcomeFor(t, cons, funded.ID); out.Status != StatusConsolidated || out.AmountCents != 2_000 {
		t.Errorf("funded pull must not be blocked: %+v", out)
	}
	if out := outcomeFor(t, cons, empty.ID); out.Status != StatusSkipped {
		t.Errorf("empty account should be skipped: %+v", out)
	}
	if out := outcomeFor(t, cons, "aa_missing"); out.Status != StatusFailed || out.Error == "" {
		t.Errorf("unknown id should fail with a reason: %+v", out)
	}

	wallet, _ := e.ledger.Balance(context.Background(), "org_1")
	if wallet.BalanceCents != 2_000 {
		t.Errorf("only the funded pull may credit the wallet: %d", wallet.BalanceCents)
	}
}

func TestConsolidate_EmptySweepRefused(t *testing.T) {
	e := newTestEnv(t)
	e.account(t)

	if _, err := e.service.Consolidate(context.Background(), "org_1", nil); !errors.Is(err, ErrNothingToConsolidate) {
		t.Errorf("expected ErrNothingToConsolidate for empty sweep, got %v", err)
	}
}

func TestConsolidate_WrongOrgFailsPerAccount(t *testing.T) {
	e := newTestEnv(t)
	other, err := e.directory.Register(context.Background(), "org_2", "meta", "other", 0)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	cons, err := e.service.Consolidate(context.Background(), "org_1", []string{other.ID})
	if err != nil {
		t.Fatalf("Consolidate failed: %v", err)
	}
	if out := outcomeFor(t, cons, other.ID); out.Status != StatusFailed {
		t.Errorf("foreign account should fail its outcome: %+v", out)
	}
	if cons.TotalCents != 0 {
		t.Errorf("nothing should have moved, got %d", cons.TotalCents)
	}
}

func TestConsolidate_DuplicateAccount(t *testing.T) {
	e := newTestEnv(t)
	a := e.account(t)
	e.fund(t, a.ID, 1_000)

	if _, err := e.service.Consolidate(context.Background(), "org_1", []string{a.ID, a.ID}); !errors.Is(err, ErrDuplicateAccount) {
		t.Errorf("expected ErrDuplicateAccount, got %v", err)
	}
}

func TestConsolidate_PartialFailureStillSweepsTheRest(t *testing.T) {
	e := newTestEnv(t)
	healthy := e.account(t)
	stuck := e.account(t)
	e.fund(t, healthy.ID, 3_000)
	e.fund(t, stuck.ID, 2_000)

	// Drain the stuck account behind the sweep's back so its pull
	// overdraws and fails.
	drain, err := e.ledger.Begin(context.Background(), "org_1", ledger.TxConsolidation, 2_000, "")
	if err != nil {
		t.Fatalf("drain Begin failed: %v", err)
	}
	targets, err := e.service.resolveTargets(context.Background(), "org_1", []string{healthy.ID, stuck.ID})
	if err != nil {
		t.Fatalf("resolveTargets failed: %v", err)
	}
	if _, err := e.directory.Apply(context.Background(), "org_1", drain.ID, []adaccounts.Movement{
		{AdAccountID: stuck.ID, AmountCents: -2_000},
	}); err != nil {
		t.Fatalf("drain Apply failed: %v", err)
	}
	if _, err := e.ledger.Commit(context.Background(), drain.ID); err != nil {
		t.Fatalf("drain Commit failed: %v", err)
	}

	// Replay the stale snapshot through the per-account pulls.
	cons := &Consolidation{OrgID: "org_1", Outcomes: make([]Outcome, 0, len(targets))}
	for _, tgt := range targets {
		out := e.service.pull(context.Background(), "org_1", tgt.adAccountID, tgt.balanceCents)
		if out.Status == StatusConsolidated {
			cons.TotalCents += out.AmountCents
		}
		cons.Outcomes = append(cons.Outcomes, out)
	}

	if out := outcomeFor(t, cons, stuck.ID); out.Status != StatusFailed || out.Error == "" {
		t.Errorf("stale pull should fail with a reason: %+v", out)
	}
	if out := outcomeFor(t, cons, healthy.ID); out.Status != StatusConsolidated {
		t.Errorf("healthy pull must not be blocked: %+v", out)
	}
	if cons.TotalCents != 3_000 {
		t.Errorf("expected 3000 consolidated, got %d", cons.TotalCents)
	}

	// The failed pull's voided credit must not distort the ledger.
	result, err := e.ledger.Replay(context.Background(), "org_1")
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if !result.Match {
		t.Errorf("projection drifted: %+v", result)
	}
}

// settleFailStore rejects the next completed settlement so the
// commit-failure path can be exercised.
type settleFailStore struct {
	ledger.Store
	armed bool
}

func (s *settleFailStore) Settle(ctx context.Context, txID string, status ledger.TxStatus, reason string) (*ledger.Wallet, *ledger.Transaction, error) {
	if s.armed && status == ledger.StatusCompleted {
		s.armed = false
		return nil, nil, errors.New("store unavailable")
	}
	return s.Store.Settle(ctx, txID, status, reason)
}

func TestConsolidate_CommitFailureRestoresSubBalance(t *testing.T) {
	store := &settleFailStore{Store: ledger.NewMemoryStore()}
	led := ledger.New(store, nil)
	if err := led.CreateWallet(context.Background(), "org_1"); err != nil {
		t.Fatalf("CreateWallet failed: %v", err)
	}
	directory := adaccounts.NewDirectory(adaccounts.NewMemoryStore())
	svc := NewService(led, directory, nil, nil)
	acct, err := directory.Register(context.Background(), "org_1", "meta", "campaign", 0)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Seed the wallet and allocate to the account.
	seed, err := led.Begin(context.Background(), "org_1", ledger.TxTopupFunding, 2_000, "")
	if err != nil {
		t.Fatalf("seed Begin failed: %v", err)
	}
	if _, err := led.Commit(context.Background(), seed.ID); err != nil {
		t.Fatalf("seed Commit failed: %v", err)
	}
	debit, err := led.Begin(context.Background(), "org_1", ledger.TxDistribution, -2_000, "")
	if err != nil {
		t.Fatalf("allocate Begin failed: %v", err)
	}
	if _, err := directory.Apply(context.Background(), "org_1", debit.ID, []adaccounts.Movement{
		{AdAccountID: acct.ID, AmountCents: 2_000},
	}); err != nil {
		t.Fatalf("allocate Apply failed: %v", err)
	}
	if _, err := led.Commit(context.Background(), debit.ID); err != nil {
		t.Fatalf("allocate Commit failed: %v", err)
	}

	store.armed = true
	cons, err := svc.Consolidate(context.Background(), "org_1", []string{acct.ID})
	if err != nil {
		t.Fatalf("Consolidate failed: %v", err)
	}
	if out := outcomeFor(t, cons, acct.ID); out.Status != StatusFailed || out.Error == "" {
		t.Errorf("commit failure should fail the outcome with a reason: %+v", out)
	}
	if cons.TotalCents != 0 {
		t.Errorf("nothing may count as consolidated, got %d", cons.TotalCents)
	}

	// The debited funds must be restored, not vanish between ledgers.
	sub, _ := directory.SubBalance(context.Background(), "org_1", acct.ID)
	if sub.BalanceCents != 2_000 {
		t.Errorf("sub-balance must be restored on commit failure: %d", sub.BalanceCents)
	}
	wallet, _ := led.Balance(context.Background(), "org_1")
	if wallet.BalanceCents != 0 || wallet.ReservedCents != 0 {
		t.Errorf("wallet must be untouched: %+v", wallet)
	}

	result, err := led.Replay(context.Background(), "org_1")
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if !result.Match {
		t.Errorf("projection drifted after compensation: %+v", result)
	}
}

func TestConsolidate_RoundTripPreservesTotal(t *testing.T) {
	e := newTestEnv(t)
	a := e.account(t)
	e.fund(t, a.ID, 7_500)

	if _, err := e.service.Consolidate(context.Background(), "org_1", nil); err != nil {
		t.Fatalf("Consolidate failed: %v", err)
	}

	// distribute-then-consolidate must conserve every cent.
	result, err := e.ledger.Replay(context.Background(), "org_1")
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if !result.Match {
		t.Errorf("projection drifted: %+v", result)
	}
	wallet, _ := e.ledger.Balance(context.Background(), "org_1")
	if wallet.BalanceCents != 7_500 {
		t.Errorf("expected 7500 back in the wallet, got %d", wallet.BalanceCents)
	}
}
