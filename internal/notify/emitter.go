package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/fundlane/adwallet/internal/consolidation"
	"github.com/fundlane/adwallet/internal/distribution"
	"github.com/fundlane/adwallet/internal/funding"
	"github.com/fundlane/adwallet/internal/idgen"
	"github.com/fundlane/adwallet/internal/ledger"
)

// Emitter translates settlement results into outbound events.
// All methods are fire-and-forget: errors are logged but never returned,
// and a nil Emitter is safe to call.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{d: d, logger: logger}
}

func (e *Emitter) emit(ctx context.Context, orgID string, eventType EventType, data map[string]interface{}) {
	if e == nil || e.d == nil {
		return
	}
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		OrgID:     orgID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	if err := e.d.Dispatch(ctx, event); err != nil {
		e.logger.Warn("event dispatch failed", "event", string(eventType), "org_id", orgID, "error", err)
	}
}

// FundingResolved emits the event matching a settled funding intent.
func (e *Emitter) FundingResolved(ctx context.Context, intent *funding.FundingIntent) {
	var eventType EventType
	switch intent.Status {
	case funding.IntentCompleted:
		eventType = EventFundingCompleted
	case funding.IntentFailed:
		eventType = EventFundingFailed
	case funding.IntentExpired:
		eventType = EventFundingExpired
	default:
		return
	}

	e.emit(ctx, intent.OrgID, eventType, map[string]interface{}{
		"intentId":    intent.ID,
		"rail":        string(intent.Rail),
		"amountCents": intent.AmountCents,
		"feeCents":    intent.FeeCents,
		"status":      string(intent.Status),
		"failReason":  intent.FailReason,
	})
}

// Distributed emits a wallet.distributed event.
func (e *Emitter) Distributed(ctx context.Context, dist *distribution.Distribution) {
	e.emit(ctx, dist.OrgID, EventWalletDistributed, map[string]interface{}{
		"walletTxId":  dist.WalletTxID,
		"totalCents":  dist.TotalCents,
		"allocations": dist.Allocations,
	})
}

// Consolidated emits a wallet.consolidated event.
func (e *Emitter) Consolidated(ctx context.Context, cons *consolidation.Consolidation) {
	e.emit(ctx, cons.OrgID, EventWalletConsolidated, map[string]interface{}{
		"totalCents": cons.TotalCents,
		"outcomes":   cons.Outcomes,
	})
}

// Withdrawn emits a wallet.withdrawn event.
func (e *Emitter) Withdrawn(ctx context.Context, orgID string, tx *ledger.Transaction) {
	e.emit(ctx, orgID, EventWalletWithdrawn, map[string]interface{}{
		"walletTxId":  tx.ID,
		"amountCents": -tx.AmountCents,
	})
}
