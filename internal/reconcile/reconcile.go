// Package reconcile settles funding intents from provider callbacks.
//
// Providers retry webhooks and may deliver the same event many times, in
// any order. The reconciler absorbs that: deliveries for unknown
// references and for already-settled intents are acknowledged without
// effect, so a provider never sees an error it would retry forever.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fundlane/adwallet/internal/fees"
	"github.com/fundlane/adwallet/internal/funding"
	"github.com/fundlane/adwallet/internal/metrics"
	"github.com/fundlane/adwallet/internal/syncutil"
)

// ErrAmountMismatch means a confirmation reported a different amount
// than the intent charged. The intent stays pending; the operator must
// re-confirm with the right amount or reject the transfer.
var ErrAmountMismatch = errors.New("reconcile: confirmed amount does not match intent")

// ProviderEvent is a normalized payment-outcome notification.
// ConfirmedAmountCents is zero when the provider does not report an
// amount; when set, it must match what the intent charged.
type ProviderEvent struct {
	Rail                 fees.Rail
	ExternalRef          string
	Outcome              funding.Outcome
	Reason               string
	ConfirmedAmountCents int64
}

// Resolver settles the intent behind a provider reference.
type Resolver interface {
	Resolve(ctx context.Context, externalRef string, outcome funding.Outcome, reason string) (*funding.FundingIntent, error)
	GetByExternalRef(ctx context.Context, externalRef string) (*funding.FundingIntent, error)
}

// Notifier is told about settled intents so subscribers can be informed.
type Notifier interface {
	FundingResolved(ctx context.Context, intent *funding.FundingIntent)
}

// Reconciler applies provider events to funding intents exactly once.
type Reconciler struct {
	resolver Resolver
	notifier Notifier
	locks    syncutil.ShardedMutex
	logger   *slog.Logger
}

// New creates a reconciler. notifier may be nil.
func New(resolver Resolver, notifier Notifier, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{resolver: resolver, notifier: notifier, logger: logger}
}

// Apply settles the intent the event refers to. Unknown references and
// redeliveries are absorbed: logged, counted, and reported as success.
func (r *Reconciler) Apply(ctx context.Context, event ProviderEvent) error {
	if event.ExternalRef == "" {
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Rail), "malformed").Inc()
		return errors.New("reconcile: event has no reference")
	}

	unlock := r.locks.Lock(event.ExternalRef)
	defer unlock()

	if event.ConfirmedAmountCents > 0 && event.Outcome == funding.OutcomeSucceeded {
		if err := r.checkAmount(ctx, event); err != nil {
			return err
		}
	}

	intent, err := r.resolver.Resolve(ctx, event.ExternalRef, event.Outcome, event.Reason)
	switch {
	case errors.Is(err, funding.ErrUnknownReference):
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Rail), "unknown_reference").Inc()
		r.logger.Warn("webhook for unknown reference",
			"rail", string(event.Rail),
			"external_ref", event.ExternalRef,
		)
		return nil
	case errors.Is(err, funding.ErrIntentTerminal):
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Rail), "duplicate").Inc()
		r.logger.Info("duplicate webhook delivery absorbed",
			"rail", string(event.Rail),
			"external_ref", event.ExternalRef,
			"status", string(intent.Status),
		)
		return nil
	case err != nil:
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Rail), "error").Inc()
		return err
	}

	metrics.WebhookEventsTotal.WithLabelValues(string(event.Rail), "applied").Inc()
	if r.notifier != nil {
		r.notifier.FundingResolved(ctx, intent)
	}
	return nil
}

// Expire settles an overdue intent through the same per-reference
// serialization as provider webhooks.
func (r *Reconciler) Expire(ctx context.Context, rail fees.Rail, externalRef string) error {
	return r.Apply(ctx, ProviderEvent{
		Rail:        rail,
		ExternalRef: externalRef,
		Outcome:     funding.OutcomeExpired,
		Reason:      "payment window expired",
	})
}

// checkAmount refuses a success confirmation whose reported amount
// differs from what the intent charged. Unknown and already-settled
// intents fall through to Resolve's absorption.
func (r *Reconciler) checkAmount(ctx context.Context, event ProviderEvent) error {
	intent, err := r.resolver.GetByExternalRef(ctx, event.ExternalRef)
	if err != nil || intent.Status != funding.IntentPending {
		return nil
	}
	if intent.TotalCents != event.ConfirmedAmountCents {
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Rail), "amount_mismatch").Inc()
		r.logger.Warn("confirmed amount does not match intent",
			"rail", string(event.Rail),
			"external_ref", event.ExternalRef,
			"expected_cents", intent.TotalCents,
			"confirmed_cents", event.ConfirmedAmountCents,
		)
		return fmt.Errorf("confirmed %d cents, intent charges %d: %w",
			event.ConfirmedAmountCents, intent.TotalCents, ErrAmountMismatch)
	}
	return nil
}
