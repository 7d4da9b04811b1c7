// Package notify delivers wallet lifecycle events to subscriber URLs.
//
// Organizations register endpoints to hear about funding resolutions and
// fund movements. Deliveries are signed with the subscription secret and
// fired asynchronously; a dead endpoint never blocks a settlement.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/fundlane/adwallet/internal/circuitbreaker"
	"github.com/fundlane/adwallet/internal/metrics"
	"github.com/fundlane/adwallet/internal/retry"
)

var (
	ErrSubscriptionNotFound = errors.New("notify: subscription not found")
	ErrInvalidURL           = errors.New("notify: url must be http or https")
)

// EventType represents the type of outbound event.
type EventType string

const (
	EventFundingCompleted   EventType = "funding.completed"
	EventFundingFailed      EventType = "funding.failed"
	EventFundingExpired     EventType = "funding.expired"
	EventWalletDistributed  EventType = "wallet.distributed"
	EventWalletConsolidated EventType = "wallet.consolidated"
	EventWalletWithdrawn    EventType = "wallet.withdrawn"
)

// Event is one outbound notification.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	OrgID     string                 `json:"orgId"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscription is a registered delivery endpoint.
type Subscription struct {
	ID          string      `json:"id"`
	OrgID       string      `json:"orgId"`
	URL         string      `json:"url"`
	Secret      string      `json:"-"`
	Events      []EventType `json:"events"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"createdAt"`
	LastSuccess *time.Time  `json:"lastSuccess,omitempty"`
	LastError   string      `json:"lastError,omitempty"`
}

// wants reports whether the subscription covers an event type.
// An empty event list means everything.
func (s *Subscription) wants(t EventType) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, et := range s.Events {
		if et == t {
			return true
		}
	}
	return false
}

// Store persists subscriptions.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	GetByOrg(ctx context.Context, orgID string) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// Dispatcher sends events to an organization's subscribers.
type Dispatcher struct {
	store   Store
	client  *http.Client
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// NewDispatcher creates a new dispatcher.
func NewDispatcher(store Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		breaker: circuitbreaker.New(5, 2*time.Minute),
		logger:  logger,
	}
}

// Dispatch sends an event to every active matching subscription of the
// event's organization. Deliveries run in their own goroutines.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	subs, err := d.store.GetByOrg(ctx, event.OrgID)
	if err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}

	for _, sub := range subs {
		if !sub.Active || !sub.wants(event.Type) {
			continue
		}
		go d.send(sub, event)
	}
	return nil
}

func (d *Dispatcher) send(sub *Subscription, event *Event) {
	// Detached from the caller: the settlement that triggered this event
	// must not wait on subscriber endpoints.
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if !d.breaker.Allow(sub.ID) {
		d.updateError(ctx, sub, "endpoint circuit open, delivery skipped")
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		d.updateError(ctx, sub, "failed to marshal event")
		return
	}

	err = retry.Do(ctx, 3, 2*time.Second, func() error {
		return d.deliver(ctx, sub, event, payload)
	})
	if err != nil {
		d.breaker.RecordFailure(sub.ID)
		d.updateError(ctx, sub, err.Error())
		return
	}

	d.breaker.RecordSuccess(sub.ID)
	d.updateSuccess(ctx, sub)
}

// deliver performs one signed POST. A 4xx from the endpoint is the
// subscriber's bug, not a transient fault, so it is not retried.
func (d *Dispatcher) deliver(ctx context.Context, sub *Subscription, event *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Adwallet-Event", string(event.Type))
	req.Header.Set("X-Adwallet-Timestamp", fmt.Sprintf("%d", event.Timestamp.Unix()))
	if sub.Secret != "" {
		req.Header.Set("X-Adwallet-Signature", sign(payload, sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	default:
		return fmt.Errorf("status %d", resp.StatusCode)
	}
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Dispatcher) updateSuccess(ctx context.Context, sub *Subscription) {
	metrics.NotifyDeliveriesTotal.WithLabelValues("success").Inc()
	now := time.Now().UTC()
	sub.LastSuccess = &now
	sub.LastError = ""
	if err := d.store.Update(ctx, sub); err != nil {
		d.logger.Warn("failed to record delivery success", "subscription_id", sub.ID, "error", err)
	}
}

func (d *Dispatcher) updateError(ctx context.Context, sub *Subscription, errMsg string) {
	metrics.NotifyDeliveriesTotal.WithLabelValues("error").Inc()
	sub.LastError = errMsg
	if err := d.store.Update(ctx, sub); err != nil {
		d.logger.Warn("failed to record delivery error", "subscription_id", sub.ID, "error", err)
	}
	d.logger.Warn("notification delivery failed",
		"subscription_id", sub.ID,
		"url", sub.URL,
		"error", errMsg,
	)
}

// ValidateURL checks that a subscription endpoint is a usable HTTP URL.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}

// MemoryStore is an in-memory subscription store for demo/development mode.
type MemoryStore struct {
	subs map[string]*Subscription
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory subscription store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]*Subscription)}
}

func (m *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *MemoryStore) GetByOrg(ctx context.Context, orgID string) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		if sub.OrgID == orgID {
			cp := *sub
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) Update(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.ID]; !ok {
		return ErrSubscriptionNotFound
	}
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}
