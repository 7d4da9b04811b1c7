// Package orgs manages the organizations that own wallets.
//
// Each organization gets exactly one wallet, provisioned at creation.
// The plan tier gates wallet funding: free-tier organizations are refused
// before any ledger mutation.
package orgs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fundlane/adwallet/internal/fees"
	"github.com/fundlane/adwallet/internal/idgen"
	"github.com/fundlane/adwallet/internal/validation"
)

var (
	ErrOrgNotFound = errors.New("orgs: not found")
	ErrSlugTaken   = errors.New("orgs: slug already taken")
	ErrInvalidName = errors.New("orgs: name is required")
)

// Status represents an organization's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Organization owns a wallet and a set of ad accounts.
type Organization struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Slug             string        `json:"slug"`
	Plan             fees.PlanTier `json:"plan"`
	StripeCustomerID string        `json:"stripeCustomerId,omitempty"`
	Status           Status        `json:"status"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// Store persists organizations.
type Store interface {
	Create(ctx context.Context, org *Organization) error
	Get(ctx context.Context, id string) (*Organization, error)
	GetBySlug(ctx context.Context, slug string) (*Organization, error)
	Update(ctx context.Context, org *Organization) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit int) ([]*Organization, error)
}

// WalletProvisioner creates the wallet when an organization is provisioned.
type WalletProvisioner interface {
	CreateWallet(ctx context.Context, walletID string) error
}

// Service manages organization lifecycle.
type Service struct {
	store   Store
	wallets WalletProvisioner
	logger  *slog.Logger
}

// NewService creates an organization service.
func NewService(store Store, wallets WalletProvisioner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, wallets: wallets, logger: logger}
}

// Create provisions an organization and its wallet. The wallet id is the
// organization id; ledger operations always address wallets by it.
func (s *Service) Create(ctx context.Context, name string, plan fees.PlanTier) (*Organization, error) {
	name = validation.SanitizeString(name, validation.MaxNameLength)
	if name == "" {
		return nil, ErrInvalidName
	}
	if plan == "" {
		plan = fees.TierFree
	}

	now := time.Now().UTC()
	org := &Organization{
		ID:        idgen.WithPrefix("org_"),
		Name:      name,
		Slug:      slugify(name),
		Plan:      plan,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Create(ctx, org); err != nil {
		return nil, err
	}
	if err := s.wallets.CreateWallet(ctx, org.ID); err != nil {
		// An organization must never exist without its wallet; back out
		// the record so the slug frees up and a retry starts clean.
		if delErr := s.store.Delete(ctx, org.ID); delErr != nil {
			s.logger.Error("failed to remove organization without wallet",
				"org_id", org.ID, "error", delErr)
		}
		return nil, fmt.Errorf("provision wallet: %w", err)
	}
	return org, nil
}

// Get returns an organization by id.
func (s *Service) Get(ctx context.Context, id string) (*Organization, error) {
	return s.store.Get(ctx, id)
}

// Plan returns the organization's plan tier, for fee-policy gating.
func (s *Service) Plan(ctx context.Context, id string) (fees.PlanTier, error) {
	org, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return org.Plan, nil
}

// ChangePlan updates the organization's plan tier.
func (s *Service) ChangePlan(ctx context.Context, id string, plan fees.PlanTier) (*Organization, error) {
	org, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	org.Plan = plan
	org.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, org); err != nil {
		return nil, err
	}
	return org, nil
}

// List returns organizations, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]*Organization, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.List(ctx, limit)
}

// slugify lowercases the name and replaces runs of non-alphanumerics
// with single dashes.
func slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
