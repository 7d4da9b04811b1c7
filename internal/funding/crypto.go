package funding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fundlane/adwallet/internal/fees"
)

// CryptoProvider funds wallets through a crypto payment processor that
// issues a per-charge USDC deposit address. Charges expire if unpaid.
type CryptoProvider struct {
	apiURL string
	apiKey string
	expiry time.Duration
	client *http.Client
}

// NewCryptoProvider returns the crypto rail.
func NewCryptoProvider(apiURL, apiKey string, expiry time.Duration) *CryptoProvider {
	return &CryptoProvider{
		apiURL: apiURL,
		apiKey: apiKey,
		expiry: expiry,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *CryptoProvider) Rail() fees.Rail {
	return fees.RailCrypto
}

type createChargeRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	ExpiresIn   int64  `json:"expires_in_seconds"`
	Metadata    struct {
		OrgID    string `json:"org_id"`
		IntentID string `json:"intent_id"`
	} `json:"metadata"`
}

type createChargeResponse struct {
	ChargeID       string `json:"charge_id"`
	DepositAddress string `json:"deposit_address"`
	Currency       string `json:"currency"`
	PaymentURL     string `json:"payment_url"`
	QRCode         string `json:"qr_code"`
}

// Initiate creates a charge with the processor. The returned deposit
// address must be a valid EVM address or the charge is rejected before
// any ledger mutation.
func (p *CryptoProvider) Initiate(ctx context.Context, intent *FundingIntent) (*Session, error) {
	req := createChargeRequest{
		AmountCents: intent.TotalCents,
		Currency:    "usdc",
		ExpiresIn:   int64(p.expiry.Seconds()),
	}
	req.Metadata.OrgID = intent.OrgID
	req.Metadata.IntentID = intent.ID

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/v1/charges", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("create charge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("create charge: processor returned %d", resp.StatusCode)
	}

	var charge createChargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&charge); err != nil {
		return nil, fmt.Errorf("decode charge response: %w", err)
	}
	if charge.ChargeID == "" {
		return nil, fmt.Errorf("processor returned empty charge id")
	}
	if !common.IsHexAddress(charge.DepositAddress) {
		return nil, fmt.Errorf("processor returned invalid deposit address %q", charge.DepositAddress)
	}

	expiresAt := time.Now().UTC().Add(p.expiry)
	return &Session{
		ExternalRef:     charge.ChargeID,
		DepositAddress:  common.HexToAddress(charge.DepositAddress).Hex(),
		DepositCurrency: charge.Currency,
		PaymentURL:      charge.PaymentURL,
		QRCode:          charge.QRCode,
		ExpiresAt:       &expiresAt,
	}, nil
}
