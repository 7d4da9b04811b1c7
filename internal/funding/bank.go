package funding

import (
	"context"
	"fmt"
	"strings"

	"github.com/fundlane/adwallet/internal/fees"
	"github.com/fundlane/adwallet/internal/idgen"
)

// BankDetails are the receiving-account instructions shown to the payer.
type BankDetails struct {
	AccountName   string `json:"accountName"`
	AccountNumber string `json:"accountNumber"`
	RoutingNumber string `json:"routingNumber"`
}

// BankProvider funds wallets by wire transfer. There is no external API
// call: the provider mints a reference number the payer must put in the
// wire memo, and an operator confirms receipt through the admin API.
type BankProvider struct {
	details BankDetails
}

// NewBankProvider returns the bank-transfer rail.
func NewBankProvider(details BankDetails) *BankProvider {
	return &BankProvider{details: details}
}

func (p *BankProvider) Rail() fees.Rail {
	return fees.RailBankTransfer
}

// Details returns the receiving-account instructions.
func (p *BankProvider) Details() BankDetails {
	return p.details
}

// Initiate mints the wire reference. The reference doubles as the
// external reference the admin confirmation resolves by.
func (p *BankProvider) Initiate(ctx context.Context, intent *FundingIntent) (*Session, error) {
	ref := fmt.Sprintf("WIRE-%s", strings.ToUpper(idgen.Hex(6)))
	return &Session{
		ExternalRef:   ref,
		BankReference: ref,
	}, nil
}
