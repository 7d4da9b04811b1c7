package funding

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"

	"github.com/fundlane/adwallet/internal/fees"
)

// CardProvider funds wallets through Stripe Checkout. The checkout
// session id is the external reference the webhook resolves by.
type CardProvider struct {
	returnURL string
}

// NewCardProvider configures the Stripe client and returns the card rail.
func NewCardProvider(secretKey, returnURL string) *CardProvider {
	stripe.Key = secretKey
	return &CardProvider{returnURL: returnURL}
}

func (p *CardProvider) Rail() fees.Rail {
	return fees.RailCard
}

// Initiate creates a Stripe Checkout session charging the payer the
// intent total.
func (p *CardProvider) Initiate(ctx context.Context, intent *FundingIntent) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{
			"card",
		}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String("usd"),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Ad wallet funding"),
					},
					UnitAmount: stripe.Int64(intent.TotalCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(p.returnURL + "?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(p.returnURL),
		Metadata: map[string]string{
			"org_id":    intent.OrgID,
			"intent_id": intent.ID,
		},
	}
	params.Context = ctx

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	return &Session{
		ExternalRef: sess.ID,
		CheckoutURL: sess.URL,
	}, nil
}
