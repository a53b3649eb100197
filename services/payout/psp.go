package payout

import (
	"context"
	"errors"
	"fmt"

	"trafficguard/pkg/config"
	"trafficguard/pkg/errutil"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/transfer"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// CreatorPayoutAccount maps a creator to their connected Stripe account.
type CreatorPayoutAccount struct {
	CreatorID       string `gorm:"column:creator_id;primaryKey"`
	StripeAccountID string `gorm:"column:stripe_account_id;not null"`
}

func (CreatorPayoutAccount) TableName() string {
	return "creator_payout_accounts"
}

// PayoutRequest is one disbursement instruction handed to the PSP. EntryID is
// the payout queue entry being disbursed; it is stable across retries of the
// same entry and keys deduplication at the provider. Reference is the
// human-facing payout code and changes per attempt.
type PayoutRequest struct {
	EntryID     string
	CreatorID   string
	AmountCents int64
	Currency    string
	Reference   string
}

// PSP is the external payout execution engine. Create starts a transfer,
// Verify reports its current state, Confirm acknowledges a verified transfer.
type PSP interface {
	CreatePayout(ctx context.Context, req PayoutRequest) (string, error)
	VerifyPayout(ctx context.Context, externalRef string) (bool, error)
	ConfirmPayout(ctx context.Context, externalRef string) error
}

// StripePSP executes payouts as Stripe Connect transfers.
type StripePSP struct {
	db       *gorm.DB
	currency string
}

type StripeParams struct {
	fx.In

	DB     *gorm.DB
	Config *config.Config
}

func NewStripePSP(p StripeParams) PSP {
	stripe.Key = p.Config.Stripe.SecretKey

	currency := p.Config.Stripe.Currency
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}

	return &StripePSP{
		db:       p.DB,
		currency: currency,
	}
}

func (s *StripePSP) CreatePayout(ctx context.Context, req PayoutRequest) (string, error) {
	var account CreatorPayoutAccount
	if err := s.db.WithContext(ctx).
		Where("creator_id = ?", req.CreatorID).
		First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", errutil.NotFound(fmt.Sprintf("creator %s has no payout account", req.CreatorID), err)
		}
		return "", err
	}

	currency := req.Currency
	if currency == "" {
		currency = s.currency
	}

	params := &stripe.TransferParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(currency),
		Destination:   stripe.String(account.StripeAccountID),
		TransferGroup: stripe.String(req.Reference),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.EntryID)

	t, err := transfer.New(params)
	if err != nil {
		return "", errutil.BadGateway("stripe transfer failed", err)
	}

	return t.ID, nil
}

func (s *StripePSP) VerifyPayout(ctx context.Context, externalRef string) (bool, error) {
	params := &stripe.TransferParams{}
	params.Context = ctx

	t, err := transfer.Get(externalRef, params)
	if err != nil {
		return false, errutil.BadGateway("stripe transfer lookup failed", err)
	}

	return t.AmountReversed == 0, nil
}

func (s *StripePSP) ConfirmPayout(ctx context.Context, externalRef string) error {
	params := &stripe.TransferParams{}
	params.Context = ctx
	params.AddMetadata("confirmed", "true")

	if _, err := transfer.Update(externalRef, params); err != nil {
		return errutil.BadGateway("stripe transfer confirm failed", err)
	}

	return nil
}
