package verification

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const maskedCardPrefix = "**** **** **** "

// PaymentInput is the caller's verification request. CVCode is passed to the
// processor and never stored or logged.
type PaymentInput struct {
	UniqueID    string
	CardNumber  string
	ExpiryMonth string
	ExpiryYear  string
	CVCode      string
}

// PaymentRequest is what a PaymentProcessor charges.
type PaymentRequest struct {
	CertificateID uuid.UUID
	UniqueID      string
	CardNumber    string
	ExpiryMonth   string
	ExpiryYear    string
	CVCode        string
	Amount        decimal.Decimal
	Currency      string
}

// PaymentReceipt confirms a charge.
type PaymentReceipt struct {
	Reference string
	PaidAt    time.Time
	Amount    decimal.Decimal
	Currency  string
}

// PaymentProcessor confirms the verification fee.
type PaymentProcessor interface {
	Confirm(ctx context.Context, req PaymentRequest) (PaymentReceipt, error)
}

// SimulatedProcessor accepts every request without contacting a payment network.
type SimulatedProcessor struct {
	Now func() time.Time
}

func (p SimulatedProcessor) Confirm(ctx context.Context, req PaymentRequest) (PaymentReceipt, error) {
	if err := ctx.Err(); err != nil {
		return PaymentReceipt{}, err
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return PaymentReceipt{
		Reference: "sim_" + uuid.NewString(),
		PaidAt:    now().UTC(),
		Amount:    req.Amount,
		Currency:  req.Currency,
	}, nil
}

// NormalizeCardNumber drops surrounding whitespace and the spaces and dashes
// between digit groups.
func NormalizeCardNumber(card string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, strings.TrimSpace(card))
}

// MaskCardNumber keeps only the last four characters, e.g. "**** **** **** 1111".
func MaskCardNumber(card string) string {
	digits := []rune(NormalizeCardNumber(card))
	if len(digits) < minCardLength {
		return ""
	}
	return maskedCardPrefix + string(digits[len(digits)-minCardLength:])
}
