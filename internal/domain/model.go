package domain

import (
	"context"
	"time"
)

type Provider string

const (
	ProviderFlip     Provider = "flip"
	ProviderMidtrans Provider = "midtrans"
)

type Environment string

const (
	EnvSandbox    Environment = "sandbox"
	EnvProduction Environment = "production"
)

func (e Environment) IsProduction() bool {
	return e == EnvProduction
}

// OrderStatus is the overall status of a payout order.
type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusProcessing      OrderStatus = "processing"
	StatusWaitingCallback OrderStatus = "waiting_callback"
	StatusSuccess         OrderStatus = "success"
	StatusFailed          OrderStatus = "failed"
)

// IsTerminal reports whether no later callback may overwrite the status.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// InFlight reports whether a submission for the order may already exist at the provider.
func (s OrderStatus) InFlight() bool {
	return s == StatusProcessing || s == StatusWaitingCallback || s == StatusSuccess
}

// PayoutStatus is the canonical payout status every provider vocabulary is normalized into.
type PayoutStatus string

const (
	PayoutPending     PayoutStatus = "pending"
	PayoutQueued      PayoutStatus = "queued"
	PayoutSuccess     PayoutStatus = "success"
	PayoutFailed      PayoutStatus = "failed"
	PayoutInvalidBank PayoutStatus = "invalid_bank"
)

// Accepted reports whether a provider's initial status means the request was taken.
func (s PayoutStatus) Accepted() bool {
	return s == PayoutPending || s == PayoutQueued || s == PayoutSuccess
}

// Order is a withdrawal request as held by the order store.
type Order struct {
	ID             string
	OrderID        string
	Token          string
	PayoutBank     string
	PayoutAccount  string
	PayoutName     string
	AmountIDR      int64
	Status         OrderStatus
	PayoutStatus   PayoutStatus
	PayoutError    string
	Provider       Provider
	FlipRefID      string
	MidtransRefID  string
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ProviderRef returns the reference the given provider assigned to the order.
func (o *Order) ProviderRef(p Provider) string {
	switch p {
	case ProviderFlip:
		return o.FlipRefID
	case ProviderMidtrans:
		return o.MidtransRefID
	}
	return ""
}

// OrderFilter selects a single order either by internal id or by provider reference.
type OrderFilter struct {
	ID          string
	Provider    Provider
	ProviderRef string
}

// OrderUpdate carries the fields of one transition. Nil fields are left untouched.
type OrderUpdate struct {
	Status         *OrderStatus
	PayoutStatus   *PayoutStatus
	PayoutError    *string
	Provider       *Provider
	ProviderRef    *string
	IdempotencyKey *string
}

// Destination is the outgoing bank target of one attempt. It is derived
// from an Order and never written back to it.
type Destination struct {
	BankCode      string
	AccountNumber string
	AccountName   string
}

type DisbursementRequest struct {
	Order          *Order
	Destination    Destination
	AmountIDR      int64
	Memo           string
	IdempotencyKey string
}

type SubmitResult struct {
	Reference    string
	RawStatus    string
	PayoutStatus PayoutStatus
	Raw          string
}

type InquiryStatus string

const (
	InquirySuccess     InquiryStatus = "SUCCESS"
	InquirySuspected   InquiryStatus = "SUSPECTED_ACCOUNT"
	InquiryPending     InquiryStatus = "PENDING"
	InquiryInvalid     InquiryStatus = "INVALID_ACCOUNT_NUMBER"
	InquiryBlacklisted InquiryStatus = "BLACKLISTED"
)

// Permits applies the inquiry policy. PENDING only passes outside production.
func (s InquiryStatus) Permits(env Environment) bool {
	switch s {
	case InquirySuccess, InquirySuspected:
		return true
	case InquiryPending:
		return !env.IsProduction()
	}
	return false
}

type InquiryResult struct {
	Status        InquiryStatus
	AccountHolder string
	InquiryKey    string
	Error         string
}

// WebhookEvent is a parsed provider callback. It is never persisted.
type WebhookEvent struct {
	Provider  Provider
	Reference string
	RawStatus string
	AuthToken string
	Payload   map[string]any
}

type WebhookResult struct {
	OrderID     string
	Applied     bool
	Matched     bool
	SandboxTest bool
	Status      OrderStatus
	Note        string
}

// SettlementFunc is invoked once a webhook moved an order into a terminal state.
type SettlementFunc func(ctx context.Context, order *Order, payload map[string]any) error

// Bank is one entry of a provider bank directory.
type Bank struct {
	Code   string `json:"bank_code"`
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}
