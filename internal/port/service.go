package port

import (
	"context"

	"payout/internal/domain"
)

// PayoutProvider is one disbursement provider integration.
type PayoutProvider interface {
	Name() domain.Provider
	// ResolveDestination maps the order's bank and account into what the
	// provider expects. It returns domain.ErrBankNotSupported when the bank
	// has no provider code.
	ResolveDestination(ctx context.Context, order *domain.Order) (*domain.Destination, error)
	Memo(order *domain.Order) string
	SubmitDisbursement(ctx context.Context, req *domain.DisbursementRequest) (*domain.SubmitResult, error)
	NormalizeStatus(raw string) domain.PayoutStatus
}

// AccountVerifier is implemented by providers that offer a pre-flight account inquiry.
type AccountVerifier interface {
	InquireAccount(ctx context.Context, dest *domain.Destination) (*domain.InquiryResult, error)
	Environment() domain.Environment
}

// WebhookParser turns a raw provider callback body into an event.
type WebhookParser interface {
	ParseWebhook(raw []byte) (*domain.WebhookEvent, error)
}

type DisbursementService interface {
	Disburse(ctx context.Context, orderID string, provider domain.Provider) bool
	DisburseOrder(ctx context.Context, order *domain.Order, provider domain.Provider) bool
}

type WebhookService interface {
	Provider() domain.Provider
	Handle(ctx context.Context, raw []byte, authToken string, onSettlement domain.SettlementFunc) (*domain.WebhookResult, error)
}
