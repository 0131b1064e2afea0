package port

import (
	"context"
	"time"

	"payout/internal/domain"
)

type OrderRepository interface {
	Get(ctx context.Context, filter domain.OrderFilter) (*domain.Order, error)
	Update(ctx context.Context, id string, upd domain.OrderUpdate) error
	// ClaimForSubmission moves the order to processing with the attempt's
	// provider and idempotency key, unless a submission may already exist.
	// claimed is false, with nothing written, when another attempt holds it.
	ClaimForSubmission(ctx context.Context, id string, provider domain.Provider, key string) (claimed bool, err error)
	// ApplyTerminal writes a terminal status only while the order is still
	// non-terminal. applied is false when the order was already terminal.
	ApplyTerminal(ctx context.Context, id string, status domain.OrderStatus, payoutStatus domain.PayoutStatus) (applied bool, err error)
}

// BankCache holds the remote Flip bank list between fetches.
type BankCache interface {
	Get(ctx context.Context) ([]domain.Bank, bool, error)
	Set(ctx context.Context, banks []domain.Bank, ttl time.Duration) error
}
