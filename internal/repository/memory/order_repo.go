package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"payout/internal/domain"
)

type refKey struct {
	provider domain.Provider
	ref      string
}

// OrderRepository is a process-local order store. Reads return copies.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
	refs   map[refKey]string
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders: make(map[string]*domain.Order),
		refs:   make(map[refKey]string),
	}
}

// Save inserts or replaces an order.
func (r *OrderRepository) Save(o *domain.Order) error {
	if o.ID == "" {
		return errors.New("order id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *o
	if cp.Status == "" {
		cp.Status = domain.StatusPending
	}
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	for _, p := range []domain.Provider{domain.ProviderFlip, domain.ProviderMidtrans} {
		if ref := cp.ProviderRef(p); ref != "" {
			key := refKey{p, ref}
			if owner, ok := r.refs[key]; ok && owner != cp.ID {
				return fmt.Errorf("%w: %s %s", domain.ErrDuplicateRef, p, ref)
			}
			r.refs[key] = cp.ID
		}
	}
	r.orders[cp.ID] = &cp
	return nil
}

func (r *OrderRepository) Get(_ context.Context, filter domain.OrderFilter) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id := filter.ID
	if id == "" {
		if filter.ProviderRef == "" {
			return nil, errors.New("empty order filter")
		}
		var ok bool
		id, ok = r.refs[refKey{filter.Provider, filter.ProviderRef}]
		if !ok {
			return nil, domain.ErrOrderNotFound
		}
	}

	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *OrderRepository) Update(_ context.Context, id string, upd domain.OrderUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}

	if upd.ProviderRef != nil {
		if upd.Provider == nil {
			return errors.New("provider reference update without provider")
		}
		p := *upd.Provider
		if p != domain.ProviderFlip && p != domain.ProviderMidtrans {
			return fmt.Errorf("%w: %q", domain.ErrUnknownProvider, p)
		}
		if *upd.ProviderRef != "" {
			key := refKey{p, *upd.ProviderRef}
			if owner, ok := r.refs[key]; ok && owner != id {
				return fmt.Errorf("%w: %s %s", domain.ErrDuplicateRef, p, *upd.ProviderRef)
			}
			if old := o.ProviderRef(p); old != "" {
				delete(r.refs, refKey{p, old})
			}
			r.refs[key] = id
		}
		if p == domain.ProviderFlip {
			o.FlipRefID = *upd.ProviderRef
		} else {
			o.MidtransRefID = *upd.ProviderRef
		}
	}

	if upd.Status != nil {
		o.Status = *upd.Status
	}
	if upd.PayoutStatus != nil {
		o.PayoutStatus = *upd.PayoutStatus
	}
	if upd.PayoutError != nil {
		o.PayoutError = *upd.PayoutError
	}
	if upd.Provider != nil {
		o.Provider = *upd.Provider
	}
	if upd.IdempotencyKey != nil {
		o.IdempotencyKey = *upd.IdempotencyKey
	}
	o.UpdatedAt = time.Now()
	return nil
}

func (r *OrderRepository) ClaimForSubmission(_ context.Context, id string, provider domain.Provider, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	if o.Status.InFlight() {
		return false, nil
	}
	o.Status = domain.StatusProcessing
	o.Provider = provider
	o.IdempotencyKey = key
	o.UpdatedAt = time.Now()
	return true, nil
}

func (r *OrderRepository) ApplyTerminal(_ context.Context, id string, status domain.OrderStatus, payoutStatus domain.PayoutStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	if o.Status.IsTerminal() {
		return false, nil
	}
	o.Status = status
	o.PayoutStatus = payoutStatus
	o.UpdatedAt = time.Now()
	return true, nil
}
