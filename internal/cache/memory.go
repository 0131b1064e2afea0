package cache

import (
	"context"
	"sync"
	"time"

	"payout/internal/domain"
)

// MemoryBankCache keeps the bank list in process memory.
type MemoryBankCache struct {
	mu        sync.RWMutex
	banks     []domain.Bank
	expiresAt time.Time
	now       func() time.Time
}

func NewMemoryBankCache() *MemoryBankCache {
	return &MemoryBankCache{now: time.Now}
}

func (c *MemoryBankCache) Get(_ context.Context) ([]domain.Bank, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.banks == nil || !c.now().Before(c.expiresAt) {
		return nil, false, nil
	}
	out := make([]domain.Bank, len(c.banks))
	copy(out, c.banks)
	return out, true, nil
}

func (c *MemoryBankCache) Set(_ context.Context, banks []domain.Bank, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.banks = make([]domain.Bank, len(banks))
	copy(c.banks, banks)
	c.expiresAt = c.now().Add(ttl)
	return nil
}
