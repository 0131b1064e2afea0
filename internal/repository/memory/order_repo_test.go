package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payout/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func TestOrderRepository_GetByIDAndRef(t *testing.T) {
	repo := NewOrderRepository()
	require.NoError(t, repo.Save(&domain.Order{ID: "a", FlipRefID: "100"}))
	ctx := context.Background()

	o, err := repo.Get(ctx, domain.OrderFilter{ID: "a"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, o.Status)

	o, err = repo.Get(ctx, domain.OrderFilter{Provider: domain.ProviderFlip, ProviderRef: "100"})
	require.NoError(t, err)
	assert.Equal(t, "a", o.ID)

	_, err = repo.Get(ctx, domain.OrderFilter{Provider: domain.ProviderMidtrans, ProviderRef: "100"})
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	o.Status = domain.StatusFailed
	again, _ := repo.Get(ctx, domain.OrderFilter{ID: "a"})
	assert.Equal(t, domain.StatusPending, again.Status)
}

func TestOrderRepository_Update(t *testing.T) {
	repo := NewOrderRepository()
	require.NoError(t, repo.Save(&domain.Order{ID: "a"}))
	require.NoError(t, repo.Save(&domain.Order{ID: "b"}))
	ctx := context.Background()

	err := repo.Update(ctx, "a", domain.OrderUpdate{
		Status:         ptr(domain.StatusWaitingCallback),
		Provider:       ptr(domain.ProviderMidtrans),
		ProviderRef:    ptr("ref-1"),
		IdempotencyKey: ptr("key-1"),
	})
	require.NoError(t, err)

	o, err := repo.Get(ctx, domain.OrderFilter{Provider: domain.ProviderMidtrans, ProviderRef: "ref-1"})
	require.NoError(t, err)
	assert.Equal(t, "a", o.ID)
	assert.Equal(t, "key-1", o.IdempotencyKey)
	assert.Equal(t, domain.StatusWaitingCallback, o.Status)

	err = repo.Update(ctx, "b", domain.OrderUpdate{Provider: ptr(domain.ProviderMidtrans), ProviderRef: ptr("ref-1")})
	assert.ErrorIs(t, err, domain.ErrDuplicateRef)

	err = repo.Update(ctx, "a", domain.OrderUpdate{ProviderRef: ptr("ref-2")})
	assert.Error(t, err)

	err = repo.Update(ctx, "missing", domain.OrderUpdate{Status: ptr(domain.StatusFailed)})
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderRepository_ClaimForSubmission(t *testing.T) {
	repo := NewOrderRepository()
	require.NoError(t, repo.Save(&domain.Order{ID: "a", Status: domain.StatusFailed, IdempotencyKey: "old"}))
	ctx := context.Background()

	var claims int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.ClaimForSubmission(ctx, "a", domain.ProviderFlip, "new")
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&claims, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&claims))

	o, err := repo.Get(ctx, domain.OrderFilter{ID: "a"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, o.Status)
	assert.Equal(t, domain.ProviderFlip, o.Provider)
	assert.Equal(t, "new", o.IdempotencyKey)

	_, err = repo.ClaimForSubmission(ctx, "missing", domain.ProviderFlip, "k")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderRepository_ApplyTerminalOnce(t *testing.T) {
	repo := NewOrderRepository()
	require.NoError(t, repo.Save(&domain.Order{ID: "a", Status: domain.StatusWaitingCallback}))
	ctx := context.Background()

	var applied int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st, ps := domain.StatusSuccess, domain.PayoutSuccess
			if i%2 == 1 {
				st, ps = domain.StatusFailed, domain.PayoutFailed
			}
			ok, err := repo.ApplyTerminal(ctx, "a", st, ps)
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&applied, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&applied))

	_, err := repo.ApplyTerminal(ctx, "missing", domain.StatusSuccess, domain.PayoutSuccess)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}
