package flip

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"payout/internal/domain"
	"payout/internal/port"
)

const (
	defaultBankCacheTTL      = 10 * time.Minute
	defaultBankRetryInterval = 300 * time.Millisecond
	defaultBankMaxRetries    = 2
)

// BankDirectory resolves bank display names to flip bank codes.
type BankDirectory struct {
	p             *Provider
	cache         port.BankCache
	ttl           time.Duration
	retryInterval time.Duration
	maxRetries    uint64
}

func newBankDirectory(p *Provider, cache port.BankCache) *BankDirectory {
	d := &BankDirectory{
		p:             p,
		cache:         cache,
		ttl:           p.cfg.BankCacheTTL,
		retryInterval: p.cfg.BankRetryInterval,
		maxRetries:    p.cfg.BankMaxRetries,
	}
	if d.ttl <= 0 {
		d.ttl = defaultBankCacheTTL
	}
	if d.retryInterval <= 0 {
		d.retryInterval = defaultBankRetryInterval
	}
	if d.maxRetries == 0 {
		d.maxRetries = defaultBankMaxRetries
	}
	return d
}

// ResolveBankCode returns found=false with a nil error when no bank matches.
// A name missing from a cached list is re-checked against a fresh list.
func (d *BankDirectory) ResolveBankCode(ctx context.Context, bankName string) (string, bool, error) {
	if banks, ok := d.cached(ctx); ok {
		if code, found := lookupBank(banks, bankName); found {
			return code, true, nil
		}
	}

	banks, err := d.Refresh(ctx)
	if err != nil {
		return "", false, err
	}
	code, found := lookupBank(banks, bankName)
	return code, found, nil
}

// Refresh fetches the remote list and stores it in the cache.
func (d *BankDirectory) Refresh(ctx context.Context) ([]domain.Bank, error) {
	banks, err := d.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if d.cache != nil {
		if err := d.cache.Set(ctx, banks, d.ttl); err != nil {
			d.p.logger.Warn("failed to cache flip bank list", zap.Error(err))
		}
	}
	return banks, nil
}

func (d *BankDirectory) cached(ctx context.Context) ([]domain.Bank, bool) {
	if d.cache == nil {
		return nil, false
	}
	banks, ok, err := d.cache.Get(ctx)
	if err != nil {
		d.p.logger.Warn("flip bank cache read failed, fetching remote list", zap.Error(err))
		return nil, false
	}
	return banks, ok
}

func (d *BankDirectory) fetch(ctx context.Context) ([]domain.Bank, error) {
	var banks []domain.Bank

	op := func() error {
		resp, err := d.p.caller.Do(ctx, "v2/general/banks", func(ctx context.Context) (*http.Request, error) {
			r, err := http.NewRequestWithContext(ctx, http.MethodGet, d.p.endpoint("v2/general/banks"), nil)
			if err != nil {
				return nil, err
			}
			r.Header.Set("Accept", "application/json")
			r.Header.Set("Authorization", d.p.auth)
			return r, nil
		})
		if err != nil {
			return err
		}
		if !resp.OK() {
			rejection := d.p.caller.Rejection(resp)
			if resp.StatusCode < http.StatusInternalServerError && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(rejection)
			}
			return rejection
		}
		if err := json.Unmarshal(resp.Body, &banks); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: decode flip bank list: %v", domain.ErrProviderRejection, err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, d.maxRetries), ctx)

	notify := func(err error, wait time.Duration) {
		d.p.logger.Warn("flip bank list fetch failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}

	d.p.logger.Info("flip bank list fetched", zap.Int("banks", len(banks)))
	return banks, nil
}

func lookupBank(banks []domain.Bank, name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	for _, b := range banks {
		if strings.EqualFold(strings.TrimSpace(b.Name), name) {
			return b.Code, true
		}
	}
	return "", false
}
