package flip

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"payout/internal/domain"
	"payout/internal/metrics"
	"payout/internal/port"
	"payout/internal/provider"
)

const (
	productionURL = "https://bigflip.id/api"
	sandboxURL    = "https://bigflip.id/big_sandbox_api"

	remarkMaxLen    = 18
	timestampLayout = "2006-01-02T15:04:05Z"
)

type Config struct {
	SecretKey    string
	Environment  domain.Environment
	BaseURL      string
	Timeout      time.Duration
	BankCacheTTL time.Duration
	RateLimit    float64
	// BankRetryInterval is the first backoff step of bank list retries.
	BankRetryInterval time.Duration
	BankMaxRetries    uint64
	HTTPClient        *http.Client
}

type Provider struct {
	cfg     Config
	baseURL string
	auth    string
	caller  *provider.Caller
	banks   *BankDirectory
	logger  *zap.Logger
	now     func() time.Time
	newKey  func() string
}

func New(cfg Config, cache port.BankCache, m *metrics.Metrics, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = sandboxURL
		if cfg.Environment.IsProduction() {
			baseURL = productionURL
		}
	}

	caller := provider.NewCaller(provider.CallerConfig{
		Provider:   domain.ProviderFlip,
		HTTPClient: cfg.HTTPClient,
		Timeout:    cfg.Timeout,
		RateLimit:  cfg.RateLimit,
		Metrics:    m,
		Logger:     logger,
	})

	p := &Provider{
		cfg:     cfg,
		baseURL: baseURL,
		auth:    "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.SecretKey+":")),
		caller:  caller,
		logger:  logger.With(zap.String("provider", string(domain.ProviderFlip))),
		now:     time.Now,
		newKey:  newKey,
	}
	p.banks = newBankDirectory(p, cache)
	return p
}

func (p *Provider) Name() domain.Provider { return domain.ProviderFlip }

func (p *Provider) Environment() domain.Environment { return p.cfg.Environment }

// Banks exposes the bank directory used to resolve destinations.
func (p *Provider) Banks() *BankDirectory { return p.banks }

func (p *Provider) ResolveDestination(ctx context.Context, order *domain.Order) (*domain.Destination, error) {
	code, found, err := p.banks.ResolveBankCode(ctx, order.PayoutBank)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: bank %s not found in flip directory", domain.ErrBankNotSupported, order.PayoutBank)
	}
	return &domain.Destination{
		BankCode:      code,
		AccountNumber: order.PayoutAccount,
		AccountName:   order.PayoutName,
	}, nil
}

// Memo builds the disbursement remark, which flip caps at 18 characters.
func (p *Provider) Memo(order *domain.Order) string {
	remark := fmt.Sprintf("WD %s %s", provider.SanitizeMemo(order.Token), provider.SanitizeMemo(order.OrderID))
	return provider.TruncateMemo(remark, remarkMaxLen)
}

type disbursementResponse struct {
	ID     flexID `json:"id"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (p *Provider) SubmitDisbursement(ctx context.Context, req *domain.DisbursementRequest) (*domain.SubmitResult, error) {
	form := url.Values{}
	form.Set("bank_code", req.Destination.BankCode)
	form.Set("account_number", req.Destination.AccountNumber)
	form.Set("amount", strconv.FormatInt(req.AmountIDR, 10))
	form.Set("remark", req.Memo)

	resp, err := p.caller.Do(ctx, "v3/disbursement", func(ctx context.Context) (*http.Request, error) {
		r, err := p.newFormRequest(ctx, "v3/disbursement", form)
		if err != nil {
			return nil, err
		}
		r.Header.Set("idempotency-key", req.IdempotencyKey)
		r.Header.Set("X-TIMESTAMP", p.now().UTC().Format(timestampLayout))
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, p.caller.Rejection(resp)
	}

	var out disbursementResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("%w: decode flip disbursement response: %v", domain.ErrProviderRejection, err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: flip response without disbursement id: %s", domain.ErrProviderRejection, resp.Body)
	}

	raw := out.Status
	if raw == "" {
		raw = "PENDING"
	}
	return &domain.SubmitResult{
		Reference:    string(out.ID),
		RawStatus:    raw,
		PayoutStatus: p.NormalizeStatus(raw),
		Raw:          string(resp.Body),
	}, nil
}

func (p *Provider) NormalizeStatus(raw string) domain.PayoutStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PENDING":
		return domain.PayoutPending
	case "QUEUED":
		return domain.PayoutQueued
	case "DONE", "SUCCESS":
		return domain.PayoutSuccess
	}
	return domain.PayoutFailed
}

func (p *Provider) endpoint(path string) string {
	return p.baseURL + "/" + path
}

func (p *Provider) newFormRequest(ctx context.Context, path string, form url.Values) (*http.Request, error) {
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(path), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("Accept", "application/json")
	r.Header.Set("Authorization", p.auth)
	return r, nil
}

// flexID accepts flip ids encoded either as JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = flexID(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}
