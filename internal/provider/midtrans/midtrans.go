package midtrans

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"payout/internal/domain"
	"payout/internal/metrics"
	"payout/internal/provider"
)

const (
	productionURL = "https://app.midtrans.com/iris/api/v1/payouts"
	sandboxURL    = "https://app.sandbox.midtrans.com/iris/api/v1/payouts"

	// OVO payouts go out as a CIMB virtual account transfer.
	ovoBankCode      = "cimb_va"
	ovoAccountPrefix = "8099"
)

var bankCodes = map[string]string{
	"BCA":      "bca",
	"BNI":      "bni",
	"BRI":      "bri",
	"MANDIRI":  "mandiri",
	"BTN":      "btn",
	"CIMB":     "cimb",
	"PERMATA":  "permata",
	"MAYBANK":  "maybank",
	"OCBC":     "ocbc",
	"UOB":      "uob",
	"BSI":      "bsi",
	"DANAMON":  "danamon",
	"SEABANK":  "seabank",
	"JAGO":     "jago",
	"MUAMALAT": "muamalat",
	"DANA":     "dana",
	"OVO":      "ovo",
	"GOPAY":    "gopay",
}

type Config struct {
	DisbursementKey string
	Environment     domain.Environment
	BaseURL         string
	Timeout         time.Duration
	RateLimit       float64
	HTTPClient      *http.Client
}

// Provider submits payouts through Midtrans Iris.
type Provider struct {
	cfg    Config
	url    string
	auth   string
	caller *provider.Caller
	logger *zap.Logger
}

func New(cfg Config, m *metrics.Metrics, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	u := cfg.BaseURL
	if u == "" {
		u = sandboxURL
		if cfg.Environment.IsProduction() {
			u = productionURL
		}
	}
	return &Provider{
		cfg:  cfg,
		url:  u,
		auth: "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.DisbursementKey+":")),
		caller: provider.NewCaller(provider.CallerConfig{
			Provider:   domain.ProviderMidtrans,
			HTTPClient: cfg.HTTPClient,
			Timeout:    cfg.Timeout,
			RateLimit:  cfg.RateLimit,
			Metrics:    m,
			Logger:     logger,
		}),
		logger: logger.With(zap.String("provider", string(domain.ProviderMidtrans))),
	}
}

func (p *Provider) Name() domain.Provider { return domain.ProviderMidtrans }

// BankCode looks up the static Iris code for a bank or e-wallet name.
func BankCode(bankName string) (string, bool) {
	code, ok := bankCodes[strings.ToUpper(strings.TrimSpace(bankName))]
	return code, ok
}

func (p *Provider) ResolveDestination(_ context.Context, order *domain.Order) (*domain.Destination, error) {
	code, ok := BankCode(order.PayoutBank)
	if !ok {
		return nil, fmt.Errorf("%w: bank %s is not supported by midtrans", domain.ErrBankNotSupported, order.PayoutBank)
	}

	dest := &domain.Destination{
		BankCode:      code,
		AccountNumber: order.PayoutAccount,
		AccountName:   order.PayoutName,
	}
	if code == "ovo" {
		dest.BankCode = ovoBankCode
		dest.AccountNumber = ovoAccountPrefix + order.PayoutAccount
	}
	return dest, nil
}

func (p *Provider) Memo(order *domain.Order) string {
	return fmt.Sprintf("WD Crypto %s Order %s", provider.SanitizeMemo(order.Token), provider.SanitizeMemo(order.OrderID))
}

type payoutItem struct {
	BeneficiaryName    string `json:"beneficiary_name"`
	BeneficiaryAccount string `json:"beneficiary_account"`
	BeneficiaryBank    string `json:"beneficiary_bank"`
	Amount             int64  `json:"amount"`
	Notes              string `json:"notes"`
}

type payoutRequest struct {
	Payouts []payoutItem `json:"payouts"`
}

type payoutResponse struct {
	Payouts []struct {
		Status      string `json:"status"`
		ReferenceNo string `json:"reference_no"`
	} `json:"payouts"`
}

func (p *Provider) SubmitDisbursement(ctx context.Context, req *domain.DisbursementRequest) (*domain.SubmitResult, error) {
	body, err := json.Marshal(payoutRequest{Payouts: []payoutItem{{
		BeneficiaryName:    req.Destination.AccountName,
		BeneficiaryAccount: req.Destination.AccountNumber,
		BeneficiaryBank:    req.Destination.BankCode,
		Amount:             req.AmountIDR,
		Notes:              req.Memo,
	}}})
	if err != nil {
		return nil, fmt.Errorf("encode midtrans payout: %w", err)
	}

	resp, err := p.caller.Do(ctx, "payouts", func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Accept", "application/json")
		r.Header.Set("Authorization", p.auth)
		r.Header.Set("X-Idempotency-Key", req.IdempotencyKey)
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, p.caller.Rejection(resp)
	}

	var out payoutResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("%w: decode midtrans payout response: %v", domain.ErrProviderRejection, err)
	}
	if len(out.Payouts) == 0 || out.Payouts[0].ReferenceNo == "" {
		return nil, fmt.Errorf("%w: midtrans response without reference_no: %s", domain.ErrProviderRejection, resp.Body)
	}

	raw := out.Payouts[0].Status
	if raw == "" {
		raw = "queued"
	}
	return &domain.SubmitResult{
		Reference:    out.Payouts[0].ReferenceNo,
		RawStatus:    raw,
		PayoutStatus: p.NormalizeStatus(raw),
		Raw:          string(resp.Body),
	}, nil
}

func (p *Provider) NormalizeStatus(raw string) domain.PayoutStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued":
		return domain.PayoutQueued
	case "pending", "approved", "processed":
		return domain.PayoutPending
	case "completed", "success":
		return domain.PayoutSuccess
	}
	return domain.PayoutFailed
}
