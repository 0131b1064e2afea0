package flip

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"payout/internal/domain"
)

func newKey() string {
	return uuid.NewString()
}

type inquiryResponse struct {
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	AccountHolder string `json:"account_holder"`
	Status        string `json:"status"`
	InquiryKey    string `json:"inquiry_key"`
}

// InquireAccount verifies the destination account. Every call carries a new inquiry key.
func (p *Provider) InquireAccount(ctx context.Context, dest *domain.Destination) (*domain.InquiryResult, error) {
	key := p.newKey()

	form := url.Values{}
	form.Set("bank_code", dest.BankCode)
	form.Set("account_number", dest.AccountNumber)
	form.Set("inquiry_key", key)

	resp, err := p.caller.Do(ctx, "v2/disbursement/bank-account-inquiry", func(ctx context.Context) (*http.Request, error) {
		return p.newFormRequest(ctx, "v2/disbursement/bank-account-inquiry", form)
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, p.caller.Rejection(resp)
	}

	var out inquiryResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("%w: decode flip inquiry response: %v", domain.ErrProviderRejection, err)
	}

	res := &domain.InquiryResult{
		Status:        domain.InquiryStatus(strings.ToUpper(strings.TrimSpace(out.Status))),
		AccountHolder: out.AccountHolder,
		InquiryKey:    key,
	}
	if res.Status != domain.InquirySuccess && res.Status != domain.InquirySuspected {
		res.Error = fmt.Sprintf("inquiry failed: %s", res.Status)
	}

	p.logger.Info("flip account inquiry",
		zap.String("inquiry_key", key),
		zap.String("bank_code", dest.BankCode),
		zap.String("inquiry_status", string(res.Status)),
	)
	return res, nil
}
