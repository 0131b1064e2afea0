package midtrans

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payout/internal/domain"
)

func testOrder(bank string) *domain.Order {
	return &domain.Order{
		ID:            "ord-1",
		OrderID:       "ORD-77",
		Token:         "USDT",
		PayoutBank:    bank,
		PayoutAccount: "081234567890",
		PayoutName:    "Siti",
		AmountIDR:     250000,
	}
}

func newTestProvider(t *testing.T, h http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{DisbursementKey: "iris-key", BaseURL: srv.URL, Timeout: time.Second}, nil, nil)
}

func TestResolveDestination(t *testing.T) {
	p := New(Config{}, nil, nil)
	ctx := context.Background()

	dest, err := p.ResolveDestination(ctx, testOrder("bca"))
	require.NoError(t, err)
	assert.Equal(t, "bca", dest.BankCode)
	assert.Equal(t, "081234567890", dest.AccountNumber)

	dest, err = p.ResolveDestination(ctx, testOrder(" Gopay "))
	require.NoError(t, err)
	assert.Equal(t, "gopay", dest.BankCode)

	_, err = p.ResolveDestination(ctx, testOrder("BANK XYZ"))
	assert.ErrorIs(t, err, domain.ErrBankNotSupported)
}

func TestResolveDestination_OVO(t *testing.T) {
	p := New(Config{}, nil, nil)
	order := testOrder("OVO")

	dest, err := p.ResolveDestination(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, "cimb_va", dest.BankCode)
	assert.Equal(t, "8099081234567890", dest.AccountNumber)

	// the order itself keeps the customer's input
	assert.Equal(t, "OVO", order.PayoutBank)
	assert.Equal(t, "081234567890", order.PayoutAccount)
}

func TestSubmitDisbursement(t *testing.T) {
	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("iris-key:"))

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, wantAuth, r.Header.Get("Authorization"))
		assert.Equal(t, "idem-9", r.Header.Get("X-Idempotency-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body struct {
			Payouts []map[string]any `json:"payouts"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Payouts, 1)
		item := body.Payouts[0]
		assert.Equal(t, "Siti", item["beneficiary_name"])
		assert.Equal(t, "cimb_va", item["beneficiary_bank"])
		assert.Equal(t, "8099081234567890", item["beneficiary_account"])
		assert.Equal(t, float64(250000), item["amount"])
		assert.Equal(t, "WD Crypto USDT Order ORD77", item["notes"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"payouts":[{"status":"queued","reference_no":"ref-abc"}]}`))
	})

	order := testOrder("OVO")
	dest, err := p.ResolveDestination(context.Background(), order)
	require.NoError(t, err)

	res, err := p.SubmitDisbursement(context.Background(), &domain.DisbursementRequest{
		Order:          order,
		Destination:    *dest,
		AmountIDR:      order.AmountIDR,
		Memo:           p.Memo(order),
		IdempotencyKey: "idem-9",
	})
	require.NoError(t, err)
	assert.Equal(t, "ref-abc", res.Reference)
	assert.Equal(t, domain.PayoutQueued, res.PayoutStatus)
}

func TestSubmitDisbursement_DefaultsToQueued(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"payouts":[{"reference_no":"ref-1"}]}`))
	})

	res, err := p.SubmitDisbursement(context.Background(), &domain.DisbursementRequest{Order: testOrder("bca")})
	require.NoError(t, err)
	assert.Equal(t, "queued", res.RawStatus)
	assert.Equal(t, domain.PayoutQueued, res.PayoutStatus)
}

func TestSubmitDisbursement_Rejections(t *testing.T) {
	cases := map[string]struct {
		code int
		body string
	}{
		"accepted is not enough": {http.StatusAccepted, `{"payouts":[{"reference_no":"ref-1"}]}`},
		"validation error":       {http.StatusBadRequest, `{"error_message":"invalid beneficiary"}`},
		"no reference":           {http.StatusCreated, `{"payouts":[{"status":"queued"}]}`},
		"empty payouts":          {http.StatusOK, `{"payouts":[]}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.code)
				_, _ = w.Write([]byte(tc.body))
			})

			_, err := p.SubmitDisbursement(context.Background(), &domain.DisbursementRequest{Order: testOrder("bca")})
			assert.ErrorIs(t, err, domain.ErrProviderRejection)
		})
	}
}

func TestNormalizeStatus(t *testing.T) {
	p := New(Config{}, nil, nil)

	for raw, want := range map[string]domain.PayoutStatus{
		"queued":    domain.PayoutQueued,
		"pending":   domain.PayoutPending,
		"approved":  domain.PayoutPending,
		"processed": domain.PayoutPending,
		"completed": domain.PayoutSuccess,
		"SUCCESS":   domain.PayoutSuccess,
		"rejected":  domain.PayoutFailed,
		"failed":    domain.PayoutFailed,
	} {
		assert.Equal(t, want, p.NormalizeStatus(raw), raw)
	}
}

func TestParseWebhook(t *testing.T) {
	parser := NewWebhookParser()

	ev, err := parser.ParseWebhook([]byte(`{"reference_no":"ref-1","status":"completed","amount":"250000"}`))
	require.NoError(t, err)
	assert.Equal(t, "ref-1", ev.Reference)
	assert.Equal(t, "completed", ev.RawStatus)
	assert.Equal(t, "250000", ev.Payload["amount"])

	ev, err = parser.ParseWebhook([]byte(`{"id":12345,"status":"failed"}`))
	require.NoError(t, err)
	assert.Equal(t, "12345", ev.Reference)

	ev, err = parser.ParseWebhook([]byte(`{"id":9007199254740993,"status":"failed","amount":250000}`))
	require.NoError(t, err)
	assert.Equal(t, "9007199254740993", ev.Reference)
	assert.Equal(t, json.Number("250000"), ev.Payload["amount"])

	_, err = parser.ParseWebhook([]byte(`{"status":"completed"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	_, err = parser.ParseWebhook([]byte(`not json`))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	_, err = parser.ParseWebhook([]byte(`{"id":"ref-1","status":"failed"} {"id":"ref-2"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}
