package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"payout/internal/cache"
	"payout/internal/domain"
	"payout/internal/port"
	"payout/internal/provider/flip"
	"payout/internal/provider/midtrans"
	"payout/internal/repository/memory"
)

const callbackToken = "cb-secret"

func flipCallback(id, status, token string) []byte {
	data, _ := json.Marshal(map[string]any{"id": id, "status": status, "amount": 500000})
	form := url.Values{}
	form.Set("data", string(data))
	form.Set("token", token)
	return []byte(form.Encode())
}

func seedWaiting(t *testing.T, repo *memory.OrderRepository, id string, p domain.Provider, ref string) {
	t.Helper()
	o := newOrder()
	o.ID = id
	o.Status = domain.StatusWaitingCallback
	o.PayoutStatus = domain.PayoutPending
	o.Provider = p
	if p == domain.ProviderFlip {
		o.FlipRefID = ref
	} else {
		o.MidtransRefID = ref
	}
	require.NoError(t, repo.Save(o))
}

func newFlipWebhooks(repo port.OrderRepository) port.WebhookService {
	return NewWebhookService(WebhookConfig{
		Provider:      domain.ProviderFlip,
		Parser:        flip.NewWebhookParser(),
		RequireToken:  true,
		CallbackToken: callbackToken,
	}, repo, nil, nil)
}

func newMidtransWebhooks(repo port.OrderRepository) port.WebhookService {
	return NewWebhookService(WebhookConfig{
		Provider:            domain.ProviderMidtrans,
		Parser:              midtrans.NewWebhookParser(),
		StrictNotFound:      true,
		TestReferenceMarker: "test-reference",
	}, repo, nil, nil)
}

func TestTerminalStatus(t *testing.T) {
	assert.Equal(t, domain.StatusSuccess, TerminalStatus("DONE"))
	assert.Equal(t, domain.StatusSuccess, TerminalStatus("success"))
	assert.Equal(t, domain.StatusSuccess, TerminalStatus(" Test "))
	assert.Equal(t, domain.StatusFailed, TerminalStatus("CANCELLED"))
	assert.Equal(t, domain.StatusFailed, TerminalStatus("rejected"))
	assert.Equal(t, domain.StatusFailed, TerminalStatus(""))
}

func TestFlipWebhook_SettlesOnceAndIgnoresDuplicates(t *testing.T) {
	repo := memory.NewOrderRepository()
	seedWaiting(t, repo, "ord-1", domain.ProviderFlip, "9001")
	svc := newFlipWebhooks(repo)

	var settled int32
	onSettle := func(_ context.Context, o *domain.Order, payload map[string]any) error {
		atomic.AddInt32(&settled, 1)
		assert.Equal(t, domain.StatusSuccess, o.Status)
		assert.Equal(t, "9001", payload["id"])
		return nil
	}

	ctx := context.Background()
	res, err := svc.Handle(ctx, flipCallback("9001", "DONE", callbackToken), "", onSettle)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, domain.StatusSuccess, res.Status)

	res, err = svc.Handle(ctx, flipCallback("9001", "DONE", callbackToken), "", onSettle)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, "duplicate", res.Note)

	res, err = svc.Handle(ctx, flipCallback("9001", "CANCELLED", callbackToken), "", onSettle)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, "order already final", res.Note)
	assert.Equal(t, domain.StatusSuccess, res.Status)

	o, err := repo.Get(ctx, domain.OrderFilter{ID: "ord-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, o.Status)
	assert.Equal(t, domain.PayoutSuccess, o.PayoutStatus)
	assert.Equal(t, int32(1), atomic.LoadInt32(&settled))
}

func TestFlipWebhook_NonSuccessFails(t *testing.T) {
	repo := memory.NewOrderRepository()
	seedWaiting(t, repo, "ord-1", domain.ProviderFlip, "9001")
	svc := newFlipWebhooks(repo)

	res, err := svc.Handle(context.Background(), flipCallback("9001", "CANCELLED", callbackToken), "", nil)
	require.NoError(t, err)
	assert.True(t, res.Applied)

	o, _ := repo.Get(context.Background(), domain.OrderFilter{ID: "ord-1"})
	assert.Equal(t, domain.StatusFailed, o.Status)
	assert.Equal(t, domain.PayoutFailed, o.PayoutStatus)
}

func TestFlipWebhook_TokenMismatch(t *testing.T) {
	repo := memory.NewOrderRepository()
	seedWaiting(t, repo, "ord-1", domain.ProviderFlip, "9001")
	svc := newFlipWebhooks(repo)

	_, err := svc.Handle(context.Background(), flipCallback("9001", "DONE", "wrong"), "", nil)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	o, _ := repo.Get(context.Background(), domain.OrderFilter{ID: "ord-1"})
	assert.Equal(t, domain.StatusWaitingCallback, o.Status)
}

func TestFlipWebhook_EmptySecretRejectsEverything(t *testing.T) {
	repo := memory.NewOrderRepository()
	seedWaiting(t, repo, "ord-1", domain.ProviderFlip, "9001")
	svc := NewWebhookService(WebhookConfig{
		Provider:     domain.ProviderFlip,
		Parser:       flip.NewWebhookParser(),
		RequireToken: true,
	}, repo, nil, nil)

	_, err := svc.Handle(context.Background(), flipCallback("9001", "DONE", "anything"), "", nil)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestFlipWebhook_InvalidPayload(t *testing.T) {
	svc := newFlipWebhooks(memory.NewOrderRepository())

	for name, body := range map[string]string{
		"no data":       "token=" + callbackToken,
		"no token":      "data=%7B%22id%22%3A1%2C%22status%22%3A%22DONE%22%7D",
		"data not json": "data=nope&token=" + callbackToken,
		"missing id":    "data=%7B%22status%22%3A%22DONE%22%7D&token=" + callbackToken,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Handle(context.Background(), []byte(body), "", nil)
			assert.ErrorIs(t, err, domain.ErrInvalidPayload)
		})
	}
}

func TestFlipWebhook_UnmatchedIsAcknowledged(t *testing.T) {
	svc := newFlipWebhooks(memory.NewOrderRepository())

	res, err := svc.Handle(context.Background(), flipCallback("404404", "DONE", callbackToken), "", nil)
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Equal(t, "transaction not found", res.Note)
}

func TestMidtransWebhook_Unmatched(t *testing.T) {
	svc := newMidtransWebhooks(memory.NewOrderRepository())
	ctx := context.Background()

	_, err := svc.Handle(ctx, []byte(`{"reference_no":"ref-unknown","status":"completed"}`), "", nil)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	res, err := svc.Handle(ctx, []byte(`{"reference_no":"test-reference-123","status":"completed"}`), "", nil)
	require.NoError(t, err)
	assert.True(t, res.SandboxTest)
	assert.False(t, res.Applied)
}

func TestMidtransWebhook_ReferenceFieldFallbacks(t *testing.T) {
	repo := memory.NewOrderRepository()
	seedWaiting(t, repo, "ord-1", domain.ProviderMidtrans, "ref-1")
	seedWaiting(t, repo, "ord-2", domain.ProviderMidtrans, "ref-2")
	svc := newMidtransWebhooks(repo)
	ctx := context.Background()

	res, err := svc.Handle(ctx, []byte(`{"disbursement_id":"ref-1","status":"failed"}`), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "ord-1", res.OrderID)
	assert.Equal(t, domain.StatusFailed, res.Status)

	res, err = svc.Handle(ctx, []byte(`{"reference_no":"ref-2","status":"success"}`), "", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, res.Status)
}

func TestWebhook_SettlementFailureIsAcknowledged(t *testing.T) {
	cases := map[string]domain.SettlementFunc{
		"error": func(context.Context, *domain.Order, map[string]any) error { return errors.New("ledger down") },
		"panic": func(context.Context, *domain.Order, map[string]any) error { panic("ledger exploded") },
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			repo := memory.NewOrderRepository()
			seedWaiting(t, repo, "ord-1", domain.ProviderMidtrans, "ref-1")
			svc := newMidtransWebhooks(repo)

			res, err := svc.Handle(context.Background(), []byte(`{"reference_no":"ref-1","status":"success"}`), "", fn)
			require.NoError(t, err)
			assert.True(t, res.Applied)

			o, _ := repo.Get(context.Background(), domain.OrderFilter{ID: "ord-1"})
			assert.Equal(t, domain.StatusSuccess, o.Status)
		})
	}
}

func TestWebhook_StoreFaultSurfaces(t *testing.T) {
	repo := new(MockOrderRepository)
	repo.On("Get", mock.Anything, domain.OrderFilter{Provider: domain.ProviderMidtrans, ProviderRef: "ref-1"}).
		Return(nil, errors.New("connection refused"))
	svc := newMidtransWebhooks(repo)

	_, err := svc.Handle(context.Background(), []byte(`{"reference_no":"ref-1","status":"success"}`), "", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrOrderNotFound)
}

// Full round trip: flip accepts the disbursement, then its callback settles the order.
func TestFlipDisbursementThenCallback(t *testing.T) {
	var submitted url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v2/general/banks":
			_, _ = w.Write([]byte(`[{"bank_code":"bca","name":"BCA","status":"OPERATIONAL"}]`))
		case "/v2/disbursement/bank-account-inquiry":
			_ = r.ParseForm()
			_, _ = w.Write([]byte(`{"bank_code":"bca","account_number":"1234567890","account_holder":"BUDI","status":"SUCCESS","inquiry_key":"` + r.PostForm.Get("inquiry_key") + `"}`))
		case "/v3/disbursement":
			_ = r.ParseForm()
			submitted = r.PostForm
			_, _ = w.Write([]byte(`{"id":9001,"status":"PENDING"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	repo := memory.NewOrderRepository()
	require.NoError(t, repo.Save(newOrder()))

	fp := flip.New(flip.Config{
		SecretKey:   "secret",
		Environment: domain.EnvProduction,
		BaseURL:     srv.URL,
		Timeout:     2 * time.Second,
	}, cache.NewMemoryBankCache(), nil, nil)

	ctx := context.Background()
	disb := NewDisbursementService(repo, []port.PayoutProvider{fp}, nil, nil)
	require.True(t, disb.Disburse(ctx, "ord-1", domain.ProviderFlip))

	o, err := repo.Get(ctx, domain.OrderFilter{ID: "ord-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaitingCallback, o.Status)
	assert.Equal(t, domain.PayoutPending, o.PayoutStatus)
	assert.Equal(t, "9001", o.FlipRefID)
	assert.NotEmpty(t, o.IdempotencyKey)
	assert.Equal(t, "bca", submitted.Get("bank_code"))
	assert.Equal(t, "500000", submitted.Get("amount"))

	assert.False(t, disb.Disburse(ctx, "ord-1", domain.ProviderFlip))

	res, err := newFlipWebhooks(repo).Handle(ctx, flipCallback("9001", "DONE", callbackToken), "", nil)
	require.NoError(t, err)
	assert.True(t, res.Applied)

	o, _ = repo.Get(ctx, domain.OrderFilter{ID: "ord-1"})
	assert.Equal(t, domain.StatusSuccess, o.Status)
	assert.Equal(t, domain.PayoutSuccess, o.PayoutStatus)
}
