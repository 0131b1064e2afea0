package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"payout/internal/domain"
	"payout/internal/metrics"
	"payout/internal/port"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	disbursements port.DisbursementService
	webhooks      map[domain.Provider]port.WebhookService
	settlement    map[domain.Provider]domain.SettlementFunc
	orders        port.OrderRepository
	validate      *validator.Validate
	authToken     string
	logger        *zap.Logger
	metrics       *metrics.Metrics
}

type Option func(*Handler)

// WithSettlement registers the hook run after a provider callback settles an order.
func WithSettlement(p domain.Provider, fn domain.SettlementFunc) Option {
	return func(h *Handler) { h.settlement[p] = fn }
}

func NewHandler(
	disbursements port.DisbursementService,
	webhooks []port.WebhookService,
	orders port.OrderRepository,
	authToken string,
	logger *zap.Logger,
	m *metrics.Metrics,
	opts ...Option,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		disbursements: disbursements,
		webhooks:      make(map[domain.Provider]port.WebhookService, len(webhooks)),
		settlement:    make(map[domain.Provider]domain.SettlementFunc),
		orders:        orders,
		validate:      validator.New(),
		authToken:     authToken,
		logger:        logger,
		metrics:       m,
	}
	for _, w := range webhooks {
		h.webhooks[w.Provider()] = w
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes builds the router. gatherer may be nil to skip /metrics.
func (h *Handler) Routes(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(TraceID)
	r.Use(Metrics(h.metrics))

	r.Post("/disbursement/flip", h.webhook(domain.ProviderFlip))
	r.Post("/disbursement/midtrans", h.webhook(domain.ProviderMidtrans))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(h.authToken))
		r.Post("/payouts/{id}/disburse", h.Disburse)
	})

	r.Get("/healthz", h.Healthz)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
