package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"payout/internal/domain"
	"payout/internal/metrics"
	"payout/internal/port"
)

// WebhookConfig describes how one provider's callbacks are authenticated and matched.
type WebhookConfig struct {
	Provider domain.Provider
	Parser   port.WebhookParser
	// RequireToken rejects callbacks whose token differs from CallbackToken.
	// An empty CallbackToken then rejects everything.
	RequireToken  bool
	CallbackToken string
	// StrictNotFound answers unmatched references with domain.ErrOrderNotFound
	// instead of a plain acknowledgment.
	StrictNotFound bool
	// TestReferenceMarker identifies provider self-test references, which are
	// acknowledged without touching any order.
	TestReferenceMarker string
}

type webhookService struct {
	cfg     WebhookConfig
	orders  port.OrderRepository
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewWebhookService(cfg WebhookConfig, orders port.OrderRepository, logger *zap.Logger, m *metrics.Metrics) port.WebhookService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &webhookService{
		cfg:     cfg,
		orders:  orders,
		logger:  logger.With(zap.String("provider", string(cfg.Provider))),
		metrics: m,
	}
}

func (s *webhookService) Provider() domain.Provider { return s.cfg.Provider }

// TerminalStatus maps a callback status into the final order status.
func TerminalStatus(raw string) domain.OrderStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "done", "success", "test":
		return domain.StatusSuccess
	}
	return domain.StatusFailed
}

// Handle reconciles one callback. Errors are domain.ErrInvalidPayload,
// domain.ErrUnauthorized, domain.ErrOrderNotFound (strict providers only)
// or a store fault; the settlement callback never produces one.
func (s *webhookService) Handle(ctx context.Context, raw []byte, authToken string, onSettlement domain.SettlementFunc) (*domain.WebhookResult, error) {
	event, err := s.cfg.Parser.ParseWebhook(raw)
	if err != nil {
		s.logger.Error("invalid callback payload", zap.Error(err))
		s.metrics.Webhook(string(s.cfg.Provider), "invalid_payload")
		return nil, err
	}
	log := s.logger.With(zap.String("reference", event.Reference), zap.String("raw_status", event.RawStatus))

	if s.cfg.RequireToken {
		token := authToken
		if token == "" {
			token = event.AuthToken
		}
		if !s.tokenMatches(token) {
			log.Warn("security: callback token mismatch, request rejected")
			s.metrics.Webhook(string(s.cfg.Provider), "unauthorized")
			return nil, domain.ErrUnauthorized
		}
	}

	log.Info("callback received")

	order, err := s.orders.Get(ctx, domain.OrderFilter{Provider: s.cfg.Provider, ProviderRef: event.Reference})
	if errors.Is(err, domain.ErrOrderNotFound) {
		return s.unmatched(event, log)
	}
	if err != nil {
		s.metrics.Webhook(string(s.cfg.Provider), "store_failed")
		return nil, fmt.Errorf("lookup order by %s reference: %w", s.cfg.Provider, err)
	}
	log = log.With(zap.String("order_id", order.ID))

	status := TerminalStatus(event.RawStatus)
	payoutStatus := domain.PayoutFailed
	if status == domain.StatusSuccess {
		payoutStatus = domain.PayoutSuccess
	}

	applied, err := s.orders.ApplyTerminal(ctx, order.ID, status, payoutStatus)
	if err != nil {
		s.metrics.Webhook(string(s.cfg.Provider), "store_failed")
		return nil, fmt.Errorf("apply %s to order %s: %w", status, order.ID, err)
	}

	result := &domain.WebhookResult{OrderID: order.ID, Matched: true, Applied: applied, Status: status}
	if !applied {
		if order.Status != status {
			log.Warn("callback would change a terminal order, ignored",
				zap.String("current_status", string(order.Status)), zap.String("callback_status", string(status)))
			result.Note = "order already final"
		} else {
			log.Info("duplicate callback, order already final")
			result.Note = "duplicate"
		}
		result.Status = order.Status
		s.metrics.Webhook(string(s.cfg.Provider), "ignored")
		return result, nil
	}

	order.Status = status
	order.PayoutStatus = payoutStatus
	log.Info("order settled", zap.String("status", string(status)))
	s.metrics.Webhook(string(s.cfg.Provider), string(status))

	s.settle(ctx, order, event.Payload, onSettlement, log)
	return result, nil
}

func (s *webhookService) tokenMatches(token string) bool {
	if s.cfg.CallbackToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.CallbackToken)) == 1
}

func (s *webhookService) unmatched(event *domain.WebhookEvent, log *zap.Logger) (*domain.WebhookResult, error) {
	if s.cfg.TestReferenceMarker != "" && strings.Contains(event.Reference, s.cfg.TestReferenceMarker) {
		log.Info("sandbox test callback, no order to update")
		s.metrics.Webhook(string(s.cfg.Provider), "sandbox_test")
		return &domain.WebhookResult{SandboxTest: true, Note: "sandbox test"}, nil
	}

	log.Warn("no order matches callback reference")
	s.metrics.Webhook(string(s.cfg.Provider), "unmatched")
	if s.cfg.StrictNotFound {
		return nil, domain.ErrOrderNotFound
	}
	return &domain.WebhookResult{Note: "transaction not found"}, nil
}

// settle runs the caller's settlement hook. Its failures are only logged.
func (s *webhookService) settle(ctx context.Context, order *domain.Order, payload map[string]any, fn domain.SettlementFunc, log *zap.Logger) {
	if fn == nil {
		fn = defaultSettlement(log)
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("settlement callback panicked", zap.Any("panic", r))
		}
	}()
	if err := fn(ctx, order, payload); err != nil {
		log.Error("settlement callback failed", zap.Error(err))
	}
}

func defaultSettlement(log *zap.Logger) domain.SettlementFunc {
	return func(_ context.Context, order *domain.Order, _ map[string]any) error {
		log.Info("default settlement callback", zap.String("status", string(order.Status)))
		return nil
	}
}
