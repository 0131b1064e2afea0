package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"payout/internal/domain"
	"payout/internal/metrics"
	"payout/internal/port"
)

const recordTimeout = 5 * time.Second

type disbursementService struct {
	orders    port.OrderRepository
	providers map[domain.Provider]port.PayoutProvider
	logger    *zap.Logger
	metrics   *metrics.Metrics
	newKey    func() string
}

func NewDisbursementService(
	orders port.OrderRepository,
	providers []port.PayoutProvider,
	logger *zap.Logger,
	m *metrics.Metrics,
) port.DisbursementService {
	if logger == nil {
		logger = zap.NewNop()
	}
	byName := make(map[domain.Provider]port.PayoutProvider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &disbursementService{
		orders:    orders,
		providers: byName,
		logger:    logger,
		metrics:   m,
		newKey:    uuid.NewString,
	}
}

// attemptError carries the outcome label and the payout status to record
// for a failed attempt.
type attemptError struct {
	outcome      string
	payoutStatus domain.PayoutStatus
	reference    string
	err          error
}

func (e *attemptError) Error() string { return e.err.Error() }
func (e *attemptError) Unwrap() error { return e.err }

func (s *disbursementService) Disburse(ctx context.Context, orderID string, provider domain.Provider) bool {
	order, err := s.orders.Get(ctx, domain.OrderFilter{ID: orderID})
	if err != nil {
		s.logger.Error("failed to load order for disbursement",
			zap.String("order_id", orderID), zap.String("provider", string(provider)), zap.Error(err))
		s.metrics.Disbursement(string(provider), "load_failed")
		return false
	}
	return s.DisburseOrder(ctx, order, provider)
}

// DisburseOrder runs one attempt for order. It never panics or returns an
// error: every failure after the order is claimed is written to the order
// and reported as false.
func (s *disbursementService) DisburseOrder(ctx context.Context, order *domain.Order, provider domain.Provider) (accepted bool) {
	if order == nil {
		s.logger.Error("disbursement refused, no order given", zap.String("provider", string(provider)))
		s.metrics.Disbursement(string(provider), "invalid_order")
		return false
	}
	log := s.logger.With(zap.String("order_id", order.ID), zap.String("provider", string(provider)))

	var claimed bool
	defer func() {
		if r := recover(); r != nil {
			log.Error("unexpected fault during disbursement", zap.Any("panic", r), zap.Stack("stack"))
			accepted = false
			if !claimed {
				s.metrics.Disbursement(string(provider), "fault")
				return
			}
			s.recordFailure(ctx, order, provider, &attemptError{
				outcome:      "fault",
				payoutStatus: domain.PayoutFailed,
				err:          fmt.Errorf("unexpected fault: %v", r),
			}, log)
		}
	}()

	if order.Status.InFlight() {
		log.Warn("disbursement refused, order already submitted",
			zap.String("status", string(order.Status)), zap.String("idempotency_key", order.IdempotencyKey))
		s.metrics.Disbursement(string(provider), "already_submitted")
		return false
	}

	p, ok := s.providers[provider]
	if !ok {
		log.Error("disbursement refused", zap.Error(fmt.Errorf("%w: %q", domain.ErrUnknownProvider, provider)))
		s.metrics.Disbursement(string(provider), "unknown_provider")
		return false
	}

	// The claim is the only write allowed before a provider call. Whoever
	// loses it leaves the order untouched.
	key := s.newKey()
	var err error
	claimed, err = s.orders.ClaimForSubmission(ctx, order.ID, p.Name(), key)
	if err != nil {
		log.Error("failed to claim order for disbursement", zap.Error(err))
		s.metrics.Disbursement(string(provider), "store_failed")
		return false
	}
	if !claimed {
		log.Warn("disbursement refused, order claimed by another attempt")
		s.metrics.Disbursement(string(provider), "already_submitted")
		return false
	}
	log = log.With(zap.String("idempotency_key", key))

	if aerr := s.attempt(ctx, order, p, key, log); aerr != nil {
		s.recordFailure(ctx, order, provider, aerr, log)
		return false
	}
	return true
}

func (s *disbursementService) attempt(ctx context.Context, order *domain.Order, p port.PayoutProvider, key string, log *zap.Logger) *attemptError {
	dest, err := p.ResolveDestination(ctx, order)
	if err != nil {
		if errors.Is(err, domain.ErrBankNotSupported) {
			return &attemptError{outcome: "invalid_bank", payoutStatus: domain.PayoutInvalidBank, err: err}
		}
		return classify(err)
	}

	if v, ok := p.(port.AccountVerifier); ok {
		res, err := v.InquireAccount(ctx, dest)
		if err != nil {
			return classify(err)
		}
		if !res.Status.Permits(v.Environment()) {
			msg := res.Error
			if msg == "" {
				msg = fmt.Sprintf("inquiry failed: %s", res.Status)
			}
			log.Error("destination account rejected by inquiry", zap.String("inquiry_status", string(res.Status)))
			return &attemptError{
				outcome:      "inquiry_rejected",
				payoutStatus: domain.PayoutFailed,
				err:          fmt.Errorf("%w: %s", domain.ErrInquiryRejected, msg),
			}
		}
		if res.Status == domain.InquiryPending {
			log.Info("account inquiry still pending, continuing in sandbox")
		}
	}

	name := p.Name()
	req := &domain.DisbursementRequest{
		Order:          order,
		Destination:    *dest,
		AmountIDR:      order.AmountIDR,
		Memo:           p.Memo(order),
		IdempotencyKey: key,
	}

	res, err := p.SubmitDisbursement(ctx, req)
	if err != nil {
		return classify(err)
	}
	if !res.PayoutStatus.Accepted() {
		return &attemptError{
			outcome:      "rejected",
			payoutStatus: domain.PayoutFailed,
			reference:    res.Reference,
			err:          fmt.Errorf("%w: initial status %s: %s", domain.ErrProviderRejection, res.RawStatus, res.Raw),
		}
	}

	status := domain.StatusWaitingCallback
	if res.PayoutStatus == domain.PayoutSuccess {
		status = domain.StatusSuccess
	}
	payoutStatus := res.PayoutStatus
	noError := ""
	if err := s.orders.Update(ctx, order.ID, domain.OrderUpdate{
		Status:       &status,
		PayoutStatus: &payoutStatus,
		PayoutError:  &noError,
		Provider:     &name,
		ProviderRef:  &res.Reference,
	}); err != nil {
		// The provider holds the money now. The order stays "processing",
		// which blocks another attempt until someone reconciles it.
		log.Error("disbursement accepted but not recorded",
			zap.String("reference", res.Reference), zap.Error(err))
	}

	log.Info("disbursement accepted",
		zap.String("reference", res.Reference), zap.String("payout_status", string(payoutStatus)))
	s.metrics.Disbursement(string(name), "accepted")
	return nil
}

func classify(err error) *attemptError {
	switch {
	case errors.Is(err, domain.ErrTransport):
		return &attemptError{outcome: "transport_fault", payoutStatus: domain.PayoutFailed, err: err}
	case errors.Is(err, domain.ErrProviderRejection):
		return &attemptError{outcome: "rejected", payoutStatus: domain.PayoutFailed, err: err}
	}
	return &attemptError{outcome: "error", payoutStatus: domain.PayoutFailed, err: err}
}

// recordFailure marks the order failed. It uses a context detached from the
// caller so a cancelled request still leaves a record behind.
func (s *disbursementService) recordFailure(ctx context.Context, order *domain.Order, provider domain.Provider, aerr *attemptError, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	failed := domain.StatusFailed
	msg := aerr.Error()
	upd := domain.OrderUpdate{
		Status:       &failed,
		PayoutStatus: &aerr.payoutStatus,
		PayoutError:  &msg,
	}
	if aerr.reference != "" {
		upd.Provider = &provider
		upd.ProviderRef = &aerr.reference
	}

	if err := s.orders.Update(ctx, order.ID, upd); err != nil {
		log.Error("failed to record disbursement failure", zap.Error(err), zap.String("payout_error", msg))
	}
	log.Error("disbursement failed",
		zap.String("outcome", aerr.outcome),
		zap.String("payout_status", string(aerr.payoutStatus)),
		zap.Error(aerr.err),
	)
	s.metrics.Disbursement(string(provider), aerr.outcome)
}
