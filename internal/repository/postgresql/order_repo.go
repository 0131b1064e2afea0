package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"payout/internal/domain"
	"payout/internal/port"
)

var uniqueConstraint pq.ErrorCode = "23505"

const selectOrder = `SELECT id, order_id, token, payout_bank, payout_account, payout_name, amount_idr,
	status, payout_status, payout_error, provider, flip_ref_id, midtrans_ref_id, idempotency_key,
	created_at, updated_at
	FROM payouts`

type orderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) port.OrderRepository {
	return &orderRepository{db: db}
}

func refColumn(p domain.Provider) (string, error) {
	switch p {
	case domain.ProviderFlip:
		return "flip_ref_id", nil
	case domain.ProviderMidtrans:
		return "midtrans_ref_id", nil
	}
	return "", fmt.Errorf("%w: %q", domain.ErrUnknownProvider, p)
}

func (r *orderRepository) Get(ctx context.Context, filter domain.OrderFilter) (*domain.Order, error) {
	var row *sql.Row
	switch {
	case filter.ID != "":
		row = r.db.QueryRowContext(ctx, selectOrder+` WHERE id = $1`, filter.ID)
	case filter.ProviderRef != "":
		col, err := refColumn(filter.Provider)
		if err != nil {
			return nil, err
		}
		row = r.db.QueryRowContext(ctx, selectOrder+` WHERE `+col+` = $1`, filter.ProviderRef)
	default:
		return nil, errors.New("empty order filter")
	}

	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	return o, err
}

func scanOrder(row *sql.Row) (*domain.Order, error) {
	var o domain.Order
	var payoutStatus, payoutError, provider sql.NullString
	var flipRef, midtransRef, idempotencyKey sql.NullString
	err := row.Scan(
		&o.ID, &o.OrderID, &o.Token, &o.PayoutBank, &o.PayoutAccount, &o.PayoutName, &o.AmountIDR,
		&o.Status, &payoutStatus, &payoutError, &provider, &flipRef, &midtransRef, &idempotencyKey,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.PayoutStatus = domain.PayoutStatus(payoutStatus.String)
	o.PayoutError = payoutError.String
	o.Provider = domain.Provider(provider.String)
	o.FlipRefID = flipRef.String
	o.MidtransRefID = midtransRef.String
	o.IdempotencyKey = idempotencyKey.String
	return &o, nil
}

func (r *orderRepository) Update(ctx context.Context, id string, upd domain.OrderUpdate) error {
	sets := make([]string, 0, 7)
	args := make([]any, 0, 8)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if upd.Status != nil {
		add("status", string(*upd.Status))
	}
	if upd.PayoutStatus != nil {
		add("payout_status", string(*upd.PayoutStatus))
	}
	if upd.PayoutError != nil {
		add("payout_error", nullable(*upd.PayoutError))
	}
	if upd.Provider != nil {
		add("provider", string(*upd.Provider))
	}
	if upd.IdempotencyKey != nil {
		add("idempotency_key", nullable(*upd.IdempotencyKey))
	}
	if upd.ProviderRef != nil {
		if upd.Provider == nil {
			return errors.New("provider reference update without provider")
		}
		col, err := refColumn(*upd.Provider)
		if err != nil {
			return err
		}
		add(col, nullable(*upd.ProviderRef))
	}
	if len(sets) == 0 {
		return nil
	}
	add("updated_at", time.Now())

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE payouts SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueConstraint {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateRef, pqErr.Constraint)
		}
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *orderRepository) ClaimForSubmission(ctx context.Context, id string, provider domain.Provider, key string) (bool, error) {
	const query = `UPDATE payouts SET status = 'processing', provider = $1, idempotency_key = $2, updated_at = $3
	WHERE id = $4 AND status NOT IN ('processing', 'waiting_callback', 'success')`

	result, err := r.db.ExecContext(ctx, query, provider, key, time.Now(), id)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *orderRepository) ApplyTerminal(ctx context.Context, id string, status domain.OrderStatus, payoutStatus domain.PayoutStatus) (bool, error) {
	const query = `UPDATE payouts SET status = $1, payout_status = $2, updated_at = $3
	WHERE id = $4 AND status NOT IN ('success', 'failed')`

	result, err := r.db.ExecContext(ctx, query, status, payoutStatus, time.Now(), id)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
