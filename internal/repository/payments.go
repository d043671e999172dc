package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"renttrack/internal/domain"
	"renttrack/internal/ledger"
)

const paymentColumns = `p.id, p.property_id, p.amount, p.payment_date, p.notes, p.created_at, p.updated_at`

func scanPayment(row interface{ Scan(...any) error }) (domain.Payment, error) {
	var p domain.Payment
	var notes sql.NullString
	if err := row.Scan(&p.ID, &p.PropertyID, &p.Amount, &p.PaymentDate, &notes, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, err
	}
	if notes.Valid {
		n := notes.String
		p.Notes = &n
	}
	p.PaymentDate = domain.DateOf(p.PaymentDate)
	return p, nil
}

func (r queries) getPayment(ctx context.Context, id int64, forUpdate bool) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments p WHERE p.id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	p, err := scanPayment(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(fmt.Errorf("get payment %d: %w", id, err))
	}
	return &p, nil
}

func (r queries) GetPayment(ctx context.Context, id int64) (*domain.Payment, error) {
	return r.getPayment(ctx, id, false)
}

func (r queries) ListPayments(ctx context.Context, f ledger.PaymentsFilter) ([]domain.Payment, error) {
	base := `SELECT ` + paymentColumns + ` FROM payments p`

	where := []string{"1=1"}
	args := []any{}
	i := 1

	if f.PropertyID != nil {
		where = append(where, fmt.Sprintf("p.property_id = $%d", i))
		args = append(args, *f.PropertyID)
		i++
	}
	if f.DateFrom != nil {
		where = append(where, fmt.Sprintf("p.payment_date >= $%d", i))
		args = append(args, *f.DateFrom)
		i++
	}
	if f.DateTo != nil {
		where = append(where, fmt.Sprintf("p.payment_date <= $%d", i))
		args = append(args, *f.DateTo)
		i++
	}

	query := base + " WHERE " + strings.Join(where, " AND ") + " ORDER BY p.payment_date DESC, p.id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", i)
		args = append(args, f.Limit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("list payments: %w", err))
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return out, nil
}

func (t *tx) CreatePayment(ctx context.Context, p *domain.Payment) error {
	const query = `
		INSERT INTO payments (property_id, amount, payment_date, notes)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	err := t.q.QueryRowContext(ctx, query, p.PropertyID, p.Amount, p.PaymentDate, p.Notes).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return mapError(fmt.Errorf("create payment: %w", err))
	}
	return nil
}

func (t *tx) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	const query = `
		UPDATE payments
		SET amount = $1, payment_date = $2, notes = $3, updated_at = now()
		WHERE id = $4
		RETURNING property_id, created_at, updated_at`

	err := t.q.QueryRowContext(ctx, query, p.Amount, p.PaymentDate, p.Notes, p.ID).
		Scan(&p.PropertyID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update payment %d: %w", p.ID, domain.ErrNotFound)
	}
	if err != nil {
		return mapError(fmt.Errorf("update payment %d: %w", p.ID, err))
	}
	return nil
}

func (t *tx) DeletePaymentCascade(ctx context.Context, id int64) ([]int64, error) {
	rows, err := t.q.QueryContext(ctx,
		`DELETE FROM payment_allocations WHERE payment_id = $1 RETURNING rent_charge_id`, id)
	if err != nil {
		return nil, mapError(fmt.Errorf("delete allocations of payment %d: %w", id, err))
	}

	seen := map[int64]bool{}
	var chargeIDs []int64
	for rows.Next() {
		var cid int64
		if err := rows.Scan(&cid); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan charge id: %w", err)
		}
		if !seen[cid] {
			seen[cid] = true
			chargeIDs = append(chargeIDs, cid)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("delete allocations of payment %d: %w", id, err)
	}
	rows.Close()

	if _, err := t.q.ExecContext(ctx, `DELETE FROM payments WHERE id = $1`, id); err != nil {
		return nil, mapError(fmt.Errorf("delete payment %d: %w", id, err))
	}
	return chargeIDs, nil
}
