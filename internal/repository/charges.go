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

const chargeColumns = `c.id, c.property_id, c.period_start, c.period_end, c.amount_due, c.due_date, c.status, c.created_at, c.updated_at`

func scanCharge(row interface{ Scan(...any) error }) (domain.RentCharge, error) {
	var c domain.RentCharge
	var status string
	if err := row.Scan(
		&c.ID,
		&c.PropertyID,
		&c.PeriodStart,
		&c.PeriodEnd,
		&c.AmountDue,
		&c.DueDate,
		&status,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return c, err
	}
	c.Status = domain.ChargeStatus(status)
	c.PeriodStart = domain.DateOf(c.PeriodStart)
	c.PeriodEnd = domain.DateOf(c.PeriodEnd)
	c.DueDate = domain.DateOf(c.DueDate)
	return c, nil
}

func (r queries) getCharge(ctx context.Context, id int64, forUpdate bool) (*domain.RentCharge, error) {
	query := `SELECT ` + chargeColumns + ` FROM rent_charges c WHERE c.id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	c, err := scanCharge(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(fmt.Errorf("get charge %d: %w", id, err))
	}
	return &c, nil
}

func (r queries) GetCharge(ctx context.Context, id int64) (*domain.RentCharge, error) {
	return r.getCharge(ctx, id, false)
}

func (r queries) ListCharges(ctx context.Context, f ledger.ChargesFilter) ([]domain.RentCharge, error) {
	base := `SELECT ` + chargeColumns + ` FROM rent_charges c`

	where := []string{"1=1"}
	args := []any{}
	i := 1

	if f.PropertyID != nil {
		where = append(where, fmt.Sprintf("c.property_id = $%d", i))
		args = append(args, *f.PropertyID)
		i++
	}
	if len(f.Statuses) > 0 {
		var in string
		in, i = placeholders(i, len(f.Statuses))
		where = append(where, "c.status IN ("+in+")")
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}
	if f.DueBefore != nil {
		where = append(where, fmt.Sprintf("c.due_date < $%d", i))
		args = append(args, *f.DueBefore)
		i++
	}
	if f.DueFrom != nil {
		where = append(where, fmt.Sprintf("c.due_date >= $%d", i))
		args = append(args, *f.DueFrom)
		i++
	}
	if f.DueTo != nil {
		where = append(where, fmt.Sprintf("c.due_date <= $%d", i))
		args = append(args, *f.DueTo)
		i++
	}
	if f.PeriodFrom != nil {
		where = append(where, fmt.Sprintf("c.period_start >= $%d", i))
		args = append(args, *f.PeriodFrom)
		i++
	}
	if f.PeriodTo != nil {
		where = append(where, fmt.Sprintf("c.period_end <= $%d", i))
		args = append(args, *f.PeriodTo)
		i++
	}
	if f.CreatedSince != nil {
		where = append(where, fmt.Sprintf("c.created_at >= $%d", i))
		args = append(args, *f.CreatedSince)
		i++
	}

	query := base + " WHERE " + strings.Join(where, " AND ")
	switch f.Order {
	case ledger.OrderDueDateDesc:
		query += " ORDER BY c.due_date DESC, c.id DESC"
	case ledger.OrderCreatedAtDesc:
		query += " ORDER BY c.created_at DESC, c.id DESC"
	default:
		query += " ORDER BY c.due_date ASC, c.id ASC"
	}
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", i)
		args = append(args, f.Limit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("list charges: %w", err))
	}
	defer rows.Close()

	var out []domain.RentCharge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan charge: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list charges: %w", err)
	}
	return out, nil
}

func (t *tx) CreateCharge(ctx context.Context, c *domain.RentCharge) error {
	const query = `
		INSERT INTO rent_charges (property_id, period_start, period_end, amount_due, due_date, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := t.q.QueryRowContext(ctx, query,
		c.PropertyID, c.PeriodStart, c.PeriodEnd, c.AmountDue, c.DueDate, string(c.Status),
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return mapError(fmt.Errorf("create charge: %w", err))
	}
	return nil
}

func (t *tx) UpdateChargeStatus(ctx context.Context, id int64, status domain.ChargeStatus) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE rent_charges SET status = $1, updated_at = now() WHERE id = $2`, string(status), id)
	if err != nil {
		return mapError(fmt.Errorf("update charge %d status: %w", id, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update charge %d status: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("update charge %d status: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (t *tx) DeleteChargeCascade(ctx context.Context, id int64) (bool, error) {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM payment_allocations WHERE rent_charge_id = $1`, id); err != nil {
		return false, mapError(fmt.Errorf("delete allocations of charge %d: %w", id, err))
	}
	res, err := t.q.ExecContext(ctx, `DELETE FROM rent_charges WHERE id = $1`, id)
	if err != nil {
		return false, mapError(fmt.Errorf("delete charge %d: %w", id, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete charge %d: %w", id, err)
	}
	return n > 0, nil
}
