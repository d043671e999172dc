package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"renttrack/internal/domain"
	"renttrack/internal/ledger"

	"github.com/shopspring/decimal"
)

const allocationColumns = `a.id, a.payment_id, a.rent_charge_id, a.amount, a.created_at`

func scanAllocation(row interface{ Scan(...any) error }) (domain.PaymentAllocation, error) {
	var a domain.PaymentAllocation
	err := row.Scan(&a.ID, &a.PaymentID, &a.RentChargeID, &a.Amount, &a.CreatedAt)
	return a, err
}

func allocationsWhere(f ledger.AllocationsFilter) (string, string, []any) {
	join := ""
	where := []string{"1=1"}
	args := []any{}
	i := 1

	if f.PaymentID != nil {
		where = append(where, fmt.Sprintf("a.payment_id = $%d", i))
		args = append(args, *f.PaymentID)
		i++
	}
	if f.RentChargeID != nil {
		where = append(where, fmt.Sprintf("a.rent_charge_id = $%d", i))
		args = append(args, *f.RentChargeID)
		i++
	}
	if f.PropertyID != nil {
		join = " JOIN payments p ON p.id = a.payment_id"
		where = append(where, fmt.Sprintf("p.property_id = $%d", i))
		args = append(args, *f.PropertyID)
	}

	return join, " WHERE " + strings.Join(where, " AND "), args
}

func (r queries) GetAllocation(ctx context.Context, id int64) (*domain.PaymentAllocation, error) {
	a, err := scanAllocation(r.q.QueryRowContext(ctx,
		`SELECT `+allocationColumns+` FROM payment_allocations a WHERE a.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(fmt.Errorf("get allocation %d: %w", id, err))
	}
	return &a, nil
}

func (r queries) ListAllocations(ctx context.Context, f ledger.AllocationsFilter) ([]domain.PaymentAllocation, error) {
	join, where, args := allocationsWhere(f)
	query := `SELECT ` + allocationColumns + ` FROM payment_allocations a` + join + where + ` ORDER BY a.id`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("list allocations: %w", err))
	}
	defer rows.Close()

	var out []domain.PaymentAllocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	return out, nil
}

func (r queries) SumAllocations(ctx context.Context, f ledger.AllocationsFilter) (decimal.Decimal, error) {
	join, where, args := allocationsWhere(f)
	query := `SELECT COALESCE(SUM(a.amount), 0) FROM payment_allocations a` + join + where

	var sum decimal.Decimal
	if err := r.q.QueryRowContext(ctx, query, args...).Scan(&sum); err != nil {
		return decimal.Zero, mapError(fmt.Errorf("sum allocations: %w", err))
	}
	return sum, nil
}

func (r queries) AllocatedByCharge(ctx context.Context, chargeIDs []int64) (map[int64]decimal.Decimal, error) {
	out := make(map[int64]decimal.Decimal, len(chargeIDs))
	if len(chargeIDs) == 0 {
		return out, nil
	}

	in, _ := placeholders(1, len(chargeIDs))
	args := make([]any, 0, len(chargeIDs))
	for _, id := range chargeIDs {
		args = append(args, id)
	}

	rows, err := r.q.QueryContext(ctx,
		`SELECT a.rent_charge_id, SUM(a.amount) FROM payment_allocations a
		 WHERE a.rent_charge_id IN (`+in+`) GROUP BY a.rent_charge_id`, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("allocated by charge: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var sum decimal.Decimal
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, fmt.Errorf("scan allocated sum: %w", err)
		}
		out[id] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("allocated by charge: %w", err)
	}
	return out, nil
}

func (t *tx) CreateAllocation(ctx context.Context, a *domain.PaymentAllocation) error {
	const query = `
		INSERT INTO payment_allocations (payment_id, rent_charge_id, amount)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	if err := t.q.QueryRowContext(ctx, query, a.PaymentID, a.RentChargeID, a.Amount).Scan(&a.ID, &a.CreatedAt); err != nil {
		return mapError(fmt.Errorf("create allocation: %w", err))
	}
	return nil
}

func (t *tx) DeleteAllocation(ctx context.Context, id int64) (bool, error) {
	res, err := t.q.ExecContext(ctx, `DELETE FROM payment_allocations WHERE id = $1`, id)
	if err != nil {
		return false, mapError(fmt.Errorf("delete allocation %d: %w", id, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete allocation %d: %w", id, err)
	}
	return n > 0, nil
}
