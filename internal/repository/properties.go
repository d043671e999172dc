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

const propertyColumns = `id, address, city, postal_code, monthly_rent, is_active, created_at, updated_at`

func scanProperty(row interface{ Scan(...any) error }) (domain.Property, error) {
	var p domain.Property
	err := row.Scan(&p.ID, &p.Address, &p.City, &p.PostalCode, &p.MonthlyRent, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r queries) GetProperty(ctx context.Context, id int64) (*domain.Property, error) {
	p, err := scanProperty(r.q.QueryRowContext(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(fmt.Errorf("get property %d: %w", id, err))
	}
	return &p, nil
}

func (r queries) ListProperties(ctx context.Context) ([]domain.Property, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+propertyColumns+` FROM properties ORDER BY id`)
	if err != nil {
		return nil, mapError(fmt.Errorf("list properties: %w", err))
	}
	defer rows.Close()

	var out []domain.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	return out, nil
}

const tenantColumns = `id, property_id, name, email, phone, move_in_date, move_out_date, created_at, updated_at`

func scanTenant(row interface{ Scan(...any) error }) (domain.Tenant, error) {
	var t domain.Tenant
	var email, phone sql.NullString
	var moveOut sql.NullTime
	if err := row.Scan(
		&t.ID,
		&t.PropertyID,
		&t.Name,
		&email,
		&phone,
		&t.MoveInDate,
		&moveOut,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return t, err
	}

	if email.Valid {
		e := email.String
		t.Email = &e
	}
	if phone.Valid {
		p := phone.String
		t.Phone = &p
	}
	if moveOut.Valid {
		d := domain.DateOf(moveOut.Time)
		t.MoveOutDate = &d
	}
	t.MoveInDate = domain.DateOf(t.MoveInDate)
	return t, nil
}

func (r queries) GetTenant(ctx context.Context, id int64) (*domain.Tenant, error) {
	t, err := scanTenant(r.q.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(fmt.Errorf("get tenant %d: %w", id, err))
	}
	return &t, nil
}

func (r queries) ListTenants(ctx context.Context, f ledger.TenantsFilter) ([]domain.Tenant, error) {
	where := []string{"1=1"}
	args := []any{}
	i := 1

	if f.PropertyID != nil {
		where = append(where, fmt.Sprintf("property_id = $%d", i))
		args = append(args, *f.PropertyID)
		i++
	}
	if f.CurrentOnly {
		where = append(where, "move_out_date IS NULL")
	}

	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE ` + strings.Join(where, " AND ") + " ORDER BY move_in_date DESC, id ASC"

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("list tenants: %w", err))
	}
	defer rows.Close()

	var out []domain.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return out, nil
}
