package reconcile

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrPeriodNotFound is returned when the requested payroll period does not
// exist.
var ErrPeriodNotFound = errors.New("reconcile: payroll period not found")

// Repository loads the subledger side of the audit.
type Repository interface {
	GetPeriod(ctx context.Context, id uuid.UUID) (PayrollPeriod, error)
	ListActiveMappings(ctx context.Context) (map[string]AccountMapping, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL-backed subledger reader.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) GetPeriod(ctx context.Context, id uuid.UUID) (PayrollPeriod, error) {
	var period PayrollPeriod
	err := r.pool.QueryRow(ctx, `SELECT id, ref FROM payroll_periods WHERE id=$1`, id).
		Scan(&period.ID, &period.Ref)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PayrollPeriod{}, ErrPeriodNotFound
		}
		return PayrollPeriod{}, err
	}

	slips, err := r.listPayslips(ctx, id)
	if err != nil {
		return PayrollPeriod{}, err
	}
	period.Payslips = slips
	return period, nil
}

func (r *repository) listPayslips(ctx context.Context, periodID uuid.UUID) ([]Payslip, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, net_amount FROM payslips WHERE period_id=$1 ORDER BY id ASC`, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var slips []Payslip
	for rows.Next() {
		var slip Payslip
		if err := rows.Scan(&slip.ID, &slip.NetAmount); err != nil {
			return nil, err
		}
		slips = append(slips, slip)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range slips {
		lines, err := r.listLines(ctx, slips[i].ID)
		if err != nil {
			return nil, err
		}
		slips[i].Lines = lines
	}
	return slips, nil
}

func (r *repository) listLines(ctx context.Context, payslipID int64) ([]PayslipLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT code, amount FROM payslip_lines WHERE payslip_id=$1 ORDER BY id ASC`, payslipID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []PayslipLine
	for rows.Next() {
		var line PayslipLine
		if err := rows.Scan(&line.Code, &line.Amount); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// ListActiveMappings returns the active mapping rows indexed by code.
func (r *repository) ListActiveMappings(ctx context.Context) (map[string]AccountMapping, error) {
	rows, err := r.pool.Query(ctx, `SELECT code, account_id, active, created_at, updated_at
FROM account_mappings WHERE active ORDER BY code ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	mappings := make(map[string]AccountMapping)
	for rows.Next() {
		var m AccountMapping
		if err := rows.Scan(&m.Code, &m.AccountID, &m.Active, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		mappings[m.Code] = m
	}
	return mappings, rows.Err()
}
