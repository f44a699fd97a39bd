package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/comptoir-erp/comptoir/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	GetInventoryForUpdate(ctx context.Context, productID int64) (ProductInventory, error)
	UpsertInventory(ctx context.Context, inv ProductInventory) error
	InsertMovement(ctx context.Context, m StockMovement) (StockMovement, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetInventory returns the aggregate snapshot without locking.
func (r *Repository) GetInventory(ctx context.Context, productID int64) (ProductInventory, error) {
	var inv ProductInventory
	err := r.pool.QueryRow(ctx, `SELECT product_id, qty_on_hand, avg_cost, updated_at
FROM product_inventory WHERE product_id=$1`, productID).
		Scan(&inv.ProductID, &inv.QtyOnHand, &inv.AvgCost, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProductInventory{}, ErrInventoryNotFound
		}
		return ProductInventory{}, err
	}
	return inv, nil
}

// ListMovements returns the latest movements for a product, newest first.
func (r *Repository) ListMovements(ctx context.Context, productID int64, limit int) ([]StockMovement, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, movement_type, quantity, unit_cost, total_cost, ref, created_at
FROM stock_movements WHERE product_id=$1 ORDER BY id DESC LIMIT $2`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var movements []StockMovement
	for rows.Next() {
		var m StockMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Type, &m.Quantity, &m.UnitCost, &m.TotalCost, &m.Ref, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (r *txRepository) GetInventoryForUpdate(ctx context.Context, productID int64) (ProductInventory, error) {
	var inv ProductInventory
	err := r.tx.QueryRow(ctx, `SELECT product_id, qty_on_hand, avg_cost, updated_at
FROM product_inventory WHERE product_id=$1 FOR UPDATE`, productID).
		Scan(&inv.ProductID, &inv.QtyOnHand, &inv.AvgCost, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProductInventory{}, ErrInventoryNotFound
		}
		return ProductInventory{}, err
	}
	return inv, nil
}

func (r *txRepository) UpsertInventory(ctx context.Context, inv ProductInventory) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO product_inventory (product_id, qty_on_hand, avg_cost, updated_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (product_id) DO UPDATE SET qty_on_hand=EXCLUDED.qty_on_hand, avg_cost=EXCLUDED.avg_cost, updated_at=EXCLUDED.updated_at`,
		inv.ProductID, inv.QtyOnHand, inv.AvgCost, inv.UpdatedAt)
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, m StockMovement) (StockMovement, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (product_id, movement_type, quantity, unit_cost, total_cost, ref, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		m.ProductID, m.Type, m.Quantity, m.UnitCost, m.TotalCost, m.Ref, m.CreatedAt).Scan(&m.ID)
	if err != nil {
		return StockMovement{}, err
	}
	return m, nil
}
