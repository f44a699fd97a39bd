package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/comptoir-erp/comptoir/internal/ledger"
	"github.com/comptoir-erp/comptoir/internal/money"
	"github.com/comptoir-erp/comptoir/internal/observability"
	"github.com/comptoir-erp/comptoir/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInventory(ctx context.Context, productID int64) (ProductInventory, error)
	ListMovements(ctx context.Context, productID int64, limit int) ([]StockMovement, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service maintains the weighted-average valuation of each product. All
// mutations run inside one unit of work with the aggregate row locked, so
// concurrent movements on the same product are serialized.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	idem    *shared.IdempotencyStore
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds the valuation engine.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, idem: idem, metrics: metrics, logger: logger, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ApplyIn blends the inbound batch cost into the running average:
// newAvg = (prevQty*prevAvg + qty*cost) / (prevQty + qty), seeded with the
// batch cost when the product had no stock or no average yet.
func (s *Service) ApplyIn(ctx context.Context, input InInput) (ProductInventory, error) {
	if input.ProductID == 0 {
		return ProductInventory{}, errors.New("inventory: product required")
	}
	if !input.Qty.IsPositive() {
		return ProductInventory{}, ErrInvalidQuantity
	}
	if input.UnitCost.IsNegative() {
		return ProductInventory{}, ErrInvalidUnitCost
	}
	var inv ProductInventory
	err := s.withMovementGuard(ctx, MovementTypeIn, input.Ref, input.ProductID, func(ctx context.Context, tx TxRepository) error {
		var err error
		inv, _, err = s.applyInLocked(ctx, tx, input.ProductID, input.Qty, input.UnitCost, MovementTypeIn, input.Ref)
		return err
	})
	if err != nil {
		return ProductInventory{}, err
	}
	s.finishMovement(ctx, MovementTypeIn, input.ProductID, input.Qty, input.Ref)
	return inv, nil
}

// ApplyOut decrements on-hand quantity at the current average cost. The
// average itself is never touched by outbound movements.
func (s *Service) ApplyOut(ctx context.Context, input OutInput) (OutResult, error) {
	if input.ProductID == 0 {
		return OutResult{}, errors.New("inventory: product required")
	}
	if !input.Qty.IsPositive() {
		return OutResult{}, ErrInvalidQuantity
	}
	var result OutResult
	err := s.withMovementGuard(ctx, MovementTypeOut, input.Ref, input.ProductID, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = s.applyOutLocked(ctx, tx, input.ProductID, input.Qty, MovementTypeOut, input.Ref)
		return err
	})
	if err != nil {
		return OutResult{}, err
	}
	s.finishMovement(ctx, MovementTypeOut, input.ProductID, input.Qty, input.Ref)
	return result, nil
}

// ApplyAdjust routes a positive quantity through the inbound path and a
// negative one through the outbound path. The returned total cost is signed:
// negative for reductions. A zero adjustment is a no-op.
func (s *Service) ApplyAdjust(ctx context.Context, input AdjustInput) (AdjustResult, error) {
	if input.ProductID == 0 {
		return AdjustResult{}, errors.New("inventory: product required")
	}
	if input.Qty.IsZero() {
		inv, err := s.repo.GetInventory(ctx, input.ProductID)
		if err != nil && !errors.Is(err, ErrInventoryNotFound) {
			return AdjustResult{}, err
		}
		return AdjustResult{UnitCost: decimal.Zero, TotalCost: decimal.Zero, Inventory: inv}, nil
	}
	if input.UnitCost != nil && input.UnitCost.IsNegative() {
		return AdjustResult{}, ErrInvalidUnitCost
	}
	var result AdjustResult
	err := s.withMovementGuard(ctx, MovementTypeAdjust, input.Ref, input.ProductID, func(ctx context.Context, tx TxRepository) error {
		if input.Qty.IsPositive() {
			inv, err := getOrCreateLocked(ctx, tx, input.ProductID)
			if err != nil {
				return err
			}
			cost, err := adjustUnitCost(inv, input)
			if err != nil {
				return err
			}
			updated, total, err := s.applyInLocked(ctx, tx, input.ProductID, input.Qty, cost, MovementTypeAdjust, input.Ref)
			if err != nil {
				return err
			}
			result = AdjustResult{UnitCost: cost, TotalCost: total, Inventory: updated}
			return nil
		}
		out, err := s.applyOutLocked(ctx, tx, input.ProductID, input.Qty.Abs(), MovementTypeAdjust, input.Ref)
		if err != nil {
			return err
		}
		result = AdjustResult{UnitCost: out.UnitCost, TotalCost: out.TotalCost.Neg(), Inventory: out.Inventory}
		return nil
	})
	if err != nil {
		return AdjustResult{}, err
	}
	s.finishMovement(ctx, MovementTypeAdjust, input.ProductID, input.Qty, input.Ref)
	return result, nil
}

// GetInventory returns the current aggregate snapshot for a product.
func (s *Service) GetInventory(ctx context.Context, productID int64) (ProductInventory, error) {
	return s.repo.GetInventory(ctx, productID)
}

// ListMovements returns the most recent movement records for a product.
func (s *Service) ListMovements(ctx context.Context, productID int64, limit int) ([]StockMovement, error) {
	return s.repo.ListMovements(ctx, productID, limit)
}

// adjustUnitCost resolves the cost of a positive adjustment: the supplied
// cost wins, then the current average; neither present is an error.
func adjustUnitCost(inv ProductInventory, input AdjustInput) (decimal.Decimal, error) {
	if input.UnitCost != nil {
		return *input.UnitCost, nil
	}
	if inv.AvgCost.Valid {
		return inv.AvgCost.Decimal, nil
	}
	return decimal.Decimal{}, &ledger.MissingUnitCostError{ProductID: input.ProductID}
}

func getOrCreateLocked(ctx context.Context, tx TxRepository, productID int64) (ProductInventory, error) {
	inv, err := tx.GetInventoryForUpdate(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrInventoryNotFound) {
			return ProductInventory{ProductID: productID, QtyOnHand: decimal.Zero}, nil
		}
		return ProductInventory{}, err
	}
	return inv, nil
}

func (s *Service) applyInLocked(ctx context.Context, tx TxRepository, productID int64, qty, unitCost decimal.Decimal, movementType MovementType, ref string) (ProductInventory, decimal.Decimal, error) {
	inv, err := getOrCreateLocked(ctx, tx, productID)
	if err != nil {
		return ProductInventory{}, decimal.Decimal{}, err
	}
	var newAvg decimal.Decimal
	if inv.QtyOnHand.Sign() <= 0 || !inv.AvgCost.Valid {
		newAvg = unitCost
	} else {
		prevTotal := inv.QtyOnHand.Mul(inv.AvgCost.Decimal)
		incoming := qty.Mul(unitCost)
		newAvg = prevTotal.Add(incoming).Div(inv.QtyOnHand.Add(qty))
	}
	inv.QtyOnHand = money.Quantity(inv.QtyOnHand.Add(qty))
	inv.AvgCost = decimal.NullDecimal{Decimal: money.Cost(newAvg), Valid: true}
	inv.UpdatedAt = s.now()
	if err := tx.UpsertInventory(ctx, inv); err != nil {
		return ProductInventory{}, decimal.Decimal{}, err
	}
	movementQty := money.Quantity(qty)
	total := money.Amount(qty.Mul(unitCost))
	if _, err := tx.InsertMovement(ctx, StockMovement{
		ProductID: productID,
		Type:      movementType,
		Quantity:  movementQty,
		UnitCost:  decimal.NullDecimal{Decimal: money.Cost(unitCost), Valid: true},
		TotalCost: total,
		Ref:       ref,
		CreatedAt: s.now(),
	}); err != nil {
		return ProductInventory{}, decimal.Decimal{}, err
	}
	return inv, total, nil
}

func (s *Service) applyOutLocked(ctx context.Context, tx TxRepository, productID int64, qty decimal.Decimal, movementType MovementType, ref string) (OutResult, error) {
	inv, err := getOrCreateLocked(ctx, tx, productID)
	if err != nil {
		return OutResult{}, err
	}
	if money.QtyExceeds(qty, inv.QtyOnHand) {
		return OutResult{}, &ledger.InsufficientStockError{ProductID: productID, Requested: qty, OnHand: inv.QtyOnHand}
	}
	avg := decimal.Zero
	if inv.AvgCost.Valid {
		avg = inv.AvgCost.Decimal
	}
	inv.QtyOnHand = money.Quantity(inv.QtyOnHand.Sub(qty))
	inv.UpdatedAt = s.now()
	if err := tx.UpsertInventory(ctx, inv); err != nil {
		return OutResult{}, err
	}
	movementQty := money.Quantity(qty)
	if movementType == MovementTypeAdjust {
		movementQty = movementQty.Neg()
	}
	total := money.Amount(avg.Mul(qty))
	if _, err := tx.InsertMovement(ctx, StockMovement{
		ProductID: productID,
		Type:      movementType,
		Quantity:  movementQty,
		UnitCost:  inv.AvgCost,
		TotalCost: total,
		Ref:       ref,
		CreatedAt: s.now(),
	}); err != nil {
		return OutResult{}, err
	}
	return OutResult{UnitCost: avg, TotalCost: total, Inventory: inv}, nil
}

// withMovementGuard wraps the unit of work with the idempotency check keyed
// on the caller-supplied movement ref, when one is present.
func (s *Service) withMovementGuard(ctx context.Context, movementType MovementType, ref string, productID int64, fn func(context.Context, TxRepository) error) error {
	insertedKey := false
	key := ""
	if s.idem != nil && ref != "" {
		key = fmt.Sprintf("%s:%s:%d", movementType, ref, productID)
		if err := s.idem.CheckAndInsert(ctx, key, "inventory"); err != nil {
			return err
		}
		insertedKey = true
	}
	if err := s.repo.WithTx(ctx, fn); err != nil {
		if insertedKey {
			_ = s.idem.Delete(ctx, key)
		}
		return err
	}
	return nil
}

func (s *Service) finishMovement(ctx context.Context, movementType MovementType, productID int64, qty decimal.Decimal, ref string) {
	s.metrics.StockMovementApplied(string(movementType))
	if s.logger != nil {
		s.logger.Info("stock movement applied",
			slog.String("type", string(movementType)),
			slog.Int64("product_id", productID),
			slog.String("qty", qty.String()))
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   fmt.Sprintf("inventory.%s", movementType),
			Entity:   "product_inventory",
			EntityID: fmt.Sprintf("%d", productID),
			Meta: map[string]any{
				"qty": qty.String(),
				"ref": ref,
			},
			At: s.now(),
		})
	}
}
