package inventory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementTypeIn represents an inbound movement.
	MovementTypeIn MovementType = "IN"
	// MovementTypeOut represents an outbound movement.
	MovementTypeOut MovementType = "OUT"
	// MovementTypeAdjust indicates a signed manual adjustment.
	MovementTypeAdjust MovementType = "ADJUST"
)

// ProductInventory is the single mutable aggregate of the core: per-product
// running quantity and weighted-average unit cost. AvgCost stays null until
// the first inbound movement.
type ProductInventory struct {
	ProductID int64
	QtyOnHand decimal.Decimal
	AvgCost   decimal.NullDecimal
	UpdatedAt time.Time
}

// StockMovement is the immutable audit record of one aggregate mutation.
// Quantity is signed for ADJUST movements, unsigned otherwise.
type StockMovement struct {
	ID        int64
	ProductID int64
	Type      MovementType
	Quantity  decimal.Decimal
	UnitCost  decimal.NullDecimal
	TotalCost decimal.Decimal
	Ref       string
	CreatedAt time.Time
}

// InInput describes an inbound movement request.
type InInput struct {
	ProductID int64
	Qty       decimal.Decimal
	UnitCost  decimal.Decimal
	Ref       string
}

// OutInput describes an outbound movement request.
type OutInput struct {
	ProductID int64
	Qty       decimal.Decimal
	Ref       string
}

// AdjustInput describes a signed adjustment. UnitCost is optional: required
// only when the product has no average cost yet and Qty is positive.
type AdjustInput struct {
	ProductID int64
	Qty       decimal.Decimal
	UnitCost  *decimal.Decimal
	Ref       string
}

// OutResult reports the valuation of an outbound movement so the caller can
// record the matching ledger amount.
type OutResult struct {
	UnitCost  decimal.Decimal
	TotalCost decimal.Decimal
	Inventory ProductInventory
}

// AdjustResult reports the signed valuation of an adjustment.
type AdjustResult struct {
	UnitCost  decimal.Decimal
	TotalCost decimal.Decimal
	Inventory ProductInventory
}

// ErrInvalidQuantity indicates a non-positive quantity where one is required.
var ErrInvalidQuantity = errors.New("inventory: quantity must be positive")

// ErrInvalidUnitCost indicates a negative unit cost.
var ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")

// ErrInventoryNotFound indicates a missing aggregate row.
var ErrInventoryNotFound = errors.New("inventory: product inventory not found")
