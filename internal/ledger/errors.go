package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrJournalNotFound indicates a missing journal entry.
	ErrJournalNotFound = errors.New("ledger: journal entry not found")
	// ErrAccountNotFound indicates a missing account.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrTransactionNotFound indicates a missing ledger line.
	ErrTransactionNotFound = errors.New("ledger: transaction not found")
	// ErrMovementNotFound indicates a missing money movement reference.
	ErrMovementNotFound = errors.New("ledger: money movement not found")
	// ErrSourceConflict indicates the (sourceType, sourceID) pair is already posted.
	ErrSourceConflict = errors.New("ledger: source already posted")
	// ErrEmptyBatch indicates a posting attempt without lines.
	ErrEmptyBatch = errors.New("ledger: posting requires at least one line")
)

// ImbalancedBatchError reports a posting whose debits and credits differ by
// more than the currency tolerance. Nothing is committed.
type ImbalancedBatchError struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

func (e *ImbalancedBatchError) Error() string {
	return fmt.Sprintf("ledger: journal batch unbalanced (debit=%s credit=%s)", e.Debit, e.Credit)
}

// DuplicatePostingError reports a second posting for an already-posted source.
type DuplicatePostingError struct {
	SourceType string
	SourceID   uuid.UUID
}

func (e *DuplicatePostingError) Error() string {
	return fmt.Sprintf("ledger: source %s/%s already posted", e.SourceType, e.SourceID)
}

// InsufficientStockError reports an outbound movement exceeding on-hand stock.
type InsufficientStockError struct {
	ProductID int64
	Requested decimal.Decimal
	OnHand    decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("ledger: insufficient stock for product %d (requested=%s on-hand=%s)", e.ProductID, e.Requested, e.OnHand)
}

// MissingUnitCostError reports an inbound adjustment with no prior average
// cost and no supplied unit cost.
type MissingUnitCostError struct {
	ProductID int64
}

func (e *MissingUnitCostError) Error() string {
	return fmt.Sprintf("ledger: product %d has no average cost and no unit cost was supplied", e.ProductID)
}

// MissingAccountMappingError reports an unresolvable subledger account code.
type MissingAccountMappingError struct {
	Code string
}

func (e *MissingAccountMappingError) Error() string {
	return fmt.Sprintf("ledger: missing account mapping for code %s", e.Code)
}

// GroupAllocationError reports a lettering allocation that violated its own
// invariant. It should never surface from correct code.
type GroupAllocationError struct {
	LetterRef string
	Detail    string
}

func (e *GroupAllocationError) Error() string {
	return fmt.Sprintf("ledger: allocation invariant broken for group %s: %s", e.LetterRef, e.Detail)
}
