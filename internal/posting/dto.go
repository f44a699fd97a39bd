package posting

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/comptoir-erp/comptoir/internal/ledger"
	"github.com/comptoir-erp/comptoir/internal/money"
)

// LineInput is one transaction candidate supplied by an upstream collaborator.
// Amounts are already business-validated; the poster only checks balance.
type LineInput struct {
	AccountID       int64
	Direction       ledger.Direction
	Amount          decimal.Decimal
	Kind            string
	Description     string
	PartyID         *int64
	DueDate         *time.Time
	MoneyMovementID *uuid.UUID
}

// PostingInput groups the fields required to create one journal entry.
type PostingInput struct {
	SourceType  string
	SourceID    uuid.UUID
	Date        time.Time
	Description string
	Lines       []LineInput
}

// Validate checks structural correctness and the double-entry invariant.
func (in PostingInput) Validate() error {
	if in.SourceType == "" {
		return errors.New("posting: source type required")
	}
	if in.SourceID == uuid.Nil {
		return errors.New("posting: source id required")
	}
	if in.Date.IsZero() {
		return errors.New("posting: date required")
	}
	if len(in.Lines) == 0 {
		return ledger.ErrEmptyBatch
	}
	var debit, credit decimal.Decimal
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return fmt.Errorf("posting: line %d missing account", idx)
		}
		if line.Direction != ledger.DirectionDebit && line.Direction != ledger.DirectionCredit {
			return fmt.Errorf("posting: line %d invalid direction %q", idx, line.Direction)
		}
		if line.Amount.IsNegative() {
			return fmt.Errorf("posting: line %d negative amount", idx)
		}
		if line.Direction == ledger.DirectionDebit {
			debit = debit.Add(line.Amount)
		} else {
			credit = credit.Add(line.Amount)
		}
	}
	if !money.ApproxEqual(debit, credit) {
		return &ledger.ImbalancedBatchError{Debit: debit, Credit: credit}
	}
	return nil
}
