package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/comptoir-erp/comptoir/internal/money"
)

// Direction marks a ledger line as a debit or credit movement.
type Direction string

const (
	DirectionDebit  Direction = "DEBIT"
	DirectionCredit Direction = "CREDIT"
)

// LetterStatus is the derived reconciliation state of a ledger line.
type LetterStatus string

const (
	LetterStatusUnmatched LetterStatus = "UNMATCHED"
	LetterStatusPartial   LetterStatus = "PARTIAL"
	LetterStatusMatched   LetterStatus = "MATCHED"
)

// EntryStatus enumerates journal entry lifecycle values. Entries are never
// mutated after posting; corrections are new reversing entries.
type EntryStatus string

const EntryStatusPosted EntryStatus = "POSTED"

// Account is one chart-of-accounts row. Immutable once referenced.
type Account struct {
	ID        int64
	Number    string
	Label     string
	CreatedAt time.Time
}

// Transaction is a single debit or credit movement against one account.
// Only the lettering fields (LetteredAmount, LetterStatus, LetteredAt) are
// mutable after creation.
type Transaction struct {
	ID              int64
	Date            time.Time
	AccountID       int64
	Direction       Direction
	Amount          decimal.Decimal
	Kind            string
	Description     string
	PartyID         *int64
	DueDate         *time.Time
	LetterRef       *string
	LetteredAmount  decimal.Decimal
	LetterStatus    LetterStatus
	LetteredAt      *time.Time
	JournalEntryID  *int64
	MoneyMovementID *uuid.UUID
	CreatedAt       time.Time
}

// Outstanding returns the unmatched remainder of the line, floored at zero.
func (t Transaction) Outstanding() decimal.Decimal {
	out := t.Amount.Sub(t.LetteredAmount)
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// JournalEntry is an immutable, balanced group of ledger lines recorded for
// one business event. The (SourceType, SourceID) pair is unique across
// posted entries.
type JournalEntry struct {
	ID          int64
	Number      int64
	Date        time.Time
	SourceType  string
	SourceID    uuid.UUID
	Description string
	Status      EntryStatus
	CreatedAt   time.Time
	Lines       []Transaction
}

// Ref formats the sequential entry number for display and audit trails.
func (e JournalEntry) Ref() string {
	return fmt.Sprintf("JRN-%06d", e.Number)
}

// Totals sums the entry's lines per direction.
func (e JournalEntry) Totals() (debit, credit decimal.Decimal) {
	for _, line := range e.Lines {
		switch line.Direction {
		case DirectionDebit:
			debit = debit.Add(line.Amount)
		case DirectionCredit:
			credit = credit.Add(line.Amount)
		}
	}
	return debit, credit
}

// Balanced reports whether debits equal credits within the currency tolerance.
func (e JournalEntry) Balanced() bool {
	debit, credit := e.Totals()
	return money.ApproxEqual(debit, credit)
}
