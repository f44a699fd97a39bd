// Package lettering matches debit and credit ledger lines that belong to the
// same economic event, so outstanding balances can be tracked per party.
package lettering

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/comptoir-erp/comptoir/internal/ledger"
	"github.com/comptoir-erp/comptoir/internal/money"
)

// Allocation is the target lettering state computed for one ledger line.
type Allocation struct {
	LetteredAmount decimal.Decimal
	Status         ledger.LetterStatus
	LetteredAt     *time.Time
}

// DeriveStatus is the single status function every write path goes through:
// letterStatus is a materialized cache of this pure function, never hand-set.
func DeriveStatus(amount, lettered decimal.Decimal) ledger.LetterStatus {
	if money.ApproxZero(amount) {
		return ledger.LetterStatusMatched
	}
	if money.ApproxZero(lettered) {
		return ledger.LetterStatusUnmatched
	}
	if money.ApproxEqual(lettered, amount) {
		return ledger.LetterStatusMatched
	}
	return ledger.LetterStatusPartial
}

// allocateGroup computes the target state for every line of one letterRef
// group. Deterministic: lines are walked in (date, id) order, each side
// consuming a pool of min(debitTotal, creditTotal). Running it on an
// already-consistent group is a no-op.
func allocateGroup(letterRef string, txs []ledger.Transaction) (map[int64]Allocation, error) {
	ordered := append([]ledger.Transaction(nil), txs...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Date.Equal(ordered[j].Date) {
			return ordered[i].Date.Before(ordered[j].Date)
		}
		return ordered[i].ID < ordered[j].ID
	})

	var debits, credits []ledger.Transaction
	var debitTotal, creditTotal decimal.Decimal
	for _, tx := range ordered {
		switch tx.Direction {
		case ledger.DirectionDebit:
			debits = append(debits, tx)
			debitTotal = debitTotal.Add(tx.Amount)
		case ledger.DirectionCredit:
			credits = append(credits, tx)
			creditTotal = creditTotal.Add(tx.Amount)
		}
	}
	matchedTotal := money.Min(debitTotal, creditTotal)

	out := make(map[int64]Allocation, len(ordered))
	allocateSide(out, debits, matchedTotal)
	allocateSide(out, credits, matchedTotal)

	var debitAllocated, creditAllocated decimal.Decimal
	for _, tx := range debits {
		debitAllocated = debitAllocated.Add(out[tx.ID].LetteredAmount)
	}
	for _, tx := range credits {
		creditAllocated = creditAllocated.Add(out[tx.ID].LetteredAmount)
	}
	if !money.ApproxEqual(debitAllocated, matchedTotal) || !money.ApproxEqual(creditAllocated, matchedTotal) {
		return nil, &ledger.GroupAllocationError{
			LetterRef: letterRef,
			Detail:    fmt.Sprintf("allocated debit=%s credit=%s matched=%s", debitAllocated, creditAllocated, matchedTotal),
		}
	}

	for _, tx := range ordered {
		alloc := out[tx.ID]
		alloc.Status = DeriveStatus(tx.Amount, alloc.LetteredAmount)
		alloc.LetteredAt = nextLetteredAt(tx, alloc.Status)
		out[tx.ID] = alloc
	}
	return out, nil
}

func allocateSide(out map[int64]Allocation, side []ledger.Transaction, matchedTotal decimal.Decimal) {
	remaining := matchedTotal
	for _, tx := range side {
		allocation := money.Min(tx.Amount, remaining)
		out[tx.ID] = Allocation{LetteredAmount: money.Amount(allocation)}
		remaining = remaining.Sub(allocation)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
	}
}

// allocateUngrouped handles lines carrying no letterRef: a zero-amount line
// is trivially matched, anything else is unmatched.
func allocateUngrouped(tx ledger.Transaction) Allocation {
	alloc := Allocation{LetteredAmount: decimal.Zero}
	if money.ApproxZero(tx.Amount) {
		alloc.LetteredAmount = tx.Amount
	}
	alloc.Status = DeriveStatus(tx.Amount, alloc.LetteredAmount)
	alloc.LetteredAt = nextLetteredAt(tx, alloc.Status)
	return alloc
}

// nextLetteredAt keeps the recorded timestamp while the line stays matched,
// stamps the line's own date on a fresh match, and clears it on regression.
func nextLetteredAt(tx ledger.Transaction, status ledger.LetterStatus) *time.Time {
	if status == ledger.LetterStatusMatched {
		if tx.LetteredAt != nil {
			return tx.LetteredAt
		}
		date := tx.Date
		return &date
	}
	return nil
}

// changed reports whether the stored lettering state differs from the target.
func changed(tx ledger.Transaction, alloc Allocation) bool {
	if tx.LetterStatus != alloc.Status {
		return true
	}
	if !money.ApproxEqual(tx.LetteredAmount, alloc.LetteredAmount) {
		return true
	}
	return !timePtrEqual(tx.LetteredAt, alloc.LetteredAt)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
