package posting

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/comptoir-erp/comptoir/internal/ledger"
	_ "github.com/comptoir-erp/comptoir/internal/testing/guard"
)

type memoryRepo struct {
	entries []ledger.JournalEntry
	txs     []ledger.Transaction
	nextID  int64
	nextNum int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	entries := append([]ledger.JournalEntry(nil), r.entries...)
	txs := append([]ledger.Transaction(nil), r.txs...)
	id, num := r.nextID, r.nextNum
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.entries, r.txs, r.nextID, r.nextNum = entries, txs, id, num
		return err
	}
	return nil
}

func (r *memoryRepo) GetEntryBySource(ctx context.Context, sourceType string, sourceID uuid.UUID) (ledger.JournalEntry, error) {
	for _, e := range r.entries {
		if e.SourceType == sourceType && e.SourceID == sourceID {
			return e, nil
		}
	}
	return ledger.JournalEntry{}, ledger.ErrJournalNotFound
}

func (r *memoryRepo) GetEntryWithLines(ctx context.Context, entryID int64) (ledger.JournalEntry, error) {
	for _, e := range r.entries {
		if e.ID == entryID {
			return e, nil
		}
	}
	return ledger.JournalEntry{}, ledger.ErrJournalNotFound
}

func (r *memoryRepo) ListEntries(ctx context.Context, from, to time.Time) ([]ledger.JournalEntry, error) {
	return append([]ledger.JournalEntry(nil), r.entries...), nil
}

func (r *memoryRepo) ListLetterRefs(ctx context.Context) ([]string, error) { return nil, nil }

func (r *memoryRepo) ListUngrouped(ctx context.Context) ([]ledger.Transaction, error) {
	return nil, nil
}

func (r *memoryRepo) GetAccount(ctx context.Context, id int64) (ledger.Account, error) {
	return ledger.Account{ID: id}, nil
}

func (tx *memoryTx) InsertJournalEntry(ctx context.Context, entry ledger.JournalEntry) (ledger.JournalEntry, error) {
	for _, e := range tx.repo.entries {
		if e.SourceType == entry.SourceType && e.SourceID == entry.SourceID {
			return ledger.JournalEntry{}, ledger.ErrSourceConflict
		}
	}
	tx.repo.nextID++
	tx.repo.nextNum++
	entry.ID = tx.repo.nextID
	entry.Number = tx.repo.nextNum
	entry.CreatedAt = time.Now()
	tx.repo.entries = append(tx.repo.entries, entry)
	return entry, nil
}

func (tx *memoryTx) InsertTransactions(ctx context.Context, entryID int64, lines []ledger.Transaction) ([]ledger.Transaction, error) {
	out := make([]ledger.Transaction, 0, len(lines))
	for _, line := range lines {
		tx.repo.nextID++
		line.ID = tx.repo.nextID
		line.JournalEntryID = &entryID
		tx.repo.txs = append(tx.repo.txs, line)
		out = append(out, line)
	}
	for i := range tx.repo.entries {
		if tx.repo.entries[i].ID == entryID {
			tx.repo.entries[i].Lines = out
		}
	}
	return out, nil
}

func (tx *memoryTx) GetEntryBySource(ctx context.Context, sourceType string, sourceID uuid.UUID) (ledger.JournalEntry, error) {
	return tx.repo.GetEntryBySource(ctx, sourceType, sourceID)
}

func (tx *memoryTx) LockGroup(ctx context.Context, letterRef string) ([]ledger.Transaction, error) {
	return nil, nil
}

func (tx *memoryTx) LockMovementTransactions(ctx context.Context, movementID uuid.UUID) ([]ledger.Transaction, error) {
	return nil, nil
}

func (tx *memoryTx) LockOutstandingByParty(ctx context.Context, partyID int64, kind string) ([]ledger.Transaction, error) {
	return nil, nil
}

func (tx *memoryTx) AssignLetterRef(ctx context.Context, txIDs []int64, letterRef string) error {
	return nil
}

func (tx *memoryTx) UpdateLettering(ctx context.Context, txID int64, lettered decimal.Decimal, status ledger.LetterStatus, letteredAt *time.Time) error {
	return nil
}

func (tx *memoryTx) NextLetterRef(ctx context.Context) (string, error) { return "LTR-000001", nil }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func balancedInput(sourceID uuid.UUID) PostingInput {
	return PostingInput{
		SourceType:  "INVOICE",
		SourceID:    sourceID,
		Date:        time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		Description: "Invoice FA-2025-001",
		Lines: []LineInput{
			{AccountID: 1, Direction: ledger.DirectionDebit, Amount: dec("60"), Kind: "SALE"},
			{AccountID: 2, Direction: ledger.DirectionCredit, Amount: dec("60"), Kind: "SALE"},
		},
	}
}

func TestPostBalancedBatch(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	entry, err := svc.Post(ctx, balancedInput(uuid.New()))
	require.NoError(t, err)
	require.Equal(t, ledger.EntryStatusPosted, entry.Status)
	require.Equal(t, int64(1), entry.Number)
	require.Equal(t, "JRN-000001", entry.Ref())
	require.Len(t, entry.Lines, 2)
	for _, line := range entry.Lines {
		require.NotNil(t, line.JournalEntryID)
		require.Equal(t, entry.ID, *line.JournalEntryID)
		require.Equal(t, ledger.LetterStatusUnmatched, line.LetterStatus)
	}
	debit, credit := entry.Totals()
	require.True(t, debit.Equal(credit))
}

func TestPostImbalancedBatchRejected(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	input := balancedInput(uuid.New())
	input.Lines[1].Amount = dec("59.98")
	_, err := svc.Post(ctx, input)
	var imbalanced *ledger.ImbalancedBatchError
	require.ErrorAs(t, err, &imbalanced)
	require.True(t, imbalanced.Debit.Equal(dec("60")))
	require.True(t, imbalanced.Credit.Equal(dec("59.98")))
	require.Empty(t, repo.entries)
	require.Empty(t, repo.txs)
}

func TestPostWithinTolerance(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	input := balancedInput(uuid.New())
	input.Lines[1].Amount = dec("59.99")
	_, err := svc.Post(ctx, input)
	require.NoError(t, err)
}

func TestDuplicatePostingRejected(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	sourceID := uuid.New()
	_, err := svc.Post(ctx, balancedInput(sourceID))
	require.NoError(t, err)

	_, err = svc.Post(ctx, balancedInput(sourceID))
	var dup *ledger.DuplicatePostingError
	require.ErrorAs(t, err, &dup)
	require.Equal(t, "INVOICE", dup.SourceType)
	require.Equal(t, sourceID, dup.SourceID)
	require.Len(t, repo.entries, 1)
}

func TestValidateRejectsBadLines(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryRepo(), nil, nil, nil)

	input := balancedInput(uuid.New())
	input.Lines = nil
	_, err := svc.Post(ctx, input)
	require.ErrorIs(t, err, ledger.ErrEmptyBatch)

	input = balancedInput(uuid.New())
	input.Lines[0].AccountID = 0
	_, err = svc.Post(ctx, input)
	require.Error(t, err)

	input = balancedInput(uuid.New())
	input.Lines[0].Amount = dec("-5")
	_, err = svc.Post(ctx, input)
	require.Error(t, err)

	input = balancedInput(uuid.New())
	input.Lines[0].Direction = "SIDEWAYS"
	_, err = svc.Post(ctx, input)
	require.Error(t, err)
}

func TestAmountsRoundedAtWrite(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	input := balancedInput(uuid.New())
	input.Lines[0].Amount = dec("60.004")
	input.Lines[1].Amount = dec("59.996")
	entry, err := svc.Post(ctx, input)
	require.NoError(t, err)
	require.True(t, entry.Lines[0].Amount.Equal(dec("60.00")))
	require.True(t, entry.Lines[1].Amount.Equal(dec("60.00")))
}
