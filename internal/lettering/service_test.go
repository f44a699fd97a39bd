package lettering

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/comptoir-erp/comptoir/internal/ledger"
)

type memoryRepo struct {
	mu      sync.Mutex
	txs     map[int64]ledger.Transaction
	nextID  int64
	nextRef int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{txs: make(map[int64]ledger.Transaction)}
}

func (r *memoryRepo) add(tx ledger.Transaction) ledger.Transaction {
	if tx.ID == 0 {
		r.nextID++
		tx.ID = r.nextID
	} else if tx.ID > r.nextID {
		r.nextID = tx.ID
	}
	r.txs[tx.ID] = tx
	return tx
}

func (r *memoryRepo) sorted(keep func(ledger.Transaction) bool) []ledger.Transaction {
	var out []ledger.Transaction
	for _, tx := range r.txs {
		if keep(tx) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// WithTx serializes units of work, the way row locks would in PostgreSQL.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make(map[int64]ledger.Transaction, len(r.txs))
	for k, v := range r.txs {
		snapshot[k] = v
	}
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.txs = snapshot
		return err
	}
	return nil
}

func (r *memoryRepo) GetEntryBySource(ctx context.Context, sourceType string, sourceID uuid.UUID) (ledger.JournalEntry, error) {
	return ledger.JournalEntry{}, ledger.ErrJournalNotFound
}

func (r *memoryRepo) GetEntryWithLines(ctx context.Context, entryID int64) (ledger.JournalEntry, error) {
	return ledger.JournalEntry{}, ledger.ErrJournalNotFound
}

func (r *memoryRepo) ListEntries(ctx context.Context, from, to time.Time) ([]ledger.JournalEntry, error) {
	return nil, nil
}

func (r *memoryRepo) ListLetterRefs(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	for _, tx := range r.txs {
		if tx.LetterRef != nil {
			seen[*tx.LetterRef] = true
		}
	}
	refs := make([]string, 0, len(seen))
	for ref := range seen {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs, nil
}

func (r *memoryRepo) ListUngrouped(ctx context.Context) ([]ledger.Transaction, error) {
	return r.sorted(func(tx ledger.Transaction) bool { return tx.LetterRef == nil }), nil
}

func (r *memoryRepo) GetAccount(ctx context.Context, id int64) (ledger.Account, error) {
	return ledger.Account{}, ledger.ErrAccountNotFound
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) InsertJournalEntry(ctx context.Context, entry ledger.JournalEntry) (ledger.JournalEntry, error) {
	return entry, nil
}

func (t *memoryTx) InsertTransactions(ctx context.Context, entryID int64, lines []ledger.Transaction) ([]ledger.Transaction, error) {
	return lines, nil
}

func (t *memoryTx) GetEntryBySource(ctx context.Context, sourceType string, sourceID uuid.UUID) (ledger.JournalEntry, error) {
	return ledger.JournalEntry{}, ledger.ErrJournalNotFound
}

func (t *memoryTx) LockGroup(ctx context.Context, letterRef string) ([]ledger.Transaction, error) {
	return t.repo.sorted(func(tx ledger.Transaction) bool {
		return tx.LetterRef != nil && *tx.LetterRef == letterRef
	}), nil
}

func (t *memoryTx) LockMovementTransactions(ctx context.Context, movementID uuid.UUID) ([]ledger.Transaction, error) {
	return t.repo.sorted(func(tx ledger.Transaction) bool {
		return tx.MoneyMovementID != nil && *tx.MoneyMovementID == movementID
	}), nil
}

func (t *memoryTx) LockOutstandingByParty(ctx context.Context, partyID int64, kind string) ([]ledger.Transaction, error) {
	out := t.repo.sorted(func(tx ledger.Transaction) bool {
		return tx.PartyID != nil && *tx.PartyID == partyID && tx.Kind == kind && tx.LetterStatus != ledger.LetterStatusMatched
	})
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].DueDate, out[j].DueDate
		switch {
		case a == nil && b == nil:
			return false
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
	return out, nil
}

func (t *memoryTx) AssignLetterRef(ctx context.Context, txIDs []int64, letterRef string) error {
	for _, id := range txIDs {
		tx, ok := t.repo.txs[id]
		if !ok {
			return ledger.ErrTransactionNotFound
		}
		ref := letterRef
		tx.LetterRef = &ref
		t.repo.txs[id] = tx
	}
	return nil
}

func (t *memoryTx) UpdateLettering(ctx context.Context, txID int64, lettered decimal.Decimal, status ledger.LetterStatus, letteredAt *time.Time) error {
	tx, ok := t.repo.txs[txID]
	if !ok {
		return ledger.ErrTransactionNotFound
	}
	tx.LetteredAmount = lettered
	tx.LetterStatus = status
	tx.LetteredAt = letteredAt
	t.repo.txs[txID] = tx
	return nil
}

func (t *memoryTx) NextLetterRef(ctx context.Context) (string, error) {
	t.repo.nextRef++
	return fmt.Sprintf("LTR-%06d", t.repo.nextRef), nil
}

func groupedLine(id int64, d int, dir ledger.Direction, amount, ref string) ledger.Transaction {
	tx := line(id, d, dir, amount)
	tx.LetterRef = &ref
	return tx
}

func TestRecomputeGroup(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	repo.add(groupedLine(1, 1, ledger.DirectionDebit, "100", "LTR-000001"))
	repo.add(groupedLine(2, 2, ledger.DirectionCredit, "60", "LTR-000001"))
	repo.add(groupedLine(3, 3, ledger.DirectionCredit, "40", "LTR-000001"))

	updated, err := svc.RecomputeGroup(ctx, "LTR-000001")
	require.NoError(t, err)
	require.Equal(t, 3, updated)

	for id := int64(1); id <= 3; id++ {
		require.Equal(t, ledger.LetterStatusMatched, repo.txs[id].LetterStatus)
		require.NotNil(t, repo.txs[id].LetteredAt)
	}
	require.True(t, repo.txs[1].LetteredAmount.Equal(dec("100.00")))
	require.True(t, repo.txs[2].LetteredAmount.Equal(dec("60.00")))
	require.True(t, repo.txs[3].LetteredAmount.Equal(dec("40.00")))

	// second run finds a consistent group and writes nothing
	updated, err = svc.RecomputeGroup(ctx, "LTR-000001")
	require.NoError(t, err)
	require.Zero(t, updated)
}

func TestRecomputeGroupRegression(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	stamped := day(5)
	matched := groupedLine(1, 1, ledger.DirectionDebit, "100", "LTR-000001")
	matched.LetteredAmount = dec("100")
	matched.LetterStatus = ledger.LetterStatusMatched
	matched.LetteredAt = &stamped
	repo.add(matched)
	repo.add(groupedLine(2, 2, ledger.DirectionCredit, "60", "LTR-000001"))

	_, err := svc.RecomputeGroup(ctx, "LTR-000001")
	require.NoError(t, err)

	require.Equal(t, ledger.LetterStatusPartial, repo.txs[1].LetterStatus)
	require.True(t, repo.txs[1].LetteredAmount.Equal(dec("60.00")))
	require.Nil(t, repo.txs[1].LetteredAt, "regressed line loses its timestamp")
	require.Equal(t, ledger.LetterStatusMatched, repo.txs[2].LetterStatus)
}

func TestRecomputeAll(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	repo.add(groupedLine(1, 1, ledger.DirectionDebit, "50", "LTR-000001"))
	repo.add(groupedLine(2, 2, ledger.DirectionCredit, "50", "LTR-000001"))
	repo.add(groupedLine(3, 1, ledger.DirectionDebit, "80", "LTR-000002"))
	repo.add(groupedLine(4, 2, ledger.DirectionCredit, "30", "LTR-000002"))
	repo.add(line(5, 3, ledger.DirectionDebit, "0")) // ungrouped zero line

	summary, err := svc.RecomputeAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Groups)
	require.Equal(t, 5, summary.UpdatedLines)

	require.Equal(t, ledger.LetterStatusMatched, repo.txs[1].LetterStatus)
	require.Equal(t, ledger.LetterStatusMatched, repo.txs[2].LetterStatus)
	require.Equal(t, ledger.LetterStatusPartial, repo.txs[3].LetterStatus)
	require.Equal(t, ledger.LetterStatusMatched, repo.txs[4].LetterStatus)
	require.Equal(t, ledger.LetterStatusMatched, repo.txs[5].LetterStatus, "zero amount is trivially matched")

	// the pass reaches a fixed point
	summary, err = svc.RecomputeAll(ctx)
	require.NoError(t, err)
	require.Zero(t, summary.UpdatedLines)
}

func TestMatchPaymentFull(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	party := int64(7)
	movement := uuid.New()

	invoice := line(1, 1, ledger.DirectionCredit, "100")
	invoice.Kind = KindPayable
	invoice.PartyID = &party
	repo.add(invoice)

	payment := line(2, 10, ledger.DirectionDebit, "100")
	payment.Kind = KindPayment
	payment.PartyID = &party
	payment.MoneyMovementID = &movement
	repo.add(payment)

	result, err := svc.MatchPayment(ctx, movement)
	require.NoError(t, err)
	require.Equal(t, MatchStatusMatched, result.Status)
	require.Equal(t, "LTR-000001", result.LetterRef)

	require.Equal(t, ledger.LetterStatusMatched, repo.txs[1].LetterStatus)
	require.Equal(t, ledger.LetterStatusMatched, repo.txs[2].LetterStatus)
	require.NotNil(t, repo.txs[1].LetterRef)
	require.Equal(t, "LTR-000001", *repo.txs[1].LetterRef)
}

func TestMatchPaymentPartialLeftover(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	party := int64(7)
	movement := uuid.New()

	invoice := line(1, 1, ledger.DirectionCredit, "60")
	invoice.Kind = KindPayable
	invoice.PartyID = &party
	repo.add(invoice)

	payment := line(2, 10, ledger.DirectionDebit, "100")
	payment.Kind = KindPayment
	payment.PartyID = &party
	payment.MoneyMovementID = &movement
	repo.add(payment)

	result, err := svc.MatchPayment(ctx, movement)
	require.NoError(t, err)
	require.Equal(t, MatchStatusPartial, result.Status, "payment exceeds outstanding invoices")

	require.Equal(t, ledger.LetterStatusPartial, repo.txs[2].LetterStatus)
	require.True(t, repo.txs[2].LetteredAmount.Equal(dec("60.00")))
	require.Equal(t, ledger.LetterStatusMatched, repo.txs[1].LetterStatus)
}

func TestMatchPaymentOldestDueFirst(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	party := int64(3)
	movement := uuid.New()
	dueOld, dueNew := day(2), day(20)

	older := line(1, 1, ledger.DirectionCredit, "40")
	older.Kind = KindPayable
	older.PartyID = &party
	older.DueDate = &dueOld
	repo.add(older)

	newer := line(2, 1, ledger.DirectionCredit, "40")
	newer.Kind = KindPayable
	newer.PartyID = &party
	newer.DueDate = &dueNew
	repo.add(newer)

	payment := line(3, 10, ledger.DirectionDebit, "40")
	payment.Kind = KindPayment
	payment.PartyID = &party
	payment.MoneyMovementID = &movement
	repo.add(payment)

	result, err := svc.MatchPayment(ctx, movement)
	require.NoError(t, err)
	require.Equal(t, MatchStatusMatched, result.Status)

	require.Equal(t, ledger.LetterStatusMatched, repo.txs[1].LetterStatus, "earliest due date is settled first")
	require.Equal(t, ledger.LetterStatusUnmatched, repo.txs[2].LetterStatus)
	require.Nil(t, repo.txs[2].LetterRef)
}

func TestMatchPaymentReceivableSide(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	party := int64(9)
	movement := uuid.New()

	invoice := line(1, 1, ledger.DirectionDebit, "75")
	invoice.Kind = KindReceivable
	invoice.PartyID = &party
	repo.add(invoice)

	// a client payment credits receivables
	payment := line(2, 10, ledger.DirectionCredit, "75")
	payment.Kind = KindPayment
	payment.PartyID = &party
	payment.MoneyMovementID = &movement
	repo.add(payment)

	result, err := svc.MatchPayment(ctx, movement)
	require.NoError(t, err)
	require.Equal(t, MatchStatusMatched, result.Status)
	require.Equal(t, ledger.LetterStatusMatched, repo.txs[1].LetterStatus)
}

func TestMatchPaymentReusesExistingRef(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	party := int64(4)
	movement := uuid.New()

	invoice := groupedLine(1, 1, ledger.DirectionCredit, "100", "LTR-000042")
	invoice.Kind = KindPayable
	invoice.PartyID = &party
	invoice.LetteredAmount = dec("20")
	invoice.LetterStatus = ledger.LetterStatusPartial
	repo.add(invoice)

	payment := line(2, 10, ledger.DirectionDebit, "80")
	payment.Kind = KindPayment
	payment.PartyID = &party
	payment.MoneyMovementID = &movement
	repo.add(payment)

	result, err := svc.MatchPayment(ctx, movement)
	require.NoError(t, err)
	require.Equal(t, "LTR-000042", result.LetterRef, "the target's group is reused, not replaced")
	require.Equal(t, "LTR-000042", *repo.txs[2].LetterRef)
}

func TestMatchPaymentNoTransactions(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)

	result, err := svc.MatchPayment(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Equal(t, MatchStatusNoTransactions, result.Status)
}

func TestMatchPaymentAlreadyMatched(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	party := int64(5)
	movement := uuid.New()

	payment := groupedLine(1, 10, ledger.DirectionDebit, "50", "LTR-000009")
	payment.Kind = KindPayment
	payment.PartyID = &party
	payment.MoneyMovementID = &movement
	payment.LetteredAmount = dec("50")
	payment.LetterStatus = ledger.LetterStatusMatched
	repo.add(payment)

	result, err := svc.MatchPayment(ctx, movement)
	require.NoError(t, err)
	require.Equal(t, MatchStatusAlreadyMatched, result.Status)
	require.Equal(t, "LTR-000009", result.LetterRef)
}
