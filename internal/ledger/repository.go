package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/comptoir-erp/comptoir/internal/platform/db"
)

// Repository exposes the persistent ledger primitives the posting, lettering
// and reconciliation services build on.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetEntryBySource(ctx context.Context, sourceType string, sourceID uuid.UUID) (JournalEntry, error)
	GetEntryWithLines(ctx context.Context, entryID int64) (JournalEntry, error)
	ListEntries(ctx context.Context, from, to time.Time) ([]JournalEntry, error)
	ListLetterRefs(ctx context.Context) ([]string, error)
	ListUngrouped(ctx context.Context) ([]Transaction, error)
	GetAccount(ctx context.Context, id int64) (Account, error)
}

// TxRepository exposes the operations available inside one unit of work.
type TxRepository interface {
	InsertJournalEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	InsertTransactions(ctx context.Context, entryID int64, lines []Transaction) ([]Transaction, error)
	GetEntryBySource(ctx context.Context, sourceType string, sourceID uuid.UUID) (JournalEntry, error)

	// Lettering primitives. Lock* methods take row locks so recomputation is
	// serialized per group.
	LockGroup(ctx context.Context, letterRef string) ([]Transaction, error)
	LockMovementTransactions(ctx context.Context, movementID uuid.UUID) ([]Transaction, error)
	LockOutstandingByParty(ctx context.Context, partyID int64, kind string) ([]Transaction, error)
	AssignLetterRef(ctx context.Context, txIDs []int64, letterRef string) error
	UpdateLettering(ctx context.Context, txID int64, lettered decimal.Decimal, status LetterStatus, letteredAt *time.Time) error
	NextLetterRef(ctx context.Context) (string, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL-backed ledger store.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const entryColumns = `id, number, date, source_type, source_id, description, status, created_at`

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.Number, &e.Date, &e.SourceType, &e.SourceID, &e.Description, &e.Status, &e.CreatedAt)
	return e, err
}

func (r *repository) GetEntryBySource(ctx context.Context, sourceType string, sourceID uuid.UUID) (JournalEntry, error) {
	entry, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE source_type=$1 AND source_id=$2`, sourceType, sourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	lines, err := r.listLines(ctx, r.pool, entry.ID)
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Lines = lines
	return entry, nil
}

func (r *repository) GetEntryWithLines(ctx context.Context, entryID int64) (JournalEntry, error) {
	entry, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id=$1`, entryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	lines, err := r.listLines(ctx, r.pool, entry.ID)
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Lines = lines
	return entry, nil
}

func (r *repository) ListEntries(ctx context.Context, from, to time.Time) ([]JournalEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE date >= $1 AND date <= $2 ORDER BY number ASC`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *repository) ListLetterRefs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT letter_ref FROM transactions WHERE letter_ref IS NOT NULL ORDER BY letter_ref ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r *repository) ListUngrouped(ctx context.Context) ([]Transaction, error) {
	return queryTransactions(ctx, r.pool, `SELECT `+txColumns+` FROM transactions WHERE letter_ref IS NULL ORDER BY date ASC, id ASC`)
}

func (r *repository) GetAccount(ctx context.Context, id int64) (Account, error) {
	var acc Account
	err := r.pool.QueryRow(ctx, `SELECT id, number, label, created_at FROM accounts WHERE id=$1`, id).
		Scan(&acc.ID, &acc.Number, &acc.Label, &acc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return acc, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const txColumns = `id, date, account_id, direction, amount, kind, description, party_id, due_date,
letter_ref, lettered_amount, letter_status, lettered_at, journal_entry_id, money_movement_id, created_at`

func queryTransactions(ctx context.Context, q querier, sql string, args ...any) ([]Transaction, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var txs []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.Date, &t.AccountID, &t.Direction, &t.Amount, &t.Kind, &t.Description,
			&t.PartyID, &t.DueDate, &t.LetterRef, &t.LetteredAmount, &t.LetterStatus, &t.LetteredAt,
			&t.JournalEntryID, &t.MoneyMovementID, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (r *repository) listLines(ctx context.Context, q querier, entryID int64) ([]Transaction, error) {
	return queryTransactions(ctx, q, `SELECT `+txColumns+` FROM transactions WHERE journal_entry_id=$1 ORDER BY id ASC`, entryID)
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) InsertJournalEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (date, source_type, source_id, description, status)
VALUES ($1,$2,$3,$4,$5) RETURNING id, number, created_at`, entry.Date, entry.SourceType, entry.SourceID, entry.Description, entry.Status)
	if err := row.Scan(&entry.ID, &entry.Number, &entry.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "uq_journal_entries_source" {
			return JournalEntry{}, ErrSourceConflict
		}
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) InsertTransactions(ctx context.Context, entryID int64, lines []Transaction) ([]Transaction, error) {
	out := make([]Transaction, 0, len(lines))
	for _, line := range lines {
		row := r.tx.QueryRow(ctx, `INSERT INTO transactions
(date, account_id, direction, amount, kind, description, party_id, due_date, lettered_amount, letter_status, journal_entry_id, money_movement_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,0,'UNMATCHED',$9,$10) RETURNING id, created_at`,
			line.Date, line.AccountID, line.Direction, line.Amount, line.Kind, line.Description,
			line.PartyID, line.DueDate, entryID, line.MoneyMovementID)
		if err := row.Scan(&line.ID, &line.CreatedAt); err != nil {
			return nil, err
		}
		line.JournalEntryID = &entryID
		line.LetteredAmount = decimal.Zero
		line.LetterStatus = LetterStatusUnmatched
		out = append(out, line)
	}
	return out, nil
}

func (r *txRepository) GetEntryBySource(ctx context.Context, sourceType string, sourceID uuid.UUID) (JournalEntry, error) {
	entry, err := scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE source_type=$1 AND source_id=$2 FOR UPDATE`, sourceType, sourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) LockGroup(ctx context.Context, letterRef string) ([]Transaction, error) {
	return queryTransactions(ctx, r.tx, `SELECT `+txColumns+` FROM transactions WHERE letter_ref=$1 ORDER BY date ASC, id ASC FOR UPDATE`, letterRef)
}

func (r *txRepository) LockMovementTransactions(ctx context.Context, movementID uuid.UUID) ([]Transaction, error) {
	return queryTransactions(ctx, r.tx, `SELECT `+txColumns+` FROM transactions WHERE money_movement_id=$1 ORDER BY date ASC, id ASC FOR UPDATE`, movementID)
}

func (r *txRepository) LockOutstandingByParty(ctx context.Context, partyID int64, kind string) ([]Transaction, error) {
	return queryTransactions(ctx, r.tx, `SELECT `+txColumns+` FROM transactions
WHERE party_id=$1 AND kind=$2 AND letter_status <> 'MATCHED'
ORDER BY due_date ASC NULLS LAST, date ASC, id ASC FOR UPDATE`, partyID, kind)
}

func (r *txRepository) AssignLetterRef(ctx context.Context, txIDs []int64, letterRef string) error {
	if len(txIDs) == 0 {
		return nil
	}
	_, err := r.tx.Exec(ctx, `UPDATE transactions SET letter_ref=$2 WHERE id = ANY($1)`, txIDs, letterRef)
	return err
}

func (r *txRepository) UpdateLettering(ctx context.Context, txID int64, lettered decimal.Decimal, status LetterStatus, letteredAt *time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE transactions SET lettered_amount=$2, letter_status=$3, lettered_at=$4 WHERE id=$1`,
		txID, lettered, status, letteredAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *txRepository) NextLetterRef(ctx context.Context) (string, error) {
	var seq int64
	if err := r.tx.QueryRow(ctx, `SELECT nextval('letter_ref_seq')`).Scan(&seq); err != nil {
		return "", err
	}
	return fmt.Sprintf("LTR-%06d", seq), nil
}
