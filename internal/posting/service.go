package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/comptoir-erp/comptoir/internal/ledger"
	"github.com/comptoir-erp/comptoir/internal/money"
	"github.com/comptoir-erp/comptoir/internal/observability"
	"github.com/comptoir-erp/comptoir/internal/shared"
)

// AuditPort abstracts the operational audit trail.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service turns a balanced batch of transaction candidates into one immutable
// journal entry.
type Service struct {
	repo    ledger.Repository
	audit   AuditPort
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds the poster.
func NewService(repo ledger.Repository, audit AuditPort, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, metrics: metrics, logger: logger, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Post creates the entry and its lines inside one unit of work. A batch that
// does not balance within the currency tolerance is rejected whole; a source
// that was already posted is rejected with DuplicatePostingError.
func (s *Service) Post(ctx context.Context, input PostingInput) (ledger.JournalEntry, error) {
	if err := input.Validate(); err != nil {
		var imbalanced *ledger.ImbalancedBatchError
		if errors.As(err, &imbalanced) {
			s.metrics.PostingRejected("imbalanced")
		}
		return ledger.JournalEntry{}, err
	}
	var entry ledger.JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		// Existence check first for a clean error; the unique constraint on
		// (source_type, source_id) closes the race.
		if _, err := tx.GetEntryBySource(ctx, input.SourceType, input.SourceID); err == nil {
			return &ledger.DuplicatePostingError{SourceType: input.SourceType, SourceID: input.SourceID}
		} else if !errors.Is(err, ledger.ErrJournalNotFound) {
			return err
		}
		inserted, err := tx.InsertJournalEntry(ctx, ledger.JournalEntry{
			Date:        input.Date,
			SourceType:  input.SourceType,
			SourceID:    input.SourceID,
			Description: input.Description,
			Status:      ledger.EntryStatusPosted,
		})
		if err != nil {
			if errors.Is(err, ledger.ErrSourceConflict) {
				return &ledger.DuplicatePostingError{SourceType: input.SourceType, SourceID: input.SourceID}
			}
			return err
		}
		lines, err := tx.InsertTransactions(ctx, inserted.ID, toTransactions(input))
		if err != nil {
			return err
		}
		inserted.Lines = lines
		entry = inserted
		return nil
	})
	if err != nil {
		var dup *ledger.DuplicatePostingError
		if errors.As(err, &dup) {
			s.metrics.PostingRejected("duplicate")
		}
		return ledger.JournalEntry{}, err
	}
	s.metrics.JournalPosted()
	if s.logger != nil {
		s.logger.Info("journal posted",
			slog.String("ref", entry.Ref()),
			slog.String("source_type", entry.SourceType),
			slog.String("source_id", entry.SourceID.String()),
			slog.Int("lines", len(entry.Lines)))
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   "journal.post",
			Entity:   "journal_entry",
			EntityID: fmt.Sprintf("%d", entry.ID),
			Meta: map[string]any{
				"number":      entry.Number,
				"source_type": entry.SourceType,
				"source_id":   entry.SourceID.String(),
			},
			At: s.now(),
		})
	}
	return entry, nil
}

// GetBySource returns the posted entry for a correlation pair.
func (s *Service) GetBySource(ctx context.Context, sourceType string, sourceID uuid.UUID) (ledger.JournalEntry, error) {
	return s.repo.GetEntryBySource(ctx, sourceType, sourceID)
}

// ListByDateRange returns entry headers for a period.
func (s *Service) ListByDateRange(ctx context.Context, from, to time.Time) ([]ledger.JournalEntry, error) {
	return s.repo.ListEntries(ctx, from, to)
}

func toTransactions(input PostingInput) []ledger.Transaction {
	out := make([]ledger.Transaction, 0, len(input.Lines))
	for _, line := range input.Lines {
		out = append(out, ledger.Transaction{
			Date:            input.Date,
			AccountID:       line.AccountID,
			Direction:       line.Direction,
			Amount:          money.Amount(line.Amount),
			Kind:            line.Kind,
			Description:     line.Description,
			PartyID:         line.PartyID,
			DueDate:         line.DueDate,
			MoneyMovementID: line.MoneyMovementID,
			LetterStatus:    ledger.LetterStatusUnmatched,
		})
	}
	return out
}
