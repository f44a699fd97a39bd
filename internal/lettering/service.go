package lettering

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/comptoir-erp/comptoir/internal/ledger"
	"github.com/comptoir-erp/comptoir/internal/money"
	"github.com/comptoir-erp/comptoir/internal/observability"
)

// Transaction kinds the matcher cares about. Kind is free-form on the ledger
// line; these are the conventional tags used by the payment flows.
const (
	KindPayment    = "PAYMENT"
	KindPayable    = "PAYABLE"
	KindReceivable = "RECEIVABLE"
)

// MatchPayment outcome statuses.
const (
	MatchStatusMatched        = "MATCHED"
	MatchStatusPartial        = "PARTIAL"
	MatchStatusAlreadyMatched = "ALREADY_MATCHED"
	MatchStatusNoTransactions = "NO_TRANSACTIONS"
)

// recomputeParallelism bounds concurrent group recomputation. Groups share
// no state; lines within one group are serialized by row locks.
const recomputeParallelism = 4

// Service recomputes and records lettering state.
type Service struct {
	repo    ledger.Repository
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds the lettering engine.
func NewService(repo ledger.Repository, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{repo: repo, metrics: metrics, logger: logger, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// RecomputeGroup recomputes one letterRef group inside its own unit of work
// and returns the number of lines whose stored state changed. Re-running on
// a consistent group is a no-op.
func (s *Service) RecomputeGroup(ctx context.Context, letterRef string) (int, error) {
	var updated int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		txs, err := tx.LockGroup(ctx, letterRef)
		if err != nil {
			return err
		}
		updated, err = recomputeLocked(ctx, tx, letterRef, txs)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.metrics.LetteringRecomputed(updated)
	return updated, nil
}

func recomputeLocked(ctx context.Context, tx ledger.TxRepository, letterRef string, txs []ledger.Transaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}
	allocs, err := allocateGroup(letterRef, txs)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, line := range txs {
		alloc := allocs[line.ID]
		if !changed(line, alloc) {
			continue
		}
		if err := tx.UpdateLettering(ctx, line.ID, alloc.LetteredAmount, alloc.Status, alloc.LetteredAt); err != nil {
			return 0, err
		}
		updated++
	}
	return updated, nil
}

// Summary reports a full recomputation pass.
type Summary struct {
	Groups       int
	UpdatedLines int
}

// RecomputeAll walks every letterRef group plus the ungrouped lines. Each
// group commits in its own unit of work: the pass is at-least-once and
// resumable, since recomputation is idempotent. Unrelated groups run in
// parallel.
func (s *Service) RecomputeAll(ctx context.Context) (Summary, error) {
	refs, err := s.repo.ListLetterRefs(ctx)
	if err != nil {
		return Summary{}, err
	}
	var mu sync.Mutex
	summary := Summary{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(recomputeParallelism)
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			updated, err := s.RecomputeGroup(gctx, ref)
			if err != nil {
				return err
			}
			mu.Lock()
			summary.Groups++
			summary.UpdatedLines += updated
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	ungrouped, err := s.repo.ListUngrouped(ctx)
	if err != nil {
		return summary, err
	}
	if len(ungrouped) > 0 {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
			for _, line := range ungrouped {
				alloc := allocateUngrouped(line)
				if !changed(line, alloc) {
					continue
				}
				if err := tx.UpdateLettering(ctx, line.ID, alloc.LetteredAmount, alloc.Status, alloc.LetteredAt); err != nil {
					return err
				}
				summary.UpdatedLines++
			}
			return nil
		})
		if err != nil {
			return summary, err
		}
	}
	if s.logger != nil {
		s.logger.Info("lettering recompute pass finished",
			slog.Int("groups", summary.Groups),
			slog.Int("updated_lines", summary.UpdatedLines))
	}
	return summary, nil
}

// MatchResult reports an interactive payment match.
type MatchResult struct {
	LetterRef string
	Updated   int
	Status    string
}

// MatchPayment letters a payment movement against the party's outstanding
// counterpart lines, oldest due date first. An existing letterRef on any
// involved line is reused, otherwise a new one is minted. The batch
// recomputation runs on the group afterwards so stored state never diverges
// from the allocator.
func (s *Service) MatchPayment(ctx context.Context, movementID uuid.UUID) (MatchResult, error) {
	var result MatchResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		movementTxs, err := tx.LockMovementTransactions(ctx, movementID)
		if err != nil {
			return err
		}
		var payments []ledger.Transaction
		for _, line := range movementTxs {
			if line.Kind == KindPayment {
				payments = append(payments, line)
			}
		}
		if len(payments) == 0 {
			result = MatchResult{Status: MatchStatusNoTransactions}
			return nil
		}

		remaining := money.Amount(sumOutstanding(payments))
		if money.ApproxZero(remaining) {
			result = MatchResult{Status: MatchStatusAlreadyMatched, LetterRef: derefRef(payments)}
			return nil
		}

		// A supplier payment debits the payables account; a client payment
		// credits receivables. The payment's direction picks the target kind.
		targetKind := KindPayable
		if payments[0].Direction == ledger.DirectionCredit {
			targetKind = KindReceivable
		}

		selected := append([]ledger.Transaction(nil), payments...)
		letterRef := derefRef(payments)
		if payments[0].PartyID != nil {
			targets, err := tx.LockOutstandingByParty(ctx, *payments[0].PartyID, targetKind)
			if err != nil {
				return err
			}
			seen := make(map[int64]bool, len(payments))
			for _, p := range payments {
				seen[p.ID] = true
			}
			for _, target := range targets {
				if money.ApproxZero(remaining) {
					break
				}
				if seen[target.ID] {
					continue
				}
				take := money.Min(target.Outstanding(), remaining)
				if !take.IsPositive() {
					continue
				}
				selected = append(selected, target)
				remaining = remaining.Sub(take)
				if letterRef == "" && target.LetterRef != nil {
					letterRef = *target.LetterRef
				}
			}
		}

		if letterRef == "" {
			letterRef, err = tx.NextLetterRef(ctx)
			if err != nil {
				return err
			}
		}
		ids := make([]int64, 0, len(selected))
		for _, line := range selected {
			ids = append(ids, line.ID)
		}
		if err := tx.AssignLetterRef(ctx, ids, letterRef); err != nil {
			return err
		}

		group, err := tx.LockGroup(ctx, letterRef)
		if err != nil {
			return err
		}
		updated, err := recomputeLocked(ctx, tx, letterRef, group)
		if err != nil {
			return err
		}
		status := MatchStatusMatched
		if !money.ApproxZero(remaining) {
			status = MatchStatusPartial
		}
		result = MatchResult{LetterRef: letterRef, Updated: updated, Status: status}
		return nil
	})
	if err != nil {
		return MatchResult{}, err
	}
	if result.Updated > 0 {
		s.metrics.LetteringRecomputed(result.Updated)
	}
	if s.logger != nil {
		s.logger.Info("payment matched",
			slog.String("movement_id", movementID.String()),
			slog.String("letter_ref", result.LetterRef),
			slog.String("status", result.Status),
			slog.Int("updated", result.Updated))
	}
	return result, nil
}

func sumOutstanding(txs []ledger.Transaction) (total decimal.Decimal) {
	for _, tx := range txs {
		total = total.Add(tx.Outstanding())
	}
	return total
}

func derefRef(txs []ledger.Transaction) string {
	for _, tx := range txs {
		if tx.LetterRef != nil && *tx.LetterRef != "" {
			return *tx.LetterRef
		}
	}
	return ""
}
