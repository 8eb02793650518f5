package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"paysched/internal/amqp"
	"paysched/internal/core"
	"paysched/internal/sheets"
	"paysched/internal/storage"
)

// MirrorWorker copies paid payouts and run summaries from SQLite to the
// bookkeeping mirror.
type MirrorWorker struct {
	storage   *storage.Repository
	mirror    sheets.Mirror
	batchSize int
}

func NewMirrorWorker(storage *storage.Repository, mirror sheets.Mirror, batchSize int) *MirrorWorker {
	return &MirrorWorker{
		storage:   storage,
		mirror:    mirror,
		batchSize: batchSize,
	}
}

// HandlePayoutSync processes a single payout sync message from AMQP.
func (w *MirrorWorker) HandlePayoutSync(ctx context.Context, msg *amqp.PayoutSyncMessage) error {
	slog.InfoContext(ctx, "Processing payout sync message",
		"id", msg.ID,
		"run_id", msg.RunID)

	payout, err := w.storage.GetPayout(ctx, msg.ID)
	if errors.Is(err, storage.ErrNotFound) {
		// The payout was deleted after the event was published
		slog.WarnContext(ctx, "Payout no longer exists, skipping", "id", msg.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get payout from storage: %w", err)
	}

	if payout.Status != core.PayoutPaid {
		slog.InfoContext(ctx, "Payout no longer paid, skipping mirror",
			"id", payout.ID, "status", payout.Status)
		return nil
	}
	if payout.MirrorStatus == core.MirrorSynced {
		slog.InfoContext(ctx, "Payout already mirrored, skipping", "id", payout.ID)
		return nil
	}

	if err := w.mirrorPayout(ctx, payout); err != nil {
		return fmt.Errorf("mirror payout: %w", err)
	}

	return nil
}

// HandleRunCompleted appends a run's summary row to the mirror.
func (w *MirrorWorker) HandleRunCompleted(ctx context.Context, msg *amqp.RunCompletedMessage) error {
	slog.InfoContext(ctx, "Processing run completed message", "run_id", msg.RunID)

	run, err := w.storage.GetRun(ctx, msg.RunID)
	if errors.Is(err, storage.ErrNotFound) {
		slog.WarnContext(ctx, "Run no longer exists, skipping summary", "run_id", msg.RunID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get run from storage: %w", err)
	}

	ref, err := w.mirror.AppendRunSummary(ctx, run)
	if err != nil {
		return fmt.Errorf("append run summary: %w", err)
	}

	slog.InfoContext(ctx, "Mirrored run summary",
		"run_id", run.ID,
		"cycle", run.Cycle(),
		"sheets_ref", ref)

	return nil
}

// ProcessPendingPayouts mirrors paid payouts whose events were lost. This is
// a backup mechanism behind the AMQP path.
func (w *MirrorWorker) ProcessPendingPayouts(ctx context.Context) error {
	pending, err := w.storage.GetPendingMirrorPayouts(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending mirror payouts: %w", err)
	}

	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending mirror payouts", "count", len(pending))

	for _, payout := range pending {
		if err := w.mirrorPayout(ctx, payout); err != nil {
			slog.ErrorContext(ctx, "Failed to mirror payout",
				"id", payout.ID, "error", err)
			continue
		}
	}

	return nil
}

// StartupScan mirrors anything left pending while the worker was down.
func (w *MirrorWorker) StartupScan(ctx context.Context) error {
	// A larger batch than the periodic sweep, downtime can pile rows up
	pending, err := w.storage.GetPendingMirrorPayouts(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("get pending mirror payouts for startup scan: %w", err)
	}

	if len(pending) == 0 {
		slog.InfoContext(ctx, "No pending mirror payouts found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending mirror payouts on startup, processing...",
		"count", len(pending))

	successCount := 0
	errorCount := 0

	for _, payout := range pending {
		if err := w.mirrorPayout(ctx, payout); err != nil {
			slog.ErrorContext(ctx, "Failed to mirror payout during startup",
				"id", payout.ID, "error", err)
			errorCount++
			continue
		}
		successCount++
	}

	slog.InfoContext(ctx, "Startup mirror scan completed",
		"total", len(pending),
		"mirrored", successCount,
		"errors", errorCount)

	return nil
}

func (w *MirrorWorker) mirrorPayout(ctx context.Context, payout core.Payout) error {
	ref, err := w.mirror.AppendPayout(ctx, payout)
	if err != nil {
		if markErr := w.storage.MarkPayoutMirrorError(ctx, payout.ID); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark mirror error",
				"id", payout.ID, "error", markErr)
		}
		return fmt.Errorf("append to mirror: %w", err)
	}

	if err := w.storage.MarkPayoutMirrored(ctx, payout.ID); err != nil {
		slog.ErrorContext(ctx, "Failed to mark payout as mirrored",
			"id", payout.ID, "error", err)
		// Don't return an error, the append itself worked
	}

	slog.InfoContext(ctx, "Mirrored payout",
		"id", payout.ID,
		"model_code", payout.ModelCode,
		"pay_date", payout.PayDate.ISO(),
		"amount_cents", payout.Amount.Cents,
		"sheets_ref", ref)

	return nil
}
