package sheets

import (
	"context"

	"paysched/internal/core"
)

// Ports for outbound mirror adapters.
type (
	// PayoutMirror appends paid payouts to an external payout ledger.
	PayoutMirror interface {
		AppendPayout(ctx context.Context, p core.Payout) (rowRef string, err error)
	}

	// RunSummaryMirror records completed schedule runs with their
	// headline totals.
	RunSummaryMirror interface {
		AppendRunSummary(ctx context.Context, run core.ScheduleRun) (rowRef string, err error)
	}

	// Mirror is the full outbound surface the worker drives.
	Mirror interface {
		PayoutMirror
		RunSummaryMirror
	}
)
