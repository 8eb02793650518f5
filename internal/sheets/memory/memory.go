package memory

import (
	"context"
	"fmt"
	"sync"

	"paysched/internal/core"
	ports "paysched/internal/sheets"
)

// Store is an in-memory mirror used in tests and local development.
// It accepts the same appends as the Google client and keeps them
// readable for assertions.
type Store struct {
	mu        sync.Mutex
	payouts   []core.Payout
	summaries []core.ScheduleRun
}

var (
	_ ports.PayoutMirror     = (*Store)(nil)
	_ ports.RunSummaryMirror = (*Store)(nil)
	_ ports.Mirror           = (*Store)(nil)
)

func New() *Store {
	return &Store{}
}

// AppendPayout stores the payout and returns a synthetic row reference.
func (s *Store) AppendPayout(_ context.Context, p core.Payout) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payouts = append(s.payouts, p)
	return fmt.Sprintf("mem:payout:%d", len(s.payouts)), nil
}

// AppendRunSummary stores the run and returns a synthetic row reference.
func (s *Store) AppendRunSummary(_ context.Context, run core.ScheduleRun) (string, error) {
	if err := run.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, run)
	return fmt.Sprintf("mem:summary:%d", len(s.summaries)), nil
}

// Payouts returns a copy of the appended payouts.
func (s *Store) Payouts() []core.Payout {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Payout(nil), s.payouts...)
}

// Summaries returns a copy of the appended run summaries.
func (s *Store) Summaries() []core.ScheduleRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.ScheduleRun(nil), s.summaries...)
}
