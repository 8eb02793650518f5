package core

// RunTotals is the paid/outstanding breakdown of a single schedule run.
type RunTotals struct {
	RunID       int64
	TotalCount  int
	PaidCount   int
	Paid        Money
	Outstanding Money
}

// Status derives the run's display status from its payout counts.
func (rt RunTotals) Status() string {
	switch {
	case rt.TotalCount == 0:
		return "Empty"
	case rt.PaidCount == rt.TotalCount:
		return "Paid"
	case rt.PaidCount > 0:
		return "Partial"
	default:
		return "Unpaid"
	}
}

// RunOverview pairs a schedule run with its payout totals for list views.
type RunOverview struct {
	Run    ScheduleRun
	Totals RunTotals
}

// ModelPaidTotal ranks a payee by everything paid to them across runs.
type ModelPaidTotal struct {
	Code        string
	WorkingName string
	Payouts     int
	Paid        Money
}

// DashboardSummary is the aggregate snapshot rendered on the dashboard.
type DashboardSummary struct {
	TotalModels       int
	ActiveModels      int
	InactiveModels    int
	TotalRuns         int
	LifetimePaid      Money
	Outstanding       Money
	OnHoldCount       int
	PendingAdhoc      int
	PendingAdhocTotal Money
	OpenIssues        int
}
