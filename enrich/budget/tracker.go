package budget

import (
	"sync"
	"time"

	"github.com/verdant-labs/verdant/errors"
)

// Config contains spend limits. A limit of 0 disables enforcement for that
// window.
type Config struct {
	DailyBudgetUSD   float64
	MonthlyBudgetUSD float64
}

// Status represents current budget state.
type Status struct {
	DailySpend       float64 `json:"daily_spend"`
	MonthlySpend     float64 `json:"monthly_spend"`
	DailyRemaining   float64 `json:"daily_remaining"`
	MonthlyRemaining float64 `json:"monthly_remaining"`
	DailyOps         int     `json:"daily_ops"`
	MonthlyOps       int     `json:"monthly_ops"`
}

// Tracker tracks and enforces budget limits. Spend accumulates in memory and
// resets when the calendar day or month rolls over.
type Tracker struct {
	mu     sync.Mutex
	config Config

	dailySpend   float64
	monthlySpend float64
	dailyOps     int
	monthlyOps   int
	day          time.Time // midnight of the day being accumulated
	month        time.Time // first of the month being accumulated

	now func() time.Time // injectable for tests
}

// NewTracker creates a new budget tracker.
func NewTracker(config Config) *Tracker {
	t := &Tracker{
		config: config,
		now:    time.Now,
	}
	t.day, t.month = windowStarts(t.now())
	return t
}

func windowStarts(now time.Time) (day, month time.Time) {
	day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	month = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return day, month
}

// rolloverLocked resets windows that have elapsed. Caller holds mu.
func (t *Tracker) rolloverLocked() {
	day, month := windowStarts(t.now())
	if !day.Equal(t.day) {
		t.day = day
		t.dailySpend = 0
		t.dailyOps = 0
	}
	if !month.Equal(t.month) {
		t.month = month
		t.monthlySpend = 0
		t.monthlyOps = 0
	}
}

// CheckBudget checks if there is budget available for an operation.
// Returns an error if either limit would be exceeded.
func (t *Tracker) CheckBudget(estimatedCostUSD float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()

	if t.config.DailyBudgetUSD > 0 && t.dailySpend+estimatedCostUSD > t.config.DailyBudgetUSD {
		return errors.Newf("daily budget would be exceeded: current $%.3f + estimated $%.3f > limit $%.2f",
			t.dailySpend, estimatedCostUSD, t.config.DailyBudgetUSD)
	}
	if t.config.MonthlyBudgetUSD > 0 && t.monthlySpend+estimatedCostUSD > t.config.MonthlyBudgetUSD {
		return errors.Newf("monthly budget would be exceeded: current $%.3f + estimated $%.3f > limit $%.2f",
			t.monthlySpend, estimatedCostUSD, t.config.MonthlyBudgetUSD)
	}
	return nil
}

// RecordSpend adds actual spend for a completed operation.
func (t *Tracker) RecordSpend(costUSD float64) {
	if costUSD <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()

	t.dailySpend += costUSD
	t.monthlySpend += costUSD
	t.dailyOps++
	t.monthlyOps++
}

// GetStatus returns current budget status.
func (t *Tracker) GetStatus() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()

	return Status{
		DailySpend:       t.dailySpend,
		MonthlySpend:     t.monthlySpend,
		DailyRemaining:   t.config.DailyBudgetUSD - t.dailySpend,
		MonthlyRemaining: t.config.MonthlyBudgetUSD - t.monthlySpend,
		DailyOps:         t.dailyOps,
		MonthlyOps:       t.monthlyOps,
	}
}
