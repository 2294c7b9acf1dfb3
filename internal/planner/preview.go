package planner

import (
	"context"
	"time"
)

// PlanRequest is the full set of planning inputs for one fan-out.
type PlanRequest struct {
	Selection
	Mode            IntervalMode
	IntervalSeconds int
	JitterSeconds   int
	BaseTime        time.Time

	AllowDuplicate  bool
	DedupWindowDays int
	// Now ends the dedup window. It is independent of BaseTime so a plan
	// scheduled in the future is still checked against recent history.
	// Zero falls back to BaseTime.
	Now         time.Time
	Fingerprint Fingerprinter
}

func (r PlanRequest) scheduleOptions() ScheduleOptions {
	return ScheduleOptions{
		Mode:            r.Mode,
		IntervalSeconds: r.IntervalSeconds,
		JitterSeconds:   r.JitterSeconds,
		Seed:            r.Seed,
		BaseTime:        r.BaseTime,
	}
}

func (r PlanRequest) dedupOptions() DedupOptions {
	now := r.Now
	if now.IsZero() {
		now = r.BaseTime
	}
	return DedupOptions{
		AllowDuplicate: r.AllowDuplicate,
		WindowDays:     r.DedupWindowDays,
		Now:            now,
		Fingerprint:    r.Fingerprint,
	}
}

// Plan runs Assign, Schedule and Deduplicate in order.
func Plan(ctx context.Context, req PlanRequest, lookup HistoryLookup) (DedupResult, error) {
	pairings, err := Assign(req.Selection)
	if err != nil {
		return DedupResult{}, err
	}
	scheduled, err := Schedule(pairings, req.scheduleOptions())
	if err != nil {
		return DedupResult{}, err
	}
	return Deduplicate(ctx, scheduled, lookup, req.dedupOptions())
}

type PreviewLimits struct {
	Videos   int
	Accounts int
}

type PreviewResult struct {
	TotalTasks int                `json:"total_tasks"`
	Sample     []ScheduledPairing `json:"sample"`
}

// Preview reports the task count and a bounded sample of the schedule
// without touching any store. An empty selection yields an empty preview
// rather than an error; malformed input still fails.
func Preview(req PlanRequest, limits PreviewLimits) (PreviewResult, error) {
	videos, accounts, err := normalize(req.Selection)
	if err != nil {
		return PreviewResult{}, err
	}
	if len(videos) == 0 || len(accounts) == 0 {
		return PreviewResult{Sample: []ScheduledPairing{}}, nil
	}

	pairings := assign(req.Strategy, req.distribution(), videos, accounts, req.Seed, req.Overrides)
	opts := req.scheduleOptions()
	opts.MaxVideos = limits.Videos
	opts.MaxAccounts = limits.Accounts
	sample, err := Schedule(pairings, opts)
	if err != nil {
		return PreviewResult{}, err
	}
	return PreviewResult{TotalTasks: len(pairings), Sample: sample}, nil
}
