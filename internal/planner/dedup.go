package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/ifuryst/fanout/internal/models"
)

// HistoryLookup answers whether an (account, platform, fingerprint) was
// published at or after since. A zero since means "ever".
type HistoryLookup interface {
	HasRecentPublish(ctx context.Context, accountID, platform, fingerprint string, since time.Time) (bool, error)
}

// Fingerprinter derives the content fingerprint of a pairing.
type Fingerprinter func(p Pairing) string

type DedupOptions struct {
	AllowDuplicate bool
	// WindowDays is the rolling window; 0 means a repeat is never allowed.
	WindowDays  int
	Now         time.Time
	Fingerprint Fingerprinter
}

type DedupResult struct {
	Kept       []ScheduledPairing
	Suppressed []ScheduledPairing
}

// VideoFingerprint uses the video id as the fingerprint.
func VideoFingerprint(p Pairing) string {
	return p.VideoID
}

// Since returns the lower bound of the dedup window ending at now.
func Since(now time.Time, windowDays int) time.Time {
	if windowDays <= 0 {
		return time.Time{}
	}
	return now.AddDate(0, 0, -windowDays)
}

// Deduplicate drops pairings whose content was already published to the same
// account inside the window. Relative order of the kept pairings is
// preserved. With AllowDuplicate set the input passes through untouched and
// the lookup is never consulted.
func Deduplicate(ctx context.Context, pairings []ScheduledPairing, lookup HistoryLookup, opts DedupOptions) (DedupResult, error) {
	if opts.AllowDuplicate || len(pairings) == 0 {
		return DedupResult{Kept: pairings}, nil
	}
	if lookup == nil {
		return DedupResult{}, fmt.Errorf("%w: no publish history available", models.ErrStoreUnavailable)
	}
	fingerprint := opts.Fingerprint
	if fingerprint == nil {
		fingerprint = VideoFingerprint
	}
	since := Since(opts.Now, opts.WindowDays)

	res := DedupResult{Kept: make([]ScheduledPairing, 0, len(pairings))}
	for _, p := range pairings {
		seen, err := lookup.HasRecentPublish(ctx, p.AccountID, p.Platform, fingerprint(p.Pairing), since)
		if err != nil {
			return DedupResult{}, fmt.Errorf("lookup history for %s/%s: %w", p.Platform, p.AccountID, err)
		}
		if seen {
			res.Suppressed = append(res.Suppressed, p)
			continue
		}
		res.Kept = append(res.Kept, p)
	}
	return res, nil
}
