package planner

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/ifuryst/fanout/internal/models"
)

// maxOffsetSeconds is the largest offset a time.Duration can hold.
const maxOffsetSeconds = math.MaxInt64 / int64(time.Second)

type ScheduleOptions struct {
	Mode            IntervalMode
	IntervalSeconds int
	// JitterSeconds adds a uniform offset in [-JitterSeconds, +JitterSeconds].
	JitterSeconds int
	Seed          int64
	// BaseTime anchors offset zero. It must be set by the caller.
	BaseTime time.Time
	// MaxVideos and MaxAccounts bound the output to the first K videos and
	// the first L accounts. Zero means unbounded. Bounding never changes the
	// timestamps of the pairings that are returned.
	MaxVideos   int
	MaxAccounts int
}

func (o ScheduleOptions) validate() error {
	if !o.Mode.Valid() {
		return fmt.Errorf("%w: unknown interval mode %q", models.ErrInvalidSelection, o.Mode)
	}
	if o.IntervalSeconds < 0 {
		return fmt.Errorf("%w: negative interval", models.ErrInvalidSelection)
	}
	if o.JitterSeconds < 0 {
		return fmt.Errorf("%w: negative jitter", models.ErrInvalidSelection)
	}
	if int64(o.JitterSeconds) > maxOffsetSeconds {
		return fmt.Errorf("%w: jitter of %ds is out of range", models.ErrInvalidSelection, o.JitterSeconds)
	}
	if o.BaseTime.IsZero() {
		return fmt.Errorf("%w: base time is required", models.ErrInvalidSelection)
	}
	return nil
}

type laneKey struct {
	account  string
	platform string
}

// Schedule annotates pairings with absolute publish times. Output keeps the
// input order. Video and account indices are taken from the order in which
// each first appears in pairings, which for Assign output is the selection
// order.
//
// video_first staggers videos and runs accounts in parallel:
//
//	offset = videoIdx * interval
//
// account_first gives every account a lane that starts after the previous
// lane ends, and staggers the account's own videos inside it:
//
//	offset = (accountIdx * laneWidth + laneOrdinal) * interval
func Schedule(pairings []Pairing, opts ScheduleOptions) ([]ScheduledPairing, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	videoIdx := make(map[string]int)
	accountIdx := make(map[laneKey]int)
	ordinals := make([]int, len(pairings))
	laneLen := make(map[laneKey]int)
	laneWidth := 0
	for i, p := range pairings {
		if _, ok := videoIdx[p.VideoID]; !ok {
			videoIdx[p.VideoID] = len(videoIdx)
		}
		k := laneKey{p.AccountID, p.Platform}
		if _, ok := accountIdx[k]; !ok {
			accountIdx[k] = len(accountIdx)
		}
		ordinals[i] = laneLen[k]
		laneLen[k]++
		laneWidth = max(laneWidth, laneLen[k])
	}

	// The last slot plus full jitter must still fit in a time.Duration.
	slots := int64(len(videoIdx) - 1)
	if opts.Mode == AccountFirst {
		slots = int64(len(accountIdx))*int64(laneWidth) - 1
	}
	interval := int64(opts.IntervalSeconds)
	if slots > 0 && interval > (maxOffsetSeconds-int64(opts.JitterSeconds))/slots {
		return nil, fmt.Errorf("%w: interval of %ds over %d slots is out of range",
			models.ErrInvalidSelection, opts.IntervalSeconds, slots+1)
	}

	out := make([]ScheduledPairing, 0, boundedLen(len(pairings), opts))
	for i, p := range pairings {
		v := videoIdx[p.VideoID]
		a := accountIdx[laneKey{p.AccountID, p.Platform}]
		if opts.MaxVideos > 0 && v >= opts.MaxVideos {
			continue
		}
		if opts.MaxAccounts > 0 && a >= opts.MaxAccounts {
			continue
		}

		var offset int64
		if opts.Mode == VideoFirst {
			offset = int64(v) * interval
		} else {
			offset = (int64(a)*int64(laneWidth) + int64(ordinals[i])) * interval
		}
		offset += jitter(opts.Seed, i, opts.JitterSeconds)

		at := opts.BaseTime.Add(time.Duration(offset) * time.Second)
		if at.Before(opts.BaseTime) {
			at = opts.BaseTime
		}
		out = append(out, ScheduledPairing{Pairing: p, ScheduledAt: at, Sequence: i})
	}
	return out, nil
}

// jitter draws from a generator keyed by (seed, sequence) so a pairing gets
// the same value whether or not its neighbours are computed.
func jitter(seed int64, sequence, bound int) int64 {
	if bound <= 0 {
		return 0
	}
	r := rand.New(rand.NewPCG(uint64(seed), uint64(sequence)))
	return int64(r.IntN(2*bound+1) - bound)
}

func boundedLen(n int, opts ScheduleOptions) int {
	if opts.MaxVideos > 0 && opts.MaxAccounts > 0 {
		return min(n, opts.MaxVideos*opts.MaxAccounts)
	}
	return n
}
