// Package planner turns a (videos × accounts) selection into scheduled,
// de-duplicated pairings. Everything here is a pure function of its inputs;
// the only capability taken from outside is the publish history lookup used
// by Deduplicate.
package planner

import "time"

type Strategy string

const (
	OnePerAccount     Strategy = "one_per_account"
	AllPerAccount     Strategy = "all_per_account"
	CrossPlatformAll  Strategy = "cross_platform_all"
	PerPlatformCustom Strategy = "per_platform_custom"
)

func (s Strategy) Valid() bool {
	switch s {
	case OnePerAccount, AllPerAccount, CrossPlatformAll, PerPlatformCustom:
		return true
	}
	return false
}

// Distribution decides how one_per_account hands videos to accounts.
type Distribution string

const (
	DistributeRandom     Distribution = "random"
	DistributeRoundRobin Distribution = "round_robin"
	DistributeSequential Distribution = "sequential"
)

func (d Distribution) Valid() bool {
	switch d {
	case DistributeRandom, DistributeRoundRobin, DistributeSequential:
		return true
	}
	return false
}

type IntervalMode string

const (
	AccountFirst IntervalMode = "account_first"
	VideoFirst   IntervalMode = "video_first"
)

func (m IntervalMode) Valid() bool {
	return m == AccountFirst || m == VideoFirst
}

type Account struct {
	ID       string `json:"id"`
	Platform string `json:"platform"`
}

// Pairing is one (video, account, platform) assignment before persistence.
type Pairing struct {
	VideoID   string `json:"video_id"`
	AccountID string `json:"account_id"`
	Platform  string `json:"platform"`
}

type ScheduledPairing struct {
	Pairing
	ScheduledAt time.Time `json:"scheduled_at"`
	// Sequence is the position of the pairing in the full, unbounded plan.
	Sequence int `json:"sequence"`
}

type Selection struct {
	Videos       []string
	Accounts     []Account
	Strategy     Strategy
	Distribution Distribution
	// Seed drives the random distribution. Callers pick it; nothing in this
	// package reads the clock.
	Seed int64
	// Overrides maps a platform code to the strategy used for its accounts
	// under per_platform_custom.
	Overrides map[string]Strategy
}
