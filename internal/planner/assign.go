package planner

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/ifuryst/fanout/internal/models"
)

// Assign expands sel into ordered pairings according to its strategy.
// Empty videos or accounts are rejected with models.ErrInvalidSelection;
// use CountTasks or Preview when an empty selection is acceptable.
func Assign(sel Selection) ([]Pairing, error) {
	videos, accounts, err := normalize(sel)
	if err != nil {
		return nil, err
	}
	if len(videos) == 0 {
		return nil, fmt.Errorf("%w: no videos selected", models.ErrInvalidSelection)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: no accounts selected", models.ErrInvalidSelection)
	}
	return assign(sel.Strategy, sel.distribution(), videos, accounts, sel.Seed, sel.Overrides), nil
}

// CountTasks returns how many pairings Assign would produce. It never fails:
// an empty or malformed selection counts as zero.
func CountTasks(sel Selection) int {
	videos, accounts, err := normalize(sel)
	if err != nil || len(videos) == 0 || len(accounts) == 0 {
		return 0
	}
	return count(sel.Strategy, sel.distribution(), len(videos), accounts, sel.Overrides)
}

func (sel Selection) distribution() Distribution {
	if sel.Distribution == "" {
		return DistributeSequential
	}
	return sel.Distribution
}

func normalize(sel Selection) ([]string, []Account, error) {
	if !sel.Strategy.Valid() {
		return nil, nil, fmt.Errorf("%w: unknown strategy %q", models.ErrInvalidSelection, sel.Strategy)
	}
	if !sel.distribution().Valid() {
		return nil, nil, fmt.Errorf("%w: unknown distribution mode %q", models.ErrInvalidSelection, sel.Distribution)
	}
	for platform, s := range sel.Overrides {
		if !s.Valid() {
			return nil, nil, fmt.Errorf("%w: unknown strategy %q for platform %s", models.ErrInvalidSelection, s, platform)
		}
	}

	videos := make([]string, 0, len(sel.Videos))
	seenVideo := make(map[string]struct{}, len(sel.Videos))
	for _, v := range sel.Videos {
		v = strings.TrimSpace(v)
		if v == "" {
			return nil, nil, fmt.Errorf("%w: blank video id", models.ErrInvalidSelection)
		}
		if _, ok := seenVideo[v]; ok {
			continue
		}
		seenVideo[v] = struct{}{}
		videos = append(videos, v)
	}

	accounts := make([]Account, 0, len(sel.Accounts))
	seenAccount := make(map[Account]struct{}, len(sel.Accounts))
	for _, a := range sel.Accounts {
		a.ID = strings.TrimSpace(a.ID)
		a.Platform = strings.TrimSpace(a.Platform)
		if a.ID == "" || a.Platform == "" {
			return nil, nil, fmt.Errorf("%w: account needs both id and platform", models.ErrInvalidSelection)
		}
		if _, ok := seenAccount[a]; ok {
			continue
		}
		seenAccount[a] = struct{}{}
		accounts = append(accounts, a)
	}
	return videos, accounts, nil
}

func assign(strategy Strategy, dist Distribution, videos []string, accounts []Account, seed int64, overrides map[string]Strategy) []Pairing {
	switch strategy {
	case OnePerAccount:
		return onePerAccount(dist, videos, accounts, seed)
	case PerPlatformCustom:
		var out []Pairing
		for _, group := range groupByPlatform(accounts) {
			s := resolveOverride(overrides, group[0].Platform)
			out = append(out, assign(s, dist, videos, group, seed, nil)...)
		}
		return out
	default:
		return crossProduct(videos, accounts)
	}
}

func count(strategy Strategy, dist Distribution, videos int, accounts []Account, overrides map[string]Strategy) int {
	switch strategy {
	case OnePerAccount:
		if dist == DistributeRoundRobin {
			return len(accounts)
		}
		return min(videos, len(accounts))
	case PerPlatformCustom:
		total := 0
		for _, group := range groupByPlatform(accounts) {
			total += count(resolveOverride(overrides, group[0].Platform), dist, videos, group, nil)
		}
		return total
	default:
		return videos * len(accounts)
	}
}

// resolveOverride falls back to all_per_account for platforms without an
// override and for overrides that would recurse.
func resolveOverride(overrides map[string]Strategy, platform string) Strategy {
	s, ok := overrides[platform]
	if !ok || s == PerPlatformCustom {
		return AllPerAccount
	}
	return s
}

// crossProduct is video-major: every account receives video 0 before any
// account receives video 1.
func crossProduct(videos []string, accounts []Account) []Pairing {
	out := make([]Pairing, 0, len(videos)*len(accounts))
	for _, v := range videos {
		for _, a := range accounts {
			out = append(out, Pairing{VideoID: v, AccountID: a.ID, Platform: a.Platform})
		}
	}
	return out
}

func onePerAccount(dist Distribution, videos []string, accounts []Account, seed int64) []Pairing {
	switch dist {
	case DistributeRoundRobin:
		out := make([]Pairing, 0, len(accounts))
		for i, a := range accounts {
			out = append(out, Pairing{VideoID: videos[i%len(videos)], AccountID: a.ID, Platform: a.Platform})
		}
		return out
	case DistributeRandom:
		shuffled := make([]string, len(videos))
		copy(shuffled, videos)
		r := rand.New(rand.NewPCG(uint64(seed), 0x9e3779b97f4a7c15))
		r.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		return sequential(shuffled, accounts)
	default:
		return sequential(videos, accounts)
	}
}

func sequential(videos []string, accounts []Account) []Pairing {
	n := min(len(videos), len(accounts))
	out := make([]Pairing, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Pairing{VideoID: videos[i], AccountID: accounts[i].ID, Platform: accounts[i].Platform})
	}
	return out
}

// groupByPlatform splits accounts by platform, keeping the order in which
// platforms and accounts first appear.
func groupByPlatform(accounts []Account) [][]Account {
	index := make(map[string]int)
	var groups [][]Account
	for _, a := range accounts {
		i, ok := index[a.Platform]
		if !ok {
			i = len(groups)
			index[a.Platform] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], a)
	}
	return groups
}
