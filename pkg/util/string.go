package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ContentFingerprint identifies what a platform actually receives for a
// video: the video id plus the name of the platform-specific content
// transform applied before upload. An empty transform keeps the raw video id
// so fingerprints stay readable for untransformed platforms.
func ContentFingerprint(videoID, transform string) string {
	transform = strings.TrimSpace(transform)
	if transform == "" {
		return videoID
	}
	sum := sha256.Sum256([]byte(videoID + "\x00" + transform))
	return hex.EncodeToString(sum[:])
}

// ParseList splits a comma separated flag or query value, dropping blanks,
// surrounding brackets and quotes.
func ParseList(s string) []string {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return []string{}
	}

	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.Trim(strings.TrimSpace(item), "\"'")
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Unique returns items with later duplicates removed, keeping order.
func Unique(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
