package bridge

import (
	"context"
	"strings"
	"time"
)

// joinURL joins a base bridge URL with a path segment, tolerating a
// trailing slash on base and a leading slash on segment. Mirrors the
// relay's documented path layout ({bridgeUrl}/events, /message, /verify).
func joinURL(base, segment string) string {
	base = strings.TrimRight(base, "/")
	segment = strings.TrimLeft(segment, "/")
	return base + "/" + segment
}

// dedupeStrings returns ids with duplicates removed, preserving first
// occurrence order. Used for the Gateway's client_id query parameter and
// for Provider.updateClients' set-equality check.
func dedupeStrings(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// sameSet reports whether a and b contain the same strings, ignoring order
// and duplicates. Used by Provider.updateClients to detect a no-op.
func sameSet(a, b []string) bool {
	da, db := dedupeStrings(a), dedupeStrings(b)
	if len(da) != len(db) {
		return false
	}
	set := make(map[string]struct{}, len(da))
	for _, s := range da {
		set[s] = struct{}{}
	}
	for _, s := range db {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}

// sleepCtx sleeps for d or returns ctx.Err() early if ctx is cancelled
// first. Every delay in the core goes through this so cancellation is
// observed promptly instead of only at the next suspension point.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
