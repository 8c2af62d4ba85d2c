package impact

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// UnknownAge is shown when no cache timestamp is available.
const UnknownAge = "age unknown"

// AgeTracker turns a cache timestamp into a human-readable freshness label
// and recomputes it on an interval so a displayed label never goes stale.
type AgeTracker struct {
	mu        sync.Mutex
	fetchedAt *time.Time
	now       func() time.Time
}

// NewAgeTracker creates a tracker with no timestamp set.
func NewAgeTracker() *AgeTracker {
	return &AgeTracker{now: time.Now}
}

// Set replaces the tracked timestamp. A nil timestamp means unknown.
func (t *AgeTracker) Set(ts *time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fetchedAt = ts
}

// Label renders the current freshness label.
func (t *AgeTracker) Label() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fetchedAt == nil {
		return UnknownAge
	}
	age := t.now().Sub(*t.fetchedAt)
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(age.Hours()/24))
	}
}

// Watch invokes fn with a fresh label immediately and then on every tick
// until ctx is done.
func (t *AgeTracker) Watch(ctx context.Context, interval time.Duration, fn func(label string)) {
	fn(t.Label())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(t.Label())
		}
	}
}
