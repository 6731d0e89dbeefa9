package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lumenworks/thoughtline/internal/thoughts"
)

// Marked pairs outlive any day boundary shift an operator can configure.
const defaultRetention = 48 * time.Hour

// MemoryRecentSends tracks recent sends in process memory. It is the default
// pre-check index when no Redis instance is configured.
type MemoryRecentSends struct {
	mu        sync.Mutex
	entries   map[string]time.Time
	retention time.Duration
	clock     func() time.Time
}

var _ thoughts.RecentSends = (*MemoryRecentSends)(nil)

// NewMemoryRecentSends constructs the in-process index. Non-positive
// retention falls back to the default.
func NewMemoryRecentSends(retention time.Duration, clock func() time.Time) *MemoryRecentSends {
	if retention <= 0 {
		retention = defaultRetention
	}
	if clock == nil {
		clock = time.Now
	}
	return &MemoryRecentSends{
		entries:   make(map[string]time.Time),
		retention: retention,
		clock:     clock,
	}
}

func sentKey(senderID, receiverID thoughts.UserID, day thoughts.DayBucket) string {
	return strings.Join([]string{senderID.String(), receiverID.String(), day.String()}, ":")
}

// MarkSent records the pair for the day.
func (index *MemoryRecentSends) MarkSent(_ context.Context, senderID, receiverID thoughts.UserID, day thoughts.DayBucket) {
	now := index.clock()
	index.mu.Lock()
	defer index.mu.Unlock()
	index.pruneLocked(now)
	index.entries[sentKey(senderID, receiverID, day)] = now.Add(index.retention)
}

// WasSent reports whether the pair was marked for the day and has not expired.
func (index *MemoryRecentSends) WasSent(_ context.Context, senderID, receiverID thoughts.UserID, day thoughts.DayBucket) bool {
	now := index.clock()
	key := sentKey(senderID, receiverID, day)

	index.mu.Lock()
	defer index.mu.Unlock()
	expiry, ok := index.entries[key]
	if !ok {
		return false
	}
	if now.After(expiry) {
		delete(index.entries, key)
		return false
	}
	return true
}

func (index *MemoryRecentSends) pruneLocked(now time.Time) {
	for key, expiry := range index.entries {
		if now.After(expiry) {
			delete(index.entries, key)
		}
	}
}
