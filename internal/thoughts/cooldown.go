package thoughts

import "context"

// RecentSends is an advisory index of recently stored thoughts, consulted
// before the rate reservation to refuse obvious repeats cheaply.
//
// Implementations are best-effort: a false answer from WasSent never blocks a
// send, and MarkSent failures must be swallowed by the implementation. The
// unique index in storage remains the authoritative cooldown.
type RecentSends interface {
	MarkSent(ctx context.Context, senderID, receiverID UserID, day DayBucket)
	WasSent(ctx context.Context, senderID, receiverID UserID, day DayBucket) bool
}
