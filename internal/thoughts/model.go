package thoughts

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

const (
	maxIdentifierLength   = 190
	maxClientSourceLength = 32

	dayBucketLayout = "2006-01-02"
)

var (
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("thoughts: invalid user id")
	// ErrInvalidThoughtID indicates that a thought identifier is empty or exceeds storage bounds.
	ErrInvalidThoughtID = errors.New("thoughts: invalid thought id")
)

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// ThoughtID represents a validated thought identifier.
type ThoughtID string

// NewThoughtID validates raw input and returns a ThoughtID.
func NewThoughtID(rawInput string) (ThoughtID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidThoughtID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidThoughtID, maxIdentifierLength)
	}
	return ThoughtID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ThoughtID) String() string {
	return string(id)
}

// ClientSource tags the surface a thought was sent from, lowercase, possibly empty.
type ClientSource string

// NewClientSource normalizes the raw tag. Oversized tags are truncated rather
// than rejected since the value is telemetry, not addressing.
func NewClientSource(rawInput string) ClientSource {
	normalized := strings.ToLower(strings.TrimSpace(rawInput))
	if len(normalized) > maxClientSourceLength {
		normalized = normalized[:maxClientSourceLength]
	}
	return ClientSource(normalized)
}

// String returns the underlying tag.
func (source ClientSource) String() string {
	return string(source)
}

// DayBucket identifies the calendar day a thought belongs to, formatted YYYY-MM-DD.
type DayBucket string

// DayBucketFor derives the bucket from the instant's own location.
func DayBucketFor(instant time.Time) DayBucket {
	return DayBucket(instant.Format(dayBucketLayout))
}

// String returns the formatted bucket.
func (bucket DayBucket) String() string {
	return string(bucket)
}

// Thought models one stored thought signal. The unique index over the ordered
// pair and day bucket is the authoritative once-per-day cooldown.
type Thought struct {
	ThoughtID       string `gorm:"column:thought_id;primaryKey;size:190;not null"`
	SenderID        string `gorm:"column:sender_id;size:190;not null;uniqueIndex:idx_thoughts_pair_day,priority:1;index:idx_thoughts_sender_time,priority:1"`
	ReceiverID      string `gorm:"column:receiver_id;size:190;not null;uniqueIndex:idx_thoughts_pair_day,priority:2;index:idx_thoughts_receiver_time,priority:1"`
	DayBucket       string `gorm:"column:day_bucket;size:10;not null;uniqueIndex:idx_thoughts_pair_day,priority:3"`
	CreatedAtMicros int64  `gorm:"column:created_at_us;not null;index:idx_thoughts_sender_time,priority:2;index:idx_thoughts_receiver_time,priority:2"`
	ClientSource    string `gorm:"column:client_source;size:32;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (Thought) TableName() string {
	return "thoughts"
}

// RateLimitCounter tracks how many thoughts a sender has stored per day bucket.
type RateLimitCounter struct {
	SenderID         string `gorm:"column:sender_id;primaryKey;size:190;not null"`
	DayBucket        string `gorm:"column:day_bucket;primaryKey;size:10;not null"`
	SentCount        int64  `gorm:"column:sent_count;not null;default:0"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (RateLimitCounter) TableName() string {
	return "rate_limit_counters"
}

// SendRejection captures an append-only audit trail of refused sends.
type SendRejection struct {
	RejectionID      string         `gorm:"column:rejection_id;primaryKey;size:190;not null"`
	SenderID         string         `gorm:"column:sender_id;size:190;not null;index:idx_rejections_sender_time,priority:1"`
	ReceiverID       string         `gorm:"column:receiver_id;size:190;not null"`
	DayBucket        string         `gorm:"column:day_bucket;size:10;not null"`
	ErrorCode        string         `gorm:"column:error_code;size:64;not null"`
	Detail           datatypes.JSON `gorm:"column:detail"`
	CreatedAtSeconds int64          `gorm:"column:created_at_s;not null;index:idx_rejections_sender_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (SendRejection) TableName() string {
	return "send_rejections"
}
