package thoughts

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnSentCount     = "sent_count"
	columnUpdatedAtS    = "updated_at_s"
	queryCounterPair    = columnSenderID + " = ? AND " + columnDayBucket + " = ?"
	queryCounterRelease = queryCounterPair + " AND " + columnSentCount + " > 0"
)

// GormRateLimiter reserves daily send slots with a single conditional counter
// upsert, so concurrent sends never overshoot the quota.
type GormRateLimiter struct {
	db    *gorm.DB
	clock func() time.Time
}

var _ RateLimiter = (*GormRateLimiter)(nil)

// NewGormRateLimiter wraps the database handle.
func NewGormRateLimiter(db *gorm.DB, clock func() time.Time) (*GormRateLimiter, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if clock == nil {
		clock = time.Now
	}
	return &GormRateLimiter{db: db, clock: clock}, nil
}

// TryReserve increments the sender's counter for the day unless the quota is
// already exhausted. The increment only applies while the stored count is
// below the quota; zero rows affected means the slot was not reserved.
func (limiter *GormRateLimiter) TryReserve(ctx context.Context, senderID UserID, day DayBucket, quota int) (bool, int64, error) {
	if quota < 1 {
		return false, 0, nil
	}

	nowSeconds := limiter.clock().UTC().Unix()
	record := RateLimitCounter{
		SenderID:         senderID.String(),
		DayBucket:        day.String(),
		SentCount:        1,
		UpdatedAtSeconds: nowSeconds,
	}
	result := limiter.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: columnSenderID},
				{Name: columnDayBucket},
			},
			DoUpdates: clause.Assignments(map[string]interface{}{
				columnSentCount:  gorm.Expr(columnSentCount + " + 1"),
				columnUpdatedAtS: nowSeconds,
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				gorm.Expr("rate_limit_counters."+columnSentCount+" < ?", quota),
			}},
		}).
		Create(&record)
	if result.Error != nil {
		return false, 0, result.Error
	}

	reserved := result.RowsAffected > 0
	sentToday, countErr := limiter.sentCount(ctx, senderID, day)
	if countErr != nil {
		return reserved, 0, countErr
	}
	return reserved, sentToday, nil
}

// Release undoes one reservation after a failed insert. Decrements never go
// below zero; releasing an absent counter is a no-op.
func (limiter *GormRateLimiter) Release(ctx context.Context, senderID UserID, day DayBucket) error {
	return limiter.db.WithContext(ctx).
		Model(&RateLimitCounter{}).
		Where(queryCounterRelease, senderID.String(), day.String()).
		Updates(map[string]interface{}{
			columnSentCount:  gorm.Expr(columnSentCount + " - 1"),
			columnUpdatedAtS: limiter.clock().UTC().Unix(),
		}).Error
}

func (limiter *GormRateLimiter) sentCount(ctx context.Context, senderID UserID, day DayBucket) (int64, error) {
	var counter RateLimitCounter
	err := limiter.db.WithContext(ctx).
		Where(queryCounterPair, senderID.String(), day.String()).
		Take(&counter).Error
	if err != nil {
		return 0, err
	}
	return counter.SentCount, nil
}
