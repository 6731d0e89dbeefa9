package thoughts

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrDuplicateForDay reports that the sender already stored a thought for the
// receiver inside the day bucket.
var ErrDuplicateForDay = errors.New("thoughts: duplicate for day")

const (
	columnSenderID        = "sender_id"
	columnReceiverID      = "receiver_id"
	columnDayBucket       = "day_bucket"
	columnCreatedAtMicros = "created_at_us"
	orderCreatedAtDesc    = columnCreatedAtMicros + " DESC"
	queryReceiver         = columnReceiverID + " = ?"
	queryReceiverBefore   = columnReceiverID + " = ? AND " + columnCreatedAtMicros + " < ?"
	querySender           = columnSenderID + " = ?"
	querySenderBefore     = columnSenderID + " = ? AND " + columnCreatedAtMicros + " < ?"
)

// GormStore persists thoughts and rejection audit rows in the primary database.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore wraps the database handle.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &GormStore{db: db}, nil
}

// Insert stores the thought unless the (sender, receiver, day) row already
// exists. The conditional insert is the authoritative cooldown check, so no
// read precedes it.
func (store *GormStore) Insert(ctx context.Context, record Thought) error {
	result := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: columnSenderID},
				{Name: columnReceiverID},
				{Name: columnDayBucket},
			},
			DoNothing: true,
		}).
		Create(&record)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDuplicateForDay
	}
	return nil
}

// ListByReceiver returns thoughts addressed to the user, newest first. A zero
// cursor starts from the newest row.
func (store *GormStore) ListByReceiver(ctx context.Context, receiverID UserID, beforeMicros int64, limit int) ([]Thought, error) {
	query := store.db.WithContext(ctx).Where(queryReceiver, receiverID.String())
	if beforeMicros > 0 {
		query = store.db.WithContext(ctx).Where(queryReceiverBefore, receiverID.String(), beforeMicros)
	}
	return listPage(query, limit)
}

// ListBySender returns thoughts the user sent, newest first. A zero cursor
// starts from the newest row.
func (store *GormStore) ListBySender(ctx context.Context, senderID UserID, beforeMicros int64, limit int) ([]Thought, error) {
	query := store.db.WithContext(ctx).Where(querySender, senderID.String())
	if beforeMicros > 0 {
		query = store.db.WithContext(ctx).Where(querySenderBefore, senderID.String(), beforeMicros)
	}
	return listPage(query, limit)
}

// RecordRejection appends one audit row for a refused send.
func (store *GormStore) RecordRejection(ctx context.Context, record SendRejection) error {
	return store.db.WithContext(ctx).Create(&record).Error
}

func listPage(query *gorm.DB, limit int) ([]Thought, error) {
	if limit < 1 {
		limit = 1
	}
	var records []Thought
	if err := query.Order(orderCreatedAtDesc).Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
