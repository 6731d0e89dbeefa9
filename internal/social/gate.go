package social

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/lumenworks/thoughtline/internal/thoughts"
)

var errMissingDatabase = errors.New("social: database handle is required")

const (
	queryCanonicalPair   = "user_a_id = ? AND user_b_id = ?"
	queryEitherDirection = "(blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?)"
)

// Gate answers connection and block questions from the relationship tables.
// The tables are written by the external graph service; this side only reads.
type Gate struct {
	db *gorm.DB
}

var _ thoughts.ConnectionGate = (*Gate)(nil)

// NewGate wraps the database handle.
func NewGate(db *gorm.DB) (*Gate, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &Gate{db: db}, nil
}

// CanonicalPair orders two identifiers the way connection rows store them.
func CanonicalPair(firstID, secondID string) (string, string) {
	if secondID < firstID {
		return secondID, firstID
	}
	return firstID, secondID
}

// AreConnected reports whether an active connection exists between the users,
// in either argument order.
func (gate *Gate) AreConnected(ctx context.Context, firstID, secondID string) (bool, error) {
	lowID, highID := CanonicalPair(firstID, secondID)
	var count int64
	if err := gate.db.WithContext(ctx).
		Model(&ConnectionFact{}).
		Where(queryCanonicalPair, lowID, highID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// IsBlocked reports whether either user blocks the other.
func (gate *Gate) IsBlocked(ctx context.Context, firstID, secondID string) (bool, error) {
	var count int64
	if err := gate.db.WithContext(ctx).
		Model(&BlockFact{}).
		Where(queryEitherDirection, firstID, secondID, secondID, firstID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
