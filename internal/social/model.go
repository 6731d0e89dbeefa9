package social

// ConnectionFact records an established mutual connection between two users.
// Rows store the pair in canonical order with user_a_id < user_b_id, so one
// row covers both directions.
type ConnectionFact struct {
	UserAID            string `gorm:"column:user_a_id;primaryKey;size:190;not null"`
	UserBID            string `gorm:"column:user_b_id;primaryKey;size:190;not null"`
	ConnectedAtSeconds int64  `gorm:"column:connected_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ConnectionFact) TableName() string {
	return "connection_facts"
}

// BlockFact records a directed block from one user to another.
type BlockFact struct {
	BlockerID        string `gorm:"column:blocker_id;primaryKey;size:190;not null"`
	BlockedID        string `gorm:"column:blocked_id;primaryKey;size:190;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (BlockFact) TableName() string {
	return "block_facts"
}
