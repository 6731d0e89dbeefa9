package settings

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lumenworks/thoughtline/internal/thoughts"
)

// Setting keys understood by the service. Unknown keys are stored untouched
// so operators can stage values before a deploy reads them.
const (
	KeyMaxDailyThoughts    = "max_daily_thoughts"
	KeyDefaultPageSize     = "default_page_size"
	KeyMinPageSize         = "min_page_size"
	KeyMaxPageSize         = "max_page_size"
	KeyDayBoundaryTimezone = "day_boundary_timezone"
)

const (
	DefaultDailyQuota  = 20
	DefaultPageSize    = 30
	DefaultMinPageSize = 1
	DefaultMaxPageSize = 100
)

var (
	errMissingDatabase = errors.New("settings: database handle is required")
	errEmptyKey        = errors.New("settings: key is required")
)

const (
	columnKey        = "key"
	columnValue      = "value"
	columnVersion    = "version"
	columnUpdatedAtS = "updated_at_s"
	queryKey         = columnKey + " = ?"
)

// Entry is one runtime tunable stored in the primary database.
type Entry struct {
	Key              string `gorm:"column:key;primaryKey;size:190;not null"`
	Value            string `gorm:"column:value;type:text;not null"`
	Version          int64  `gorm:"column:version;not null;default:1"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "runtime_settings"
}

// StoreConfig wires the dependencies for the settings store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store reads and writes runtime tunables. Reads resolve fresh on every call
// so updated values apply without a restart.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

var _ thoughts.SettingsSource = (*Store)(nil)

// NewStore validates the configuration and constructs the store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Get returns the stored value for the key. Missing keys and read failures
// both report absence so callers fall back to their defaults.
func (store *Store) Get(ctx context.Context, key string) (string, bool) {
	var entry Entry
	err := store.db.WithContext(ctx).Where(queryKey, key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false
	}
	if err != nil {
		store.logger.Warn("settings read failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
	return entry.Value, true
}

// Set stores the value, bumping the entry version on updates.
func (store *Store) Set(ctx context.Context, key, value string) error {
	trimmedKey := strings.TrimSpace(key)
	if trimmedKey == "" {
		return errEmptyKey
	}

	nowSeconds := store.clock().UTC().Unix()
	entry := Entry{
		Key:              trimmedKey,
		Value:            value,
		Version:          1,
		UpdatedAtSeconds: nowSeconds,
	}
	return store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: columnKey}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				columnValue:      value,
				columnVersion:    gorm.Expr(columnVersion + " + 1"),
				columnUpdatedAtS: nowSeconds,
			}),
		}).
		Create(&entry).Error
}

// DailyQuota returns the per-sender daily cap. Missing, malformed, and
// sub-one values fall back to the default.
func (store *Store) DailyQuota(ctx context.Context) int {
	quota := store.intOrDefault(ctx, KeyMaxDailyThoughts, DefaultDailyQuota)
	if quota < 1 {
		return DefaultDailyQuota
	}
	return quota
}

// PageLimits returns the default, minimum, and maximum listing page sizes,
// normalized so min <= default <= max always holds.
func (store *Store) PageLimits(ctx context.Context) (int, int, int) {
	defaultLimit := store.intOrDefault(ctx, KeyDefaultPageSize, DefaultPageSize)
	minLimit := store.intOrDefault(ctx, KeyMinPageSize, DefaultMinPageSize)
	maxLimit := store.intOrDefault(ctx, KeyMaxPageSize, DefaultMaxPageSize)

	if minLimit < 1 {
		minLimit = 1
	}
	if maxLimit < minLimit {
		maxLimit = minLimit
	}
	if defaultLimit < minLimit {
		defaultLimit = minLimit
	}
	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}
	return defaultLimit, minLimit, maxLimit
}

// DayLocation returns the timezone used to bucket days. Unknown zone names
// fall back to UTC.
func (store *Store) DayLocation(ctx context.Context) *time.Location {
	value, ok := store.Get(ctx, KeyDayBoundaryTimezone)
	if !ok {
		return time.UTC
	}
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.UTC
	}
	location, err := time.LoadLocation(trimmed)
	if err != nil {
		store.logger.Warn("invalid day boundary timezone", zap.String("value", trimmed), zap.Error(err))
		return time.UTC
	}
	return location
}

func (store *Store) intOrDefault(ctx context.Context, key string, fallback int) int {
	value, ok := store.Get(ctx, key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		store.logger.Warn("invalid numeric setting", zap.String("key", key), zap.String("value", value))
		return fallback
	}
	return parsed
}
