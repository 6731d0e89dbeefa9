package thoughts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// testEpoch is 2026-01-01T00:00:00Z, so the UTC day bucket starts the year.
const testEpoch = 1767225600

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:thoughtline_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Thought{}, &RateLimitCounter{}, &SendRejection{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

// advancingClock hands out strictly increasing instants, one millisecond
// apart, so stored micros never collide.
type advancingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newAdvancingClock(start time.Time) *advancingClock {
	return &advancingClock{now: start}
}

func (clock *advancingClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now = clock.now.Add(time.Millisecond)
	return clock.now
}

func (clock *advancingClock) Advance(step time.Duration) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now = clock.now.Add(step)
}

type sequenceIDGenerator struct {
	mu     sync.Mutex
	prefix string
	count  int
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count++
	return fmt.Sprintf("%s-%d", g.prefix, g.count), nil
}

type fakeGate struct {
	mu           sync.Mutex
	connections  map[string]bool
	blocks       map[string]bool
	connectedErr error
	blockedErr   error
}

func newFakeGate() *fakeGate {
	return &fakeGate{connections: make(map[string]bool), blocks: make(map[string]bool)}
}

func pairKey(firstID, secondID string) string {
	if secondID < firstID {
		firstID, secondID = secondID, firstID
	}
	return firstID + "|" + secondID
}

func (g *fakeGate) connect(firstID, secondID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connections[pairKey(firstID, secondID)] = true
}

func (g *fakeGate) block(blockerID, blockedID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blocks[blockerID+"|"+blockedID] = true
}

func (g *fakeGate) AreConnected(_ context.Context, firstID, secondID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.connectedErr != nil {
		return false, g.connectedErr
	}
	return g.connections[pairKey(firstID, secondID)], nil
}

func (g *fakeGate) IsBlocked(_ context.Context, firstID, secondID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.blockedErr != nil {
		return false, g.blockedErr
	}
	return g.blocks[firstID+"|"+secondID] || g.blocks[secondID+"|"+firstID], nil
}

type staticSettings struct {
	mu           sync.Mutex
	quota        int
	defaultLimit int
	minLimit     int
	maxLimit     int
	location     *time.Location
}

func newStaticSettings() *staticSettings {
	return &staticSettings{quota: 20, defaultLimit: 30, minLimit: 1, maxLimit: 100}
}

func (s *staticSettings) DailyQuota(context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quota
}

func (s *staticSettings) PageLimits(context.Context) (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaultLimit, s.minLimit, s.maxLimit
}

func (s *staticSettings) DayLocation(context.Context) *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.location == nil {
		return time.UTC
	}
	return s.location
}

func (s *staticSettings) setQuota(quota int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quota = quota
}

func (s *staticSettings) setPageLimits(defaultLimit, minLimit, maxLimit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultLimit = defaultLimit
	s.minLimit = minLimit
	s.maxLimit = maxLimit
}

func (s *staticSettings) setLocation(location *time.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.location = location
}

type fakeRecentSends struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeRecentSends() *fakeRecentSends {
	return &fakeRecentSends{seen: make(map[string]bool)}
}

func recentKey(senderID, receiverID UserID, day DayBucket) string {
	return senderID.String() + "|" + receiverID.String() + "|" + day.String()
}

func (f *fakeRecentSends) MarkSent(_ context.Context, senderID, receiverID UserID, day DayBucket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[recentKey(senderID, receiverID, day)] = true
}

func (f *fakeRecentSends) WasSent(_ context.Context, senderID, receiverID UserID, day DayBucket) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[recentKey(senderID, receiverID, day)]
}

// testService bundles a service over a real sqlite store with fake
// relationship and settings sources.
type testService struct {
	service  *Service
	db       *gorm.DB
	gate     *fakeGate
	settings *staticSettings
	recent   *fakeRecentSends
	clock    *advancingClock
}

func newTestService(t *testing.T) *testService {
	t.Helper()
	return buildTestService(t, newFakeRecentSends())
}

// newTestServiceWithoutPrecheck skips the advisory cache so every repeat send
// reaches the storage uniqueness constraint.
func newTestServiceWithoutPrecheck(t *testing.T) *testService {
	t.Helper()
	return buildTestService(t, nil)
}

func buildTestService(t *testing.T, recent *fakeRecentSends) *testService {
	t.Helper()

	db := newTestDB(t)
	store, err := NewGormStore(db)
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	clock := newAdvancingClock(time.Unix(testEpoch, 0).UTC())
	limiter, err := NewGormRateLimiter(db, clock.Now)
	if err != nil {
		t.Fatalf("failed to construct rate limiter: %v", err)
	}

	gate := newFakeGate()
	settings := newStaticSettings()

	cfg := ServiceConfig{
		Store:       store,
		RateLimiter: limiter,
		Gate:        gate,
		Settings:    settings,
		IDProvider:  &sequenceIDGenerator{prefix: "thought"},
		Clock:       clock.Now,
	}
	if recent != nil {
		cfg.RecentSends = recent
	}

	service, err := NewService(cfg)
	if err != nil {
		t.Fatalf("failed to construct thoughts service: %v", err)
	}

	return &testService{
		service:  service,
		db:       db,
		gate:     gate,
		settings: settings,
		recent:   recent,
		clock:    clock,
	}
}

func mustSend(t *testing.T, ts *testService, senderID, receiverID string) SendReceipt {
	t.Helper()
	receipt, err := ts.service.SendThought(context.Background(), senderID, receiverID, "web")
	if err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}
	return receipt
}

func mustFailSend(t *testing.T, ts *testService, senderID, receiverID string, wantCode ErrorCode) error {
	t.Helper()
	_, err := ts.service.SendThought(context.Background(), senderID, receiverID, "web")
	if err == nil {
		t.Fatalf("expected %s error, got success", wantCode)
	}
	if got := ErrorCodeOf(err); got != wantCode {
		t.Fatalf("unexpected error code, want %s got %s", wantCode, got)
	}
	return err
}

func counterValue(t *testing.T, db *gorm.DB, senderID, day string) int64 {
	t.Helper()
	var counter RateLimitCounter
	err := db.Where("sender_id = ? AND day_bucket = ?", senderID, day).Take(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0
	}
	if err != nil {
		t.Fatalf("failed to load counter: %v", err)
	}
	return counter.SentCount
}

func thoughtCount(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&Thought{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count thoughts: %v", err)
	}
	return count
}

func rejectionCount(t *testing.T, db *gorm.DB, code string) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&SendRejection{}).Where("error_code = ?", code).Count(&count).Error; err != nil {
		t.Fatalf("failed to count rejections: %v", err)
	}
	return count
}
