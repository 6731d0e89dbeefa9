package thoughts

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

var (
	errMissingDatabase    = errors.New("database handle is required")
	errMissingStore       = errors.New("thought store is required")
	errMissingRateLimiter = errors.New("rate limiter is required")
	errMissingGate        = errors.New("connection gate is required")
	errMissingSettings    = errors.New("settings source is required")
	errMissingIDProvider  = errors.New("id provider is required")
	noOpLogger            = zap.NewNop()
)

const (
	opSendThought  = "thoughts.send"
	opListIncoming = "thoughts.list_incoming"
	opListSent     = "thoughts.list_sent"

	fieldSenderID  = "sender_id"
	fieldUserID    = "user_id"
	fieldDayBucket = "day_bucket"

	reasonConnectionCheckFailed = "connection_check_failed"
	reasonBlockCheckFailed      = "block_check_failed"
	reasonReserveFailed         = "reserve_failed"
	reasonReleaseFailed         = "release_failed"
	reasonIDGenerationFailed    = "id_generation_failed"
	reasonInsertFailed          = "insert_failed"
	reasonAuditFailed           = "audit_failed"
	reasonQueryFailed           = "query_failed"
)

const defaultGateTimeout = 2 * time.Second

// Store persists thoughts and rejection audit rows.
type Store interface {
	Insert(ctx context.Context, record Thought) error
	ListByReceiver(ctx context.Context, receiverID UserID, beforeMicros int64, limit int) ([]Thought, error)
	ListBySender(ctx context.Context, senderID UserID, beforeMicros int64, limit int) ([]Thought, error)
	RecordRejection(ctx context.Context, record SendRejection) error
}

// RateLimiter reserves and releases daily send slots.
type RateLimiter interface {
	TryReserve(ctx context.Context, senderID UserID, day DayBucket, quota int) (reserved bool, sentToday int64, err error)
	Release(ctx context.Context, senderID UserID, day DayBucket) error
}

// ConnectionGate answers relationship questions for a pair of users.
type ConnectionGate interface {
	AreConnected(ctx context.Context, firstID, secondID string) (bool, error)
	IsBlocked(ctx context.Context, firstID, secondID string) (bool, error)
}

// SettingsSource resolves runtime tunables at call time so updated values
// apply without a restart.
type SettingsSource interface {
	DailyQuota(ctx context.Context) int
	PageLimits(ctx context.Context) (defaultLimit, minLimit, maxLimit int)
	DayLocation(ctx context.Context) *time.Location
}

// IDProvider issues thought identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig wires the dependencies for the thought service.
type ServiceConfig struct {
	Store       Store
	RateLimiter RateLimiter
	Gate        ConnectionGate
	Settings    SettingsSource
	RecentSends RecentSends
	IDProvider  IDProvider
	Clock       func() time.Time
	Logger      *zap.Logger
	GateTimeout time.Duration
}

// Service runs the guarded send path and the listing queries.
type Service struct {
	store       Store
	limiter     RateLimiter
	gate        ConnectionGate
	settings    SettingsSource
	recentSends RecentSends
	idProvider  IDProvider
	clock       func() time.Time
	logger      *zap.Logger
	gateTimeout time.Duration
}

// NewService validates the configuration and constructs the service.
// RecentSends is optional; without it the advisory pre-check is skipped.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.RateLimiter == nil {
		return nil, errMissingRateLimiter
	}
	if cfg.Gate == nil {
		return nil, errMissingGate
	}
	if cfg.Settings == nil {
		return nil, errMissingSettings
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	gateTimeout := cfg.GateTimeout
	if gateTimeout <= 0 {
		gateTimeout = defaultGateTimeout
	}

	return &Service{
		store:       cfg.Store,
		limiter:     cfg.RateLimiter,
		gate:        cfg.Gate,
		settings:    cfg.Settings,
		recentSends: cfg.RecentSends,
		idProvider:  cfg.IDProvider,
		clock:       clock,
		logger:      logger,
		gateTimeout: gateTimeout,
	}, nil
}

// SendReceipt reports a stored thought back to the caller.
type SendReceipt struct {
	ThoughtID  ThoughtID
	DayBucket  DayBucket
	SentToday  int64
	DailyQuota int
}

// ThoughtPage is one page of listed thoughts with the cursor for the next.
// A zero NextCursor means the page was empty.
type ThoughtPage struct {
	Thoughts   []Thought
	NextCursor int64
}

// SendThought stores one thought from the sender to the receiver after the
// full gate sequence passes: identity, self-send, connection, block, advisory
// cooldown, rate reservation, conditional insert. A reservation taken before
// a failed insert is released again.
func (service *Service) SendThought(ctx context.Context, senderRaw, receiverRaw, clientSourceRaw string) (SendReceipt, error) {
	senderID, senderErr := NewUserID(senderRaw)
	if senderErr != nil {
		return SendReceipt{}, NewServiceError(CodeNotAuthenticated, messageNotAuthenticated, senderErr)
	}
	receiverID, receiverErr := NewUserID(receiverRaw)
	if receiverErr != nil {
		return SendReceipt{}, NewServiceError(CodeInvalidReceiver, messageInvalidReceiver, receiverErr)
	}
	clientSource := NewClientSource(clientSourceRaw)

	location := service.settings.DayLocation(ctx)
	now := service.clock().In(location)
	day := DayBucketFor(now)

	if senderID == receiverID {
		return SendReceipt{}, service.reject(ctx, senderID, receiverID, day, CodeInvalidReceiver, messageSelfSend, nil, nil)
	}

	connected, connectedErr := service.checkConnected(ctx, senderID, receiverID)
	if connectedErr != nil {
		service.logError(opSendThought, reasonConnectionCheckFailed, connectedErr, zap.String(fieldSenderID, senderID.String()))
		return SendReceipt{}, NewServiceError(CodeUnexpected, messageUnexpected, connectedErr)
	}
	if !connected {
		return SendReceipt{}, service.reject(ctx, senderID, receiverID, day, CodeNotConnected, messageNotConnected, nil, nil)
	}

	blocked, blockedErr := service.checkBlocked(ctx, senderID, receiverID)
	if blockedErr != nil {
		service.logError(opSendThought, reasonBlockCheckFailed, blockedErr, zap.String(fieldSenderID, senderID.String()))
		return SendReceipt{}, NewServiceError(CodeUnexpected, messageUnexpected, blockedErr)
	}
	if blocked {
		return SendReceipt{}, service.reject(ctx, senderID, receiverID, day, CodeBlocked, messageBlocked, nil, nil)
	}

	if service.recentSends != nil && service.recentSends.WasSent(ctx, senderID, receiverID, day) {
		detail := map[string]any{"via": "precheck"}
		return SendReceipt{}, service.reject(ctx, senderID, receiverID, day, CodeAlreadySentToday, messageAlreadySentToday, nil, detail)
	}

	quota := service.settings.DailyQuota(ctx)
	reserved, sentToday, reserveErr := service.limiter.TryReserve(ctx, senderID, day, quota)
	if reserveErr != nil {
		if reserved {
			service.release(ctx, senderID, day)
		}
		service.logError(opSendThought, reasonReserveFailed, reserveErr, zap.String(fieldSenderID, senderID.String()))
		return SendReceipt{}, NewServiceError(CodeUnexpected, messageUnexpected, reserveErr)
	}
	if !reserved {
		detail := map[string]any{"sent_today": sentToday, "daily_quota": quota}
		return SendReceipt{}, service.reject(ctx, senderID, receiverID, day, CodeDailyLimitReached, messageDailyLimitReached, nil, detail)
	}

	thoughtIDRaw, idErr := service.idProvider.NewID()
	if idErr != nil {
		service.release(ctx, senderID, day)
		service.logError(opSendThought, reasonIDGenerationFailed, idErr, zap.String(fieldSenderID, senderID.String()))
		return SendReceipt{}, NewServiceError(CodeUnexpected, messageUnexpected, idErr)
	}
	thoughtID, thoughtIDErr := NewThoughtID(thoughtIDRaw)
	if thoughtIDErr != nil {
		service.release(ctx, senderID, day)
		service.logError(opSendThought, reasonIDGenerationFailed, thoughtIDErr, zap.String(fieldSenderID, senderID.String()))
		return SendReceipt{}, NewServiceError(CodeUnexpected, messageUnexpected, thoughtIDErr)
	}

	record := Thought{
		ThoughtID:       thoughtID.String(),
		SenderID:        senderID.String(),
		ReceiverID:      receiverID.String(),
		DayBucket:       day.String(),
		CreatedAtMicros: now.UnixMicro(),
		ClientSource:    clientSource.String(),
	}
	if insertErr := service.store.Insert(ctx, record); insertErr != nil {
		service.release(ctx, senderID, day)
		if errors.Is(insertErr, ErrDuplicateForDay) {
			service.markSent(ctx, senderID, receiverID, day)
			detail := map[string]any{"via": "storage_conflict"}
			return SendReceipt{}, service.reject(ctx, senderID, receiverID, day, CodeAlreadySentToday, messageAlreadySentToday, insertErr, detail)
		}
		service.logError(opSendThought, reasonInsertFailed, insertErr, zap.String(fieldSenderID, senderID.String()))
		return SendReceipt{}, NewServiceError(CodeUnexpected, messageUnexpected, insertErr)
	}

	service.markSent(ctx, senderID, receiverID, day)

	return SendReceipt{
		ThoughtID:  thoughtID,
		DayBucket:  day,
		SentToday:  sentToday,
		DailyQuota: quota,
	}, nil
}

// ListIncoming returns thoughts addressed to the user, newest first.
func (service *Service) ListIncoming(ctx context.Context, userRaw string, beforeMicros int64, requestedLimit int) (ThoughtPage, error) {
	userID, userErr := NewUserID(userRaw)
	if userErr != nil {
		return ThoughtPage{}, NewServiceError(CodeNotAuthenticated, messageNotAuthenticated, userErr)
	}
	if beforeMicros < 0 {
		beforeMicros = 0
	}

	limit := service.clampLimit(ctx, requestedLimit)
	records, listErr := service.store.ListByReceiver(ctx, userID, beforeMicros, limit)
	if listErr != nil {
		service.logError(opListIncoming, reasonQueryFailed, listErr, zap.String(fieldUserID, userID.String()))
		return ThoughtPage{}, NewServiceError(CodeUnexpected, messageUnexpected, listErr)
	}
	return ThoughtPage{Thoughts: records, NextCursor: nextCursorFor(records)}, nil
}

// ListSent returns thoughts the user sent, newest first.
func (service *Service) ListSent(ctx context.Context, userRaw string, beforeMicros int64, requestedLimit int) (ThoughtPage, error) {
	userID, userErr := NewUserID(userRaw)
	if userErr != nil {
		return ThoughtPage{}, NewServiceError(CodeNotAuthenticated, messageNotAuthenticated, userErr)
	}
	if beforeMicros < 0 {
		beforeMicros = 0
	}

	limit := service.clampLimit(ctx, requestedLimit)
	records, listErr := service.store.ListBySender(ctx, userID, beforeMicros, limit)
	if listErr != nil {
		service.logError(opListSent, reasonQueryFailed, listErr, zap.String(fieldUserID, userID.String()))
		return ThoughtPage{}, NewServiceError(CodeUnexpected, messageUnexpected, listErr)
	}
	return ThoughtPage{Thoughts: records, NextCursor: nextCursorFor(records)}, nil
}

func (service *Service) checkConnected(ctx context.Context, senderID, receiverID UserID) (bool, error) {
	gateCtx, cancel := context.WithTimeout(ctx, service.gateTimeout)
	defer cancel()
	return service.gate.AreConnected(gateCtx, senderID.String(), receiverID.String())
}

func (service *Service) checkBlocked(ctx context.Context, senderID, receiverID UserID) (bool, error) {
	gateCtx, cancel := context.WithTimeout(ctx, service.gateTimeout)
	defer cancel()
	return service.gate.IsBlocked(gateCtx, senderID.String(), receiverID.String())
}

func (service *Service) release(ctx context.Context, senderID UserID, day DayBucket) {
	if err := service.limiter.Release(ctx, senderID, day); err != nil {
		service.logError(opSendThought, reasonReleaseFailed, err,
			zap.String(fieldSenderID, senderID.String()),
			zap.String(fieldDayBucket, day.String()))
	}
}

func (service *Service) markSent(ctx context.Context, senderID, receiverID UserID, day DayBucket) {
	if service.recentSends == nil {
		return
	}
	service.recentSends.MarkSent(ctx, senderID, receiverID, day)
}

// reject records the audit row best-effort and returns the typed error.
func (service *Service) reject(ctx context.Context, senderID, receiverID UserID, day DayBucket, code ErrorCode, message string, cause error, detail map[string]any) error {
	service.recordRejection(ctx, senderID, receiverID, day, code, detail)
	return NewServiceError(code, message, cause)
}

func (service *Service) recordRejection(ctx context.Context, senderID, receiverID UserID, day DayBucket, code ErrorCode, detail map[string]any) {
	rejectionID, idErr := service.idProvider.NewID()
	if idErr != nil {
		service.logError(opSendThought, reasonAuditFailed, idErr, zap.String(fieldSenderID, senderID.String()))
		return
	}

	var detailJSON datatypes.JSON
	if len(detail) > 0 {
		encoded, encodeErr := json.Marshal(detail)
		if encodeErr != nil {
			service.logError(opSendThought, reasonAuditFailed, encodeErr, zap.String(fieldSenderID, senderID.String()))
		} else {
			detailJSON = datatypes.JSON(encoded)
		}
	}

	record := SendRejection{
		RejectionID:      rejectionID,
		SenderID:         senderID.String(),
		ReceiverID:       receiverID.String(),
		DayBucket:        day.String(),
		ErrorCode:        code.String(),
		Detail:           detailJSON,
		CreatedAtSeconds: service.clock().UTC().Unix(),
	}
	if err := service.store.RecordRejection(ctx, record); err != nil {
		service.logError(opSendThought, reasonAuditFailed, err, zap.String(fieldSenderID, senderID.String()))
	}
}

func (service *Service) clampLimit(ctx context.Context, requested int) int {
	defaultLimit, minLimit, maxLimit := service.settings.PageLimits(ctx)
	limit := requested
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit < minLimit {
		limit = minLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}

func nextCursorFor(records []Thought) int64 {
	if len(records) == 0 {
		return 0
	}
	return records[len(records)-1].CreatedAtMicros
}

func (service *Service) loggerOrDefault() *zap.Logger {
	if service == nil {
		return noOpLogger
	}
	if service.logger == nil {
		return noOpLogger
	}
	return service.logger
}

func (service *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	service.loggerOrDefault().Error("thoughts service error", attrs...)
}
