package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lumenworks/thoughtline/internal/auth"
	"github.com/lumenworks/thoughtline/internal/thoughts"
)

const userIDContextKey = "thoughtline_user_id"

var (
	errMissingTokenVerifier   = errors.New("token verifier dependency required")
	errMissingThoughtsService = errors.New("thoughts service dependency required")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
)

// TokenVerifier authenticates bearer tokens presented by clients.
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

// ThoughtsService runs the guarded send path and the listing queries.
type ThoughtsService interface {
	SendThought(ctx context.Context, senderID, receiverID, clientSource string) (thoughts.SendReceipt, error)
	ListIncoming(ctx context.Context, userID string, beforeMicros int64, limit int) (thoughts.ThoughtPage, error)
	ListSent(ctx context.Context, userID string, beforeMicros int64, limit int) (thoughts.ThoughtPage, error)
}

type Dependencies struct {
	TokenVerifier   TokenVerifier
	ThoughtsService ThoughtsService
	Logger          *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenVerifier == nil {
		return nil, errMissingTokenVerifier
	}
	if deps.ThoughtsService == nil {
		return nil, errMissingThoughtsService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		tokens:   deps.TokenVerifier,
		thoughts: deps.ThoughtsService,
		logger:   logger,
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/thoughts", handler.handleSendThought)
	protected.GET("/thoughts/incoming", handler.handleListIncoming)
	protected.GET("/thoughts/sent", handler.handleListSent)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	tokens   TokenVerifier
	thoughts ThoughtsService
	logger   *zap.Logger
}

type sendThoughtRequest struct {
	ReceiverID   string `json:"receiver_id"`
	ClientSource string `json:"client_source"`
}

type sendThoughtResponse struct {
	Success    bool   `json:"success"`
	ThoughtID  string `json:"thought_id"`
	DayBucket  string `json:"day_bucket"`
	SentToday  int64  `json:"sent_today"`
	DailyQuota int    `json:"daily_quota"`
}

type sendErrorResponse struct {
	Success      bool   `json:"success"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

type thoughtPayload struct {
	ThoughtID       string `json:"thought_id"`
	SenderID        string `json:"sender_id"`
	ReceiverID      string `json:"receiver_id"`
	CreatedAtMicros int64  `json:"created_at_us"`
	DayBucket       string `json:"day_bucket"`
}

type listThoughtsResponse struct {
	Thoughts   []thoughtPayload `json:"thoughts"`
	NextCursor int64            `json:"next_cursor"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleSendThought(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		writeErrorResponse(c, http.StatusUnauthorized, thoughts.CodeNotAuthenticated, "authentication required")
		return
	}

	var request sendThoughtRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeErrorResponse(c, http.StatusBadRequest, thoughts.CodeInvalidReceiver, "receiver is required")
		return
	}

	receipt, err := h.thoughts.SendThought(c.Request.Context(), userID, request.ReceiverID, request.ClientSource)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, sendThoughtResponse{
		Success:    true,
		ThoughtID:  receipt.ThoughtID.String(),
		DayBucket:  receipt.DayBucket.String(),
		SentToday:  receipt.SentToday,
		DailyQuota: receipt.DailyQuota,
	})
}

func (h *httpHandler) handleListIncoming(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		writeErrorResponse(c, http.StatusUnauthorized, thoughts.CodeNotAuthenticated, "authentication required")
		return
	}

	page, err := h.thoughts.ListIncoming(c.Request.Context(), userID, cursorQuery(c), limitQuery(c))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, listResponseFor(page))
}

func (h *httpHandler) handleListSent(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		writeErrorResponse(c, http.StatusUnauthorized, thoughts.CodeNotAuthenticated, "authentication required")
		return
	}

	page, err := h.thoughts.ListSent(c.Request.Context(), userID, cursorQuery(c), limitQuery(c))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, listResponseFor(page))
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		abortUnauthorized(c, errInvalidAuthorization.Error())
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		abortUnauthorized(c, errInvalidAuthorization.Error())
		return
	}

	subject, err := h.tokens.VerifyToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token verification failed", zap.Error(err))
		} else {
			h.logger.Warn("token verification failed", zap.Error(err))
		}
		abortUnauthorized(c, "unauthorized")
		return
	}

	c.Set(userIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) writeServiceError(c *gin.Context, err error) {
	code := thoughts.ErrorCodeOf(err)
	if code == thoughts.CodeUnexpected {
		h.logger.Error("thought request failed", zap.Error(err))
	}
	writeErrorResponse(c, statusForCode(code), code, thoughts.ErrorMessageOf(err))
}

func writeErrorResponse(c *gin.Context, status int, code thoughts.ErrorCode, message string) {
	c.JSON(status, sendErrorResponse{
		Success:      false,
		ErrorCode:    code.String(),
		ErrorMessage: message,
	})
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, sendErrorResponse{
		Success:      false,
		ErrorCode:    thoughts.CodeNotAuthenticated.String(),
		ErrorMessage: message,
	})
}

func statusForCode(code thoughts.ErrorCode) int {
	switch code {
	case thoughts.CodeNotAuthenticated:
		return http.StatusUnauthorized
	case thoughts.CodeInvalidReceiver:
		return http.StatusBadRequest
	case thoughts.CodeNotConnected, thoughts.CodeBlocked:
		return http.StatusForbidden
	case thoughts.CodeAlreadySentToday:
		return http.StatusConflict
	case thoughts.CodeDailyLimitReached:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func listResponseFor(page thoughts.ThoughtPage) listThoughtsResponse {
	response := listThoughtsResponse{
		Thoughts:   make([]thoughtPayload, 0, len(page.Thoughts)),
		NextCursor: page.NextCursor,
	}
	for _, record := range page.Thoughts {
		response.Thoughts = append(response.Thoughts, thoughtPayload{
			ThoughtID:       record.ThoughtID,
			SenderID:        record.SenderID,
			ReceiverID:      record.ReceiverID,
			CreatedAtMicros: record.CreatedAtMicros,
			DayBucket:       record.DayBucket,
		})
	}
	return response
}

// cursorQuery parses the pagination cursor; malformed values read as unset.
func cursorQuery(c *gin.Context) int64 {
	raw := strings.TrimSpace(c.Query("cursor"))
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0
	}
	return value
}

// limitQuery parses the page size; malformed values read as unset so the
// configured default applies.
func limitQuery(c *gin.Context) int {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0
	}
	return value
}
