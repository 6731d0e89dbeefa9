package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lumenworks/thoughtline/internal/auth"
	"github.com/lumenworks/thoughtline/internal/cache"
	"github.com/lumenworks/thoughtline/internal/settings"
	"github.com/lumenworks/thoughtline/internal/social"
	"github.com/lumenworks/thoughtline/internal/thoughts"
)

const (
	integrationSigningSecret = "integration-secret"
	integrationIssuer        = "thoughtline-auth"
	integrationAudience      = "thoughtline-api"
)

type integrationHarness struct {
	server *httptest.Server
	db     *gorm.DB
}

func newIntegrationHarness(testContext *testing.T) *integrationHarness {
	testContext.Helper()

	dsn := fmt.Sprintf("file:thoughtline_integration_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&thoughts.Thought{},
		&thoughts.RateLimitCounter{},
		&thoughts.SendRejection{},
		&social.ConnectionFact{},
		&social.BlockFact{},
		&settings.Entry{},
	); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	settingsStore, err := settings.NewStore(settings.StoreConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to construct settings store: %v", err)
	}
	gate, err := social.NewGate(db)
	if err != nil {
		testContext.Fatalf("failed to construct gate: %v", err)
	}
	store, err := thoughts.NewGormStore(db)
	if err != nil {
		testContext.Fatalf("failed to construct store: %v", err)
	}
	limiter, err := thoughts.NewGormRateLimiter(db, time.Now)
	if err != nil {
		testContext.Fatalf("failed to construct rate limiter: %v", err)
	}

	service, err := thoughts.NewService(thoughts.ServiceConfig{
		Store:       store,
		RateLimiter: limiter,
		Gate:        gate,
		Settings:    settingsStore,
		RecentSends: cache.NewMemoryRecentSends(0, nil),
		IDProvider:  thoughts.NewUUIDProvider(),
	})
	if err != nil {
		testContext.Fatalf("failed to construct thoughts service: %v", err)
	}

	verifier, err := auth.NewTokenVerifier(auth.TokenVerifierConfig{
		SigningSecret: []byte(integrationSigningSecret),
		Issuer:        integrationIssuer,
		Audience:      integrationAudience,
	})
	if err != nil {
		testContext.Fatalf("failed to construct verifier: %v", err)
	}

	router, err := NewHTTPHandler(Dependencies{
		TokenVerifier:   verifier,
		ThoughtsService: service,
		Logger:          zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to construct router: %v", err)
	}

	server := httptest.NewServer(router)
	testContext.Cleanup(server.Close)

	return &integrationHarness{server: server, db: db}
}

func (harness *integrationHarness) connect(testContext *testing.T, firstID, secondID string) {
	testContext.Helper()

	lowID, highID := social.CanonicalPair(firstID, secondID)
	record := social.ConnectionFact{UserAID: lowID, UserBID: highID, ConnectedAtSeconds: time.Now().Unix()}
	if err := harness.db.Create(&record).Error; err != nil {
		testContext.Fatalf("failed to seed connection: %v", err)
	}
}

func mustMintBearerToken(testContext *testing.T, subject string) string {
	testContext.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    integrationIssuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{integrationAudience},
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		NotBefore: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(integrationSigningSecret))
	if err != nil {
		testContext.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func (harness *integrationHarness) do(testContext *testing.T, method, path, token, body string) (*http.Response, map[string]any) {
	testContext.Helper()

	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	request, err := http.NewRequest(method, harness.server.URL+path, reader)
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := harness.server.Client().Do(request)
	if err != nil {
		testContext.Fatalf("request failed: %v", err)
	}
	defer func() { _ = response.Body.Close() }()

	var payload map[string]any
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		testContext.Fatalf("failed to decode response: %v", err)
	}
	return response, payload
}

func TestThoughtFlowOverHTTP(testContext *testing.T) {
	harness := newIntegrationHarness(testContext)
	harness.connect(testContext, "alice", "bob")

	aliceToken := mustMintBearerToken(testContext, "alice")
	bobToken := mustMintBearerToken(testContext, "bob")

	response, payload := harness.do(testContext, http.MethodPost, "/thoughts", aliceToken,
		`{"receiver_id":"bob","client_source":"e2e"}`)
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("expected send to succeed, got %d: %v", response.StatusCode, payload)
	}
	if payload["success"] != true {
		testContext.Fatalf("expected success envelope, got %v", payload)
	}
	thoughtID, _ := payload["thought_id"].(string)
	if thoughtID == "" {
		testContext.Fatalf("expected thought id, got %v", payload)
	}
	if payload["sent_today"] != float64(1) {
		testContext.Fatalf("expected sent_today 1, got %v", payload["sent_today"])
	}
	if payload["daily_quota"] != float64(settings.DefaultDailyQuota) {
		testContext.Fatalf("expected default quota, got %v", payload["daily_quota"])
	}

	response, payload = harness.do(testContext, http.MethodGet, "/thoughts/incoming", bobToken, "")
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("expected incoming list to succeed, got %d", response.StatusCode)
	}
	incoming, _ := payload["thoughts"].([]any)
	if len(incoming) != 1 {
		testContext.Fatalf("expected 1 incoming thought, got %v", payload)
	}
	first, _ := incoming[0].(map[string]any)
	if first["sender_id"] != "alice" || first["receiver_id"] != "bob" {
		testContext.Fatalf("unexpected incoming row %v", first)
	}
	if first["thought_id"] != thoughtID {
		testContext.Fatalf("expected stored thought id %s, got %v", thoughtID, first["thought_id"])
	}
	nextCursor, _ := payload["next_cursor"].(float64)
	if nextCursor <= 0 {
		testContext.Fatalf("expected positive next cursor, got %v", payload["next_cursor"])
	}

	response, payload = harness.do(testContext, http.MethodGet, "/thoughts/sent", aliceToken, "")
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("expected sent list to succeed, got %d", response.StatusCode)
	}
	sent, _ := payload["thoughts"].([]any)
	if len(sent) != 1 {
		testContext.Fatalf("expected 1 sent thought, got %v", payload)
	}

	response, payload = harness.do(testContext, http.MethodPost, "/thoughts", aliceToken,
		`{"receiver_id":"bob","client_source":"e2e"}`)
	if response.StatusCode != http.StatusConflict {
		testContext.Fatalf("expected repeat send conflict, got %d: %v", response.StatusCode, payload)
	}
	if payload["error_code"] != "ALREADY_SENT_TODAY" {
		testContext.Fatalf("unexpected error code %v", payload["error_code"])
	}

	response, payload = harness.do(testContext, http.MethodPost, "/thoughts", aliceToken,
		`{"receiver_id":"carol","client_source":"e2e"}`)
	if response.StatusCode != http.StatusForbidden {
		testContext.Fatalf("expected unconnected send to be forbidden, got %d", response.StatusCode)
	}
	if payload["error_code"] != "NOT_CONNECTED" {
		testContext.Fatalf("unexpected error code %v", payload["error_code"])
	}

	response, payload = harness.do(testContext, http.MethodPost, "/thoughts", "",
		`{"receiver_id":"bob","client_source":"e2e"}`)
	if response.StatusCode != http.StatusUnauthorized {
		testContext.Fatalf("expected anonymous send to be unauthorized, got %d", response.StatusCode)
	}
	if payload["error_code"] != "NOT_AUTHENTICATED" {
		testContext.Fatalf("unexpected error code %v", payload["error_code"])
	}
}

func TestThoughtFlowRejectsExpiredToken(testContext *testing.T) {
	harness := newIntegrationHarness(testContext)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    integrationIssuer,
		Subject:   "alice",
		Audience:  jwt.ClaimStrings{integrationAudience},
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	signed, err := token.SignedString([]byte(integrationSigningSecret))
	if err != nil {
		testContext.Fatalf("failed to sign token: %v", err)
	}

	response, payload := harness.do(testContext, http.MethodGet, "/thoughts/incoming", signed, "")
	if response.StatusCode != http.StatusUnauthorized {
		testContext.Fatalf("expected expired token rejection, got %d", response.StatusCode)
	}
	if payload["error_code"] != "NOT_AUTHENTICATED" {
		testContext.Fatalf("unexpected error code %v", payload["error_code"])
	}
}
