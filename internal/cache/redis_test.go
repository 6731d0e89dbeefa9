package cache

import (
	"testing"
	"time"
)

func TestNewRedisRecentSendsRequiresURL(t *testing.T) {
	if _, err := NewRedisRecentSends("", time.Hour, nil); err == nil {
		t.Fatalf("expected empty url rejection")
	}
}

func TestNewRedisRecentSendsRejectsMalformedURL(t *testing.T) {
	if _, err := NewRedisRecentSends("://not-a-url", time.Hour, nil); err == nil {
		t.Fatalf("expected malformed url rejection")
	}
}
