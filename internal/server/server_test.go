package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/courierdev/courier/internal/ability"
	"github.com/courierdev/courier/internal/activity"
	"github.com/courierdev/courier/internal/auth"
	"github.com/courierdev/courier/internal/backend"
	"github.com/courierdev/courier/internal/dispatch"
)

const testSecret = "feed-secret-0123456789abcdef"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	rules, err := ability.NewSet([]ability.Rule{
		{Keyword: "weather", BackendID: backend.IDWeather, Description: "current conditions"},
	})
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	keyring, err := auth.NewKeyring(nil, testSecret)
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	feed := activity.NewFeed(nil, 16, nil)
	feed.Emit("pipeline.literal", "stage literal via weather", nil)
	return New(nil, ":0", dispatch.NewQueue(nil), rules, feed, nil, keyring, testSecret, time.Hour)
}

func TestPing(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStatusReportsLanes(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Lanes         []any `json:"lanes"`
		UptimeSeconds int   `json:"uptime_seconds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Lanes == nil {
		t.Fatal("lanes missing from status")
	}
}

func TestAbilitiesHideInternals(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/abilities", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "weather") || !strings.Contains(body, "current conditions") {
		t.Fatalf("abilities body = %s", body)
	}
	if strings.Contains(body, "timeout") || strings.Contains(body, "guidance") {
		t.Fatalf("abilities leaked internals: %s", body)
	}
}

func TestActivityRequiresToken(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/activity", nil))
	if rec.Code != http.StatusUnauthorized && rec.Code != http.StatusBadRequest {
		t.Fatalf("unauthenticated status = %d", rec.Code)
	}
}

func TestFeedTokenFlow(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/feed-token",
		strings.NewReader(`{"secret":"`+testSecret+`","subject":"tester"}`))
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("token issue status = %d: %s", rec.Code, rec.Body.String())
	}
	var issued struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &issued); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	feedReq := httptest.NewRequest(http.MethodGet, "/activity", nil)
	feedReq.Header.Set("Authorization", "Bearer "+issued.Token)
	rec = httptest.NewRecorder()
	s.echo.ServeHTTP(rec, feedReq)
	if rec.Code != http.StatusOK {
		t.Fatalf("feed status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "pipeline.literal") {
		t.Fatalf("feed body = %s", rec.Body.String())
	}
}

func TestFeedTokenRejectsWrongSecret(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/feed-token",
		strings.NewReader(`{"secret":"wrong"}`))
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

const echoContentType = "Content-Type"
