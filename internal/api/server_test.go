package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rovermesh/signalhub/internal/auth"
	"github.com/rovermesh/signalhub/internal/config"
	"github.com/rovermesh/signalhub/internal/gateway"
	"github.com/rovermesh/signalhub/internal/relay"
	"github.com/rovermesh/signalhub/internal/store"
)

func setupTestServer(t *testing.T) (*httptest.Server, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	cfg := &config.Config{
		Server: config.ServerConfig{Addr: ":0"},
		Auth: config.AuthConfig{
			Mode:        "none",
			AdminGroups: []string{"admin", "ADMINS"},
		},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 100, Burst: 100},
	}

	logger := slog.Default()
	verifier := auth.NewDecoder("")
	reg := gateway.NewRegistry(logger)
	rl := relay.New(s, verifier, reg, logger, relay.Options{AdminGroups: cfg.Auth.AdminGroups})
	ws := relay.NewWSServer(rl, reg, logger, relay.WSOptions{})

	srv := NewServer(s, verifier, ws, cfg, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, s
}

func makeToken(t *testing.T, sub string, groups ...string) string {
	t.Helper()
	payload := map[string]any{"sub": sub}
	if len(groups) > 0 {
		payload["cognito:groups"] = groups
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	return header + "." + base64.RawURLEncoding.EncodeToString(data) + ".sig"
}

func get(t *testing.T, url, token string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(body)
}

func TestHealthz(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, _ := get(t, ts.URL+"/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestReadyz(t *testing.T) {
	ts, s := setupTestServer(t)

	resp, _ := get(t, ts.URL+"/readyz", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	_ = s.Close()
	resp, _ = get(t, ts.URL+"/readyz", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status after store close = %d, want 503", resp.StatusCode)
	}
}

func TestAdminAPI_RequiresToken(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, _ := get(t, ts.URL+"/api/robots", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestAdminAPI_RequiresAdminGroup(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, _ := get(t, ts.URL+"/api/robots", makeToken(t, "user-1", "drivers"))
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestAdminAPI_ListRobots(t *testing.T) {
	ts, s := setupTestServer(t)

	err := s.PutPresence(context.Background(), &store.Presence{
		RobotID:      "robot-9",
		OwnerUserID:  "owner-1",
		ConnectionID: "R-1",
		Status:       store.StatusOnline,
		UpdatedAt:    time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	resp, body := get(t, ts.URL+"/api/robots", makeToken(t, "admin-1", "ADMINS"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	var records []store.Presence
	if err := json.Unmarshal([]byte(body), &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].RobotID != "robot-9" || records[0].OwnerUserID != "owner-1" {
		t.Errorf("records = %+v", records)
	}
}

func TestAdminAPI_ListConnections(t *testing.T) {
	ts, s := setupTestServer(t)

	err := s.PutConnection(context.Background(), &store.Connection{
		ID:        "C-1",
		UserID:    "user-1",
		Kind:      store.KindClient,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	resp, body := get(t, ts.URL+"/api/connections", makeToken(t, "admin-1", "admin"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	var conns []store.Connection
	if err := json.Unmarshal([]byte(body), &conns); err != nil {
		t.Fatal(err)
	}
	if len(conns) != 1 || conns[0].ID != "C-1" {
		t.Errorf("conns = %+v", conns)
	}
}

func TestAdminAPI_EmptyListIsJSONArray(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, body := get(t, ts.URL+"/api/robots", makeToken(t, "admin-1", "ADMINS"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body != "[]\n" {
		t.Errorf("body = %q, want JSON array", body)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(1, 2)

	if !rl.allow("u") || !rl.allow("u") {
		t.Fatal("burst should admit first two requests")
	}
	if rl.allow("u") {
		t.Error("third immediate request should be limited")
	}
	// A different caller has its own bucket.
	if !rl.allow("v") {
		t.Error("independent caller should be admitted")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := newRateLimiter(1, 2)
	rl.allow("u")
	rl.cleanup(0)

	rl.mu.Lock()
	n := len(rl.buckets)
	rl.mu.Unlock()
	if n != 0 {
		t.Errorf("buckets = %d, want 0", n)
	}
}

func TestSecurityHeaders(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, _ := get(t, ts.URL+"/healthz", "")
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
}
