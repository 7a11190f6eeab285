package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"

	appconfig "github.com/wolfman30/therapy-scheduling/internal/config"
	"github.com/wolfman30/therapy-scheduling/pkg/logging"
)

func newAPIDeps(t *testing.T) APIDeps {
	t.Helper()
	pool, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(pool.Close)
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	mr := miniredis.RunT(t)

	cfg := baseConfig()
	cfg.RedisAddr = mr.Addr()
	cfg.RateLimitRPS = 100
	cfg.RateLimitBurst = 100

	return APIDeps{
		Config:   cfg,
		Logger:   logging.New("error"),
		DB:       pool,
		SQL:      db,
		Redis:    BuildRedisClient(context.Background(), cfg, nil, false),
		Registry: prometheus.NewRegistry(),
	}
}

func TestBuildAPIRequiresDatabase(t *testing.T) {
	if _, err := BuildAPI(APIDeps{}); err == nil {
		t.Fatalf("expected error for missing config")
	}
	if _, err := BuildAPI(APIDeps{Config: &appconfig.Config{}}); err == nil {
		t.Fatalf("expected error for missing database")
	}
}

func TestBuildAPIRejectsBadDefaults(t *testing.T) {
	deps := newAPIDeps(t)
	deps.Config.DefaultWorkStart = "nine"
	if _, err := BuildAPI(deps); err == nil {
		t.Fatalf("expected error for invalid default week")
	}
}

func TestBuildAPIServes(t *testing.T) {
	api, err := BuildAPI(newAPIDeps(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if api.Service == nil || api.RateLimiter == nil {
		t.Fatalf("expected service and rate limiter")
	}

	cases := []struct {
		path   string
		substr string
	}{
		{"/health", `"status":"ok"`},
		{"/therapists/t-1/schedule", `"therapist_id":"t-1"`},
		{"/metrics", ""},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		api.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d (%s)", tc.path, rr.Code, rr.Body.String())
		}
		if tc.substr != "" && !strings.Contains(rr.Body.String(), tc.substr) {
			t.Errorf("%s: expected body to contain %q", tc.path, tc.substr)
		}
	}
}
