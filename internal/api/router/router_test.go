package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"github.com/wolfman30/therapy-scheduling/internal/availability"
	"github.com/wolfman30/therapy-scheduling/internal/conflicts"
	httpmiddleware "github.com/wolfman30/therapy-scheduling/internal/http/middleware"
	"github.com/wolfman30/therapy-scheduling/internal/rules"
	"github.com/wolfman30/therapy-scheduling/internal/scheduler"
	"github.com/wolfman30/therapy-scheduling/internal/sessions"
	"github.com/wolfman30/therapy-scheduling/internal/timeofday"
	"github.com/wolfman30/therapy-scheduling/pkg/logging"
)

type noSessions struct{}

func (noSessions) ListForTherapist(context.Context, string, civil.Date, civil.Date) ([]sessions.BookedSession, error) {
	return nil, nil
}

type emptyRules struct{}

func (emptyRules) Create(context.Context, *rules.Rule) error { return nil }
func (emptyRules) Get(context.Context, string) (*rules.Rule, error) { return nil, rules.ErrNotFound }
func (emptyRules) List(context.Context, bool) ([]rules.Rule, error) { return []rules.Rule{}, nil }
func (emptyRules) Update(context.Context, *rules.Rule) error { return nil }
func (emptyRules) Delete(context.Context, string) error { return nil }

type stubScheduling struct{}

func (stubScheduling) Schedule(context.Context, scheduler.Request) (scheduler.Result, error) {
	return scheduler.Result{}, nil
}

func (stubScheduling) CheckAvailability(context.Context, scheduler.AvailabilityQuery) (scheduler.Availability, error) {
	return scheduler.Availability{Available: true}, nil
}

func (stubScheduling) Reschedule(context.Context, string, scheduler.RescheduleRequest) (scheduler.RescheduleResult, error) {
	return scheduler.RescheduleResult{Rescheduled: true}, nil
}

func (stubScheduling) UpdateStatus(_ context.Context, id string, status sessions.Status) (*sessions.BookedSession, error) {
	return &sessions.BookedSession{ID: id, Status: status}, nil
}

func (stubScheduling) ApplyTemplate(context.Context, string, scheduler.TemplateApplication) (scheduler.Result, error) {
	return scheduler.Result{}, nil
}

func (stubScheduling) DayConflicts(context.Context, string, civil.Date) ([]conflicts.Conflict, error) {
	return []conflicts.Conflict{}, nil
}

func newTestRouter(t *testing.T, mutate func(*Config)) http.Handler {
	t.Helper()

	logger := logging.Default()
	defaults := availability.Defaults{
		WorkingDays:     []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		WorkStart:       timeofday.MustParse("09:00"),
		WorkEnd:         timeofday.MustParse("17:00"),
		SessionDuration: 60,
	}
	cfg := &Config{
		Logger:       logger,
		Availability: availability.NewHandler(availability.NewMemoryStore(defaults), noSessions{}, logger),
		Rules:        rules.NewHandler(emptyRules{}, nil, logger),
		Scheduling:   scheduler.NewHandler(stubScheduling{}, logger),
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
	}
	if mutate != nil {
		mutate(cfg)
	}
	return New(cfg)
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
}

func TestRouterHealthNotReady(t *testing.T) {
	router := newTestRouter(t, func(cfg *Config) {
		cfg.Ready = func(context.Context) error { return errors.New("db down") }
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "db down") {
		t.Errorf("expected readiness error in body, got %s", rr.Body.String())
	}
}

func TestRouterMountsHandlers(t *testing.T) {
	router := newTestRouter(t, nil)

	cases := []struct {
		method string
		path   string
		body   string
		want   int
		substr string
	}{
		{http.MethodGet, "/metrics", "", http.StatusOK, "# metrics"},
		{http.MethodGet, "/therapists/t-9/schedule", "", http.StatusOK, `"therapist_id":"t-9"`},
		{http.MethodGet, "/rules", "", http.StatusOK, "[]"},
		{http.MethodPost, "/scheduling/availability/check", `{"therapist_id":"t-1","date":"2024-01-01"}`, http.StatusOK, `"available":true`},
		{http.MethodPatch, "/scheduling/sessions/s-1/status", `{"status":"cancelled"}`, http.StatusOK, `"cancelled"`},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != tc.want {
			t.Errorf("%s %s: expected %d, got %d (%s)", tc.method, tc.path, tc.want, rr.Code, rr.Body.String())
			continue
		}
		if !strings.Contains(rr.Body.String(), tc.substr) {
			t.Errorf("%s %s: expected body to contain %q, got %s", tc.method, tc.path, tc.substr, rr.Body.String())
		}
	}
}

func TestRouterUnmountedTemplates(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/templates", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a templates handler, got %d", rr.Code)
	}
}

func TestRouterRateLimitsAPIButNotHealth(t *testing.T) {
	router := newTestRouter(t, func(cfg *Config) {
		cfg.RateLimiter = httpmiddleware.NewRateLimiter(0.001, 1)
	})

	do := func(path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "203.0.113.7:5555"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := do("/rules"); code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", code)
	}
	if code := do("/rules"); code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", code)
	}
	if code := do("/health"); code != http.StatusOK {
		t.Fatalf("health should not be rate limited, got %d", code)
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	router := newTestRouter(t, func(cfg *Config) {
		cfg.CORSAllowedOrigins = []string{"https://portal.example.com"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/scheduling/sessions/schedule", nil)
	req.Header.Set("Origin", "https://portal.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://portal.example.com" {
		t.Errorf("unexpected allow origin %q", got)
	}
}
