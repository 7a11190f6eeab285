package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/therapy-scheduling/internal/api/router"
	"github.com/wolfman30/therapy-scheduling/internal/availability"
	appconfig "github.com/wolfman30/therapy-scheduling/internal/config"
	"github.com/wolfman30/therapy-scheduling/internal/events"
	httpmiddleware "github.com/wolfman30/therapy-scheduling/internal/http/middleware"
	"github.com/wolfman30/therapy-scheduling/internal/observability/metrics"
	"github.com/wolfman30/therapy-scheduling/internal/rules"
	"github.com/wolfman30/therapy-scheduling/internal/scheduler"
	"github.com/wolfman30/therapy-scheduling/internal/sessions"
	"github.com/wolfman30/therapy-scheduling/internal/templates"
	"github.com/wolfman30/therapy-scheduling/pkg/logging"
)

// APIDeps are the connections the HTTP API is built on. DB and SQL are
// required; Redis is optional.
type APIDeps struct {
	Config   *appconfig.Config
	Logger   *logging.Logger
	DB       sessions.DB
	SQL      *sql.DB
	Redis    *redis.Client
	Registry *prometheus.Registry
}

// API is the wired HTTP surface plus the pieces callers manage.
type API struct {
	Handler     http.Handler
	Service     *scheduler.Service
	RateLimiter *httpmiddleware.RateLimiter
}

// BuildAPI wires stores, the scheduling service and the router.
func BuildAPI(deps APIDeps) (*API, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if deps.DB == nil || deps.SQL == nil {
		return nil, fmt.Errorf("bootstrap: database is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	cfg := deps.Config

	engineCfg, err := SchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	defaults, err := ScheduleDefaults(cfg)
	if err != nil {
		return nil, err
	}

	ruleEngine := rules.NewEngine(engineCfg.Now, engineCfg.Location)
	engine := scheduler.NewEngine(engineCfg, ruleEngine)

	sessionStore := sessions.NewStore(deps.DB)
	ruleStore := rules.NewStore(deps.DB)
	templateStore := templates.NewStore(deps.SQL)
	scheduleStore := BuildScheduleStore(deps.Redis, defaults)

	svc := scheduler.NewService(engine, scheduler.Deps{
		Sessions:  sessionStore,
		Schedules: scheduleStore,
		Rules:     ruleStore,
		Templates: templateStore,
		Locker:    BuildLocker(deps.Redis, cfg),
		Events:    events.NewOutboxStore(deps.DB),
		Metrics:   metrics.NewSchedulingMetrics(reg),
		Logger:    logger,
	})

	var limiter *httpmiddleware.RateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	handler := router.New(&router.Config{
		Logger:             logger,
		Availability:       availability.NewHandler(scheduleStore, sessionStore, logger),
		Rules:              rules.NewHandler(ruleStore, ruleEngine, logger),
		Templates:          templates.NewHandler(templateStore, logger),
		Scheduling:         scheduler.NewHandler(svc, logger),
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Ready:              readiness(deps.SQL, deps.Redis),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        limiter,
	})

	return &API{Handler: handler, Service: svc, RateLimiter: limiter}, nil
}

func readiness(db *sql.DB, client *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		if client != nil {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}
}
