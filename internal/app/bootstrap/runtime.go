package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/therapy-scheduling/internal/availability"
	appconfig "github.com/wolfman30/therapy-scheduling/internal/config"
	"github.com/wolfman30/therapy-scheduling/internal/locking"
	"github.com/wolfman30/therapy-scheduling/internal/scheduler"
	"github.com/wolfman30/therapy-scheduling/internal/timeofday"
	"github.com/wolfman30/therapy-scheduling/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildPostgres opens a pgx pool and a database/sql handle sharing it.
// The templates store runs on database/sql; everything else uses the pool.
func BuildPostgres(ctx context.Context, databaseURL string) (*pgxpool.Pool, *sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil, fmt.Errorf("bootstrap: DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	return pool, stdlib.OpenDBFromPool(pool), nil
}

// SchedulerConfig maps application config onto engine config. Zero values
// keep the engine defaults.
func SchedulerConfig(cfg *appconfig.Config) (scheduler.Config, error) {
	out := scheduler.Config{
		DefaultSessionMinutes:  cfg.DefaultSessionMinutes,
		MaxRecurrenceInstances: cfg.MaxRecurrenceInstances,
		AutoResolveConflicts:   cfg.AutoResolveConflicts,
		MaxTimeShiftMinutes:    cfg.MaxTimeShiftMinutes,
		ShiftStepMinutes:       cfg.ShiftStepMinutes,
	}
	if tz := strings.TrimSpace(cfg.SchedulingTimezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return scheduler.Config{}, fmt.Errorf("bootstrap: scheduling timezone %q: %w", tz, err)
		}
		out.Location = loc
	}
	return out, nil
}

// ScheduleDefaults parses the default working week.
func ScheduleDefaults(cfg *appconfig.Config) (availability.Defaults, error) {
	d := availability.Defaults{SessionDuration: cfg.DefaultSessionMinutes}
	if d.SessionDuration <= 0 {
		d.SessionDuration = scheduler.DefaultConfig().DefaultSessionMinutes
	}
	for _, name := range cfg.DefaultWorkingDays {
		wd, err := timeofday.ParseWeekday(name)
		if err != nil {
			return availability.Defaults{}, fmt.Errorf("bootstrap: default working days: %w", err)
		}
		d.WorkingDays = append(d.WorkingDays, wd.Std())
	}

	var err error
	if d.WorkStart, err = timeofday.Parse(cfg.DefaultWorkStart); err != nil {
		return availability.Defaults{}, fmt.Errorf("bootstrap: default work start: %w", err)
	}
	if d.WorkEnd, err = timeofday.Parse(cfg.DefaultWorkEnd); err != nil {
		return availability.Defaults{}, fmt.Errorf("bootstrap: default work end: %w", err)
	}
	if d.WorkStart >= d.WorkEnd {
		return availability.Defaults{}, fmt.Errorf("bootstrap: default work start %s must be before end %s", d.WorkStart, d.WorkEnd)
	}

	// The break is optional but both ends must be set together. "none"
	// disables it, since an empty variable falls back to the default.
	if noBreak(cfg.DefaultBreakStart) && noBreak(cfg.DefaultBreakEnd) {
		return d, nil
	}
	start, err := timeofday.Parse(cfg.DefaultBreakStart)
	if err != nil {
		return availability.Defaults{}, fmt.Errorf("bootstrap: default break start: %w", err)
	}
	end, err := timeofday.Parse(cfg.DefaultBreakEnd)
	if err != nil {
		return availability.Defaults{}, fmt.Errorf("bootstrap: default break end: %w", err)
	}
	d.BreakStart, d.BreakEnd = &start, &end
	return d, nil
}

func noBreak(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, "none")
}

// BuildLocker returns a Redis lock when a client is available and an
// in-process lock otherwise.
func BuildLocker(client *redis.Client, cfg *appconfig.Config) locking.Locker {
	if client == nil {
		return locking.NewKeyedMutex()
	}
	return locking.NewRedisLocker(client, cfg.LockTTL).WithWait(cfg.LockWait)
}

// BuildScheduleStore returns the Redis-backed week store when a client is
// available and an in-process store otherwise.
func BuildScheduleStore(client *redis.Client, defaults availability.Defaults) availability.ScheduleStore {
	if client == nil {
		return availability.NewMemoryStore(defaults)
	}
	return availability.NewStore(client, defaults)
}
