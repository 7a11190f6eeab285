package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists weekly schedules in Redis as JSON.
type Store struct {
	redis    *redis.Client
	defaults Defaults
	now      func() time.Time
}

// NewStore creates a schedule store. Therapists without a stored week get
// defaults.Week.
func NewStore(redisClient *redis.Client, defaults Defaults) *Store {
	if redisClient == nil {
		panic("availability: redis client required")
	}
	return &Store{redis: redisClient, defaults: defaults, now: time.Now}
}

func (s *Store) key(therapistID string) string {
	return fmt.Sprintf("schedule:therapist:%s", therapistID)
}

// Get returns the therapist's weekly schedule, falling back to the defaults.
func (s *Store) Get(ctx context.Context, therapistID string) (*WeeklySchedule, error) {
	data, err := s.redis.Get(ctx, s.key(therapistID)).Bytes()
	if err == redis.Nil {
		week := s.defaults.Week(therapistID)
		return &week, nil
	}
	if err != nil {
		return nil, fmt.Errorf("availability: get schedule: %w", err)
	}

	var week WeeklySchedule
	if err := json.Unmarshal(data, &week); err != nil {
		return nil, fmt.Errorf("availability: unmarshal schedule: %w", err)
	}
	return &week, nil
}

// Set validates and saves a weekly schedule.
func (s *Store) Set(ctx context.Context, week *WeeklySchedule) error {
	if week == nil || week.TherapistID == "" {
		return fmt.Errorf("%w: therapist_id required", ErrInvalidSchedule)
	}
	if err := week.Validate(); err != nil {
		return err
	}
	week.UpdatedAt = s.now().UTC()

	data, err := json.Marshal(week)
	if err != nil {
		return fmt.Errorf("availability: marshal schedule: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(week.TherapistID), data, 0).Err(); err != nil {
		return fmt.Errorf("availability: set schedule: %w", err)
	}
	return nil
}

// Delete removes a stored schedule so the defaults apply again.
func (s *Store) Delete(ctx context.Context, therapistID string) error {
	if err := s.redis.Del(ctx, s.key(therapistID)).Err(); err != nil {
		return fmt.Errorf("availability: delete schedule: %w", err)
	}
	return nil
}
