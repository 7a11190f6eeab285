package rules

import (
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/civil"

	"github.com/wolfman30/therapy-scheduling/internal/timeofday"
)

// Built-in custom predicate names.
const (
	PredicateMinDuration   = "min_duration"
	PredicateMaxDuration   = "max_duration"
	PredicateBlackoutDates = "blackout_dates"
)

func builtinPredicates() map[string]Predicate {
	return map[string]Predicate{
		PredicateMinDuration:   minDuration,
		PredicateMaxDuration:   maxDuration,
		PredicateBlackoutDates: blackoutDates,
	}
}

type minutesParams struct {
	Minutes int `json:"minutes"`
}

func decodeMinutes(params []byte) (int, error) {
	var p minutesParams
	if err := json.Unmarshal(params, &p); err != nil {
		return 0, err
	}
	if p.Minutes <= 0 {
		return 0, errors.New("minutes must be positive")
	}
	return p.Minutes, nil
}

// minDuration matches sessions shorter than {"minutes": n}.
func minDuration(params []byte) (Matcher, error) {
	n, err := decodeMinutes(params)
	if err != nil {
		return nil, err
	}
	return func(c Candidate) (bool, string) {
		if c.DurationMinutes < n {
			return true, fmt.Sprintf("sessions must last at least %d minutes", n)
		}
		return false, ""
	}, nil
}

// maxDuration matches sessions longer than {"minutes": n}.
func maxDuration(params []byte) (Matcher, error) {
	n, err := decodeMinutes(params)
	if err != nil {
		return nil, err
	}
	return func(c Candidate) (bool, string) {
		if c.DurationMinutes > n {
			return true, fmt.Sprintf("sessions cannot last more than %d minutes", n)
		}
		return false, ""
	}, nil
}

// blackoutDates matches sessions on any of {"dates": ["YYYY-MM-DD", ...]}.
func blackoutDates(params []byte) (Matcher, error) {
	var p struct {
		Dates []string `json:"dates"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	if len(p.Dates) == 0 {
		return nil, errors.New("dates required")
	}
	set := make(map[civil.Date]struct{}, len(p.Dates))
	for _, raw := range p.Dates {
		d, err := timeofday.ParseDate(raw)
		if err != nil {
			return nil, err
		}
		set[d] = struct{}{}
	}
	return func(c Candidate) (bool, string) {
		if _, ok := set[c.Date]; ok {
			return true, fmt.Sprintf("%s is a blackout date", c.Date)
		}
		return false, ""
	}, nil
}
