// Package schedule holds the pure scheduling rules shared by the scheduler
// and the control plane: cron expression evaluation plus composite
// validation of the three schedule types.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/automator/internal/store"
)

// MaxIntervalMinutes caps interval schedules at one year.
const MaxIntervalMinutes = 525_600

// searchBound limits how far NextAfter scans for a matching instant.
const searchBound = 2 * 365 * 24 * time.Hour

// ValidateCron accepts 5-field (min hour dom month dow) and 6-field
// (sec min hour dom month dow) expressions with *, literals, lists,
// ranges and steps. Day-of-week 0 is Sunday.
func ValidateCron(expr string) error {
	fields := strings.Fields(expr)
	if len(fields) != 5 && len(fields) != 6 {
		return fmt.Errorf("cron expression must have 5 or 6 fields, got %d", len(fields))
	}
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid cron expression: %s", expr)
	}
	return nil
}

// NextAfter returns the smallest instant strictly greater than from that
// matches expr, or nil when nothing matches within the two-year bound.
func NextAfter(expr string, from time.Time) *time.Time {
	next, err := gronx.NextTickAfter(expr, from.UTC(), false)
	if err != nil {
		return nil
	}
	if !next.After(from) || next.Sub(from) > searchBound {
		return nil
	}
	next = next.UTC()
	return &next
}

// IsDue reports whether expr matches the given instant at minute (or
// second, for 6-field expressions) granularity.
func IsDue(expr string, at time.Time) bool {
	due, err := gronx.New().IsDue(expr, at.UTC())
	return err == nil && due
}

// Validate checks a (type, value) schedule pair against the shared rules.
func Validate(scheduleType, scheduleValue string) error {
	switch scheduleType {
	case store.ScheduleCron:
		return ValidateCron(scheduleValue)

	case store.ScheduleOnce:
		if _, err := time.Parse(time.RFC3339, scheduleValue); err != nil {
			return fmt.Errorf("once schedule requires an ISO-8601 instant: %w", err)
		}
		return nil

	case store.ScheduleInterval:
		minutes, err := strconv.Atoi(scheduleValue)
		if err != nil {
			return fmt.Errorf("interval schedule requires an integer minute count: %w", err)
		}
		if minutes <= 0 {
			return fmt.Errorf("interval must be positive, got %d", minutes)
		}
		if minutes > MaxIntervalMinutes {
			return fmt.Errorf("interval must be at most %d minutes, got %d", MaxIntervalMinutes, minutes)
		}
		return nil

	default:
		return fmt.Errorf("unknown schedule type %q", scheduleType)
	}
}

// NextRun computes the first fire time for a validated schedule as of now:
// next cron match for cron, the instant itself for once, now + interval
// for interval. Returns nil when the schedule never fires again.
func NextRun(scheduleType, scheduleValue string, now time.Time) (*time.Time, error) {
	switch scheduleType {
	case store.ScheduleCron:
		return NextAfter(scheduleValue, now), nil

	case store.ScheduleOnce:
		at, err := time.Parse(time.RFC3339, scheduleValue)
		if err != nil {
			return nil, err
		}
		at = at.UTC()
		return &at, nil

	case store.ScheduleInterval:
		minutes, err := strconv.Atoi(scheduleValue)
		if err != nil {
			return nil, err
		}
		next := now.UTC().Add(time.Duration(minutes) * time.Minute)
		return &next, nil

	default:
		return nil, fmt.Errorf("unknown schedule type %q", scheduleType)
	}
}

// Interval parses an interval schedule value into a duration.
func Interval(scheduleValue string) (time.Duration, error) {
	minutes, err := strconv.Atoi(scheduleValue)
	if err != nil {
		return 0, err
	}
	return time.Duration(minutes) * time.Minute, nil
}
