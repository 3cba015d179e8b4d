package cronperiod

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Expr is a parsed 6-or-7-field cron expression in the orchestrator's format:
//
//	second minute hour day-of-month month day-of-week [year]
//
// Fields accept "*", literal values, comma lists, "a-b" ranges, "*/n" and
// "a/n" steps, and "?" (treated as "any", same as "*").
//
// Period math honors only the first matching time-of-day: expressions that
// fire more than once per day, or that carry day/month/weekday/year
// constraints, are approximated by their smallest admissible
// hour/minute/second and a one-day period. This is a deliberate scope
// decision inherited from the deployment this tool targets; DetectScheduleType
// exposes the shape of an expression but period math never consults it.
type Expr struct {
	raw     string
	seconds []int
	minutes []int
	hours   []int
	days    []int
	months  []int
	week    []int
	years   []int
}

// Period describes one scheduling period of an expression relative to a
// reference instant.
type Period struct {
	// CurrentStart is the most recent firing at or before the reference
	// instant.
	CurrentStart time.Time
	// CurrentEnd is the next firing after the reference instant.
	CurrentEnd time.Time
	// NextStart equals CurrentEnd; kept separate for callers that track
	// period rollover by start time.
	NextStart time.Time
	// InExecutionWindow holds when the reference instant falls inside
	// [CurrentStart, CurrentStart + window]. Both boundaries count.
	InExecutionWindow bool
}

// Parse parses a cron expression. Expressions with fewer than six fields are
// malformed input and rejected outright rather than approximated.
func Parse(expression string) (*Expr, error) {
	parts := strings.Fields(expression)
	if len(parts) < 6 {
		return nil, fmt.Errorf("invalid cron expression %q: want at least 6 fields, got %d", expression, len(parts))
	}

	e := &Expr{raw: expression}

	var err error
	if e.seconds, err = parseField(parts[0], 0, 59); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: second field: %w", expression, err)
	}
	if e.minutes, err = parseField(parts[1], 0, 59); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: minute field: %w", expression, err)
	}
	if e.hours, err = parseField(parts[2], 0, 23); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: hour field: %w", expression, err)
	}
	if e.days, err = parseField(parts[3], 1, 31); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: day field: %w", expression, err)
	}
	if e.months, err = parseField(parts[4], 1, 12); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: month field: %w", expression, err)
	}
	if e.week, err = parseField(parts[5], 0, 7); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: weekday field: %w", expression, err)
	}
	if len(parts) > 6 {
		if e.years, err = parseField(parts[6], 1970, 2099); err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: year field: %w", expression, err)
		}
	}

	return e, nil
}

// String returns the original expression text.
func (e *Expr) String() string { return e.raw }

// parseField expands one cron field into its sorted set of admissible values.
func parseField(field string, min, max int) ([]int, error) {
	if field == "*" || field == "?" {
		values := make([]int, 0, max-min+1)
		for v := min; v <= max; v++ {
			values = append(values, v)
		}
		return values, nil
	}

	set := make(map[int]struct{})
	for _, part := range strings.Split(field, ",") {
		switch {
		case strings.Contains(part, "/"):
			baseStr, stepStr, _ := strings.Cut(part, "/")
			step, err := strconv.Atoi(stepStr)
			if err != nil || step <= 0 {
				return nil, fmt.Errorf("bad step %q", part)
			}
			start := min
			if baseStr != "*" {
				if start, err = strconv.Atoi(baseStr); err != nil {
					return nil, fmt.Errorf("bad step base %q", part)
				}
			}
			for v := start; v <= max; v += step {
				set[v] = struct{}{}
			}
		case strings.Contains(part, "-"):
			startStr, endStr, _ := strings.Cut(part, "-")
			start, err := strconv.Atoi(startStr)
			if err != nil {
				return nil, fmt.Errorf("bad range %q", part)
			}
			end, err := strconv.Atoi(endStr)
			if err != nil {
				return nil, fmt.Errorf("bad range %q", part)
			}
			for v := start; v <= end; v++ {
				set[v] = struct{}{}
			}
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("bad value %q", part)
			}
			set[v] = struct{}{}
		}
	}

	values := make([]int, 0, len(set))
	for v := range set {
		values = append(values, v)
	}
	sort.Ints(values)
	return values, nil
}

// firstTimeOfDay returns the smallest admissible hour, minute and second.
func (e *Expr) firstTimeOfDay() (hour, minute, second int) {
	if len(e.hours) > 0 {
		hour = e.hours[0]
	}
	if len(e.minutes) > 0 {
		minute = e.minutes[0]
	}
	if len(e.seconds) > 0 {
		second = e.seconds[0]
	}
	return hour, minute, second
}

// ScheduleTimes returns the previous and next firing times around the
// reference instant, under the first-matching-time-of-day approximation.
// Pure: same inputs always produce the same outputs.
func (e *Expr) ScheduleTimes(ref time.Time) (prev, next time.Time) {
	hour, minute, second := e.firstTimeOfDay()

	today := time.Date(ref.Year(), ref.Month(), ref.Day(), hour, minute, second, 0, ref.Location())

	if !ref.Before(today) {
		return today, today.AddDate(0, 0, 1)
	}
	return today.AddDate(0, 0, -1), today
}

// SchedulePeriod computes the period bounds around the reference instant and
// whether it falls inside the post-firing execution window.
func (e *Expr) SchedulePeriod(ref time.Time, window time.Duration) Period {
	prev, next := e.ScheduleTimes(ref)
	windowEnd := prev.Add(window)

	return Period{
		CurrentStart:      prev,
		CurrentEnd:        next,
		NextStart:         next,
		InExecutionWindow: !ref.Before(prev) && !ref.After(windowEnd),
	}
}

// ScheduleType classifies the rough shape of an expression.
type ScheduleType string

const (
	ScheduleDaily   ScheduleType = "daily"
	ScheduleHourly  ScheduleType = "hourly"
	ScheduleWeekly  ScheduleType = "weekly"
	ScheduleMonthly ScheduleType = "monthly"
	ScheduleCustom  ScheduleType = "custom"
)

// DetectScheduleType gives a heuristic classification of a cron expression.
// Informational only: period math uses the same daily approximation for every
// type.
func DetectScheduleType(expression string) ScheduleType {
	parts := strings.Fields(expression)
	if len(parts) < 6 {
		return ScheduleCustom
	}

	hour, day, month, weekday := parts[2], parts[3], parts[4], parts[5]

	if day == "*" && month == "*" && (weekday == "?" || weekday == "*") {
		if !strings.Contains(hour, "*") && !strings.Contains(hour, "/") {
			return ScheduleDaily
		}
		if strings.Contains(hour, "/") {
			return ScheduleHourly
		}
	}

	if day == "?" && weekday != "*" && weekday != "?" {
		return ScheduleWeekly
	}

	if day != "*" && day != "?" && weekday == "?" {
		return ScheduleMonthly
	}

	return ScheduleCustom
}
