package kvdex

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule computes the next firing time after a given instant. It is the
// interface Database.Cron drives; the cron/interval utilities themselves
// are treated as an external collaborator per the core's scope — this is
// a small, self-contained implementation of that collaborator's
// interface, not a general-purpose cron engine.
type Schedule interface {
	Next(from time.Time) time.Time
}

// everySchedule fires at a fixed period, for callers who want interval
// semantics through the same Cron entry point as a real cron expression.
type everySchedule struct{ period time.Duration }

// Every returns a Schedule that fires every period.
func Every(period time.Duration) Schedule { return everySchedule{period: period} }

func (s everySchedule) Next(from time.Time) time.Time { return from.Add(s.period) }

// cronSchedule is a standard five-field minute/hour/day-of-month/month/
// day-of-week expression, "*" or a comma-separated list of integers per
// field.
type cronSchedule struct {
	minute, hour, dom, month, dow fieldSet
}

type fieldSet struct {
	any    bool
	values map[int]struct{}
}

func (f fieldSet) matches(v int) bool {
	if f.any {
		return true
	}
	_, ok := f.values[v]
	return ok
}

// ParseCron parses a standard five-field cron expression
// ("minute hour dom month dow").
func ParseCron(expr string) (Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("kvdex: cron expression %q must have 5 fields", expr)
	}
	parsed := make([]fieldSet, 5)
	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	for i, f := range fields {
		fs, err := parseField(f, bounds[i][0], bounds[i][1])
		if err != nil {
			return nil, fmt.Errorf("kvdex: cron field %d (%q): %w", i, f, err)
		}
		parsed[i] = fs
	}
	return cronSchedule{minute: parsed[0], hour: parsed[1], dom: parsed[2], month: parsed[3], dow: parsed[4]}, nil
}

func parseField(f string, lo, hi int) (fieldSet, error) {
	if f == "*" {
		return fieldSet{any: true}, nil
	}
	values := make(map[int]struct{})
	for _, part := range strings.Split(f, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return fieldSet{}, err
		}
		if n < lo || n > hi {
			return fieldSet{}, fmt.Errorf("value %d out of range [%d,%d]", n, lo, hi)
		}
		values[n] = struct{}{}
	}
	return fieldSet{values: values}, nil
}

// Next returns the first minute-aligned instant after from that matches
// every field. It scans forward minute by minute, which is simple and
// correct for the bounded horizons (minutes to months) this is used for.
func (c cronSchedule) Next(from time.Time) time.Time {
	t := from.Truncate(time.Minute).Add(time.Minute)
	// Cap the scan so a pathological expression (e.g. Feb 30) can't spin
	// forever; any four-year window contains a leap day, so it covers every
	// valid dom/month combination (Feb 29 included) at least once.
	limit := t.AddDate(4, 0, 0)
	for t.Before(limit) {
		if c.month.matches(int(t.Month())) && c.dom.matches(t.Day()) &&
			c.dow.matches(int(t.Weekday())) && c.hour.matches(t.Hour()) &&
			c.minute.matches(t.Minute()) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return limit
}
