// Package cronexpr parses and evaluates standard five-field cron
// expressions (minute hour day-of-month month day-of-week). Nothing in
// the surrounding dependency set provides this, so it is hand-rolled
// against only the standard library — see DESIGN.md for why no
// third-party cron library was wired in instead.
package cronexpr

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Expression is a parsed five-field cron schedule. Day-of-month and
// day-of-week combine with the classic cron OR rule when both fields
// are restricted (neither is "*"): a match on either is enough.
type Expression struct {
	minute []bool // index 0-59
	hour   []bool // index 0-23
	dom    []bool // index 1-31
	month  []bool // index 1-12
	dow    []bool // index 0-7, 7 aliases to 0 (Sunday)

	domRestricted bool
	dowRestricted bool

	raw string
}

// Parse validates and compiles a five-field cron expression.
func Parse(expr string) (*Expression, error) {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) != 5 {
		return nil, fmt.Errorf("cronexpr: expected 5 fields, got %d in %q", len(fields), expr)
	}

	minute, err := parseField(fields[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("cronexpr: minute field: %w", err)
	}
	hour, err := parseField(fields[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("cronexpr: hour field: %w", err)
	}
	dom, err := parseField(fields[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("cronexpr: day-of-month field: %w", err)
	}
	month, err := parseField(fields[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("cronexpr: month field: %w", err)
	}
	dow, err := parseField(fields[4], 0, 7)
	if err != nil {
		return nil, fmt.Errorf("cronexpr: day-of-week field: %w", err)
	}
	if dow[7] {
		dow[0] = true
	}

	return &Expression{
		minute: minute, hour: hour, dom: dom, month: month, dow: dow,
		domRestricted: fields[2] != "*",
		dowRestricted: fields[4] != "*",
		raw:           expr,
	}, nil
}

// Matches reports whether t falls on this schedule, at minute
// granularity.
func (e *Expression) Matches(t time.Time) bool {
	if !e.minute[t.Minute()] || !e.hour[t.Hour()] || !e.month[int(t.Month())] {
		return false
	}

	domMatch := e.dom[t.Day()]
	dowMatch := e.dow[int(t.Weekday())]
	switch {
	case e.domRestricted && e.dowRestricted:
		return domMatch || dowMatch
	case e.domRestricted:
		return domMatch
	case e.dowRestricted:
		return dowMatch
	default:
		return true
	}
}

// Next returns the first minute-aligned instant strictly after after
// that this schedule matches, scanning forward up to two years.
// Returns the zero time if nothing matches within that window.
func (e *Expression) Next(after time.Time) time.Time {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.AddDate(2, 0, 0)
	for t.Before(limit) {
		if e.Matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

func (e *Expression) String() string { return e.raw }

func parseField(field string, min, max int) ([]bool, error) {
	bits := make([]bool, max+1)
	for _, part := range strings.Split(field, ",") {
		if err := parsePart(part, min, max, bits); err != nil {
			return nil, err
		}
	}
	return bits, nil
}

func parsePart(part string, min, max int, bits []bool) error {
	step := 1
	rangePart := part
	if idx := strings.Index(part, "/"); idx >= 0 {
		rangePart = part[:idx]
		n, err := strconv.Atoi(part[idx+1:])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid step in %q", part)
		}
		step = n
	}

	var lo, hi int
	switch {
	case rangePart == "*":
		lo, hi = min, max
	case strings.Contains(rangePart, "-"):
		bounds := strings.SplitN(rangePart, "-", 2)
		var err error
		lo, err = strconv.Atoi(bounds[0])
		if err != nil {
			return fmt.Errorf("invalid range start in %q", part)
		}
		hi, err = strconv.Atoi(bounds[1])
		if err != nil {
			return fmt.Errorf("invalid range end in %q", part)
		}
	default:
		n, err := strconv.Atoi(rangePart)
		if err != nil {
			return fmt.Errorf("invalid value %q", part)
		}
		lo, hi = n, n
	}

	if lo < min || hi > max || lo > hi {
		return fmt.Errorf("value out of range in %q (expected %d-%d)", part, min, max)
	}
	for v := lo; v <= hi; v += step {
		bits[v] = true
	}
	return nil
}
