package resque

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts exactly six fields:
// second minute hour day_of_month month day_of_week.
//
// Field syntax follows standard cron: *, N, N-M, */S, N-M/S, N,M,O and
// month/day names. When both day fields are restricted, either may match.
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Rule is a parsed six-field crontab rule.
type Rule struct {
	sched cron.Schedule
	raw   string
}

// ParseRule parses a six-field crontab rule.
func ParseRule(rule string) (*Rule, error) {
	rule = strings.TrimSpace(rule)
	if n := len(strings.Fields(rule)); n != 6 {
		return nil, fmt.Errorf("cron: expected 6 fields, got %d", n)
	}
	sched, err := cronParser.Parse(rule)
	if err != nil {
		return nil, fmt.Errorf("cron: %w", err)
	}
	return &Rule{sched: sched, raw: rule}, nil
}

// String returns the rule as written.
func (r *Rule) String() string {
	return r.raw
}

// Next returns the first fire time strictly after t.
func (r *Rule) Next(t time.Time) time.Time {
	return r.sched.Next(t)
}

// Within returns every fire time, as unix seconds, in the minute that starts
// at minuteStart. The result is ascending and depends only on its inputs.
func (r *Rule) Within(minuteStart time.Time) []int64 {
	end := minuteStart.Add(time.Minute)
	var out []int64
	for t := r.sched.Next(minuteStart.Add(-time.Second)); !t.IsZero() && t.Before(end); t = r.sched.Next(t) {
		out = append(out, t.Unix())
	}
	return out
}

// ParseCrontab evaluates rule against the minute starting at minuteStart.
func ParseCrontab(rule string, minuteStart time.Time) ([]int64, error) {
	r, err := ParseRule(rule)
	if err != nil {
		return nil, err
	}
	return r.Within(minuteStart), nil
}

// IsValidRule reports whether rule is a well-formed six-field crontab rule.
func IsValidRule(rule string) bool {
	_, err := ParseRule(rule)
	return err == nil
}

// referenceMinute returns the minute crontabs are evaluated against. Past
// the half-minute mark the loop is assumed to have drifted and the next
// minute is used.
func referenceMinute(now time.Time) time.Time {
	m := now.Truncate(time.Minute)
	if now.Second() >= 30 {
		m = m.Add(time.Minute)
	}
	return m
}
