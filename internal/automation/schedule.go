// Package automation schedules sessions on cron, interval, and
// one-shot triggers and keeps a durable execution history per
// automation.
package automation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerType discriminates ScheduleConfig variants.
type TriggerType string

const (
	TriggerCron     TriggerType = "cron"
	TriggerInterval TriggerType = "interval"
	TriggerOnce     TriggerType = "once"
)

var intervalPattern = regexp.MustCompile(`^[1-9][0-9]*[smhd]$`)

// cronParser accepts standard 5-field expressions.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// cronSecondsParser accepts 6-field expressions with a leading seconds
// field.
var cronSecondsParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// ScheduleConfig is the tagged trigger specification of an automation.
type ScheduleConfig struct {
	Type  TriggerType `json:"type"`
	Value string      `json:"value"`
}

// Validate checks the value against its type's grammar.
func (s ScheduleConfig) Validate() error {
	switch s.Type {
	case TriggerCron:
		_, err := s.CronSchedule()
		return err
	case TriggerInterval:
		_, err := s.Interval()
		return err
	case TriggerOnce:
		_, err := s.OnceAt()
		return err
	default:
		return fmt.Errorf("unknown schedule type %q", s.Type)
	}
}

// CronSchedule parses the 5- or 6-field cron expression.
func (s ScheduleConfig) CronSchedule() (cron.Schedule, error) {
	if s.Type != TriggerCron {
		return nil, fmt.Errorf("schedule type is %s, not cron", s.Type)
	}
	fields := len(strings.Fields(s.Value))
	switch fields {
	case 5:
		return cronParser.Parse(s.Value)
	case 6:
		return cronSecondsParser.Parse(s.Value)
	default:
		return nil, fmt.Errorf("cron expression needs 5 or 6 fields, got %d", fields)
	}
}

// Interval parses the `<n><s|m|h|d>` duration.
func (s ScheduleConfig) Interval() (time.Duration, error) {
	if s.Type != TriggerInterval {
		return 0, fmt.Errorf("schedule type is %s, not interval", s.Type)
	}
	if !intervalPattern.MatchString(s.Value) {
		return 0, fmt.Errorf("invalid interval %q, want e.g. 30s, 5m, 2h, 1d", s.Value)
	}
	n, err := strconv.Atoi(s.Value[:len(s.Value)-1])
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", s.Value, err)
	}
	var unit time.Duration
	switch s.Value[len(s.Value)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	}
	return time.Duration(n) * unit, nil
}

// OnceAt parses the RFC 3339 fire instant.
func (s ScheduleConfig) OnceAt() (time.Time, error) {
	if s.Type != TriggerOnce {
		return time.Time{}, fmt.Errorf("schedule type is %s, not once", s.Type)
	}
	at, err := time.Parse(time.RFC3339, s.Value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid once timestamp %q: %w", s.Value, err)
	}
	return at, nil
}

// Next computes the next fire time after from. For once triggers whose
// instant has passed, the instant itself is returned.
func (s ScheduleConfig) Next(from time.Time) (time.Time, error) {
	switch s.Type {
	case TriggerCron:
		sched, err := s.CronSchedule()
		if err != nil {
			return time.Time{}, err
		}
		return sched.Next(from), nil
	case TriggerInterval:
		d, err := s.Interval()
		if err != nil {
			return time.Time{}, err
		}
		return from.Add(d), nil
	case TriggerOnce:
		return s.OnceAt()
	default:
		return time.Time{}, fmt.Errorf("unknown schedule type %q", s.Type)
	}
}

// Execution statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Automation is a persisted, project-scoped scheduled instruction.
type Automation struct {
	ID            string         `json:"id"`
	ProjectID     string         `json:"project_id"`
	Name          string         `json:"name"`
	Message       string         `json:"message"`
	Schedule      ScheduleConfig `json:"schedule"`
	Enabled       bool           `json:"enabled"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	LastExecution *time.Time     `json:"last_execution,omitempty"`
	NextExecution *time.Time     `json:"next_execution,omitempty"`
}

// ExecutionRecord is one durable firing outcome.
type ExecutionRecord struct {
	ID           string    `json:"id"`
	AutomationID string    `json:"automation_id"`
	SessionID    string    `json:"session_id"`
	ExecutedAt   time.Time `json:"executed_at"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
}
