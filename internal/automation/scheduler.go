package automation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// SessionRunner starts a transient session for one firing and runs one
// turn to completion. The session manager implements it.
type SessionRunner interface {
	RunAutomation(ctx context.Context, sessionID, profileID, message string) error
}

// Scheduler owns the set of active triggers. Entries are keyed by
// automation id, so rescheduling replaces instead of duplicating.
type Scheduler struct {
	store          *Store
	runner         SessionRunner
	defaultProfile string

	mu      sync.Mutex
	running bool
	cron    *cron.Cron
	entries map[string]cron.EntryID
	timers  map[string]*time.Timer
	wg      sync.WaitGroup
}

// SchedulerOption configures the scheduler.
type SchedulerOption func(*Scheduler)

// WithDefaultProfile sets the profile used for automation sessions.
func WithDefaultProfile(id string) SchedulerOption {
	return func(s *Scheduler) { s.defaultProfile = id }
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(st *Store, runner SessionRunner, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:          st,
		runner:         runner,
		defaultProfile: "default",
		cron:           cron.New(),
		entries:        make(map[string]cron.EntryID),
		timers:         make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start loads every enabled automation and registers its trigger.
// Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	automations, err := s.store.List("")
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}
	for _, a := range automations {
		if a.Enabled {
			s.Schedule(a)
		}
	}
	s.cron.Start()
	log.Info().Int("automations", len(automations)).Msg("automation scheduler started")
	return nil
}

// Stop cancels pending fires and waits for in-flight executions.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	for id, entry := range s.entries {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.wg.Wait()
	log.Info().Msg("automation scheduler stopped")
}

// Schedule registers the automation's trigger, replacing any existing
// one. Disabled automations are unscheduled instead.
func (s *Scheduler) Schedule(a *Automation) {
	if !a.Enabled {
		s.Unschedule(a.ID)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(a.ID)

	id := a.ID
	switch a.Schedule.Type {
	case TriggerCron:
		sched, err := a.Schedule.CronSchedule()
		if err != nil {
			log.Error().Err(err).Str("automation_id", id).Msg("invalid cron schedule")
			return
		}
		s.entries[id] = s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(id) }))

	case TriggerInterval:
		d, err := a.Schedule.Interval()
		if err != nil {
			log.Error().Err(err).Str("automation_id", id).Msg("invalid interval schedule")
			return
		}
		s.entries[id] = s.cron.Schedule(cron.Every(d), cron.FuncJob(func() { s.fire(id) }))

	case TriggerOnce:
		at, err := a.Schedule.OnceAt()
		if err != nil {
			log.Error().Err(err).Str("automation_id", id).Msg("invalid once schedule")
			return
		}
		delay := time.Until(at)
		if delay < 0 {
			// Past-due one-shots fire immediately, then retire.
			delay = 0
		}
		s.timers[id] = time.AfterFunc(delay, func() {
			s.fire(id)
			s.retireOnce(id)
		})
	}

	s.updateNext(a)
}

// Unschedule removes the automation's trigger. Missing keys are not an
// error.
func (s *Scheduler) Unschedule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
}

// Scheduled reports whether the automation has an active trigger.
func (s *Scheduler) Scheduled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, cronEntry := s.entries[id]
	_, timerEntry := s.timers[id]
	return cronEntry || timerEntry
}

func (s *Scheduler) removeLocked(id string) {
	if entry, ok := s.entries[id]; ok {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
}

// fire runs one automation firing and records the outcome. Failures to
// even start the session still produce a failed record.
func (s *Scheduler) fire(id string) {
	s.wg.Add(1)
	defer s.wg.Done()

	a, err := s.store.Get(id)
	if err != nil {
		log.Error().Err(err).Str("automation_id", id).Msg("automation vanished before firing")
		return
	}

	sessionID := "auto_" + strings.ToLower(ulid.Make().String())
	log.Info().Str("automation_id", id).Str("session_id", sessionID).Msg("automation firing")

	rec := &ExecutionRecord{
		AutomationID: id,
		SessionID:    sessionID,
		ExecutedAt:   time.Now().UTC(),
		Status:       StatusSuccess,
	}
	if err := s.runner.RunAutomation(context.Background(), sessionID, s.defaultProfile, a.Message); err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
		log.Warn().Err(err).Str("automation_id", id).Msg("automation execution failed")
	}
	if err := s.store.RecordExecution(rec); err != nil {
		log.Error().Err(err).Str("automation_id", id).Msg("record execution failed")
	}
}

// retireOnce disables a fired one-shot so restarts do not re-arm it.
func (s *Scheduler) retireOnce(id string) {
	s.Unschedule(id)
	if _, err := s.store.SetEnabled(id, false); err != nil {
		log.Warn().Err(err).Str("automation_id", id).Msg("disable one-shot failed")
	}
}

func (s *Scheduler) updateNext(a *Automation) {
	next, err := a.Schedule.Next(time.Now().UTC())
	if err != nil {
		return
	}
	a.NextExecution = &next
	if err := s.store.Update(a); err != nil {
		log.Warn().Err(err).Str("automation_id", a.ID).Msg("update next_execution failed")
	}
}
