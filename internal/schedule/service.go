package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"reportbot/internal/eventbus"
	"reportbot/internal/runtime/supervisor"
	"reportbot/pkg/logx"
)

// FireFunc is one job firing. Errors are handled inside the job body; the
// scheduler never sees them.
type FireFunc func(ctx context.Context, job Job)

// Service enumerates the job registry once at startup, classifies every job
// against the current time and activates the chosen mode. Firings for
// different jobs run concurrently with no mutual exclusion or ordering
// guarantee between them.
type Service struct {
	log    logx.Logger
	bus    eventbus.Bus
	pol    Policy
	timers Timers
	fire   FireFunc
	now    func() time.Time

	mu      sync.Mutex
	sup     *supervisor.Supervisor
	started bool
}

func New(pol Policy, timers Timers, fire FireFunc, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log,
		bus:    bus,
		pol:    pol,
		timers: timers,
		fire:   fire,
		now:    time.Now,
	}
}

// Start classifies and activates every job. It is called once; a second call
// is a no-op. Classification failures skip the failing job and continue.
func (s *Service) Start(ctx context.Context, jobs []Job) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	sup := s.sup
	s.mu.Unlock()

	now := s.now()
	scheduled := 0
	for _, job := range jobs {
		mode, err := Classify(job, now, s.pol)
		if err != nil {
			s.log.Error("job skipped: bad definition", logx.String("report", job.Report), logx.Err(err))
			s.publish(eventbus.JobSkipped, job, err.Error())
			continue
		}
		if err := s.activate(sup, job, mode); err != nil {
			s.log.Error("job skipped: activation failed", logx.String("report", job.Report), logx.Err(err))
			s.publish(eventbus.JobSkipped, job, err.Error())
			continue
		}
		scheduled++
		s.log.Info("job classified",
			logx.String("report", job.Report),
			logx.String("mode", mode.String()))
		s.publish(eventbus.JobClassified, job, mode.String())
	}

	s.timers.Start()
	s.log.Info("scheduler started", logx.Int("jobs", scheduled), logx.Int("skipped", len(jobs)-scheduled))
}

func (s *Service) activate(sup *supervisor.Supervisor, job Job, mode Mode) error {
	run := func() {
		name := fmt.Sprintf("job.%s", job.Report)
		sup.Go0(name, func(ctx context.Context) {
			s.publish(eventbus.JobFired, job, mode.Kind.String())
			s.fire(ctx, job)
		})
	}

	switch mode.Kind {
	case ModeRecurring:
		return s.timers.Every(mode.Every, run)
	case ModeImmediate:
		// Fire-and-forget; no timer registration.
		run()
		return nil
	case ModeDaily:
		return s.timers.Daily(mode.Hour, mode.Min, run)
	default:
		return fmt.Errorf("unknown mode %v", mode.Kind)
	}
}

// Stop stops triggering. In-flight firings run to completion; there is no
// mechanism to abort one.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}

	done := make(chan struct{})
	go func() {
		s.timers.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	if sup != nil {
		_ = sup.Wait(ctx)
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) publish(typ string, job Job, detail string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: JobEvent{
		Report: job.Report,
		Chat:   job.Chat,
		Detail: detail,
	}})
}

// JobEvent is the bus payload for job.* events.
type JobEvent struct {
	Report string
	Chat   int64
	Detail string
}
