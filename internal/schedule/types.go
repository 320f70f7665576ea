package schedule

import (
	"fmt"
	"time"
)

// Job is one configured report job. Jobs are immutable after load; the
// registry is enumerated exactly once per process lifetime.
type Job struct {
	// Report is the opaque identifier used to query the data source.
	Report string
	// Name is the human-readable label used in rendered output.
	Name string
	// Chat is the delivery target.
	Chat int64
	// Time is the daily trigger as "HH:MM" (24h wall clock). It is validated
	// at classification time, not at load time, so one malformed job cannot
	// block its siblings.
	Time string
	// EveryMinutes, if > 0, requests a recurring run at that interval.
	EveryMinutes int
}

// Policy holds the process-wide classification thresholds, in whole minutes.
// It is constructed once at startup and passed explicitly.
type Policy struct {
	// IgnoreThreshold is the minimum recurrence interval honored as genuinely
	// periodic. Sub-threshold intervals collapse to a single daily run.
	IgnoreThreshold int
	// CatchUpThreshold is the grace window within which a daily trigger that
	// already passed today still runs immediately.
	CatchUpThreshold int
}

// ModeKind selects how a classified job is activated.
type ModeKind int

const (
	// ModeRecurring registers a periodic timer at the job's interval.
	ModeRecurring ModeKind = iota
	// ModeImmediate fires the job body once, now, with no timer registration.
	ModeImmediate
	// ModeDaily registers a timer that fires at the job's time-of-day every day.
	ModeDaily
)

func (k ModeKind) String() string {
	switch k {
	case ModeRecurring:
		return "recurring"
	case ModeImmediate:
		return "immediate"
	case ModeDaily:
		return "daily"
	default:
		return fmt.Sprintf("mode(%d)", int(k))
	}
}

// Mode is the derived execution mode of one job. It is computed at evaluation
// time and never stored.
type Mode struct {
	Kind  ModeKind
	Every time.Duration // ModeRecurring
	Hour  int           // ModeDaily
	Min   int           // ModeDaily
}

func (m Mode) String() string {
	switch m.Kind {
	case ModeRecurring:
		return fmt.Sprintf("recurring(%s)", m.Every)
	case ModeDaily:
		return fmt.Sprintf("daily(%02d:%02d)", m.Hour, m.Min)
	default:
		return m.Kind.String()
	}
}

// BadJobError marks a job definition that cannot be classified. The job is
// skipped; other jobs are unaffected.
type BadJobError struct {
	Report string
	Reason string
}

func (e *BadJobError) Error() string {
	return fmt.Sprintf("job %s: %s", e.Report, e.Reason)
}
