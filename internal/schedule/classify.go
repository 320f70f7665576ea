package schedule

import (
	"fmt"
	"regexp"
	"time"
)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)

// parseHHMM parses "HH:MM" with hour 0-23 and minute 0-59.
func parseHHMM(v string) (hour, min int, err error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, 0, fmt.Errorf("invalid time %q (use HH:MM)", v)
	}
	for i := 0; i < len(m[1]); i++ {
		hour = hour*10 + int(m[1][i]-'0')
	}
	min = int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", v)
	}
	if min > 59 {
		return 0, 0, fmt.Errorf("invalid minutes in %q", v)
	}
	return hour, min, nil
}

// Classify selects exactly one execution mode for a job at time now.
// First matching rule wins:
//
//  1. A recurrence interval at or above the ignore threshold is honored as
//     genuinely periodic. Shorter intervals would fire needlessly often
//     relative to the data refresh cadence and collapse to a daily run.
//  2. A trigger time that passed within the catch-up window still runs today,
//     immediately. Times that have not come up yet do not qualify; they wait
//     for the daily timer, which fires later the same day.
//  3. Everything else gets a daily timer at the job's time-of-day.
//
// A malformed time-of-day yields *BadJobError and no mode.
func Classify(job Job, now time.Time, pol Policy) (Mode, error) {
	hour, min, err := parseHHMM(job.Time)
	if err != nil {
		return Mode{}, &BadJobError{Report: job.Report, Reason: err.Error()}
	}

	if job.EveryMinutes > 0 && job.EveryMinutes >= pol.IgnoreThreshold {
		return Mode{Kind: ModeRecurring, Every: time.Duration(job.EveryMinutes) * time.Minute}, nil
	}

	jobTime := time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, now.Location())
	delay := now.Sub(jobTime)
	if delay >= 0 && delay <= time.Duration(pol.CatchUpThreshold)*time.Minute {
		return Mode{Kind: ModeImmediate}, nil
	}

	return Mode{Kind: ModeDaily, Hour: hour, Min: min}, nil
}
