package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Timers is the registration primitive consumed by the scheduler service.
// Production code uses CronTimers; tests substitute a fake.
type Timers interface {
	// Daily registers fn to fire at hour:minute every day.
	Daily(hour, min int, fn func()) error
	// Every registers fn to fire at a fixed interval.
	Every(d time.Duration, fn func()) error
	Start()
	// Stop stops triggering. Already-started callbacks run to completion.
	Stop()
}

// CronTimers backs Timers with robfig/cron in a fixed location.
type CronTimers struct {
	c *cron.Cron
}

func NewCronTimers(loc *time.Location) *CronTimers {
	if loc == nil {
		loc = time.Local
	}
	return &CronTimers{c: cron.New(cron.WithLocation(loc))}
}

func (t *CronTimers) Daily(hour, min int, fn func()) error {
	_, err := t.c.AddFunc(fmt.Sprintf("%d %d * * *", min, hour), fn)
	return err
}

func (t *CronTimers) Every(d time.Duration, fn func()) error {
	if d <= 0 {
		return fmt.Errorf("interval must be > 0")
	}
	_, err := t.c.AddFunc(fmt.Sprintf("@every %s", d), fn)
	return err
}

func (t *CronTimers) Start() { t.c.Start() }

func (t *CronTimers) Stop() { <-t.c.Stop().Done() }
