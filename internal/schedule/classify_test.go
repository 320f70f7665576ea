package schedule

import (
	"errors"
	"testing"
	"time"
)

func at(hour, min int) time.Time {
	return time.Date(2025, 3, 10, hour, min, 0, 0, time.UTC)
}

func TestClassifyModes(t *testing.T) {
	t.Parallel()
	pol := Policy{IgnoreThreshold: 30, CatchUpThreshold: 15}

	tests := []struct {
		name  string
		job   Job
		now   time.Time
		kind  ModeKind
		every time.Duration
		hour  int
		min   int
	}{
		{
			name:  "recurring wins regardless of delay",
			job:   Job{Report: "r1", Time: "09:00", EveryMinutes: 60},
			now:   at(23, 50),
			kind:  ModeRecurring,
			every: time.Hour,
		},
		{
			name:  "recurring at exactly the ignore threshold",
			job:   Job{Report: "r2", Time: "09:00", EveryMinutes: 30},
			now:   at(9, 0),
			kind:  ModeRecurring,
			every: 30 * time.Minute,
		},
		{
			name: "sub-threshold interval collapses to daily",
			job:  Job{Report: "r3", Time: "09:00", EveryMinutes: 29},
			now:  at(12, 0),
			kind: ModeDaily,
			hour: 9,
		},
		{
			name: "recently passed trigger catches up",
			job:  Job{Report: "r4", Time: "09:00"},
			now:  at(9, 10),
			kind: ModeImmediate,
		},
		{
			name: "catch-up boundary is inclusive",
			job:  Job{Report: "r5", Time: "09:00"},
			now:  at(9, 15),
			kind: ModeImmediate,
		},
		{
			name: "trigger exactly now catches up",
			job:  Job{Report: "r6", Time: "09:00"},
			now:  at(9, 0),
			kind: ModeImmediate,
		},
		{
			name: "missed beyond the window waits for tomorrow",
			job:  Job{Report: "r7", Time: "09:00"},
			now:  at(9, 30),
			kind: ModeDaily,
			hour: 9,
		},
		{
			name: "time still ahead today waits for the daily timer",
			job:  Job{Report: "r8", Time: "09:00"},
			now:  at(8, 50),
			kind: ModeDaily,
			hour: 9,
		},
		{
			name: "late evening trigger from early morning",
			job:  Job{Report: "r9", Time: "23:45"},
			now:  at(0, 5),
			kind: ModeDaily,
			hour: 23,
			min:  45,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Classify(tt.job, tt.now, pol)
			if err != nil {
				t.Fatalf("Classify error: %v", err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if tt.kind == ModeRecurring && got.Every != tt.every {
				t.Fatalf("Every = %v, want %v", got.Every, tt.every)
			}
			if tt.kind == ModeDaily && (got.Hour != tt.hour || got.Min != tt.min) {
				t.Fatalf("Daily = %02d:%02d, want %02d:%02d", got.Hour, got.Min, tt.hour, tt.min)
			}
		})
	}
}

func TestClassifyZeroCatchUpWindow(t *testing.T) {
	t.Parallel()
	pol := Policy{IgnoreThreshold: 30, CatchUpThreshold: 0}

	// With a zero window only a trigger at this exact minute fires now.
	got, err := Classify(Job{Report: "r", Time: "09:00"}, at(9, 0), pol)
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if got.Kind != ModeImmediate {
		t.Fatalf("Kind = %v, want immediate", got.Kind)
	}

	got, err = Classify(Job{Report: "r", Time: "09:00"}, at(9, 1), pol)
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if got.Kind != ModeDaily {
		t.Fatalf("Kind = %v, want daily", got.Kind)
	}
}

func TestClassifyBadTime(t *testing.T) {
	t.Parallel()
	pol := Policy{IgnoreThreshold: 30, CatchUpThreshold: 15}

	for _, raw := range []string{"", "morning", "24:00", "09:60", "9", "09:0"} {
		_, err := Classify(Job{Report: "bad", Time: raw}, at(9, 0), pol)
		if err == nil {
			t.Fatalf("Classify(%q): expected error", raw)
		}
		var bad *BadJobError
		if !errors.As(err, &bad) {
			t.Fatalf("Classify(%q): error type %T, want *BadJobError", raw, err)
		}
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := parseHHMM("23:15")
	if err != nil {
		t.Fatalf("parseHHMM error: %v", err)
	}
	if h != 23 || m != 15 {
		t.Fatalf("unexpected result: %d:%d", h, m)
	}

	if _, _, err := parseHHMM("24:00"); err == nil {
		t.Fatal("expected error for invalid hour")
	}
}
