package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"reportbot/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", "  none "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q): %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) should return a nil store", driver)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestSQLiteRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func newTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "bot.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRecordAndRecentFirings(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)

	records := []FiringRecord{
		{Report: "sales", Chat: -100, StartedAt: base, FinishedAt: base.Add(2 * time.Second), Status: StatusOK, Attempts: 1, Artifact: "/tmp/a.html"},
		{Report: "stock", Chat: -100, StartedAt: base.Add(time.Minute), FinishedAt: base.Add(61 * time.Second), Status: StatusDeliveryFailed, Attempts: 4, Error: "delivery failed after 4 attempts"},
		{Report: "sales", Chat: -200, StartedAt: base.Add(2 * time.Minute), FinishedAt: base.Add(2 * time.Minute), Status: StatusFetchError, Error: "fetch sales: 500"},
	}
	for _, rec := range records {
		if err := st.RecordFiring(ctx, rec); err != nil {
			t.Fatalf("RecordFiring(%s): %v", rec.Report, err)
		}
	}

	got, err := st.RecentFirings(ctx, 2)
	if err != nil {
		t.Fatalf("RecentFirings: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	// Newest first.
	if got[0].Report != "sales" || got[0].Status != StatusFetchError {
		t.Fatalf("got[0] = %+v", got[0])
	}
	if got[1].Report != "stock" || got[1].Attempts != 4 {
		t.Fatalf("got[1] = %+v", got[1])
	}
	if !got[1].StartedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("started_at round-trip: %v", got[1].StartedAt)
	}
	if got[1].Error == "" || got[0].Artifact != "" {
		t.Fatalf("nullable columns round-trip: %+v, %+v", got[0], got[1])
	}
}

func TestRecentFiringsDefaultLimit(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := st.RecordFiring(ctx, FiringRecord{
			Report:    "r",
			Chat:      1,
			StartedAt: time.Now().Add(time.Duration(i) * time.Second),
			Status:    StatusOK,
			Attempts:  1,
		})
		if err != nil {
			t.Fatalf("RecordFiring: %v", err)
		}
	}
	got, err := st.RecentFirings(ctx, 0)
	if err != nil {
		t.Fatalf("RecentFirings: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
}
