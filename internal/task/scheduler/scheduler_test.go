package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"econbot/pkg/logx"
)

func TestAddScheduleRejectsInvalid(t *testing.T) {
	t.Parallel()
	s := New(time.UTC, logx.Nop())
	noop := func(context.Context) error { return nil }
	if err := s.AddSchedule("bad", "not-a-schedule", 0, noop); err == nil {
		t.Fatal("expected parse error")
	}
	if err := s.AddSchedule("badcron", "cron:99 * * * *", 0, noop); err == nil {
		t.Fatal("expected cron error")
	}
	if err := s.Validate("0 18 * * 0"); err != nil {
		t.Fatalf("Validate = %v", err)
	}
}

func TestIntervalJobRunsAndSkipsOverlap(t *testing.T) {
	t.Parallel()
	s := New(time.UTC, logx.Nop())
	var runs atomic.Int32
	release := make(chan struct{})
	err := s.AddSchedule("slow", "@every 1s", 5*time.Second, func(ctx context.Context) error {
		runs.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return errors.New("done")
	})
	if err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(3500 * time.Millisecond)
	close(release)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)

	if got := runs.Load(); got != 1 {
		t.Fatalf("runs = %d, want 1 (overlapping ticks skipped)", got)
	}
	infos := s.Snapshot()
	if len(infos) != 1 || infos[0].Skipped == 0 || infos[0].LastErr != "done" {
		t.Fatalf("Snapshot = %+v", infos)
	}
}

func TestRemoveAndReplace(t *testing.T) {
	t.Parallel()
	s := New(time.UTC, logx.Nop())
	noop := func(context.Context) error { return nil }
	if err := s.AddSchedule("a", "5m", 0, noop); err != nil {
		t.Fatal(err)
	}
	if err := s.AddSchedule("a", "10m", 0, noop); err != nil {
		t.Fatal(err)
	}
	infos := s.Snapshot()
	if len(infos) != 1 || infos[0].Spec != "@every 10m0s" {
		t.Fatalf("Snapshot = %+v", infos)
	}
	if !s.Remove("a") || s.Remove("a") {
		t.Fatal("Remove returned wrong result")
	}
}

func TestNextRunsUsesLocation(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	s := New(loc, logx.Nop())
	from := time.Date(2025, 10, 15, 12, 0, 0, 0, loc) // Wednesday
	runs, err := s.NextRuns("0 18 * * 0", from, 2)
	if err != nil {
		t.Fatalf("NextRuns: %v", err)
	}
	want := time.Date(2025, 10, 19, 18, 0, 0, 0, loc)
	if len(runs) != 2 || !runs[0].Equal(want) || !runs[1].Equal(want.AddDate(0, 0, 7)) {
		t.Fatalf("runs = %v", runs)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	t.Parallel()
	err := runJob(context.Background(), func(context.Context) error { panic("x") })
	if err == nil {
		t.Fatal("expected error from panicking job")
	}
}
