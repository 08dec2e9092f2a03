package systemd

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) fn(_ bool, state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

// Tests below swap the package-level notify and must not run in parallel.

func TestStates(t *testing.T) {
	rec := &recorder{}
	prev := notify
	notify = rec.fn
	defer func() { notify = prev }()

	_, _ = Ready()
	_, _ = Status("cycle ok")
	_, _ = Reloading()
	_, _ = Stopping()

	want := []string{"READY=1", "STATUS=cycle ok", "RELOADING=1", "STOPPING=1"}
	got := rec.snapshot()
	if len(got) != len(want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("states[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestWatchdogSkipsWhenUnhealthy(t *testing.T) {
	rec := &recorder{}
	prev := notify
	notify = rec.fn
	defer func() { notify = prev }()

	var mu sync.Mutex
	healthy := false
	check := func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if !healthy {
			return errors.New("stale")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = Watchdog(ctx, 5*time.Millisecond, check)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	if n := len(rec.snapshot()); n != 0 {
		t.Fatalf("pings while unhealthy = %d, want 0", n)
	}
	mu.Lock()
	healthy = true
	mu.Unlock()

	deadline := time.Now().Add(time.Second)
	for len(rec.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	if got := rec.snapshot(); len(got) == 0 || got[0] != "WATCHDOG=1" {
		t.Fatalf("states = %v, want WATCHDOG=1 pings", got)
	}
}

func TestWatchdogDisabledBlocksUntilDone(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := Watchdog(ctx, 0, nil); err != nil {
		t.Fatalf("Watchdog = %v, want nil", err)
	}
}
