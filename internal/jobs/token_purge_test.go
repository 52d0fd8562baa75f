package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docgate/docgate/internal/config"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// stubPurger counts purge calls and plays back a canned result.
type stubPurger struct {
	calls     atomic.Int64
	retention atomic.Int64 // last retention seen, in nanoseconds
	count     int64
	err       error
}

func (p *stubPurger) PurgeExpired(_ context.Context, retention time.Duration) (int64, error) {
	p.calls.Add(1)
	p.retention.Store(int64(retention))
	return p.count, p.err
}

func purgeConfig(enabled bool, interval, retention time.Duration) config.TokenPurgeConfig {
	return config.TokenPurgeConfig{
		Enabled:   enabled,
		Interval:  interval,
		Retention: retention,
	}
}

// ---------------------------------------------------------------------------
// NewTokenPurgeJob — construction and interval defaulting
// ---------------------------------------------------------------------------

func TestNewTokenPurgeJob_DefaultInterval(t *testing.T) {
	j := NewTokenPurgeJob(&stubPurger{}, purgeConfig(true, 0, 0))
	if j.cfg.Interval != time.Hour {
		t.Errorf("interval = %v, want 1h", j.cfg.Interval)
	}
}

func TestNewTokenPurgeJob_NegativeInterval_DefaultsHourly(t *testing.T) {
	j := NewTokenPurgeJob(&stubPurger{}, purgeConfig(true, -time.Minute, 0))
	if j.cfg.Interval != time.Hour {
		t.Errorf("interval = %v, want 1h", j.cfg.Interval)
	}
}

func TestNewTokenPurgeJob_CustomInterval(t *testing.T) {
	j := NewTokenPurgeJob(&stubPurger{}, purgeConfig(true, 15*time.Minute, 0))
	if j.cfg.Interval != 15*time.Minute {
		t.Errorf("interval = %v, want 15m", j.cfg.Interval)
	}
}

func TestNewTokenPurgeJob_StopChanInitialised(t *testing.T) {
	j := NewTokenPurgeJob(&stubPurger{}, purgeConfig(true, time.Hour, 0))
	if j.stopChan == nil {
		t.Error("stopChan should not be nil after construction")
	}
}

// ---------------------------------------------------------------------------
// Start — disabled early exit, initial pass, Stop
// ---------------------------------------------------------------------------

func TestTokenPurgeJob_Start_Disabled(t *testing.T) {
	purger := &stubPurger{}
	j := NewTokenPurgeJob(purger, purgeConfig(false, time.Hour, 0))

	done := make(chan struct{})
	go func() {
		j.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
		// Start returned immediately because Enabled=false
	case <-time.After(2 * time.Second):
		t.Error("Start did not return quickly when the job is disabled")
	}
	if purger.calls.Load() != 0 {
		t.Errorf("purger called %d times for a disabled job, want 0", purger.calls.Load())
	}
}

func TestTokenPurgeJob_Start_RunsInitialPassThenStops(t *testing.T) {
	purger := &stubPurger{count: 4}
	retention := 48 * time.Hour
	j := NewTokenPurgeJob(purger, purgeConfig(true, time.Hour, retention))

	done := make(chan struct{})
	go func() {
		j.Start(context.Background())
		close(done)
	}()

	// The initial pass runs before the first tick.
	deadline := time.After(2 * time.Second)
	for purger.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("initial purge pass never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}

	j.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Start did not return after Stop")
	}

	if got := time.Duration(purger.retention.Load()); got != retention {
		t.Errorf("retention passed to purger = %v, want %v", got, retention)
	}
}

func TestTokenPurgeJob_Start_ContextCancel(t *testing.T) {
	purger := &stubPurger{}
	j := NewTokenPurgeJob(purger, purgeConfig(true, time.Hour, 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Start did not return after context cancellation")
	}
}

func TestTokenPurgeJob_Start_TicksRepeatedly(t *testing.T) {
	purger := &stubPurger{}
	j := NewTokenPurgeJob(purger, purgeConfig(true, 10*time.Millisecond, 0))

	done := make(chan struct{})
	go func() {
		j.Start(context.Background())
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for purger.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("purger called only %d times, want at least 3", purger.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	j.Stop()
	<-done
}

func TestTokenPurgeJob_Stop_DoesNotPanic(t *testing.T) {
	j := NewTokenPurgeJob(&stubPurger{}, purgeConfig(true, time.Hour, 0))
	j.Stop() // must not panic
}

// ---------------------------------------------------------------------------
// runPurge — error handling
// ---------------------------------------------------------------------------

func TestTokenPurgeJob_RunPurge_ErrorDoesNotPanic(t *testing.T) {
	purger := &stubPurger{err: errors.New("db connection lost")}
	j := NewTokenPurgeJob(purger, purgeConfig(true, time.Hour, 0))

	j.runPurge(context.Background()) // must log and return

	if purger.calls.Load() != 1 {
		t.Errorf("purger called %d times, want 1", purger.calls.Load())
	}
}

func TestTokenPurgeJob_RunPurge_ZeroCount(t *testing.T) {
	purger := &stubPurger{count: 0}
	j := NewTokenPurgeJob(purger, purgeConfig(true, time.Hour, 0))

	j.runPurge(context.Background()) // nothing to purge is not an error
}
