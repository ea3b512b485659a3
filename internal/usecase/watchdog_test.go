package usecase

import (
	"testing"
	"time"
)

func TestWatchdogIdleBoundary(t *testing.T) {
	t.Parallel()

	w := newWatchdog(WatchdogConfig{})
	w.Start(clockBase)

	if v := w.Check(clockBase.Add(179 * time.Second)); v.Idle {
		t.Fatalf("did not expect idle at 179s")
	}
	if v := w.Check(clockBase.Add(181 * time.Second)); !v.Idle {
		t.Fatalf("expected idle at 181s")
	}

	w.Touch(clockBase.Add(181 * time.Second))
	if v := w.Check(clockBase.Add(200 * time.Second)); v.Idle {
		t.Fatalf("expected touch to reset the idle clock")
	}
}

func TestWatchdogDurationWarningAndLimit(t *testing.T) {
	t.Parallel()

	w := newWatchdog(WatchdogConfig{IdleTimeout: 24 * time.Hour})
	w.Start(clockBase)

	if v := w.Check(clockBase.Add(2*time.Hour + 49*time.Minute)); v.Warn || v.Limit {
		t.Fatalf("unexpected verdict before the warning: %+v", v)
	}
	if v := w.Check(clockBase.Add(2*time.Hour + 50*time.Minute)); !v.Warn {
		t.Fatalf("expected warning at 2h50m")
	}
	if v := w.Check(clockBase.Add(2*time.Hour + 55*time.Minute)); v.Warn {
		t.Fatalf("warning must be reported once")
	}
	if v := w.Check(clockBase.Add(3 * time.Hour)); !v.Limit {
		t.Fatalf("expected limit at 3h")
	}
}

func TestWatchdogExcludesPausedTime(t *testing.T) {
	t.Parallel()

	w := newWatchdog(WatchdogConfig{IdleTimeout: 24 * time.Hour})
	w.Start(clockBase)
	w.Stop(clockBase.Add(2 * time.Hour))

	if v := w.Check(clockBase.Add(10 * time.Hour)); v.Limit || v.Idle {
		t.Fatalf("paused watchdog must not fire: %+v", v)
	}

	resumeAt := clockBase.Add(5 * time.Hour)
	w.Start(resumeAt)
	if v := w.Check(resumeAt.Add(59 * time.Minute)); v.Limit {
		t.Fatalf("paused span was counted: elapsed %v", v.Elapsed)
	}
	if v := w.Check(resumeAt.Add(time.Hour)); !v.Limit || v.Elapsed != 3*time.Hour {
		t.Fatalf("expected limit after 3h of active time, got %+v", v)
	}
}
