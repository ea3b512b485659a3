package usecase

import "time"

const (
	DefaultWatchdogInterval = 10 * time.Second
	DefaultIdleTimeout      = 180 * time.Second
	DefaultDurationWarning  = 2*time.Hour + 50*time.Minute
	DefaultDurationLimit    = 3 * time.Hour
)

// WatchdogConfig bounds how long a session may sit idle or run in total.
type WatchdogConfig struct {
	Interval    time.Duration
	IdleTimeout time.Duration
	WarnAfter   time.Duration
	Limit       time.Duration
}

func (c WatchdogConfig) withDefaults() WatchdogConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultWatchdogInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.WarnAfter <= 0 {
		c.WarnAfter = DefaultDurationWarning
	}
	if c.Limit <= 0 {
		c.Limit = DefaultDurationLimit
	}
	return c
}

type watchdogVerdict struct {
	Idle    bool
	Warn    bool
	Limit   bool
	Elapsed time.Duration
}

// watchdog tracks activity and active (unpaused) time for one session.
// Paused spans do not count towards the duration limit.
type watchdog struct {
	cfg WatchdogConfig

	lastActivity time.Time
	activeSince  time.Time
	accumulated  time.Duration
	running      bool
	warned       bool
}

func newWatchdog(cfg WatchdogConfig) *watchdog {
	return &watchdog{cfg: cfg.withDefaults()}
}

func (w *watchdog) Start(now time.Time) {
	if w.running {
		return
	}
	w.running = true
	w.activeSince = now
	w.lastActivity = now
}

func (w *watchdog) Stop(now time.Time) {
	if !w.running {
		return
	}
	w.accumulated += now.Sub(w.activeSince)
	w.running = false
	w.lastActivity = now
}

// Touch records a final transcript or lifecycle transition.
func (w *watchdog) Touch(now time.Time) {
	w.lastActivity = now
}

func (w *watchdog) Elapsed(now time.Time) time.Duration {
	if !w.running {
		return w.accumulated
	}
	return w.accumulated + now.Sub(w.activeSince)
}

// Check evaluates the limits at now. The duration warning is reported once.
func (w *watchdog) Check(now time.Time) watchdogVerdict {
	if !w.running {
		return watchdogVerdict{Elapsed: w.accumulated}
	}

	verdict := watchdogVerdict{Elapsed: w.Elapsed(now)}
	if verdict.Elapsed >= w.cfg.Limit {
		verdict.Limit = true
		return verdict
	}
	if now.Sub(w.lastActivity) >= w.cfg.IdleTimeout {
		verdict.Idle = true
	}
	if !w.warned && verdict.Elapsed >= w.cfg.WarnAfter {
		w.warned = true
		verdict.Warn = true
	}
	return verdict
}
