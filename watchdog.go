package main

import (
	"sync"
	"time"
)

// Watchdog is the software stand-in for the MCU's independent watchdog.
// If the control loop stops kicking it, it panics so systemd restarts the service.
type Watchdog struct {
	log      *LeveledLogger
	mu       sync.Mutex
	timeout  time.Duration
	timer    *time.Timer
	armed    bool
	stopped  bool
	onExpire func()
}

func NewWatchdog(logger *LeveledLogger) *Watchdog {
	w := &Watchdog{log: logger}
	w.onExpire = func() {
		panic("watchdog expired")
	}
	return w
}

// Arm starts counting; SetTimeout and Kick before Arm only record the period
func (w *Watchdog) Arm() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.armed = true
	w.resetLocked()
}

// SetTimeout changes the period and restarts it
func (w *Watchdog) SetTimeout(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.log.Debug("Watchdog timeout set to %s", d)
	w.timeout = d
	w.resetLocked()
}

// Kick restarts the current period
func (w *Watchdog) Kick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetLocked()
}

func (w *Watchdog) resetLocked() {
	if !w.armed || w.stopped || w.timeout <= 0 {
		return
	}
	if w.timer == nil {
		w.timer = time.AfterFunc(w.timeout, w.fire)
		return
	}
	w.timer.Reset(w.timeout)
}

func (w *Watchdog) fire() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	timeout := w.timeout
	w.mu.Unlock()

	w.log.Error("Watchdog not kicked for %s - restarting service", timeout)
	w.onExpire()
}

// Stop disarms the watchdog for an orderly shutdown
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
}
