package pdm

import (
	"testing"
	"time"
)

// stepUntil steps the controller every 100ms until the power state is want or limit passes
func (r *testRig) stepUntil(t *testing.T, now time.Time, want PowerState, limit time.Duration) time.Time {
	t.Helper()
	end := now.Add(limit)
	for ; !now.After(end); now = now.Add(100 * time.Millisecond) {
		r.ctrl.Step(now)
		if r.ctrl.Power.State() == want {
			return now
		}
	}
	t.Fatalf("state %s not reached, stuck in %s", want, r.ctrl.Power.State())
	return now
}

func (r *testRig) sleep(t *testing.T, now time.Time) time.Time {
	t.Helper()
	r.hal.SetIgnition(false)
	return r.stepUntil(t, now, StateSleeping, 10*time.Second)
}

func TestPower_IgnitionOffSleepsAfterDebounce(t *testing.T) {
	r := newTestRig()
	r.saver.pending = true
	r.state.Channels[0].Enabled = true
	r.ctrl.Outputs.Tick(time.Unix(0, 0))

	start := time.Unix(1000, 0)
	r.hal.SetIgnition(false)

	r.ctrl.Step(start)
	r.ctrl.Step(start.Add(IgnitionOffDebounce - time.Millisecond))
	if r.ctrl.Power.State() != StateRun {
		t.Fatalf("left RUN before debounce: %s", r.ctrl.Power.State())
	}

	r.ctrl.Step(start.Add(IgnitionOffDebounce))
	if r.ctrl.Power.State() != StatePrepareSleep {
		t.Fatalf("expected prepare-sleep, got %s", r.ctrl.Power.State())
	}

	r.ctrl.Step(start.Add(IgnitionOffDebounce + 100*time.Millisecond))
	if r.ctrl.Power.State() != StateSleeping {
		t.Fatalf("expected sleeping, got %s", r.ctrl.Power.State())
	}

	if r.saver.flushes != 1 {
		t.Errorf("expected pending save flushed once, got %d", r.saver.flushes)
	}
	if !r.backup.set || !r.backup.off.Equal(start.Add(IgnitionOffDebounce+100*time.Millisecond)) {
		t.Errorf("ignition-off time not stored: %v", r.backup.off)
	}
	if r.peripherals.powerDowns != 1 {
		t.Errorf("expected 1 peripheral power down, got %d", r.peripherals.powerDowns)
	}
	if r.hal.Output(r.state.Channels[0].OutputControlPin) {
		t.Error("output left on in sleep")
	}
	if !r.platform.MotionArmed {
		t.Error("motion interrupt not armed")
	}
	if r.watchdog.timeout != SleepWatchdogTimeout {
		t.Errorf("expected sleep watchdog timeout, got %s", r.watchdog.timeout)
	}

	want := []PowerState{StatePrepareSleep, StateSleeping}
	if len(r.transitions) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, r.transitions)
	}
	for i := range want {
		if r.transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], r.transitions[i])
		}
	}
}

func TestPower_IgnitionBlipDoesNotSleep(t *testing.T) {
	r := newTestRig()
	start := time.Unix(1000, 0)

	r.hal.SetIgnition(false)
	r.ctrl.Step(start)
	r.hal.SetIgnition(true)
	r.ctrl.Step(start.Add(2 * time.Second))
	r.hal.SetIgnition(false)
	r.ctrl.Step(start.Add(4 * time.Second))
	r.ctrl.Step(start.Add(6 * time.Second))

	if r.ctrl.Power.State() != StateRun {
		t.Errorf("debounce not restarted after ignition blip: %s", r.ctrl.Power.State())
	}
}

func TestPower_SleepDisallowed(t *testing.T) {
	r := newTestRig()
	r.state.System.AllowSleep = false
	r.hal.SetIgnition(false)

	start := time.Unix(1000, 0)
	for i := 0; i < 100; i++ {
		r.ctrl.Step(start.Add(time.Duration(i) * 100 * time.Millisecond))
	}
	if r.ctrl.Power.State() != StateRun {
		t.Errorf("expected to stay in RUN, got %s", r.ctrl.Power.State())
	}
}

func TestPower_RunOnDelaysSleep(t *testing.T) {
	r := newTestRig()
	ch := &r.state.Channels[0]
	ch.RunOn = true
	ch.RunOnTime = 5000

	start := time.Unix(1000, 0)
	r.hal.SetDigital(ch.InputControlPin, true)
	r.ctrl.Step(start)
	r.hal.SetDigital(ch.InputControlPin, false)
	r.hal.SetIgnition(false)

	r.ctrl.Step(start.Add(100 * time.Millisecond))
	r.ctrl.Step(start.Add(4 * time.Second))
	if r.ctrl.Power.State() != StateRun {
		t.Fatalf("slept while run-on pending: %s", r.ctrl.Power.State())
	}

	r.stepUntil(t, start.Add(4*time.Second), StateSleeping, 5*time.Second)
}

func TestPower_SleepingHaltsAndKicks(t *testing.T) {
	r := newTestRig()
	now := r.sleep(t, time.Unix(1000, 0))
	kicks := r.watchdog.kicks

	r.ctrl.Step(now.Add(time.Second))
	r.ctrl.Step(now.Add(2 * time.Second))

	if r.platform.Halts != 2 {
		t.Errorf("expected 2 halts, got %d", r.platform.Halts)
	}
	if r.platform.LastHalt != SleepHaltPeriod {
		t.Errorf("expected halt period %s, got %s", SleepHaltPeriod, r.platform.LastHalt)
	}
	if r.watchdog.kicks != kicks+2 {
		t.Errorf("expected 2 kicks while sleeping, got %d", r.watchdog.kicks-kicks)
	}
}

func TestPower_IgnitionWake(t *testing.T) {
	r := newTestRig()
	now := r.sleep(t, time.Unix(1000, 0))

	r.hal.SetIgnition(true)
	r.ctrl.Power.SignalIgnition()

	now = now.Add(time.Second)
	r.ctrl.Step(now)
	if r.ctrl.Power.State() != StateIgnitionWaking {
		t.Fatalf("expected ignition-waking, got %s", r.ctrl.Power.State())
	}
	r.ctrl.Step(now)
	if r.ctrl.Power.State() != StateIgnitionWake || r.platform.ClockRestores != 1 {
		t.Fatalf("expected ignition-wake with clock restored, got %s (%d restores)", r.ctrl.Power.State(), r.platform.ClockRestores)
	}

	r.ctrl.Step(now.Add(WakeDebounce - time.Millisecond))
	if r.ctrl.Power.State() != StateIgnitionWake {
		t.Fatalf("left wake before debounce: %s", r.ctrl.Power.State())
	}
	r.ctrl.Step(now.Add(WakeDebounce))
	if r.ctrl.Power.State() != StateRun {
		t.Fatalf("expected RUN, got %s", r.ctrl.Power.State())
	}
	if r.peripherals.fullInits != 1 {
		t.Errorf("expected full init, got %d", r.peripherals.fullInits)
	}
	if r.platform.MotionArmed {
		t.Error("motion interrupt still armed in RUN")
	}
	if r.watchdog.timeout != RunWatchdogTimeout {
		t.Errorf("expected run watchdog timeout, got %s", r.watchdog.timeout)
	}
}

func TestPower_IgnitionDropDuringDebounce(t *testing.T) {
	r := newTestRig()
	now := r.sleep(t, time.Unix(1000, 0))

	r.ctrl.Power.SignalIgnition()
	r.ctrl.Step(now.Add(time.Second))
	r.ctrl.Step(now.Add(time.Second))
	r.ctrl.Step(now.Add(time.Second + WakeDebounce))

	if r.ctrl.Power.State() != StateSleeping {
		t.Errorf("expected back to sleep, got %s", r.ctrl.Power.State())
	}
	if r.peripherals.fullInits != 0 {
		t.Error("peripherals initialised on a bounced ignition")
	}
}

func TestPower_MotionWithinDeadTime(t *testing.T) {
	r := newTestRig()
	now := r.sleep(t, time.Unix(1000, 0))

	r.ctrl.Power.SignalMotion()
	now = now.Add(100 * time.Second)
	r.ctrl.Step(now)
	if r.ctrl.Power.State() != StateIMUWaking {
		t.Fatalf("expected imu-waking, got %s", r.ctrl.Power.State())
	}
	r.ctrl.Step(now)
	if r.ctrl.Power.State() != StateIMUWake {
		t.Fatalf("expected imu-wake, got %s", r.ctrl.Power.State())
	}
	r.ctrl.Step(now)
	if r.ctrl.Power.State() != StateSleeping {
		t.Errorf("expected sleep within dead time, got %s", r.ctrl.Power.State())
	}
	if r.peripherals.lightInits != 0 {
		t.Error("light init inside dead time")
	}
}

func TestPower_MotionWakeWindow(t *testing.T) {
	r := newTestRig()
	now := r.sleep(t, time.Unix(1000, 0))
	deadTime := time.Duration(r.state.System.MotionDeadTime) * time.Second
	window := time.Duration(r.state.System.IMUWakeWindow) * time.Second

	r.ctrl.Power.SignalMotion()
	now = now.Add(deadTime + time.Second)
	r.ctrl.Step(now)
	r.ctrl.Step(now)
	r.ctrl.Step(now)
	if r.ctrl.Power.State() != StateIMUWakeWindow {
		t.Fatalf("expected imu-wake-window, got %s", r.ctrl.Power.State())
	}
	if r.peripherals.lightInits != 1 {
		t.Errorf("expected light init, got %d", r.peripherals.lightInits)
	}

	// Motion inside the window extends it
	r.ctrl.Step(now.Add(window - time.Second))
	r.ctrl.Power.SignalMotion()
	r.ctrl.Step(now.Add(window - time.Second))
	r.ctrl.Step(now.Add(window + time.Second))
	if r.ctrl.Power.State() != StateIMUWakeWindow {
		t.Fatalf("window not extended by motion: %s", r.ctrl.Power.State())
	}

	r.ctrl.Step(now.Add(2 * window))
	if r.ctrl.Power.State() != StateSleeping {
		t.Fatalf("expected sleep after window, got %s", r.ctrl.Power.State())
	}
	if r.peripherals.lightPowerDowns != 1 {
		t.Errorf("expected light power down, got %d", r.peripherals.lightPowerDowns)
	}
}

func TestPower_IgnitionDuringWakeWindow(t *testing.T) {
	r := newTestRig()
	now := r.sleep(t, time.Unix(1000, 0))
	deadTime := time.Duration(r.state.System.MotionDeadTime) * time.Second

	r.ctrl.Power.SignalMotion()
	now = now.Add(deadTime + time.Second)
	r.ctrl.Step(now)
	r.ctrl.Step(now)
	r.ctrl.Step(now)

	r.hal.SetIgnition(true)
	r.ctrl.Power.SignalIgnition()
	r.ctrl.Step(now.Add(time.Second))
	if r.ctrl.Power.State() != StateIgnitionWaking {
		t.Fatalf("expected ignition-waking, got %s", r.ctrl.Power.State())
	}
	r.ctrl.Step(now.Add(time.Second))
	r.ctrl.Step(now.Add(time.Second + WakeDebounce))
	if r.ctrl.Power.State() != StateRun {
		t.Fatalf("expected RUN, got %s", r.ctrl.Power.State())
	}
	// Clock was already restored by the motion wake
	if r.platform.ClockRestores != 1 {
		t.Errorf("expected a single clock restore, got %d", r.platform.ClockRestores)
	}
}

func TestPower_EdgesIgnoredInRun(t *testing.T) {
	r := newTestRig()
	r.ctrl.Power.SignalMotion()
	r.ctrl.Power.SignalIgnition()
	r.ctrl.Step(time.Unix(1000, 0))

	now := r.sleep(t, time.Unix(1001, 0))
	r.ctrl.Step(now.Add(time.Second))
	if r.ctrl.Power.State() != StateSleeping {
		t.Errorf("stale edge woke the module: %s", r.ctrl.Power.State())
	}
}

func TestPower_WakeRestartsInrushWindow(t *testing.T) {
	r := newTestRig()
	ch := &r.state.Channels[0]
	ch.InrushDelay = 1000
	r.hal.SetDigital(ch.InputControlPin, true)
	r.hal.SetCurrentSense(ch.CurrentSensePin, rawFor(2.0))

	start := time.Unix(1000, 0)
	r.ctrl.Step(start)
	if !ch.Enabled || !ch.EnabledAt.Equal(start) {
		t.Fatalf("expected channel enabled at %v, got enabled=%v at %v", start, ch.Enabled, ch.EnabledAt)
	}

	now := r.sleep(t, start.Add(2*time.Second))
	if ch.Enabled {
		t.Error("channel still enabled while sleeping")
	}

	r.hal.SetIgnition(true)
	r.ctrl.Power.SignalIgnition()
	now = r.stepUntil(t, now.Add(time.Second), StateRun, 5*time.Second)

	// A tick before the first input update must not drive or sample the load
	r.ctrl.Tick(now)
	if r.hal.Output(ch.OutputControlPin) || ch.ErrorFlags != 0 {
		t.Fatalf("load driven before inputs resolved: pin=%v flags=%s", r.hal.Output(ch.OutputControlPin), ch.ErrorFlags)
	}

	now = now.Add(10 * time.Millisecond)
	r.ctrl.Step(now)
	if !ch.EnabledAt.Equal(now) {
		t.Fatalf("expected fresh enable time %v, got %v", now, ch.EnabledAt)
	}
	for i := 0; i < PWMSteps; i++ {
		r.ctrl.Tick(now)
	}
	if ch.CurrentValue < 10 {
		t.Fatalf("expected the load current to be sampled, got %.2fA", ch.CurrentValue)
	}
	if ch.ErrorFlags != 0 {
		t.Errorf("inrush current flagged after wake: %s", ch.ErrorFlags)
	}

	later := now.Add(1100 * time.Millisecond)
	for i := 0; i < PWMSteps; i++ {
		r.ctrl.Tick(later)
	}
	if ch.ErrorFlags != FlagOverCurrent {
		t.Errorf("expected over-current once inrush elapsed, got %s", ch.ErrorFlags)
	}
}
