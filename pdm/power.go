package pdm

import (
	"sync/atomic"
	"time"
)

// PowerState is the sleep/wake state of the module
type PowerState uint32

const (
	StateRun PowerState = iota
	StatePrepareSleep
	StateSleeping
	StateIgnitionWaking
	StateIgnitionWake
	StateIMUWaking
	StateIMUWake
	StateIMUWakeWindow
)

func (s PowerState) String() string {
	switch s {
	case StateRun:
		return "run"
	case StatePrepareSleep:
		return "prepare-sleep"
	case StateSleeping:
		return "sleeping"
	case StateIgnitionWaking:
		return "ignition-waking"
	case StateIgnitionWake:
		return "ignition-wake"
	case StateIMUWaking:
		return "imu-waking"
	case StateIMUWake:
		return "imu-wake"
	case StateIMUWakeWindow:
		return "imu-wake-window"
	default:
		return "unknown"
	}
}

const (
	IgnitionOffDebounce  = 3 * time.Second
	WakeDebounce         = 500 * time.Millisecond
	SleepHaltPeriod      = 30 * time.Second
	RunWatchdogTimeout   = 2 * time.Second
	SleepWatchdogTimeout = 40 * time.Second
)

// Pending wake sources, set from interrupt context
const (
	wakeIgnition uint32 = 1 << iota
	wakeMotion
)

// PowerConfig bundles the collaborators of the power state machine
type PowerConfig struct {
	HAL         HAL
	Platform    Platform
	Peripherals Peripherals
	Watchdog    Watchdog
	Backup      BackupRegister
	Saver       ConfigSaver
	Outputs     *OutputEngine
	Inputs      *InputHandler
	Logger      Logger

	// OnTransition is called after every state change
	OnTransition func(from, to PowerState)
}

// PowerMachine sequences RUN, sleep and the two wake paths
type PowerMachine struct {
	cfg   PowerConfig
	state *State

	current atomic.Uint32
	wake    atomic.Uint32

	ignitionOffSince time.Time
	wakeStart        time.Time
	windowStart      time.Time
	imuWake          bool
}

func NewPowerMachine(state *State, cfg PowerConfig) *PowerMachine {
	m := &PowerMachine{
		cfg:   cfg,
		state: state,
	}
	m.current.Store(uint32(StateRun))
	cfg.Watchdog.SetTimeout(RunWatchdogTimeout)
	return m
}

// State returns the current power state; safe from any goroutine
func (m *PowerMachine) State() PowerState {
	return PowerState(m.current.Load())
}

// SignalIgnition records an ignition edge. Safe to call from interrupt context.
func (m *PowerMachine) SignalIgnition() {
	m.signal(wakeIgnition)
}

// SignalMotion records an IMU motion edge. Safe to call from interrupt context.
func (m *PowerMachine) SignalMotion() {
	m.signal(wakeMotion)
}

func (m *PowerMachine) signal(bit uint32) {
	m.wake.Or(bit)
}

func (m *PowerMachine) transition(to PowerState) {
	from := m.State()
	m.current.Store(uint32(to))
	m.cfg.Logger.Info("Power state %s -> %s", from, to)
	if m.cfg.OnTransition != nil {
		m.cfg.OnTransition(from, to)
	}
}

// Step advances the state machine once; called every control loop iteration
func (m *PowerMachine) Step(now time.Time) {
	switch m.State() {
	case StateRun:
		m.stepRun(now)
	case StatePrepareSleep:
		m.prepareSleep(now)
	case StateSleeping:
		m.stepSleeping()
	case StateIgnitionWaking:
		if !m.imuWake {
			m.cfg.Platform.RestoreClock()
		}
		m.wakeStart = now
		m.transition(StateIgnitionWake)
		m.cfg.Watchdog.Kick()
	case StateIgnitionWake:
		m.stepIgnitionWake(now)
	case StateIMUWaking:
		m.cfg.Platform.RestoreClock()
		m.imuWake = true
		m.transition(StateIMUWake)
		m.cfg.Watchdog.Kick()
	case StateIMUWake:
		m.stepIMUWake(now)
	case StateIMUWakeWindow:
		m.stepWakeWindow(now)
	}
}

func (m *PowerMachine) stepRun(now time.Time) {
	// Edges while running carry no meaning
	m.wake.Store(0)
	m.cfg.Watchdog.Kick()

	if m.cfg.HAL.Ignition() {
		m.ignitionOffSince = time.Time{}
		return
	}
	if m.ignitionOffSince.IsZero() {
		m.ignitionOffSince = now
		m.cfg.Logger.Info("Ignition off, sleeping in %s", IgnitionOffDebounce)
	}
	if now.Sub(m.ignitionOffSince) < IgnitionOffDebounce {
		return
	}
	if !m.state.System.AllowSleep {
		return
	}
	if m.cfg.Inputs.RunOnPending() {
		return
	}
	m.transition(StatePrepareSleep)
}

func (m *PowerMachine) prepareSleep(now time.Time) {
	m.cfg.Platform.ArmMotionInterrupt(m.state.System.AllowMotionDetect)

	if err := m.cfg.Backup.StoreIgnitionOff(now); err != nil {
		m.cfg.Logger.Error("Failed to store ignition-off time: %v", err)
	}

	if m.cfg.Saver.Pending() {
		m.cfg.Logger.Info("Flushing pending configuration save before sleep")
		if err := m.cfg.Saver.Flush(); err != nil {
			m.cfg.Logger.Error("Failed to flush configuration: %v", err)
		}
	}

	m.cfg.Outputs.AllOff()
	if err := m.cfg.Peripherals.PowerDown(); err != nil {
		m.cfg.Logger.Error("Peripheral power down failed: %v", err)
	}

	m.cfg.Watchdog.SetTimeout(SleepWatchdogTimeout)
	m.ignitionOffSince = time.Time{}
	m.imuWake = false
	m.transition(StateSleeping)
}

func (m *PowerMachine) stepSleeping() {
	flags := m.wake.Swap(0)

	switch {
	case flags&wakeIgnition != 0:
		m.transition(StateIgnitionWaking)
	case flags&wakeMotion != 0:
		m.transition(StateIMUWaking)
	default:
		// Only the watchdog is serviced by the periodic wake
		m.cfg.Platform.Halt(SleepHaltPeriod)
		m.cfg.Watchdog.Kick()
	}
}

func (m *PowerMachine) stepIgnitionWake(now time.Time) {
	m.cfg.Watchdog.Kick()
	if now.Sub(m.wakeStart) < WakeDebounce {
		return
	}

	if !m.cfg.HAL.Ignition() {
		m.cfg.Logger.Info("Ignition dropped during wake debounce")
		m.backToSleep()
		return
	}

	m.cfg.Platform.ArmMotionInterrupt(false)
	if err := m.cfg.Peripherals.InitFull(); err != nil {
		m.cfg.Logger.Error("Peripheral re-initialisation failed: %v", err)
	}
	m.cfg.Inputs.Init()
	m.cfg.Outputs.AllOff()
	m.cfg.Watchdog.SetTimeout(RunWatchdogTimeout)
	m.imuWake = false
	m.wake.Store(0)
	m.transition(StateRun)
}

func (m *PowerMachine) stepIMUWake(now time.Time) {
	m.cfg.Watchdog.Kick()

	if m.wake.Load()&wakeIgnition != 0 {
		m.wake.Store(0)
		m.transition(StateIgnitionWaking)
		return
	}

	if !m.state.System.AllowMotionDetect {
		m.backToSleep()
		return
	}

	off, err := m.cfg.Backup.IgnitionOff()
	if err != nil {
		m.cfg.Logger.Error("Failed to read ignition-off time: %v", err)
		m.backToSleep()
		return
	}

	deadTime := time.Duration(m.state.System.MotionDeadTime) * time.Second
	if now.Sub(off) < deadTime {
		m.cfg.Logger.Debug("Motion within dead time (%s since ignition off)", now.Sub(off))
		m.backToSleep()
		return
	}

	if err := m.cfg.Peripherals.InitLight(); err != nil {
		m.cfg.Logger.Error("Light re-initialisation failed: %v", err)
	}
	m.windowStart = now
	m.transition(StateIMUWakeWindow)
}

func (m *PowerMachine) stepWakeWindow(now time.Time) {
	m.cfg.Watchdog.Kick()

	flags := m.wake.Swap(0)
	if flags&wakeIgnition != 0 {
		m.transition(StateIgnitionWaking)
		return
	}
	if flags&wakeMotion != 0 {
		m.windowStart = now
	}

	window := time.Duration(m.state.System.IMUWakeWindow) * time.Second
	if now.Sub(m.windowStart) < window {
		return
	}

	if err := m.cfg.Peripherals.PowerDownLight(); err != nil {
		m.cfg.Logger.Error("Light power down failed: %v", err)
	}
	m.backToSleep()
}

func (m *PowerMachine) backToSleep() {
	if m.imuWake && m.State() == StateIgnitionWake {
		if err := m.cfg.Peripherals.PowerDownLight(); err != nil {
			m.cfg.Logger.Error("Light power down failed: %v", err)
		}
	}
	m.imuWake = false
	m.cfg.Platform.ArmMotionInterrupt(m.state.System.AllowMotionDetect)
	m.transition(StateSleeping)
}
