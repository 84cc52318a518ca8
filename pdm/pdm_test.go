package pdm

import (
	"errors"
	"time"
)

// testLogger implements Logger for testing
type testLogger struct{}

func (l *testLogger) Printf(format string, v ...interface{}) {}
func (l *testLogger) Debug(format string, v ...interface{})  {}
func (l *testLogger) Info(format string, v ...interface{})   {}
func (l *testLogger) Warn(format string, v ...interface{})   {}
func (l *testLogger) Error(format string, v ...interface{})  {}
func (l *testLogger) DebugCAN(direction string, id uint32, data []byte, length uint8) {
}

type fakeWatchdog struct {
	timeout time.Duration
	kicks   int
}

func (w *fakeWatchdog) SetTimeout(d time.Duration) { w.timeout = d }
func (w *fakeWatchdog) Kick()                      { w.kicks++ }

type fakePeripherals struct {
	powerDowns      int
	fullInits       int
	lightInits      int
	lightPowerDowns int
}

func (p *fakePeripherals) PowerDown() error      { p.powerDowns++; return nil }
func (p *fakePeripherals) InitFull() error       { p.fullInits++; return nil }
func (p *fakePeripherals) InitLight() error      { p.lightInits++; return nil }
func (p *fakePeripherals) PowerDownLight() error { p.lightPowerDowns++; return nil }

type fakeBackup struct {
	off time.Time
	set bool
}

func (b *fakeBackup) StoreIgnitionOff(t time.Time) error {
	b.off = t
	b.set = true
	return nil
}

func (b *fakeBackup) IgnitionOff() (time.Time, error) {
	if !b.set {
		return time.Time{}, errors.New("backup register empty")
	}
	return b.off, nil
}

type fakeSaver struct {
	pending bool
	flushes int
	polls   int
}

func (s *fakeSaver) Pending() bool { return s.pending }

func (s *fakeSaver) Flush() error {
	if s.pending {
		s.flushes++
	}
	s.pending = false
	return nil
}

func (s *fakeSaver) Poll(now time.Time) (bool, error) {
	s.polls++
	return false, nil
}

type testRig struct {
	state       *State
	hal         *SimHAL
	platform    *SimPlatform
	peripherals *fakePeripherals
	watchdog    *fakeWatchdog
	backup      *fakeBackup
	saver       *fakeSaver
	ctrl        *Controller
	transitions []PowerState
}

func newTestRig() *testRig {
	r := &testRig{
		state:       NewState(),
		hal:         NewSimHAL(),
		platform:    &SimPlatform{},
		peripherals: &fakePeripherals{},
		watchdog:    &fakeWatchdog{},
		backup:      &fakeBackup{},
		saver:       &fakeSaver{},
	}
	r.ctrl = NewController(r.state, ControllerConfig{
		HAL:         r.hal,
		Platform:    r.platform,
		Peripherals: r.peripherals,
		Watchdog:    r.watchdog,
		Backup:      r.backup,
		Saver:       r.saver,
		Logger:      &testLogger{},
		OnTransition: func(from, to PowerState) {
			r.transitions = append(r.transitions, to)
		},
	})
	r.ctrl.Init()
	return r
}

// rawFor returns the ADC count that reads back as v sense volts
func rawFor(v float32) uint16 {
	return uint16(v/ADCRef*ADCCounts + 0.5)
}
