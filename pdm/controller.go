package pdm

import "time"

// MonitorInterval is how often the system aggregate is recomputed
const MonitorInterval = 100 * time.Millisecond

// Task is a cooperative job run from the control loop once its interval has elapsed
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(now time.Time)

	// AllStates runs the task outside RUN as well
	AllStates bool

	last time.Time
}

// Due reports whether the interval has elapsed and, if so, restarts it
func (t *Task) Due(now time.Time) bool {
	if !t.last.IsZero() && now.Sub(t.last) < t.Interval {
		return false
	}
	t.last = now
	return true
}

// ControllerConfig bundles the collaborators of the control core
type ControllerConfig struct {
	HAL         HAL
	Platform    Platform
	Peripherals Peripherals
	Watchdog    Watchdog
	Backup      BackupRegister
	Saver       ConfigSaver
	Logger      Logger

	// ActiveLowDrivers inverts every output pin write
	ActiveLowDrivers bool

	OnTransition func(from, to PowerState)
}

// Controller owns the state and runs every component from a single goroutine
type Controller struct {
	State   *State
	Inputs  *InputHandler
	Outputs *OutputEngine
	Monitor *Monitor
	Power   *PowerMachine

	saver   ConfigSaver
	logger  Logger
	monitor Task
	tasks   []*Task
}

func NewController(state *State, cfg ControllerConfig) *Controller {
	c := &Controller{
		State:  state,
		saver:  cfg.Saver,
		logger: cfg.Logger,
	}

	c.Inputs = NewInputHandler(state, cfg.HAL, cfg.Logger)
	c.Outputs = NewOutputEngine(state, cfg.HAL, cfg.Logger, cfg.ActiveLowDrivers)
	c.Monitor = NewMonitor(state, cfg.HAL, cfg.Logger)
	c.Power = NewPowerMachine(state, PowerConfig{
		HAL:          cfg.HAL,
		Platform:     cfg.Platform,
		Peripherals:  cfg.Peripherals,
		Watchdog:     cfg.Watchdog,
		Backup:       cfg.Backup,
		Saver:        cfg.Saver,
		Outputs:      c.Outputs,
		Inputs:       c.Inputs,
		Logger:       cfg.Logger,
		OnTransition: cfg.OnTransition,
	})
	c.monitor = Task{Name: "monitor", Interval: MonitorInterval}

	return c
}

// Init configures inputs and forces every output off
func (c *Controller) Init() {
	c.Inputs.Init()
	c.Outputs.AllOff()
}

// AddTask registers a periodic job
func (c *Controller) AddTask(t *Task) {
	c.tasks = append(c.tasks, t)
}

// Running reports whether the module is in RUN
func (c *Controller) Running() bool {
	return c.Power.State() == StateRun
}

// Tick services the soft-PWM engine; outputs stay off outside RUN
func (c *Controller) Tick(now time.Time) {
	if !c.Running() {
		return
	}
	c.Outputs.Tick(now)
}

// Step runs one main loop iteration
func (c *Controller) Step(now time.Time) {
	running := c.Running()

	if running {
		c.Inputs.Update(now)
		if c.monitor.Due(now) {
			c.Monitor.Update(now)
			c.State.Runtime.AliveCounter++
		}
	}

	for _, t := range c.tasks {
		if !running && !t.AllStates {
			continue
		}
		if t.Due(now) {
			t.Run(now)
		}
	}

	if _, err := c.saver.Poll(now); err != nil {
		c.logger.Error("Deferred configuration save failed: %v", err)
	}

	c.Power.Step(now)
}
