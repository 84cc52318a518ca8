package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/brutella/can"
	"github.com/go-redis/redis/v8"
	"go.bug.st/serial"

	"pdm-service/canproto"
	"pdm-service/pdm"
	"pdm-service/seriallink"
	"pdm-service/store"
)

const (
	PDMAppBroadcastInterval   = 500 * time.Millisecond
	PDMAppStatusInterval      = 250 * time.Millisecond
	PDMAppSensorInterval      = time.Second
	PDMAppOutputFlushInterval = 20 * time.Millisecond

	pdmAppFrameQueue  = 64
	pdmAppSerialQueue = 16
)

// PDMApp wires the control core to the CAN bus, Redis, the host serial
// link and the EEPROM image. The loop goroutine owns the pdm state.
type PDMApp struct {
	log  *LeveledLogger
	opts *Options

	redis    *redis.Client
	ipcRx    *IPCRx
	ipcTx    *IPCTx
	diag     *Diag
	sensors  *Sensors
	watchdog *Watchdog
	platform *HostPlatform
	hal      *RedisHAL

	bus     *can.Bus
	port    serial.Port
	device  *store.FileDevice
	store   *store.Store
	saver   *store.Coalescer
	handler *canproto.Handler
	link    *seriallink.Link

	state      *pdm.State
	controller *pdm.Controller

	frames   chan can.Frame
	serialRx chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPDMApp(parent context.Context, opts *Options, logger *LeveledLogger) (*PDMApp, error) {
	ctx, cancel := context.WithCancel(parent)

	app := &PDMApp{
		log:    logger,
		opts:   opts,
		state:  pdm.NewState(),
		frames: make(chan can.Frame, pdmAppFrameQueue),
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.init(); err != nil {
		app.Destroy()
		return nil, err
	}
	return app, nil
}

func (app *PDMApp) init() error {
	opts := app.opts

	// Initialize Redis client with timeouts
	app.redis = redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", opts.Redis.Addr, opts.Redis.Port),
		Password:     "",
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	connectCtx, connectCancel := context.WithTimeout(app.ctx, 5*time.Second)
	defer connectCancel()

	app.log.Info("Connecting to Redis at %s:%d...", opts.Redis.Addr, opts.Redis.Port)
	if err := app.redis.Ping(connectCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	app.log.Info("Successfully connected to Redis")

	app.ipcTx = NewIPCTx(app.log, app.redis)
	app.diag = NewDiag(app.log.With("diag"), app.redis)
	app.sensors = NewSensors(app.log, time.Now())
	app.watchdog = NewWatchdog(app.log)
	app.platform = NewHostPlatform(app.ctx, app.log)
	app.hal = NewRedisHAL(app.ctx, app.log.With("io"), app.redis)
	if err := app.hal.Refresh(); err != nil {
		app.log.Warn("Starting without io snapshot: %v", err)
	}

	if err := app.initStore(); err != nil {
		return err
	}

	// Initialize CAN bus
	bus, err := can.NewBusForInterfaceWithName(opts.CAN.Device)
	if err != nil {
		return fmt.Errorf("failed to initialize CAN bus: %w", err)
	}
	app.bus = bus

	app.controller = pdm.NewController(app.state, pdm.ControllerConfig{
		HAL:              app.hal,
		Platform:         app.platform,
		Peripherals:      NewPeripherals(app.log, app.ipcTx, app.startLogFile),
		Watchdog:         app.watchdog,
		Backup:           NewRedisBackup(app.ctx, app.redis),
		Saver:            app.saver,
		Logger:           app.log,
		ActiveLowDrivers: opts.ActiveLowDrivers,
		OnTransition:     app.onPowerTransition,
	})
	app.controller.Init()
	app.handler = canproto.NewHandler(app.state, app.controller.Inputs, app.saver, app.bus, app.log.With("can"))
	app.log.Info("Control core initialized")

	if opts.Serial.Port != "" {
		port, err := seriallink.OpenPort(opts.Serial.Port, opts.Serial.Baud)
		if err != nil {
			return err
		}
		app.port = port
		app.serialRx = make(chan []byte, pdmAppSerialQueue)
		app.link = seriallink.NewLink(seriallink.Config{
			State:     app.state,
			Inputs:    app.controller.Inputs,
			Saver:     app.saver,
			Store:     app.store,
			Out:       port,
			Logger:    app.log.With("host"),
			Version:   ProjectVersion,
			BuildDate: BuildDate,
		})
		app.log.Info("Host link on %s at %d baud", opts.Serial.Port, opts.Serial.Baud)
	}

	app.addTasks()

	app.ipcRx = NewIPCRx(app.log, app.redis, app.sensors, IPCRxHandlers{
		IO:       app.onIO,
		Ignition: app.onIgnition,
		Motion:   app.onMotion,
	})
	app.log.Info("IPC RX component initialized")

	return nil
}

// initStore opens the EEPROM image and loads every region, restoring defaults where the CRC fails
func (app *PDMApp) initStore() error {
	dev, err := store.OpenFileDevice(app.opts.EEPROM.Path, app.opts.EEPROM.Size, app.opts.EEPROM.PageSize)
	if err != nil {
		return err
	}
	app.device = dev

	app.store, err = store.New(dev, app.log.With("store"))
	if err != nil {
		return err
	}

	invalid, err := app.store.LoadAll(app.state)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if len(invalid) > 0 {
		app.log.Warn("Configuration regions %v failed CRC and were reset to defaults", invalid)
		app.state.Runtime.SetFlag(pdm.SysCRCFail, true)
	}

	app.saver = store.NewCoalescer(app.store, app.state, app.opts.SaveDelay, app.log.With("store"))
	app.log.Info("Configuration loaded from %s", app.opts.EEPROM.Path)
	return nil
}

func (app *PDMApp) addTasks() {
	app.controller.AddTask(&pdm.Task{
		Name:     "can-broadcast",
		Interval: PDMAppBroadcastInterval,
		Run: func(time.Time) {
			if err := app.handler.Broadcast(app.controller.Power.State()); err != nil {
				app.log.Error("Failed to broadcast system status: %v", err)
			}
		},
	})

	app.controller.AddTask(&pdm.Task{
		Name:      "io-outputs",
		Interval:  PDMAppOutputFlushInterval,
		AllStates: true,
		Run: func(time.Time) {
			if err := app.hal.FlushOutputs(app.ctx); err != nil {
				app.log.Error("%v", err)
			}
		},
	})

	app.controller.AddTask(&pdm.Task{
		Name:     "status",
		Interval: PDMAppStatusInterval,
		Run:      app.publishStatus,
	})

	app.controller.AddTask(&pdm.Task{
		Name:     "sensors",
		Interval: PDMAppSensorInterval,
		Run:      app.checkSensors,
	})

	logTask := &pdm.Task{Name: "log"}
	logTask.Interval = logInterval(app.state)
	logTask.Run = func(now time.Time) {
		app.logRow(now)
		logTask.Interval = logInterval(app.state)
	}
	app.controller.AddTask(logTask)

	if app.link != nil {
		app.controller.AddTask(&pdm.Task{
			Name: "host-link",
			Run:  app.link.Poll,
		})
	}
}

func logInterval(st *pdm.State) time.Duration {
	return time.Duration(st.Storage.LogFrequency) * time.Millisecond
}

// Start launches the bus, the serial reader and the control loop
func (app *PDMApp) Start() {
	app.bus.Subscribe(&frameHandler{app: app})

	// Start CAN message publishing
	go func() {
		if err := app.bus.ConnectAndPublish(); err != nil {
			app.log.Error("CAN bus publish error: %v", err)
		}
	}()

	if app.port != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			err := seriallink.ReadLoop(app.ctx, app.port, app.serialRx, app.log.With("host"))
			if err != nil && !errors.Is(err, context.Canceled) {
				app.log.Error("Host link stopped: %v", err)
			}
		}()
	}

	go app.redisHealthCheck()

	app.startLogFile()
	app.publishStatus(time.Now())

	app.watchdog.Arm()
	app.wg.Add(1)
	go app.run()
}

// Frame handler for CAN messages; hands frames to the loop goroutine
type frameHandler struct {
	app *PDMApp
}

func (h *frameHandler) Handle(frame can.Frame) {
	select {
	case h.app.frames <- frame:
	default:
		h.app.log.Warn("CAN receive queue full, dropping frame 0x%03X", frame.ID)
	}
}

func (app *PDMApp) run() {
	defer app.wg.Done()

	outputTicker := time.NewTicker(app.opts.Loop.OutputTick)
	defer outputTicker.Stop()
	controlTicker := time.NewTicker(app.opts.Loop.ControlInterval)
	defer controlTicker.Stop()

	for {
		select {
		case <-app.ctx.Done():
			return
		case now := <-outputTicker.C:
			app.controller.Tick(now)
		case now := <-controlTicker.C:
			app.controller.Step(now)
		case frame := <-app.frames:
			app.handleFrame(frame)
		case data := <-app.serialRx:
			app.link.Feed(data, time.Now())
		}
	}
}

func (app *PDMApp) handleFrame(frame can.Frame) {
	// CAN is only serviced while running
	if !app.controller.Running() {
		return
	}
	if err := app.handler.HandleFrame(frame, time.Now()); err != nil {
		app.log.Warn("Error handling CAN frame 0x%03X: %v", frame.ID, err)
	}
}

// onIgnition runs in the Redis subscriber goroutine
// onIO runs in the Redis subscriber goroutine
func (app *PDMApp) onIO() {
	if err := app.hal.Refresh(); err != nil {
		app.log.Error("%v", err)
	}
}

func (app *PDMApp) onIgnition(on bool) {
	app.hal.SetIgnition(on)
	if on && app.controller.Power.State() != pdm.StateRun {
		app.controller.Power.SignalIgnition()
		app.platform.Wake()
	}
}

// onMotion runs in the Redis subscriber goroutine
func (app *PDMApp) onMotion() {
	if !app.platform.MotionArmed() {
		return
	}
	app.controller.Power.SignalMotion()
	app.platform.Wake()
}

func (app *PDMApp) onPowerTransition(from, to pdm.PowerState) {
	if err := app.ipcTx.SendPowerState(to); err != nil {
		app.log.Error("Failed to send power state: %v", err)
	}
}

// startLogFile opens a new data-log session and remembers its name in the storage region
func (app *PDMApp) startLogFile() {
	now := time.Now()
	name := now.Format("01021504") + ".CSV"
	app.state.Storage.PushLogFile(name)
	app.saver.Mark(store.RegionStorage, now)

	if err := app.ipcTx.SendLogFile(name); err != nil {
		app.log.Error("Failed to send log file: %v", err)
	}
	app.log.Info("Logging to %s", name)
}

func (app *PDMApp) publishStatus(now time.Time) {
	st := app.state

	if err := app.ipcTx.SendSystemStatus(systemStatusFrom(st, app.controller.Power.State())); err != nil {
		app.log.Error("Failed to send system status: %v", err)
	}

	channels := make([]RedisChannelStatus, len(st.Channels))
	for i := range st.Channels {
		channels[i] = channelStatusFrom(&st.Channels[i])
		app.diag.SetChannelFlags(i, st.Channels[i].ErrorFlags)
	}
	if err := app.ipcTx.SendChannels(channels); err != nil {
		app.log.Error("Failed to send channel status: %v", err)
	}

	app.diag.SetSystemFlags(st.Runtime.ErrorFlags)
}

func (app *PDMApp) checkSensors(now time.Time) {
	failed := app.state.System.AllowGPS && !app.sensors.GPSHealthy(now)
	app.controller.Monitor.SetFlag(pdm.SysGPSFail, failed)
}

func (app *PDMApp) logRow(now time.Time) {
	st := app.state
	if !st.System.AllowData || st.Runtime.LoggingSuspended {
		return
	}
	if err := app.ipcTx.LogRow(logRowFrom(st, app.sensors.GPS(), app.sensors.IMU()), st.Storage.MaxLogLines); err != nil {
		app.log.Error("Failed to log data: %v", err)
		if st.Runtime.ErrorFlags&pdm.SysSDFail == 0 {
			app.controller.Monitor.SetFlag(pdm.SysSDFail, true)
			app.startLogFile()
		}
		return
	}
	app.controller.Monitor.SetFlag(pdm.SysSDFail, false)
}

func (app *PDMApp) redisHealthCheck() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(app.ctx, 2*time.Second)
			if err := app.redis.Ping(ctx).Err(); err != nil {
				app.log.Error("Redis health check failed: %v", err)
			}
			cancel()
		}
	}
}

func (app *PDMApp) Destroy() {
	app.log.Info("Shutting down pdm application...")

	if app.cancel != nil {
		app.cancel()
	}
	app.wg.Wait()

	if app.watchdog != nil {
		app.watchdog.Stop()
	}

	if app.ipcRx != nil {
		app.ipcRx.Destroy()
		app.log.Info("IPC RX shutdown complete")
	}

	// The loop has exited, so the state is safe to touch here
	if app.controller != nil {
		app.controller.Outputs.AllOff()
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := app.hal.FlushOutputs(flushCtx); err != nil {
			app.log.Error("%v", err)
		}
		flushCancel()
	}
	if app.saver != nil && app.saver.Pending() {
		if err := app.saver.Flush(); err != nil {
			app.log.Error("Failed to flush configuration: %v", err)
		} else {
			app.log.Info("Pending configuration flushed")
		}
	}

	if app.bus != nil {
		if err := app.bus.Disconnect(); err != nil {
			app.log.Error("Error disconnecting CAN bus: %v", err)
		}
	}

	if app.port != nil {
		if err := app.port.Close(); err != nil {
			app.log.Error("Error closing serial port: %v", err)
		}
	}

	if app.device != nil {
		if err := app.device.Close(); err != nil {
			app.log.Error("Error closing eeprom image: %v", err)
		}
	}

	if app.diag != nil {
		app.diag.Destroy()
	}

	if app.ipcTx != nil {
		app.ipcTx.Destroy()
	}

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.log.Error("Error closing Redis connection: %v", err)
		} else {
			app.log.Info("Redis connection closed")
		}
	}

	app.log.Info("PDM application shutdown complete")
}
