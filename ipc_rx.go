package main

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	ipcIOChannel  = "io"
	ipcIMUChannel = "imu"
	ipcGPSChannel = "gps"
)

// IPCRxHandlers receive io changes and the edges that drive the power state machine
type IPCRxHandlers struct {
	IO       func()
	Ignition func(on bool)
	Motion   func()
}

type IPCRx struct {
	log      *LeveledLogger
	redis    *redis.Client
	sensors  *Sensors
	handlers IPCRxHandlers
	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc

	subscription *redis.PubSub
	ignition     bool
}

func NewIPCRx(logger *LeveledLogger, redis *redis.Client, sensors *Sensors, handlers IPCRxHandlers) *IPCRx {
	ctx, cancel := context.WithCancel(context.Background())

	rx := &IPCRx{
		log:      logger,
		redis:    redis,
		sensors:  sensors,
		handlers: handlers,
		ctx:      ctx,
		cancel:   cancel,
	}

	rx.subscription = rx.redis.Subscribe(rx.ctx, ipcIOChannel, ipcIMUChannel, ipcGPSChannel)

	// Initial state reads
	rx.readInitialStates()

	go rx.handleSubscription()

	return rx
}

func (rx *IPCRx) handleSubscription() {
	rx.log.Info("Starting io/imu/gps subscription handler")

	for {
		msg, err := rx.subscription.Receive(rx.ctx)
		if err != nil {
			if err == context.Canceled {
				return
			}
			// Check for closed client - panic to trigger systemd restart
			if err.Error() == "redis: client is closed" {
				rx.log.Error("Redis connection lost on subscription - restarting service")
				panic("Redis disconnected")
			}
			rx.log.Error("Subscription error: %v", err)
			continue
		}

		switch m := msg.(type) {
		case *redis.Message:
			rx.log.Debug("Message received: channel=%s, payload=%s", m.Channel, m.Payload)
			rx.handleMessage(m.Channel, m.Payload)

		case *redis.Subscription:
			rx.log.Debug("Subscription event: %s %s", m.Channel, m.Kind)
		}
	}
}

func (rx *IPCRx) handleMessage(channel, payload string) {
	switch channel {
	case ipcIOChannel:
		if rx.handlers.IO != nil {
			rx.handlers.IO()
		}
		state, err := rx.redis.HGet(rx.ctx, ipcIOChannel, "ignition").Result()
		if err != nil {
			if err != redis.Nil {
				rx.log.Error("Failed to get ignition state: %v", err)
			}
			return
		}
		rx.handleIgnition(state, false)

	case ipcIMUChannel:
		if payload == "motion" {
			rx.log.Debug("Motion reported by IMU")
			if rx.handlers.Motion != nil {
				rx.handlers.Motion()
			}
		}
		rx.readIMU()

	case ipcGPSChannel:
		rx.readGPS()
	}
}

func (rx *IPCRx) readInitialStates() {
	state, err := rx.redis.HGet(rx.ctx, ipcIOChannel, "ignition").Result()
	if err != nil && err != redis.Nil {
		rx.log.Error("Failed to read initial ignition state: %v", err)
	} else {
		rx.log.Info("Initial ignition state: %s", state)
		rx.handleIgnition(state, true)
	}

	rx.readGPS()
}

// handleIgnition forwards the initial level and then only real edges
func (rx *IPCRx) handleIgnition(state string, initial bool) {
	on := state == "on"

	rx.mu.Lock()
	changed := on != rx.ignition
	rx.ignition = on
	rx.mu.Unlock()

	if !changed && !initial {
		return
	}
	rx.log.Info("Ignition changed to: %s", onOff(on))
	if rx.handlers.Ignition != nil {
		rx.handlers.Ignition(on)
	}
}

func (rx *IPCRx) readIMU() {
	fields, err := rx.redis.HGetAll(rx.ctx, ipcIMUChannel).Result()
	if err != nil {
		rx.log.Error("Failed to get imu state: %v", err)
		return
	}
	rx.sensors.UpdateIMU(parseMotion(fields), time.Now())
}

func (rx *IPCRx) readGPS() {
	fields, err := rx.redis.HGetAll(rx.ctx, ipcGPSChannel).Result()
	if err != nil {
		rx.log.Error("Failed to get gps state: %v", err)
		return
	}
	if len(fields) == 0 {
		return
	}
	rx.sensors.UpdateGPS(parseGPSFix(fields), time.Now())
}

func parseFloat(fields map[string]string, key string) float64 {
	v, err := strconv.ParseFloat(fields[key], 64)
	if err != nil {
		return 0
	}
	return v
}

func parseMotion(fields map[string]string) MotionSample {
	return MotionSample{
		X: parseFloat(fields, "x"),
		Y: parseFloat(fields, "y"),
		Z: parseFloat(fields, "z"),
	}
}

func parseGPSFix(fields map[string]string) GPSFix {
	fix := GPSFix{
		Valid:     fields["state"] == "fix-established",
		Latitude:  parseFloat(fields, "latitude"),
		Longitude: parseFloat(fields, "longitude"),
		Speed:     parseFloat(fields, "speed"),
	}
	if ts, err := time.Parse(time.RFC3339, fields["timestamp"]); err == nil {
		fix.Time = ts
	}
	return fix
}

func (rx *IPCRx) Destroy() {
	rx.mu.Lock()
	defer rx.mu.Unlock()

	if rx.cancel != nil {
		rx.cancel()
	}

	if rx.subscription != nil {
		rx.subscription.Close()
	}
}
