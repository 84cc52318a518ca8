package main

import (
	"context"
	"sync/atomic"
	"time"
)

// Peripheral power modes announced to the display, SD logger and modem services
const (
	PeripheralsOff   = "off"
	PeripheralsFull  = "full"
	PeripheralsLight = "light"
)

// HostPlatform implements the low-power hooks on Linux: Halt parks the
// control loop until an ignition or motion edge arrives or the period ends.
type HostPlatform struct {
	log         *LeveledLogger
	ctx         context.Context
	wake        chan struct{}
	motionArmed atomic.Bool
}

func NewHostPlatform(ctx context.Context, logger *LeveledLogger) *HostPlatform {
	return &HostPlatform{
		log:  logger,
		ctx:  ctx,
		wake: make(chan struct{}, 1),
	}
}

func (p *HostPlatform) Halt(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.wake:
		p.log.Debug("Halt interrupted by wake source")
	case <-timer.C:
	case <-p.ctx.Done():
	}
}

// Wake ends a pending or the next Halt early
func (p *HostPlatform) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *HostPlatform) RestoreClock() {
	p.log.Debug("Clock restored after halt")
}

func (p *HostPlatform) ArmMotionInterrupt(enabled bool) {
	if p.motionArmed.Swap(enabled) != enabled {
		p.log.Info("Motion wake %s", map[bool]string{true: "armed", false: "disarmed"}[enabled])
	}
}

// MotionArmed reports whether motion edges should wake the module
func (p *HostPlatform) MotionArmed() bool {
	return p.motionArmed.Load()
}

type peripheralNotifier interface {
	SendPeripherals(mode string) error
}

// Peripherals sequences the collaborator services through Redis
type Peripherals struct {
	log      *LeveledLogger
	notifier peripheralNotifier

	// onFullInit runs after a full wake, in the control loop goroutine
	onFullInit func()
}

func NewPeripherals(logger *LeveledLogger, notifier peripheralNotifier, onFullInit func()) *Peripherals {
	return &Peripherals{
		log:        logger,
		notifier:   notifier,
		onFullInit: onFullInit,
	}
}

func (p *Peripherals) PowerDown() error {
	return p.notifier.SendPeripherals(PeripheralsOff)
}

func (p *Peripherals) InitFull() error {
	if p.onFullInit != nil {
		p.onFullInit()
	}
	return p.notifier.SendPeripherals(PeripheralsFull)
}

func (p *Peripherals) InitLight() error {
	return p.notifier.SendPeripherals(PeripheralsLight)
}

func (p *Peripherals) PowerDownLight() error {
	return p.notifier.SendPeripherals(PeripheralsOff)
}
