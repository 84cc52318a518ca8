package pdm

import "time"

// HAL is the board I/O surface used by the control core
type HAL interface {
	// WriteOutput drives a high-side driver control pin
	WriteOutput(pin uint8, high bool)

	// ConfigureInput applies pull resistors to an input pin
	ConfigureInput(pin uint8, pullUp, pullDown bool)

	// ReadDigital returns the level of a digital input. Pins at AnalogueBase
	// and above address analogue inputs read as digital.
	ReadDigital(pin uint8) bool

	// ReadAnalogueVoltage returns the scaled voltage of an analogue input
	ReadAnalogueVoltage(index int) float32

	// ReadCurrentSense returns one raw 10-bit ADC sample of a current-sense pin
	ReadCurrentSense(pin uint8) uint16

	// ReadSupplyVoltage returns the battery supply voltage
	ReadSupplyVoltage() float32

	// ReadTemperature returns the board temperature in °C
	ReadTemperature() float32

	// Ignition returns true while the ignition input is active
	Ignition() bool
}

// Platform covers clock, low-power and interrupt arming
type Platform interface {
	// Halt enters low power until a wake interrupt or the timeout
	Halt(timeout time.Duration)

	// RestoreClock re-establishes the system clock and RTC after a halt
	RestoreClock()

	// ArmMotionInterrupt enables or disables the IMU motion interrupt
	ArmMotionInterrupt(enabled bool)
}

// Peripherals sequences the excluded collaborators (display, SD, comms, modem, IMU)
type Peripherals interface {
	// PowerDown switches off display, SD, comms and output drivers
	PowerDown() error

	// InitFull re-initialises inputs, outputs, CAN, serial, GSM, display and resumes logging
	InitFull() error

	// InitLight brings up only IMU, modem and logging for a motion wake window
	InitLight() error

	// PowerDownLight undoes InitLight
	PowerDownLight() error
}

// Watchdog is kicked by the control loop; a missed kick resets the module
type Watchdog interface {
	SetTimeout(d time.Duration)
	Kick()
}

// BackupRegister is battery-backed storage surviving low-power halt
type BackupRegister interface {
	StoreIgnitionOff(t time.Time) error
	IgnitionOff() (time.Time, error)
}

// ConfigSaver is the deferred persistence policy seen by the control core
type ConfigSaver interface {
	Pending() bool
	Flush() error
	Poll(now time.Time) (bool, error)
}
