package pdm

import (
	"time"

	"pdm-service/internal/mathx"
)

const (
	// PWMSteps is the soft-PWM resolution, one counter wrap per cycle
	PWMSteps = 256

	// AnalogReadSamples is the number of ADC reads averaged per current sample
	AnalogReadSamples = 10

	// ADC conversion
	ADCCounts = 1024
	ADCRef    = 3.3

	// ISFaultVoltage is the sense-pin level the driver asserts on short, open load or overtemp
	ISFaultVoltage = 3.0

	// Quartic fit of the current-sense transfer curve, amps from sense volts
	PTerm1 = 0.4
	PTerm2 = -1.2
	PTerm3 = 1.5
	PTerm4 = 4.6
	PConst = -0.05
)

// EdgeState is the latched level of a channel output
type EdgeState uint8

const (
	DrivingLow EdgeState = iota
	DrivingHigh
)

// RawToVoltage converts a mean raw ADC count to sense-pin volts
func RawToVoltage(raw float32) float32 {
	return raw / ADCCounts * ADCRef
}

// CurrentFromVoltage applies the calibrated quartic; negative results clamp to zero
func CurrentFromVoltage(v float32) float32 {
	amps := mathx.Poly(float64(v), PTerm1, PTerm2, PTerm3, PTerm4, PConst)
	if amps < 0 {
		return 0
	}
	return float32(amps)
}

// ClassifyFault returns the channel fault for a sample, first match wins
func ClassifyFault(v, amps float32, c *ChannelConfig) ErrorFlags {
	switch {
	case v >= ISFaultVoltage:
		return FlagFault
	case amps > c.CurrentThresholdHigh:
		return FlagOverCurrent
	case amps < c.CurrentThresholdLow:
		return FlagUnderCurrent
	case amps > CurrentMax:
		return FlagOverLimit
	}
	return 0
}

// RealPWM converts a duty percentage to counter steps, rounding half up
func RealPWM(duty uint8) uint8 {
	return uint8(mathx.Clamp((int(duty)*255+50)/100, 0, 255))
}

// OutputEngine generates soft PWM, samples current and classifies faults.
// Tick must be called once per fixed tick; it never blocks.
type OutputEngine struct {
	state  *State
	hal    HAL
	logger Logger

	activeLow bool
	counter   uint8
	edges     [ChannelCount]EdgeState
	realPWM   [ChannelCount]uint8
}

// NewOutputEngine creates an engine; activeLow inverts every pin write for active-low drivers
func NewOutputEngine(state *State, hal HAL, logger Logger, activeLow bool) *OutputEngine {
	return &OutputEngine{
		state:     state,
		hal:       hal,
		logger:    logger,
		activeLow: activeLow,
	}
}

// Counter returns the current soft-PWM counter value
func (e *OutputEngine) Counter() uint8 {
	return e.counter
}

// Edge returns the latched output state of a channel
func (e *OutputEngine) Edge(ch int) EdgeState {
	return e.edges[ch]
}

// RealPWMOf returns the counter threshold in effect for a channel
func (e *OutputEngine) RealPWMOf(ch int) uint8 {
	return e.realPWM[ch]
}

// AllOff drives every output low, disables every channel and resets the
// latches and counter. The next input update re-enables channels with a
// fresh inrush window.
func (e *OutputEngine) AllOff() {
	for i := range e.state.Channels {
		ch := &e.state.Channels[i]
		ch.setEnabled(false, time.Time{})
		ch.DisableRequestedAt = time.Time{}
		e.write(i, DrivingLow)
		e.realPWM[i] = 0
	}
	e.counter = 0
}

// Tick advances the soft-PWM counter by one step
func (e *OutputEngine) Tick(now time.Time) {
	for i := range e.state.Channels {
		e.tickChannel(i, now)
	}
	e.counter++
}

func (e *OutputEngine) tickChannel(i int, now time.Time) {
	ch := &e.state.Channels[i]

	if !ch.Enabled {
		e.realPWM[i] = 0
		if e.edges[i] != DrivingLow {
			e.write(i, DrivingLow)
		}
		return
	}

	if !ch.Type.IsPWM() {
		e.realPWM[i] = 255
		if e.edges[i] != DrivingHigh {
			e.write(i, DrivingHigh)
		}
		if e.counter == 0 {
			e.sample(ch, now)
		}
		return
	}

	steps := RealPWM(ch.Duty)
	e.realPWM[i] = steps

	want := DrivingLow
	if steps == 255 || e.counter < steps {
		want = DrivingHigh
	}
	if e.edges[i] != want {
		e.write(i, want)
	}

	// Sample mid on-time so the reading sees the load current
	if steps > 0 && e.counter == steps/2 {
		e.sample(ch, now)
	}
}

func (e *OutputEngine) write(i int, s EdgeState) {
	high := s == DrivingHigh
	if e.activeLow {
		high = !high
	}
	e.hal.WriteOutput(e.state.Channels[i].OutputControlPin, high)
	e.edges[i] = s
}

func (e *OutputEngine) sample(ch *Channel, now time.Time) {
	var sum uint32
	for n := 0; n < AnalogReadSamples; n++ {
		sum += uint32(e.hal.ReadCurrentSense(ch.CurrentSensePin))
	}
	mean := float32(sum) / AnalogReadSamples
	ch.AnalogRaw = uint16(mean)

	v := RawToVoltage(mean)
	ch.CurrentValue = CurrentFromVoltage(v)

	if !ch.inrushElapsed(now) {
		ch.ErrorFlags = 0
		return
	}

	flags := ClassifyFault(v, ch.CurrentValue, &ch.ChannelConfig)
	if flags != ch.ErrorFlags && flags != 0 {
		e.logger.Warn("Channel %s fault: %s (%.2fA, %.2fV)", ch.Name, flags, ch.CurrentValue, v)
	}
	ch.ErrorFlags = flags
}
