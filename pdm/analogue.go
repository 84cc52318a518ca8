package pdm

import (
	"fmt"

	"pdm-service/internal/mathx"
)

const (
	// AnalogueInputCount is the number of analogue-capable input pins
	AnalogueInputCount = 8

	// AnalogueMaxVoltage is the top of the scaled analogue input range
	AnalogueMaxVoltage = 5.0
)

// AnalogueInput configures one analogue-capable input pin
type AnalogueInput struct {
	PullUp   bool
	PullDown bool
	Digital  bool // read as a digital pin instead of a voltage

	// Hysteresis pair for threshold channels (V)
	OnVoltage  float32
	OffVoltage float32

	// Voltage window mapped onto the PWM duty window for analogue PWM channels
	ScaleMin float32
	ScaleMax float32
	PWMMin   uint8
	PWMMax   uint8
}

// DefaultAnalogueInputs returns the hard boot defaults for all analogue inputs
func DefaultAnalogueInputs() [AnalogueInputCount]AnalogueInput {
	var in [AnalogueInputCount]AnalogueInput
	for i := range in {
		in[i] = AnalogueInput{
			PullDown:   true,
			Digital:    true,
			OnVoltage:  2.5,
			OffVoltage: 1.5,
			ScaleMin:   0.5,
			ScaleMax:   4.5,
			PWMMin:     0,
			PWMMax:     100,
		}
	}
	return in
}

// activeLevel is the digital level that means "on" for this input
func (a *AnalogueInput) activeLevel() bool {
	return !a.PullUp
}

// threshold applies on/off hysteresis to v given the previous state
func (a *AnalogueInput) threshold(v float32, prev bool) bool {
	if v >= a.OnVoltage {
		return true
	}
	if v <= a.OffVoltage {
		return false
	}
	return prev
}

// AnalogueField names one configurable analogue input parameter
type AnalogueField uint8

const (
	FieldPullUp AnalogueField = iota
	FieldPullDown
	FieldDigital
	FieldOnVoltage
	FieldOffVoltage
	FieldScaleMin
	FieldScaleMax
	FieldPWMMin
	FieldPWMMax
)

// AnalogueUpdate is a single tagged write addressed to one analogue input
type AnalogueUpdate struct {
	Input int
	Field AnalogueField
	Value float64
}

// Clamp bounds voltages to the ADC input range and duties to 0..100,
// and keeps OffVoltage at or below OnVoltage.
func (a *AnalogueInput) Clamp() {
	a.OnVoltage = mathx.Clamp(a.OnVoltage, 0, AnalogueMaxVoltage)
	a.OffVoltage = mathx.Clamp(a.OffVoltage, 0, AnalogueMaxVoltage)
	a.ScaleMin = mathx.Clamp(a.ScaleMin, 0, AnalogueMaxVoltage)
	a.ScaleMax = mathx.Clamp(a.ScaleMax, 0, AnalogueMaxVoltage)
	a.PWMMin = mathx.Clamp(a.PWMMin, 0, 100)
	a.PWMMax = mathx.Clamp(a.PWMMax, 0, 100)
	if a.OffVoltage > a.OnVoltage {
		a.OffVoltage = a.OnVoltage
	}
}

// Apply writes one field and re-clamps
func (a *AnalogueInput) Apply(u AnalogueUpdate) error {
	switch u.Field {
	case FieldPullUp:
		a.PullUp = u.Value != 0
	case FieldPullDown:
		a.PullDown = u.Value != 0
	case FieldDigital:
		a.Digital = u.Value != 0
	case FieldOnVoltage:
		a.OnVoltage = float32(mathx.Clamp(u.Value, 0, AnalogueMaxVoltage))
	case FieldOffVoltage:
		a.OffVoltage = float32(mathx.Clamp(u.Value, 0, AnalogueMaxVoltage))
	case FieldScaleMin:
		a.ScaleMin = float32(mathx.Clamp(u.Value, 0, AnalogueMaxVoltage))
	case FieldScaleMax:
		a.ScaleMax = float32(mathx.Clamp(u.Value, 0, AnalogueMaxVoltage))
	case FieldPWMMin:
		a.PWMMin = uint8(mathx.Clamp(u.Value, 0, 100))
	case FieldPWMMax:
		a.PWMMax = uint8(mathx.Clamp(u.Value, 0, 100))
	default:
		return fmt.Errorf("unknown analogue field %d", u.Field)
	}
	a.Clamp()
	return nil
}
