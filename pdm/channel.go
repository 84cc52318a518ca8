package pdm

import (
	"fmt"
	"strings"
	"time"

	"pdm-service/internal/mathx"
)

const (
	// ChannelCount is the number of high-side driver outputs
	ChannelCount = 14

	// CurrentMax is the hardware current limit of a single driver (A)
	CurrentMax = 17.0

	// ChannelNameLen is the maximum channel name length in characters
	ChannelNameLen = 3

	// AnalogueBase offsets analogue inputs in InputControlPin
	AnalogueBase = 100
)

// ChanType selects how a channel resolves its enable state and drives its output
type ChanType uint8

const (
	ChanDigital ChanType = iota
	ChanDigitalPWM
	ChanAnalogueThreshold
	ChanAnaloguePWM
	ChanCANDigital
	ChanCANPWM
)

// IsPWM reports whether the channel output is soft-PWM driven
func (t ChanType) IsPWM() bool {
	return t == ChanDigitalPWM || t == ChanAnaloguePWM || t == ChanCANPWM
}

// IsCAN reports whether the enable state is sourced from CAN
func (t ChanType) IsCAN() bool {
	return t == ChanCANDigital || t == ChanCANPWM
}

// IsAnalogue reports whether the channel is driven by an analogue input level
func (t ChanType) IsAnalogue() bool {
	return t == ChanAnalogueThreshold || t == ChanAnaloguePWM
}

// Valid reports whether t is a known channel type
func (t ChanType) Valid() bool {
	return t <= ChanCANPWM
}

func (t ChanType) String() string {
	switch t {
	case ChanDigital:
		return "digital"
	case ChanDigitalPWM:
		return "digital-pwm"
	case ChanAnalogueThreshold:
		return "analogue-threshold"
	case ChanAnaloguePWM:
		return "analogue-pwm"
	case ChanCANDigital:
		return "can-digital"
	case ChanCANPWM:
		return "can-pwm"
	default:
		return "unknown"
	}
}

// ChannelConfig holds the persisted part of a channel
type ChannelConfig struct {
	Name       string
	Type       ChanType
	Enabled    bool
	PWMSetDuty uint8 // percent

	CurrentThresholdHigh float32 // A
	CurrentThresholdLow  float32 // A
	RetryCount           uint8

	InrushDelay uint32 // ms
	RunOn       bool
	RunOnTime   uint32 // ms

	// Reserved for grouped current budgets, not enforced.
	MultiChannel bool
	GroupNumber  uint8

	OutputControlPin uint8
	CurrentSensePin  uint8
	InputControlPin  uint8
	ActiveHigh       bool
}

// Channel is one output with its persisted configuration and runtime state
type Channel struct {
	ChannelConfig

	Override     bool
	CurrentValue float32 // A
	ErrorFlags   ErrorFlags
	AnalogRaw    uint16

	// Duty is the effective duty for the current cycle
	Duty uint8

	EnabledAt          time.Time
	DisableRequestedAt time.Time
	requested          bool
}

// DefaultChannels returns the hard boot defaults for all channels
func DefaultChannels() [ChannelCount]Channel {
	var chans [ChannelCount]Channel
	for i := range chans {
		chans[i].ChannelConfig = ChannelConfig{
			Name:                 fmt.Sprintf("C%d", i+1),
			Type:                 ChanDigital,
			PWMSetDuty:           100,
			CurrentThresholdHigh: 10.0,
			CurrentThresholdLow:  0.0,
			RetryCount:           3,
			InrushDelay:          250,
			RunOnTime:            0,
			OutputControlPin:     uint8(i),
			CurrentSensePin:      uint8(i),
			InputControlPin:      uint8(i),
			ActiveHigh:           true,
		}
		chans[i].Duty = 100
	}
	return chans
}

// Clamp forces the configuration back inside its invariants
func (c *ChannelConfig) Clamp() {
	if len(c.Name) > ChannelNameLen {
		c.Name = c.Name[:ChannelNameLen]
	}
	if !c.Type.Valid() {
		c.Type = ChanDigital
	}
	c.PWMSetDuty = mathx.Clamp(c.PWMSetDuty, 0, 100)
	c.CurrentThresholdHigh = mathx.Clamp(c.CurrentThresholdHigh, 0, CurrentMax)
	c.CurrentThresholdLow = mathx.Clamp(c.CurrentThresholdLow, 0, CurrentMax)
	if c.CurrentThresholdLow > c.CurrentThresholdHigh {
		c.CurrentThresholdLow = c.CurrentThresholdHigh
	}
}

// ChannelField names one configurable channel parameter
type ChannelField uint8

const (
	FieldType ChannelField = iota
	FieldName
	FieldEnabled // read-only, resolved by the input handler
	FieldDuty
	FieldThresholdHigh
	FieldThresholdLow
	FieldRetryCount
	FieldInrushDelay
	FieldActiveHigh
	FieldRunOn
	FieldRunOnTime
	FieldMultiChannel
	FieldGroupNumber
	FieldOutputPin
	FieldSensePin
	FieldInputPin
)

// ChannelUpdate is a single tagged field write addressed to one channel
type ChannelUpdate struct {
	Channel int
	Field   ChannelField
	Value   float64
	Text    string
}

// Apply writes one field and re-clamps. Out-of-range values are clamped, not rejected.
func (c *ChannelConfig) Apply(u ChannelUpdate) error {
	switch u.Field {
	case FieldType:
		if !(u.Value >= 0 && u.Value <= float64(ChanCANPWM)) {
			return fmt.Errorf("invalid channel type %v", u.Value)
		}
		c.Type = ChanType(u.Value)
	case FieldName:
		c.Name = strings.TrimRight(u.Text, "\x00 ")
	case FieldEnabled:
		return ErrDerivedField
	case FieldDuty:
		c.PWMSetDuty = uint8(mathx.Clamp(u.Value, 0, 100))
	case FieldThresholdHigh:
		c.CurrentThresholdHigh = float32(mathx.Clamp(u.Value, 0, CurrentMax))
	case FieldThresholdLow:
		c.CurrentThresholdLow = float32(mathx.Clamp(u.Value, 0, CurrentMax))
	case FieldRetryCount:
		c.RetryCount = uint8(mathx.Clamp(u.Value, 0, 255))
	case FieldInrushDelay:
		c.InrushDelay = uint32(mathx.Clamp(u.Value, 0, 65535))
	case FieldActiveHigh:
		c.ActiveHigh = u.Value != 0
	case FieldRunOn:
		c.RunOn = u.Value != 0
	case FieldRunOnTime:
		c.RunOnTime = uint32(mathx.Clamp(u.Value, 0, 4294967295))
	case FieldMultiChannel:
		c.MultiChannel = u.Value != 0
	case FieldGroupNumber:
		c.GroupNumber = uint8(mathx.Clamp(u.Value, 0, 255))
	case FieldOutputPin:
		c.OutputControlPin = uint8(mathx.Clamp(u.Value, 0, 255))
	case FieldSensePin:
		c.CurrentSensePin = uint8(mathx.Clamp(u.Value, 0, 255))
	case FieldInputPin:
		c.InputControlPin = uint8(mathx.Clamp(u.Value, 0, 255))
	default:
		return fmt.Errorf("unknown channel field %d", u.Field)
	}
	c.Clamp()
	return nil
}

func (c *Channel) inrushElapsed(now time.Time) bool {
	return now.Sub(c.EnabledAt) >= time.Duration(c.InrushDelay)*time.Millisecond
}

// setEnabled records the enable edge; disabling clears faults and current
func (c *Channel) setEnabled(on bool, now time.Time) bool {
	if c.Enabled == on {
		return false
	}
	c.Enabled = on
	if on {
		c.EnabledAt = now
	} else {
		c.ErrorFlags = 0
		c.CurrentValue = 0
	}
	return true
}
