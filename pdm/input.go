package pdm

import (
	"time"

	"pdm-service/internal/mathx"
)

// InputHandler resolves each channel's enable state from its configured source
type InputHandler struct {
	state  *State
	hal    HAL
	logger Logger

	canEnable [ChannelCount]bool
	levels    [AnalogueInputCount]bool // hysteresis state per analogue input
}

func NewInputHandler(state *State, hal HAL, logger Logger) *InputHandler {
	return &InputHandler{
		state:  state,
		hal:    hal,
		logger: logger,
	}
}

// Init applies pull configuration to every analogue input pin
func (h *InputHandler) Init() {
	for i := range h.state.Analogue {
		a := &h.state.Analogue[i]
		h.hal.ConfigureInput(uint8(AnalogueBase+i), a.PullUp, a.PullDown)
	}
}

// SetCANEnable stores the enable flag received over CAN for a channel
func (h *InputHandler) SetCANEnable(ch int, on bool) error {
	if ch < 0 || ch >= ChannelCount {
		return ErrUnknownChannel
	}
	h.canEnable[ch] = on
	return nil
}

// CANEnable returns the last CAN enable flag for a channel
func (h *InputHandler) CANEnable(ch int) bool {
	if ch < 0 || ch >= ChannelCount {
		return false
	}
	return h.canEnable[ch]
}

// SetOverride forces a channel on regardless of its input source
func (h *InputHandler) SetOverride(ch int, on bool) error {
	if ch < 0 || ch >= ChannelCount {
		return ErrUnknownChannel
	}
	h.state.Channels[ch].Override = on
	return nil
}

// ClearOverrides drops every override, used when the host link times out
func (h *InputHandler) ClearOverrides() {
	for i := range h.state.Channels {
		h.state.Channels[i].Override = false
	}
}

// RunOnPending reports whether any channel is held on by its run-on timer
func (h *InputHandler) RunOnPending() bool {
	for i := range h.state.Channels {
		ch := &h.state.Channels[i]
		if ch.Enabled && !ch.requested && ch.RunOn {
			return true
		}
	}
	return false
}

// Update resolves every channel once
func (h *InputHandler) Update(now time.Time) {
	for i := range h.state.Channels {
		h.updateChannel(i, now)
	}
}

func (h *InputHandler) updateChannel(i int, now time.Time) {
	ch := &h.state.Channels[i]

	req := false
	duty := ch.PWMSetDuty

	switch ch.Type {
	case ChanDigital, ChanDigitalPWM:
		req = h.readDigitalSource(&ch.ChannelConfig)
	case ChanAnalogueThreshold:
		if idx, ok := analogueIndex(ch.InputControlPin); ok {
			req = h.threshold(idx)
		}
	case ChanAnaloguePWM:
		if idx, ok := analogueIndex(ch.InputControlPin); ok {
			a := &h.state.Analogue[idx]
			v := h.hal.ReadAnalogueVoltage(idx)
			req = v > a.ScaleMin
			duty = uint8(mathx.Scale(v, a.ScaleMin, a.ScaleMax, float32(a.PWMMin), float32(a.PWMMax)))
		}
	case ChanCANDigital, ChanCANPWM:
		req = h.canEnable[i]
	}

	if ch.Override {
		req = true
		duty = ch.PWMSetDuty
	}
	ch.Duty = mathx.Clamp(duty, 0, 100)
	ch.requested = req

	on := req
	if req {
		ch.DisableRequestedAt = time.Time{}
	} else if ch.Enabled && ch.RunOn && ch.RunOnTime > 0 {
		if ch.DisableRequestedAt.IsZero() {
			ch.DisableRequestedAt = now
		}
		on = now.Sub(ch.DisableRequestedAt) < time.Duration(ch.RunOnTime)*time.Millisecond
	}

	if ch.setEnabled(on, now) {
		if on {
			h.logger.Info("Channel %s enabled", ch.Name)
		} else {
			ch.DisableRequestedAt = time.Time{}
			h.logger.Info("Channel %s disabled", ch.Name)
		}
	}
}

func (h *InputHandler) readDigitalSource(c *ChannelConfig) bool {
	idx, ok := analogueIndex(c.InputControlPin)
	if c.InputControlPin < AnalogueBase {
		return h.hal.ReadDigital(c.InputControlPin) == c.ActiveHigh
	}
	if !ok {
		return false
	}

	a := &h.state.Analogue[idx]
	if !a.Digital {
		return h.threshold(idx)
	}
	return h.hal.ReadDigital(c.InputControlPin) == a.activeLevel()
}

func (h *InputHandler) threshold(idx int) bool {
	v := h.hal.ReadAnalogueVoltage(idx)
	h.levels[idx] = h.state.Analogue[idx].threshold(v, h.levels[idx])
	return h.levels[idx]
}

func analogueIndex(pin uint8) (int, bool) {
	idx := int(pin) - AnalogueBase
	return idx, mathx.Between(idx, 0, AnalogueInputCount-1)
}
