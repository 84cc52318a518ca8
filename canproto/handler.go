package canproto

import (
	"errors"
	"fmt"
	"time"

	"github.com/brutella/can"

	"pdm-service/pdm"
	"pdm-service/store"
)

// Publisher sends frames on the bus; *can.Bus satisfies it
type Publisher interface {
	Publish(frame can.Frame) error
}

// Marker schedules a deferred save of a configuration region
type Marker interface {
	Mark(r store.Region, now time.Time)
}

// Handler applies received frames to the owned state. It must only be
// called from the goroutine that owns the state.
type Handler struct {
	state  *pdm.State
	inputs *pdm.InputHandler
	saver  Marker
	bus    Publisher
	logger pdm.Logger
}

func NewHandler(state *pdm.State, inputs *pdm.InputHandler, saver Marker, bus Publisher, logger pdm.Logger) *Handler {
	return &Handler{
		state:  state,
		inputs: inputs,
		saver:  saver,
		bus:    bus,
		logger: logger,
	}
}

// HandleFrame dispatches one received frame. Frames with unrelated ids are ignored.
func (h *Handler) HandleFrame(frame can.Frame, now time.Time) error {
	pdm.DebugCANFrame(h.logger, "RX", frame.ID, frame.Data, frame.Length)

	ids := IDsFor(h.state.System)
	switch frame.ID {
	case ids.StatusRequest:
		return h.handleStatusRequest(frame)
	case ids.Control:
		return h.handleControl(frame)
	case ids.ChannelConfig:
		return h.handleChannelConfig(frame, now)
	case ids.SystemConfig:
		return h.handleSystemConfig(frame, now)
	}
	return nil
}

func (h *Handler) handleStatusRequest(frame can.Frame) error {
	ch, err := DecodeStatusRequest(frame)
	if err != nil {
		return err
	}

	id := IDsFor(h.state.System).StatusResponse
	for _, f := range StatusFrames(id, ch, &h.state.Channels[ch]) {
		if err := h.publish(f); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) handleControl(frame can.Frame) error {
	c, err := DecodeControl(frame)
	if err != nil {
		return err
	}

	ch := &h.state.Channels[c.Channel]
	if !ch.Type.IsCAN() {
		h.logger.Debug("Ignoring CAN control for %s channel %s", ch.Type, ch.Name)
		return nil
	}

	if err := h.inputs.SetCANEnable(c.Channel, c.Enable); err != nil {
		return err
	}
	if ch.Type.IsPWM() {
		// Live duty only; persisted with the next channel region save
		ch.PWMSetDuty = c.Duty
	}
	return nil
}

func (h *Handler) handleChannelConfig(frame can.Frame, now time.Time) error {
	updates, err := DecodeChannelConfig(frame)
	if err != nil {
		return err
	}

	var errs []error
	for _, u := range updates {
		if err := h.state.ApplyChannelUpdate(u); err != nil {
			errs = append(errs, fmt.Errorf("channel %d field %d: %w", u.Channel, u.Field, err))
		}
	}
	if len(updates) > len(errs) {
		h.logger.Info("Channel %d config updated over CAN (%d fields)", updates[0].Channel+1, len(updates)-len(errs))
		h.saver.Mark(store.RegionChannel, now)
	}
	return errors.Join(errs...)
}

func (h *Handler) handleSystemConfig(frame can.Frame, now time.Time) error {
	updates, err := DecodeSystemConfig(frame)
	if err != nil {
		return err
	}

	var errs []error
	for _, u := range updates {
		if err := h.state.System.Apply(u); err != nil {
			errs = append(errs, fmt.Errorf("system field %d: %w", u.Field, err))
		}
	}
	if len(updates) > len(errs) {
		h.logger.Info("System config updated over CAN (%d fields)", len(updates)-len(errs))
		h.saver.Mark(store.RegionSystem, now)
	}
	return errors.Join(errs...)
}

// Broadcast sends the two periodic system frames
func (h *Handler) Broadcast(power pdm.PowerState) error {
	ids := IDsFor(h.state.System)
	if err := h.publish(SystemStatusFrame(ids.SystemStatus, &h.state.Runtime)); err != nil {
		return err
	}
	return h.publish(SystemFeatureFrame(ids.SystemFeatures, &h.state.System, power))
}

func (h *Handler) publish(frame can.Frame) error {
	pdm.DebugCANFrame(h.logger, "TX", frame.ID, frame.Data, frame.Length)
	if err := h.bus.Publish(frame); err != nil {
		return fmt.Errorf("failed to publish frame 0x%03X: %w", frame.ID, err)
	}
	return nil
}
