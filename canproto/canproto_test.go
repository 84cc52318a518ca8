package canproto

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/brutella/can"

	"pdm-service/pdm"
	"pdm-service/store"
)

// testLogger implements pdm.Logger for testing
type testLogger struct{}

func (l *testLogger) Printf(format string, v ...interface{}) {}
func (l *testLogger) Debug(format string, v ...interface{})  {}
func (l *testLogger) Info(format string, v ...interface{})   {}
func (l *testLogger) Warn(format string, v ...interface{})   {}
func (l *testLogger) Error(format string, v ...interface{})  {}
func (l *testLogger) DebugCAN(direction string, id uint32, data []byte, length uint8) {
}

type fakeBus struct {
	frames []can.Frame
	err    error
}

func (b *fakeBus) Publish(frame can.Frame) error {
	if b.err != nil {
		return b.err
	}
	b.frames = append(b.frames, frame)
	return nil
}

type fakeMarker struct {
	marks []store.Region
}

func (m *fakeMarker) Mark(r store.Region, now time.Time) {
	m.marks = append(m.marks, r)
}

func makeCANFrame(id uint32, data ...byte) can.Frame {
	f := can.Frame{ID: id, Length: uint8(len(data))}
	copy(f.Data[:], data)
	return f
}

type rig struct {
	state   *pdm.State
	hal     *pdm.SimHAL
	inputs  *pdm.InputHandler
	bus     *fakeBus
	marker  *fakeMarker
	handler *Handler
	ids     IDs
}

func newRig() *rig {
	r := &rig{
		state:  pdm.NewState(),
		hal:    pdm.NewSimHAL(),
		bus:    &fakeBus{},
		marker: &fakeMarker{},
	}
	r.inputs = pdm.NewInputHandler(r.state, r.hal, &testLogger{})
	r.handler = NewHandler(r.state, r.inputs, r.marker, r.bus, &testLogger{})
	r.ids = IDsFor(r.state.System)
	return r
}

func TestIDsFor_Defaults(t *testing.T) {
	ids := IDsFor(pdm.DefaultSystemParameters())
	if ids.StatusRequest != 0x650 || ids.StatusResponse != 0x651 || ids.Control != 0x652 {
		t.Errorf("unexpected channel ids %+v", ids)
	}
	if ids.SystemStatus != 0x660 || ids.SystemFeatures != 0x661 {
		t.Errorf("unexpected system ids %+v", ids)
	}
	if ids.ChannelConfig != 0x670 || ids.SystemConfig != 0x671 {
		t.Errorf("unexpected config ids %+v", ids)
	}
}

func TestDecodeChannelConfig_MaskGating(t *testing.T) {
	// Frame 1: thrH=12.5, thrL=0.5, retry=4 but only thresholds flagged
	frame := makeCANFrame(0x670, 1, 2, 125, 5, 4, 0, 0, MaskThresholdHigh|MaskThresholdLow)
	updates, err := DecodeChannelConfig(frame)
	if err != nil {
		t.Fatalf("DecodeChannelConfig: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d: %+v", len(updates), updates)
	}
	if updates[0].Channel != 2 || updates[0].Field != pdm.FieldThresholdHigh || updates[0].Value != 12.5 {
		t.Errorf("unexpected first update %+v", updates[0])
	}
	if updates[1].Field != pdm.FieldThresholdLow || updates[1].Value != 0.5 {
		t.Errorf("unexpected second update %+v", updates[1])
	}
}

func TestDecodeChannelConfig_AllFrames(t *testing.T) {
	tests := []struct {
		name   string
		frame  can.Frame
		fields []pdm.ChannelField
	}{
		{"type and name", makeCANFrame(0x670, 0, 0, byte(pdm.ChanCANPWM), 'F', 'A', 'N', 0, MaskType|MaskName),
			[]pdm.ChannelField{pdm.FieldType, pdm.FieldName}},
		{"inrush active-high run-on", makeCANFrame(0x670, 2, 0, 0x01, 0xF4, 1, 1, 0, MaskInrushDelay|MaskActiveHigh|MaskRunOn),
			[]pdm.ChannelField{pdm.FieldInrushDelay, pdm.FieldActiveHigh, pdm.FieldRunOn}},
		{"run-on time", makeCANFrame(0x670, 3, 0, 0, 0, 0x75, 0x30, 0, MaskRunOnTime),
			[]pdm.ChannelField{pdm.FieldRunOnTime}},
		{"empty mask", makeCANFrame(0x670, 1, 0, 1, 2, 3, 0, 0, 0), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			updates, err := DecodeChannelConfig(tt.frame)
			if err != nil {
				t.Fatalf("DecodeChannelConfig: %v", err)
			}
			if len(updates) != len(tt.fields) {
				t.Fatalf("expected %d updates, got %d", len(tt.fields), len(updates))
			}
			for i, f := range tt.fields {
				if updates[i].Field != f {
					t.Errorf("update %d: expected field %d, got %d", i, f, updates[i].Field)
				}
			}
		})
	}
}

func TestDecodeChannelConfig_Errors(t *testing.T) {
	if _, err := DecodeChannelConfig(makeCANFrame(0x670, 0, 0, 1)); !errors.Is(err, ErrShortFrame) {
		t.Errorf("expected ErrShortFrame, got %v", err)
	}
	if _, err := DecodeChannelConfig(makeCANFrame(0x670, 0, 14, 0, 0, 0, 0, 0, 0xFF)); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("expected ErrUnknownChannel, got %v", err)
	}
	if _, err := DecodeChannelConfig(makeCANFrame(0x670, 7, 0, 0, 0, 0, 0, 0, 0xFF)); !errors.Is(err, ErrUnknownFrame) {
		t.Errorf("expected ErrUnknownFrame, got %v", err)
	}
}

func TestDecodeSystemConfig(t *testing.T) {
	// limit 85.0A, mph, km, features gps+sleep
	frame := makeCANFrame(0x671, 0, 0x03, 0x52, 1, 0, FeatureGPS|FeatureSleep, 0, MaskCurrentLimit|MaskSpeedUnit|MaskFeatures)
	updates, err := DecodeSystemConfig(frame)
	if err != nil {
		t.Fatalf("DecodeSystemConfig: %v", err)
	}

	s := pdm.DefaultSystemParameters()
	for _, u := range updates {
		if err := s.Apply(u); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}
	if s.CurrentLimit != 85 {
		t.Errorf("limit: expected 85, got %f", s.CurrentLimit)
	}
	if s.SpeedUnit != pdm.SpeedMPH || s.DistanceUnit != pdm.DistanceKm {
		t.Errorf("units: got %d/%d", s.SpeedUnit, s.DistanceUnit)
	}
	if s.AllowData || !s.AllowGPS || s.AllowMotionDetect || !s.AllowSleep {
		t.Errorf("unexpected features %+v", s)
	}

	frame = makeCANFrame(0x671, 1, 0x01, 0x2C, 0x00, 0x3C, 0, 0, MaskIMUWakeWindow)
	updates, err = DecodeSystemConfig(frame)
	if err != nil {
		t.Fatalf("DecodeSystemConfig: %v", err)
	}
	if len(updates) != 1 || updates[0].Field != pdm.FieldIMUWakeWindow || updates[0].Value != 60 {
		t.Errorf("unexpected updates %+v", updates)
	}
}

func TestDecodeControl(t *testing.T) {
	c, err := DecodeControl(makeCANFrame(0x652, 5, ControlEnable|40))
	if err != nil {
		t.Fatalf("DecodeControl: %v", err)
	}
	if c.Channel != 5 || !c.Enable || c.Duty != 40 {
		t.Errorf("unexpected control %+v", c)
	}

	c, _ = DecodeControl(makeCANFrame(0x652, 0, 0x7F))
	if c.Enable || c.Duty != 100 {
		t.Errorf("expected disabled with duty clamped to 100, got %+v", c)
	}

	if _, err := DecodeControl(makeCANFrame(0x652, 3)); !errors.Is(err, ErrShortFrame) {
		t.Errorf("expected ErrShortFrame, got %v", err)
	}
}

func TestHandler_ChannelConfigMarksRegion(t *testing.T) {
	r := newRig()
	now := time.Unix(100, 0)

	frame := makeCANFrame(r.ids.ChannelConfig, 0, 3, byte(pdm.ChanDigitalPWM), 'H', 'L', 0, 0, MaskType|MaskName)
	if err := r.handler.HandleFrame(frame, now); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	ch := r.state.Channels[3]
	if ch.Type != pdm.ChanDigitalPWM || ch.Name != "HL" {
		t.Errorf("config not applied: type %s name %q", ch.Type, ch.Name)
	}
	if len(r.marker.marks) != 1 || r.marker.marks[0] != store.RegionChannel {
		t.Errorf("expected channel region marked, got %v", r.marker.marks)
	}
}

func TestHandler_ThresholdClamped(t *testing.T) {
	r := newRig()
	frame := makeCANFrame(r.ids.ChannelConfig, 1, 0, 250, 200, 0, 0, 0, MaskThresholdHigh|MaskThresholdLow)
	if err := r.handler.HandleFrame(frame, time.Unix(100, 0)); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	ch := r.state.Channels[0]
	if ch.CurrentThresholdHigh != pdm.CurrentMax || ch.CurrentThresholdLow != pdm.CurrentMax {
		t.Errorf("thresholds not clamped: %f/%f", ch.CurrentThresholdLow, ch.CurrentThresholdHigh)
	}
}

func TestHandler_EmptyMaskDoesNotMark(t *testing.T) {
	r := newRig()
	frame := makeCANFrame(r.ids.ChannelConfig, 1, 0, 1, 2, 3, 0, 0, 0)
	if err := r.handler.HandleFrame(frame, time.Unix(100, 0)); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	if len(r.marker.marks) != 0 {
		t.Errorf("expected no marks, got %v", r.marker.marks)
	}
}

func TestHandler_SystemConfigMarksRegion(t *testing.T) {
	r := newRig()
	frame := makeCANFrame(r.ids.SystemConfig, 1, 0x00, 0x78, 0, 0, 0, 0, MaskMotionDeadTime)
	if err := r.handler.HandleFrame(frame, time.Unix(100, 0)); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	if r.state.System.MotionDeadTime != 120 {
		t.Errorf("dead time: expected 120, got %d", r.state.System.MotionDeadTime)
	}
	if len(r.marker.marks) != 1 || r.marker.marks[0] != store.RegionSystem {
		t.Errorf("expected system region marked, got %v", r.marker.marks)
	}
}

func TestHandler_ControlEnablesCANChannel(t *testing.T) {
	r := newRig()
	r.state.Channels[2].Type = pdm.ChanCANPWM
	now := time.Unix(100, 0)

	if err := r.handler.HandleFrame(makeCANFrame(r.ids.Control, 2, ControlEnable|25), now); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	if !r.inputs.CANEnable(2) {
		t.Fatal("CAN enable flag not set")
	}
	r.inputs.Update(now)
	if !r.state.Channels[2].Enabled || r.state.Channels[2].Duty != 25 {
		t.Errorf("expected enabled at 25%%, got enabled=%v duty=%d", r.state.Channels[2].Enabled, r.state.Channels[2].Duty)
	}
	if len(r.marker.marks) != 0 {
		t.Error("control frame scheduled a save")
	}
}

func TestHandler_ControlIgnoredForLocalChannel(t *testing.T) {
	r := newRig()
	if err := r.handler.HandleFrame(makeCANFrame(r.ids.Control, 1, ControlEnable|50), time.Unix(100, 0)); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	if r.inputs.CANEnable(1) {
		t.Error("CAN enable set on a digital channel")
	}
}

func TestHandler_StatusRequest(t *testing.T) {
	r := newRig()
	ch := &r.state.Channels[4]
	ch.Type = pdm.ChanDigitalPWM
	ch.Name = "PMP"
	ch.Enabled = true
	ch.CurrentValue = 7.3
	ch.ErrorFlags = pdm.FlagUnderCurrent
	ch.Duty = 60
	ch.CurrentThresholdHigh = 12.5
	ch.CurrentThresholdLow = 1.0
	ch.InrushDelay = 500
	ch.RunOn = true
	ch.RunOnTime = 30000

	if err := r.handler.HandleFrame(makeCANFrame(r.ids.StatusRequest, 4), time.Unix(100, 0)); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	if len(r.bus.frames) != 3 {
		t.Fatalf("expected 3 response frames, got %d", len(r.bus.frames))
	}
	for i, f := range r.bus.frames {
		if f.ID != r.ids.StatusResponse || f.Data[0] != byte(i) || f.Data[1] != 4 {
			t.Errorf("frame %d header: id 0x%03X data %v", i, f.ID, f.Data)
		}
	}

	d := r.bus.frames[0].Data
	if d[2] != byte(pdm.ChanDigitalPWM) || binary.BigEndian.Uint16(d[3:5]) != 73 || d[5] != 1 || d[6] != byte(pdm.FlagUnderCurrent) || d[7] != 60 {
		t.Errorf("unexpected frame 0 %v", d)
	}
	d = r.bus.frames[1].Data
	if string(d[2:5]) != "PMP" || d[5] != 125 || d[6] != 10 {
		t.Errorf("unexpected frame 1 %v", d)
	}
	d = r.bus.frames[2].Data
	if binary.BigEndian.Uint16(d[2:4]) != 500 || d[4] != 1 || d[5] != 1 || binary.BigEndian.Uint16(d[6:8]) != 300 {
		t.Errorf("unexpected frame 2 %v", d)
	}
}

func TestHandler_UnknownIDIgnored(t *testing.T) {
	r := newRig()
	if err := r.handler.HandleFrame(makeCANFrame(0x123, 1, 2, 3), time.Unix(100, 0)); err != nil {
		t.Errorf("expected unrelated frame ignored, got %v", err)
	}
	if len(r.bus.frames) != 0 || len(r.marker.marks) != 0 {
		t.Error("unrelated frame had side effects")
	}
}

func TestHandler_Broadcast(t *testing.T) {
	r := newRig()
	r.state.Runtime.AliveCounter = 9
	r.state.Runtime.Temperature = 41.6
	r.state.Runtime.Voltage = 13.8
	r.state.Runtime.Current = 22.4
	r.state.Runtime.ErrorFlags = pdm.SysCRCFail

	if err := r.handler.Broadcast(pdm.StateRun); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if len(r.bus.frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(r.bus.frames))
	}

	status := r.bus.frames[0]
	if status.ID != r.ids.SystemStatus {
		t.Errorf("status id: expected 0x%03X, got 0x%03X", r.ids.SystemStatus, status.ID)
	}
	if status.Data[0] != 9 || status.Data[1] != 41 {
		t.Errorf("alive/temp: got %d/%d", status.Data[0], status.Data[1])
	}
	if binary.BigEndian.Uint16(status.Data[2:4]) != 138 || binary.BigEndian.Uint16(status.Data[4:6]) != 224 {
		t.Errorf("voltage/current: got %v", status.Data[2:6])
	}
	if binary.BigEndian.Uint16(status.Data[6:8]) != uint16(pdm.SysCRCFail) {
		t.Errorf("flags: got %v", status.Data[6:8])
	}

	features := r.bus.frames[1]
	if features.ID != r.ids.SystemFeatures || features.Data[2] != FeatureData|FeatureGPS|FeatureMotion|FeatureSleep {
		t.Errorf("unexpected feature frame %+v", features)
	}
}

func TestHandler_PublishError(t *testing.T) {
	r := newRig()
	r.bus.err = errors.New("bus off")
	if err := r.handler.Broadcast(pdm.StateRun); err == nil {
		t.Error("expected publish error")
	}
}
