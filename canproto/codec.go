package canproto

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/brutella/can"

	"pdm-service/internal/mathx"
	"pdm-service/pdm"
)

// Control is a decoded channel control frame
type Control struct {
	Channel int
	Enable  bool
	Duty    uint8
}

// DecodeControl unpacks [ch, enable<<7 | duty]
func DecodeControl(frame can.Frame) (Control, error) {
	if frame.Length < 2 {
		return Control{}, ErrShortFrame
	}
	ch := int(frame.Data[0])
	if ch >= pdm.ChannelCount {
		return Control{}, fmt.Errorf("%w: %d", ErrUnknownChannel, ch)
	}
	return Control{
		Channel: ch,
		Enable:  frame.Data[1]&ControlEnable != 0,
		Duty:    mathx.Clamp(frame.Data[1]&^ControlEnable, 0, 100),
	}, nil
}

// DecodeStatusRequest returns the channel a status request asks for
func DecodeStatusRequest(frame can.Frame) (int, error) {
	if frame.Length < 1 {
		return 0, ErrShortFrame
	}
	ch := int(frame.Data[0])
	if ch >= pdm.ChannelCount {
		return 0, fmt.Errorf("%w: %d", ErrUnknownChannel, ch)
	}
	return ch, nil
}

// DecodeChannelConfig turns one bitmask-gated channel config frame into
// tagged updates. Only fields whose mask bit is set are returned.
func DecodeChannelConfig(frame can.Frame) ([]pdm.ChannelUpdate, error) {
	if frame.Length < configLength {
		return nil, ErrShortFrame
	}
	d := frame.Data
	ch := int(d[1])
	if ch >= pdm.ChannelCount {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChannel, ch)
	}
	mask := d[maskByte]

	var updates []pdm.ChannelUpdate
	add := func(m byte, field pdm.ChannelField, v float64) {
		if mask&m != 0 {
			updates = append(updates, pdm.ChannelUpdate{Channel: ch, Field: field, Value: v})
		}
	}

	switch d[0] {
	case 0:
		add(MaskType, pdm.FieldType, float64(d[2]))
		if mask&MaskName != 0 {
			updates = append(updates, pdm.ChannelUpdate{
				Channel: ch,
				Field:   pdm.FieldName,
				Text:    strings.TrimRight(string(d[3:3+pdm.ChannelNameLen]), "\x00"),
			})
		}
	case 1:
		add(MaskThresholdHigh, pdm.FieldThresholdHigh, float64(d[2])/10)
		add(MaskThresholdLow, pdm.FieldThresholdLow, float64(d[3])/10)
		add(MaskRetryCount, pdm.FieldRetryCount, float64(d[4]))
	case 2:
		add(MaskInrushDelay, pdm.FieldInrushDelay, float64(binary.BigEndian.Uint16(d[2:4])))
		add(MaskActiveHigh, pdm.FieldActiveHigh, float64(d[4]))
		add(MaskRunOn, pdm.FieldRunOn, float64(d[5]))
	case 3:
		add(MaskRunOnTime, pdm.FieldRunOnTime, float64(binary.BigEndian.Uint32(d[2:6])))
	default:
		return nil, fmt.Errorf("%w: channel config %d", ErrUnknownFrame, d[0])
	}
	return updates, nil
}

// DecodeSystemConfig turns one bitmask-gated system config frame into tagged updates
func DecodeSystemConfig(frame can.Frame) ([]pdm.SystemUpdate, error) {
	if frame.Length < configLength {
		return nil, ErrShortFrame
	}
	d := frame.Data
	mask := d[maskByte]

	var updates []pdm.SystemUpdate
	add := func(m byte, field pdm.SystemField, v float64) {
		if mask&m != 0 {
			updates = append(updates, pdm.SystemUpdate{Field: field, Value: v})
		}
	}

	switch d[0] {
	case 0:
		add(MaskCurrentLimit, pdm.FieldCurrentLimit, float64(binary.BigEndian.Uint16(d[1:3]))/10)
		add(MaskSpeedUnit, pdm.FieldSpeedUnit, float64(d[3]))
		add(MaskDistanceUnit, pdm.FieldDistanceUnit, float64(d[4]))
		if mask&MaskFeatures != 0 {
			f := d[5]
			updates = append(updates,
				pdm.SystemUpdate{Field: pdm.FieldAllowData, Value: bit(f, FeatureData)},
				pdm.SystemUpdate{Field: pdm.FieldAllowGPS, Value: bit(f, FeatureGPS)},
				pdm.SystemUpdate{Field: pdm.FieldAllowMotionDetect, Value: bit(f, FeatureMotion)},
				pdm.SystemUpdate{Field: pdm.FieldAllowSleep, Value: bit(f, FeatureSleep)},
			)
		}
	case 1:
		add(MaskMotionDeadTime, pdm.FieldMotionDeadTime, float64(binary.BigEndian.Uint16(d[1:3])))
		add(MaskIMUWakeWindow, pdm.FieldIMUWakeWindow, float64(binary.BigEndian.Uint16(d[3:5])))
	default:
		return nil, fmt.Errorf("%w: system config %d", ErrUnknownFrame, d[0])
	}
	return updates, nil
}

func bit(b, mask byte) float64 {
	if b&mask != 0 {
		return 1
	}
	return 0
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func tenths(v float32, limit float32) uint16 {
	return uint16(mathx.Clamp(v*10, 0, limit) + 0.5)
}

// StatusFrames builds the three-part status reply for one channel
func StatusFrames(id uint32, index int, ch *pdm.Channel) [3]can.Frame {
	var frames [3]can.Frame
	for i := range frames {
		frames[i] = can.Frame{ID: id, Length: 8}
		frames[i].Data[0] = byte(i)
		frames[i].Data[1] = byte(index)
	}

	d := &frames[0].Data
	d[2] = byte(ch.Type)
	binary.BigEndian.PutUint16(d[3:5], tenths(ch.CurrentValue, 65535))
	d[5] = boolToByte(ch.Enabled)
	d[6] = byte(ch.ErrorFlags)
	d[7] = ch.Duty

	d = &frames[1].Data
	copy(d[2:2+pdm.ChannelNameLen], ch.Name)
	d[5] = byte(tenths(ch.CurrentThresholdHigh, 255))
	d[6] = byte(tenths(ch.CurrentThresholdLow, 255))
	d[7] = ch.RetryCount

	d = &frames[2].Data
	binary.BigEndian.PutUint16(d[2:4], uint16(mathx.Clamp(ch.InrushDelay, 0, 65535)))
	d[4] = boolToByte(ch.ActiveHigh)
	d[5] = boolToByte(ch.RunOn)
	binary.BigEndian.PutUint16(d[6:8], uint16(mathx.Clamp(ch.RunOnTime/100, 0, 65535)))

	return frames
}

// SystemStatusFrame builds [alive, temp, V×10, I×10, flags]
func SystemStatusFrame(id uint32, rt *pdm.SystemRuntime) can.Frame {
	f := can.Frame{ID: id, Length: 8}
	f.Data[0] = rt.AliveCounter
	f.Data[1] = byte(int8(mathx.Clamp(rt.Temperature, -128, 127)))
	binary.BigEndian.PutUint16(f.Data[2:4], tenths(rt.Voltage, 65535))
	binary.BigEndian.PutUint16(f.Data[4:6], tenths(rt.Current, 65535))
	binary.BigEndian.PutUint16(f.Data[6:8], uint16(rt.ErrorFlags))
	return f
}

// Features packs the feature toggles into one byte
func Features(s *pdm.SystemParameters) byte {
	var f byte
	if s.AllowData {
		f |= FeatureData
	}
	if s.AllowGPS {
		f |= FeatureGPS
	}
	if s.AllowMotionDetect {
		f |= FeatureMotion
	}
	if s.AllowSleep {
		f |= FeatureSleep
	}
	return f
}

// SystemFeatureFrame builds [speed unit, distance unit, features, power state]
func SystemFeatureFrame(id uint32, s *pdm.SystemParameters, power pdm.PowerState) can.Frame {
	f := can.Frame{ID: id, Length: 4}
	f.Data[0] = byte(s.SpeedUnit)
	f.Data[1] = byte(s.DistanceUnit)
	f.Data[2] = Features(s)
	f.Data[3] = byte(power)
	return f
}
