package store

import (
	"encoding/binary"
	"math"
	"strings"

	"pdm-service/pdm"
)

// Channel record flag bits
const (
	chanFlagEnabled = 1 << iota
	chanFlagRunOn
	chanFlagMultiChannel
	chanFlagActiveHigh
)

// System record flag bits
const (
	sysFlagData = 1 << iota
	sysFlagGPS
	sysFlagMotion
	sysFlagSleep
)

// Analogue record flag bits
const (
	anFlagPullUp = 1 << iota
	anFlagPullDown
	anFlagDigital
)

var le = binary.LittleEndian

func putF32(b []byte, v float32) { le.PutUint32(b, math.Float32bits(v)) }
func getF32(b []byte) float32    { return math.Float32frombits(le.Uint32(b)) }

func putName(b []byte, s string) {
	for i := range b {
		b[i] = 0
	}
	copy(b[:len(b)-1], s)
}

func getName(b []byte) string {
	return strings.TrimRight(string(b), "\x00")
}

func flag(on bool, bit byte) byte {
	if on {
		return bit
	}
	return 0
}

// EncodeChannels packs the persisted channel configuration.
//
//	0..3   name, NUL padded
//	4      type
//	5      flags (enabled, run-on, multi-channel, active-high)
//	6      PWM set duty
//	7      retry count
//	8..15  threshold high, low (float32)
//	16..23 inrush delay, run-on time (ms)
//	24..27 group, output pin, sense pin, input pin
//	28..31 reserved
func EncodeChannels(cfg [pdm.ChannelCount]pdm.ChannelConfig) []byte {
	buf := make([]byte, ChannelRegionSize)
	for i, c := range cfg {
		b := buf[i*ChannelRecordSize : (i+1)*ChannelRecordSize]
		putName(b[0:4], c.Name)
		b[4] = byte(c.Type)
		b[5] = flag(c.Enabled, chanFlagEnabled) |
			flag(c.RunOn, chanFlagRunOn) |
			flag(c.MultiChannel, chanFlagMultiChannel) |
			flag(c.ActiveHigh, chanFlagActiveHigh)
		b[6] = c.PWMSetDuty
		b[7] = c.RetryCount
		putF32(b[8:12], c.CurrentThresholdHigh)
		putF32(b[12:16], c.CurrentThresholdLow)
		le.PutUint32(b[16:20], c.InrushDelay)
		le.PutUint32(b[20:24], c.RunOnTime)
		b[24] = c.GroupNumber
		b[25] = c.OutputControlPin
		b[26] = c.CurrentSensePin
		b[27] = c.InputControlPin
	}
	return buf
}

// DecodeChannels unpacks a channel region payload
func DecodeChannels(buf []byte) [pdm.ChannelCount]pdm.ChannelConfig {
	var cfg [pdm.ChannelCount]pdm.ChannelConfig
	for i := range cfg {
		b := buf[i*ChannelRecordSize : (i+1)*ChannelRecordSize]
		cfg[i] = pdm.ChannelConfig{
			Name:                 getName(b[0:4]),
			Type:                 pdm.ChanType(b[4]),
			Enabled:              b[5]&chanFlagEnabled != 0,
			RunOn:                b[5]&chanFlagRunOn != 0,
			MultiChannel:         b[5]&chanFlagMultiChannel != 0,
			ActiveHigh:           b[5]&chanFlagActiveHigh != 0,
			PWMSetDuty:           b[6],
			RetryCount:           b[7],
			CurrentThresholdHigh: getF32(b[8:12]),
			CurrentThresholdLow:  getF32(b[12:16]),
			InrushDelay:          le.Uint32(b[16:20]),
			RunOnTime:            le.Uint32(b[20:24]),
			GroupNumber:          b[24],
			OutputControlPin:     b[25],
			CurrentSensePin:      b[26],
			InputControlPin:      b[27],
		}
	}
	return cfg
}

// EncodeSystem packs the system parameters.
//
//	0..5   CAN channel, system, config ids
//	6..9   current limit (float32)
//	10, 11 speed unit, distance unit
//	12     flags (data, gps, motion, sleep)
//	14..17 IMU wake window, motion dead time (s)
func EncodeSystem(s pdm.SystemParameters) []byte {
	b := make([]byte, SystemRegionSize)
	le.PutUint16(b[0:2], s.CANChannelID)
	le.PutUint16(b[2:4], s.CANSystemID)
	le.PutUint16(b[4:6], s.CANConfigID)
	putF32(b[6:10], s.CurrentLimit)
	b[10] = byte(s.SpeedUnit)
	b[11] = byte(s.DistanceUnit)
	b[12] = flag(s.AllowData, sysFlagData) |
		flag(s.AllowGPS, sysFlagGPS) |
		flag(s.AllowMotionDetect, sysFlagMotion) |
		flag(s.AllowSleep, sysFlagSleep)
	le.PutUint16(b[14:16], s.IMUWakeWindow)
	le.PutUint16(b[16:18], s.MotionDeadTime)
	return b
}

func DecodeSystem(b []byte) pdm.SystemParameters {
	return pdm.SystemParameters{
		CANChannelID:      le.Uint16(b[0:2]),
		CANSystemID:       le.Uint16(b[2:4]),
		CANConfigID:       le.Uint16(b[4:6]),
		CurrentLimit:      getF32(b[6:10]),
		SpeedUnit:         pdm.SpeedUnit(b[10]),
		DistanceUnit:      pdm.DistanceUnit(b[11]),
		AllowData:         b[12]&sysFlagData != 0,
		AllowGPS:          b[12]&sysFlagGPS != 0,
		AllowMotionDetect: b[12]&sysFlagMotion != 0,
		AllowSleep:        b[12]&sysFlagSleep != 0,
		IMUWakeWindow:     le.Uint16(b[14:16]),
		MotionDeadTime:    le.Uint16(b[16:18]),
	}
}

// EncodeStorage packs the log rotation list followed by max lines (u32) and frequency (u16)
func EncodeStorage(s pdm.StorageParameters) []byte {
	b := make([]byte, StorageRegionSize)
	for i, name := range s.LogFiles {
		putName(b[i*LogNameSize:(i+1)*LogNameSize], name)
	}
	tail := pdm.LogFileCount * LogNameSize
	le.PutUint32(b[tail:tail+4], s.MaxLogLines)
	le.PutUint16(b[tail+4:tail+6], s.LogFrequency)
	return b
}

func DecodeStorage(b []byte) pdm.StorageParameters {
	var s pdm.StorageParameters
	for i := range s.LogFiles {
		s.LogFiles[i] = getName(b[i*LogNameSize : (i+1)*LogNameSize])
	}
	tail := pdm.LogFileCount * LogNameSize
	s.MaxLogLines = le.Uint32(b[tail : tail+4])
	s.LogFrequency = le.Uint16(b[tail+4 : tail+6])
	return s
}

// EncodeAnalogue packs the analogue inputs.
//
//	0      flags (pull-up, pull-down, digital)
//	1, 2   PWM min, max
//	4..19  on, off, scale min, scale max (float32)
func EncodeAnalogue(in [pdm.AnalogueInputCount]pdm.AnalogueInput) []byte {
	buf := make([]byte, AnalogueRegionSize)
	for i, a := range in {
		b := buf[i*AnalogueRecordSize : (i+1)*AnalogueRecordSize]
		b[0] = flag(a.PullUp, anFlagPullUp) |
			flag(a.PullDown, anFlagPullDown) |
			flag(a.Digital, anFlagDigital)
		b[1] = a.PWMMin
		b[2] = a.PWMMax
		putF32(b[4:8], a.OnVoltage)
		putF32(b[8:12], a.OffVoltage)
		putF32(b[12:16], a.ScaleMin)
		putF32(b[16:20], a.ScaleMax)
	}
	return buf
}

func DecodeAnalogue(buf []byte) [pdm.AnalogueInputCount]pdm.AnalogueInput {
	var in [pdm.AnalogueInputCount]pdm.AnalogueInput
	for i := range in {
		b := buf[i*AnalogueRecordSize : (i+1)*AnalogueRecordSize]
		in[i] = pdm.AnalogueInput{
			PullUp:     b[0]&anFlagPullUp != 0,
			PullDown:   b[0]&anFlagPullDown != 0,
			Digital:    b[0]&anFlagDigital != 0,
			PWMMin:     b[1],
			PWMMax:     b[2],
			OnVoltage:  getF32(b[4:8]),
			OffVoltage: getF32(b[8:12]),
			ScaleMin:   getF32(b[12:16]),
			ScaleMax:   getF32(b[16:20]),
		}
	}
	return in
}

// Encode packs the live state of one region
func Encode(r Region, st *pdm.State) []byte {
	switch r {
	case RegionChannel:
		return EncodeChannels(st.ChannelConfigs())
	case RegionSystem:
		return EncodeSystem(st.System)
	case RegionStorage:
		return EncodeStorage(st.Storage)
	case RegionAnalogue:
		return EncodeAnalogue(st.Analogue)
	}
	return nil
}

// apply copies a verified payload into the live state
func apply(r Region, st *pdm.State, payload []byte) {
	switch r {
	case RegionChannel:
		st.SetChannelConfigs(DecodeChannels(payload))
	case RegionSystem:
		st.System = DecodeSystem(payload)
		st.System.Clamp()
	case RegionStorage:
		st.Storage = DecodeStorage(payload)
		st.Storage.Clamp()
	case RegionAnalogue:
		st.Analogue = DecodeAnalogue(payload)
		for i := range st.Analogue {
			st.Analogue[i].Clamp()
		}
	}
}

// reset restores the hard defaults of one region
func reset(r Region, st *pdm.State) {
	switch r {
	case RegionChannel:
		defaults := pdm.DefaultChannels()
		for i := range st.Channels {
			st.Channels[i].ChannelConfig = defaults[i].ChannelConfig
		}
	case RegionSystem:
		st.System = pdm.DefaultSystemParameters()
	case RegionStorage:
		st.Storage = pdm.DefaultStorageParameters()
	case RegionAnalogue:
		st.Analogue = pdm.DefaultAnalogueInputs()
	}
}
