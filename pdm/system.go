package pdm

import (
	"fmt"

	"pdm-service/internal/mathx"
)

const (
	// LogFileCount is the number of log filenames remembered across sleep cycles
	LogFileCount = 10

	// LogFileNameLen is the maximum log filename length (8.3 names)
	LogFileNameLen = 12

	// SystemCurrentMax bounds the configurable system current limit (A)
	SystemCurrentMax = ChannelCount * CurrentMax
)

type SpeedUnit uint8

const (
	SpeedKPH SpeedUnit = iota
	SpeedMPH
)

type DistanceUnit uint8

const (
	DistanceKm DistanceUnit = iota
	DistanceMiles
)

// SystemParameters is the persisted global configuration
type SystemParameters struct {
	CANChannelID uint16
	CANSystemID  uint16
	CANConfigID  uint16

	CurrentLimit float32 // A

	SpeedUnit    SpeedUnit
	DistanceUnit DistanceUnit

	AllowData         bool
	AllowGPS          bool
	AllowMotionDetect bool
	AllowSleep        bool

	IMUWakeWindow  uint16 // s
	MotionDeadTime uint16 // s
}

// DefaultSystemParameters returns the hard boot defaults
func DefaultSystemParameters() SystemParameters {
	return SystemParameters{
		CANChannelID:      0x650,
		CANSystemID:       0x660,
		CANConfigID:       0x670,
		CurrentLimit:      100,
		SpeedUnit:         SpeedKPH,
		DistanceUnit:      DistanceKm,
		AllowData:         true,
		AllowGPS:          true,
		AllowMotionDetect: true,
		AllowSleep:        true,
		IMUWakeWindow:     120,
		MotionDeadTime:    600,
	}
}

// Clamp forces the parameters back inside their invariants
func (s *SystemParameters) Clamp() {
	s.CurrentLimit = mathx.Clamp(s.CurrentLimit, 0, SystemCurrentMax)
	if s.SpeedUnit > SpeedMPH {
		s.SpeedUnit = SpeedKPH
	}
	if s.DistanceUnit > DistanceMiles {
		s.DistanceUnit = DistanceKm
	}
	s.CANChannelID &= 0x7FF
	s.CANSystemID &= 0x7FF
	s.CANConfigID &= 0x7FF
}

// SystemField names one configurable system parameter
type SystemField uint8

const (
	FieldCurrentLimit SystemField = iota
	FieldSpeedUnit
	FieldDistanceUnit
	FieldAllowData
	FieldAllowGPS
	FieldAllowMotionDetect
	FieldAllowSleep
	FieldMotionDeadTime
	FieldIMUWakeWindow
	FieldCANChannelID
	FieldCANSystemID
	FieldCANConfigID
)

// SystemUpdate is a single tagged system parameter write
type SystemUpdate struct {
	Field SystemField
	Value float64
}

// Apply writes one parameter and re-clamps
func (s *SystemParameters) Apply(u SystemUpdate) error {
	switch u.Field {
	case FieldCurrentLimit:
		s.CurrentLimit = float32(mathx.Clamp(u.Value, 0, SystemCurrentMax))
	case FieldSpeedUnit:
		s.SpeedUnit = SpeedUnit(mathx.Clamp(u.Value, 0, float64(SpeedMPH)))
	case FieldDistanceUnit:
		s.DistanceUnit = DistanceUnit(mathx.Clamp(u.Value, 0, float64(DistanceMiles)))
	case FieldAllowData:
		s.AllowData = u.Value != 0
	case FieldAllowGPS:
		s.AllowGPS = u.Value != 0
	case FieldAllowMotionDetect:
		s.AllowMotionDetect = u.Value != 0
	case FieldAllowSleep:
		s.AllowSleep = u.Value != 0
	case FieldMotionDeadTime:
		s.MotionDeadTime = uint16(mathx.Clamp(u.Value, 0, 65535))
	case FieldIMUWakeWindow:
		s.IMUWakeWindow = uint16(mathx.Clamp(u.Value, 0, 65535))
	case FieldCANChannelID:
		s.CANChannelID = uint16(mathx.Clamp(u.Value, 0, 0x7FF))
	case FieldCANSystemID:
		s.CANSystemID = uint16(mathx.Clamp(u.Value, 0, 0x7FF))
	case FieldCANConfigID:
		s.CANConfigID = uint16(mathx.Clamp(u.Value, 0, 0x7FF))
	default:
		return fmt.Errorf("unknown system field %d", u.Field)
	}
	s.Clamp()
	return nil
}

// SystemRuntime is the non-persisted system aggregate, recomputed every monitor cycle
type SystemRuntime struct {
	Temperature float32 // °C
	Voltage     float32 // V
	Current     float32 // A
	ErrorFlags  SystemFlags

	// LoggingSuspended latches on under-voltage until the supply recovers
	LoggingSuspended bool
	AliveCounter     uint8
}

// StorageParameters tracks SD log rotation across sleep cycles
type StorageParameters struct {
	LogFiles     [LogFileCount]string // most recent first
	MaxLogLines  uint32
	LogFrequency uint16 // ms
}

// DefaultStorageParameters returns the hard boot defaults
func DefaultStorageParameters() StorageParameters {
	return StorageParameters{
		MaxLogLines:  50000,
		LogFrequency: 1000,
	}
}

// PushLogFile records name as the most recent log file, dropping the oldest
func (s *StorageParameters) PushLogFile(name string) {
	if len(name) > LogFileNameLen {
		name = name[:LogFileNameLen]
	}
	copy(s.LogFiles[1:], s.LogFiles[:LogFileCount-1])
	s.LogFiles[0] = name
}

// StorageField names one configurable logging parameter
type StorageField uint8

const (
	FieldMaxLogLines StorageField = iota
	FieldLogFrequency
)

// StorageUpdate is a single tagged logging parameter write
type StorageUpdate struct {
	Field StorageField
	Value float64
}

// Clamp forces the logging parameters back inside their bounds
func (s *StorageParameters) Clamp() {
	s.MaxLogLines = mathx.Clamp(s.MaxLogLines, 1, 4294967295)
	s.LogFrequency = mathx.Clamp(s.LogFrequency, 10, 65535)
	for i, name := range s.LogFiles {
		if len(name) > LogFileNameLen {
			s.LogFiles[i] = name[:LogFileNameLen]
		}
	}
}

// Apply writes one logging parameter
func (s *StorageParameters) Apply(u StorageUpdate) error {
	switch u.Field {
	case FieldMaxLogLines:
		s.MaxLogLines = uint32(mathx.Clamp(u.Value, 1, 4294967295))
	case FieldLogFrequency:
		s.LogFrequency = uint16(mathx.Clamp(u.Value, 10, 65535))
	default:
		return fmt.Errorf("unknown storage field %d", u.Field)
	}
	return nil
}

// CurrentLogFile returns the most recent log filename, or "" if none
func (s *StorageParameters) CurrentLogFile() string {
	return s.LogFiles[0]
}
