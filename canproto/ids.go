package canproto

import (
	"errors"

	"pdm-service/pdm"
)

var (
	ErrShortFrame     = errors.New("frame too short")
	ErrUnknownChannel = pdm.ErrUnknownChannel
	ErrUnknownFrame   = errors.New("unknown frame index")
)

// Offsets from the configured base ids
const (
	StatusRequestOffset  = 0
	StatusResponseOffset = 1
	ControlOffset        = 2

	ChannelConfigOffset = 0
	SystemConfigOffset  = 1

	SystemStatusOffset  = 0
	SystemFeatureOffset = 1
)

// IDs holds the resolved message ids for the current system configuration
type IDs struct {
	StatusRequest  uint32
	StatusResponse uint32
	Control        uint32
	ChannelConfig  uint32
	SystemConfig   uint32
	SystemStatus   uint32
	SystemFeatures uint32
}

// IDsFor derives every message id from the three configurable bases
func IDsFor(s pdm.SystemParameters) IDs {
	ch := uint32(s.CANChannelID)
	sys := uint32(s.CANSystemID)
	cfg := uint32(s.CANConfigID)
	return IDs{
		StatusRequest:  ch + StatusRequestOffset,
		StatusResponse: ch + StatusResponseOffset,
		Control:        ch + ControlOffset,
		ChannelConfig:  cfg + ChannelConfigOffset,
		SystemConfig:   cfg + SystemConfigOffset,
		SystemStatus:   sys + SystemStatusOffset,
		SystemFeatures: sys + SystemFeatureOffset,
	}
}

// Channel config parameter masks, byte 7 of each frame
const (
	// frame 0
	MaskType = 0x01
	MaskName = 0x02

	// frame 1
	MaskThresholdHigh = 0x01
	MaskThresholdLow  = 0x02
	MaskRetryCount    = 0x04

	// frame 2
	MaskInrushDelay = 0x01
	MaskActiveHigh  = 0x02
	MaskRunOn       = 0x04

	// frame 3
	MaskRunOnTime = 0x01
)

// System config parameter masks, byte 7 of each frame
const (
	// frame 0
	MaskCurrentLimit = 0x01
	MaskSpeedUnit    = 0x02
	MaskDistanceUnit = 0x04
	MaskFeatures     = 0x08

	// frame 1
	MaskMotionDeadTime = 0x01
	MaskIMUWakeWindow  = 0x02
)

// Feature bits shared by system config and the feature broadcast
const (
	FeatureData   = 0x01
	FeatureGPS    = 0x02
	FeatureMotion = 0x04
	FeatureSleep  = 0x08
)

// ControlEnable is the enable bit of the control byte; the low 7 bits carry duty
const ControlEnable = 0x80

const (
	maskByte     = 7
	configLength = 8
)
