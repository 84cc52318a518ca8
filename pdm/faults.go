package pdm

import "strings"

// ErrorFlags is the per-channel fault bitmask
type ErrorFlags uint8

const (
	FlagFault        ErrorFlags = 1 << iota // IS pin fault level: short, open load or driver overtemp
	FlagOverCurrent                         // above CurrentThresholdHigh
	FlagUnderCurrent                        // below CurrentThresholdLow
	FlagRetryLockout                        // reserved, no retry state machine
	FlagOverLimit                           // above CurrentMax
)

// SystemFlags is the system-wide sticky error bitmask
type SystemFlags uint16

const (
	SysOverCurrent SystemFlags = 1 << iota
	SysOverTemp
	SysUnderVoltage
	SysCRCFail
	SysSDFail
	SysGPSFail
	SysCommsChecksum
)

type FaultSeverity int

const (
	SeverityWarning FaultSeverity = iota
	SeverityCritical
)

type FaultConfig struct {
	Description string
	Severity    FaultSeverity
}

var channelFaultConfigs = map[ErrorFlags]FaultConfig{
	FlagFault:        {"Driver fault", SeverityCritical},
	FlagOverCurrent:  {"Over-current", SeverityCritical},
	FlagUnderCurrent: {"Under-current", SeverityWarning},
	FlagRetryLockout: {"Retry lockout", SeverityCritical},
	FlagOverLimit:    {"Current above hardware limit", SeverityCritical},
}

var systemFaultConfigs = map[SystemFlags]FaultConfig{
	SysOverCurrent:   {"System over-current", SeverityCritical},
	SysOverTemp:      {"Over-temperature", SeverityCritical},
	SysUnderVoltage:  {"Supply under-voltage", SeverityWarning},
	SysCRCFail:       {"Configuration CRC failure", SeverityWarning},
	SysSDFail:        {"SD card failure", SeverityWarning},
	SysGPSFail:       {"GPS failure", SeverityWarning},
	SysCommsChecksum: {"Comms checksum failure", SeverityWarning},
}

// GetChannelFaultConfig returns the description of a single channel flag bit
func GetChannelFaultConfig(flag ErrorFlags) (FaultConfig, bool) {
	config, ok := channelFaultConfigs[flag]
	return config, ok
}

// GetSystemFaultConfig returns the description of a single system flag bit
func GetSystemFaultConfig(flag SystemFlags) (FaultConfig, bool) {
	config, ok := systemFaultConfigs[flag]
	return config, ok
}

func (f ErrorFlags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for bit := FlagFault; bit <= FlagOverLimit; bit <<= 1 {
		if f&bit != 0 {
			parts = append(parts, channelFaultConfigs[bit].Description)
		}
	}
	return strings.Join(parts, ",")
}

func (f SystemFlags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for bit := SysOverCurrent; bit <= SysCommsChecksum; bit <<= 1 {
		if f&bit != 0 {
			parts = append(parts, systemFaultConfigs[bit].Description)
		}
	}
	return strings.Join(parts, ",")
}
