package pdm

import "time"

const (
	OverTempLimit       = 85.0 // °C
	UnderVoltageLimit   = 10.5 // V
	UnderVoltageRecover = 11.5 // V
)

// Monitor aggregates system current, voltage and temperature into SystemRuntime
type Monitor struct {
	state  *State
	hal    HAL
	logger Logger
}

func NewMonitor(state *State, hal HAL, logger Logger) *Monitor {
	return &Monitor{
		state:  state,
		hal:    hal,
		logger: logger,
	}
}

// Update recomputes the runtime aggregate and the threshold-driven error bits
func (m *Monitor) Update(now time.Time) {
	rt := &m.state.Runtime

	var total float32
	for i := range m.state.Channels {
		if m.state.Channels[i].Enabled {
			total += m.state.Channels[i].CurrentValue
		}
	}
	// TODO: enforce per-group budgets for MultiChannel channels sharing a GroupNumber
	rt.Current = total
	rt.Voltage = m.hal.ReadSupplyVoltage()
	rt.Temperature = m.hal.ReadTemperature()

	before := rt.ErrorFlags
	rt.SetFlag(SysOverCurrent, rt.Current > m.state.System.CurrentLimit)
	rt.SetFlag(SysOverTemp, rt.Temperature > OverTempLimit)
	rt.SetFlag(SysUnderVoltage, rt.Voltage < UnderVoltageLimit)

	if rt.Voltage < UnderVoltageLimit && !rt.LoggingSuspended {
		rt.LoggingSuspended = true
		m.logger.Warn("Supply %.1fV below %.1fV, logging suspended", rt.Voltage, UnderVoltageLimit)
	} else if rt.LoggingSuspended && rt.Voltage >= UnderVoltageRecover {
		rt.LoggingSuspended = false
		m.logger.Info("Supply recovered to %.1fV, logging resumed", rt.Voltage)
	}

	if before != rt.ErrorFlags {
		m.logger.Info("System error flags changed: %s -> %s", before, rt.ErrorFlags)
	}
}

// SetFlag reports an externally detected condition (CRC, SD, GPS, comms)
func (m *Monitor) SetFlag(flag SystemFlags, on bool) {
	m.state.Runtime.SetFlag(flag, on)
}
