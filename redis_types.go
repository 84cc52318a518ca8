package main

import (
	"fmt"
	"strings"
	"time"

	"pdm-service/pdm"
)

const kmPerMile = 1.609344

// Redis records for the pdm status hashes
type RedisSystemStatus struct {
	Voltage          float32
	Current          float32
	Temperature      float32
	ErrorFlags       pdm.SystemFlags
	AliveCounter     uint8
	PowerState       pdm.PowerState
	LoggingSuspended bool
}

type RedisChannelStatus struct {
	Name     string
	Type     pdm.ChanType
	Enabled  bool
	Override bool
	Duty     uint8
	Current  float32
	Flags    pdm.ErrorFlags
}

// RedisLogRow is one data-logger line
type RedisLogRow struct {
	File        string
	Voltage     float32
	Current     float32
	Temperature float32
	ErrorFlags  pdm.SystemFlags
	Currents    [pdm.ChannelCount]float32

	GPSFix    bool
	Latitude  float64
	Longitude float64
	Speed     float64 // configured speed unit
	GPSTime   time.Time

	Accel MotionSample
}

func systemStatusFrom(st *pdm.State, power pdm.PowerState) RedisSystemStatus {
	rt := &st.Runtime
	return RedisSystemStatus{
		Voltage:          rt.Voltage,
		Current:          rt.Current,
		Temperature:      rt.Temperature,
		ErrorFlags:       rt.ErrorFlags,
		AliveCounter:     rt.AliveCounter,
		PowerState:       power,
		LoggingSuspended: rt.LoggingSuspended,
	}
}

func channelStatusFrom(ch *pdm.Channel) RedisChannelStatus {
	return RedisChannelStatus{
		Name:     ch.Name,
		Type:     ch.Type,
		Enabled:  ch.Enabled,
		Override: ch.Override,
		Duty:     ch.Duty,
		Current:  ch.CurrentValue,
		Flags:    ch.ErrorFlags,
	}
}

func logRowFrom(st *pdm.State, gps GPSFix, imu MotionSample) RedisLogRow {
	row := RedisLogRow{
		File:        st.Storage.CurrentLogFile(),
		Voltage:     st.Runtime.Voltage,
		Current:     st.Runtime.Current,
		Temperature: st.Runtime.Temperature,
		ErrorFlags:  st.Runtime.ErrorFlags,
		Accel:       imu,
	}
	for i := range st.Channels {
		row.Currents[i] = st.Channels[i].CurrentValue
	}
	if gps.Valid {
		row.GPSFix = true
		row.Latitude = gps.Latitude
		row.Longitude = gps.Longitude
		row.Speed = gps.Speed
		if st.System.SpeedUnit == pdm.SpeedMPH {
			row.Speed = gps.Speed / kmPerMile
		}
		row.GPSTime = gps.Time
	}
	return row
}

// Values renders the row as stream fields. Position fields are empty without a fix.
func (r RedisLogRow) Values() map[string]interface{} {
	v := map[string]interface{}{
		"file":        r.File,
		"voltage":     fmt.Sprintf("%.2f", r.Voltage),
		"current":     fmt.Sprintf("%.2f", r.Current),
		"temperature": fmt.Sprintf("%.1f", r.Temperature),
		"flags":       uint16(r.ErrorFlags),
		"currents":    r.CurrentsCSV(),
		"gps-fix":     onOff(r.GPSFix),
		"latitude":    "",
		"longitude":   "",
		"speed":       "",
		"gps-time":    "",
		"accel":       fmt.Sprintf("%.3f,%.3f,%.3f", r.Accel.X, r.Accel.Y, r.Accel.Z),
	}
	if r.GPSFix {
		v["latitude"] = fmt.Sprintf("%.6f", r.Latitude)
		v["longitude"] = fmt.Sprintf("%.6f", r.Longitude)
		v["speed"] = fmt.Sprintf("%.1f", r.Speed)
		if !r.GPSTime.IsZero() {
			v["gps-time"] = r.GPSTime.UTC().Format(time.RFC3339)
		}
	}
	return v
}

// CurrentsCSV renders the channel currents in channel order
func (r RedisLogRow) CurrentsCSV() string {
	parts := make([]string, len(r.Currents))
	for i, c := range r.Currents {
		parts[i] = fmt.Sprintf("%.2f", c)
	}
	return strings.Join(parts, ",")
}

func onOff(b bool) string {
	return map[bool]string{true: "on", false: "off"}[b]
}
