package main

import (
	"testing"

	"pdm-service/pdm"
)

type faultEvent struct {
	code    DiagFault
	present bool
}

func newTestDiag() (*Diag, *[]faultEvent) {
	var events []faultEvent
	d := NewDiag(testLogger(), nil)
	d.reportFault = func(code DiagFault, config pdm.FaultConfig, present bool) {
		events = append(events, faultEvent{code, present})
	}
	return d, &events
}

func TestFaultCodes(t *testing.T) {
	tests := []struct {
		name string
		got  DiagFault
		want DiagFault
	}{
		{"system over-current", systemFaultCode(pdm.SysOverCurrent), 1},
		{"system crc", systemFaultCode(pdm.SysCRCFail), 4},
		{"system comms", systemFaultCode(pdm.SysCommsChecksum), 7},
		{"channel 1 fault", channelFaultCode(0, pdm.FlagFault), 101},
		{"channel 3 over-current", channelFaultCode(2, pdm.FlagOverCurrent), 122},
		{"channel 14 over-limit", channelFaultCode(13, pdm.FlagOverLimit), 235},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: code %d, want %d", tt.name, tt.got, tt.want)
		}
	}
}

func TestDiag_SystemFlagsReportOnlyChanges(t *testing.T) {
	d, events := newTestDiag()

	d.SetSystemFlags(pdm.SysUnderVoltage | pdm.SysGPSFail)
	d.SetSystemFlags(pdm.SysUnderVoltage | pdm.SysGPSFail)
	d.SetSystemFlags(pdm.SysUnderVoltage)

	want := []faultEvent{
		{systemFaultCode(pdm.SysUnderVoltage), true},
		{systemFaultCode(pdm.SysGPSFail), true},
		{systemFaultCode(pdm.SysGPSFail), false},
	}
	if len(*events) != len(want) {
		t.Fatalf("events = %+v, want %+v", *events, want)
	}
	for i := range want {
		if (*events)[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, (*events)[i], want[i])
		}
	}
}

func TestDiag_ChannelFlags(t *testing.T) {
	d, events := newTestDiag()

	d.SetChannelFlags(4, pdm.FlagOverCurrent)
	d.SetChannelFlags(5, 0)
	d.SetChannelFlags(4, 0)
	d.SetChannelFlags(pdm.ChannelCount, pdm.FlagFault)

	want := []faultEvent{
		{channelFaultCode(4, pdm.FlagOverCurrent), true},
		{channelFaultCode(4, pdm.FlagOverCurrent), false},
	}
	if len(*events) != len(want) {
		t.Fatalf("events = %+v, want %+v", *events, want)
	}
	for i := range want {
		if (*events)[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, (*events)[i], want[i])
		}
	}
}
