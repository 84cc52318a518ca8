package seriallink

import (
	"encoding/binary"
	"math"

	"pdm-service/pdm"
	"pdm-service/store"
)

const (
	runtimeHeaderSize  = 16
	runtimeChannelSize = 8

	// RuntimeBlockSize is the live status appended to a REQUEST dump
	RuntimeBlockSize = runtimeHeaderSize + pdm.ChannelCount*runtimeChannelSize

	// DumpSize is the payload size of a REQUEST reply
	DumpSize = store.ChannelRegionSize + store.SystemRegionSize + store.StorageRegionSize + store.AnalogueRegionSize + RuntimeBlockSize
)

// Dump builds the REQUEST payload: the four region encodings in store order
// followed by a little-endian runtime block.
//
//	0..11  voltage, current, temperature (float32)
//	12, 13 system error flags
//	14     alive counter
//	15     logging suspended
//	then per channel: current (float32), error flags, enabled, override, duty
func Dump(st *pdm.State) []byte {
	buf := make([]byte, 0, DumpSize)
	for r := store.Region(0); r < store.RegionCount; r++ {
		buf = append(buf, store.Encode(r, st)...)
	}

	rt := &st.Runtime
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(rt.Voltage))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(rt.Current))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(rt.Temperature))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(rt.ErrorFlags))
	buf = append(buf, rt.AliveCounter, boolByte(rt.LoggingSuspended))

	for i := range st.Channels {
		ch := &st.Channels[i]
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(ch.CurrentValue))
		buf = append(buf, byte(ch.ErrorFlags), boolByte(ch.Enabled), boolByte(ch.Override), ch.Duty)
	}
	return buf
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
