package seriallink

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"pdm-service/pdm"
	"pdm-service/store"
)

// RecordSize is the size of one NEWCONFIG record: region, index, param, value (u32 big-endian)
const RecordSize = 7

// Record is one field write inside a NEWCONFIG upload
type Record struct {
	Region store.Region
	Index  uint8
	Param  uint8
	Value  uint32
}

// DecodeRecords splits a NEWCONFIG payload into records
func DecodeRecords(payload []byte) ([]Record, error) {
	if len(payload)%RecordSize != 0 {
		return nil, fmt.Errorf("%w: payload of %d bytes is not a whole number of records", ErrFraming, len(payload))
	}
	records := make([]Record, 0, len(payload)/RecordSize)
	for off := 0; off < len(payload); off += RecordSize {
		b := payload[off : off+RecordSize]
		records = append(records, Record{
			Region: store.Region(b[0]),
			Index:  b[1],
			Param:  b[2],
			Value:  binary.BigEndian.Uint32(b[3:7]),
		})
	}
	return records, nil
}

// EncodeRecord packs one record; used by host tooling and tests
func EncodeRecord(r Record) []byte {
	b := make([]byte, RecordSize)
	b[0] = byte(r.Region)
	b[1] = r.Index
	b[2] = r.Param
	binary.BigEndian.PutUint32(b[3:7], r.Value)
	return b
}

// FloatValue carries a float parameter as its IEEE-754 bits
func FloatValue(v float32) uint32 {
	return math.Float32bits(v)
}

// NameValue packs up to four name characters, first character in the high byte
func NameValue(name string) uint32 {
	var b [4]byte
	copy(b[:], name)
	return binary.BigEndian.Uint32(b[:])
}

func nameFromValue(v uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return strings.TrimRight(string(b[:]), "\x00")
}

func floatOrInt(v uint32, isFloat bool) float64 {
	if isFloat {
		return float64(math.Float32frombits(v))
	}
	return float64(v)
}

// Apply writes the record into st through the tagged update of its region
func (r Record) Apply(st *pdm.State) error {
	switch r.Region {
	case store.RegionChannel:
		field := pdm.ChannelField(r.Param)
		u := pdm.ChannelUpdate{
			Channel: int(r.Index),
			Field:   field,
			Value:   floatOrInt(r.Value, field == pdm.FieldThresholdHigh || field == pdm.FieldThresholdLow),
		}
		if field == pdm.FieldName {
			u.Text = nameFromValue(r.Value)
		}
		return st.ApplyChannelUpdate(u)

	case store.RegionSystem:
		field := pdm.SystemField(r.Param)
		return st.System.Apply(pdm.SystemUpdate{
			Field: field,
			Value: floatOrInt(r.Value, field == pdm.FieldCurrentLimit),
		})

	case store.RegionStorage:
		return st.Storage.Apply(pdm.StorageUpdate{
			Field: pdm.StorageField(r.Param),
			Value: float64(r.Value),
		})

	case store.RegionAnalogue:
		field := pdm.AnalogueField(r.Param)
		isFloat := field >= pdm.FieldOnVoltage && field <= pdm.FieldScaleMax
		return st.ApplyAnalogueUpdate(pdm.AnalogueUpdate{
			Input: int(r.Index),
			Field: field,
			Value: floatOrInt(r.Value, isFloat),
		})
	}
	return fmt.Errorf("unknown region %d", r.Region)
}
