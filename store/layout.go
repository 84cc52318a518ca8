package store

import "pdm-service/pdm"

// Region identifies one CRC-guarded configuration block
type Region uint8

const (
	RegionChannel Region = iota
	RegionSystem
	RegionStorage
	RegionAnalogue
	RegionCount
)

func (r Region) String() string {
	switch r {
	case RegionChannel:
		return "channel"
	case RegionSystem:
		return "system"
	case RegionStorage:
		return "storage"
	case RegionAnalogue:
		return "analogue"
	default:
		return "unknown"
	}
}

const (
	CRCSize = 4

	ChannelRecordSize  = 32
	ChannelRegionSize  = pdm.ChannelCount * ChannelRecordSize
	SystemRegionSize   = 32
	LogNameSize        = pdm.LogFileNameLen + 1
	StorageRegionSize  = pdm.LogFileCount*LogNameSize + 6
	AnalogueRecordSize = 24
	AnalogueRegionSize = pdm.AnalogueInputCount * AnalogueRecordSize

	// LayoutSize is the total space taken by all regions and their CRCs
	LayoutSize = ChannelRegionSize + SystemRegionSize + StorageRegionSize + AnalogueRegionSize + int(RegionCount)*CRCSize
)

var regionSizes = [RegionCount]int{
	RegionChannel:  ChannelRegionSize,
	RegionSystem:   SystemRegionSize,
	RegionStorage:  StorageRegionSize,
	RegionAnalogue: AnalogueRegionSize,
}

// Size returns the payload size of a region, excluding its CRC
func (r Region) Size() int {
	if r >= RegionCount {
		return 0
	}
	return regionSizes[r]
}

// Offset returns the base address of a region; each region starts where the previous one's CRC ends
func (r Region) Offset() int64 {
	var off int64
	for prev := Region(0); prev < r && prev < RegionCount; prev++ {
		off += int64(regionSizes[prev] + CRCSize)
	}
	return off
}

// CRCOffset returns the address of the region's stored CRC
func (r Region) CRCOffset() int64 {
	return r.Offset() + int64(r.Size())
}
