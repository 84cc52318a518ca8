package store

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"pdm-service/pdm"
)

// Store reads and writes the four CRC-guarded configuration regions.
// Writes are not verified by read-back.
type Store struct {
	dev    Device
	logger pdm.Logger
}

func New(dev Device, logger pdm.Logger) (*Store, error) {
	if dev.Size() < int64(LayoutSize) {
		return nil, fmt.Errorf("%w: device has %d bytes, layout needs %d", ErrOutOfRange, dev.Size(), LayoutSize)
	}
	if dev.PageSize() <= 0 {
		return nil, fmt.Errorf("invalid page size %d", dev.PageSize())
	}
	return &Store{dev: dev, logger: logger}, nil
}

// Checksum is the CRC32 (IEEE) of a region payload
func Checksum(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload)
}

// Save writes a region payload followed by its CRC
func (s *Store) Save(r Region, st *pdm.State) error {
	if r >= RegionCount {
		return fmt.Errorf("unknown region %d", r)
	}
	payload := Encode(r, st)

	var crc [CRCSize]byte
	binary.LittleEndian.PutUint32(crc[:], Checksum(payload))

	if err := writeChunked(s.dev, r.Offset(), payload); err != nil {
		return fmt.Errorf("failed to save %s region: %w", r, err)
	}
	if err := writeChunked(s.dev, r.CRCOffset(), crc[:]); err != nil {
		return fmt.Errorf("failed to save %s crc: %w", r, err)
	}

	s.logger.Debug("Saved %s region (%d bytes at 0x%04X)", r, len(payload), r.Offset())
	return nil
}

// Read returns a region's stored payload and CRC without checking them
func (s *Store) Read(r Region) ([]byte, uint32, error) {
	if r >= RegionCount {
		return nil, 0, fmt.Errorf("unknown region %d", r)
	}
	payload, err := readFull(s.dev, r.Offset(), r.Size())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load %s region: %w", r, err)
	}
	crc, err := readFull(s.dev, r.CRCOffset(), CRCSize)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load %s crc: %w", r, err)
	}
	return payload, binary.LittleEndian.Uint32(crc), nil
}

// Load copies a region into st only if its CRC matches. A mismatch
// returns false and leaves st untouched.
func (s *Store) Load(r Region, st *pdm.State) (bool, error) {
	payload, stored, err := s.Read(r)
	if err != nil {
		return false, err
	}
	if calc := Checksum(payload); calc != stored {
		s.logger.Warn("CRC mismatch in %s region: stored 0x%08X, calculated 0x%08X", r, stored, calc)
		return false, nil
	}
	apply(r, st, payload)
	return true, nil
}

func (s *Store) SaveChannelConfig(st *pdm.State) error  { return s.Save(RegionChannel, st) }
func (s *Store) SaveSystemConfig(st *pdm.State) error   { return s.Save(RegionSystem, st) }
func (s *Store) SaveStorageConfig(st *pdm.State) error  { return s.Save(RegionStorage, st) }
func (s *Store) SaveAnalogueConfig(st *pdm.State) error { return s.Save(RegionAnalogue, st) }

func (s *Store) LoadChannelConfig(st *pdm.State) (bool, error)  { return s.Load(RegionChannel, st) }
func (s *Store) LoadSystemConfig(st *pdm.State) (bool, error)   { return s.Load(RegionSystem, st) }
func (s *Store) LoadStorageConfig(st *pdm.State) (bool, error)  { return s.Load(RegionStorage, st) }
func (s *Store) LoadAnalogueConfig(st *pdm.State) (bool, error) { return s.Load(RegionAnalogue, st) }

// SaveAll writes every region
func (s *Store) SaveAll(st *pdm.State) error {
	for r := Region(0); r < RegionCount; r++ {
		if err := s.Save(r, st); err != nil {
			return err
		}
	}
	return nil
}

// LoadAll loads every region. Regions failing their CRC are reset to
// defaults and re-saved; they are returned in the invalid list.
func (s *Store) LoadAll(st *pdm.State) ([]Region, error) {
	var invalid []Region
	for r := Region(0); r < RegionCount; r++ {
		ok, err := s.Load(r, st)
		if err != nil {
			return invalid, err
		}
		if ok {
			continue
		}

		invalid = append(invalid, r)
		s.logger.Warn("Restoring %s region defaults", r)
		reset(r, st)
		if err := s.Save(r, st); err != nil {
			return invalid, err
		}
	}
	return invalid, nil
}

// Verify reports whether every stored region matches the live state
func (s *Store) Verify(st *pdm.State) (bool, error) {
	for r := Region(0); r < RegionCount; r++ {
		payload, stored, err := s.Read(r)
		if err != nil {
			return false, err
		}
		if Checksum(payload) != stored || Checksum(Encode(r, st)) != stored {
			return false, nil
		}
	}
	return true, nil
}
