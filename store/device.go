package store

import (
	"bytes"
	"errors"
	"fmt"
	"os"
)

var (
	ErrOutOfRange = errors.New("access outside device")
	ErrPageCross  = errors.New("write crosses page boundary")
	ErrShortRead  = errors.New("short read")
)

// Device is a page-oriented non-volatile memory. A single WriteAt must
// stay inside one page; callers split larger writes.
type Device interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	PageSize() int
	Size() int64
}

func checkWrite(dev Device, n int, off int64) error {
	if off < 0 || off+int64(n) > dev.Size() {
		return fmt.Errorf("%w: %d+%d > %d", ErrOutOfRange, off, n, dev.Size())
	}
	page := int64(dev.PageSize())
	if n > 0 && off/page != (off+int64(n)-1)/page {
		return fmt.Errorf("%w: %d+%d (page %d)", ErrPageCross, off, n, page)
	}
	return nil
}

// writeChunked writes data starting at off, clipping every write to the remaining space in its page
func writeChunked(dev Device, off int64, data []byte) error {
	page := int64(dev.PageSize())
	for len(data) > 0 {
		room := page - off%page
		n := int64(len(data))
		if n > room {
			n = room
		}
		if _, err := dev.WriteAt(data[:n], off); err != nil {
			return fmt.Errorf("write at %d: %w", off, err)
		}
		off += n
		data = data[n:]
	}
	return nil
}

func readFull(dev Device, off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := dev.ReadAt(buf, off)
	if err != nil {
		return nil, fmt.Errorf("read at %d: %w", off, err)
	}
	if got != n {
		return nil, fmt.Errorf("%w: %d of %d bytes at %d", ErrShortRead, got, n, off)
	}
	return buf, nil
}

// MemDevice is an in-memory EEPROM image. Erased bytes read 0xFF.
type MemDevice struct {
	buf      []byte
	pageSize int
	writes   int
}

func NewMemDevice(size int, pageSize int) *MemDevice {
	return &MemDevice{
		buf:      bytes.Repeat([]byte{0xFF}, size),
		pageSize: pageSize,
	}
}

func (m *MemDevice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(m.buf)) {
		return 0, ErrOutOfRange
	}
	return copy(p, m.buf[off:]), nil
}

func (m *MemDevice) WriteAt(p []byte, off int64) (int, error) {
	if err := checkWrite(m, len(p), off); err != nil {
		return 0, err
	}
	m.writes++
	return copy(m.buf[off:], p), nil
}

func (m *MemDevice) PageSize() int { return m.pageSize }
func (m *MemDevice) Size() int64   { return int64(len(m.buf)) }

// Writes returns the number of page writes performed
func (m *MemDevice) Writes() int { return m.writes }

// Bytes exposes the raw image
func (m *MemDevice) Bytes() []byte { return m.buf }

// FileDevice keeps the EEPROM image in a file, synced after every page write
type FileDevice struct {
	f        *os.File
	size     int64
	pageSize int
}

// OpenFileDevice opens or creates an image of the given size, erased to 0xFF
func OpenFileDevice(path string, size int64, pageSize int) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open eeprom image: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat eeprom image: %w", err)
	}

	if info.Size() < size {
		pad := bytes.Repeat([]byte{0xFF}, int(size-info.Size()))
		if _, err := f.WriteAt(pad, info.Size()); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to extend eeprom image: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to sync eeprom image: %w", err)
		}
	}

	return &FileDevice{f: f, size: size, pageSize: pageSize}, nil
}

func (d *FileDevice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > d.size {
		return 0, ErrOutOfRange
	}
	return d.f.ReadAt(p, off)
}

func (d *FileDevice) WriteAt(p []byte, off int64) (int, error) {
	if err := checkWrite(d, len(p), off); err != nil {
		return 0, err
	}
	n, err := d.f.WriteAt(p, off)
	if err != nil {
		return n, err
	}
	return n, d.f.Sync()
}

func (d *FileDevice) PageSize() int { return d.pageSize }
func (d *FileDevice) Size() int64   { return d.size }

func (d *FileDevice) Close() error {
	return d.f.Close()
}
