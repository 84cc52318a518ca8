package seriallink

import (
	"encoding/binary"
	"errors"
	"time"
)

// Host command bytes
const (
	CmdBegin       = 0x42 // 'B'
	CmdConfirm     = 0x43 // 'C'
	CmdRequest     = 0x52 // 'R'
	CmdNewConfig   = 0x4E // 'N'
	CmdSaveChanges = 0x53 // 'S'
	CmdFWVersion   = 0x56 // 'V'
	CmdBuildDate   = 0x44 // 'D'
	CmdOverride    = 0x4F // 'O'
)

// Single-byte replies
const (
	Ack = 0x06
	Nak = 0x15
)

const (
	FrameHeader  = 0xA55A
	FrameTrailer = 0x5AA5

	headerSize   = 2
	lengthSize   = 2
	checksumSize = 4
	trailerSize  = 2

	// FrameOverhead is the framing cost around a payload
	FrameOverhead = headerSize + lengthSize + checksumSize + trailerSize

	// MaxPayload bounds the declared frame length
	MaxPayload = 2048
)

const (
	// FrameTimeout discards a partially received frame
	FrameTimeout = 500 * time.Millisecond

	// SessionTimeout drops the host session and its overrides
	SessionTimeout = 5 * time.Second
)

var (
	ErrChecksum = errors.New("frame checksum mismatch")
	ErrFraming  = errors.New("frame marker or length invalid")
	ErrTimeout  = errors.New("partial frame timed out")
)

// Checksum is the 32-bit additive sum of every payload byte
func Checksum(payload []byte) uint32 {
	var sum uint32
	for _, b := range payload {
		sum += uint32(b)
	}
	return sum
}

// EncodeFrame wraps payload as header, length, payload, checksum, trailer (big-endian)
func EncodeFrame(payload []byte) []byte {
	buf := make([]byte, 0, len(payload)+FrameOverhead)
	buf = binary.BigEndian.AppendUint16(buf, FrameHeader)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, payload...)
	buf = binary.BigEndian.AppendUint32(buf, Checksum(payload))
	buf = binary.BigEndian.AppendUint16(buf, FrameTrailer)
	return buf
}
