package seriallink

import (
	"encoding/binary"
	"fmt"
	"time"
)

type parseState uint8

const (
	stateHeader parseState = iota
	stateLength
	statePayload
	stateChecksum
	stateTrailer
)

// Parser reassembles one frame from a byte stream
type Parser struct {
	state    parseState
	field    []byte
	length   int
	payload  []byte
	checksum uint32
	started  time.Time
}

// Active reports whether a frame is partially received
func (p *Parser) Active() bool {
	return p.state != stateHeader || len(p.field) > 0
}

// Expired reports whether the partial frame is older than FrameTimeout
func (p *Parser) Expired(now time.Time) bool {
	return p.Active() && now.Sub(p.started) > FrameTimeout
}

// Reset drops any partial frame
func (p *Parser) Reset() {
	p.state = stateHeader
	p.field = p.field[:0]
	p.length = 0
	p.payload = nil
	p.checksum = 0
}

// Feed consumes one byte and returns the payload once a complete frame has
// been validated. Any error resets the parser.
func (p *Parser) Feed(b byte, now time.Time) ([]byte, bool, error) {
	if !p.Active() {
		p.started = now
	}

	if p.state == statePayload {
		p.payload = append(p.payload, b)
		if len(p.payload) == p.length {
			p.state = stateChecksum
		}
		return nil, false, nil
	}

	p.field = append(p.field, b)

	switch p.state {
	case stateHeader:
		if len(p.field) == 1 && b != byte(FrameHeader>>8) {
			return p.fail(fmt.Errorf("%w: unexpected byte 0x%02X", ErrFraming, b))
		}
		if len(p.field) < headerSize {
			return nil, false, nil
		}
		if binary.BigEndian.Uint16(p.field) != FrameHeader {
			return p.fail(fmt.Errorf("%w: bad header 0x%04X", ErrFraming, binary.BigEndian.Uint16(p.field)))
		}
		p.next(stateLength)

	case stateLength:
		if len(p.field) < lengthSize {
			return nil, false, nil
		}
		p.length = int(binary.BigEndian.Uint16(p.field))
		if p.length > MaxPayload {
			return p.fail(fmt.Errorf("%w: length %d exceeds %d", ErrFraming, p.length, MaxPayload))
		}
		p.payload = make([]byte, 0, p.length)
		if p.length == 0 {
			p.next(stateChecksum)
		} else {
			p.next(statePayload)
		}

	case stateChecksum:
		if len(p.field) < checksumSize {
			return nil, false, nil
		}
		p.checksum = binary.BigEndian.Uint32(p.field)
		p.next(stateTrailer)

	case stateTrailer:
		if len(p.field) < trailerSize {
			return nil, false, nil
		}
		if binary.BigEndian.Uint16(p.field) != FrameTrailer {
			return p.fail(fmt.Errorf("%w: bad trailer 0x%04X", ErrFraming, binary.BigEndian.Uint16(p.field)))
		}
		if calc := Checksum(p.payload); calc != p.checksum {
			return p.fail(fmt.Errorf("%w: received 0x%08X, calculated 0x%08X", ErrChecksum, p.checksum, calc))
		}
		payload := p.payload
		p.Reset()
		return payload, true, nil
	}

	return nil, false, nil
}

func (p *Parser) next(s parseState) {
	p.state = s
	p.field = p.field[:0]
}

func (p *Parser) fail(err error) ([]byte, bool, error) {
	p.Reset()
	return nil, false, err
}
