package seriallink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"

	"pdm-service/pdm"
)

// ReadTimeout bounds every port read so the reader notices cancellation
const ReadTimeout = 100 * time.Millisecond

// OpenPort opens the host serial port at 8N1 with bounded reads
func OpenPort(name string, baud int) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	if err := port.SetReadTimeout(ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", name, err)
	}
	return port, nil
}

// ReadLoop copies received chunks to out until ctx is done or the port fails.
// A read that times out returns no data and is retried.
func ReadLoop(ctx context.Context, r io.Reader, out chan<- []byte, logger pdm.Logger) error {
	buf := make([]byte, 256)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case out <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Warn("Serial port closed")
			}
			return fmt.Errorf("serial read failed: %w", err)
		}
	}
}
