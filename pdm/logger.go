package pdm

// Logger interface for PDM core logging
type Logger interface {
	Printf(format string, v ...interface{})
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
	DebugCAN(direction string, id uint32, data []byte, length uint8)
}

// DebugCANFrame logs a CAN frame payload
func DebugCANFrame(logger Logger, direction string, id uint32, data [8]byte, length uint8) {
	if logger != nil {
		logger.DebugCAN(direction, id, data[:], length)
	}
}

// NopLogger discards everything
type NopLogger struct{}

func (NopLogger) Printf(format string, v ...interface{}) {}
func (NopLogger) Debug(format string, v ...interface{})  {}
func (NopLogger) Info(format string, v ...interface{})   {}
func (NopLogger) Warn(format string, v ...interface{})   {}
func (NopLogger) Error(format string, v ...interface{})  {}

func (NopLogger) DebugCAN(direction string, id uint32, data []byte, length uint8) {}
