package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"

	"pdm-service/pdm"
)

const (
	ipcSystemKey  = "pdm"
	ipcLogStream  = "pdm:log"
	ipcStatusChan = "pdm"
)

func channelKey(idx int) string {
	return fmt.Sprintf("pdm:channel:%d", idx+1)
}

type IPCTx struct {
	log   *LeveledLogger
	redis *redis.Client
	mu    sync.Mutex
	ctx   context.Context
}

func NewIPCTx(logger *LeveledLogger, redis *redis.Client) *IPCTx {
	return &IPCTx{
		log:   logger,
		redis: redis,
		ctx:   context.Background(),
	}
}

func (tx *IPCTx) Destroy() {}

// SendSystemStatus updates the pdm hash read by the display service
func (tx *IPCTx) SendSystemStatus(data RedisSystemStatus) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	pipe := tx.redis.Pipeline()

	pipe.HSet(tx.ctx, ipcSystemKey, map[string]interface{}{
		"voltage":     fmt.Sprintf("%.2f", data.Voltage),
		"current":     fmt.Sprintf("%.2f", data.Current),
		"temperature": fmt.Sprintf("%.1f", data.Temperature),
		"flags":       uint16(data.ErrorFlags),
		"faults":      data.ErrorFlags.String(),
		"alive":       data.AliveCounter,
		"power-state": data.PowerState.String(),
		"logging":     map[bool]string{true: "suspended", false: "active"}[data.LoggingSuspended],
	})
	pipe.Publish(tx.ctx, ipcStatusChan, "status")

	if _, err := pipe.Exec(tx.ctx); err != nil {
		return fmt.Errorf("failed to send system status: %w", err)
	}
	return nil
}

// SendChannels updates one hash per channel in a single round trip
func (tx *IPCTx) SendChannels(channels []RedisChannelStatus) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	pipe := tx.redis.Pipeline()

	for i, ch := range channels {
		pipe.HSet(tx.ctx, channelKey(i), map[string]interface{}{
			"name":     ch.Name,
			"type":     ch.Type.String(),
			"enabled":  onOff(ch.Enabled),
			"override": onOff(ch.Override),
			"duty":     ch.Duty,
			"current":  fmt.Sprintf("%.2f", ch.Current),
			"flags":    uint8(ch.Flags),
			"faults":   ch.Flags.String(),
		})
	}

	if _, err := pipe.Exec(tx.ctx); err != nil {
		return fmt.Errorf("failed to send channel status: %w", err)
	}
	return nil
}

// SendPowerState publishes a power state change immediately
func (tx *IPCTx) SendPowerState(state pdm.PowerState) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	pipe := tx.redis.Pipeline()
	pipe.HSet(tx.ctx, ipcSystemKey, "power-state", state.String())
	pipe.Publish(tx.ctx, ipcStatusChan, "power-state")

	if _, err := pipe.Exec(tx.ctx); err != nil {
		return fmt.Errorf("failed to send power state: %w", err)
	}
	return nil
}

// SendPeripherals tells the display, SD logger and modem services which power mode to be in
func (tx *IPCTx) SendPeripherals(mode string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	pipe := tx.redis.Pipeline()
	pipe.HSet(tx.ctx, ipcSystemKey, "peripherals", mode)
	pipe.Publish(tx.ctx, ipcStatusChan, "peripherals")

	if _, err := pipe.Exec(tx.ctx); err != nil {
		return fmt.Errorf("failed to send peripheral mode: %w", err)
	}
	return nil
}

// SendLogFile announces the file the SD logger should write to
func (tx *IPCTx) SendLogFile(name string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	pipe := tx.redis.Pipeline()
	pipe.HSet(tx.ctx, ipcSystemKey, "log-file", name)
	pipe.Publish(tx.ctx, ipcStatusChan, "log-file")

	if _, err := pipe.Exec(tx.ctx); err != nil {
		return fmt.Errorf("failed to send log file: %w", err)
	}
	return nil
}

// LogRow appends a data-logger line, trimming the stream to maxLines
func (tx *IPCTx) LogRow(row RedisLogRow, maxLines uint32) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	err := tx.redis.XAdd(tx.ctx, &redis.XAddArgs{
		Stream: ipcLogStream,
		MaxLen: int64(maxLines),
		Approx: true,
		Values: row.Values(),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append log row: %w", err)
	}
	return nil
}
