package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"

	"pdm-service/pdm"
)

const (
	ioOutputsKey  = "pdm:outputs"
	ioOutputsChan = "pdm:outputs"
)

// io hash fields read by the bridge. Per-pin fields carry the pin number
// as suffix: in<pin>, ain<input 1..8>, sense<pin>.
const (
	ioFieldIgnition    = "ignition"
	ioFieldSupply      = "supply-voltage"
	ioFieldTemperature = "temperature"
	ioPrefixDigital    = "in"
	ioPrefixAnalogue   = "ain"
	ioPrefixSense      = "sense"
)

// RedisHAL serves the control loop from an in-memory snapshot of the io
// hash and forwards output and pull changes to the io service. Reads never
// touch Redis; Refresh and FlushOutputs do.
type RedisHAL struct {
	*pdm.SimHAL

	log   *LeveledLogger
	redis *redis.Client
	ctx   context.Context

	mu      sync.Mutex
	pending map[string]interface{}
}

func NewRedisHAL(ctx context.Context, logger *LeveledLogger, redis *redis.Client) *RedisHAL {
	return &RedisHAL{
		SimHAL:  pdm.NewSimHAL(),
		log:     logger,
		redis:   redis,
		ctx:     ctx,
		pending: make(map[string]interface{}),
	}
}

// WriteOutput latches the level and queues it for the io service
func (h *RedisHAL) WriteOutput(pin uint8, high bool) {
	h.SimHAL.WriteOutput(pin, high)

	h.mu.Lock()
	h.pending[fmt.Sprintf("out%d", pin)] = onOff(high)
	h.mu.Unlock()
}

// ConfigureInput records the pulls and queues them for the io service
func (h *RedisHAL) ConfigureInput(pin uint8, pullUp, pullDown bool) {
	h.SimHAL.ConfigureInput(pin, pullUp, pullDown)

	pull := "none"
	switch {
	case pullUp:
		pull = "up"
	case pullDown:
		pull = "down"
	}
	h.mu.Lock()
	h.pending[fmt.Sprintf("pull%d", pin)] = pull
	h.mu.Unlock()
}

// Refresh reloads the input snapshot from the io hash
func (h *RedisHAL) Refresh() error {
	fields, err := h.redis.HGetAll(h.ctx, ipcIOChannel).Result()
	if err != nil {
		return fmt.Errorf("failed to read io state: %w", err)
	}
	if n := applyIOFields(h.SimHAL, fields); n > 0 {
		h.log.Debug("io snapshot refreshed (%d fields)", n)
	}
	return nil
}

// takePending returns the queued output fields and clears the queue
func (h *RedisHAL) takePending() map[string]interface{} {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.pending) == 0 {
		return nil
	}
	out := h.pending
	h.pending = make(map[string]interface{})
	return out
}

// FlushOutputs publishes the output levels changed since the last flush
func (h *RedisHAL) FlushOutputs(ctx context.Context) error {
	fields := h.takePending()
	if fields == nil {
		return nil
	}

	pipe := h.redis.Pipeline()
	pipe.HSet(ctx, ioOutputsKey, fields)
	pipe.Publish(ctx, ioOutputsChan, "outputs")
	if _, err := pipe.Exec(ctx); err != nil {
		// Requeue without overwriting newer writes
		h.mu.Lock()
		for k, v := range fields {
			if _, ok := h.pending[k]; !ok {
				h.pending[k] = v
			}
		}
		h.mu.Unlock()
		return fmt.Errorf("failed to publish outputs: %w", err)
	}
	return nil
}

// applyIOFields copies recognised io hash fields into the snapshot and
// returns how many were applied. Malformed values are skipped.
func applyIOFields(sim *pdm.SimHAL, fields map[string]string) int {
	applied := 0
	for key, value := range fields {
		switch {
		case key == ioFieldIgnition:
			sim.SetIgnition(value == "on")
		case key == ioFieldSupply:
			v, err := strconv.ParseFloat(value, 32)
			if err != nil {
				continue
			}
			sim.SetSupplyVoltage(float32(v))
		case key == ioFieldTemperature:
			v, err := strconv.ParseFloat(value, 32)
			if err != nil {
				continue
			}
			sim.SetTemperature(float32(v))
		case strings.HasPrefix(key, ioPrefixAnalogue):
			idx, err := strconv.Atoi(key[len(ioPrefixAnalogue):])
			if err != nil || idx < 1 || idx > pdm.AnalogueInputCount {
				continue
			}
			v, err := strconv.ParseFloat(value, 32)
			if err != nil {
				continue
			}
			sim.SetAnalogue(idx-1, float32(v))
		case strings.HasPrefix(key, ioPrefixSense):
			pin, err := strconv.ParseUint(key[len(ioPrefixSense):], 10, 8)
			if err != nil {
				continue
			}
			raw, err := strconv.ParseUint(value, 10, 16)
			if err != nil {
				continue
			}
			sim.SetCurrentSense(uint8(pin), uint16(raw))
		case strings.HasPrefix(key, ioPrefixDigital):
			pin, err := strconv.ParseUint(key[len(ioPrefixDigital):], 10, 8)
			if err != nil {
				continue
			}
			sim.SetDigital(uint8(pin), value == "on" || value == "1")
		default:
			continue
		}
		applied++
	}
	return applied
}
