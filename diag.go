package main

import (
	"context"
	"math/bits"
	"sync"

	"github.com/go-redis/redis/v8"

	"pdm-service/pdm"
)

const (
	diagGroupName           = "pdm"
	diagFaultSetKey         = "pdm:fault"
	diagEventStream         = "events:faults"
	diagEventStreamMaxLen   = 1000
	diagNotificationChannel = "pdm"

	// Channel fault codes are 100 + 10*channel + bit, channels counted from 0
	diagChannelCodeBase = 100
)

// DiagFault is the numeric code reported for one fault bit
type DiagFault uint32

func systemFaultCode(flag pdm.SystemFlags) DiagFault {
	return DiagFault(bits.TrailingZeros16(uint16(flag)) + 1)
}

func channelFaultCode(ch int, flag pdm.ErrorFlags) DiagFault {
	return DiagFault(diagChannelCodeBase + 10*ch + bits.TrailingZeros8(uint8(flag)) + 1)
}

type Diag struct {
	log         *LeveledLogger
	redis       *redis.Client
	mu          sync.RWMutex
	system      pdm.SystemFlags
	channels    [pdm.ChannelCount]pdm.ErrorFlags
	ctx         context.Context
	reportFault func(code DiagFault, config pdm.FaultConfig, present bool)
}

func NewDiag(logger *LeveledLogger, redis *redis.Client) *Diag {
	d := &Diag{
		log:   logger,
		redis: redis,
		ctx:   context.Background(),
	}
	d.reportFault = d.report
	return d
}

func (d *Diag) Destroy() {}

// SetSystemFlags reports every system flag bit that changed since the last call
func (d *Diag) SetSystemFlags(flags pdm.SystemFlags) {
	d.mu.Lock()
	defer d.mu.Unlock()

	changed := d.system ^ flags
	d.system = flags

	for bit := pdm.SysOverCurrent; bit <= pdm.SysCommsChecksum; bit <<= 1 {
		if changed&bit == 0 {
			continue
		}
		config, ok := pdm.GetSystemFaultConfig(bit)
		if !ok {
			continue
		}
		d.setPresence(systemFaultCode(bit), config, flags&bit != 0)
	}
}

// SetChannelFlags reports every fault bit of one channel that changed since the last call
func (d *Diag) SetChannelFlags(ch int, flags pdm.ErrorFlags) {
	if ch < 0 || ch >= pdm.ChannelCount {
		d.log.Printf("Unknown channel index: %d", ch)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	changed := d.channels[ch] ^ flags
	d.channels[ch] = flags

	for bit := pdm.FlagFault; bit <= pdm.FlagOverLimit; bit <<= 1 {
		if changed&bit == 0 {
			continue
		}
		config, ok := pdm.GetChannelFaultConfig(bit)
		if !ok {
			continue
		}
		d.setPresence(channelFaultCode(ch, bit), config, flags&bit != 0)
	}
}

func (d *Diag) setPresence(code DiagFault, config pdm.FaultConfig, present bool) {
	if present {
		d.log.Printf("Fault set: code=%d, description=%s", code, config.Description)
	} else {
		d.log.Printf("Fault cleared: code=%d, description=%s", code, config.Description)
	}
	d.reportFault(code, config, present)
}

func (d *Diag) report(code DiagFault, config pdm.FaultConfig, present bool) {
	if present {
		d.reportFaultPresent(code, config)
	} else {
		d.reportFaultAbsent(code)
	}
}

func (d *Diag) reportFaultPresent(code DiagFault, config pdm.FaultConfig) {
	pipe := d.redis.Pipeline()

	pipe.SAdd(d.ctx, diagFaultSetKey, uint32(code))

	pipe.XAdd(d.ctx, &redis.XAddArgs{
		Stream: diagEventStream,
		MaxLen: diagEventStreamMaxLen,
		Values: map[string]interface{}{
			"group":       diagGroupName,
			"code":        uint32(code),
			"description": config.Description,
			"critical":    config.Severity == pdm.SeverityCritical,
		},
	})

	pipe.Publish(d.ctx, diagNotificationChannel, "fault")

	if _, err := pipe.Exec(d.ctx); err != nil {
		d.log.Printf("Failed to report fault present: %v", err)
	}
}

func (d *Diag) reportFaultAbsent(code DiagFault) {
	pipe := d.redis.Pipeline()

	pipe.SRem(d.ctx, diagFaultSetKey, uint32(code))

	pipe.XAdd(d.ctx, &redis.XAddArgs{
		Stream: diagEventStream,
		MaxLen: diagEventStreamMaxLen,
		Values: map[string]interface{}{
			"group": diagGroupName,
			"code":  -int32(code),
		},
	})

	pipe.Publish(d.ctx, diagNotificationChannel, "fault")

	if _, err := pipe.Exec(d.ctx); err != nil {
		d.log.Printf("Failed to report fault absent: %v", err)
	}
}
