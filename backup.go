package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	backupKey              = "pdm:backup"
	backupFieldIgnitionOff = "ignition-off"
)

// RedisBackup stands in for the RTC backup registers. Redis persistence keeps
// the value across a service restart the way VBAT keeps it across a halt.
type RedisBackup struct {
	redis *redis.Client
	ctx   context.Context
}

func NewRedisBackup(ctx context.Context, redis *redis.Client) *RedisBackup {
	return &RedisBackup{redis: redis, ctx: ctx}
}

func (b *RedisBackup) StoreIgnitionOff(t time.Time) error {
	if err := b.redis.HSet(b.ctx, backupKey, backupFieldIgnitionOff, t.Unix()).Err(); err != nil {
		return fmt.Errorf("failed to store ignition-off time: %w", err)
	}
	return nil
}

// IgnitionOff returns the stored time, or the zero time if none was ever stored
func (b *RedisBackup) IgnitionOff() (time.Time, error) {
	v, err := b.redis.HGet(b.ctx, backupKey, backupFieldIgnitionOff).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read ignition-off time: %w", err)
	}
	return parseUnix(v)
}

func parseUnix(v string) (time.Time, error) {
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ignition-off time %q: %w", v, err)
	}
	return time.Unix(secs, 0), nil
}
