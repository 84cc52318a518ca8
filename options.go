package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"pdm-service/store"
)

type LogLevel int

const (
	LogLevelNone  LogLevel = 0
	LogLevelError LogLevel = 1
	LogLevelWarn  LogLevel = 2
	LogLevelInfo  LogLevel = 3
	LogLevelDebug LogLevel = 4
)

type RedisOptions struct {
	Addr string `yaml:"addr"`
	Port uint16 `yaml:"port"`
}

type CANOptions struct {
	Device string `yaml:"device"`
}

type SerialOptions struct {
	// Port is empty when the host configuration link is disabled
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

type EEPROMOptions struct {
	Path     string `yaml:"path"`
	Size     int64  `yaml:"size"`
	PageSize int    `yaml:"page_size"`
}

type LoopOptions struct {
	// OutputTick is the soft-PWM counter period
	OutputTick time.Duration `yaml:"output_tick"`

	// ControlInterval is the main loop step period
	ControlInterval time.Duration `yaml:"control_interval"`
}

type Options struct {
	LogLevel LogLevel      `yaml:"log_level"`
	Redis    RedisOptions  `yaml:"redis"`
	CAN      CANOptions    `yaml:"can"`
	Serial   SerialOptions `yaml:"serial"`
	EEPROM   EEPROMOptions `yaml:"eeprom"`
	Loop     LoopOptions   `yaml:"loop"`

	SaveDelay        time.Duration `yaml:"save_delay"`
	ActiveLowDrivers bool          `yaml:"active_low_drivers"`
}

// DefaultOptions returns the settings used when neither file nor flags override them
func DefaultOptions() *Options {
	return &Options{
		LogLevel: LogLevelInfo,
		Redis: RedisOptions{
			Addr: "127.0.0.1",
			Port: 6379,
		},
		CAN: CANOptions{
			Device: "can0",
		},
		Serial: SerialOptions{
			Baud: 115200,
		},
		EEPROM: EEPROMOptions{
			Path:     "/var/lib/pdm/eeprom.bin",
			Size:     4096,
			PageSize: 32,
		},
		Loop: LoopOptions{
			OutputTick:      100 * time.Microsecond,
			ControlInterval: 10 * time.Millisecond,
		},
		SaveDelay: store.SaveDelay,
	}
}

// LoadOptions reads a YAML file over the defaults
func LoadOptions(path string) (*Options, error) {
	opts := DefaultOptions()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return opts, nil
}

// Validate checks option ranges. It does not mutate the options.
func (o *Options) Validate() error {
	if o.LogLevel < LogLevelNone || o.LogLevel > LogLevelDebug {
		return fmt.Errorf("invalid log level %d", o.LogLevel)
	}
	if o.Redis.Addr == "" {
		return fmt.Errorf("redis address must be set")
	}
	if o.CAN.Device == "" {
		return fmt.Errorf("can device must be set")
	}
	if o.Serial.Port != "" && o.Serial.Baud <= 0 {
		return fmt.Errorf("invalid serial baud rate %d", o.Serial.Baud)
	}
	if o.EEPROM.Path == "" {
		return fmt.Errorf("eeprom path must be set")
	}
	if p := o.EEPROM.PageSize; p <= 0 || p&(p-1) != 0 {
		return fmt.Errorf("eeprom page size %d is not a power of two", p)
	}
	if o.EEPROM.Size < int64(store.LayoutSize) {
		return fmt.Errorf("eeprom size %d is below the region layout size %d", o.EEPROM.Size, store.LayoutSize)
	}
	if o.Loop.OutputTick <= 0 {
		return fmt.Errorf("output tick must be positive")
	}
	if o.Loop.ControlInterval <= 0 {
		return fmt.Errorf("control interval must be positive")
	}
	if o.SaveDelay < 0 {
		return fmt.Errorf("save delay must not be negative")
	}
	return nil
}
