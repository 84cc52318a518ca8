package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pdm-service/pdm"
	"pdm-service/store"
)

const (
	ProjectName    = "pdm-service"
	ProjectVersion = "1.0.0"
)

// BuildDate is set at link time: -ldflags "-X main.BuildDate=..."
var BuildDate = "unknown"

func versionString() string {
	return fmt.Sprintf("%s v%s (built %s)", ProjectName, ProjectVersion, BuildDate)
}

func newRootCmd() *cobra.Command {
	var configPath string
	flagOpts := DefaultOptions()

	root := &cobra.Command{
		Use:          ProjectName,
		Short:        "14-channel CAN power distribution module service",
		Version:      ProjectVersion,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := resolveOptions(cmd, configPath, flagOpts)
			if err != nil {
				return err
			}
			return runService(opts)
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	addOptionFlags(root, flagOpts)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "dump [image]",
		Short: "Print the configuration regions of an EEPROM image",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := resolveOptions(cmd, configPath, flagOpts)
			if err != nil {
				return err
			}
			path := opts.EEPROM.Path
			if len(args) == 1 {
				path = args[0]
			}
			dev, err := store.OpenFileDevice(path, opts.EEPROM.Size, opts.EEPROM.PageSize)
			if err != nil {
				return err
			}
			defer dev.Close()
			return dumpImage(cmd.OutOrStdout(), dev)
		},
	})

	return root
}

// addOptionFlags binds the command-line overrides to opts
func addOptionFlags(cmd *cobra.Command, opts *Options) {
	f := cmd.PersistentFlags()
	f.IntVar((*int)(&opts.LogLevel), "log", int(opts.LogLevel), "Log level (0=NONE, 1=ERROR, 2=WARN, 3=INFO, 4=DEBUG)")
	f.StringVar(&opts.Redis.Addr, "redis-server", opts.Redis.Addr, "Redis server address")
	f.Uint16Var(&opts.Redis.Port, "redis-port", opts.Redis.Port, "Redis server port")
	f.StringVar(&opts.CAN.Device, "can-device", opts.CAN.Device, "CAN device name")
	f.StringVar(&opts.Serial.Port, "serial-port", opts.Serial.Port, "Host configuration serial port (empty disables the link)")
	f.IntVar(&opts.Serial.Baud, "serial-baud", opts.Serial.Baud, "Host configuration serial baud rate")
	f.StringVar(&opts.EEPROM.Path, "eeprom", opts.EEPROM.Path, "EEPROM image path")
	f.BoolVar(&opts.ActiveLowDrivers, "active-low", opts.ActiveLowDrivers, "Drive output pins active-low")
}

// resolveOptions loads the config file, if any, then applies the flags the user set explicitly
func resolveOptions(cmd *cobra.Command, configPath string, flagOpts *Options) (*Options, error) {
	opts := flagOpts
	if configPath != "" {
		fileOpts, err := LoadOptions(configPath)
		if err != nil {
			return nil, err
		}
		mergeFlags(cmd, fileOpts, flagOpts)
		opts = fileOpts
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

func mergeFlags(cmd *cobra.Command, dst, src *Options) {
	changed := cmd.Flags().Changed
	if changed("log") {
		dst.LogLevel = src.LogLevel
	}
	if changed("redis-server") {
		dst.Redis.Addr = src.Redis.Addr
	}
	if changed("redis-port") {
		dst.Redis.Port = src.Redis.Port
	}
	if changed("can-device") {
		dst.CAN.Device = src.CAN.Device
	}
	if changed("serial-port") {
		dst.Serial.Port = src.Serial.Port
	}
	if changed("serial-baud") {
		dst.Serial.Baud = src.Serial.Baud
	}
	if changed("eeprom") {
		dst.EEPROM.Path = src.EEPROM.Path
	}
	if changed("active-low") {
		dst.ActiveLowDrivers = src.ActiveLowDrivers
	}
}

func runService(opts *Options) error {
	logger := NewLeveledLogger(log.New(os.Stdout, "", log.LstdFlags), opts.LogLevel)
	logger.Info("Starting %s", versionString())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewPDMApp(ctx, opts, logger)
	if err != nil {
		return fmt.Errorf("failed to create pdm app: %w", err)
	}
	defer app.Destroy()

	app.Start()

	// Run until signal received
	<-ctx.Done()
	return nil
}

// dumpImage prints each region's CRC status and decoded contents
func dumpImage(w io.Writer, dev store.Device) error {
	s, err := store.New(dev, pdm.NopLogger{})
	if err != nil {
		return err
	}

	st := pdm.NewState()
	for r := store.Region(0); r < store.RegionCount; r++ {
		payload, stored, err := s.Read(r)
		if err != nil {
			return err
		}
		calc := store.Checksum(payload)
		status := "ok"
		if calc != stored {
			status = "CRC MISMATCH"
		}
		fmt.Fprintf(w, "%-8s @0x%04X %4d bytes  stored=0x%08X calc=0x%08X  %s\n",
			r, r.Offset(), r.Size(), stored, calc, status)

		if ok, err := s.Load(r, st); err != nil {
			return err
		} else if !ok {
			continue
		}

		switch r {
		case store.RegionChannel:
			for i := range st.Channels {
				c := &st.Channels[i].ChannelConfig
				fmt.Fprintf(w, "  ch%-2d %-3s %-14s en=%v duty=%d%% thr=%.1f/%.1fA inrush=%dms runon=%v/%dms\n",
					i+1, c.Name, c.Type, c.Enabled, c.PWMSetDuty,
					c.CurrentThresholdLow, c.CurrentThresholdHigh, c.InrushDelay, c.RunOn, c.RunOnTime)
			}
		case store.RegionSystem:
			p := &st.System
			fmt.Fprintf(w, "  can ids channel=0x%03X system=0x%03X config=0x%03X limit=%.1fA\n",
				p.CANChannelID, p.CANSystemID, p.CANConfigID, p.CurrentLimit)
			fmt.Fprintf(w, "  data=%v gps=%v motion=%v sleep=%v deadtime=%ds window=%ds\n",
				p.AllowData, p.AllowGPS, p.AllowMotionDetect, p.AllowSleep, p.MotionDeadTime, p.IMUWakeWindow)
		case store.RegionStorage:
			fmt.Fprintf(w, "  max lines=%d frequency=%dms files=%q\n",
				st.Storage.MaxLogLines, st.Storage.LogFrequency, st.Storage.LogFiles)
		case store.RegionAnalogue:
			for i := range st.Analogue {
				a := &st.Analogue[i]
				fmt.Fprintf(w, "  ain%d on=%.2fV off=%.2fV scale=%.2f..%.2fV pwm=%d..%d%%\n",
					i+1, a.OnVoltage, a.OffVoltage, a.ScaleMin, a.ScaleMax, a.PWMMin, a.PWMMax)
			}
		}
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
