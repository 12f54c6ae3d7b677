package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	iotcore "github.com/nexusiot/agentcore"
	"github.com/nexusiot/agentcore/osal"
	"github.com/nexusiot/agentcore/plugins/wsplugin"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	configPath  string
	deviceIDDir string
	wsURL       string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:     "iotcore-demo",
	Short:   "Reference device agent built on the iotcore library",
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgent()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("iotcore-demo %s\n", version)
		if buildTime != "unknown" {
			fmt.Printf("Built: %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json", "path to the JSON config file")
	rootCmd.PersistentFlags().StringVar(&deviceIDDir, "state-dir", "./state", "directory holding the device-id file")
	rootCmd.PersistentFlags().StringVar(&wsURL, "ws-url", "", "cloud WebSocket endpoint; transport plugin disabled if empty")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on; disabled if empty")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAgent() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	log := iotcore.NewLogger(zl)

	deviceID, err := iotcore.DeviceID(deviceIDDir+"/device-id", osal.Default{})
	if err != nil {
		return fmt.Errorf("resolving device id: %w", err)
	}
	log.Infof("main", "device id %s", deviceID)

	var options *iotcore.OptionsMap
	if cfg, err := iotcore.LoadConfig(configPath, log); err != nil {
		log.Warningf("main", "loading config %q: %v; continuing with empty options", configPath, err)
	} else {
		options = cfg.Options()
	}

	var metrics *iotcore.Metrics
	if metricsAddr != "" {
		metrics = iotcore.NewMetrics()
	}

	lib, err := iotcore.Initialize(iotcore.LibraryOptions{
		Logger:  log,
		Options: options,
		Metrics: metrics,
	})
	if err != nil {
		return fmt.Errorf("initializing library: %w", err)
	}

	if err := registerSampleAction(lib); err != nil {
		return fmt.Errorf("registering sample action: %w", err)
	}
	if err := registerSampleTelemetry(lib); err != nil {
		return fmt.Errorf("registering sample telemetry: %w", err)
	}
	if err := registerSampleAlarm(lib); err != nil {
		return fmt.Errorf("registering sample alarm: %w", err)
	}

	if wsURL != "" {
		plugin := wsplugin.New(wsplugin.Config{URL: wsURL, DeviceID: deviceID, Log: zl})
		if err := lib.Plugins.Load(lib, plugin); err != nil {
			return fmt.Errorf("loading transport plugin: %w", err)
		}
		if err := lib.Plugins.Enable(lib, plugin.Info().Name); err != nil {
			log.Errorf("main", "enabling transport plugin: %v", err)
		}
	}

	if metrics != nil {
		if err := metrics.Serve(metricsAddr); err != nil {
			log.Errorf("main", "starting metrics server: %v", err)
		} else {
			log.Infof("main", "metrics listening on %s", metricsAddr)
		}
	}

	lib.Start()
	defer lib.Terminate()
	defer metrics.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go publishHeartbeat(ctx, lib)

	lib.LoopForever(ctx, 200*time.Millisecond)
	log.Infof("main", "shutting down")
	return nil
}

func registerSampleAction(lib *iotcore.Library) error {
	return lib.Actions.Register(&iotcore.Action{
		Name: "ping",
		Parameters: []iotcore.Parameter{
			{Name: "message", Direction: iotcore.DirIn, DeclaredType: iotcore.TypeString},
		},
		Handler: func(ctx context.Context, params *iotcore.OptionsMap) (*iotcore.OptionsMap, iotcore.Status) {
			msg := "pong"
			if params != nil {
				if m, err := params.GetString("message"); err == nil && m != "" {
					msg = m
				}
			}
			result := iotcore.NewOptionsMap()
			_ = result.SetString("reply", msg)
			return result, iotcore.Success
		},
	})
}

func registerSampleTelemetry(lib *iotcore.Library) error {
	return lib.Telemetry.Register(&iotcore.Telemetry{
		Name: "cpu_temp_c",
		Type: iotcore.TypeFloat64,
	})
}

func registerSampleAlarm(lib *iotcore.Library) error {
	return lib.Alarms.Register(&iotcore.Alarm{
		Name:     "over_temp",
		Severity: iotcore.AlarmWarning,
	})
}

func publishHeartbeat(ctx context.Context, lib *iotcore.Library) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v, _ := iotcore.Set(iotcore.TypeFloat64, false, 42.0)
			_ = lib.Telemetry.Publish("cpu_temp_c", v, time.Now())
		}
	}
}
