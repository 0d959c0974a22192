// Command weft-controller runs a WEFT fabric controller.
//
// The controller listens for TLS connections from fabric devices, admits
// one session per device identity, tracks auxiliary channels, publishes
// lifecycle events, and keeps a persistent inventory of every device it
// has bootstrapped.
//
// Usage:
//
//	weft-controller [flags]
//
// Flags:
//
//	-config string     Configuration file path (YAML)
//	-listen string     Listen address (overrides config)
//	-state-dir string  Directory for the device inventory (overrides config)
//	-log-level string  Log level: debug, info, warn, error (overrides config)
//	-instance string   mDNS instance name (overrides config)
//	-advertise         Advertise this controller via mDNS
//	-interactive       Enable interactive command mode
//
// Examples:
//
//	# Start with defaults and an interactive console
//	weft-controller -interactive
//
//	# Start from a config file, advertise over mDNS
//	weft-controller -config /etc/weft/controller.yaml -advertise
//
//	# Start with persistence in a fixed directory
//	weft-controller -state-dir /var/lib/weft-controller
//
// Interactive Commands:
//
//	devices     - List connected devices
//	show <id>   - Show session details for a device
//	inventory   - List the persisted device inventory
//	drop <id>   - Disconnect a device
//	stats       - Show controller counters
//	status      - Show controller status
//	quit        - Exit the controller
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/weft-protocol/weft-go/cmd/weft-controller/interactive"
	"github.com/weft-protocol/weft-go/pkg/config"
	"github.com/weft-protocol/weft-go/pkg/notify"
	"github.com/weft-protocol/weft-go/pkg/service"
)

var flags struct {
	ConfigFile  string
	Listen      string
	StateDir    string
	LogLevel    string
	Instance    string
	Advertise   bool
	Interactive bool
}

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&flags.Listen, "listen", "", "Listen address (overrides config)")
	flag.StringVar(&flags.StateDir, "state-dir", "", "Directory for the device inventory (overrides config)")
	flag.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	flag.StringVar(&flags.Instance, "instance", "", "mDNS instance name (overrides config)")
	flag.BoolVar(&flags.Advertise, "advertise", false, "Advertise this controller via mDNS")
	flag.BoolVar(&flags.Interactive, "interactive", false, "Enable interactive command mode")
}

func main() {
	flag.Parse()

	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	applyOverrides(cfg)

	log.SetFlags(log.Ltime | log.Lmicroseconds)
	log.Println("WEFT Fabric Controller")
	log.Println("======================")
	log.Printf("Listen address: %s", cfg.Listen)
	log.Printf("State directory: %s", cfg.StateDir)

	level, err := cfg.SlogLevel()
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	ctrl, err := service.New(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to create controller: %v", err)
	}

	// Subscribe before Start so the first admission cannot slip past.
	sub, err := ctrl.Bus().Subscribe(notify.KindDeviceAppeared, notify.KindDeviceVanished)
	if err != nil {
		log.Fatalf("Failed to subscribe to lifecycle events: %v", err)
	}
	go printEvents(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ctrl.Start(ctx); err != nil {
		log.Fatalf("Failed to start controller: %v", err)
	}
	log.Printf("Controller running (state: %s, address: %s)", ctrl.State(), ctrl.Addr())
	if cfg.Discovery.Enabled {
		log.Printf("Advertising over mDNS as %q", cfg.Discovery.Instance)
	}

	if flags.Interactive {
		console, err := interactive.New(ctrl)
		if err != nil {
			log.Fatalf("Failed to create interactive console: %v", err)
		}
		// Redirect log output through readline to avoid interfering with input.
		log.SetOutput(console.Stdout())
		go console.Run(ctx, cancel)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v", sig)
	case <-ctx.Done():
		// Cancelled by the interactive quit command.
	}

	log.Println("Shutting down...")

	if err := ctrl.Stop(); err != nil {
		log.Printf("Error stopping controller: %v", err)
	}

	log.Println("Goodbye!")
}

// applyOverrides applies explicit command-line flags on top of the file
// configuration.
func applyOverrides(cfg *config.Config) {
	if flags.Listen != "" {
		cfg.Listen = flags.Listen
	}
	if flags.StateDir != "" {
		cfg.StateDir = flags.StateDir
	}
	if flags.LogLevel != "" {
		cfg.LogLevel = flags.LogLevel
	}
	if flags.Instance != "" {
		cfg.Discovery.Instance = flags.Instance
	}
	if flags.Advertise {
		cfg.Discovery.Enabled = true
	}
}

func printEvents(sub *notify.Subscription) {
	for ev := range sub.C {
		switch ev.Kind {
		case notify.KindDeviceAppeared:
			log.Printf("[EVENT] Device connected: %s", ev.DeviceID)
		case notify.KindDeviceVanished:
			log.Printf("[EVENT] Device disconnected: %s", ev.DeviceID)
		}
	}
}
