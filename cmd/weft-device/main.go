// Command weft-device is a simulated WEFT fabric device.
//
// The simulator connects to a controller, completes the hello exchange,
// optionally opens auxiliary channels, answers barriers, keeps the
// connection alive with echo probes, and emits synthetic port status
// notifications.
//
// Usage:
//
//	weft-device [flags]
//
// Flags:
//
//	-controller string  Controller address (host:port)
//	-discover           Find a controller via mDNS instead of -controller
//	-name string        Device name (auto-generated if empty)
//	-aux int            Number of auxiliary channels to open
//	-interval duration  Notification interval (default 5s)
//	-verify             Verify the controller's TLS certificate
//
// Examples:
//
//	# Connect to a local controller
//	weft-device -controller 127.0.0.1:9143 -name loom-7
//
//	# Find a controller on the local network
//	weft-device -discover
//
//	# Open two auxiliary channels and notify every second
//	weft-device -controller 127.0.0.1:9143 -aux 2 -interval 1s
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/weft-protocol/weft-go/pkg/discovery"
	"github.com/weft-protocol/weft-go/pkg/transport"
	"github.com/weft-protocol/weft-go/pkg/wire"
)

const discoverTimeout = 10 * time.Second

var flags struct {
	Controller string
	Discover   bool
	Name       string
	Aux        int
	Interval   time.Duration
	Verify     bool
}

func init() {
	flag.StringVar(&flags.Controller, "controller", "", "Controller address (host:port)")
	flag.BoolVar(&flags.Discover, "discover", false, "Find a controller via mDNS instead of -controller")
	flag.StringVar(&flags.Name, "name", "", "Device name (auto-generated if empty)")
	flag.IntVar(&flags.Aux, "aux", 0, "Number of auxiliary channels to open")
	flag.DurationVar(&flags.Interval, "interval", 5*time.Second, "Notification interval")
	flag.BoolVar(&flags.Verify, "verify", false, "Verify the controller's TLS certificate")
}

func main() {
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)

	name := flags.Name
	if name == "" {
		name = fmt.Sprintf("loom-%d", time.Now().Unix()%10000)
	}

	log.Println("WEFT Device Simulator")
	log.Println("=====================")
	log.Printf("Device name: %s", name)
	log.Printf("Device ID: %s", transport.DeviceIDFromName(name))

	address := flags.Controller
	if flags.Discover {
		found, err := findController()
		if err != nil {
			log.Fatalf("Controller discovery failed: %v", err)
		}
		address = found
	}
	if address == "" {
		log.Fatal("No controller address: use -controller or -discover")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The handler reports a dead primary channel on lost.
	lost := make(chan error, 1)

	primary, err := dial(ctx, address, name, 0, lost)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer primary.Close()
	log.Printf("Connected to %s (negotiated version %d)", address, primary.NegotiatedVersion())

	auxConns := make([]*transport.Connection, 0, flags.Aux)
	for i := 1; i <= flags.Aux; i++ {
		aux, err := dial(ctx, address, name, uint8(i), nil)
		if err != nil {
			log.Fatalf("Failed to open auxiliary channel %d: %v", i, err)
		}
		defer aux.Close()
		auxConns = append(auxConns, aux)
		log.Printf("Auxiliary channel %d open", i)
	}

	go notifyLoop(ctx, primary)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v", sig)
	case err := <-lost:
		log.Printf("Connection lost: %v", err)
	}

	log.Println("Shutting down...")
	cancel()

	for _, aux := range auxConns {
		_ = aux.Close()
	}
	_ = primary.Close()

	log.Println("Goodbye!")
}

// findController browses mDNS for a running controller and returns its
// address.
func findController() (string, error) {
	browser, err := discovery.NewMDNSBrowser(discovery.DefaultBrowserConfig())
	if err != nil {
		return "", err
	}
	defer browser.Stop()

	log.Println("Browsing for controllers...")

	ctx, cancel := context.WithTimeout(context.Background(), discoverTimeout)
	defer cancel()

	results, err := browser.BrowseControllers(ctx)
	if err != nil {
		return "", err
	}

	for svc := range results {
		host := svc.Host
		if len(svc.Addresses) > 0 {
			host = svc.Addresses[0]
		}
		addr := net.JoinHostPort(host, strconv.Itoa(int(svc.Port)))
		log.Printf("Found controller %q at %s (id: %s, version: %d, devices: %d)",
			svc.InstanceName, addr, svc.ControllerID, svc.Version, svc.DeviceCount)
		return addr, nil
	}

	return "", errors.New("no controller found")
}

// dial opens one channel to the controller. Auxiliary 0 is the primary.
// The context bounds the connection's lifetime, not just the dial.
func dial(ctx context.Context, address, name string, aux uint8, lost chan<- error) (*transport.Connection, error) {
	cfg := transport.DefaultConnectionConfig()
	cfg.TLS = &transport.ClientTLSConfig{InsecureSkipVerify: !flags.Verify}
	cfg.DeviceName = name
	cfg.Auxiliary = aux
	cfg.Capabilities = wire.CapabilityStats | wire.CapabilityBarrier | wire.CapabilityPortDesc

	handler := &channelHandler{channel: channelLabel(aux), lost: lost}
	conn := transport.NewConnection(cfg, handler)
	handler.conn = conn

	if err := conn.Connect(ctx, address); err != nil {
		return nil, err
	}
	return conn, nil
}

func channelLabel(aux uint8) string {
	if aux == 0 {
		return "primary"
	}
	return fmt.Sprintf("aux %d", aux)
}

// channelHandler answers barriers and reports connection failures.
// Echo probes are answered inside the transport.
type channelHandler struct {
	channel string
	conn    *transport.Connection
	lost    chan<- error
}

func (h *channelHandler) OnMessage(msg []byte) {
	env, err := wire.DecodeEnvelope(msg)
	if err != nil {
		log.Printf("[%s] Dropping undecodable frame: %v", h.channel, err)
		return
	}

	switch env.Type {
	case wire.TypeBarrier:
		ack, err := wire.EncodeEnvelope(&wire.Envelope{
			Type:      wire.TypeBarrierAck,
			MessageID: env.MessageID,
		})
		if err == nil {
			err = h.conn.Send(ack)
		}
		if err != nil {
			log.Printf("[%s] Failed to answer barrier %d: %v", h.channel, env.MessageID, err)
		}

	default:
		log.Printf("[%s] Received %s (id: %d, %d bytes)", h.channel, env.Type, env.MessageID, len(env.Payload))
	}
}

func (h *channelHandler) OnStateChange(oldState, newState transport.ConnectionState) {
	log.Printf("[%s] %s -> %s", h.channel, oldState, newState)
}

func (h *channelHandler) OnError(err error) {
	if h.lost == nil {
		log.Printf("[%s] Error: %v", h.channel, err)
		return
	}
	select {
	case h.lost <- err:
	default:
	}
}

// notifyLoop emits synthetic port status notifications.
func notifyLoop(ctx context.Context, conn *transport.Connection) {
	ticker := time.NewTicker(flags.Interval)
	defer ticker.Stop()

	port := 0
	up := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			port = port%4 + 1
			if port == 1 {
				up = !up
			}

			status := "down"
			if up {
				status = "up"
			}
			payload := fmt.Sprintf("port %d %s", port, status)

			if err := conn.SendNotification([]byte(payload)); err != nil {
				log.Printf("Notification failed: %v", err)
				return
			}
			log.Printf("Sent notification: %s", payload)
		}
	}
}
