// Package interactive provides the interactive command-line interface
// for the WEFT controller.
package interactive

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/chzyer/readline"

	"github.com/weft-protocol/weft-go/pkg/device"
	"github.com/weft-protocol/weft-go/pkg/service"
	"github.com/weft-protocol/weft-go/pkg/stats"
	"github.com/weft-protocol/weft-go/pkg/wire"
)

// Console handles interactive mode for weft-controller.
type Console struct {
	ctrl *service.Controller
	rl   *readline.Instance
}

// New creates a new interactive console.
func New(ctrl *service.Controller) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "weft> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	return &Console{
		ctrl: ctrl,
		rl:   rl,
	}, nil
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "devices", "list", "ls":
			c.cmdDevices()

		case "show", "s":
			c.cmdShow(args)

		case "limits":
			c.cmdLimits()

		case "inventory", "inv":
			c.cmdInventory()

		case "drop":
			c.cmdDrop(args)

		case "stats":
			c.cmdStats()

		case "status":
			c.cmdStatus()

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
WEFT Controller Commands:
  Sessions:
    devices            - List connected devices
    show <device-id>   - Show session details for a device
    limits             - Show per-device inbound rate limits
    drop <device-id>   - Disconnect a device

  Inventory:
    inventory          - List the persisted device inventory

  General:
    stats              - Show controller counters
    status             - Show controller status
    help               - Show this help
    quit               - Exit controller

  Device IDs may be abbreviated to any unique substring.`)
}

// cmdDevices handles the devices/list command.
func (c *Console) cmdDevices() {
	sessions := c.ctrl.Manager().Sessions()
	if len(sessions) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "No devices connected")
		return
	}

	fmt.Fprintf(c.rl.Stdout(), "\nConnected Devices (%d):\n", len(sessions))
	fmt.Fprintln(c.rl.Stdout(), "-------------------------------------------")
	for _, sess := range sessions {
		fmt.Fprintf(c.rl.Stdout(), "  ID: %s\n", sess.DeviceID())
		if name := sess.Features().DeviceName; name != "" {
			fmt.Fprintf(c.rl.Stdout(), "      Name: %s\n", name)
		}
		fmt.Fprintf(c.rl.Stdout(), "      State: %s\n", sess.State())
		fmt.Fprintf(c.rl.Stdout(), "      Version: %d\n", sess.Features().Version)
		fmt.Fprintf(c.rl.Stdout(), "      Auxiliaries: %d\n", len(sess.Auxiliaries()))
		if conn := sess.Primary(); conn != nil && conn.RemoteAddr() != nil {
			fmt.Fprintf(c.rl.Stdout(), "      Address: %s\n", conn.RemoteAddr())
		}
		fmt.Fprintln(c.rl.Stdout())
	}
}

// cmdLimits handles the limits command.
func (c *Console) cmdLimits() {
	sessions := c.ctrl.Manager().Sessions()
	if len(sessions) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "No devices connected")
		return
	}

	var total int64
	fmt.Fprintln(c.rl.Stdout(), "\nInbound Rate Limits:")
	fmt.Fprintln(c.rl.Stdout(), "-------------------------------------------")
	for _, sess := range sessions {
		limit := sess.InboundRateLimit()
		total += limit
		fmt.Fprintf(c.rl.Stdout(), "  %-20s %8d/s\n", sess.DeviceID(), limit)
	}
	fmt.Fprintf(c.rl.Stdout(), "  Total: %d/s across %d devices\n\n", total, len(sessions))
}

// cmdShow handles the show command.
func (c *Console) cmdShow(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: show <device-id>")
		fmt.Fprintln(c.rl.Stdout(), "  Use 'devices' to list device IDs")
		return
	}

	sess := c.resolveSession(args[0])
	if sess == nil {
		fmt.Fprintf(c.rl.Stdout(), "Device not found: %s\n", args[0])
		return
	}

	feats := sess.Features()

	fmt.Fprintf(c.rl.Stdout(), "\nDevice: %s\n", sess.DeviceID())
	fmt.Fprintln(c.rl.Stdout(), "-------------------------------------------")
	if feats.DeviceName != "" {
		fmt.Fprintf(c.rl.Stdout(), "  Name:          %s\n", feats.DeviceName)
	}
	fmt.Fprintf(c.rl.Stdout(), "  State:         %s\n", sess.State())
	fmt.Fprintf(c.rl.Stdout(), "  Version:       %d\n", feats.Version)
	fmt.Fprintf(c.rl.Stdout(), "  Capabilities:  %s\n", capabilityNames(feats.Capabilities))
	fmt.Fprintf(c.rl.Stdout(), "  Inbound limit: %d/s\n", sess.InboundRateLimit())
	fmt.Fprintf(c.rl.Stdout(), "  Published:     %t\n", sess.Published())
	if conn := sess.Primary(); conn != nil {
		if conn.RemoteAddr() != nil {
			fmt.Fprintf(c.rl.Stdout(), "  Address:       %s\n", conn.RemoteAddr())
		}
		fmt.Fprintf(c.rl.Stdout(), "  Primary conn:  %s\n", conn.ConnID())
	}
	for _, aux := range sess.Auxiliaries() {
		fmt.Fprintf(c.rl.Stdout(), "  Auxiliary:     %s (channel %d)\n", aux.ConnID(), aux.Features().Auxiliary)
	}
	fmt.Fprintln(c.rl.Stdout())
}

// cmdInventory handles the inventory command.
func (c *Console) cmdInventory() {
	records, err := c.ctrl.Inventory().Devices()
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Inventory error: %v\n", err)
		return
	}
	if len(records) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "Inventory is empty")
		return
	}

	fmt.Fprintf(c.rl.Stdout(), "\nInventory (%d records):\n", len(records))
	fmt.Fprintln(c.rl.Stdout(), "-------------------------------------------")
	for _, rec := range records {
		fmt.Fprintf(c.rl.Stdout(), "  ID: %s\n", rec.ID)
		if rec.Name != "" {
			fmt.Fprintf(c.rl.Stdout(), "      Name: %s\n", rec.Name)
		}
		if rec.Address != "" {
			fmt.Fprintf(c.rl.Stdout(), "      Address: %s\n", rec.Address)
		}
		if rec.Version > 0 {
			fmt.Fprintf(c.rl.Stdout(), "      Version: %d\n", rec.Version)
		}
		if !rec.ConnectedAt.IsZero() {
			fmt.Fprintf(c.rl.Stdout(), "      Connected at: %s\n", rec.ConnectedAt.Format("15:04:05"))
		}
		fmt.Fprintf(c.rl.Stdout(), "      Published: %t\n", rec.Published)
		fmt.Fprintln(c.rl.Stdout())
	}
}

// cmdDrop handles the drop command.
func (c *Console) cmdDrop(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: drop <device-id>")
		return
	}

	sess := c.resolveSession(args[0])
	if sess == nil {
		fmt.Fprintf(c.rl.Stdout(), "Device not found: %s\n", args[0])
		return
	}

	conn := sess.Primary()
	if conn == nil {
		fmt.Fprintln(c.rl.Stdout(), "Session has no primary connection")
		return
	}

	fmt.Fprintf(c.rl.Stdout(), "Disconnecting device %s...\n", sess.DeviceID())
	if err := conn.Close(); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Failed to close connection: %v\n", err)
		return
	}

	fmt.Fprintln(c.rl.Stdout(), "Disconnect requested")
}

// cmdStats handles the stats command.
func (c *Console) cmdStats() {
	snap := c.ctrl.Agency().Snapshot()
	if len(snap) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "No counters recorded")
		return
	}

	classes := make([]stats.Class, 0, len(snap))
	for class := range snap {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })

	fmt.Fprintln(c.rl.Stdout(), "\nController Counters:")
	fmt.Fprintln(c.rl.Stdout(), "-------------------------------------------")
	for _, class := range classes {
		fmt.Fprintf(c.rl.Stdout(), "  %-26s %d\n", class, snap[class])
	}
	fmt.Fprintln(c.rl.Stdout())
}

// cmdStatus handles the status command.
func (c *Console) cmdStatus() {
	fmt.Fprintln(c.rl.Stdout(), "\nController Status")
	fmt.Fprintln(c.rl.Stdout(), "-------------------------------------------")
	fmt.Fprintf(c.rl.Stdout(), "  Service State:     %s\n", c.ctrl.State())
	if addr := c.ctrl.Addr(); addr != nil {
		fmt.Fprintf(c.rl.Stdout(), "  Listen Address:    %s\n", addr)
	}
	fmt.Fprintf(c.rl.Stdout(), "  Connected Devices: %d\n", c.ctrl.Manager().SessionCount())
	if records, err := c.ctrl.Inventory().Devices(); err == nil {
		fmt.Fprintf(c.rl.Stdout(), "  Inventory Records: %d\n", len(records))
	}
	fmt.Fprintln(c.rl.Stdout())
}

// resolveSession resolves a full or partial device ID to a session.
func (c *Console) resolveSession(partial string) *device.Context {
	// Try exact match first
	if sess, ok := c.ctrl.Manager().Lookup(device.DeviceID(partial)); ok {
		return sess
	}

	// Try partial match
	for _, sess := range c.ctrl.Manager().Sessions() {
		if strings.Contains(sess.DeviceID().String(), partial) {
			return sess
		}
	}

	return nil
}

// capabilityNames renders the advertised capability bits.
func capabilityNames(caps uint32) string {
	if caps == 0 {
		return "none"
	}

	var names []string
	if caps&wire.CapabilityStats != 0 {
		names = append(names, "stats")
	}
	if caps&wire.CapabilityBarrier != 0 {
		names = append(names, "barrier")
	}
	if caps&wire.CapabilityPortDesc != 0 {
		names = append(names, "port-desc")
	}
	if len(names) == 0 {
		return fmt.Sprintf("0x%x", caps)
	}
	return strings.Join(names, ", ")
}
