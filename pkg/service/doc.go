// Package service provides high-level orchestration for a WEFT controller.
//
// This package ties the lower-level components into one cohesive API:
// the transport server, the device lifecycle manager, the inventory
// store, the counter agency, the notification bus, and optional mDNS
// advertisement.
//
// # Controller
//
// Controller owns the wired stack. It handles:
//   - TLS server setup (configured certificates or an ephemeral one)
//   - Routing accepted connections into the device manager
//   - Publishing device lifecycle events on the notification bus
//   - Forwarding device notifications through the translator library
//   - Keeping the mDNS advertisement's device count current
//
// Example usage:
//
//	cfg := config.Default()
//	cfg.Listen = ":9143"
//
//	ctrl, err := service.New(cfg, logger)
//	if err != nil {
//		return err
//	}
//	if err := ctrl.Start(ctx); err != nil {
//		return err
//	}
//	defer ctrl.Stop()
//
//	sub, _ := ctrl.Bus().Subscribe(notify.KindDeviceAppeared)
//	for ev := range sub.C {
//		fmt.Println("device up:", ev.DeviceID)
//	}
//
// A stopped controller cannot be restarted; build a new one.
package service
