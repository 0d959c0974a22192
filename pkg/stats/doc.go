// Package stats counts controller events by class and reports them.
//
// The agency is a set of cheap atomic counters fed by the transport and
// lifecycle layers. It never captures message contents; payload-level
// observability belongs to translator libraries, not here.
//
// # Usage
//
//	agency := stats.NewCounterAgency()
//	agency.Count(stats.DeviceConnected)
//	agency.Add(stats.BytesIn, int64(n))
//	agency.LogReport(logger)
//
// The device lifecycle manager drives LogReport periodically once
// initialized.
package stats
