package stats

import (
	"sync"
	"testing"
)

func TestCounterAgency_CountAndAdd(t *testing.T) {
	a := NewCounterAgency()

	a.Count(DeviceConnected)
	a.Count(DeviceConnected)
	a.Add(BytesIn, 512)

	snap := a.Snapshot()
	if snap[DeviceConnected] != 2 {
		t.Errorf("DeviceConnected = %d, want 2", snap[DeviceConnected])
	}
	if snap[BytesIn] != 512 {
		t.Errorf("BytesIn = %d, want 512", snap[BytesIn])
	}
	if _, ok := snap[FlushFailed]; ok {
		t.Error("Snapshot should omit zero counters")
	}
}

func TestCounterAgency_UnknownClassIgnored(t *testing.T) {
	a := NewCounterAgency()
	a.Count(Class(250))

	if len(a.Snapshot()) != 0 {
		t.Error("unknown class should not create a counter")
	}
}

func TestCounterAgency_Concurrent(t *testing.T) {
	a := NewCounterAgency()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				a.Count(FramesIn)
			}
		}()
	}
	wg.Wait()

	if got := a.Snapshot()[FramesIn]; got != 8000 {
		t.Errorf("FramesIn = %d, want 8000", got)
	}
}

func TestNoop(t *testing.T) {
	var n Noop
	n.Count(DeviceConnected)
	n.Add(BytesOut, 99)

	if len(n.Snapshot()) != 0 {
		t.Error("Noop snapshot should be empty")
	}
}

func TestClassString(t *testing.T) {
	if DeviceConnected.String() != "device_connected" {
		t.Errorf("DeviceConnected.String() = %q", DeviceConnected.String())
	}
	if Class(200).String() != "unknown" {
		t.Errorf("unknown class String() = %q", Class(200).String())
	}
}
