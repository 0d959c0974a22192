package discovery_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/weft-protocol/weft-go/pkg/discovery"
)

// fakeAdvertiser records advertiser calls for announcer tests.
type fakeAdvertiser struct {
	mu         sync.Mutex
	advertised []discovery.ControllerInfo
	updated    []discovery.ControllerInfo
	stops      int
}

func (f *fakeAdvertiser) AdvertiseController(_ context.Context, info *discovery.ControllerInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advertised = append(f.advertised, *info)
	return nil
}

func (f *fakeAdvertiser) UpdateController(info *discovery.ControllerInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, *info)
	return nil
}

func (f *fakeAdvertiser) StopController() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeAdvertiser) StopAll() {
	_ = f.StopController()
}

func (f *fakeAdvertiser) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updated)
}

func (f *fakeAdvertiser) lastUpdate() (discovery.ControllerInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updated) == 0 {
		return discovery.ControllerInfo{}, false
	}
	return f.updated[len(f.updated)-1], true
}

func testControllerInfo() discovery.ControllerInfo {
	return discovery.ControllerInfo{
		InstanceName: "weft-test",
		ControllerID: "a1b2c3d4e5f6a7b8",
		Version:      1,
		Port:         9143,
	}
}

func TestAnnouncerStart(t *testing.T) {
	fake := &fakeAdvertiser{}
	ann := discovery.NewAnnouncer(fake, testControllerInfo())

	if err := ann.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer ann.Stop()

	if len(fake.advertised) != 1 {
		t.Fatalf("advertised %d times, want 1", len(fake.advertised))
	}
	if fake.advertised[0].InstanceName != "weft-test" {
		t.Errorf("InstanceName = %q, want \"weft-test\"", fake.advertised[0].InstanceName)
	}
}

func TestAnnouncerStartInvalidInfo(t *testing.T) {
	fake := &fakeAdvertiser{}
	info := testControllerInfo()
	info.ControllerID = "short"
	ann := discovery.NewAnnouncer(fake, info)

	if err := ann.Start(context.Background()); err == nil {
		t.Fatal("Start() should fail with an invalid controller ID")
	}
	if len(fake.advertised) != 0 {
		t.Errorf("advertised %d times, want 0", len(fake.advertised))
	}
}

func TestAnnouncerCountBeforeStart(t *testing.T) {
	fake := &fakeAdvertiser{}
	ann := discovery.NewAnnouncer(fake, testControllerInfo())

	// A count observed before Start must ride along with the initial
	// advertisement instead of waiting for the next change.
	ann.SetDeviceCount(7)

	if err := ann.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer ann.Stop()

	if got := fake.advertised[0].DeviceCount; got != 7 {
		t.Errorf("advertised DeviceCount = %d, want 7", got)
	}
	if fake.updateCount() != 0 {
		t.Errorf("updated %d times, want 0", fake.updateCount())
	}
}

func TestAnnouncerCoalescesUpdates(t *testing.T) {
	fake := &fakeAdvertiser{}
	ann := discovery.NewAnnouncer(fake, testControllerInfo())

	if err := ann.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer ann.Stop()

	// A burst of count changes must collapse into a single refresh
	// carrying the latest value.
	ann.SetDeviceCount(1)
	ann.SetDeviceCount(2)
	ann.SetDeviceCount(3)

	deadline := time.After(discovery.UpdateDelay + 2*time.Second)
	for fake.updateCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("no TXT refresh observed")
		case <-time.After(20 * time.Millisecond):
		}
	}

	last, ok := fake.lastUpdate()
	if !ok || last.DeviceCount != 3 {
		t.Errorf("refreshed DeviceCount = %d, want 3", last.DeviceCount)
	}
	if got := fake.updateCount(); got != 1 {
		t.Errorf("updated %d times, want 1", got)
	}

	// A later change re-arms the timer and produces another refresh.
	ann.SetDeviceCount(4)
	deadline = time.After(discovery.UpdateDelay + 2*time.Second)
	for fake.updateCount() < 2 {
		select {
		case <-deadline:
			t.Fatal("no second TXT refresh observed")
		case <-time.After(20 * time.Millisecond):
		}
	}
	last, _ = fake.lastUpdate()
	if last.DeviceCount != 4 {
		t.Errorf("second refresh DeviceCount = %d, want 4", last.DeviceCount)
	}
}

func TestAnnouncerStopCancelsPending(t *testing.T) {
	fake := &fakeAdvertiser{}
	ann := discovery.NewAnnouncer(fake, testControllerInfo())

	if err := ann.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ann.SetDeviceCount(9)
	ann.Stop()

	time.Sleep(discovery.UpdateDelay + 500*time.Millisecond)

	if got := fake.updateCount(); got != 0 {
		t.Errorf("updated %d times after Stop, want 0", got)
	}
	fake.mu.Lock()
	stops := fake.stops
	fake.mu.Unlock()
	if stops != 1 {
		t.Errorf("stopped %d times, want 1", stops)
	}
}

func TestAnnouncerStopWithoutStart(t *testing.T) {
	fake := &fakeAdvertiser{}
	ann := discovery.NewAnnouncer(fake, testControllerInfo())

	// Must not touch the advertiser when nothing was advertised.
	ann.Stop()

	fake.mu.Lock()
	stops := fake.stops
	fake.mu.Unlock()
	if stops != 0 {
		t.Errorf("stopped %d times, want 0", stops)
	}
}
