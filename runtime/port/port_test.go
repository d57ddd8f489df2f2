package port

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/modbuscore/mbclient/runtime"
)

// TestDevicesRoundRobinOnSharedPort mirrors PortRunnable's per-pass loop by
// hand: visiting each of two devices once per pass, neither starves when its
// sibling always has work ready (§4.4, §5 "no device can starve another").
// Each device has its own recordingContract; no AsyncPort is involved.
func TestDevicesRoundRobinOnSharedPort(t *testing.T) {
	c1 := &recordingContract{}
	c2 := &recordingContract{}

	cfg1 := testDeviceConfig()
	cfg1.Name = "dev1"
	dev1 := NewDeviceRunnable(cfg1, c1, []*runtime.RunItem{holdingReadItem(0, 0)}, zap.NewNop().Sugar())

	cfg2 := testDeviceConfig()
	cfg2.Name = "dev2"
	dev2 := NewDeviceRunnable(cfg2, c2, []*runtime.RunItem{holdingReadItem(0, 0)}, zap.NewNop().Sugar())

	devices := []*DeviceRunnable{dev1, dev2}
	for pass := 0; pass < 2; pass++ {
		for _, d := range devices {
			d.Run()
		}
	}

	require.NotEmpty(t, c1.calls, "dev1 must have made progress")
	require.NotEmpty(t, c2.calls, "dev2 must have made progress")
}

// TestPortRunnableStartStopDrivesDevices is a smoke test of the real
// arbiter loop: started against a real ticker, it must visit a device
// enough times to complete at least one read.
func TestPortRunnableStartStopDrivesDevices(t *testing.T) {
	c := &recordingContract{}
	dev := NewDeviceRunnable(testDeviceConfig(), c, []*runtime.RunItem{holdingReadItem(0, 0)}, zap.NewNop().Sugar())

	p := NewPortRunnable("port1", []*DeviceRunnable{dev}, time.Millisecond, zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	defer cancel()

	require.Eventually(t, func() bool {
		return len(c.calls) > 0
	}, time.Second, 5*time.Millisecond)

	p.Stop()
}

// TestNewPortRunnableDefaultsTick checks the zero-value tick falls back to
// a sane default instead of busy-spinning or never firing.
func TestNewPortRunnableDefaultsTick(t *testing.T) {
	p := NewPortRunnable("port1", nil, 0, nil)
	require.Greater(t, p.tick, time.Duration(0))
}
