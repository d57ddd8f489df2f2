package port

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/modbuscore/mbclient/modbus"
	"github.com/modbuscore/mbclient/runtime"
)

// TestSendMessageUnknownFunctionIsBadWithoutTransport is scenario S6: an
// external message naming an unsupported function code (here, 99 — outside
// the nine in §6.2) completes synchronously with StatusBadInvalidArgument
// and the transport is never invoked.
func TestSendMessageUnknownFunctionIsBadWithoutTransport(t *testing.T) {
	contract := &recordingContract{}
	dev := NewDeviceRunnable(testDeviceConfig(), contract, nil, zap.NewNop().Sugar())

	rt := NewRuntime(zap.NewNop().Sugar())
	handle := runtime.DeviceHandle(1)
	rt.RegisterDevice(handle, dev, nil)

	msg, err := rt.SendMessage(handle, modbus.FunctionCode(99), 0, 1, nil, nil)
	require.NoError(t, err)
	require.Equal(t, runtime.MessageComplete, msg.State)
	require.True(t, msg.Status.IsBad())
	require.Equal(t, runtime.StatusBadInvalidArgument, msg.Status)
	require.Empty(t, contract.calls, "transport must never be invoked for an unsupported function code")

	// dev.Run must find nothing to do: the bad message was never submitted.
	dev.Run()
	require.Empty(t, contract.calls)
}

// TestSendMessageExternalReadDispatches confirms a supported external
// message reaches the transport and completes successfully.
func TestSendMessageExternalReadDispatches(t *testing.T) {
	contract := &recordingContract{}
	dev := NewDeviceRunnable(testDeviceConfig(), contract, nil, zap.NewNop().Sugar())

	rt := NewRuntime(zap.NewNop().Sugar())
	handle := runtime.DeviceHandle(1)
	rt.RegisterDevice(handle, dev, nil)

	msg, err := rt.SendMessage(handle, modbus.FuncCodeReadHoldingRegisters, 0, 2, nil, nil)
	require.NoError(t, err)
	require.Equal(t, runtime.MessageBuilding, msg.State)

	dev.Run()
	msg.Wait()

	require.Equal(t, []string{"ReadHoldingRegisters"}, contract.calls)
	require.True(t, msg.Status.IsGood())
}

// TestSendMessageUnknownDeviceErrors checks the handle-lookup failure path.
func TestSendMessageUnknownDeviceErrors(t *testing.T) {
	rt := NewRuntime(zap.NewNop().Sugar())
	_, err := rt.SendMessage(runtime.DeviceHandle(999), modbus.FuncCodeReadCoils, 0, 1, nil, nil)
	require.Error(t, err)
}

// TestWriteItemDataStagesAndQueues exercises the WriteItemData boundary:
// staging bytes, queuing a write, and seeing it dispatched.
func TestWriteItemDataStagesAndQueues(t *testing.T) {
	contract := &recordingContract{}
	dev := NewDeviceRunnable(testDeviceConfig(), contract, nil, zap.NewNop().Sugar())

	rt := NewRuntime(zap.NewNop().Sugar())
	handle := runtime.DeviceHandle(1)
	it := &runtime.Item{Handle: 42, Device: handle, Address: runtime.Address{Memory: modbus.Memory4x, Offset: 5}, Format: runtime.FormatUInt16}
	ri := runtime.NewRunItem(it)
	rt.RegisterDevice(handle, dev, []*runtime.RunItem{ri})

	require.NoError(t, rt.WriteItemData(42, runtime.EncodeUint16(55)))
	dev.Run()

	require.Equal(t, []string{"WriteSingleRegister"}, contract.calls)
}

func TestWriteItemDataRejectsReadOnlyAndUnknownHandle(t *testing.T) {
	dev := NewDeviceRunnable(testDeviceConfig(), &recordingContract{}, nil, zap.NewNop().Sugar())
	rt := NewRuntime(zap.NewNop().Sugar())
	handle := runtime.DeviceHandle(1)
	it := &runtime.Item{Handle: 7, Device: handle, Address: runtime.Address{Memory: modbus.Memory3x, Offset: 0}, Format: runtime.FormatUInt16}
	ri := runtime.NewRunItem(it)
	rt.RegisterDevice(handle, dev, []*runtime.RunItem{ri})

	require.Error(t, rt.WriteItemData(7, runtime.EncodeUint16(1)))
	require.Error(t, rt.WriteItemData(999, runtime.EncodeUint16(1)))
}

// TestUpdateItemInjectsSyntheticResponse exercises the update_item boundary:
// a synthetic (bytes, status, timestamp) lands in the RunItem exactly as a
// completing Message would deliver it, resolving the item's "Default" orders
// against the owning device.
func TestUpdateItemInjectsSyntheticResponse(t *testing.T) {
	dev := NewDeviceRunnable(testDeviceConfig(), &recordingContract{}, nil, zap.NewNop().Sugar())

	rt := NewRuntime(zap.NewNop().Sugar())
	handle := runtime.DeviceHandle(1)
	it := &runtime.Item{Handle: 9, Device: handle, Address: runtime.Address{Memory: modbus.Memory4x, Offset: 3}, Format: runtime.FormatUInt16}
	ri := runtime.NewRunItem(it)
	rt.RegisterDevice(handle, dev, []*runtime.RunItem{ri})

	ts := time.Now()
	require.NoError(t, rt.UpdateItem(9, runtime.EncodeUint16(777), runtime.StatusGood, ts))

	buf, status, gotTS := ri.Snapshot()
	require.Equal(t, runtime.EncodeUint16(777), buf)
	require.Equal(t, runtime.StatusGood, status)
	require.Equal(t, ts, gotTS)

	require.Error(t, rt.UpdateItem(999, nil, runtime.StatusGood, ts))
}

// TestSubscribeReceivesCompletionsAndUnsubscribes checks the Subscribe
// boundary delivers (bytes, status, timestamp) and can be cancelled.
func TestSubscribeReceivesCompletionsAndUnsubscribes(t *testing.T) {
	it := &runtime.Item{Handle: 1, Address: runtime.Address{Memory: modbus.Memory4x, Offset: 0}, Format: runtime.FormatUInt16}
	ri := runtime.NewRunItem(it)

	rt := NewRuntime(zap.NewNop().Sugar())
	rt.RegisterDevice(runtime.DeviceHandle(1), NewDeviceRunnable(testDeviceConfig(), &recordingContract{}, nil, zap.NewNop().Sugar()), []*runtime.RunItem{ri})

	var got []runtime.StatusCode
	unsubscribe, err := rt.Subscribe(1, func(data []byte, status runtime.StatusCode, ts time.Time) {
		got = append(got, status)
	})
	require.NoError(t, err)

	ri.UpdateFromWire(runtime.EncodeUint16(1), runtime.StatusGood, time.Now(), runtime.BigEndian, runtime.HighWordFirst)
	require.Len(t, got, 1)

	unsubscribe()
	ri.UpdateFromWire(runtime.EncodeUint16(2), runtime.StatusGood, time.Now(), runtime.BigEndian, runtime.HighWordFirst)
	require.Len(t, got, 1)

	_, err = rt.Subscribe(999, func([]byte, runtime.StatusCode, time.Time) {})
	require.Error(t, err)
}
