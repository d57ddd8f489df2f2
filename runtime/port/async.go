package port

import (
	"context"
	"errors"
	"fmt"
	"sync"

	mbclient "github.com/modbuscore/mbclient"
	"github.com/modbuscore/mbclient/modbus"
	"github.com/modbuscore/mbclient/runtime"
	"github.com/modbuscore/mbclient/transport"
)

// AsyncPort adapts the blocking *mbclient.Client (one physical transport,
// shared by every device on this port) to the non-blocking Contract poll
// idiom: the first poll for a given key launches the blocking call on a
// goroutine and returns StatusProcessing; later polls with the same key
// check a single-slot result channel, returning StatusProcessing until it
// fires. Only one request is ever in flight on the wire at a time — a poll
// with a different key while another is outstanding also returns
// StatusProcessing, so the caller (DeviceRunnable) naturally backs off
// without corrupting the transport's framing.
//
// This is the Go idiom for turning a blocking primitive into a poll-friendly
// one, grounded on the channel-based RegisterStream pattern used for async
// dispatch elsewhere in the retrieved pack.
type AsyncPort struct {
	client *mbclient.Client

	mu      sync.Mutex
	pending *asyncCall
}

type asyncCall struct {
	key   any
	done  chan struct{}
	value any
	err   error
}

// NewAsyncPort builds an AsyncPort over t, connecting it immediately so the
// first DeviceRunnable.Run has a live transport to poll against, and
// enabling the client's auto-reconnect so a dropped connection is retried
// on the next call instead of permanently wedging every device on this
// port at StatusBadConnection (transport-level retries are the underlying
// library's province, per the transport contract). cfg carries the
// port-level timeout/retry tuning; nil means mbclient's defaults.
func NewAsyncPort(t transport.Transport, cfg *modbus.ClientConfig) (*AsyncPort, error) {
	if cfg == nil {
		cfg = modbus.DefaultClientConfig()
	}
	client := mbclient.NewClientFromConfig(cfg, t)
	client.SetAutoReconnect(true)
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("mbclient/runtimeport: connect: %w", err)
	}
	return &AsyncPort{client: client}, nil
}

// poll drives one async operation identified by key. start performs the
// blocking call (already bound to its arguments by the caller) and returns
// its result. poll must be called repeatedly with the same key and an
// equivalent start closure until it returns a terminal status; the result
// carried by the launching call's closure is stored on the pending slot so
// the terminal poll — a later invocation with its own closure — still
// receives it.
func (p *AsyncPort) poll(key any, start func() (any, error)) (runtime.StatusCode, any, error) {
	p.mu.Lock()
	if p.pending == nil {
		call := &asyncCall{key: key, done: make(chan struct{})}
		p.pending = call
		p.mu.Unlock()
		go func() {
			call.value, call.err = start()
			close(call.done)
		}()
		return runtime.StatusProcessing, nil, nil
	}
	call := p.pending
	if call.key != key {
		p.mu.Unlock()
		return runtime.StatusProcessing, nil, nil
	}
	select {
	case <-call.done:
		p.pending = nil
		p.mu.Unlock()
		return classifyError(call.err), call.value, call.err
	default:
		p.mu.Unlock()
		return runtime.StatusProcessing, nil, nil
	}
}

// classifyError maps a Client error into a StatusCode, recovering a Modbus
// exception code when the error chain carries one.
func classifyError(err error) runtime.StatusCode {
	if err == nil {
		return runtime.StatusGood
	}
	var merr *modbus.ModbusError
	if errors.As(err, &merr) {
		return runtime.StatusBadException(uint8(merr.ExceptionCode))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return runtime.StatusBadTimeout
	}
	return runtime.StatusBadConnection
}
