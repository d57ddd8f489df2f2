package port

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PortRunnable is the cooperative arbiter for every DeviceRunnable sharing
// one physical transport: a single goroutine visits each device in turn,
// calling Run once per visit. A device whose current message is still
// StatusProcessing simply yields back to the loop on its next turn instead
// of blocking the port, which is what lets many devices share one serial
// line or TCP connection without a goroutine each.
type PortRunnable struct {
	name    string
	devices []*DeviceRunnable
	log     *zap.SugaredLogger

	tick time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// NewPortRunnable builds a port arbiter over the given devices. tick bounds
// how often the loop revisits a device with nothing due; a small value
// keeps external messages and due reads responsive without busy-spinning a
// CPU core.
func NewPortRunnable(name string, devices []*DeviceRunnable, tick time.Duration, log *zap.SugaredLogger) *PortRunnable {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if tick <= 0 {
		tick = 5 * time.Millisecond
	}
	return &PortRunnable{name: name, devices: devices, tick: tick, log: log}
}

// Start launches the arbiter loop in its own goroutine. Calling Start twice
// without an intervening Stop is a no-op.
func (p *PortRunnable) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.mu.Unlock()

	go p.loop(ctx)
}

// Stop ends the arbiter loop. It does not block until the loop goroutine has
// actually exited; callers that need a synchronous shutdown should cancel
// the context passed to Start and wait on their own signal.
func (p *PortRunnable) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	p.running = false
}

func (p *PortRunnable) loop(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	p.log.Infow("port runnable started", "port", p.name, "devices", len(p.devices))
	for {
		select {
		case <-ctx.Done():
			// Let any message already in flight reach a terminal status
			// before exiting; no new message is selected.
			for _, d := range p.devices {
				for d.state != statePause {
					<-ticker.C
					d.Run()
				}
			}
			p.log.Infow("port runnable stopped", "port", p.name)
			return
		case <-ticker.C:
			for _, d := range p.devices {
				d.Run()
			}
		}
	}
}
