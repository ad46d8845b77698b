package processing

import (
	"sync"
	"sync/atomic"
	"time"

	rserial "sleepywoodpecker/serial-sensor-plotter/internal/rSerial"
)

type lineResult struct {
	line string
	err  error
}

// fakeTransport hands out ports that read from one shared feed. A read with nothing queued
// waits for the read timeout like an idle device.
type fakeTransport struct {
	feed    chan lineResult
	openErr error

	opens  atomic.Int32
	closes atomic.Int32

	mu    sync.Mutex
	ports []*fakePort
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{feed: make(chan lineResult, 4096)}
}

func (f *fakeTransport) Open(deviceID string, _ int, readTimeout time.Duration) (rserial.Port, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opens.Add(1)

	p := &fakePort{name: deviceID, feed: f.feed, readTimeout: readTimeout, transport: f}
	f.mu.Lock()
	f.ports = append(f.ports, p)
	f.mu.Unlock()
	return p, nil
}

func (f *fakeTransport) send(lines ...string) {
	for _, l := range lines {
		f.feed <- lineResult{line: l}
	}
}

func (f *fakeTransport) fault(err error) {
	f.feed <- lineResult{err: err}
}

func (f *fakeTransport) live() int32 {
	return f.opens.Load() - f.closes.Load()
}

func (f *fakeTransport) lastPort() *fakePort {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ports) == 0 {
		return nil
	}
	return f.ports[len(f.ports)-1]
}

type fakePort struct {
	name        string
	feed        chan lineResult
	readTimeout time.Duration
	transport   *fakeTransport
	closed      atomic.Bool
	reads       atomic.Int32
}

func (p *fakePort) ReadLine() (string, error) {
	p.reads.Add(1)
	select {
	case r := <-p.feed:
		return r.line, r.err
	case <-time.After(p.readTimeout):
		return "", rserial.ErrReadTimeout
	}
}

func (p *fakePort) Close() error {
	if p.closed.CompareAndSwap(false, true) {
		p.transport.closes.Add(1)
	}
	return nil
}

func (p *fakePort) Name() string {
	return p.name
}

type fakeEnumerator struct {
	ports []rserial.PortInfo
	err   error
}

func (f fakeEnumerator) List() ([]rserial.PortInfo, error) {
	return f.ports, f.err
}

func oneDevice() fakeEnumerator {
	return fakeEnumerator{ports: []rserial.PortInfo{{Name: "/dev/ttyFAKE0"}}}
}

func testWorkerConfig() WorkerConfig {
	return WorkerConfig{
		DeviceID:    "/dev/ttyFAKE0",
		BaudRate:    9600,
		ReadTimeout: 20 * time.Millisecond,
	}
}
