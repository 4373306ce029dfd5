package serialmux

import (
	"bytes"
	"errors"
	"sync"
)

var errPortClosed = errors.New("serial port closed")

// FakePort is an in-memory eye tracker link for tests. It records every
// byte written, follows the tracking control bytes, and serves queued input
// to Read.
type FakePort struct {
	mu   sync.Mutex
	cond *sync.Cond

	in      bytes.Buffer
	written bytes.Buffer

	// Block makes Read wait for input or Close instead of returning 0, nil.
	Block bool
	// ReadError, WriteError and ResetInputError fail the next matching call.
	ReadError       error
	WriteError      error
	ResetInputError error
	// OnWrite is called with each written chunk under the port lock; any
	// returned bytes are queued as input.
	OnWrite func(p []byte) []byte

	Closed          bool
	Tracking        bool
	ResetInputCalls int
}

// NewFakePort returns an open fake port with no queued input.
func NewFakePort() *FakePort {
	p := &FakePort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *FakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ReadError != nil {
		err := p.ReadError
		p.ReadError = nil
		return 0, err
	}
	for p.Block && !p.Closed && p.in.Len() == 0 {
		p.cond.Wait()
	}
	if p.Closed {
		return 0, errPortClosed
	}
	if p.in.Len() == 0 {
		return 0, nil
	}
	return p.in.Read(b)
}

func (p *FakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed {
		return 0, errPortClosed
	}
	if p.WriteError != nil {
		err := p.WriteError
		p.WriteError = nil
		return 0, err
	}
	p.written.Write(b)
	for _, c := range b {
		switch c {
		case TrackingOn:
			p.Tracking = true
		case TrackingOff:
			p.Tracking = false
		}
	}
	if p.OnWrite != nil {
		if reply := p.OnWrite(b); len(reply) > 0 {
			p.in.Write(reply)
			p.cond.Broadcast()
		}
	}
	return len(b), nil
}

// ResetInputBuffer drops queued input.
func (p *FakePort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ResetInputCalls++
	if p.ResetInputError != nil {
		return p.ResetInputError
	}
	p.in.Reset()
	return nil
}

func (p *FakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	p.cond.Broadcast()
	return nil
}

// Feed queues tracker output for Read.
func (p *FakePort) Feed(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in.Write(b)
	p.cond.Broadcast()
}

// Written returns a copy of everything written to the port.
func (p *FakePort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.written.Bytes())
}

// IsClosed reports whether Close was called.
func (p *FakePort) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Closed
}

// OpenCall records one FakeFactory.Open.
type OpenCall struct {
	Path string
	Opts PortOptions
}

// FakeFactory hands out a fixed port and records every Open.
type FakeFactory struct {
	mu    sync.Mutex
	Port  SerialPorter
	Error error
	Calls []OpenCall
}

// NewFakeFactory returns a factory that opens port.
func NewFakeFactory(port SerialPorter) *FakeFactory {
	return &FakeFactory{Port: port}
}

func (f *FakeFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, OpenCall{Path: path, Opts: opts})
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Port, nil
}

// LastCall returns the most recent Open, or nil.
func (f *FakeFactory) LastCall() *OpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Calls) == 0 {
		return nil
	}
	c := f.Calls[len(f.Calls)-1]
	return &c
}
