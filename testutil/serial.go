package testutil

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// Responder produces the device reply to one written frame (without its
// newline). A nil reply means the device stays silent.
type Responder func(frame []byte) (reply []byte, delay time.Duration)

// OKResponder acknowledges every frame with {"status":"ok"}.
func OKResponder(delay time.Duration) Responder {
	return StaticResponder(`{"status":"ok"}`, delay)
}

// StaticResponder answers every frame with reply.
func StaticResponder(reply string, delay time.Duration) Responder {
	return func([]byte) ([]byte, time.Duration) {
		return []byte(reply + "\n"), delay
	}
}

// SilentResponder never answers.
func SilentResponder() Responder {
	return func([]byte) ([]byte, time.Duration) {
		return nil, 0
	}
}

type segment struct {
	data  []byte
	reply bool
}

// FakePort is an in-memory serial device implementing io.ReadWriteCloser.
//
// Each complete frame written opens an exchange window that closes once the
// reply bytes have been read back. A frame written while another window is
// still open counts as an overlap.
type FakePort struct {
	mu   sync.Mutex
	cond *sync.Cond

	responder Responder
	partial   []byte
	frames    [][]byte
	segments  []segment

	inFlight int
	overlaps int
	written  int

	writeErr error
	readErr  error
	closed   bool
	timers   []*time.Timer
}

// NewFakePort creates a port answered by responder. A nil responder means OKResponder(0).
func NewFakePort(responder Responder) *FakePort {
	if responder == nil {
		responder = OKResponder(0)
	}
	p := &FakePort{responder: responder}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// SetResponder replaces the responder for later frames.
func (p *FakePort) SetResponder(r Responder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responder = r
}

// SetWriteError makes every later Write fail with err.
func (p *FakePort) SetWriteError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

// FailReads makes the pending and every later Read fail with err.
func (p *FakePort) FailReads(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
	p.cond.Broadcast()
}

// Inject queues an unsolicited line such as a boot banner.
func (p *FakePort) Inject(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.segments = append(p.segments, segment{data: []byte(line + "\n")})
	p.cond.Broadcast()
}

// Write records complete frames and schedules their replies.
func (p *FakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, io.ErrClosedPipe
	}
	if p.writeErr != nil {
		return 0, p.writeErr
	}

	p.written += len(b)
	p.partial = append(p.partial, b...)
	for {
		idx := bytes.IndexByte(p.partial, '\n')
		if idx < 0 {
			break
		}
		frame := append([]byte(nil), p.partial[:idx]...)
		p.partial = p.partial[idx+1:]
		p.frames = append(p.frames, frame)

		reply, delay := p.responder(frame)
		if reply == nil {
			continue
		}
		if p.inFlight > 0 {
			p.overlaps++
		}
		p.inFlight++

		if delay <= 0 {
			p.deliverLocked(reply)
			continue
		}
		p.timers = append(p.timers, time.AfterFunc(delay, func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if !p.closed {
				p.deliverLocked(reply)
			}
		}))
	}
	return len(b), nil
}

func (p *FakePort) deliverLocked(reply []byte) {
	p.segments = append(p.segments, segment{data: append([]byte(nil), reply...), reply: true})
	p.cond.Broadcast()
}

// Read blocks until bytes are queued, the port is closed or reads fail.
func (p *FakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.segments) == 0 && !p.closed && p.readErr == nil {
		p.cond.Wait()
	}
	if p.readErr != nil {
		return 0, p.readErr
	}
	if p.closed {
		return 0, io.ErrClosedPipe
	}

	head := &p.segments[0]
	n := copy(b, head.data)
	head.data = head.data[n:]
	if len(head.data) == 0 {
		if head.reply && p.inFlight > 0 {
			p.inFlight--
		}
		p.segments = p.segments[1:]
	}
	return n, nil
}

// Close unblocks readers and stops pending replies.
func (p *FakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	for _, t := range p.timers {
		t.Stop()
	}
	p.cond.Broadcast()
	return nil
}

// Frames returns every complete frame written, without newlines.
func (p *FakePort) Frames() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([][]byte, len(p.frames))
	for i, f := range p.frames {
		out[i] = append([]byte(nil), f...)
	}
	return out
}

// FrameCount returns the number of complete frames written.
func (p *FakePort) FrameCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

// Overlaps returns how many frames were written while a reply was outstanding.
func (p *FakePort) Overlaps() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overlaps
}

// BytesWritten returns the total bytes accepted by Write.
func (p *FakePort) BytesWritten() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written
}

// Closed reports whether Close was called.
func (p *FakePort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
