package fakeinstrument

import (
	"net"
	"sync"
	"testing"

	"github.com/danmuck/tipctl/internal/protocol/frame"
)

// Publisher is a fake streaming port. Frames passed to Publish are written to
// every connected reader.
type Publisher struct {
	ln net.Listener

	mu      sync.Mutex
	conns   []net.Conn
	counter uint64
	joined  chan struct{}

	wg sync.WaitGroup
}

func StartPublisher(t testing.TB) *Publisher {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("fakeinstrument publisher listen: %v", err)
	}
	p := &Publisher{ln: ln, joined: make(chan struct{}, 16)}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			p.mu.Lock()
			p.conns = append(p.conns, conn)
			p.mu.Unlock()
			select {
			case p.joined <- struct{}{}:
			default:
			}
		}
	}()
	t.Cleanup(p.Close)
	return p
}

func (p *Publisher) Addr() string {
	return p.ln.Addr().String()
}

// Joined fires once per accepted reader connection.
func (p *Publisher) Joined() <-chan struct{} {
	return p.joined
}

// Publish writes data as the next frame, assigning the next counter value.
func (p *Publisher) Publish(data [][]float32) error {
	p.mu.Lock()
	p.counter++
	f := frame.Frame{Counter: p.counter, Data: data}
	p.mu.Unlock()
	return p.PublishFrame(f)
}

// Skip advances the counter without sending, producing a gap.
func (p *Publisher) Skip(n uint64) {
	p.mu.Lock()
	p.counter += n
	p.mu.Unlock()
}

func (p *Publisher) PublishFrame(f frame.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, c := range p.conns {
		if err := frame.WriteFrame(c, f, frame.DefaultLimits()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DropAll closes every reader connection.
func (p *Publisher) DropAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.conns {
		_ = c.Close()
	}
	p.conns = nil
}

func (p *Publisher) Close() {
	_ = p.ln.Close()
	p.DropAll()
	p.wg.Wait()
}
