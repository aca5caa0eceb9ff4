// Package fakeinstrument is an in-process stand-in for the instrument control
// server: a command-protocol listener with per-command handlers and a frame
// publisher for the streaming port.
package fakeinstrument

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/danmuck/tipctl/internal/logging"
	"github.com/danmuck/tipctl/internal/protocol"
	"github.com/danmuck/tipctl/internal/protocol/schema"
)

// ErrDrop makes the server close the connection instead of replying.
var ErrDrop = errors.New("fakeinstrument: drop connection")

// RemoteError is returned by a handler to reply with a non-zero error code.
type RemoteError struct {
	Code    uint32
	Message string
}

func (e RemoteError) Error() string {
	return e.Message
}

type Handler func(args []protocol.Value) ([]protocol.Arg, error)

type Call struct {
	Command string
	Args    []protocol.Value
}

type Server struct {
	ln net.Listener

	mu       sync.Mutex
	handlers map[string]Handler
	calls    []Call
	conns    map[net.Conn]struct{}

	wg sync.WaitGroup
}

// Start listens on a loopback port and stops with the test.
func Start(t testing.TB) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("fakeinstrument listen: %v", err)
	}
	s := &Server{
		ln:       ln,
		handlers: make(map[string]Handler),
		conns:    make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) Handle(command string, h Handler) {
	s.mu.Lock()
	s.handlers[command] = h
	s.mu.Unlock()
}

// Reply registers a handler that always returns values.
func (s *Server) Reply(command string, values ...protocol.Arg) {
	s.Handle(command, func([]protocol.Value) ([]protocol.Arg, error) {
		return values, nil
	})
}

func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Server) Count(command string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Command == command {
			n++
		}
	}
	return n
}

// CallsTo returns the recorded calls for one command in arrival order.
func (s *Server) CallsTo(command string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if c.Command == command {
			out = append(out, c)
		}
	}
	return out
}

// DropAll closes every live client connection, leaving the listener open.
func (s *Server) DropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

func (s *Server) Close() {
	_ = s.ln.Close()
	s.DropAll()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()
	r := bufio.NewReader(conn)
	for {
		head, raw, err := protocol.DecodeRequest(r, 0)
		if err != nil {
			return
		}
		if !s.dispatch(conn, head, raw) {
			return
		}
	}
}

func (s *Server) dispatch(conn net.Conn, head protocol.RequestHeader, raw [][]byte) bool {
	cmd, known := schema.Lookup(head.Command)
	var args []protocol.Value
	if known {
		var err error
		args, err = protocol.DecodeArgs(head.Command, raw, cmd.Args)
		if err != nil {
			logging.Warnf("fakeinstrument.Server decode command=%s err=%v", head.Command, err)
			return s.respond(conn, head, nil, RemoteError{Code: 2, Message: err.Error()})
		}
	}

	s.mu.Lock()
	s.calls = append(s.calls, Call{Command: head.Command, Args: args})
	h := s.handlers[head.Command]
	s.mu.Unlock()

	if h == nil {
		if !known {
			return s.respond(conn, head, nil, RemoteError{Code: 1, Message: "unknown command " + head.Command})
		}
		return s.respond(conn, head, nil, nil)
	}
	values, err := h(args)
	if errors.Is(err, ErrDrop) {
		return false
	}
	return s.respond(conn, head, values, err)
}

func (s *Server) respond(conn net.Conn, head protocol.RequestHeader, values []protocol.Arg, err error) bool {
	if !head.SendResponse {
		return true
	}
	var code uint32
	var msg string
	if err != nil {
		var re RemoteError
		if errors.As(err, &re) {
			code, msg = re.Code, re.Message
		} else {
			code, msg = 1, err.Error()
		}
		values = nil
	}
	if err := protocol.EncodeResponse(conn, head.Command, values, code, msg); err != nil {
		logging.Warnf("fakeinstrument.Server respond command=%s err=%v", head.Command, err)
		return false
	}
	return true
}
