// Package tcltest provides a scripted TCL control server for tests.
package tcltest

import (
	"bufio"
	"net"
	"sync"
)

// Handler produces the reply for one command.
type Handler func(cmd string) string

// Server is an in-process stand-in for the OpenOCD TCL port. It accepts one command
// per connection, records it, and writes the handler's reply.
type Server struct {
	ln      net.Listener
	handler Handler

	mu         sync.Mutex
	commands   []string
	closeReply bool
	wg         sync.WaitGroup
}

// NewServer starts listening on 127.0.0.1 with an ephemeral port.
func NewServer(h Handler) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{ln: ln, handler: h}
	s.wg.Add(1)
	go s.serve()
	return s, nil
}

func (s *Server) Host() string { return "127.0.0.1" }

func (s *Server) Port() int { return s.ln.Addr().(*net.TCPAddr).Port }

// Commands returns a copy of every command received so far, in arrival order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// SetCloseAfterReply makes the server close the connection after the reply instead
// of sending the terminator byte.
func (s *Server) SetCloseAfterReply(v bool) {
	s.mu.Lock()
	s.closeReply = v
	s.mu.Unlock()
}

func (s *Server) Close() {
	_ = s.ln.Close()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	raw, err := bufio.NewReader(conn).ReadString(0x1a)
	if err != nil {
		return
	}
	cmd := raw[:len(raw)-1]
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	closeReply := s.closeReply
	s.mu.Unlock()

	reply := ""
	if s.handler != nil {
		reply = s.handler(cmd)
	}
	if closeReply {
		_, _ = conn.Write([]byte(reply))
		return
	}
	_, _ = conn.Write(append([]byte(reply), 0x1a))
}
