package transport

import (
	"io"
	"net"

	"go.uber.org/zap"
)

// Handler processes one request frame and returns the response frame to
// write back.
type Handler func(payload []byte) []byte

// Server accepts TCP connections and applies Handler to each frame it
// reads, one frame per connection, matching the request/response shape of
// Sender.Send.
type Server struct {
	listener net.Listener
	handler  Handler
	logger   *zap.SugaredLogger
}

// Listen binds addr and returns a Server ready to Serve.
func Listen(addr string, handler Handler, logger *zap.SugaredLogger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &ConnectionFailedError{Cause: err}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Server{listener: ln, handler: handler, logger: logger}, nil
}

// Addr returns the bound listener address, useful when addr was ":0".
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	payload, err := ReadFrame(conn)
	if err != nil {
		if err != io.EOF {
			s.logger.Warnw("frame read failed", "error", err)
		}
		return
	}

	response := s.handler(payload)
	if err := WriteFrame(conn, response); err != nil {
		s.logger.Warnw("frame write failed", "error", err)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error { return s.listener.Close() }
