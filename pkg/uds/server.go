package uds

import (
	"net"
	"os"
	"sync"

	"github.com/yanun0323/errors"

	"reconciler/pkg/exception"
)

var (
	ErrNilServer        = errors.New("uds: nil server")
	ErrAlreadyListening = errors.New("uds: already listening")
	ErrNotListening     = errors.New("uds: not listening")
	ErrPathNotSocket    = errors.New("uds: path exists and is not a socket")
)

// Server listens for Unix domain socket connections.
type Server struct {
	addr net.UnixAddr

	mu sync.Mutex
	ln *net.UnixListener
}

// NewServer creates a server for the provided socket path.
func NewServer(path string) (*Server, error) {
	if path == "" {
		return nil, exception.ErrEmptyPathUDS
	}
	return &Server{addr: net.UnixAddr{Name: path, Net: unixNetwork}}, nil
}

// Path returns the configured socket path.
func (s *Server) Path() string {
	if s == nil {
		return ""
	}
	return s.addr.Name
}

// Listen replaces a stale socket file and starts listening.
func (s *Server) Listen() error {
	if s == nil {
		return ErrNilServer
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return ErrAlreadyListening
	}
	if err := RemoveIfExists(s.addr.Name); err != nil {
		return err
	}
	ln, err := net.ListenUnix(unixNetwork, &s.addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", s.addr.Name)
	}
	ln.SetUnlinkOnClose(true)
	s.ln = ln
	return nil
}

// Accept waits for the next incoming connection.
func (s *Server) Accept() (*net.UnixConn, error) {
	if s == nil {
		return nil, ErrNilServer
	}
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return nil, ErrNotListening
	}
	return ln.AcceptUnix()
}

// Close stops the listener and unlinks the socket file.
func (s *Server) Close() error {
	if s == nil {
		return ErrNilServer
	}
	s.mu.Lock()
	ln := s.ln
	s.ln = nil
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

// RemoveIfExists removes the socket file if it exists. Regular files are left alone.
func RemoveIfExists(path string) error {
	if path == "" {
		return exception.ErrEmptyPathUDS
	}
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return errors.Wrap(ErrPathNotSocket, path)
	}
	return os.Remove(path)
}
