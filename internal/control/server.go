package control

import (
	"bufio"
	"context"
	"net"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"reconciler/internal/schema"
	"reconciler/pkg/exception"
	"reconciler/pkg/scanner"
	"reconciler/pkg/uds"
)

const maxLineSize = 1 << 20

var opKey = []byte(`"op"`)

// Backend executes control requests against the running engines.
type Backend interface {
	Symbol(name string) (schema.Symbol, bool)
	PositionChange(detail schema.PositionChangeDetail) error
	Tick(symbol string, price schema.Price) error
	Snapshot() error
	Status() []StatusView
	Kill(on bool)
}

// Server answers line-delimited JSON requests on a Unix socket.
type Server struct {
	sock    *uds.Server
	backend Backend
	wg      sync.WaitGroup
}

// NewServer creates a control server bound to path.
func NewServer(path string, backend Backend) (*Server, error) {
	if backend == nil {
		return nil, exception.ErrNilInstance
	}
	sock, err := uds.NewServer(path)
	if err != nil {
		return nil, err
	}
	return &Server{sock: sock, backend: backend}, nil
}

// Run serves connections until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.sock.Listen(); err != nil {
		return err
	}
	logs.Infof("control socket listening, path: %s", s.sock.Path())
	stop := context.AfterFunc(ctx, func() { _ = s.sock.Close() })
	defer stop()
	defer s.wg.Wait()

	for {
		conn, err := s.sock.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			_ = s.sock.Close()
			return errors.Wrap(err, "accept control connection")
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(ctx, conn)
		}()
	}
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)
	w := bufio.NewWriter(conn)
	for sc.Scan() {
		resp := s.Handle(sc.Bytes())
		payload, err := sonic.Marshal(resp)
		if err != nil {
			logs.Errorf("marshal control response, err: %+v", err)
			return
		}
		payload = append(payload, '\n')
		if _, err := w.Write(payload); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		logs.Warnf("read control connection, err: %+v", err)
	}
}

// Handle executes one request line.
func (s *Server) Handle(line []byte) Response {
	op, ok := scanner.ScanStringField(line, opKey)
	if !ok {
		return failure(exception.ErrMalformedLine)
	}
	switch string(op) {
	case OpStatus:
		return Response{OK: true, Status: s.backend.Status()}
	case OpSnapshot:
		if err := s.backend.Snapshot(); err != nil {
			return failure(err)
		}
		return Response{OK: true}
	}

	var req Request
	if err := sonic.Unmarshal(line, &req); err != nil {
		return failure(errors.Wrap(exception.ErrMalformedLine, err.Error()))
	}
	switch req.Op {
	case OpPosition:
		return s.position(req)
	case OpTick:
		return s.tick(req)
	case OpKill:
		s.backend.Kill(req.On)
		logs.Warnf("kill switch set by control, on: %v", req.On)
		return Response{OK: true}
	default:
		return failure(errors.Wrap(exception.ErrUnknownOp, req.Op))
	}
}

func (s *Server) position(req Request) Response {
	sym, ok := s.backend.Symbol(req.Symbol)
	if !ok {
		return failure(errors.Wrap(exception.ErrUnknownSymbol, req.Symbol))
	}
	detail, err := req.PositionChange(sym)
	if err != nil {
		return failure(err)
	}
	if err := s.backend.PositionChange(detail); err != nil {
		return failure(err)
	}
	return Response{OK: true}
}

func (s *Server) tick(req Request) Response {
	sym, ok := s.backend.Symbol(req.Symbol)
	if !ok {
		return failure(errors.Wrap(exception.ErrUnknownSymbol, req.Symbol))
	}
	price, err := parseDecimal("price", req.Price)
	if err != nil {
		return failure(err)
	}
	if err := s.backend.Tick(sym.Name, sym.Scale.Price(price)); err != nil {
		return failure(err)
	}
	return Response{OK: true}
}

func failure(err error) Response {
	return Response{Error: err.Error()}
}
