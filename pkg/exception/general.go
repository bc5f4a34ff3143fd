package exception

import "github.com/yanun0323/errors"

// General errors
var (
	ErrNilInstance     = errors.New("nil instance")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnknownSymbol   = errors.New("unknown symbol")
)

// Control socket errors
var (
	ErrEmptyPathUDS  = errors.New("uds: empty socket path")
	ErrNilClientUDS  = errors.New("uds: nil client")
	ErrUnknownOp     = errors.New("control: unknown op")
	ErrMalformedLine = errors.New("control: malformed request")
)
