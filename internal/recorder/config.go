package recorder

import (
	"time"

	"github.com/yanun0323/errors"
)

const (
	defaultRolloverSize int64 = 128 * 1024
	defaultMaxRollover        = 9
	defaultOpenAttempts       = 3
	defaultMoveAttempts       = 300
	defaultQueueSize          = 64
	defaultName               = "orders"
)

var (
	defaultOpenBackoff = time.Second
	defaultMoveBackoff = 100 * time.Millisecond
)

// Config controls snapshot file behavior.
type Config struct {
	Dir          string
	Name         string // files are <Name>.dat, <Name>.dat.1 ... <Name>.dat.<MaxRollover>
	RolloverSize int64
	MaxRollover  int
	OpenAttempts int
	OpenBackoff  time.Duration
	MoveAttempts int
	MoveBackoff  time.Duration
	QueueSize    int
	DisableSync  bool
}

// DefaultConfig returns a baseline configuration for the snapshot writer.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:          dir,
		Name:         defaultName,
		RolloverSize: defaultRolloverSize,
		MaxRollover:  defaultMaxRollover,
		OpenAttempts: defaultOpenAttempts,
		OpenBackoff:  defaultOpenBackoff,
		MoveAttempts: defaultMoveAttempts,
		MoveBackoff:  defaultMoveBackoff,
		QueueSize:    defaultQueueSize,
	}
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = defaultName
	}
	if c.RolloverSize == 0 {
		c.RolloverSize = defaultRolloverSize
	}
	if c.MaxRollover == 0 {
		c.MaxRollover = defaultMaxRollover
	}
	if c.OpenAttempts == 0 {
		c.OpenAttempts = defaultOpenAttempts
	}
	if c.OpenBackoff == 0 {
		c.OpenBackoff = defaultOpenBackoff
	}
	if c.MoveAttempts == 0 {
		c.MoveAttempts = defaultMoveAttempts
	}
	if c.MoveBackoff == 0 {
		c.MoveBackoff = defaultMoveBackoff
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.Dir == "" {
		return errors.New("invalid recorder config: Dir is empty")
	}
	if c.Name == "" {
		return errors.New("invalid recorder config: Name is empty")
	}
	if c.RolloverSize <= 0 {
		return errors.New("invalid recorder config: RolloverSize must be > 0")
	}
	if c.MaxRollover <= 0 {
		return errors.New("invalid recorder config: MaxRollover must be > 0")
	}
	if c.OpenAttempts <= 0 || c.MoveAttempts <= 0 {
		return errors.New("invalid recorder config: attempts must be > 0")
	}
	if c.OpenBackoff < 0 || c.MoveBackoff < 0 {
		return errors.New("invalid recorder config: backoff must be >= 0")
	}
	if c.QueueSize <= 0 {
		return errors.New("invalid recorder config: QueueSize must be > 0")
	}
	return nil
}
