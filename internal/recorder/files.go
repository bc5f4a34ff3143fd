package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/yanun0323/errors"
)

// ActivePath returns the path of the file that receives new records.
func ActivePath(cfg Config) string {
	return filepath.Join(cfg.Dir, cfg.Name+".dat")
}

// RolloverPath returns the path of rollover generation i, where 0 is the active file.
func RolloverPath(cfg Config, i int) string {
	if i == 0 {
		return ActivePath(cfg)
	}
	return fmt.Sprintf("%s.%d", ActivePath(cfg), i)
}

// ExistingFiles lists the snapshot files on disk, newest first.
func ExistingFiles(cfg Config) []string {
	cfg = cfg.withDefaults()
	var files []string
	for i := 0; i <= cfg.MaxRollover; i++ {
		path := RolloverPath(cfg, i)
		if _, err := os.Stat(path); err == nil {
			files = append(files, path)
		}
	}
	return files
}

func newRetryPolicy(attempts int, delay time.Duration) retrypolicy.RetryPolicy[any] {
	return retrypolicy.NewBuilder[any]().
		WithDelay(delay).
		WithMaxRetries(attempts - 1).
		Build()
}

// rotate shifts every generation one step older and drops the oldest one.
func rotate(cfg Config, movePolicy retrypolicy.RetryPolicy[any]) error {
	oldest := RolloverPath(cfg, cfg.MaxRollover)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove %s", oldest)
	}
	for i := cfg.MaxRollover - 1; i >= 0; i-- {
		from := RolloverPath(cfg, i)
		if _, err := os.Stat(from); err != nil {
			continue
		}
		to := RolloverPath(cfg, i+1)
		err := failsafe.With[any](movePolicy).Run(func() error {
			return os.Rename(from, to)
		})
		if err != nil {
			return errors.Wrapf(err, "move %s to %s", from, to)
		}
	}
	return nil
}
