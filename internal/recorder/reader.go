package recorder

import (
	"encoding/binary"
	"os"

	"github.com/failsafe-go/failsafe-go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"reconciler/pkg/exception"
)

// Frame is one length-prefixed record found in a snapshot file.
type Frame struct {
	Offset int64
	Body   []byte
}

// SplitFrames cuts data into length-prefixed frames. It stops at the first
// frame that does not fit and reports the tail as torn.
func SplitFrames(data []byte) ([]Frame, bool) {
	var frames []Frame
	off := 0
	for off < len(data) {
		if len(data)-off < lengthSize {
			return frames, true
		}
		n := int(int32(binary.LittleEndian.Uint32(data[off:])))
		if n < minRecordBody || n > len(data)-off-lengthSize {
			return frames, true
		}
		frames = append(frames, Frame{
			Offset: int64(off),
			Body:   data[off+lengthSize : off+lengthSize+n],
		})
		off += lengthSize + n
	}
	return frames, false
}

// LoadLatest walks the snapshot files newest first and, within a file, the
// records last to first. fn is called with each valid payload until it
// returns nil. It returns the path of the accepted file.
func LoadLatest(cfg Config, fn func(path string, payload []byte) error) (string, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	openPolicy := newRetryPolicy(cfg.OpenAttempts, cfg.OpenBackoff)

	for _, path := range ExistingFiles(cfg) {
		var data []byte
		err := failsafe.With[any](openPolicy).Run(func() error {
			var err error
			data, err = os.ReadFile(path)
			return err
		})
		if err != nil {
			logs.Errorf("read snapshot file %s, err: %+v", path, err)
			continue
		}

		frames, torn := SplitFrames(data)
		if torn {
			logs.Warnf("snapshot file %s has a torn tail after %d records", path, len(frames))
		}
		for i := len(frames) - 1; i >= 0; i-- {
			payload, _, err := DecodeRecord(frames[i].Body)
			if err != nil {
				logs.Warnf("skip snapshot record, file: %s, offset: %d, err: %+v", path, frames[i].Offset, err)
				continue
			}
			if err := fn(path, payload); err != nil {
				logs.Warnf("reject snapshot record, file: %s, offset: %d, err: %+v", path, frames[i].Offset, err)
				continue
			}
			return path, nil
		}
	}
	return "", errors.Wrapf(exception.ErrSnapshotNotFound, "dir: %s, name: %s", cfg.Dir, cfg.Name)
}
