package recorder

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"reconciler/pkg/exception"
)

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig(t.TempDir())
	cfg.Name = "test"
	cfg.OpenBackoff = 1
	cfg.MoveBackoff = 1
	cfg.DisableSync = true
	return cfg
}

func TestRecordRoundTrip(t *testing.T) {
	frame := AppendRecord(nil, []byte("payload"), 3)
	assert.Equal(t, uint32(len(frame)-lengthSize), binary.LittleEndian.Uint32(frame))

	payload, flags, err := DecodeRecord(frame[lengthSize:])
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), payload)
	assert.Equal(t, uint16(3), flags)

	frame[lengthSize+recordHeaderSize] ^= 0xff
	_, _, err = DecodeRecord(frame[lengthSize:])
	require.True(t, errors.Is(err, exception.ErrSnapshotCorrupt))

	frame = AppendRecord(nil, nil, 0)
	frame[lengthSize+4] = 99
	_, _, err = DecodeRecord(frame[lengthSize:])
	require.True(t, errors.Is(err, exception.ErrSnapshotVersion))
}

func TestSplitFramesTorn(t *testing.T) {
	var data []byte
	data = AppendRecord(data, []byte("one"), 0)
	data = AppendRecord(data, []byte("two"), 0)

	frames, torn := SplitFrames(data)
	assert.False(t, torn)
	require.Len(t, frames, 2)

	frames, torn = SplitFrames(data[:len(data)-3])
	assert.True(t, torn)
	require.Len(t, frames, 1)
	payload, _, err := DecodeRecord(frames[0].Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), payload)
}

func TestWriterRolloverBound(t *testing.T) {
	cfg := testConfig(t)
	cfg.RolloverSize = 64
	w, err := NewWriter(cfg)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{'x'}, 80)
	for range 25 {
		require.NoError(t, w.Append(payload))
	}
	require.NoError(t, w.Wait())
	require.NoError(t, w.Close())

	entries, err := os.ReadDir(cfg.Dir)
	require.NoError(t, err)
	assert.Len(t, entries, cfg.MaxRollover+1)
	assert.Len(t, ExistingFiles(cfg), cfg.MaxRollover+1)
	_, err = os.Stat(RolloverPath(cfg, cfg.MaxRollover+1))
	assert.True(t, os.IsNotExist(err))
}

func TestWriterForceRollover(t *testing.T) {
	cfg := testConfig(t)
	w, err := NewWriter(cfg)
	require.NoError(t, err)

	require.NoError(t, w.Append([]byte("first")))
	require.NoError(t, w.Wait())
	w.ForceRollover()
	require.NoError(t, w.Append([]byte("second")))
	require.NoError(t, w.Close())

	assert.Equal(t, []string{RolloverPath(cfg, 0), RolloverPath(cfg, 1)}, ExistingFiles(cfg))
	require.True(t, errors.Is(w.Append([]byte("late")), exception.ErrStoreClosed))
}

func TestLoadLatestFallback(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Dir, 0o755))

	var older []byte
	older = AppendRecord(older, []byte("old"), 0)
	require.NoError(t, os.WriteFile(RolloverPath(cfg, 1), older, 0o644))

	var active []byte
	active = AppendRecord(active, []byte("penultimate"), 0)
	active = AppendRecord(active, []byte("last"), 0)
	active = active[:len(active)-2]
	require.NoError(t, os.WriteFile(RolloverPath(cfg, 0), active, 0o644))

	var got string
	path, err := LoadLatest(cfg, func(_ string, payload []byte) error {
		got = string(payload)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "penultimate", got)
	assert.Equal(t, filepath.Join(cfg.Dir, "test.dat"), path)

	var seen []string
	_, err = LoadLatest(cfg, func(_ string, payload []byte) error {
		seen = append(seen, string(payload))
		return exception.ErrSnapshotCorrupt
	})
	require.True(t, errors.Is(err, exception.ErrSnapshotNotFound))
	assert.Equal(t, []string{"penultimate", "old"}, seen)
}
