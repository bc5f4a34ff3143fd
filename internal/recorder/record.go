package recorder

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/yanun0323/errors"

	"reconciler/internal/schema"
	"reconciler/pkg/exception"
)

// A record on disk:
//
//	int32 length (excludes itself)
//	[4]byte magic "OSNP"
//	uint16 format version
//	uint16 flags
//	payload
//	uint32 CRC-32C over magic, version, flags and payload
const (
	lengthSize         = 4
	recordHeaderSize   = 8
	recordChecksumSize = 4
	minRecordBody      = recordHeaderSize + recordChecksumSize
)

var (
	recordMagic = [4]byte{'O', 'S', 'N', 'P'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

// AppendRecord frames payload as one record and appends it to dst.
func AppendRecord(dst []byte, payload []byte, flags uint16) []byte {
	bodyLen := recordHeaderSize + len(payload) + recordChecksumSize
	dst = binary.LittleEndian.AppendUint32(dst, uint32(bodyLen))
	start := len(dst)
	dst = append(dst, recordMagic[:]...)
	dst = binary.LittleEndian.AppendUint16(dst, schema.SnapshotVersion)
	dst = binary.LittleEndian.AppendUint16(dst, flags)
	dst = append(dst, payload...)
	sum := crc32.Checksum(dst[start:], crcTable)
	return binary.LittleEndian.AppendUint32(dst, sum)
}

// DecodeRecord validates a record body (the bytes after the length prefix)
// and returns its payload.
func DecodeRecord(body []byte) ([]byte, uint16, error) {
	if len(body) < minRecordBody {
		return nil, 0, errors.Wrapf(exception.ErrSnapshotCorrupt, "record too short: %d", len(body))
	}
	if !bytes.Equal(body[0:4], recordMagic[:]) {
		return nil, 0, errors.Wrap(exception.ErrSnapshotCorrupt, "invalid magic")
	}
	if ver := binary.LittleEndian.Uint16(body[4:6]); ver != schema.SnapshotVersion {
		return nil, 0, errors.Wrapf(exception.ErrSnapshotVersion, "version: %d", ver)
	}
	flags := binary.LittleEndian.Uint16(body[6:8])
	end := len(body) - recordChecksumSize
	expected := binary.LittleEndian.Uint32(body[end:])
	if sum := crc32.Checksum(body[:end], crcTable); sum != expected {
		return nil, 0, errors.Wrap(exception.ErrSnapshotCorrupt, "checksum mismatch")
	}
	return body[recordHeaderSize:end], flags, nil
}
