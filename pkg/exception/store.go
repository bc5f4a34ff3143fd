package exception

import "github.com/yanun0323/errors"

var (
	ErrStoreUnavailable  = errors.New("store: snapshot file unavailable")
	ErrStoreClosed       = errors.New("store: closed")
	ErrSnapshotReference = errors.New("snapshot: reference to unknown order id")
	ErrSnapshotCorrupt   = errors.New("snapshot: corrupt record")
	ErrSnapshotVersion   = errors.New("snapshot: unsupported format version")
	ErrSnapshotNotFound  = errors.New("snapshot: no valid record")
)
