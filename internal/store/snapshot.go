package store

import (
	"time"

	"github.com/yanun0323/errors"

	"reconciler/internal/codec"
	"reconciler/internal/schema"
	"reconciler/pkg/exception"
)

// SnapshotInMemory encodes the whole store into one snapshot payload.
//
// Transient ids are assigned by a depth-first walk over the broker id index
// and then the serial index, following OriginalOrder and ReplacedBy, so
// orders only reachable through a chain are written as well.
func (s *Store) SnapshotInMemory() ([]byte, error) {
	t := s.BeginTransaction()
	img := buildImage(t)
	t.EndTransaction()

	s.seqMu.Lock()
	img.RemoteSequence = s.remoteSequence
	img.LocalSequence = s.localSequence
	img.LastSequenceReset = unixNano(s.lastSequenceReset)
	s.seqMu.Unlock()

	img.Positions = s.Positions().Entries()
	img.Strategies = s.Positions().Strategies()
	return codec.AppendImage(nil, img)
}

func buildImage(t *Txn) codec.Image {
	ids := make(map[*schema.PhysicalOrder]int32)
	var walked []*schema.PhysicalOrder

	var visit func(o *schema.PhysicalOrder)
	visit = func(o *schema.PhysicalOrder) {
		if o == nil {
			return
		}
		if _, seen := ids[o]; seen {
			return
		}
		ids[o] = int32(len(walked) + 1)
		walked = append(walked, o)
		visit(o.OriginalOrder)
		visit(o.ReplacedBy)
	}

	for _, o := range t.Orders() {
		visit(o)
	}
	serials := t.Serials()
	for _, serial := range serials {
		for _, o := range t.c.bySerial[serial] {
			visit(o)
		}
	}

	img := codec.Image{
		Orders:  make([]codec.OrderRecord, 0, len(walked)),
		Serials: make([]codec.SerialEntry, 0, len(serials)),
	}
	for _, o := range walked {
		entry, indexed := t.c.byBroker[o.BrokerOrder]
		img.Orders = append(img.Orders, codec.OrderRecord{
			ID:                  ids[o],
			Action:              o.Action,
			BrokerOrder:         o.BrokerOrder,
			LogicalOrderID:      o.LogicalOrderID,
			LogicalSerialNumber: o.LogicalSerialNumber,
			State:               o.State,
			Price:               o.Price,
			Flags:               o.Flags,
			ReplacedByID:        ids[o.ReplacedBy],
			OriginalOrderID:     ids[o.OriginalOrder],
			Side:                o.Side,
			Size:                o.Size,
			Symbol:              o.Symbol,
			Tag:                 o.Tag,
			Type:                o.Type,
			UTCCreateTime:       unixNano(o.UTCCreateTime),
			LastModifyTime:      unixNano(o.LastModifyTime),
			Sequence:            o.Sequence,
			CancelCount:         int32(o.CancelCount),
			Indexed:             indexed && entry.order == o,
		})
	}
	for _, serial := range serials {
		slot := t.c.bySerial[serial]
		entry := codec.SerialEntry{Serial: serial, IDs: make([]int32, 0, len(slot))}
		for _, o := range slot {
			entry.IDs = append(entry.IDs, ids[o])
		}
		img.Serials = append(img.Serials, entry)
	}
	return img
}

// LoadSnapshot decodes a payload and replaces the store content with it. The
// store is left untouched when the payload is corrupt or references an
// unknown order id.
func (s *Store) LoadSnapshot(payload []byte) error {
	img, err := codec.DecodeImage(payload)
	if err != nil {
		return err
	}

	byID := make(map[int32]*schema.PhysicalOrder, len(img.Orders))
	for _, rec := range img.Orders {
		if rec.ID <= 0 {
			return errors.Wrapf(exception.ErrSnapshotCorrupt, "invalid order id: %d", rec.ID)
		}
		if _, dup := byID[rec.ID]; dup {
			return errors.Wrapf(exception.ErrSnapshotCorrupt, "duplicate order id: %d", rec.ID)
		}
		byID[rec.ID] = &schema.PhysicalOrder{
			Action:              rec.Action,
			State:               rec.State,
			Symbol:              rec.Symbol,
			Side:                rec.Side,
			Type:                rec.Type,
			Price:               rec.Price,
			Size:                rec.Size,
			LogicalOrderID:      rec.LogicalOrderID,
			LogicalSerialNumber: rec.LogicalSerialNumber,
			BrokerOrder:         rec.BrokerOrder,
			Sequence:            rec.Sequence,
			Tag:                 rec.Tag,
			LastModifyTime:      fromUnixNano(rec.LastModifyTime),
			UTCCreateTime:       fromUnixNano(rec.UTCCreateTime),
			CancelCount:         int(rec.CancelCount),
			Flags:               rec.Flags,
		}
	}

	resolve := func(id int32) (*schema.PhysicalOrder, error) {
		if id == 0 {
			return nil, nil
		}
		o, ok := byID[id]
		if !ok {
			return nil, errors.Wrapf(exception.ErrSnapshotReference, "order id: %d", id)
		}
		return o, nil
	}

	byBroker := make(map[int64]indexEntry)
	bySequence := make(map[int64]*schema.PhysicalOrder)
	bySerial := make(map[int64][]*schema.PhysicalOrder, len(img.Serials))
	for _, rec := range img.Orders {
		o := byID[rec.ID]
		var err error
		if o.OriginalOrder, err = resolve(rec.OriginalOrderID); err != nil {
			return err
		}
		if o.ReplacedBy, err = resolve(rec.ReplacedByID); err != nil {
			return err
		}
		if !rec.Indexed {
			continue
		}
		if o.Action != schema.OrderActionCreate && o.OriginalOrder == nil {
			return errors.Wrapf(exception.ErrMissingOriginalOrder, "order: %s", o)
		}
		byBroker[o.BrokerOrder] = indexEntry{order: o, sequence: o.Sequence, serial: o.LogicalSerialNumber}
		if o.Sequence != 0 {
			bySequence[o.Sequence] = o
		}
	}
	for _, entry := range img.Serials {
		slot := make([]*schema.PhysicalOrder, 0, len(entry.IDs))
		for _, id := range entry.IDs {
			o, err := resolve(id)
			if err != nil {
				return err
			}
			if o == nil {
				return errors.Wrapf(exception.ErrSnapshotReference, "serial %d lists id 0", entry.Serial)
			}
			slot = append(slot, o)
		}
		if len(slot) > 0 {
			bySerial[entry.Serial] = slot
		}
	}

	t := s.BeginTransaction()
	t.c.byBroker = byBroker
	t.c.bySequence = bySequence
	t.c.bySerial = bySerial
	t.EndTransaction()

	s.Positions().Apply(img.Positions, img.Strategies)

	s.seqMu.Lock()
	s.remoteSequence = img.RemoteSequence
	s.localSequence = img.LocalSequence
	s.lastSequenceReset = fromUnixNano(img.LastSequenceReset)
	s.seqMu.Unlock()

	s.updates.Store(0)
	return nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
