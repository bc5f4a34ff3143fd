package codec

import (
	"encoding/binary"
	"math"

	"github.com/yanun0323/errors"

	"reconciler/internal/schema"
	"reconciler/internal/state"
	"reconciler/pkg/exception"
)

// OrderRecord is one physical order in a snapshot image. Orders reference each
// other through transient ids, zero means no reference.
type OrderRecord struct {
	ID                  int32
	Action              schema.OrderAction
	BrokerOrder         int64
	LogicalOrderID      int64
	LogicalSerialNumber int64
	State               schema.OrderState
	Price               schema.Price
	Flags               schema.OrderFlags
	ReplacedByID        int32
	OriginalOrderID     int32
	Side                schema.OrderSide
	Size                schema.Quantity
	Symbol              string
	Tag                 string
	Type                schema.OrderType
	UTCCreateTime       int64
	LastModifyTime      int64
	Sequence            int64
	CancelCount         int32
	Indexed             bool // present in the broker id index
}

// SerialEntry lists the orders of one serial number slot in slot order.
type SerialEntry struct {
	Serial int64
	IDs    []int32
}

// Image is the decoded content of one snapshot record.
type Image struct {
	RemoteSequence    int64
	LocalSequence     int64
	LastSequenceReset int64
	Orders            []OrderRecord
	Serials           []SerialEntry
	Positions         []state.PositionEntry
	Strategies        []state.StrategyPosition
}

const (
	orderFixedSize = 4 + 1 + 8 + 8 + 8 + 1 + 8 + 4 + 4 + 4 + 1 + 8 + 2 + 2 + 1 + 8 + 8 + 8 + 4 + 1
	headerSize     = 24
)

// AppendImage serializes img and appends it to dst.
func AppendImage(dst []byte, img Image) ([]byte, error) {
	dst = binary.LittleEndian.AppendUint64(dst, uint64(img.RemoteSequence))
	dst = binary.LittleEndian.AppendUint64(dst, uint64(img.LocalSequence))
	dst = binary.LittleEndian.AppendUint64(dst, uint64(img.LastSequenceReset))

	var err error
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(img.Orders)))
	for i := range img.Orders {
		if dst, err = appendOrder(dst, &img.Orders[i]); err != nil {
			return nil, err
		}
	}

	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(img.Serials)))
	for _, entry := range img.Serials {
		dst = binary.LittleEndian.AppendUint64(dst, uint64(entry.Serial))
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(entry.IDs)))
		for _, id := range entry.IDs {
			dst = binary.LittleEndian.AppendUint32(dst, uint32(id))
		}
	}

	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(img.Positions)))
	for _, entry := range img.Positions {
		if dst, err = appendString(dst, entry.Symbol); err != nil {
			return nil, err
		}
		dst = binary.LittleEndian.AppendUint64(dst, uint64(entry.Qty))
	}

	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(img.Strategies)))
	for _, sp := range img.Strategies {
		dst = binary.LittleEndian.AppendUint64(dst, uint64(sp.ID))
		if dst, err = appendString(dst, sp.Symbol); err != nil {
			return nil, err
		}
		dst = binary.LittleEndian.AppendUint64(dst, uint64(sp.ExpectedPosition))
		dst = binary.LittleEndian.AppendUint64(dst, uint64(sp.Recency))
	}
	return dst, nil
}

func appendOrder(dst []byte, o *OrderRecord) ([]byte, error) {
	var err error
	dst = binary.LittleEndian.AppendUint32(dst, uint32(o.ID))
	dst = append(dst, byte(o.Action))
	dst = binary.LittleEndian.AppendUint64(dst, uint64(o.BrokerOrder))
	dst = binary.LittleEndian.AppendUint64(dst, uint64(o.LogicalOrderID))
	dst = binary.LittleEndian.AppendUint64(dst, uint64(o.LogicalSerialNumber))
	dst = append(dst, byte(o.State))
	dst = binary.LittleEndian.AppendUint64(dst, uint64(o.Price))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(o.Flags))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(o.ReplacedByID))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(o.OriginalOrderID))
	dst = append(dst, byte(o.Side))
	dst = binary.LittleEndian.AppendUint64(dst, uint64(o.Size))
	if dst, err = appendString(dst, o.Symbol); err != nil {
		return nil, err
	}
	if dst, err = appendString(dst, o.Tag); err != nil {
		return nil, err
	}
	dst = append(dst, byte(o.Type))
	dst = binary.LittleEndian.AppendUint64(dst, uint64(o.UTCCreateTime))
	dst = binary.LittleEndian.AppendUint64(dst, uint64(o.LastModifyTime))
	dst = binary.LittleEndian.AppendUint64(dst, uint64(o.Sequence))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(o.CancelCount))
	if o.Indexed {
		dst = append(dst, 1)
	} else {
		dst = append(dst, 0)
	}
	return dst, nil
}

func appendString(dst []byte, s string) ([]byte, error) {
	if len(s) > math.MaxUint16 {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "string too long: %d", len(s))
	}
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(s)))
	return append(dst, s...), nil
}

// DecodeImage parses a snapshot payload. Any malformed input returns an error
// wrapping exception.ErrSnapshotCorrupt.
func DecodeImage(src []byte) (Image, error) {
	r := reader{buf: src}
	var img Image
	if len(src) < headerSize {
		return Image{}, errors.Wrapf(exception.ErrSnapshotCorrupt, "payload too short: %d", len(src))
	}
	img.RemoteSequence = int64(r.u64())
	img.LocalSequence = int64(r.u64())
	img.LastSequenceReset = int64(r.u64())

	n := r.count(orderFixedSize)
	img.Orders = make([]OrderRecord, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		img.Orders = append(img.Orders, r.order())
	}

	n = r.count(12)
	img.Serials = make([]SerialEntry, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		entry := SerialEntry{Serial: int64(r.u64())}
		m := r.count(4)
		entry.IDs = make([]int32, 0, m)
		for j := 0; j < m && r.err == nil; j++ {
			entry.IDs = append(entry.IDs, int32(r.u32()))
		}
		img.Serials = append(img.Serials, entry)
	}

	n = r.count(10)
	img.Positions = make([]state.PositionEntry, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		symbol := r.str()
		img.Positions = append(img.Positions, state.PositionEntry{Symbol: symbol, Qty: schema.Quantity(r.u64())})
	}

	n = r.count(26)
	img.Strategies = make([]state.StrategyPosition, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		sp := state.StrategyPosition{ID: int64(r.u64())}
		sp.Symbol = r.str()
		sp.ExpectedPosition = schema.Quantity(r.u64())
		sp.Recency = int64(r.u64())
		img.Strategies = append(img.Strategies, sp)
	}

	if r.err != nil {
		return Image{}, r.err
	}
	if r.off != len(src) {
		return Image{}, errors.Wrapf(exception.ErrSnapshotCorrupt, "trailing bytes: %d", len(src)-r.off)
	}
	return img, nil
}

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || len(r.buf)-r.off < n {
		r.err = errors.Wrapf(exception.ErrSnapshotCorrupt, "unexpected end at offset %d", r.off)
		return false
	}
	return true
}

func (r *reader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) str() string {
	n := int(r.u16())
	if !r.need(n) {
		return ""
	}
	s := string(r.buf[r.off : r.off+n])
	r.off += n
	return s
}

// count reads an element count and checks it against the bytes left, using the
// minimum encoded size of one element.
func (r *reader) count(minSize int) int {
	n := int(r.u32())
	if r.err != nil {
		return 0
	}
	if n*minSize > len(r.buf)-r.off {
		r.err = errors.Wrapf(exception.ErrSnapshotCorrupt, "count %d exceeds payload at offset %d", n, r.off)
		return 0
	}
	return n
}

func (r *reader) order() OrderRecord {
	var o OrderRecord
	o.ID = int32(r.u32())
	o.Action = schema.OrderAction(r.u8())
	o.BrokerOrder = int64(r.u64())
	o.LogicalOrderID = int64(r.u64())
	o.LogicalSerialNumber = int64(r.u64())
	o.State = schema.OrderState(r.u8())
	o.Price = schema.Price(r.u64())
	o.Flags = schema.OrderFlags(r.u32())
	o.ReplacedByID = int32(r.u32())
	o.OriginalOrderID = int32(r.u32())
	o.Side = schema.OrderSide(r.u8())
	o.Size = schema.Quantity(r.u64())
	o.Symbol = r.str()
	o.Tag = r.str()
	o.Type = schema.OrderType(r.u8())
	o.UTCCreateTime = int64(r.u64())
	o.LastModifyTime = int64(r.u64())
	o.Sequence = int64(r.u64())
	o.CancelCount = int32(r.u32())
	o.Indexed = r.u8() == 1
	return o
}
