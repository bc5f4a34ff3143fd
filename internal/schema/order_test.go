package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"reconciler/pkg/exception"
)

func TestNewPhysicalOrderRequiresOriginal(t *testing.T) {
	_, err := NewPhysicalOrder(PhysicalOrderConfig{
		Action:      OrderActionCancel,
		Symbol:      "ES",
		BrokerOrder: 7,
	})
	require.True(t, errors.Is(err, exception.ErrMissingOriginalOrder))

	_, err = NewPhysicalOrder(PhysicalOrderConfig{
		Action:      OrderActionChange,
		Symbol:      "ES",
		Side:        OrderSideBuy,
		Size:        10,
		BrokerOrder: 8,
	})
	require.True(t, errors.Is(err, exception.ErrMissingOriginalOrder))
}

func TestNewPhysicalOrderLinksOriginal(t *testing.T) {
	logical := &LogicalOrder{ID: 3, SerialNumber: 42, Tag: "entry"}
	original, err := NewPhysicalOrder(PhysicalOrderConfig{
		Symbol:      "ES",
		Side:        OrderSideBuy,
		Type:        OrderTypeBuyLimit,
		Price:       1000,
		Size:        100,
		Logical:     logical,
		BrokerOrder: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), original.LogicalSerialNumber)
	assert.Equal(t, "entry", original.Tag)

	cancel, err := NewPhysicalOrder(PhysicalOrderConfig{
		Action:        OrderActionCancel,
		Symbol:        "ES",
		BrokerOrder:   2,
		OriginalOrder: original,
	})
	require.NoError(t, err)
	assert.Same(t, original, cancel.OriginalOrder)
	assert.Nil(t, original.ReplacedBy)
	assert.Equal(t, int64(42), cancel.LogicalSerialNumber)
	assert.Equal(t, Quantity(100), cancel.Size)
	assert.Equal(t, OrderSideBuy, cancel.Side)

	LinkReplacement(original, cancel)
	assert.Same(t, cancel, original.ReplacedBy)
	Unlink(original, cancel)
	assert.Nil(t, original.ReplacedBy)
}

func TestNewPhysicalOrderRejectsBadConfig(t *testing.T) {
	_, err := NewPhysicalOrder(PhysicalOrderConfig{Symbol: "ES", Size: 1})
	require.True(t, errors.Is(err, exception.ErrOrderZeroBrokerID))

	_, err = NewPhysicalOrder(PhysicalOrderConfig{Symbol: "ES", BrokerOrder: 1})
	require.True(t, errors.Is(err, exception.ErrOrderInvalidConfig))
}

func TestSignedSize(t *testing.T) {
	o := &PhysicalOrder{Side: OrderSideSellShort, Size: 5}
	assert.Equal(t, Quantity(-5), o.SignedSize())
	o.Side = OrderSideBuy
	assert.Equal(t, Quantity(5), o.SignedSize())
}
