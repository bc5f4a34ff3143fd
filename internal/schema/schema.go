package schema

// SnapshotVersion is the current snapshot payload format version.
const SnapshotVersion uint16 = 1

// EventType defines the category of an event handled by a symbol runner.
type EventType uint16

const (
	EventUnknown EventType = iota
	EventPositionChange
	EventProcessOrders
	EventFill
	EventConfirmActive
	EventConfirmCreate
	EventConfirmChange
	EventConfirmCancel
	EventReject
	EventTick
)

var eventTypeNames = [...]string{
	EventUnknown:        "unknown",
	EventPositionChange: "position_change",
	EventProcessOrders:  "process_orders",
	EventFill:           "fill",
	EventConfirmActive:  "confirm_active",
	EventConfirmCreate:  "confirm_create",
	EventConfirmChange:  "confirm_change",
	EventConfirmCancel:  "confirm_cancel",
	EventReject:         "reject",
	EventTick:           "tick",
}

func (t EventType) String() string {
	if int(t) < len(eventTypeNames) {
		return eventTypeNames[t]
	}
	return eventTypeNames[EventUnknown]
}

// MaxEventType is the largest defined event type.
const MaxEventType = EventTick
