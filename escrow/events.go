package escrow

import (
	"encoding/hex"
	"strconv"

	"escrowd/core/types"
)

const (
	EventTypeDeposited            = "escrow.deposited"
	EventTypeReleased             = "escrow.released"
	EventTypeRefunded             = "escrow.refunded"
	EventTypeAutoReleased         = "escrow.auto_released"
	EventTypeEmergencyRefunded    = "escrow.emergency_refunded"
	EventTypePauseToggled         = "escrow.pause_toggled"
	EventTypeOwnershipTransferred = "escrow.ownership_transferred"
)

// NewDepositedEvent returns the canonical event payload for a newly deposited
// job.
func NewDepositedEvent(j *Job) *types.Event {
	evt := newJobEvent(EventTypeDeposited, j)
	if j != nil {
		evt.Attributes["client"] = hex.EncodeToString(j.Client[:])
		evt.Attributes["freelancer"] = hex.EncodeToString(j.Freelancer[:])
	}
	return evt
}

// NewReleasedEvent returns the canonical event payload for a client-initiated
// release of custody to the freelancer.
func NewReleasedEvent(j *Job) *types.Event { return newJobEvent(EventTypeReleased, j) }

// NewRefundedEvent returns the canonical event payload for a pre-deadline
// refund to the client.
func NewRefundedEvent(j *Job) *types.Event { return newJobEvent(EventTypeRefunded, j) }

// NewAutoReleasedEvent returns the canonical event payload for a
// freelancer-claimed release after the deadline.
func NewAutoReleasedEvent(j *Job) *types.Event { return newJobEvent(EventTypeAutoReleased, j) }

// NewEmergencyRefundedEvent returns the canonical event payload for an
// administrator override refund.
func NewEmergencyRefundedEvent(j *Job, admin [20]byte) *types.Event {
	evt := newJobEvent(EventTypeEmergencyRefunded, j)
	delete(evt.Attributes, "amount")
	evt.Attributes["admin"] = hex.EncodeToString(admin[:])
	return evt
}

// NewPauseToggledEvent returns the canonical event payload for a pause flag
// change.
func NewPauseToggledEvent(paused bool) *types.Event {
	return &types.Event{
		Type:       EventTypePauseToggled,
		Attributes: map[string]string{"paused": strconv.FormatBool(paused)},
	}
}

// NewOwnershipTransferredEvent returns the canonical event payload for an
// administrator rotation.
func NewOwnershipTransferredEvent(oldAdmin, newAdmin [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeOwnershipTransferred,
		Attributes: map[string]string{
			"oldAdmin": hex.EncodeToString(oldAdmin[:]),
			"newAdmin": hex.EncodeToString(newAdmin[:]),
		},
	}
}

func newJobEvent(eventType string, j *Job) *types.Event {
	attrs := make(map[string]string)
	if j == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(j.ID, 10)
	if j.Amount != nil {
		attrs["amount"] = j.Amount.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
