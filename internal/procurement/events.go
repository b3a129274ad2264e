package procurement

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Domain event names.
const (
	EventPOSubmitted         = "po.submitted"
	EventPOApproved          = "po.approved"
	EventPORejected          = "po.rejected"
	EventPOSentToVendor      = "po.sent_to_vendor"
	EventPOAcknowledged      = "po.acknowledged"
	EventPODispatched        = "po.dispatched"
	EventPOPartiallyReceived = "po.partially_received"
	EventPOFullyReceived     = "po.fully_received"
	EventPOClosed            = "po.closed"
	EventPOCancelled         = "po.cancelled"
	EventPORevertedToDraft   = "po.reverted_to_draft"
	EventGRNCreated          = "grn.created"
)

// Event is emitted after a committed change for notification collaborators.
type Event struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	TenantID   uuid.UUID  `json:"tenant_id"`
	POID       uuid.UUID  `json:"po_id"`
	PONumber   string     `json:"po_number"`
	GRNID      *uuid.UUID `json:"grn_id,omitempty"`
	GRNNumber  string     `json:"grn_number,omitempty"`
	FromStatus POStatus   `json:"from_status,omitempty"`
	ToStatus   POStatus   `json:"to_status,omitempty"`
	ActorID    uuid.UUID  `json:"actor_id"`
	At         time.Time  `json:"at"`
}

// Publisher delivers events. Implementations must not block on slow consumers.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

func eventName(from, target POStatus) string {
	switch target {
	case StatusPendingApproval:
		return EventPOSubmitted
	case StatusApproved:
		return EventPOApproved
	case StatusRejected:
		return EventPORejected
	case StatusSentToVendor:
		return EventPOSentToVendor
	case StatusAcknowledged:
		return EventPOAcknowledged
	case StatusDispatched:
		return EventPODispatched
	case StatusPartiallyReceived:
		return EventPOPartiallyReceived
	case StatusFullyReceived:
		return EventPOFullyReceived
	case StatusClosed:
		return EventPOClosed
	case StatusCancelled:
		return EventPOCancelled
	case StatusDraft:
		if from == StatusApproved {
			return EventPORevertedToDraft
		}
	}
	return ""
}

func transitionEvent(po PurchaseOrder, entry HistoryEntry) Event {
	return Event{
		ID:         uuid.New(),
		Name:       eventName(entry.FromStatus, entry.ToStatus),
		TenantID:   po.TenantID,
		POID:       po.ID,
		PONumber:   po.Number,
		FromStatus: entry.FromStatus,
		ToStatus:   entry.ToStatus,
		ActorID:    entry.PerformedBy,
		At:         entry.At,
	}
}
