package procurement

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atelier-erp/atelier/internal/rbac"
)

// POStatus is the purchase order lifecycle status.
type POStatus string

const (
	StatusDraft             POStatus = "draft"
	StatusPendingApproval   POStatus = "pending_approval"
	StatusApproved          POStatus = "approved"
	StatusRejected          POStatus = "rejected"
	StatusSentToVendor      POStatus = "sent_to_vendor"
	StatusAcknowledged      POStatus = "acknowledged"
	StatusDispatched        POStatus = "dispatched"
	StatusPartiallyReceived POStatus = "partially_received"
	StatusFullyReceived     POStatus = "fully_received"
	StatusClosed            POStatus = "closed"
	StatusCancelled         POStatus = "cancelled"
)

var allStatuses = []POStatus{
	StatusDraft, StatusPendingApproval, StatusApproved, StatusRejected, StatusSentToVendor,
	StatusAcknowledged, StatusDispatched, StatusPartiallyReceived, StatusFullyReceived,
	StatusClosed, StatusCancelled,
}

// Valid reports whether s is a member of the lifecycle enum.
func (s POStatus) Valid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether s has no outgoing transitions.
func (s POStatus) Terminal() bool {
	return s == StatusRejected || s == StatusClosed || s == StatusCancelled
}

// Receivable reports whether goods receipts may be recorded in s.
func (s POStatus) Receivable() bool {
	return s == StatusDispatched || s == StatusAcknowledged || s == StatusPartiallyReceived
}

// PaymentStatus is the payment axis, independent of the lifecycle status.
type PaymentStatus string

const (
	PaymentUnpaid        PaymentStatus = "unpaid"
	PaymentPartiallyPaid PaymentStatus = "partially_paid"
	PaymentFullyPaid     PaymentStatus = "fully_paid"
)

// Valid reports whether p is a known payment status.
func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentUnpaid, PaymentPartiallyPaid, PaymentFullyPaid:
		return true
	}
	return false
}

// GRNStatus is the goods receipt status. Receipts are created completed.
type GRNStatus string

const GRNStatusCompleted GRNStatus = "completed"

// Milestones holds the per-transition timestamps of a purchase order.
type Milestones struct {
	SubmittedAt         *time.Time `json:"submitted_at,omitempty"`
	ApprovedAt          *time.Time `json:"approved_at,omitempty"`
	RejectedAt          *time.Time `json:"rejected_at,omitempty"`
	SentAt              *time.Time `json:"sent_at,omitempty"`
	AcknowledgedAt      *time.Time `json:"acknowledged_at,omitempty"`
	DispatchedAt        *time.Time `json:"dispatched_at,omitempty"`
	PartiallyReceivedAt *time.Time `json:"partially_received_at,omitempty"`
	FullyReceivedAt     *time.Time `json:"fully_received_at,omitempty"`
	ClosedAt            *time.Time `json:"closed_at,omitempty"`
	CancelledAt         *time.Time `json:"cancelled_at,omitempty"`
}

func (m *Milestones) stamp(status POStatus, at time.Time) {
	t := at
	switch status {
	case StatusPendingApproval:
		m.SubmittedAt = &t
	case StatusApproved:
		m.ApprovedAt = &t
	case StatusRejected:
		m.RejectedAt = &t
	case StatusSentToVendor:
		m.SentAt = &t
	case StatusAcknowledged:
		m.AcknowledgedAt = &t
	case StatusDispatched:
		m.DispatchedAt = &t
	case StatusPartiallyReceived:
		m.PartiallyReceivedAt = &t
	case StatusFullyReceived:
		m.FullyReceivedAt = &t
	case StatusClosed:
		m.ClosedAt = &t
	case StatusCancelled:
		m.CancelledAt = &t
	}
}

// PurchaseOrder is the tenant's order to a vendor.
type PurchaseOrder struct {
	ID              uuid.UUID       `json:"id"`
	TenantID        uuid.UUID       `json:"tenant_id"`
	Number          string          `json:"number"`
	Vendor          string          `json:"vendor"`
	Currency        string          `json:"currency"`
	Total           decimal.Decimal `json:"total"`
	Status          POStatus        `json:"status"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	CreatedBy       uuid.UUID       `json:"created_by"`
	ApprovedBy      *uuid.UUID      `json:"approved_by,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	Milestones
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// POItem is a material line owned by a purchase order.
type POItem struct {
	ID          uuid.UUID       `json:"id"`
	TenantID    uuid.UUID       `json:"tenant_id"`
	POID        uuid.UUID       `json:"po_id"`
	LineNo      int             `json:"line_no"`
	Material    string          `json:"material"`
	Unit        string          `json:"unit"`
	OrderedQty  decimal.Decimal `json:"ordered_qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	ReceivedQty decimal.Decimal `json:"received_qty"`
}

// LineTotal returns ordered quantity times unit price.
func (i POItem) LineTotal() decimal.Decimal {
	return i.OrderedQty.Mul(i.UnitPrice)
}

// GoodsReceipt is a goods receipt note (GRN) recorded against a purchase order.
type GoodsReceipt struct {
	ID                 uuid.UUID `json:"id"`
	TenantID           uuid.UUID `json:"tenant_id"`
	POID               uuid.UUID `json:"po_id"`
	Number             string    `json:"number"`
	Status             GRNStatus `json:"status"`
	ReceivedDate       time.Time `json:"received_date"`
	DeliveryNoteNumber string    `json:"delivery_note_number,omitempty"`
	VehicleNumber      string    `json:"vehicle_number,omitempty"`
	Notes              string    `json:"notes,omitempty"`
	ReceivedBy         uuid.UUID `json:"received_by"`
	CreatedAt          time.Time `json:"created_at"`
	Items              []GRNItem `json:"items"`
}

// GRNItem is one immutable receipt line.
type GRNItem struct {
	ID               uuid.UUID       `json:"id"`
	GRNID            uuid.UUID       `json:"grn_id"`
	POItemID         uuid.UUID       `json:"po_item_id"`
	QuantityReceived decimal.Decimal `json:"quantity_received"`
	QuantityAccepted decimal.Decimal `json:"quantity_accepted"`
	QuantityRejected decimal.Decimal `json:"quantity_rejected"`
	RejectionReason  string          `json:"rejection_reason,omitempty"`
}

// ApprovalConfig holds a tenant's monetary approval thresholds.
type ApprovalConfig struct {
	TenantID    uuid.UUID       `json:"tenant_id"`
	Level1Limit decimal.Decimal `json:"level1_limit"`
	Level2Limit decimal.Decimal `json:"level2_limit"`
	Level2Role  rbac.Role       `json:"level2_role"`
	Level3Role  rbac.Role       `json:"level3_role"`
}

// HistoryEntry is an append-only status change record.
type HistoryEntry struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	POID        uuid.UUID `json:"po_id"`
	Action      string    `json:"action"`
	FromStatus  POStatus  `json:"from_status"`
	ToStatus    POStatus  `json:"to_status"`
	PerformedBy uuid.UUID `json:"performed_by"`
	Note        string    `json:"note,omitempty"`
	At          time.Time `json:"at"`
}

// OrderRef addresses a purchase order across tenants.
type OrderRef struct {
	TenantID uuid.UUID
	ID       uuid.UUID
}

// SystemActorID is recorded as the performer of sweep-driven transitions.
var SystemActorID = uuid.MustParse("00000000-0000-0000-0000-00000000a71e")
