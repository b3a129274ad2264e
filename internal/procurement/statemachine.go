package procurement

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// humanTransitions lists the targets a caller may request from each status. Receiving
// statuses are absent as targets: only reconciliation produces them.
var humanTransitions = map[POStatus][]POStatus{
	StatusDraft:             {StatusPendingApproval, StatusCancelled},
	StatusPendingApproval:   {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:          {StatusSentToVendor, StatusDraft, StatusCancelled},
	StatusSentToVendor:      {StatusAcknowledged, StatusDispatched, StatusCancelled},
	StatusAcknowledged:      {StatusDispatched, StatusCancelled},
	StatusDispatched:        {StatusCancelled},
	StatusPartiallyReceived: {StatusCancelled},
	StatusFullyReceived:     {StatusClosed},
}

// systemTransitions are applied by reconciliation after a receipt.
var systemTransitions = map[POStatus][]POStatus{
	StatusAcknowledged:      {StatusPartiallyReceived, StatusFullyReceived},
	StatusDispatched:        {StatusPartiallyReceived, StatusFullyReceived},
	StatusPartiallyReceived: {StatusFullyReceived},
}

// AllowedTransitions returns the caller-requestable targets from status. Terminal statuses
// yield an empty, non-nil set.
func AllowedTransitions(from POStatus) []POStatus {
	targets := humanTransitions[from]
	out := make([]POStatus, len(targets))
	copy(out, targets)
	return out
}

func contains(set []POStatus, s POStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// CheckTransition validates a caller-requested move of po to target, including the
// closure precondition.
func CheckTransition(po PurchaseOrder, target POStatus) error {
	if po.Status.Terminal() {
		return invalidTransition(po.Status, target)
	}
	if target == StatusClosed && (po.Status != StatusFullyReceived || po.PaymentStatus != PaymentFullyPaid) {
		return newError(CodePreconditionFailed, fmt.Sprintf(
			"closing requires status %s and payment %s, have %s and %s",
			StatusFullyReceived, PaymentFullyPaid, po.Status, po.PaymentStatus))
	}
	if !contains(humanTransitions[po.Status], target) {
		return invalidTransition(po.Status, target)
	}
	return nil
}

// CanSystemTransition reports whether reconciliation may move from to target.
func CanSystemTransition(from, target POStatus) bool {
	return contains(systemTransitions[from], target)
}

func invalidTransition(from, target POStatus) error {
	return &Error{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("cannot move purchase order from %s to %s", from, target),
		Allowed: AllowedTransitions(from),
	}
}

// applyTransition mutates po to target and stamps its side effects.
func applyTransition(po *PurchaseOrder, target POStatus, actor uuid.UUID, reason string, at time.Time) {
	from := po.Status
	po.Milestones.stamp(target, at)
	switch target {
	case StatusApproved:
		approver := actor
		po.ApprovedBy = &approver
	case StatusRejected:
		if reason != "" {
			po.RejectionReason = reason
		}
	case StatusDraft:
		if from == StatusApproved {
			po.ApprovedBy = nil
			po.ApprovedAt = nil
		}
	}
	po.Status = target
	po.UpdatedAt = at
}

// historyAction names the history entry written for a move to target.
func historyAction(from, target POStatus) string {
	switch target {
	case StatusPendingApproval:
		return "submit"
	case StatusApproved:
		return "approve"
	case StatusRejected:
		return "reject"
	case StatusSentToVendor:
		return "send_to_vendor"
	case StatusAcknowledged:
		return "acknowledge"
	case StatusDispatched:
		return "dispatch"
	case StatusPartiallyReceived:
		return "receive_partial"
	case StatusFullyReceived:
		return "receive_full"
	case StatusClosed:
		return "close"
	case StatusCancelled:
		return "cancel"
	case StatusDraft:
		if from == StatusApproved {
			return "revert_to_draft"
		}
		return "draft"
	}
	return string(target)
}
