package procurement

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LineBalance is the receiving position of one PO item.
type LineBalance struct {
	ItemID   uuid.UUID
	Material string
	Ordered  decimal.Decimal
	Accepted decimal.Decimal
}

// Pending is the quantity still acceptable against the item, never negative.
func (b LineBalance) Pending() decimal.Decimal {
	pending := b.Ordered.Sub(b.Accepted)
	if pending.IsNegative() {
		return decimal.Zero
	}
	return pending
}

// Complete reports whether the ordered quantity has been accepted in full.
func (b LineBalance) Complete() bool {
	return b.Accepted.GreaterThanOrEqual(b.Ordered)
}

// Admit checks that requested can be accepted on top of the existing balance.
func (b LineBalance) Admit(requested decimal.Decimal) error {
	if requested.IsNegative() {
		return newError(CodeNegativeQuantity, fmt.Sprintf("negative accepted quantity %s for %s", requested, b.Material))
	}
	pending := b.Pending()
	if requested.GreaterThan(pending) {
		return &Error{
			Code: CodeOverReceipt,
			Message: fmt.Sprintf("over receipt for %s: ordered %s, already accepted %s, pending %s, requested %s",
				b.Material, b.Ordered, b.Accepted, pending, requested),
			Over: &OverReceipt{
				Material:        b.Material,
				Ordered:         b.Ordered,
				AlreadyAccepted: b.Accepted,
				Pending:         pending,
				Requested:       requested,
			},
		}
	}
	return nil
}

// Balances pairs every item with its accepted total. Items missing from accepted have
// accepted nothing.
func Balances(items []POItem, accepted map[uuid.UUID]decimal.Decimal) []LineBalance {
	out := make([]LineBalance, 0, len(items))
	for _, item := range items {
		out = append(out, LineBalance{
			ItemID:   item.ID,
			Material: item.Material,
			Ordered:  item.OrderedQty,
			Accepted: accepted[item.ID],
		})
	}
	return out
}

// SumAccepted totals accepted quantities per PO item.
func SumAccepted(lines []GRNItem) map[uuid.UUID]decimal.Decimal {
	totals := make(map[uuid.UUID]decimal.Decimal, len(lines))
	for _, line := range lines {
		totals[line.POItemID] = totals[line.POItemID].Add(line.QuantityAccepted)
	}
	return totals
}

// Classify derives the fulfillment status over all items. ok is false when no item has
// accepted anything.
func Classify(balances []LineBalance) (POStatus, bool) {
	if len(balances) == 0 {
		return "", false
	}
	complete := true
	started := false
	for _, b := range balances {
		if !b.Complete() {
			complete = false
		}
		if b.Accepted.IsPositive() {
			started = true
		}
	}
	switch {
	case complete:
		return StatusFullyReceived, true
	case started:
		return StatusPartiallyReceived, true
	default:
		return "", false
	}
}

// ValidateReceiptLine checks a line on its own: no negative quantity, accepted plus
// rejected within received, and a reason for any rejection.
func ValidateReceiptLine(line GRNItem) error {
	for _, q := range []decimal.Decimal{line.QuantityReceived, line.QuantityAccepted, line.QuantityRejected} {
		if q.IsNegative() {
			return newError(CodeNegativeQuantity, fmt.Sprintf("negative quantity %s on item %s", q, line.POItemID))
		}
	}
	if line.QuantityAccepted.Add(line.QuantityRejected).GreaterThan(line.QuantityReceived) {
		return newError(CodeInvalidReceiptLine, fmt.Sprintf("accepted %s plus rejected %s exceeds received %s on item %s",
			line.QuantityAccepted, line.QuantityRejected, line.QuantityReceived, line.POItemID))
	}
	if line.QuantityRejected.IsPositive() && line.RejectionReason == "" {
		return newError(CodeInvalidReceiptLine, fmt.Sprintf("rejection reason required for item %s", line.POItemID))
	}
	return nil
}
