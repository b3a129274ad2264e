package procurement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atelier-erp/atelier/internal/platform/db"
	"github.com/atelier-erp/atelier/internal/shared"
)

// historyModule keys purchase order entries in approval_history.
const historyModule = "procurement.po"

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPurchaseOrder(ctx context.Context, tenantID, id uuid.UUID) (PurchaseOrder, []POItem, error)
	ListGoodsReceipts(ctx context.Context, tenantID, poID uuid.UUID) ([]GoodsReceipt, error)
	ListHistory(ctx context.Context, tenantID, poID uuid.UUID) ([]HistoryEntry, error)
	ListReceivingOrders(ctx context.Context, limit int) ([]OrderRef, error)
}

// TxRepository exposes transactional operations. Every method is tenant scoped.
type TxRepository interface {
	InsertPurchaseOrder(ctx context.Context, po PurchaseOrder, items []POItem) error
	// LockPurchaseOrder reads the order and its items, holding the order row until commit.
	LockPurchaseOrder(ctx context.Context, tenantID, id uuid.UUID) (PurchaseOrder, []POItem, error)
	// UpdateStatus writes po's status fields if the row is still in expected, else
	// returns ErrStaleStatus.
	UpdateStatus(ctx context.Context, po PurchaseOrder, expected POStatus) error
	UpdatePaymentStatus(ctx context.Context, tenantID, id uuid.UUID, status PaymentStatus, at time.Time) error
	AppendHistory(ctx context.Context, entry HistoryEntry) error
	NextGRNNumber(ctx context.Context, tenantID uuid.UUID) (string, error)
	InsertGoodsReceipt(ctx context.Context, grn GoodsReceipt) error
	InsertGoodsReceiptItems(ctx context.Context, grn GoodsReceipt) error
	DeleteGoodsReceipt(ctx context.Context, tenantID, id uuid.UUID) error
	AcceptedTotals(ctx context.Context, tenantID, poID uuid.UUID) (map[uuid.UUID]decimal.Decimal, error)
	SetReceivedQuantity(ctx context.Context, tenantID, itemID uuid.UUID, qty decimal.Decimal) error
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool      *pgxpool.Pool
	approvals *shared.ApprovalRecorder
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, approvals *shared.ApprovalRecorder) *Repository {
	if approvals == nil {
		approvals = shared.NewApprovalRecorder()
	}
	return &Repository{pool: pool, approvals: approvals}
}

type txRepo struct {
	tx        pgx.Tx
	approvals *shared.ApprovalRecorder
}

// WithTx wraps callback in a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, approvals: r.approvals})
	})
}

const poColumns = `id, tenant_id, number, vendor, currency, total, status, payment_status, created_by,
approved_by, COALESCE(rejection_reason, ''), submitted_at, approved_at, rejected_at, sent_at,
acknowledged_at, dispatched_at, partially_received_at, fully_received_at, closed_at, cancelled_at,
created_at, updated_at`

const itemColumns = `id, tenant_id, po_id, line_no, material, unit, ordered_qty, unit_price, received_qty`

func scanPurchaseOrder(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := row.Scan(
		&po.ID, &po.TenantID, &po.Number, &po.Vendor, &po.Currency, &po.Total, &po.Status, &po.PaymentStatus,
		&po.CreatedBy, &po.ApprovedBy, &po.RejectionReason, &po.SubmittedAt, &po.ApprovedAt, &po.RejectedAt,
		&po.SentAt, &po.AcknowledgedAt, &po.DispatchedAt, &po.PartiallyReceivedAt, &po.FullyReceivedAt,
		&po.ClosedAt, &po.CancelledAt, &po.CreatedAt, &po.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, fmt.Errorf("procurement: scan purchase order: %w", err)
	}
	return po, nil
}

func loadItems(ctx context.Context, q shared.DBTX, tenantID, poID uuid.UUID) ([]POItem, error) {
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM purchase_order_items
WHERE tenant_id=$1 AND po_id=$2 ORDER BY line_no`, tenantID, poID)
	if err != nil {
		return nil, fmt.Errorf("procurement: load items: %w", err)
	}
	defer rows.Close()
	var items []POItem
	for rows.Next() {
		var it POItem
		if err := rows.Scan(&it.ID, &it.TenantID, &it.POID, &it.LineNo, &it.Material, &it.Unit,
			&it.OrderedQty, &it.UnitPrice, &it.ReceivedQty); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetPurchaseOrder returns the order and its items.
func (r *Repository) GetPurchaseOrder(ctx context.Context, tenantID, id uuid.UUID) (PurchaseOrder, []POItem, error) {
	po, err := scanPurchaseOrder(r.pool.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders
WHERE tenant_id=$1 AND id=$2`, tenantID, id))
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	items, err := loadItems(ctx, r.pool, tenantID, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	return po, items, nil
}

// ListGoodsReceipts returns the order's receipts with their lines, oldest first.
func (r *Repository) ListGoodsReceipts(ctx context.Context, tenantID, poID uuid.UUID) ([]GoodsReceipt, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, po_id, number, status, received_date,
COALESCE(delivery_note_number, ''), COALESCE(vehicle_number, ''), COALESCE(notes, ''), received_by, created_at
FROM goods_receipts WHERE tenant_id=$1 AND po_id=$2 ORDER BY created_at, number`, tenantID, poID)
	if err != nil {
		return nil, fmt.Errorf("procurement: list goods receipts: %w", err)
	}
	defer rows.Close()
	var receipts []GoodsReceipt
	index := make(map[uuid.UUID]int)
	var ids []uuid.UUID
	for rows.Next() {
		var g GoodsReceipt
		if err := rows.Scan(&g.ID, &g.TenantID, &g.POID, &g.Number, &g.Status, &g.ReceivedDate,
			&g.DeliveryNoteNumber, &g.VehicleNumber, &g.Notes, &g.ReceivedBy, &g.CreatedAt); err != nil {
			return nil, err
		}
		index[g.ID] = len(receipts)
		ids = append(ids, g.ID)
		receipts = append(receipts, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return receipts, nil
	}
	itemRows, err := r.pool.Query(ctx, `SELECT id, grn_id, po_item_id, quantity_received, quantity_accepted,
quantity_rejected, COALESCE(rejection_reason, '')
FROM goods_receipt_items WHERE tenant_id=$1 AND grn_id = ANY($2) ORDER BY grn_id, id`, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("procurement: list goods receipt items: %w", err)
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var it GRNItem
		if err := itemRows.Scan(&it.ID, &it.GRNID, &it.POItemID, &it.QuantityReceived, &it.QuantityAccepted,
			&it.QuantityRejected, &it.RejectionReason); err != nil {
			return nil, err
		}
		i := index[it.GRNID]
		receipts[i].Items = append(receipts[i].Items, it)
	}
	return receipts, itemRows.Err()
}

// ListHistory returns the order's status history in chronological order.
func (r *Repository) ListHistory(ctx context.Context, tenantID, poID uuid.UUID) ([]HistoryEntry, error) {
	logs, err := r.approvals.List(ctx, r.pool, tenantID, historyModule, poID)
	if err != nil {
		return nil, fmt.Errorf("procurement: list history: %w", err)
	}
	entries := make([]HistoryEntry, 0, len(logs))
	for _, l := range logs {
		entries = append(entries, HistoryEntry{
			ID:          l.ID,
			TenantID:    l.TenantID,
			POID:        l.RefID,
			Action:      l.Action,
			FromStatus:  POStatus(l.FromStatus),
			ToStatus:    POStatus(l.ToStatus),
			PerformedBy: l.ActorID,
			Note:        l.Note,
			At:          l.At,
		})
	}
	return entries, nil
}

// ListReceivingOrders returns orders that may still change fulfillment status, least
// recently touched first.
func (r *Repository) ListReceivingOrders(ctx context.Context, limit int) ([]OrderRef, error) {
	rows, err := r.pool.Query(ctx, `SELECT tenant_id, id FROM purchase_orders
WHERE status IN ($1, $2, $3) ORDER BY updated_at LIMIT $4`,
		StatusAcknowledged, StatusDispatched, StatusPartiallyReceived, limit)
	if err != nil {
		return nil, fmt.Errorf("procurement: list receiving orders: %w", err)
	}
	defer rows.Close()
	var refs []OrderRef
	for rows.Next() {
		var ref OrderRef
		if err := rows.Scan(&ref.TenantID, &ref.ID); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (t *txRepo) InsertPurchaseOrder(ctx context.Context, po PurchaseOrder, items []POItem) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO purchase_orders (id, tenant_id, number, vendor, currency, total, status,
payment_status, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		po.ID, po.TenantID, po.Number, po.Vendor, po.Currency, po.Total, po.Status, po.PaymentStatus,
		po.CreatedBy, po.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return newError(CodeValidation, fmt.Sprintf("purchase order number %s already exists", po.Number))
		}
		return fmt.Errorf("procurement: insert purchase order: %w", err)
	}
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(`INSERT INTO purchase_order_items (id, tenant_id, po_id, line_no, material, unit, ordered_qty,
unit_price, received_qty) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			it.ID, it.TenantID, it.POID, it.LineNo, it.Material, it.Unit, it.OrderedQty, it.UnitPrice, it.ReceivedQty)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("procurement: insert purchase order items: %w", err)
	}
	return nil
}

func (t *txRepo) LockPurchaseOrder(ctx context.Context, tenantID, id uuid.UUID) (PurchaseOrder, []POItem, error) {
	po, err := scanPurchaseOrder(t.tx.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders
WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, id))
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	items, err := loadItems(ctx, t.tx, tenantID, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	return po, items, nil
}

func (t *txRepo) UpdateStatus(ctx context.Context, po PurchaseOrder, expected POStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET status=$3, approved_by=$4, rejection_reason=NULLIF($5, ''),
submitted_at=$6, approved_at=$7, rejected_at=$8, sent_at=$9, acknowledged_at=$10, dispatched_at=$11,
partially_received_at=$12, fully_received_at=$13, closed_at=$14, cancelled_at=$15, updated_at=$16
WHERE tenant_id=$1 AND id=$2 AND status=$17`,
		po.TenantID, po.ID, po.Status, po.ApprovedBy, po.RejectionReason,
		po.SubmittedAt, po.ApprovedAt, po.RejectedAt, po.SentAt, po.AcknowledgedAt, po.DispatchedAt,
		po.PartiallyReceivedAt, po.FullyReceivedAt, po.ClosedAt, po.CancelledAt, po.UpdatedAt, expected)
	if err != nil {
		return fmt.Errorf("procurement: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

func (t *txRepo) UpdatePaymentStatus(ctx context.Context, tenantID, id uuid.UUID, status PaymentStatus, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET payment_status=$3, updated_at=$4
WHERE tenant_id=$1 AND id=$2`, tenantID, id, status, at)
	if err != nil {
		return fmt.Errorf("procurement: update payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	return t.approvals.Record(ctx, t.tx, shared.ApprovalLog{
		ID:         entry.ID,
		TenantID:   entry.TenantID,
		Module:     historyModule,
		RefID:      entry.POID,
		ActorID:    entry.PerformedBy,
		Action:     entry.Action,
		FromStatus: string(entry.FromStatus),
		ToStatus:   string(entry.ToStatus),
		Note:       entry.Note,
		At:         entry.At,
	})
}

func (t *txRepo) NextGRNNumber(ctx context.Context, tenantID uuid.UUID) (string, error) {
	var seq int64
	err := t.tx.QueryRow(ctx, `INSERT INTO grn_sequences (tenant_id, last_value) VALUES ($1, 1)
ON CONFLICT (tenant_id) DO UPDATE SET last_value = grn_sequences.last_value + 1
RETURNING last_value`, tenantID).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("procurement: next grn number: %w", err)
	}
	return FormatGRNNumber(seq), nil
}

func (t *txRepo) InsertGoodsReceipt(ctx context.Context, grn GoodsReceipt) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO goods_receipts (id, tenant_id, po_id, number, status, received_date,
delivery_note_number, vehicle_number, notes, received_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), $10, $11)`,
		grn.ID, grn.TenantID, grn.POID, grn.Number, grn.Status, grn.ReceivedDate,
		grn.DeliveryNoteNumber, grn.VehicleNumber, grn.Notes, grn.ReceivedBy, grn.CreatedAt)
	if err != nil {
		return fmt.Errorf("procurement: insert goods receipt: %w", err)
	}
	return nil
}

// InsertGoodsReceiptItems writes the lines inside a savepoint so a failure leaves the
// transaction usable for the compensating delete.
func (t *txRepo) InsertGoodsReceiptItems(ctx context.Context, grn GoodsReceipt) error {
	return db.WithSavepoint(ctx, t.tx, func(sp pgx.Tx) error {
		for _, it := range grn.Items {
			_, err := sp.Exec(ctx, `INSERT INTO goods_receipt_items (id, tenant_id, grn_id, po_item_id,
quantity_received, quantity_accepted, quantity_rejected, rejection_reason)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))`,
				it.ID, grn.TenantID, grn.ID, it.POItemID, it.QuantityReceived, it.QuantityAccepted,
				it.QuantityRejected, it.RejectionReason)
			if err != nil {
				return fmt.Errorf("procurement: insert goods receipt item: %w", err)
			}
		}
		return nil
	})
}

func (t *txRepo) DeleteGoodsReceipt(ctx context.Context, tenantID, id uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM goods_receipts WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("procurement: delete goods receipt: %w", err)
	}
	return nil
}

func (t *txRepo) AcceptedTotals(ctx context.Context, tenantID, poID uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	rows, err := t.tx.Query(ctx, `SELECT gi.po_item_id, COALESCE(SUM(gi.quantity_accepted), 0)
FROM goods_receipt_items gi
JOIN goods_receipts g ON g.id = gi.grn_id AND g.tenant_id = gi.tenant_id
WHERE g.tenant_id=$1 AND g.po_id=$2
GROUP BY gi.po_item_id`, tenantID, poID)
	if err != nil {
		return nil, fmt.Errorf("procurement: accepted totals: %w", err)
	}
	defer rows.Close()
	totals := make(map[uuid.UUID]decimal.Decimal)
	for rows.Next() {
		var id uuid.UUID
		var qty decimal.Decimal
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		totals[id] = qty
	}
	return totals, rows.Err()
}

func (t *txRepo) SetReceivedQuantity(ctx context.Context, tenantID, itemID uuid.UUID, qty decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_order_items SET received_qty=$3 WHERE tenant_id=$1 AND id=$2`,
		tenantID, itemID, qty)
	if err != nil {
		return fmt.Errorf("procurement: set received quantity: %w", err)
	}
	return nil
}

// FormatGRNNumber renders the human-readable receipt number for a tenant sequence value.
func FormatGRNNumber(seq int64) string {
	return fmt.Sprintf("GRN-%06d", seq)
}
