package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/atelier-erp/atelier/internal/rbac"
	"github.com/atelier-erp/atelier/internal/shared"
)

// DefaultCurrency is used when an order does not name one.
const DefaultCurrency = "IDR"

const (
	idempotencyModule    = "procurement.grn"
	reconcileParallelism = 4
)

// Directory resolves actors within a tenant.
type Directory interface {
	Actor(ctx context.Context, tenantID, userID uuid.UUID) (rbac.Actor, error)
}

// Locker serialises work on one purchase order across instances.
type Locker interface {
	Obtain(ctx context.Context, key string) (shared.Unlock, error)
}

// IdempotencyPort records client keys for receipt submission.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// MetricsRecorder observes procurement outcomes.
type MetricsRecorder interface {
	ObserveTransition(from, to, outcome string)
	ObserveGoodsReceipt(outcome string)
}

// ServiceOptions carries optional collaborators.
type ServiceOptions struct {
	Locker      Locker
	Idempotency IdempotencyPort
	Publisher   Publisher
	Metrics     MetricsRecorder
	Logger      *slog.Logger
	Now         func() time.Time
}

// Service orchestrates the purchase order lifecycle and goods receipt reconciliation.
type Service struct {
	repo        RepositoryPort
	directory   Directory
	configs     ApprovalConfigSource
	locker      Locker
	idempotency IdempotencyPort
	publisher   Publisher
	metrics     MetricsRecorder
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, directory Directory, configs ApprovalConfigSource, opts ServiceOptions) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:        repo,
		directory:   directory,
		configs:     configs,
		locker:      opts.Locker,
		idempotency: opts.Idempotency,
		publisher:   opts.Publisher,
		metrics:     opts.Metrics,
		logger:      logger,
		now:         now,
	}
}

// CreatePOInput describes a new purchase order.
type CreatePOInput struct {
	TenantID uuid.UUID
	ActorID  uuid.UUID
	Number   string
	Vendor   string
	Currency string
	Items    []POItemInput
}

// POItemInput describes an order line.
type POItemInput struct {
	Material  string
	Unit      string
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
}

// TransitionInput requests a status change.
type TransitionInput struct {
	TenantID uuid.UUID
	POID     uuid.UUID
	ActorID  uuid.UUID
	Target   POStatus
	Reason   string
}

// TransitionResult is the committed status change.
type TransitionResult struct {
	Order   PurchaseOrder
	History HistoryEntry
}

// ReceiptLineInput is one requested receipt line.
type ReceiptLineInput struct {
	POItemID         uuid.UUID
	QuantityReceived decimal.Decimal
	QuantityAccepted decimal.Decimal
	QuantityRejected decimal.Decimal
	RejectionReason  string
}

// GoodsReceiptInput describes a delivery to record.
type GoodsReceiptInput struct {
	TenantID           uuid.UUID
	POID               uuid.UUID
	ActorID            uuid.UUID
	ReceivedDate       time.Time
	DeliveryNoteNumber string
	VehicleNumber      string
	Notes              string
	IdempotencyKey     string
	Lines              []ReceiptLineInput
}

// GoodsReceiptResult is the recorded receipt and the order after reconciliation.
type GoodsReceiptResult struct {
	Receipt GoodsReceipt
	Order   PurchaseOrder
	Items   []POItem
}

// FulfillmentResult is the outcome of a recompute.
type FulfillmentResult struct {
	Order   PurchaseOrder
	Items   []POItem
	History *HistoryEntry
}

// ReconcileSummary reports a sweep.
type ReconcileSummary struct {
	Scanned  int
	Advanced int
	Failed   int
}

// CreatePurchaseOrder persists a draft order with its lines.
func (s *Service) CreatePurchaseOrder(ctx context.Context, input CreatePOInput) (PurchaseOrder, []POItem, error) {
	if input.TenantID == uuid.Nil || input.ActorID == uuid.Nil {
		return PurchaseOrder{}, nil, newError(CodeValidation, "tenant and actor required")
	}
	if strings.TrimSpace(input.Vendor) == "" {
		return PurchaseOrder{}, nil, newError(CodeValidation, "vendor required")
	}
	if len(input.Items) == 0 {
		return PurchaseOrder{}, nil, newError(CodeEmptyLines, "purchase order needs at least one item")
	}
	now := s.now()
	po := PurchaseOrder{
		ID:            uuid.New(),
		TenantID:      input.TenantID,
		Number:        defaultString(strings.TrimSpace(input.Number), generateNumber("PO")),
		Vendor:        strings.TrimSpace(input.Vendor),
		Currency:      strings.ToUpper(defaultString(strings.TrimSpace(input.Currency), DefaultCurrency)),
		Status:        StatusDraft,
		PaymentStatus: PaymentUnpaid,
		CreatedBy:     input.ActorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	items := make([]POItem, 0, len(input.Items))
	total := decimal.Zero
	for i, in := range input.Items {
		if strings.TrimSpace(in.Material) == "" {
			return PurchaseOrder{}, nil, newError(CodeValidation, fmt.Sprintf("item %d: material required", i+1))
		}
		if !in.Quantity.IsPositive() {
			return PurchaseOrder{}, nil, newError(CodeValidation, fmt.Sprintf("item %d: quantity must be positive", i+1))
		}
		if in.UnitPrice.IsNegative() {
			return PurchaseOrder{}, nil, newError(CodeValidation, fmt.Sprintf("item %d: unit price must not be negative", i+1))
		}
		item := POItem{
			ID:          uuid.New(),
			TenantID:    po.TenantID,
			POID:        po.ID,
			LineNo:      i + 1,
			Material:    strings.TrimSpace(in.Material),
			Unit:        strings.TrimSpace(in.Unit),
			OrderedQty:  in.Quantity,
			UnitPrice:   in.UnitPrice,
			ReceivedQty: decimal.Zero,
		}
		total = total.Add(item.LineTotal())
		items = append(items, item)
	}
	po.Total = total.Round(2)

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertPurchaseOrder(ctx, po, items); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, HistoryEntry{
			ID:          uuid.New(),
			TenantID:    po.TenantID,
			POID:        po.ID,
			Action:      "create",
			ToStatus:    StatusDraft,
			PerformedBy: input.ActorID,
			At:          now,
		})
	})
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	s.logger.Info("purchase order created", slog.String("tenant_id", po.TenantID.String()),
		slog.String("po_id", po.ID.String()), slog.String("number", po.Number))
	return po, items, nil
}

// GetPurchaseOrder returns the order with its items.
func (s *Service) GetPurchaseOrder(ctx context.Context, tenantID, id uuid.UUID) (PurchaseOrder, []POItem, error) {
	if tenantID == uuid.Nil || id == uuid.Nil {
		return PurchaseOrder{}, nil, newError(CodeValidation, "tenant and purchase order id required")
	}
	return s.repo.GetPurchaseOrder(ctx, tenantID, id)
}

// ListGoodsReceipts returns every receipt recorded against the order.
func (s *Service) ListGoodsReceipts(ctx context.Context, tenantID, poID uuid.UUID) ([]GoodsReceipt, error) {
	if _, _, err := s.GetPurchaseOrder(ctx, tenantID, poID); err != nil {
		return nil, err
	}
	return s.repo.ListGoodsReceipts(ctx, tenantID, poID)
}

// ListHistory returns the order's status history.
func (s *Service) ListHistory(ctx context.Context, tenantID, poID uuid.UUID) ([]HistoryEntry, error) {
	if _, _, err := s.GetPurchaseOrder(ctx, tenantID, poID); err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, tenantID, poID)
}

// TransitionStatus applies a caller-requested status change.
func (s *Service) TransitionStatus(ctx context.Context, input TransitionInput) (TransitionResult, error) {
	if input.TenantID == uuid.Nil || input.POID == uuid.Nil || input.ActorID == uuid.Nil {
		return TransitionResult{}, newError(CodeValidation, "tenant, purchase order and actor required")
	}
	unlock, err := s.lock(ctx, input.TenantID, input.POID)
	if err != nil {
		return TransitionResult{}, err
	}
	defer unlock()

	var from POStatus
	var result TransitionResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, _, err := tx.LockPurchaseOrder(ctx, input.TenantID, input.POID)
		if err != nil {
			return err
		}
		from = po.Status
		if err := CheckTransition(po, input.Target); err != nil {
			return err
		}
		if err := s.authorize(ctx, po, input); err != nil {
			return err
		}
		order, entry, err := s.persistTransition(ctx, tx, po, input.Target, input.ActorID, input.Reason)
		if err != nil {
			return err
		}
		result = TransitionResult{Order: order, History: entry}
		return nil
	})
	s.observeTransition(from, input.Target, err)
	if err != nil {
		return TransitionResult{}, err
	}
	s.logger.Info("purchase order transition", slog.String("tenant_id", input.TenantID.String()),
		slog.String("po_id", input.POID.String()), slog.String("from", string(from)),
		slog.String("to", string(input.Target)))
	s.publish(ctx, transitionEvent(result.Order, result.History))
	return result, nil
}

func (s *Service) authorize(ctx context.Context, po PurchaseOrder, input TransitionInput) error {
	if input.Target != StatusApproved && input.Target != StatusRejected {
		return nil
	}
	actor, err := s.directory.Actor(ctx, input.TenantID, input.ActorID)
	if err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			return newError(CodeForbiddenRole, "actor is not an active member of the tenant")
		}
		return fmt.Errorf("procurement: resolve actor: %w", err)
	}
	var cfg *ApprovalConfig
	if s.configs != nil {
		cfg, err = s.configs.ApprovalConfig(ctx, input.TenantID)
		if err != nil {
			return err
		}
	}
	if input.Target == StatusRejected {
		return AuthorizeRejection(actor, cfg)
	}
	return AuthorizeApproval(actor, po, cfg)
}

func (s *Service) persistTransition(ctx context.Context, tx TxRepository, po PurchaseOrder, target POStatus, actorID uuid.UUID, reason string) (PurchaseOrder, HistoryEntry, error) {
	from := po.Status
	now := s.now()
	applyTransition(&po, target, actorID, reason, now)
	if err := tx.UpdateStatus(ctx, po, from); err != nil {
		if errors.Is(err, ErrStaleStatus) {
			return PurchaseOrder{}, HistoryEntry{}, &Error{
				Code:    CodeInvalidTransition,
				Message: fmt.Sprintf("purchase order left %s before the change to %s was written", from, target),
				Err:     err,
			}
		}
		return PurchaseOrder{}, HistoryEntry{}, err
	}
	entry := HistoryEntry{
		ID:          uuid.New(),
		TenantID:    po.TenantID,
		POID:        po.ID,
		Action:      historyAction(from, target),
		FromStatus:  from,
		ToStatus:    target,
		PerformedBy: actorID,
		Note:        reason,
		At:          now,
	}
	if err := tx.AppendHistory(ctx, entry); err != nil {
		return PurchaseOrder{}, HistoryEntry{}, fmt.Errorf("procurement: append history: %w", err)
	}
	return po, entry, nil
}

// SubmitGoodsReceipt records a delivery and advances fulfillment status.
func (s *Service) SubmitGoodsReceipt(ctx context.Context, input GoodsReceiptInput) (GoodsReceiptResult, error) {
	grn, err := s.prepareReceipt(input)
	if err != nil {
		s.observeReceipt(err)
		return GoodsReceiptResult{}, err
	}
	key := ""
	if input.IdempotencyKey != "" && s.idempotency != nil {
		key = shared.IdempotencyKey(input.TenantID.String(), input.POID.String(), input.IdempotencyKey)
		if err := s.idempotency.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				err = &Error{Code: CodeDuplicateReceipt, Message: "receipt with this idempotency key was already submitted", Err: err}
			}
			s.observeReceipt(err)
			return GoodsReceiptResult{}, err
		}
	}

	result, history, err := s.recordReceipt(ctx, input, grn)
	if err != nil && key != "" {
		if delErr := s.idempotency.Delete(ctx, key); delErr != nil {
			s.logger.Warn("release idempotency key", slog.Any("error", delErr), slog.String("po_id", input.POID.String()))
		}
	}
	s.observeReceipt(err)
	if err != nil {
		return GoodsReceiptResult{}, err
	}
	if history != nil {
		s.observeTransition(history.FromStatus, history.ToStatus, nil)
	}

	s.logger.Info("goods receipt recorded", slog.String("tenant_id", input.TenantID.String()),
		slog.String("po_id", input.POID.String()), slog.String("grn", result.Receipt.Number),
		slog.String("status", string(result.Order.Status)))
	grnID := result.Receipt.ID
	s.publish(ctx, Event{
		ID:        uuid.New(),
		Name:      EventGRNCreated,
		TenantID:  input.TenantID,
		POID:      input.POID,
		PONumber:  result.Order.Number,
		GRNID:     &grnID,
		GRNNumber: result.Receipt.Number,
		ToStatus:  result.Order.Status,
		ActorID:   input.ActorID,
		At:        result.Receipt.CreatedAt,
	})
	if history != nil {
		s.publish(ctx, transitionEvent(result.Order, *history))
	}
	return result, nil
}

func (s *Service) prepareReceipt(input GoodsReceiptInput) (GoodsReceipt, error) {
	if input.TenantID == uuid.Nil || input.POID == uuid.Nil || input.ActorID == uuid.Nil {
		return GoodsReceipt{}, newError(CodeValidation, "tenant, purchase order and actor required")
	}
	if len(input.Lines) == 0 {
		return GoodsReceipt{}, newError(CodeEmptyLines, "goods receipt needs at least one line")
	}
	now := s.now()
	grn := GoodsReceipt{
		ID:                 uuid.New(),
		TenantID:           input.TenantID,
		POID:               input.POID,
		Status:             GRNStatusCompleted,
		ReceivedDate:       defaultTime(input.ReceivedDate, now),
		DeliveryNoteNumber: strings.TrimSpace(input.DeliveryNoteNumber),
		VehicleNumber:      strings.TrimSpace(input.VehicleNumber),
		Notes:              strings.TrimSpace(input.Notes),
		ReceivedBy:         input.ActorID,
		CreatedAt:          now,
		Items:              make([]GRNItem, 0, len(input.Lines)),
	}
	for _, line := range input.Lines {
		if line.POItemID == uuid.Nil {
			return GoodsReceipt{}, newError(CodeInvalidReceiptLine, "receipt line must reference a purchase order item")
		}
		item := GRNItem{
			ID:               uuid.New(),
			GRNID:            grn.ID,
			POItemID:         line.POItemID,
			QuantityReceived: line.QuantityReceived,
			QuantityAccepted: line.QuantityAccepted,
			QuantityRejected: line.QuantityRejected,
			RejectionReason:  strings.TrimSpace(line.RejectionReason),
		}
		if err := ValidateReceiptLine(item); err != nil {
			return GoodsReceipt{}, err
		}
		grn.Items = append(grn.Items, item)
	}
	return grn, nil
}

func (s *Service) recordReceipt(ctx context.Context, input GoodsReceiptInput, grn GoodsReceipt) (GoodsReceiptResult, *HistoryEntry, error) {
	unlock, err := s.lock(ctx, input.TenantID, input.POID)
	if err != nil {
		return GoodsReceiptResult{}, nil, err
	}
	defer unlock()

	var result GoodsReceiptResult
	var history *HistoryEntry
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, items, err := tx.LockPurchaseOrder(ctx, input.TenantID, input.POID)
		if err != nil {
			return err
		}
		prior, err := tx.AcceptedTotals(ctx, po.TenantID, po.ID)
		if err != nil {
			return err
		}
		// Quantities first: a fully received order reports the exhausted balance.
		if err := admitLines(items, prior, grn.Items); err != nil {
			return err
		}
		if !po.Status.Receivable() {
			return newError(CodeInvalidPOStateForReceipt, fmt.Sprintf("goods cannot be received while purchase order is %s", po.Status))
		}
		number, err := tx.NextGRNNumber(ctx, po.TenantID)
		if err != nil {
			return err
		}
		grn.Number = number
		if err := tx.InsertGoodsReceipt(ctx, grn); err != nil {
			return err
		}
		if err := tx.InsertGoodsReceiptItems(ctx, grn); err != nil {
			return s.compensate(ctx, tx, grn, err)
		}
		fulfilled, err := s.reconcile(ctx, tx, po, items, input.ActorID)
		if err != nil {
			return err
		}
		result = GoodsReceiptResult{Receipt: grn, Order: fulfilled.Order, Items: fulfilled.Items}
		history = fulfilled.History
		return nil
	})
	if err != nil {
		return GoodsReceiptResult{}, nil, err
	}
	return result, history, nil
}

// admitLines checks requested accepted quantities, summed per item, against the prior
// balances.
func admitLines(items []POItem, prior map[uuid.UUID]decimal.Decimal, lines []GRNItem) error {
	known := make(map[uuid.UUID]struct{}, len(items))
	for _, it := range items {
		known[it.ID] = struct{}{}
	}
	requested := make(map[uuid.UUID]decimal.Decimal, len(lines))
	for _, line := range lines {
		if _, ok := known[line.POItemID]; !ok {
			return newError(CodeInvalidReceiptLine, fmt.Sprintf("item %s does not belong to the purchase order", line.POItemID))
		}
		requested[line.POItemID] = requested[line.POItemID].Add(line.QuantityAccepted)
	}
	for _, balance := range Balances(items, prior) {
		qty, ok := requested[balance.ItemID]
		if !ok {
			continue
		}
		if err := balance.Admit(qty); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) compensate(ctx context.Context, tx TxRepository, grn GoodsReceipt, cause error) error {
	if err := tx.DeleteGoodsReceipt(ctx, grn.TenantID, grn.ID); err != nil {
		s.logger.Error("goods receipt compensation failed", slog.Bool("alert", true),
			slog.String("tenant_id", grn.TenantID.String()), slog.String("po_id", grn.POID.String()),
			slog.String("grn", grn.Number), slog.Any("cause", cause), slog.Any("error", err))
		return &Error{
			Code:    CodeDataIntegrity,
			Message: fmt.Sprintf("orphaned goods receipt %s could not be removed", grn.Number),
			Err:     errors.Join(cause, err),
		}
	}
	return fmt.Errorf("procurement: goods receipt %s not recorded: %w", grn.Number, cause)
}

// reconcile rewrites received quantities from the accepted totals and applies the derived
// fulfillment status when the system table allows it.
func (s *Service) reconcile(ctx context.Context, tx TxRepository, po PurchaseOrder, items []POItem, actorID uuid.UUID) (FulfillmentResult, error) {
	totals, err := tx.AcceptedTotals(ctx, po.TenantID, po.ID)
	if err != nil {
		return FulfillmentResult{}, err
	}
	for i := range items {
		accepted := totals[items[i].ID]
		if accepted.Equal(items[i].ReceivedQty) {
			continue
		}
		if err := tx.SetReceivedQuantity(ctx, po.TenantID, items[i].ID, accepted); err != nil {
			return FulfillmentResult{}, err
		}
		items[i].ReceivedQty = accepted
	}
	target, ok := Classify(Balances(items, totals))
	if !ok || target == po.Status || !CanSystemTransition(po.Status, target) {
		return FulfillmentResult{Order: po, Items: items}, nil
	}
	order, entry, err := s.persistTransition(ctx, tx, po, target, actorID, "")
	if err != nil {
		return FulfillmentResult{}, err
	}
	return FulfillmentResult{Order: order, Items: items, History: &entry}, nil
}

// RecomputeFulfillment re-derives received quantities and fulfillment status from the
// recorded receipts. Running it again without new receipts changes nothing.
func (s *Service) RecomputeFulfillment(ctx context.Context, tenantID, poID, actorID uuid.UUID) (FulfillmentResult, error) {
	if tenantID == uuid.Nil || poID == uuid.Nil || actorID == uuid.Nil {
		return FulfillmentResult{}, newError(CodeValidation, "tenant, purchase order and actor required")
	}
	unlock, err := s.lock(ctx, tenantID, poID)
	if err != nil {
		return FulfillmentResult{}, err
	}
	defer unlock()

	var result FulfillmentResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, items, err := tx.LockPurchaseOrder(ctx, tenantID, poID)
		if err != nil {
			return err
		}
		result, err = s.reconcile(ctx, tx, po, items, actorID)
		return err
	})
	if err != nil {
		return FulfillmentResult{}, err
	}
	if result.History != nil {
		s.observeTransition(result.History.FromStatus, result.History.ToStatus, nil)
		s.publish(ctx, transitionEvent(result.Order, *result.History))
	}
	return result, nil
}

// ReconcileOpenOrders recomputes up to batch orders still in a receiving status.
func (s *Service) ReconcileOpenOrders(ctx context.Context, batch int) (ReconcileSummary, error) {
	if batch <= 0 {
		batch = 100
	}
	refs, err := s.repo.ListReceivingOrders(ctx, batch)
	if err != nil {
		return ReconcileSummary{}, err
	}
	var advanced, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileParallelism)
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			res, err := s.RecomputeFulfillment(gctx, ref.TenantID, ref.ID, SystemActorID)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				s.logger.Warn("reconcile purchase order", slog.String("tenant_id", ref.TenantID.String()),
					slog.String("po_id", ref.ID.String()), slog.Any("error", err))
				return nil
			}
			if res.History != nil {
				advanced.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	summary := ReconcileSummary{Scanned: len(refs), Advanced: int(advanced.Load()), Failed: int(failed.Load())}
	return summary, err
}

// UpdatePaymentStatus sets the payment axis of an order.
func (s *Service) UpdatePaymentStatus(ctx context.Context, tenantID, poID, actorID uuid.UUID, status PaymentStatus) (PurchaseOrder, error) {
	if tenantID == uuid.Nil || poID == uuid.Nil || actorID == uuid.Nil {
		return PurchaseOrder{}, newError(CodeValidation, "tenant, purchase order and actor required")
	}
	if !status.Valid() {
		return PurchaseOrder{}, newError(CodeValidation, fmt.Sprintf("unknown payment status %q", status))
	}
	var order PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, _, err := tx.LockPurchaseOrder(ctx, tenantID, poID)
		if err != nil {
			return err
		}
		if po.Status.Terminal() {
			return newError(CodePreconditionFailed, fmt.Sprintf("payment status is fixed once purchase order is %s", po.Status))
		}
		now := s.now()
		if err := tx.UpdatePaymentStatus(ctx, tenantID, poID, status, now); err != nil {
			return err
		}
		po.PaymentStatus = status
		po.UpdatedAt = now
		order = po
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.logger.Info("purchase order payment status", slog.String("tenant_id", tenantID.String()),
		slog.String("po_id", poID.String()), slog.String("payment_status", string(status)),
		slog.String("actor_id", actorID.String()))
	return order, nil
}

func (s *Service) lock(ctx context.Context, tenantID, poID uuid.UUID) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	unlock, err := s.locker.Obtain(ctx, shared.PurchaseOrderLockKey(tenantID, poID))
	if err != nil {
		if errors.Is(err, shared.ErrLockNotObtained) {
			return nil, &Error{Code: CodeBusy, Message: "purchase order is being changed by another request", Err: err}
		}
		return nil, err
	}
	return func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release purchase order lock", slog.String("po_id", poID.String()), slog.Any("error", err))
		}
	}, nil
}

func (s *Service) publish(ctx context.Context, evt Event) {
	if s.publisher == nil || evt.Name == "" {
		return
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("publish procurement event", slog.String("event", evt.Name),
			slog.String("po_id", evt.POID.String()), slog.Any("error", err))
	}
}

func (s *Service) observeTransition(from, to POStatus, err error) {
	if s.metrics == nil {
		return
	}
	if !to.Valid() {
		to = "unknown"
	}
	s.metrics.ObserveTransition(string(from), string(to), outcome(err))
}

func (s *Service) observeReceipt(err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveGoodsReceipt(outcome(err))
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if code := CodeOf(err); code != "" {
		return strings.ToLower(string(code))
	}
	return "error"
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func defaultTime(value, fallback time.Time) time.Time {
	if value.IsZero() {
		return fallback
	}
	return value
}
