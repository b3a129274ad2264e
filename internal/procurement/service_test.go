package procurement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atelier-erp/atelier/internal/rbac"
	"github.com/atelier-erp/atelier/internal/shared"
)

type memoryProcRepo struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]PurchaseOrder
	items    map[uuid.UUID][]POItem
	receipts map[uuid.UUID]GoodsReceipt
	history  []HistoryEntry
	grnSeq   map[uuid.UUID]int64

	failItemInsert error
	failDelete     error
	staleNext      bool
}

type memoryProcTx struct {
	repo *memoryProcRepo
}

func newMemoryProcRepo() *memoryProcRepo {
	return &memoryProcRepo{
		orders:   make(map[uuid.UUID]PurchaseOrder),
		items:    make(map[uuid.UUID][]POItem),
		receipts: make(map[uuid.UUID]GoodsReceipt),
		grnSeq:   make(map[uuid.UUID]int64),
	}
}

type memorySnapshot struct {
	orders   map[uuid.UUID]PurchaseOrder
	items    map[uuid.UUID][]POItem
	receipts map[uuid.UUID]GoodsReceipt
	history  []HistoryEntry
	grnSeq   map[uuid.UUID]int64
}

func (r *memoryProcRepo) snapshot() memorySnapshot {
	s := memorySnapshot{
		orders:   make(map[uuid.UUID]PurchaseOrder, len(r.orders)),
		items:    make(map[uuid.UUID][]POItem, len(r.items)),
		receipts: make(map[uuid.UUID]GoodsReceipt, len(r.receipts)),
		history:  append([]HistoryEntry(nil), r.history...),
		grnSeq:   make(map[uuid.UUID]int64, len(r.grnSeq)),
	}
	for k, v := range r.orders {
		s.orders[k] = v
	}
	for k, v := range r.items {
		s.items[k] = append([]POItem(nil), v...)
	}
	for k, v := range r.receipts {
		v.Items = append([]GRNItem(nil), v.Items...)
		s.receipts[k] = v
	}
	for k, v := range r.grnSeq {
		s.grnSeq[k] = v
	}
	return s
}

func (r *memoryProcRepo) restore(s memorySnapshot) {
	r.orders, r.items, r.receipts, r.history, r.grnSeq = s.orders, s.items, s.receipts, s.history, s.grnSeq
}

func (r *memoryProcRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.snapshot()
	if err := fn(ctx, &memoryProcTx{repo: r}); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

func (r *memoryProcRepo) GetPurchaseOrder(ctx context.Context, tenantID, id uuid.UUID) (PurchaseOrder, []POItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(tenantID, id)
}

func (r *memoryProcRepo) get(tenantID, id uuid.UUID) (PurchaseOrder, []POItem, error) {
	po, ok := r.orders[id]
	if !ok || po.TenantID != tenantID {
		return PurchaseOrder{}, nil, ErrNotFound
	}
	return po, append([]POItem(nil), r.items[id]...), nil
}

func (r *memoryProcRepo) ListGoodsReceipts(ctx context.Context, tenantID, poID uuid.UUID) ([]GoodsReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []GoodsReceipt
	for _, g := range r.receipts {
		if g.TenantID == tenantID && g.POID == poID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (r *memoryProcRepo) ListHistory(ctx context.Context, tenantID, poID uuid.UUID) ([]HistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []HistoryEntry
	for _, h := range r.history {
		if h.TenantID == tenantID && h.POID == poID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r *memoryProcRepo) ListReceivingOrders(ctx context.Context, limit int) ([]OrderRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var refs []OrderRef
	for _, po := range r.orders {
		if po.Status.Receivable() && len(refs) < limit {
			refs = append(refs, OrderRef{TenantID: po.TenantID, ID: po.ID})
		}
	}
	return refs, nil
}

func (tx *memoryProcTx) InsertPurchaseOrder(ctx context.Context, po PurchaseOrder, items []POItem) error {
	tx.repo.orders[po.ID] = po
	tx.repo.items[po.ID] = append([]POItem(nil), items...)
	return nil
}

func (tx *memoryProcTx) LockPurchaseOrder(ctx context.Context, tenantID, id uuid.UUID) (PurchaseOrder, []POItem, error) {
	return tx.repo.get(tenantID, id)
}

func (tx *memoryProcTx) UpdateStatus(ctx context.Context, po PurchaseOrder, expected POStatus) error {
	if tx.repo.staleNext {
		tx.repo.staleNext = false
		return ErrStaleStatus
	}
	current, ok := tx.repo.orders[po.ID]
	if !ok || current.Status != expected {
		return ErrStaleStatus
	}
	tx.repo.orders[po.ID] = po
	return nil
}

func (tx *memoryProcTx) UpdatePaymentStatus(ctx context.Context, tenantID, id uuid.UUID, status PaymentStatus, at time.Time) error {
	po, ok := tx.repo.orders[id]
	if !ok || po.TenantID != tenantID {
		return ErrNotFound
	}
	po.PaymentStatus = status
	po.UpdatedAt = at
	tx.repo.orders[id] = po
	return nil
}

func (tx *memoryProcTx) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	tx.repo.history = append(tx.repo.history, entry)
	return nil
}

func (tx *memoryProcTx) NextGRNNumber(ctx context.Context, tenantID uuid.UUID) (string, error) {
	tx.repo.grnSeq[tenantID]++
	return FormatGRNNumber(tx.repo.grnSeq[tenantID]), nil
}

func (tx *memoryProcTx) InsertGoodsReceipt(ctx context.Context, grn GoodsReceipt) error {
	grn.Items = nil
	tx.repo.receipts[grn.ID] = grn
	return nil
}

func (tx *memoryProcTx) InsertGoodsReceiptItems(ctx context.Context, grn GoodsReceipt) error {
	if tx.repo.failItemInsert != nil {
		return tx.repo.failItemInsert
	}
	stored := tx.repo.receipts[grn.ID]
	stored.Items = append([]GRNItem(nil), grn.Items...)
	tx.repo.receipts[grn.ID] = stored
	return nil
}

func (tx *memoryProcTx) DeleteGoodsReceipt(ctx context.Context, tenantID, id uuid.UUID) error {
	if tx.repo.failDelete != nil {
		return tx.repo.failDelete
	}
	delete(tx.repo.receipts, id)
	return nil
}

func (tx *memoryProcTx) AcceptedTotals(ctx context.Context, tenantID, poID uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	var lines []GRNItem
	for _, g := range tx.repo.receipts {
		if g.TenantID == tenantID && g.POID == poID {
			lines = append(lines, g.Items...)
		}
	}
	return SumAccepted(lines), nil
}

func (tx *memoryProcTx) SetReceivedQuantity(ctx context.Context, tenantID, itemID uuid.UUID, qty decimal.Decimal) error {
	for poID, items := range tx.repo.items {
		for i := range items {
			if items[i].ID == itemID && items[i].TenantID == tenantID {
				items[i].ReceivedQty = qty
				tx.repo.items[poID] = items
				return nil
			}
		}
	}
	return ErrNotFound
}

func (r *memoryProcRepo) force(id uuid.UUID, status POStatus, payment PaymentStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	po := r.orders[id]
	po.Status = status
	if payment != "" {
		po.PaymentStatus = payment
	}
	r.orders[id] = po
}

func (r *memoryProcRepo) receiptCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.receipts)
}

type memoryDirectory map[uuid.UUID]rbac.Actor

func (d memoryDirectory) Actor(ctx context.Context, tenantID, userID uuid.UUID) (rbac.Actor, error) {
	a, ok := d[userID]
	if !ok || a.TenantID != tenantID {
		return rbac.Actor{}, rbac.ErrNotFound
	}
	return a, nil
}

type staticConfig struct{ cfg *ApprovalConfig }

func (s staticConfig) ApprovalConfig(ctx context.Context, tenantID uuid.UUID) (*ApprovalConfig, error) {
	return s.cfg, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(ctx context.Context, evt Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.events))
	for _, e := range p.events {
		names = append(names, e.Name)
	}
	return names
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = module
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type countingMetrics struct {
	mu          sync.Mutex
	transitions map[string]int
	receipts    map[string]int
}

func (c *countingMetrics) ObserveTransition(from, to, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transitions[from+">"+to+":"+outcome]++
}

func (c *countingMetrics) ObserveGoodsReceipt(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts[outcome]++
}

type busyLocker struct{}

func (busyLocker) Obtain(ctx context.Context, key string) (shared.Unlock, error) {
	return nil, shared.ErrLockNotObtained
}

type fixture struct {
	repo      *memoryProcRepo
	svc       *Service
	directory memoryDirectory
	config    *staticConfig
	publisher *recordingPublisher
	idem      *memoryIdempotency
	metrics   *countingMetrics
	tenant    uuid.UUID
	creator   uuid.UUID
	approver  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:      newMemoryProcRepo(),
		directory: memoryDirectory{},
		config:    &staticConfig{},
		publisher: &recordingPublisher{},
		idem:      &memoryIdempotency{keys: map[string]string{}},
		metrics:   &countingMetrics{transitions: map[string]int{}, receipts: map[string]int{}},
		tenant:    uuid.New(),
		creator:   uuid.New(),
		approver:  uuid.New(),
	}
	f.addActor(f.creator, rbac.Grant{Role: "designer"})
	f.addActor(f.approver, rbac.Grant{Role: rbac.RoleManager})
	clock := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	f.svc = NewService(f.repo, f.directory, f.config, ServiceOptions{
		Idempotency: f.idem,
		Publisher:   f.publisher,
		Metrics:     f.metrics,
		Now: func() time.Time {
			clock = clock.Add(time.Minute)
			return clock
		},
	})
	return f
}

func (f *fixture) addActor(id uuid.UUID, grants ...rbac.Grant) {
	f.directory[id] = rbac.NewActor(f.tenant, id, grants, false)
}

func qty(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func (f *fixture) createPO(t *testing.T, items ...POItemInput) (PurchaseOrder, []POItem) {
	t.Helper()
	if len(items) == 0 {
		items = []POItemInput{{Material: "Oak veneer", Unit: "sheet", Quantity: qty("100"), UnitPrice: qty("12.5")}}
	}
	po, poItems, err := f.svc.CreatePurchaseOrder(context.Background(), CreatePOInput{
		TenantID: f.tenant,
		ActorID:  f.creator,
		Vendor:   "Jati Furniture Supply",
		Items:    items,
	})
	require.NoError(t, err)
	return po, poItems
}

func (f *fixture) transition(po PurchaseOrder, actor uuid.UUID, target POStatus) (TransitionResult, error) {
	return f.svc.TransitionStatus(context.Background(), TransitionInput{TenantID: f.tenant, POID: po.ID, ActorID: actor, Target: target})
}

func (f *fixture) receive(po PurchaseOrder, item POItem, accepted string) (GoodsReceiptResult, error) {
	return f.svc.SubmitGoodsReceipt(context.Background(), GoodsReceiptInput{
		TenantID: f.tenant,
		POID:     po.ID,
		ActorID:  f.approver,
		Lines: []ReceiptLineInput{{
			POItemID:         item.ID,
			QuantityReceived: qty(accepted),
			QuantityAccepted: qty(accepted),
		}},
	})
}

func TestCreatePurchaseOrderComputesTotal(t *testing.T) {
	f := newFixture(t)
	po, items := f.createPO(t,
		POItemInput{Material: "Walnut slab", Unit: "pcs", Quantity: qty("3"), UnitPrice: qty("1250.333")},
		POItemInput{Material: "Brass hinge", Unit: "pcs", Quantity: qty("12"), UnitPrice: qty("4.1")},
	)

	require.Equal(t, StatusDraft, po.Status)
	require.Equal(t, PaymentUnpaid, po.PaymentStatus)
	require.Equal(t, DefaultCurrency, po.Currency)
	require.True(t, qty("3800.20").Equal(po.Total), po.Total.String())
	require.Len(t, items, 2)
	require.Equal(t, 2, items[1].LineNo)

	history, err := f.svc.ListHistory(context.Background(), f.tenant, po.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "create", history[0].Action)
}

func TestCreatePurchaseOrderValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.CreatePurchaseOrder(ctx, CreatePOInput{TenantID: f.tenant, ActorID: f.creator, Vendor: "V"})
	require.ErrorIs(t, err, ErrEmptyLines)

	_, _, err = f.svc.CreatePurchaseOrder(ctx, CreatePOInput{TenantID: f.tenant, ActorID: f.creator, Vendor: "V",
		Items: []POItemInput{{Material: "Tile", Quantity: qty("0"), UnitPrice: qty("1")}}})
	require.ErrorIs(t, err, ErrValidation)

	_, _, err = f.svc.CreatePurchaseOrder(ctx, CreatePOInput{TenantID: f.tenant, ActorID: f.creator, Vendor: "V",
		Items: []POItemInput{{Material: "Tile", Quantity: qty("1"), UnitPrice: qty("-1")}}})
	require.ErrorIs(t, err, ErrValidation)
}

func TestLifecycleToDispatched(t *testing.T) {
	f := newFixture(t)
	po, _ := f.createPO(t)

	for _, step := range []struct {
		actor  uuid.UUID
		target POStatus
	}{
		{f.creator, StatusPendingApproval},
		{f.approver, StatusApproved},
		{f.creator, StatusSentToVendor},
		{f.creator, StatusAcknowledged},
		{f.creator, StatusDispatched},
	} {
		res, err := f.transition(po, step.actor, step.target)
		require.NoError(t, err, step.target)
		require.Equal(t, step.target, res.Order.Status)
		require.Equal(t, step.target, res.History.ToStatus)
	}

	got, _, err := f.svc.GetPurchaseOrder(context.Background(), f.tenant, po.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDispatched, got.Status)
	require.NotNil(t, got.ApprovedBy)
	require.Equal(t, f.approver, *got.ApprovedBy)
	require.NotNil(t, got.SubmittedAt)
	require.NotNil(t, got.ApprovedAt)
	require.NotNil(t, got.SentAt)
	require.NotNil(t, got.AcknowledgedAt)
	require.NotNil(t, got.DispatchedAt)

	history, err := f.svc.ListHistory(context.Background(), f.tenant, po.ID)
	require.NoError(t, err)
	require.Len(t, history, 6)
	require.Equal(t, "approve", history[2].Action)
	require.Equal(t, []string{EventPOSubmitted, EventPOApproved, EventPOSentToVendor, EventPOAcknowledged, EventPODispatched}, f.publisher.names())
	require.Equal(t, 1, f.metrics.transitions["pending_approval>approved:ok"])
}

func TestSelfApprovalIsImpossible(t *testing.T) {
	f := newFixture(t)
	f.addActor(f.creator, rbac.Grant{Role: rbac.RoleManager}, rbac.Grant{Role: rbac.RoleDirector}, rbac.Grant{Role: rbac.RolePOApprover})
	po, _ := f.createPO(t)
	_, err := f.transition(po, f.creator, StatusPendingApproval)
	require.NoError(t, err)

	_, err = f.transition(po, f.creator, StatusApproved)
	require.ErrorIs(t, err, ErrSelfApprovalForbidden)

	f.config.cfg = &ApprovalConfig{TenantID: f.tenant, Level1Limit: qty("10"), Level2Limit: qty("20"), Level2Role: rbac.RoleManager}
	_, err = f.transition(po, f.creator, StatusApproved)
	require.ErrorIs(t, err, ErrSelfApprovalForbidden)
	require.Equal(t, 2, f.metrics.transitions["pending_approval>approved:self_approval_forbidden"])

	f.addActor(f.creator, rbac.Grant{Role: rbac.RoleAdmin})
	res, err := f.transition(po, f.creator, StatusApproved)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, res.Order.Status)
}

func TestApprovalThresholdScenario(t *testing.T) {
	f := newFixture(t)
	f.config.cfg = &ApprovalConfig{
		TenantID:    f.tenant,
		Level1Limit: qty("50000"),
		Level2Limit: qty("100000"),
		Level2Role:  rbac.RoleManager,
	}
	salesRep := uuid.New()
	f.addActor(salesRep, rbac.Grant{Role: "sales_rep"})
	po, _ := f.createPO(t, POItemInput{Material: "Marble top", Unit: "pcs", Quantity: qty("3"), UnitPrice: qty("25000")})
	require.True(t, qty("75000").Equal(po.Total))
	_, err := f.transition(po, f.creator, StatusPendingApproval)
	require.NoError(t, err)

	_, err = f.transition(po, salesRep, StatusApproved)
	require.ErrorIs(t, err, ErrInsufficientApprovalLevel)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, rbac.RoleManager, perr.RequiredRole)
	require.Contains(t, perr.Error(), "75,000.00")

	res, err := f.transition(po, f.approver, StatusApproved)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, res.Order.Status)
}

func TestRejectionUsesRoleGateOnly(t *testing.T) {
	f := newFixture(t)
	f.config.cfg = &ApprovalConfig{TenantID: f.tenant, Level1Limit: qty("10"), Level2Limit: qty("100"), Level2Role: rbac.RoleDirector, Level3Role: rbac.RoleOwner}
	clerk := uuid.New()
	f.addActor(clerk, rbac.Grant{Role: "sales_rep"})
	poApprover := uuid.New()
	f.addActor(poApprover, rbac.Grant{Role: rbac.RolePOApprover})

	po, _ := f.createPO(t)
	_, err := f.transition(po, f.creator, StatusPendingApproval)
	require.NoError(t, err)

	_, err = f.transition(po, clerk, StatusRejected)
	require.ErrorIs(t, err, ErrForbiddenRole)

	res, err := f.svc.TransitionStatus(context.Background(), TransitionInput{
		TenantID: f.tenant, POID: po.ID, ActorID: poApprover, Target: StatusRejected, Reason: "vendor quote expired",
	})
	require.NoError(t, err)
	require.Equal(t, StatusRejected, res.Order.Status)
	require.Equal(t, "vendor quote expired", res.Order.RejectionReason)
	require.NotNil(t, res.Order.RejectedAt)
	require.Equal(t, "vendor quote expired", res.History.Note)
}

func TestUnknownActorCannotApprove(t *testing.T) {
	f := newFixture(t)
	po, _ := f.createPO(t)
	_, err := f.transition(po, f.creator, StatusPendingApproval)
	require.NoError(t, err)

	_, err = f.transition(po, uuid.New(), StatusApproved)
	require.ErrorIs(t, err, ErrForbiddenRole)
}

func TestRevertToDraftClearsApproval(t *testing.T) {
	f := newFixture(t)
	po, _ := f.createPO(t)
	_, err := f.transition(po, f.creator, StatusPendingApproval)
	require.NoError(t, err)
	_, err = f.transition(po, f.approver, StatusApproved)
	require.NoError(t, err)

	res, err := f.transition(po, f.creator, StatusDraft)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, res.Order.Status)
	require.Nil(t, res.Order.ApprovedBy)
	require.Nil(t, res.Order.ApprovedAt)
	require.Equal(t, "revert_to_draft", res.History.Action)
	require.Contains(t, f.publisher.names(), EventPORevertedToDraft)
}

func TestClosurePrecondition(t *testing.T) {
	cases := []struct {
		status  POStatus
		payment PaymentStatus
		ok      bool
	}{
		{StatusFullyReceived, PaymentFullyPaid, true},
		{StatusFullyReceived, PaymentPartiallyPaid, false},
		{StatusFullyReceived, PaymentUnpaid, false},
		{StatusPartiallyReceived, PaymentFullyPaid, false},
		{StatusDispatched, PaymentUnpaid, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.status)+"/"+string(tc.payment), func(t *testing.T) {
			f := newFixture(t)
			po, _ := f.createPO(t)
			f.repo.force(po.ID, tc.status, tc.payment)

			res, err := f.transition(po, f.creator, StatusClosed)
			if tc.ok {
				require.NoError(t, err)
				require.Equal(t, StatusClosed, res.Order.Status)
				require.NotNil(t, res.Order.ClosedAt)
				return
			}
			require.ErrorIs(t, err, ErrPreconditionFailed)
		})
	}
}

func TestTerminalStatesAreSealed(t *testing.T) {
	for _, terminal := range []POStatus{StatusRejected, StatusClosed, StatusCancelled} {
		f := newFixture(t)
		po, _ := f.createPO(t)
		f.repo.force(po.ID, terminal, PaymentFullyPaid)
		for _, target := range allStatuses {
			_, err := f.transition(po, f.approver, target)
			require.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", terminal, target)
			var perr *Error
			require.ErrorAs(t, err, &perr)
			require.Empty(t, perr.Allowed)
			require.Equal(t, []string{}, perr.Details()["allowed"])
		}
	}
}

func TestUnknownTargetReportsAllowedTransitions(t *testing.T) {
	f := newFixture(t)
	po, _ := f.createPO(t)

	_, err := f.transition(po, f.creator, POStatus("teleported"))
	require.ErrorIs(t, err, ErrInvalidTransition)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, []POStatus{StatusPendingApproval, StatusCancelled}, perr.Allowed)
	require.Equal(t, 1, f.metrics.transitions["draft>unknown:invalid_transition"])

	f.repo.force(po.ID, StatusCancelled, "")
	_, err = f.transition(po, f.creator, POStatus("teleported"))
	require.ErrorAs(t, err, &perr)
	require.Equal(t, CodeInvalidTransition, perr.Code)
	require.Empty(t, perr.Allowed)

	_, err = f.transition(PurchaseOrder{ID: uuid.New()}, f.creator, POStatus("teleported"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReceivingStatusesAreSystemOnly(t *testing.T) {
	f := newFixture(t)
	po, _ := f.createPO(t)
	f.repo.force(po.ID, StatusDispatched, "")

	_, err := f.transition(po, f.approver, StatusPartiallyReceived)
	require.ErrorIs(t, err, ErrInvalidTransition)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, []POStatus{StatusCancelled}, perr.Allowed)
}

func TestStaleStatusReportsInvalidTransition(t *testing.T) {
	f := newFixture(t)
	po, _ := f.createPO(t)
	f.repo.staleNext = true

	_, err := f.transition(po, f.creator, StatusPendingApproval)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.ErrorIs(t, err, ErrStaleStatus)

	history, err := f.svc.ListHistory(context.Background(), f.tenant, po.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestBusyPurchaseOrder(t *testing.T) {
	f := newFixture(t)
	po, _ := f.createPO(t)
	svc := NewService(f.repo, f.directory, f.config, ServiceOptions{Locker: busyLocker{}})

	_, err := svc.TransitionStatus(context.Background(), TransitionInput{TenantID: f.tenant, POID: po.ID, ActorID: f.creator, Target: StatusPendingApproval})
	require.ErrorIs(t, err, ErrBusy)
}

func TestGoodsReceiptScenario(t *testing.T) {
	f := newFixture(t)
	po, items := f.createPO(t)
	f.repo.force(po.ID, StatusDispatched, "")

	first, err := f.receive(po, items[0], "40")
	require.NoError(t, err)
	require.Equal(t, "GRN-000001", first.Receipt.Number)
	require.Equal(t, GRNStatusCompleted, first.Receipt.Status)
	require.Equal(t, StatusPartiallyReceived, first.Order.Status)
	require.True(t, qty("40").Equal(first.Items[0].ReceivedQty))

	second, err := f.receive(po, items[0], "60")
	require.NoError(t, err)
	require.Equal(t, "GRN-000002", second.Receipt.Number)
	require.Equal(t, StatusFullyReceived, second.Order.Status)
	require.True(t, qty("100").Equal(second.Items[0].ReceivedQty))
	require.NotNil(t, second.Order.FullyReceivedAt)

	_, err = f.receive(po, items[0], "1")
	require.ErrorIs(t, err, ErrOverReceipt)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.True(t, perr.Over.Pending.IsZero())
	require.True(t, qty("1").Equal(perr.Over.Requested))
	require.Equal(t, "Oak veneer", perr.Over.Material)

	require.Equal(t, []string{EventGRNCreated, EventPOPartiallyReceived, EventGRNCreated, EventPOFullyReceived}, f.publisher.names())
	require.Equal(t, 2, f.metrics.receipts["ok"])
}

func TestOverReceiptLeavesQuantitiesUnchanged(t *testing.T) {
	f := newFixture(t)
	po, items := f.createPO(t,
		POItemInput{Material: "Linen", Unit: "m", Quantity: qty("30"), UnitPrice: qty("9")},
		POItemInput{Material: "Foam", Unit: "pcs", Quantity: qty("5"), UnitPrice: qty("20")},
	)
	f.repo.force(po.ID, StatusAcknowledged, "")

	previous := decimal.Zero
	for _, step := range []string{"10", "25", "7.5", "12.5", "0.01"} {
		_, err := f.receive(po, items[0], step)
		_, current, getErr := f.svc.GetPurchaseOrder(context.Background(), f.tenant, po.ID)
		require.NoError(t, getErr)
		received := current[0].ReceivedQty
		require.True(t, received.GreaterThanOrEqual(previous), "received went from %s to %s", previous, received)
		require.True(t, received.LessThanOrEqual(qty("30")))
		if err != nil {
			require.ErrorIs(t, err, ErrOverReceipt)
			require.True(t, previous.Equal(received))
		}
		previous = received
	}
	require.True(t, qty("30").Equal(previous))

	got, _, err := f.svc.GetPurchaseOrder(context.Background(), f.tenant, po.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyReceived, got.Status)
}

func TestDuplicateLinesAreSummed(t *testing.T) {
	f := newFixture(t)
	po, items := f.createPO(t)
	f.repo.force(po.ID, StatusDispatched, "")

	_, err := f.svc.SubmitGoodsReceipt(context.Background(), GoodsReceiptInput{
		TenantID: f.tenant, POID: po.ID, ActorID: f.approver,
		Lines: []ReceiptLineInput{
			{POItemID: items[0].ID, QuantityReceived: qty("60"), QuantityAccepted: qty("60")},
			{POItemID: items[0].ID, QuantityReceived: qty("60"), QuantityAccepted: qty("50"), QuantityRejected: qty("10"), RejectionReason: "scratched"},
		},
	})
	require.ErrorIs(t, err, ErrOverReceipt)
	require.Zero(t, f.repo.receiptCount())
}

func TestRecomputeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	po, items := f.createPO(t)
	f.repo.force(po.ID, StatusDispatched, "")
	_, err := f.receive(po, items[0], "40")
	require.NoError(t, err)

	first, err := f.svc.RecomputeFulfillment(context.Background(), f.tenant, po.ID, f.creator)
	require.NoError(t, err)
	second, err := f.svc.RecomputeFulfillment(context.Background(), f.tenant, po.ID, f.creator)
	require.NoError(t, err)

	require.Equal(t, first.Order.Status, second.Order.Status)
	require.Nil(t, first.History)
	require.Nil(t, second.History)
	require.True(t, first.Items[0].ReceivedQty.Equal(second.Items[0].ReceivedQty))
}

func TestGoodsReceiptValidation(t *testing.T) {
	f := newFixture(t)
	po, items := f.createPO(t)
	f.repo.force(po.ID, StatusDispatched, "")
	ctx := context.Background()
	base := GoodsReceiptInput{TenantID: f.tenant, POID: po.ID, ActorID: f.approver}

	_, err := f.svc.SubmitGoodsReceipt(ctx, base)
	require.ErrorIs(t, err, ErrEmptyLines)

	cases := []struct {
		name string
		line ReceiptLineInput
		want error
	}{
		{"negative accepted", ReceiptLineInput{POItemID: items[0].ID, QuantityReceived: qty("1"), QuantityAccepted: qty("-1")}, ErrNegativeQuantity},
		{"negative received", ReceiptLineInput{POItemID: items[0].ID, QuantityReceived: qty("-5")}, ErrNegativeQuantity},
		{"accepted exceeds received", ReceiptLineInput{POItemID: items[0].ID, QuantityReceived: qty("5"), QuantityAccepted: qty("4"), QuantityRejected: qty("2"), RejectionReason: "dented"}, ErrInvalidReceiptLine},
		{"rejection without reason", ReceiptLineInput{POItemID: items[0].ID, QuantityReceived: qty("5"), QuantityAccepted: qty("3"), QuantityRejected: qty("2")}, ErrInvalidReceiptLine},
		{"unknown item", ReceiptLineInput{POItemID: uuid.New(), QuantityReceived: qty("1"), QuantityAccepted: qty("1")}, ErrInvalidReceiptLine},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			in.Lines = []ReceiptLineInput{tc.line}
			_, err := f.svc.SubmitGoodsReceipt(ctx, in)
			require.ErrorIs(t, err, tc.want)
		})
	}
	require.Zero(t, f.repo.receiptCount())
}

func TestGoodsReceiptRequiresReceivableStatus(t *testing.T) {
	for _, status := range []POStatus{StatusDraft, StatusApproved, StatusSentToVendor, StatusFullyReceived, StatusCancelled} {
		f := newFixture(t)
		po, items := f.createPO(t)
		f.repo.force(po.ID, status, "")
		_, err := f.receive(po, items[0], "1")
		require.ErrorIs(t, err, ErrInvalidPOStateForReceipt, status)
	}

	f := newFixture(t)
	_, err := f.svc.SubmitGoodsReceipt(context.Background(), GoodsReceiptInput{
		TenantID: f.tenant, POID: uuid.New(), ActorID: f.approver,
		Lines: []ReceiptLineInput{{POItemID: uuid.New(), QuantityReceived: qty("1"), QuantityAccepted: qty("1")}},
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCancelledAfterReceiptKeepsReceivedGoods(t *testing.T) {
	f := newFixture(t)
	po, items := f.createPO(t)
	f.repo.force(po.ID, StatusDispatched, "")
	_, err := f.receive(po, items[0], "25")
	require.NoError(t, err)

	res, err := f.transition(po, f.creator, StatusCancelled)
	require.NoError(t, err)
	require.NotNil(t, res.Order.CancelledAt)

	_, err = f.receive(po, items[0], "5")
	require.ErrorIs(t, err, ErrInvalidPOStateForReceipt)

	fulfilled, err := f.svc.RecomputeFulfillment(context.Background(), f.tenant, po.ID, f.creator)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, fulfilled.Order.Status)
	require.True(t, qty("25").Equal(fulfilled.Items[0].ReceivedQty))
}

func TestCompensatingDeleteOnItemFailure(t *testing.T) {
	f := newFixture(t)
	po, items := f.createPO(t)
	f.repo.force(po.ID, StatusDispatched, "")
	f.repo.failItemInsert = errors.New("disk full")

	_, err := f.svc.SubmitGoodsReceipt(context.Background(), GoodsReceiptInput{
		TenantID: f.tenant, POID: po.ID, ActorID: f.approver, IdempotencyKey: "delivery-7",
		Lines: []ReceiptLineInput{{POItemID: items[0].ID, QuantityReceived: qty("10"), QuantityAccepted: qty("10")}},
	})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrDataIntegrity)
	require.ErrorContains(t, err, "disk full")
	require.Zero(t, f.repo.receiptCount())
	require.Empty(t, f.idem.keys)
	require.Equal(t, 1, f.metrics.receipts["error"])

	f.repo.failItemInsert = nil
	res, err := f.svc.SubmitGoodsReceipt(context.Background(), GoodsReceiptInput{
		TenantID: f.tenant, POID: po.ID, ActorID: f.approver, IdempotencyKey: "delivery-7",
		Lines: []ReceiptLineInput{{POItemID: items[0].ID, QuantityReceived: qty("10"), QuantityAccepted: qty("10")}},
	})
	require.NoError(t, err)
	require.Equal(t, "GRN-000001", res.Receipt.Number)
}

func TestFailedCompensationIsDataIntegrity(t *testing.T) {
	f := newFixture(t)
	po, items := f.createPO(t)
	f.repo.force(po.ID, StatusDispatched, "")
	f.repo.failItemInsert = errors.New("constraint violated")
	f.repo.failDelete = errors.New("connection reset")

	_, err := f.receive(po, items[0], "10")
	require.ErrorIs(t, err, ErrDataIntegrity)
	require.ErrorContains(t, err, "connection reset")
	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, 500, perr.HTTPStatus())
}

func TestDuplicateIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	po, items := f.createPO(t)
	f.repo.force(po.ID, StatusDispatched, "")
	in := GoodsReceiptInput{
		TenantID: f.tenant, POID: po.ID, ActorID: f.approver, IdempotencyKey: "truck-42",
		Lines: []ReceiptLineInput{{POItemID: items[0].ID, QuantityReceived: qty("10"), QuantityAccepted: qty("10")}},
	}

	_, err := f.svc.SubmitGoodsReceipt(context.Background(), in)
	require.NoError(t, err)
	_, err = f.svc.SubmitGoodsReceipt(context.Background(), in)
	require.ErrorIs(t, err, ErrDuplicateReceipt)
	require.Equal(t, 1, f.repo.receiptCount())
}

func TestUpdatePaymentStatus(t *testing.T) {
	f := newFixture(t)
	po, _ := f.createPO(t)
	f.repo.force(po.ID, StatusFullyReceived, "")

	updated, err := f.svc.UpdatePaymentStatus(context.Background(), f.tenant, po.ID, f.creator, PaymentFullyPaid)
	require.NoError(t, err)
	require.Equal(t, PaymentFullyPaid, updated.PaymentStatus)

	res, err := f.transition(po, f.creator, StatusClosed)
	require.NoError(t, err)
	require.Equal(t, StatusClosed, res.Order.Status)

	_, err = f.svc.UpdatePaymentStatus(context.Background(), f.tenant, po.ID, f.creator, PaymentUnpaid)
	require.ErrorIs(t, err, ErrPreconditionFailed)

	_, err = f.svc.UpdatePaymentStatus(context.Background(), f.tenant, po.ID, f.creator, "refunded")
	require.ErrorIs(t, err, ErrValidation)
}

func TestReconcileOpenOrdersHealsStatus(t *testing.T) {
	f := newFixture(t)
	healed, healedItems := f.createPO(t)
	f.repo.force(healed.ID, StatusDispatched, "")
	_, err := f.receive(healed, healedItems[0], "100")
	require.NoError(t, err)
	// Simulate a status write lost after the receipt committed.
	f.repo.force(healed.ID, StatusDispatched, "")

	untouched, _ := f.createPO(t)
	f.repo.force(untouched.ID, StatusAcknowledged, "")

	summary, err := f.svc.ReconcileOpenOrders(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Scanned)
	require.Equal(t, 1, summary.Advanced)
	require.Zero(t, summary.Failed)

	got, _, err := f.svc.GetPurchaseOrder(context.Background(), f.tenant, healed.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFullyReceived, got.Status)

	history, err := f.svc.ListHistory(context.Background(), f.tenant, healed.ID)
	require.NoError(t, err)
	require.Equal(t, SystemActorID, history[len(history)-1].PerformedBy)
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t)
	po, _ := f.createPO(t)

	_, _, err := f.svc.GetPurchaseOrder(context.Background(), uuid.New(), po.ID)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.TransitionStatus(context.Background(), TransitionInput{TenantID: uuid.New(), POID: po.ID, ActorID: f.creator, Target: StatusPendingApproval})
	require.ErrorIs(t, err, ErrNotFound)
}
