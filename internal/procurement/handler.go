package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atelier-erp/atelier/internal/platform/httpx"
	"github.com/atelier-erp/atelier/internal/rbac"
	"github.com/atelier-erp/atelier/internal/shared"
)

// ConfigAdmin reads and writes tenant approval thresholds.
type ConfigAdmin interface {
	ApprovalConfigSource
	SaveApprovalConfig(ctx context.Context, cfg ApprovalConfig) error
}

// Handler manages procurement endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	configs   ConfigAdmin
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance. configs may be nil, which leaves the approval
// config endpoints unmounted.
func NewHandler(logger *slog.Logger, service *Service, configs ConfigAdmin, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, configs: configs, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermProcurementView, shared.PermProcurementEdit, shared.PermProcurementReceive))
		r.Get("/purchase-orders/{id}", h.getPO)
		r.Get("/purchase-orders/{id}/history", h.listHistory)
		r.Get("/purchase-orders/{id}/goods-receipts", h.listGoodsReceipts)
		if h.configs != nil {
			r.Get("/approval-config", h.getApprovalConfig)
		}
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermProcurementEdit))
		r.Post("/purchase-orders", h.createPO)
		r.Post("/purchase-orders/{id}/transitions", h.transition)
		r.Put("/purchase-orders/{id}/payment-status", h.updatePayment)
		r.Post("/purchase-orders/{id}/recompute", h.recompute)
		if h.configs != nil {
			r.Put("/approval-config", h.saveApprovalConfig)
		}
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermProcurementReceive))
		r.Post("/purchase-orders/{id}/goods-receipts", h.submitGoodsReceipt)
	})
}

type createPOItemRequest struct {
	Material  string          `json:"material" validate:"required,max=200"`
	Unit      string          `json:"unit" validate:"omitempty,max=32"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type createPORequest struct {
	Number   string                `json:"number" validate:"omitempty,max=64"`
	Vendor   string                `json:"vendor" validate:"required,max=200"`
	Currency string                `json:"currency" validate:"omitempty,len=3,alpha"`
	Items    []createPOItemRequest `json:"items" validate:"dive"`
}

type transitionRequest struct {
	Target string `json:"target" validate:"required"`
	Reason string `json:"reason" validate:"omitempty,max=1000"`
}

type paymentRequest struct {
	PaymentStatus string `json:"payment_status" validate:"required,oneof=unpaid partially_paid fully_paid"`
}

type receiptLineRequest struct {
	POItemID         uuid.UUID       `json:"po_item_id" validate:"required"`
	QuantityReceived decimal.Decimal `json:"quantity_received"`
	QuantityAccepted decimal.Decimal `json:"quantity_accepted"`
	QuantityRejected decimal.Decimal `json:"quantity_rejected"`
	RejectionReason  string          `json:"rejection_reason" validate:"omitempty,max=1000"`
}

type goodsReceiptRequest struct {
	ReceivedDate       string               `json:"received_date" validate:"omitempty,datetime=2006-01-02"`
	DeliveryNoteNumber string               `json:"delivery_note_number" validate:"omitempty,max=64"`
	VehicleNumber      string               `json:"vehicle_number" validate:"omitempty,max=32"`
	Notes              string               `json:"notes" validate:"omitempty,max=2000"`
	Lines              []receiptLineRequest `json:"lines" validate:"dive"`
}

type approvalConfigRequest struct {
	Level1Limit decimal.Decimal `json:"level1_limit"`
	Level2Limit decimal.Decimal `json:"level2_limit"`
	Level2Role  string          `json:"level2_role" validate:"omitempty,max=64"`
	Level3Role  string          `json:"level3_role" validate:"omitempty,max=64"`
}

type orderResponse struct {
	Order PurchaseOrder `json:"purchase_order"`
	Items []POItem      `json:"items"`
}

type transitionResponse struct {
	Status  POStatus      `json:"status"`
	Order   PurchaseOrder `json:"purchase_order"`
	History HistoryEntry  `json:"history"`
}

type receiptResponse struct {
	Receipt  GoodsReceipt  `json:"goods_receipt"`
	POStatus POStatus      `json:"po_status"`
	Order    PurchaseOrder `json:"purchase_order"`
	Items    []POItem      `json:"items"`
}

func (h *Handler) getPO(w http.ResponseWriter, r *http.Request) {
	id, poID, ok := h.scope(w, r)
	if !ok {
		return
	}
	po, items, err := h.service.GetPurchaseOrder(r.Context(), id.TenantID, poID)
	if err != nil {
		h.fail(w, "get purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, orderResponse{Order: po, Items: items})
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	id, poID, ok := h.scope(w, r)
	if !ok {
		return
	}
	entries, err := h.service.ListHistory(r.Context(), id.TenantID, poID)
	if err != nil {
		h.fail(w, "list history", err)
		return
	}
	if entries == nil {
		entries = []HistoryEntry{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (h *Handler) listGoodsReceipts(w http.ResponseWriter, r *http.Request) {
	id, poID, ok := h.scope(w, r)
	if !ok {
		return
	}
	receipts, err := h.service.ListGoodsReceipts(r.Context(), id.TenantID, poID)
	if err != nil {
		h.fail(w, "list goods receipts", err)
		return
	}
	if receipts == nil {
		receipts = []GoodsReceipt{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"goods_receipts": receipts})
}

func (h *Handler) createPO(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req createPORequest
	if !h.decode(w, r, &req) {
		return
	}
	items := make([]POItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, POItemInput{Material: it.Material, Unit: it.Unit, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	po, poItems, err := h.service.CreatePurchaseOrder(r.Context(), CreatePOInput{
		TenantID: id.TenantID,
		ActorID:  id.UserID,
		Number:   req.Number,
		Vendor:   req.Vendor,
		Currency: req.Currency,
		Items:    items,
	})
	if err != nil {
		h.fail(w, "create purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, orderResponse{Order: po, Items: poItems})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	id, poID, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.TransitionStatus(r.Context(), TransitionInput{
		TenantID: id.TenantID,
		POID:     poID,
		ActorID:  id.UserID,
		Target:   POStatus(strings.ToLower(strings.TrimSpace(req.Target))),
		Reason:   strings.TrimSpace(req.Reason),
	})
	if err != nil {
		h.fail(w, "transition purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, transitionResponse{Status: result.Order.Status, Order: result.Order, History: result.History})
}

func (h *Handler) updatePayment(w http.ResponseWriter, r *http.Request) {
	id, poID, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	po, err := h.service.UpdatePaymentStatus(r.Context(), id.TenantID, poID, id.UserID, PaymentStatus(req.PaymentStatus))
	if err != nil {
		h.fail(w, "update payment status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purchase_order": po})
}

func (h *Handler) recompute(w http.ResponseWriter, r *http.Request) {
	id, poID, ok := h.scope(w, r)
	if !ok {
		return
	}
	result, err := h.service.RecomputeFulfillment(r.Context(), id.TenantID, poID, id.UserID)
	if err != nil {
		h.fail(w, "recompute fulfillment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, orderResponse{Order: result.Order, Items: result.Items})
}

func (h *Handler) submitGoodsReceipt(w http.ResponseWriter, r *http.Request) {
	id, poID, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req goodsReceiptRequest
	if !h.decode(w, r, &req) {
		return
	}
	var received time.Time
	if req.ReceivedDate != "" {
		received, _ = time.Parse(time.DateOnly, req.ReceivedDate)
	}
	lines := make([]ReceiptLineInput, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, ReceiptLineInput{
			POItemID:         l.POItemID,
			QuantityReceived: l.QuantityReceived,
			QuantityAccepted: l.QuantityAccepted,
			QuantityRejected: l.QuantityRejected,
			RejectionReason:  l.RejectionReason,
		})
	}
	result, err := h.service.SubmitGoodsReceipt(r.Context(), GoodsReceiptInput{
		TenantID:           id.TenantID,
		POID:               poID,
		ActorID:            id.UserID,
		ReceivedDate:       received,
		DeliveryNoteNumber: req.DeliveryNoteNumber,
		VehicleNumber:      req.VehicleNumber,
		Notes:              req.Notes,
		IdempotencyKey:     strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		Lines:              lines,
	})
	if err != nil {
		h.fail(w, "submit goods receipt", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, receiptResponse{
		Receipt:  result.Receipt,
		POStatus: result.Order.Status,
		Order:    result.Order,
		Items:    result.Items,
	})
}

func (h *Handler) getApprovalConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	cfg, err := h.configs.ApprovalConfig(r.Context(), id.TenantID)
	if err != nil {
		h.fail(w, "get approval config", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"approval_config": cfg})
}

func (h *Handler) saveApprovalConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req approvalConfigRequest
	if !h.decode(w, r, &req) {
		return
	}
	cfg := ApprovalConfig{
		TenantID:    id.TenantID,
		Level1Limit: req.Level1Limit,
		Level2Limit: req.Level2Limit,
		Level2Role:  rbac.ParseRole(req.Level2Role),
		Level3Role:  rbac.ParseRole(req.Level3Role),
	}
	if err := h.configs.SaveApprovalConfig(r.Context(), cfg); err != nil {
		h.fail(w, "save approval config", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"approval_config": cfg})
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (shared.Identity, bool) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return shared.Identity{}, false
	}
	return id, true
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (shared.Identity, uuid.UUID, bool) {
	id, ok := h.identity(w, r)
	if !ok {
		return shared.Identity{}, uuid.Nil, false
	}
	poID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, newError(CodeValidation, "purchase order id must be a UUID"))
		return shared.Identity{}, uuid.Nil, false
	}
	return id, poID, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.RespondError(w, &Error{Code: CodeValidation, Message: "malformed request body", Err: err})
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		httpx.RespondError(w, validationError(err))
		return false
	}
	return true
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &Error{Code: CodeValidation, Message: "invalid request", Err: err}
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return newError(CodeValidation, strings.Join(parts, "; "))
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	code := CodeOf(err)
	switch {
	case code == "":
		h.logger.Error(op, slog.Any("error", err))
	case code == CodeDataIntegrity:
		// already escalated by the service
	default:
		h.logger.Debug(op, slog.String("code", string(code)), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
