package procurement

import (
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atelier-erp/atelier/internal/rbac"
)

// Code identifies the rule a request violated.
type Code string

const (
	CodeNotFound                  Code = "NOT_FOUND"
	CodeInvalidTransition         Code = "INVALID_TRANSITION"
	CodeForbiddenRole             Code = "FORBIDDEN_ROLE"
	CodeSelfApprovalForbidden     Code = "SELF_APPROVAL_FORBIDDEN"
	CodeInsufficientApprovalLevel Code = "INSUFFICIENT_APPROVAL_LEVEL"
	CodePreconditionFailed        Code = "PRECONDITION_FAILED"
	CodeInvalidPOStateForReceipt  Code = "INVALID_PO_STATE_FOR_RECEIPT"
	CodeOverReceipt               Code = "OVER_RECEIPT"
	CodeNegativeQuantity          Code = "NEGATIVE_QUANTITY"
	CodeEmptyLines                Code = "EMPTY_LINES"
	CodeInvalidReceiptLine        Code = "INVALID_RECEIPT_LINE"
	CodeValidation                Code = "VALIDATION_FAILED"
	CodeDuplicateReceipt          Code = "DUPLICATE_RECEIPT"
	CodeBusy                      Code = "PO_BUSY"
	CodeDataIntegrity             Code = "DATA_INTEGRITY"
)

// OverReceipt carries the figures of a rejected receipt line.
type OverReceipt struct {
	Material        string
	Ordered         decimal.Decimal
	AlreadyAccepted decimal.Decimal
	Pending         decimal.Decimal
	Requested       decimal.Decimal
}

// Error is a procurement rule violation. errors.Is matches on Code.
type Error struct {
	Code         Code
	Message      string
	Allowed      []POStatus
	RequiredRole rbac.Role
	Over         *OverReceipt
	Err          error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.ToLower(strings.ReplaceAll(string(e.Code), "_", " "))
	}
	if e.Err != nil {
		return "procurement: " + msg + ": " + e.Err.Error()
	}
	return "procurement: " + msg
}

// Is matches errors carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorCode implements httpx.DomainError.
func (e *Error) ErrorCode() string { return string(e.Code) }

// HTTPStatus implements httpx.DomainError.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeForbiddenRole, CodeSelfApprovalForbidden, CodeInsufficientApprovalLevel:
		return http.StatusForbidden
	case CodeInvalidTransition, CodePreconditionFailed, CodeInvalidPOStateForReceipt, CodeDuplicateReceipt, CodeBusy:
		return http.StatusConflict
	case CodeOverReceipt, CodeNegativeQuantity, CodeEmptyLines, CodeInvalidReceiptLine:
		return http.StatusUnprocessableEntity
	case CodeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Details implements httpx.DomainError.
func (e *Error) Details() map[string]any {
	details := map[string]any{}
	if e.Code == CodeInvalidTransition {
		allowed := make([]string, 0, len(e.Allowed))
		for _, s := range e.Allowed {
			allowed = append(allowed, string(s))
		}
		details["allowed"] = allowed
	}
	if e.RequiredRole != "" {
		details["required_role"] = string(e.RequiredRole)
	}
	if e.Over != nil {
		details["material"] = e.Over.Material
		details["ordered"] = e.Over.Ordered.String()
		details["already_accepted"] = e.Over.AlreadyAccepted.String()
		details["pending"] = e.Over.Pending.String()
		details["requested"] = e.Over.Requested.String()
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

// Sentinels for errors.Is.
var (
	ErrNotFound                  = &Error{Code: CodeNotFound}
	ErrInvalidTransition         = &Error{Code: CodeInvalidTransition}
	ErrForbiddenRole             = &Error{Code: CodeForbiddenRole}
	ErrSelfApprovalForbidden     = &Error{Code: CodeSelfApprovalForbidden}
	ErrInsufficientApprovalLevel = &Error{Code: CodeInsufficientApprovalLevel}
	ErrPreconditionFailed        = &Error{Code: CodePreconditionFailed}
	ErrInvalidPOStateForReceipt  = &Error{Code: CodeInvalidPOStateForReceipt}
	ErrOverReceipt               = &Error{Code: CodeOverReceipt}
	ErrNegativeQuantity          = &Error{Code: CodeNegativeQuantity}
	ErrEmptyLines                = &Error{Code: CodeEmptyLines}
	ErrInvalidReceiptLine        = &Error{Code: CodeInvalidReceiptLine}
	ErrValidation                = &Error{Code: CodeValidation}
	ErrDuplicateReceipt          = &Error{Code: CodeDuplicateReceipt}
	ErrBusy                      = &Error{Code: CodeBusy}
	ErrDataIntegrity             = &Error{Code: CodeDataIntegrity}
)

// ErrStaleStatus is returned by repositories when a conditional status update finds the
// row no longer in the expected status.
var ErrStaleStatus = errors.New("procurement: purchase order status changed concurrently")

// CodeOf returns the code carried by err, or "" for infrastructure errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func newError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}
