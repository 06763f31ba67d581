package entities

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrorKind classifies a domain failure so callers can react to it
type ErrorKind int

const (
	KindValidation ErrorKind = iota
	KindStateConflict
	KindInsufficientQuantity
	KindNotFound
	KindExternalSystem
)

// String method for ErrorKind enum
func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindStateConflict:
		return "StateConflictError"
	case KindInsufficientQuantity:
		return "InsufficientQuantityError"
	case KindNotFound:
		return "NotFoundError"
	case KindExternalSystem:
		return "ExternalSystemError"
	default:
		return "Unknown"
	}
}

// Kind sentinels, matched through errors.Is against any DomainError of the same kind
var (
	ErrValidation           = &DomainError{Kind: KindValidation, Code: "validation"}
	ErrStateConflict        = &DomainError{Kind: KindStateConflict, Code: "state_conflict"}
	ErrInsufficientQuantity = &DomainError{Kind: KindInsufficientQuantity, Code: "insufficient_quantity"}
	ErrNotFound             = &DomainError{Kind: KindNotFound, Code: "not_found"}
	ErrExternalSystem       = &DomainError{Kind: KindExternalSystem, Code: "external_system"}
)

// Stable reason codes returned to callers
const (
	CodeInvalidInput                  = "invalid_input"
	CodeFeatureDisabled               = "packages_disabled"
	CodeMissingWarehouse              = "missing_warehouse"
	CodeMissingCaller                 = "missing_caller"
	CodeMalformedBarcode              = "malformed_barcode"
	CodeUnknownField                  = "unknown_metadata_field"
	CodeReadOnlyField                 = "read_only_metadata_field"
	CodeRequiredField                 = "required_metadata_field"
	CodeFieldType                     = "metadata_field_type"
	CodeBinMismatch                   = "bin_mismatch"
	CodeWarehouseMismatch             = "warehouse_mismatch"
	CodePackageLocked                 = "package_locked"
	CodePackageClosed                 = "package_closed"
	CodePackageCancelled              = "package_cancelled"
	CodeInvalidTransition             = "invalid_status_transition"
	CodePackageNotEmpty               = "package_not_empty"
	CodePackageEmpty                  = "package_empty"
	CodeOperationNotOpen              = "operation_not_open"
	CodeLineClosed                    = "line_already_closed"
	CodeInsufficientQuantity          = "insufficient_quantity"
	CodeInsufficientAvailableQuantity = "insufficient_available_quantity"
	CodeNoSourceDocuments             = "no_source_documents"
	CodePackageNotFound               = "package_not_found"
	CodeContentNotFound               = "content_not_found"
	CodeOperationNotFound             = "operation_not_found"
	CodeLineNotFound                  = "line_not_found"
	CodeItemNotFound                  = "item_not_found"
	CodeCommitmentInvariant           = "commitment_invariant_violated"
	CodeAllocationMismatch            = "allocation_total_mismatch"
	CodeERPFailure                    = "erp_call_failed"
)

// DomainError is a named, recoverable rejection of an operation
type DomainError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels and any DomainError carrying the same code
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	if t == ErrValidation || t == ErrStateConflict || t == ErrInsufficientQuantity ||
		t == ErrNotFound || t == ErrExternalSystem {
		return e.Kind == t.Kind
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// NewValidationError reports bad input shape
func NewValidationError(code, format string, args ...any) *DomainError {
	return &DomainError{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewStateConflictError reports a status precondition violation
func NewStateConflictError(code, format string, args ...any) *DomainError {
	return &DomainError{Kind: KindStateConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError reports a missing package, line or document
func NewNotFoundError(code, format string, args ...any) *DomainError {
	return &DomainError{Kind: KindNotFound, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewInsufficientQuantityError reports available < requested
func NewInsufficientQuantityError(code string, available, requested decimal.Decimal) *DomainError {
	return &DomainError{
		Kind:    KindInsufficientQuantity,
		Code:    code,
		Message: fmt.Sprintf("insufficient quantity: available %s, requested %s", available.String(), requested.String()),
	}
}

// NewExternalSystemError wraps an ERP failure
func NewExternalSystemError(err error, format string, args ...any) *DomainError {
	return &DomainError{Kind: KindExternalSystem, Code: CodeERPFailure, Message: fmt.Sprintf(format, args...), Err: err}
}

// ErrorCode extracts the reason code of a domain error, or "" for anything else
func ErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
