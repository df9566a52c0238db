package attendance

import (
	"errors"
	"fmt"
	"net/http"
)

// ===== Error model (assets/disposals/lends と同型) =====
type Code string

const (
	CodeInvalidArgument      Code = "INVALID_ARGUMENT"
	CodeNotFound             Code = "NOT_FOUND"
	CodeConflict             Code = "CONFLICT"
	CodeInternal             Code = "INTERNAL"
	CodeForbidden            Code = "FORBIDDEN"
	CodeInvalidDate          Code = "INVALID_DATE"
	CodeUnknownStatus        Code = "UNKNOWN_STATUS"
	CodeIncompleteDetail     Code = "INCOMPLETE_DETAIL"
	CodeRequiresConfirmation Code = "REQUIRES_CONFIRMATION"
	CodeTokenExpired         Code = "TOKEN_EXPIRED"
	CodeTokenAlreadyUsed     Code = "TOKEN_ALREADY_USED"
	CodeTokenUnknown         Code = "TOKEN_UNKNOWN"
)

// DomainError: 呼び出し側に見せる回復可能な結果。
// ストレージ障害などはこの型にせず、そのまま返す
type DomainError struct {
	Code    Code
	Message string
	// REQUIRES_CONFIRMATION のとき、上書き候補の既存記録
	Existing *Record
}

func (e *DomainError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func newErr(code Code, msg string) *DomainError { return &DomainError{Code: code, Message: msg} }

func ErrInvalid(msg string) *DomainError          { return newErr(CodeInvalidArgument, msg) }
func ErrNotFound(msg string) *DomainError         { return newErr(CodeNotFound, msg) }
func ErrConflict(msg string) *DomainError         { return newErr(CodeConflict, msg) }
func ErrForbidden(msg string) *DomainError        { return newErr(CodeForbidden, msg) }
func ErrInvalidDate(msg string) *DomainError      { return newErr(CodeInvalidDate, msg) }
func ErrUnknownStatus(msg string) *DomainError    { return newErr(CodeUnknownStatus, msg) }
func ErrIncompleteDetail(msg string) *DomainError { return newErr(CodeIncompleteDetail, msg) }
func ErrTokenExpired(msg string) *DomainError     { return newErr(CodeTokenExpired, msg) }
func ErrTokenAlreadyUsed(msg string) *DomainError { return newErr(CodeTokenAlreadyUsed, msg) }
func ErrTokenUnknown(msg string) *DomainError     { return newErr(CodeTokenUnknown, msg) }

func ErrRequiresConfirmation(existing Record) *DomainError {
	return &DomainError{
		Code:     CodeRequiresConfirmation,
		Message:  fmt.Sprintf("student already marked %s; resubmit with override=true", existing.Status),
		Existing: &existing,
	}
}

// CodeOf: DomainError でなければ ""
func CodeOf(err error) Code {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

func IsCode(err error, code Code) bool { return err != nil && CodeOf(err) == code }

// isDomain: false ならインフラ系の失敗
func isDomain(err error) bool { return CodeOf(err) != "" }

func toHTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalidArgument, CodeInvalidDate, CodeUnknownStatus, CodeIncompleteDetail:
		return http.StatusBadRequest
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound, CodeTokenUnknown:
		return http.StatusNotFound
	case CodeConflict, CodeRequiresConfirmation, CodeTokenAlreadyUsed:
		return http.StatusConflict
	case CodeTokenExpired:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
