package service

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindAbuseLimitExceeded   ErrorKind = "AbuseLimitExceeded"
	KindNotFound             ErrorKind = "NotFound"
	KindExpired              ErrorKind = "Expired"
	KindAttemptsExhausted    ErrorKind = "AttemptsExhausted"
	KindInvalidCode          ErrorKind = "InvalidCode"
	KindAlreadyVerified      ErrorKind = "AlreadyVerified"
	KindVenueLocationMissing ErrorKind = "VenueLocationMissing"
	KindPositionUnavailable  ErrorKind = "PositionUnavailable"
	KindInvalidFileType      ErrorKind = "InvalidFileType"
	KindFileTooLarge         ErrorKind = "FileTooLarge"
	KindAlreadyApproved      ErrorKind = "AlreadyApproved"
	KindDeliveryFailed       ErrorKind = "DeliveryFailed"
	KindStorageError         ErrorKind = "StorageError"
	KindInvalidStage         ErrorKind = "InvalidStage"
	KindInvalidInput         ErrorKind = "InvalidInput"
)

// Abuse ceilings named in AbuseLimitExceeded details.
const (
	CeilingIdentifierRate = "identifier_rate"
	CeilingDevice         = "device_accounts"
	CeilingPhone          = "phone_accounts"
)

// PositionUnavailable sub-reasons.
type PositionReason string

const (
	ReasonPermissionDenied PositionReason = "permission_denied"
	ReasonUnavailable      PositionReason = "position_unavailable"
	ReasonTimeout          PositionReason = "timeout"
)

// VerificationError is the typed outcome returned by every verification
// operation. Details carries the measurement the caller needs to render an
// actionable message.
type VerificationError struct {
	Kind    ErrorKind
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// Is matches any VerificationError of the same Kind.
func (e *VerificationError) Is(target error) bool {
	t, ok := target.(*VerificationError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func (e *VerificationError) WithDetail(key string, value interface{}) *VerificationError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(kind ErrorKind, msg string) *VerificationError {
	return &VerificationError{Kind: kind, Message: msg}
}

func wrapError(kind ErrorKind, msg string, err error) *VerificationError {
	return &VerificationError{Kind: kind, Message: msg, Err: err}
}

// Sentinels for errors.Is.
var (
	ErrAbuseLimitExceeded   = newError(KindAbuseLimitExceeded, "abuse limit exceeded")
	ErrNotFound             = newError(KindNotFound, "not found")
	ErrExpired              = newError(KindExpired, "challenge expired")
	ErrAttemptsExhausted    = newError(KindAttemptsExhausted, "attempts exhausted")
	ErrInvalidCode          = newError(KindInvalidCode, "invalid code")
	ErrAlreadyVerified      = newError(KindAlreadyVerified, "already verified")
	ErrVenueLocationMissing = newError(KindVenueLocationMissing, "venue location missing")
	ErrPositionUnavailable  = newError(KindPositionUnavailable, "position unavailable")
	ErrInvalidFileType      = newError(KindInvalidFileType, "invalid file type")
	ErrFileTooLarge         = newError(KindFileTooLarge, "file too large")
	ErrAlreadyApproved      = newError(KindAlreadyApproved, "already approved")
	ErrDeliveryFailed       = newError(KindDeliveryFailed, "delivery failed")
	ErrStorageError         = newError(KindStorageError, "storage error")
	ErrInvalidStage         = newError(KindInvalidStage, "invalid stage")
	ErrInvalidInput         = newError(KindInvalidInput, "invalid input")
)

// KindOf returns the kind of a VerificationError anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var ve *VerificationError
	if errors.As(err, &ve) {
		return ve.Kind, true
	}
	return "", false
}

// PositionError builds a PositionUnavailable error for reason.
func PositionError(reason PositionReason, msg string) *VerificationError {
	return newError(KindPositionUnavailable, msg).WithDetail("reason", string(reason))
}

// PositionReasonOf extracts the sub-reason of a PositionUnavailable error.
func PositionReasonOf(err error) (PositionReason, bool) {
	var ve *VerificationError
	if !errors.As(err, &ve) || ve.Kind != KindPositionUnavailable {
		return "", false
	}
	r, ok := ve.Details["reason"].(string)
	return PositionReason(r), ok
}
