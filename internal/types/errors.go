package types

import "fmt"

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// Validation error codes. The numbering is stable.
const (
	CodeMalformedCommand    = "E001"
	CodeMissingCommandType  = "E002"
	CodeUnknownCommandType  = "E003"
	CodeMissingField        = "E004"
	CodeInvalidAction       = "E005"
	CodeMissingEntityID     = "E006"
	CodeEntityNotFound      = "E007"
	CodeEntityTypeMismatch  = "E008"
	CodeInvalidRangeAction  = "E009"
	CodeMissingValue        = "E010"
	CodeWrongValueType      = "E011"
	CodeValueNotAllowed     = "E012"
	CodeValueBelowMinimum   = "E013"
	CodeValueAboveMaximum   = "E014"
	CodeEntityDenied        = "E015"
	CodeEntityNotAllowed    = "E016"
	CodeCommandTypeDenied   = "E017"
	CodeGlobalRateLimit     = "E018"
	CodeEntityRateLimit     = "E019"
	CodeEntityCooldown      = "E020"
	CodeEncodingFailed      = "E100"
	CodeTransmissionFailed  = "E101"
	CodeUnparseableRequest  = "E102"
	CodeUnexpectedException = "E999"
)

// ValidationError is a rejected command. Exactly one code per rejection.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsRateLimit reports whether the rejection came from the rate-limit layer.
func (e *ValidationError) IsRateLimit() bool {
	switch e.Code {
	case CodeGlobalRateLimit, CodeEntityRateLimit, CodeEntityCooldown:
		return true
	}
	return false
}

// IsSecurity reports whether the rejection came from the security layer.
func (e *ValidationError) IsSecurity() bool {
	switch e.Code {
	case CodeEntityDenied, CodeEntityNotAllowed, CodeCommandTypeDenied:
		return true
	}
	return false
}
