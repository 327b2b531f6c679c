package errors

const (
	HttpInternalError      = "internal_error"
	HttpInvalidJsonError   = "invalid_json"
	HttpValidationError    = "validation_failed"
	HttpPublishError       = "publish_failed"
	HttpNotSupportedError  = "not_supported"
	HttpServiceUnavailable = "service_unavailable"
	HttpPayloadTooLarge    = "payload_too_large"
)

// ErrorResponse is the error response body of every HTTP endpoint.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
