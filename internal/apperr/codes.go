package apperr

// Code - класс ошибки, понятный клиенту.
type Code string

const (
	CodeUnauthenticated    Code = "UNAUTHENTICATED"
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeNotFound           Code = "NOT_FOUND"
	CodePreconditionFailed Code = "PRECONDITION_FAILED"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeTransient          Code = "TRANSIENT"
	CodeInternal           Code = "INTERNAL"
)
