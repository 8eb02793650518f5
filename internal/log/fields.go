package log

// Attribute keys used across packages. Fixed names keep log queries
// stable when the emitting call site moves.
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldQuery      = "query"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldUserAgent  = "user_agent"
	FieldErrorType  = "error_type"
)

// Component values for FieldComponent.
const (
	ComponentApp      = "app"
	ComponentTemplate = "template"
)

// ErrorTypeConfiguration marks failures caused by deploy-time
// configuration rather than request input.
const ErrorTypeConfiguration = "configuration_error"
