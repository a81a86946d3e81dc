package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldDurationHuman = "duration_human"
	FieldUserAgent     = "user_agent"
	FieldReferer       = "referer"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldLineItemID    = "line_item_id"
	FieldVersion       = "version"
	FieldLedgerPath    = "ledger_path"
	FieldMode          = "mode"
	FieldRollupLevel   = "rollup_level"
	FieldPeriods       = "periods"
	FieldTemplateID    = "template_id"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentBudget    = "budget"
	ComponentWorker    = "worker"
	ComponentCache     = "cache"
	ComponentSecurity  = "security"
	ComponentRateLimit = "rate_limit"
	ComponentBackend   = "backend"
)

// Operations defines standard operation names
const (
	OpCreate = "create"
	OpRead   = "read"
	OpUpdate = "update"
	OpDelete = "delete"
	OpList   = "list"
	OpRollup = "rollup"
	OpExport = "export"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithRequestID adds request ID field
func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

// WithClientIP adds client IP field
func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithBudget adds the fields that identify a budget save
func (f LogFields) WithBudget(lineItemID, version, mode string, periods int) LogFields {
	f[FieldLineItemID] = lineItemID
	f[FieldVersion] = version
	f[FieldMode] = mode
	f[FieldPeriods] = periods
	return f
}

// WithLedger adds the fields that identify a ledger selection
func (f LogFields) WithLedger(path, version string) LogFields {
	f[FieldLedgerPath] = path
	f[FieldVersion] = version
	return f
}

// WithRollupLevel adds the aggregation boundary of a rollup
func (f LogFields) WithRollupLevel(level int) LogFields {
	f[FieldRollupLevel] = level
	return f
}

// WithLineItem adds line item ID field
func (f LogFields) WithLineItem(lineItemID string) LogFields {
	f[FieldLineItemID] = lineItemID
	return f
}

// WithTemplate adds the fields that identify a zero-based template
func (f LogFields) WithTemplate(templateID, accountPath string) LogFields {
	f[FieldTemplateID] = templateID
	if accountPath != "" {
		f[FieldLedgerPath] = accountPath
	}
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent, referer string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	f[FieldUserAgent] = userAgent
	f[FieldReferer] = referer
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}