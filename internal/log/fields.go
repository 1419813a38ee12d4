package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldCardID      = "card_id"
	FieldInvoiceID   = "invoice_id"
	FieldPurchaseID  = "purchase_id"
	FieldStatus      = "status"
	FieldWindowStart = "start_date"
	FieldWindowEnd   = "end_date"
	FieldAmountCents = "amount_cents"
	FieldMessageID   = "message_id"
	FieldEventType   = "type"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentCLI     = "cli"
	ComponentLedger  = "ledger"
	ComponentPlanner = "planner"
	ComponentStorage = "storage"
	ComponentAMQP    = "amqp"
	ComponentWorker  = "worker"
	ComponentSheets  = "sheets"
	ComponentBackend = "backend"
	ComponentHTTP    = "http"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpRead     = "read"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpList     = "list"
	OpPay      = "pay"
	OpRefresh  = "refresh"
	OpExport   = "export"
	OpSeed     = "seed"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithError adds the error message; nil errors add nothing.
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

func (f LogFields) WithCard(id int64) LogFields {
	f[FieldCardID] = id
	return f
}

func (f LogFields) WithInvoice(id int64, status string) LogFields {
	f[FieldInvoiceID] = id
	if status != "" {
		f[FieldStatus] = status
	}
	return f
}

func (f LogFields) WithPurchase(id, amountCents int64) LogFields {
	f[FieldPurchaseID] = id
	f[FieldAmountCents] = amountCents
	return f
}

func (f LogFields) WithHTTP(method, path string, statusCode int, durationMs int64) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
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
