package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldUserAgent  = "user_agent"
	FieldError      = "error"
	FieldErrorKind  = "error_kind"
	FieldOperation  = "operation"
	FieldProcedure  = "procedure"
	FieldKind       = "kind"
	FieldUserID     = "user_id"
	FieldEntityID   = "entity_id"
	FieldEventID    = "event_id"
	FieldEventType  = "event_type"
	FieldSheetsRef  = "sheets_ref"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentRPC       = "rpc"
	ComponentFinance   = "finance"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentRateLimit = "rate_limit"
	ComponentTrace     = "trace"
	ComponentBackend   = "backend"
	ComponentHealth    = "health"
)

// Operations defines standard operation names
const (
	OpCreate    = "create"
	OpList      = "list"
	OpUpdate    = "update"
	OpAggregate = "aggregate"
	OpPublish   = "publish"
	OpConsume   = "consume"
	OpAppend    = "append"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// Fields is a small builder for key/value pairs handed to slog.
type Fields []any

func NewFields() Fields {
	return make(Fields, 0, 8)
}

func (f Fields) WithRequestID(id string) Fields {
	return append(f, FieldRequestID, id)
}

func (f Fields) WithOperation(op string) Fields {
	return append(f, FieldOperation, op)
}

func (f Fields) WithUserID(id int64) Fields {
	return append(f, FieldUserID, id)
}

func (f Fields) WithEntityID(id int64) Fields {
	return append(f, FieldEntityID, id)
}

func (f Fields) WithError(err error) Fields {
	if err == nil {
		return f
	}
	return append(f, FieldError, err.Error())
}

func (f Fields) WithHTTPRequest(method, path, clientIP string) Fields {
	return append(f, FieldMethod, method, FieldPath, path, FieldClientIP, clientIP)
}

func (f Fields) WithHTTPResponse(status int, durationMs int64) Fields {
	return append(f, FieldStatusCode, status, FieldDuration, durationMs)
}
