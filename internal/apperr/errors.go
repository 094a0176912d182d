package apperr

import "fmt"

// Code is a machine-identifiable error code, independent of Message's
// human-readable text.
type Code string

const (
	// Queue errors
	CodeQueueStopped   Code = "QUEUE_STOPPED"
	CodeQueueNotFound  Code = "QUEUE_JOB_NOT_FOUND"

	// Admission errors
	CodeAdmissionTimeout Code = "ADMISSION_TIMEOUT"
	CodeAdmissionBroker  Code = "ADMISSION_BROKER"

	// Probe errors
	CodeProbeTransport Code = "PROBE_TRANSPORT"
	CodeProbeProtocol  Code = "PROBE_PROTOCOL"
	CodeProbeParse     Code = "PROBE_PARSE"
	CodeProbeCanceled  Code = "PROBE_CANCELED"

	// Persistence errors
	CodeDBQuery  Code = "DB_QUERY"
	CodeDBInsert Code = "DB_INSERT"
	CodeDBUpdate Code = "DB_UPDATE"
	CodeDBDelete Code = "DB_DELETE"
	CodeDBTx     Code = "DB_TX"

	// Configuration errors
	CodeInvalidConfig Code = "INVALID_CONFIG"
	CodeMissingConfig Code = "MISSING_CONFIG"

	// Catalog sync errors
	CodeCatalogFetch Code = "CATALOG_FETCH"
	CodeCatalogEmpty Code = "CATALOG_EMPTY"
)

// Error is the engine's typed error: a stable Code plus a human message,
// an optional wrapped cause, and free-form context for logging.
type Error struct {
	Code    Code
	Message string
	Err     error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithContext attaches a key/value pair for logging and returns the
// receiver, so callers can chain it at the construction site.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ============== queue ==============

func QueueStopped() *Error {
	return &Error{Code: CodeQueueStopped, Message: "detection stopped by user"}
}

func QueueJobNotFound(jobID string) *Error {
	return &Error{Code: CodeQueueNotFound, Message: fmt.Sprintf("job %s not found", jobID), Context: map[string]any{"job_id": jobID}}
}

// ============== admission ==============

func AdmissionTimeout(channelID int64) *Error {
	return &Error{Code: CodeAdmissionTimeout, Message: fmt.Sprintf("admission wait timed out for channel %d", channelID), Context: map[string]any{"channel_id": channelID}}
}

func AdmissionBrokerError(op string, err error) *Error {
	return &Error{Code: CodeAdmissionBroker, Message: fmt.Sprintf("admission broker op %s failed", op), Err: err, Context: map[string]any{"op": op}}
}

// ============== probe ==============

func ProbeTransportError(stage string, err error) *Error {
	return &Error{Code: CodeProbeTransport, Message: fmt.Sprintf("transport error during %s", stage), Err: err, Context: map[string]any{"stage": stage}}
}

func ProbeProtocolError(httpStatus int) *Error {
	return &Error{Code: CodeProbeProtocol, Message: fmt.Sprintf("upstream returned status %d", httpStatus), Context: map[string]any{"http_status": httpStatus}}
}

func ProbeParseError() *Error {
	return &Error{Code: CodeProbeParse, Message: "empty/invalid response"}
}

func ProbeCanceledError() *Error {
	return &Error{Code: CodeProbeCanceled, Message: "detection stopped by user"}
}

// ============== persistence ==============

func DBQueryError(operation string, err error) *Error {
	return &Error{Code: CodeDBQuery, Message: fmt.Sprintf("query failed: %s", operation), Err: err, Context: map[string]any{"operation": operation}}
}

func DBInsertError(table string, err error) *Error {
	return &Error{Code: CodeDBInsert, Message: fmt.Sprintf("insert failed: %s", table), Err: err, Context: map[string]any{"table": table}}
}

func DBUpdateError(table string, err error) *Error {
	return &Error{Code: CodeDBUpdate, Message: fmt.Sprintf("update failed: %s", table), Err: err, Context: map[string]any{"table": table}}
}

func DBDeleteError(table string, err error) *Error {
	return &Error{Code: CodeDBDelete, Message: fmt.Sprintf("delete failed: %s", table), Err: err, Context: map[string]any{"table": table}}
}

func DBTxError(operation string, err error) *Error {
	return &Error{Code: CodeDBTx, Message: fmt.Sprintf("transaction failed: %s", operation), Err: err, Context: map[string]any{"operation": operation}}
}

// ============== configuration ==============

func InvalidConfigError(field, reason string) *Error {
	return &Error{Code: CodeInvalidConfig, Message: fmt.Sprintf("invalid config field %q: %s", field, reason), Context: map[string]any{"field": field, "reason": reason}}
}

func MissingConfigError(field string) *Error {
	return &Error{Code: CodeMissingConfig, Message: fmt.Sprintf("missing required config field: %s", field), Context: map[string]any{"field": field}}
}

// ============== catalog ==============

func CatalogFetchError(channelID int64, err error) *Error {
	return &Error{Code: CodeCatalogFetch, Message: fmt.Sprintf("model catalog fetch failed for channel %d", channelID), Err: err, Context: map[string]any{"channel_id": channelID}}
}

func CatalogEmptyError() *Error {
	return &Error{Code: CodeCatalogEmpty, Message: "empty model list"}
}

// ============== helpers ==============

func IsAppError(err error) bool {
	_, ok := err.(*Error)
	return ok
}

func GetCode(err error) Code {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}
