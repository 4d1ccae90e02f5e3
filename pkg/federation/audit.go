package federation

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// Audit codes raised by the enterprise layer.
const (
	AuditLocalConnector   = "FED-0001"
	AuditMemberJoined     = "FED-0002"
	AuditMemberRefreshed  = "FED-0003"
	AuditMemberLeft       = "FED-0004"
	AuditAllDisconnected  = "FED-0005"
	AuditAsOfRetry        = "FED-0006"
	AuditNotSupported     = "FED-0007"
	AuditNoHome           = "FED-0008"
	AuditPeerSuspected    = "FED-0009"
	AuditPeerDead         = "FED-0010"
	AuditDisconnectFailed = "FED-0011"
)

// AuditEvent is a structured record of something an operator may need to know.
type AuditEvent struct {
	Code     string
	Severity Severity
	Message  string
	Params   map[string]string
}

// Auditor receives audit events. Implementations must be safe for concurrent use.
type Auditor interface {
	Record(event AuditEvent)
}

// LogAuditor writes audit events to a zap logger.
type LogAuditor struct {
	logger *zap.Logger
}

func NewLogAuditor(logger *zap.Logger) *LogAuditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogAuditor{logger: logger.Named("audit")}
}

func (a *LogAuditor) Record(event AuditEvent) {
	fields := []zap.Field{zap.String("audit_code", event.Code)}
	keys := make([]string, 0, len(event.Params))
	for k := range event.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, zap.String(k, event.Params[k]))
	}

	switch event.Severity {
	case SeverityError:
		a.logger.Error(event.Message, fields...)
	case SeverityWarning:
		a.logger.Warn(event.Message, fields...)
	default:
		a.logger.Info(event.Message, fields...)
	}
}

// AuditLog keeps events in memory. The status command and tests read it back.
type AuditLog struct {
	mu     sync.Mutex
	events []AuditEvent
	next   Auditor
}

// NewAuditLog returns an AuditLog that also forwards to next when it is not nil.
func NewAuditLog(next Auditor) *AuditLog {
	return &AuditLog{next: next}
}

func (l *AuditLog) Record(event AuditEvent) {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
	if l.next != nil {
		l.next.Record(event)
	}
}

// Events returns a copy of everything recorded so far.
func (l *AuditLog) Events() []AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]AuditEvent(nil), l.events...)
}

// Count returns how many events with the given code were recorded.
func (l *AuditLog) Count(code string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Code == code {
			n++
		}
	}
	return n
}
