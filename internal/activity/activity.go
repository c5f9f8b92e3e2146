// Package activity records the outcome of every transfer and key operation
// for later audit. Records are redacted before they leave the process.
package activity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/better-wallet/session-keyring/internal/logger"
	"github.com/better-wallet/session-keyring/internal/redact"
)

// Record is one terminal outcome.
type Record struct {
	Action          string
	CorrelationID   string
	State           string
	TransactionHash string
	ExecutionStatus string
	RevertReason    string
	SignerMode      string
	SignerRequestID string
	SessionKey      string
	Token           string
	To              string
	Amount          string
	Retried         bool
	Error           string
	Details         map[string]any
	CreatedAt       time.Time
}

// Recorder stores activity records.
type Recorder interface {
	Record(ctx context.Context, rec *Record) error
}

// Fields flattens rec into a redacted attribute map.
func (r *Record) Fields() map[string]any {
	fields := map[string]any{
		"action":            r.Action,
		"correlation_id":    r.CorrelationID,
		"state":             r.State,
		"tx_hash":           r.TransactionHash,
		"execution_status":  r.ExecutionStatus,
		"revert_reason":     r.RevertReason,
		"signer_mode":       r.SignerMode,
		"signer_request_id": r.SignerRequestID,
		"session_key":       r.SessionKey,
		"token_symbol":      r.Token,
		"to":                r.To,
		"amount":            r.Amount,
		"retried":           r.Retried,
	}
	if r.Error != "" {
		fields["error"] = redact.Message(r.Error)
	}
	if len(r.Details) > 0 {
		fields["details"] = r.Details
	}
	return redact.Fields(fields)
}

// LogRecorder writes records as structured log lines.
type LogRecorder struct {
	logger *slog.Logger
}

// NewLogRecorder creates a LogRecorder. A nil logger uses the context logger.
func NewLogRecorder(l *slog.Logger) *LogRecorder {
	return &LogRecorder{logger: l}
}

func (r *LogRecorder) Record(ctx context.Context, rec *Record) error {
	l := r.logger
	if l == nil {
		l = logger.FromContext(ctx)
	}
	fields := rec.Fields()
	args := make([]any, 0, 2*len(fields))
	for k, v := range fields {
		args = append(args, k, v)
	}
	l.InfoContext(ctx, "activity", args...)
	return nil
}

// MemoryRecorder keeps records in memory.
type MemoryRecorder struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Record(ctx context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *rec
	c.Details = redact.Fields(rec.Details)
	c.Error = redact.Message(rec.Error)
	r.records = append(r.records, c)
	return nil
}

// Records returns a copy of everything recorded so far.
func (r *MemoryRecorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// MultiRecorder fans a record out to several recorders and returns the first
// error.
type MultiRecorder []Recorder

func (m MultiRecorder) Record(ctx context.Context, rec *Record) error {
	var first error
	for _, r := range m {
		if err := r.Record(ctx, rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}
