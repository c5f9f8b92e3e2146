package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() *Record {
	return &Record{
		Action:          "transfer",
		CorrelationID:   "corr-1",
		State:           "confirmed",
		TransactionHash: "0xabc",
		SignerMode:      "remote",
		SignerRequestID: "req-1",
		Error:           "upstream said Bearer tok123",
		Details:         map[string]any{"hmac_secret": "shh", "note": "ok"},
	}
}

func TestLogRecorder_Redacts(t *testing.T) {
	var buf bytes.Buffer
	rec := NewLogRecorder(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, rec.Record(context.Background(), sampleRecord()))

	out := buf.String()
	assert.Contains(t, out, `"tx_hash":"0xabc"`)
	assert.Contains(t, out, `"correlation_id":"corr-1"`)
	assert.NotContains(t, out, "tok123")
	assert.NotContains(t, out, "shh")
}

func TestMemoryRecorder(t *testing.T) {
	rec := NewMemoryRecorder()
	require.NoError(t, rec.Record(context.Background(), sampleRecord()))

	records := rec.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "[REDACTED]", records[0].Details["hmac_secret"])
	assert.Equal(t, "ok", records[0].Details["note"])
	assert.NotContains(t, records[0].Error, "tok123")
}

type failingRecorder struct{}

func (failingRecorder) Record(ctx context.Context, rec *Record) error { return errors.New("down") }

func TestMultiRecorder(t *testing.T) {
	mem := NewMemoryRecorder()
	err := MultiRecorder{failingRecorder{}, mem}.Record(context.Background(), sampleRecord())
	assert.EqualError(t, err, "down")
	assert.Len(t, mem.Records(), 1)
}

type execDB struct {
	sql  []string
	args [][]interface{}
}

func (d *execDB) Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error) {
	d.sql = append(d.sql, sql)
	d.args = append(d.args, arguments)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestPostgresRecorder(t *testing.T) {
	db := &execDB{}
	rec := NewPostgresRecorder(db)
	require.NoError(t, rec.EnsureSchema(context.Background()))
	require.NoError(t, rec.Record(context.Background(), sampleRecord()))

	require.Len(t, db.args, 2)
	args := db.args[1]
	assert.Equal(t, "transfer", args[0])
	assert.Equal(t, "0xabc", args[3])

	var fields map[string]any
	require.NoError(t, json.Unmarshal(args[4].([]byte), &fields))
	assert.Equal(t, "req-1", fields["signer_request_id"])
	assert.NotContains(t, fields["error"], "tok123")
}
