// Package singer writes the Singer message stream: one JSON object per line
// for every SCHEMA, RECORD and STATE message, in call order.
package singer

import (
	"bufio"
	"io"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/tap-outbrain/pkg/connector/core"
	"github.com/ajitpratap0/tap-outbrain/pkg/errors"
	"github.com/ajitpratap0/tap-outbrain/pkg/json"
)

// Message types
const (
	TypeSchema = "SCHEMA"
	TypeRecord = "RECORD"
	TypeState  = "STATE"
)

// timeExtractedLayout is RFC 3339 in UTC with microsecond precision
const timeExtractedLayout = "2006-01-02T15:04:05.999999Z"

// SchemaMessage declares a stream
type SchemaMessage struct {
	Type               string                 `json:"type"`
	Stream             string                 `json:"stream"`
	Schema             map[string]interface{} `json:"schema"`
	KeyProperties      []string               `json:"key_properties"`
	BookmarkProperties []string               `json:"bookmark_properties,omitempty"`
}

// RecordMessage carries one extracted record
type RecordMessage struct {
	Type          string                 `json:"type"`
	Stream        string                 `json:"stream"`
	Record        map[string]interface{} `json:"record"`
	TimeExtracted string                 `json:"time_extracted,omitempty"`
}

// StateMessage carries a bookmark checkpoint
type StateMessage struct {
	Type  string             `json:"type"`
	Value core.StateSnapshot `json:"value"`
}

// Writer implements core.Sink on top of an io.Writer. Records are buffered;
// SCHEMA and STATE messages flush so a checkpoint never reaches the
// consumer ahead of, or long after, the records it covers.
type Writer struct {
	mu      sync.Mutex
	out     *bufio.Writer
	encoder *gojson.Encoder

	schemas int64
	records int64
	states  int64
}

// NewWriter returns a writer emitting to w
func NewWriter(w io.Writer) *Writer {
	out := bufio.NewWriterSize(w, 64*1024)
	return &Writer{
		out:     out,
		encoder: json.GetEncoder(out),
	}
}

// DeclareSchema writes a SCHEMA message
func (w *Writer) DeclareSchema(stream string, schema map[string]interface{}, keyProperties, bookmarkProperties []string) error {
	if keyProperties == nil {
		keyProperties = []string{}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.write(SchemaMessage{
		Type:               TypeSchema,
		Stream:             stream,
		Schema:             schema,
		KeyProperties:      keyProperties,
		BookmarkProperties: bookmarkProperties,
	}, stream); err != nil {
		return err
	}
	w.schemas++
	return w.flush()
}

// EmitRecord writes a RECORD message
func (w *Writer) EmitRecord(stream string, record map[string]interface{}, extractedAt time.Time) error {
	msg := RecordMessage{
		Type:   TypeRecord,
		Stream: stream,
		Record: record,
	}
	if !extractedAt.IsZero() {
		msg.TimeExtracted = extractedAt.UTC().Format(timeExtractedLayout)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.write(msg, stream); err != nil {
		return err
	}
	w.records++
	return nil
}

// EmitState writes a STATE message and flushes
func (w *Writer) EmitState(snapshot core.StateSnapshot) error {
	if snapshot == nil {
		snapshot = core.StateSnapshot{}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.write(StateMessage{Type: TypeState, Value: snapshot}, ""); err != nil {
		return err
	}
	w.states++
	return w.flush()
}

// Flush writes any buffered records
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flush()
}

// Counts returns the number of messages written per type
func (w *Writer) Counts() map[string]int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return map[string]int64{
		TypeSchema: w.schemas,
		TypeRecord: w.records,
		TypeState:  w.states,
	}
}

func (w *Writer) write(msg interface{}, stream string) error {
	if err := w.encoder.Encode(msg); err != nil {
		e := errors.Wrap(err, errors.ErrorTypeFile, "failed to write message")
		if stream != "" {
			e = e.WithDetail("stream", stream)
		}
		return e
	}
	return nil
}

func (w *Writer) flush() error {
	if err := w.out.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to flush message stream")
	}
	return nil
}

var _ core.Sink = (*Writer)(nil)
