// Package pipeline runs a source against a sink: it discovers the catalog,
// declares every stream's schema, syncs, and always closes the source.
//
// # Basic Usage
//
//	runner := pipeline.NewRunner(source, singer.NewWriter(os.Stdout), logger)
//	stats, err := runner.Run(ctx, state)
package pipeline

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tap-outbrain/pkg/connector/core"
	"github.com/ajitpratap0/tap-outbrain/pkg/errors"
	"github.com/ajitpratap0/tap-outbrain/pkg/json"
	"github.com/ajitpratap0/tap-outbrain/pkg/observability"
)

// Runner orchestrates one sync run
type Runner struct {
	source core.Source
	sink   core.Sink
	logger *zap.Logger
	tracer *observability.ConnectorTracer
}

// Stats summarizes a finished run
type Stats struct {
	Records     map[string]int64 `json:"records"`
	Checkpoints int64            `json:"checkpoints"`
	Streams     []string         `json:"streams"`
	Duration    time.Duration    `json:"duration"`
}

// TotalRecords returns the number of records across streams
func (s *Stats) TotalRecords() int64 {
	var total int64
	for _, n := range s.Records {
		total += n
	}
	return total
}

// NewRunner creates a runner for an initialized source
func NewRunner(source core.Source, sink core.Sink, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		source: source,
		sink:   sink,
		logger: logger.With(zap.String("component", "pipeline")),
		tracer: observability.NewConnectorTracer("pipeline", source.Name()),
	}
}

// Run declares all schemas, syncs the source, flushes the sink and closes
// the source. state is advanced in place; on failure it holds the last
// committed bookmarks.
func (r *Runner) Run(ctx context.Context, state *core.State) (*Stats, error) {
	start := time.Now()
	counter := newCountingSink(r.sink)
	if state == nil {
		state = core.NewState()
	}

	r.logger.Info("starting sync",
		zap.String("source", r.source.Name()),
		zap.String("version", r.source.Version()),
		zap.Strings("bookmarked_streams", state.Streams()))

	err := r.tracer.Trace(ctx, "run", func(ctx context.Context, span *observability.Span) error {
		catalog, err := r.source.Discover(ctx)
		if err != nil {
			return errors.Wrap(err, errors.TypeOf(err), "discovery failed")
		}
		for _, stream := range catalog.Streams {
			if err := counter.DeclareSchema(stream.Name, stream.Schema, stream.KeyProperties, stream.BookmarkProperties); err != nil {
				return err
			}
		}
		span.SetAttribute("streams", len(catalog.Streams))

		if err := r.source.Sync(ctx, state, counter); err != nil {
			return err
		}
		span.SetAttribute("records", counter.total())
		return nil
	})

	// Records after the last STATE are still buffered
	if flushErr := counter.Flush(); flushErr != nil {
		if err == nil {
			err = flushErr
		} else {
			r.logger.Warn("failed to flush output", zap.Error(flushErr))
		}
	}

	if closeErr := r.source.Close(context.WithoutCancel(ctx)); closeErr != nil {
		r.logger.Warn("failed to close source", zap.Error(closeErr))
	}

	stats := counter.stats(time.Since(start))
	fields := []zap.Field{
		zap.Int64("records", stats.TotalRecords()),
		zap.Int64("checkpoints", stats.Checkpoints),
		zap.Duration("duration", stats.Duration),
	}
	if err != nil {
		r.logger.Error("sync failed", append(fields, zap.Error(err))...)
		return stats, err
	}
	r.logger.Info("sync completed", fields...)
	return stats, nil
}

// WriteCatalog writes the source catalog as indented JSON
func WriteCatalog(ctx context.Context, source core.Source, w io.Writer) error {
	catalog, err := source.Discover(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(catalog, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode catalog")
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write catalog")
	}
	return nil
}

// countingSink forwards to a sink and counts what passes through
type countingSink struct {
	next core.Sink

	mu          sync.Mutex
	streams     []string
	records     map[string]int64
	checkpoints int64
}

func newCountingSink(next core.Sink) *countingSink {
	return &countingSink{next: next, records: make(map[string]int64)}
}

func (c *countingSink) DeclareSchema(stream string, schema map[string]interface{}, keyProperties, bookmarkProperties []string) error {
	if err := c.next.DeclareSchema(stream, schema, keyProperties, bookmarkProperties); err != nil {
		return err
	}
	c.mu.Lock()
	c.streams = append(c.streams, stream)
	c.mu.Unlock()
	return nil
}

func (c *countingSink) EmitRecord(stream string, record map[string]interface{}, extractedAt time.Time) error {
	if err := c.next.EmitRecord(stream, record, extractedAt); err != nil {
		return err
	}
	c.mu.Lock()
	c.records[stream]++
	c.mu.Unlock()
	return nil
}

func (c *countingSink) EmitState(snapshot core.StateSnapshot) error {
	if err := c.next.EmitState(snapshot); err != nil {
		return err
	}
	c.mu.Lock()
	c.checkpoints++
	c.mu.Unlock()
	return nil
}

func (c *countingSink) Flush() error {
	return c.next.Flush()
}

func (c *countingSink) total() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, v := range c.records {
		n += v
	}
	return n
}

func (c *countingSink) stats(d time.Duration) *Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	records := make(map[string]int64, len(c.records))
	for k, v := range c.records {
		records[k] = v
	}
	streams := append([]string(nil), c.streams...)
	sort.Strings(streams)
	return &Stats{
		Records:     records,
		Checkpoints: c.checkpoints,
		Streams:     streams,
		Duration:    d,
	}
}
