package outbrain

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/ajitpratap0/tap-outbrain/pkg/connector/core"
)

type message struct {
	kind   string
	stream string
	record map[string]interface{}
	state  core.StateSnapshot
}

// memorySink keeps every message in emission order
type memorySink struct {
	mu       sync.Mutex
	messages []message
}

func (s *memorySink) DeclareSchema(stream string, schema map[string]interface{}, keys, bookmarks []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message{kind: "SCHEMA", stream: stream})
	return nil
}

func (s *memorySink) EmitRecord(stream string, record map[string]interface{}, extractedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message{kind: "RECORD", stream: stream, record: record})
	return nil
}

func (s *memorySink) Flush() error { return nil }

func (s *memorySink) EmitState(snapshot core.StateSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message{kind: "STATE", state: snapshot})
	return nil
}

func (s *memorySink) records(stream string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, m := range s.messages {
		if m.kind == "RECORD" && m.stream == stream {
			out = append(out, m.record)
		}
	}
	return out
}

func (s *memorySink) states() []core.StateSnapshot {
	var out []core.StateSnapshot
	for _, m := range s.messages {
		if m.kind == "STATE" {
			out = append(out, m.state)
		}
	}
	return out
}

// streamOrder collapses consecutive records of one stream
func (s *memorySink) streamOrder() []string {
	var out []string
	for _, m := range s.messages {
		if m.kind != "RECORD" {
			continue
		}
		if len(out) == 0 || out[len(out)-1] != m.stream {
			out = append(out, m.stream)
		}
	}
	return out
}

type testClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

type fetchCall struct {
	path  string
	query url.Values
}

// fakeAPI serves canned responses per path and records every call
type fakeAPI struct {
	handle func(path string, query url.Values) (map[string]interface{}, error)
	calls  []fetchCall
}

func (f *fakeAPI) Fetch(ctx context.Context, path string, query url.Values) (map[string]interface{}, error) {
	f.calls = append(f.calls, fetchCall{path: path, query: query})
	return f.handle(path, query)
}

func (f *fakeAPI) callsTo(path string) []fetchCall {
	var out []fetchCall
	for _, c := range f.calls {
		if c.path == path {
			out = append(out, c)
		}
	}
	return out
}

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func reportRow(fromDate string, metrics map[string]interface{}) interface{} {
	return map[string]interface{}{
		"metadata": map[string]interface{}{"fromDate": fromDate},
		"metrics":  metrics,
	}
}
