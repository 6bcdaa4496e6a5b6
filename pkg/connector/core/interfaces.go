package core

import (
	"context"
	"time"

	"github.com/ajitpratap0/tap-outbrain/pkg/config"
)

// ConnectorType represents the type of connector
type ConnectorType string

const (
	ConnectorTypeSource ConnectorType = "source"
)

// ReplicationMethod describes how a stream is extracted
type ReplicationMethod string

const (
	ReplicationFullTable   ReplicationMethod = "FULL_TABLE"
	ReplicationIncremental ReplicationMethod = "INCREMENTAL"
)

// Stream describes one output stream of a source
type Stream struct {
	Name               string                 `json:"stream"`
	Schema             map[string]interface{} `json:"schema"`
	KeyProperties      []string               `json:"key_properties"`
	BookmarkProperties []string               `json:"bookmark_properties,omitempty"`
	ReplicationMethod  ReplicationMethod      `json:"replication_method"`
}

// Catalog lists the streams a source can emit, in declaration order
type Catalog struct {
	Streams []Stream `json:"streams"`
}

// Stream returns the named stream
func (c *Catalog) Stream(name string) (Stream, bool) {
	for _, s := range c.Streams {
		if s.Name == name {
			return s, true
		}
	}
	return Stream{}, false
}

// Sink receives everything a source extracts. Implementations must write
// messages in call order; a STATE message is only meaningful after the
// records it covers. Flush pushes anything buffered to the output and is
// called once at the end of every run, failed or not.
type Sink interface {
	DeclareSchema(stream string, schema map[string]interface{}, keyProperties, bookmarkProperties []string) error
	EmitRecord(stream string, record map[string]interface{}, extractedAt time.Time) error
	EmitState(snapshot StateSnapshot) error
	Flush() error
}

// Connector is the base interface for all connectors
type Connector interface {
	// Metadata
	Name() string
	Type() ConnectorType
	Version() string

	// Lifecycle
	Initialize(ctx context.Context, config *config.TapConfig) error
	Close(ctx context.Context) error

	// Monitoring
	Metrics() map[string]interface{}
}

// Source is the interface that all source connectors must implement
type Source interface {
	Connector

	// Discover returns the streams this source emits
	Discover(ctx context.Context) (*Catalog, error)

	// Sync extracts every stream, writing records and checkpoints to sink.
	// state is advanced in place as bookmarks move.
	Sync(ctx context.Context, state *State, sink Sink) error
}

// ConnectorMetadata provides metadata about a connector
type ConnectorMetadata struct {
	Name         string        `json:"name"`
	Type         ConnectorType `json:"type"`
	Version      string        `json:"version"`
	Description  string        `json:"description"`
	Capabilities []string      `json:"capabilities"`
}
