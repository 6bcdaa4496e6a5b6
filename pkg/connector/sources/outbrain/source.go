// Package outbrain implements the Outbrain Amplify source. It lists the
// account's campaigns and, optionally, their promoted links, and pulls the
// daily performance report of each in bookmarked date windows.
package outbrain

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tap-outbrain/pkg/clients"
	"github.com/ajitpratap0/tap-outbrain/pkg/config"
	"github.com/ajitpratap0/tap-outbrain/pkg/connector/base"
	"github.com/ajitpratap0/tap-outbrain/pkg/connector/core"
	"github.com/ajitpratap0/tap-outbrain/pkg/errors"
	"github.com/ajitpratap0/tap-outbrain/pkg/observability"
)

// SourceName is the registry name of the connector
const SourceName = "outbrain"

// Version of the connector
const Version = "1.0.0"

// OutbrainSource is the Outbrain Amplify source connector
type OutbrainSource struct {
	*base.BaseConnector

	client        *Client
	tracer        *observability.ConnectorTracer
	retrySleep    clients.SleepFunc
	engineOptions []EngineOption
}

// Option customizes an OutbrainSource
type Option func(*OutbrainSource)

// WithRetrySleep replaces the sleep between retried requests
func WithRetrySleep(sleep clients.SleepFunc) Option {
	return func(s *OutbrainSource) { s.retrySleep = sleep }
}

// WithEngineOptions passes options through to the sync engine
func WithEngineOptions(opts ...EngineOption) Option {
	return func(s *OutbrainSource) { s.engineOptions = append(s.engineOptions, opts...) }
}

// NewOutbrainSource creates a new Outbrain source connector
func NewOutbrainSource(opts ...Option) *OutbrainSource {
	s := &OutbrainSource{
		BaseConnector: base.NewBaseConnector(SourceName, core.ConnectorTypeSource, Version),
		tracer:        observability.NewConnectorTracer(string(core.ConnectorTypeSource), SourceName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize validates the configuration and builds the API client. No
// request is made until Sync.
func (s *OutbrainSource) Initialize(ctx context.Context, cfg *config.TapConfig) error {
	if cfg == nil {
		return errors.New(errors.ErrorTypeConfig, "configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.ApplyDefaults()

	if err := s.BaseConnector.Initialize(ctx, cfg); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to initialize base connector")
	}

	policy := s.GetRetryPolicy()
	if s.retrySleep != nil {
		policy = policy.WithSleep(s.retrySleep)
		s.SetRetryPolicy(policy)
	}
	s.client = NewClient(ctx, cfg, policy, s.GetLogger())

	s.GetLogger().Info("outbrain source configured",
		zap.String("account_id", cfg.AccountID),
		zap.String("start_date", cfg.Start().Format(core.BookmarkLayout)),
		zap.Bool("sync_links", cfg.SyncLinks),
		zap.Bool("static_token", cfg.AccessToken != ""))
	return nil
}

// Discover returns the catalog of the four Outbrain streams
func (s *OutbrainSource) Discover(ctx context.Context) (*core.Catalog, error) {
	return Catalog()
}

// Sync runs the campaign walk, advancing state in place
func (s *OutbrainSource) Sync(ctx context.Context, state *core.State, sink core.Sink) error {
	if s.client == nil {
		return errors.New(errors.ErrorTypeConfig, "source is not initialized")
	}
	if s.IsClosed() {
		return errors.New(errors.ErrorTypeInternal, "source is closed")
	}

	options := append([]EngineOption{
		WithLogger(s.GetLogger()),
		WithTracer(s.tracer),
	}, s.engineOptions...)
	engine := NewEngine(EngineOptionsFromConfig(s.GetConfig()), s.client, state, sink, options...)
	return engine.Run(ctx)
}

// Close releases the HTTP client
func (s *OutbrainSource) Close(ctx context.Context) error {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.GetLogger().Warn("failed to close http client", zap.Error(err))
		}
	}
	return s.BaseConnector.Close(ctx)
}

// Metrics returns connector metrics
func (s *OutbrainSource) Metrics() map[string]interface{} {
	m := s.BaseConnector.Metrics()
	if s.client != nil {
		stats := s.client.Stats()
		m["total_requests"] = stats.TotalRequests
		m["failed_requests"] = stats.FailedRequests
	}
	return m
}
