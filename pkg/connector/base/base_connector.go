// Package base provides the BaseConnector that source connectors embed. It
// carries the pieces every API source needs: identity, a component logger,
// the loaded configuration, the retry policy and lifecycle bookkeeping.
//
// # Usage
//
//	type MySource struct {
//	    *base.BaseConnector
//	    // connector-specific fields
//	}
//
//	func NewMySource() *MySource {
//	    return &MySource{
//	        BaseConnector: base.NewBaseConnector("my-source", core.ConnectorTypeSource, "1.0.0"),
//	    }
//	}
//
// # Lifecycle
//
// 1. Create with NewBaseConnector
// 2. Initialize with Initialize() to attach configuration and the retry policy
// 3. Use throughout connector operations
// 4. Close with Close()
package base

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tap-outbrain/pkg/config"
	"github.com/ajitpratap0/tap-outbrain/pkg/connector/core"
	"github.com/ajitpratap0/tap-outbrain/pkg/errors"
	"github.com/ajitpratap0/tap-outbrain/pkg/logger"
)

// BaseConnector provides common functionality for all connectors
type BaseConnector struct {
	name          string
	connectorType core.ConnectorType
	version       string
	config        *config.TapConfig
	logger        *zap.Logger

	retryPolicy *RetryPolicy
	startTime   time.Time

	closed     bool
	closeMutex sync.Mutex
}

// NewBaseConnector creates a new base connector with the specified name, type, and version.
// This should be called by connector implementations during construction.
func NewBaseConnector(name string, connectorType core.ConnectorType, version string) *BaseConnector {
	return &BaseConnector{
		name:          name,
		connectorType: connectorType,
		version:       version,
		logger:        logger.Get().With(zap.String("connector", name)),
		startTime:     time.Now(),
	}
}

// Initialize attaches the configuration and builds the retry policy from it
func (bc *BaseConnector) Initialize(ctx context.Context, cfg *config.TapConfig) error {
	if cfg == nil {
		return errors.New(errors.ErrorTypeConfig, "configuration is required")
	}
	bc.config = cfg
	bc.retryPolicy = ConstantRetryPolicy(cfg.RetryAttempts, cfg.RetryDelay())
	bc.startTime = time.Now()
	if jobID, ok := ctx.Value(logger.JobIDKey).(string); ok {
		bc.logger = bc.logger.With(zap.String("job_id", jobID))
	}

	bc.logger.Info("connector initialized",
		zap.String("type", string(bc.connectorType)),
		zap.String("version", bc.version))

	return nil
}

// Name returns the connector name
func (bc *BaseConnector) Name() string {
	return bc.name
}

// Type returns the connector type
func (bc *BaseConnector) Type() core.ConnectorType {
	return bc.connectorType
}

// Version returns the connector version
func (bc *BaseConnector) Version() string {
	return bc.version
}

// Metrics returns current metrics
func (bc *BaseConnector) Metrics() map[string]interface{} {
	return map[string]interface{}{
		"name":    bc.name,
		"type":    bc.connectorType,
		"version": bc.version,
		"uptime":  time.Since(bc.startTime).Seconds(),
	}
}

// Close shuts down the connector
func (bc *BaseConnector) Close(ctx context.Context) error {
	bc.closeMutex.Lock()
	defer bc.closeMutex.Unlock()

	if bc.closed {
		return nil
	}

	bc.closed = true
	bc.logger.Info("connector closed")

	return nil
}

// IsClosed reports whether Close has been called
func (bc *BaseConnector) IsClosed() bool {
	bc.closeMutex.Lock()
	defer bc.closeMutex.Unlock()
	return bc.closed
}

// GetLogger returns the connector logger
func (bc *BaseConnector) GetLogger() *zap.Logger {
	return bc.logger
}

// GetConfig returns the connector configuration
func (bc *BaseConnector) GetConfig() *config.TapConfig {
	return bc.config
}

// GetRetryPolicy returns the retry policy built by Initialize
func (bc *BaseConnector) GetRetryPolicy() *RetryPolicy {
	if bc.retryPolicy == nil {
		return NoRetryPolicy()
	}
	return bc.retryPolicy
}

// SetRetryPolicy replaces the retry policy
func (bc *BaseConnector) SetRetryPolicy(policy *RetryPolicy) {
	bc.retryPolicy = policy
}

// NewProgressReporter returns a progress reporter logging through the connector logger
func (bc *BaseConnector) NewProgressReporter(unit string) *ProgressReporter {
	return NewProgressReporter(bc.logger, unit)
}
