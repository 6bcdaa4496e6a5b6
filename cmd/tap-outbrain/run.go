package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tap-outbrain/internal/pipeline"
	"github.com/ajitpratap0/tap-outbrain/pkg/config"
	"github.com/ajitpratap0/tap-outbrain/pkg/connector/core"
	"github.com/ajitpratap0/tap-outbrain/pkg/connector/registry"
	"github.com/ajitpratap0/tap-outbrain/pkg/connector/sources/outbrain"
	"github.com/ajitpratap0/tap-outbrain/pkg/errors"
	"github.com/ajitpratap0/tap-outbrain/pkg/logger"
	"github.com/ajitpratap0/tap-outbrain/pkg/observability"
	"github.com/ajitpratap0/tap-outbrain/pkg/singer"
)

const envPrefix = "TAP_OUTBRAIN"

// runOptions resolves flags, TAP_OUTBRAIN_* variables and defaults in that order
type runOptions struct {
	viper *viper.Viper
}

func (o *runOptions) bindEnv() {
	o.viper.SetEnvPrefix(envPrefix)
	o.viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	o.viper.AutomaticEnv()
}

// session is everything a command needs once setup has succeeded
type session struct {
	ctx      context.Context
	log      *zap.Logger
	source   core.Source
	shutdown func()
}

func runSync(cmd *cobra.Command, opts *runOptions) error {
	s, err := setup(cmd, opts)
	if err != nil {
		return err
	}
	defer s.shutdown()

	state := core.NewState()
	if path := opts.viper.GetString("state"); path != "" {
		if state, err = core.LoadStateFile(path); err != nil {
			return s.fail(err)
		}
		s.log.Info("loaded state", zap.String("path", path), zap.Strings("streams", state.Streams()))
	}

	writer := singer.NewWriter(cmd.OutOrStdout())
	stats, err := pipeline.NewRunner(s.source, writer, s.log).Run(s.ctx, state)
	if err != nil {
		return s.fail(err)
	}
	s.log.Info("run summary",
		zap.Any("records", stats.Records),
		zap.Int64("checkpoints", stats.Checkpoints))
	return nil
}

func runDiscover(cmd *cobra.Command, opts *runOptions) error {
	s, err := setup(cmd, opts)
	if err != nil {
		return err
	}
	defer s.shutdown()

	defer func() { _ = s.source.Close(context.WithoutCancel(s.ctx)) }()
	if err := pipeline.WriteCatalog(s.ctx, s.source, cmd.OutOrStdout()); err != nil {
		return s.fail(err)
	}
	return nil
}

// setup configures logging, tracing and metrics, then loads the config and
// initializes the source
func setup(cmd *cobra.Command, opts *runOptions) (*session, error) {
	opts.bindEnv()
	v := opts.viper

	if err := logger.Init(logger.Config{
		Level:       v.GetString("log-level"),
		Encoding:    v.GetString("log-format"),
		Development: v.GetString("log-format") == "console",
	}); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to initialize logger")
	}

	jobID := uuid.NewString()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	ctx = context.WithValue(ctx, logger.JobIDKey, jobID)
	log := logger.WithContext(ctx).With(zap.String("component", "cli"))

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		Enabled:        v.GetBool("trace"),
		ServiceName:    "tap-outbrain",
		ServiceVersion: version,
		Writer:         cmd.ErrOrStderr(),
	})
	if err != nil {
		stop()
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to initialize tracing")
	}

	metricsServer := serveMetrics(v.GetString("metrics-addr"), log)

	s := &session{ctx: ctx, log: log}
	s.shutdown = func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if metricsServer != nil {
			_ = metricsServer.Shutdown(shutdownCtx)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("failed to flush traces", zap.Error(err))
		}
		stop()
		_ = logger.Sync()
	}

	src, err := openSource(ctx, v.GetString("config"))
	if err != nil {
		err = s.fail(err)
		s.shutdown()
		return nil, err
	}
	s.source = src
	return s, nil
}

func openSource(ctx context.Context, configPath string) (core.Source, error) {
	if configPath == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "a config file is required (--config or "+envPrefix+"_CONFIG)")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	src, err := registry.CreateSource(outbrain.SourceName, cfg)
	if err != nil {
		return nil, err
	}
	if err := src.Initialize(ctx, cfg); err != nil {
		return nil, err
	}
	return src, nil
}

func serveMetrics(addr string, log *zap.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
	return server
}

// fail logs a fatal error with its details and returns it unchanged
func (s *session) fail(err error) error {
	fields := []zap.Field{
		zap.String("error_type", string(errors.TypeOf(err))),
		zap.Int("exit_code", exitCode(err)),
		zap.Error(err),
	}
	for k, v := range errors.DetailsOf(err) {
		fields = append(fields, zap.Any(k, v))
	}
	s.log.Error("tap failed", fields...)
	return err
}
