package outbrain

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tap-outbrain/pkg/clients"
	"github.com/ajitpratap0/tap-outbrain/pkg/config"
	"github.com/ajitpratap0/tap-outbrain/pkg/connector/base"
	"github.com/ajitpratap0/tap-outbrain/pkg/connector/core"
	"github.com/ajitpratap0/tap-outbrain/pkg/errors"
	"github.com/ajitpratap0/tap-outbrain/pkg/metrics"
	"github.com/ajitpratap0/tap-outbrain/pkg/observability"
)

// PerformanceSyncSpec parameterizes one windowed, bookmarked report sync
type PerformanceSyncSpec struct {
	// Stream receives the records and names the state section
	Stream string
	// StateKey identifies the entity within the state section
	StateKey string
	// ExtraParams are added to every report request
	ExtraParams url.Values
	// ExtraFields are merged into every record, overriding report fields
	ExtraFields map[string]string
}

// CampaignPerformanceSpec syncs the daily report of one campaign
func CampaignPerformanceSpec(campaignID string) PerformanceSyncSpec {
	return PerformanceSyncSpec{
		Stream:      StreamCampaignPerformance,
		StateKey:    campaignID,
		ExtraParams: url.Values{"campaignId": {campaignID}},
		ExtraFields: map[string]string{"campaignId": campaignID},
	}
}

// LinkPerformanceSpec syncs the daily report of one promoted link
func LinkPerformanceSpec(campaignID, linkID string) PerformanceSyncSpec {
	return PerformanceSyncSpec{
		Stream:      StreamLinkPerformance,
		StateKey:    linkID,
		ExtraParams: url.Values{"promotedLinkId": {linkID}},
		ExtraFields: map[string]string{"campaignId": campaignID, "linkId": linkID},
	}
}

// EngineOptions holds the account and tuning values the engine runs with
type EngineOptions struct {
	AccountID    string
	StartDate    time.Time
	WindowDays   int
	LookbackDays int
	PageLimit    int
	SyncLinks    bool
	ReportPacing time.Duration
}

// EngineOptionsFromConfig derives engine options from a defaulted config
func EngineOptionsFromConfig(cfg *config.TapConfig) EngineOptions {
	return EngineOptions{
		AccountID:    cfg.AccountID,
		StartDate:    cfg.Start(),
		WindowDays:   cfg.WindowDays,
		LookbackDays: cfg.Lookback(),
		PageLimit:    cfg.PageLimit,
		SyncLinks:    cfg.SyncLinks,
		ReportPacing: cfg.ReportPacing(),
	}
}

// EngineOption customizes an Engine
type EngineOption func(*Engine)

// WithClock replaces the wall clock used for "today", pacing and extraction times
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithSleep replaces the pacing sleep
func WithSleep(sleep clients.SleepFunc) EngineOption {
	return func(e *Engine) { e.sleep = sleep }
}

// WithLogger sets the engine logger
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithTracer sets the tracer used for stream and window spans
func WithTracer(tracer *observability.ConnectorTracer) EngineOption {
	return func(e *Engine) { e.tracer = tracer }
}

// Engine walks campaigns, links and their reports for one account. It is
// strictly sequential: one request is outstanding at a time and every
// report request shares one pacer.
type Engine struct {
	opts    EngineOptions
	fetcher Fetcher
	state   *core.State
	sink    core.Sink

	now    func() time.Time
	sleep  clients.SleepFunc
	pacer  *clients.Pacer
	logger *zap.Logger
	tracer *observability.ConnectorTracer

	throughput map[string]*metrics.ThroughputTracker
}

// NewEngine creates an engine writing to sink and advancing state in place
func NewEngine(opts EngineOptions, fetcher Fetcher, state *core.State, sink core.Sink, options ...EngineOption) *Engine {
	if opts.WindowDays <= 0 {
		opts.WindowDays = config.DefaultWindowDays
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = config.DefaultPageLimit
	}
	if opts.StartDate.IsZero() {
		opts.StartDate = (&config.TapConfig{}).Start()
	}
	if state == nil {
		state = core.NewState()
	}

	e := &Engine{
		opts:       opts,
		fetcher:    fetcher,
		state:      state,
		sink:       sink,
		now:        time.Now,
		sleep:      clients.Sleep,
		logger:     zap.NewNop(),
		throughput: make(map[string]*metrics.ThroughputTracker),
	}
	for _, opt := range options {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = observability.NewConnectorTracer(string(core.ConnectorTypeSource), SourceName)
	}
	e.pacer = clients.NewPacer(opts.ReportPacing, e.now, e.sleep)
	return e
}

// State returns the state the engine advances
func (e *Engine) State() *core.State {
	return e.state
}

// Run syncs every stream
func (e *Engine) Run(ctx context.Context) error {
	err := e.SyncCampaigns(ctx)
	for stream, tracker := range e.throughput {
		e.logger.Info("stream throughput",
			zap.String("stream", stream),
			zap.Int64("records", tracker.Count()),
			zap.Float64("records_per_second", tracker.GetAndReset()))
	}
	return err
}

// SyncCampaigns emits the account's campaigns, then syncs each campaign's
// links (when enabled) and performance in listing order.
func (e *Engine) SyncCampaigns(ctx context.Context) error {
	return e.tracer.Trace(ctx, StreamCampaigns, func(ctx context.Context, span *observability.Span) error {
		e.logger.Info("syncing campaigns", zap.String("account_id", e.opts.AccountID))
		start := e.now()

		body, err := e.fetcher.Fetch(ctx, campaignsPath(e.opts.AccountID), nil)
		if err != nil {
			return err
		}
		items, err := objectList(body, "campaigns")
		if err != nil {
			return err
		}

		campaigns := make([]map[string]interface{}, 0, len(items))
		for _, item := range items {
			campaign, err := NormalizeCampaign(item)
			if err != nil {
				return err
			}
			if err := e.emit(StreamCampaigns, campaign); err != nil {
				return err
			}
			campaigns = append(campaigns, campaign)
		}
		span.SetAttribute("campaigns", len(campaigns))
		e.logger.Info("campaigns listed",
			zap.Int("count", len(campaigns)),
			zap.Duration("duration", e.now().Sub(start)))

		progress := base.NewProgressReporter(e.logger, "campaign")
		progress.SetTotal(int64(len(campaigns)))
		for i, campaign := range campaigns {
			id := idOf(campaign["id"])
			if id == "" {
				return errors.New(errors.ErrorTypeData, "campaign has no id").
					WithDetail("position", i)
			}
			progress.Next(zap.String("campaign_id", id))

			if e.opts.SyncLinks {
				if err := e.SyncLinks(ctx, id); err != nil {
					return err
				}
			}
			if err := e.SyncPerformance(ctx, CampaignPerformanceSpec(id)); err != nil {
				return err
			}
			e.logger.Info(fmt.Sprintf("%d of %d campaigns fully synced", i+1, len(campaigns)))
		}
		progress.Finish()
		return nil
	})
}

// SyncLinks pages through a campaign's promoted links. Each page is emitted
// before the performance of its links is synced.
func (e *Engine) SyncLinks(ctx context.Context, campaignID string) error {
	return e.tracer.Trace(ctx, StreamLinks, func(ctx context.Context, span *observability.Span) error {
		span.SetAttribute("campaign_id", campaignID)
		limit := e.opts.PageLimit
		processed, total := 0, -1
		maxPages, pages := 0, 0

		for processed != total {
			e.logger.Info("syncing links",
				zap.String("campaign_id", campaignID),
				zap.Int("offset", processed),
				zap.Int("limit", limit))

			query := url.Values{
				"limit":  {strconv.Itoa(limit)},
				"offset": {strconv.Itoa(processed)},
			}
			body, err := e.fetcher.Fetch(ctx, promotedLinksPath(campaignID), query)
			if err != nil {
				return err
			}
			pages++

			items, err := objectList(body, "promotedLinks")
			if err != nil {
				return err
			}
			count, ok := countOf(body["totalCount"])
			if !ok {
				return errors.New(errors.ErrorTypeData, "promoted links response has no totalCount").
					WithDetail("campaign_id", campaignID).
					WithDetail("offset", processed)
			}
			if total < 0 {
				maxPages = (count+limit-1)/limit + 1
			}
			total = count

			if len(items) == 0 && processed != total {
				return paginationStalled(campaignID, processed, total, "empty page before totalCount was reached")
			}
			if pages > maxPages {
				return paginationStalled(campaignID, processed, total, "more pages than totalCount allows")
			}

			links := make([]map[string]interface{}, 0, len(items))
			for _, item := range items {
				link, err := NormalizeLink(item)
				if err != nil {
					return err
				}
				if err := e.emit(StreamLinks, link); err != nil {
					return err
				}
				links = append(links, link)
			}
			processed += len(links)

			for _, link := range links {
				id := idOf(link["id"])
				if id == "" {
					return errors.New(errors.ErrorTypeData, "promoted link has no id").
						WithDetail("campaign_id", campaignID)
				}
				if err := e.SyncPerformance(ctx, LinkPerformanceSpec(campaignID, id)); err != nil {
					return err
				}
			}

			e.logger.Info("links page done",
				zap.String("campaign_id", campaignID),
				zap.Int("processed", processed),
				zap.Int("total", total))
		}

		span.SetAttribute("links", processed)
		e.logger.Info("done syncing links", zap.String("campaign_id", campaignID))
		return nil
	})
}

// SyncPerformance requests the daily report for spec window by window,
// starting a lookback before the bookmark, and checkpoints after each
// window that returned rows.
func (e *Engine) SyncPerformance(ctx context.Context, spec PerformanceSyncSpec) error {
	from := e.opts.StartDate
	if bookmark, ok := e.state.Bookmark(spec.Stream, spec.StateKey); ok {
		parsed, err := parseBookmark(bookmark)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "invalid bookmark").
				WithDetail("stream", spec.Stream).
				WithDetail("state_key", spec.StateKey).
				WithDetail("bookmark", bookmark)
		}
		from = parsed
	}
	from = from.AddDate(0, 0, -e.opts.LookbackDays)
	windows := PlanWindows(from, e.now(), e.opts.WindowDays)
	if len(windows) == 0 {
		e.logger.Debug("nothing to sync",
			zap.String("stream", spec.Stream),
			zap.String("state_key", spec.StateKey))
		return nil
	}

	return e.tracer.Trace(ctx, spec.Stream, func(ctx context.Context, span *observability.Span) error {
		span.SetAttribute("state_key", spec.StateKey)
		span.SetAttribute("windows", len(windows))
		for _, w := range windows {
			if err := e.syncWindow(ctx, spec, w); err != nil {
				return err
			}
		}
		return nil
	})
}

// syncWindow pulls one report window inside its own span
func (e *Engine) syncWindow(ctx context.Context, spec PerformanceSyncSpec, w Window) error {
	return e.tracer.Trace(ctx, "window", func(ctx context.Context, span *observability.Span) error {
		span.SetAttribute("stream", spec.Stream)
		span.SetAttribute("state_key", spec.StateKey)
		span.SetAttribute("from", w.FromDate())
		span.SetAttribute("to", w.ToDate())
		rows, err := e.pullWindow(ctx, spec, w)
		span.SetAttribute("rows", rows)
		return err
	})
}

// pullWindow fetches, emits and checkpoints one window and returns the
// number of rows it carried
func (e *Engine) pullWindow(ctx context.Context, spec PerformanceSyncSpec, w Window) (int, error) {
	log := e.logger.With(
		zap.String("stream", spec.Stream),
		zap.String("state_key", spec.StateKey),
		zap.String("from", w.FromDate()),
		zap.String("to", w.ToDate()))
	log.Info("pulling report window")

	params := url.Values{
		"from":                     {w.FromDate()},
		"to":                       {w.ToDate()},
		"breakdown":                {"daily"},
		"limit":                    {strconv.Itoa(e.opts.PageLimit)},
		"sort":                     {"+fromDate"},
		"includeArchivedCampaigns": {"true"},
	}
	for k, v := range spec.ExtraParams {
		params[k] = v
	}

	if wait := e.pacer.Remaining(); wait > 0 {
		log.Info("pacing report requests", zap.Duration("sleep", wait))
	}
	if err := e.pacer.Wait(ctx); err != nil {
		return 0, err
	}
	start := e.now()
	body, err := e.fetcher.Fetch(ctx, periodicReportPath(e.opts.AccountID), params)
	e.pacer.MarkCompleted()
	if err != nil {
		return 0, err
	}
	log.Info("report window fetched", zap.Duration("duration", e.now().Sub(start)))

	results, err := objectList(body, "results")
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		metrics.EmptyWindows.WithLabelValues(spec.Stream).Inc()
		log.Warn("report window returned no results, bookmark not advanced")
		return 0, nil
	}

	var last string
	for _, result := range results {
		record, err := NormalizePerformance(result, spec.ExtraFields)
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeData, "invalid report result").
				WithDetail("stream", spec.Stream).
				WithDetail("state_key", spec.StateKey)
		}
		if err := e.emit(spec.Stream, record); err != nil {
			return 0, err
		}
		if fromDate, ok := record["fromDate"].(string); ok && fromDate != "" {
			last = fromDate
		}
	}

	if last != "" {
		bookmark, err := bookmarkDate(last)
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeData, "invalid fromDate in report").
				WithDetail("stream", spec.Stream).
				WithDetail("state_key", spec.StateKey).
				WithDetail("fromDate", last)
		}
		e.state.AdvanceBookmark(spec.Stream, spec.StateKey, bookmark)
	}
	return len(results), e.checkpoint(spec.Stream)
}

func (e *Engine) emit(stream string, record map[string]interface{}) error {
	if err := e.sink.EmitRecord(stream, record, e.now().UTC()); err != nil {
		return err
	}
	metrics.RecordsEmitted.WithLabelValues(stream).Inc()
	tracker, ok := e.throughput[stream]
	if !ok {
		tracker = metrics.NewThroughputTracker(stream)
		e.throughput[stream] = tracker
	}
	tracker.Increment(1)
	return nil
}

// checkpoint emits the full state. Both performance sections are always
// present so downstream state handling sees a stable shape.
func (e *Engine) checkpoint(stream string) error {
	snapshot := e.state.Snapshot()
	for _, section := range []string{StreamCampaignPerformance, StreamLinkPerformance} {
		if _, ok := snapshot[section]; !ok {
			snapshot[section] = map[string]string{}
		}
	}
	if err := e.sink.EmitState(snapshot); err != nil {
		return err
	}
	metrics.StateCheckpoints.WithLabelValues(stream).Inc()
	return nil
}

func paginationStalled(campaignID string, processed, total int, reason string) error {
	return errors.New(errors.ErrorTypePagination, "promoted links pagination stalled: "+reason).
		WithDetail("campaign_id", campaignID).
		WithDetail("processed", processed).
		WithDetail("total", total)
}

// objectList reads body[key] as a list of objects; a missing key is empty
func objectList(body map[string]interface{}, key string) ([]map[string]interface{}, error) {
	raw, ok := body[key]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeData, "response field %s is not a list", key)
	}
	out := make([]map[string]interface{}, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeData, "response field %s[%d] is not an object", key, i)
		}
		out = append(out, obj)
	}
	return out, nil
}

func countOf(v interface{}) (int, bool) {
	switch n := v.(type) {
	case numeric:
		i, err := strconv.Atoi(n.String())
		return i, err == nil && i >= 0
	case float64:
		return int(n), n >= 0 && n == float64(int(n))
	case int:
		return n, n >= 0
	default:
		return 0, false
	}
}

// bookmarkDate keeps the calendar date of a report fromDate
func bookmarkDate(fromDate string) (string, error) {
	t, err := parseBookmark(fromDate)
	if err != nil {
		return "", err
	}
	return t.Format(core.BookmarkLayout), nil
}

func parseBookmark(value string) (time.Time, error) {
	if len(value) < len(core.BookmarkLayout) {
		return time.Time{}, fmt.Errorf("date %q too short", value)
	}
	return time.ParseInLocation(core.BookmarkLayout, value[:len(core.BookmarkLayout)], time.UTC)
}
