package outbrain

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ajitpratap0/tap-outbrain/pkg/connector/core"
	"github.com/ajitpratap0/tap-outbrain/pkg/errors"
	"github.com/ajitpratap0/tap-outbrain/pkg/observability"
)

const testAccount = "acc"

func testOptions() EngineOptions {
	return EngineOptions{
		AccountID:    testAccount,
		StartDate:    date("2016-08-01"),
		WindowDays:   100,
		LookbackDays: 2,
		PageLimit:    100,
		ReportPacing: 30 * time.Second,
	}
}

func campaignsBody(ids ...string) map[string]interface{} {
	list := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		list = append(list, map[string]interface{}{"id": id, "name": "campaign " + id})
	}
	return map[string]interface{}{"campaigns": list}
}

func newTestEngine(api *fakeAPI, state *core.State, now time.Time, opts EngineOptions) (*Engine, *memorySink, *testClock) {
	sink := &memorySink{}
	clock := newTestClock(now)
	engine := NewEngine(opts, api, state, sink, WithClock(clock.Now), WithSleep(clock.Sleep))
	return engine, sink, clock
}

func TestSyncSingleCampaignFirstRun(t *testing.T) {
	api := &fakeAPI{handle: func(path string, q url.Values) (map[string]interface{}, error) {
		switch path {
		case campaignsPath(testAccount):
			return campaignsBody("c1"), nil
		case periodicReportPath(testAccount):
			return map[string]interface{}{"results": []interface{}{
				reportRow("2016-07-30", map[string]interface{}{"impressions": "10"}),
				reportRow("2016-07-31", map[string]interface{}{"clicks": 2.0}),
			}}, nil
		}
		return nil, fmt.Errorf("unexpected path %s", path)
	}}

	now := time.Date(2016, 8, 1, 15, 30, 0, 0, time.UTC)
	engine, sink, clock := newTestEngine(api, core.NewState(), now, testOptions())
	require.NoError(t, engine.Run(context.Background()))

	reports := api.callsTo(periodicReportPath(testAccount))
	require.Len(t, reports, 1)
	q := reports[0].query
	assert.Equal(t, "2016-07-30", q.Get("from"))
	assert.Equal(t, "2016-08-01", q.Get("to"))
	assert.Equal(t, "daily", q.Get("breakdown"))
	assert.Equal(t, "100", q.Get("limit"))
	assert.Equal(t, "+fromDate", q.Get("sort"))
	assert.Equal(t, "true", q.Get("includeArchivedCampaigns"))
	assert.Equal(t, "c1", q.Get("campaignId"))

	assert.Len(t, sink.records(StreamCampaigns), 1)
	perf := sink.records(StreamCampaignPerformance)
	require.Len(t, perf, 2)
	assert.Equal(t, "c1", perf[0]["campaignId"])
	assert.Equal(t, int64(10), perf[0]["impressions"])
	assert.Equal(t, int64(2), perf[1]["clicks"])

	states := sink.states()
	require.Len(t, states, 1)
	assert.Equal(t, "2016-07-31", states[0][StreamCampaignPerformance]["c1"])
	assert.Contains(t, states[0], StreamLinkPerformance)

	bookmark, ok := engine.State().Bookmark(StreamCampaignPerformance, "c1")
	require.True(t, ok)
	assert.Equal(t, "2016-07-31", bookmark)

	// a single request never waits on the pacer
	assert.Empty(t, clock.slept)

	// the state message follows the records it covers
	last := sink.messages[len(sink.messages)-1]
	assert.Equal(t, "STATE", last.kind)
}

func TestSyncPerformanceResumesFromBookmark(t *testing.T) {
	api := &fakeAPI{handle: func(path string, q url.Values) (map[string]interface{}, error) {
		return map[string]interface{}{"results": []interface{}{reportRow(q.Get("to"), nil)}}, nil
	}}
	state := core.StateFromSnapshot(core.StateSnapshot{
		StreamCampaignPerformance: {"c1": "2016-07-20"},
	})

	engine, _, _ := newTestEngine(api, state, date("2016-08-01"), testOptions())
	require.NoError(t, engine.SyncPerformance(context.Background(), CampaignPerformanceSpec("c1")))

	require.Len(t, api.calls, 1)
	assert.Equal(t, "2016-07-18", api.calls[0].query.Get("from"))
	bookmark, _ := state.Bookmark(StreamCampaignPerformance, "c1")
	assert.Equal(t, "2016-08-01", bookmark)
}

func TestSyncPerformanceFutureBookmarkIsNoop(t *testing.T) {
	api := &fakeAPI{handle: func(string, url.Values) (map[string]interface{}, error) {
		return nil, fmt.Errorf("no request expected")
	}}
	state := core.StateFromSnapshot(core.StateSnapshot{
		StreamCampaignPerformance: {"c1": "2016-08-05"},
	})

	engine, sink, _ := newTestEngine(api, state, date("2016-08-01"), testOptions())
	require.NoError(t, engine.SyncPerformance(context.Background(), CampaignPerformanceSpec("c1")))
	assert.Empty(t, api.calls)
	assert.Empty(t, sink.messages)
}

func TestSyncPerformancePacesWindows(t *testing.T) {
	api := &fakeAPI{handle: func(path string, q url.Values) (map[string]interface{}, error) {
		return map[string]interface{}{"results": []interface{}{reportRow(q.Get("to"), nil)}}, nil
	}}
	opts := testOptions()
	opts.StartDate = date("2016-01-01")

	engine, sink, clock := newTestEngine(api, core.NewState(), date("2016-08-01"), opts)
	require.NoError(t, engine.SyncPerformance(context.Background(), CampaignPerformanceSpec("c1")))

	require.Len(t, api.calls, 3)
	assert.Equal(t, "2015-12-30", api.calls[0].query.Get("from"))
	assert.Equal(t, "2016-04-07", api.calls[0].query.Get("to"))
	assert.Equal(t, "2016-04-08", api.calls[1].query.Get("from"))
	assert.Equal(t, "2016-08-01", api.calls[2].query.Get("to"))
	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, clock.slept)

	// bookmarks only move forward, one checkpoint per window
	states := sink.states()
	require.Len(t, states, 3)
	prev := ""
	for i, s := range states {
		bm := s[StreamCampaignPerformance]["c1"]
		assert.Equal(t, api.calls[i].query.Get("to"), bm)
		assert.Greater(t, bm, prev)
		prev = bm
	}
}

func TestSyncPerformanceEmptyPageDoesNotAdvance(t *testing.T) {
	var n int
	api := &fakeAPI{handle: func(path string, q url.Values) (map[string]interface{}, error) {
		n++
		if n == 1 {
			return map[string]interface{}{"results": []interface{}{}}, nil
		}
		return map[string]interface{}{"results": []interface{}{reportRow("2016-06-01", nil)}}, nil
	}}
	opts := testOptions()
	opts.StartDate = date("2016-01-01")

	engine, sink, _ := newTestEngine(api, core.NewState(), date("2016-08-01"), opts)
	require.NoError(t, engine.SyncPerformance(context.Background(), CampaignPerformanceSpec("c1")))

	assert.Len(t, api.calls, 3)
	states := sink.states()
	require.Len(t, states, 2)
	assert.Equal(t, "2016-06-01", states[0][StreamCampaignPerformance]["c1"])
}

func TestSyncPerformanceAllEmptyLeavesStateUntouched(t *testing.T) {
	api := &fakeAPI{handle: func(string, url.Values) (map[string]interface{}, error) {
		return map[string]interface{}{}, nil
	}}
	state := core.NewState()
	engine, sink, _ := newTestEngine(api, state, date("2016-08-01"), testOptions())
	require.NoError(t, engine.SyncPerformance(context.Background(), CampaignPerformanceSpec("c1")))

	_, ok := state.Bookmark(StreamCampaignPerformance, "c1")
	assert.False(t, ok)
	assert.Empty(t, sink.states())
}

func TestSyncPerformanceBookmarkNeverRegresses(t *testing.T) {
	api := &fakeAPI{handle: func(string, url.Values) (map[string]interface{}, error) {
		return map[string]interface{}{"results": []interface{}{reportRow("2016-07-29", nil)}}, nil
	}}
	state := core.StateFromSnapshot(core.StateSnapshot{
		StreamCampaignPerformance: {"c1": "2016-07-31"},
	})
	engine, sink, _ := newTestEngine(api, state, date("2016-08-01"), testOptions())
	require.NoError(t, engine.SyncPerformance(context.Background(), CampaignPerformanceSpec("c1")))

	bookmark, _ := state.Bookmark(StreamCampaignPerformance, "c1")
	assert.Equal(t, "2016-07-31", bookmark)
	assert.Len(t, sink.records(StreamCampaignPerformance), 1)
}

func TestSyncPerformanceBookmarkKeepsDatePart(t *testing.T) {
	api := &fakeAPI{handle: func(string, url.Values) (map[string]interface{}, error) {
		return map[string]interface{}{"results": []interface{}{reportRow("2016-07-31T00:00:00Z", nil)}}, nil
	}}
	state := core.NewState()
	engine, _, _ := newTestEngine(api, state, date("2016-08-01"), testOptions())
	require.NoError(t, engine.SyncPerformance(context.Background(), CampaignPerformanceSpec("c1")))

	bookmark, _ := state.Bookmark(StreamCampaignPerformance, "c1")
	assert.Equal(t, "2016-07-31", bookmark)
}

func TestSyncPerformanceInvalidFromDate(t *testing.T) {
	api := &fakeAPI{handle: func(string, url.Values) (map[string]interface{}, error) {
		return map[string]interface{}{"results": []interface{}{reportRow("July", nil)}}, nil
	}}
	engine, _, _ := newTestEngine(api, core.NewState(), date("2016-08-01"), testOptions())
	err := engine.SyncPerformance(context.Background(), CampaignPerformanceSpec("c1"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeData, errors.TypeOf(err))
}

func TestSyncPerformancePropagatesFetchErrors(t *testing.T) {
	api := &fakeAPI{handle: func(string, url.Values) (map[string]interface{}, error) {
		return nil, errors.New(errors.ErrorTypeClient, "request rejected (status 400)")
	}}
	engine, sink, _ := newTestEngine(api, core.NewState(), date("2016-08-01"), testOptions())
	err := engine.SyncPerformance(context.Background(), CampaignPerformanceSpec("c1"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeClient, errors.TypeOf(err))
	assert.Empty(t, sink.states())
}

func TestLinkPerformanceSpec(t *testing.T) {
	api := &fakeAPI{handle: func(string, url.Values) (map[string]interface{}, error) {
		return map[string]interface{}{"results": []interface{}{reportRow("2016-07-31", nil)}}, nil
	}}
	engine, sink, _ := newTestEngine(api, core.NewState(), date("2016-08-01"), testOptions())
	require.NoError(t, engine.SyncPerformance(context.Background(), LinkPerformanceSpec("c1", "l1")))

	require.Len(t, api.calls, 1)
	assert.Equal(t, "l1", api.calls[0].query.Get("promotedLinkId"))
	assert.Empty(t, api.calls[0].query.Get("campaignId"))

	recs := sink.records(StreamLinkPerformance)
	require.Len(t, recs, 1)
	assert.Equal(t, "c1", recs[0]["campaignId"])
	assert.Equal(t, "l1", recs[0]["linkId"])
	assert.Equal(t, "2016-07-31", sink.states()[0][StreamLinkPerformance]["l1"])
}

func linkPage(campaignID string, offset, count, total int) map[string]interface{} {
	links := make([]interface{}, 0, count)
	for i := 0; i < count; i++ {
		links = append(links, map[string]interface{}{
			"id":           fmt.Sprintf("%s-l%d", campaignID, offset+i),
			"campaignId":   campaignID,
			"creationTime": "2013-01-14 07:19:16",
		})
	}
	return map[string]interface{}{"promotedLinks": links, "totalCount": float64(total)}
}

func TestSyncLinksPaginates(t *testing.T) {
	api := &fakeAPI{handle: func(path string, q url.Values) (map[string]interface{}, error) {
		switch path {
		case campaignsPath(testAccount):
			return campaignsBody("c1"), nil
		case promotedLinksPath("c1"):
			if q.Get("offset") == "0" {
				return linkPage("c1", 0, 100, 150), nil
			}
			return linkPage("c1", 100, 50, 150), nil
		default:
			return map[string]interface{}{"results": []interface{}{}}, nil
		}
	}}
	opts := testOptions()
	opts.SyncLinks = true
	engine, sink, _ := newTestEngine(api, core.NewState(), date("2016-08-01"), opts)
	require.NoError(t, engine.Run(context.Background()))

	pages := api.callsTo(promotedLinksPath("c1"))
	require.Len(t, pages, 2)
	assert.Equal(t, "0", pages[0].query.Get("offset"))
	assert.Equal(t, "100", pages[1].query.Get("offset"))
	assert.Equal(t, "100", pages[1].query.Get("limit"))

	links := sink.records(StreamLinks)
	require.Len(t, links, 150)
	assert.Equal(t, "2013-01-14T07:19:16Z", links[0]["creationTime"])

	// 150 link reports plus the campaign report
	assert.Len(t, api.callsTo(periodicReportPath(testAccount)), 151)
	assert.Equal(t, []string{StreamCampaigns, StreamLinks}, sink.streamOrder())
}

func TestSyncLinksRunsBeforeCampaignPerformance(t *testing.T) {
	api := &fakeAPI{handle: func(path string, q url.Values) (map[string]interface{}, error) {
		switch path {
		case campaignsPath(testAccount):
			return campaignsBody("c1"), nil
		case promotedLinksPath("c1"):
			return linkPage("c1", 0, 1, 1), nil
		default:
			return map[string]interface{}{"results": []interface{}{reportRow("2016-07-31", nil)}}, nil
		}
	}}
	opts := testOptions()
	opts.SyncLinks = true
	engine, sink, _ := newTestEngine(api, core.NewState(), date("2016-08-01"), opts)
	require.NoError(t, engine.Run(context.Background()))

	assert.Equal(t, []string{
		StreamCampaigns,
		StreamLinks,
		StreamLinkPerformance,
		StreamCampaignPerformance,
	}, sink.streamOrder())
}

func TestSyncLinksDisabledByDefault(t *testing.T) {
	api := &fakeAPI{handle: func(path string, q url.Values) (map[string]interface{}, error) {
		if path == campaignsPath(testAccount) {
			return campaignsBody("c1", "c2"), nil
		}
		return map[string]interface{}{"results": []interface{}{}}, nil
	}}
	engine, _, _ := newTestEngine(api, core.NewState(), date("2016-08-01"), testOptions())
	require.NoError(t, engine.Run(context.Background()))

	assert.Empty(t, api.callsTo(promotedLinksPath("c1")))
	reports := api.callsTo(periodicReportPath(testAccount))
	require.Len(t, reports, 2)
	assert.Equal(t, "c1", reports[0].query.Get("campaignId"))
	assert.Equal(t, "c2", reports[1].query.Get("campaignId"))
}

func TestSyncLinksZeroTotal(t *testing.T) {
	api := &fakeAPI{handle: func(string, url.Values) (map[string]interface{}, error) {
		return linkPage("c1", 0, 0, 0), nil
	}}
	engine, sink, _ := newTestEngine(api, core.NewState(), date("2016-08-01"), testOptions())
	require.NoError(t, engine.SyncLinks(context.Background(), "c1"))
	assert.Len(t, api.calls, 1)
	assert.Empty(t, sink.messages)
}

func TestSyncLinksStalledPagination(t *testing.T) {
	api := &fakeAPI{handle: func(path string, q url.Values) (map[string]interface{}, error) {
		if path != promotedLinksPath("c1") {
			return map[string]interface{}{}, nil
		}
		if q.Get("offset") == "0" {
			return linkPage("c1", 0, 100, 150), nil
		}
		return linkPage("c1", 100, 0, 150), nil
	}}
	engine, _, _ := newTestEngine(api, core.NewState(), date("2016-08-01"), testOptions())
	err := engine.SyncLinks(context.Background(), "c1")
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypePagination, errors.TypeOf(err))
	assert.Equal(t, 100, errors.DetailsOf(err)["processed"])
}

func TestSyncLinksTooManyPages(t *testing.T) {
	api := &fakeAPI{handle: func(path string, q url.Values) (map[string]interface{}, error) {
		if path != promotedLinksPath("c1") {
			return map[string]interface{}{}, nil
		}
		return linkPage("c1", 0, 2, 1), nil
	}}
	engine, _, _ := newTestEngine(api, core.NewState(), date("2016-08-01"), testOptions())
	err := engine.SyncLinks(context.Background(), "c1")
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypePagination, errors.TypeOf(err))
	assert.Len(t, api.callsTo(promotedLinksPath("c1")), 3)
}

func TestSyncLinksMissingTotalCount(t *testing.T) {
	api := &fakeAPI{handle: func(string, url.Values) (map[string]interface{}, error) {
		return map[string]interface{}{"promotedLinks": []interface{}{}}, nil
	}}
	engine, _, _ := newTestEngine(api, core.NewState(), date("2016-08-01"), testOptions())
	err := engine.SyncLinks(context.Background(), "c1")
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeData, errors.TypeOf(err))
}

func TestSyncCampaignsRejectsMalformedListing(t *testing.T) {
	api := &fakeAPI{handle: func(string, url.Values) (map[string]interface{}, error) {
		return map[string]interface{}{"campaigns": "nope"}, nil
	}}
	engine, _, _ := newTestEngine(api, core.NewState(), date("2016-08-01"), testOptions())
	err := engine.SyncCampaigns(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeData, errors.TypeOf(err))
}

func TestSyncPerformanceSharesPacerAcrossEntities(t *testing.T) {
	api := &fakeAPI{handle: func(path string, q url.Values) (map[string]interface{}, error) {
		if path == campaignsPath(testAccount) {
			return campaignsBody("c1", "c2", "c3"), nil
		}
		return map[string]interface{}{"results": []interface{}{reportRow("2016-07-31", nil)}}, nil
	}}
	engine, _, clock := newTestEngine(api, core.NewState(), date("2016-08-01"), testOptions())
	require.NoError(t, engine.Run(context.Background()))

	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, clock.slept)
}

func TestSyncCancelledDuringPacing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	api := &fakeAPI{handle: func(path string, q url.Values) (map[string]interface{}, error) {
		cancel()
		return map[string]interface{}{"results": []interface{}{reportRow(q.Get("to"), nil)}}, nil
	}}
	opts := testOptions()
	opts.StartDate = date("2016-01-01")
	engine, sink, _ := newTestEngine(api, core.NewState(), date("2016-08-01"), opts)

	err := engine.SyncPerformance(ctx, CampaignPerformanceSpec("c1"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, api.calls, 1)
	// the completed window stays committed
	assert.Len(t, sink.states(), 1)
}

func TestEachReportWindowHasItsOwnSpan(t *testing.T) {
	api := &fakeAPI{handle: func(path string, q url.Values) (map[string]interface{}, error) {
		if q.Get("from") == "2016-07-30" {
			return map[string]interface{}{"results": []interface{}{
				reportRow("2016-07-30", map[string]interface{}{"impressions": 1}),
			}}, nil
		}
		return map[string]interface{}{"results": []interface{}{}}, nil
	}}

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := observability.NewConnectorTracer("source", SourceName).WithTracer(tp.Tracer("test"))

	clock := newTestClock(time.Date(2016, 11, 20, 0, 0, 0, 0, time.UTC))
	engine := NewEngine(testOptions(), api, core.NewState(), &memorySink{},
		WithClock(clock.Now), WithSleep(clock.Sleep), WithTracer(tracer))
	require.NoError(t, engine.SyncPerformance(context.Background(), CampaignPerformanceSpec("c1")))

	var windows []map[string]string
	for _, span := range recorder.Ended() {
		if span.Name() != "source.outbrain.window" {
			continue
		}
		attrs := map[string]string{}
		for _, kv := range span.Attributes() {
			attrs[string(kv.Key)] = kv.Value.Emit()
		}
		windows = append(windows, attrs)
	}
	require.Len(t, windows, 2)
	assert.Equal(t, "2016-07-30", windows[0]["from"])
	assert.Equal(t, "2016-11-06", windows[0]["to"])
	assert.Equal(t, "1", windows[0]["rows"])
	assert.Equal(t, "2016-11-07", windows[1]["from"])
	assert.Equal(t, "2016-11-20", windows[1]["to"])
	assert.Equal(t, "0", windows[1]["rows"])
	assert.Equal(t, "campaign_performance", windows[1]["stream"])
}
