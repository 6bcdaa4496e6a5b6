package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tap-outbrain/pkg/errors"
	"github.com/ajitpratap0/tap-outbrain/pkg/json"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"config", errors.New(errors.ErrorTypeConfig, "missing account_id"), 2},
		{"auth", errors.New(errors.ErrorTypeAuthentication, "login rejected"), 3},
		{"client", errors.New(errors.ErrorTypeClient, "status 400"), 4},
		{"exhausted", errors.Wrap(errors.New(errors.ErrorTypeRateLimit, "429"), errors.ErrorTypeRetryExhausted, "gave up"), 5},
		{"data", errors.New(errors.ErrorTypeData, "bad json"), 6},
		{"pagination", errors.New(errors.ErrorTypePagination, "stalled"), 6},
		{"wrapped keeps outer type", errors.Wrap(errors.New(errors.ErrorTypeData, "x"), errors.ErrorTypeClient, "y"), 4},
		{"cancelled", errors.Wrap(context.Canceled, errors.ErrorTypeConnection, "request aborted"), 1},
		{"plain", assert.AnError, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(viper.New())
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "tap-outbrain v"+version)
}

func TestDiscoverPrintsCatalog(t *testing.T) {
	cfg := writeFile(t, "config.json", `{"account_id": "acc", "access_token": "tok"}`)
	out, err := execute(t, "discover", "--config", cfg)
	require.NoError(t, err)

	var catalog struct {
		Streams []struct {
			Stream string `json:"stream"`
		} `json:"streams"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &catalog))
	require.Len(t, catalog.Streams, 4)
	assert.Equal(t, "campaigns", catalog.Streams[0].Stream)
}

func TestConfigPathFromEnvironment(t *testing.T) {
	cfg := writeFile(t, "config.yaml", "account_id: acc\naccess_token: tok\n")
	t.Setenv("TAP_OUTBRAIN_CONFIG", cfg)

	_, err := execute(t, "discover")
	require.NoError(t, err)
}

func TestMissingConfigIsConfigError(t *testing.T) {
	t.Setenv("TAP_OUTBRAIN_CONFIG", "")
	_, err := execute(t, "sync")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestInvalidConfigIsConfigError(t *testing.T) {
	cfg := writeFile(t, "config.json", `{"username": "ann"}`)
	_, err := execute(t, "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestSyncWritesMessages(t *testing.T) {
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")

	mux := http.NewServeMux()
	mux.HandleFunc("/marketers/acc/campaigns", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"campaigns": [{"id": "c1", "name": "Spring"}]}`))
	})
	mux.HandleFunc("/reports/marketers/acc/periodic", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results": [{"metadata": {"fromDate": "` + yesterday + `"}, "metrics": {"impressions": 7}}]}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := writeFile(t, "config.json", `{
		"account_id": "acc",
		"access_token": "tok",
		"base_url": "`+server.URL+`",
		"start_date": "`+yesterday+`",
		"report_pacing_seconds": 0
	}`)
	state := writeFile(t, "state.json", `{}`)

	out, err := execute(t, "sync", "-c", cfg, "-s", state)
	require.NoError(t, err)

	var types []string
	var last map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &msg))
		types = append(types, msg["type"].(string))
		last = msg
	}
	assert.Equal(t, []string{"SCHEMA", "SCHEMA", "SCHEMA", "SCHEMA", "RECORD", "RECORD", "STATE"}, types)

	value := last["value"].(map[string]interface{})
	perf := value["campaign_performance"].(map[string]interface{})
	assert.Equal(t, yesterday, perf["c1"])
}

func TestSyncWithoutReportRowsStillWritesCampaigns(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/marketers/acc/campaigns", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"campaigns": [{"id": "c1"}, {"id": "c2"}]}`))
	})
	mux.HandleFunc("/reports/marketers/acc/periodic", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results": []}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	start := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	cfg := writeFile(t, "config.json", `{
		"account_id": "acc",
		"access_token": "tok",
		"base_url": "`+server.URL+`",
		"start_date": "`+start+`",
		"report_pacing_seconds": 0
	}`)

	out, err := execute(t, "sync", "-c", cfg)
	require.NoError(t, err)

	var records []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &msg))
		assert.NotEqual(t, "STATE", msg["type"])
		if msg["type"] == "RECORD" {
			record := msg["record"].(map[string]interface{})
			records = append(records, record["id"].(string))
		}
	}
	assert.Equal(t, []string{"c1", "c2"}, records)
}

func TestSyncClientErrorExitCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message": "bad request"}`))
	}))
	defer server.Close()

	cfg := writeFile(t, "config.json", `{"account_id": "acc", "access_token": "tok", "base_url": "`+server.URL+`"}`)
	_, err := execute(t, "-c", cfg)
	require.Error(t, err)
	assert.Equal(t, 4, exitCode(err))
}
