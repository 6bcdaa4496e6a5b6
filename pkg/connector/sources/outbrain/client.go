package outbrain

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/ajitpratap0/tap-outbrain/pkg/clients"
	"github.com/ajitpratap0/tap-outbrain/pkg/config"
	"github.com/ajitpratap0/tap-outbrain/pkg/connector/base"
	"github.com/ajitpratap0/tap-outbrain/pkg/errors"
	"github.com/ajitpratap0/tap-outbrain/pkg/json"
	"github.com/ajitpratap0/tap-outbrain/pkg/metrics"
)

// TokenHeader carries the access token on every API call and in the login response
const TokenHeader = "OB-TOKEN-V1"

// Endpoint labels used in logs and metrics
const (
	endpointLogin         = "login"
	endpointCampaigns     = "campaigns"
	endpointPromotedLinks = "promoted_links"
	endpointPeriodic      = "periodic"
	endpointOther         = "other"
)

// maxBodySnippet bounds the response body kept on error details
const maxBodySnippet = 512

// Fetcher performs an authenticated GET and decodes the JSON object body
type Fetcher interface {
	Fetch(ctx context.Context, path string, query url.Values) (map[string]interface{}, error)
}

// Client talks to the Outbrain Amplify API. Transient failures are retried
// inside Fetch; callers only see the final outcome.
type Client struct {
	baseURL string
	http    *clients.HTTPClient
	tokens  oauth2.TokenSource
	retry   *base.RetryPolicy
	logger  *zap.Logger
}

// NewClient builds a client for cfg. Without an access_token the first
// request logs in with the configured username and password; the token is
// then reused for the rest of the run.
func NewClient(ctx context.Context, cfg *config.TapConfig, retry *base.RetryPolicy, logger *zap.Logger) *Client {
	httpCfg := clients.DefaultHTTPConfig()
	httpCfg.UserAgent = cfg.UserAgent
	httpCfg.RequestTimeout = cfg.RequestTimeout()
	httpCfg.RequestsPerMinute = cfg.RequestsPerMinute

	if retry == nil {
		retry = base.ConstantRetryPolicy(cfg.RetryAttempts, cfg.RetryDelay())
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    clients.NewHTTPClient(httpCfg, logger),
		retry:   retry,
		logger:  logger.With(zap.String("component", "outbrain_client")),
	}
	if c.baseURL == "" {
		c.baseURL = config.DefaultBaseURL
	}

	if cfg.AccessToken != "" {
		c.tokens = clients.NewStaticTokenSource(cfg.AccessToken)
	} else {
		username, password := cfg.Username, cfg.Password
		c.tokens = clients.NewBootstrapTokenSource(ctx, func(ctx context.Context) (string, error) {
			return c.Authenticate(ctx, username, password)
		})
	}
	return c
}

// Authenticate exchanges basic-auth credentials for an API token
func (c *Client) Authenticate(ctx context.Context, username, password string) (string, error) {
	c.logger.Info("generating new token using basic auth")

	body, err := c.get(ctx, endpointLogin, "/login", nil, func(req *http.Request) error {
		req.SetBasicAuth(username, password)
		return nil
	})
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeClient) {
			return "", errors.Wrap(err, errors.ErrorTypeAuthentication, "login rejected")
		}
		return "", err
	}

	token, _ := body[TokenHeader].(string)
	if token == "" {
		return "", errors.New(errors.ErrorTypeAuthentication, "failed to generate a new access token").
			WithDetail("endpoint", endpointLogin)
	}
	return token, nil
}

// Fetch performs an authenticated GET on path
func (c *Client) Fetch(ctx context.Context, path string, query url.Values) (map[string]interface{}, error) {
	return c.get(ctx, endpointFor(path), path, query, c.authorize)
}

// Close releases idle connections
func (c *Client) Close() error {
	return c.http.Close()
}

// Stats returns the underlying HTTP counters
func (c *Client) Stats() clients.HTTPStats {
	return c.http.GetStats()
}

func (c *Client) authorize(req *http.Request) error {
	tok, err := c.tokens.Token()
	if err != nil {
		var typed *errors.Error
		if stderrors.As(err, &typed) {
			return err
		}
		return errors.Wrap(err, errors.ErrorTypeAuthentication, "failed to obtain access token")
	}
	req.Header.Set(TokenHeader, tok.AccessToken)
	return nil
}

func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, prepare func(*http.Request) error) (map[string]interface{}, error) {
	policy := c.retry.Clone()
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.APIRetries.WithLabelValues(endpoint).Inc()
		c.logger.Warn("request failed, retrying",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	var body map[string]interface{}
	err := policy.Execute(ctx, func() error {
		var err error
		body, err = c.attempt(ctx, endpoint, path, query, prepare)
		return err
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) attempt(ctx context.Context, endpoint, path string, query url.Values, prepare func(*http.Request) error) (map[string]interface{}, error) {
	target := c.baseURL + path
	full := target
	if len(query) > 0 {
		full += "?" + query.Encode()
	}

	req, err := c.http.NewRequest(ctx, full)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeClient, "failed to build request").
			WithDetail("url", target)
	}
	if err := prepare(req); err != nil {
		return nil, err
	}

	c.logger.Info("making request",
		zap.String("method", req.Method),
		zap.String("url", target),
		zap.String("params", query.Encode()))

	timer := metrics.NewTimer(endpoint)
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveRequest(endpoint, 0, timer.Stop())
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		errType := errors.ErrorTypeConnection
		var netErr net.Error
		if stderrors.As(err, &netErr) && netErr.Timeout() {
			errType = errors.ErrorTypeTimeout
		}
		return nil, errors.Wrap(err, errType, "request failed").
			WithDetail("endpoint", endpoint).
			WithDetail("url", target).
			WithDetail("params", query.Encode())
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(resp.Body)
	elapsed := timer.Stop()
	metrics.ObserveRequest(endpoint, resp.StatusCode, elapsed)

	c.logger.Info("got response",
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", elapsed))

	if readErr != nil {
		return nil, errors.Wrap(readErr, errors.ErrorTypeConnection, "failed to read response body").
			WithDetail("endpoint", endpoint).
			WithDetail("url", target)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp, data).
			WithDetail("endpoint", endpoint).
			WithDetail("url", target).
			WithDetail("params", query.Encode())
	}

	body, err := json.DecodeObject(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "response is not a JSON object").
			WithDetail("endpoint", endpoint).
			WithDetail("url", target).
			WithDetail("body", snippet(data))
	}
	return body, nil
}

// statusError classifies a non-2xx response
func statusError(resp *http.Response, data []byte) *errors.Error {
	status := resp.StatusCode

	var err *errors.Error
	switch {
	case status == http.StatusTooManyRequests:
		err = errors.Newf(errors.ErrorTypeRateLimit, "rate limited (status %d)", status)
		if delay, ok := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
			err = err.WithDetail(base.RetryAfterDetail, delay)
		}
	case status >= 500:
		err = errors.Newf(errors.ErrorTypeServer, "server error (status %d)", status)
	default:
		err = errors.Newf(errors.ErrorTypeClient, "request rejected (status %d)", status)
	}
	return err.
		WithDetail("status", status).
		WithDetail("body", snippet(data))
}

// parseRetryAfter accepts delta-seconds or an HTTP date
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d, true
		}
	}
	return 0, false
}

func endpointFor(path string) string {
	switch {
	case strings.HasSuffix(path, "/periodic"):
		return endpointPeriodic
	case strings.HasSuffix(path, "/promotedLinks"):
		return endpointPromotedLinks
	case strings.HasSuffix(path, "/campaigns"):
		return endpointCampaigns
	case path == "/login":
		return endpointLogin
	default:
		return endpointOther
	}
}

func snippet(data []byte) string {
	if len(data) > maxBodySnippet {
		return string(data[:maxBodySnippet]) + "..."
	}
	return string(data)
}

func campaignsPath(accountID string) string {
	return "/marketers/" + url.PathEscape(accountID) + "/campaigns"
}

func promotedLinksPath(campaignID string) string {
	return "/campaigns/" + url.PathEscape(campaignID) + "/promotedLinks"
}

func periodicReportPath(accountID string) string {
	return "/reports/marketers/" + url.PathEscape(accountID) + "/periodic"
}
