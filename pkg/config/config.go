// Package config provides the tap-outbrain configuration: the typed TapConfig,
// loading from JSON or YAML files with ${VAR_NAME} environment substitution,
// defaults and validation.
//
// The file keys follow the Singer convention of a flat object:
//
//	{
//	  "account_id": "00f4b02153ee75f3c9dc4fc128ab041962",
//	  "username": "${OUTBRAIN_USERNAME}",
//	  "password": "${OUTBRAIN_PASSWORD}",
//	  "start_date": "2024-01-01T00:00:00Z"
//	}
//
// Tuning keys (window_days, report_pacing_seconds, ...) are optional and fall
// back to the values the Outbrain reporting API is known to tolerate.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/tap-outbrain/pkg/errors"
)

const (
	// DefaultBaseURL is the Outbrain Amplify API root
	DefaultBaseURL = "https://api.outbrain.com/amplify/v0.1"
	// DefaultStartDate is used when start_date is not configured
	DefaultStartDate = "2016-08-01"
	// DefaultWindowDays is the widest report window the API accepts comfortably
	DefaultWindowDays = 100
	// DefaultLookbackDays re-fetches recent days whose metrics may still change
	DefaultLookbackDays = 2
	// DefaultPageLimit is the page size for listings and reports
	DefaultPageLimit = 100
	// DefaultReportPacingSeconds is the minimum gap between report requests
	DefaultReportPacingSeconds = 30
	// DefaultRetryAttempts is the total number of attempts per request
	DefaultRetryAttempts = 5
	// DefaultRetryDelaySeconds is the base delay between attempts
	DefaultRetryDelaySeconds = 30
	// DefaultRequestTimeoutSeconds bounds a single HTTP attempt
	DefaultRequestTimeoutSeconds = 60

	dateLayout = "2006-01-02"
)

// TapConfig holds everything the tap needs for one account
type TapConfig struct {
	// Credentials. Either AccessToken or Username and Password must be set.
	Username    string `yaml:"username" json:"username"`
	Password    string `yaml:"password" json:"password"`
	AccessToken string `yaml:"access_token" json:"access_token"`

	AccountID string `yaml:"account_id" json:"account_id"`
	StartDate string `yaml:"start_date" json:"start_date"`
	UserAgent string `yaml:"user_agent" json:"user_agent"`

	BaseURL   string `yaml:"base_url" json:"base_url"`
	SyncLinks bool   `yaml:"sync_links" json:"sync_links"`

	WindowDays            int  `yaml:"window_days" json:"window_days"`
	LookbackDays          *int `yaml:"lookback_days" json:"lookback_days"`
	PageLimit             int  `yaml:"page_limit" json:"page_limit"`
	ReportPacingSeconds   *int `yaml:"report_pacing_seconds" json:"report_pacing_seconds"`
	RetryAttempts         int  `yaml:"retry_attempts" json:"retry_attempts"`
	RetryDelaySeconds     *int `yaml:"retry_delay_seconds" json:"retry_delay_seconds"`
	RequestsPerMinute     int  `yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestTimeoutSeconds int  `yaml:"request_timeout_seconds" json:"request_timeout_seconds"`
}

// ApplyDefaults fills every unset optional field
func (c *TapConfig) ApplyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.StartDate == "" {
		c.StartDate = DefaultStartDate
	}
	if c.WindowDays == 0 {
		c.WindowDays = DefaultWindowDays
	}
	if c.LookbackDays == nil {
		c.LookbackDays = intPtr(DefaultLookbackDays)
	}
	if c.PageLimit == 0 {
		c.PageLimit = DefaultPageLimit
	}
	if c.ReportPacingSeconds == nil {
		c.ReportPacingSeconds = intPtr(DefaultReportPacingSeconds)
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = DefaultRetryAttempts
	}
	if c.RetryDelaySeconds == nil {
		c.RetryDelaySeconds = intPtr(DefaultRetryDelaySeconds)
	}
	if c.RequestTimeoutSeconds == 0 {
		c.RequestTimeoutSeconds = DefaultRequestTimeoutSeconds
	}
}

// Validate reports every missing or malformed key in a single config error
func (c *TapConfig) Validate() error {
	var missing []string
	if c.AccountID == "" {
		missing = append(missing, "account_id")
	}
	if c.AccessToken == "" {
		if c.Username == "" {
			missing = append(missing, "username")
		}
		if c.Password == "" {
			missing = append(missing, "password")
		}
	}

	var invalid []string
	if c.StartDate != "" {
		if _, err := parseDate(c.StartDate); err != nil {
			invalid = append(invalid, "start_date")
		}
	}
	if c.WindowDays < 0 {
		invalid = append(invalid, "window_days")
	}
	if c.LookbackDays != nil && *c.LookbackDays < 0 {
		invalid = append(invalid, "lookback_days")
	}
	if c.PageLimit < 0 {
		invalid = append(invalid, "page_limit")
	}
	if c.ReportPacingSeconds != nil && *c.ReportPacingSeconds < 0 {
		invalid = append(invalid, "report_pacing_seconds")
	}
	if c.RetryAttempts < 0 {
		invalid = append(invalid, "retry_attempts")
	}
	if c.RetryDelaySeconds != nil && *c.RetryDelaySeconds < 0 {
		invalid = append(invalid, "retry_delay_seconds")
	}
	if c.RequestsPerMinute < 0 {
		invalid = append(invalid, "requests_per_minute")
	}
	if c.RequestTimeoutSeconds < 0 {
		invalid = append(invalid, "request_timeout_seconds")
	}

	if len(missing) == 0 && len(invalid) == 0 {
		return nil
	}

	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing required config keys: "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		parts = append(parts, "invalid config keys: "+strings.Join(invalid, ", "))
	}
	err := errors.New(errors.ErrorTypeConfig, strings.Join(parts, "; "))
	if len(missing) > 0 {
		err = err.WithDetail("missing", missing)
	}
	if len(invalid) > 0 {
		err = err.WithDetail("invalid", invalid)
	}
	return err
}

// Start returns the configured start date as a UTC midnight.
// Only the date part of start_date is used.
func (c *TapConfig) Start() time.Time {
	raw := c.StartDate
	if raw == "" {
		raw = DefaultStartDate
	}
	t, err := parseDate(raw)
	if err != nil {
		t, _ = parseDate(DefaultStartDate)
	}
	return t
}

// Lookback returns the bookmark lookback in days
func (c *TapConfig) Lookback() int {
	if c.LookbackDays == nil {
		return DefaultLookbackDays
	}
	return *c.LookbackDays
}

// ReportPacing returns the minimum gap between report requests
func (c *TapConfig) ReportPacing() time.Duration {
	if c.ReportPacingSeconds == nil {
		return DefaultReportPacingSeconds * time.Second
	}
	return time.Duration(*c.ReportPacingSeconds) * time.Second
}

// RetryDelay returns the base delay between attempts
func (c *TapConfig) RetryDelay() time.Duration {
	if c.RetryDelaySeconds == nil {
		return DefaultRetryDelaySeconds * time.Second
	}
	return time.Duration(*c.RetryDelaySeconds) * time.Second
}

// RequestTimeout returns the per-attempt HTTP timeout
func (c *TapConfig) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return DefaultRequestTimeoutSeconds * time.Second
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Redacted returns a copy safe to log
func (c TapConfig) Redacted() TapConfig {
	if c.Password != "" {
		c.Password = "***"
	}
	if c.AccessToken != "" {
		c.AccessToken = "***"
	}
	return c
}

func parseDate(raw string) (time.Time, error) {
	if len(raw) < len(dateLayout) {
		return time.Time{}, fmt.Errorf("date %q too short", raw)
	}
	return time.ParseInLocation(dateLayout, raw[:len(dateLayout)], time.UTC)
}

func intPtr(v int) *int {
	return &v
}
