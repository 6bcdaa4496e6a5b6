package outbrain

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/tap-outbrain/pkg/errors"
)

// timestampLayout is the normalized form: UTC with a literal Z
const timestampLayout = "2006-01-02T15:04:05.999999Z"

// Layouts seen in Outbrain payloads. Values without an offset are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05.999999999-07",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-0700",
	"2006-01-02 15:04:05.999999999 -0700",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
}

var (
	integerMetrics = []string{"impressions", "clicks", "conversions"}
	floatMetrics   = []string{"ctr", "spend", "ecpc", "conversionRate", "cpa"}
)

// numeric matches json.Number without tying the normalizer to one codec
type numeric interface {
	Float64() (float64, error)
	String() string
}

// NormalizeTimestamp rewrites an API timestamp as ISO-8601 UTC ending in Z.
// Applying it to its own output returns the same string.
func NormalizeTimestamp(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC().Format(timestampLayout), nil
		}
	}
	return "", errors.Newf(errors.ErrorTypeData, "unparseable timestamp %q", raw)
}

// NormalizeCampaign returns a copy of campaign with the budget timestamps
// normalized. The input is not modified.
func NormalizeCampaign(campaign map[string]interface{}) (map[string]interface{}, error) {
	out := copyObject(campaign)
	budget, ok := out["budget"].(map[string]interface{})
	if !ok {
		return out, nil
	}
	budget = copyObject(budget)
	for _, field := range []string{"creationTime", "lastModified"} {
		if err := normalizeTimestampField(budget, field); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid campaign budget").
				WithDetail("campaign_id", idOf(out["id"])).
				WithDetail("field", "budget."+field)
		}
	}
	out["budget"] = budget
	return out, nil
}

// NormalizeLink returns a copy of link with its timestamps normalized
func NormalizeLink(link map[string]interface{}) (map[string]interface{}, error) {
	out := copyObject(link)
	for _, field := range []string{"creationTime", "lastModified"} {
		if err := normalizeTimestampField(out, field); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid promoted link").
				WithDetail("link_id", idOf(out["id"])).
				WithDetail("field", field)
		}
	}
	return out, nil
}

// NormalizePerformance flattens one report result into a performance record.
// Missing or non-numeric metrics become zero and extraFields win over
// colliding keys.
func NormalizePerformance(result map[string]interface{}, extraFields map[string]string) (map[string]interface{}, error) {
	metricsObj, err := optionalObject(result, "metrics")
	if err != nil {
		return nil, err
	}
	metadata, err := optionalObject(result, "metadata")
	if err != nil {
		return nil, err
	}

	record := make(map[string]interface{}, 1+len(integerMetrics)+len(floatMetrics)+len(extraFields))
	record["fromDate"] = metadata["fromDate"]
	for _, name := range integerMetrics {
		record[name] = toInt(metricsObj[name])
	}
	for _, name := range floatMetrics {
		record[name] = toFloat(metricsObj[name])
	}
	for k, v := range extraFields {
		record[k] = v
	}
	return record, nil
}

func normalizeTimestampField(obj map[string]interface{}, field string) error {
	v, ok := obj[field]
	if !ok || v == nil {
		return nil
	}
	raw, ok := v.(string)
	if !ok {
		return errors.Newf(errors.ErrorTypeData, "timestamp %s is not a string", field)
	}
	normalized, err := NormalizeTimestamp(raw)
	if err != nil {
		return err
	}
	obj[field] = normalized
	return nil
}

func optionalObject(obj map[string]interface{}, key string) (map[string]interface{}, error) {
	v, ok := obj[key]
	if !ok || v == nil {
		return map[string]interface{}{}, nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeData, "report result %s is not an object", key)
	}
	return m, nil
}

func copyObject(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func toInt(v interface{}) int64 {
	switch n := v.(type) {
	case numeric:
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return i
		}
		return clampInt(toFloat(n))
	case float64:
		return clampInt(toFloat(n))
	case int:
		return int64(n)
	case int64:
		return n
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		return clampInt(toFloat(s))
	default:
		return 0
	}
}

// clampInt truncates f toward zero, saturating at the int64 bounds
func clampInt(f float64) int64 {
	switch {
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	default:
		return int64(f)
	}
}

func toFloat(v interface{}) float64 {
	f := rawFloat(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func rawFloat(v interface{}) float64 {
	switch n := v.(type) {
	case numeric:
		f, _ := n.Float64()
		return f
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f
	default:
		return 0
	}
}

// idOf renders an entity ID that may arrive as a string or a number
func idOf(v interface{}) string {
	switch id := v.(type) {
	case string:
		return id
	case numeric:
		return id.String()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	default:
		return ""
	}
}
