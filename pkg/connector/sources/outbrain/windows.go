package outbrain

import (
	"time"

	"github.com/ajitpratap0/tap-outbrain/pkg/connector/core"
)

// Window is an inclusive range of calendar days requested as one report
type Window struct {
	From time.Time
	To   time.Time
}

// Days returns the number of calendar days the window covers
func (w Window) Days() int {
	return int(w.To.Sub(w.From).Hours()/24) + 1
}

// FromDate returns From in the report date format
func (w Window) FromDate() string {
	return w.From.Format(core.BookmarkLayout)
}

// ToDate returns To in the report date format
func (w Window) ToDate() string {
	return w.To.Format(core.BookmarkLayout)
}

// PlanWindows splits the days from start through end into contiguous windows
// of at most intervalDays days. The last window ends on end. A start after
// end or a non-positive interval yields no windows.
func PlanWindows(start, end time.Time, intervalDays int) []Window {
	start, end = day(start), day(end)
	if intervalDays < 1 || start.After(end) {
		return nil
	}

	var windows []Window
	for from := start; !from.After(end); from = from.AddDate(0, 0, intervalDays) {
		to := from.AddDate(0, 0, intervalDays-1)
		if to.After(end) {
			to = end
		}
		windows = append(windows, Window{From: from, To: to})
	}
	return windows
}

// day truncates t to midnight of its UTC calendar date
func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
