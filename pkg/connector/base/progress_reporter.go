package base

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ProgressReporter tracks progress through a known number of items, such as
// the campaigns of an account, and logs "N of M" as each one starts.
type ProgressReporter struct {
	logger *zap.Logger
	unit   string

	total     int64
	processed int64
	startTime time.Time
}

// NewProgressReporter creates a new progress reporter for items named unit
func NewProgressReporter(logger *zap.Logger, unit string) *ProgressReporter {
	return &ProgressReporter{
		logger:    logger,
		unit:      unit,
		startTime: time.Now(),
	}
}

// SetTotal sets the total number of items and restarts the clock
func (pr *ProgressReporter) SetTotal(total int64) {
	atomic.StoreInt64(&pr.total, total)
	atomic.StoreInt64(&pr.processed, 0)
	pr.startTime = time.Now()
}

// Next marks the start of the next item and logs its position
func (pr *ProgressReporter) Next(fields ...zap.Field) int64 {
	n := atomic.AddInt64(&pr.processed, 1)
	total := atomic.LoadInt64(&pr.total)

	fields = append(fields,
		zap.Int64("n", n),
		zap.Int64("of", total),
		zap.Duration("eta", pr.GetETA()),
	)
	pr.logger.Info("syncing "+pr.unit, fields...)
	return n
}

// GetProgress returns current progress
func (pr *ProgressReporter) GetProgress() (processed, total int64) {
	return atomic.LoadInt64(&pr.processed), atomic.LoadInt64(&pr.total)
}

// GetETA estimates time remaining from the items finished so far. The
// item most recently started by Next is not counted as finished.
func (pr *ProgressReporter) GetETA() time.Duration {
	processed, total := pr.GetProgress()
	finished := processed - 1

	if finished <= 0 || total == 0 || finished >= total {
		return 0
	}

	elapsed := time.Since(pr.startTime)
	perItem := elapsed / time.Duration(finished)
	return perItem * time.Duration(total-finished)
}

// Finish logs the summary for the tracked items
func (pr *ProgressReporter) Finish() {
	processed, total := pr.GetProgress()
	pr.logger.Info("finished "+pr.unit,
		zap.Int64("processed", processed),
		zap.Int64("total", total),
		zap.Duration("elapsed", time.Since(pr.startTime)))
}
