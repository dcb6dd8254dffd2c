package upload

import (
	"sync/atomic"
	"time"
)

// Reporter receives progress updates from an in-flight upload. Dot fires at
// every 2% stride; Log fires at every 20% stride carrying both the
// instantaneous rate since the last log and the average rate since the
// upload started.
type Reporter interface {
	Dot()
	Log(percent int, bytesUploaded, totalSize int64, intervalBytesPerSec, avgBytesPerSec float64)
}

// NoopReporter discards all progress events.
type NoopReporter struct{}

func (NoopReporter) Dot()                                     {}
func (NoopReporter) Log(int, int64, int64, float64, float64) {}

// progressTracker accumulates bytes uploaded across all concurrently
// running parts and publishes dot/log strides at most once each, using
// compare-and-swap on the stride counters so a duplicate arrival from
// another part's goroutine is a no-op.
type progressTracker struct {
	total     int64
	reporter  Reporter
	startTime time.Time

	bytesUploaded     atomic.Int64
	lastProgressNanos atomic.Int64
	lastProgressBytes atomic.Int64
	lastDotStep       atomic.Int64
	lastLogStep       atomic.Int64
}

func newProgressTracker(total int64, reporter Reporter) *progressTracker {
	if reporter == nil {
		reporter = NoopReporter{}
	}
	pt := &progressTracker{
		total:     total,
		reporter:  reporter,
		startTime: time.Now(),
	}
	pt.lastProgressNanos.Store(pt.startTime.UnixNano())
	return pt
}

// addBytes records n additional bytes uploaded and publishes any strides
// that were crossed.
func (pt *progressTracker) addBytes(n int64) {
	if n == 0 || pt.total <= 0 {
		return
	}
	uploaded := pt.bytesUploaded.Add(n)
	pt.publish(uploaded)
}

// rollback undoes bytes attributed to a part attempt that is about to be
// retried, mirroring the reset hook the retry harness invokes before
// sleeping.
func (pt *progressTracker) rollback(n int64) {
	if n == 0 {
		return
	}
	pt.bytesUploaded.Add(-n)
}

func (pt *progressTracker) publish(uploaded int64) {
	percent := (uploaded * 100) / pt.total
	dotStep := percent / 2
	logStep := percent / 20

	if prev := pt.lastDotStep.Load(); dotStep > prev && pt.lastDotStep.CompareAndSwap(prev, dotStep) {
		pt.reporter.Dot()
	}

	if prev := pt.lastLogStep.Load(); logStep > prev && pt.lastLogStep.CompareAndSwap(prev, logStep) {
		now := time.Now()
		elapsed := now.Sub(pt.startTime).Seconds()

		prevNanos := pt.lastProgressNanos.Swap(now.UnixNano())
		prevBytes := pt.lastProgressBytes.Swap(uploaded)

		intervalSeconds := now.Sub(time.Unix(0, prevNanos)).Seconds()
		intervalBytes := uploaded - prevBytes

		var avgRate, intervalRate float64
		if elapsed > 0 {
			avgRate = float64(uploaded) / elapsed
		}
		if intervalSeconds > 0 {
			intervalRate = float64(intervalBytes) / intervalSeconds
		}

		pt.reporter.Log(int(logStep*20), uploaded, pt.total, intervalRate, avgRate)
	}
}
