package redis_admin

import (
	"sync"
	"time"
)

// ReportBuilder accumulates a Report from concurrent per-key
// outcomes and emits progress snapshots after every key. The
// finalized Report is never mutated again.
type ReportBuilder struct {
	mu       sync.Mutex
	rep      Report
	progress func(Progress)
}

// NewReportBuilder starts an empty report. progress may be nil.
func NewReportBuilder(progress func(Progress)) *ReportBuilder {
	return &ReportBuilder{
		rep:      Report{StartedAt: time.Now()},
		progress: progress,
	}
}

func (b *ReportBuilder) emitLocked() {
	if b.progress == nil {
		return
	}
	b.progress(Progress{
		Scanned:   b.rep.Scanned,
		Succeeded: b.rep.Succeeded,
		Failed:    b.rep.Failed,
		Skipped:   b.rep.Skipped,
	})
}

// Scan counts a key entering the pipeline.
func (b *ReportBuilder) Scan() {
	b.mu.Lock()
	b.rep.Scanned++
	b.emitLocked()
	b.mu.Unlock()
}

// Succeed counts a completed per-key action.
func (b *ReportBuilder) Succeed() {
	b.mu.Lock()
	b.rep.Succeeded++
	b.emitLocked()
	b.mu.Unlock()
}

// Skip counts a key that needed no action, a vanished key for
// instance. Not a failure.
func (b *ReportBuilder) Skip() {
	b.mu.Lock()
	b.rep.Skipped++
	b.emitLocked()
	b.mu.Unlock()
}

// SkipRecorded is Skip with a report entry, used when the skip reason
// should be visible, expired import entries for instance.
func (b *ReportBuilder) SkipRecorded(key string, kind ErrorKind, message string) {
	b.mu.Lock()
	b.rep.Skipped++
	b.rep.Errors = append(b.rep.Errors, KeyError{Key: key, Kind: kind, Message: message})
	b.emitLocked()
	b.mu.Unlock()
}

// Fail records an isolated per-key failure.
func (b *ReportBuilder) Fail(key string, err error) {
	b.mu.Lock()
	b.rep.Failed++
	b.rep.Errors = append(b.rep.Errors, KeyError{Key: key, Kind: KindOf(err), Message: err.Error()})
	b.emitLocked()
	b.mu.Unlock()
}

// Snapshot returns the current counters.
func (b *ReportBuilder) Snapshot() Progress {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Progress{
		Scanned:   b.rep.Scanned,
		Succeeded: b.rep.Succeeded,
		Failed:    b.rep.Failed,
		Skipped:   b.rep.Skipped,
	}
}

// Finalize stamps the end time and derives the status unless the
// caller forces one. fatal marks a connection-level abort.
func (b *ReportBuilder) Finalize(status Status, fatal error) *Report {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rep.FinishedAt = time.Now()
	b.rep.Fatal = fatal
	switch {
	case status != "":
		b.rep.Status = status
	case fatal != nil:
		b.rep.Status = StatusFailed
	case b.rep.Failed > 0:
		b.rep.Status = StatusPartialFailure
	default:
		b.rep.Status = StatusOK
	}
	rep := b.rep
	return &rep
}
