package report

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/devicelab-dev/pixelmon-runner/pkg/logger"
)

// flushDebounce delays progress-only index writes.
const flushDebounce = 100 * time.Millisecond

// IndexWriter provides thread-safe updates to the report index. Flow
// updates come from the executor; debounced flushes run on a timer goroutine.
type IndexWriter struct {
	mu        sync.Mutex
	outputDir string
	path      string
	index     *Index
	closed    bool

	// Debouncing for progress updates
	pending map[string]*FlowUpdate
	timer   *time.Timer
}

// NewIndexWriter creates a new IndexWriter.
func NewIndexWriter(outputDir string, index *Index) *IndexWriter {
	return &IndexWriter{
		outputDir: outputDir,
		path:      filepath.Join(outputDir, "report.json"),
		index:     index,
		pending:   make(map[string]*FlowUpdate),
	}
}

// Start marks the run as started.
func (w *IndexWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.index.Status = StatusRunning
	w.index.StartTime = now

	w.flushLocked()
}

// UpdateFlow updates a flow entry in the index.
// Terminal states (passed/failed/skipped) flush immediately.
// Progress updates are debounced to reduce I/O.
func (w *IndexWriter) UpdateFlow(flowID string, update *FlowUpdate) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if prev, ok := w.pending[flowID]; ok {
		update = mergeUpdate(prev, update)
	}
	w.pending[flowID] = update

	if update.Status.IsTerminal() {
		w.flushLocked()
		return
	}

	if w.timer == nil && !w.closed {
		w.timer = time.AfterFunc(flushDebounce, w.flush)
	}
}

// mergeUpdate keeps timestamps from an earlier pending update that a later
// progress update does not carry.
func mergeUpdate(prev, next *FlowUpdate) *FlowUpdate {
	merged := *next
	if merged.StartTime == nil {
		merged.StartTime = prev.StartTime
	}
	if merged.EndTime == nil {
		merged.EndTime = prev.EndTime
	}
	if merged.Duration == nil {
		merged.Duration = prev.Duration
	}
	if merged.Error == nil {
		merged.Error = prev.Error
	}
	return &merged
}

// End marks the run as complete.
func (w *IndexWriter) End() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.index.EndTime = &now

	// Apply pending updates before computing the final status.
	w.applyPendingLocked()
	w.index.Status = w.computeRunStatus()
	w.flushLocked()
}

// Cancel records that the run was interrupted or hit its deadline. A
// cancelled run ends failed.
func (w *IndexWriter) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.index.Cancelled = true
}

// Close stops the debounce timer and flushes any pending updates.
func (w *IndexWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.flushLocked()
}

// GetIndex returns the current index (for reading).
func (w *IndexWriter) GetIndex() *Index {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.index
}

// flush applies pending updates and writes to disk.
func (w *IndexWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushLocked()
}

func (w *IndexWriter) applyPendingLocked() {
	for flowID, update := range w.pending {
		w.applyUpdate(flowID, update)
	}
	w.pending = make(map[string]*FlowUpdate)
}

// flushLocked flushes while holding the lock.
func (w *IndexWriter) flushLocked() {
	w.applyPendingLocked()

	w.index.UpdateSeq++
	w.index.LastUpdated = time.Now()
	w.index.Summary = w.computeSummary()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}

	if err := atomicWriteJSON(w.path, w.index); err != nil {
		logger.Warn("write report index: %v", err)
		return
	}

	// Regenerate HTML for live file:// viewing
	if err := GenerateHTML(w.outputDir, HTMLConfig{ReportDir: w.outputDir}); err != nil {
		logger.Debug("regenerate html: %v", err)
	}
}

// applyUpdate applies a FlowUpdate to the index.
func (w *IndexWriter) applyUpdate(flowID string, update *FlowUpdate) {
	for i := range w.index.Flows {
		if w.index.Flows[i].ID != flowID {
			continue
		}
		f := &w.index.Flows[i]
		f.Status = update.Status
		if update.StartTime != nil {
			f.StartTime = update.StartTime
		}
		if update.EndTime != nil {
			f.EndTime = update.EndTime
		}
		if update.Duration != nil {
			f.Duration = update.Duration
		}
		f.Commands = update.Commands
		if update.Tests.Total > 0 {
			f.Tests = update.Tests
		}
		if update.Error != nil {
			f.Error = update.Error
		}
		f.UpdateSeq++
		now := time.Now()
		f.LastUpdated = &now
		return
	}
}

// computeSummary calculates summary from flow statuses.
func (w *IndexWriter) computeSummary() Summary {
	counts := lo.CountValuesBy(w.index.Flows, func(f FlowEntry) Status { return f.Status })
	return Summary{
		Total:   len(w.index.Flows),
		Passed:  counts[StatusPassed],
		Failed:  counts[StatusFailed],
		Skipped: counts[StatusSkipped],
		Running: counts[StatusRunning],
		Pending: counts[StatusPending],
	}
}

// computeRunStatus determines overall run status from flows.
func (w *IndexWriter) computeRunStatus() Status {
	if !lo.EveryBy(w.index.Flows, func(f FlowEntry) bool { return f.Status.IsTerminal() }) {
		return StatusRunning
	}
	if w.index.Cancelled || lo.SomeBy(w.index.Flows, func(f FlowEntry) bool { return f.Status == StatusFailed }) {
		return StatusFailed
	}
	return StatusPassed
}
