package report

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/samber/lo"

	"github.com/devicelab-dev/pixelmon-runner/pkg/logger"
)

const interruptedMessage = "Flow interrupted"

// ReadIndex loads report.json from path.
func ReadIndex(path string) (*Index, error) {
	var index Index
	if err := readJSON(path, &index); err != nil {
		return nil, err
	}
	return &index, nil
}

// Recover finalizes a report left behind by a runner that died mid-run.
// Flows still marked running or pending get a status inferred from their
// commands; anything that cannot be shown complete is marked failed.
// A report that is already terminal is left untouched.
func Recover(reportDir string) error {
	indexPath := filepath.Join(reportDir, "report.json")
	index, err := ReadIndex(indexPath)
	if err != nil {
		return fmt.Errorf("read index: %w", err)
	}

	changed := false
	for i := range index.Flows {
		entry := &index.Flows[i]
		if entry.Status.IsTerminal() {
			continue
		}
		changed = true

		var detail FlowDetail
		detailPath := filepath.Join(reportDir, entry.DataFile)
		if err := readJSON(detailPath, &detail); err != nil {
			logger.Warn("recover %s: %v", entry.ID, err)
			markInterrupted(entry)
			continue
		}

		status := inferStatus(detail.Commands)
		if status == StatusRunning {
			markInterrupted(entry)
			for j := range detail.Commands {
				if !detail.Commands[j].Status.IsTerminal() {
					detail.Commands[j].Status = StatusSkipped
				}
			}
			if err := atomicWriteJSON(detailPath, &detail); err != nil {
				return fmt.Errorf("write flow %s: %w", entry.ID, err)
			}
			continue
		}
		entry.Status = status
	}

	if !changed {
		return nil
	}

	now := time.Now()
	counts := lo.CountValuesBy(index.Flows, func(f FlowEntry) Status { return f.Status })
	index.Summary = Summary{
		Total:   len(index.Flows),
		Passed:  counts[StatusPassed],
		Failed:  counts[StatusFailed],
		Skipped: counts[StatusSkipped],
	}
	index.Status = StatusPassed
	if counts[StatusFailed] > 0 {
		index.Status = StatusFailed
	}
	if index.EndTime == nil {
		index.EndTime = &now
	}
	index.LastUpdated = now
	index.UpdateSeq++

	return atomicWriteJSON(indexPath, index)
}

func markInterrupted(entry *FlowEntry) {
	msg := interruptedMessage
	entry.Status = StatusFailed
	entry.Error = &msg
}

// inferStatus derives a flow status from its commands. A flow with no
// commands, or with commands that never finished, cannot be proven complete.
func inferStatus(commands []Command) Status {
	if len(commands) == 0 {
		return StatusFailed
	}
	if lo.SomeBy(commands, func(c Command) bool { return c.Status == StatusFailed }) {
		return StatusFailed
	}
	if lo.EveryBy(commands, func(c Command) bool { return c.Status == StatusPassed }) {
		return StatusPassed
	}
	return StatusRunning
}
