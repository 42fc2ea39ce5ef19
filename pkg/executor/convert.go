package executor

import (
	"fmt"
	"strings"

	"github.com/devicelab-dev/pixelmon-runner/pkg/core"
	"github.com/devicelab-dev/pixelmon-runner/pkg/report"
)

// commandResultToError converts core.CommandResult error to report.Error.
// The type is the error category.
func commandResultToError(r *core.CommandResult) *report.Error {
	if r == nil || r.Success {
		return nil
	}

	e := &report.Error{
		Type:    core.CategoryOf(r.Error).String(),
		Message: errorMessage(r),
	}
	if r.Error != nil && r.Error.Error() != e.Message {
		e.Details = r.Error.Error()
	}
	if e.Type == core.ErrCategoryNone.String() {
		e.Type = core.ErrCategoryBackend.String()
	}
	return e
}

// errorMessage prefers the result message over the raw error.
func errorMessage(r *core.CommandResult) string {
	if r.Message != "" {
		return r.Message
	}
	if r.Error != nil {
		return r.Error.Error()
	}
	return "failed"
}

// answerOf renders a command's data for the report.
func answerOf(r *core.CommandResult) string {
	switch d := r.Data.(type) {
	case nil:
		return ""
	case []string:
		return strings.Join(d, ", ")
	default:
		return fmt.Sprint(d)
	}
}
