package scheduler

import (
	stderrors "errors"
	"time"

	"github.com/conneroisu/assetforge/internal/asset"
)

// Status is the outcome of one task in a run.
type Status int

const (
	// StatusNotRun marks a task skipped because the run stopped first.
	StatusNotRun Status = iota
	StatusSucceeded
	StatusFailed
	// StatusUpToDate marks a dependent that was not rerun because none of
	// its recorded sources changed.
	StatusUpToDate
)

// String returns the string representation of the Status
func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusUpToDate:
		return "up to date"
	default:
		return "not run"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TaskResult is the outcome of a single task.
type TaskResult struct {
	Task     string        `json:"task"`
	BuildID  string        `json:"-"`
	Status   Status        `json:"status"`
	Duration time.Duration `json:"duration"`
	// Artifacts are content-free references to what the task wrote.
	Artifacts []*asset.OutputArtifact `json:"-"`
	// Changed lists artifact paths whose hash differs from the previous run.
	Changed []string `json:"changed,omitempty"`
	Err     error    `json:"-"`
}

// Error returns the failure message, if any.
func (r TaskResult) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Report summarises a scheduler run.
type Report struct {
	BuildID  string        `json:"build_id"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	// Results are in topological order.
	Results []TaskResult `json:"results"`
}

// Result returns the result for task.
func (r *Report) Result(task string) (TaskResult, bool) {
	for _, res := range r.Results {
		if res.Task == task {
			return res, true
		}
	}
	return TaskResult{}, false
}

// Count returns how many tasks ended with status.
func (r *Report) Count(status Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// Failed returns the failed results.
func (r *Report) Failed() []TaskResult {
	var failed []TaskResult
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			failed = append(failed, res)
		}
	}
	return failed
}

// Succeeded reports whether no task failed or was skipped.
func (r *Report) Succeeded() bool {
	return r.Count(StatusFailed) == 0 && r.Count(StatusNotRun) == 0
}

// Err joins the errors of every failed task.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Failed() {
		errs = append(errs, res.Err)
	}
	return stderrors.Join(errs...)
}
