package model

// BatchResult tallies the per-record outcomes of a stage invocation.
// Batch operations report counts instead of failing on partial errors.
type BatchResult struct {
	Succeeded int `json:"succeeded" yaml:"succeeded"`
	Failed    int `json:"failed" yaml:"failed"`
	Skipped   int `json:"skipped" yaml:"skipped"`
}

// Add merges o into r.
func (r *BatchResult) Add(o BatchResult) {
	r.Succeeded += o.Succeeded
	r.Failed += o.Failed
	r.Skipped += o.Skipped
}

// Total returns the number of records considered.
func (r BatchResult) Total() int {
	return r.Succeeded + r.Failed + r.Skipped
}

// Stats is the read-only per-stage view exposed by the stats command.
type Stats struct {
	ByStage           map[Stage]int `json:"by_stage" yaml:"by_stage"`
	Total             int           `json:"total" yaml:"total"`
	FailedSubmissions int           `json:"failed_submissions" yaml:"failed_submissions"`
	Quota             QuotaWindow   `json:"quota" yaml:"quota"`
}
