package importer

import "time"

// Summary is the immutable aggregate of one import execution. Dropped
// and Duplicates are carried over from the transform phase; the other
// counts are produced by the executor. When the run is cancelled the
// partial counts up to the last completed batch are preserved.
type Summary struct {
	Total      int           `json:"total"`
	Imported   int           `json:"imported"`
	Failed     int           `json:"failed"`
	Dropped    int           `json:"dropped"`
	Duplicates int           `json:"duplicates"`
	Cancelled  bool          `json:"cancelled,omitempty"`

	BatchErrors []BatchError `json:"batch_errors,omitempty"`
	RowFailures []RowFailure `json:"row_failures,omitempty"`

	Duration time.Duration `json:"duration_ns"`
}

// Complete reports whether every record was accounted for by a
// persistence call (imported or failed).
func (s Summary) Complete() bool {
	return s.Imported+s.Failed == s.Total
}
