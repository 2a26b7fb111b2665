package pipeline

import "sheetgen/internal/sheet"

// Event is one element of the lazy sequence a generation run produces.
// Streaming cells emit any number of partial events (Done=false, Value
// holds the accumulated text so far) followed by exactly one terminal
// event: either a final value or an error. A per-cell error never ends
// the sequence; the channel closing does.
type Event struct {
	// Column is set on the first event of a run so callers can refresh
	// their view of the column and its process.
	Column *sheet.Column `json:"column,omitempty"`

	RowIndex int    `json:"row_index"`
	Value    string `json:"value,omitempty"`
	Done     bool   `json:"done"`
	Err      error  `json:"-"`

	Sources   []sheet.Source `json:"sources,omitempty"`
	FromCache bool           `json:"from_cache,omitempty"`

	// PersistErr reports a repository write that failed after a
	// successful generation. The value is still delivered; the caller
	// decides how loudly to surface the storage problem.
	PersistErr error `json:"-"`
}

// ErrorMessage flattens Err for wire encoding.
func (e Event) ErrorMessage() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// PersistErrorMessage flattens PersistErr for wire encoding.
func (e Event) PersistErrorMessage() string {
	if e.PersistErr == nil {
		return ""
	}
	return e.PersistErr.Error()
}
