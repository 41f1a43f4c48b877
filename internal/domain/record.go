package domain

// Record is a generic row keyed by column name. Its shape is defined by the
// backing table, not by the engine.
type Record map[string]any

// String returns the value of field as a string, or "" when absent or not a string.
func (r Record) String(field string) string {
	if v, ok := r[field].(string); ok {
		return v
	}
	return ""
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// DeleteResult is returned by a successful single delete.
type DeleteResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

// BulkItemResult is the outcome of one item in a bulk operation.
// Index is set for bulk creates, ID for bulk deletes and successful creates.
type BulkItemResult struct {
	Index   *int              `json:"index,omitempty"`
	ID      string            `json:"id,omitempty"`
	Success bool              `json:"success"`
	Error   string            `json:"error,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// BulkResult aggregates the outcome of a bulk create or delete.
type BulkResult struct {
	Total      int              `json:"total"`
	Successful int              `json:"successful"`
	Failed     int              `json:"failed"`
	Results    []BulkItemResult `json:"results"`
}

// Record appends an item outcome and updates the counters.
func (b *BulkResult) Record(item BulkItemResult) {
	b.Results = append(b.Results, item)
	if item.Success {
		b.Successful++
	} else {
		b.Failed++
	}
}

// BulkOptions controls bulk execution.
type BulkOptions struct {
	// StopOnError returns immediately after the first failed item.
	StopOnError bool `json:"stopOnError"`

	// SkipInvalidRows records invalid rows as failed and keeps going.
	// Nil means the default (true).
	SkipInvalidRows *bool `json:"skipInvalidRows,omitempty"`
}

// SkipInvalid reports the effective SkipInvalidRows setting.
func (o BulkOptions) SkipInvalid() bool {
	if o.SkipInvalidRows == nil {
		return true
	}
	return *o.SkipInvalidRows
}

// MaxBatchSize caps bulk calls and list page sizes.
const MaxBatchSize = 500
