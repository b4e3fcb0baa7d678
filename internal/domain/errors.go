package domain

import "fmt"

// MalformedRecordError reports a single ingested record that failed
// validation. It is recoverable: the ingestion layer skips the record,
// records the error on the sync result, and continues with the batch.
type MalformedRecordError struct {
	RecordID string // identifier of the offending record, if known
	Field    string // field that failed validation
	Reason   string
}

func (e *MalformedRecordError) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("malformed record %s: field %q: %s", e.RecordID, e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed record: field %q: %s", e.Field, e.Reason)
}
