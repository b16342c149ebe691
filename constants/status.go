package constants

// BatchState is the canonical state for rows in the batches table.
type BatchState string

// Stable values (store these exact strings in DB).
const (
	BatchQueued     BatchState = "QUEUED"     // waiting in submission order
	BatchProcessing BatchState = "PROCESSING" // at most one batch at a time
	BatchCompleted  BatchState = "COMPLETED"  // spreadsheet written, artifacts cleaned
	BatchFailed     BatchState = "FAILED"     // fatal failure; checkpoint kept for resume
)
