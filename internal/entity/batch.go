package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/tnroll/voterscan/constants"
)

// SourceDocument is one input PDF within a batch. Position fixes document
// order; Cards is the number of non-blank card images produced by
// segmentation (-1 until the document has been segmented).
type SourceDocument struct {
	BatchID  uuid.UUID `json:"batch_id"`
	Position int       `json:"position"`
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	PartNo   string    `json:"part_no"`
	Pages    int       `json:"pages"`
	Cards    int       `json:"cards"`
}

// BatchJob is one named unit of work (a constituency folder of roll PDFs).
type BatchJob struct {
	ID          uuid.UUID            `json:"id"`
	Name        string               `json:"name"`
	State       constants.BatchState `json:"state"`
	SubmittedAt time.Time            `json:"submitted_at"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	FinishedAt  *time.Time           `json:"finished_at,omitempty"`
	Documents   []SourceDocument     `json:"documents,omitempty"`
	Errors      []BatchError         `json:"errors,omitempty"`
}

// BatchError records a non-fatal per-document failure absorbed by the batch.
type BatchError struct {
	BatchID   uuid.UUID `json:"batch_id"`
	Document  string    `json:"document"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// CardSlot is one cell position in a page's fixed grid layout. Seq is the
// batch-global sequence number assigned at segmentation time.
type CardSlot struct {
	Row int `json:"row"`
	Col int `json:"col"`
	Seq int `json:"seq"`
}
