// Package queue manages the cross-session batch queue: submissions enter as
// Queued, one runner drains them oldest-first, and at most one batch is
// Processing at a time.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tnroll/voterscan/constants"
	"github.com/tnroll/voterscan/internal/common"
	"github.com/tnroll/voterscan/internal/entity"
	"github.com/tnroll/voterscan/internal/ingest"
	"github.com/tnroll/voterscan/internal/store"
)

// Processor runs one batch to completion. A nil return means every document
// was handled (possibly with absorbed per-document errors); a non-nil return
// is a batch-fatal halt.
type Processor interface {
	Process(ctx context.Context, job *entity.BatchJob) error
}

// Manager owns queue state transitions. The queue itself lives in the store,
// so submissions survive across sessions and separate invocations see the
// same queue.
type Manager struct {
	store     *store.Store
	processor Processor
	logger    *slog.Logger

	// PollInterval is how often Run rechecks an empty queue in watch mode.
	PollInterval time.Duration
}

func NewManager(st *store.Store, processor Processor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:        st,
		processor:    processor,
		logger:       logger,
		PollInterval: 5 * time.Second,
	}
}

// Submit validates the submission and enqueues it as a Queued batch.
// Batch names are unique; resubmitting an existing name is rejected.
func (m *Manager) Submit(ctx context.Context, sub ingest.Submission) (*entity.BatchJob, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	if existing, err := m.store.GetBatchByName(ctx, sub.Name); err == nil {
		return nil, fmt.Errorf("%w: batch %q already exists in state %s",
			common.ErrSubmission, sub.Name, existing.State)
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	job := &entity.BatchJob{
		ID:          uuid.New(),
		Name:        sub.Name,
		State:       constants.BatchQueued,
		SubmittedAt: time.Now().UTC(),
	}
	for i, path := range sub.Documents {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		job.Documents = append(job.Documents, entity.SourceDocument{
			BatchID:  job.ID,
			Position: i,
			Name:     name,
			Path:     path,
			PartNo:   ingest.PartNumber(name),
			Cards:    -1,
		})
	}
	if err := m.store.CreateBatch(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue batch: %w", err)
	}
	m.logger.Info("batch queued", "batch", job.Name, "batch_id", job.ID, "documents", len(job.Documents))
	return job, nil
}

// Run drains the queue oldest-first on the calling goroutine. With watch set
// it keeps polling after the queue empties; otherwise it returns once no
// Queued batch remains. A batch left Processing by a crashed session blocks
// the queue until an operator resets it.
func (m *Manager) Run(ctx context.Context, watch bool) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if active, err := m.store.ActiveBatch(ctx); err != nil {
			return err
		} else if active != nil {
			m.logger.Warn("batch already marked Processing; reset it before running",
				"batch", active.Name)
			if !watch {
				return fmt.Errorf("%w: batch %q is already Processing", common.ErrInvalidInput, active.Name)
			}
			if err := m.sleep(ctx); err != nil {
				return err
			}
			continue
		}

		job, err := m.store.NextQueued(ctx)
		if err != nil {
			return err
		}
		if job == nil {
			if !watch {
				return nil
			}
			if err := m.sleep(ctx); err != nil {
				return err
			}
			continue
		}

		if err := m.runOne(ctx, job); err != nil {
			return err
		}
	}
}

// runOne moves a single batch Queued -> Processing -> Completed/Failed.
// A batch-fatal processing error marks the batch Failed but does not stop
// the runner; the checkpoint keeps the partial work for a later reset.
func (m *Manager) runOne(ctx context.Context, job *entity.BatchJob) error {
	if err := m.store.SetBatchState(ctx, job.ID, constants.BatchProcessing); err != nil {
		return fmt.Errorf("mark batch processing: %w", err)
	}
	m.logger.Info("batch started", "batch", job.Name, "batch_id", job.ID)

	perr := m.processor.Process(ctx, job)
	final := constants.BatchCompleted
	if perr != nil {
		final = constants.BatchFailed
		m.logger.Error("batch failed", "batch", job.Name, "error", perr)
	}
	if err := m.store.SetBatchState(ctx, job.ID, final); err != nil {
		return fmt.Errorf("mark batch %s: %w", final, err)
	}
	if perr == nil {
		m.logger.Info("batch completed", "batch", job.Name)
	}
	// interruption stops the runner as well
	if perr != nil && errors.Is(perr, context.Canceled) {
		return perr
	}
	return ctx.Err()
}

// Snapshot reports the active batch (nil when idle) and the waiting queue in
// submission order.
func (m *Manager) Snapshot(ctx context.Context) (*entity.BatchJob, []entity.BatchJob, error) {
	active, err := m.store.ActiveBatch(ctx)
	if err != nil {
		return nil, nil, err
	}
	all, err := m.store.ListBatches(ctx)
	if err != nil {
		return nil, nil, err
	}
	var queued []entity.BatchJob
	for _, b := range all {
		if b.State == constants.BatchQueued {
			queued = append(queued, b)
		}
	}
	return active, queued, nil
}

// Reset re-queues a Processing or Failed batch by name. This is the explicit
// recovery path after a crashed session; the checkpoint on disk makes the
// re-run resume rather than restart.
func (m *Manager) Reset(ctx context.Context, name string) error {
	job, err := m.store.GetBatchByName(ctx, name)
	if err != nil {
		return err
	}
	if err := m.store.ResetBatch(ctx, job.ID); err != nil {
		return err
	}
	m.logger.Info("batch reset to queued", "batch", name)
	return nil
}

func (m *Manager) sleep(ctx context.Context) error {
	t := time.NewTimer(m.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
