// Package store persists batches, their documents and errors, and extracted
// voter records in a single SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tnroll/voterscan/constants"
	"github.com/tnroll/voterscan/internal/common"
	"github.com/tnroll/voterscan/internal/entity"
)

const schema = `
CREATE TABLE IF NOT EXISTS batches (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL UNIQUE,
	state        TEXT NOT NULL,
	submitted_at DATETIME NOT NULL,
	started_at   DATETIME,
	finished_at  DATETIME
);
CREATE TABLE IF NOT EXISTS batch_documents (
	batch_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	name     TEXT NOT NULL,
	path     TEXT NOT NULL,
	part_no  TEXT NOT NULL DEFAULT '',
	pages    INTEGER NOT NULL DEFAULT 0,
	cards    INTEGER NOT NULL DEFAULT -1,
	PRIMARY KEY (batch_id, position)
);
CREATE TABLE IF NOT EXISTS batch_errors (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id   TEXT NOT NULL,
	document   TEXT NOT NULL,
	message    TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS records (
	batch_id      TEXT NOT NULL,
	seq           INTEGER NOT NULL,
	doc_name      TEXT NOT NULL DEFAULT '',
	part_no       TEXT NOT NULL DEFAULT '',
	serial_no     TEXT NOT NULL DEFAULT '',
	voter_id      TEXT NOT NULL DEFAULT '',
	name          TEXT NOT NULL DEFAULT '',
	relation_type TEXT NOT NULL DEFAULT 'None',
	relation_name TEXT NOT NULL DEFAULT '',
	house_no      TEXT NOT NULL DEFAULT '',
	age           TEXT NOT NULL DEFAULT '',
	gender        TEXT NOT NULL DEFAULT 'Unknown',
	origin        TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (batch_id, seq)
);
`

// Store wraps the SQLite handle. All writes on the batch control path go
// through the orchestrator, so a single connection is enough.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database and applies the schema.
// Use ":memory:" for tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// CreateBatch inserts a Queued batch with its ordered documents.
func (s *Store) CreateBatch(ctx context.Context, b *entity.BatchJob) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO batches (id, name, state, submitted_at) VALUES (?, ?, ?, ?)`,
		b.ID.String(), b.Name, string(b.State), b.SubmittedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	for _, doc := range b.Documents {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO batch_documents (batch_id, position, name, path, part_no, pages, cards)
			 VALUES (?, ?, ?, ?, ?, ?, -1)`,
			b.ID.String(), doc.Position, doc.Name, doc.Path, doc.PartNo, doc.Pages)
		if err != nil {
			return fmt.Errorf("insert document %s: %w", doc.Name, err)
		}
	}
	return tx.Commit()
}

// GetBatchByName looks a batch up by its unique name.
func (s *Store) GetBatchByName(ctx context.Context, name string) (*entity.BatchJob, error) {
	return s.getBatch(ctx, `SELECT id, name, state, submitted_at, started_at, finished_at
		FROM batches WHERE name = ?`, name)
}

// NextQueued returns the oldest Queued batch, or nil when the queue is empty.
func (s *Store) NextQueued(ctx context.Context) (*entity.BatchJob, error) {
	b, err := s.getBatch(ctx, `SELECT id, name, state, submitted_at, started_at, finished_at
		FROM batches WHERE state = ? ORDER BY submitted_at, id LIMIT 1`, string(constants.BatchQueued))
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	return b, err
}

// ActiveBatch returns the Processing batch, or nil when none is active.
func (s *Store) ActiveBatch(ctx context.Context) (*entity.BatchJob, error) {
	b, err := s.getBatch(ctx, `SELECT id, name, state, submitted_at, started_at, finished_at
		FROM batches WHERE state = ? LIMIT 1`, string(constants.BatchProcessing))
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	return b, err
}

// ListBatches returns all batches in submission order.
func (s *Store) ListBatches(ctx context.Context) ([]entity.BatchJob, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, state, submitted_at, started_at, finished_at
		FROM batches ORDER BY submitted_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.BatchJob
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// SetBatchState transitions a batch and stamps the matching timestamp.
func (s *Store) SetBatchState(ctx context.Context, id uuid.UUID, state constants.BatchState) error {
	now := time.Now().UTC()
	var res sql.Result
	var err error
	switch state {
	case constants.BatchProcessing:
		res, err = s.db.ExecContext(ctx, `UPDATE batches SET state = ?, started_at = ? WHERE id = ?`,
			string(state), now, id.String())
	case constants.BatchCompleted, constants.BatchFailed:
		res, err = s.db.ExecContext(ctx, `UPDATE batches SET state = ?, finished_at = ? WHERE id = ?`,
			string(state), now, id.String())
	default:
		res, err = s.db.ExecContext(ctx, `UPDATE batches SET state = ? WHERE id = ?`,
			string(state), id.String())
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// ResetBatch re-queues a stuck Processing batch. This is an explicit operator
// action; the runner never infers liveness on its own.
func (s *Store) ResetBatch(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET state = ?, started_at = NULL, finished_at = NULL WHERE id = ? AND state IN (?, ?)`,
		string(constants.BatchQueued), id.String(),
		string(constants.BatchProcessing), string(constants.BatchFailed))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("batch %s is not Processing or Failed: %w", id, common.ErrInvalidInput)
	}
	return nil
}

// Documents returns a batch's documents in position order.
func (s *Store) Documents(ctx context.Context, batchID uuid.UUID) ([]entity.SourceDocument, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT position, name, path, part_no, pages, cards
		FROM batch_documents WHERE batch_id = ? ORDER BY position`, batchID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []entity.SourceDocument
	for rows.Next() {
		d := entity.SourceDocument{BatchID: batchID}
		if err := rows.Scan(&d.Position, &d.Name, &d.Path, &d.PartNo, &d.Pages, &d.Cards); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// SetDocumentResult records a document's page count and segmented card count.
func (s *Store) SetDocumentResult(ctx context.Context, batchID uuid.UUID, position, pages, cards int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE batch_documents SET pages = ?, cards = ? WHERE batch_id = ? AND position = ?`,
		pages, cards, batchID.String(), position)
	return err
}

// AddError appends a non-fatal per-document failure to the batch's error list.
func (s *Store) AddError(ctx context.Context, batchID uuid.UUID, document, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batch_errors (batch_id, document, message, created_at) VALUES (?, ?, ?, ?)`,
		batchID.String(), document, message, time.Now().UTC())
	return err
}

// Errors returns a batch's error list in insertion order.
func (s *Store) Errors(ctx context.Context, batchID uuid.UUID) ([]entity.BatchError, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document, message, created_at FROM batch_errors WHERE batch_id = ? ORDER BY id`,
		batchID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.BatchError
	for rows.Next() {
		e := entity.BatchError{BatchID: batchID}
		if err := rows.Scan(&e.Document, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertRecord durably appends one voter record keyed by sequence number.
// Re-running a unit after a crash overwrites the same row, so a record is
// never duplicated for a sequence number.
func (s *Store) UpsertRecord(ctx context.Context, batchID uuid.UUID, rec *entity.VoterRecord) error {
	origin, err := json.Marshal(rec.Origin)
	if err != nil {
		return fmt.Errorf("marshal origin: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (batch_id, seq, doc_name, part_no, serial_no, voter_id, name,
			relation_type, relation_name, house_no, age, gender, origin)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (batch_id, seq) DO UPDATE SET
			doc_name = excluded.doc_name, part_no = excluded.part_no,
			serial_no = excluded.serial_no, voter_id = excluded.voter_id,
			name = excluded.name, relation_type = excluded.relation_type,
			relation_name = excluded.relation_name, house_no = excluded.house_no,
			age = excluded.age, gender = excluded.gender, origin = excluded.origin`,
		batchID.String(), rec.Seq, rec.DocName, rec.PartNo, rec.SerialNo, rec.VoterID, rec.Name,
		string(rec.RelationType), rec.RelationName, rec.HouseNo, rec.Age, string(rec.Gender), string(origin))
	return err
}

// Records returns all of a batch's records ordered by sequence number.
func (s *Store) Records(ctx context.Context, batchID uuid.UUID) ([]entity.VoterRecord, error) {
	return s.queryRecords(ctx, `SELECT seq, doc_name, part_no, serial_no, voter_id, name,
		relation_type, relation_name, house_no, age, gender, origin
		FROM records WHERE batch_id = ? ORDER BY seq`, batchID.String())
}

// MissingAgeGender returns records whose age or gender is still Unknown, in
// sequence order. This drives the DetectMissing phase.
func (s *Store) MissingAgeGender(ctx context.Context, batchID uuid.UUID) ([]entity.VoterRecord, error) {
	return s.queryRecords(ctx, `SELECT seq, doc_name, part_no, serial_no, voter_id, name,
		relation_type, relation_name, house_no, age, gender, origin
		FROM records WHERE batch_id = ? AND (age = '' OR gender = ?) ORDER BY seq`,
		batchID.String(), string(entity.GenderUnknown))
}

// MissingCounts reports data-quality tallies for the completion notification.
func (s *Store) MissingCounts(ctx context.Context, batchID uuid.UUID) (total, missingAge, missingGender int, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN age = '' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN gender = ? THEN 1 ELSE 0 END), 0)
		FROM records WHERE batch_id = ?`,
		string(entity.GenderUnknown), batchID.String()).Scan(&total, &missingAge, &missingGender)
	return
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*entity.BatchJob, error) {
	var b entity.BatchJob
	var id, state string
	var started, finished sql.NullTime
	if err := row.Scan(&id, &b.Name, &state, &b.SubmittedAt, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse batch id %q: %w", id, err)
	}
	b.ID = parsed
	b.State = constants.BatchState(state)
	if started.Valid {
		b.StartedAt = &started.Time
	}
	if finished.Valid {
		b.FinishedAt = &finished.Time
	}
	return &b, nil
}

func (s *Store) getBatch(ctx context.Context, query string, args ...any) (*entity.BatchJob, error) {
	return scanBatch(s.db.QueryRowContext(ctx, query, args...))
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]entity.VoterRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.VoterRecord
	for rows.Next() {
		var rec entity.VoterRecord
		var relType, gender, origin string
		if err := rows.Scan(&rec.Seq, &rec.DocName, &rec.PartNo, &rec.SerialNo, &rec.VoterID,
			&rec.Name, &relType, &rec.RelationName, &rec.HouseNo, &rec.Age, &gender, &origin); err != nil {
			return nil, err
		}
		rec.RelationType = entity.ParseRelationType(relType)
		rec.Gender = entity.ParseGender(gender)
		if err := json.Unmarshal([]byte(origin), &rec.Origin); err != nil {
			rec.Origin = map[string]entity.Provenance{}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
