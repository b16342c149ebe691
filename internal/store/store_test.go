package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tnroll/voterscan/constants"
	"github.com/tnroll/voterscan/internal/common"
	"github.com/tnroll/voterscan/internal/entity"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testBatch(name string, submitted time.Time, docs ...string) *entity.BatchJob {
	b := &entity.BatchJob{
		ID:          uuid.New(),
		Name:        name,
		State:       constants.BatchQueued,
		SubmittedAt: submitted,
	}
	for i, d := range docs {
		b.Documents = append(b.Documents, entity.SourceDocument{
			BatchID:  b.ID,
			Position: i,
			Name:     d,
			Path:     "/rolls/" + d + ".pdf",
			PartNo:   "1",
			Cards:    -1,
		})
	}
	return b
}

func TestCreateAndGetBatch(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	b := testBatch("thanjavur", time.Now().UTC(), "part-1", "part-2")
	if err := s.CreateBatch(ctx, b); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	got, err := s.GetBatchByName(ctx, "thanjavur")
	if err != nil {
		t.Fatalf("GetBatchByName: %v", err)
	}
	if got.ID != b.ID || got.State != constants.BatchQueued {
		t.Errorf("got %+v", got)
	}

	docs, err := s.Documents(ctx, b.ID)
	if err != nil {
		t.Fatalf("Documents: %v", err)
	}
	if len(docs) != 2 || docs[0].Name != "part-1" || docs[1].Position != 1 {
		t.Errorf("docs = %+v", docs)
	}
	if docs[0].Cards != -1 {
		t.Errorf("fresh document Cards = %d, want -1", docs[0].Cards)
	}
}

func TestGetBatchByNameNotFound(t *testing.T) {
	s := testStore(t)
	if _, err := s.GetBatchByName(context.Background(), "nope"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDuplicateBatchNameRejected(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateBatch(ctx, testBatch("salem", time.Now().UTC(), "a")); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if err := s.CreateBatch(ctx, testBatch("salem", time.Now().UTC(), "b")); err == nil {
		t.Error("duplicate batch name accepted")
	}
}

func TestNextQueuedFIFO(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	second := testBatch("second", base.Add(time.Hour), "a")
	first := testBatch("first", base, "a")
	for _, b := range []*entity.BatchJob{second, first} {
		if err := s.CreateBatch(ctx, b); err != nil {
			t.Fatalf("CreateBatch: %v", err)
		}
	}

	next, err := s.NextQueued(ctx)
	if err != nil {
		t.Fatalf("NextQueued: %v", err)
	}
	if next == nil || next.Name != "first" {
		t.Errorf("NextQueued = %+v, want oldest submission", next)
	}
}

func TestNextQueuedEmpty(t *testing.T) {
	s := testStore(t)
	next, err := s.NextQueued(context.Background())
	if err != nil {
		t.Fatalf("NextQueued: %v", err)
	}
	if next != nil {
		t.Errorf("NextQueued on empty queue = %+v, want nil", next)
	}
}

func TestSetBatchStateStampsTimestamps(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	b := testBatch("erode", time.Now().UTC(), "a")
	if err := s.CreateBatch(ctx, b); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	if err := s.SetBatchState(ctx, b.ID, constants.BatchProcessing); err != nil {
		t.Fatalf("SetBatchState: %v", err)
	}
	active, err := s.ActiveBatch(ctx)
	if err != nil {
		t.Fatalf("ActiveBatch: %v", err)
	}
	if active == nil || active.ID != b.ID {
		t.Fatalf("ActiveBatch = %+v", active)
	}
	if active.StartedAt == nil {
		t.Error("started_at not stamped on Processing")
	}

	if err := s.SetBatchState(ctx, b.ID, constants.BatchCompleted); err != nil {
		t.Fatalf("SetBatchState: %v", err)
	}
	done, err := s.GetBatchByName(ctx, "erode")
	if err != nil {
		t.Fatalf("GetBatchByName: %v", err)
	}
	if done.FinishedAt == nil {
		t.Error("finished_at not stamped on Completed")
	}
}

func TestSetBatchStateUnknownID(t *testing.T) {
	s := testStore(t)
	err := s.SetBatchState(context.Background(), uuid.New(), constants.BatchProcessing)
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestResetBatch(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	b := testBatch("vellore", time.Now().UTC(), "a")
	if err := s.CreateBatch(ctx, b); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	// Queued batches are not resettable
	if err := s.ResetBatch(ctx, b.ID); !errors.Is(err, common.ErrInvalidInput) {
		t.Errorf("reset of Queued batch: err = %v, want ErrInvalidInput", err)
	}

	if err := s.SetBatchState(ctx, b.ID, constants.BatchProcessing); err != nil {
		t.Fatalf("SetBatchState: %v", err)
	}
	if err := s.ResetBatch(ctx, b.ID); err != nil {
		t.Fatalf("ResetBatch: %v", err)
	}
	got, err := s.GetBatchByName(ctx, "vellore")
	if err != nil {
		t.Fatalf("GetBatchByName: %v", err)
	}
	if got.State != constants.BatchQueued {
		t.Errorf("state after reset = %s, want Queued", got.State)
	}
	if got.StartedAt != nil {
		t.Error("started_at survived reset")
	}
}

func TestSetDocumentResult(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	b := testBatch("theni", time.Now().UTC(), "a", "b")
	if err := s.CreateBatch(ctx, b); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if err := s.SetDocumentResult(ctx, b.ID, 1, 40, 1043); err != nil {
		t.Fatalf("SetDocumentResult: %v", err)
	}

	docs, err := s.Documents(ctx, b.ID)
	if err != nil {
		t.Fatalf("Documents: %v", err)
	}
	if docs[0].Cards != -1 {
		t.Errorf("untouched doc Cards = %d, want -1", docs[0].Cards)
	}
	if docs[1].Pages != 40 || docs[1].Cards != 1043 {
		t.Errorf("doc result = %+v", docs[1])
	}
}

func TestBatchErrors(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	b := testBatch("karur", time.Now().UTC(), "a")
	if err := s.CreateBatch(ctx, b); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if err := s.AddError(ctx, b.ID, "a", "render failed"); err != nil {
		t.Fatalf("AddError: %v", err)
	}
	if err := s.AddError(ctx, b.ID, "a", "retry failed"); err != nil {
		t.Fatalf("AddError: %v", err)
	}

	errs, err := s.Errors(ctx, b.ID)
	if err != nil {
		t.Fatalf("Errors: %v", err)
	}
	if len(errs) != 2 || errs[0].Message != "render failed" {
		t.Errorf("errors = %+v", errs)
	}
}

func TestUpsertRecordIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	id := uuid.New()

	rec := entity.NewVoterRecord(3)
	rec.SetField(entity.FieldName, "first read", entity.ProvenanceFirstPass)
	if err := s.UpsertRecord(ctx, id, &rec); err != nil {
		t.Fatalf("UpsertRecord: %v", err)
	}

	// re-running the same unit overwrites, never duplicates
	rec.SetField(entity.FieldName, "second read", entity.ProvenanceFirstPass)
	rec.SetField(entity.FieldAge, "60", entity.ProvenanceEnhanced)
	if err := s.UpsertRecord(ctx, id, &rec); err != nil {
		t.Fatalf("UpsertRecord again: %v", err)
	}

	records, err := s.Records(ctx, id)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	got := records[0]
	if got.Name != "second read" || got.Age != "60" {
		t.Errorf("record = %+v", got)
	}
	if got.Origin[entity.FieldAge] != entity.ProvenanceEnhanced {
		t.Errorf("Origin[age] = %q, want enhanced", got.Origin[entity.FieldAge])
	}
}

func TestRecordsOrderedBySeq(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	id := uuid.New()

	for _, seq := range []int{5, 1, 3} {
		rec := entity.NewVoterRecord(seq)
		if err := s.UpsertRecord(ctx, id, &rec); err != nil {
			t.Fatalf("UpsertRecord: %v", err)
		}
	}

	records, err := s.Records(ctx, id)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	var seqs []int
	for _, r := range records {
		seqs = append(seqs, r.Seq)
	}
	if len(seqs) != 3 || seqs[0] != 1 || seqs[1] != 3 || seqs[2] != 5 {
		t.Errorf("seqs = %v, want [1 3 5]", seqs)
	}
}

func TestMissingAgeGender(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	id := uuid.New()

	complete := entity.NewVoterRecord(1)
	complete.SetField(entity.FieldAge, "40", entity.ProvenanceFirstPass)
	complete.SetField(entity.FieldGender, string(entity.GenderMale), entity.ProvenanceFirstPass)

	noAge := entity.NewVoterRecord(2)
	noAge.SetField(entity.FieldGender, string(entity.GenderFemale), entity.ProvenanceFirstPass)

	noGender := entity.NewVoterRecord(3)
	noGender.SetField(entity.FieldAge, "71", entity.ProvenanceFirstPass)

	for _, r := range []*entity.VoterRecord{&complete, &noAge, &noGender} {
		if err := s.UpsertRecord(ctx, id, r); err != nil {
			t.Fatalf("UpsertRecord: %v", err)
		}
	}

	missing, err := s.MissingAgeGender(ctx, id)
	if err != nil {
		t.Fatalf("MissingAgeGender: %v", err)
	}
	if len(missing) != 2 || missing[0].Seq != 2 || missing[1].Seq != 3 {
		t.Errorf("missing = %+v, want seqs 2 and 3", missing)
	}

	total, missingAge, missingGender, err := s.MissingCounts(ctx, id)
	if err != nil {
		t.Fatalf("MissingCounts: %v", err)
	}
	if total != 3 || missingAge != 1 || missingGender != 1 {
		t.Errorf("counts = %d/%d/%d, want 3/1/1", total, missingAge, missingGender)
	}
}

func TestListBatches(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	for i, name := range []string{"one", "two", "three"} {
		if err := s.CreateBatch(ctx, testBatch(name, base.Add(time.Duration(i)*time.Minute), "a")); err != nil {
			t.Fatalf("CreateBatch: %v", err)
		}
	}

	all, err := s.ListBatches(ctx)
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	if len(all) != 3 || all[0].Name != "one" || all[2].Name != "three" {
		t.Errorf("batches = %+v", all)
	}
}
