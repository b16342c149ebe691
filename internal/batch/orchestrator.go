// Package batch drives the phased pipeline for one batch: Segmenting ->
// Extracting -> DetectMissing -> Enhancing -> Finalizing. Each phase consumes
// only the durable output of the prior phase (card images on disk, records in
// the store), so any phase is independently resumable from the checkpoint.
package batch

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tnroll/voterscan/constants"
	"github.com/tnroll/voterscan/internal/checkpoint"
	"github.com/tnroll/voterscan/internal/common"
	"github.com/tnroll/voterscan/internal/enhance"
	"github.com/tnroll/voterscan/internal/entity"
	"github.com/tnroll/voterscan/internal/export"
	"github.com/tnroll/voterscan/internal/notify"
	"github.com/tnroll/voterscan/internal/ocr"
	"github.com/tnroll/voterscan/internal/parse"
	"github.com/tnroll/voterscan/internal/raster"
	"github.com/tnroll/voterscan/internal/segment"
	"github.com/tnroll/voterscan/internal/store"
)

var phaseRank = map[constants.Phase]int{
	constants.PhaseSegmenting:    0,
	constants.PhaseExtracting:    1,
	constants.PhaseDetectMissing: 2,
	constants.PhaseEnhancing:     3,
	constants.PhaseFinalizing:    4,
}

// Orchestrator runs batches end to end. OCR+parse work is fanned out across a
// worker pool; all store appends and checkpoint advances happen on the single
// control goroutine inside Process.
type Orchestrator struct {
	cfg      *common.Config
	store    *store.Store
	raster   raster.Rasterizer
	engine   ocr.Engine
	seg      *segment.Segmenter
	merger   *enhance.Merger
	exporter *export.Service
	notifier notify.Notifier
	logger   *slog.Logger
}

func NewOrchestrator(
	cfg *common.Config,
	st *store.Store,
	rz raster.Rasterizer,
	engine ocr.Engine,
	seg *segment.Segmenter,
	merger *enhance.Merger,
	exporter *export.Service,
	notifier notify.Notifier,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Orchestrator{
		cfg: cfg, store: st, raster: rz, engine: engine, seg: seg,
		merger: merger, exporter: exporter, notifier: notifier, logger: logger,
	}
}

// cardRef points a worker at one card image. Sequence numbers are assigned
// from slot position at segmentation time, before dispatch, so completion
// order never affects output ordering.
type cardRef struct {
	Seq     int
	Path    string
	DocName string
	PartNo  string
}

// Process runs (or resumes) one batch. Per-document failures are absorbed
// into the batch error list; only batch-fatal failures return an error, with
// the checkpoint left intact for a later resume.
func (o *Orchestrator) Process(ctx context.Context, job *entity.BatchJob) error {
	start := time.Now()
	log := o.logger.With("batch", job.Name, "batch_id", job.ID)

	batchDir := filepath.Join(o.cfg.Store.WorkDir, job.Name)
	if err := os.MkdirAll(batchDir, 0o755); err != nil {
		return common.Fatal(err, "create batch workdir")
	}

	ckpt := checkpoint.NewManager(filepath.Join(batchDir, "checkpoint.json"), job.ID, log)
	resumed, err := ckpt.Load()
	if err != nil {
		return common.Fatal(err, "load checkpoint")
	}
	if resumed {
		log.Info("resuming batch", "phase", ckpt.State().Phase, "last_unit", ckpt.State().LastUnit)
	}

	docs, err := o.store.Documents(ctx, job.ID)
	if err != nil {
		return common.Fatal(err, "load documents")
	}

	saveElapsed := func() {
		ckpt.AddElapsed(time.Since(start))
		if err := ckpt.Save(); err != nil {
			log.Warn("failed to save checkpoint on halt", "error", err)
		}
	}

	if phaseRank[ckpt.State().Phase] <= phaseRank[constants.PhaseSegmenting] {
		if err := o.segmentAll(ctx, batchDir, job, docs, ckpt, log); err != nil {
			saveElapsed()
			return err
		}
		if err := ckpt.EnterPhase(ckpt.State().Phase.Next()); err != nil {
			return common.Fatal(err, "advance checkpoint")
		}
		// reload card counts written during segmentation
		if docs, err = o.store.Documents(ctx, job.ID); err != nil {
			return common.Fatal(err, "reload documents")
		}
	}

	if phaseRank[ckpt.State().Phase] <= phaseRank[constants.PhaseExtracting] {
		if err := o.extractAll(ctx, batchDir, job, docs, ckpt, log); err != nil {
			saveElapsed()
			return err
		}
		if err := ckpt.EnterPhase(ckpt.State().Phase.Next()); err != nil {
			return common.Fatal(err, "advance checkpoint")
		}
	}

	if phaseRank[ckpt.State().Phase] <= phaseRank[constants.PhaseEnhancing] {
		if err := o.enhanceMissing(ctx, batchDir, job, docs, ckpt, log); err != nil {
			saveElapsed()
			return err
		}
		if err := ckpt.EnterPhase(ckpt.State().Phase.Next()); err != nil {
			return common.Fatal(err, "advance checkpoint")
		}
	}

	if err := o.finalize(ctx, batchDir, job, docs, ckpt, start, log); err != nil {
		saveElapsed()
		return err
	}
	return nil
}

// segmentAll renders each document's interior pages and slices them into
// card images. The unit of progress is one document.
func (o *Orchestrator) segmentAll(ctx context.Context, batchDir string, job *entity.BatchJob, docs []entity.SourceDocument, ckpt *checkpoint.Manager, log *slog.Logger) error {
	seq := 0
	for _, doc := range docs {
		if doc.Position <= ckpt.State().LastUnit {
			if doc.Cards > 0 {
				seq += doc.Cards
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			return common.Fatal(err, "segmentation interrupted")
		}

		count, pages, err := o.segmentDocument(ctx, batchDir, doc, seq, log)
		if err != nil {
			if common.IsFatal(err) {
				return err
			}
			// one bad document never aborts the batch
			log.Warn("document failed; continuing", "document", doc.Name, "error", err)
			if aerr := o.store.AddError(ctx, job.ID, doc.Name, err.Error()); aerr != nil {
				return common.Fatal(aerr, "record document error")
			}
			count = 0
		}
		seq += count

		if err := o.store.SetDocumentResult(ctx, job.ID, doc.Position, pages, count); err != nil {
			return common.Fatal(err, "persist document result")
		}
		if err := ckpt.Advance(constants.PhaseSegmenting, doc.Position); err != nil {
			return common.Fatal(err, "advance checkpoint")
		}
		log.Info("document segmented", "document", doc.Name, "pages", pages, "cards", count)
	}
	return nil
}

// segmentDocument returns the number of cards written and pages counted.
// Card files are named by their global sequence number so later phases can
// enumerate them without a separate index.
func (o *Orchestrator) segmentDocument(ctx context.Context, batchDir string, doc entity.SourceDocument, baseSeq int, log *slog.Logger) (cards, pages int, err error) {
	docDir := filepath.Join(batchDir, doc.Name)
	// wipe any partial output from an interrupted run so re-segmentation is
	// deterministic
	if err := os.RemoveAll(docDir); err != nil {
		return 0, 0, common.Fatal(err, "clear document workdir")
	}
	if err := os.MkdirAll(docDir, 0o755); err != nil {
		return 0, 0, common.Fatal(err, "create document workdir")
	}

	pages, err = o.raster.PageCount(ctx, doc.Path)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: page count: %w", common.ErrDocumentFailed, err)
	}

	first := o.cfg.Segment.SkipLeading
	last := pages - o.cfg.Segment.SkipTrailing
	seq := baseSeq
	for page := first; page < last; page++ {
		img, err := o.raster.RenderPage(ctx, doc.Path, page, o.cfg.OCR.Zoom)
		if err != nil {
			_ = os.RemoveAll(docDir)
			return 0, pages, fmt.Errorf("%w: render page %d: %w", common.ErrDocumentFailed, page, err)
		}
		for _, card := range o.seg.Slice(img) {
			seq++
			card.Slot.Seq = seq
			path := filepath.Join(docDir, fmt.Sprintf("%d.png", seq))
			if err := writePNG(path, card.Image); err != nil {
				return 0, pages, common.Fatal(err, "write card image")
			}
		}
	}
	return seq - baseSeq, pages, nil
}

// extractAll runs first-pass OCR+parse over every card via the worker pool.
// The unit of progress is one card (its sequence number); the checkpoint
// tracks the highest contiguous sequence persisted.
func (o *Orchestrator) extractAll(ctx context.Context, batchDir string, job *entity.BatchJob, docs []entity.SourceDocument, ckpt *checkpoint.Manager, log *slog.Logger) error {
	cards := cardList(batchDir, docs)

	var pending []cardRef
	for _, c := range cards {
		if c.Seq > ckpt.State().LastUnit {
			pending = append(pending, c)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	log.Info("extracting cards", "total", len(cards), "pending", len(pending))

	// cancelling on early return releases any workers still blocked on the
	// results channel
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	results := o.dispatch(dctx, pending, func(wctx context.Context, ref cardRef) entity.VoterRecord {
		return o.extractCard(wctx, ref)
	})

	highWater := ckpt.State().LastUnit
	if highWater < 0 {
		highWater = 0
	}
	done := make(map[int]bool, len(pending))
	for rec := range results {
		rec := rec
		if err := o.store.UpsertRecord(ctx, job.ID, &rec); err != nil {
			return common.Fatal(err, "append record")
		}
		done[rec.Seq] = true
		advanced := false
		for done[highWater+1] {
			highWater++
			delete(done, highWater)
			advanced = true
		}
		if advanced {
			if err := ckpt.Advance(constants.PhaseExtracting, highWater); err != nil {
				return common.Fatal(err, "advance checkpoint")
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return common.Fatal(err, "extraction interrupted")
	}
	return nil
}

// extractCard OCRs one card under the per-card timeout and parses the text.
// Any failure here yields a record with only its sequence number populated;
// a single unreadable card never aborts the batch.
func (o *Orchestrator) extractCard(ctx context.Context, ref cardRef) entity.VoterRecord {
	cctx, cancel := context.WithTimeout(ctx, o.cfg.Pipeline.CardTimeout)
	defer cancel()

	rec := entity.NewVoterRecord(ref.Seq)
	text, err := o.engine.Recognize(cctx, ref.Path)
	if err != nil {
		o.logger.Warn("card absorbed", "seq", ref.Seq,
			"error", fmt.Errorf("%w: %w", common.ErrCardFailed, err))
	} else if text != "" {
		rec = parse.Extract(text)
		rec.Seq = ref.Seq
	}
	rec.DocName = ref.DocName
	rec.PartNo = ref.PartNo
	return rec
}

// enhanceMissing re-OCRs only the records DetectMissing selects: those whose
// age or gender is still Unknown. Fully-filled records are never re-touched.
func (o *Orchestrator) enhanceMissing(ctx context.Context, batchDir string, job *entity.BatchJob, docs []entity.SourceDocument, ckpt *checkpoint.Manager, log *slog.Logger) error {
	missing, err := o.store.MissingAgeGender(ctx, job.ID)
	if err != nil {
		return common.Fatal(err, "detect missing records")
	}
	if ckpt.State().Phase != constants.PhaseEnhancing {
		if err := ckpt.EnterPhase(ckpt.State().Phase.Next()); err != nil {
			return common.Fatal(err, "advance checkpoint")
		}
	}

	// Units already processed in a prior session stay skipped even when the
	// enhancement pass could not fill them.
	var pending []entity.VoterRecord
	for _, rec := range missing {
		if rec.Seq > ckpt.State().LastUnit {
			pending = append(pending, rec)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	log.Info("enhancing records", "selected", len(missing), "pending", len(pending))

	refs := make([]cardRef, 0, len(pending))
	bySeq := make(map[int]entity.VoterRecord, len(pending))
	for _, rec := range pending {
		refs = append(refs, cardRef{
			Seq:     rec.Seq,
			Path:    filepath.Join(batchDir, rec.DocName, fmt.Sprintf("%d.png", rec.Seq)),
			DocName: rec.DocName,
			PartNo:  rec.PartNo,
		})
		bySeq[rec.Seq] = rec
	}

	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	results := o.dispatch(dctx, refs, func(wctx context.Context, ref cardRef) entity.VoterRecord {
		rec := bySeq[ref.Seq]
		cctx, cancel := context.WithTimeout(wctx, o.cfg.Pipeline.CardTimeout)
		defer cancel()

		img, err := readPNG(ref.Path)
		if err != nil {
			o.logger.Warn("card image unavailable for enhancement", "seq", ref.Seq, "error", err)
			return rec
		}
		if _, err := o.merger.Enhance(cctx, img, &rec); err != nil {
			o.logger.Warn("enhancement failed", "seq", ref.Seq, "error", err)
		}
		return rec
	})

	// high-water over the pending sequence list, which is sorted by seq
	pendingSeqs := make([]int, len(refs))
	for i, r := range refs {
		pendingSeqs[i] = r.Seq
	}
	next := 0
	done := make(map[int]bool, len(refs))
	for rec := range results {
		rec := rec
		if err := o.store.UpsertRecord(ctx, job.ID, &rec); err != nil {
			return common.Fatal(err, "persist enhanced record")
		}
		done[rec.Seq] = true
		advanced := -1
		for next < len(pendingSeqs) && done[pendingSeqs[next]] {
			advanced = pendingSeqs[next]
			next++
		}
		if advanced >= 0 {
			if err := ckpt.Advance(constants.PhaseEnhancing, advanced); err != nil {
				return common.Fatal(err, "advance checkpoint")
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return common.Fatal(err, "enhancement interrupted")
	}
	return nil
}

// finalize emits the workbook, cleans up card images, notifies the operator,
// and removes the checkpoint.
func (o *Orchestrator) finalize(ctx context.Context, batchDir string, job *entity.BatchJob, docs []entity.SourceDocument, ckpt *checkpoint.Manager, start time.Time, log *slog.Logger) error {
	records, err := o.store.Records(ctx, job.ID)
	if err != nil {
		return common.Fatal(err, "load records")
	}

	data, err := o.exporter.WriteXLSX(records, job.Name)
	if err != nil {
		return common.Fatal(err, "build workbook")
	}
	outPath := filepath.Join(o.cfg.Store.WorkDir, job.Name+"_voters.xlsx")
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return common.Fatal(err, "write workbook")
	}

	total, missingAge, missingGender, err := o.store.MissingCounts(ctx, job.ID)
	if err != nil {
		return common.Fatal(err, "count missing fields")
	}

	if !o.cfg.Pipeline.KeepImages {
		for _, doc := range docs {
			if err := os.RemoveAll(filepath.Join(batchDir, doc.Name)); err != nil {
				log.Warn("failed to remove card images", "document", doc.Name, "error", err)
			}
		}
	}

	elapsed := time.Duration(ckpt.State().Elapsed)*time.Second + time.Since(start)
	o.notifier.Send(ctx, fmt.Sprintf("Batch complete: %s", job.Name),
		summary(job.Name, total, missingAge, missingGender, elapsed))

	if err := ckpt.Delete(); err != nil {
		log.Warn("failed to remove checkpoint", "error", err)
	}
	log.Info("batch finalized",
		"records", total,
		"missing_age", missingAge,
		"missing_gender", missingGender,
		"output", outPath,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return nil
}

// dispatch fans refs out across the worker pool and returns the results
// channel. Workers share no mutable state; each returns one record.
func (o *Orchestrator) dispatch(ctx context.Context, refs []cardRef, work func(context.Context, cardRef) entity.VoterRecord) <-chan entity.VoterRecord {
	workers := o.cfg.Pipeline.Workers
	if workers <= 0 {
		workers = 1
	}
	jobs := make(chan cardRef)
	results := make(chan entity.VoterRecord)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ref := range jobs {
				select {
				case results <- work(ctx, ref):
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, ref := range refs {
			select {
			case jobs <- ref:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

// cardList enumerates every card produced by segmentation in sequence order.
func cardList(batchDir string, docs []entity.SourceDocument) []cardRef {
	var cards []cardRef
	seq := 0
	for _, doc := range docs {
		if doc.Cards <= 0 {
			continue
		}
		for i := 0; i < doc.Cards; i++ {
			seq++
			cards = append(cards, cardRef{
				Seq:     seq,
				Path:    filepath.Join(batchDir, doc.Name, fmt.Sprintf("%d.png", seq)),
				DocName: doc.Name,
				PartNo:  doc.PartNo,
			})
		}
	}
	return cards
}

func summary(name string, total, missingAge, missingGender int, elapsed time.Duration) string {
	pct := func(n int) float64 {
		if total == 0 {
			return 0
		}
		return float64(n) / float64(total) * 100
	}
	return fmt.Sprintf(
		"Batch: %s\nTotal records: %d\nMissing age: %d (%.1f%%)\nMissing gender: %d (%.1f%%)\nElapsed: %s",
		name, total, missingAge, pct(missingAge), missingGender, pct(missingGender), elapsed.Round(time.Second))
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readPNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return png.Decode(f)
}
