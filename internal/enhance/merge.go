// Package enhance runs the second-pass OCR over preprocessed image variants
// and merges partial reads into records that came out of the first pass with
// missing fields.
package enhance

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tnroll/voterscan/internal/entity"
	"github.com/tnroll/voterscan/internal/ocr"
	"github.com/tnroll/voterscan/internal/parse"
)

// Merger re-OCRs a card under each variant and fills missing fields.
type Merger struct {
	engine   ocr.Engine
	variants []Variant
	logger   *slog.Logger
}

func NewMerger(engine ocr.Engine, variants []Variant, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	if len(variants) == 0 {
		variants = DefaultVariants(0)
	}
	return &Merger{engine: engine, variants: variants, logger: logger}
}

// Enhance runs the variant ladder for one card and merges results into rec.
// Merging is first-found-wins in variant priority order: a field already
// filled (by the first pass or an earlier variant) is never overwritten.
// Filled fields get provenance Enhanced. Returns the fields filled.
//
// Per-variant OCR failures are absorbed; only context cancellation aborts.
func (m *Merger) Enhance(ctx context.Context, card image.Image, rec *entity.VoterRecord) ([]string, error) {
	tmpDir, err := os.MkdirTemp("", "vs-enh-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	var filled []string
	for i, variant := range m.variants {
		if len(rec.MissingFields()) == 0 {
			break // nothing left to fill
		}
		if ctx.Err() != nil {
			return filled, ctx.Err()
		}

		path := filepath.Join(tmpDir, fmt.Sprintf("v%d.png", i))
		if err := writePNG(path, variant.Apply(card)); err != nil {
			m.logger.Warn("variant encode failed", "variant", variant.Name, "error", err)
			continue
		}

		text, err := m.engine.Recognize(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return filled, err
			}
			m.logger.Warn("variant ocr failed", "variant", variant.Name, "error", err)
			continue
		}

		candidate := parse.Extract(text)
		filled = append(filled, mergeMissing(rec, &candidate)...)
	}

	if len(filled) > 0 {
		m.logger.Debug("enhancement filled fields", "seq", rec.Seq, "fields", filled)
	}
	return filled, nil
}

// mergeMissing copies every field that is missing in dst and present in src,
// marking it Enhanced. Relation type rides along with the relation name.
func mergeMissing(dst *entity.VoterRecord, src *entity.VoterRecord) []string {
	var filled []string
	dstFields := dst.FieldSet()
	srcFields := src.FieldSet()
	order := []string{
		entity.FieldSerialNo, entity.FieldVoterID, entity.FieldName,
		entity.FieldRelationName, entity.FieldHouseNo, entity.FieldAge, entity.FieldGender,
	}
	for _, name := range order {
		value := srcFields[name]
		if value == "" || dstFields[name] != "" {
			continue
		}
		dst.SetField(name, value, entity.ProvenanceEnhanced)
		if name == entity.FieldRelationName {
			dst.RelationType = src.RelationType
		}
		filled = append(filled, name)
	}
	return filled
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
