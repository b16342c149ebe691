// Package ingest builds batch submissions from a constituency folder or a
// JSON manifest and validates them before they may enter the queue.
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tnroll/voterscan/internal/common"
)

// Submission is a validated request to process one batch.
type Submission struct {
	Name      string   `json:"name"`
	Documents []string `json:"documents"` // ordered PDF paths
}

// FromDir builds a submission from a folder of roll PDFs. The folder name
// becomes the batch (constituency) name; documents are sorted by filename.
func FromDir(dir string) (Submission, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Submission{}, fmt.Errorf("read folder: %w", err)
	}

	var docs []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			docs = append(docs, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(docs)

	sub := Submission{
		Name:      filepath.Base(filepath.Clean(dir)),
		Documents: docs,
	}
	return sub, sub.Validate()
}

// manifestSchema constrains submission manifests before decoding.
var manifestSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"properties": map[string]any{
		"name": map[string]any{"type": "string", "minLength": 1},
		"documents": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items":    map[string]any{"type": "string", "minLength": 1},
		},
	},
	"required": []any{"name", "documents"},
}

// FromManifest reads a JSON manifest, validates it against the schema, and
// returns the submission.
func FromManifest(path string) (Submission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Submission{}, fmt.Errorf("read manifest: %w", err)
	}
	if err := validateAgainstSchema(manifestSchema, data); err != nil {
		return Submission{}, fmt.Errorf("%w: %v", common.ErrSubmission, err)
	}

	var sub Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		return Submission{}, fmt.Errorf("decode manifest: %w", err)
	}
	return sub, sub.Validate()
}

// Validate rejects malformed submissions before they reach the queue.
func (s Submission) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: batch name is empty", common.ErrSubmission)
	}
	if len(s.Documents) == 0 {
		return fmt.Errorf("%w: batch %q has no documents", common.ErrSubmission, s.Name)
	}
	seen := make(map[string]struct{}, len(s.Documents))
	for _, doc := range s.Documents {
		if _, dup := seen[doc]; dup {
			return fmt.Errorf("%w: duplicate document %q", common.ErrSubmission, doc)
		}
		seen[doc] = struct{}{}
	}
	return nil
}

// validateAgainstSchema validates data against schemaMap.
func validateAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("manifest.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("manifest.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("manifest does not match schema: %w", err)
	}
	return nil
}

// Part-number shapes in roll filenames, tried in order
// (e.g. "2026-EROLLGEN-S22-11-SIR-DraftRoll-Revision1-TAM-15-WI" -> "15").
var partPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)-TAM-(\d+)-WI`),
	regexp.MustCompile(`(?i)-(\d+)-WI$`),
	regexp.MustCompile(`(?i)(\d+)[^0-9]*WI`),
	regexp.MustCompile(`-(\d+)$`),
}

// PartNumber extracts the roll part number from a document name. Returns ""
// when the name does not follow the convention.
func PartNumber(docName string) string {
	for _, p := range partPatterns {
		if m := p.FindStringSubmatch(docName); m != nil {
			return m[1]
		}
	}
	return ""
}
