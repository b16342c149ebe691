// Package ocr wraps the tesseract binary behind a small Engine interface.
//
// The engine is the pipeline's opaque OCR capability: image in, raw text out.
// Unreadable input produces empty text, never an error; only context
// cancellation or expiry is reported to the caller.
package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/tnroll/voterscan/internal/runner"
)

// Engine recognizes text in one card image.
type Engine interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
}

// Config holds tesseract invocation parameters.
type Config struct {
	Tesseract   string // binary name or absolute path; if empty -> "tesseract"
	Language    string // two-language profile, default "tam+eng"
	TessdataDir string
	PSM         int // 6 = uniform block of text
	OEM         int // 1 = LSTM only
}

// Tesseract shells out to the tesseract binary per image.
type Tesseract struct {
	cfg    Config
	runner runner.Runner
	logger *slog.Logger
}

func NewTesseract(cfg Config, logger *slog.Logger) *Tesseract {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "tam+eng"
	}
	if cfg.PSM == 0 {
		cfg.PSM = 6
	}
	if cfg.OEM == 0 {
		cfg.OEM = 1
	}
	return &Tesseract{cfg: cfg, runner: runner.Exec{}, logger: logger}
}

// WithRunner swaps the command runner; tests use this to stub tesseract.
func (t *Tesseract) WithRunner(r runner.Runner) *Tesseract {
	t.runner = r
	return t
}

// reBoxNoise strips the vertical-bar rulings tesseract emits for card borders.
var reBoxNoise = regexp.MustCompile(`(?m)^[|_\-=~\s]+$`)

// Recognize runs tesseract on one image. A failed recognition (garbled crop,
// unreadable scan) yields empty text and a nil error; the caller decides what
// an empty read means.
func (t *Tesseract) Recognize(ctx context.Context, imagePath string) (string, error) {
	args := []string{imagePath, "stdout", "-l", t.cfg.Language}
	if t.cfg.PSM > 0 {
		args = append(args, "--psm", fmt.Sprintf("%d", t.cfg.PSM))
	}
	if t.cfg.OEM > 0 {
		args = append(args, "--oem", fmt.Sprintf("%d", t.cfg.OEM))
	}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}

	out, errb, err := t.runner.Run(ctx, t.cfg.Tesseract, args...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		t.logger.Warn("tesseract failed; treating card as unreadable",
			"image", imagePath, "stderr", string(errb), "error", err)
		return "", nil
	}

	return reBoxNoise.ReplaceAllString(string(out), ""), nil
}
