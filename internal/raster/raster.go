// Package raster renders roll PDF pages to images via poppler's pdftoppm.
package raster

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/tnroll/voterscan/internal/runner"
)

// Rasterizer is the pipeline's opaque rasterization capability:
// document + page index + zoom -> one page image.
type Rasterizer interface {
	PageCount(ctx context.Context, docPath string) (int, error)
	RenderPage(ctx context.Context, docPath string, page int, zoom float64) (image.Image, error)
}

// Config holds poppler binary paths.
type Config struct {
	Pdftoppm string // if empty -> "pdftoppm"
	Pdfinfo  string // if empty -> "pdfinfo"
}

// Poppler renders with pdftoppm and counts pages with pdfinfo.
type Poppler struct {
	cfg    Config
	runner runner.Runner
	logger *slog.Logger
}

func NewPoppler(cfg Config, logger *slog.Logger) *Poppler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Pdfinfo == "" {
		cfg.Pdfinfo = "pdfinfo"
	}
	return &Poppler{cfg: cfg, runner: runner.Exec{}, logger: logger}
}

// WithRunner swaps the command runner; tests use this to stub poppler.
func (p *Poppler) WithRunner(r runner.Runner) *Poppler {
	p.runner = r
	return p
}

var rePages = regexp.MustCompile(`(?m)^Pages:\s+(\d+)`)

// PageCount reads the page count from pdfinfo output.
func (p *Poppler) PageCount(ctx context.Context, docPath string) (int, error) {
	out, errb, err := p.runner.Run(ctx, p.cfg.Pdfinfo, docPath)
	if err != nil {
		return 0, fmt.Errorf("pdfinfo %s: %w (%s)", docPath, err, errb)
	}
	m := rePages.FindSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("pdfinfo %s: no page count in output", docPath)
	}
	return strconv.Atoi(string(m[1]))
}

// RenderPage rasterizes one page (0-based index) at the given zoom factor.
// Zoom 1.0 corresponds to 72 DPI, matching the page's nominal size.
func (p *Poppler) RenderPage(ctx context.Context, docPath string, page int, zoom float64) (image.Image, error) {
	tmpDir, err := os.MkdirTemp("", "vs-pp-*")
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := os.RemoveAll(tmpDir); rerr != nil {
			p.logger.Warn("failed to remove temp dir", "path", tmpDir, "error", rerr)
		}
	}()

	dpi := int(zoom*72 + 0.5)
	prefix := filepath.Join(tmpDir, "page")
	pageNo := fmt.Sprintf("%d", page+1) // pdftoppm pages are 1-based

	// pdftoppm -f <n> -l <n> -r <dpi> -png <in.pdf> <tmp/page>
	_, errb, err := p.runner.Run(ctx, p.cfg.Pdftoppm,
		"-f", pageNo, "-l", pageNo, "-r", fmt.Sprintf("%d", dpi), "-png", docPath, prefix)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm %s page %d: %w (%s)", docPath, page, err, errb)
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if len(matches) == 0 {
		return nil, fmt.Errorf("pdftoppm %s page %d: no image produced", docPath, page)
	}

	f, err := os.Open(matches[0])
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode rendered page: %w", err)
	}
	return img, nil
}
