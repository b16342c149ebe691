// Package segment slices a rendered roll page into its fixed grid of voter
// cards, dropping blank slots.
package segment

import (
	"image"
	"image/draw"
	"log/slog"

	"github.com/tnroll/voterscan/internal/entity"
)

// Config describes the card grid printed on roll pages.
type Config struct {
	Rows           int
	Cols           int
	HeaderTrim     float64 // fraction of page height above the grid
	FooterTrim     float64 // fraction of page height below the grid
	BlankThreshold float64 // mean 0-255 brightness above which a slot is empty
	Padding        int     // pixels shaved inside each cell to avoid rulings
}

// Card is one non-blank slot cut from a page.
type Card struct {
	Slot  entity.CardSlot
	Image *image.RGBA
}

type Segmenter struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Segmenter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Rows <= 0 {
		cfg.Rows = 10
	}
	if cfg.Cols <= 0 {
		cfg.Cols = 3
	}
	if cfg.HeaderTrim <= 0 {
		cfg.HeaderTrim = 0.035
	}
	if cfg.FooterTrim <= 0 {
		cfg.FooterTrim = 0.025
	}
	if cfg.BlankThreshold <= 0 {
		cfg.BlankThreshold = 252
	}
	if cfg.Padding <= 0 {
		cfg.Padding = 1
	}
	return &Segmenter{cfg: cfg, logger: logger}
}

// Slice cuts the page into row-major grid cells and returns the non-blank
// ones in slot order. A page with zero non-blank slots yields an empty slice,
// not an error. Slot.Seq is left zero; the caller assigns global numbers.
func (s *Segmenter) Slice(page image.Image) []Card {
	bounds := page.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	header := int(float64(height) * s.cfg.HeaderTrim)
	footer := int(float64(height) * s.cfg.FooterTrim)
	content := height - header - footer
	if content <= 0 || width <= 0 {
		return nil
	}

	cardW := width / s.cfg.Cols
	rowH := content / s.cfg.Rows

	var cards []Card
	for row := 0; row < s.cfg.Rows; row++ {
		for col := 0; col < s.cfg.Cols; col++ {
			x1 := col*cardW + s.cfg.Padding
			y1 := header + row*rowH + s.cfg.Padding
			x2 := min(width, (col+1)*cardW-s.cfg.Padding)
			y2 := min(height, header+(row+1)*rowH-s.cfg.Padding)
			if x2 <= x1 || y2 <= y1 {
				continue
			}

			crop := crop(page, image.Rect(bounds.Min.X+x1, bounds.Min.Y+y1, bounds.Min.X+x2, bounds.Min.Y+y2))
			if meanBrightness(crop) > s.cfg.BlankThreshold {
				continue
			}
			cards = append(cards, Card{
				Slot:  entity.CardSlot{Row: row, Col: col},
				Image: crop,
			})
		}
	}
	return cards
}

// crop copies the rectangle into a fresh RGBA so card images do not alias the
// page buffer.
func crop(src image.Image, r image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), src, r.Min, draw.Src)
	return dst
}

// meanBrightness averages (R+G+B)/3 over all pixels on a 0-255 scale.
func meanBrightness(img *image.RGBA) float64 {
	bounds := img.Bounds()
	n := bounds.Dx() * bounds.Dy()
	if n == 0 {
		return 255
	}
	var sum uint64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		i := img.PixOffset(bounds.Min.X, y)
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			sum += uint64(img.Pix[i]) + uint64(img.Pix[i+1]) + uint64(img.Pix[i+2])
			i += 4
		}
	}
	return float64(sum) / float64(3*n)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
