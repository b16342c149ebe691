package segment

import (
	"image"
	"image/color"
	"image/draw"
	"testing"
)

// testPage builds a white page with dark content in the given grid cells.
// Geometry matches cfg: header/footer trims, then rows x cols cells.
func testPage(cfg Config, width, height int, filled ...[2]int) *image.RGBA {
	page := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(page, page.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	header := int(float64(height) * cfg.HeaderTrim)
	footer := int(float64(height) * cfg.FooterTrim)
	content := height - header - footer
	cardW := width / cfg.Cols
	rowH := content / cfg.Rows

	for _, cell := range filled {
		row, col := cell[0], cell[1]
		r := image.Rect(col*cardW, header+row*rowH, (col+1)*cardW, header+(row+1)*rowH)
		draw.Draw(page, r, image.NewUniform(color.Black), image.Point{}, draw.Src)
	}
	return page
}

func testConfig() Config {
	return Config{
		Rows:           2,
		Cols:           2,
		HeaderTrim:     0.1,
		FooterTrim:     0.1,
		BlankThreshold: 252,
		Padding:        1,
	}
}

func TestSliceSkipsBlankSlots(t *testing.T) {
	cfg := testConfig()
	seg := New(cfg, nil)
	page := testPage(cfg, 200, 120, [2]int{0, 0}, [2]int{1, 1})

	cards := seg.Slice(page)
	if len(cards) != 2 {
		t.Fatalf("got %d cards, want 2", len(cards))
	}
	if cards[0].Slot.Row != 0 || cards[0].Slot.Col != 0 {
		t.Errorf("first slot = %+v, want (0,0)", cards[0].Slot)
	}
	if cards[1].Slot.Row != 1 || cards[1].Slot.Col != 1 {
		t.Errorf("second slot = %+v, want (1,1)", cards[1].Slot)
	}
}

func TestSliceRowMajorOrder(t *testing.T) {
	cfg := testConfig()
	seg := New(cfg, nil)
	page := testPage(cfg, 200, 120, [2]int{0, 0}, [2]int{0, 1}, [2]int{1, 0}, [2]int{1, 1})

	cards := seg.Slice(page)
	if len(cards) != 4 {
		t.Fatalf("got %d cards, want 4", len(cards))
	}
	want := [][2]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	for i, c := range cards {
		if c.Slot.Row != want[i][0] || c.Slot.Col != want[i][1] {
			t.Errorf("card %d slot = (%d,%d), want %v", i, c.Slot.Row, c.Slot.Col, want[i])
		}
	}
}

func TestSliceEmptyPage(t *testing.T) {
	cfg := testConfig()
	seg := New(cfg, nil)

	cards := seg.Slice(testPage(cfg, 200, 120))
	if len(cards) != 0 {
		t.Errorf("blank page produced %d cards, want 0", len(cards))
	}
}

func TestSliceCardDoesNotAliasPage(t *testing.T) {
	cfg := testConfig()
	seg := New(cfg, nil)
	page := testPage(cfg, 200, 120, [2]int{0, 0})

	cards := seg.Slice(page)
	if len(cards) != 1 {
		t.Fatalf("got %d cards, want 1", len(cards))
	}
	before := cards[0].Image.RGBAAt(2, 2)

	// whiting out the page must not change the already-cut card
	draw.Draw(page, page.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if after := cards[0].Image.RGBAAt(2, 2); after != before {
		t.Error("card image shares pixels with the page buffer")
	}
}

func TestMeanBrightness(t *testing.T) {
	white := image.NewRGBA(image.Rect(0, 0, 4, 4))
	draw.Draw(white, white.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if got := meanBrightness(white); got != 255 {
		t.Errorf("white brightness = %v, want 255", got)
	}

	black := image.NewRGBA(image.Rect(0, 0, 4, 4))
	draw.Draw(black, black.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	if got := meanBrightness(black); got != 0 {
		t.Errorf("black brightness = %v, want 0", got)
	}
}

func TestSliceDegeneratePage(t *testing.T) {
	seg := New(testConfig(), nil)
	tiny := image.NewRGBA(image.Rect(0, 0, 1, 1))
	if cards := seg.Slice(tiny); len(cards) != 0 {
		t.Errorf("degenerate page produced %d cards", len(cards))
	}
}
