package enhance

import (
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"
)

// Variant is one image preprocessing applied before a re-OCR attempt.
type Variant struct {
	Name  string
	Apply func(image.Image) image.Image
}

// DefaultVariants returns the second-pass preprocessing set in merge-priority
// order. The order is a heuristic carried over from field use, not a proven
// optimum; callers may supply their own list.
func DefaultVariants(binarizeCutoff int) []Variant {
	if binarizeCutoff <= 0 {
		binarizeCutoff = 140
	}
	return []Variant{
		{Name: "original", Apply: func(img image.Image) image.Image { return img }},
		{Name: "contrast", Apply: func(img image.Image) image.Image { return Contrast(img, 2.0) }},
		{Name: "grayscale", Apply: func(img image.Image) image.Image { return Sharpen(Grayscale(img)) }},
		{Name: "binarize", Apply: func(img image.Image) image.Image { return Binarize(img, uint8(binarizeCutoff)) }},
		{Name: "upscale", Apply: func(img image.Image) image.Image { return Upscale(img, 2) }},
	}
}

// Contrast scales each channel's distance from mid-gray by factor.
func Contrast(src image.Image, factor float64) image.Image {
	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := src.At(x, y).RGBA()
			dst.SetRGBA(x, y, color.RGBA{
				R: stretch(r, factor),
				G: stretch(g, factor),
				B: stretch(b, factor),
				A: uint8(a >> 8),
			})
		}
	}
	return dst
}

func stretch(c uint32, factor float64) uint8 {
	v := 128 + (float64(c>>8)-128)*factor
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// Grayscale converts to 8-bit luminance.
func Grayscale(src image.Image) *image.Gray {
	bounds := src.Bounds()
	dst := image.NewGray(bounds)
	xdraw.Draw(dst, bounds, src, bounds.Min, xdraw.Src)
	return dst
}

// Sharpen applies a 3x3 unsharp kernel to a grayscale image.
func Sharpen(src *image.Gray) image.Image {
	bounds := src.Bounds()
	dst := image.NewGray(bounds)
	copy(dst.Pix, src.Pix)
	for y := bounds.Min.Y + 1; y < bounds.Max.Y-1; y++ {
		for x := bounds.Min.X + 1; x < bounds.Max.X-1; x++ {
			center := int(src.GrayAt(x, y).Y) * 5
			around := int(src.GrayAt(x-1, y).Y) + int(src.GrayAt(x+1, y).Y) +
				int(src.GrayAt(x, y-1).Y) + int(src.GrayAt(x, y+1).Y)
			v := center - around
			if v < 0 {
				v = 0
			}
			if v > 255 {
				v = 255
			}
			dst.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	return dst
}

// Binarize thresholds luminance to pure black/white.
func Binarize(src image.Image, cutoff uint8) image.Image {
	gray := Grayscale(src)
	for i := range gray.Pix {
		if gray.Pix[i] < cutoff {
			gray.Pix[i] = 0
		} else {
			gray.Pix[i] = 255
		}
	}
	return gray
}

// Upscale resizes by an integer factor with Catmull-Rom interpolation.
func Upscale(src image.Image, factor int) image.Image {
	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx()*factor, bounds.Dy()*factor))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Src, nil)
	return dst
}
