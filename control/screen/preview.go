package screen

import (
	"image"
	"image/color"
	"image/png"
	"net/http"

	"github.com/jrockway/nixie-clock/control/tubes"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	glyphWidth   = 7  // basicfont.Face7x13
	glyphHeight  = 13 // basicfont.Face7x13
	tubeSpacing  = 3  // Pixels between tubes, at glyph scale.
	previewScale = 8  // Size of one glyph pixel in the rendered image.
)

var (
	neon  = color.NRGBA{R: 0xff, G: 0x78, B: 0x1e, A: 0xff}
	glass = color.NRGBA{R: 0x18, G: 0x10, B: 0x0c, A: 0xff}
	unlit = color.NRGBA{R: 0x40, G: 0x28, B: 0x18, A: 0xff}
)

// tubeX is the left edge of tube i at glyph scale.  Pairs get an extra gap for the dots.
func tubeX(i int) int {
	return tubeSpacing + i*(glyphWidth+tubeSpacing) + (i/2)*tubeSpacing
}

// dotPositions are the glyph-scale offsets of the four dot separators, in mask bit order (top
// left, bottom left, top right, bottom right).
var dotPositions = [4]image.Point{
	{X: tubeX(2) - tubeSpacing, Y: 4},
	{X: tubeX(2) - tubeSpacing, Y: 9},
	{X: tubeX(4) - tubeSpacing, Y: 4},
	{X: tubeX(4) - tubeSpacing, Y: 9},
}

// renderState draws s at glyph scale.
func renderState(s tubes.State) *image.NRGBA {
	width := tubeX(tubes.Slots-1) + glyphWidth + tubeSpacing
	img := image.NewNRGBA(image.Rect(0, 0, width, glyphHeight))
	for x := 0; x < width; x++ {
		for y := 0; y < glyphHeight; y++ {
			img.SetNRGBA(x, y, glass)
		}
	}
	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(neon),
		Face: basicfont.Face7x13,
	}
	for i, d := range s.Digits {
		if d >= tubes.Blank {
			continue
		}
		drawer.Dot = fixed.P(tubeX(i), basicfont.Face7x13.Ascent)
		drawer.DrawString(string(rune('0' + d)))
	}
	for i, p := range dotPositions {
		c := unlit
		if s.Dots&(0b1000>>i) != 0 {
			c = neon
		}
		img.SetNRGBA(p.X, p.Y, c)
	}
	return img
}

// Preview returns an enlarged image of s, as served over HTTP.
func Preview(s tubes.State) *image.NRGBA {
	src := renderState(s)
	b := src.Bounds()
	img := image.NewNRGBA(image.Rect(0, 0, b.Dx()*previewScale, b.Dy()*previewScale))
	for x := 0; x < b.Dx(); x++ {
		for y := 0; y < b.Dy(); y++ {
			c := src.NRGBAAt(x, y)
			for destX := previewScale * x; destX < previewScale*(x+1); destX++ {
				for destY := previewScale * y; destY < previewScale*(y+1); destY++ {
					img.SetNRGBA(destX, destY, c)
				}
			}
		}
	}
	return img
}

// ServeHTTP serves the current display as a PNG.
func (s *Screen) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	img := Preview(s.Current())
	w.Header().Add("content-type", "image/png")
	w.WriteHeader(http.StatusOK)
	if err := png.Encode(w, img); err != nil {
		s.log.WithError(err).Info("encoding preview image")
	}
}
