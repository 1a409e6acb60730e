// Package canvas provides an in-memory RGBA display that implements the render
// canvas. Frames are drawn into a back buffer and copied to the visible buffer
// on Present, which also hands them to an optional FrameSink.
package canvas

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/care/nowplaying/internal/render"
)

// FrameSink receives every presented frame. The image must not be retained.
type FrameSink interface {
	WriteFrame(frame *image.RGBA) error
}

// Canvas is a software display of a fixed size
type Canvas struct {
	width, height int
	faces         map[render.Font]font.Face
	sink          FrameSink

	back *image.RGBA // only touched by the render goroutine

	mu    sync.RWMutex
	front *image.RGBA
}

// minFontSize is the smallest face size tried when fitting a line pitch
const minFontSize = 4.0

type goFonts struct {
	regular, bold *opentype.Font
}

var parseGoFonts = sync.OnceValues(func() (goFonts, error) {
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return goFonts{}, fmt.Errorf("parse go regular: %w", err)
	}
	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return goFonts{}, fmt.Errorf("parse go bold: %w", err)
	}
	return goFonts{regular: regular, bold: bold}, nil
})

// New creates a w x h canvas. sink may be nil. Faces are sized to the
// render layout of that size: the body face fits one line pitch and the
// title face fits the band above the artist line.
func New(w, h int, sink FrameSink) (*Canvas, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid canvas size %dx%d", w, h)
	}
	faces, err := layoutFaces(render.ComputeLayout(w, h))
	if err != nil {
		return nil, err
	}
	return &Canvas{
		width:  w,
		height: h,
		faces:  faces,
		sink:   sink,
		back:  image.NewRGBA(image.Rect(0, 0, w, h)),
		front: image.NewRGBA(image.Rect(0, 0, w, h)),
	}, nil
}

func layoutFaces(l render.Layout) (map[render.Font]font.Face, error) {
	fonts, err := parseGoFonts()
	if err != nil {
		return nil, err
	}
	titlePitch := min(l.ArtistY-l.TitleY-1, 2*l.LineHeight)
	title, err := fitFace(fonts.bold, titlePitch)
	if err != nil {
		return nil, err
	}
	body, err := fitFace(fonts.regular, l.LineHeight)
	if err != nil {
		return nil, err
	}
	return map[render.Font]font.Face{
		render.FontTitle: title,
		render.FontBody:  body,
	}, nil
}

// fitFace returns the largest face of f whose line box is at most pitch
// pixels, or the minimum size when none fits
func fitFace(f *opentype.Font, pitch int) (font.Face, error) {
	size := max(float64(pitch), minFontSize)
	for {
		face, err := opentype.NewFace(f, &opentype.FaceOptions{
			Size:    size,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err != nil {
			return nil, fmt.Errorf("create %.1fpx face: %w", size, err)
		}
		if lineBox(face) <= pitch || size <= minFontSize {
			return face, nil
		}
		face.Close()
		size -= 0.5
	}
}

// lineBox is the pixel height DrawText covers below y
func lineBox(face font.Face) int {
	m := face.Metrics()
	return m.Ascent.Ceil() + m.Descent.Ceil()
}

// SetFace overrides the typeface used for f
func (c *Canvas) SetFace(f render.Font, face font.Face) {
	c.faces[f] = face
}

func (c *Canvas) Width() int  { return c.width }
func (c *Canvas) Height() int { return c.height }

func (c *Canvas) face(f render.Font) font.Face {
	if face, ok := c.faces[f]; ok {
		return face
	}
	return basicfont.Face7x13
}

// MeasureText returns the advance width of text in pixels
func (c *Canvas) MeasureText(text string, f render.Font) int {
	return font.MeasureString(c.face(f), text).Ceil()
}

// DrawText draws text with the top of its line box at y
func (c *Canvas) DrawText(text string, x, y int, col color.Color, f render.Font) {
	face := c.face(f)
	d := &font.Drawer{
		Dst:  c.back,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(x, y+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)
}

// DrawRect fills r and strokes a one-pixel border; nil colors are skipped
func (c *Canvas) DrawRect(r image.Rectangle, fill, outline color.Color) {
	r = r.Intersect(c.back.Bounds())
	if r.Empty() {
		return
	}
	if fill != nil {
		draw.Draw(c.back, r, image.NewUniform(fill), image.Point{}, draw.Src)
	}
	if outline != nil {
		src := image.NewUniform(outline)
		edges := []image.Rectangle{
			image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+1),
			image.Rect(r.Min.X, r.Max.Y-1, r.Max.X, r.Max.Y),
			image.Rect(r.Min.X, r.Min.Y, r.Min.X+1, r.Max.Y),
			image.Rect(r.Max.X-1, r.Min.Y, r.Max.X, r.Max.Y),
		}
		for _, e := range edges {
			draw.Draw(c.back, e, src, image.Point{}, draw.Src)
		}
	}
}

// PasteImage copies img with its top-left corner at at
func (c *Canvas) PasteImage(img image.Image, at image.Point) {
	b := img.Bounds()
	dst := image.Rectangle{Min: at, Max: at.Add(b.Size())}
	draw.Draw(c.back, dst, img, b.Min, draw.Src)
}

// ClearFrame blanks the back buffer
func (c *Canvas) ClearFrame() {
	draw.Draw(c.back, c.back.Bounds(), image.Black, image.Point{}, draw.Src)
}

// ClearDevice blanks both buffers
func (c *Canvas) ClearDevice() {
	c.ClearFrame()
	c.mu.Lock()
	draw.Draw(c.front, c.front.Bounds(), image.Black, image.Point{}, draw.Src)
	c.mu.Unlock()
}

// Present makes the back buffer visible and forwards it to the sink
func (c *Canvas) Present() error {
	c.mu.Lock()
	copy(c.front.Pix, c.back.Pix)
	c.mu.Unlock()

	if c.sink == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.sink.WriteFrame(c.front); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Snapshot returns a copy of the visible frame; safe from any goroutine
func (c *Canvas) Snapshot() *image.RGBA {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := image.NewRGBA(c.front.Bounds())
	copy(out.Pix, c.front.Pix)
	return out
}
