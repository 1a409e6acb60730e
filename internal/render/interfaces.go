package render

import (
	"context"
	"image"
	"image/color"
)

// Font selects one of the display's two typefaces
type Font int

const (
	// FontTitle is used for the track title
	FontTitle Font = iota
	// FontBody is used for artist, album and status text
	FontBody
)

// Canvas is the drawing surface of the physical or virtual display.
// Coordinates are in pixels with the origin at the top-left; text is
// positioned by the top of its line box.
type Canvas interface {
	Width() int
	Height() int
	MeasureText(text string, font Font) int
	DrawText(text string, x, y int, c color.Color, font Font)
	// DrawRect fills r with fill and strokes its border with outline.
	// Either color may be nil.
	DrawRect(r image.Rectangle, fill, outline color.Color)
	PasteImage(img image.Image, at image.Point)
	// ClearFrame blanks the back buffer only
	ClearFrame()
	// ClearDevice blanks the back buffer and the visible output
	ClearDevice()
	Present() error
}

// ArtworkFetcher downloads an image and fits it into a size x size square
type ArtworkFetcher interface {
	Fetch(ctx context.Context, url string, size int) (image.Image, error)
}

// Display is the activation side of the engine, as seen by the render loop
type Display interface {
	IsDisplayActive() bool
	ActivateDisplay()
}
