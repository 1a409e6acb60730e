package render

import "image"

// Layout holds the pixel geometry of the now-playing screen
type Layout struct {
	Art        image.Rectangle
	TextX      int
	TextWidth  int
	TitleY     int
	ArtistY    int
	AlbumY     int
	LineHeight int
	ShowAlbum  bool
	BarY       int
	BarHeight  int
}

// ComputeLayout derives the screen geometry for a w x h display.
// The artwork is a square as tall as the display; text fills the rest.
func ComputeLayout(w, h int) Layout {
	l := Layout{
		Art:   image.Rect(0, 0, h, h),
		TextX: h + 2,
	}
	l.TextWidth = w - l.TextX - 1

	var shift int
	switch {
	case h <= 32:
		l.LineHeight, shift = 7, 6
	case h <= 64:
		l.LineHeight, shift = 8, 7
	default:
		l.LineHeight = max(8, h*125/1000)
		shift = max(6, h*19/100)
	}

	l.TitleY = max(1, h*3/100)
	l.ArtistY = h*34/100 + shift
	l.AlbumY = h*60/100 + shift
	l.ShowAlbum = h-l.AlbumY >= l.LineHeight

	switch {
	case h <= 32:
		l.BarHeight = 3
	case h <= 64:
		l.BarHeight = 4
	default:
		l.BarHeight = max(4, h*6/100)
	}
	l.BarY = h - l.BarHeight - 1
	return l
}

// ProgressBar returns the background and filled rectangles of the bar.
// ok is false when the duration is unknown and no bar should be drawn.
func (l Layout) ProgressBar(progressMS, durationMS int64) (bg, filled image.Rectangle, ok bool) {
	if durationMS <= 0 || l.TextWidth <= 0 {
		return image.Rectangle{}, image.Rectangle{}, false
	}
	bg = image.Rect(l.TextX, l.BarY, l.TextX+l.TextWidth, l.BarY+l.BarHeight)

	ratio := float64(progressMS) / float64(durationMS)
	fw := int(ratio * float64(l.TextWidth))
	fw = min(max(fw, 0), l.TextWidth)
	if fw > 0 {
		filled = image.Rect(l.TextX, l.BarY, l.TextX+fw, l.BarY+l.BarHeight)
	}
	return bg, filled, true
}
