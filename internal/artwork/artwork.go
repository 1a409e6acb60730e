// Package artwork downloads album art and prepares it for a small LED panel:
// fit into a square, boost contrast and saturation, center on black.
package artwork

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// FetchError describes which stage of an artwork fetch failed
type FetchError struct {
	URL   string
	Stage string // request, status, decode
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("artwork %s failed for %s: %v", e.Stage, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Config contains fetcher settings
type Config struct {
	Timeout  time.Duration // per-request bound when ctx has none (default: 5s)
	MaxBytes int64         // response size cap (default: 8 MiB)
	Contrast float64       // contrast factor, 1 = unchanged (default: 1.3)
	Saturate float64       // saturation factor, 1 = unchanged (default: 1.3)
}

// Stats contains fetch counters
type Stats struct {
	Fetches  uint64 `json:"fetches"`
	Failures uint64 `json:"failures"`
}

// Fetcher implements the render artwork collaborator over HTTP
type Fetcher struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	fetches  uint64
	failures uint64
}

// New creates a fetcher; client may be nil
func New(cfg Config, client *http.Client, logger *slog.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 8 << 20
	}
	if cfg.Contrast <= 0 {
		cfg.Contrast = 1.3
	}
	if cfg.Saturate <= 0 {
		cfg.Saturate = 1.3
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "artwork"),
	}
}

// Fetch downloads url and returns a size x size image
func (f *Fetcher) Fetch(ctx context.Context, url string, size int) (image.Image, error) {
	atomic.AddUint64(&f.fetches, 1)

	img, err := f.fetch(ctx, url, size)
	if err != nil {
		atomic.AddUint64(&f.failures, 1)
		return nil, err
	}
	return img, nil
}

func (f *Fetcher) fetch(ctx context.Context, url string, size int) (image.Image, error) {
	if size <= 0 {
		return nil, &FetchError{URL: url, Stage: "request", Err: fmt.Errorf("invalid size %d", size)}
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Stage: "request", Err: err}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Stage: "request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: url, Stage: "status", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	src, format, err := image.Decode(io.LimitReader(resp.Body, f.cfg.MaxBytes))
	if err != nil {
		return nil, &FetchError{URL: url, Stage: "decode", Err: err}
	}

	f.logger.Debug("artwork decoded", "url", url, "format", format, "bounds", src.Bounds().String())
	return Prepare(src, size, f.cfg.Contrast, f.cfg.Saturate), nil
}

// Stats returns fetch counters
func (f *Fetcher) Stats() Stats {
	return Stats{
		Fetches:  atomic.LoadUint64(&f.fetches),
		Failures: atomic.LoadUint64(&f.failures),
	}
}

// Prepare fits src into a size x size black square (aspect preserved, centered)
// and applies the contrast and saturation factors
func Prepare(src image.Image, size int, contrast, saturate float64) *image.RGBA {
	sb := src.Bounds()
	w, h := size, size
	if sb.Dx() > sb.Dy() {
		h = max(1, sb.Dy()*size/sb.Dx())
	} else if sb.Dy() > sb.Dx() {
		w = max(1, sb.Dx()*size/sb.Dy())
	}

	fitted := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(fitted, fitted.Bounds(), src, sb, draw.Src, nil)
	enhance(fitted, contrast, saturate)

	out := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(out, out.Bounds(), image.Black, image.Point{}, draw.Src)
	offset := image.Pt((size-w)/2, (size-h)/2)
	draw.Draw(out, fitted.Bounds().Add(offset), fitted, image.Point{}, draw.Src)
	return out
}

// enhance adjusts img in place: contrast around the mean luminance, then
// saturation around each pixel's own luminance
func enhance(img *image.RGBA, contrast, saturate float64) {
	if contrast == 1 && saturate == 1 {
		return
	}

	var sum float64
	n := len(img.Pix) / 4
	if n == 0 {
		return
	}
	for i := 0; i < len(img.Pix); i += 4 {
		sum += luma(img.Pix[i], img.Pix[i+1], img.Pix[i+2])
	}
	mean := sum / float64(n)

	for i := 0; i < len(img.Pix); i += 4 {
		r := mean + contrast*(float64(img.Pix[i])-mean)
		g := mean + contrast*(float64(img.Pix[i+1])-mean)
		b := mean + contrast*(float64(img.Pix[i+2])-mean)

		l := 0.299*r + 0.587*g + 0.114*b
		img.Pix[i] = clamp(l + saturate*(r-l))
		img.Pix[i+1] = clamp(l + saturate*(g-l))
		img.Pix[i+2] = clamp(l + saturate*(b-l))
	}
}

func luma(r, g, b uint8) float64 {
	return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
}

func clamp(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
