// Package render turns the shared now-playing state into frames, one tick at a
// time. It owns the scroll animators and the nothing-playing screen state and
// is driven from a single goroutine at the display's cadence.
package render

import (
	"context"
	"image"
	"image/color"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/care/nowplaying/internal/mailbox"
	"github.com/care/nowplaying/internal/priority"
	"github.com/care/nowplaying/internal/scroll"
	"github.com/care/nowplaying/internal/state"
	"github.com/care/nowplaying/internal/types"
)

var (
	colorTitle   = color.RGBA{255, 255, 255, 255}
	colorArtist  = color.RGBA{180, 180, 180, 255}
	colorAlbum   = color.RGBA{150, 150, 150, 255}
	colorStatus  = color.RGBA{255, 255, 255, 255}
	colorArtFill = color.RGBA{10, 10, 10, 255}
	colorArtLine = color.RGBA{50, 50, 50, 255}
	colorBarBg   = color.RGBA{30, 30, 30, 255}
	colorBarLine = color.RGBA{60, 60, 60, 255}
	colorBarFill = color.RGBA{200, 200, 200, 255}
)

// ScrollConfig holds one animator configuration per text field
type ScrollConfig struct {
	Title  scroll.Config
	Artist scroll.Config
	Album  scroll.Config
}

// Config contains orchestrator settings
type Config struct {
	Scroll         ScrollConfig
	ArtworkTimeout time.Duration // bound on one artwork fetch (default: 5s)
	ArtworkRetry   time.Duration // wait before re-fetching a failed URL (default: 10s)
}

// Deps are the collaborators of the orchestrator
type Deps struct {
	Canvas  Canvas
	Fetcher ArtworkFetcher
	Display Display
	Store   *state.Store
	Mailbox *mailbox.Mailbox
	Arbiter *priority.Arbiter
	Logger  *slog.Logger
}

// Stats contains render counters
type Stats struct {
	Ticks           uint64 `json:"ticks"`
	FramesPresented uint64 `json:"frames_presented"`
	FullRefreshes   uint64 `json:"full_refreshes"`
	ArtFetches      uint64 `json:"art_fetches"`
	ArtFailures     uint64 `json:"art_failures"`
	PresentErrors   uint64 `json:"present_errors"`
}

// Orchestrator renders one frame per Tick. Not safe for concurrent Tick calls.
type Orchestrator struct {
	cfg     Config
	canvas  Canvas
	fetcher ArtworkFetcher
	display Display
	store   *state.Store
	mailbox *mailbox.Mailbox
	arbiter *priority.Arbiter
	logger  *slog.Logger
	now     func() time.Time

	title  *scroll.Animator
	artist *scroll.Animator
	album  *scroll.Animator

	showingNothing   bool
	lastNothingLogAt time.Time
	failedArtURL     string
	failedArtAt      time.Time

	ticks         uint64
	presented     uint64
	fullRefreshes uint64
	artFetches    uint64
	artFailures   uint64
	presentErrors uint64
}

// New creates an orchestrator
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.ArtworkTimeout <= 0 {
		cfg.ArtworkTimeout = 5 * time.Second
	}
	if cfg.ArtworkRetry <= 0 {
		cfg.ArtworkRetry = 10 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:     cfg,
		canvas:  deps.Canvas,
		fetcher: deps.Fetcher,
		display: deps.Display,
		store:   deps.Store,
		mailbox: deps.Mailbox,
		arbiter: deps.Arbiter,
		logger:  logger.With("component", "render"),
		now:     time.Now,
		title:   scroll.New(cfg.Scroll.Title),
		artist:  scroll.New(cfg.Scroll.Artist),
		album:   scroll.New(cfg.Scroll.Album),
	}
}

// Tick renders one frame. forceClear requests a full refresh from the caller
// (for example after the display switched back to this screen).
func (o *Orchestrator) Tick(forceClear bool) {
	atomic.AddUint64(&o.ticks, 1)

	if o.arbiter != nil && o.arbiter.Enabled() {
		o.arbiter.CheckTimeout()
	}

	if !o.display.IsDisplayActive() {
		o.logger.Debug("activating display on render entry")
		o.display.ActivateDisplay()
	}

	full := forceClear
	var fromEvent *types.TrackInfo
	if o.store.TakeRefresh() {
		full = true
		if info, ok := o.mailbox.TryTake(); ok {
			fromEvent = &info
		}
	}

	var snap types.TrackInfo
	var haveSnap bool
	if full {
		atomic.AddUint64(&o.fullRefreshes, 1)
		o.canvas.ClearDevice()
		o.display.ActivateDisplay()

		if info, ok := o.mailbox.TryTake(); ok {
			snap, haveSnap = info, true
		} else if fromEvent != nil {
			snap, haveSnap = *fromEvent, true
		} else {
			snap, haveSnap = o.store.Current()
		}
		o.logger.Debug("full refresh", "title", snap.Title, "force_clear", forceClear)
	} else {
		snap, haveSnap = o.store.Current()
	}

	if !haveSnap || snap.IsNothingPlaying() {
		o.renderNothingPlaying(full, haveSnap, snap)
		return
	}
	o.renderTrack(snap, full)
}

func (o *Orchestrator) renderNothingPlaying(full, haveSnap bool, snap types.TrackInfo) {
	now := o.now()
	if now.Sub(o.lastNothingLogAt) > 10*time.Second {
		o.logger.Debug("nothing playing",
			"display_active", o.display.IsDisplayActive(),
			"source", o.store.Source().String(),
			"snapshot_exists", haveSnap,
			"snapshot_title", snap.Title,
		)
		o.lastNothingLogAt = now
	}

	if o.arbiter != nil && o.arbiter.ObserveNothingPlaying() {
		o.logger.Info("nothing playing timeout reached, leaving priority mode")
		return
	}

	if !o.showingNothing || full {
		o.canvas.ClearDevice()
		text := types.NothingPlayingTitle
		x := (o.canvas.Width() - o.canvas.MeasureText(text, FontBody)) / 2
		y := o.canvas.Height()/2 - 4
		o.canvas.DrawText(text, x, y, colorStatus, FontBody)
		o.present()
		o.showingNothing = true
	}

	o.resetScroll()
	o.store.ClearArtwork()
}

func (o *Orchestrator) renderTrack(snap types.TrackInfo, full bool) {
	o.showingNothing = false
	if o.arbiter != nil {
		o.arbiter.ObservePlaying()
	}

	if full {
		o.resetScroll()
	}

	if !o.display.IsDisplayActive() && !full {
		o.logger.Warn("render called while display inactive, skipping frame")
		return
	}
	if !full {
		o.canvas.ClearFrame()
	}

	l := ComputeLayout(o.canvas.Width(), o.canvas.Height())

	if img := o.resolveArtwork(snap.AlbumArtURL, l.Art.Dx()); img != nil {
		o.canvas.PasteImage(img, l.Art.Min)
	} else {
		o.canvas.DrawRect(l.Art, colorArtFill, colorArtLine)
	}

	measure := func(f Font) scroll.Measurer {
		return func(s string) int { return o.canvas.MeasureText(s, f) }
	}

	title := o.title.Next(snap.Title, l.TextWidth, measure(FontTitle))
	o.canvas.DrawText(title, l.TextX, l.TitleY, colorTitle, FontTitle)

	artist := o.artist.Next(snap.Artist, l.TextWidth, measure(FontBody))
	o.canvas.DrawText(artist, l.TextX, l.ArtistY, colorArtist, FontBody)

	if l.ShowAlbum {
		album := o.album.Next(snap.Album, l.TextWidth, measure(FontBody))
		o.canvas.DrawText(album, l.TextX, l.AlbumY, colorAlbum, FontBody)
	}

	if bg, filled, ok := l.ProgressBar(snap.ProgressMS, snap.DurationMS); ok {
		o.canvas.DrawRect(bg, colorBarBg, colorBarLine)
		if !filled.Empty() {
			o.canvas.DrawRect(filled, colorBarFill, nil)
		}
	}

	o.present()
}

// resolveArtwork returns the image to draw for url, fetching it when the cache
// does not hold it. A fetched image is only kept if url is still current.
func (o *Orchestrator) resolveArtwork(url string, size int) image.Image {
	if url == "" {
		o.store.ClearArtwork()
		return nil
	}

	cached, cachedURL := o.store.Artwork()
	if cached != nil && cachedURL == url {
		return cached
	}
	if o.fetcher == nil {
		return nil
	}
	if url == o.failedArtURL && o.now().Sub(o.failedArtAt) < o.cfg.ArtworkRetry {
		return nil
	}

	atomic.AddUint64(&o.artFetches, 1)
	o.logger.Info("fetching album art", "url", url)

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ArtworkTimeout)
	img, err := o.fetcher.Fetch(ctx, url, size)
	cancel()
	if err != nil {
		atomic.AddUint64(&o.artFailures, 1)
		o.failedArtURL = url
		o.failedArtAt = o.now()
		o.logger.Warn("album art fetch failed", "url", url, "error", err)
		return nil
	}
	o.failedArtURL = ""

	if !o.store.CommitArtwork(url, img) {
		cur, _ := o.store.Current()
		o.logger.Info("discarding stale album art",
			"url", url,
			"current_title", cur.Title,
			"current_url", cur.AlbumArtURL,
		)
		return nil
	}
	return img
}

func (o *Orchestrator) resetScroll() {
	o.title.Reset()
	o.artist.Reset()
	o.album.Reset()
}

func (o *Orchestrator) present() {
	if err := o.canvas.Present(); err != nil {
		atomic.AddUint64(&o.presentErrors, 1)
		o.logger.Warn("present failed", "error", err)
		return
	}
	atomic.AddUint64(&o.presented, 1)
}

// Stats returns render counters; safe to call from any goroutine
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Ticks:           atomic.LoadUint64(&o.ticks),
		FramesPresented: atomic.LoadUint64(&o.presented),
		FullRefreshes:   atomic.LoadUint64(&o.fullRefreshes),
		ArtFetches:      atomic.LoadUint64(&o.artFetches),
		ArtFailures:     atomic.LoadUint64(&o.artFailures),
		PresentErrors:   atomic.LoadUint64(&o.presentErrors),
	}
}
