package core

import (
	"context"
	"errors"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/care/nowplaying/internal/config"
	"github.com/care/nowplaying/internal/emitter"
	"github.com/care/nowplaying/internal/render"
	"github.com/care/nowplaying/internal/source"
	"github.com/care/nowplaying/internal/types"
)

// --- fakes ---

type fakePolling struct {
	mu       sync.Mutex
	auth     bool
	playback *source.SpotifyPlayback
	err      error
	calls    int
}

func (p *fakePolling) IsAuthenticated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.auth
}

func (p *fakePolling) CurrentPlayback(ctx context.Context) (*source.SpotifyPlayback, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.playback, p.err
}

func (p *fakePolling) set(pb *source.SpotifyPlayback, err error) {
	p.mu.Lock()
	p.playback, p.err = pb, err
	p.mu.Unlock()
}

func (p *fakePolling) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeHybrid struct {
	mu          sync.Mutex
	connected   bool
	state       *source.YTMState
	handler     source.UpdateHandler
	connectErr  error
	block       bool // Connect waits for its context
	connects    int
	disconnects int
	shutdowns   int
}

func (h *fakeHybrid) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

func (h *fakeHybrid) Connect(ctx context.Context) error {
	h.mu.Lock()
	h.connects++
	if h.block {
		h.mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	}
	defer h.mu.Unlock()
	if h.connectErr != nil {
		return h.connectErr
	}
	h.connected = true
	return nil
}

func (h *fakeHybrid) Disconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnects++
	h.connected = false
}

func (h *fakeHybrid) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdowns++
}

func (h *fakeHybrid) connectCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connects
}

func (h *fakeHybrid) CurrentState() *source.YTMState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *fakeHybrid) SetUpdateHandler(fn source.UpdateHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = fn
}

func (h *fakeHybrid) push(st *source.YTMState) {
	h.mu.Lock()
	fn := h.handler
	h.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

// nullCanvas counts presents and ignores drawing
type nullCanvas struct {
	mu       sync.Mutex
	presents int
}

func (c *nullCanvas) Width() int { return 64 }
func (c *nullCanvas) Height() int { return 32 }
func (c *nullCanvas) MeasureText(text string, _ render.Font) int { return len(text) * 4 }
func (c *nullCanvas) DrawText(string, int, int, color.Color, render.Font) {}
func (c *nullCanvas) DrawRect(image.Rectangle, color.Color, color.Color) {}
func (c *nullCanvas) PasteImage(image.Image, image.Point) {}
func (c *nullCanvas) ClearFrame() {}
func (c *nullCanvas) ClearDevice() {}
func (c *nullCanvas) Present() error {
	c.mu.Lock()
	c.presents++
	c.mu.Unlock()
	return nil
}

// textCanvas records every string drawn
type textCanvas struct {
	nullCanvas
	texts []string
}

func (c *textCanvas) DrawText(text string, _, _ int, _ color.Color, _ render.Font) {
	c.texts = append(c.texts, text)
}

func (c *textCanvas) drawn() []string {
	out := c.texts
	c.texts = nil
	return out
}

type fakeSwitcher struct {
	mu          sync.Mutex
	requests    int
	relinquish  int
	lastMode    string
	lastTimeout time.Duration
}

func (s *fakeSwitcher) RequestPriority(mode string, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	s.lastMode, s.lastTimeout = mode, d
	return nil
}

func (s *fakeSwitcher) RelinquishPriority() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relinquish++
	return nil
}

func (s *fakeSwitcher) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests, s.relinquish
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []emitter.StateMessage
}

func (p *fakePublisher) PublishState(msg emitter.StateMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

// statsPublisher is a publisher that also reports emitter counters
type statsPublisher struct {
	fakePublisher
}

func (p *statsPublisher) Stats() emitter.Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return emitter.Stats{
		Connected: true,
		Published: map[string]uint64{"nowplaying/state": uint64(len(p.msgs))},
	}
}

// --- helpers ---

func newConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}

func playing(title string, progressMS int64) *source.SpotifyPlayback {
	return &source.SpotifyPlayback{
		IsPlaying:  true,
		ProgressMS: progressMS,
		Item: &source.SpotifyItem{
			Name:       title,
			DurationMS: 180_000,
			Artists:    []source.SpotifyArtist{{Name: "Artist"}},
			Album:      source.SpotifyAlbum{Name: "Album"},
		},
	}
}

func ytmState(title string, trackState int) *source.YTMState {
	dur := 200.0
	return &source.YTMState{
		Player: source.YTMPlayer{TrackState: trackState},
		Video: &source.YTMVideo{
			Title:           title,
			Author:          "Author",
			DurationSeconds: &dur,
		},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newSpotifyEngine(t *testing.T, extra string) (*Engine, *fakePolling, *fakeSwitcher, *fakePublisher) {
	t.Helper()
	cfg := newConfig(t, "preferred_source: spotify\npolling_interval_seconds: 1\n"+extra)
	polling := &fakePolling{auth: true}
	sw := &fakeSwitcher{}
	pub := &fakePublisher{}
	e := New(cfg, Deps{
		Polling:   polling,
		Canvas:    &nullCanvas{},
		Switcher:  sw,
		Publisher: pub,
	})
	return e, polling, sw, pub
}

func newYTMEngine(t *testing.T, hybrid *fakeHybrid, extra string) *Engine {
	t.Helper()
	cfg := newConfig(t, "preferred_source: ytm\npolling_interval_seconds: 1\n"+extra)
	return New(cfg, Deps{
		Hybrid: hybrid,
		Canvas: &nullCanvas{},
	})
}

// --- tests ---

func TestNew_InvalidSourceDisablesEngine(t *testing.T) {
	cfg := newConfig(t, "preferred_source: tidal\n")
	canvas := &nullCanvas{}
	e := New(cfg, Deps{Polling: &fakePolling{auth: true}, Canvas: canvas})

	if e.Enabled() {
		t.Fatal("expected engine to be disabled for unknown source")
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start on disabled engine should be a no-op, got %v", err)
	}
	if e.Running() {
		t.Error("disabled engine must not run background work")
	}

	e.Render(true)
	if canvas.presents != 0 {
		t.Errorf("expected no frames from a disabled engine, got %d", canvas.presents)
	}
	if got := e.HealthCheck().Status; got != "unhealthy" {
		t.Errorf("expected unhealthy, got %s", got)
	}
	t.Logf("✅ Invalid preferred_source disables the engine")
}

func TestNew_MissingClientDisablesEngine(t *testing.T) {
	cfg := newConfig(t, "preferred_source: ytm\n")
	e := New(cfg, Deps{Polling: &fakePolling{}, Canvas: &nullCanvas{}})
	if e.Enabled() {
		t.Fatal("expected engine to be disabled without a hybrid client")
	}
}

func TestPoll_ChangeSequence(t *testing.T) {
	e, polling, _, _ := newSpotifyEngine(t, "")
	ctx := context.Background()

	steps := []struct {
		pb   *source.SpotifyPlayback
		want types.ChangeKind
	}{
		{playing("Song1", 1000), types.ChangeSignificant},
		{playing("Song1", 2000), types.ChangeMinor},
		{playing("Song2", 0), types.ChangeSignificant},
		{playing("Song2", 0), types.ChangeNone},
	}

	for i, step := range steps {
		before := e.store.Stats().Updates[step.want.String()]
		polling.set(step.pb, nil)
		e.pollOnce(ctx)
		after := e.store.Stats().Updates[step.want.String()]
		if after != before+1 {
			t.Errorf("step %d: expected one %s update, got %d", i, step.want, after-before)
		}
	}

	cur, ok := e.Current()
	if !ok || cur.Title != "Song2" {
		t.Errorf("expected current Song2, got %+v", cur)
	}
	if got := e.mailbox.Stats().Published; got != 0 {
		t.Errorf("poll updates must not reach the mailbox, got %d publishes", got)
	}
	t.Logf("✅ Poll path: [Significant, Minor, Significant, None], mailbox untouched")
}

func TestPoll_ErrorIsNoop(t *testing.T) {
	e, polling, _, _ := newSpotifyEngine(t, "")
	ctx := context.Background()

	polling.set(playing("Song1", 0), nil)
	e.pollOnce(ctx)

	polling.set(nil, errors.New("dial tcp: connection refused"))
	e.pollOnce(ctx)

	cur, _ := e.Current()
	if cur.Title != "Song1" {
		t.Errorf("failed poll must not change state, got %q", cur.Title)
	}
	if got := e.metrics.pollErrors[source.ErrCategoryNetwork].Load(); got != 1 {
		t.Errorf("expected 1 network error, got %d", got)
	}

	polling.set(nil, source.ErrNotAuthenticated)
	e.pollOnce(ctx)
	if got := e.metrics.pollErrors[source.ErrCategoryAuth].Load(); got != 1 {
		t.Errorf("expected 1 auth error, got %d", got)
	}
}

func TestPoll_UnauthenticatedSkipsFetch(t *testing.T) {
	e, polling, _, _ := newSpotifyEngine(t, "")
	polling.auth = false

	e.pollOnce(context.Background())
	e.pollOnce(context.Background())

	if polling.callCount() != 0 {
		t.Errorf("expected no fetch without credentials, got %d", polling.callCount())
	}
	if got := e.metrics.authMissing.Load(); got != 2 {
		t.Errorf("expected 2 skipped polls, got %d", got)
	}
}

func TestPoll_PriorityFollowsMusic(t *testing.T) {
	e, polling, sw, pub := newSpotifyEngine(t, "priority_mode: true\npriority_duration_seconds: 45\n")
	ctx := context.Background()

	polling.set(playing("Song1", 0), nil)
	e.pollOnce(ctx)

	req, rel := sw.counts()
	if req != 1 || rel != 0 {
		t.Fatalf("expected 1 request and 0 relinquish after start, got %d/%d", req, rel)
	}
	if sw.lastMode != "now_playing" || sw.lastTimeout != 45*time.Second {
		t.Errorf("unexpected priority request: mode=%s duration=%v", sw.lastMode, sw.lastTimeout)
	}

	polling.set(playing("Song1", 4000), nil)
	e.pollOnce(ctx)
	if req, _ := sw.counts(); req != 1 {
		t.Errorf("progress update must not re-request priority, got %d requests", req)
	}

	polling.set(nil, nil)
	e.pollOnce(ctx)
	if _, rel := sw.counts(); rel != 1 {
		t.Errorf("expected relinquish when music stops, got %d", rel)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.msgs) != 2 {
		t.Fatalf("expected 2 state messages (start, stop), got %d", len(pub.msgs))
	}
	if pub.msgs[0].Title != "Song1" || pub.msgs[0].UpdateID == "" {
		t.Errorf("unexpected first message: %+v", pub.msgs[0])
	}
	if pub.msgs[1].Title != types.NothingPlayingTitle || pub.msgs[1].IsPlaying {
		t.Errorf("unexpected stop message: %+v", pub.msgs[1])
	}
	t.Logf("✅ Priority requested on start, released on stop; 2 state messages")
}

func TestPush_IgnoredWhenDisplayInactive(t *testing.T) {
	hybrid := &fakeHybrid{connected: true}
	e := newYTMEngine(t, hybrid, "")

	hybrid.push(ytmState("Song1", source.YTMTrackStatePlaying))

	if _, ok := e.Current(); ok {
		t.Error("push while display inactive must not touch state")
	}
	if got := e.mailbox.Stats().Published; got != 0 {
		t.Errorf("expected empty mailbox, got %d publishes", got)
	}
	if got := e.metrics.pushesIgnored.Load(); got != 1 {
		t.Errorf("expected 1 ignored push, got %d", got)
	}
}

func TestPush_IgnoredWhenNotPreferred(t *testing.T) {
	hybrid := &fakeHybrid{connected: true}
	cfg := newConfig(t, "preferred_source: spotify\n")
	e := New(cfg, Deps{Polling: &fakePolling{auth: true}, Hybrid: hybrid, Canvas: &nullCanvas{}})
	e.ActivateDisplay()

	hybrid.push(ytmState("Song1", source.YTMTrackStatePlaying))

	if _, ok := e.Current(); ok {
		t.Error("push from a non-preferred source must not touch state")
	}
}

func TestPush_AlwaysPublishesToMailbox(t *testing.T) {
	hybrid := &fakeHybrid{connected: true}
	e := newYTMEngine(t, hybrid, "")

	e.ActivateDisplay()
	waitFor(t, "activation sync", func() bool { return !e.syncInFlight.Load() })

	st := ytmState("Song1", source.YTMTrackStatePlaying)
	hybrid.push(st)
	hybrid.push(st)

	stats := e.mailbox.Stats()
	if stats.Published != 2 || stats.Drops != 1 {
		t.Errorf("expected 2 publishes with 1 overwrite, got %+v", stats)
	}

	info, ok := e.mailbox.TryTake()
	if !ok || info.Title != "Song1" || !info.IsPlaying {
		t.Errorf("unexpected mailbox value: %+v (ok=%v)", info, ok)
	}
	if !e.store.TakeRefresh() {
		t.Error("first push should have requested a full refresh")
	}
	t.Logf("✅ Unchanged push still refreshes the mailbox")
}

func TestPush_PausedKeepsMetadata(t *testing.T) {
	hybrid := &fakeHybrid{connected: true}
	e := newYTMEngine(t, hybrid, "")
	e.ActivateDisplay()
	waitFor(t, "activation sync", func() bool { return !e.syncInFlight.Load() })

	hybrid.push(ytmState("Song1", source.YTMTrackStateBuffering))

	cur, ok := e.Current()
	if !ok || cur.Title != "Song1" || cur.IsPlaying {
		t.Errorf("expected Song1 not playing, got %+v", cur)
	}
}

func TestActivateDisplay_ConnectsAndSyncs(t *testing.T) {
	hybrid := &fakeHybrid{state: ytmState("Song1", source.YTMTrackStatePlaying)}
	e := newYTMEngine(t, hybrid, "")

	e.ActivateDisplay()
	waitFor(t, "activation sync", func() bool {
		_, ok := e.Current()
		return ok && !e.syncInFlight.Load()
	})

	if !hybrid.IsConnected() {
		t.Error("expected hybrid source to be connected after activation")
	}
	if got := e.mailbox.Stats().Published; got != 1 {
		t.Errorf("activation sync should publish to the mailbox, got %d", got)
	}

	e.DeactivateDisplay()
	if e.IsDisplayActive() {
		t.Error("expected display inactive")
	}
	if hybrid.IsConnected() || hybrid.disconnects != 1 {
		t.Errorf("expected one disconnect, got %d", hybrid.disconnects)
	}
}

func TestPollHybrid_ReconnectFailureForcesNothingPlaying(t *testing.T) {
	hybrid := &fakeHybrid{connected: true}
	e := newYTMEngine(t, hybrid, "")
	e.displayActive.Store(true)

	e.ingest(types.TrackInfo{
		Source:    types.SourceYTM,
		Title:     "Song1",
		Artist:    "Author",
		IsPlaying: true,
	}, originPush)

	hybrid.mu.Lock()
	hybrid.connected = false
	hybrid.connectErr = errors.New("connection refused")
	hybrid.mu.Unlock()

	e.pollOnce(context.Background())

	cur, _ := e.Current()
	if !cur.IsNothingPlaying() {
		t.Errorf("expected nothing playing after failed reconnect, got %+v", cur)
	}
	if e.store.Source() != types.SourceNone {
		t.Errorf("expected source none, got %s", e.store.Source())
	}

	// backoff: the next tick must not try again immediately
	e.pollOnce(context.Background())
	if hybrid.connects != 1 {
		t.Errorf("expected 1 connect attempt within the backoff window, got %d", hybrid.connects)
	}
	t.Logf("✅ Reconnect failure forced the sentinel and armed the backoff")
}

func TestPollHybrid_ConnectedPollsCachedState(t *testing.T) {
	hybrid := &fakeHybrid{connected: true, state: ytmState("Song1", source.YTMTrackStatePlaying)}
	e := newYTMEngine(t, hybrid, "")

	e.pollOnce(context.Background())

	cur, ok := e.Current()
	if !ok || cur.Title != "Song1" || cur.Source != types.SourceYTM {
		t.Errorf("expected Song1 from ytm, got %+v", cur)
	}
	if got := e.mailbox.Stats().Published; got != 0 {
		t.Errorf("hybrid polling must not publish to the mailbox, got %d", got)
	}
}

func TestStartShutdown_StopsWithinInterval(t *testing.T) {
	e, polling, _, _ := newSpotifyEngine(t, "")
	polling.set(playing("Song1", 0), nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "first poll", func() bool { return polling.callCount() >= 1 })

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > e.cfg.PollingInterval()+pollJoinGrace {
		t.Errorf("shutdown took %v", elapsed)
	}

	calls := polling.callCount()
	time.Sleep(1200 * time.Millisecond)
	if polling.callCount() != calls {
		t.Error("poll loop kept running after shutdown")
	}
	if e.Running() {
		t.Error("expected engine not running")
	}
	if err := e.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown should be a no-op, got %v", err)
	}
	t.Logf("✅ Poll loop stopped in %v", time.Since(start))
}

func TestShutdown_IgnoresLatePushes(t *testing.T) {
	hybrid := &fakeHybrid{connected: true}
	e := newYTMEngine(t, hybrid, "")
	e.displayActive.Store(true)

	if err := e.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	hybrid.push(ytmState("Song1", source.YTMTrackStatePlaying))

	if got := e.metrics.pushes.Load(); got != 0 {
		t.Errorf("expected pushes after shutdown to be dropped, got %d", got)
	}
	if hybrid.disconnects != 1 {
		t.Errorf("expected hybrid disconnect on shutdown, got %d", hybrid.disconnects)
	}
	if hybrid.shutdowns != 1 {
		t.Errorf("expected hybrid client shut down, got %d", hybrid.shutdowns)
	}
}

// TestShutdown_AbortsJoinedActivationConnect covers a poll that joined the
// activation connect: shutdown must not wait out the activation timeout
func TestShutdown_AbortsJoinedActivationConnect(t *testing.T) {
	hybrid := &fakeHybrid{block: true}
	e := newYTMEngine(t, hybrid, "")

	e.ActivateDisplay()
	waitFor(t, "activation connect", func() bool { return hybrid.connectCount() == 1 })

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "first poll", func() bool { return e.metrics.polls.Load() >= 1 })
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	if err := e.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("shutdown took %v", elapsed)
	}
	if got := hybrid.connectCount(); got != 1 {
		t.Errorf("expected the poll to join the activation connect, got %d connects", got)
	}
	t.Logf("✅ Shutdown aborted the shared connect in %v", time.Since(start))
}

func TestRender_NothingPlayingDrawnOnce(t *testing.T) {
	canvas := &nullCanvas{}
	cfg := newConfig(t, "preferred_source: spotify\n")
	e := New(cfg, Deps{Polling: &fakePolling{auth: true}, Canvas: canvas})

	e.Render(false)
	e.Render(false)
	e.Render(false)

	if canvas.presents != 1 {
		t.Errorf("expected nothing-playing screen presented once, got %d", canvas.presents)
	}
	if !e.IsDisplayActive() {
		t.Error("render should activate the display")
	}
}

// TestRender_ForcedNothingPlayingBeatsPendingPush covers a pushed value left in
// the mailbox when the sentinel is forced by a failed reconnect
func TestRender_ForcedNothingPlayingBeatsPendingPush(t *testing.T) {
	hybrid := &fakeHybrid{connected: true}
	canvas := &textCanvas{}
	cfg := newConfig(t, "preferred_source: ytm\n")
	e := New(cfg, Deps{Hybrid: hybrid, Canvas: canvas})
	e.displayActive.Store(true)

	hybrid.push(ytmState("Song A", source.YTMTrackStatePlaying))
	e.Render(false)
	if got := canvas.drawn(); len(got) == 0 || got[0] != "Song A" {
		t.Fatalf("expected Song A drawn, got %q", got)
	}

	progressed := ytmState("Song A", source.YTMTrackStatePlaying)
	elapsed := 30.0
	progressed.Player.VideoProgress = &elapsed
	hybrid.push(progressed)

	e.forceNothingPlaying(types.SourceYTM, originReconnectFail)
	e.Render(false)

	got := canvas.drawn()
	if len(got) != 1 || got[0] != types.NothingPlayingTitle {
		t.Errorf("expected only the nothing playing screen, got %q", got)
	}
	if st := e.mailbox.Stats(); st.Discarded != 1 || st.Pending {
		t.Errorf("expected the pending push to be discarded, got %+v", st)
	}
	t.Logf("✅ Forced sentinel discarded the pending push")
}

// TestDeactivateDisplay_HoldsRenderUntilActivated checks that the render ticker
// cannot undo an explicit deactivation
func TestDeactivateDisplay_HoldsRenderUntilActivated(t *testing.T) {
	hybrid := &fakeHybrid{connected: true}
	canvas := &nullCanvas{}
	sw := &fakeSwitcher{}
	cfg := newConfig(t, "preferred_source: ytm\npriority_mode: true\n")
	e := New(cfg, Deps{Hybrid: hybrid, Canvas: canvas, Switcher: sw})

	e.ActivateDisplay()
	waitFor(t, "activation sync", func() bool { return !e.syncInFlight.Load() })
	e.DeactivateDisplay()

	presents := canvas.presents
	requests, _ := sw.counts()
	connects := hybrid.connectCount()

	e.Render(false)
	e.Render(false)

	if e.IsDisplayActive() {
		t.Error("render must not re-activate a deactivated display")
	}
	if canvas.presents != presents {
		t.Errorf("expected no frames while deactivated, got %d new", canvas.presents-presents)
	}
	if got, _ := sw.counts(); got != requests {
		t.Errorf("expected no priority requests while deactivated, got %d new", got-requests)
	}
	if hybrid.connectCount() != connects || hybrid.IsConnected() {
		t.Errorf("expected hybrid source to stay disconnected, got %d new connects", hybrid.connectCount()-connects)
	}

	e.ActivateDisplay()
	waitFor(t, "activation sync", func() bool { return !e.syncInFlight.Load() })
	e.Render(false)
	if canvas.presents == presents {
		t.Error("expected render to resume after activate_display")
	}
	t.Logf("✅ Render held from deactivate until activate")
}

func TestSnapshot_IncludesCollaboratorStats(t *testing.T) {
	pub := &statsPublisher{}
	cfg := newConfig(t, "preferred_source: spotify\n")
	polling := &fakePolling{auth: true}
	e := New(cfg, Deps{Polling: polling, Canvas: &nullCanvas{}, Publisher: pub})

	polling.set(playing("Song1", 0), nil)
	e.pollOnce(context.Background())

	snap := e.Snapshot()
	if snap.Emitter == nil || !snap.Emitter.Connected || snap.Emitter.Published["nowplaying/state"] != 1 {
		t.Fatalf("expected emitter stats in snapshot, got %+v", snap.Emitter)
	}
	if snap.Hybrid != nil || snap.Artwork != nil {
		t.Errorf("expected no stats from absent collaborators, got %+v / %+v", snap.Hybrid, snap.Artwork)
	}

	rec := httptest.NewRecorder()
	e.MetricsHandler(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`nowplaying_mqtt_connected{instance="nowplaying"} 1`,
		`nowplaying_mqtt_published_total{instance="nowplaying",topic="nowplaying/state"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics, got:\n%s", want, body)
		}
	}
	t.Logf("✅ Emitter stats reach the snapshot and /metrics")
}

func TestHealthHandlers(t *testing.T) {
	e, polling, _, _ := newSpotifyEngine(t, "")
	polling.set(playing("Song1", 0), nil)

	rec := httptest.NewRecorder()
	e.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before start, got %d", rec.Code)
	}

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer e.Shutdown(context.Background())
	waitFor(t, "first poll", func() bool { _, ok := e.Current(); return ok })

	rec = httptest.NewRecorder()
	e.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 after start, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.NowPlayingHandler(rec, httptest.NewRequest(http.MethodGet, "/nowplaying", nil))
	if !strings.Contains(rec.Body.String(), `"title":"Song1"`) {
		t.Errorf("expected track in snapshot, got %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	e.MetricsHandler(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `nowplaying_polls_total{instance="nowplaying"}`) {
		t.Errorf("expected polls counter, got:\n%s", rec.Body.String())
	}

	status := e.StatusMap()
	if status["instance_id"] != "nowplaying" {
		t.Errorf("expected instance_id in status map, got %v", status["instance_id"])
	}
}
