package core

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/care/nowplaying/internal/emitter"
	"github.com/care/nowplaying/internal/normalize"
	"github.com/care/nowplaying/internal/source"
	"github.com/care/nowplaying/internal/types"
)

// origin names the path an update arrived on
type origin string

const (
	originPoll          origin = "poll"
	originPush          origin = "push"
	originActivateSync  origin = "activate_sync"
	originActivateEmpty origin = "activate_sync_empty"
	originReconnectSync origin = "reconnect_sync"
	originReconnectFail origin = "reconnect_failed"
)

// toMailbox reports whether updates on this path are handed to the render
// loop's mailbox. Polling never is: the mailbox only carries event-driven data.
func (o origin) toMailbox() bool {
	return o == originPush || o == originActivateSync
}

// fromPoll reports whether the update was produced by the poll loop
func (o origin) fromPoll() bool {
	return o == originPoll || o == originReconnectSync || o == originReconnectFail
}

const logThrottleInterval = 5 * time.Second

// logThrottle keeps info-level track logs to one per title per interval
type logThrottle struct {
	mu    sync.Mutex
	at    time.Time
	title string
}

func (t *logThrottle) allow(title string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if title == t.title && now.Sub(t.at) < logThrottleInterval {
		return false
	}
	t.at = now
	t.title = title
	return true
}

// handlePush is the hybrid source's update handler, called on its delivery goroutine
func (e *Engine) handlePush(st *source.YTMState) {
	if !e.beginTask() {
		return
	}
	defer e.tasks.Done()

	e.metrics.pushes.Add(1)
	switch {
	case !e.enabled:
		e.metrics.pushesIgnored.Add(1)
		return
	case !e.displayActive.Load():
		e.metrics.pushesIgnored.Add(1)
		e.logger.Debug("ignoring push update: display not active")
		return
	case e.preferred != types.SourceYTM:
		e.metrics.pushesIgnored.Add(1)
		e.logger.Debug("ignoring push update: hybrid source not preferred",
			"preferred_source", e.preferred.String())
		return
	}

	e.ingest(normalize.YTM(st), originPush)
}

// ingest is the single normalize-then-apply path shared by polling, push and
// activation. It returns the change classification.
func (e *Engine) ingest(info types.TrackInfo, from origin) types.ChangeKind {
	kind, _ := e.store.Apply(info)
	if from.toMailbox() {
		e.mailbox.Publish(info)
	}
	e.afterApply(info, kind, from)
	return kind
}

// forceNothingPlaying replaces the current track with the sentinel, but only
// while owner is still the attributed source
func (e *Engine) forceNothingPlaying(owner types.Source, from origin) {
	info := types.NothingPlaying()
	kind, applied := e.store.ApplyIfSource(owner, info)
	if !applied {
		return
	}
	e.logger.Info("forcing nothing playing", "owner", owner.String(), "origin", string(from))
	e.afterApply(info, kind, from)
}

func (e *Engine) afterApply(info types.TrackInfo, kind types.ChangeKind, from origin) {
	if kind == types.ChangeNone {
		return
	}
	// A pushed value still pending would be drawn over this change on the
	// next full refresh
	if kind == types.ChangeSignificant && !from.toMailbox() && e.mailbox.Discard() {
		e.logger.Debug("discarded stale mailbox value", "origin", string(from))
	}

	updateID := uuid.NewString()
	if kind == types.ChangeSignificant && e.throttle.allow(info.Title, time.Now()) {
		e.logger.Info("track changed",
			"update_id", updateID,
			"origin", string(from),
			"source", info.Source.String(),
			"title", info.Title,
			"artist", info.Artist,
			"is_playing", info.IsPlaying,
		)
	} else {
		e.logger.Debug("track updated",
			"update_id", updateID,
			"origin", string(from),
			"change", kind.String(),
			"title", info.Title,
			"progress_ms", info.ProgressMS,
		)
	}

	if kind != types.ChangeSignificant {
		return
	}

	switch {
	case info.IsPlaying:
		if e.arbiter.Activate() {
			e.logger.Info("music started playing, priority requested", "update_id", updateID)
		}
	case info.IsNothingPlaying() && from.fromPoll():
		if e.arbiter.Deactivate("music stopped") {
			e.logger.Info("music stopped playing, priority released", "update_id", updateID)
		}
	}

	e.emitState(updateID, info, kind, from)
}

func (e *Engine) emitState(updateID string, info types.TrackInfo, kind types.ChangeKind, from origin) {
	if e.publisher == nil {
		return
	}
	msg := emitter.StateMessage{
		UpdateID:    updateID,
		InstanceID:  e.cfg.InstanceID,
		Change:      kind.String(),
		Origin:      string(from),
		Source:      info.Source.String(),
		Title:       info.Title,
		Artist:      info.Artist,
		Album:       info.Album,
		AlbumArtURL: info.AlbumArtURL,
		DurationMS:  info.DurationMS,
		ProgressMS:  info.ProgressMS,
		IsPlaying:   info.IsPlaying,
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := e.publisher.PublishState(msg); err != nil {
		e.metrics.emitErrors.Add(1)
		e.logger.Warn("failed to publish state", "update_id", updateID, "error", err)
	}
}
