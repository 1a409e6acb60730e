package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricsNamespace = "nowplaying"

// newRegistry builds the per-engine Prometheus registry: the snapshot
// collector plus the Go runtime and process collectors
func newRegistry(e *Engine) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		newSnapshotCollector(e),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// snapshotCollector reads one Snapshot per scrape and reports it as const
// metrics, so every series of a scrape comes from the same instant
type snapshotCollector struct {
	engine *Engine

	uptime          *prometheus.Desc
	updates         *prometheus.Desc
	artCommitted    *prometheus.Desc
	artDiscarded    *prometheus.Desc
	mailboxPublish  *prometheus.Desc
	mailboxDrops    *prometheus.Desc
	mailboxDiscard  *prometheus.Desc
	renderTicks     *prometheus.Desc
	renderFrames    *prometheus.Desc
	renderRefreshes *prometheus.Desc
	renderArtFetch  *prometheus.Desc
	renderArtFail   *prometheus.Desc
	polls           *prometheus.Desc
	pollErrors      *prometheus.Desc
	authMissing     *prometheus.Desc
	pushes          *prometheus.Desc
	pushesIgnored   *prometheus.Desc
	reconnects      *prometheus.Desc
	reconnectErrors *prometheus.Desc
	emitErrors      *prometheus.Desc
	priorityActive  *prometheus.Desc
	priorityReqs    *prometheus.Desc
	priorityTimeout *prometheus.Desc
	displayActive   *prometheus.Desc

	mqttConnected  *prometheus.Desc
	mqttPublished  *prometheus.Desc
	mqttErrors     *prometheus.Desc
	bridgeReceived *prometheus.Desc
	bridgeDecode   *prometheus.Desc
	bridgeConnects *prometheus.Desc
	bridgeLost     *prometheus.Desc
	artFetches     *prometheus.Desc
	artFailures    *prometheus.Desc
}

func newSnapshotCollector(e *Engine) *snapshotCollector {
	labels := prometheus.Labels{"instance": e.cfg.InstanceID}
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, variable, labels)
	}
	return &snapshotCollector{
		engine: e,

		uptime:          desc("uptime_seconds", "Seconds since the engine started."),
		updates:         desc("updates_total", "Track updates applied to the store, by change kind.", "change"),
		artCommitted:    desc("artwork_committed_total", "Album art images committed to the cache."),
		artDiscarded:    desc("artwork_discarded_total", "Album art images fetched for a track that was no longer current."),
		mailboxPublish:  desc("mailbox_published_total", "Values handed to the render mailbox."),
		mailboxDrops:    desc("mailbox_drops_total", "Mailbox values overwritten before the render loop took them."),
		mailboxDiscard:  desc("mailbox_discarded_total", "Mailbox values dropped because the state moved on without them."),
		renderTicks:     desc("render_ticks_total", "Render ticks."),
		renderFrames:    desc("render_frames_total", "Frames presented to the display."),
		renderRefreshes: desc("render_full_refreshes_total", "Full refreshes performed by the render loop."),
		renderArtFetch:  desc("render_artwork_fetches_total", "Album art fetches started by the render loop."),
		renderArtFail:   desc("render_artwork_failures_total", "Album art fetches that failed in the render loop."),
		polls:           desc("polls_total", "Poll ticks."),
		pollErrors:      desc("poll_errors_total", "Failed polls, by error category.", "category"),
		authMissing:     desc("auth_missing_total", "Polls skipped for missing credentials."),
		pushes:          desc("pushes_total", "Push updates received from the hybrid source."),
		pushesIgnored:   desc("pushes_ignored_total", "Push updates ignored by the engine."),
		reconnects:      desc("reconnect_attempts_total", "Hybrid source connect attempts."),
		reconnectErrors: desc("reconnect_errors_total", "Failed hybrid source connect attempts."),
		emitErrors:      desc("emit_errors_total", "State messages that failed to publish."),
		priorityActive:  desc("priority_active", "1 while the display priority is held."),
		priorityReqs:    desc("priority_requests_total", "Display priority requests."),
		priorityTimeout: desc("priority_timeouts_total", "Display priority holds that timed out."),
		displayActive:   desc("display_active", "1 while this engine owns the display."),

		mqttConnected:  desc("mqtt_connected", "1 while the state emitter is connected to its broker."),
		mqttPublished:  desc("mqtt_published_total", "Messages published by the state emitter, by topic.", "topic"),
		mqttErrors:     desc("mqtt_errors_total", "State emitter publish errors."),
		bridgeReceived: desc("bridge_messages_total", "State documents received from the ytm bridge."),
		bridgeDecode:   desc("bridge_decode_errors_total", "Invalid state documents from the ytm bridge."),
		bridgeConnects: desc("bridge_connects_total", "Successful connections to the ytm bridge."),
		bridgeLost:     desc("bridge_connection_lost_total", "Connections to the ytm bridge lost."),
		artFetches:     desc("artwork_fetches_total", "HTTP album art downloads."),
		artFailures:    desc("artwork_failures_total", "Failed HTTP album art downloads."),
	}
}

// Describe implements prometheus.Collector. Every descriptor is sent, since
// labelled series such as per-topic counts may not exist yet.
func (c *snapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.uptime, c.updates, c.artCommitted, c.artDiscarded,
		c.mailboxPublish, c.mailboxDrops, c.mailboxDiscard,
		c.renderTicks, c.renderFrames, c.renderRefreshes, c.renderArtFetch, c.renderArtFail,
		c.polls, c.pollErrors, c.authMissing, c.pushes, c.pushesIgnored,
		c.reconnects, c.reconnectErrors, c.emitErrors,
		c.priorityActive, c.priorityReqs, c.priorityTimeout, c.displayActive,
		c.mqttConnected, c.mqttPublished, c.mqttErrors,
		c.bridgeReceived, c.bridgeDecode, c.bridgeConnects, c.bridgeLost,
		c.artFetches, c.artFailures,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector
func (c *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.engine.Snapshot()

	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	gauge(c.uptime, float64(snap.Health.UptimeSeconds))
	gauge(c.displayActive, boolValue(snap.Health.DisplayActive))
	for kind, n := range snap.Store.Updates {
		counter(c.updates, n, kind)
	}
	counter(c.artCommitted, snap.Store.ArtCommitted)
	counter(c.artDiscarded, snap.Store.ArtDiscarded)

	counter(c.mailboxPublish, snap.Mailbox.Published)
	counter(c.mailboxDrops, snap.Mailbox.Drops)
	counter(c.mailboxDiscard, snap.Mailbox.Discarded)

	counter(c.renderTicks, snap.Render.Ticks)
	counter(c.renderFrames, snap.Render.FramesPresented)
	counter(c.renderRefreshes, snap.Render.FullRefreshes)
	counter(c.renderArtFetch, snap.Render.ArtFetches)
	counter(c.renderArtFail, snap.Render.ArtFailures)

	counter(c.polls, snap.Polling.Polls)
	for category, n := range snap.Polling.Errors {
		counter(c.pollErrors, n, category)
	}
	counter(c.authMissing, snap.Polling.AuthMissing)
	counter(c.pushes, snap.Polling.Pushes)
	counter(c.pushesIgnored, snap.Polling.PushesIgnored)
	counter(c.reconnects, snap.Polling.Reconnects)
	counter(c.reconnectErrors, snap.Polling.ReconnectErrors)
	counter(c.emitErrors, snap.Polling.EmitErrors)

	gauge(c.priorityActive, boolValue(snap.Priority.Active))
	counter(c.priorityReqs, snap.Priority.Requests)
	counter(c.priorityTimeout, snap.Priority.Timeouts)

	if st := snap.Emitter; st != nil {
		gauge(c.mqttConnected, boolValue(st.Connected))
		for topic, n := range st.Published {
			counter(c.mqttPublished, n, topic)
		}
		counter(c.mqttErrors, st.Errors)
	}
	if st := snap.Hybrid; st != nil {
		counter(c.bridgeReceived, st.Received)
		counter(c.bridgeDecode, st.DecodeErrors)
		counter(c.bridgeConnects, st.Connects)
		counter(c.bridgeLost, st.Disconnects)
	}
	if st := snap.Artwork; st != nil {
		counter(c.artFetches, st.Fetches)
		counter(c.artFailures, st.Failures)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
