// Package metrics provides Prometheus collectors for the chat client.
// Helpers are no-ops until Init is called, so packages can record
// unconditionally and tests need no registry.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	FramesReceived  prometheus.Counter
	FramesMalformed prometheus.Counter
	StaleEvents     prometheus.Counter
	Connects        prometheus.Counter
	EventsRendered  prometheus.Counter
	EventsBuffered  prometheus.Counter
	HistoryEvicted  prometheus.Counter
	PendingDropped  prometheus.Counter
	Sends           *prometheus.CounterVec
	Moderations     *prometheus.CounterVec

	// Gauges
	UnreadGauge         prometheus.Gauge
	PresenceGauge       *prometheus.GaugeVec
	PersistenceDisabled prometheus.Gauge
)

// Init registers metrics with the default registry (idempotent).
func Init() {
	once.Do(func() {
		FramesReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "combinedchat_frames_received_total", Help: "Frames read from the backend transport"})
		FramesMalformed = promauto.NewCounter(prometheus.CounterOpts{Name: "combinedchat_frames_malformed_total", Help: "Frames dropped because they were not valid JSON events"})
		StaleEvents = promauto.NewCounter(prometheus.CounterOpts{Name: "combinedchat_stale_transport_events_total", Help: "Transport events discarded because they came from a replaced transport"})
		Connects = promauto.NewCounter(prometheus.CounterOpts{Name: "combinedchat_connects_total", Help: "Transports opened"})
		EventsRendered = promauto.NewCounter(prometheus.CounterOpts{Name: "combinedchat_events_rendered_total", Help: "Events appended to the rendered history"})
		EventsBuffered = promauto.NewCounter(prometheus.CounterOpts{Name: "combinedchat_events_buffered_total", Help: "Events held while the feed was paused"})
		HistoryEvicted = promauto.NewCounter(prometheus.CounterOpts{Name: "combinedchat_history_evicted_total", Help: "Events evicted from the rolling history window"})
		PendingDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "combinedchat_pending_dropped_total", Help: "Buffered events dropped on buffer overflow"})
		Sends = promauto.NewCounterVec(prometheus.CounterOpts{Name: "combinedchat_sends_total", Help: "Outgoing chat messages by platform and result"}, []string{"platform", "result"})
		Moderations = promauto.NewCounterVec(prometheus.CounterOpts{Name: "combinedchat_moderations_total", Help: "Moderation requests by action and result"}, []string{"action", "result"})
		UnreadGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "combinedchat_unread", Help: "Events waiting in the paused feed"})
		PresenceGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "combinedchat_connected_channels", Help: "Channels currently joined per platform"}, []string{"platform"})
		PersistenceDisabled = promauto.NewGauge(prometheus.GaugeOpts{Name: "combinedchat_persistence_disabled", Help: "1 when persistence was disabled after a storage failure"})
	})
}

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

func FrameReceived()  { inc(FramesReceived) }
func FrameMalformed() { inc(FramesMalformed) }
func StaleEvent()     { inc(StaleEvents) }
func Connected()      { inc(Connects) }
func Rendered()       { inc(EventsRendered) }
func Buffered()       { inc(EventsBuffered) }
func Evicted()        { inc(HistoryEvicted) }
func Dropped()        { inc(PendingDropped) }

// SendResult records one per-target send outcome.
func SendResult(platform string, ok bool) {
	if Sends != nil {
		Sends.WithLabelValues(platform, result(ok)).Inc()
	}
}

// ModerationResult records one moderation outcome.
func ModerationResult(action string, ok bool) {
	if Moderations != nil {
		Moderations.WithLabelValues(action, result(ok)).Inc()
	}
}

// SetUnread records the current unread count.
func SetUnread(n int) {
	if UnreadGauge != nil {
		UnreadGauge.Set(float64(n))
	}
}

// SetPresence records the joined channel count for platform.
func SetPresence(platform string, n int) {
	if PresenceGauge != nil {
		PresenceGauge.WithLabelValues(platform).Set(float64(n))
	}
}

// SetPersistenceDisabled sets gauge to 1 if disabled else 0.
func SetPersistenceDisabled(disabled bool) {
	if PersistenceDisabled != nil {
		if disabled {
			PersistenceDisabled.Set(1)
		} else {
			PersistenceDisabled.Set(0)
		}
	}
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
