package stats

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatsProvider records runtime counters for the chat hub and its
// notification side effects.
type StatsProvider interface {
	ConnectionOpened()
	ConnectionClosed()
	MessageStored(sender string)
	EventHandled(event string, code int, elapsed time.Duration)
	PushSent(audience string)
	PushFailed(audience, reason string)
	SubscriptionPruned(audience string)
	TelegramRelayed(result string)
}

// Discard drops every observation.
var Discard StatsProvider = (*Metrics)(nil)

const (
	SenderUser     = "user"
	SenderAdmin    = "admin"
	SenderTelegram = "telegram"

	AudienceUser  = "user"
	AudienceAdmin = "admin"
)

type Metrics struct {
	registry       *prometheus.Registry
	connections    prometheus.Gauge
	connectTotal   prometheus.Counter
	messages       *prometheus.CounterVec
	events         *prometheus.CounterVec
	eventLatency   *prometheus.HistogramVec
	pushSent       *prometheus.CounterVec
	pushFailed     *prometheus.CounterVec
	pushPruned     *prometheus.CounterVec
	telegramRelays *prometheus.CounterVec
}

// NewMetrics registers the collectors on a private registry so that several
// instances can coexist in tests.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	startTime := time.Now()

	m := &Metrics{
		registry: reg,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "supportchat_connections_active",
			Help: "Current number of open websocket connections.",
		}),
		connectTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "supportchat_connections_total",
			Help: "Total number of websocket connections accepted since start.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "supportchat_messages_total",
			Help: "Messages persisted grouped by sender kind.",
		}, []string{"sender"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "supportchat_events_total",
			Help: "Inbound websocket events grouped by name and response code.",
		}, []string{"event", "code"}),
		eventLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "supportchat_event_latency_seconds",
			Help:    "Latency for handling inbound websocket events.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}, []string{"event"}),
		pushSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "supportchat_push_sent_total",
			Help: "Web push notifications accepted by the push service.",
		}, []string{"audience"}),
		pushFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "supportchat_push_failed_total",
			Help: "Web push deliveries that failed grouped by reason.",
		}, []string{"audience", "reason"}),
		pushPruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "supportchat_push_pruned_total",
			Help: "Expired push subscriptions removed after delivery.",
		}, []string{"audience"}),
		telegramRelays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "supportchat_telegram_relays_total",
			Help: "Messages relayed to or from the Telegram operator chat.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "supportchat_uptime_seconds",
			Help: "Seconds since the process started.",
		}, func() float64 {
			return time.Since(startTime).Seconds()
		}),
		m.connections,
		m.connectTotal,
		m.messages,
		m.events,
		m.eventLatency,
		m.pushSent,
		m.pushFailed,
		m.pushPruned,
		m.telegramRelays,
	)

	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
	m.connectTotal.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) MessageStored(sender string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(sender).Inc()
}

func (m *Metrics) EventHandled(event string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event, codeLabel(code)).Inc()
	m.eventLatency.WithLabelValues(event).Observe(elapsed.Seconds())
}

func (m *Metrics) PushSent(audience string) {
	if m == nil {
		return
	}
	m.pushSent.WithLabelValues(audience).Inc()
}

func (m *Metrics) PushFailed(audience, reason string) {
	if m == nil {
		return
	}
	m.pushFailed.WithLabelValues(audience, reason).Inc()
}

func (m *Metrics) SubscriptionPruned(audience string) {
	if m == nil {
		return
	}
	m.pushPruned.WithLabelValues(audience).Inc()
}

func (m *Metrics) TelegramRelayed(result string) {
	if m == nil {
		return
	}
	m.telegramRelays.WithLabelValues(result).Inc()
}

func codeLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
