package stats

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.MessageStored(SenderUser)
	m.MessageStored(SenderUser)
	m.MessageStored(SenderAdmin)
	m.PushSent(AudienceAdmin)
	m.PushFailed(AudienceUser, "gone")
	m.SubscriptionPruned(AudienceUser)
	m.TelegramRelayed("ok")
	m.EventHandled("sendMessage", 200, 5*time.Millisecond)
	m.EventHandled("sendMessage", 423, time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.connections))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.connectTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.messages.WithLabelValues(SenderUser)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.messages.WithLabelValues(SenderAdmin)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.pushSent.WithLabelValues(AudienceAdmin)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.pushFailed.WithLabelValues(AudienceUser, "gone")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.pushPruned.WithLabelValues(AudienceUser)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.telegramRelays.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.events.WithLabelValues("sendMessage", "2xx")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.events.WithLabelValues("sendMessage", "4xx")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.MessageStored(SenderTelegram)
		m.EventHandled("join", 200, time.Second)
		m.PushSent(AudienceUser)
		m.PushFailed(AudienceUser, "error")
		m.SubscriptionPruned(AudienceAdmin)
		m.TelegramRelayed("error")
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.MessageStored(SenderUser)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "supportchat_messages_total")
	assert.Contains(t, rr.Body.String(), "supportchat_uptime_seconds")
}

func Test_codeLabel(t *testing.T) {
	tcases := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{400, "4xx"},
		{423, "4xx"},
		{500, "5xx"},
	}

	for _, tc := range tcases {
		assert.Equal(t, tc.want, codeLabel(tc.code))
	}
}
