package stats

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockStatsUpdater struct {
	mock.Mock
}

func (m *MockStatsUpdater) ConnectionOpened() {
	m.Called()
}
func (m *MockStatsUpdater) ConnectionClosed() {
	m.Called()
}
func (m *MockStatsUpdater) MessageStored(sender string) {
	m.Called(sender)
}
func (m *MockStatsUpdater) EventHandled(event string, code int, elapsed time.Duration) {
	m.Called(event, code, elapsed)
}
func (m *MockStatsUpdater) PushSent(audience string) {
	m.Called(audience)
}
func (m *MockStatsUpdater) PushFailed(audience, reason string) {
	m.Called(audience, reason)
}
func (m *MockStatsUpdater) SubscriptionPruned(audience string) {
	m.Called(audience)
}
func (m *MockStatsUpdater) TelegramRelayed(result string) {
	m.Called(result)
}
