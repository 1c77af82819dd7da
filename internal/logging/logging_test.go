package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tcases := []struct {
		name    string
		level   string
		enabled zapcore.Level
		wantErr bool
	}{
		{name: "info", level: "info", enabled: zapcore.InfoLevel},
		{name: "upper case debug", level: "DEBUG", enabled: zapcore.DebugLevel},
		{name: "invalid level", level: "loud", wantErr: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			logger, err := NewLogger(tc.level)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tc.enabled), "expected level %s to be enabled", tc.enabled)
			assert.False(t, logger.Core().Enabled(tc.enabled-1), "expected level below %s to be disabled", tc.enabled)
		})
	}
}
