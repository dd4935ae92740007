package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	logger := WithComponent("client")
	logger.Info().Str("method", "GET").Msg("request sent")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "client", entry["component"])
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "request sent", entry["message"])
	assert.Equal(t, "info", entry["level"])
}

func TestInitLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})
	defer Init(Config{Level: InfoLevel, JSONOutput: true, Output: &bytes.Buffer{}})

	Info("hidden")
	assert.Zero(t, buf.Len())

	Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestContextLoggers(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	logger := WithNotificationID(42)
	logger.Info().Msg("marked read")
	assert.Contains(t, buf.String(), `"notification_id":42`)

	buf.Reset()
	logger = WithUserID(7)
	logger.Info().Msg("logged in")
	assert.Contains(t, buf.String(), `"user_id":7`)
}
