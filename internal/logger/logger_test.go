package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandlerForTest(format string, level slog.Level) (*handler, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	lv := new(slog.LevelVar)
	lv.Set(level)
	return &handler{w: buf, level: lv, format: format}, buf
}

func TestJSONHandlerEncodesNestedTimestamp(t *testing.T) {
	h, buf := newHandlerForTest("json", LevelInfo)
	r := slog.Record{Level: LevelInfo, Message: "mounted"}
	require.NoError(t, h.Handle(nil, r))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))

	assert.Equal(t, "INFO", decoded["severity"])
	assert.Equal(t, "mounted", decoded["message"])
	ts, ok := decoded["timestamp"].(map[string]interface{})
	require.True(t, ok, "timestamp must be a nested object")
	assert.Contains(t, ts, "seconds")
	assert.Contains(t, ts, "nanos")
}

func TestTextHandlerFormatsKeyValuePairs(t *testing.T) {
	h, buf := newHandlerForTest("text", LevelWarn)
	r := slog.Record{Level: LevelWarn, Message: "lock contended"}
	require.NoError(t, h.Handle(nil, r))

	line := buf.String()
	assert.True(t, strings.Contains(line, `severity=WARNING`))
	assert.True(t, strings.Contains(line, `message="lock contended"`))
}

func TestHandlerSuppressesBelowLevel(t *testing.T) {
	h, _ := newHandlerForTest("json", LevelWarn)
	assert.False(t, h.Enabled(nil, LevelDebug))
	assert.True(t, h.Enabled(nil, LevelError))
}

func TestSeverityToLevelOffSuppressesEverything(t *testing.T) {
	lv := new(slog.LevelVar)
	setLoggingLevel("OFF", lv)
	h := &handler{level: lv, format: "json"}
	assert.False(t, h.Enabled(nil, LevelError))
}

func TestSeverityToLevelUnknownDefaultsToInfo(t *testing.T) {
	assert.Equal(t, slog.Level(LevelInfo), severityToLevel("bogus"))
}
