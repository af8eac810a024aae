package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := &logger{out: &buf, minLevel: warnLevel, format: logFormatText}

	l.logf(infoLevel, "event=skip")
	l.logf(errorLevel, "event=keep id=%d", 7)

	out := buf.String()
	assert.NotContains(t, out, "event=skip")
	assert.Contains(t, out, "ERROR")
	assert.Contains(t, out, "event=keep id=7")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := &logger{out: &buf, minLevel: debugLevel, format: logFormatJSON}

	l.logf(infoLevel, "event=payment_transition status=ok")

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &payload))
	assert.Equal(t, "INFO", payload["level"])
	assert.Equal(t, "event=payment_transition status=ok", payload["message"])
	assert.NotEmpty(t, payload["timestamp"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, debugLevel, parseLevel("DEBUG"))
	assert.Equal(t, warnLevel, parseLevel("warning"))
	assert.Equal(t, errorLevel, parseLevel(" error "))
	assert.Equal(t, infoLevel, parseLevel(""))
}
