package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "info", "json")

	l.WithFields(map[string]interface{}{"market": "BTC-PERP"}).Info("position opened", "trader", "T1")
	l.Debug("dropped")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "position opened", line["msg"])
	assert.Equal(t, "BTC-PERP", line["market"])
	assert.Equal(t, "T1", line["trader"])
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "debug", "text")
	l.With("op", "close").Debug("rejected")
	assert.Contains(t, buf.String(), "op=close")
	assert.Contains(t, buf.String(), "msg=rejected")
}
