package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(&buf, "warn", "json")
	require.NoError(t, err)

	l.Info("hidden")
	l.Warn("shown", "k", 1)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "WARN", rec["level"])
}

func TestNewLoggerText(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(&buf, "DEBUG", "text")
	require.NoError(t, err)
	assert.True(t, l.Enabled(context.Background(), -4))

	l.Debug("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestNewLoggerUnknownFormat(t *testing.T) {
	_, err := newLogger(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)
}

func TestVersionOutput(t *testing.T) {
	var buf bytes.Buffer
	printVersion(&buf)
	out := buf.String()
	assert.Contains(t, out, "markfit version "+version)
	assert.Contains(t, out, "cpu features:")
	assert.NotEmpty(t, cpuFeatures())
}
