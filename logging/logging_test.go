package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	original := logger.Out
	originalLevel := logger.GetLevel()
	logger.SetOutput(&buf)
	t.Cleanup(func() {
		logger.SetOutput(original)
		logger.SetLevel(originalLevel)
	})
	return &buf
}

func TestSetLevel(t *testing.T) {
	buf := captureOutput(t)

	SetLevel(InfoLevel)
	Debugf("hidden")
	assert.Empty(t, buf.String())
	assert.False(t, IsDebug())

	Infof("visible %d", 1)
	assert.Contains(t, buf.String(), "visible 1")

	buf.Reset()
	SetLevel(DebugLevel)
	assert.True(t, IsDebug())
	Debugf("now shown")
	assert.Contains(t, buf.String(), "now shown")
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, WarnLevel, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestWithFields(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(DebugLevel)

	WarnWithFields(logrus.Fields{"iface": "eth0", "port": 443}, "unattributed traffic")

	out := buf.String()
	assert.Contains(t, out, "unattributed traffic")
	assert.Contains(t, out, "iface=eth0")
	assert.Contains(t, out, "port=443")
}

func resetOutput(t *testing.T) {
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		SetConsole(os.Stdout)
	})
}

func TestFileLogging(t *testing.T) {
	dir := t.TempDir()
	resetOutput(t)

	require.NoError(t, EnableFileLogging(dir, "netwatch.log", 1, 1, 1))
	Infof("file log line")

	content, err := os.ReadFile(filepath.Join(dir, "netwatch.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "file log line")
}

func TestSetConsoleKeepsFile(t *testing.T) {
	dir := t.TempDir()
	resetOutput(t)

	require.NoError(t, EnableFileLogging(dir, "netwatch.log", 1, 1, 1))

	var console bytes.Buffer
	SetConsole(&console)
	Warnf("moved to stderr")

	assert.Contains(t, console.String(), "moved to stderr")
	content, err := os.ReadFile(filepath.Join(dir, "netwatch.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "moved to stderr")

	// SetOutput drops the file again
	console.Reset()
	var only bytes.Buffer
	SetOutput(&only)
	Warnf("after reset")
	assert.Contains(t, only.String(), "after reset")
	assert.Empty(t, console.String())
}

func TestIface(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(InfoLevel)

	Iface("wlan0").Infof("capture started")
	assert.Contains(t, buf.String(), "iface=wlan0")

	buf.Reset()
	InfoWithFields(IfaceFields("eth1", "length", 60, "dangling"), "unknown packet")
	out := buf.String()
	assert.Contains(t, out, "iface=eth1")
	assert.Contains(t, out, "length=60")
	assert.NotContains(t, out, "dangling")
}
