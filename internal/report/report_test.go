package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"blogcrawler/internal/config"
)

func TestBuildLoggerLevels(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "warning", "error"} {
		logger, err := BuildLogger(config.LoggingConfig{Level: level, Structured: true})
		require.NoError(t, err, level)
		require.NotNil(t, logger)
	}
	_, err := BuildLogger(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestZapReporterFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	rep := NewZap(zap.New(core))

	rep.Warn("fetch failed", "url", "http://example.com", "attempt", 2)
	rep.Debug("cache hit")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "fetch failed", entries[0].Message)
	assert.Equal(t, "http://example.com", entries[0].ContextMap()["url"])
	assert.EqualValues(t, 2, entries[0].ContextMap()["attempt"])
}

func TestRecorder(t *testing.T) {
	var rec Recorder
	rec.Info("one", "k", "v")
	rec.Warn("two")
	Nop().Error("ignored")

	assert.Equal(t, []string{"one", "two"}, rec.Messages(""))
	assert.Equal(t, []string{"two"}, rec.Messages("warn"))
	assert.Equal(t, "v", rec.Entries()[0].Fields["k"])
}
