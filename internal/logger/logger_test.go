package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRedactSensitiveKeys(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar()}

	l.Info("request", "access_token", "abc.def.ghi", "path", "/api/events", "dangling")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "[REDACTED]", fields["access_token"])
		assert.Equal(t, "/api/events", fields["path"])
		assert.Equal(t, "(MISSING)", fields["dangling"])
	}
}

func TestDanglingSensitiveKeyStaysSingleEntry(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar()}

	l.Error("failed", "refresh_token")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "failed", entries[0].Message)
		assert.Equal(t, "(MISSING)", entries[0].ContextMap()["refresh_token"])
	}
	assert.Empty(t, logs.FilterMessage("Ignored key without a value.").All())
}

func TestWithKeepsRedaction(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := (&Logger{SugaredLogger: zap.New(core).Sugar()}).With("jwt_secret", "shh")

	l.Warn("loaded")

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "[REDACTED]", fields["jwt_secret"])
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"dev", "production"} {
		l, err := New(mode)
		assert.NoError(t, err)
		assert.NotNil(t, l)
	}
}
