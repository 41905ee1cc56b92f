package utils

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelTrace, ParseLevel("trace"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, LevelCritical, ParseLevel("critical"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestReplaceLevelAttr_NamesExtraLevels(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: LevelTrace, ReplaceAttr: ReplaceLevelAttr})
	logger := slog.New(h)

	logger.Log(context.Background(), LevelTrace, "hello")
	logger.Log(context.Background(), LevelCritical, "boom")

	out := buf.String()
	assert.Contains(t, out, "level=TRACE")
	assert.Contains(t, out, "level=CRIT")
}

func TestMultiLogHandler_FansOut(t *testing.T) {
	var a, b bytes.Buffer
	ha := slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelInfo})
	hb := slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelError})

	logger := slog.New(NewMultiLogHandler(ha, hb))
	logger.Info("only-a")
	logger.Error("both")

	assert.Contains(t, a.String(), "only-a")
	assert.Contains(t, a.String(), "both")
	assert.NotContains(t, b.String(), "only-a")
	assert.Contains(t, b.String(), "both")
}
