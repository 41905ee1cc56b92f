package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/gdmirror/internal/utils"
)

// setupLogging sends logs to stderr and, when logFile is set, to a plain
// text file. The returned func closes the file.
func setupLogging(level slog.Level, logFile string) (func(), error) {
	stderrHandler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:       level,
		TimeFormat:  "2006-01-02T15:04:05.000Z07:00",
		NoColor:     !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: replaceExtraLevels,
	})
	if logFile == "" {
		slog.SetDefault(slog.New(stderrHandler))
		return func() {}, nil
	}

	if err := utils.EnsureParent(logFile); err != nil {
		return nil, fmt.Errorf("log dir: %w", err)
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	fileHandler := newFileHandler(file, level)

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(stderrHandler, fileHandler)))
	return func() { file.Close() }, nil
}

func newFileHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: utils.ReplaceLevelAttr,
	})
}

// replaceExtraLevels names the trace and critical levels and leaves the
// standard ones to tint's coloured rendering.
func replaceExtraLevels(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) > 0 {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && (lvl < slog.LevelDebug || lvl > slog.LevelError) {
		return utils.ReplaceLevelAttr(groups, a)
	}
	return a
}
