package core

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogging installs the default slog logger. When logToFile is set the
// output is duplicated to a rotating log file in the runtime dir, so the
// supervisor's history survives terminal sessions.
func SetupLogging(s *Settings, logToFile bool) {
	level := slog.LevelInfo
	if s.Debug {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stderr
	if logToFile {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   s.LogPath(),
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
		})
	}

	handler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
	})
	slog.SetDefault(slog.New(handler))
}
