package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"Go2NetLogger/internal/config"

	"gopkg.in/natefinch/lumberjack.v2"
)

var debug atomic.Bool

// Setup points the standard logger at stdout and, when a file is configured,
// at a size-rotated copy of the same stream. The returned closer releases the
// rotated file; it is a no-op when logging to stdout only.
func Setup(cfg config.LoggingConfig) (io.Closer, error) {
	log.SetFlags(log.LstdFlags | log.Lshortfile | log.Lmicroseconds)
	debug.Store(strings.EqualFold(cfg.Level, "debug"))

	if cfg.File == "" {
		log.SetOutput(os.Stdout)
		return io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	logWriter := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB, // megabytes
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, logWriter))
	return logWriter, nil
}

// Debugf logs only when the configured level is debug.
func Debugf(format string, args ...any) {
	if debug.Load() {
		log.Output(2, "[DEBUG] "+fmt.Sprintf(format, args...))
	}
}

// SetDebug toggles Debugf output.
func SetDebug(on bool) {
	debug.Store(on)
}
