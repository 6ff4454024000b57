// Package logging wraps zerolog for consistent, structured output across
// the pipeline: console-pretty in development, JSON in production, plus
// the three append-only daily streams the pipeline persists to disk.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Config controls how a Logger is constructed.
type Config struct {
	Env     string // "development" -> console writer, otherwise JSON
	Level   string // trace, debug, info, warn, error
	LogDir  string // base directory for the daily log files; "" disables file output
}

// Logger wraps zerolog.Logger with a second "sri" sub-logger for
// wire-protocol events (SOAP requests/responses, state transitions).
type Logger struct {
	zl  zerolog.Logger
	sri zerolog.Logger
}

// New builds a Logger. When cfg.LogDir is set it multiplexes to
// logs/<date>.log (all levels), logs/<date>_errors.log (warn+), and
// logs/<date>_sri.log (SRI wire events only, written via Sri()).
func New(cfg Config) (*Logger, error) {
	zerolog.TimeFieldFormat = time.RFC3339

	var console io.Writer = os.Stdout
	if cfg.Env == "development" {
		console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	writers := []io.Writer{console}
	var errWriter io.Writer
	var sriWriter io.Writer

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, err
		}
		date := time.Now().Format("2006-01-02")
		main, err := openAppend(filepath.Join(cfg.LogDir, date+".log"))
		if err != nil {
			return nil, err
		}
		errFile, err := openAppend(filepath.Join(cfg.LogDir, date+"_errors.log"))
		if err != nil {
			return nil, err
		}
		sriFile, err := openAppend(filepath.Join(cfg.LogDir, date+"_sri.log"))
		if err != nil {
			return nil, err
		}
		writers = append(writers, main)
		errWriter = errFile
		sriWriter = sriFile
	}

	level := parseLevel(cfg.Level)
	if errWriter != nil {
		writers = append(writers, warnAndAboveWriter{w: errWriter})
	}
	base := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()

	sriWriters := writers
	if sriWriter != nil {
		sriWriters = append(append([]io.Writer{}, writers...), sriWriter)
	}
	sriBase := zerolog.New(zerolog.MultiLevelWriter(sriWriters...)).Level(level).With().Timestamp().Logger()

	return &Logger{zl: base, sri: sriBase.With().Str("stream", "sri").Logger()}, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

// warnAndAboveWriter implements zerolog.LevelWriter so MultiLevelWriter
// routes only warn-and-above events into the errors stream.
type warnAndAboveWriter struct {
	w io.Writer
}

func (w warnAndAboveWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

func (w warnAndAboveWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.WarnLevel {
		return len(p), nil
	}
	return w.w.Write(p)
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func (l *Logger) Trace() *zerolog.Event { return l.zl.Trace() }
func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }

// Sri returns the sub-logger used for SOAP wire-protocol events
// (reception/authorization requests and responses, state transitions).
func (l *Logger) Sri() *zerolog.Event { return l.sri.Info() }

// With starts a field-carrying sub-logger, e.g. l.With().Str("claveAcceso", k).Logger().
func (l *Logger) With() zerolog.Context { return l.zl.With() }

// Zerolog exposes the underlying logger for callers that need the raw API.
func (l *Logger) Zerolog() zerolog.Logger { return l.zl }

// Nop returns a Logger that discards everything; useful as a test default.
func Nop() *Logger {
	z := zerolog.Nop()
	return &Logger{zl: z, sri: z}
}
