// Package logger is mongofuse's structured logger: a small slog wrapper
// with the teacher's severity vocabulary (TRACE, DEBUG, INFO, WARNING,
// ERROR, OFF), JSON or text output, and lumberjack-backed file rotation.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mongofuse/mongofuse/cfg"
)

// Custom severity levels, spaced the way the teacher spaces theirs so a
// TRACE message sorts below DEBUG and OFF sorts above ERROR.
const (
	LevelTrace = slog.LevelDebug - 4
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.LevelError + 4
)

var severityNames = map[slog.Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARNING",
	LevelError: "ERROR",
}

type loggerFactory struct {
	level  slog.Level
	format string
	prefix string

	file            *lumberjack.Logger
	sysWriter       io.Writer
	logRotateConfig cfg.LogRotateLoggingConfig
}

var (
	programLevel         = new(slog.LevelVar)
	defaultLoggerFactory = &loggerFactory{level: LevelInfo, format: "json", sysWriter: os.Stderr}
	defaultLogger        = slog.New(defaultLoggerFactory.createJSONOrTextHandler(os.Stderr, programLevel, ""))
)

// Init builds the package-wide logger from a resolved configuration. It
// opens the configured log file (if any) through lumberjack for
// rotation, and otherwise logs to stderr.
func Init(c cfg.LoggingConfig) error {
	setLoggingLevel(c.Severity, programLevel)

	var w io.Writer = os.Stderr
	var lj *lumberjack.Logger
	if c.FilePath != "" {
		lj = &lumberjack.Logger{
			Filename:   c.FilePath,
			MaxSize:    c.LogRotate.MaxFileSizeMb,
			MaxBackups: c.LogRotate.BackupFileCount,
			Compress:   c.LogRotate.Compress,
		}
		w = lj
	}

	format := c.Format
	if format == "" {
		format = "json"
	}

	defaultLoggerFactory = &loggerFactory{
		level:           programLevel.Level(),
		format:          format,
		file:            lj,
		logRotateConfig: c.LogRotate,
	}

	defaultLogger = slog.New(defaultLoggerFactory.createJSONOrTextHandler(w, programLevel, ""))
	return nil
}

// SetSeverity changes the default logger's level in place, letting a
// running mount pick up a new logging.severity without remounting.
func SetSeverity(severity string) {
	setLoggingLevel(severity, programLevel)
	defaultLoggerFactory.level = programLevel.Level()
}

func severityToLevel(severity string) slog.Level {
	switch severity {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "OFF":
		return LevelOff
	default:
		return LevelInfo
	}
}

func setLoggingLevel(severity string, lv *slog.LevelVar) {
	lv.Set(severityToLevel(severity))
}

// SetLogFormat switches the default logger between "json" and "text"
// output without otherwise disturbing its level or destination.
func SetLogFormat(format string) {
	if format == "" {
		format = "json"
	}
	defaultLoggerFactory.format = format
	var w io.Writer = os.Stderr
	if defaultLoggerFactory.file != nil {
		w = defaultLoggerFactory.file
	}
	defaultLogger = slog.New(defaultLoggerFactory.createJSONOrTextHandler(w, programLevel, defaultLoggerFactory.prefix))
}

// handler renders exactly the two wire formats the teacher's tests pin:
// `time="..." severity=X message="prefix: msg"` for text, and
// `{"timestamp":{"seconds":N,"nanos":N},"severity":"X","message":"prefix: msg"}`
// for json.
type handler struct {
	w      io.Writer
	level  *slog.LevelVar
	format string
	prefix string
}

func (f *loggerFactory) createJSONOrTextHandler(w io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	return &handler{w: w, level: level, format: f.format, prefix: prefix}
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	severity := severityNames[r.Level]
	if severity == "" {
		severity = r.Level.String()
	}
	msg := r.Message
	if h.prefix != "" {
		msg = h.prefix + msg
	}

	var line string
	switch h.format {
	case "text":
		line = fmt.Sprintf("time=%q severity=%s message=%q\n", r.Time.Format("2006/01/02 15:04:05.000000"), severity, msg)
	default:
		line = fmt.Sprintf(`{"timestamp":{"seconds":%d,"nanos":%d},"severity":%q,"message":%q}`+"\n",
			r.Time.Unix(), r.Time.Nanosecond(), severity, msg)
	}
	_, err := io.WriteString(h.w, line)
	return err
}

func (h *handler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *handler) WithGroup(_ string) slog.Handler       { return h }

func log(level slog.Level, format string, args ...interface{}) {
	if !defaultLogger.Enabled(context.Background(), level) {
		return
	}
	defaultLogger.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func Tracef(format string, args ...interface{}) { log(LevelTrace, format, args...) }
func Debugf(format string, args ...interface{}) { log(LevelDebug, format, args...) }
func Infof(format string, args ...interface{})  { log(LevelInfo, format, args...) }
func Warnf(format string, args ...interface{})  { log(LevelWarn, format, args...) }
func Errorf(format string, args ...interface{}) { log(LevelError, format, args...) }
