package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
}

func (l Level) String() string { return levelNames[l] }

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.WarnLevel
	}
}

// ParseLevel maps a level name to a Level. Unknown names yield LevelWarn.
func ParseLevel(s string) (Level, bool) {
	for lvl, name := range levelNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return lvl, true
		}
	}
	return LevelWarn, false
}

// Options controls where log entries go. Stdout is never a sink: it carries
// the plugin protocol.
type Options struct {
	Level  Level
	Writer io.Writer // defaults to os.Stderr
	File   string    // optional rotating file, always written at debug level
	Fields map[string]interface{}
}

type Logger struct {
	z *zap.Logger
}

var (
	mu            sync.Mutex
	defaultLogger *Logger
	atomicLevel   = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	fileSink      *lumberjack.Logger
)

// Init replaces the package logger. It is safe to call more than once.
func Init(opts Options) {
	mu.Lock()
	defer mu.Unlock()

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	atomicLevel.SetLevel(opts.Level.zapLevel())

	cores := []zapcore.Core{
		zapcore.NewCore(encoderFor(w), zapcore.AddSync(w), atomicLevel),
	}

	if fileSink != nil {
		_ = fileSink.Close()
		fileSink = nil
	}
	if opts.File != "" {
		fileSink = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig()),
			zapcore.AddSync(fileSink),
			zapcore.DebugLevel,
		))
	}

	z := zap.New(zapcore.NewTee(cores...))
	if len(opts.Fields) > 0 {
		z = z.With(toZapFields(opts.Fields)...)
	}
	defaultLogger = &Logger{z: z}
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.LevelKey = "lvl"
	cfg.MessageKey = "msg"
	cfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	return cfg
}

// encoderFor picks a console encoder when w is an interactive terminal.
func encoderFor(w io.Writer) zapcore.Encoder {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		cfg := encoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(cfg)
	}
	return zapcore.NewJSONEncoder(encoderConfig())
}

func toZapFields(m map[string]interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(m))
	for k, v := range m {
		if err, ok := v.(error); ok {
			fields = append(fields, zap.NamedError(k, err))
			continue
		}
		fields = append(fields, zap.Any(k, v))
	}
	return fields
}

func current() *Logger {
	mu.Lock()
	l := defaultLogger
	mu.Unlock()
	if l == nil {
		Init(Options{Level: LevelWarn})
		mu.Lock()
		l = defaultLogger
		mu.Unlock()
	}
	return l
}

// WithFields returns a logger that adds fields to every entry.
func WithFields(fields map[string]interface{}) *Logger {
	l := current()
	if len(fields) == 0 {
		return l
	}
	return &Logger{z: l.z.With(toZapFields(fields)...)}
}

// Nop returns a logger that discards everything.
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

func (l *Logger) log(lvl Level, msg string, extra map[string]interface{}) {
	if l == nil {
		return
	}
	var fields []zap.Field
	if len(extra) > 0 {
		fields = toZapFields(extra)
	}
	switch lvl {
	case LevelDebug:
		l.z.Debug(msg, fields...)
	case LevelInfo:
		l.z.Info(msg, fields...)
	case LevelWarn:
		l.z.Warn(msg, fields...)
	default:
		l.z.Error(msg, fields...)
	}
}

func (l *Logger) Debug(msg string, extra map[string]interface{}) { l.log(LevelDebug, msg, extra) }
func (l *Logger) Info(msg string, extra map[string]interface{})  { l.log(LevelInfo, msg, extra) }
func (l *Logger) Warn(msg string, extra map[string]interface{})  { l.log(LevelWarn, msg, extra) }
func (l *Logger) Error(msg string, extra map[string]interface{}) { l.log(LevelError, msg, extra) }

// Top-level convenience wrappers
func Debug(msg string, extra map[string]interface{}) { current().Debug(msg, extra) }
func Info(msg string, extra map[string]interface{})  { current().Info(msg, extra) }
func Warn(msg string, extra map[string]interface{})  { current().Warn(msg, extra) }
func Error(msg string, extra map[string]interface{}) { current().Error(msg, extra) }

// Sync flushes buffered entries. Errors from syncing a terminal are ignored.
func Sync() {
	mu.Lock()
	l := defaultLogger
	mu.Unlock()
	if l != nil {
		_ = l.z.Sync()
	}
}
