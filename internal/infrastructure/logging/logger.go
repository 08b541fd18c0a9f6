package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/GriffinCanCode/knnipc/internal/infrastructure/config"
)

// DaemonLogName is the log file a detached daemon keeps in its server root.
const DaemonLogName = "knnd.log"

// Logger wraps zap.Logger so packages share one logger type and the field
// helpers below.
type Logger struct {
	*zap.Logger
}

// New builds a logger from the logging section of the configuration.
//
// A detached daemon has no terminal, so it passes its server root and logs
// to <root>/knnd.log. Everything else passes "" and logs to stderr, leaving
// stdout to the command's own output.
func New(cfg config.LogConfig, root string) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	sink := "stderr"
	if root != "" {
		sink = filepath.Join(root, DaemonLogName)
	}
	out, _, err := zap.Open(sink)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", sink, err)
	}

	opts := []zap.Option{zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr))}
	var enc zapcore.Encoder
	if cfg.Development {
		enc = zapcore.NewConsoleEncoder(consoleEncoding())
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	} else {
		enc = zapcore.NewJSONEncoder(jsonEncoding())
	}
	return &Logger{Logger: zap.New(zapcore.NewCore(enc, out, level), opts...)}, nil
}

// NewNop returns a logger that discards everything. Library constructors
// fall back to it when given a nil logger.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// With returns a child logger carrying fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

// Named returns a child logger with name appended to the logger name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{Logger: l.Logger.Named(name)}
}

// jsonEncoding keeps one object per line in knnd.log so the daemon's
// history can be grepped by session or token.
func jsonEncoding() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	enc.EncodeDuration = zapcore.StringDurationEncoder
	return enc
}

func consoleEncoding() zapcore.EncoderConfig {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	return enc
}

// Session log fields shared by servers and clients.

func Session(id string) zap.Field  { return zap.String("session", id) }
func Token(t uint32) zap.Field     { return zap.Uint32("token", t) }
func Requests(n uint32) zap.Field  { return zap.Uint32("requests", n) }
func State(s string) zap.Field     { return zap.String("state", s) }
func Transport(t string) zap.Field { return zap.String("transport", t) }
