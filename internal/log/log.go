package log

import (
	"log/slog"
	"os"

	runtime "github.com/banzaicloud/logrus-runtime-formatter"
	"github.com/bombsimon/logrusr/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/metal-toolbox/rackstab/internal/model"
)

type Level string

const (
	LevelTrace Level = "trace"
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// slog has no trace level, trace maps to debug there.
var levels = map[Level]struct {
	slog   slog.Level
	logrus logrus.Level
}{
	LevelTrace: {slog.LevelDebug, logrus.TraceLevel},
	LevelDebug: {slog.LevelDebug, logrus.DebugLevel},
	LevelInfo:  {slog.LevelInfo, logrus.InfoLevel},
	LevelWarn:  {slog.LevelWarn, logrus.WarnLevel},
	LevelError: {slog.LevelError, logrus.ErrorLevel},
}

// parseLevel returns the level named by str, info when str is empty or
// unknown. The bool is false only for an unknown name.
func parseLevel(str string) (Level, bool) {
	if str == "" {
		return LevelInfo, true
	}

	if _, ok := levels[Level(str)]; !ok {
		return LevelInfo, false
	}

	return Level(str), true
}

var levelVar *slog.LevelVar

// InitLogger will initialize the default logger instance.
func InitLogger() {
	levelVar = &slog.LevelVar{}
	levelVar.Set(slog.LevelInfo)

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar, AddSource: true}))

	slog.SetDefault(logger)
}

// SetLevel will set the logging level of the default logger at runtime.
func SetLevel(loglevel string) {
	if levelVar == nil {
		InitLogger()
	}

	level, ok := parseLevel(loglevel)
	if !ok {
		slog.Warn("Unknown log level, defaulting to info", "loglevel", loglevel)
	}

	levelVar.Set(levels[level].slog)
}

// fieldsHook stamps every entry with fields shared by the whole process.
type fieldsHook logrus.Fields

func (h fieldsHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h fieldsHook) Fire(entry *logrus.Entry) error {
	for k, v := range h {
		if _, ok := entry.Data[k]; !ok {
			entry.Data[k] = v
		}
	}

	return nil
}

// NewLogrusLogger returns the component logger of an agent. Every entry
// carries the app and agent fields.
func NewLogrusLogger(logLevel, agent string) *logrus.Logger {
	logger := logrus.New()

	logger.SetOutput(os.Stdout)

	level, ok := parseLevel(logLevel)
	logger.SetLevel(levels[level].logrus)

	logger.SetFormatter(&runtime.Formatter{
		ChildFormatter: &logrus.JSONFormatter{},
		File:           true,
		Line:           true,
		BaseNameOnly:   true,
	})

	logger.AddHook(fieldsHook{"app": model.AppName, "agent": agent})

	if !ok {
		logger.WithField("logLevel", logLevel).Warn("Unknown log level, defaulting to info")
	}

	return logger
}

// BridgeOtel routes OpenTelemetry's internal logging through logger.
func BridgeOtel(logger *logrus.Logger) {
	otel.SetLogger(logrusr.New(logger))
}
