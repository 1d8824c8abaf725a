package logger

import (
	"io"
	"os"

	"github.com/modfin/henry/mapz"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/unclebandit/supportmail-backend/internal/config"
)

// New builds the root logger from config. When LOG_FILE is set output is
// duplicated into a rotated file.
func New(cfg *config.Config) *logrus.Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if cfg.LogFormat == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		})
	}
	l.SetOutput(out)
	return l
}

// Named returns a copy of l that tags every entry with the component name.
func Named(l *logrus.Logger, name string) *logrus.Logger {
	hooks := mapz.Clone(l.Hooks)

	ll := &logrus.Logger{
		Out:          l.Out,
		Formatter:    l.Formatter,
		Hooks:        hooks,
		Level:        l.Level,
		ExitFunc:     l.ExitFunc,
		ReportCaller: l.ReportCaller,
	}
	ll.AddHook(LoggerWho{Name: name})
	return ll
}

// Discard is a logger for tests.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type LoggerWho struct {
	Name string
}

func (w LoggerWho) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (w LoggerWho) Fire(entry *logrus.Entry) error {
	entry.Data["who"] = w.Name
	return nil
}
