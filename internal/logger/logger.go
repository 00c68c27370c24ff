package logger

import (
	"fmt"
	"os"

	"mqttbridge/internal/config"
	"github.com/sirupsen/logrus"
)

type Log struct {
	*logrus.Entry
}

// NewLogger конструктор.
func NewLogger(cfg config.LogConf) (*Log, error) {
	log := logrus.New()

	log.SetOutput(os.Stdout)

	log.Formatter = &logrus.TextFormatter{
		TimestampFormat:  "2006-01-02 15:04:05.0000",
		DisableColors:    false,
		FullTimestamp:    true,
		QuoteEmptyFields: true,
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logger. Error in settings (level: %s): %w", cfg.Level, err)
	}
	log.SetLevel(level)
	log.Debug("set level: ", level)

	return Wrap(log), nil
}

// Wrap adapts an existing logrus logger, e.g. one built by logrus/hooks/test.
func Wrap(l *logrus.Logger) *Log {
	return &Log{Entry: logrus.NewEntry(l)}
}

// With will add the fields to the formatted log entry.
func (l *Log) With(fields Fields) *Log {
	return &Log{Entry: l.WithFields(logrus.Fields(fields))}
}

func (l *Log) GetLevel() string {
	return l.Logger.Level.String()
}

// Fields are a representation of formatted log fields.
type Fields map[string]interface{}

// Logger интерфейс для регистратора.
type Logger interface {
	// GetLevel возвращает текущий установленный уровень логирования.
	GetLevel() string
	With(fields Fields) *Log
}

// Printer satisfies paho's logger interface so its internal ERROR/WARN/DEBUG
// streams end up in logrus instead of the standard log package.
type Printer struct {
	entry *logrus.Entry
	level logrus.Level
}

// NewPrinter returns a Printer that writes at the given level.
func NewPrinter(l *Log, level logrus.Level) Printer {
	return Printer{entry: l.Entry, level: level}
}

func (p Printer) Println(v ...interface{}) {
	p.entry.Logln(p.level, v...)
}

func (p Printer) Printf(format string, v ...interface{}) {
	p.entry.Logf(p.level, format, v...)
}
