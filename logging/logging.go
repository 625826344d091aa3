// Package logging is the process-wide structured logger. Console output goes
// to stdout unless reports are written there, in which case the CLI moves it
// to stderr with SetConsole.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level logrus.Level

const (
	DebugLevel Level = Level(logrus.DebugLevel)
	InfoLevel  Level = Level(logrus.InfoLevel)
	WarnLevel  Level = Level(logrus.WarnLevel)
	ErrorLevel Level = Level(logrus.ErrorLevel)
	FatalLevel Level = Level(logrus.FatalLevel)
)

// IfaceKey is the field naming the capture interface on every capture and
// dispatcher log line.
const IfaceKey = "iface"

var (
	logger = logrus.New()

	mu      sync.Mutex
	console io.Writer = os.Stdout
	rotated *lumberjack.Logger
)

func init() {
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339Nano,
	})
	logger.SetOutput(console)
}

// ParseLevel maps "debug", "info", "warn" and "error" onto a Level.
func ParseLevel(s string) (Level, error) {
	lvl, err := logrus.ParseLevel(s)
	if err != nil {
		return InfoLevel, err
	}
	return Level(lvl), nil
}

func SetLevel(level Level) {
	logger.SetLevel(logrus.Level(level))
}

// IsDebug reports whether debug messages are currently emitted.
func IsDebug() bool {
	return logger.IsLevelEnabled(logrus.DebugLevel)
}

func SetFormatter(formatter logrus.Formatter) {
	logger.SetFormatter(formatter)
}

// SetOutput replaces every log destination, the rotated file included.
func SetOutput(output io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	rotated = nil
	logger.SetOutput(output)
}

// SetConsole changes the terminal side of the output and keeps file logging
// if it is enabled.
func SetConsole(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	console = w
	apply()
}

func Console() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return console
}

// EnableFileLogging tees the log to a rotated file under logDir.
func EnableFileLogging(logDir, logFile string, maxSize, maxBackups, maxAge int) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()

	rotated = &lumberjack.Logger{
		Filename:   filepath.Join(logDir, logFile),
		MaxSize:    maxSize, // megabytes
		MaxBackups: maxBackups,
		MaxAge:     maxAge, // days
		LocalTime:  true,
		Compress:   true,
	}
	apply()
	return nil
}

func apply() {
	if rotated == nil {
		logger.SetOutput(console)
		return
	}
	logger.SetOutput(io.MultiWriter(console, rotated))
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return logger.WithFields(fields)
}

// Iface returns an entry tagged with the capture interface name.
func Iface(name string) *logrus.Entry {
	return logger.WithField(IfaceKey, name)
}

// IfaceFields returns fields holding the interface name plus the given
// key/value pairs. An odd trailing key is dropped.
func IfaceFields(name string, kv ...interface{}) logrus.Fields {
	fields := logrus.Fields{IfaceKey: name}
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			fields[key] = kv[i+1]
		}
	}
	return fields
}

func Debugf(format string, args ...interface{}) {
	logger.Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	logger.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	logger.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	logger.Errorf(format, args...)
}

// Fatalf logs and exits the process.
func Fatalf(format string, args ...interface{}) {
	logger.Fatalf(format, args...)
}

func DebugWithFields(fields logrus.Fields, format string, args ...interface{}) {
	logger.WithFields(fields).Debugf(format, args...)
}

func InfoWithFields(fields logrus.Fields, format string, args ...interface{}) {
	logger.WithFields(fields).Infof(format, args...)
}

func WarnWithFields(fields logrus.Fields, format string, args ...interface{}) {
	logger.WithFields(fields).Warnf(format, args...)
}

func ErrorWithFields(fields logrus.Fields, format string, args ...interface{}) {
	logger.WithFields(fields).Errorf(format, args...)
}
