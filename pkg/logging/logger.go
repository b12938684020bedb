package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger provides structured debug logging for quickbar components.
// All logs are written as JSON lines to a session-specific file in
// ~/.quickbar/logs/, rotated by size.
//
// All log methods (Debugf, Infof, Warnf, Errorf) write unconditionally.
// There is currently no log level filtering.
type Logger struct {
	sessionID string
	component string
	logPath   string
	base      *zap.Logger
	sugar     *zap.SugaredLogger
	rotator   *lumberjack.Logger
	closeOnce sync.Once
}

// Rotation limits for the session log file.
const (
	maxLogSizeMB  = 10
	maxLogBackups = 3
	maxLogAgeDays = 14
)

var (
	// Global session ID for the current execution
	sessionID     string
	sessionIDOnce sync.Once

	// logDir is the directory where log files are stored
	logDir string

	// initOnce ensures directory initialization happens once
	initOnce sync.Once

	// initErr stores any error from directory initialization
	initErr error

	// rotators shares one lumberjack writer per log file across components
	rotators   = make(map[string]*lumberjack.Logger)
	rotatorsMu sync.Mutex
)

// getSessionID returns or creates the session ID for this execution
func getSessionID() string {
	sessionIDOnce.Do(func() {
		sessionID = uuid.New().String()
	})
	return sessionID
}

// initLogDirectory ensures the log directory exists
func initLogDirectory() error {
	initOnce.Do(func() {
		if logDir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				initErr = fmt.Errorf("failed to get home directory: %w", err)
				return
			}
			logDir = filepath.Join(homeDir, ".quickbar", "logs")
		}

		if err := os.MkdirAll(logDir, 0750); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
			return
		}
	})
	return initErr
}

// SetDirectory overrides the log directory. It must be called before the
// first NewLogger call to take effect.
func SetDirectory(dir string) {
	logDir = dir
}

// NewLogger creates a new logger for a specific component.
// The logger writes to ~/.quickbar/logs/<session-id>-quickbar.log
//
// If the log directory cannot be created, it returns a fallback logger
// that writes to stderr along with the error. Callers can check the error
// to detect fallback mode and log warnings.
func NewLogger(component string) (*Logger, error) {
	if err := initLogDirectory(); err != nil {
		return newFallbackLogger(component, err), err
	}

	sessID := getSessionID()
	logPath := filepath.Join(logDir, fmt.Sprintf("%s-quickbar.log", sessID))
	rotator := sharedRotator(logPath)

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.AddSync(rotator),
		zapcore.DebugLevel,
	)
	base := zap.New(core).With(
		zap.String("component", component),
		zap.String("session", sessID),
	)

	return &Logger{
		sessionID: sessID,
		component: component,
		logPath:   logPath,
		base:      base,
		sugar:     base.Sugar(),
		rotator:   rotator,
	}, nil
}

func sharedRotator(path string) *lumberjack.Logger {
	rotatorsMu.Lock()
	defer rotatorsMu.Unlock()

	if r, ok := rotators[path]; ok {
		return r
	}
	r := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogBackups,
		MaxAge:     maxLogAgeDays,
	}
	rotators[path] = r
	return r
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

// newFallbackLogger creates a logger that writes to stderr when file logging fails
func newFallbackLogger(component string, err error) *Logger {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig()),
		zapcore.Lock(os.Stderr),
		zapcore.DebugLevel,
	)
	base := zap.New(core).Named(component)
	base.Warn("failed to initialize file logging, falling back to stderr", zap.Error(err))

	return &Logger{
		sessionID: getSessionID(),
		component: component,
		base:      base,
		sugar:     base.Sugar(),
	}
}

// Printf logs a formatted message at info level
func (l *Logger) Printf(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Debugf logs a debug-level message
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.sugar.Debugf(format, v...)
}

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

// Errorf logs an error-level message
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

// Zap exposes the structured logger for callers that want typed fields.
func (l *Logger) Zap() *zap.Logger {
	return l.base
}

// Writer returns an io.Writer that writes to this logger's destination
func (l *Logger) Writer() io.Writer {
	if l.rotator != nil {
		return l.rotator
	}
	return os.Stderr
}

// SessionID returns the current session ID
func (l *Logger) SessionID() string {
	return l.sessionID
}

// LogPath returns the path to the log file
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close flushes buffered entries. The shared file is closed by Shutdown.
// Safe to call multiple times.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		_ = l.base.Sync()
	})
	return err
}

// Shutdown closes every open log file. Loggers created before Shutdown
// reopen their file on the next write.
func Shutdown() error {
	rotatorsMu.Lock()
	defer rotatorsMu.Unlock()

	var firstErr error
	for path, r := range rotators {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(rotators, path)
	}
	return firstErr
}

// GetSessionID returns the current global session ID
func GetSessionID() string {
	return getSessionID()
}

// GetLogDirectory returns the directory where logs are stored
func GetLogDirectory() (string, error) {
	if err := initLogDirectory(); err != nil {
		return "", err
	}
	return logDir, nil
}
