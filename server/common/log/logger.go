package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

type level int

const (
	debugLevel level = iota
	infoLevel
	warnLevel
	errorLevel
)

const (
	defaultMaxSizeBytes = 20 * 1024 * 1024
	envLogFilePath      = "LOG_FILE_PATH"
	envLogMaxSizeMB     = "LOG_MAX_SIZE_MB"
	envLogFormat        = "LOG_FORMAT"
	envLogLevel         = "LOG_LEVEL"
	logFormatText       = "text"
	logFormatJSON       = "json"
	colorReset          = "\033[0m"
	colorGray           = "\033[90m"
	colorGreen          = "\033[32m"
	colorYellow         = "\033[33m"
	colorRed            = "\033[31m"
)

func (lv level) String() string {
	switch lv {
	case debugLevel:
		return "DEBUG"
	case infoLevel:
		return "INFO"
	case warnLevel:
		return "WARN"
	default:
		return "ERROR"
	}
}

func (lv level) color() string {
	switch lv {
	case debugLevel:
		return colorGray
	case infoLevel:
		return colorGreen
	case warnLevel:
		return colorYellow
	default:
		return colorRed
	}
}

type logger struct {
	mu           sync.Mutex
	out          io.Writer
	colored      bool
	minLevel     level
	format       string
	filePath     string
	maxSizeBytes int64
	file         *os.File
}

var global = newLoggerFromEnv()

func newLoggerFromEnv() *logger {
	maxSizeBytes := int64(defaultMaxSizeBytes)
	if raw := strings.TrimSpace(os.Getenv(envLogMaxSizeMB)); raw != "" {
		if sizeMB, err := strconv.Atoi(raw); err == nil && sizeMB > 0 {
			maxSizeBytes = int64(sizeMB) * 1024 * 1024
		}
	}
	format := strings.ToLower(strings.TrimSpace(os.Getenv(envLogFormat)))
	if format != logFormatJSON {
		format = logFormatText
	}
	return &logger{
		out:          os.Stdout,
		colored:      format == logFormatText,
		minLevel:     parseLevel(os.Getenv(envLogLevel)),
		format:       format,
		filePath:     strings.TrimSpace(os.Getenv(envLogFilePath)),
		maxSizeBytes: maxSizeBytes,
	}
}

func parseLevel(raw string) level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return debugLevel
	case "warn", "warning":
		return warnLevel
	case "error":
		return errorLevel
	default:
		return infoLevel
	}
}

// SetOutput redirects console output and disables colors. Intended for tests
// and for embedding the server in another process.
func SetOutput(w io.Writer) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.out = w
	global.colored = false
}

func SetLevel(raw string) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.minLevel = parseLevel(raw)
}

func Debugf(format string, args ...any) {
	global.logf(debugLevel, format, args...)
}

func Infof(format string, args ...any) {
	global.logf(infoLevel, format, args...)
}

func Warnf(format string, args ...any) {
	global.logf(warnLevel, format, args...)
}

func Errorf(format string, args ...any) {
	global.logf(errorLevel, format, args...)
}

func (l *logger) logf(lv level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lv < l.minLevel {
		return
	}

	line := l.formatLine(time.Now().Format(time.RFC3339Nano), lv, callerFuncName(3), fmt.Sprintf(format, args...))
	if l.colored {
		fmt.Fprintln(l.out, lv.color()+line+colorReset)
	} else {
		fmt.Fprintln(l.out, line)
	}
	if l.filePath != "" {
		l.writeToFile(line + "\n")
	}
}

func (l *logger) formatLine(ts string, lv level, caller, message string) string {
	if l.format == logFormatJSON {
		payload := map[string]string{
			"timestamp": ts,
			"level":     lv.String(),
			"caller":    caller,
			"message":   message,
		}
		if b, err := json.Marshal(payload); err == nil {
			return string(b)
		}
	}
	return fmt.Sprintf("%s %-5s %s %s", ts, lv.String(), caller, message)
}

// writeToFile expects l.mu to be held.
func (l *logger) writeToFile(line string) {
	if err := l.ensureOpen(); err != nil {
		fmt.Fprintf(os.Stderr, "logger open file error: %v\n", err)
		return
	}
	if err := l.rotateIfNeeded(int64(len(line))); err != nil {
		fmt.Fprintf(os.Stderr, "logger rotate error: %v\n", err)
		return
	}
	if _, err := l.file.WriteString(line); err != nil {
		fmt.Fprintf(os.Stderr, "logger write error: %v\n", err)
	}
}

func (l *logger) ensureOpen() error {
	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.filePath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

func (l *logger) rotateIfNeeded(incomingSize int64) error {
	stat, err := l.file.Stat()
	if err != nil {
		return err
	}
	if stat.Size()+incomingSize <= l.maxSizeBytes {
		return nil
	}
	if err := l.file.Close(); err != nil {
		return err
	}
	l.file = nil

	rotated := rotatedPath(l.filePath, time.Now())
	if err := os.Rename(l.filePath, rotated); err != nil {
		return err
	}
	return l.ensureOpen()
}

func rotatedPath(currentPath string, now time.Time) string {
	ext := filepath.Ext(currentPath)
	base := strings.TrimSuffix(currentPath, ext)
	return fmt.Sprintf("%s_%s_%d%s", base, now.Format("20060102_150405"), now.UnixNano()%1000000, ext)
}

func callerFuncName(skip int) string {
	pc, _, _, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown"
	}
	fullName := fn.Name()
	if idx := strings.LastIndex(fullName, "/"); idx >= 0 {
		return fullName[idx+1:]
	}
	return fullName
}
