package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var logger = newSimpleLogger()

const (
	logLevelDebug logLevel = iota
	logLevelInfo
	logLevelWarn
	logLevelError
)

var levelNames = []string{
	"DEBUG",
	"INFO",
	"WARN",
	"ERROR",
}

type logLevel int32

func parseLogLevel(s string) (logLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return logLevelDebug, nil
	case "", "info":
		return logLevelInfo, nil
	case "warn", "warning":
		return logLevelWarn, nil
	case "error":
		return logLevelError, nil
	default:
		return logLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

type logEvent struct {
	at    time.Time
	level logLevel
	msg   string
	attrs []any
}

// simpleLogger formats and writes entries on its own goroutine so callers
// holding locks never block on file I/O.
type simpleLogger struct {
	level     atomic.Int32
	queue     chan logEvent
	done      chan struct{}
	writerMu  sync.RWMutex
	out       io.Writer
	errOut    io.Writer
	stdout    bool
	wg        sync.WaitGroup
	stopOnce  sync.Once
	closing   atomic.Bool
	dropCount atomic.Uint64
}

func newSimpleLogger() *simpleLogger {
	l := &simpleLogger{
		queue:  make(chan logEvent, 4096),
		done:   make(chan struct{}),
		out:    os.Stdout,
		errOut: io.Discard,
	}
	l.level.Store(int32(logLevelInfo))
	l.wg.Add(1)
	go l.run()
	return l
}

func (l *simpleLogger) run() {
	defer l.wg.Done()
	for {
		select {
		case evt := <-l.queue:
			l.writeEntry(evt)
		case <-l.done:
			for {
				select {
				case evt := <-l.queue:
					l.writeEntry(evt)
				default:
					return
				}
			}
		}
	}
}

func (l *simpleLogger) log(level logLevel, msg string, attrs ...any) {
	if int32(level) < l.level.Load() || l.closing.Load() {
		return
	}
	evt := logEvent{at: time.Now(), level: level, msg: msg, attrs: append([]any(nil), attrs...)}
	select {
	case l.queue <- evt:
	case <-l.done:
	default:
		// Queue full: debug noise is dropped, everything else waits.
		if level == logLevelDebug {
			l.dropCount.Add(1)
			return
		}
		select {
		case l.queue <- evt:
		case <-l.done:
		}
	}
}

func (l *simpleLogger) Debug(msg string, attrs ...any) {
	l.log(logLevelDebug, msg, attrs...)
}

func (l *simpleLogger) Info(msg string, attrs ...any) {
	l.log(logLevelInfo, msg, attrs...)
}

func (l *simpleLogger) Warn(msg string, attrs ...any) {
	l.log(logLevelWarn, msg, attrs...)
}

func (l *simpleLogger) Error(msg string, attrs ...any) {
	l.log(logLevelError, msg, attrs...)
}

func (l *simpleLogger) setLevel(level logLevel) {
	l.level.Store(int32(level))
}

func (l *simpleLogger) configureWriters(out, errOut io.Writer, stdout bool) {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	l.writerMu.Lock()
	l.out = out
	l.errOut = errOut
	l.stdout = stdout
	l.writerMu.Unlock()
}

// Stop drains queued entries and closes file writers. Entries logged after
// Stop are discarded.
func (l *simpleLogger) Stop() {
	l.stopOnce.Do(func() {
		l.closing.Store(true)
		close(l.done)
		l.wg.Wait()
		l.writerMu.Lock()
		closeWriter(l.out)
		closeWriter(l.errOut)
		l.out = io.Discard
		l.errOut = io.Discard
		l.writerMu.Unlock()
		if n := l.dropCount.Load(); n > 0 {
			fmt.Fprintf(os.Stderr, "logger dropped %d debug entries\n", n)
		}
	})
}

func closeWriter(w io.Writer) {
	if w == os.Stdout || w == os.Stderr {
		return
	}
	if closer, ok := w.(io.Closer); ok {
		_ = closer.Close()
	}
}

func formatEntry(evt logEvent) string {
	levelName := "UNKNOWN"
	if int(evt.level) >= 0 && int(evt.level) < len(levelNames) {
		levelName = levelNames[evt.level]
	}
	var entry strings.Builder
	entry.WriteString(evt.at.UTC().Format(time.RFC3339Nano))
	entry.WriteString(" [")
	entry.WriteString(levelName)
	entry.WriteString("] ")
	entry.WriteString(evt.msg)
	if attrs := formatAttrs(evt.attrs); attrs != "" {
		entry.WriteByte(' ')
		entry.WriteString(attrs)
	}
	entry.WriteByte('\n')
	return entry.String()
}

func (l *simpleLogger) writeEntry(evt logEvent) {
	line := []byte(formatEntry(evt))

	l.writerMu.RLock()
	out := l.out
	errOut := l.errOut
	stdout := l.stdout
	l.writerMu.RUnlock()

	if stdout && out != os.Stdout {
		_, _ = os.Stdout.Write(line)
	}
	_, _ = out.Write(line)
	if evt.level >= logLevelError {
		_, _ = errOut.Write(line)
	}
}

func formatAttrs(attrs []any) string {
	if len(attrs) == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < len(attrs); i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		key := fmt.Sprint(attrs[i])
		if i+1 < len(attrs) {
			value := fmt.Sprint(attrs[i+1])
			if strings.ContainsAny(value, " \t\"") {
				value = fmt.Sprintf("%q", value)
			}
			b.WriteString(key)
			b.WriteByte('=')
			b.WriteString(value)
			i++
		} else {
			b.WriteString(key)
		}
	}
	return b.String()
}

// rollingFileWriter reopens its file when it disappears, so external log
// rotation needs no signal.
type rollingFileWriter struct {
	path string
	mu   sync.Mutex
	f    *os.File
}

func newRollingFileWriter(path string) io.Writer {
	if path == "" {
		return io.Discard
	}
	return &rollingFileWriter{path: path}
}

func (w *rollingFileWriter) ensureFile() error {
	if _, err := os.Stat(w.path); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if w.f != nil {
			_ = w.f.Close()
			w.f = nil
		}
	}
	if w.f == nil {
		f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		w.f = f
	}
	return nil
}

func (w *rollingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureFile(); err != nil {
		return 0, err
	}
	return w.f.Write(p)
}

func (w *rollingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// configureLogging applies the logging section of cfg. With no log file the
// main output stays on stdout.
func configureLogging(cfg Config) error {
	level, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.setLevel(level)

	var out io.Writer = os.Stdout
	stdout := false
	if cfg.LogFile != "" {
		out = newRollingFileWriter(cfg.LogFile)
		stdout = cfg.LogStdout
	}
	logger.configureWriters(out, newRollingFileWriter(cfg.ErrorLogFile), stdout)
	return nil
}

func fatal(msg string, err error, attrs ...any) {
	attrPairs := append(attrs, "error", err)
	logger.Error(msg, attrPairs...)
	logger.Stop()
	os.Exit(1)
}
