package logger

import (
	"bytes"
	"strings"
	"sync"
)

var (
	testLoggerInstance Logger
	testLoggerOnce     sync.Once
)

// NewTestLogger returns a shared error-level logger for tests
func NewTestLogger() Logger {
	testLoggerOnce.Do(func() {
		var err error
		testLoggerInstance, err = NewLogger(Config{
			Level:     "error",
			Format:    "text",
			Output:    "stderr",
			Component: "test",
			Version:   "test",
		})
		if err != nil {
			panic(err)
		}
	})
	return testLoggerInstance
}

// LogCapture collects log output written by a capture logger.
type LogCapture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write implements io.Writer so the capture can back a slog handler
func (c *LogCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

// Messages returns everything captured so far
func (c *LogCapture) Messages() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

// Contains reports whether the captured output contains substr
func (c *LogCapture) Contains(substr string) bool {
	return strings.Contains(c.Messages(), substr)
}

// Reset clears the captured output
func (c *LogCapture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Reset()
}

// NewCaptureLogger creates a debug-level logger writing into a LogCapture.
//
//	log, capture := logger.NewCaptureLogger()
//	mirror := mirror.New("clusters", log)
//	...
//	assert.True(t, capture.Contains("unexpected insert via modify"))
func NewCaptureLogger() (Logger, *LogCapture) {
	capture := &LogCapture{}
	log, err := NewLogger(Config{
		Level:     "debug",
		Format:    "text",
		Writer:    capture,
		Component: "test",
		Version:   "test",
	})
	if err != nil {
		panic(err)
	}
	return log, capture
}
