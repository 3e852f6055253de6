package goroutine

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureLogger) Errorf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
}

func TestRun_RecoversPanic(t *testing.T) {
	log := &captureLogger{}
	rh := NewRecoveryHandler(log)

	ok := rh.Run(func() { panic("boom") })

	assert.False(t, ok)
	assert.Len(t, log.lines, 1)
	assert.Contains(t, log.lines[0], "boom")
}

func TestSafeGo_RunsFunction(t *testing.T) {
	rh := NewRecoveryHandler(&captureLogger{})
	var wg sync.WaitGroup
	wg.Add(1)
	done := false
	rh.SafeGo(func() {
		defer wg.Done()
		done = true
	})
	wg.Wait()
	assert.True(t, done)
}
