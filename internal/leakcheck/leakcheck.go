// Package leakcheck fails a test whose goroutines outlive it
package leakcheck

import (
	"runtime"
	"testing"
	"time"
)

// Detector compares the goroutine count at the end of a test with the count
// at its start
type Detector struct {
	tb            testing.TB
	initialCount  int
	allowedGrowth int
	timeout       time.Duration
	pollInterval  time.Duration
}

// New returns a detector reporting to tb. Call Start before the code under
// test runs.
func New(tb testing.TB) *Detector {
	return &Detector{
		tb:           tb,
		timeout:      2 * time.Second,
		pollInterval: 10 * time.Millisecond,
	}
}

// Verify starts a detector and checks it when the test and its other
// cleanups have finished. Call it first in the test.
func Verify(tb testing.TB) {
	d := New(tb)
	d.Start()
	tb.Cleanup(d.Check)
}

// AllowGrowth tolerates n goroutines more than at Start
func (d *Detector) AllowGrowth(n int) *Detector {
	d.allowedGrowth = n
	return d
}

// WithTimeout sets how long Check waits for goroutines to wind down
func (d *Detector) WithTimeout(timeout time.Duration) *Detector {
	d.timeout = timeout
	return d
}

// Start records the initial goroutine count
func (d *Detector) Start() {
	d.initialCount = runtime.NumGoroutine()
}

// Check waits for the goroutine count to fall back to the start count, and
// fails the test with every stack when it does not
func (d *Detector) Check() {
	d.tb.Helper()

	deadline := time.Now().Add(d.timeout)
	count := runtime.NumGoroutine()
	for count-d.initialCount > d.allowedGrowth {
		if time.Now().After(deadline) {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			d.tb.Errorf("goroutine leak: started with %d, ended with %d (allowed growth %d)\n%s",
				d.initialCount, count, d.allowedGrowth, buf[:n])
			return
		}
		time.Sleep(d.pollInterval)
		count = runtime.NumGoroutine()
	}
}
