package observer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	appErr "fujudge/pkg/errors"
	"fujudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// DefaultSampleInterval is the polling period of a MemoryWatcher.
const DefaultSampleInterval = 16 * time.Millisecond

// Sampler reports the current memory footprint of a process in bytes.
type Sampler interface {
	Sample(pid int) (int64, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(pid int) (int64, error)

func (f SamplerFunc) Sample(pid int) (int64, error) { return f(pid) }

// MemoryWatcher polls a process in the background and keeps the peak sample.
// Reset must be called before each Start.
type MemoryWatcher struct {
	sampler  Sampler
	interval time.Duration

	peak atomic.Int64

	mu     sync.Mutex
	cancel chan struct{}
	done   chan struct{}
}

// NewMemoryWatcher builds a watcher. A non-positive interval selects DefaultSampleInterval.
func NewMemoryWatcher(sampler Sampler, interval time.Duration) *MemoryWatcher {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &MemoryWatcher{sampler: sampler, interval: interval}
}

// Reset clears the recorded peak.
func (w *MemoryWatcher) Reset() {
	w.peak.Store(0)
}

// Start launches the sampling loop for pid.
func (w *MemoryWatcher) Start(pid int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		select {
		case <-w.done:
		default:
			return appErr.New(appErr.WatcherBusy).WithDetail("pid", pid)
		}
	}
	w.cancel = make(chan struct{})
	w.done = make(chan struct{})
	go w.loop(pid, w.cancel, w.done)
	return nil
}

// Stop signals the loop to exit. With wait set it blocks until the loop has
// returned, so no sample lands after Stop.
func (w *MemoryWatcher) Stop(wait bool) {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	if cancel != nil {
		close(cancel)
		w.cancel = nil
	}
	w.mu.Unlock()
	if wait && done != nil {
		<-done
	}
}

// Running reports whether the sampling loop is still active.
func (w *MemoryWatcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done == nil {
		return false
	}
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// HistoryMax returns the peak sample in bytes.
func (w *MemoryWatcher) HistoryMax() int64 {
	return w.peak.Load()
}

func (w *MemoryWatcher) loop(pid int, cancel <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if !w.sample(pid) {
			return
		}
		select {
		case <-cancel:
			return
		case <-ticker.C:
		}
	}
}

// sample records one reading and reports whether the loop should continue.
// A process that can no longer be read ends the loop silently.
func (w *MemoryWatcher) sample(pid int) bool {
	current, err := w.sampler.Sample(pid)
	if err != nil {
		logger.Debug(context.Background(), "memory sampling stopped",
			zap.Int("pid", pid),
			zap.Int64("peak", w.peak.Load()),
			zap.Error(err),
		)
		return false
	}
	for {
		prev := w.peak.Load()
		if current <= prev || w.peak.CompareAndSwap(prev, current) {
			return true
		}
	}
}
