//go:build !linux

package observer

import "errors"

// MemoryMetric selects which footprint a ProcSampler reports.
type MemoryMetric string

const (
	MetricRSS MemoryMetric = "rss"
	MetricVMS MemoryMetric = "vms"
)

var errUnsupported = errors.New("memory sampling is only supported on linux")

// ProcSampler is unavailable on this platform; every sample fails, which
// ends the watcher loop with a zero peak.
type ProcSampler struct {
	Metric MemoryMetric
}

func NewProcSampler(metric MemoryMetric) (*ProcSampler, error) {
	return &ProcSampler{Metric: metric}, nil
}

func (s *ProcSampler) Sample(pid int) (int64, error) {
	return 0, errUnsupported
}
