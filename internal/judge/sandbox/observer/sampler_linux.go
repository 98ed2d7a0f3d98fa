//go:build linux

package observer

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// MemoryMetric selects which footprint a ProcSampler reports.
type MemoryMetric string

const (
	MetricRSS MemoryMetric = "rss"
	MetricVMS MemoryMetric = "vms"
)

// ProcSampler reads memory usage from /proc.
type ProcSampler struct {
	Metric MemoryMetric
	fs     procfs.FS
}

// NewProcSampler opens procfs at its default mount point.
func NewProcSampler(metric MemoryMetric) (*ProcSampler, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("open procfs failed: %w", err)
	}
	if metric == "" {
		metric = MetricRSS
	}
	if metric != MetricRSS && metric != MetricVMS {
		return nil, fmt.Errorf("unsupported memory metric %q", metric)
	}
	return &ProcSampler{Metric: metric, fs: fs}, nil
}

// Sample returns the resident or virtual size of pid in bytes.
func (s *ProcSampler) Sample(pid int) (int64, error) {
	proc, err := s.fs.Proc(pid)
	if err != nil {
		return 0, err
	}
	stat, err := proc.Stat()
	if err != nil {
		return 0, err
	}
	// A zombie keeps its stat entry but no longer owns memory.
	if stat.State == "Z" || stat.State == "X" {
		return 0, fmt.Errorf("process %d has exited", pid)
	}
	if s.Metric == MetricVMS {
		return int64(stat.VirtualMemory()), nil
	}
	return int64(stat.ResidentMemory()), nil
}
